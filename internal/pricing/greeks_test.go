package pricing

import (
	"math"
	"testing"
)

func TestComputeGreeksReference(t *testing.T) {
	p := Params{Spot: 100, Strike: 100, T: 1, Rate: 0.05, Sigma: 0.2}

	call, err := ComputeGreeks(p, Call)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := Greeks{Delta: 0.636831, Gamma: 0.018762, Theta: -0.017573, Vega: 0.375240, Rho: 0.532325}
	assertGreeks(t, "call", call, want, 1e-4)

	put, err := ComputeGreeks(p, Put)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if math.Abs(put.Delta-(call.Delta-1)) > 1e-12 {
		t.Fatalf("put delta %f should equal call delta - 1", put.Delta)
	}
	if put.Gamma != call.Gamma || put.Vega != call.Vega {
		t.Fatalf("gamma and vega must match across sides: call=%+v put=%+v", call, put)
	}
	if put.Rho >= 0 || call.Rho <= 0 {
		t.Fatalf("unexpected rho signs: call=%f put=%f", call.Rho, put.Rho)
	}
}

// Analytic Greeks must agree with central finite differences of Price.
func TestComputeGreeksMatchFiniteDifferences(t *testing.T) {
	cases := []Params{
		{Spot: 100, Strike: 95, T: 0.4, Rate: 0.03, Sigma: 0.3},
		{Spot: 250, Strike: 300, T: 1.5, Rate: 0.01, Sigma: 0.45},
		{Spot: 40, Strike: 38, T: 0.08, Rate: -0.002, Sigma: 0.9},
	}

	for _, p := range cases {
		for _, side := range []Side{Call, Put} {
			g, err := ComputeGreeks(p, side)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}

			bump := func(mut func(q *Params, h float64), h float64) float64 {
				up, down := p, p
				mut(&up, h)
				mut(&down, -h)
				pu, _ := Price(up, side)
				pd, _ := Price(down, side)
				return (pu - pd) / (2 * h)
			}

			delta := bump(func(q *Params, h float64) { q.Spot += h }, 1e-3)
			gammaUp := p
			gammaUp.Spot += 1e-2
			gammaDown := p
			gammaDown.Spot -= 1e-2
			gu, _ := ComputeGreeks(gammaUp, side)
			gd, _ := ComputeGreeks(gammaDown, side)
			gamma := (gu.Delta - gd.Delta) / 2e-2
			vega := bump(func(q *Params, h float64) { q.Sigma += h }, 1e-5) * 0.01
			rho := bump(func(q *Params, h float64) { q.Rate += h }, 1e-5) * 0.01
			theta := -bump(func(q *Params, h float64) { q.T += h }, 1e-6) / 365

			fd := Greeks{Delta: delta, Gamma: gamma, Theta: theta, Vega: vega, Rho: rho}
			assertGreeks(t, side.String(), g, fd, 1e-5)
		}
	}
}

func TestGreeksRounded(t *testing.T) {
	g := Greeks{Delta: 0.6368307, Gamma: 0.01876201, Theta: -0.017572678, Vega: 0.37524034, Rho: 0.53232482}
	r := g.Rounded()
	want := Greeks{Delta: 0.637, Gamma: 0.018762, Theta: -0.017573, Vega: 0.37524, Rho: 0.532325}
	if r != want {
		t.Fatalf("expected %+v, got %+v", want, r)
	}
}

func TestGreekProfile(t *testing.T) {
	p := Params{Spot: 4000, Strike: 4000, T: 1, Rate: 0.02, Sigma: 0.2}
	prof, err := GreekProfile(p, Call, "delta", DefaultProfileLow, DefaultProfileHigh, DefaultProfilePoints)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(prof) != DefaultProfilePoints {
		t.Fatalf("expected %d points, got %d", DefaultProfilePoints, len(prof))
	}
	if math.Abs(prof[0].Spot-3680) > 1e-9 || math.Abs(prof[len(prof)-1].Spot-4360) > 1e-9 {
		t.Fatalf("unexpected spot range [%f, %f]", prof[0].Spot, prof[len(prof)-1].Spot)
	}
	for i := 1; i < len(prof); i++ {
		if prof[i].Value < prof[i-1].Value {
			t.Fatalf("call delta should be non-decreasing in spot at %d", i)
		}
	}

	if _, err := GreekProfile(p, Call, "vanna", 0.9, 1.1, 10); err == nil {
		t.Fatal("expected error for unknown greek")
	}
	if _, err := GreekProfile(p, Call, "gamma", 1.1, 0.9, 10); err == nil {
		t.Fatal("expected error for inverted range")
	}
}

func assertGreeks(t *testing.T, label string, got, want Greeks, tol float64) {
	t.Helper()
	check := func(name string, g, w float64) {
		if math.Abs(g-w) > tol {
			t.Fatalf("%s %s: expected %.6f, got %.6f", label, name, w, g)
		}
	}
	check("delta", got.Delta, want.Delta)
	check("gamma", got.Gamma, want.Gamma)
	check("theta", got.Theta, want.Theta)
	check("vega", got.Vega, want.Vega)
	check("rho", got.Rho, want.Rho)
}
