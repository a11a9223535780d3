package pricing

import (
	"errors"
	"math"
	"testing"
)

func TestSolveRoundTrip(t *testing.T) {
	solver := NewSolver(DefaultSolverConfig())

	for _, side := range []Side{Call, Put} {
		for _, strike := range []float64{80, 100, 125} {
			for _, tt := range []float64{0.01, 0.25, 1, 5} {
				for _, sigma := range []float64{0.01, 0.1, 0.35, 1.0, 3.0} {
					p := Params{Spot: 100, Strike: strike, T: tt, Rate: 0.02, Dividend: 0.01, Sigma: sigma}
					observed, err := Price(p, side)
					if err != nil {
						t.Fatalf("price: %v", err)
					}

					// Skip numerically flat regions where the price carries no
					// information about sigma at double precision.
					g, _ := ComputeGreeks(p, side)
					if observed < 1e-6 || g.Vega*100 < 1e-3 {
						continue
					}

					got, err := solver.SolveSide(side, observed, p.Spot, p.Strike, p.T, p.Rate, p.Dividend)
					if err != nil {
						t.Fatalf("%s K=%.0f T=%.2f sigma=%.2f: unexpected error %v", side, strike, tt, sigma, err)
					}
					if math.Abs(got-sigma) > 1e-4 {
						t.Fatalf("%s K=%.0f T=%.2f: expected sigma %.6f, got %.6f", side, strike, tt, sigma, got)
					}

					p.Sigma = got
					repriced, _ := Price(p, side)
					if math.Abs(repriced-observed) > DefaultTolerance*math.Max(1, observed) {
						t.Fatalf("residual too large: %.3e", repriced-observed)
					}
				}
			}
		}
	}
}

func TestSolveEarlyExit(t *testing.T) {
	calls := 0
	solver := &Solver{pricer: func(p Params, side Side) float64 {
		calls++
		return price(p, side)
	}}
	cases := []struct {
		name     string
		observed float64
		t        float64
	}{
		{"zero price", 0, 0.5},
		{"negative price", -1, 0.5},
		{"zero expiry", 5, 0},
		{"negative expiry", 5, -0.1},
		{"nan expiry", 5, math.NaN()},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			_, err := solver.Solve(c.observed, 100, 100, c.t, 0.01, 0)
			if !errors.Is(err, ErrNoConvergence) {
				t.Fatalf("expected ErrNoConvergence, got %v", err)
			}
		})
	}

	if calls != 0 {
		t.Fatalf("pricer evaluated %d times on unsolvable input", calls)
	}

	if _, err := solver.Solve(10, 100, 100, 0.5, 0.01, 0); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls == 0 {
		t.Fatal("expected the pricer to be used for a solvable quote")
	}
}

func TestSolveNoBracket(t *testing.T) {
	// below intrinsic: S=120 K=100 → intrinsic ≈ 20
	if _, err := SolveImpliedVolatility(15, 120, 100, 0.5, 0.0, 0); !errors.Is(err, ErrNoConvergence) {
		t.Fatalf("below intrinsic: expected ErrNoConvergence, got %v", err)
	}
	// above the 500% vol price (call can never exceed S)
	if _, err := SolveImpliedVolatility(150, 100, 100, 0.5, 0.0, 0); !errors.Is(err, ErrNoConvergence) {
		t.Fatalf("above max: expected ErrNoConvergence, got %v", err)
	}
}

func TestSolveIterationBudget(t *testing.T) {
	solver := NewSolver(SolverConfig{MaxIterations: 2})
	p := Params{Spot: 100, Strike: 110, T: 0.75, Rate: 0.01, Sigma: 0.27}
	observed, _ := Price(p, Call)
	if _, err := solver.Solve(observed, p.Spot, p.Strike, p.T, p.Rate, 0); !errors.Is(err, ErrNoConvergence) {
		t.Fatalf("expected ErrNoConvergence with a 2 iteration budget, got %v", err)
	}
}

func TestSolveATMScenario(t *testing.T) {
	cases := []struct {
		mid      float64
		min, max float64
	}{
		// ATM approximation: sigma ≈ mid / (0.4·S·sqrt(T))
		{mid: 3.0, min: 0.15, max: 0.35},
		{mid: 10.0, min: 0.80, max: 0.95},
	}
	for _, c := range cases {
		sigma, err := SolveImpliedVolatility(c.mid, 100, 100, 30.0/365.0, 0.02, 0)
		if err != nil {
			t.Fatalf("mid=%.1f: unexpected error: %v", c.mid, err)
		}
		if sigma < c.min || sigma > c.max {
			t.Fatalf("mid=%.1f: expected sigma in [%.2f, %.2f], got %f", c.mid, c.min, c.max, sigma)
		}
	}
}

func TestSolverConfigDefaults(t *testing.T) {
	cfg := NewSolver(SolverConfig{Upper: 0.5, Lower: 1}).Config()
	if cfg.Lower != 1 || cfg.Upper != DefaultUpperVol {
		t.Fatalf("inverted bracket should fall back to default upper: %+v", cfg)
	}
	var zero Solver
	if zero.Config() != DefaultSolverConfig() {
		t.Fatalf("zero solver should use defaults, got %+v", zero.Config())
	}
}

func TestBrent(t *testing.T) {
	root, ok := brent(func(x float64) float64 { return x*x*x - 2*x - 5 }, 2, 3, 1e-14, 100)
	if !ok || math.Abs(root-2.0945514815423265) > 1e-12 {
		t.Fatalf("unexpected root %v ok=%v", root, ok)
	}
	if _, ok := brent(func(x float64) float64 { return x*x + 1 }, -1, 1, 1e-12, 100); ok {
		t.Fatal("expected failure without a sign change")
	}
}
