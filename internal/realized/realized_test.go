package realized

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/contactkeval/iv-surface/internal/surface"
)

func TestRollingConstantReturns(t *testing.T) {
	// constant growth has zero return dispersion
	closes := make([]float64, 40)
	closes[0] = 100
	for i := 1; i < len(closes); i++ {
		closes[i] = closes[i-1] * 1.01
	}
	rv, err := Rolling(closes, 21)
	if err != nil {
		t.Fatalf("rolling: %v", err)
	}
	if len(rv) != len(closes)-21 {
		t.Fatalf("expected %d values, got %d", len(closes)-21, len(rv))
	}
	for i, v := range rv {
		if math.Abs(v) > 1e-9 {
			t.Fatalf("value %d: expected 0, got %v", i, v)
		}
	}
}

func TestRollingAlternating(t *testing.T) {
	// log returns alternate +a, -a
	a := 0.02
	closes := []float64{100}
	for i := 0; i < 10; i++ {
		closes = append(closes, closes[len(closes)-1]*math.Exp(a*math.Pow(-1, float64(i))))
	}
	rv, err := Rolling(closes, 4)
	if err != nil {
		t.Fatalf("rolling: %v", err)
	}
	// sample stdev of {a,-a,a,-a} is a·sqrt(4/3)
	want := a * math.Sqrt(4.0/3.0) * math.Sqrt(252) * 100
	for i, v := range rv {
		if math.Abs(v-want) > 1e-9 {
			t.Fatalf("value %d: expected %v, got %v", i, want, v)
		}
	}

	latest, err := Latest(rv)
	if err != nil || latest != rv[len(rv)-1] {
		t.Fatalf("Latest: %v %v", latest, err)
	}
}

func TestRollingErrors(t *testing.T) {
	tests := []struct {
		name   string
		closes []float64
		window int
	}{
		{"window too small", []float64{1, 2, 3}, 1},
		{"too few closes", []float64{1, 2, 3}, 3},
		{"non-positive close", []float64{1, 0, 3, 4}, 2},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := Rolling(tc.closes, tc.window); !errors.Is(err, ErrInsufficientData) {
				t.Fatalf("expected ErrInsufficientData, got %v", err)
			}
		})
	}
	if _, err := Latest(nil); !errors.Is(err, ErrInsufficientData) {
		t.Fatalf("expected ErrInsufficientData, got %v", err)
	}
}

func TestSeriesDates(t *testing.T) {
	start := time.Date(2026, 1, 5, 0, 0, 0, 0, time.UTC)
	var dates []time.Time
	var closes []float64
	for i := 0; i < 6; i++ {
		dates = append(dates, start.AddDate(0, 0, i))
		closes = append(closes, 100+float64(i%2))
	}
	s, err := Series(dates, closes, 3)
	if err != nil {
		t.Fatalf("series: %v", err)
	}
	if len(s) != 3 || !s[0].Date.Equal(dates[3]) || !s[2].Date.Equal(dates[5]) {
		t.Fatalf("unexpected series %+v", s)
	}
	if _, err := Series(dates[:2], closes, 3); !errors.Is(err, ErrInsufficientData) {
		t.Fatalf("expected length mismatch error, got %v", err)
	}
}

func TestATMImpliedVolatility(t *testing.T) {
	points := []surface.IVPoint{
		{TimeToExpiration: 30.0 / 365, Moneyness: 1.00, ImpliedVolatility: 20},
		{TimeToExpiration: 33.0 / 365, Moneyness: 0.97, ImpliedVolatility: 24},
		{TimeToExpiration: 30.0 / 365, Moneyness: 1.10, ImpliedVolatility: 40}, // outside band
		{TimeToExpiration: 60.0 / 365, Moneyness: 1.00, ImpliedVolatility: 50}, // wrong expiry
	}
	iv, err := ATMImpliedVolatility(points, 30, DefaultToleranceDay, DefaultATMBandPct)
	if err != nil {
		t.Fatalf("atm: %v", err)
	}
	if iv != 22 {
		t.Fatalf("expected 22, got %v", iv)
	}
	if vrp := RiskPremium(iv, 18.5); vrp != 3.5 {
		t.Fatalf("expected premium 3.5, got %v", vrp)
	}

	if _, err := ATMImpliedVolatility(points, 90, 5, 5); !errors.Is(err, ErrInsufficientData) {
		t.Fatalf("expected ErrInsufficientData, got %v", err)
	}
}
