package pricing

import (
	"fmt"
	"math"

	"github.com/shopspring/decimal"
	"gonum.org/v1/gonum/floats"
)

// Display precision of each Greek in decimal places.
const (
	DeltaPlaces int32 = 3
	GreekPlaces int32 = 6
)

// Greeks holds option sensitivities in their reporting units:
//   - Delta: per unit move in spot
//   - Gamma: change in delta per unit move in spot
//   - Theta: per calendar day
//   - Vega:  per 1 volatility point
//   - Rho:   per 1% move in the rate
type Greeks struct {
	Delta float64 `json:"delta"`
	Gamma float64 `json:"gamma"`
	Theta float64 `json:"theta"`
	Vega  float64 `json:"vega"`
	Rho   float64 `json:"rho"`
}

// ComputeGreeks evaluates all five Greeks at the same (d1, d2).
//
// The spot-side terms are not scaled by e^(-qT), so with a non-zero dividend
// yield delta, gamma, theta and vega are the q=0 sensitivities evaluated at
// the dividend-adjusted d1.
func ComputeGreeks(p Params, side Side) (Greeks, error) {
	if err := p.Validate(); err != nil {
		return Greeks{}, err
	}

	d1, d2, sigmaSqrtT := p.d1d2()
	sqrtT := math.Sqrt(p.T)
	pdfD1 := normPDF(d1)
	pvStrike := p.Strike * math.Exp(-p.Rate*p.T)
	decay := -p.Spot * pdfD1 * p.Sigma / (2 * sqrtT)

	g := Greeks{
		Gamma: pdfD1 / (p.Spot * sigmaSqrtT),
		Vega:  p.Spot * pdfD1 * sqrtT * 0.01,
	}

	if side == Put {
		g.Delta = -normCDF(-d1)
		g.Theta = (decay + p.Rate*pvStrike*normCDF(-d2)) / 365
		g.Rho = -p.T * pvStrike * normCDF(-d2) * 0.01
	} else {
		g.Delta = normCDF(d1)
		g.Theta = (decay - p.Rate*pvStrike*normCDF(d2)) / 365
		g.Rho = p.T * pvStrike * normCDF(d2) * 0.01
	}
	return g, nil
}

// Rounded returns a copy rounded to the display precision
// (delta 3 dp, everything else 6 dp).
func (g Greeks) Rounded() Greeks {
	return Greeks{
		Delta: round(g.Delta, DeltaPlaces),
		Gamma: round(g.Gamma, GreekPlaces),
		Theta: round(g.Theta, GreekPlaces),
		Vega:  round(g.Vega, GreekPlaces),
		Rho:   round(g.Rho, GreekPlaces),
	}
}

// Get returns a Greek by name ("delta", "gamma", "theta", "vega", "rho").
func (g Greeks) Get(name string) (float64, error) {
	switch name {
	case "delta":
		return g.Delta, nil
	case "gamma":
		return g.Gamma, nil
	case "theta":
		return g.Theta, nil
	case "vega":
		return g.Vega, nil
	case "rho":
		return g.Rho, nil
	}
	return 0, fmt.Errorf("%w: unknown greek %q", ErrInvalidInput, name)
}

func round(v float64, places int32) float64 {
	return decimal.NewFromFloat(v).Round(places).InexactFloat64()
}

// ProfilePoint is one sample of a Greek profile.
type ProfilePoint struct {
	Spot  float64 `json:"spot"`
	Value float64 `json:"value"`
}

// Default spot range of a Greek profile, as fractions of the current spot.
const (
	DefaultProfileLow    = 0.92
	DefaultProfileHigh   = 1.09
	DefaultProfilePoints = 200
)

// GreekProfile evaluates one Greek across n spot values linearly spaced over
// [low·S, high·S], holding every other input fixed. Values are rounded to the
// display precision.
func GreekProfile(p Params, side Side, greek string, low, high float64, n int) ([]ProfilePoint, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	if n < 2 || !(low > 0) || !(high > low) {
		return nil, fmt.Errorf("%w: profile range [%v, %v] with %d points", ErrInvalidInput, low, high, n)
	}
	if _, err := (Greeks{}).Get(greek); err != nil {
		return nil, err
	}

	spots := floats.Span(make([]float64, n), low*p.Spot, high*p.Spot)
	out := make([]ProfilePoint, 0, n)
	for _, s := range spots {
		q := p
		q.Spot = s
		g, err := ComputeGreeks(q, side)
		if err != nil {
			return nil, err
		}
		v, _ := g.Rounded().Get(greek)
		out = append(out, ProfilePoint{Spot: s, Value: v})
	}
	return out, nil
}
