// Package pricing implements closed-form Black-Scholes pricing for European
// options, the analytic Greeks, and implied volatility recovery.
//
// All rate, yield and volatility inputs are decimal fractions (0.015 for 1.5%).
// Conversion to and from percentages belongs to the presentation layer.
package pricing

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"gonum.org/v1/gonum/stat/distuv"
)

// ErrInvalidInput is returned when a pricing precondition is violated
// (non-positive spot, strike, time to expiry or volatility).
var ErrInvalidInput = errors.New("invalid pricing input")

// Side selects the option payoff.
type Side int

const (
	Call Side = iota
	Put
)

// String implements fmt.Stringer.
func (s Side) String() string {
	if s == Put {
		return "put"
	}
	return "call"
}

// MarshalText renders the side as "call" or "put".
func (s Side) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText accepts "call", "put", "c" or "p" in any case.
func (s *Side) UnmarshalText(b []byte) error {
	side, err := ParseSide(string(b))
	if err != nil {
		return err
	}
	*s = side
	return nil
}

// ParseSide converts a user supplied option type into a Side.
func ParseSide(v string) (Side, error) {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "call", "c", "":
		return Call, nil
	case "put", "p":
		return Put, nil
	}
	return Call, fmt.Errorf("unknown option side %q", v)
}

// Params holds the market and model inputs of a single valuation.
type Params struct {
	Spot     float64 `json:"spot"`     // S
	Strike   float64 `json:"strike"`   // K
	T        float64 `json:"t"`        // time to expiry in years
	Rate     float64 `json:"rate"`     // r, continuously compounded, may be negative
	Dividend float64 `json:"dividend"` // q, continuous dividend yield
	Sigma    float64 `json:"sigma"`    // annualized volatility
}

// Validate checks the preconditions shared by Price and ComputeGreeks.
func (p Params) Validate() error {
	switch {
	case !(p.Spot > 0) || math.IsInf(p.Spot, 0):
		return fmt.Errorf("%w: spot must be positive, got %v", ErrInvalidInput, p.Spot)
	case !(p.Strike > 0) || math.IsInf(p.Strike, 0):
		return fmt.Errorf("%w: strike must be positive, got %v", ErrInvalidInput, p.Strike)
	case !(p.T > 0) || math.IsInf(p.T, 0):
		return fmt.Errorf("%w: time to expiry must be positive, got %v", ErrInvalidInput, p.T)
	case !(p.Sigma > 0) || math.IsInf(p.Sigma, 0):
		return fmt.Errorf("%w: volatility must be positive, got %v", ErrInvalidInput, p.Sigma)
	case math.IsNaN(p.Rate) || math.IsNaN(p.Dividend):
		return fmt.Errorf("%w: rate and dividend must be numbers", ErrInvalidInput)
	}
	return nil
}

// d1d2 returns the Black-Scholes d1 and d2 terms together with sigma*sqrt(T).
func (p Params) d1d2() (d1, d2, sigmaSqrtT float64) {
	sigmaSqrtT = p.Sigma * math.Sqrt(p.T)
	d1 = (math.Log(p.Spot/p.Strike) + (p.Rate-p.Dividend+0.5*p.Sigma*p.Sigma)*p.T) / sigmaSqrtT
	d2 = d1 - sigmaSqrtT
	return d1, d2, sigmaSqrtT
}

// Price calculates the Black-Scholes value of a European option.
//
//	call = S·e^(-qT)·N(d1) - K·e^(-rT)·N(d2)
//	put  = K·e^(-rT)·N(-d2) - S·e^(-qT)·N(-d1)
//
// Returns ErrInvalidInput if S, K, T or sigma is not strictly positive.
func Price(p Params, side Side) (float64, error) {
	if err := p.Validate(); err != nil {
		return 0, err
	}
	return price(p, side), nil
}

// price is the unchecked formula; callers validate first.
func price(p Params, side Side) float64 {
	d1, d2, _ := p.d1d2()
	fwdSpot := p.Spot * math.Exp(-p.Dividend*p.T)
	pvStrike := p.Strike * math.Exp(-p.Rate*p.T)

	if side == Put {
		return pvStrike*normCDF(-d2) - fwdSpot*normCDF(-d1)
	}
	return fwdSpot*normCDF(d1) - pvStrike*normCDF(d2)
}

// Intrinsic returns the discounted intrinsic value, the lower no-arbitrage
// bound of a European option price.
func Intrinsic(p Params, side Side) float64 {
	fwdSpot := p.Spot * math.Exp(-p.Dividend*p.T)
	pvStrike := p.Strike * math.Exp(-p.Rate*p.T)
	if side == Put {
		return math.Max(0, pvStrike-fwdSpot)
	}
	return math.Max(0, fwdSpot-pvStrike)
}

// normCDF is the standard normal cumulative distribution function.
func normCDF(x float64) float64 {
	return distuv.UnitNormal.CDF(x)
}

// normPDF is the standard normal density.
func normPDF(x float64) float64 {
	return distuv.UnitNormal.Prob(x)
}

// NormInv is the standard normal quantile function. p must lie in (0, 1).
//
// Example:
//
//	NormInv(0.975) // ≈ 1.96
func NormInv(p float64) float64 {
	if p <= 0 || p >= 1 {
		panic("NormInv: p must be in (0,1)")
	}
	return distuv.UnitNormal.Quantile(p)
}
