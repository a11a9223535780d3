// Package chain turns raw option-chain quotes into the filtered, annotated
// working set consumed by the implied volatility solver.
package chain

import (
	"time"

	"github.com/contactkeval/iv-surface/internal/pricing"
)

// MarketQuote is one option contract observation.
type MarketQuote struct {
	Strike       float64      `json:"strike"`
	Expiration   time.Time    `json:"expiration"`
	Bid          float64      `json:"bid"`
	Ask          float64      `json:"ask"`
	Side         pricing.Side `json:"side"`
	Volume       float64      `json:"volume,omitempty"`
	OpenInterest float64      `json:"open_interest,omitempty"`
	LastPrice    float64      `json:"last_price,omitempty"`
}

// Mid is the bid/ask midpoint.
func (q MarketQuote) Mid() float64 {
	return (q.Bid + q.Ask) / 2
}

// Liquid reports whether both sides of the quote are populated.
// Zero-quote contracts are illiquid or stale.
func (q MarketQuote) Liquid() bool {
	return q.Bid > 0 && q.Ask > 0
}

// NormalizedOption is a quote annotated with the values the solver needs.
// It is created by Normalize and never modified afterwards.
type NormalizedOption struct {
	MarketQuote
	Spot             float64 `json:"spot"`
	DaysToExpiration int     `json:"days_to_expiration"`
	TimeToExpiration float64 `json:"time_to_expiration"` // years, days/365
	Moneyness        float64 `json:"moneyness"`          // strike/spot
	Mid              float64 `json:"mid"`
}
