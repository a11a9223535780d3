// Package data provides market data provider implementations: spot prices,
// option expirations, option chains and daily bars.
package data

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/contactkeval/iv-surface/internal/chain"
	"github.com/contactkeval/iv-surface/internal/logger"
	"github.com/contactkeval/iv-surface/internal/pricing"
)

// ErrNoData is returned when a provider has nothing for the requested symbol.
var ErrNoData = errors.New("no market data")

// DateMatchType selects how a target date is resolved against the dates a
// provider actually has.
type DateMatchType string

// Provider supplies market data. Implementations may hold a secondary
// provider that is consulted when they cannot answer a request.
type Provider interface {
	Name() string
	Secondary() Provider
	Spot(ctx context.Context, symbol string) (float64, error)
	Expirations(ctx context.Context, symbol string) ([]time.Time, error)
	Chain(ctx context.Context, symbol string, expiration time.Time) ([]chain.MarketQuote, error)
	Bars(ctx context.Context, symbol string, from, to time.Time) ([]Bar, error)
}

const (
	MatchExact   DateMatchType = "exact"   // the target date itself
	MatchHigher  DateMatchType = "higher"  // first date after the target
	MatchLower   DateMatchType = "lower"   // last date on or before the target
	MatchNearest DateMatchType = "nearest" // closest date, earlier wins ties
)

// Bar is a simplified daily OHLCV record.
type Bar struct {
	Date   time.Time `json:"date"`
	Open   float64   `json:"open"`
	High   float64   `json:"high"`
	Low    float64   `json:"low"`
	Close  float64   `json:"close"`
	Volume float64   `json:"volume"`
}

// Closes splits bars into parallel date and close slices.
func Closes(bars []Bar) ([]time.Time, []float64) {
	dates := make([]time.Time, len(bars))
	closes := make([]float64, len(bars))
	for i, b := range bars {
		dates[i] = b.Date
		closes[i] = b.Close
	}
	return dates, closes
}

// FetchChain gathers the call quotes of every expiration more than minDays
// calendar days after evalDate. Expirations whose chain cannot be fetched are
// logged and skipped; the result may therefore be empty.
func FetchChain(ctx context.Context, p Provider, symbol string, evalDate time.Time, minDays int) ([]chain.MarketQuote, error) {
	expirations, err := p.Expirations(ctx, symbol)
	if err != nil {
		return nil, fmt.Errorf("expirations for %s: %w", symbol, err)
	}
	if minDays <= 0 {
		minDays = chain.DefaultMinDays
	}

	var out []chain.MarketQuote
	for _, exp := range expirations {
		if chain.DaysBetween(evalDate, exp) <= minDays {
			continue
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		quotes, err := p.Chain(ctx, symbol, exp)
		if err != nil {
			logger.Errorf("skipping %s %s chain: %v", symbol, exp.Format(time.DateOnly), err)
			continue
		}
		for _, q := range quotes {
			if q.Side == pricing.Call {
				out = append(out, q)
			}
		}
	}

	logger.Debugf("fetched %d call quotes for %s across %d expirations", len(out), symbol, len(expirations))
	return out, nil
}

// --------------------------------------------------------------------------------------------
// Helper functions
// --------------------------------------------------------------------------------------------

func normalizeSymbol(symbol string) string {
	return strings.ToUpper(strings.TrimSpace(symbol))
}

// uniqueSortedDates de-duplicates dates at day granularity and sorts them.
func uniqueSortedDates(dates []time.Time) []time.Time {
	seen := make(map[time.Time]bool, len(dates))
	out := make([]time.Time, 0, len(dates))
	for _, d := range dates {
		d = chain.DateOnly(d)
		if seen[d] {
			continue
		}
		seen[d] = true
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Before(out[j]) })
	return out
}

// MatchBarDate picks the entry of dates that d selects under mode. The zero
// time is returned when nothing qualifies; unknown modes act as MatchNearest.
// dates need not be sorted and are not modified.
func MatchBarDate(d time.Time, dates []time.Time, mode DateMatchType) time.Time {
	sorted := append([]time.Time(nil), dates...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Before(sorted[j]) })

	lo := sort.Search(len(sorted), func(k int) bool { return !sorted[k].Before(d) })
	hi := sort.Search(len(sorted), func(k int) bool { return sorted[k].After(d) })

	var before, after time.Time
	if lo > 0 {
		before = sorted[lo-1]
	}
	if hi < len(sorted) {
		after = sorted[hi]
	}
	found := lo < hi

	switch mode {
	case MatchExact:
		if found {
			return sorted[lo]
		}
		return time.Time{}
	case MatchLower:
		if found {
			return sorted[lo]
		}
		return before
	case MatchHigher:
		return after
	}

	switch {
	case found:
		return sorted[lo]
	case before.IsZero():
		return after
	case after.IsZero():
		return before
	case d.Sub(before) <= after.Sub(d):
		return before
	}
	return after
}
