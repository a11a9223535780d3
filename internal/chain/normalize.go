package chain

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/contactkeval/iv-surface/internal/logger"
)

// ErrInvalidRange reports an unusable spot price or strike window.
var ErrInvalidRange = errors.New("invalid normalization range")

// Defaults: a strike window of 70% to 130% of spot and a
// one-week near-expiry cutoff.
const (
	DefaultMinStrikePct = 70.0
	DefaultMaxStrikePct = 130.0
	DefaultMinDays      = 7
	DaysPerYear         = 365.0
)

// NormalizeOptions configures Normalize.
type NormalizeOptions struct {
	MinStrikePct float64 // lowest strike kept, as % of spot
	MaxStrikePct float64 // highest strike kept, as % of spot
	MinDays      int     // expirations must be strictly more than this many days out; 0 means DefaultMinDays
	Filter       *ExprFilter
}

// DefaultNormalizeOptions returns the 70%–130% window with a 7 day cutoff.
func DefaultNormalizeOptions() NormalizeOptions {
	return NormalizeOptions{
		MinStrikePct: DefaultMinStrikePct,
		MaxStrikePct: DefaultMaxStrikePct,
		MinDays:      DefaultMinDays,
	}
}

// Normalize filters quotes for one underlying and annotates the survivors.
//
// A quote is kept when:
//   - bid > 0 and ask > 0
//   - its expiration is strictly more than MinDays calendar days after evalDate
//   - spot·MinStrikePct/100 <= strike <= spot·MaxStrikePct/100
//   - the optional expression filter accepts it
//
// The result keeps input order and may be empty; an empty result is not an
// error. ErrInvalidRange is returned for spot <= 0 or MinStrikePct >= MaxStrikePct.
func Normalize(quotes []MarketQuote, spot float64, evalDate time.Time, opts NormalizeOptions) ([]NormalizedOption, error) {
	if !(spot > 0) || math.IsInf(spot, 0) {
		return nil, fmt.Errorf("%w: spot must be positive, got %v", ErrInvalidRange, spot)
	}
	if !(opts.MinStrikePct < opts.MaxStrikePct) || opts.MinStrikePct < 0 {
		return nil, fmt.Errorf("%w: minimum %% (%v) must be less than maximum %% (%v)",
			ErrInvalidRange, opts.MinStrikePct, opts.MaxStrikePct)
	}
	minDays := opts.MinDays
	if minDays == 0 {
		minDays = DefaultMinDays
	}

	lowStrike := spot * opts.MinStrikePct / 100
	highStrike := spot * opts.MaxStrikePct / 100
	today := DateOnly(evalDate)

	out := make([]NormalizedOption, 0, len(quotes))
	var illiquid, nearTerm, outOfRange, rejected int
	for _, q := range quotes {
		if !q.Liquid() {
			illiquid++
			continue
		}

		days := DaysBetween(today, q.Expiration)
		if days <= minDays {
			nearTerm++
			continue
		}

		if q.Strike < lowStrike || q.Strike > highStrike {
			outOfRange++
			continue
		}

		opt := NormalizedOption{
			MarketQuote:      q,
			Spot:             spot,
			DaysToExpiration: days,
			TimeToExpiration: float64(days) / DaysPerYear,
			Moneyness:        q.Strike / spot,
			Mid:              q.Mid(),
		}

		if opts.Filter != nil {
			ok, err := opts.Filter.Match(opt)
			if err != nil {
				return nil, err
			}
			if !ok {
				rejected++
				continue
			}
		}
		out = append(out, opt)
	}

	logger.Debugf("normalized %d of %d quotes (illiquid=%d near-term=%d strike-range=%d filtered=%d)",
		len(out), len(quotes), illiquid, nearTerm, outOfRange, rejected)
	return out, nil
}

// DateOnly truncates t to midnight UTC of its calendar date.
func DateOnly(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// DaysBetween counts calendar days from one date to another, ignoring the
// time of day.
func DaysBetween(from, to time.Time) int {
	return int(math.Round(DateOnly(to).Sub(DateOnly(from)).Hours() / 24))
}
