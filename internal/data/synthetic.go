package data

import (
	"context"
	"fmt"
	"hash/fnv"
	"math"
	"math/rand"
	"time"

	"github.com/contactkeval/iv-surface/internal/chain"
	"github.com/contactkeval/iv-surface/internal/logger"
	"github.com/contactkeval/iv-surface/internal/pricing"
)

// SyntheticConfig shapes the generated market. Zero fields take defaults.
type SyntheticConfig struct {
	Seed      int64   `mapstructure:"seed" json:"seed"`
	Spot      float64 `mapstructure:"spot" json:"spot"`             // default 100
	Rate      float64 `mapstructure:"rate" json:"rate"`             // pricing rate of the generated quotes
	BaseVol   float64 `mapstructure:"base_vol" json:"base_vol"`     // ATM volatility at T=0, default 0.2
	Skew      float64 `mapstructure:"skew" json:"skew"`             // d(vol)/d(moneyness), default -0.3
	Smile     float64 `mapstructure:"smile" json:"smile"`           // curvature in moneyness, default 0.8
	TermSlope float64 `mapstructure:"term_slope" json:"term_slope"` // vol change per sqrt(year), default 0.03
	SpreadPct float64 `mapstructure:"spread_pct" json:"spread_pct"` // bid/ask width relative to price, default 0.04
	Weeks     int     `mapstructure:"weeks" json:"weeks"`           // weekly expirations, default 8
	Months    int     `mapstructure:"months" json:"months"`         // monthly expirations, default 12

	// Now anchors expirations and bars; defaults to time.Now.
	Now func() time.Time `mapstructure:"-" json:"-"`
}

func (c SyntheticConfig) withDefaults() SyntheticConfig {
	if !(c.Spot > 0) {
		c.Spot = 100
	}
	if !(c.BaseVol > 0) {
		c.BaseVol = 0.2
	}
	if c.Skew == 0 {
		c.Skew = -0.3
	}
	if c.Smile == 0 {
		c.Smile = 0.8
	}
	if c.TermSlope == 0 {
		c.TermSlope = 0.03
	}
	if !(c.SpreadPct > 0) {
		c.SpreadPct = 0.04
	}
	if c.Weeks <= 0 {
		c.Weeks = 8
	}
	if c.Months <= 0 {
		c.Months = 12
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	return c
}

// synthDataProvider implements Data Provider generating synthetic data.
// Output is a pure function of the config, the symbol and the request, so
// repeated calls return identical data.
type synthDataProvider struct {
	cfg       SyntheticConfig
	secondary Provider
}

func NewSyntheticProvider(cfg SyntheticConfig) Provider {
	return &synthDataProvider{cfg: cfg.withDefaults()}
}

func (synthDataProv *synthDataProvider) Name() string {
	return "synthetic"
}

func (synthDataProv *synthDataProvider) Secondary() Provider {
	return synthDataProv.secondary
}

func (synthDataProv *synthDataProvider) Spot(ctx context.Context, symbol string) (float64, error) {
	return synthDataProv.cfg.Spot, nil
}

// Expirations lists Friday weeklies followed by third-Friday monthlies.
func (synthDataProv *synthDataProvider) Expirations(ctx context.Context, symbol string) ([]time.Time, error) {
	today := chain.DateOnly(synthDataProv.cfg.Now())

	var out []time.Time
	friday := today.AddDate(0, 0, (int(time.Friday)-int(today.Weekday())+7)%7)
	if friday.Equal(today) {
		friday = friday.AddDate(0, 0, 7)
	}
	for i := 0; i < synthDataProv.cfg.Weeks; i++ {
		out = append(out, friday.AddDate(0, 0, 7*i))
	}

	for i := 0; i < synthDataProv.cfg.Months; i++ {
		first := time.Date(today.Year(), today.Month()+time.Month(i), 1, 0, 0, 0, 0, time.UTC)
		third := first.AddDate(0, 0, (int(time.Friday)-int(first.Weekday())+7)%7+14)
		if third.After(today) {
			out = append(out, third)
		}
	}
	return uniqueSortedDates(out), nil
}

// Chain prices calls and puts off a parametric smile
//
//	vol(m, T) = BaseVol + Skew·(m-1) + Smile·(m-1)² + TermSlope·sqrt(T)
//
// and wraps each price in a jittered bid/ask. Far out-of-the-money contracts
// quote a zero bid, like a real chain.
func (synthDataProv *synthDataProvider) Chain(ctx context.Context, symbol string, expiration time.Time) ([]chain.MarketQuote, error) {
	cfg := synthDataProv.cfg
	days := chain.DaysBetween(cfg.Now(), expiration)
	if days <= 0 {
		if synthDataProv.secondary != nil {
			return synthDataProv.secondary.Chain(ctx, symbol, expiration)
		}
		return nil, fmt.Errorf("%w: %s expired on %s", ErrNoData, symbol, expiration.Format(time.DateOnly))
	}
	t := float64(days) / chain.DaysPerYear

	rng := rand.New(rand.NewSource(synthDataProv.seedFor(symbol, expiration)))
	step := strikeInterval(cfg.Spot)
	lo := math.Ceil(cfg.Spot*0.6/step) * step
	hi := math.Floor(cfg.Spot*1.4/step) * step

	var out []chain.MarketQuote
	for k := lo; k <= hi+step/2; k += step {
		strike := math.Round(k*100) / 100
		m := strike / cfg.Spot
		sigma := cfg.BaseVol + cfg.Skew*(m-1) + cfg.Smile*(m-1)*(m-1) + cfg.TermSlope*math.Sqrt(t)
		sigma = math.Max(sigma, 0.05)

		for _, side := range []pricing.Side{pricing.Call, pricing.Put} {
			p := pricing.Params{Spot: cfg.Spot, Strike: strike, T: t, Rate: cfg.Rate, Sigma: sigma}
			fair, err := pricing.Price(p, side)
			if err != nil {
				return nil, err
			}
			half := math.Max(0.01, fair*cfg.SpreadPct*(0.5+rng.Float64())) / 2
			bid := roundCents(fair - half)
			ask := roundCents(fair + half)
			if bid < 0.01 {
				bid = 0
			}
			if ask < 0.01 {
				ask = 0.01
			}
			oi := math.Round(5000 * math.Exp(-8*(m-1)*(m-1)) * (0.5 + rng.Float64()))
			out = append(out, chain.MarketQuote{
				Strike:       strike,
				Expiration:   chain.DateOnly(expiration),
				Bid:          bid,
				Ask:          ask,
				Side:         side,
				Volume:       math.Round(oi * 0.1 * rng.Float64()),
				OpenInterest: oi,
				LastPrice:    roundCents(fair),
			})
		}
	}
	logger.Tracef("synthetic chain %s %s: %d contracts", symbol, expiration.Format(time.DateOnly), len(out))
	return out, nil
}

// Bars walks a geometric Brownian motion backwards from the configured spot
// so that the last bar closes at Spot. Weekends are skipped.
func (synthDataProv *synthDataProvider) Bars(ctx context.Context, symbol string, from, to time.Time) ([]Bar, error) {
	cfg := synthDataProv.cfg
	from, to = chain.DateOnly(from), chain.DateOnly(to)
	if to.Before(from) {
		return nil, nil
	}

	var dates []time.Time
	for cur := from; !cur.After(to); cur = cur.AddDate(0, 0, 1) {
		if cur.Weekday() != time.Saturday && cur.Weekday() != time.Sunday {
			dates = append(dates, cur)
		}
	}

	rng := rand.New(rand.NewSource(synthDataProv.seedFor(symbol, time.Time{})))
	dailyVol := cfg.BaseVol / math.Sqrt(252)
	out := make([]Bar, len(dates))
	price := cfg.Spot
	for i := len(dates) - 1; i >= 0; i-- {
		closePx := price
		openPx := closePx * math.Exp(-rng.NormFloat64()*dailyVol*0.3)
		high := math.Max(openPx, closePx) * (1 + math.Abs(rng.NormFloat64())*dailyVol*0.2)
		low := math.Min(openPx, closePx) * (1 - math.Abs(rng.NormFloat64())*dailyVol*0.2)
		out[i] = Bar{
			Date:   dates[i],
			Open:   roundCents(openPx),
			High:   roundCents(high),
			Low:    roundCents(low),
			Close:  roundCents(closePx),
			Volume: float64(1000000 + rng.Intn(5000000)),
		}
		price = closePx * math.Exp(-rng.NormFloat64()*dailyVol)
	}
	return out, nil
}

// seedFor derives a per-request seed so every chain is reproducible on its own.
func (synthDataProv *synthDataProvider) seedFor(symbol string, expiration time.Time) int64 {
	h := fnv.New64a()
	h.Write([]byte(normalizeSymbol(symbol)))
	h.Write([]byte(expiration.Format(time.DateOnly)))
	return synthDataProv.cfg.Seed ^ int64(h.Sum64())
}

// strikeInterval picks a listing increment by price level.
func strikeInterval(spot float64) float64 {
	switch {
	case spot < 25:
		return 0.5
	case spot < 200:
		return 1
	case spot < 1000:
		return 5
	case spot < 10000:
		return 25
	}
	return 100
}

func roundCents(v float64) float64 {
	return math.Round(v*100) / 100
}
