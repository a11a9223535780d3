// Package engine runs the snapshot pipeline: fetch a chain from a market data
// provider, normalize it, solve implied volatility and optionally persist the
// resulting surface.
package engine

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/contactkeval/iv-surface/internal/chain"
	"github.com/contactkeval/iv-surface/internal/data"
	"github.com/contactkeval/iv-surface/internal/logger"
	"github.com/contactkeval/iv-surface/internal/metrics"
	"github.com/contactkeval/iv-surface/internal/pricing"
	"github.com/contactkeval/iv-surface/internal/realized"
	"github.com/contactkeval/iv-surface/internal/store"
	"github.com/contactkeval/iv-surface/internal/surface"
)

var (
	// ErrNoEligibleData is returned when no quote survives normalization.
	ErrNoEligibleData = errors.New("no eligible option data")
	// ErrNoStore is returned by operations that need a snapshot store when
	// the engine was built without one.
	ErrNoStore = errors.New("no snapshot store configured")
)

// Defaults used by the daily snapshot job.
const (
	DefaultRate       = 0.015
	DefaultRVLookback = 6 // months of daily bars behind the realized vol series
)

// Config holds the pricing inputs and chain filters of a snapshot.
type Config struct {
	Rate         float64              `mapstructure:"rate" json:"rate"`
	Dividend     float64              `mapstructure:"dividend" json:"dividend"`
	MinStrikePct float64              `mapstructure:"min_strike_pct" json:"min_strike_pct" validate:"gte=0"`
	MaxStrikePct float64              `mapstructure:"max_strike_pct" json:"max_strike_pct" validate:"gtfield=MinStrikePct"`
	MinDays      int                  `mapstructure:"min_days" json:"min_days" validate:"gte=0"`
	Filter       string               `mapstructure:"filter" json:"filter,omitempty"` // govaluate expression over quote fields
	Workers      int                  `mapstructure:"workers" json:"workers,omitempty"`
	Persist      bool                 `mapstructure:"persist" json:"persist"`
	Solver       pricing.SolverConfig `mapstructure:"solver" json:"solver"`
}

// DefaultConfig returns the snapshot job settings: 1.5% rate, no dividend,
// strikes within 70%-130% of spot and expirations beyond one week.
func DefaultConfig() Config {
	return Config{
		Rate:         DefaultRate,
		MinStrikePct: chain.DefaultMinStrikePct,
		MaxStrikePct: chain.DefaultMaxStrikePct,
		MinDays:      chain.DefaultMinDays,
		Persist:      true,
		Solver:       pricing.DefaultSolverConfig(),
	}
}

// Engine wires a provider, a builder and an optional store together.
type Engine struct {
	cfg     Config
	prov    data.Provider
	store   store.Store
	builder *surface.Builder
	norm    chain.NormalizeOptions
	metrics *metrics.Metrics

	now func() time.Time
}

// Output is a computed snapshot together with pipeline counters.
type Output struct {
	Symbol    string            `json:"symbol"`
	Timestamp time.Time         `json:"timestamp"`
	Spot      float64           `json:"spot"`
	Rate      float64           `json:"rate"`
	Dividend  float64           `json:"dividend"`
	Quotes    int               `json:"quotes"`   // quotes returned by the provider
	Eligible  int               `json:"eligible"` // quotes kept by the normalizer
	Dropped   int               `json:"dropped"`  // eligible quotes whose solve did not converge
	Saved     bool              `json:"saved"`
	Points    []surface.IVPoint `json:"points"`
}

// Snapshot converts the output into its stored form.
func (o *Output) Snapshot() store.Snapshot {
	return store.Snapshot{
		Symbol:    o.Symbol,
		Timestamp: o.Timestamp,
		Spot:      o.Spot,
		Rate:      o.Rate,
		Dividend:  o.Dividend,
		Points:    o.Points,
	}
}

// SurfaceOutput adds the interpolated grid to a snapshot.
type SurfaceOutput struct {
	*Output
	Grid *surface.VolSurfaceGrid `json:"grid"`
}

// NewEngine validates cfg and compiles its filter. st and m may be nil.
func NewEngine(cfg Config, prov data.Provider, st store.Store, m *metrics.Metrics) (*Engine, error) {
	if prov == nil {
		return nil, errors.New("engine: provider is required")
	}
	if cfg.MinStrikePct == 0 && cfg.MaxStrikePct == 0 {
		cfg.MinStrikePct, cfg.MaxStrikePct = chain.DefaultMinStrikePct, chain.DefaultMaxStrikePct
	}
	if !(cfg.MinStrikePct < cfg.MaxStrikePct) {
		return nil, fmt.Errorf("engine: %w: min strike %% %v must be below max %v",
			chain.ErrInvalidRange, cfg.MinStrikePct, cfg.MaxStrikePct)
	}
	if cfg.MinDays <= 0 {
		cfg.MinDays = chain.DefaultMinDays
	}

	norm := chain.NormalizeOptions{
		MinStrikePct: cfg.MinStrikePct,
		MaxStrikePct: cfg.MaxStrikePct,
		MinDays:      cfg.MinDays,
	}
	if strings.TrimSpace(cfg.Filter) != "" {
		f, err := chain.NewExprFilter(cfg.Filter)
		if err != nil {
			return nil, fmt.Errorf("engine: %w", err)
		}
		norm.Filter = f
	}

	return &Engine{
		cfg:   cfg,
		prov:  prov,
		store: st,
		builder: &surface.Builder{
			Solver:  pricing.NewSolver(cfg.Solver),
			Workers: cfg.Workers,
			Metrics: m,
		},
		norm:    norm,
		metrics: m,
		now:     time.Now,
	}, nil
}

// Config returns the effective configuration.
func (e *Engine) Config() Config {
	return e.cfg
}

// Store returns the snapshot store, or nil.
func (e *Engine) Store() store.Store {
	return e.store
}

// Snapshot fetches the spot and call chain of symbol, solves its implied
// volatilities and saves the result when persistence is enabled.
func (e *Engine) Snapshot(ctx context.Context, symbol string) (*Output, error) {
	out, err := e.compute(ctx, symbol)
	if err != nil {
		return nil, err
	}

	if e.cfg.Persist && e.store != nil {
		if err := e.store.Save(ctx, out.Snapshot()); err != nil {
			return nil, fmt.Errorf("save %s snapshot: %w", out.Symbol, err)
		}
		out.Saved = true
		logger.Infof("snapshot saved for %s at %s (%d points)", out.Symbol, out.Timestamp.Format(store.TimestampLayout), len(out.Points))
	}
	return out, nil
}

// Surface computes a fresh snapshot without saving it and interpolates it
// onto a grid.
func (e *Engine) Surface(ctx context.Context, symbol string, opts surface.GridOptions) (*SurfaceOutput, error) {
	out, err := e.compute(ctx, symbol)
	if err != nil {
		return nil, err
	}
	grid, err := surface.Interpolate(out.Points, opts)
	if err != nil {
		return nil, fmt.Errorf("%s surface: %w", out.Symbol, err)
	}
	return &SurfaceOutput{Output: out, Grid: grid}, nil
}

// History loads a stored snapshot and interpolates it onto a grid.
func (e *Engine) History(ctx context.Context, symbol string, ts time.Time, opts surface.GridOptions) (*store.Snapshot, *surface.VolSurfaceGrid, error) {
	if e.store == nil {
		return nil, nil, ErrNoStore
	}
	snap, err := e.store.Load(ctx, symbol, ts)
	if err != nil {
		return nil, nil, err
	}
	grid, err := surface.Interpolate(snap.Points, opts)
	if err != nil {
		return nil, nil, fmt.Errorf("%s %s surface: %w", snap.Symbol, snap.Timestamp.Format(store.TimestampLayout), err)
	}
	return snap, grid, nil
}

func (e *Engine) compute(ctx context.Context, symbol string) (*Output, error) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if symbol == "" {
		return nil, errors.New("engine: symbol is required")
	}
	now := e.now()

	spot, err := e.prov.Spot(ctx, symbol)
	if err != nil {
		return nil, fmt.Errorf("spot for %s: %w", symbol, err)
	}

	quotes, err := data.FetchChain(ctx, e.prov, symbol, now, e.cfg.MinDays)
	if err != nil {
		return nil, err
	}

	options, err := chain.Normalize(quotes, spot, now, e.norm)
	if err != nil {
		return nil, err
	}
	if len(options) == 0 {
		return nil, fmt.Errorf("%w for %s: %d quotes, none eligible", ErrNoEligibleData, symbol, len(quotes))
	}

	res, err := e.builder.Build(options, e.cfg.Rate, e.cfg.Dividend)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", symbol, err)
	}
	e.metrics.SetSurfacePoints(symbol, len(res.Points))

	logger.Debugf("%s: spot=%.2f quotes=%d eligible=%d points=%d dropped=%d",
		symbol, spot, len(quotes), len(options), len(res.Points), res.Dropped)

	return &Output{
		Symbol:    symbol,
		Timestamp: store.Key(now),
		Spot:      spot,
		Rate:      e.cfg.Rate,
		Dividend:  e.cfg.Dividend,
		Quotes:    len(quotes),
		Eligible:  len(options),
		Dropped:   res.Dropped,
		Points:    res.Points,
	}, nil
}

// RVReport compares realized volatility with the at-the-money implied
// volatility of the matching tenor. Volatilities are in percent.
type RVReport struct {
	Symbol            string           `json:"symbol"`
	Window            int              `json:"window"`
	Series            []realized.Point `json:"series"`
	Realized          float64          `json:"realized"`
	ImpliedVolatility *float64         `json:"implied_volatility,omitempty"` // nil when no ATM quote matched the window
	RiskPremium       *float64         `json:"risk_premium,omitempty"`
}

// RealizedVsImplied computes the rolling realized volatility of symbol over
// the last DefaultRVLookback months and compares its latest value with the
// average implied volatility of near-the-money options expiring about window
// days out.
func (e *Engine) RealizedVsImplied(ctx context.Context, symbol string, window int) (*RVReport, error) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if window <= 0 {
		window = realized.DefaultWindow
	}
	now := e.now()

	bars, err := e.prov.Bars(ctx, symbol, now.AddDate(0, -DefaultRVLookback, 0), now)
	if err != nil {
		return nil, fmt.Errorf("bars for %s: %w", symbol, err)
	}
	dates, closes := data.Closes(bars)
	series, err := realized.Series(dates, closes, window)
	if err != nil {
		return nil, fmt.Errorf("%s realized volatility: %w", symbol, err)
	}

	report := &RVReport{
		Symbol:   symbol,
		Window:   window,
		Series:   series,
		Realized: series[len(series)-1].Value,
	}

	out, err := e.compute(ctx, symbol)
	if err != nil {
		logger.Errorf("%s: implied volatility unavailable: %v", symbol, err)
		return report, nil
	}
	iv, err := realized.ATMImpliedVolatility(out.Points, window, realized.DefaultToleranceDay, realized.DefaultATMBandPct)
	if err != nil || math.IsNaN(iv) {
		logger.Infof("%s: no ATM implied volatility for a %d day window: %v", symbol, window, err)
		return report, nil
	}
	vrp := realized.RiskPremium(iv, report.Realized)
	report.ImpliedVolatility = &iv
	report.RiskPremium = &vrp
	return report, nil
}
