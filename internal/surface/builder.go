// Package surface converts normalized option quotes into implied volatility
// points and interpolates them onto a regular (time, moneyness) grid.
package surface

import (
	"errors"
	"fmt"
	"runtime"
	"time"

	"github.com/sourcegraph/conc/iter"

	"github.com/contactkeval/iv-surface/internal/chain"
	"github.com/contactkeval/iv-surface/internal/logger"
	"github.com/contactkeval/iv-surface/internal/metrics"
	"github.com/contactkeval/iv-surface/internal/pricing"
)

// ErrEmptySurface is returned when no option produced an implied volatility.
var ErrEmptySurface = errors.New("no implied volatility could be computed")

// IVPoint is one solved quote. ImpliedVolatility is in percent.
type IVPoint struct {
	TimeToExpiration  float64      `json:"time_to_expiration"`
	Moneyness         float64      `json:"moneyness"`
	Strike            float64      `json:"strike"`
	ImpliedVolatility float64      `json:"implied_volatility"`
	Expiration        time.Time    `json:"expiration"`
	Mid               float64      `json:"mid"`
	Side              pricing.Side `json:"side"`
}

// Result is the outcome of a build.
type Result struct {
	Points  []IVPoint `json:"points"`
	Dropped int       `json:"dropped"` // options whose solve did not converge
}

// Builder solves implied volatility for every option of a chain.
type Builder struct {
	Solver  *pricing.Solver  // nil uses the default solver
	Workers int              // parallel solves; <= 0 means GOMAXPROCS
	Metrics *metrics.Metrics // optional
}

// BuildSurface solves options with the default builder.
func BuildSurface(options []chain.NormalizedOption, rate, dividend float64) ([]IVPoint, error) {
	res, err := (&Builder{}).Build(options, rate, dividend)
	if err != nil {
		return nil, err
	}
	return res.Points, nil
}

// Build solves each option at its mid price with S=spot, K=strike and
// T=time to expiration. Options that do not converge are left out and
// counted in Result.Dropped. Output order follows input order.
//
// ErrEmptySurface is returned when options is empty or nothing converged.
func (b *Builder) Build(options []chain.NormalizedOption, rate, dividend float64) (*Result, error) {
	if len(options) == 0 {
		return nil, fmt.Errorf("%w: no options supplied", ErrEmptySurface)
	}

	start := time.Now()
	defer func() { b.Metrics.ObserveBuild(time.Since(start)) }()

	solver := b.Solver
	if solver == nil {
		solver = pricing.NewSolver(pricing.DefaultSolverConfig())
	}
	workers := b.Workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}

	type solved struct {
		point IVPoint
		ok    bool
	}

	mapper := iter.Mapper[chain.NormalizedOption, solved]{MaxGoroutines: workers}
	results := mapper.Map(options, func(o *chain.NormalizedOption) solved {
		sigma, err := solver.SolveSide(o.Side, o.Mid, o.Spot, o.Strike, o.TimeToExpiration, rate, dividend)
		if err != nil {
			logger.Tracef("dropping K=%.2f exp=%s mid=%.4f: %v",
				o.Strike, o.Expiration.Format(time.DateOnly), o.Mid, err)
			return solved{}
		}
		return solved{
			ok: true,
			point: IVPoint{
				TimeToExpiration:  o.TimeToExpiration,
				Moneyness:         o.Moneyness,
				Strike:            o.Strike,
				ImpliedVolatility: sigma * 100,
				Expiration:        o.Expiration,
				Mid:               o.Mid,
				Side:              o.Side,
			},
		}
	})

	res := &Result{Points: make([]IVPoint, 0, len(results))}
	for _, r := range results {
		b.Metrics.RecordSolve(r.ok)
		if !r.ok {
			res.Dropped++
			continue
		}
		res.Points = append(res.Points, r.point)
	}

	logger.Debugf("solved %d of %d options (%d did not converge)", len(res.Points), len(options), res.Dropped)
	if len(res.Points) == 0 {
		return nil, fmt.Errorf("%w: all %d options failed to converge", ErrEmptySurface, len(options))
	}
	return res, nil
}
