package pricing

import (
	"errors"
	"math"
)

// ErrNoConvergence reports that no volatility in the search bracket reproduces
// the observed price. It is an expected per-quote outcome (deep ITM/OTM, stale
// or mispriced quotes); callers drop the quote rather than substitute a value.
var ErrNoConvergence = errors.New("implied volatility did not converge")

// Default solver settings.
const (
	DefaultLowerVol      = 1e-6
	DefaultUpperVol      = 5.0
	DefaultTolerance     = 1e-8
	DefaultXTolerance    = 1e-12
	DefaultMaxIterations = 100
)

// SolverConfig controls the bracketed root search.
type SolverConfig struct {
	Lower         float64 `mapstructure:"lower" json:"lower"`                   // lowest volatility tried
	Upper         float64 `mapstructure:"upper" json:"upper"`                   // highest volatility tried
	Tolerance     float64 `mapstructure:"tolerance" json:"tolerance"`           // absolute price residual accepted
	XTolerance    float64 `mapstructure:"x_tolerance" json:"x_tolerance"`       // bracket width at which the search stops
	MaxIterations int     `mapstructure:"max_iterations" json:"max_iterations"` // hard cap on iterations
}

// DefaultSolverConfig returns the bracket [1e-6, 5.0] with a 1e-8 price tolerance.
func DefaultSolverConfig() SolverConfig {
	return SolverConfig{
		Lower:         DefaultLowerVol,
		Upper:         DefaultUpperVol,
		Tolerance:     DefaultTolerance,
		XTolerance:    DefaultXTolerance,
		MaxIterations: DefaultMaxIterations,
	}
}

// withDefaults fills zero fields from DefaultSolverConfig.
func (c SolverConfig) withDefaults() SolverConfig {
	def := DefaultSolverConfig()
	if !(c.Lower > 0) {
		c.Lower = def.Lower
	}
	if !(c.Upper > c.Lower) {
		c.Upper = def.Upper
	}
	if !(c.Tolerance > 0) {
		c.Tolerance = def.Tolerance
	}
	if !(c.XTolerance > 0) {
		c.XTolerance = def.XTolerance
	}
	if c.MaxIterations <= 0 {
		c.MaxIterations = def.MaxIterations
	}
	return c
}

// Solver recovers implied volatility with Brent's method. The zero value is
// usable and behaves like NewSolver(DefaultSolverConfig()).
type Solver struct {
	cfg SolverConfig

	// pricer replaces the closed-form formula in tests.
	pricer func(Params, Side) float64
}

// NewSolver returns a solver; zero fields of cfg take their defaults.
func NewSolver(cfg SolverConfig) *Solver {
	return &Solver{cfg: cfg.withDefaults()}
}

// Config returns the effective configuration.
func (s *Solver) Config() SolverConfig {
	return s.cfg.withDefaults()
}

// SolveImpliedVolatility recovers the call volatility with the default solver.
func SolveImpliedVolatility(observed, spot, strike, t, rate, dividend float64) (float64, error) {
	return (&Solver{}).Solve(observed, spot, strike, t, rate, dividend)
}

// Solve recovers the implied volatility of a European call.
func (s *Solver) Solve(observed, spot, strike, t, rate, dividend float64) (float64, error) {
	return s.SolveSide(Call, observed, spot, strike, t, rate, dividend)
}

// SolveSide recovers the volatility sigma such that
// Price({spot, strike, t, rate, dividend, sigma}, side) == observed.
//
// Returns ErrNoConvergence immediately, without any root finding, when
// t <= 0 or observed <= 0. It also returns ErrNoConvergence when the price
// function does not change sign over [Lower, Upper] or the iteration budget is
// exhausted.
func (s *Solver) SolveSide(side Side, observed, spot, strike, t, rate, dividend float64) (float64, error) {
	if !(t > 0) || !(observed > 0) || math.IsInf(observed, 0) {
		return 0, ErrNoConvergence
	}
	if !(spot > 0) || !(strike > 0) {
		return 0, ErrNoConvergence
	}

	cfg := s.cfg.withDefaults()
	pr := s.pricer
	if pr == nil {
		pr = price
	}
	p := Params{Spot: spot, Strike: strike, T: t, Rate: rate, Dividend: dividend}
	objective := func(sigma float64) float64 {
		p.Sigma = sigma
		return pr(p, side) - observed
	}

	sigma, ok := brent(objective, cfg.Lower, cfg.Upper, cfg.XTolerance, cfg.MaxIterations)
	if !ok {
		return 0, ErrNoConvergence
	}
	if residual := math.Abs(objective(sigma)); residual > cfg.Tolerance*math.Max(1, observed) {
		return 0, ErrNoConvergence
	}
	return sigma, nil
}

// brent finds a root of f in [a, b] using Brent's method (inverse quadratic
// interpolation with secant and bisection fallbacks). ok is false when f(a)
// and f(b) have the same sign or maxIter is reached.
func brent(f func(float64) float64, a, b, xtol float64, maxIter int) (root float64, ok bool) {
	const eps = 2.220446049250313e-16

	fa, fb := f(a), f(b)
	if math.IsNaN(fa) || math.IsNaN(fb) {
		return 0, false
	}
	if fa == 0 {
		return a, true
	}
	if fb == 0 {
		return b, true
	}
	if (fa > 0) == (fb > 0) {
		return 0, false
	}

	c, fc := b, fb
	var d, e float64
	for i := 0; i < maxIter; i++ {
		if (fb > 0) == (fc > 0) {
			// keep the root bracketed between b and c
			c, fc = a, fa
			d = b - a
			e = d
		}
		if math.Abs(fc) < math.Abs(fb) {
			a, b, c = b, c, b
			fa, fb, fc = fb, fc, fb
		}

		tol := 2*eps*math.Abs(b) + 0.5*xtol
		m := 0.5 * (c - b)
		if math.Abs(m) <= tol || fb == 0 {
			return b, true
		}

		if math.Abs(e) >= tol && math.Abs(fa) > math.Abs(fb) {
			var p, q float64
			s := fb / fa
			if a == c {
				// secant
				p = 2 * m * s
				q = 1 - s
			} else {
				// inverse quadratic interpolation
				q = fa / fc
				r := fb / fc
				p = s * (2*m*q*(q-r) - (b-a)*(r-1))
				q = (q - 1) * (r - 1) * (s - 1)
			}
			if p > 0 {
				q = -q
			}
			p = math.Abs(p)
			if 2*p < math.Min(3*m*q-math.Abs(tol*q), math.Abs(e*q)) {
				e = d
				d = p / q
			} else {
				d = m
				e = d
			}
		} else {
			d = m
			e = d
		}

		a, fa = b, fb
		if math.Abs(d) > tol {
			b += d
		} else {
			b += math.Copysign(tol, m)
		}
		fb = f(b)
		if math.IsNaN(fb) {
			return 0, false
		}
	}
	return 0, false
}
