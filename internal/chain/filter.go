package chain

import (
	"errors"
	"fmt"
	"strings"

	"github.com/Knetic/govaluate"
)

// ErrInvalidFilter is returned for expressions that fail to parse or do not
// evaluate to a boolean.
var ErrInvalidFilter = errors.New("invalid quote filter expression")

// FilterVariables lists the names an expression may reference.
var FilterVariables = []string{
	"strike", "bid", "ask", "mid", "spread", "spread_pct",
	"volume", "open_interest", "last", "days", "t", "moneyness",
}

// ExprFilter is a compiled boolean expression over a normalized quote, e.g.
//
//	spread_pct < 0.25 && open_interest >= 10
type ExprFilter struct {
	source string
	expr   *govaluate.EvaluableExpression
}

// NewExprFilter compiles expr. Unknown variables are rejected up front so
// that typos fail at startup rather than on the first quote.
func NewExprFilter(expr string) (*ExprFilter, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return nil, fmt.Errorf("%w: empty expression", ErrInvalidFilter)
	}

	compiled, err := govaluate.NewEvaluableExpression(expr)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidFilter, err)
	}

	known := make(map[string]bool, len(FilterVariables))
	for _, v := range FilterVariables {
		known[v] = true
	}
	for _, v := range compiled.Vars() {
		if !known[v] {
			return nil, fmt.Errorf("%w: unknown variable %q", ErrInvalidFilter, v)
		}
	}

	return &ExprFilter{source: expr, expr: compiled}, nil
}

// String returns the source expression.
func (f *ExprFilter) String() string {
	return f.source
}

// Match evaluates the expression against opt.
func (f *ExprFilter) Match(opt NormalizedOption) (bool, error) {
	spread := opt.Ask - opt.Bid
	spreadPct := 0.0
	if opt.Mid > 0 {
		spreadPct = spread / opt.Mid
	}

	params := map[string]interface{}{
		"strike":        opt.Strike,
		"bid":           opt.Bid,
		"ask":           opt.Ask,
		"mid":           opt.Mid,
		"spread":        spread,
		"spread_pct":    spreadPct,
		"volume":        opt.Volume,
		"open_interest": opt.OpenInterest,
		"last":          opt.LastPrice,
		"days":          float64(opt.DaysToExpiration),
		"t":             opt.TimeToExpiration,
		"moneyness":     opt.Moneyness,
	}

	result, err := f.expr.Evaluate(params)
	if err != nil {
		return false, fmt.Errorf("%w: %q: %v", ErrInvalidFilter, f.source, err)
	}

	ok, isBool := result.(bool)
	if !isBool {
		return false, fmt.Errorf("%w: %q evaluated to %T, want bool", ErrInvalidFilter, f.source, result)
	}
	return ok, nil
}
