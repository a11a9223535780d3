// Package realized computes historical (realized) volatility from closing
// prices and compares it with option implied volatility.
package realized

import (
	"errors"
	"fmt"
	"math"
	"time"

	"gonum.org/v1/gonum/stat"

	"github.com/contactkeval/iv-surface/internal/surface"
)

// ErrInsufficientData is returned when a series is too short for the
// requested window, or no option matches the ATM selection.
var ErrInsufficientData = errors.New("insufficient data")

// TradingDaysPerYear annualizes daily return volatility.
const TradingDaysPerYear = 252

// Defaults of the realized-vs-implied comparison.
const (
	DefaultWindow       = 30
	DefaultToleranceDay = 5
	DefaultATMBandPct   = 5.0
)

// Windows offered by the CLI and REST API.
var Windows = []int{21, 30, 60, 90}

// Point is one realized volatility observation in percent.
type Point struct {
	Date  time.Time `json:"date"`
	Value float64   `json:"value"`
}

// Rolling returns the annualized rolling standard deviation of daily log
// returns, in percent, for every complete window. The sample standard
// deviation (n-1 denominator) is used. The result has len(closes)-window
// elements; element i covers returns ending at closes[i+window].
func Rolling(closes []float64, window int) ([]float64, error) {
	if window < 2 {
		return nil, fmt.Errorf("%w: window must be at least 2, got %d", ErrInsufficientData, window)
	}
	if len(closes) < window+1 {
		return nil, fmt.Errorf("%w: %d closes for a %d day window", ErrInsufficientData, len(closes), window)
	}

	returns := make([]float64, len(closes)-1)
	for i := 1; i < len(closes); i++ {
		prev, cur := closes[i-1], closes[i]
		if !(prev > 0) || !(cur > 0) {
			return nil, fmt.Errorf("%w: non-positive close at index %d", ErrInsufficientData, i)
		}
		returns[i-1] = math.Log(cur / prev)
	}

	scale := math.Sqrt(TradingDaysPerYear) * 100
	out := make([]float64, 0, len(returns)-window+1)
	for end := window; end <= len(returns); end++ {
		out = append(out, stat.StdDev(returns[end-window:end], nil)*scale)
	}
	return out, nil
}

// Series is Rolling with each value stamped with the date of its last close.
func Series(dates []time.Time, closes []float64, window int) ([]Point, error) {
	if len(dates) != len(closes) {
		return nil, fmt.Errorf("%w: %d dates for %d closes", ErrInsufficientData, len(dates), len(closes))
	}
	values, err := Rolling(closes, window)
	if err != nil {
		return nil, err
	}
	out := make([]Point, len(values))
	for i, v := range values {
		out[i] = Point{Date: dates[i+window], Value: v}
	}
	return out, nil
}

// Latest returns the most recent value of a rolling series.
func Latest(series []float64) (float64, error) {
	if len(series) == 0 {
		return 0, fmt.Errorf("%w: empty series", ErrInsufficientData)
	}
	return series[len(series)-1], nil
}

// RiskPremium is the volatility risk premium, implied minus realized, in
// percentage points.
func RiskPremium(implied, realized float64) float64 {
	return implied - realized
}

// ATMImpliedVolatility averages the implied volatility of points that expire
// within tolDays of targetDays and whose moneyness lies within bandPct
// percent of 1.
func ATMImpliedVolatility(points []surface.IVPoint, targetDays, tolDays int, bandPct float64) (float64, error) {
	lo, hi := 1-bandPct/100, 1+bandPct/100

	var ivs []float64
	for _, p := range points {
		days := int(math.Round(p.TimeToExpiration * 365))
		if abs(days-targetDays) > tolDays {
			continue
		}
		if p.Moneyness < lo || p.Moneyness > hi {
			continue
		}
		ivs = append(ivs, p.ImpliedVolatility)
	}
	if len(ivs) == 0 {
		return 0, fmt.Errorf("%w: no ATM options within %d days of %d", ErrInsufficientData, tolDays, targetDays)
	}
	return stat.Mean(ivs, nil), nil
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
