package surface

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/contactkeval/iv-surface/internal/logger"
)

// ErrDegenerateSurface is returned when the points do not span both axes.
var ErrDegenerateSurface = errors.New("degenerate surface")

// ErrInvalidGrid reports unusable grid options.
var ErrInvalidGrid = errors.New("invalid grid options")

// DefaultResolution is the number of nodes along each grid axis.
const DefaultResolution = 50

// Axis selects the y coordinate of the grid.
type Axis int

const (
	AxisMoneyness Axis = iota
	AxisStrike
)

func (a Axis) String() string {
	if a == AxisStrike {
		return "strike"
	}
	return "moneyness"
}

// MarshalText implements encoding.TextMarshaler.
func (a Axis) MarshalText() ([]byte, error) {
	return []byte(a.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (a *Axis) UnmarshalText(b []byte) error {
	v, err := ParseAxis(string(b))
	if err != nil {
		return err
	}
	*a = v
	return nil
}

// ParseAxis accepts "moneyness" (or "") and "strike".
func ParseAxis(s string) (Axis, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "moneyness":
		return AxisMoneyness, nil
	case "strike", "strike price":
		return AxisStrike, nil
	}
	return AxisMoneyness, fmt.Errorf("%w: unknown axis %q", ErrInvalidGrid, s)
}

// Fallback selects how nodes outside the convex hull of the data are filled.
type Fallback int

const (
	FallbackMean    Fallback = iota // mean of the input volatilities
	FallbackNearest                 // volatility of the closest input point
)

func (f Fallback) String() string {
	if f == FallbackNearest {
		return "nearest"
	}
	return "mean"
}

// MarshalText implements encoding.TextMarshaler.
func (f Fallback) MarshalText() ([]byte, error) {
	return []byte(f.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (f *Fallback) UnmarshalText(b []byte) error {
	v, err := ParseFallback(string(b))
	if err != nil {
		return err
	}
	*f = v
	return nil
}

// ParseFallback accepts "mean" (or "") and "nearest".
func ParseFallback(s string) (Fallback, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "mean":
		return FallbackMean, nil
	case "nearest":
		return FallbackNearest, nil
	}
	return FallbackMean, fmt.Errorf("%w: unknown fallback %q", ErrInvalidGrid, s)
}

// GridOptions configures Interpolate. Zero resolutions take DefaultResolution.
type GridOptions struct {
	XResolution int      `mapstructure:"x_resolution" json:"x_resolution"`
	YResolution int      `mapstructure:"y_resolution" json:"y_resolution"`
	Axis        Axis     `mapstructure:"axis" json:"axis"`
	Fallback    Fallback `mapstructure:"fallback" json:"fallback"`
}

// DefaultGridOptions is a 50x50 moneyness grid with mean fill.
func DefaultGridOptions() GridOptions {
	return GridOptions{XResolution: DefaultResolution, YResolution: DefaultResolution}
}

// VolSurfaceGrid is a regular grid of implied volatilities in percent.
// Z is indexed [y][x].
type VolSurfaceGrid struct {
	X             []float64   `json:"x"` // time to expiration, years
	Y             []float64   `json:"y"` // moneyness or strike
	Z             [][]float64 `json:"z"`
	Axis          Axis        `json:"axis"`
	FilledNodes   int         `json:"filled_nodes"`   // nodes set by the fallback rule
	FallbackValue float64     `json:"fallback_value"` // value used by FallbackMean
}

// At returns the value at grid column i, row j.
func (g *VolSurfaceGrid) At(i, j int) float64 {
	return g.Z[j][i]
}

// Interpolate resamples points onto an XResolution × YResolution grid
// spanning the data range. Values inside the convex hull of the input sites
// are linear over the Delaunay triangulation; nodes outside it take the
// fallback. Sites sharing coordinates are merged by averaging.
//
// ErrDegenerateSurface is returned when points is empty or either axis has
// zero width.
func Interpolate(points []IVPoint, opts GridOptions) (*VolSurfaceGrid, error) {
	nx, ny := opts.XResolution, opts.YResolution
	if nx == 0 {
		nx = DefaultResolution
	}
	if ny == 0 {
		ny = DefaultResolution
	}
	if nx < 2 || ny < 2 {
		return nil, fmt.Errorf("%w: resolution must be at least 2, got %dx%d", ErrInvalidGrid, nx, ny)
	}

	sites, values, raw := mergeSites(points, opts.Axis)
	if len(sites) == 0 {
		return nil, fmt.Errorf("%w: no points", ErrDegenerateSurface)
	}

	minX, maxX, minY, maxY := bounds(sites)
	if maxX-minX == 0 {
		return nil, fmt.Errorf("%w: every point has time to expiration %v", ErrDegenerateSurface, minX)
	}
	if maxY-minY == 0 {
		return nil, fmt.Errorf("%w: every point has %s %v", ErrDegenerateSurface, opts.Axis, minY)
	}

	grid := &VolSurfaceGrid{
		X:             floats.Span(make([]float64, nx), minX, maxX),
		Y:             floats.Span(make([]float64, ny), minY, maxY),
		Z:             make([][]float64, ny),
		Axis:          opts.Axis,
		FallbackValue: stat.Mean(raw, nil),
	}

	tris := triangulate(sites)
	logger.Debugf("interpolating %d sites (%d triangles) onto %dx%d grid", len(sites), len(tris), nx, ny)

	for j, y := range grid.Y {
		row := make([]float64, nx)
		for i, x := range grid.X {
			p := point2{x, y}
			v, ok := linearAt(sites, values, tris, p)
			if !ok {
				grid.FilledNodes++
				if opts.Fallback == FallbackNearest {
					v = nearest(sites, values, p)
				} else {
					v = grid.FallbackValue
				}
			}
			row[i] = v
		}
		grid.Z[j] = row
	}
	return grid, nil
}

// mergeSites projects points to (T, axis) sites, averaging z over duplicate
// coordinates. raw holds every finite input z.
func mergeSites(points []IVPoint, axis Axis) (sites []point2, values, raw []float64) {
	index := make(map[point2]int, len(points))
	counts := make([]int, 0, len(points))
	for _, pt := range points {
		y := pt.Moneyness
		if axis == AxisStrike {
			y = pt.Strike
		}
		s := point2{pt.TimeToExpiration, y}
		z := pt.ImpliedVolatility
		if !finite(s.X) || !finite(s.Y) || !finite(z) {
			continue
		}
		raw = append(raw, z)

		if k, ok := index[s]; ok {
			counts[k]++
			values[k] += (z - values[k]) / float64(counts[k])
			continue
		}
		index[s] = len(sites)
		sites = append(sites, s)
		values = append(values, z)
		counts = append(counts, 1)
	}
	return sites, values, raw
}

func bounds(sites []point2) (minX, maxX, minY, maxY float64) {
	minX, minY = math.Inf(1), math.Inf(1)
	maxX, maxY = math.Inf(-1), math.Inf(-1)
	for _, s := range sites {
		minX, maxX = math.Min(minX, s.X), math.Max(maxX, s.X)
		minY, maxY = math.Min(minY, s.Y), math.Max(maxY, s.Y)
	}
	return minX, maxX, minY, maxY
}

// linearAt interpolates inside the first triangle containing p.
func linearAt(sites []point2, values []float64, tris []triangle, p point2) (float64, bool) {
	for _, t := range tris {
		a, b, c := sites[t.A], sites[t.B], sites[t.C]
		if p.X < math.Min(a.X, math.Min(b.X, c.X)) || p.X > math.Max(a.X, math.Max(b.X, c.X)) ||
			p.Y < math.Min(a.Y, math.Min(b.Y, c.Y)) || p.Y > math.Max(a.Y, math.Max(b.Y, c.Y)) {
			continue
		}
		wa, wb, wc, ok := barycentric(a, b, c, p)
		if !ok {
			continue
		}
		return wa*values[t.A] + wb*values[t.B] + wc*values[t.C], true
	}
	return 0, false
}

func nearest(sites []point2, values []float64, p point2) float64 {
	best, bestD := 0, math.Inf(1)
	for i, s := range sites {
		if d := math.Hypot(s.X-p.X, s.Y-p.Y); d < bestD {
			best, bestD = i, d
		}
	}
	return values[best]
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
