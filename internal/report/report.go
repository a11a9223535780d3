// Package report writes surfaces, snapshots and Greek profiles as JSON and
// CSV files.
package report

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/contactkeval/iv-surface/internal/pricing"
	"github.com/contactkeval/iv-surface/internal/store"
	"github.com/contactkeval/iv-surface/internal/surface"
)

// PointHeaders are the columns of WritePointsCSV.
var PointHeaders = []string{"expiration", "time_to_expiration", "strike", "moneyness", "side", "mid", "implied_volatility"}

// WriteJSON writes v as indented JSON to path.
func WriteJSON(v any, path string) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, b, 0644)
}

// WritePointsCSV writes one row per IV point.
func WritePointsCSV(out io.Writer, points []surface.IVPoint) error {
	w := csv.NewWriter(out)
	if err := w.Write(PointHeaders); err != nil {
		return err
	}
	for _, p := range points {
		row := []string{
			p.Expiration.Format(time.DateOnly),
			ff(p.TimeToExpiration, 6),
			ff(p.Strike, 2),
			ff(p.Moneyness, 6),
			p.Side.String(),
			ff(p.Mid, 4),
			ff(p.ImpliedVolatility, 4),
		}
		if err := w.Write(row); err != nil {
			return err
		}
	}
	w.Flush()
	return w.Error()
}

// WriteGridCSV writes the grid as a matrix. The header row is the axis name
// followed by the time axis; every other row starts with its moneyness (or
// strike) value.
func WriteGridCSV(out io.Writer, g *surface.VolSurfaceGrid) error {
	w := csv.NewWriter(out)
	header := make([]string, 0, len(g.X)+1)
	header = append(header, g.Axis.String())
	for _, x := range g.X {
		header = append(header, ff(x, 6))
	}
	if err := w.Write(header); err != nil {
		return err
	}
	for j, y := range g.Y {
		row := make([]string, 0, len(g.X)+1)
		row = append(row, ff(y, 6))
		for _, z := range g.Z[j] {
			row = append(row, ff(z, 4))
		}
		if err := w.Write(row); err != nil {
			return err
		}
	}
	w.Flush()
	return w.Error()
}

// WriteProfileCSV writes a Greek profile as spot,<greek> rows.
func WriteProfileCSV(out io.Writer, greek string, profile []pricing.ProfilePoint) error {
	w := csv.NewWriter(out)
	if err := w.Write([]string{"spot", strings.ToLower(greek)}); err != nil {
		return err
	}
	for _, p := range profile {
		if err := w.Write([]string{ff(p.Spot, 4), strconv.FormatFloat(p.Value, 'f', -1, 64)}); err != nil {
			return err
		}
	}
	w.Flush()
	return w.Error()
}

// BaseName is the file prefix of a snapshot, e.g. SPY_20250106_140000.
func BaseName(symbol string, ts time.Time) string {
	return strings.ToUpper(symbol) + "_" + ts.UTC().Format("20060102_150405")
}

// WriteSnapshot writes <base>.json and <base>_points.csv into outdir, plus
// <base>_grid.csv when grid is not nil. It returns the written paths.
func WriteSnapshot(outdir string, snap store.Snapshot, grid *surface.VolSurfaceGrid) ([]string, error) {
	if err := os.MkdirAll(outdir, 0755); err != nil {
		return nil, err
	}
	base := filepath.Join(outdir, BaseName(snap.Symbol, snap.Timestamp))

	doc := struct {
		store.Snapshot
		Grid *surface.VolSurfaceGrid `json:"grid,omitempty"`
	}{snap, grid}
	written := []string{base + ".json"}
	if err := WriteJSON(doc, written[0]); err != nil {
		return nil, err
	}

	if err := writeFile(base+"_points.csv", func(w io.Writer) error { return WritePointsCSV(w, snap.Points) }); err != nil {
		return written, err
	}
	written = append(written, base+"_points.csv")

	if grid != nil {
		if err := writeFile(base+"_grid.csv", func(w io.Writer) error { return WriteGridCSV(w, grid) }); err != nil {
			return written, err
		}
		written = append(written, base+"_grid.csv")
	}
	return written, nil
}

func writeFile(path string, fn func(io.Writer) error) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := fn(f); err != nil {
		f.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	return f.Close()
}

func ff(v float64, prec int) string {
	return strconv.FormatFloat(v, 'f', prec, 64)
}
