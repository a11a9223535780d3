package data

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/contactkeval/iv-surface/internal/chain"
	"github.com/contactkeval/iv-surface/internal/logger"
	"github.com/contactkeval/iv-surface/internal/pricing"
)

// localCSVDataProvider serves market data from a directory of CSV files:
//
//	<SYMBOL>_quotes.csv  expiration,strike,type,bid,ask[,volume,open_interest,last]
//	<SYMBOL>_bars.csv    date,open,high,low,close[,volume]
//
// Dates are YYYY-MM-DD. Column order is free; headers are case-insensitive.
// Files are re-read on every call so they can be refreshed while serving.
type localCSVDataProvider struct {
	dir       string
	asOf      time.Time     // spot date; zero means the last bar
	match     DateMatchType // how asOf selects a bar
	secondary Provider
}

// NewLocalCSVDataProvider convenience constructor. An empty match selects the
// last bar on or before asOf.
func NewLocalCSVDataProvider(dir string, asOf time.Time, match DateMatchType, secondary Provider) *localCSVDataProvider {
	if match == "" {
		match = MatchLower
	}
	return &localCSVDataProvider{dir: dir, asOf: asOf, match: match, secondary: secondary}
}

func (localCSVDataProv *localCSVDataProvider) Name() string {
	return "csv"
}

func (localCSVDataProv *localCSVDataProvider) Secondary() Provider {
	return localCSVDataProv.secondary
}

// Spot returns the close of the bar the as-of date selects under the match
// mode, or of the last bar when no as-of date is set.
func (localCSVDataProv *localCSVDataProvider) Spot(ctx context.Context, symbol string) (float64, error) {
	bars, err := localCSVDataProv.readBars(symbol)
	if err != nil {
		if localCSVDataProv.secondary != nil {
			return localCSVDataProv.secondary.Spot(ctx, symbol)
		}
		return 0, err
	}
	if len(bars) == 0 {
		return 0, fmt.Errorf("%w: no bars for %s", ErrNoData, symbol)
	}
	if localCSVDataProv.asOf.IsZero() {
		return bars[len(bars)-1].Close, nil
	}

	dates, closes := Closes(bars)
	match := MatchBarDate(chain.DateOnly(localCSVDataProv.asOf), dates, localCSVDataProv.match)
	for i, d := range dates {
		if !match.IsZero() && d.Equal(match) {
			return closes[i], nil
		}
	}
	return 0, fmt.Errorf("%w: no %s bar for %s at %s", ErrNoData, localCSVDataProv.match, symbol, localCSVDataProv.asOf.Format(time.DateOnly))
}

func (localCSVDataProv *localCSVDataProvider) Expirations(ctx context.Context, symbol string) ([]time.Time, error) {
	quotes, err := localCSVDataProv.readQuotes(symbol)
	if err != nil {
		if localCSVDataProv.secondary != nil {
			return localCSVDataProv.secondary.Expirations(ctx, symbol)
		}
		return nil, err
	}
	dates := make([]time.Time, len(quotes))
	for i, q := range quotes {
		dates[i] = q.Expiration
	}
	return uniqueSortedDates(dates), nil
}

func (localCSVDataProv *localCSVDataProvider) Chain(ctx context.Context, symbol string, expiration time.Time) ([]chain.MarketQuote, error) {
	quotes, err := localCSVDataProv.readQuotes(symbol)
	if err != nil {
		if localCSVDataProv.secondary != nil {
			return localCSVDataProv.secondary.Chain(ctx, symbol, expiration)
		}
		return nil, err
	}
	day := chain.DateOnly(expiration)
	var out []chain.MarketQuote
	for _, q := range quotes {
		if q.Expiration.Equal(day) {
			out = append(out, q)
		}
	}
	return out, nil
}

func (localCSVDataProv *localCSVDataProvider) Bars(ctx context.Context, symbol string, from, to time.Time) ([]Bar, error) {
	bars, err := localCSVDataProv.readBars(symbol)
	if err != nil {
		if localCSVDataProv.secondary != nil {
			return localCSVDataProv.secondary.Bars(ctx, symbol, from, to)
		}
		return nil, err
	}
	from, to = chain.DateOnly(from), chain.DateOnly(to)
	var out []Bar
	for _, b := range bars {
		if !b.Date.Before(from) && !b.Date.After(to) {
			out = append(out, b)
		}
	}
	return out, nil
}

func (localCSVDataProv *localCSVDataProvider) path(symbol, kind string) string {
	return filepath.Join(localCSVDataProv.dir, normalizeSymbol(symbol)+"_"+kind+".csv")
}

func (localCSVDataProv *localCSVDataProvider) readQuotes(symbol string) ([]chain.MarketQuote, error) {
	rows, err := readCSV(localCSVDataProv.path(symbol, "quotes"), "expiration", "strike", "bid", "ask")
	if err != nil {
		return nil, err
	}

	out := make([]chain.MarketQuote, 0, len(rows))
	for i, row := range rows {
		exp, err := time.Parse(time.DateOnly, row.get("expiration"))
		if err != nil {
			logger.Debugf("%s quotes row %d: bad expiration %q", symbol, i+2, row.get("expiration"))
			continue
		}
		side, err := pricing.ParseSide(row.get("type"))
		if err != nil {
			logger.Debugf("%s quotes row %d: %v", symbol, i+2, err)
			continue
		}
		q := chain.MarketQuote{Expiration: exp, Side: side}
		if q.Strike, err = row.float("strike"); err != nil {
			continue
		}
		// blank bid/ask mean no quote, which the normalizer drops
		q.Bid, _ = row.float("bid")
		q.Ask, _ = row.float("ask")
		q.Volume, _ = row.float("volume")
		q.OpenInterest, _ = row.float("open_interest")
		q.LastPrice, _ = row.float("last")
		out = append(out, q)
	}
	return out, nil
}

func (localCSVDataProv *localCSVDataProvider) readBars(symbol string) ([]Bar, error) {
	rows, err := readCSV(localCSVDataProv.path(symbol, "bars"), "date", "close")
	if err != nil {
		return nil, err
	}

	out := make([]Bar, 0, len(rows))
	for i, row := range rows {
		d, err := time.Parse(time.DateOnly, row.get("date"))
		if err != nil {
			logger.Debugf("%s bars row %d: bad date %q", symbol, i+2, row.get("date"))
			continue
		}
		b := Bar{Date: d}
		if b.Close, err = row.float("close"); err != nil {
			continue
		}
		b.Open, _ = row.float("open")
		b.High, _ = row.float("high")
		b.Low, _ = row.float("low")
		b.Volume, _ = row.float("volume")
		out = append(out, b)
	}
	return out, nil
}

// csvRow maps lower-cased header names to cell values.
type csvRow map[string]string

func (r csvRow) get(col string) string {
	return strings.TrimSpace(r[col])
}

func (r csvRow) float(col string) (float64, error) {
	return strconv.ParseFloat(r.get(col), 64)
}

// readCSV loads a headed CSV file, checking that the required columns exist.
// A missing file is reported as ErrNoData.
func readCSV(path string, required ...string) ([]csvRow, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s not found", ErrNoData, filepath.Base(path))
		}
		return nil, err
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	r.TrimLeadingSpace = true

	header, err := r.Read()
	if err != nil {
		if err == io.EOF {
			return nil, fmt.Errorf("%w: %s is empty", ErrNoData, filepath.Base(path))
		}
		return nil, fmt.Errorf("read %s: %w", filepath.Base(path), err)
	}
	for i := range header {
		header[i] = strings.ToLower(strings.TrimSpace(header[i]))
	}
	for _, col := range required {
		found := false
		for _, h := range header {
			if h == col {
				found = true
				break
			}
		}
		if !found {
			return nil, fmt.Errorf("%s: missing column %q", filepath.Base(path), col)
		}
	}

	records, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", filepath.Base(path), err)
	}
	rows := make([]csvRow, 0, len(records))
	for _, rec := range records {
		row := make(csvRow, len(header))
		for i, v := range rec {
			if i < len(header) {
				row[header[i]] = v
			}
		}
		rows = append(rows, row)
	}
	return rows, nil
}
