// Package store persists implied volatility snapshots keyed by
// (symbol, timestamp).
package store

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/contactkeval/iv-surface/internal/surface"
)

// ErrNotFound is returned when no snapshot matches the requested key.
var ErrNotFound = errors.New("snapshot not found")

// TimestampLayout is the textual form of snapshot timestamps in URLs and CLI
// flags. Timestamps are stored at second precision in UTC.
const TimestampLayout = "2006-01-02 15:04:05"

// Snapshot is one persisted surface.
type Snapshot struct {
	Symbol    string            `json:"symbol"`
	Timestamp time.Time         `json:"timestamp"`
	Spot      float64           `json:"spot"`
	Rate      float64           `json:"rate"`
	Dividend  float64           `json:"dividend"`
	Points    []surface.IVPoint `json:"points"`
}

// Store saves and loads snapshots.
type Store interface {
	Save(ctx context.Context, snap Snapshot) error
	Load(ctx context.Context, symbol string, ts time.Time) (*Snapshot, error)
	Symbols(ctx context.Context) ([]string, error)
	Timestamps(ctx context.Context, symbol string) ([]time.Time, error)
}

// ParseTimestamp accepts TimestampLayout or RFC 3339.
func ParseTimestamp(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if t, err := time.ParseInLocation(TimestampLayout, s, time.UTC); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("timestamp %q: want %q or RFC 3339", s, TimestampLayout)
	}
	return Key(t), nil
}

// Key normalizes a timestamp to the stored precision.
func Key(t time.Time) time.Time {
	return t.UTC().Truncate(time.Second)
}

// normalize validates snap and canonicalizes its key.
func normalize(snap Snapshot) (Snapshot, error) {
	snap.Symbol = strings.ToUpper(strings.TrimSpace(snap.Symbol))
	if snap.Symbol == "" {
		return snap, fmt.Errorf("snapshot has no symbol")
	}
	if snap.Timestamp.IsZero() {
		return snap, fmt.Errorf("snapshot %s has no timestamp", snap.Symbol)
	}
	if len(snap.Points) == 0 {
		return snap, fmt.Errorf("snapshot %s has no points", snap.Symbol)
	}
	snap.Timestamp = Key(snap.Timestamp)
	return snap, nil
}

// Memory is an in-process Store.
type Memory struct {
	mu   sync.RWMutex
	data map[string]map[time.Time]Snapshot
}

// NewMemory returns an empty store.
func NewMemory() *Memory {
	return &Memory{data: make(map[string]map[time.Time]Snapshot)}
}

// Save replaces any snapshot with the same key.
func (m *Memory) Save(ctx context.Context, snap Snapshot) error {
	snap, err := normalize(snap)
	if err != nil {
		return err
	}
	snap.Points = append([]surface.IVPoint(nil), snap.Points...)

	m.mu.Lock()
	defer m.mu.Unlock()
	bySymbol, ok := m.data[snap.Symbol]
	if !ok {
		bySymbol = make(map[time.Time]Snapshot)
		m.data[snap.Symbol] = bySymbol
	}
	bySymbol[snap.Timestamp] = snap
	return nil
}

func (m *Memory) Load(ctx context.Context, symbol string, ts time.Time) (*Snapshot, error) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	m.mu.RLock()
	defer m.mu.RUnlock()

	snap, ok := m.data[symbol][Key(ts)]
	if !ok {
		return nil, fmt.Errorf("%w: %s at %s", ErrNotFound, symbol, Key(ts).Format(TimestampLayout))
	}
	snap.Points = append([]surface.IVPoint(nil), snap.Points...)
	return &snap, nil
}

func (m *Memory) Symbols(ctx context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]string, 0, len(m.data))
	for s := range m.data {
		out = append(out, s)
	}
	sort.Strings(out)
	return out, nil
}

func (m *Memory) Timestamps(ctx context.Context, symbol string) ([]time.Time, error) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]time.Time, 0, len(m.data[symbol]))
	for ts := range m.data[symbol] {
		out = append(out, ts)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Before(out[j]) })
	return out, nil
}
