package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/contactkeval/iv-surface/internal/logger"
	"github.com/contactkeval/iv-surface/internal/pricing"
	"github.com/contactkeval/iv-surface/internal/surface"
)

// TableName is the snapshot table; one row per IV point.
const TableName = "iv_data"

// IVRow is the persisted form of one point of a snapshot.
type IVRow struct {
	ID                uint      `gorm:"primaryKey;autoIncrement"`
	Ticker            string    `gorm:"type:varchar(16);index:idx_ticker_ts;not null"`
	Timestamp         time.Time `gorm:"index:idx_ticker_ts;not null"`
	Strike            float64   `gorm:"not null"`
	Expiration        time.Time `gorm:"type:date;not null"`
	Side              string    `gorm:"type:varchar(4);not null;default:call"`
	TimeToExpiration  float64   `gorm:"not null"`
	Moneyness         float64   `gorm:"not null"`
	ImpliedVolatility float64   `gorm:"not null"`
	Mid               float64
	Spot              float64
	Rate              float64
	Dividend          float64
}

// TableName implements gorm's tabler interface.
func (IVRow) TableName() string {
	return TableName
}

// Gorm stores snapshots in a SQL database through gorm.
type Gorm struct {
	db *gorm.DB
}

// OpenPostgres connects to dsn with the module logger wired into gorm.
func OpenPostgres(dsn string, slow time.Duration) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger:      NewGormLogger(slow),
		PrepareStmt: true,
	})
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	return db, nil
}

// NewGorm wraps an open connection. Call Migrate before first use on a new
// database.
func NewGorm(db *gorm.DB) *Gorm {
	return &Gorm{db: db}
}

// Migrate creates or updates the snapshot table.
func (g *Gorm) Migrate(ctx context.Context) error {
	return g.db.WithContext(ctx).AutoMigrate(&IVRow{})
}

// Save replaces the rows of (symbol, timestamp) in one transaction.
func (g *Gorm) Save(ctx context.Context, snap Snapshot) error {
	snap, err := normalize(snap)
	if err != nil {
		return err
	}
	rows := toRows(snap)

	return g.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("ticker = ? AND timestamp = ?", snap.Symbol, snap.Timestamp).
			Delete(&IVRow{}).Error; err != nil {
			return fmt.Errorf("clear %s snapshot: %w", snap.Symbol, err)
		}
		if err := tx.CreateInBatches(rows, 500).Error; err != nil {
			return fmt.Errorf("insert %s snapshot: %w", snap.Symbol, err)
		}
		logger.Debugf("saved %d rows for %s at %s", len(rows), snap.Symbol, snap.Timestamp.Format(TimestampLayout))
		return nil
	})
}

func (g *Gorm) Load(ctx context.Context, symbol string, ts time.Time) (*Snapshot, error) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	var rows []IVRow
	err := g.db.WithContext(ctx).
		Where("ticker = ? AND timestamp = ?", symbol, Key(ts)).
		Order("id ASC").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("%w: %s at %s", ErrNotFound, symbol, Key(ts).Format(TimestampLayout))
	}
	return fromRows(rows), nil
}

func (g *Gorm) Symbols(ctx context.Context) ([]string, error) {
	var out []string
	err := g.db.WithContext(ctx).Model(&IVRow{}).
		Distinct("ticker").
		Order("ticker").
		Pluck("ticker", &out).Error
	return out, err
}

func (g *Gorm) Timestamps(ctx context.Context, symbol string) ([]time.Time, error) {
	var out []time.Time
	err := g.db.WithContext(ctx).Model(&IVRow{}).
		Where("ticker = ?", strings.ToUpper(strings.TrimSpace(symbol))).
		Distinct("timestamp").
		Order("timestamp").
		Pluck("timestamp", &out).Error
	if err != nil {
		return nil, err
	}
	for i := range out {
		out[i] = Key(out[i])
	}
	return out, nil
}

func toRows(snap Snapshot) []IVRow {
	rows := make([]IVRow, len(snap.Points))
	for i, p := range snap.Points {
		rows[i] = IVRow{
			Ticker:            snap.Symbol,
			Timestamp:         snap.Timestamp,
			Strike:            p.Strike,
			Expiration:        p.Expiration,
			Side:              p.Side.String(),
			TimeToExpiration:  p.TimeToExpiration,
			Moneyness:         p.Moneyness,
			ImpliedVolatility: p.ImpliedVolatility,
			Mid:               p.Mid,
			Spot:              snap.Spot,
			Rate:              snap.Rate,
			Dividend:          snap.Dividend,
		}
	}
	return rows
}

func fromRows(rows []IVRow) *Snapshot {
	first := rows[0]
	snap := &Snapshot{
		Symbol:    first.Ticker,
		Timestamp: Key(first.Timestamp),
		Spot:      first.Spot,
		Rate:      first.Rate,
		Dividend:  first.Dividend,
		Points:    make([]surface.IVPoint, len(rows)),
	}
	for i, r := range rows {
		side, err := pricing.ParseSide(r.Side)
		if err != nil {
			logger.Debugf("row %d: %v", r.ID, err)
		}
		snap.Points[i] = surface.IVPoint{
			TimeToExpiration:  r.TimeToExpiration,
			Moneyness:         r.Moneyness,
			Strike:            r.Strike,
			ImpliedVolatility: r.ImpliedVolatility,
			Expiration:        r.Expiration.UTC(),
			Mid:               r.Mid,
			Side:              side,
		}
	}
	return snap
}

// IsNotFound reports whether err means the key does not exist.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound) || errors.Is(err, gorm.ErrRecordNotFound)
}
