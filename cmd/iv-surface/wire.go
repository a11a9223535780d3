package main

import (
	"context"
	"fmt"
	"time"

	"github.com/contactkeval/iv-surface/internal/config"
	"github.com/contactkeval/iv-surface/internal/data"
	"github.com/contactkeval/iv-surface/internal/logger"
	"github.com/contactkeval/iv-surface/internal/metrics"
	"github.com/contactkeval/iv-surface/internal/store"
)

// newProvider builds the configured provider, its optional fallback and the
// response cache. The returned func releases the cache.
func newProvider(cfg config.ProviderConfig, m *metrics.Metrics) (data.Provider, func(), error) {
	var secondary data.Provider
	if cfg.Fallback != "" {
		var err error
		if secondary, err = buildProvider(cfg.Fallback, cfg, nil, m); err != nil {
			return nil, nil, fmt.Errorf("fallback provider: %w", err)
		}
	}

	prov, err := buildProvider(cfg.Name, cfg, secondary, m)
	if err != nil {
		return nil, nil, err
	}
	logger.Infof("%s provider enabled", prov.Name())

	if cfg.Cache.TTL <= 0 {
		return prov, func() {}, nil
	}
	cached, err := data.NewCachedProvider(prov, cfg.Cache)
	if err != nil {
		return nil, nil, err
	}
	return cached, func() { _ = cached.Close() }, nil
}

func buildProvider(name string, cfg config.ProviderConfig, secondary data.Provider, m *metrics.Metrics) (data.Provider, error) {
	switch name {
	case "massive":
		p := data.NewMassiveDataProvider(cfg.Massive, secondary)
		p.Metrics = m
		return p, nil
	case "csv":
		var asOf time.Time
		if cfg.CSV.AsOf != "" {
			var err error
			if asOf, err = time.Parse(time.DateOnly, cfg.CSV.AsOf); err != nil {
				return nil, fmt.Errorf("csv as_of: %w", err)
			}
		}
		return data.NewLocalCSVDataProvider(cfg.CSV.Dir, asOf, cfg.CSV.Match, secondary), nil
	case "synthetic":
		return data.NewSyntheticProvider(cfg.Synthetic), nil
	}
	return nil, fmt.Errorf("unknown provider %q", name)
}

// newStore opens the configured snapshot store.
func newStore(ctx context.Context, cfg config.StoreConfig) (store.Store, error) {
	switch cfg.Driver {
	case "", "memory":
		return store.NewMemory(), nil
	case "postgres":
		db, err := store.OpenPostgres(cfg.DSN, cfg.SlowThreshold)
		if err != nil {
			return nil, err
		}
		g := store.NewGorm(db)
		if cfg.AutoMigrate {
			if err := g.Migrate(ctx); err != nil {
				return nil, err
			}
		}
		return g, nil
	}
	return nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
}
