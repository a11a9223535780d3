package main

import (
	"context"
	"testing"
	"time"

	"github.com/contactkeval/iv-surface/internal/config"
	"github.com/contactkeval/iv-surface/internal/data"
	"github.com/contactkeval/iv-surface/internal/store"
)

func TestNewProvider(t *testing.T) {
	tests := []struct {
		name          string
		cfg           config.ProviderConfig
		wantName      string
		wantSecondary string
	}{
		{"synthetic", config.ProviderConfig{Name: "synthetic"}, "synthetic", ""},
		{"massive with synthetic fallback", config.ProviderConfig{
			Name:     "massive",
			Fallback: "synthetic",
			Massive:  data.MassiveConfig{APIKey: "k"},
		}, "massive", "synthetic"},
		{"csv cached", config.ProviderConfig{
			Name:  "csv",
			CSV:   config.CSVConfig{Dir: t.TempDir(), AsOf: "2025-01-06"},
			Cache: data.CacheConfig{TTL: time.Minute, MaxMB: 8},
		}, "csv", ""},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			p, closeFn, err := newProvider(tc.cfg, nil)
			if err != nil {
				t.Fatalf("new provider: %v", err)
			}
			defer closeFn()
			if p.Name() != tc.wantName {
				t.Fatalf("expected %s, got %s", tc.wantName, p.Name())
			}
			sec := p.Secondary()
			if tc.wantSecondary == "" && sec != nil {
				t.Fatalf("unexpected secondary %s", sec.Name())
			}
			if tc.wantSecondary != "" && (sec == nil || sec.Name() != tc.wantSecondary) {
				t.Fatalf("expected secondary %s, got %v", tc.wantSecondary, sec)
			}
		})
	}

	if _, _, err := newProvider(config.ProviderConfig{Name: "csv", CSV: config.CSVConfig{AsOf: "Jan 6"}}, nil); err == nil {
		t.Fatal("expected error for a bad as-of date")
	}
	if _, _, err := newProvider(config.ProviderConfig{Name: "yahoo"}, nil); err == nil {
		t.Fatal("expected error for an unknown provider")
	}
}

func TestNewStore(t *testing.T) {
	st, err := newStore(context.Background(), config.StoreConfig{Driver: "memory"})
	if err != nil {
		t.Fatalf("memory store: %v", err)
	}
	if _, ok := st.(*store.Memory); !ok {
		t.Fatalf("expected *store.Memory, got %T", st)
	}
	if _, err := newStore(context.Background(), config.StoreConfig{Driver: "sqlite"}); err == nil {
		t.Fatal("expected error for an unknown driver")
	}
}
