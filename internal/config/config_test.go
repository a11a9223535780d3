package config

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"github.com/contactkeval/iv-surface/internal/data"
	"github.com/contactkeval/iv-surface/internal/engine"
	"github.com/contactkeval/iv-surface/internal/surface"
)

// clearSecrets keeps the host environment out of the tests.
func clearSecrets(t *testing.T) {
	t.Helper()
	for _, k := range []string{"MASSIVE_API_KEY", "POLYGON_API_KEY", "DATABASE_URL"} {
		t.Setenv(k, "")
	}
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	clearSecrets(t)
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if cfg.Provider.Name != "synthetic" || cfg.Store.Driver != "memory" || cfg.Server.Addr != ":8080" {
		t.Fatalf("unexpected defaults %+v", cfg)
	}
	if cfg.Engine.Rate != engine.DefaultRate || cfg.Engine.MinDays != 7 || cfg.Engine.Solver.MaxIterations != 100 {
		t.Fatalf("unexpected engine defaults %+v", cfg.Engine)
	}
	if cfg.Grid != surface.DefaultGridOptions() {
		t.Fatalf("unexpected grid defaults %+v", cfg.Grid)
	}
	if cfg.Schedule.Spec != engine.DefaultSchedule || !reflect.DeepEqual(cfg.Schedule.Symbols, engine.DefaultSymbols) {
		t.Fatalf("unexpected schedule defaults %+v", cfg.Schedule)
	}
	if cfg.Provider.Cache.TTL != 5*time.Minute || cfg.Store.SlowThreshold != 200*time.Millisecond {
		t.Fatalf("durations not decoded: %+v %+v", cfg.Provider.Cache, cfg.Store)
	}
}

func TestLoadFileWithEnvOverrides(t *testing.T) {
	clearSecrets(t)
	path := writeFile(t, "config.yaml", `
provider:
  name: csv
  fallback: synthetic
  csv:
    dir: /srv/quotes
    as_of: "2025-01-06"
    match: nearest
engine:
  rate: 0.02
  filter: spread_pct < 0.5
grid:
  x_resolution: 30
  axis: strike price
  fallback: nearest
schedule:
  timeout: 2m
  timezone: America/New_York
`)
	t.Setenv("IVS_ENGINE_RATE", "0.03")
	t.Setenv("IVS_SCHEDULE_SYMBOLS", "QQQ,IWM")
	t.Setenv("IVS_LOG_VERBOSITY", "2")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if cfg.Provider.Name != "csv" || cfg.Provider.Fallback != "synthetic" || cfg.Provider.CSV.Dir != "/srv/quotes" || cfg.Provider.CSV.AsOf != "2025-01-06" ||
		cfg.Provider.CSV.Match != data.MatchNearest {
		t.Fatalf("unexpected provider %+v", cfg.Provider)
	}
	if cfg.Engine.Rate != 0.03 || cfg.Engine.Filter != "spread_pct < 0.5" {
		t.Fatalf("unexpected engine %+v", cfg.Engine)
	}
	want := surface.GridOptions{XResolution: 30, YResolution: surface.DefaultResolution, Axis: surface.AxisStrike, Fallback: surface.FallbackNearest}
	if cfg.Grid != want {
		t.Fatalf("grid: want %+v, got %+v", want, cfg.Grid)
	}
	if !reflect.DeepEqual(cfg.Schedule.Symbols, []string{"QQQ", "IWM"}) || cfg.Schedule.Timeout != 2*time.Minute || cfg.Schedule.Timezone != "America/New_York" {
		t.Fatalf("unexpected schedule %+v", cfg.Schedule)
	}
	if cfg.Log.Verbosity != 2 {
		t.Fatalf("expected verbosity 2, got %d", cfg.Log.Verbosity)
	}
}

func TestLoadValidation(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{"unknown provider", map[string]string{"IVS_PROVIDER_NAME": "yahoo"}},
		{"fallback equals provider", map[string]string{"IVS_PROVIDER_NAME": "csv", "IVS_PROVIDER_FALLBACK": "csv"}},
		{"postgres without dsn", map[string]string{"IVS_STORE_DRIVER": "postgres"}},
		{"massive without key", map[string]string{"IVS_PROVIDER_NAME": "massive"}},
		{"inverted strike window", map[string]string{"IVS_ENGINE_MIN_STRIKE_PCT": "120", "IVS_ENGINE_MAX_STRIKE_PCT": "80"}},
		{"bad as-of date", map[string]string{"IVS_PROVIDER_CSV_AS_OF": "06/01/2025"}},
		{"bad date match", map[string]string{"IVS_PROVIDER_CSV_MATCH": "closest"}},
		{"bad server mode", map[string]string{"IVS_SERVER_MODE": "prod"}},
		{"bad axis", map[string]string{"IVS_GRID_AXIS": "delta"}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			clearSecrets(t)
			for k, v := range tc.env {
				t.Setenv(k, v)
			}
			if _, err := Load(""); err == nil {
				t.Fatal("expected an error")
			}
		})
	}
}

func TestSecretsFromEnvironment(t *testing.T) {
	clearSecrets(t)
	t.Setenv("IVS_PROVIDER_NAME", "massive")
	t.Setenv("POLYGON_API_KEY", "legacy-key")
	t.Setenv("IVS_STORE_DRIVER", "postgres")
	t.Setenv("DATABASE_URL", "postgres://ivs@localhost/ivs")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Provider.Massive.APIKey != "legacy-key" || cfg.Store.DSN != "postgres://ivs@localhost/ivs" {
		t.Fatalf("secrets not picked up: key=%q dsn=%q", cfg.Provider.Massive.APIKey, cfg.Store.DSN)
	}

	t.Setenv("MASSIVE_API_KEY", "new-key")
	cfg, _ = Load("")
	if cfg.Provider.Massive.APIKey != "new-key" {
		t.Fatalf("MASSIVE_API_KEY should win, got %q", cfg.Provider.Massive.APIKey)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("expected error for a missing file")
	}
}

func TestLoadDotEnv(t *testing.T) {
	const key = "IVS_DOTENV_PROBE"
	t.Cleanup(func() { os.Unsetenv(key) })

	path := writeFile(t, ".env", key+"=from-file\n")
	if err := LoadDotEnv(filepath.Join(t.TempDir(), "none.env"), path); err != nil {
		t.Fatalf("load: %v", err)
	}
	if got := os.Getenv(key); got != "from-file" {
		t.Fatalf("expected value from file, got %q", got)
	}

	// variables already set are left alone
	t.Setenv(key, "from-shell")
	if err := LoadDotEnv(path); err != nil {
		t.Fatal(err)
	}
	if got := os.Getenv(key); got != "from-shell" {
		t.Fatalf("existing variable overridden: %q", got)
	}
}
