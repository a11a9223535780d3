// Package config loads the application configuration from a YAML, JSON or
// TOML file, IVS_* environment variables and an optional .env file.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/go-viper/mapstructure/v2"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/contactkeval/iv-surface/internal/data"
	"github.com/contactkeval/iv-surface/internal/engine"
	"github.com/contactkeval/iv-surface/internal/logger"
	"github.com/contactkeval/iv-surface/internal/surface"
)

// EnvPrefix prefixes every environment override, e.g. IVS_ENGINE_RATE.
const EnvPrefix = "IVS"

// Config is the root configuration.
type Config struct {
	Log       logger.Config         `mapstructure:"log" json:"log"`
	Provider  ProviderConfig        `mapstructure:"provider" json:"provider"`
	Engine    engine.Config         `mapstructure:"engine" json:"engine"`
	Grid      surface.GridOptions   `mapstructure:"grid" json:"grid"`
	Schedule  engine.ScheduleConfig `mapstructure:"schedule" json:"schedule"`
	Store     StoreConfig           `mapstructure:"store" json:"store"`
	Server    ServerConfig          `mapstructure:"server" json:"server"`
	OutputDir string                `mapstructure:"output_dir" json:"output_dir" validate:"required"`
}

// ProviderConfig selects the market data source.
type ProviderConfig struct {
	Name      string               `mapstructure:"name" json:"name" validate:"oneof=massive csv synthetic"`
	Fallback  string               `mapstructure:"fallback" json:"fallback" validate:"omitempty,oneof=csv synthetic,nefield=Name"`
	Massive   data.MassiveConfig   `mapstructure:"massive" json:"massive"`
	CSV       CSVConfig            `mapstructure:"csv" json:"csv"`
	Synthetic data.SyntheticConfig `mapstructure:"synthetic" json:"synthetic"`
	Cache     data.CacheConfig     `mapstructure:"cache" json:"cache"`
}

// CSVConfig points the csv provider at a directory of exports.
type CSVConfig struct {
	Dir   string             `mapstructure:"dir" json:"dir"`
	AsOf  string             `mapstructure:"as_of" json:"as_of,omitempty" validate:"omitempty,datetime=2006-01-02"` // spot is read at this date
	Match data.DateMatchType `mapstructure:"match" json:"match" validate:"omitempty,oneof=exact lower higher nearest"` // bar chosen for as_of
}

// StoreConfig selects where snapshots are persisted.
type StoreConfig struct {
	Driver        string        `mapstructure:"driver" json:"driver" validate:"oneof=memory postgres"`
	DSN           string        `mapstructure:"dsn" json:"-" validate:"required_if=Driver postgres"`
	SlowThreshold time.Duration `mapstructure:"slow_threshold" json:"slow_threshold"`
	AutoMigrate   bool          `mapstructure:"auto_migrate" json:"auto_migrate"`
}

// ServerConfig configures the REST server.
type ServerConfig struct {
	Addr         string        `mapstructure:"addr" json:"addr" validate:"required"`
	Mode         string        `mapstructure:"mode" json:"mode" validate:"oneof=debug release test"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout" json:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout" json:"write_timeout"`
}

// setDefaults registers every key so that environment variables can
// override values absent from the file.
func setDefaults(v *viper.Viper) {
	ec := engine.DefaultConfig()
	sc := engine.DefaultScheduleConfig()

	v.SetDefault("log.verbosity", int(logger.Info))
	v.SetDefault("log.format", "text")
	v.SetDefault("log.file", "")
	v.SetDefault("log.max_size", 100)
	v.SetDefault("log.max_backups", 5)
	v.SetDefault("log.max_age", 30)
	v.SetDefault("log.compress", false)

	v.SetDefault("provider.name", "synthetic")
	v.SetDefault("provider.fallback", "")
	v.SetDefault("provider.massive.api_key", "")
	v.SetDefault("provider.massive.base_url", data.DefaultMassiveURL)
	v.SetDefault("provider.massive.timeout", 20*time.Second)
	v.SetDefault("provider.massive.requests_per_minute", 5)
	v.SetDefault("provider.massive.max_retries", 3)
	v.SetDefault("provider.massive.breaker_failures", 5)
	v.SetDefault("provider.massive.breaker_timeout", 30*time.Second)
	v.SetDefault("provider.csv.dir", "./data")
	v.SetDefault("provider.csv.as_of", "")
	v.SetDefault("provider.csv.match", string(data.MatchLower))
	v.SetDefault("provider.synthetic.seed", 1)
	v.SetDefault("provider.synthetic.spot", 100.0)
	v.SetDefault("provider.cache.ttl", 5*time.Minute)
	v.SetDefault("provider.cache.max_mb", 64)

	v.SetDefault("engine.rate", ec.Rate)
	v.SetDefault("engine.dividend", ec.Dividend)
	v.SetDefault("engine.min_strike_pct", ec.MinStrikePct)
	v.SetDefault("engine.max_strike_pct", ec.MaxStrikePct)
	v.SetDefault("engine.min_days", ec.MinDays)
	v.SetDefault("engine.filter", "")
	v.SetDefault("engine.workers", 0)
	v.SetDefault("engine.persist", ec.Persist)
	v.SetDefault("engine.solver.lower", ec.Solver.Lower)
	v.SetDefault("engine.solver.upper", ec.Solver.Upper)
	v.SetDefault("engine.solver.tolerance", ec.Solver.Tolerance)
	v.SetDefault("engine.solver.x_tolerance", ec.Solver.XTolerance)
	v.SetDefault("engine.solver.max_iterations", ec.Solver.MaxIterations)

	v.SetDefault("grid.x_resolution", surface.DefaultResolution)
	v.SetDefault("grid.y_resolution", surface.DefaultResolution)
	v.SetDefault("grid.axis", surface.AxisMoneyness.String())
	v.SetDefault("grid.fallback", surface.FallbackMean.String())

	v.SetDefault("schedule.spec", sc.Spec)
	v.SetDefault("schedule.symbols", sc.Symbols)
	v.SetDefault("schedule.timezone", sc.Timezone)
	v.SetDefault("schedule.timeout", sc.Timeout)

	v.SetDefault("store.driver", "memory")
	v.SetDefault("store.dsn", "")
	v.SetDefault("store.slow_threshold", 200*time.Millisecond)
	v.SetDefault("store.auto_migrate", true)

	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.mode", "release")
	v.SetDefault("server.read_timeout", 15*time.Second)
	v.SetDefault("server.write_timeout", 60*time.Second)

	v.SetDefault("output_dir", "./out")
}

// Load reads path (optional; an empty path uses defaults and environment
// only), applies IVS_* overrides and validates the result. Secrets not set
// through IVS_* fall back to MASSIVE_API_KEY / POLYGON_API_KEY and
// DATABASE_URL.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config error: %w", err)
		}
	}

	var cfg Config
	hooks := viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.TextUnmarshallerHookFunc(),
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	))
	if err := v.Unmarshal(&cfg, hooks); err != nil {
		return nil, fmt.Errorf("unmarshal config error: %w", err)
	}

	if cfg.Provider.Massive.APIKey == "" {
		cfg.Provider.Massive.APIKey = firstEnv("MASSIVE_API_KEY", "POLYGON_API_KEY")
	}
	if cfg.Store.DSN == "" {
		cfg.Store.DSN = os.Getenv("DATABASE_URL")
	}

	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks struct tags plus the rules tags cannot express.
func Validate(cfg *Config) error {
	if err := validator.New().Struct(cfg); err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}
	if cfg.Provider.Name == "massive" && cfg.Provider.Massive.APIKey == "" {
		return errors.New("config validation failed: the massive provider needs an API key (MASSIVE_API_KEY)")
	}
	return nil
}

// LoadDotEnv loads KEY=VALUE pairs from the given files into the process
// environment without overriding variables that are already set. Missing
// files are ignored.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("load %s: %w", p, err)
		}
		logger.Debugf("loaded environment from %s", p)
	}
	return nil
}

func firstEnv(keys ...string) string {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			return v
		}
	}
	return ""
}
