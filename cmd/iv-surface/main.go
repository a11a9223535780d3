package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/contactkeval/iv-surface/internal/config"
	"github.com/contactkeval/iv-surface/internal/engine"
	"github.com/contactkeval/iv-surface/internal/logger"
	"github.com/contactkeval/iv-surface/internal/metrics"
	"github.com/contactkeval/iv-surface/internal/pricing"
	"github.com/contactkeval/iv-surface/internal/report"
	"github.com/contactkeval/iv-surface/internal/server"
	"github.com/contactkeval/iv-surface/internal/store"
)

const modes = "surface|greeks|snapshot|schedule|history|rv|serve"

func main() {
	configPath := flag.String("config", "", "path to a YAML, JSON or TOML config file")
	envFile := flag.String("env", ".env", "dotenv file with secrets")
	mode := flag.String("mode", "surface", modes)
	symbol := flag.String("symbol", "SPY", "underlying symbol")
	out := flag.String("out", "", "output directory (overrides output_dir)")
	timestamp := flag.String("timestamp", "", `snapshot timestamp for -mode history, "YYYY-MM-DD HH:MM:SS"; default latest`)
	window := flag.Int("window", 30, "realized volatility window in trading days for -mode rv")

	spot := flag.Float64("spot", 100, "spot price for -mode greeks")
	strike := flag.Float64("strike", 100, "strike for -mode greeks")
	days := flag.Int("days", 30, "days to expiration for -mode greeks")
	sigma := flag.Float64("sigma", 0.2, "volatility for -mode greeks")
	side := flag.String("side", "call", "call or put for -mode greeks")
	greek := flag.String("greek", "delta", "greek to profile for -mode greeks")
	flag.Parse()

	if err := config.LoadDotEnv(*envFile); err != nil {
		logger.Errorf("%v", err)
	}
	cfg, err := config.Load(*configPath)
	if err != nil {
		fatalf("loading config: %v", err)
	}
	logger.Configure(cfg.Log)
	if *out != "" {
		cfg.OutputDir = *out
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if *mode == "greeks" {
		err = runGreeks(cfg, *spot, *strike, *days, *sigma, *side, *greek)
	} else {
		err = run(ctx, cfg, *mode, *symbol, *timestamp, *window)
	}
	if err != nil {
		fatalf("%s failed: %v", *mode, err)
	}
}

func run(ctx context.Context, cfg *config.Config, mode, symbol, timestamp string, window int) error {
	m := metrics.New()

	prov, closeProv, err := newProvider(cfg.Provider, m)
	if err != nil {
		return err
	}
	defer closeProv()

	st, err := newStore(ctx, cfg.Store)
	if err != nil {
		return err
	}

	eng, err := engine.NewEngine(cfg.Engine, prov, st, m)
	if err != nil {
		return err
	}

	start := time.Now()
	switch mode {
	case "surface":
		res, err := eng.Surface(ctx, symbol, cfg.Grid)
		if err != nil {
			return err
		}
		files, err := report.WriteSnapshot(cfg.OutputDir, res.Snapshot(), res.Grid)
		if err != nil {
			return err
		}
		logger.Infof("[done] %s surface: %d points (%d dropped), %d grid nodes filled by fallback, wrote %s in %v",
			res.Symbol, len(res.Points), res.Dropped, res.Grid.FilledNodes, strings.Join(files, ", "), time.Since(start))

	case "snapshot":
		symbols := cfg.Schedule.Symbols
		if flagSet("symbol") {
			symbols = []string{symbol}
		}
		for _, sym := range symbols {
			res, err := eng.Snapshot(ctx, sym)
			if err != nil {
				logger.Errorf("snapshot %s: %v", sym, err)
				continue
			}
			logger.Infof("[done] %s snapshot at %s: %d points", res.Symbol, res.Timestamp.Format(store.TimestampLayout), len(res.Points))
		}

	case "schedule":
		sched, err := engine.NewScheduler(eng, cfg.Schedule)
		if err != nil {
			return err
		}
		if err := sched.Start(ctx); err != nil {
			return err
		}
		<-ctx.Done()
		sched.Stop()

	case "history":
		ts, err := resolveTimestamp(ctx, st, symbol, timestamp)
		if err != nil {
			return err
		}
		snap, grid, err := eng.History(ctx, symbol, ts, cfg.Grid)
		if err != nil {
			return err
		}
		files, err := report.WriteSnapshot(cfg.OutputDir, *snap, grid)
		if err != nil {
			return err
		}
		logger.Infof("[done] %s snapshot %s: wrote %s", snap.Symbol, ts.Format(store.TimestampLayout), strings.Join(files, ", "))

	case "rv":
		rep, err := eng.RealizedVsImplied(ctx, symbol, window)
		if err != nil {
			return err
		}
		if err := os.MkdirAll(cfg.OutputDir, 0755); err != nil {
			return err
		}
		path := filepath.Join(cfg.OutputDir, fmt.Sprintf("%s_rv%d.json", rep.Symbol, rep.Window))
		if err := report.WriteJSON(rep, path); err != nil {
			return err
		}
		msg := fmt.Sprintf("%s %d day realized vol %.2f%%", rep.Symbol, rep.Window, rep.Realized)
		if rep.ImpliedVolatility != nil {
			msg += fmt.Sprintf(", ATM implied %.2f%%, premium %+.2f", *rep.ImpliedVolatility, *rep.RiskPremium)
		}
		logger.Infof("[done] %s; wrote %s", msg, path)

	case "serve":
		gin.SetMode(cfg.Server.Mode)
		srv := server.New(eng, cfg.Grid, m)
		return srv.Run(ctx, server.Options{
			Addr:         cfg.Server.Addr,
			ReadTimeout:  cfg.Server.ReadTimeout,
			WriteTimeout: cfg.Server.WriteTimeout,
		})

	default:
		return fmt.Errorf("unknown mode %q, want one of %s", mode, modes)
	}
	return nil
}

// runGreeks prints the Greeks of one contract and writes the profile of one
// Greek across spot.
func runGreeks(cfg *config.Config, spot, strike float64, days int, sigma float64, sideName, greek string) error {
	side, err := pricing.ParseSide(sideName)
	if err != nil {
		return err
	}
	p := pricing.Params{
		Spot:     spot,
		Strike:   strike,
		T:        float64(days) / 365,
		Rate:     cfg.Engine.Rate,
		Dividend: cfg.Engine.Dividend,
		Sigma:    sigma,
	}
	price, err := pricing.Price(p, side)
	if err != nil {
		return err
	}
	g, err := pricing.ComputeGreeks(p, side)
	if err != nil {
		return err
	}
	r := g.Rounded()
	fmt.Printf("%s S=%.2f K=%.2f T=%dd sigma=%.4f price=%.4f\n", side, spot, strike, days, sigma, price)
	fmt.Printf("delta=%v gamma=%v theta=%v vega=%v rho=%v\n", r.Delta, r.Gamma, r.Theta, r.Vega, r.Rho)

	profile, err := pricing.GreekProfile(p, side, greek, pricing.DefaultProfileLow, pricing.DefaultProfileHigh, pricing.DefaultProfilePoints)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(cfg.OutputDir, 0755); err != nil {
		return err
	}
	path := filepath.Join(cfg.OutputDir, fmt.Sprintf("%s_%s_profile.csv", side, strings.ToLower(greek)))
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := report.WriteProfileCSV(f, greek, profile); err != nil {
		f.Close()
		return err
	}
	logger.Infof("[done] wrote %s", path)
	return f.Close()
}

// resolveTimestamp parses ts, or picks the latest stored snapshot when ts is
// empty.
func resolveTimestamp(ctx context.Context, st store.Store, symbol, ts string) (time.Time, error) {
	if ts != "" {
		return store.ParseTimestamp(ts)
	}
	stamps, err := st.Timestamps(ctx, symbol)
	if err != nil {
		return time.Time{}, err
	}
	if len(stamps) == 0 {
		return time.Time{}, fmt.Errorf("%w: no snapshots for %s", store.ErrNotFound, symbol)
	}
	return stamps[len(stamps)-1], nil
}

func flagSet(name string) bool {
	set := false
	flag.Visit(func(f *flag.Flag) {
		if f.Name == name {
			set = true
		}
	})
	return set
}

func fatalf(format string, args ...any) {
	logger.Errorf(format, args...)
	os.Exit(1)
}

