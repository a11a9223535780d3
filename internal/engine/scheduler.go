package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
	_ "time/tzdata" // schedules name IANA zones

	"github.com/robfig/cron/v3"

	"github.com/contactkeval/iv-surface/internal/logger"
)

// DefaultSchedule takes snapshots at 09:00 Monday to Friday.
const DefaultSchedule = "0 9 * * 1-5"

// DefaultSymbols are the underlyings snapshotted when none are configured.
var DefaultSymbols = []string{"SPY", "AAPL", "TSLA", "MSFT"}

// ScheduleConfig configures a Scheduler.
type ScheduleConfig struct {
	Spec     string        `mapstructure:"spec" json:"spec"`         // standard 5 field cron expression
	Symbols  []string      `mapstructure:"symbols" json:"symbols"`   // underlyings to snapshot
	Timezone string        `mapstructure:"timezone" json:"timezone"` // IANA zone for Spec, default UTC
	Timeout  time.Duration `mapstructure:"timeout" json:"timeout"`   // per symbol, 0 means none
}

// DefaultScheduleConfig returns the weekday 09:00 job over DefaultSymbols.
func DefaultScheduleConfig() ScheduleConfig {
	return ScheduleConfig{
		Spec:     DefaultSchedule,
		Symbols:  append([]string(nil), DefaultSymbols...),
		Timezone: "UTC",
		Timeout:  5 * time.Minute,
	}
}

// JobResult reports one symbol of a scheduled run.
type JobResult struct {
	Symbol string
	Output *Output
	Err    error
}

// Scheduler runs Engine.Snapshot for a list of symbols on a cron schedule.
// Runs that fall on a Saturday or Sunday in the schedule's time zone are
// skipped.
type Scheduler struct {
	engine  *Engine
	cfg     ScheduleConfig
	loc     *time.Location
	cron    *cron.Cron
	entryID cron.EntryID
	now     func() time.Time

	mu      sync.Mutex
	cancel  context.CancelFunc
	lastRun []JobResult
}

// NewScheduler validates cfg and prepares a stopped scheduler.
func NewScheduler(e *Engine, cfg ScheduleConfig) (*Scheduler, error) {
	if e == nil {
		return nil, errors.New("scheduler: engine is required")
	}
	def := DefaultScheduleConfig()
	if strings.TrimSpace(cfg.Spec) == "" {
		cfg.Spec = def.Spec
	}
	if len(cfg.Symbols) == 0 {
		cfg.Symbols = def.Symbols
	}
	if cfg.Timezone == "" {
		cfg.Timezone = def.Timezone
	}

	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		return nil, fmt.Errorf("scheduler: timezone %q: %w", cfg.Timezone, err)
	}
	if _, err := cron.ParseStandard(cfg.Spec); err != nil {
		return nil, fmt.Errorf("scheduler: cron spec %q: %w", cfg.Spec, err)
	}

	l := cronLogger{}
	return &Scheduler{
		engine: e,
		cfg:    cfg,
		loc:    loc,
		cron: cron.New(
			cron.WithLocation(loc),
			cron.WithLogger(l),
			cron.WithChain(cron.Recover(l), cron.SkipIfStillRunning(l)),
		),
		now: time.Now,
	}, nil
}

// Start registers the job and starts the cron loop. Jobs run with a context
// derived from ctx; cancelling ctx aborts in-flight snapshots but does not
// stop the scheduler, use Stop for that.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return errors.New("scheduler: already started")
	}

	jobCtx, cancel := context.WithCancel(ctx)
	id, err := s.cron.AddFunc(s.cfg.Spec, func() { s.RunOnce(jobCtx) })
	if err != nil {
		cancel()
		return fmt.Errorf("scheduler: %w", err)
	}
	s.entryID = id
	s.cancel = cancel
	s.cron.Start()

	logger.Infof("snapshot scheduler running %q (%s) for %s; next run %s",
		s.cfg.Spec, s.loc, strings.Join(s.cfg.Symbols, ","), s.Next().Format(time.RFC3339))
	return nil
}

// Stop halts the schedule and waits for a running job to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	s.cancel = nil
	s.mu.Unlock()

	if cancel == nil {
		return
	}
	<-s.cron.Stop().Done()
	cancel()
	s.cron.Remove(s.entryID)
}

// Next reports the next scheduled run, or the zero time when stopped.
func (s *Scheduler) Next() time.Time {
	return s.cron.Entry(s.entryID).Next
}

// LastRun returns the results of the most recent run.
func (s *Scheduler) LastRun() []JobResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]JobResult(nil), s.lastRun...)
}

// RunOnce snapshots every configured symbol. A failing symbol is logged and
// does not stop the others. Nothing runs on weekends.
func (s *Scheduler) RunOnce(ctx context.Context) []JobResult {
	today := s.now().In(s.loc)
	if wd := today.Weekday(); wd == time.Saturday || wd == time.Sunday {
		logger.Infof("weekend (%s): skipping snapshot", wd)
		return nil
	}

	results := make([]JobResult, 0, len(s.cfg.Symbols))
	for _, symbol := range s.cfg.Symbols {
		if ctx.Err() != nil {
			results = append(results, JobResult{Symbol: symbol, Err: ctx.Err()})
			continue
		}

		runCtx, cancel := ctx, context.CancelFunc(func() {})
		if s.cfg.Timeout > 0 {
			runCtx, cancel = context.WithTimeout(ctx, s.cfg.Timeout)
		}
		logger.Infof("fetching data for %s at %s", symbol, today.Format(time.RFC3339))
		out, err := s.engine.Snapshot(runCtx, symbol)
		cancel()

		if err != nil {
			logger.Errorf("snapshot %s failed: %v", symbol, err)
		}
		results = append(results, JobResult{Symbol: symbol, Output: out, Err: err})
	}

	s.mu.Lock()
	s.lastRun = results
	s.mu.Unlock()
	return results
}

// cronLogger routes cron's own messages to the module logger.
type cronLogger struct{}

func (cronLogger) Info(msg string, keysAndValues ...interface{}) {
	logger.Slog().Debug("cron: "+msg, keysAndValues...)
}

func (cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	logger.Slog().Error("cron: "+msg, append([]interface{}{"error", err}, keysAndValues...)...)
}
