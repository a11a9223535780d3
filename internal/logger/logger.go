// Package logger provides a lightweight, centralized logging facility
// with configurable verbosity levels.
//
// Design goals:
//   - Simple API (Errorf, Infof, Debugf, Tracef)
//   - Centralized verbosity control
//   - Structured output through log/slog (text or JSON)
//   - Optional rotating log file
//
// Verbosity levels (in increasing order):
//
//	Error < Info < Debug < Trace
//
// Example usage:
//
//	logger.SetVerbosity(2) // Debug
//	logger.Infof("building surface for %s", symbol)
//	logger.Debugf("spot=%f points=%d", spot, n)
package logger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Level represents a logging verbosity level.
// Higher values mean more verbose logging.
type Level int

const (
	Error Level = iota // Error logs only critical failures.
	Info               // Info logs high-level application progress.
	Debug              // Debug logs detailed diagnostic information.
	Trace              // Trace logs very fine-grained execution details.
)

// levelTrace sits below slog's debug level.
const levelTrace = slog.LevelDebug - 4

// Config selects the output format and destination.
type Config struct {
	Verbosity  int    `mapstructure:"verbosity" json:"verbosity"`     // 0=errors,1=info,2=debug,3=trace
	Format     string `mapstructure:"format" json:"format"`           // "text" (default) or "json"
	File       string `mapstructure:"file" json:"file"`               // empty writes to stderr
	MaxSize    int    `mapstructure:"max_size" json:"max_size"`       // MB per file before rotation
	MaxBackups int    `mapstructure:"max_backups" json:"max_backups"` // rotated files kept
	MaxAge     int    `mapstructure:"max_age" json:"max_age"`         // days rotated files are kept
	Compress   bool   `mapstructure:"compress" json:"compress"`       // gzip rotated files
}

var (
	mu      sync.RWMutex
	current = Info
	level   = new(slog.LevelVar)
	base    = newLogger(os.Stderr, "text")
)

func init() {
	level.Set(toSlog(current))
}

// Configure replaces the output handler and verbosity.
// Typically called once during application startup.
func Configure(cfg Config) {
	var w io.Writer = os.Stderr
	if cfg.File != "" {
		w = &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    cfg.MaxSize,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAge,
			Compress:   cfg.Compress,
		}
	}
	SetOutput(w, cfg.Format)
	SetVerbosity(cfg.Verbosity)
}

// SetOutput redirects log output, mainly for tests.
func SetOutput(w io.Writer, format string) {
	mu.Lock()
	defer mu.Unlock()
	base = newLogger(w, format)
}

// SetVerbosity sets the global logging verbosity.
// Out-of-range values fall back to Info.
func SetVerbosity(v int) {
	l := Level(v)
	if l < Error || l > Trace {
		l = Info
	}
	mu.Lock()
	current = l
	mu.Unlock()
	level.Set(toSlog(l))
}

// Verbosity returns the active level.
func Verbosity() Level {
	mu.RLock()
	defer mu.RUnlock()
	return current
}

// Slog exposes the underlying structured logger for libraries that want one.
func Slog() *slog.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return base
}

func newLogger(w io.Writer, format string) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level: level,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if a.Key == slog.LevelKey {
				if lv, ok := a.Value.Any().(slog.Level); ok && lv == levelTrace {
					a.Value = slog.StringValue("TRACE")
				}
			}
			return a
		},
	}
	if strings.EqualFold(format, "json") {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

func toSlog(l Level) slog.Level {
	switch l {
	case Error:
		return slog.LevelError
	case Debug:
		return slog.LevelDebug
	case Trace:
		return levelTrace
	}
	return slog.LevelInfo
}

// logf is the internal logging helper.
func logf(l Level, format string, args ...any) {
	lg := Slog()
	lv := toSlog(l)
	if !lg.Enabled(context.Background(), lv) {
		return
	}
	lg.Log(context.Background(), lv, fmt.Sprintf(format, args...))
}

// Errorf logs an error-level message.
// Use this for failures that require attention.
func Errorf(format string, args ...any) {
	logf(Error, format, args...)
}

// Infof logs an informational message.
// Use this for major lifecycle events.
func Infof(format string, args ...any) {
	logf(Info, format, args...)
}

// Debugf logs debugging information.
// Use this for diagnostic output useful during development.
func Debugf(format string, args ...any) {
	logf(Debug, format, args...)
}

// Tracef logs very detailed execution traces.
// Use this sparingly due to high volume.
func Tracef(format string, args ...any) {
	logf(Trace, format, args...)
}
