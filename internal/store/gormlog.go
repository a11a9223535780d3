package store

import (
	"context"
	"errors"
	"time"

	gormlogger "gorm.io/gorm/logger"

	"github.com/contactkeval/iv-surface/internal/logger"
)

// GormLogger routes gorm's log output through the module logger. Queries are
// traced, slow queries logged at info and failures at error.
type GormLogger struct {
	SlowThreshold time.Duration
}

// NewGormLogger returns a gorm logger; slow <= 0 means 200ms.
func NewGormLogger(slow time.Duration) *GormLogger {
	if slow <= 0 {
		slow = 200 * time.Millisecond
	}
	return &GormLogger{SlowThreshold: slow}
}

// LogMode returns l unchanged; verbosity follows the module logger.
func (l *GormLogger) LogMode(gormlogger.LogLevel) gormlogger.Interface {
	return l
}

func (l *GormLogger) Info(ctx context.Context, msg string, data ...any) {
	logger.Debugf(msg, data...)
}

func (l *GormLogger) Warn(ctx context.Context, msg string, data ...any) {
	logger.Infof(msg, data...)
}

func (l *GormLogger) Error(ctx context.Context, msg string, data ...any) {
	logger.Errorf(msg, data...)
}

func (l *GormLogger) Trace(ctx context.Context, begin time.Time, fc func() (string, int64), err error) {
	elapsed := time.Since(begin)
	sql, rows := fc()

	switch {
	case err != nil && !errors.Is(err, gormlogger.ErrRecordNotFound):
		logger.Errorf("sql failed after %s: %v [%s]", elapsed, err, sql)
	case elapsed > l.SlowThreshold:
		logger.Infof("slow sql %s rows=%d [%s]", elapsed, rows, sql)
	default:
		logger.Tracef("sql %s rows=%d [%s]", elapsed, rows, sql)
	}
}
