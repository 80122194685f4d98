// Package dlog provides a context-scoped leveled logger, adapted from the
// registry's internal/dcontext logging helper to corepm's install-centric fields.
package dlog

import (
	"context"
	"fmt"
	"runtime"
	"sync"

	"github.com/sirupsen/logrus"
)

var (
	defaultLogger   = logrus.StandardLogger().WithField("go.version", runtime.Version())
	defaultLoggerMu sync.RWMutex
)

// Logger is the leveled-logging interface carried through contexts.
type Logger interface {
	Debug(args ...any)
	Debugf(format string, args ...any)
	Info(args ...any)
	Infof(format string, args ...any)
	Warn(args ...any)
	Warnf(format string, args ...any)
	Error(args ...any)
	Errorf(format string, args ...any)
	WithError(err error) *logrus.Entry
	WithField(key string, value any) *logrus.Entry
}

type loggerKey struct{}

// WithLogger returns a copy of ctx carrying logger.
func WithLogger(ctx context.Context, logger Logger) context.Context {
	return context.WithValue(ctx, loggerKey{}, logger)
}

// WithFields returns a copy of ctx whose logger (found or default) carries fields.
func WithFields(ctx context.Context, fields map[string]any) context.Context {
	lfields := make(logrus.Fields, len(fields))
	for k, v := range fields {
		lfields[k] = v
	}
	return WithLogger(ctx, getEntry(ctx).WithFields(lfields))
}

// GetLogger returns the logger carried by ctx, or a default logger if none was set.
// Extra keys are resolved against ctx and attached as fields.
func GetLogger(ctx context.Context, keys ...any) Logger {
	entry := getEntry(ctx)
	fields := logrus.Fields{}
	for _, key := range keys {
		if v := ctx.Value(key); v != nil {
			fields[fmt.Sprint(key)] = v
		}
	}
	return entry.WithFields(fields)
}

// SetDefaultLogger overrides the process-wide fallback logger.
func SetDefaultLogger(entry *logrus.Entry) {
	defaultLoggerMu.Lock()
	defaultLogger = entry
	defaultLoggerMu.Unlock()
}

func getEntry(ctx context.Context) *logrus.Entry {
	if v := ctx.Value(loggerKey{}); v != nil {
		if entry, ok := v.(*logrus.Entry); ok {
			return entry
		}
	}
	defaultLoggerMu.RLock()
	defer defaultLoggerMu.RUnlock()

	fields := logrus.Fields{}
	if id := ctx.Value("install.id"); id != nil {
		fields["install.id"] = id
	}
	return defaultLogger.WithFields(fields)
}
