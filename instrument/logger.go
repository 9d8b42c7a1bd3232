package instrument

import (
	"sync"

	"go.uber.org/zap"
)

var (
	logger     *zap.Logger
	loggerOnce sync.Once
)

// Logger returns the package logger. It defaults to a no-op logger so
// library callers don't get unwanted output; embedders that want
// visibility into per-function rewrite progress call SetLogger first.
func Logger() *zap.Logger {
	loggerOnce.Do(func() {
		if logger == nil {
			logger = zap.NewNop()
		}
	})
	return logger
}

// SetLogger overrides the package logger. Must be called before Instrument
// if the caller wants non-nop logging; it is not safe to call concurrently
// with an in-flight Instrument call.
func SetLogger(l *zap.Logger) {
	loggerOnce.Do(func() {})
	logger = l
}

// debug gates the Sugar().Debugf helper used for the very chatty
// per-instruction tracing that would otherwise flood real deployments.
var debug = false

// SetDebug toggles the chatty per-function/per-hook debug tracing; it has
// no effect unless a non-nop logger is also installed via SetLogger.
func SetDebug(enabled bool) {
	debug = enabled
}

func debugf(format string, args ...any) {
	if debug {
		Logger().Sugar().Debugf(format, args...)
	}
}
