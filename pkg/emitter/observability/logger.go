// Package observability provides production-grade observability features
// for emitter: structured logging, metrics, and distributed tracing.
//
// Features:
//   - Structured logging via slog (Go stdlib)
//   - Metrics via OpenTelemetry
//   - Tracing via OpenTelemetry
//
// All features are opt-in and have no-op implementations when disabled.
package observability

import (
	"log/slog"
	"time"
)

// EnrichLogger adds dispatcher context to a logger.
// Returns a new logger with the dispatcher_id field.
//
// Example:
//
//	enriched := EnrichLogger(logger, "3f2a...")
//	enriched.Info("doing work") // includes dispatcher_id
func EnrichLogger(logger *slog.Logger, dispatcherID string) *slog.Logger {
	if logger == nil {
		return nil
	}
	return logger.With(slog.String("dispatcher_id", dispatcherID))
}

// LogListenerError logs a listener failure.
func LogListenerError(logger *slog.Logger, topic string, listenerID uint64, namespace string, err error) {
	if logger == nil {
		return
	}
	attrs := []any{
		slog.String("topic", topic),
		slog.Uint64("listener_id", listenerID),
		slog.String("error", err.Error()),
	}
	if namespace != "" {
		attrs = append(attrs, slog.String("namespace", namespace))
	}
	logger.Error("event listener failed", attrs...)
}

// LogInterceptorError logs an interceptor failure. Dispatch continues.
func LogInterceptorError(logger *slog.Logger, topic string, index int, err error) {
	if logger == nil {
		return
	}
	logger.Warn("event interceptor failed",
		slog.String("topic", topic),
		slog.Int("interceptor", index),
		slog.String("error", err.Error()),
	)
}

// LogPipelineError logs a pipeline stage failure. The emission is suppressed.
func LogPipelineError(logger *slog.Logger, topic string, stage int, err error) {
	if logger == nil {
		return
	}
	logger.Error("event pipeline failed, delivery suppressed",
		slog.String("topic", topic),
		slog.Int("stage", stage),
		slog.String("error", err.Error()),
	)
}

// LogMaxListenersExceeded logs the advisory listener-count warning.
func LogMaxListenersExceeded(logger *slog.Logger, topic string, count, limit int) {
	if logger == nil {
		return
	}
	logger.Warn("possible listener leak detected",
		slog.String("topic", topic),
		slog.Int("listeners", count),
		slog.Int("max_listeners", limit),
	)
}

// LogLeakSuspect logs a topic whose listener count keeps growing.
func LogLeakSuspect(logger *slog.Logger, topic string, first, last, samples int) {
	if logger == nil {
		return
	}
	logger.Warn("listener count growing",
		slog.String("topic", topic),
		slog.Int("first", first),
		slog.Int("last", last),
		slog.Int("samples", samples),
	)
}

// LogEmit logs a completed emission at debug level.
func LogEmit(logger *slog.Logger, topic string, listeners int, durationMs float64) {
	if logger == nil {
		return
	}
	logger.Debug("event emitted",
		slog.String("topic", topic),
		slog.Int("listeners", listeners),
		slog.Float64("duration_ms", durationMs),
	)
}

// TimedOperation measures the duration of an operation.
// Returns a function that, when called, returns the elapsed time.
//
// Example:
//
//	done := TimedOperation()
//	// ... do work ...
//	elapsed := done()
func TimedOperation() func() time.Duration {
	start := time.Now()
	return func() time.Duration {
		return time.Since(start)
	}
}

// Milliseconds converts a duration to fractional milliseconds for log fields.
func Milliseconds(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}
