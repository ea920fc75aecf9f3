package observability

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Failure kinds reported to RecordListenerFailure.
const (
	FailureListener    = "listener"
	FailureInterceptor = "interceptor"
	FailurePipeline    = "pipeline"
)

// Emission modes reported to RecordEmit.
const (
	ModeSync  = "sync"
	ModeAsync = "async"
	ModeBatch = "batch"
)

// MetricsRecorder records dispatcher metrics.
// Use NewMetricsRecorder() for OTel metrics or NoopMetrics{} when disabled.
type MetricsRecorder interface {
	// RecordEmit records a completed emission with the number of listeners invoked.
	RecordEmit(ctx context.Context, topic, mode string, listeners int, duration time.Duration)

	// RecordListenerFailure records a failed listener, interceptor, or pipeline stage.
	RecordListenerFailure(ctx context.Context, topic, kind string)

	// RecordSuppressed records an emission stopped by a veto or broken pipeline.
	RecordSuppressed(ctx context.Context, topic, reason string)
}

// otelMetrics implements MetricsRecorder using OpenTelemetry.
type otelMetrics struct {
	emits         metric.Int64Counter
	emitLatency   metric.Float64Histogram
	listenerCalls metric.Int64Counter
	failures      metric.Int64Counter
	suppressed    metric.Int64Counter
}

var (
	defaultMetrics     *otelMetrics
	defaultMetricsOnce sync.Once
	defaultMetricsErr  error
)

// getDefaultMetrics returns the default OTel metrics instance.
// Lazily initializes the metrics on first call.
func getDefaultMetrics() (*otelMetrics, error) {
	defaultMetricsOnce.Do(func() {
		defaultMetrics, defaultMetricsErr = newOtelMetrics()
	})
	return defaultMetrics, defaultMetricsErr
}

// newOtelMetrics creates a new OTel metrics instance.
func newOtelMetrics() (*otelMetrics, error) {
	meter := otel.Meter("emitter")

	emits, err := meter.Int64Counter("emitter.emits",
		metric.WithDescription("Number of dispatched emissions"),
	)
	if err != nil {
		return nil, err
	}

	emitLatency, err := meter.Float64Histogram("emitter.emit.latency_ms",
		metric.WithDescription("Emission latency in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, err
	}

	listenerCalls, err := meter.Int64Counter("emitter.listener.calls",
		metric.WithDescription("Number of listener invocations"),
	)
	if err != nil {
		return nil, err
	}

	failures, err := meter.Int64Counter("emitter.failures",
		metric.WithDescription("Number of listener, interceptor and pipeline failures"),
	)
	if err != nil {
		return nil, err
	}

	suppressed, err := meter.Int64Counter("emitter.suppressed",
		metric.WithDescription("Number of emissions suppressed before delivery"),
	)
	if err != nil {
		return nil, err
	}

	return &otelMetrics{
		emits:         emits,
		emitLatency:   emitLatency,
		listenerCalls: listenerCalls,
		failures:      failures,
		suppressed:    suppressed,
	}, nil
}

// NewMetricsRecorder returns a MetricsRecorder that uses OpenTelemetry.
// If metrics initialization fails, returns a no-op recorder.
//
// The recorder uses the global OTel meter provider. Configure the provider
// before calling this function:
//
//	import "go.opentelemetry.io/otel"
//	otel.SetMeterProvider(yourProvider)
func NewMetricsRecorder() MetricsRecorder {
	m, err := getDefaultMetrics()
	if err != nil {
		slog.Warn("metrics initialization failed, using no-op recorder",
			slog.String("error", err.Error()))
		return NoopMetrics{}
	}
	return m
}

// RecordEmit records an emission.
func (m *otelMetrics) RecordEmit(ctx context.Context, topic, mode string, listeners int, duration time.Duration) {
	attrs := metric.WithAttributes(
		attribute.String("topic", topic),
		attribute.String("mode", mode),
	)
	m.emits.Add(ctx, 1, attrs)
	m.emitLatency.Record(ctx, Milliseconds(duration), attrs)
	if listeners > 0 {
		m.listenerCalls.Add(ctx, int64(listeners), attrs)
	}
}

// RecordListenerFailure records a failure.
func (m *otelMetrics) RecordListenerFailure(ctx context.Context, topic, kind string) {
	m.failures.Add(ctx, 1, metric.WithAttributes(
		attribute.String("topic", topic),
		attribute.String("kind", kind),
	))
}

// RecordSuppressed records a suppressed emission.
func (m *otelMetrics) RecordSuppressed(ctx context.Context, topic, reason string) {
	m.suppressed.Add(ctx, 1, metric.WithAttributes(
		attribute.String("topic", topic),
		attribute.String("reason", reason),
	))
}
