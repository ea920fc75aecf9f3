package emitter

import (
	"log/slog"
	"time"

	"github.com/randalmurphal/emitter/pkg/emitter/config"
	"github.com/randalmurphal/emitter/pkg/emitter/observability"
)

// options holds dispatcher configuration.
type options struct {
	logger           *slog.Logger
	metrics          observability.MetricsRecorder
	spans            observability.SpanManager
	instrumented     bool
	errorHandler     ErrorHandler
	maxListeners     int
	historyEnabled   bool
	historySize      int
	monitoring       bool
	asyncConcurrency int
	asyncTimeout     time.Duration
	warnInterval     time.Duration
	leakThreshold    int
}

// defaultOptions returns the configuration used by New without options.
func defaultOptions() options {
	s := config.Default()
	return options{
		metrics:       observability.NoopMetrics{},
		spans:         observability.NoopSpanManager{},
		maxListeners:  s.MaxListeners,
		historySize:   s.HistorySize,
		warnInterval:  s.WarnInterval,
		leakThreshold: s.LeakThreshold,
	}
}

// Option configures a Dispatcher.
type Option func(*options)

// WithLogger sets the logger used for failures and warnings.
// Default: slog.Default()
//
// Example:
//
//	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
//	d := emitter.New(emitter.WithLogger(logger))
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithMetrics enables metric recording.
// Use observability.NewMetricsRecorder() for OpenTelemetry metrics.
func WithMetrics(recorder observability.MetricsRecorder) Option {
	return func(o *options) {
		if recorder != nil {
			o.metrics = recorder
			o.instrumented = true
		}
	}
}

// WithTracing enables a span per emission.
// Use observability.NewSpanManager() for OpenTelemetry tracing.
func WithTracing(spans observability.SpanManager) Option {
	return func(o *options) {
		if spans != nil {
			o.spans = spans
			o.instrumented = true
		}
	}
}

// WithErrorHandler sets the function receiving listener, interceptor and
// pipeline failures. Default: a structured log entry.
func WithErrorHandler(h ErrorHandler) Option {
	return func(o *options) {
		o.errorHandler = h
	}
}

// WithMaxListeners sets the per-topic count above which a warning is logged.
// Default: 100. Zero disables the warning.
func WithMaxListeners(n int) Option {
	return func(o *options) {
		if n >= 0 {
			o.maxListeners = n
		}
	}
}

// WithHistory enables the history ring with the given capacity.
// A size <= 0 uses 1000.
func WithHistory(size int) Option {
	return func(o *options) {
		o.historyEnabled = true
		if size > 0 {
			o.historySize = size
		}
	}
}

// WithPerformanceMonitoring enables per-topic timing statistics.
func WithPerformanceMonitoring() Option {
	return func(o *options) {
		o.monitoring = true
	}
}

// WithAsyncConcurrency bounds the goroutines one EmitAsync call may use.
// Default: 0 (one goroutine per listener)
func WithAsyncConcurrency(n int) Option {
	return func(o *options) {
		if n >= 0 {
			o.asyncConcurrency = n
		}
	}
}

// WithAsyncTimeout bounds how long EmitAsync waits for listeners.
// Listeners still running at the deadline keep running in the background.
// Default: 0 (wait until every listener returns)
func WithAsyncTimeout(d time.Duration) Option {
	return func(o *options) {
		if d >= 0 {
			o.asyncTimeout = d
		}
	}
}

// WithSettings applies file-based settings.
// Options listed after WithSettings override its values.
//
// Example:
//
//	s, err := config.FromFile("emitter.yaml")
//	if err != nil {
//	    return err
//	}
//	d := emitter.New(emitter.WithSettings(s), emitter.WithLogger(logger))
func WithSettings(s config.Settings) Option {
	return func(o *options) {
		o.maxListeners = s.MaxListeners
		o.historyEnabled = s.HistoryEnabled
		if s.HistorySize > 0 {
			o.historySize = s.HistorySize
		}
		o.monitoring = s.PerformanceMonitoring
		o.asyncConcurrency = s.AsyncConcurrency
		o.asyncTimeout = s.AsyncTimeout
		o.warnInterval = s.WarnInterval
		if s.LeakThreshold > 0 {
			o.leakThreshold = s.LeakThreshold
		}
	}
}

// ListenerOption configures a single registration.
type ListenerOption func(*listener)

// WithPriority sets the listener priority. Higher runs first. Default: 0
func WithPriority(priority int) ListenerOption {
	return func(l *listener) {
		l.priority = priority
	}
}

// WithOnce removes the listener after its first invocation.
func WithOnce() ListenerOption {
	return func(l *listener) {
		l.once = true
	}
}

// WithNamespace tags the listener for bulk removal with OffNamespace.
func WithNamespace(namespace string) ListenerOption {
	return func(l *listener) {
		l.namespace = namespace
	}
}
