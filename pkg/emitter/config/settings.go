package config

import (
	"errors"
	"fmt"
	"time"
)

// ErrInvalidSettings is returned by Validate for out-of-range values.
var ErrInvalidSettings = errors.New("invalid settings")

// Defaults applied by Default and by the loaders for missing keys.
const (
	DefaultMaxListeners  = 100
	DefaultHistorySize   = 1000
	DefaultLeakThreshold = 50
	DefaultLeakInterval  = 30 * time.Second
	DefaultLeakWindow    = 5
	DefaultWarnInterval  = time.Second
)

// Settings configures a dispatcher and its leak monitor.
type Settings struct {
	// MaxListeners is the per-topic count above which a warning is logged.
	// Zero disables the warning.
	MaxListeners int

	// HistoryEnabled turns on the emission history ring.
	HistoryEnabled bool

	// HistorySize is the ring capacity.
	HistorySize int

	// PerformanceMonitoring turns on per-topic timing statistics.
	PerformanceMonitoring bool

	// AsyncConcurrency bounds the goroutines used by one EmitAsync call.
	// Zero means one goroutine per listener.
	AsyncConcurrency int

	// AsyncTimeout bounds how long EmitAsync waits. Zero waits forever.
	AsyncTimeout time.Duration

	// LeakThreshold is the listener count reported by DetectMemoryLeaks.
	LeakThreshold int

	// LeakInterval is the sampling period of leak.Monitor.
	LeakInterval time.Duration

	// LeakWindow is the number of consecutive samples that must grow
	// before a topic is reported.
	LeakWindow int

	// LeakReportInterval is the minimum spacing between leak.Monitor
	// suspect log entries. Zero logs every suspect.
	LeakReportInterval time.Duration

	// WarnInterval is the minimum spacing between max-listener warnings.
	WarnInterval time.Duration
}

// Default returns the settings used when nothing is configured.
func Default() Settings {
	return Settings{
		MaxListeners:  DefaultMaxListeners,
		HistorySize:   DefaultHistorySize,
		LeakThreshold: DefaultLeakThreshold,
		LeakInterval:  DefaultLeakInterval,
		LeakWindow:    DefaultLeakWindow,
		WarnInterval:  DefaultWarnInterval,
	}
}

// Validate reports the first out-of-range field.
func (s Settings) Validate() error {
	switch {
	case s.MaxListeners < 0:
		return fmt.Errorf("%w: max_listeners must be >= 0, got %d", ErrInvalidSettings, s.MaxListeners)
	case s.HistorySize < 0:
		return fmt.Errorf("%w: history_size must be >= 0, got %d", ErrInvalidSettings, s.HistorySize)
	case s.AsyncConcurrency < 0:
		return fmt.Errorf("%w: async_concurrency must be >= 0, got %d", ErrInvalidSettings, s.AsyncConcurrency)
	case s.AsyncTimeout < 0:
		return fmt.Errorf("%w: async_timeout must be >= 0, got %s", ErrInvalidSettings, s.AsyncTimeout)
	case s.LeakThreshold < 0:
		return fmt.Errorf("%w: leak_threshold must be >= 0, got %d", ErrInvalidSettings, s.LeakThreshold)
	case s.LeakInterval < 0:
		return fmt.Errorf("%w: leak_interval must be >= 0, got %s", ErrInvalidSettings, s.LeakInterval)
	case s.LeakWindow < 2 && s.LeakWindow != 0:
		return fmt.Errorf("%w: leak_window must be 0 or >= 2, got %d", ErrInvalidSettings, s.LeakWindow)
	case s.LeakReportInterval < 0:
		return fmt.Errorf("%w: leak_report_interval must be >= 0, got %s", ErrInvalidSettings, s.LeakReportInterval)
	case s.WarnInterval < 0:
		return fmt.Errorf("%w: warn_interval must be >= 0, got %s", ErrInvalidSettings, s.WarnInterval)
	}
	return nil
}

// fromValues overlays a decoded document on the defaults.
func fromValues(v values) Settings {
	d := Default()
	return Settings{
		MaxListeners:          v.integer("max_listeners", d.MaxListeners),
		HistoryEnabled:        v.boolean("history_enabled", d.HistoryEnabled),
		HistorySize:           v.integer("history_size", d.HistorySize),
		PerformanceMonitoring: v.boolean("performance_monitoring", d.PerformanceMonitoring),
		AsyncConcurrency:      v.integer("async_concurrency", d.AsyncConcurrency),
		AsyncTimeout:          v.duration("async_timeout", d.AsyncTimeout),
		LeakThreshold:         v.integer("leak_threshold", d.LeakThreshold),
		LeakInterval:          v.duration("leak_interval", d.LeakInterval),
		LeakWindow:            v.integer("leak_window", d.LeakWindow),
		LeakReportInterval:    v.duration("leak_report_interval", d.LeakReportInterval),
		WarnInterval:          v.duration("warn_interval", d.WarnInterval),
	}
}
