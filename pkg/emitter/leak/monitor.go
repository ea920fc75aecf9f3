package leak

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/randalmurphal/emitter/pkg/emitter/config"
	"github.com/randalmurphal/emitter/pkg/emitter/observability"
)

// Source provides listener counts. *emitter.Dispatcher implements it.
type Source interface {
	ID() string
	ListenerCounts() map[string]int
}

// Suspect is a topic whose listener count grew in every one of the last
// Samples snapshots.
type Suspect struct {
	Topic   string
	First   int
	Last    int
	Samples int
}

// Monitor samples a Source and reports growing topics.
type Monitor struct {
	source  Source
	store   Store
	window   int
	interval time.Duration
	logger   *slog.Logger
	limiter  *rate.Limiter
	now      func() time.Time
}

// Option configures a Monitor.
type Option func(*Monitor)

// WithWindow sets how many consecutive growing snapshots make a suspect.
// Values below 2 are ignored. Default: 5
func WithWindow(n int) Option {
	return func(m *Monitor) {
		if n >= 2 {
			m.window = n
		}
	}
}

// WithLogger sets the logger for suspect reports.
// Default: slog.Default()
func WithLogger(logger *slog.Logger) Option {
	return func(m *Monitor) {
		m.logger = logger
	}
}

// WithReportInterval limits suspect log entries to one per interval.
// Zero logs every suspect. Default: no limit.
func WithReportInterval(d time.Duration) Option {
	return func(m *Monitor) {
		if d > 0 {
			m.limiter = rate.NewLimiter(rate.Every(d), 1)
		}
	}
}

// WithSettings applies LeakWindow, LeakInterval and LeakReportInterval
// from a dispatcher configuration. LeakInterval becomes the period Run
// uses when called with a non-positive interval.
func WithSettings(s config.Settings) Option {
	return func(m *Monitor) {
		if s.LeakWindow >= 2 {
			m.window = s.LeakWindow
		}
		if s.LeakInterval > 0 {
			m.interval = s.LeakInterval
		}
		if s.LeakReportInterval > 0 {
			m.limiter = rate.NewLimiter(rate.Every(s.LeakReportInterval), 1)
		}
	}
}

// NewMonitor creates a monitor writing snapshots of source to store.
// The series key is the source's ID.
func NewMonitor(source Source, store Store, opts ...Option) *Monitor {
	m := &Monitor{
		source:   source,
		store:    store,
		window:   config.DefaultLeakWindow,
		interval: config.DefaultLeakInterval,
		limiter:  rate.NewLimiter(rate.Inf, 1),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.logger == nil {
		m.logger = slog.Default()
	}
	m.logger = observability.EnrichLogger(m.logger, source.ID())
	return m
}

// Sample records the current counts and returns the topics that grew in
// each of the last window snapshots, sorted by topic.
func (m *Monitor) Sample() ([]Suspect, error) {
	series := m.source.ID()
	counts := m.source.ListenerCounts()

	seq, err := m.store.Append(series, m.now(), counts)
	if err != nil {
		return nil, fmt.Errorf("append sample: %w", err)
	}

	var suspects []Suspect
	for topic := range counts {
		samples, err := m.store.Recent(series, topic, m.window)
		if err != nil {
			return nil, fmt.Errorf("read samples for %s: %w", topic, err)
		}
		if growing(samples, seq, m.window) {
			suspects = append(suspects, Suspect{
				Topic:   topic,
				First:   samples[0].Count,
				Last:    samples[len(samples)-1].Count,
				Samples: len(samples),
			})
		}
	}
	slices.SortFunc(suspects, func(a, b Suspect) int {
		return strings.Compare(a.Topic, b.Topic)
	})

	for _, s := range suspects {
		if m.limiter.Allow() {
			observability.LogLeakSuspect(m.logger, s.Topic, s.First, s.Last, s.Samples)
		}
	}

	if err := m.store.Prune(series, m.window); err != nil {
		return suspects, fmt.Errorf("prune samples: %w", err)
	}
	return suspects, nil
}

// growing reports whether samples cover the window snapshots ending at seq
// without gaps and each count exceeds the previous one.
func growing(samples []Sample, seq int64, window int) bool {
	if len(samples) < window {
		return false
	}
	if samples[len(samples)-1].Seq != seq || samples[0].Seq != seq-int64(window)+1 {
		return false
	}
	for i := 1; i < len(samples); i++ {
		if samples[i].Count <= samples[i-1].Count {
			return false
		}
	}
	return true
}

// Run samples every interval until ctx is done. A non-positive interval
// uses the configured LeakInterval (default 30s). Sampling errors are
// logged and do not stop the loop. Returns ctx.Err().
//
// Example:
//
//	m := leak.NewMonitor(d, leak.NewMemoryStore())
//	go m.Run(ctx, 30*time.Second)
func (m *Monitor) Run(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = m.interval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if _, err := m.Sample(); err != nil {
				m.logger.Error("leak sampling failed", slog.String("error", err.Error()))
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
