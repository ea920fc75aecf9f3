package emitter

import (
	"cmp"
	"maps"
	"slices"
	"time"
)

// LeakReport names a topic or pattern with too many listeners.
type LeakReport struct {
	Topic string
	Count int
}

// TopicMetrics holds per-topic timing statistics.
type TopicMetrics struct {
	Emits         int64
	ListenerCalls int64
	Failures      int64
	TotalDuration time.Duration
	MaxDuration   time.Duration
}

// AverageDuration returns the mean duration of one emission.
func (m TopicMetrics) AverageDuration() time.Duration {
	if m.Emits == 0 {
		return 0
	}
	return m.TotalDuration / time.Duration(m.Emits)
}

// ListenerCount returns the number of listeners registered under key.
// For a pattern such as "user:*" it counts that pattern's listeners.
func (d *Dispatcher) ListenerCount(key string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.countLocked(key)
}

// ListenerCounts returns the listener count of every registered topic and pattern.
func (d *Dispatcher) ListenerCounts() map[string]int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.countsLocked()
}

func (d *Dispatcher) countsLocked() map[string]int {
	counts := make(map[string]int, len(d.topics)+1)
	for topic, e := range d.topics {
		counts[topic] = len(e.listeners)
	}
	for _, l := range d.wildcards.listeners {
		counts[l.topic]++
	}
	return counts
}

// TotalListenerCount returns the number of registered listeners.
func (d *Dispatcher) TotalListenerCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := len(d.wildcards.listeners)
	for _, e := range d.topics {
		n += len(e.listeners)
	}
	return n
}

// EventNames returns every registered topic and pattern, sorted.
func (d *Dispatcher) EventNames() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return slices.Sorted(maps.Keys(d.countsLocked()))
}

// HasListeners reports whether an emission of topic would reach a listener.
func (d *Dispatcher) HasListeners(topic string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if e := d.topics[topic]; e != nil && len(e.listeners) > 0 {
		return true
	}
	for _, l := range d.wildcards.listeners {
		if matches(l.topic, topic) {
			return true
		}
	}
	return false
}

// Listeners returns the listeners an emission of topic would invoke,
// in invocation order.
func (d *Dispatcher) Listeners(topic string) []ListenerInfo {
	d.mu.Lock()
	p := d.resolveLocked(topic)
	d.mu.Unlock()

	out := make([]ListenerInfo, 0, len(p.exact)+len(p.wild))
	for _, list := range [2][]*listener{p.exact, p.wild} {
		for _, l := range list {
			out = append(out, l.info())
		}
	}
	return out
}

// DetectMemoryLeaks returns every topic or pattern whose listener count
// exceeds threshold, largest first. threshold <= 0 uses the configured
// leak threshold (default 50). It only reports; nothing is removed.
func (d *Dispatcher) DetectMemoryLeaks(threshold int) []LeakReport {
	d.mu.Lock()
	if threshold <= 0 {
		threshold = d.opts.leakThreshold
	}
	counts := d.countsLocked()
	d.mu.Unlock()

	var reports []LeakReport
	for topic, n := range counts {
		if n > threshold {
			reports = append(reports, LeakReport{Topic: topic, Count: n})
		}
	}
	slices.SortFunc(reports, func(a, b LeakReport) int {
		if c := cmp.Compare(b.Count, a.Count); c != 0 {
			return c
		}
		return cmp.Compare(a.Topic, b.Topic)
	})
	return reports
}

// SetMaxListeners changes the per-topic warning threshold. Zero disables
// the warning. Existing registrations are not affected.
func (d *Dispatcher) SetMaxListeners(n int) {
	if n < 0 {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.opts.maxListeners = n
}

// SetErrorHandler replaces the error handler. nil restores the default,
// which logs every failure.
func (d *Dispatcher) SetErrorHandler(h ErrorHandler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if h == nil {
		h = d.logFailure
	}
	d.errorHandler = h
}

// EnablePerformanceMonitoring turns per-topic timing statistics on or off.
// Turning it off keeps collected statistics.
func (d *Dispatcher) EnablePerformanceMonitoring(enabled bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.opts.monitoring = enabled
}

// PerformanceMetrics returns a copy of the collected statistics by topic.
func (d *Dispatcher) PerformanceMetrics() map[string]TopicMetrics {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make(map[string]TopicMetrics, len(d.stats))
	for topic, m := range d.stats {
		out[topic] = *m
	}
	return out
}

// ResetPerformanceMetrics discards collected statistics.
func (d *Dispatcher) ResetPerformanceMetrics() {
	d.mu.Lock()
	defer d.mu.Unlock()
	clear(d.stats)
}

// statLocked accumulates one emission if monitoring is enabled.
func (d *Dispatcher) statLocked(topic string, calls, failures int, elapsed time.Duration) {
	if !d.opts.monitoring {
		return
	}
	m := d.stats[topic]
	if m == nil {
		m = &TopicMetrics{}
		d.stats[topic] = m
	}
	m.Emits++
	m.ListenerCalls += int64(calls)
	m.Failures += int64(failures)
	m.TotalDuration += elapsed
	m.MaxDuration = max(m.MaxDuration, elapsed)
}
