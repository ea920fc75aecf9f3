package leak

import (
	"slices"
	"sync"
	"time"
)

// MemoryStore keeps snapshots in memory.
// Data is lost when the process exits.
type MemoryStore struct {
	mu     sync.RWMutex
	series map[string]*memorySeries
	closed bool
}

type memorySeries struct {
	seq    int64
	topics map[string][]Sample
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		series: make(map[string]*memorySeries),
	}
}

// Append implements Store.
func (m *MemoryStore) Append(series string, at time.Time, counts map[string]int) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return 0, ErrStoreClosed
	}

	s := m.series[series]
	if s == nil {
		s = &memorySeries{topics: make(map[string][]Sample)}
		m.series[series] = s
	}
	s.seq++
	for topic, count := range counts {
		s.topics[topic] = append(s.topics[topic], Sample{
			Series:    series,
			Seq:       s.seq,
			Topic:     topic,
			Count:     count,
			Timestamp: at.UTC(),
		})
	}
	return s.seq, nil
}

// Recent implements Store.
func (m *MemoryStore) Recent(series, topic string, n int) ([]Sample, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, ErrStoreClosed
	}

	s := m.series[series]
	if s == nil || n <= 0 {
		return nil, nil
	}
	samples := s.topics[topic]
	if len(samples) > n {
		samples = samples[len(samples)-n:]
	}
	return slices.Clone(samples), nil
}

// Topics implements Store.
func (m *MemoryStore) Topics(series string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, ErrStoreClosed
	}

	s := m.series[series]
	if s == nil {
		return nil, nil
	}
	topics := make([]string, 0, len(s.topics))
	for topic := range s.topics {
		topics = append(topics, topic)
	}
	slices.Sort(topics)
	return topics, nil
}

// Prune implements Store.
func (m *MemoryStore) Prune(series string, keep int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrStoreClosed
	}

	s := m.series[series]
	if s == nil {
		return nil
	}
	cutoff := s.seq - int64(keep)
	for topic, samples := range s.topics {
		samples = slices.DeleteFunc(samples, func(x Sample) bool { return x.Seq <= cutoff })
		if len(samples) == 0 {
			delete(s.topics, topic)
			continue
		}
		s.topics[topic] = samples
	}
	return nil
}

// DeleteSeries implements Store.
func (m *MemoryStore) DeleteSeries(series string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrStoreClosed
	}

	delete(m.series, series)
	return nil
}

// Close implements Store.
func (m *MemoryStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.closed = true
	m.series = nil
	return nil
}

// Len returns the total number of samples across all series.
// Useful for testing.
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	count := 0
	for _, s := range m.series {
		for _, samples := range s.topics {
			count += len(samples)
		}
	}
	return count
}
