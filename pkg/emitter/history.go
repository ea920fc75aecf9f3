package emitter

import (
	"time"

	"github.com/google/uuid"

	"github.com/randalmurphal/emitter/pkg/emitter/config"
)

// HistoryEntry records one delivered emission.
type HistoryEntry struct {
	ID        string
	Topic     string
	Payload   any
	Timestamp time.Time
}

// ring is a fixed-capacity FIFO of history entries.
type ring struct {
	enabled bool
	buf     []HistoryEntry
	start   int
	n       int
}

func (r *ring) enable(size int) {
	if size <= 0 {
		size = config.DefaultHistorySize
	}
	r.enabled = true
	if size == len(r.buf) {
		return
	}
	entries := r.entries()
	if len(entries) > size {
		entries = entries[len(entries)-size:]
	}
	r.buf = make([]HistoryEntry, size)
	r.start = 0
	r.n = copy(r.buf, entries)
}

func (r *ring) push(e HistoryEntry) {
	if len(r.buf) == 0 {
		return
	}
	if r.n < len(r.buf) {
		r.buf[(r.start+r.n)%len(r.buf)] = e
		r.n++
		return
	}
	r.buf[r.start] = e
	r.start = (r.start + 1) % len(r.buf)
}

// entries returns a copy, oldest first.
func (r *ring) entries() []HistoryEntry {
	out := make([]HistoryEntry, r.n)
	for i := range r.n {
		out[i] = r.buf[(r.start+i)%len(r.buf)]
	}
	return out
}

func (r *ring) clear() {
	clear(r.buf)
	r.start = 0
	r.n = 0
}

// EnableHistory turns history recording on or off. maxSize <= 0 uses 1000.
// Resizing keeps the newest entries. Disabling keeps recorded entries.
func (d *Dispatcher) EnableHistory(enabled bool, maxSize int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !enabled {
		d.history.enabled = false
		return
	}
	d.history.enable(maxSize)
}

// History returns recorded emissions, oldest first.
func (d *Dispatcher) History() []HistoryEntry {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.history.entries()
}

// ClearHistory empties the history without disabling it.
func (d *Dispatcher) ClearHistory() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.history.clear()
}

// recordLocked appends an entry if history is enabled.
func (d *Dispatcher) recordLocked(topic string, payload any) {
	if !d.history.enabled {
		return
	}
	d.history.push(HistoryEntry{
		ID:        uuid.New().String(),
		Topic:     topic,
		Payload:   payload,
		Timestamp: time.Now(),
	})
}
