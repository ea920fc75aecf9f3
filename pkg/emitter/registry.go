package emitter

import (
	"cmp"
	"slices"
	"strings"

	"github.com/randalmurphal/emitter/pkg/emitter/observability"
)

// Wildcard is the pattern matching every topic.
const Wildcard = "*"

// topicEntry is an ordered listener list.
// The slice is never mutated in place so dispatch passes may keep a
// reference to it after the lock is released.
type topicEntry struct {
	listeners []*listener
	sorted    bool
}

// ensureSorted orders the list by priority descending, then registration order.
func (e *topicEntry) ensureSorted() {
	if e.sorted {
		return
	}
	s := slices.Clone(e.listeners)
	slices.SortStableFunc(s, func(a, b *listener) int {
		if c := cmp.Compare(b.priority, a.priority); c != 0 {
			return c
		}
		return cmp.Compare(a.seq, b.seq)
	})
	e.listeners = s
	e.sorted = true
}

// filter replaces the list with the records drop rejects and returns the
// dropped records.
func (e *topicEntry) filter(drop func(*listener) bool) []*listener {
	var dropped []*listener
	kept := make([]*listener, 0, len(e.listeners))
	for _, l := range e.listeners {
		if drop(l) {
			dropped = append(dropped, l)
		} else {
			kept = append(kept, l)
		}
	}
	if len(dropped) > 0 {
		e.listeners = kept
	}
	return dropped
}

// isPattern reports whether topic is a wildcard subscription.
func isPattern(topic string) bool {
	return strings.HasSuffix(topic, Wildcard)
}

// matches reports whether pattern covers topic.
func matches(pattern, topic string) bool {
	return strings.HasPrefix(topic, strings.TrimSuffix(pattern, Wildcard))
}

// On registers fn for topic and returns its ID.
//
// A topic ending in "*" is a prefix pattern: "*" receives every emission,
// "user:*" receives every topic starting with "user:". Registering the same
// function twice yields two independent listeners.
//
// On returns 0 and registers nothing if topic is empty, fn is nil or the
// dispatcher is closed.
//
// Example:
//
//	id := d.On("user:login", onLogin, emitter.WithPriority(10))
//	defer d.Off("user:login", id)
func (d *Dispatcher) On(topic string, fn Listener, opts ...ListenerOption) ListenerID {
	if topic == "" || fn == nil {
		return 0
	}

	l := &listener{topic: topic, fn: fn}
	for _, opt := range opts {
		opt(l)
	}

	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return 0
	}
	l.id = ListenerID(d.nextID.Add(1))
	d.nextSeq++
	l.seq = d.nextSeq

	e := d.entryLocked(topic, true)
	e.listeners = append(e.listeners, l)
	e.sorted = false
	if l.namespace != "" {
		d.namespaces[l.namespace]++
	}

	count := d.countLocked(topic)
	limit := d.opts.maxListeners
	warn := limit > 0 && count > limit && d.warnLimiter.Allow()
	d.mu.Unlock()

	if warn {
		observability.LogMaxListenersExceeded(d.logger, topic, count, limit)
	}
	return l.id
}

// Once registers fn to run at most once.
func (d *Dispatcher) Once(topic string, fn Listener, opts ...ListenerOption) ListenerID {
	return d.On(topic, fn, append(opts, WithOnce())...)
}

// Off removes the given listeners from topic. Without ids it removes every
// listener registered under topic. Unknown ids are ignored.
func (d *Dispatcher) Off(topic string, ids ...ListenerID) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if len(ids) == 0 {
		d.removeKeyLocked(topic)
		return
	}

	e := d.entryLocked(topic, false)
	if e == nil {
		return
	}
	want := make(map[ListenerID]struct{}, len(ids))
	for _, id := range ids {
		want[id] = struct{}{}
	}
	d.retireLocked(e.filter(func(l *listener) bool {
		_, ok := want[l.id]
		return ok && l.topic == topic
	}))
	d.pruneLocked(topic)
}

// OffID removes one listener without knowing its topic.
// Reports whether a listener was removed.
func (d *Dispatcher) OffID(id ListenerID) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	match := func(l *listener) bool { return l.id == id }
	if dropped := d.wildcards.filter(match); len(dropped) > 0 {
		d.retireLocked(dropped)
		return true
	}
	for topic, e := range d.topics {
		if dropped := e.filter(match); len(dropped) > 0 {
			d.retireLocked(dropped)
			d.pruneLocked(topic)
			return true
		}
	}
	return false
}

// OffNamespace removes every listener tagged with namespace, exact and
// wildcard alike, and returns how many were removed.
func (d *Dispatcher) OffNamespace(namespace string) int {
	d.mu.Lock()
	defer d.mu.Unlock()

	if namespace == "" || d.namespaces[namespace] == 0 {
		return 0
	}

	match := func(l *listener) bool { return l.namespace == namespace }
	removed := d.retireLocked(d.wildcards.filter(match))
	for topic, e := range d.topics {
		removed += d.retireLocked(e.filter(match))
		d.pruneLocked(topic)
	}
	return removed
}

// RemoveAllListeners clears the registry. With arguments, each exact key
// clears one topic and each key containing "*" clears every registered
// topic and pattern starting with the text before the "*".
//
// Example:
//
//	d.RemoveAllListeners("user:*") // removes "user:login", not "userdata"
func (d *Dispatcher) RemoveAllListeners(topicOrPattern ...string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if len(topicOrPattern) == 0 {
		for _, e := range d.topics {
			d.retireLocked(e.listeners)
		}
		d.retireLocked(d.wildcards.listeners)
		d.topics = make(map[string]*topicEntry)
		d.wildcards = &topicEntry{sorted: true}
		return
	}

	for _, key := range topicOrPattern {
		i := strings.Index(key, Wildcard)
		if i < 0 {
			d.removeKeyLocked(key)
			continue
		}
		prefix := key[:i]
		for topic, e := range d.topics {
			if strings.HasPrefix(topic, prefix) {
				d.retireLocked(e.listeners)
				delete(d.topics, topic)
			}
		}
		d.retireLocked(d.wildcards.filter(func(l *listener) bool {
			return strings.HasPrefix(l.topic, prefix)
		}))
	}
}

// entryLocked returns the list holding topic's records.
func (d *Dispatcher) entryLocked(topic string, create bool) *topicEntry {
	if isPattern(topic) {
		return d.wildcards
	}
	e := d.topics[topic]
	if e == nil && create {
		e = &topicEntry{}
		d.topics[topic] = e
	}
	return e
}

// countLocked returns the number of records registered under key.
func (d *Dispatcher) countLocked(key string) int {
	if !isPattern(key) {
		if e := d.topics[key]; e != nil {
			return len(e.listeners)
		}
		return 0
	}
	n := 0
	for _, l := range d.wildcards.listeners {
		if l.topic == key {
			n++
		}
	}
	return n
}

// removeKeyLocked drops every record registered under key.
func (d *Dispatcher) removeKeyLocked(key string) {
	if isPattern(key) {
		d.retireLocked(d.wildcards.filter(func(l *listener) bool { return l.topic == key }))
		return
	}
	if e := d.topics[key]; e != nil {
		d.retireLocked(e.listeners)
		delete(d.topics, key)
	}
}

// pruneLocked deletes topic if its list is empty.
func (d *Dispatcher) pruneLocked(topic string) {
	if e := d.topics[topic]; e != nil && len(e.listeners) == 0 {
		delete(d.topics, topic)
	}
}

// retireLocked marks records removed and updates the namespace index.
func (d *Dispatcher) retireLocked(records []*listener) int {
	for _, l := range records {
		l.removed.Store(true)
		if l.namespace != "" {
			if d.namespaces[l.namespace]--; d.namespaces[l.namespace] <= 0 {
				delete(d.namespaces, l.namespace)
			}
		}
	}
	return len(records)
}

// matchingWildcardsLocked returns the sorted wildcard records covering topic.
func (d *Dispatcher) matchingWildcardsLocked(topic string) []*listener {
	if len(d.wildcards.listeners) == 0 {
		return nil
	}
	d.wildcards.ensureSorted()
	var out []*listener
	for _, l := range d.wildcards.listeners {
		if matches(l.topic, topic) {
			out = append(out, l)
		}
	}
	return out
}
