package emitter

import (
	"context"

	"github.com/randalmurphal/emitter/pkg/emitter/observability"
)

// queued is an emission held by an open batch.
type queued struct {
	ctx     context.Context
	topic   string
	payload any
}

// StartBatch opens a batch. Until the matching EndBatch, Emit queues
// emissions instead of dispatching them. Batches nest; only the outermost
// EndBatch flushes. EmitAsync is never queued.
func (d *Dispatcher) StartBatch() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.closed {
		d.batchDepth++
	}
}

// EndBatch closes a batch. The outermost call dispatches the queue grouped
// by topic, groups in order of first appearance and events within a group
// in submission order, and returns the number of events flushed.
func (d *Dispatcher) EndBatch() int {
	d.mu.Lock()
	if d.batchDepth == 0 {
		d.mu.Unlock()
		return 0
	}
	d.batchDepth--
	if d.batchDepth > 0 {
		d.mu.Unlock()
		return 0
	}
	q := d.queue
	d.queue = nil
	d.mu.Unlock()

	var order []string
	groups := make(map[string][]queued)
	for _, e := range q {
		if _, ok := groups[e.topic]; !ok {
			order = append(order, e.topic)
		}
		groups[e.topic] = append(groups[e.topic], e)
	}

	for _, topic := range order {
		d.mu.Lock()
		p := d.resolveLocked(topic)
		d.mu.Unlock()

		if p.empty() && !p.record {
			continue
		}
		for _, e := range groups[topic] {
			d.deliver(e.ctx, &p, e.payload, observability.ModeBatch)
		}
	}
	return len(q)
}

// Batch runs fn inside StartBatch/EndBatch and returns the flushed count.
//
// Example:
//
//	d.Batch(func() {
//	    for _, r := range rows {
//	        d.Emit(ctx, "row:loaded", r)
//	    }
//	})
func (d *Dispatcher) Batch(fn func()) int {
	d.StartBatch()
	defer func() {
		if r := recover(); r != nil {
			d.EndBatch()
			panic(r)
		}
	}()
	fn()
	return d.EndBatch()
}
