package emitter

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBatch_QueuesUntilEnd(t *testing.T) {
	d := New()
	var log callLog
	d.On("t", log.listener("l"))

	d.StartBatch()
	d.Emit(context.Background(), "t", 1)
	d.Emit(context.Background(), "t", 2)
	assert.Empty(t, log.names())

	n := d.EndBatch()

	assert.Equal(t, 2, n)
	assert.Equal(t, []any{1, 2}, log.payloads())
}

func TestBatch_GroupsByTopic(t *testing.T) {
	d := New()
	var log callLog
	d.On("a", log.listener("a"))
	d.On("b", log.listener("b"))

	d.StartBatch()
	ctx := context.Background()
	d.Emit(ctx, "a", "a1")
	d.Emit(ctx, "b", "b1")
	d.Emit(ctx, "a", "a2")
	d.Emit(ctx, "b", "b2")
	d.Emit(ctx, "c", "c1")
	assert.Equal(t, 5, d.EndBatch(), "events without listeners are still counted")

	assert.Equal(t, []any{"a1", "a2", "b1", "b2"}, log.payloads())
}

func TestBatch_Nested(t *testing.T) {
	d := New()
	var log callLog
	d.On("t", log.listener("l"))

	d.StartBatch()
	d.StartBatch()
	d.Emit(context.Background(), "t", 1)
	assert.Zero(t, d.EndBatch())
	assert.Empty(t, log.names())

	assert.Equal(t, 1, d.EndBatch())
	assert.Len(t, log.names(), 1)
	assert.Zero(t, d.EndBatch(), "unbalanced EndBatch is a no-op")
}

func TestBatch_OnceFiresOncePerFlush(t *testing.T) {
	d := New()
	var log callLog
	d.Once("t", log.listener("once"))
	d.On("t", log.listener("always"))

	d.StartBatch()
	d.Emit(context.Background(), "t", 1)
	d.Emit(context.Background(), "t", 2)
	d.EndBatch()

	assert.Equal(t, []string{"once", "always", "always"}, log.names())
	assert.Equal(t, 1, d.ListenerCount("t"))
}

func TestBatch_AsyncIsNotQueued(t *testing.T) {
	d := New()
	var log callLog
	d.On("t", log.listener("l"))

	d.StartBatch()
	require.NoError(t, d.EmitAsync(context.Background(), "t", 1))
	assert.Len(t, log.names(), 1)
	assert.Zero(t, d.EndBatch())
}

func TestBatch_HistoryAndInterceptors(t *testing.T) {
	d := New(WithHistory(10))
	d.On("t", noop)
	d.Intercept(func(_ string, p any) (any, bool) { return p, p != 2 })

	d.StartBatch()
	for i := range 3 {
		d.Emit(context.Background(), "t", i)
	}
	d.EndBatch()

	h := d.History()
	require.Len(t, h, 2)
	assert.Equal(t, 0, h[0].Payload)
	assert.Equal(t, 1, h[1].Payload)
}

func TestBatch_Func(t *testing.T) {
	d := New()
	var log callLog
	d.On("t", log.listener("l"))

	n := d.Batch(func() {
		d.Emit(context.Background(), "t", 1)
		d.Emit(context.Background(), "t", 2)
		assert.Empty(t, log.names())
	})

	assert.Equal(t, 2, n)
	assert.Len(t, log.names(), 2)
}

func TestBatch_FuncPanicClosesBatch(t *testing.T) {
	d := New()
	var log callLog
	d.On("t", log.listener("l"))

	assert.Panics(t, func() {
		d.Batch(func() {
			d.Emit(context.Background(), "t", 1)
			panic("oops")
		})
	})

	assert.Len(t, log.names(), 1, "queued events are flushed")
	d.Emit(context.Background(), "t", 2)
	assert.Len(t, log.names(), 2, "batch is closed")
}
