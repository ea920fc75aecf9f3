package emitter

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEmit_PriorityOrder(t *testing.T) {
	d := New()
	var log callLog
	d.On("data:load", log.listener("p1"), WithPriority(1))
	d.On("data:load", log.listener("p3"), WithPriority(3))
	d.On("data:load", log.listener("p2"), WithPriority(2))

	d.Emit(context.Background(), "data:load", nil)

	assert.Equal(t, []string{"p3", "p2", "p1"}, log.names())
}

func TestEmit_StableTieBreak(t *testing.T) {
	d := New()
	var log callLog
	d.On("t", log.listener("a"), WithPriority(1))
	d.On("t", log.listener("b"), WithPriority(1))
	d.On("t", log.listener("c"), WithPriority(1))
	d.On("t", log.listener("neg"), WithPriority(-1))
	d.On("t", log.listener("d"), WithPriority(1))

	d.Emit(context.Background(), "t", nil)
	d.Emit(context.Background(), "t", nil)

	want := []string{"a", "b", "c", "d", "neg"}
	assert.Equal(t, append(want, want...), log.names(), "order is deterministic across emissions")
}

func TestEmit_SortAfterLateRegistration(t *testing.T) {
	d := New()
	var log callLog
	d.On("t", log.listener("low"))
	d.Emit(context.Background(), "t", nil)

	d.On("t", log.listener("high"), WithPriority(10))
	d.Emit(context.Background(), "t", nil)

	assert.Equal(t, []string{"low", "high", "low"}, log.names())
}

func TestEmit_Once(t *testing.T) {
	d := New()
	var calls atomic.Int32
	d.Once("t", func(context.Context, any) error {
		calls.Add(1)
		return nil
	})
	d.On("t", noop)
	require.Equal(t, 2, d.ListenerCount("t"))

	d.Emit(context.Background(), "t", nil)
	assert.Equal(t, 1, d.ListenerCount("t"), "count drops right after firing")

	d.Emit(context.Background(), "t", nil)
	d.Emit(context.Background(), "t", nil)
	assert.Equal(t, int32(1), calls.Load())
}

func TestEmit_OnceFastPath(t *testing.T) {
	d := New()
	var calls atomic.Int32
	d.Once("t", func(context.Context, any) error {
		calls.Add(1)
		return errors.New("fails but still removed")
	})

	d.SetErrorHandler(func(context.Context, error) {})
	d.Emit(context.Background(), "t", nil)
	d.Emit(context.Background(), "t", nil)

	assert.Equal(t, int32(1), calls.Load())
	assert.Zero(t, d.ListenerCount("t"))
	assert.Empty(t, d.EventNames())
}

func TestEmit_OnceReentrant(t *testing.T) {
	d := New()
	var calls atomic.Int32
	d.Once("t", func(ctx context.Context, _ any) error {
		calls.Add(1)
		d.Emit(ctx, "t", nil)
		return nil
	})
	d.On("t", noop)

	d.Emit(context.Background(), "t", nil)

	assert.Equal(t, int32(1), calls.Load())
	assert.Equal(t, 1, d.ListenerCount("t"))
}

func TestEmit_OnceConcurrent(t *testing.T) {
	d := New()
	var calls atomic.Int32
	d.Once("t", func(context.Context, any) error {
		calls.Add(1)
		return nil
	})
	d.On("t", noop)

	var wg sync.WaitGroup
	for range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d.Emit(context.Background(), "t", nil)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), calls.Load())
}

func TestEmit_Wildcards(t *testing.T) {
	d := New()
	var log callLog
	d.On("user:*", log.listener("user"))
	d.On("*", log.listener("all"))

	ctx := context.Background()
	d.Emit(ctx, "user:login", 1)
	d.Emit(ctx, "user:logout", 2)
	d.Emit(ctx, "data:load", 3)

	assert.Equal(t, []string{"user", "all", "user", "all", "all"}, log.names())
	assert.Equal(t, []any{1, 1, 2, 2, 3}, log.payloads())
}

func TestEmit_ExactBeforeWildcard(t *testing.T) {
	d := New()
	var log callLog
	d.On("user:*", log.listener("wild"), WithPriority(100))
	d.On("user:login", log.listener("exact"))

	d.Emit(context.Background(), "user:login", nil)

	assert.Equal(t, []string{"exact", "wild"}, log.names(), "each invoked once, specific first")
}

func TestEmit_WildcardPriorityAcrossPatterns(t *testing.T) {
	d := New()
	var log callLog
	d.On("*", log.listener("all-low"), WithPriority(-1))
	d.On("user:*", log.listener("user"))
	d.On("*", log.listener("all-high"), WithPriority(5))

	d.Emit(context.Background(), "user:login", nil)

	assert.Equal(t, []string{"all-high", "user", "all-low"}, log.names())
}

func TestEmit_ErrorIsolation(t *testing.T) {
	sink := &errorSink{}
	d := New(WithErrorHandler(sink.handle))
	var log callLog
	boom := errors.New("boom")

	id := d.On("t", failing(boom), WithPriority(2), WithNamespace("ns"))
	d.On("t", log.listener("second"), WithPriority(1))

	d.Emit(context.Background(), "t", "payload")

	assert.Equal(t, []any{"payload"}, log.payloads())

	errs := sink.all()
	require.Len(t, errs, 1)
	var le *ListenerError
	require.ErrorAs(t, errs[0], &le)
	assert.Equal(t, "t", le.Topic)
	assert.Equal(t, id, le.ListenerID)
	assert.Equal(t, "ns", le.Namespace)
	assert.ErrorIs(t, errs[0], boom)
}

func TestEmit_PanicIsolation(t *testing.T) {
	sink := &errorSink{}
	d := New(WithErrorHandler(sink.handle))
	var log callLog
	d.On("t", panicking("kaboom"), WithPriority(1))
	d.Once("t", log.listener("after"))

	assert.NotPanics(t, func() {
		d.Emit(context.Background(), "t", nil)
	})

	assert.Equal(t, []string{"after"}, log.names(), "later once listeners still run")

	errs := sink.all()
	require.Len(t, errs, 1)
	var pe *PanicError
	require.ErrorAs(t, errs[0], &pe)
	assert.Equal(t, "kaboom", pe.Value)
	assert.NotEmpty(t, pe.Stack)
}

func TestEmit_DefaultErrorHandlerLogs(t *testing.T) {
	h := newTestLogHandler()
	d := New(WithLogger(slogNew(h)))
	d.On("t", failing(errors.New("boom")), WithNamespace("ns"))

	d.Emit(context.Background(), "t", nil)

	records := h.recordsWithMsg("event listener failed")
	require.Len(t, records, 1)
	assert.Equal(t, "t", records[0]["topic"])
	assert.Equal(t, "boom", records[0]["error"])
	assert.Equal(t, "ns", records[0]["namespace"])
}

func TestEmit_ErrorHandlerPanicIsContained(t *testing.T) {
	h := newTestLogHandler()
	d := New(WithLogger(slogNew(h)))
	d.SetErrorHandler(func(context.Context, error) { panic("handler bug") })
	var log callLog
	d.On("t", failing(errors.New("x")), WithPriority(1))
	d.On("t", log.listener("next"))

	assert.NotPanics(t, func() { d.Emit(context.Background(), "t", nil) })
	assert.Equal(t, []string{"next"}, log.names())
	assert.Len(t, h.recordsWithMsg("error handler panicked"), 1)
}

func TestEmit_Reentrant(t *testing.T) {
	d := New()
	var log callLog
	d.On("outer", func(ctx context.Context, _ any) error {
		log.listener("outer-1")(ctx, nil)
		d.On("outer", log.listener("late"))
		d.Emit(ctx, "inner", nil)
		return nil
	}, WithPriority(1))
	d.On("outer", log.listener("outer-2"))
	d.On("inner", log.listener("inner"))

	d.Emit(context.Background(), "outer", nil)

	assert.Equal(t, []string{"outer-1", "inner", "outer-2"}, log.names(),
		"listeners added mid-pass wait for the next emission")
	assert.Equal(t, 3, d.ListenerCount("outer"))
}

func TestEmit_RemovedMidPassIsSkipped(t *testing.T) {
	d := New()
	var log callLog
	var second ListenerID
	d.On("t", func(context.Context, any) error {
		d.Off("t", second)
		return nil
	}, WithPriority(1))
	second = d.On("t", log.listener("second"))

	d.Emit(context.Background(), "t", nil)

	assert.Empty(t, log.names())
}

func TestEmit_NoListeners(t *testing.T) {
	d := New()
	assert.NotPanics(t, func() {
		d.Emit(context.Background(), "nobody", nil)
		d.Emit(context.Background(), "", nil)
		d.Emit(nil, "nobody", nil) //nolint:staticcheck // nil context is tolerated
	})
}

func TestEmit_AfterClose(t *testing.T) {
	d := New()
	var log callLog
	d.On("t", log.listener("a"))
	require.NoError(t, d.Close())
	require.NoError(t, d.Close())

	d.Emit(context.Background(), "t", nil)

	assert.Empty(t, log.names())
	assert.Zero(t, d.TotalListenerCount())
}

func TestEmit_ContextPassedThrough(t *testing.T) {
	type key struct{}
	d := New()
	var got any
	d.On("t", func(ctx context.Context, _ any) error {
		got = ctx.Value(key{})
		return nil
	})

	d.Emit(context.WithValue(context.Background(), key{}, "v"), "t", nil)

	assert.Equal(t, "v", got)
}

func TestEmitAsync_Isolation(t *testing.T) {
	sink := &errorSink{}
	d := New(WithErrorHandler(sink.handle))
	var done atomic.Bool

	d.On("t", func(context.Context, any) error {
		time.Sleep(5 * time.Millisecond)
		return errors.New("rejected")
	})
	d.On("t", func(context.Context, any) error {
		time.Sleep(10 * time.Millisecond)
		done.Store(true)
		return nil
	})

	err := d.EmitAsync(context.Background(), "t", nil)

	require.NoError(t, err)
	assert.True(t, done.Load(), "resolving listener finished before EmitAsync returned")
	assert.Len(t, sink.all(), 1)
}

func TestEmitAsync_RunsConcurrently(t *testing.T) {
	d := New()
	const n = 4
	var started sync.WaitGroup
	started.Add(n)
	release := make(chan struct{})

	for range n {
		d.On("t", func(context.Context, any) error {
			started.Done()
			<-release
			return nil
		})
	}

	go func() {
		started.Wait()
		close(release)
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	assert.NoError(t, d.EmitAsync(ctx, "t", nil), "every listener started before any finished")
}

func TestEmitAsync_ConcurrencyLimit(t *testing.T) {
	d := New(WithAsyncConcurrency(2))
	var active, peak atomic.Int32

	for range 6 {
		d.On("t", func(context.Context, any) error {
			n := active.Add(1)
			for {
				p := peak.Load()
				if n <= p || peak.CompareAndSwap(p, n) {
					break
				}
			}
			time.Sleep(5 * time.Millisecond)
			active.Add(-1)
			return nil
		})
	}

	require.NoError(t, d.EmitAsync(context.Background(), "t", nil))
	assert.LessOrEqual(t, peak.Load(), int32(2))
}

func TestEmitAsync_Timeout(t *testing.T) {
	sink := &errorSink{}
	d := New(WithAsyncTimeout(10*time.Millisecond), WithErrorHandler(sink.handle))
	finished := make(chan struct{})
	var listenerErr error

	d.On("t", func(ctx context.Context, _ any) error {
		time.Sleep(50 * time.Millisecond)
		listenerErr = ctx.Err()
		close(finished)
		return errors.New("late failure")
	})

	err := d.EmitAsync(context.Background(), "t", nil)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	select {
	case <-finished:
	case <-time.After(2 * time.Second):
		t.Fatal("listener did not finish in the background")
	}
	assert.NoError(t, listenerErr, "listener context outlives the timeout")
	assert.Eventually(t, func() bool { return len(sink.all()) == 1 }, time.Second, 5*time.Millisecond)
}

func TestEmitAsync_CanceledContext(t *testing.T) {
	d := New()
	release := make(chan struct{})
	defer close(release)
	d.On("t", func(context.Context, any) error {
		<-release
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.ErrorIs(t, d.EmitAsync(ctx, "t", nil), context.Canceled)
}

func TestEmitAsync_Closed(t *testing.T) {
	d := New()
	require.NoError(t, d.Close())
	assert.ErrorIs(t, d.EmitAsync(context.Background(), "t", nil), ErrClosed)
}

func TestEmitAsync_OnceAndWildcards(t *testing.T) {
	d := New()
	var calls atomic.Int32
	count := func(context.Context, any) error {
		calls.Add(1)
		return nil
	}
	d.Once("user:login", count)
	d.On("user:*", count)

	ctx := context.Background()
	require.NoError(t, d.EmitAsync(ctx, "user:login", nil))
	require.NoError(t, d.EmitAsync(ctx, "user:login", nil))

	assert.Equal(t, int32(3), calls.Load())
	assert.Zero(t, d.ListenerCount("user:login"))
}

func TestEmitAsync_NoListeners(t *testing.T) {
	d := New()
	assert.NoError(t, d.EmitAsync(context.Background(), "nobody", nil))
	assert.NoError(t, d.EmitAsync(context.Background(), "", nil))
}
