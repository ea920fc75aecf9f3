package emitter

import (
	"context"
	"errors"
	"log/slog"
	"runtime/debug"
	"sync/atomic"

	"github.com/sourcegraph/conc/pool"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/randalmurphal/emitter/pkg/emitter/observability"
)

// pass is the immutable view one emission dispatches over.
type pass struct {
	topic        string
	exact        []*listener
	wild         []*listener
	interceptors []Interceptor
	pipeline     []Stage
	record       bool
}

func (p *pass) empty() bool {
	return len(p.exact) == 0 && len(p.wild) == 0
}

// resolveLocked snapshots everything an emission of topic needs.
func (d *Dispatcher) resolveLocked(topic string) pass {
	p := pass{
		topic:        topic,
		interceptors: d.interceptors,
		pipeline:     d.pipelines[topic],
		record:       d.history.enabled,
	}
	if e := d.topics[topic]; e != nil {
		e.ensureSorted()
		p.exact = e.listeners
	}
	p.wild = d.matchingWildcardsLocked(topic)
	return p
}

// Emit delivers payload to every listener of topic and every matching
// wildcard listener, synchronously and in priority order. Failures go to
// the error handler; Emit itself never fails or panics on their account.
//
// While a batch is open the emission is queued instead.
//
// Example:
//
//	d.Emit(ctx, "user:login", User{ID: 42})
func (d *Dispatcher) Emit(ctx context.Context, topic string, payload any) {
	if ctx == nil {
		ctx = context.Background()
	}

	d.mu.Lock()
	if d.closed || topic == "" {
		d.mu.Unlock()
		return
	}
	if d.batchDepth > 0 {
		d.queue = append(d.queue, queued{ctx: ctx, topic: topic, payload: payload})
		d.mu.Unlock()
		return
	}
	if !d.history.enabled && len(d.wildcards.listeners) == 0 {
		e := d.topics[topic]
		if e == nil {
			d.mu.Unlock()
			return
		}
		if len(e.listeners) == 1 && len(d.interceptors) == 0 && len(d.pipelines[topic]) == 0 &&
			!d.opts.monitoring && !d.opts.instrumented {
			l := e.listeners[0]
			d.mu.Unlock()
			d.invokeDirect(ctx, topic, l, payload)
			return
		}
	}
	p := d.resolveLocked(topic)
	d.mu.Unlock()

	if p.empty() && !p.record {
		return
	}
	d.deliver(ctx, &p, payload, observability.ModeSync)
}

// EmitAsync delivers payload to every matching listener concurrently and
// waits for all of them. Listener failures go to the error handler and do
// not fail the call.
//
// EmitAsync returns ErrClosed if the dispatcher is closed, or the context
// error if ctx ends or the configured async timeout expires first. Listeners
// still running at that point finish in the background.
func (d *Dispatcher) EmitAsync(ctx context.Context, topic string, payload any) error {
	if ctx == nil {
		ctx = context.Background()
	}

	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return ErrClosed
	}
	if topic == "" {
		d.mu.Unlock()
		return nil
	}
	p := d.resolveLocked(topic)
	limit, timeout := d.opts.asyncConcurrency, d.opts.asyncTimeout
	d.mu.Unlock()

	if p.empty() && !p.record {
		return nil
	}

	timer := observability.TimedOperation()
	spanCtx, span := d.opts.spans.StartEmitSpan(ctx, topic, observability.ModeAsync)
	payload, err := d.prepare(spanCtx, &p, payload)
	if err != nil {
		d.endSpan(spanCtx, span, err)
		return nil
	}

	targets, fired := claimAll(&p)
	d.mu.Lock()
	d.removeFiredLocked(fired...)
	if !d.closed && p.record {
		d.recordLocked(topic, payload)
	}
	d.mu.Unlock()

	listenerCtx := context.WithoutCancel(spanCtx)
	done := make(chan struct{})
	go func() {
		defer close(done)

		var failures atomic.Int64
		workers := pool.New()
		if limit > 0 {
			workers = workers.WithMaxGoroutines(limit)
		}
		for _, l := range targets {
			workers.Go(func() {
				if !d.invoke(listenerCtx, topic, l, payload) {
					failures.Add(1)
				}
			})
		}
		workers.Wait()

		elapsed := timer()
		d.mu.Lock()
		d.statLocked(topic, len(targets), int(failures.Load()), elapsed)
		d.mu.Unlock()
		d.opts.metrics.RecordEmit(listenerCtx, topic, observability.ModeAsync, len(targets), elapsed)
		d.opts.spans.EndSpanWithError(span, nil)
	}()

	wait := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		wait, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	select {
	case <-done:
		return nil
	case <-wait.Done():
		return wait.Err()
	}
}

// deliver runs one synchronous pass.
func (d *Dispatcher) deliver(ctx context.Context, p *pass, payload any, mode string) {
	timer := observability.TimedOperation()
	ctx, span := d.opts.spans.StartEmitSpan(ctx, p.topic, mode)

	payload, err := d.prepare(ctx, p, payload)
	if err != nil {
		d.endSpan(ctx, span, err)
		return
	}

	var calls, failures int
	var fired []*listener
	for _, list := range [2][]*listener{p.exact, p.wild} {
		for _, l := range list {
			if !claim(l) {
				continue
			}
			if l.once {
				fired = append(fired, l)
			}
			calls++
			if !d.invoke(ctx, p.topic, l, payload) {
				failures++
			}
		}
	}

	elapsed := timer()
	d.mu.Lock()
	d.removeFiredLocked(fired...)
	if !d.closed && p.record {
		d.recordLocked(p.topic, payload)
	}
	d.statLocked(p.topic, calls, failures, elapsed)
	d.mu.Unlock()

	d.opts.metrics.RecordEmit(ctx, p.topic, mode, calls, elapsed)
	d.opts.spans.EndSpanWithError(span, nil)
	observability.LogEmit(d.logger, p.topic, calls, observability.Milliseconds(elapsed))
}

// prepare runs the interceptor chain and the topic pipeline.
// Returns ErrVetoed or a *PipelineError if the emission must be suppressed.
func (d *Dispatcher) prepare(ctx context.Context, p *pass, payload any) (any, error) {
	payload, ok := d.runInterceptors(ctx, p.topic, p.interceptors, payload)
	if !ok {
		d.opts.metrics.RecordSuppressed(ctx, p.topic, "veto")
		return nil, ErrVetoed
	}
	if len(p.pipeline) == 0 {
		return payload, nil
	}
	out, err := runPipeline(p.topic, p.pipeline, payload)
	if err != nil {
		d.report(ctx, err)
		d.opts.metrics.RecordSuppressed(ctx, p.topic, "pipeline")
		return nil, err
	}
	return out, nil
}

// endSpan closes the span of a suppressed emission.
func (d *Dispatcher) endSpan(ctx context.Context, span trace.Span, err error) {
	if errors.Is(err, ErrVetoed) {
		d.opts.spans.AddSpanEvent(ctx, "emission.vetoed")
		err = nil
	}
	d.opts.spans.EndSpanWithError(span, err)
}

// invokeDirect is the single-listener path. It allocates nothing unless
// the listener is a once listener.
func (d *Dispatcher) invokeDirect(ctx context.Context, topic string, l *listener, payload any) {
	if !claim(l) {
		return
	}
	d.invoke(ctx, topic, l, payload)
	if l.once {
		d.mu.Lock()
		d.removeFiredLocked(l)
		d.mu.Unlock()
	}
}

// claim reports whether l may run in the current pass.
func claim(l *listener) bool {
	if l.removed.Load() {
		return false
	}
	if l.once && !l.fired.CompareAndSwap(false, true) {
		return false
	}
	return true
}

// claimAll claims every listener of p, exact first.
func claimAll(p *pass) (targets, fired []*listener) {
	targets = make([]*listener, 0, len(p.exact)+len(p.wild))
	for _, list := range [2][]*listener{p.exact, p.wild} {
		for _, l := range list {
			if !claim(l) {
				continue
			}
			targets = append(targets, l)
			if l.once {
				fired = append(fired, l)
			}
		}
	}
	return targets, fired
}

// invoke calls one listener and reports its failure.
// Returns false if the listener failed.
func (d *Dispatcher) invoke(ctx context.Context, topic string, l *listener, payload any) bool {
	err := callListener(ctx, l.fn, payload)
	if err == nil {
		return true
	}
	d.report(ctx, &ListenerError{
		Topic:      topic,
		ListenerID: l.id,
		Namespace:  l.namespace,
		Err:        err,
	})
	return false
}

func callListener(ctx context.Context, fn Listener, payload any) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &PanicError{Value: r, Stack: string(debug.Stack())}
		}
	}()
	return fn(ctx, payload)
}

// removeFiredLocked drops once listeners after they ran.
func (d *Dispatcher) removeFiredLocked(fired ...*listener) {
	for _, l := range fired {
		if l.removed.Load() {
			continue
		}
		e := d.entryLocked(l.topic, false)
		if e == nil {
			continue
		}
		d.retireLocked(e.filter(func(x *listener) bool { return x == l }))
		d.pruneLocked(l.topic)
	}
}

// report routes a failure to metrics, the active span and the error handler.
func (d *Dispatcher) report(ctx context.Context, err error) {
	d.opts.metrics.RecordListenerFailure(ctx, topicOf(err), failureKind(err))
	d.opts.spans.AddSpanEvent(ctx, "emission.failure", attribute.String("error", err.Error()))

	d.mu.Lock()
	h := d.errorHandler
	d.mu.Unlock()

	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("error handler panicked",
				slog.Any("panic", r),
				slog.String("error", err.Error()),
			)
		}
	}()
	h(ctx, err)
}

// logFailure is the default error handler.
func (d *Dispatcher) logFailure(_ context.Context, err error) {
	var (
		le *ListenerError
		ie *InterceptorError
		pe *PipelineError
	)
	switch {
	case errors.As(err, &le):
		observability.LogListenerError(d.logger, le.Topic, uint64(le.ListenerID), le.Namespace, le.Err)
	case errors.As(err, &ie):
		observability.LogInterceptorError(d.logger, ie.Topic, ie.Index, ie.Err)
	case errors.As(err, &pe):
		observability.LogPipelineError(d.logger, pe.Topic, pe.Stage, pe.Err)
	default:
		d.logger.Error("event dispatch failed", slog.String("error", err.Error()))
	}
}

func failureKind(err error) string {
	var (
		ie *InterceptorError
		pe *PipelineError
	)
	switch {
	case errors.As(err, &ie):
		return observability.FailureInterceptor
	case errors.As(err, &pe):
		return observability.FailurePipeline
	default:
		return observability.FailureListener
	}
}

func topicOf(err error) string {
	var (
		le *ListenerError
		ie *InterceptorError
		pe *PipelineError
	)
	switch {
	case errors.As(err, &le):
		return le.Topic
	case errors.As(err, &ie):
		return ie.Topic
	case errors.As(err, &pe):
		return pe.Topic
	}
	return ""
}
