package emitter

import (
	"context"
	"runtime/debug"
)

// Interceptor runs before listeners on every emission. It returns the
// payload to continue with, or false to abort the emission: no listener
// runs and nothing is recorded in history.
type Interceptor func(topic string, payload any) (any, bool)

// Stage is one step of a topic pipeline.
type Stage func(payload any) (any, error)

// Intercept appends fn to the global interceptor chain.
// A panicking interceptor is reported and skipped; the payload it
// received continues down the chain.
//
// Example:
//
//	d.Intercept(func(topic string, p any) (any, bool) {
//	    return p, topic != "debug:trace" || verbose
//	})
func (d *Dispatcher) Intercept(fn Interceptor) *Dispatcher {
	if fn == nil {
		return d
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.closed {
		d.interceptors = append(d.interceptors, fn)
	}
	return d
}

// Pipe appends stages to topic's pipeline. Stages run in order after the
// interceptors, each receiving the previous stage's output. If a stage fails,
// the emission is suppressed: no listener runs and nothing is recorded.
//
// Example:
//
//	d.Pipe("chat:message", trimSpace, censor)
func (d *Dispatcher) Pipe(topic string, stages ...Stage) *Dispatcher {
	if topic == "" || len(stages) == 0 {
		return d
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return d
	}
	for _, s := range stages {
		if s != nil {
			d.pipelines[topic] = append(d.pipelines[topic], s)
		}
	}
	return d
}

// Unpipe removes topic's pipeline.
func (d *Dispatcher) Unpipe(topic string) *Dispatcher {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.pipelines, topic)
	return d
}

// runInterceptors threads payload through the chain.
// Returns false if an interceptor vetoed the emission.
func (d *Dispatcher) runInterceptors(ctx context.Context, topic string, chain []Interceptor, payload any) (any, bool) {
	for i, fn := range chain {
		next, ok, err := callInterceptor(fn, topic, payload)
		if err != nil {
			d.report(ctx, &InterceptorError{Topic: topic, Index: i, Err: err})
			continue
		}
		if !ok {
			return nil, false
		}
		payload = next
	}
	return payload, true
}

func callInterceptor(fn Interceptor, topic string, payload any) (next any, ok bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &PanicError{Value: r, Stack: string(debug.Stack())}
		}
	}()
	next, ok = fn(topic, payload)
	return next, ok, nil
}

// runPipeline threads payload through stages.
func runPipeline(topic string, stages []Stage, payload any) (any, error) {
	for i, stage := range stages {
		next, err := callStage(stage, payload)
		if err != nil {
			return nil, &PipelineError{Topic: topic, Stage: i, Err: err}
		}
		payload = next
	}
	return payload, nil
}

func callStage(stage Stage, payload any) (next any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &PanicError{Value: r, Stack: string(debug.Stack())}
		}
	}()
	return stage(payload)
}
