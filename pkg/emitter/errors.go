package emitter

import (
	"errors"
	"fmt"
)

// Sentinel errors.
var (
	// ErrClosed indicates the dispatcher was closed.
	ErrClosed = errors.New("dispatcher closed")

	// ErrVetoed indicates an interceptor aborted an emission.
	// It is never returned to callers or passed to the error handler; it
	// marks the emission span with an "emission.vetoed" event.
	ErrVetoed = errors.New("emission vetoed by interceptor")
)

// ListenerError wraps a failure returned or raised by a listener.
type ListenerError struct {
	// Topic is the emitted topic.
	Topic string
	// ListenerID identifies the failing registration.
	ListenerID ListenerID
	// Namespace is the listener's namespace, if any.
	Namespace string
	// Err is the underlying error. A recovered panic is a *PanicError.
	Err error
}

// Error implements the error interface.
func (e *ListenerError) Error() string {
	return fmt.Sprintf("listener %d on %s: %v", e.ListenerID, e.Topic, e.Err)
}

// Unwrap returns the underlying error for errors.Is/As support.
func (e *ListenerError) Unwrap() error {
	return e.Err
}

// InterceptorError wraps a panic raised by an interceptor.
// Dispatch continued with the payload the interceptor received.
type InterceptorError struct {
	// Topic is the emitted topic.
	Topic string
	// Index is the interceptor's registration position.
	Index int
	// Err is the underlying error.
	Err error
}

// Error implements the error interface.
func (e *InterceptorError) Error() string {
	return fmt.Sprintf("interceptor %d on %s: %v", e.Index, e.Topic, e.Err)
}

// Unwrap returns the underlying error for errors.Is/As support.
func (e *InterceptorError) Unwrap() error {
	return e.Err
}

// PipelineError wraps a failed pipeline stage.
// The emission was suppressed.
type PipelineError struct {
	// Topic is the emitted topic.
	Topic string
	// Stage is the failing stage's position in the pipeline.
	Stage int
	// Err is the underlying error.
	Err error
}

// Error implements the error interface.
func (e *PipelineError) Error() string {
	return fmt.Sprintf("pipeline stage %d on %s: %v", e.Stage, e.Topic, e.Err)
}

// Unwrap returns the underlying error for errors.Is/As support.
func (e *PipelineError) Unwrap() error {
	return e.Err
}

// PanicError captures a recovered panic.
// It includes the stack trace for debugging.
type PanicError struct {
	// Value is the value passed to panic().
	Value any
	// Stack is the full stack trace at the point of panic.
	Stack string
}

// Error implements the error interface.
func (e *PanicError) Error() string {
	return fmt.Sprintf("panic: %v", e.Value)
}

// PayloadTypeError reports a payload that does not match a typed topic.
type PayloadTypeError struct {
	// Topic is the emitted topic.
	Topic string
	// Want is the type the handler expects.
	Want string
	// Got is the dynamic type of the payload.
	Got string
}

// Error implements the error interface.
func (e *PayloadTypeError) Error() string {
	return fmt.Sprintf("topic %s: payload is %s, want %s", e.Topic, e.Got, e.Want)
}
