package emitter

import (
	"context"
	"fmt"
	"reflect"
)

// Topic is a topic name bound to its payload type.
//
// Example:
//
//	var BatteryChanged = emitter.NewTopic[BatteryState]("device:battery")
//
//	emitter.Subscribe(d, BatteryChanged, func(ctx context.Context, s BatteryState) error {
//	    return ui.ShowLevel(s.Level)
//	})
//	emitter.Publish(ctx, d, BatteryChanged, BatteryState{Level: 0.8})
type Topic[T any] string

// NewTopic declares a typed topic.
func NewTopic[T any](name string) Topic[T] {
	return Topic[T](name)
}

// Name returns the topic string.
func (t Topic[T]) Name() string {
	return string(t)
}

// Subscribe registers a typed listener. A payload of another type reaching
// it is reported as a *PayloadTypeError listener failure.
func Subscribe[T any](d *Dispatcher, topic Topic[T], fn func(ctx context.Context, payload T) error, opts ...ListenerOption) ListenerID {
	if fn == nil {
		return 0
	}
	name := string(topic)
	return d.On(name, func(ctx context.Context, payload any) error {
		v, err := assertPayload[T](name, payload)
		if err != nil {
			return err
		}
		return fn(ctx, v)
	}, opts...)
}

// SubscribeOnce registers a typed listener that runs at most once.
func SubscribeOnce[T any](d *Dispatcher, topic Topic[T], fn func(ctx context.Context, payload T) error, opts ...ListenerOption) ListenerID {
	return Subscribe(d, topic, fn, append(opts, WithOnce())...)
}

// Publish emits a typed payload synchronously.
func Publish[T any](ctx context.Context, d *Dispatcher, topic Topic[T], payload T) {
	d.Emit(ctx, string(topic), payload)
}

// PublishAsync emits a typed payload to all listeners concurrently.
func PublishAsync[T any](ctx context.Context, d *Dispatcher, topic Topic[T], payload T) error {
	return d.EmitAsync(ctx, string(topic), payload)
}

// PipeTyped appends typed stages to the topic's pipeline.
func PipeTyped[T any](d *Dispatcher, topic Topic[T], stages ...func(T) (T, error)) *Dispatcher {
	name := string(topic)
	wrapped := make([]Stage, 0, len(stages))
	for _, stage := range stages {
		if stage == nil {
			continue
		}
		wrapped = append(wrapped, func(payload any) (any, error) {
			v, err := assertPayload[T](name, payload)
			if err != nil {
				return nil, err
			}
			return stage(v)
		})
	}
	return d.Pipe(name, wrapped...)
}

// assertPayload converts payload to T. A nil payload becomes the zero
// value when T is nilable.
func assertPayload[T any](topic string, payload any) (T, error) {
	if v, ok := payload.(T); ok {
		return v, nil
	}
	var zero T
	want := reflect.TypeFor[T]()
	if payload == nil && nilable(want) {
		return zero, nil
	}
	return zero, &PayloadTypeError{
		Topic: topic,
		Want:  want.String(),
		Got:   fmt.Sprintf("%T", payload),
	}
}

func nilable(t reflect.Type) bool {
	switch t.Kind() {
	case reflect.Pointer, reflect.Interface, reflect.Map, reflect.Slice, reflect.Func, reflect.Chan:
		return true
	}
	return false
}
