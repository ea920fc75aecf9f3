/*
Package emitter provides an in-process publish/subscribe dispatcher.

# Overview

A Dispatcher maps topic names to ordered listener lists. Listeners run in
descending priority order, ties in registration order. Topics ending in
"*" are prefix patterns: "*" receives every emission and "user:*" receives
every topic starting with "user:". For one emission, exact-topic listeners
always run before pattern listeners.

The dispatcher never lets one listener break another. A listener that
returns an error or panics is reported to the error handler and the
remaining listeners still run. Neither Emit nor EmitAsync surface listener
failures to the caller.

# Basic Usage

	d := emitter.New()
	defer d.Close()

	d.On("user:login", func(ctx context.Context, p any) error {
	    fmt.Println("welcome", p.(User).Name)
	    return nil
	}, emitter.WithPriority(10))

	d.Once("user:*", func(ctx context.Context, p any) error {
	    fmt.Println("first user event")
	    return nil
	})

	d.Emit(ctx, "user:login", User{Name: "ada"})

# Typed Topics

Topic[T] binds a name to its payload type so handlers need no assertions:

	var Login = emitter.NewTopic[User]("user:login")

	emitter.Subscribe(d, Login, func(ctx context.Context, u User) error {
	    return audit.Record(u.ID)
	})
	emitter.Publish(ctx, d, Login, User{ID: 7})

# Interceptors and Pipelines

Interceptors run on every emission before any listener and may rewrite the
payload or veto the emission. Pipelines are per-topic transform chains; a
failing stage suppresses the emission entirely.

	d.Intercept(func(topic string, p any) (any, bool) {
	    return p, !muted[topic]
	})
	d.Pipe("chat:message", trim, censor)

# Asynchronous Delivery

EmitAsync runs every matching listener in its own goroutine and waits for
all of them. WithAsyncTimeout bounds the wait without cancelling listeners.

# Diagnostics

History records delivered emissions in a bounded ring. DetectMemoryLeaks
lists topics with more listeners than a threshold, and registrations above
the max-listeners limit log a warning. Performance monitoring keeps
per-topic counts and durations.

# Observability

Structured logging uses log/slog. Metrics and tracing are opt-in:

	d := emitter.New(
	    emitter.WithLogger(logger),
	    emitter.WithMetrics(observability.NewMetricsRecorder()),
	    emitter.WithTracing(observability.NewSpanManager()),
	)

# Thread Safety

A Dispatcher is safe for concurrent use. Listeners run without the
dispatcher's lock held, so a listener may register, remove or emit on the
dispatcher that invoked it.
*/
package emitter
