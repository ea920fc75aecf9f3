package emitter

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/randalmurphal/emitter/pkg/emitter/observability"
)

// Listener handles one emitted payload. A returned error or a panic is a
// listener failure: it is routed to the error handler and never stops
// other listeners.
type Listener func(ctx context.Context, payload any) error

// ListenerID identifies one registration. The zero value is never issued.
type ListenerID uint64

// ErrorHandler receives every listener, interceptor and pipeline failure.
// err is a *ListenerError, *InterceptorError or *PipelineError.
type ErrorHandler func(ctx context.Context, err error)

// ListenerInfo is a read-only view of a registration.
type ListenerInfo struct {
	ID        ListenerID
	Topic     string
	Priority  int
	Once      bool
	Namespace string
}

// listener is a registration record.
type listener struct {
	id        ListenerID
	topic     string
	fn        Listener
	priority  int
	once      bool
	namespace string
	seq       uint64

	// fired guards once listeners against a second invocation.
	fired atomic.Bool
	// removed makes in-flight passes skip the record.
	removed atomic.Bool
}

func (l *listener) info() ListenerInfo {
	return ListenerInfo{
		ID:        l.id,
		Topic:     l.topic,
		Priority:  l.priority,
		Once:      l.once,
		Namespace: l.namespace,
	}
}

// Dispatcher is an in-process publish/subscribe engine.
//
// Listeners run in descending priority order, ties in registration order.
// Exact-topic listeners run before wildcard listeners. A Dispatcher is safe
// for concurrent use and listeners may emit on the dispatcher that invoked them.
type Dispatcher struct {
	id     string
	opts   options
	logger *slog.Logger

	mu           sync.Mutex
	topics       map[string]*topicEntry
	wildcards    *topicEntry
	namespaces   map[string]int
	interceptors []Interceptor
	pipelines    map[string][]Stage
	history      ring
	stats        map[string]*TopicMetrics
	batchDepth   int
	queue        []queued
	errorHandler ErrorHandler
	warnLimiter  *rate.Limiter
	closed       bool

	nextID  atomic.Uint64
	nextSeq uint64
}

// New creates an empty dispatcher.
//
// Example:
//
//	d := emitter.New(
//	    emitter.WithLogger(logger),
//	    emitter.WithHistory(200),
//	)
//	defer d.Close()
func New(opts ...Option) *Dispatcher {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}

	id := uuid.New().String()
	logger := o.logger
	if logger == nil {
		logger = slog.Default()
	}

	d := &Dispatcher{
		id:          id,
		opts:        o,
		logger:      observability.EnrichLogger(logger, id),
		topics:      make(map[string]*topicEntry),
		wildcards:   &topicEntry{sorted: true},
		namespaces:  make(map[string]int),
		pipelines:   make(map[string][]Stage),
		stats:       make(map[string]*TopicMetrics),
		warnLimiter: newWarnLimiter(o.warnInterval),
	}
	d.errorHandler = o.errorHandler
	if d.errorHandler == nil {
		d.errorHandler = d.logFailure
	}
	if o.historyEnabled {
		d.history.enable(o.historySize)
	}
	return d
}

func newWarnLimiter(interval time.Duration) *rate.Limiter {
	if interval <= 0 {
		return rate.NewLimiter(rate.Inf, 1)
	}
	return rate.NewLimiter(rate.Every(interval), 1)
}

// ID returns the dispatcher's unique identifier.
func (d *Dispatcher) ID() string {
	return d.id
}

// Close releases every listener, interceptor, pipeline and history entry.
// Later registrations return 0, Emit does nothing and EmitAsync returns
// ErrClosed. Listeners already running are not interrupted.
func (d *Dispatcher) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return nil
	}
	d.closed = true

	for _, e := range d.topics {
		for _, l := range e.listeners {
			l.removed.Store(true)
		}
	}
	for _, l := range d.wildcards.listeners {
		l.removed.Store(true)
	}

	d.topics = make(map[string]*topicEntry)
	d.wildcards = &topicEntry{sorted: true}
	d.namespaces = make(map[string]int)
	d.interceptors = nil
	d.pipelines = make(map[string][]Stage)
	d.history.clear()
	d.queue = nil
	d.batchDepth = 0
	return nil
}
