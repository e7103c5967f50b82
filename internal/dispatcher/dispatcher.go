// Package dispatcher routes battle lifecycle events to their consumers.
// Handlers run inline or behind a bounded queue, so a hung sink delays turn
// resolution by at most its queue timeout.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/OCAP2/arena/internal/channel"
)

// Event kinds published by the battle scheduler.
const (
	KindBattleStarted = ":BATTLE:STARTED:"
	KindRoundStarted  = ":ROUND:STARTED:"
	KindTurnEnded     = ":TURN:ENDED:"
	KindRobotDeath    = ":ROBOT:DEATH:"
	KindBadBehavior   = ":BAD:BEHAVIOR:"
	KindRoundEnded    = ":ROUND:ENDED:"
	KindBattleEnded   = ":BATTLE:ENDED:"
)

// ErrUnknownKind is returned by Dispatch when nothing handles the event.
var ErrUnknownKind = errors.New("unknown event kind")

// ErrClosed is returned by Dispatch after Close.
var ErrClosed = errors.New("dispatcher closed")

// ErrQueueFull is returned when an event could not be queued in time.
var ErrQueueFull = errors.New("queue full")

// DefaultQueueTimeout is how long an ordered dispatch waits for room in a
// full queue before dropping the event.
const DefaultQueueTimeout = 5 * time.Second

// Event is one notification from the battle.
type Event struct {
	Kind      string
	Round     int32
	Turn      int32
	Payload   any
	Timestamp time.Time
}

// HandlerFunc processes an event and returns a result.
type HandlerFunc func(Event) (any, error)

// Logger interface for pluggable logging.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

// Option configures handler registration.
type Option func(*config)

type config struct {
	bufferSize int
	blocking   bool
	logged     bool
	group      string
	timeout    time.Duration
}

// Buffered makes the handler async with a queue of the given size.
func Buffered(size int) Option {
	return func(c *config) {
		c.bufferSize = size
	}
}

// Blocking makes a buffered handler block when the queue is full instead of dropping.
func Blocking() Option {
	return func(c *config) {
		c.blocking = true
	}
}

// Ordered makes the handler async on a queue shared by every kind
// registered under the same group. One worker drains the queue, so handlers
// in a group observe events in dispatch order. A dispatch into a full group
// waits up to the queue timeout, then drops the event. The size and timeout
// of the first registration win.
func Ordered(group string, size int) Option {
	return func(c *config) {
		c.group = group
		c.bufferSize = size
	}
}

// QueueTimeout bounds how long an ordered dispatch waits for room.
// Without it DefaultQueueTimeout applies.
func QueueTimeout(d time.Duration) Option {
	return func(c *config) {
		c.timeout = d
	}
}

// Logged adds debug logging to the handler.
func Logged() Option {
	return func(c *config) {
		c.logged = true
	}
}

// Dispatcher routes events to registered handlers.
type Dispatcher struct {
	handlers map[string]HandlerFunc
	logger   Logger

	// OTEL metrics
	queueSize metric.Int64ObservableGauge
	processed metric.Int64Counter
	dropped   metric.Int64Counter

	// Track buffers for gauge callback and shutdown
	mu      sync.RWMutex
	buffers []kindBuffer
	groups  map[string]*group
	closed  bool
	workers sync.WaitGroup
}

type group struct {
	buf      channel.Channel[Event]
	timeout  time.Duration
	mu       sync.RWMutex
	handlers map[string]HandlerFunc
}

type kindBuffer struct {
	kind string
	buf  channel.Channel[Event]
}

// New creates a new Dispatcher with the given logger.
// Uses the global OTel meter for metrics (no-op if not configured).
func New(logger Logger) (*Dispatcher, error) {
	if logger == nil {
		logger = nopLogger{}
	}
	d := &Dispatcher{
		handlers: make(map[string]HandlerFunc),
		groups:   make(map[string]*group),
		logger:   logger,
	}

	m := meter()

	var err error

	d.queueSize, err = m.Int64ObservableGauge(
		"dispatcher.queue.size",
		metric.WithDescription("Current number of events in queue"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating queue size gauge: %w", err)
	}

	_, err = m.RegisterCallback(
		func(ctx context.Context, o metric.Observer) error {
			d.mu.RLock()
			defer d.mu.RUnlock()
			for _, b := range d.buffers {
				o.ObserveInt64(d.queueSize, int64(b.buf.Len()),
					metric.WithAttributes(attribute.String("kind", b.kind)))
			}
			return nil
		},
		d.queueSize,
	)
	if err != nil {
		return nil, fmt.Errorf("registering queue callback: %w", err)
	}

	d.processed, err = m.Int64Counter(
		"dispatcher.events.processed",
		metric.WithDescription("Total events processed"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating processed counter: %w", err)
	}

	d.dropped, err = m.Int64Counter(
		"dispatcher.events.dropped",
		metric.WithDescription("Total events dropped due to full queue"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating dropped counter: %w", err)
	}

	return d, nil
}

// Register adds a handler for the given kind with optional configuration.
// Registering a kind twice chains the handlers in registration order; the
// last handler's result is returned.
func (d *Dispatcher) Register(kind string, h HandlerFunc, opts ...Option) {
	cfg := &config{}
	for _, opt := range opts {
		opt(cfg)
	}

	handler := h

	if cfg.logged && cfg.group != "" {
		handler = d.withLogging(kind, handler)
	}

	switch {
	case cfg.group != "":
		enqueue, existed := d.withGroup(kind, cfg.group, cfg.bufferSize, cfg.timeout, handler)
		if existed {
			return
		}
		handler = enqueue
	case cfg.bufferSize > 0:
		handler = d.withBuffer(kind, cfg.bufferSize, cfg.blocking, handler)
	}

	if cfg.logged && cfg.group == "" {
		handler = d.withLogging(kind, handler)
	}

	if prev, ok := d.handlers[kind]; ok {
		next := handler
		handler = func(e Event) (any, error) {
			_, errPrev := prev(e)
			result, err := next(e)
			return result, errors.Join(errPrev, err)
		}
	}

	d.handlers[kind] = handler
}

// Dispatch routes an event to its registered handler.
func (d *Dispatcher) Dispatch(e Event) (any, error) {
	h, ok := d.handlers[e.Kind]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownKind, e.Kind)
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}
	return h(e)
}

// HasHandler returns true if a handler is registered for the kind.
func (d *Dispatcher) HasHandler(kind string) bool {
	_, ok := d.handlers[kind]
	return ok
}

// Close stops accepting events and waits until every buffered handler has
// drained its queue.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	for _, b := range d.buffers {
		b.buf.Close()
	}
	d.mu.Unlock()

	d.workers.Wait()
}

func (d *Dispatcher) withBuffer(kind string, size int, blocking bool, h HandlerFunc) HandlerFunc {
	buffer := channel.New[Event](size)

	d.mu.Lock()
	d.buffers = append(d.buffers, kindBuffer{kind: kind, buf: buffer})
	d.mu.Unlock()

	kindAttr := attribute.String("kind", kind)

	d.workers.Add(1)
	go func() {
		defer d.workers.Done()
		for e := range buffer.Receive() {
			if _, err := h(e); err != nil {
				d.logger.Error("buffered handler failed", "kind", kind, "error", err)
			}
			d.processed.Add(context.Background(), 1, metric.WithAttributes(kindAttr))
		}
	}()

	if blocking {
		return func(e Event) (any, error) {
			d.mu.RLock()
			defer d.mu.RUnlock()
			if d.closed {
				return nil, ErrClosed
			}
			buffer.Send(e)
			return "queued", nil
		}
	}

	return func(e Event) (any, error) {
		d.mu.RLock()
		defer d.mu.RUnlock()
		if d.closed {
			return nil, ErrClosed
		}
		if !buffer.TrySend(e) {
			d.dropped.Add(context.Background(), 1, metric.WithAttributes(kindAttr))
			return nil, fmt.Errorf("%w: %s", ErrQueueFull, kind)
		}
		return "queued", nil
	}
}

// withGroup adds h to the group's routing table and returns the enqueue
// function for kind. existed reports that kind was already routed through
// the group, in which case h was chained onto the previous handler.
func (d *Dispatcher) withGroup(kind, name string, size int, timeout time.Duration, h HandlerFunc) (enqueue HandlerFunc, existed bool) {
	if timeout <= 0 {
		timeout = DefaultQueueTimeout
	}
	d.mu.Lock()
	g, ok := d.groups[name]
	if !ok {
		g = &group{buf: channel.New[Event](size), timeout: timeout, handlers: make(map[string]HandlerFunc)}
		d.groups[name] = g
		d.buffers = append(d.buffers, kindBuffer{kind: name, buf: g.buf})
		d.startGroup(name, g)
	}
	d.mu.Unlock()

	g.mu.Lock()
	if prev, ok := g.handlers[kind]; ok {
		next := h
		h = func(e Event) (any, error) {
			_, errPrev := prev(e)
			result, err := next(e)
			return result, errors.Join(errPrev, err)
		}
		existed = true
	}
	g.handlers[kind] = h
	g.mu.Unlock()

	groupAttr := attribute.String("kind", name)

	return func(e Event) (any, error) {
		d.mu.RLock()
		defer d.mu.RUnlock()
		if d.closed {
			return nil, ErrClosed
		}
		if !g.buf.SendTimeout(e, g.timeout) {
			d.dropped.Add(context.Background(), 1, metric.WithAttributes(groupAttr))
			d.logger.Error("ordered queue full, event dropped", "group", name, "kind", e.Kind, "round", e.Round, "turn", e.Turn, "waited", g.timeout)
			return nil, fmt.Errorf("%w: %s", ErrQueueFull, name)
		}
		return "queued", nil
	}, existed
}

func (d *Dispatcher) startGroup(name string, g *group) {
	groupAttr := attribute.String("kind", name)

	d.workers.Add(1)
	go func() {
		defer d.workers.Done()
		for e := range g.buf.Receive() {
			g.mu.RLock()
			h := g.handlers[e.Kind]
			g.mu.RUnlock()
			if h == nil {
				continue
			}
			if _, err := h(e); err != nil {
				d.logger.Error("ordered handler failed", "group", name, "kind", e.Kind, "error", err)
			}
			d.processed.Add(context.Background(), 1, metric.WithAttributes(groupAttr))
		}
	}()
}

func (d *Dispatcher) withLogging(kind string, h HandlerFunc) HandlerFunc {
	return func(e Event) (any, error) {
		start := time.Now()
		d.logger.Debug("handling event", "kind", kind, "round", e.Round, "turn", e.Turn)

		result, err := h(e)

		if err != nil {
			d.logger.Error("event failed", "kind", kind, "duration", time.Since(start), "error", err)
		} else {
			d.logger.Debug("event complete", "kind", kind, "duration", time.Since(start))
		}

		return result, err
	}
}

type nopLogger struct{}

func (nopLogger) Debug(string, ...any) {}
func (nopLogger) Info(string, ...any)  {}
func (nopLogger) Error(string, ...any) {}
