// Package dispatcher routes events coming back from the AR runtime to
// registered handlers.
package dispatcher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var (
	// ErrUnknownEvent is returned when no handler is registered for a type.
	ErrUnknownEvent = errors.New("unknown event type")
	// ErrQueueFull is returned when a non-blocking buffered handler drops an event.
	ErrQueueFull = errors.New("event queue full")
	// ErrClosed is returned after Close.
	ErrClosed = errors.New("dispatcher closed")
)

// Event is a message received from the runtime.
type Event struct {
	Type    string          `json:"type"`
	Message string          `json:"message,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
	At      time.Time       `json:"-"`
}

// HandlerFunc processes an event.
type HandlerFunc func(context.Context, Event) error

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

// Logged adds debug logging to the handler.
func Logged() Option {
	return func(c *config) {
		c.logged = true
	}
}

type route struct {
	fn       HandlerFunc
	buf      chan Event // nil for synchronous handlers
	blocking bool
}

// Dispatcher routes events to registered handlers. It is safe for
// concurrent use.
type Dispatcher struct {
	logger Logger

	processed metric.Int64Counter
	dropped   metric.Int64Counter
	unhandled metric.Int64Counter
	queueSize metric.Int64ObservableGauge

	mu       sync.RWMutex
	handlers map[string]route
	buffers  map[string]chan Event
	closed   bool
	wg       sync.WaitGroup
}

// New creates a new Dispatcher with the given logger.
// Uses the global OTel meter for metrics (no-op if not configured).
func New(logger Logger) (*Dispatcher, error) {
	d := &Dispatcher{
		handlers: make(map[string]route),
		buffers:  make(map[string]chan Event),
		logger:   logger,
	}

	m := meter()

	var err error

	d.queueSize, err = m.Int64ObservableGauge(
		"runtime.events.queue.size",
		metric.WithDescription("Current number of runtime events in queue"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating queue size gauge: %w", err)
	}

	_, err = m.RegisterCallback(
		func(ctx context.Context, o metric.Observer) error {
			d.mu.RLock()
			defer d.mu.RUnlock()
			for typ, buf := range d.buffers {
				o.ObserveInt64(d.queueSize, int64(len(buf)),
					metric.WithAttributes(attribute.String("type", typ)))
			}
			return nil
		},
		d.queueSize,
	)
	if err != nil {
		return nil, fmt.Errorf("registering queue callback: %w", err)
	}

	d.processed, err = m.Int64Counter(
		"runtime.events.processed",
		metric.WithDescription("Total runtime events processed"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating processed counter: %w", err)
	}

	d.dropped, err = m.Int64Counter(
		"runtime.events.dropped",
		metric.WithDescription("Total runtime events dropped due to full queue"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating dropped counter: %w", err)
	}

	d.unhandled, err = m.Int64Counter(
		"runtime.events.unhandled",
		metric.WithDescription("Total runtime events without a handler"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating unhandled counter: %w", err)
	}

	return d, nil
}

// Register adds a handler for the given event type with optional configuration.
func (d *Dispatcher) Register(eventType string, h HandlerFunc, opts ...Option) {
	cfg := &config{}
	for _, opt := range opts {
		opt(cfg)
	}

	handler := h

	if cfg.logged {
		handler = d.withLogging(eventType, handler)
	}

	r := route{fn: handler, blocking: cfg.blocking}
	if cfg.bufferSize > 0 {
		r.buf = d.startWorker(eventType, cfg.bufferSize, handler)
	}

	d.mu.Lock()
	d.handlers[eventType] = r
	d.mu.Unlock()
}

// Dispatch routes an event to its registered handler. Buffered handlers
// return nil once the event is queued.
func (d *Dispatcher) Dispatch(ctx context.Context, e Event) error {
	if e.At.IsZero() {
		e.At = time.Now()
	}
	typeAttr := metric.WithAttributes(attribute.String("type", e.Type))

	d.mu.RLock()
	if d.closed {
		d.mu.RUnlock()
		return ErrClosed
	}
	r, ok := d.handlers[e.Type]
	if !ok {
		d.mu.RUnlock()
		d.unhandled.Add(ctx, 1, typeAttr)
		return fmt.Errorf("%w: %s", ErrUnknownEvent, e.Type)
	}
	if r.buf != nil {
		// Queue under the read lock so Close cannot close the channel mid-send.
		defer d.mu.RUnlock()
		return d.enqueue(ctx, e, r)
	}
	d.mu.RUnlock()

	err := r.fn(ctx, e)
	if err == nil {
		d.processed.Add(ctx, 1, typeAttr)
	}
	return err
}

// HasHandler returns true if a handler is registered for the event type.
func (d *Dispatcher) HasHandler(eventType string) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	_, ok := d.handlers[eventType]
	return ok
}

// Close stops buffered workers after they drain their queues.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	for _, r := range d.handlers {
		if r.buf != nil {
			close(r.buf)
		}
	}
	d.mu.Unlock()
	d.wg.Wait()
}

func (d *Dispatcher) startWorker(eventType string, size int, h HandlerFunc) chan Event {
	buffer := make(chan Event, size)

	d.mu.Lock()
	d.buffers[eventType] = buffer
	d.mu.Unlock()

	typeAttr := metric.WithAttributes(attribute.String("type", eventType))

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		for e := range buffer {
			if err := h(context.Background(), e); err != nil {
				if d.logger != nil {
					d.logger.Error("buffered event failed", "type", eventType, "error", err)
				}
				continue
			}
			d.processed.Add(context.Background(), 1, typeAttr)
		}
	}()
	return buffer
}

func (d *Dispatcher) enqueue(ctx context.Context, e Event, r route) error {
	if r.blocking {
		select {
		case r.buf <- e:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	select {
	case r.buf <- e:
		return nil
	default:
		d.dropped.Add(ctx, 1, metric.WithAttributes(attribute.String("type", e.Type)))
		return fmt.Errorf("%w: %s", ErrQueueFull, e.Type)
	}
}

func (d *Dispatcher) withLogging(eventType string, h HandlerFunc) HandlerFunc {
	return func(ctx context.Context, e Event) error {
		start := time.Now()
		d.logger.Debug("handling runtime event", "type", eventType, "bytes", len(e.Data))

		err := h(ctx, e)

		if err != nil {
			d.logger.Error("runtime event failed", "type", eventType, "duration", time.Since(start), "error", err)
		} else {
			d.logger.Debug("runtime event complete", "type", eventType, "duration", time.Since(start))
		}

		return err
	}
}
