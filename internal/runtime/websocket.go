package runtime

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	ws "github.com/gorilla/websocket"

	"github.com/eternallink/arlink/internal/dispatcher"
)

const (
	sendChSize = 64
	errChSize  = 8
	writeWait  = 10 * time.Second
)

// Command is an outbound engine call.
type Command struct {
	Type     string `json:"type"`
	Receiver string `json:"receiver"`
	Method   string `json:"method"`
	Arg      string `json:"arg"`
}

type outbound struct {
	data   []byte
	result chan error
}

// WSRuntime drives a host-side engine over a WebSocket. Commands go out as
// JSON frames; inbound frames are routed through a dispatcher by type.
type WSRuntime struct {
	conn   *ws.Conn
	events *dispatcher.Dispatcher
	logger *slog.Logger

	sendCh chan outbound
	errCh  chan error
	ready  chan struct{}
	done   chan struct{} // closed by Close, stops the loops
	dead   chan struct{} // closed once no more commands can be delivered

	cause     error // set before dead is closed
	readyOnce sync.Once
	deadOnce  sync.Once
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// DialOption configures Dial.
type DialOption func(*dialConfig)

type dialConfig struct {
	eventLogger dispatcher.Logger
}

// WithEventLogger sets the logger used by the inbound event dispatcher.
// Defaults to the runtime logger.
func WithEventLogger(l dispatcher.Logger) DialOption {
	return func(c *dialConfig) { c.eventLogger = l }
}

// Dial connects to the engine at rawURL and starts the read and write
// loops. The engine announces itself with a {"type":"ready"} frame.
func Dial(ctx context.Context, rawURL string, logger *slog.Logger, opts ...DialOption) (*WSRuntime, error) {
	if logger == nil {
		logger = slog.Default()
	}
	cfg := dialConfig{eventLogger: logger}
	for _, opt := range opts {
		opt(&cfg)
	}
	conn, _, err := ws.DefaultDialer.DialContext(ctx, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("runtime dial failed: %w", err)
	}

	events, err := dispatcher.New(cfg.eventLogger)
	if err != nil {
		_ = conn.Close()
		return nil, err
	}

	r := &WSRuntime{
		conn:   conn,
		events: events,
		logger: logger,
		sendCh: make(chan outbound, sendChSize),
		errCh:  make(chan error, errChSize),
		ready:  make(chan struct{}),
		done:   make(chan struct{}),
		dead:   make(chan struct{}),
	}
	r.register()

	r.wg.Add(2)
	go r.writeLoop()
	go r.readLoop()
	return r, nil
}

// DialFactory returns a loader factory dialling rawURL.
func DialFactory(rawURL string, logger *slog.Logger, opts ...DialOption) Factory {
	return func(ctx context.Context) (Runtime, error) {
		return Dial(ctx, rawURL, logger, opts...)
	}
}

func (r *WSRuntime) register() {
	r.events.Register("ready", func(context.Context, dispatcher.Event) error {
		r.readyOnce.Do(func() { close(r.ready) })
		return nil
	}, dispatcher.Logged())
	r.events.Register("error", func(_ context.Context, e dispatcher.Event) error {
		r.fail(fmt.Errorf("engine error: %s", e.Message))
		return nil
	}, dispatcher.Logged())
	r.events.Register("log", func(_ context.Context, e dispatcher.Event) error {
		r.logger.Debug("Engine log", "message", e.Message)
		return nil
	})
}

// Ready is closed once the engine reported ready.
func (r *WSRuntime) Ready() <-chan struct{} {
	return r.ready
}

// Errors reports engine and connection failures.
func (r *WSRuntime) Errors() <-chan error {
	return r.errCh
}

// Done is closed when the connection dropped or Close was called.
func (r *WSRuntime) Done() <-chan struct{} {
	return r.dead
}

// Events exposes the inbound dispatcher so callers can handle more types.
func (r *WSRuntime) Events() *dispatcher.Dispatcher {
	return r.events
}

// SendMessage writes a command frame and waits until it is on the wire.
func (r *WSRuntime) SendMessage(ctx context.Context, receiver, method, arg string) error {
	select {
	case <-r.ready:
	default:
		return ErrNotReady
	}
	data, err := json.Marshal(Command{Type: "command", Receiver: receiver, Method: method, Arg: arg})
	if err != nil {
		return err
	}
	out := outbound{data: data, result: make(chan error, 1)}

	select {
	case <-r.dead:
		return r.deadErr()
	default:
	}
	select {
	case r.sendCh <- out:
	case <-r.dead:
		return r.deadErr()
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-out.result:
		return err
	case <-r.dead:
		return r.deadErr()
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *WSRuntime) deadErr() error {
	if r.cause == nil || r.cause == ErrClosed {
		return ErrClosed
	}
	return fmt.Errorf("%w: %v", ErrClosed, r.cause)
}

// die marks the connection unusable. Pending and later sends fail with
// ErrClosed.
func (r *WSRuntime) die(err error) {
	r.deadOnce.Do(func() {
		r.cause = err
		close(r.dead)
	})
}

// writeLoop is the only writer on the connection.
func (r *WSRuntime) writeLoop() {
	defer r.wg.Done()
	for {
		select {
		case <-r.done:
			return
		case out := <-r.sendCh:
			err := r.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err == nil {
				err = r.conn.WriteMessage(ws.TextMessage, out.data)
			}
			out.result <- err
			if err != nil {
				r.logger.Warn("Runtime write error", "error", err)
				r.die(err)
				r.fail(err)
				return
			}
		}
	}
}

func (r *WSRuntime) readLoop() {
	defer r.wg.Done()
	for {
		_, message, err := r.conn.ReadMessage()
		if err != nil {
			select {
			case <-r.done:
			default:
				r.logger.Warn("Runtime read error", "error", err)
				r.die(err)
				r.fail(err)
			}
			return
		}

		var e dispatcher.Event
		if err := json.Unmarshal(message, &e); err != nil {
			r.logger.Debug("Non-JSON runtime frame", "raw", string(message))
			continue
		}
		if err := r.events.Dispatch(context.Background(), e); err != nil {
			r.logger.Debug("Unhandled runtime frame", "type", e.Type, "error", err)
		}
	}
}

func (r *WSRuntime) fail(err error) {
	select {
	case r.errCh <- err:
	default:
		r.logger.Debug("Runtime error channel full, dropping", "error", err)
	}
}

// Close sends a close frame, stops both loops and the dispatcher.
func (r *WSRuntime) Close() error {
	var err error
	r.closeOnce.Do(func() {
		r.die(ErrClosed)
		close(r.done)
		_ = r.conn.WriteControl(
			ws.CloseMessage,
			ws.FormatCloseMessage(ws.CloseNormalClosure, ""),
			time.Now().Add(writeWait),
		)
		err = r.conn.Close()
		r.wg.Wait()
		r.events.Close()
	})
	return err
}
