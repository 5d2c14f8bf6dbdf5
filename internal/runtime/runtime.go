// Package runtime bridges to the embedded 3D/AR engine that renders
// holograms, and owns its load lifecycle.
package runtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Engine-side names understood by the hologram player.
const (
	Receiver    = "ARVideoPlayer"
	MethodStart = "StartARVideoDisplay"
	MethodReset = "ResetVideoPlacement"
)

var (
	// ErrNotReady is returned when sending before the engine reported ready.
	ErrNotReady = errors.New("runtime not ready")
	// ErrClosed is returned after Close.
	ErrClosed = errors.New("runtime closed")
	// ErrLoadTimeout is returned when the engine does not become ready in time.
	ErrLoadTimeout = errors.New("runtime load timed out")
)

// Runtime is a loaded engine instance.
type Runtime interface {
	// Ready is closed once the engine accepts messages.
	Ready() <-chan struct{}
	// SendMessage invokes method on a named engine object.
	SendMessage(ctx context.Context, receiver, method, arg string) error
	// Errors reports asynchronous engine failures.
	Errors() <-chan error
	// Done is closed once the instance can no longer take messages.
	Done() <-chan struct{}
	Close() error
}

// Factory starts loading a new engine instance.
type Factory func(ctx context.Context) (Runtime, error)

// Loader loads the engine once and shares it. Concurrent EnsureLoaded
// calls join the in-flight attempt.
type Loader struct {
	factory Factory
	timeout time.Duration
	logger  *slog.Logger

	mu       sync.Mutex
	rt       Runtime
	inflight chan struct{}
	lastErr  error
	onReady  []func()
}

// NewLoader creates a loader. timeout bounds each load attempt; zero
// means no bound beyond the caller's context.
func NewLoader(factory Factory, timeout time.Duration, logger *slog.Logger) *Loader {
	if logger == nil {
		logger = slog.Default()
	}
	return &Loader{factory: factory, timeout: timeout, logger: logger}
}

// OnReady registers fn to run after each successful load.
func (l *Loader) OnReady(fn func()) {
	l.mu.Lock()
	l.onReady = append(l.onReady, fn)
	l.mu.Unlock()
}

// EnsureLoaded returns once the engine is ready or the attempt failed.
// A failed attempt is not retried; the next call starts a new one. An
// engine whose connection dropped is discarded and loaded again.
func (l *Loader) EnsureLoaded(ctx context.Context) error {
	l.mu.Lock()
	dropped := l.dropDeadLocked()
	if dropped != nil {
		l.mu.Unlock()
		l.closeDropped(dropped)
		l.mu.Lock()
	}
	if l.rt != nil {
		l.mu.Unlock()
		return nil
	}
	if ch := l.inflight; ch != nil {
		l.mu.Unlock()
		select {
		case <-ch:
		case <-ctx.Done():
			return ctx.Err()
		}
		l.mu.Lock()
		defer l.mu.Unlock()
		if l.rt != nil {
			return nil
		}
		return l.lastErr
	}
	ch := make(chan struct{})
	l.inflight = ch
	l.mu.Unlock()

	rt, err := l.load(ctx)

	l.mu.Lock()
	l.inflight = nil
	l.lastErr = err
	var callbacks []func()
	if err == nil {
		l.rt = rt
		callbacks = append(callbacks, l.onReady...)
	}
	close(ch)
	l.mu.Unlock()

	if err != nil {
		l.logger.Warn("AR runtime failed to load", "error", err)
		return err
	}
	l.logger.Info("AR runtime loaded")
	for _, fn := range callbacks {
		fn()
	}
	return nil
}

func (l *Loader) load(ctx context.Context) (Runtime, error) {
	if l.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, l.timeout)
		defer cancel()
	}

	rt, err := l.factory(ctx)
	if err != nil {
		return nil, fmt.Errorf("start runtime: %w", err)
	}

	select {
	case <-rt.Ready():
		return rt, nil
	case err := <-rt.Errors():
		_ = rt.Close()
		return nil, fmt.Errorf("runtime failed while loading: %w", err)
	case <-ctx.Done():
		_ = rt.Close()
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, ErrLoadTimeout
		}
		return nil, ctx.Err()
	}
}

// dropDeadLocked forgets the loaded engine if it is done and returns it
// for closing. l.mu must be held.
func (l *Loader) dropDeadLocked() Runtime {
	if l.rt == nil {
		return nil
	}
	select {
	case <-l.rt.Done():
		rt := l.rt
		l.rt = nil
		return rt
	default:
		return nil
	}
}

func (l *Loader) closeDropped(rt Runtime) {
	l.logger.Warn("AR runtime connection lost")
	if err := rt.Close(); err != nil {
		l.logger.Debug("Closing dropped runtime failed", "error", err)
	}
}

// Loading reports whether an attempt is in flight.
func (l *Loader) Loading() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.inflight != nil
}

// Runtime returns the loaded engine, or nil if none is loaded or its
// connection dropped.
func (l *Loader) Runtime() Runtime {
	l.mu.Lock()
	dropped := l.dropDeadLocked()
	rt := l.rt
	l.mu.Unlock()
	if dropped != nil {
		l.closeDropped(dropped)
	}
	return rt
}

// Close shuts the loaded engine down.
func (l *Loader) Close() error {
	l.mu.Lock()
	rt := l.rt
	l.rt = nil
	l.mu.Unlock()
	if rt == nil {
		return nil
	}
	return rt.Close()
}
