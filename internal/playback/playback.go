// Package playback renders verified AR video messages, preferring the
// embedded AR runtime and degrading to a plain video surface.
package playback

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/eternallink/arlink/internal/blobserver"
	"github.com/eternallink/arlink/internal/model"
	"github.com/eternallink/arlink/internal/runtime"
	"github.com/eternallink/arlink/internal/verify"
)

// DefaultMaxAttempts is how many failed runtime loads are tolerated
// before playback sticks to the fallback surface.
const DefaultMaxAttempts = 2

var (
	// ErrNotVerified is returned when no matching verification token is given.
	ErrNotVerified = errors.New("AR message not verified")
	// ErrNoVideo is returned for messages without a content hash.
	ErrNoVideo = errors.New("AR message has no video")
	// ErrExpired is returned for messages past their expiry.
	ErrExpired = errors.New("AR message expired")
	// ErrRuntimeLoading is returned while another request is loading the runtime.
	ErrRuntimeLoading = errors.New("AR runtime is still loading")
	// ErrRuntimeFailed wraps runtime load and dispatch failures.
	ErrRuntimeFailed = errors.New("AR runtime failed")
	// ErrNoSurface is returned when a fallback is needed but none is configured.
	ErrNoSurface = errors.New("no fallback surface configured")
)

// State is the runtime selection state.
type State int

const (
	NotLoaded State = iota
	Loading
	Loaded
	Failed
)

func (s State) String() string {
	switch s {
	case NotLoaded:
		return "not_loaded"
	case Loading:
		return "loading"
	case Loaded:
		return "loaded"
	case Failed:
		return "failed"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Mode is what is currently playing.
type Mode int

const (
	ModeIdle Mode = iota
	ModeRuntime
	ModeFallback
)

func (m Mode) String() string {
	switch m {
	case ModeIdle:
		return "idle"
	case ModeRuntime:
		return "runtime"
	case ModeFallback:
		return "fallback"
	}
	return fmt.Sprintf("Mode(%d)", int(m))
}

// Loader loads the AR runtime on demand.
type Loader interface {
	EnsureLoaded(ctx context.Context) error
	OnReady(fn func())
	Runtime() runtime.Runtime
	Close() error
}

// VideoSource returns the bytes for a content hash.
type VideoSource interface {
	Load(ctx context.Context, hash string) (model.Blob, error)
}

// Registry turns bytes into revocable playable URLs.
type Registry interface {
	Register(b model.Blob) *blobserver.Ref
}

// Reporter receives one record per started playback.
type Reporter interface {
	WritePlayback(ctx context.Context, messageID int64, mode string, latency time.Duration, degraded bool) error
}

// Result describes a started playback.
type Result struct {
	Mode Mode
	URL  string
	// Degraded is the runtime failure that forced the fallback, if any.
	Degraded error
}

// Option configures a Player.
type Option func(*Player)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(p *Player) { p.logger = l }
}

// WithMaxAttempts sets the runtime load failure threshold.
func WithMaxAttempts(n int) Option {
	return func(p *Player) {
		if n > 0 {
			p.maxAttempts = n
		}
	}
}

// WithDebugLogSize sets the capacity of the diagnostic log.
func WithDebugLogSize(n int) Option {
	return func(p *Player) { p.debug = NewDebugLog(n) }
}

// WithReporter sets where playback records go.
func WithReporter(r Reporter) Option {
	return func(p *Player) { p.reporter = r }
}

// Player plays one video at a time. It is safe for concurrent use.
type Player struct {
	loader   Loader
	videos   VideoSource
	blobs    Registry
	surface  Surface
	logger   *slog.Logger
	reporter Reporter
	debug    *DebugLog

	maxAttempts int

	plays        metric.Int64Counter
	loadFailures metric.Int64Counter
	fallbacks    metric.Int64Counter

	mu       sync.Mutex
	state    State
	attempts int
	mode     Mode
	ref      *blobserver.Ref
}

// New creates a player. surface may be nil, in which case runtime
// failures cannot degrade and are returned as errors.
func New(loader Loader, videos VideoSource, blobs Registry, surface Surface, opts ...Option) (*Player, error) {
	p := &Player{
		loader:      loader,
		videos:      videos,
		blobs:       blobs,
		surface:     surface,
		logger:      slog.Default(),
		maxAttempts: DefaultMaxAttempts,
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.debug == nil {
		p.debug = NewDebugLog(DefaultDebugLogSize)
	}

	m := meter()
	var err error
	p.plays, err = m.Int64Counter("playback.plays", metric.WithDescription("Playbacks started, by mode"))
	if err != nil {
		return nil, fmt.Errorf("creating plays counter: %w", err)
	}
	p.loadFailures, err = m.Int64Counter("playback.runtime.load_failures", metric.WithDescription("Failed AR runtime loads"))
	if err != nil {
		return nil, fmt.Errorf("creating load failures counter: %w", err)
	}
	p.fallbacks, err = m.Int64Counter("playback.fallbacks", metric.WithDescription("Playbacks degraded to the fallback surface"))
	if err != nil {
		return nil, fmt.Errorf("creating fallbacks counter: %w", err)
	}

	loader.OnReady(func() { p.debug.Addf("runtime ready") })
	return p, nil
}

// Play renders msg. tok must come from a successful verification of the
// same message. Whatever was playing before is stopped.
func (p *Player) Play(ctx context.Context, msg *model.ARMessage, tok *verify.Token) (Result, error) {
	if msg == nil || tok == nil || tok.MessageID != msg.ID || !msg.IsViewed {
		return Result{}, ErrNotVerified
	}
	if msg.VideoContentHash == "" {
		return Result{}, ErrNoVideo
	}
	start := time.Now()
	if msg.Expired(start) {
		return Result{}, ErrExpired
	}

	blob, err := p.videos.Load(ctx, msg.VideoContentHash)
	if err != nil {
		p.debug.Addf("video %s load failed: %v", msg.VideoContentHash, err)
		return Result{}, fmt.Errorf("load video: %w", err)
	}
	if err := p.Stop(ctx); err != nil {
		p.logger.WarnContext(ctx, "Stopping previous playback failed", "error", err)
	}
	ref := p.blobs.Register(blob)

	live := p.loader.Runtime() != nil
	p.mu.Lock()
	if p.state == Loaded && !live {
		p.state = NotLoaded
		p.debug.Addf("runtime connection lost, reloading")
	}
	switch {
	case p.attempts >= p.maxAttempts:
		p.mu.Unlock()
		return p.fallback(ctx, msg, ref, start, nil)
	case p.state == Loading:
		p.mu.Unlock()
		ref.Release()
		return Result{}, ErrRuntimeLoading
	case p.state != Loaded:
		p.state = Loading
		p.mu.Unlock()
		if err := p.load(ctx); err != nil {
			if ctx.Err() != nil {
				ref.Release()
				return Result{}, ctx.Err()
			}
			return p.fallback(ctx, msg, ref, start, err)
		}
	default:
		p.mu.Unlock()
	}

	rt := p.loader.Runtime()
	if rt == nil {
		return p.fallback(ctx, msg, ref, start, fmt.Errorf("%w: runtime gone after load", ErrRuntimeFailed))
	}
	if err := rt.SendMessage(ctx, runtime.Receiver, runtime.MethodStart, ref.URL); err != nil {
		p.debug.Addf("play command for message %d failed: %v", msg.ID, err)
		p.logger.WarnContext(ctx, "AR runtime rejected play command", "messageId", msg.ID, "error", err)
		p.lost(err)
		return p.fallback(ctx, msg, ref, start, fmt.Errorf("%w: %w", ErrRuntimeFailed, err))
	}

	p.begin(ModeRuntime, ref)
	p.record(ctx, msg.ID, ModeRuntime, start, false)
	p.logger.InfoContext(ctx, "Playing AR video in runtime", "messageId", msg.ID)
	return Result{Mode: ModeRuntime, URL: ref.URL}, nil
}

// load runs one runtime load attempt and updates the state machine.
func (p *Player) load(ctx context.Context) error {
	err := p.loader.EnsureLoaded(ctx)

	p.mu.Lock()
	defer p.mu.Unlock()
	switch {
	case err == nil:
		p.state = Loaded
		return nil
	case ctx.Err() != nil:
		// Caller gave up; not a runtime failure.
		p.state = NotLoaded
		return err
	}
	p.state = Failed
	p.attempts++
	p.loadFailures.Add(ctx, 1)
	p.debug.Addf("runtime load attempt %d/%d failed: %v", p.attempts, p.maxAttempts, err)
	p.logger.WarnContext(ctx, "AR runtime failed to load", "attempt", p.attempts, "maxAttempts", p.maxAttempts, "error", err)
	return fmt.Errorf("%w: %w", ErrRuntimeFailed, err)
}

func (p *Player) fallback(ctx context.Context, msg *model.ARMessage, ref *blobserver.Ref, start time.Time, cause error) (Result, error) {
	if p.surface == nil {
		ref.Release()
		if cause == nil {
			return Result{}, ErrNoSurface
		}
		return Result{}, errors.Join(cause, ErrNoSurface)
	}
	if err := p.surface.Show(ctx, ref.URL); err != nil {
		ref.Release()
		p.debug.Addf("fallback surface failed for message %d: %v", msg.ID, err)
		return Result{}, errors.Join(cause, fmt.Errorf("fallback playback: %w", err))
	}

	p.fallbacks.Add(ctx, 1)
	p.begin(ModeFallback, ref)
	p.record(ctx, msg.ID, ModeFallback, start, cause != nil)
	p.logger.InfoContext(ctx, "Playing AR video on fallback surface", "messageId", msg.ID, "degraded", cause != nil)
	return Result{Mode: ModeFallback, URL: ref.URL, Degraded: cause}, nil
}

func (p *Player) begin(mode Mode, ref *blobserver.Ref) {
	p.mu.Lock()
	prev := p.ref
	p.mode, p.ref = mode, ref
	p.mu.Unlock()
	// A concurrent Play may have started in between.
	if prev != nil && prev != ref {
		prev.Release()
	}
}

func (p *Player) record(ctx context.Context, id int64, mode Mode, start time.Time, degraded bool) {
	p.plays.Add(ctx, 1, metric.WithAttributes(attribute.String("mode", mode.String())))
	if p.reporter == nil {
		return
	}
	if err := p.reporter.WritePlayback(ctx, id, mode.String(), time.Since(start), degraded); err != nil {
		p.logger.DebugContext(ctx, "Playback report failed", "error", err)
	}
}

// Stop ends the current playback and releases its URL. The runtime
// state is left as is.
func (p *Player) Stop(ctx context.Context) error {
	p.mu.Lock()
	mode, ref := p.mode, p.ref
	p.mode, p.ref = ModeIdle, nil
	p.mu.Unlock()

	var err error
	switch mode {
	case ModeRuntime:
		if rt := p.loader.Runtime(); rt != nil {
			if err = rt.SendMessage(ctx, runtime.Receiver, runtime.MethodReset, ""); err != nil {
				p.debug.Addf("reset command failed: %v", err)
				p.lost(err)
				err = fmt.Errorf("reset runtime: %w", err)
			}
		}
	case ModeFallback:
		p.surface.Teardown()
	}
	ref.Release()
	return err
}

// lost moves a loaded runtime back to NotLoaded when err shows its
// connection is gone, so the next Play loads it again.
func (p *Player) lost(err error) {
	if !errors.Is(err, runtime.ErrClosed) {
		return
	}
	p.mu.Lock()
	if p.state == Loaded {
		p.state = NotLoaded
	}
	p.mu.Unlock()
}

// Close stops playback and shuts the runtime down.
func (p *Player) Close() error {
	stopErr := p.Stop(context.Background())
	return errors.Join(stopErr, p.loader.Close())
}

// State returns the runtime selection state.
func (p *Player) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Attempts returns the number of failed runtime loads.
func (p *Player) Attempts() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.attempts
}

// Mode returns what is currently playing.
func (p *Player) Mode() Mode {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.mode
}

// DebugLog returns the diagnostic log.
func (p *Player) DebugLog() *DebugLog {
	return p.debug
}
