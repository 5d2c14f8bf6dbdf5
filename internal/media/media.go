// Package media arbitrates camera and microphone access between the
// capture and verification flows and negotiates the recording codec.
package media

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

var (
	// ErrPermissionDenied is returned when the user or OS refuses device access.
	ErrPermissionDenied = errors.New("camera or microphone permission denied")
	// ErrDeviceUnavailable is returned when no matching device exists.
	ErrDeviceUnavailable = errors.New("media device unavailable")
	// ErrNoSupportedCodec is returned when the encoder supports none of the candidates.
	ErrNoSupportedCodec = errors.New("no supported recording codec")
)

// Constraints select the tracks and format of a stream.
type Constraints struct {
	Video  bool
	Audio  bool
	Width  int
	Height int
	Facing string // "user" or "environment"
}

// CaptureConstraints is what the recorder asks for: camera and microphone.
func CaptureConstraints() Constraints {
	return Constraints{Video: true, Audio: true, Width: 1280, Height: 720, Facing: "user"}
}

// VerifyConstraints is what gesture verification asks for: camera only.
func VerifyConstraints() Constraints {
	return Constraints{Video: true, Width: 640, Height: 480, Facing: "user"}
}

// Stream is a live set of device tracks.
type Stream interface {
	// Stop releases every track. It is safe to call more than once.
	Stop()
}

// Device opens streams on the host's camera and microphone.
type Device interface {
	Acquire(ctx context.Context, c Constraints) (Stream, error)
}

// Owner names the flow holding the device.
type Owner string

const (
	OwnerCapture Owner = "capture"
	OwnerVerify  Owner = "verify"
)

// Arbiter hands the device to one owner at a time. Acquiring for a new
// owner stops the previous holder's stream first.
type Arbiter struct {
	dev    Device
	logger *slog.Logger

	mu     sync.Mutex
	holder Owner
	cur    *handle

	open atomic.Int64
}

// NewArbiter wraps dev. A nil logger uses slog.Default().
func NewArbiter(dev Device, logger *slog.Logger) *Arbiter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Arbiter{dev: dev, logger: logger}
}

// Acquire releases the current holder, then opens a stream for owner.
// The returned stream's Stop is idempotent and frees the slot.
func (a *Arbiter) Acquire(ctx context.Context, owner Owner, c Constraints) (Stream, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.cur != nil {
		a.logger.Debug("Releasing media device for new owner", "from", a.holder, "to", owner)
		a.cur.stopLocked()
	}

	s, err := a.dev.Acquire(ctx, c)
	if err != nil {
		return nil, fmt.Errorf("acquire media for %s: %w", owner, err)
	}
	h := &handle{Stream: s, a: a, owner: owner}
	a.open.Add(1)
	a.holder = owner
	a.cur = h
	return h, nil
}

// Release stops owner's stream if it still holds the device.
func (a *Arbiter) Release(owner Owner) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.cur != nil && a.holder == owner {
		a.cur.stopLocked()
	}
}

// Holder returns the current owner, or "" when the device is free.
func (a *Arbiter) Holder() Owner {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.holder
}

// OpenHandles is the number of streams acquired and not yet stopped.
func (a *Arbiter) OpenHandles() int {
	return int(a.open.Load())
}

type handle struct {
	Stream
	a     *Arbiter
	owner Owner
	once  sync.Once
}

func (h *handle) Stop() {
	h.a.mu.Lock()
	defer h.a.mu.Unlock()
	h.stopLocked()
}

// stopLocked must be called with the arbiter lock held.
func (h *handle) stopLocked() {
	h.once.Do(func() {
		h.Stream.Stop()
		h.a.open.Add(-1)
		if h.a.cur == h {
			h.a.cur = nil
			h.a.holder = ""
		}
	})
}

// Unwrap returns the device stream behind an arbitrated handle.
func Unwrap(s Stream) Stream {
	if h, ok := s.(*handle); ok {
		return h.Stream
	}
	return s
}

// Codec is a recording container/codec MIME type.
type Codec string

const (
	CodecVP9  Codec = "video/webm; codecs=vp9"
	CodecWebM Codec = "video/webm"
)

// DefaultCodecs is the preference order: VP9 first, plain WebM as baseline.
func DefaultCodecs() []Codec {
	return []Codec{CodecVP9, CodecWebM}
}

// Encoder turns a live stream into an encoded recording.
type Encoder interface {
	Supports(c Codec) bool
	// Start begins recording; chunks are emitted every timeslice.
	Start(ctx context.Context, s Stream, c Codec, timeslice time.Duration) (Recording, error)
}

// Recording is an in-progress encode.
type Recording interface {
	// Finish stops the encoder and returns every chunk joined in order.
	Finish() ([]byte, error)
}

// Negotiate returns the first candidate enc supports, in the given order.
// With no candidates DefaultCodecs is used.
func Negotiate(enc Encoder, preferred ...Codec) (Codec, error) {
	if len(preferred) == 0 {
		preferred = DefaultCodecs()
	}
	for _, c := range preferred {
		if enc.Supports(c) {
			return c, nil
		}
	}
	return "", fmt.Errorf("%w: tried %v", ErrNoSupportedCodec, preferred)
}
