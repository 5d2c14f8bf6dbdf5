// Package mediatest provides in-memory devices and encoders for tests.
package mediatest

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/eternallink/arlink/internal/media"
)

// Stream is a fake device stream that records whether it was stopped.
type Stream struct {
	mu      sync.Mutex
	stopped bool
	stops   int
	C       media.Constraints
}

// Stop marks the stream stopped.
func (s *Stream) Stop() {
	s.mu.Lock()
	s.stopped = true
	s.stops++
	s.mu.Unlock()
}

// Stopped reports whether Stop was called.
func (s *Stream) Stopped() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopped
}

// Device is a fake camera/microphone.
type Device struct {
	mu      sync.Mutex
	Err     error // returned by Acquire when set
	streams []*Stream
}

// Acquire returns a new fake stream or Err.
func (d *Device) Acquire(ctx context.Context, c media.Constraints) (media.Stream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.Err != nil {
		return nil, d.Err
	}
	s := &Stream{C: c}
	d.streams = append(d.streams, s)
	return s, nil
}

// Streams returns every stream handed out so far.
func (d *Device) Streams() []*Stream {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]*Stream, len(d.streams))
	copy(out, d.streams)
	return out
}

// Encoder is a fake encoder that emits fixed chunks.
type Encoder struct {
	Supported []media.Codec
	Chunks    [][]byte
	StartErr  error
	FinishErr error

	mu        sync.Mutex
	started   []media.Codec
	timeslice time.Duration
}

// Supports reports whether c is in Supported.
func (e *Encoder) Supports(c media.Codec) bool {
	for _, s := range e.Supported {
		if s == c {
			return true
		}
	}
	return false
}

// Start records the codec and timeslice and returns a recording.
func (e *Encoder) Start(_ context.Context, _ media.Stream, c media.Codec, timeslice time.Duration) (media.Recording, error) {
	if e.StartErr != nil {
		return nil, e.StartErr
	}
	e.mu.Lock()
	e.started = append(e.started, c)
	e.timeslice = timeslice
	e.mu.Unlock()

	rec := &Recording{err: e.FinishErr}
	for _, ch := range e.Chunks {
		rec.buf.Append(ch)
	}
	return rec, nil
}

// Started returns the codecs passed to Start.
func (e *Encoder) Started() []media.Codec {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]media.Codec(nil), e.started...)
}

// Timeslice returns the last timeslice passed to Start.
func (e *Encoder) Timeslice() time.Duration {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.timeslice
}

// Recording is a fake in-progress encode.
type Recording struct {
	buf      media.ChunkBuffer
	err      error
	finished bool
}

// Finish returns the joined chunks or the configured error.
func (r *Recording) Finish() ([]byte, error) {
	if r.finished {
		return nil, errors.New("recording already finished")
	}
	r.finished = true
	if r.err != nil {
		return nil, r.err
	}
	return r.buf.Bytes(), nil
}
