package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/eternallink/arlink/internal/gesture"
	"github.com/eternallink/arlink/internal/media"
)

// landmarkSource reads pre-detected frames from a JSON lines stream, one
// gesture.Frame per line. It stands in for the camera on headless runs.
type landmarkSource struct {
	mu  sync.Mutex
	dec *json.Decoder
	src media.Stream
}

var errNoMoreFrames = errors.New("landmark stream exhausted")

func (s *landmarkSource) Grab(_ context.Context, stream media.Stream) (gesture.Image, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.src != stream || s.dec == nil {
		r, ok := media.Unwrap(stream).(io.Reader)
		if !ok {
			return nil, fmt.Errorf("stream %T is not readable", stream)
		}
		s.src = stream
		s.dec = json.NewDecoder(r)
	}

	var f gesture.Frame
	if err := s.dec.Decode(&f); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, errNoMoreFrames
		}
		return nil, fmt.Errorf("decode landmarks: %w", err)
	}
	if f.At.IsZero() {
		f.At = time.Now()
	}
	return f, nil
}

// frameDetector passes through frames that were detected upstream.
type frameDetector struct{}

func (frameDetector) Detect(_ context.Context, img gesture.Image) (gesture.Frame, error) {
	f, ok := img.(gesture.Frame)
	if !ok {
		return gesture.Frame{}, fmt.Errorf("unsupported image %T", img)
	}
	return f, nil
}

func (frameDetector) Close() error { return nil }

// tickerClock paces detection at a fixed frame rate.
type tickerClock struct {
	t *time.Ticker
}

func newTickerClock(fps int) *tickerClock {
	if fps <= 0 {
		fps = 30
	}
	return &tickerClock{t: time.NewTicker(time.Second / time.Duration(fps))}
}

func (c *tickerClock) Ticks() <-chan time.Time { return c.t.C }

func (c *tickerClock) Stop() { c.t.Stop() }
