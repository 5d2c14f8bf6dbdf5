package media

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"
	"time"
)

// ChunkBuffer collects encoder chunks in arrival order. Empty chunks are
// dropped.
type ChunkBuffer struct {
	mu     sync.Mutex
	chunks [][]byte
	size   int
}

// Append stores a copy of chunk.
func (b *ChunkBuffer) Append(chunk []byte) {
	if len(chunk) == 0 {
		return
	}
	c := make([]byte, len(chunk))
	copy(c, chunk)

	b.mu.Lock()
	b.chunks = append(b.chunks, c)
	b.size += len(c)
	b.mu.Unlock()
}

// Len is the number of buffered chunks.
func (b *ChunkBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.chunks)
}

// Bytes joins all chunks into one payload.
func (b *ChunkBuffer) Bytes() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]byte, 0, b.size)
	for _, c := range b.chunks {
		out = append(out, c...)
	}
	return out
}

// Reset discards buffered chunks.
func (b *ChunkBuffer) Reset() {
	b.mu.Lock()
	b.chunks = nil
	b.size = 0
	b.mu.Unlock()
}

// FileDevice serves a pre-recorded clip as the camera stream, for
// headless runs.
type FileDevice struct {
	Path string
}

// Acquire opens the clip. Audio-only constraints are refused.
func (d FileDevice) Acquire(_ context.Context, c Constraints) (Stream, error) {
	if !c.Video {
		return nil, fmt.Errorf("%w: file device only provides video", ErrDeviceUnavailable)
	}
	f, err := os.Open(d.Path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDeviceUnavailable, err)
	}
	return &fileStream{f: f}, nil
}

type fileStream struct {
	f    *os.File
	once sync.Once
}

func (s *fileStream) Read(p []byte) (int, error) { return s.f.Read(p) }

func (s *fileStream) Stop() {
	s.once.Do(func() { _ = s.f.Close() })
}

// CopyEncoder records any readable stream by copying its bytes in fixed
// size chunks. It supports the WebM codecs only.
type CopyEncoder struct {
	ChunkSize int
}

// Supports reports WebM support.
func (e CopyEncoder) Supports(c Codec) bool {
	return c == CodecVP9 || c == CodecWebM
}

// Start copies the stream in a goroutine until EOF or Finish.
func (e CopyEncoder) Start(ctx context.Context, s Stream, c Codec, _ time.Duration) (Recording, error) {
	r, ok := Unwrap(s).(io.Reader)
	if !ok {
		return nil, fmt.Errorf("stream %T is not readable", s)
	}
	if !e.Supports(c) {
		return nil, fmt.Errorf("%w: %s", ErrNoSupportedCodec, c)
	}
	size := e.ChunkSize
	if size <= 0 {
		size = 64 << 10
	}
	rec := &copyRecording{done: make(chan struct{})}
	go func() {
		defer close(rec.done)
		buf := make([]byte, size)
		for {
			if ctx.Err() != nil {
				rec.err = ctx.Err()
				return
			}
			n, err := r.Read(buf)
			rec.buf.Append(buf[:n])
			if err == io.EOF {
				return
			}
			if err != nil {
				rec.err = err
				return
			}
		}
	}()
	return rec, nil
}

type copyRecording struct {
	buf  ChunkBuffer
	done chan struct{}
	err  error
}

func (r *copyRecording) Finish() ([]byte, error) {
	<-r.done
	if r.err != nil {
		return nil, fmt.Errorf("recording failed: %w", r.err)
	}
	return r.buf.Bytes(), nil
}
