package playback

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"sync"
)

// Surface is the plain video output used when the AR runtime is not
// available.
type Surface interface {
	// Show starts playing the video at url.
	Show(ctx context.Context, url string) error
	// Teardown stops playback and frees the surface. Safe to call twice.
	Teardown()
}

// WriterSurface announces the playable URL on a writer. Useful when
// another program picks the URL up.
type WriterSurface struct {
	Out io.Writer
}

// Show implements Surface.
func (s WriterSurface) Show(_ context.Context, url string) error {
	_, err := fmt.Fprintf(s.Out, "Playing video: %s\n", url)
	return err
}

// Teardown implements Surface.
func (s WriterSurface) Teardown() {}

// CommandSurface plays the video with an external player process, for
// example "ffplay -autoexit". The URL is appended as the last argument.
type CommandSurface struct {
	Name   string
	Args   []string
	Logger *slog.Logger

	mu     sync.Mutex
	cmd    *exec.Cmd
	cancel context.CancelFunc
}

// Show implements Surface. A running player is stopped first.
func (s *CommandSurface) Show(_ context.Context, url string) error {
	s.Teardown()

	// The player outlives the Play call, so it gets its own context.
	ctx, cancel := context.WithCancel(context.Background())
	args := append(append([]string(nil), s.Args...), url)
	cmd := exec.CommandContext(ctx, s.Name, args...)
	if err := cmd.Start(); err != nil {
		cancel()
		return fmt.Errorf("start %s: %w", s.Name, err)
	}

	s.mu.Lock()
	s.cmd, s.cancel = cmd, cancel
	s.mu.Unlock()

	go func() {
		err := cmd.Wait()
		if s.Logger != nil {
			s.Logger.Debug("Fallback player exited", "player", s.Name, "error", err)
		}
	}()
	return nil
}

// Teardown implements Surface.
func (s *CommandSurface) Teardown() {
	s.mu.Lock()
	cancel := s.cancel
	s.cmd, s.cancel = nil, nil
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}
