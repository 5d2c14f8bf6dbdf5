// Package blobserver hands out short-lived local URLs for in-memory video
// blobs so that an embedded runtime or video surface can stream them.
package blobserver

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/eternallink/arlink/internal/model"
)

// Server serves registered blobs at /blobs/{id} until they are released.
type Server struct {
	logger *slog.Logger

	mu    sync.RWMutex
	blobs map[string]model.Blob

	srv     *http.Server
	baseURL string
	done    chan error
}

// New creates a server. Call Start before handing out URLs.
func New(logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		logger: logger,
		blobs:  make(map[string]model.Blob),
	}
}

// Handler returns the router, for mounting in tests or another server.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Get("/blobs/{id}", s.serveBlob)
	return r
}

// Start listens on addr (e.g. "127.0.0.1:0") and serves in the background.
func (s *Server) Start(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("blob server listen: %w", err)
	}
	s.srv = &http.Server{Handler: s.Handler(), ReadHeaderTimeout: 5 * time.Second}
	s.baseURL = "http://" + ln.Addr().String()
	s.done = make(chan error, 1)
	go func() {
		err := s.srv.Serve(ln)
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
		s.done <- err
	}()
	s.logger.Debug("Blob server listening", "url", s.baseURL)
	return nil
}

// SetBaseURL overrides the URL prefix, for use with Handler in tests.
func (s *Server) SetBaseURL(u string) {
	s.baseURL = u
}

// Shutdown stops the listener and releases every blob.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.blobs = make(map[string]model.Blob)
	s.mu.Unlock()

	if s.srv == nil {
		return nil
	}
	if err := s.srv.Shutdown(ctx); err != nil {
		return err
	}
	return <-s.done
}

// Ref is a revocable URL for one registered blob.
type Ref struct {
	ID  string
	URL string
	s   *Server
}

// Register makes b reachable until the returned ref is released.
func (s *Server) Register(b model.Blob) *Ref {
	id := uuid.New().String()
	s.mu.Lock()
	s.blobs[id] = b
	s.mu.Unlock()
	return &Ref{ID: id, URL: s.baseURL + "/blobs/" + id, s: s}
}

// Release revokes the URL. Later requests get 404. Safe to call twice.
func (r *Ref) Release() {
	if r == nil {
		return
	}
	r.s.mu.Lock()
	delete(r.s.blobs, r.ID)
	r.s.mu.Unlock()
}

// Live is the number of registered, unreleased blobs.
func (s *Server) Live() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.blobs)
}

func (s *Server) serveBlob(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	s.mu.RLock()
	b, ok := s.blobs[id]
	s.mu.RUnlock()
	if !ok {
		http.NotFound(w, r)
		return
	}
	ct := b.ContentType
	if ct == "" {
		ct = "application/octet-stream"
	}
	w.Header().Set("Content-Type", ct)
	// ServeContent handles Range requests, which video elements rely on.
	http.ServeContent(w, r, "", time.Time{}, bytes.NewReader(b.Data))
}
