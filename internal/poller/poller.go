// Package poller keeps a chat's message list fresh by polling the API.
package poller

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/eternallink/arlink/internal/api"
	"github.com/eternallink/arlink/internal/model"
)

// DefaultInterval is the poll period when none is configured.
const DefaultInterval = 5 * time.Second

// ErrRunning is returned by Start when the poller is already running.
var ErrRunning = errors.New("poller already running")

// Source fetches the messages of a chat.
type Source interface {
	ChatMessages(ctx context.Context, chatID int64) ([]model.Message, error)
}

// ChangeFunc receives the merged message list, oldest first.
type ChangeFunc func([]model.Message)

// Service polls one chat. Start and Stop may be called repeatedly.
type Service struct {
	src      Source
	chatID   int64
	interval time.Duration
	onChange ChangeFunc
	logger   *slog.Logger

	mu        sync.RWMutex
	isRunning bool
	cancel    context.CancelFunc
	done      chan struct{}
	byID      map[int64]model.Message
	last      []model.Message
	lastErr   error
}

// NewService creates a poller for chatID. onChange runs on the polling
// goroutine and must not block for long.
func NewService(src Source, chatID int64, interval time.Duration, onChange ChangeFunc, logger *slog.Logger) *Service {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		src:      src,
		chatID:   chatID,
		interval: interval,
		onChange: onChange,
		logger:   logger.With("chatId", chatID),
		byID:     make(map[int64]model.Message),
	}
}

// IsRunning returns whether the polling goroutine is active.
func (s *Service) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.isRunning
}

// Start polls immediately and then every interval until Stop or ctx ends.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.isRunning {
		s.mu.Unlock()
		return ErrRunning
	}
	if s.cancel != nil {
		s.cancel()
	}
	ctx, cancel := context.WithCancel(ctx)
	s.isRunning = true
	s.cancel = cancel
	s.done = make(chan struct{})
	s.lastErr = nil
	done := s.done
	s.mu.Unlock()

	go func() {
		defer close(done)
		defer func() {
			s.mu.Lock()
			s.isRunning = false
			s.mu.Unlock()
		}()
		s.logger.Debug("Starting chat poller", "interval", s.interval)

		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		for {
			if !s.poll(ctx) {
				return
			}
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		}
	}()
	return nil
}

// Done is closed when the polling goroutine exits, whether by Stop, ctx
// or a fatal API error.
func (s *Service) Done() <-chan struct{} {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.done
}

// Stop cancels polling and waits for the goroutine to exit.
func (s *Service) Stop() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel = nil
	s.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// poll fetches once. It returns false when polling must end.
func (s *Service) poll(ctx context.Context) bool {
	msgs, err := s.src.ChatMessages(ctx, s.chatID)
	if err != nil {
		if ctx.Err() != nil {
			return false
		}
		s.mu.Lock()
		s.lastErr = err
		s.mu.Unlock()
		if errors.Is(err, api.ErrUnauthorized) {
			s.logger.Warn("Session expired, stopping chat poller")
			return false
		}
		s.logger.Warn("Chat poll failed", "error", err)
		return true
	}

	list, changed := s.merge(msgs)
	if changed && s.onChange != nil {
		s.onChange(list)
	}
	return true
}

// merge folds fresh messages into the known set. Known AR messages keep
// their viewed flag and content hash. Hidden messages are dropped.
func (s *Service) merge(fresh []model.Message) ([]model.Message, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, m := range fresh {
		if prev, ok := s.byID[m.ID]; ok && prev.ARMessage != nil && m.ARMessage != nil {
			ar := *prev.ARMessage
			ar.Merge(*m.ARMessage)
			m.ARMessage = &ar
		}
		s.byID[m.ID] = m
	}

	list := make([]model.Message, 0, len(s.byID))
	for id, m := range s.byID {
		if m.Hidden() {
			delete(s.byID, id)
			continue
		}
		list = append(list, m)
	}
	sort.Slice(list, func(i, j int) bool {
		if !list[i].SentAt.Equal(list[j].SentAt) {
			return list[i].SentAt.Before(list[j].SentAt)
		}
		return list[i].ID < list[j].ID
	})

	if sameMessages(list, s.last) {
		return nil, false
	}
	s.last = list
	return append([]model.Message(nil), list...), true
}

// messageKey holds the fields whose change is worth a notification.
type messageKey struct {
	id       int64
	status   model.MessageStatus
	content  string
	isViewed bool
	hash     string
}

func keyOf(m model.Message) messageKey {
	k := messageKey{id: m.ID, status: m.Status, content: m.Content}
	if m.ARMessage != nil {
		k.isViewed = m.ARMessage.IsViewed
		k.hash = m.ARMessage.VideoContentHash
	}
	return k
}

func sameMessages(a, b []model.Message) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if keyOf(a[i]) != keyOf(b[i]) {
			return false
		}
	}
	return true
}

// Messages returns the last emitted list.
func (s *Service) Messages() []model.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]model.Message(nil), s.last...)
}

// Err returns the error of the most recent failed poll, if any.
func (s *Service) Err() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastErr
}
