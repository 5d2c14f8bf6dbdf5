// Package verify runs the gesture verification loop that unlocks an AR
// video message.
package verify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/eternallink/arlink/internal/gesture"
	"github.com/eternallink/arlink/internal/logging"
	"github.com/eternallink/arlink/internal/media"
	"github.com/eternallink/arlink/internal/model"
)

var (
	// ErrAlreadyViewed is returned when the message was verified before.
	ErrAlreadyViewed = errors.New("AR message already viewed")
	// ErrNoTrigger is returned for messages without a gesture trigger.
	ErrNoTrigger = errors.New("AR message has no gesture trigger")
	// ErrRejected is returned when the server declines the view.
	ErrRejected = errors.New("gesture verification rejected")
	// ErrRunning is returned when Run is called while a run is active.
	ErrRunning = errors.New("verification already running")
	// ErrExpired is returned for messages past their expiry.
	ErrExpired = errors.New("AR message expired")
)

// State is the verification lifecycle.
type State int

const (
	Idle State = iota
	Detecting
	Verifying // MarkViewed in flight
	Verified
	Unverified
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Detecting:
		return "detecting"
	case Verifying:
		return "verifying"
	case Verified:
		return "verified"
	case Unverified:
		return "unverified"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// FrameClock paces the loop, typically at the display refresh rate.
type FrameClock interface {
	Ticks() <-chan time.Time
}

// FrameSource grabs the current camera image from an acquired stream.
type FrameSource interface {
	Grab(ctx context.Context, s media.Stream) (gesture.Image, error)
}

// MarkViewer records a successful view on the server.
type MarkViewer interface {
	MarkViewed(ctx context.Context, id int64, performed gesture.Gesture) (bool, error)
}

// DetectorFactory creates a landmark detector for one run.
type DetectorFactory func(ctx context.Context) (gesture.Detector, error)

// Snapshot is the latest detection, for overlay rendering.
type Snapshot struct {
	Frame gesture.Frame
	Label gesture.Gesture
}

// Token proves a message passed verification. Playback requires it.
type Token struct {
	MessageID int64
	Gesture   gesture.Gesture
	At        time.Time
}

// Session verifies one AR message. Create one per message.
type Session struct {
	msg         *model.ARMessage
	arbiter     *media.Arbiter
	source      FrameSource
	clock       FrameClock
	newDetector DetectorFactory
	classifier  *gesture.Classifier
	viewer      MarkViewer
	logger      *slog.Logger

	calls metric.Int64Counter

	mu       sync.Mutex
	state    State
	running  bool
	snapshot Snapshot
	token    *Token
	lastErr  error
}

// Deps are the collaborators of a Session.
type Deps struct {
	Arbiter     *media.Arbiter
	Source      FrameSource
	Clock       FrameClock
	NewDetector DetectorFactory
	Classifier  *gesture.Classifier
	Viewer      MarkViewer
	Logger      *slog.Logger
}

// NewSession creates a session for msg. The session updates msg.IsViewed
// on success.
func NewSession(msg *model.ARMessage, d Deps) (*Session, error) {
	if d.Classifier == nil {
		d.Classifier = gesture.NewClassifier(gesture.DefaultThresholds())
	}
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	calls, err := meter().Int64Counter(
		"verify.mark_viewed.calls",
		metric.WithDescription("MarkViewed calls by result"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating mark viewed counter: %w", err)
	}
	s := &Session{
		msg:         msg,
		arbiter:     d.Arbiter,
		source:      d.Source,
		clock:       d.Clock,
		newDetector: d.NewDetector,
		classifier:  d.Classifier,
		viewer:      d.Viewer,
		logger:      d.Logger,
		calls:       calls,
	}
	if msg.IsViewed {
		s.state = Verified
	}
	return s, nil
}

type result struct {
	ok  bool
	err error
}

// Run detects gestures until the target is verified, the server call
// fails, or ctx is done. The camera and detector are released on return.
// A failed run can be retried by calling Run again.
func (s *Session) Run(ctx context.Context) (err error) {
	s.mu.Lock()
	switch {
	case s.running:
		s.mu.Unlock()
		return ErrRunning
	case s.msg.IsViewed || s.state == Verified:
		s.mu.Unlock()
		return ErrAlreadyViewed
	case !s.msg.GestureTrigger.Valid():
		s.mu.Unlock()
		return ErrNoTrigger
	case s.msg.Expired(time.Now()):
		s.mu.Unlock()
		return ErrExpired
	}
	s.running = true
	s.state = Detecting
	s.lastErr = nil
	s.mu.Unlock()

	target := s.msg.GestureTrigger
	ctx = logging.WithAttrs(ctx, slog.Int64("messageId", s.msg.ID), slog.String("target", target.String()))

	defer func() {
		s.mu.Lock()
		s.running = false
		if err != nil && s.state != Verified {
			s.state = Unverified
			s.lastErr = err
		}
		s.mu.Unlock()
	}()

	stream, err := s.arbiter.Acquire(ctx, media.OwnerVerify, media.VerifyConstraints())
	if err != nil {
		return err
	}
	defer stream.Stop()

	det, err := s.newDetector(ctx)
	if err != nil {
		return fmt.Errorf("init detector: %w", err)
	}
	closeDetector := sync.OnceFunc(func() {
		if cerr := det.Close(); cerr != nil {
			s.logger.WarnContext(ctx, "Detector close failed", "error", cerr)
		}
	})
	defer closeDetector()

	var (
		resCh    = make(chan result, 1)
		inFlight bool
		label    gesture.Gesture
	)

	for {
		select {
		case <-ctx.Done():
			if inFlight {
				stream.Stop()
				closeDetector()
				// The server may still accept the view; keep its answer.
				if r := <-resCh; r.err == nil && r.ok {
					s.verified(ctx, label)
					return nil
				}
			}
			return ctx.Err()

		case r := <-resCh:
			inFlight = false
			if r.err == nil && !r.ok {
				r.err = ErrRejected
			}
			if r.err != nil {
				s.calls.Add(ctx, 1, metric.WithAttributes(attribute.String("result", "error")))
				s.logger.ErrorContext(ctx, "Gesture verification failed", "error", r.err)
				return fmt.Errorf("verify gesture: %w", r.err)
			}
			s.calls.Add(ctx, 1, metric.WithAttributes(attribute.String("result", "ok")))
			s.verified(ctx, label)
			return nil

		case <-s.clock.Ticks():
			img, err := s.source.Grab(ctx, stream)
			if err != nil {
				s.logger.DebugContext(ctx, "Frame grab failed", "error", err)
				continue
			}
			frame, err := det.Detect(ctx, img)
			if err != nil {
				s.logger.DebugContext(ctx, "Detection failed", "error", err)
				continue
			}
			got := s.classifier.Classify(frame)
			s.publish(frame, got)

			if got != target || inFlight {
				continue
			}
			if s.msg.Expired(time.Now()) {
				s.logger.InfoContext(ctx, "AR message expired during verification")
				return ErrExpired
			}
			inFlight = true
			label = got
			s.setState(Verifying)
			s.logger.InfoContext(ctx, "Target gesture detected")
			go func() {
				ok, err := s.viewer.MarkViewed(ctx, s.msg.ID, got)
				resCh <- result{ok: ok, err: err}
			}()
		}
	}
}

func (s *Session) verified(ctx context.Context, g gesture.Gesture) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = Verified
	s.msg.MarkViewed()
	s.token = &Token{MessageID: s.msg.ID, Gesture: g, At: time.Now()}
	s.logger.InfoContext(ctx, "Gesture verified")
}

func (s *Session) publish(f gesture.Frame, g gesture.Gesture) {
	s.mu.Lock()
	s.snapshot = Snapshot{Frame: f, Label: g}
	s.mu.Unlock()
}

func (s *Session) setState(st State) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}

// Snapshot returns the latest detection.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshot
}

// State returns the current state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Err returns the error of the last failed run.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr
}

// Token returns the verification proof, or nil if not verified in this
// session.
func (s *Session) Token() *Token {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.token
}
