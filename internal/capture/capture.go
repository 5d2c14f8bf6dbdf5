// Package capture records an AR video clip, attaches a gesture trigger and
// uploads it.
package capture

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/eternallink/arlink/internal/api"
	"github.com/eternallink/arlink/internal/gesture"
	"github.com/eternallink/arlink/internal/media"
	"github.com/eternallink/arlink/internal/model"
)

// Timeslice is how often the encoder hands over a chunk.
const Timeslice = time.Second

var (
	// ErrInvalidTransition is returned when an operation is not allowed in
	// the current state.
	ErrInvalidTransition = errors.New("invalid capture transition")
	// ErrNoGesture is returned when sending a recorded clip without a
	// selected trigger.
	ErrNoGesture = errors.New("please select a gesture trigger")
)

// State is the recorder lifecycle.
type State int

const (
	Idle State = iota
	Recording
	Recorded
	Uploading
	Sent
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Recording:
		return "recording"
	case Recorded:
		return "recorded"
	case Uploading:
		return "uploading"
	case Sent:
		return "sent"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Uploader publishes a recorded clip and returns its content hash.
type Uploader interface {
	UploadARVideo(ctx context.Context, r api.UploadRequest, video io.Reader) (string, error)
}

// Event is a user-visible notification about a transition.
type Event struct {
	From, To State
	Message  string
	Err      error
}

// Listener receives events after the transition completed.
type Listener func(Event)

// Recorder is the capture state machine. It is safe for concurrent use.
type Recorder struct {
	arbiter  *media.Arbiter
	encoder  media.Encoder
	uploader Uploader
	codecs   []media.Codec
	logger   *slog.Logger
	listener Listener

	mu      sync.Mutex
	state   State
	session uuid.UUID
	stream  media.Stream
	rec     media.Recording
	codec   media.Codec
	blob    model.Blob
	trigger gesture.Gesture
	hash    string
	pending []Event
}

// Option configures a Recorder.
type Option func(*Recorder)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Recorder) { r.logger = l }
}

// WithListener sets the notification callback.
func WithListener(fn Listener) Option {
	return func(r *Recorder) { r.listener = fn }
}

// WithCodecs overrides the codec preference order.
func WithCodecs(codecs ...media.Codec) Option {
	return func(r *Recorder) { r.codecs = codecs }
}

// New creates an idle recorder.
func New(arbiter *media.Arbiter, enc media.Encoder, up Uploader, opts ...Option) *Recorder {
	r := &Recorder{
		arbiter:  arbiter,
		encoder:  enc,
		uploader: up,
		codecs:   media.DefaultCodecs(),
		logger:   slog.Default(),
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Start acquires camera and microphone and begins buffering chunks.
func (r *Recorder) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.flush()
	defer r.mu.Unlock()

	if r.state != Idle {
		return r.invalid("start")
	}

	stream, err := r.arbiter.Acquire(ctx, media.OwnerCapture, media.CaptureConstraints())
	if err != nil {
		r.logger.Warn("Camera access failed", "error", err)
		r.notify(Idle, "Could not access camera", err)
		return err
	}

	codec, err := media.Negotiate(r.encoder, r.codecs...)
	if err != nil {
		stream.Stop()
		r.notify(Idle, "Recording is not supported on this device", err)
		return err
	}
	if len(r.codecs) > 0 && codec != r.codecs[0] {
		r.logger.Info("Recording codec degraded", "preferred", r.codecs[0], "using", codec)
	}

	rec, err := r.encoder.Start(ctx, stream, codec, Timeslice)
	if err != nil {
		stream.Stop()
		err = fmt.Errorf("start recording: %w", err)
		r.notify(Idle, "Could not start recording", err)
		return err
	}

	r.session = uuid.New()
	r.stream = stream
	r.rec = rec
	r.codec = codec
	r.logger.Debug("Recording started", "session", r.session, "codec", codec)
	r.set(Recording, "Recording started")
	return nil
}

// Stop finalises the recording into one blob. The device is released
// before Stop returns, whatever the outcome.
func (r *Recorder) Stop() error {
	r.mu.Lock()
	defer r.flush()
	defer r.mu.Unlock()

	if r.state != Recording {
		return r.invalid("stop")
	}

	data, err := r.rec.Finish()
	r.releaseLocked()
	if err != nil {
		r.logger.Error("Recording failed", "session", r.session, "error", err)
		r.set(Idle, "")
		r.notify(Idle, "Recording failed", err)
		return err
	}

	r.blob = model.Blob{Data: data, ContentType: string(r.codec)}
	r.logger.Debug("Recording stopped", "session", r.session, "bytes", len(data))
	r.set(Recorded, "Recording complete")
	return nil
}

// SelectGesture picks the trigger the recipient must perform. It panics if
// g is not one of gesture.All().
func (r *Recorder) SelectGesture(g gesture.Gesture) error {
	if !g.Valid() {
		panic(fmt.Sprintf("capture: gesture %q is not a selectable trigger", g))
	}

	r.mu.Lock()
	defer r.flush()
	defer r.mu.Unlock()

	if r.state != Recorded {
		return r.invalid("select gesture")
	}
	r.trigger = g
	r.pending = append(r.pending, Event{From: Recorded, To: Recorded, Message: "Gesture selected: " + g.Label()})
	return nil
}

// Send uploads the recorded clip with the selected trigger. meta carries
// everything but the gesture, which is taken from the selection.
// On failure the clip is kept and the recorder returns to Recorded.
func (r *Recorder) Send(ctx context.Context, meta api.UploadRequest) (string, error) {
	r.mu.Lock()
	if r.state != Recorded {
		err := r.invalid("send")
		r.mu.Unlock()
		return "", err
	}
	if !r.trigger.Valid() {
		r.mu.Unlock()
		return "", ErrNoGesture
	}
	meta.Gesture = r.trigger
	data := r.blob.Data
	session := r.session
	r.set(Uploading, "Sending AR video message")
	r.mu.Unlock()
	r.flush()

	hash, err := r.uploader.UploadARVideo(ctx, meta, bytes.NewReader(data))

	r.mu.Lock()
	defer r.flush()
	defer r.mu.Unlock()

	if err != nil {
		r.logger.Error("AR video upload failed", "session", session, "error", err)
		r.set(Recorded, "")
		r.notify(Recorded, "Failed to send AR video message", err)
		return "", err
	}
	r.hash = hash
	r.blob = model.Blob{}
	r.logger.Info("AR video sent", "session", session, "hash", hash, "gesture", meta.Gesture)
	r.set(Sent, "AR video message sent")
	return hash, nil
}

// Cancel discards the clip and selection. From Recording it also stops the
// encoder and releases the device. From Sent it readies the next clip.
func (r *Recorder) Cancel() error {
	r.mu.Lock()
	defer r.flush()
	defer r.mu.Unlock()

	switch r.state {
	case Recording:
		_, _ = r.rec.Finish()
		r.releaseLocked()
	case Recorded, Sent:
	default:
		return r.invalid("cancel")
	}
	r.clear()
	r.set(Idle, "Recording discarded")
	return nil
}

// Close releases any held device. It is safe from any state.
func (r *Recorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.state == Recording {
		_, _ = r.rec.Finish()
		r.state = Idle
	}
	r.releaseLocked()
	return nil
}

// State returns the current state.
func (r *Recorder) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Blob returns the recorded clip while in Recorded or Uploading.
func (r *Recorder) Blob() model.Blob {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.blob
}

// Gesture returns the selected trigger.
func (r *Recorder) Gesture() gesture.Gesture {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.trigger
}

// ContentHash returns the hash assigned by the last successful upload.
func (r *Recorder) ContentHash() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.hash
}

func (r *Recorder) releaseLocked() {
	if r.stream != nil {
		r.stream.Stop()
		r.stream = nil
	}
	r.rec = nil
}

func (r *Recorder) clear() {
	r.blob = model.Blob{}
	r.trigger = gesture.None
	r.hash = ""
	r.codec = ""
}

func (r *Recorder) set(to State, msg string) {
	from := r.state
	r.state = to
	if msg != "" {
		r.pending = append(r.pending, Event{From: from, To: to, Message: msg})
	}
}

func (r *Recorder) notify(state State, msg string, err error) {
	r.pending = append(r.pending, Event{From: r.state, To: state, Message: msg, Err: err})
}

func (r *Recorder) invalid(op string) error {
	return fmt.Errorf("%w: cannot %s while %s", ErrInvalidTransition, op, r.state)
}

// flush delivers queued events outside the lock.
func (r *Recorder) flush() {
	r.mu.Lock()
	events := r.pending
	r.pending = nil
	r.mu.Unlock()

	if r.listener == nil {
		return
	}
	for _, ev := range events {
		r.listener(ev)
	}
}
