package gesture

import (
	"context"
	"errors"
	"math"
	"time"
)

// LandmarkCount is the number of keypoints the detector emits per hand.
const LandmarkCount = 21

// Landmark indices used by the classifier.
const (
	Wrist     = 0
	ThumbTip  = 4
	IndexTip  = 8
	MiddleTip = 12
	RingTip   = 16
	PinkyTip  = 20
)

// Landmark is a keypoint in normalized image coordinates.
type Landmark struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// Hand is one detected hand.
type Hand struct {
	Landmarks  [LandmarkCount]Landmark `json:"landmarks"`
	Handedness string                  `json:"handedness"` // "Left" or "Right"
}

// Frame is the detector output for a single camera frame.
type Frame struct {
	Hands []Hand    `json:"hands"`
	At    time.Time `json:"at"`
}

// Image is an opaque camera frame handed to the detector.
type Image any

// Detector maps camera frames to hand landmarks.
type Detector interface {
	Detect(ctx context.Context, img Image) (Frame, error)
	Close() error
}

// Thresholds are the tunable distances of the geometric rules, in normalized
// image units.
type Thresholds struct {
	Extended     float64 `mapstructure:"extended"`     // fingertip-to-wrist distance of an extended finger
	Folded       float64 `mapstructure:"folded"`       // fingertip-to-wrist distance of a folded finger
	ThumbMargin  float64 `mapstructure:"thumbMargin"`  // how far the thumb tip must sit above the wrist
	ClapDistance float64 `mapstructure:"clapDistance"` // max distance between hand centroids
}

// DefaultThresholds returns the values the gesture rules were tuned with.
func DefaultThresholds() Thresholds {
	return Thresholds{
		Extended:     0.2,
		Folded:       0.15,
		ThumbMargin:  0.1,
		ClapDistance: 0.1,
	}
}

// ErrInvalidThresholds is returned by Validate.
var ErrInvalidThresholds = errors.New("invalid gesture thresholds")

// Validate checks that all thresholds are positive and Folded < Extended.
func (t Thresholds) Validate() error {
	if t.Extended <= 0 || t.Folded <= 0 || t.ThumbMargin <= 0 || t.ClapDistance <= 0 {
		return ErrInvalidThresholds
	}
	if t.Folded >= t.Extended {
		return ErrInvalidThresholds
	}
	return nil
}

// Classifier turns a Frame into a Gesture using finger extension heuristics.
type Classifier struct {
	t Thresholds
}

// NewClassifier creates a classifier. Invalid thresholds fall back to the defaults.
func NewClassifier(t Thresholds) *Classifier {
	if t.Validate() != nil {
		t = DefaultThresholds()
	}
	return &Classifier{t: t}
}

// Thresholds returns the thresholds in use.
func (c *Classifier) Thresholds() Thresholds {
	return c.t
}

// Classify evaluates the rules in order PEACE, THUMBS_UP, WAVE, CLAP and
// returns the first match. The first hand is the dominant one.
func (c *Classifier) Classify(f Frame) Gesture {
	if len(f.Hands) == 0 {
		return None
	}
	lm := f.Hands[0].Landmarks
	wrist := lm[Wrist]
	index := distance(lm[IndexTip], wrist)
	middle := distance(lm[MiddleTip], wrist)
	ring := distance(lm[RingTip], wrist)
	pinky := distance(lm[PinkyTip], wrist)

	if index > c.t.Extended && middle > c.t.Extended && ring < c.t.Folded && pinky < c.t.Folded {
		return Peace
	}

	// y grows downwards in image coordinates
	if lm[ThumbTip].Y < wrist.Y-c.t.ThumbMargin &&
		lm[IndexTip].Y > wrist.Y &&
		lm[MiddleTip].Y > wrist.Y &&
		lm[RingTip].Y > wrist.Y &&
		lm[PinkyTip].Y > wrist.Y {
		return ThumbsUp
	}

	if index > c.t.Extended && middle > c.t.Extended && ring > c.t.Extended && pinky > c.t.Extended {
		return Wave
	}

	if len(f.Hands) >= 2 {
		if distance(Centroid(f.Hands[0]), Centroid(f.Hands[1])) < c.t.ClapDistance {
			return Clap
		}
	}

	return None
}

// Centroid is the mean of all landmarks of a hand.
func Centroid(h Hand) Landmark {
	var sx, sy, sz float64
	for _, l := range h.Landmarks {
		sx += l.X
		sy += l.Y
		sz += l.Z
	}
	n := float64(len(h.Landmarks))
	return Landmark{X: sx / n, Y: sy / n, Z: sz / n}
}

// distance is the 2D euclidean distance; depth is too noisy to use.
func distance(a, b Landmark) float64 {
	return math.Hypot(a.X-b.X, a.Y-b.Y)
}
