// Package model holds the client-side view of chat and AR messages as
// returned by the EternalLink API.
package model

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/eternallink/arlink/internal/gesture"
)

var (
	// ErrHashImmutable is returned when a content hash would be overwritten.
	ErrHashImmutable = errors.New("video content hash already set")
	// ErrInvalidLocation is returned for coordinates outside the WGS84 range.
	ErrInvalidLocation = errors.New("invalid location")
)

// Location is where an AR message is anchored.
type Location struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Altitude  float64 `json:"altitude"`
}

// Validate checks latitude and longitude ranges.
func (l Location) Validate() error {
	if l.Latitude < -90 || l.Latitude > 90 || l.Longitude < -180 || l.Longitude > 180 {
		return fmt.Errorf("%w: %f,%f", ErrInvalidLocation, l.Latitude, l.Longitude)
	}
	return nil
}

// ARMessage is the gesture-gated video payload attached to a chat message.
type ARMessage struct {
	ID               int64           `json:"id,omitempty"`
	Location                         // flattened like the API payload
	ExpiresAt        *time.Time      `json:"expiresAt,omitempty"`
	VideoContentHash string          `json:"videoIpfsHash,omitempty"`
	GestureTrigger   gesture.Gesture `json:"gestureTrigger,omitempty"`
	IsViewed         bool            `json:"isViewed,omitempty"`
}

// Expired reports whether the message must no longer be shown at now.
func (m *ARMessage) Expired(now time.Time) bool {
	return m.ExpiresAt != nil && !now.Before(*m.ExpiresAt)
}

// Eligible reports whether the message can go through AR playback.
// Messages without a trigger render as ordinary messages.
func (m *ARMessage) Eligible(now time.Time) bool {
	return m.GestureTrigger.Valid() && m.VideoContentHash != "" && !m.Expired(now)
}

// MarkViewed flips IsViewed to true. It never reverts.
func (m *ARMessage) MarkViewed() {
	m.IsViewed = true
}

// Merge applies a fresher copy from the server without breaking the
// append-only and immutable fields.
func (m *ARMessage) Merge(fresh ARMessage) {
	viewed := m.IsViewed || fresh.IsViewed
	hash := m.VideoContentHash
	*m = fresh
	m.IsViewed = viewed
	if hash != "" {
		m.VideoContentHash = hash
	}
}

// SetContentHash records the hash assigned by the upload. Once set it
// cannot change.
func (m *ARMessage) SetContentHash(h string) error {
	if m.VideoContentHash != "" && m.VideoContentHash != h {
		return ErrHashImmutable
	}
	m.VideoContentHash = h
	return nil
}

// MessageStatus is the delivery state of a chat message.
type MessageStatus string

const (
	StatusSent      MessageStatus = "SENT"
	StatusDelivered MessageStatus = "DELIVERED"
	StatusSeen      MessageStatus = "SEEN"
)

// Sender is the author of a chat message.
type Sender struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
	Email    string `json:"email,omitempty"`
}

// File is an attachment stored by content hash.
type File struct {
	Name        string `json:"fileName"`
	Type        string `json:"fileType"`
	Size        int64  `json:"fileSize"`
	ContentHash string `json:"fileIpfsHash"`
}

// Message is a chat message as returned by the chat poll.
type Message struct {
	ID            int64         `json:"id"`
	Content       string        `json:"content"`
	Sender        *Sender       `json:"sender,omitempty"`
	SentAt        time.Time     `json:"sentAt"`
	Status        MessageStatus `json:"status"`
	ExpiresAt     *time.Time    `json:"expiresAt,omitempty"`
	IsOneTimeView bool          `json:"isOneTimeView,omitempty"`
	IsEncrypted   bool          `json:"isEncrypted,omitempty"`
	ARMessage     *ARMessage    `json:"arMessage,omitempty"`
	File          *File         `json:"file,omitempty"`
}

// Hidden reports whether the message should be dropped from the list:
// one-time-view messages disappear once seen.
func (m Message) Hidden() bool {
	return m.IsOneTimeView && m.Status == StatusSeen
}

// ParseExpiration converts a picker value such as "5-minutes", "2-hours" or
// "1-days" into a duration. "off" and "" mean no expiry and return 0.
func ParseExpiration(opt string) (time.Duration, error) {
	if opt == "" || opt == "off" {
		return 0, nil
	}
	amount, unit, ok := strings.Cut(opt, "-")
	if !ok {
		return 0, fmt.Errorf("invalid expiration option: %q", opt)
	}
	n, err := strconv.Atoi(amount)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("invalid expiration amount: %q", opt)
	}
	switch unit {
	case "minutes":
		return time.Duration(n) * time.Minute, nil
	case "hours":
		return time.Duration(n) * time.Hour, nil
	case "days":
		return time.Duration(n) * 24 * time.Hour, nil
	default:
		return 0, fmt.Errorf("invalid expiration unit: %q", opt)
	}
}

// ExpiresAtFrom returns now+d, or nil when d is zero.
func ExpiresAtFrom(now time.Time, d time.Duration) *time.Time {
	if d <= 0 {
		return nil
	}
	t := now.Add(d).UTC()
	return &t
}
