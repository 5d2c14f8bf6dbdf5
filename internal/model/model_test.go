package model

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eternallink/arlink/internal/gesture"
)

func TestARMessage_Expired(t *testing.T) {
	now := time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC)
	past := now.Add(-time.Minute)
	future := now.Add(time.Minute)

	assert.False(t, (&ARMessage{}).Expired(now))
	assert.True(t, (&ARMessage{ExpiresAt: &past}).Expired(now))
	assert.True(t, (&ARMessage{ExpiresAt: &now}).Expired(now), "expiry instant itself is expired")
	assert.False(t, (&ARMessage{ExpiresAt: &future}).Expired(now))
}

func TestARMessage_Eligible(t *testing.T) {
	now := time.Now()
	past := now.Add(-time.Hour)

	assert.True(t, (&ARMessage{GestureTrigger: gesture.Wave, VideoContentHash: "Qm1"}).Eligible(now))
	assert.False(t, (&ARMessage{VideoContentHash: "Qm1"}).Eligible(now), "no trigger")
	assert.False(t, (&ARMessage{GestureTrigger: gesture.Wave}).Eligible(now), "no video yet")
	assert.False(t, (&ARMessage{GestureTrigger: gesture.Wave, VideoContentHash: "Qm1", ExpiresAt: &past}).Eligible(now))
}

func TestARMessage_MarkViewedNeverReverts(t *testing.T) {
	m := &ARMessage{}
	m.MarkViewed()
	assert.True(t, m.IsViewed)

	m.Merge(ARMessage{IsViewed: false, GestureTrigger: gesture.Clap})
	assert.True(t, m.IsViewed)
	assert.Equal(t, gesture.Clap, m.GestureTrigger)
}

func TestARMessage_HashImmutable(t *testing.T) {
	m := &ARMessage{}
	require.NoError(t, m.SetContentHash("QmA"))
	require.NoError(t, m.SetContentHash("QmA"))
	assert.ErrorIs(t, m.SetContentHash("QmB"), ErrHashImmutable)
	assert.Equal(t, "QmA", m.VideoContentHash)

	m.Merge(ARMessage{VideoContentHash: "QmC"})
	assert.Equal(t, "QmA", m.VideoContentHash)
}

func TestLocation_Validate(t *testing.T) {
	assert.NoError(t, Location{Latitude: 48.85, Longitude: 2.35}.Validate())
	assert.ErrorIs(t, Location{Latitude: 91}.Validate(), ErrInvalidLocation)
	assert.ErrorIs(t, Location{Longitude: -181}.Validate(), ErrInvalidLocation)
}

func TestMessage_DecodeFromAPI(t *testing.T) {
	raw := `{
		"id": 7,
		"content": "(AR Video Message)",
		"sender": {"id": 2, "username": "ada"},
		"sentAt": "2026-10-01T12:00:00Z",
		"status": "DELIVERED",
		"arMessage": {
			"latitude": 48.85, "longitude": 2.35, "altitude": 35,
			"expiresAt": "2026-10-02T12:00:00Z",
			"videoIpfsHash": "QmHash",
			"gestureTrigger": "PEACE",
			"isViewed": false
		}
	}`

	var m Message
	require.NoError(t, json.Unmarshal([]byte(raw), &m))
	require.NotNil(t, m.ARMessage)
	assert.Equal(t, int64(7), m.ID)
	assert.Equal(t, "ada", m.Sender.Username)
	assert.Equal(t, gesture.Peace, m.ARMessage.GestureTrigger)
	assert.Equal(t, 48.85, m.ARMessage.Latitude)
	assert.Equal(t, "QmHash", m.ARMessage.VideoContentHash)
	require.NotNil(t, m.ARMessage.ExpiresAt)
}

func TestMessage_DecodeRejectsUnknownGesture(t *testing.T) {
	var m ARMessage
	err := json.Unmarshal([]byte(`{"gestureTrigger":"SALUTE"}`), &m)
	assert.Error(t, err)
}

func TestMessage_Hidden(t *testing.T) {
	assert.True(t, Message{IsOneTimeView: true, Status: StatusSeen}.Hidden())
	assert.False(t, Message{IsOneTimeView: true, Status: StatusDelivered}.Hidden())
	assert.False(t, Message{Status: StatusSeen}.Hidden())
}

func TestParseExpiration(t *testing.T) {
	tests := []struct {
		in      string
		want    time.Duration
		wantErr bool
	}{
		{"off", 0, false},
		{"", 0, false},
		{"5-minutes", 5 * time.Minute, false},
		{"2-hours", 2 * time.Hour, false},
		{"1-days", 24 * time.Hour, false},
		{"x-days", 0, true},
		{"3-weeks", 0, true},
		{"10", 0, true},
		{"-1-hours", 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseExpiration(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestExpiresAtFrom(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	assert.Nil(t, ExpiresAtFrom(now, 0))
	got := ExpiresAtFrom(now, time.Hour)
	require.NotNil(t, got)
	assert.Equal(t, now.Add(time.Hour), *got)
}
