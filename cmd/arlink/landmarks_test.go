package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eternallink/arlink/internal/gesture"
	"github.com/eternallink/arlink/internal/media"
	"github.com/eternallink/arlink/internal/model"
)

func TestLandmarkSource_ReadsFrames(t *testing.T) {
	path := filepath.Join(t.TempDir(), "frames.jsonl")
	data := `{"hands":[],"at":"2026-01-02T03:04:05Z"}
{"hands":[{"handedness":"Right","landmarks":[{"x":0.5,"y":0.5,"z":0}]}]}
`
	require.NoError(t, os.WriteFile(path, []byte(data), 0o644))

	stream, err := media.FileDevice{Path: path}.Acquire(context.Background(), media.VerifyConstraints())
	require.NoError(t, err)
	defer stream.Stop()

	src := &landmarkSource{}
	img, err := src.Grab(context.Background(), stream)
	require.NoError(t, err)
	first, err := frameDetector{}.Detect(context.Background(), img)
	require.NoError(t, err)
	assert.Empty(t, first.Hands)
	assert.Equal(t, time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC), first.At)

	img, err = src.Grab(context.Background(), stream)
	require.NoError(t, err)
	second := img.(gesture.Frame)
	require.Len(t, second.Hands, 1)
	assert.Equal(t, "Right", second.Hands[0].Handedness)
	assert.Equal(t, 0.5, second.Hands[0].Landmarks[gesture.Wrist].X)
	assert.False(t, second.At.IsZero())

	_, err = src.Grab(context.Background(), stream)
	assert.ErrorIs(t, err, errNoMoreFrames)
}

func TestFrameDetector_RejectsOtherImages(t *testing.T) {
	_, err := frameDetector{}.Detect(context.Background(), []byte{1})
	assert.Error(t, err)
}

func TestTickerClock(t *testing.T) {
	c := newTickerClock(0)
	defer c.Stop()

	select {
	case <-c.Ticks():
	case <-time.After(time.Second):
		t.Fatal("no tick")
	}
}

func TestPrintMessages(t *testing.T) {
	now := time.Date(2026, 1, 2, 12, 0, 0, 0, time.UTC)
	past := now.Add(-time.Minute)
	msgs := []model.Message{
		{ID: 1, Content: "hi", Sender: &model.Sender{Username: "ana"}, SentAt: now},
		{ID: 2, Content: "(AR Video Message)", SentAt: now, ARMessage: &model.ARMessage{
			GestureTrigger: gesture.Wave, VideoContentHash: "Qm1",
		}},
		{ID: 3, Content: "(AR Video Message)", SentAt: now, ARMessage: &model.ARMessage{
			GestureTrigger: gesture.Clap, VideoContentHash: "Qm2", ExpiresAt: &past,
		}},
		{ID: 4, Content: "(AR Video Message)", SentAt: now, ARMessage: &model.ARMessage{
			GestureTrigger: gesture.Peace, VideoContentHash: "Qm3", IsViewed: true,
		}},
	}

	var buf bytes.Buffer
	printMessages(&buf, msgs, now)

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 5)
	assert.Equal(t, "--- 4 messages", lines[0])
	assert.Contains(t, lines[1], "#1 ana: hi")
	assert.Contains(t, lines[2], "[AR: perform "+gesture.Wave.Label()+"]")
	assert.Contains(t, lines[3], "[AR expired]")
	assert.Contains(t, lines[4], "[AR viewed]")
}
