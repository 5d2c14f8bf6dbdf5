package logging

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func captureStdout(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	orig := stdout
	stdout = &buf
	t.Cleanup(func() { stdout = orig })
	return &buf
}

func TestSetup_FileOnly_NoStdout(t *testing.T) {
	out := captureStdout(t)

	var fileBuf bytes.Buffer
	m := NewSlogManager()
	m.Setup(&fileBuf, "info", nil)
	m.Logger().Info("hello file")

	assert.Contains(t, fileBuf.String(), "hello file", "log should appear in file")
	assert.Empty(t, out.String(), "nothing should be written to stdout when file is provided")
}

func TestSetup_NoFile_WritesToStdout(t *testing.T) {
	out := captureStdout(t)

	m := NewSlogManager()
	m.Setup(nil, "info", nil)
	m.Logger().Info("hello console")

	assert.Contains(t, out.String(), "hello console")
}

func TestSetup_InfoLevel_FiltersDebug(t *testing.T) {
	var buf bytes.Buffer
	m := NewSlogManager()
	m.Setup(&buf, "info", nil)

	m.Logger().Debug("should be filtered")
	m.Logger().Info("should appear")

	assert.NotContains(t, buf.String(), "should be filtered")
	assert.Contains(t, buf.String(), "should appear")
}

func TestSetup_ExtraHandlersReceiveRecords(t *testing.T) {
	var file, extra bytes.Buffer
	m := NewSlogManager()
	m.Setup(&file, "debug", nil, slog.NewJSONHandler(&extra, nil))

	m.Logger().Info("fan out")

	assert.Contains(t, file.String(), "fan out")
	assert.Contains(t, extra.String(), `"msg":"fan out"`)
}

func TestSetup_TimestampsAreUTC(t *testing.T) {
	var buf bytes.Buffer
	m := NewSlogManager()
	m.Setup(&buf, "info", nil)

	assert.Regexp(t, `time=\d{4}-\d{2}-\d{2}T\d{2}:\d{2}:\d{2}Z`, buf.String())
}

func TestLogger_DefaultBeforeSetup(t *testing.T) {
	m := NewSlogManager()
	assert.Equal(t, slog.Default(), m.Logger())
}

func TestFlush_NilProvider(t *testing.T) {
	m := NewSlogManager()
	assert.NoError(t, m.Flush(context.Background()))
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, ParseLevel("debug"))
	assert.Equal(t, slog.LevelInfo, ParseLevel("INFO"))
	assert.Equal(t, slog.LevelWarn, ParseLevel("warn"))
	assert.Equal(t, slog.LevelError, ParseLevel("Error"))
	assert.Equal(t, slog.LevelInfo, ParseLevel("verbose"))
}

func TestContextHandler_AddsContextAttrs(t *testing.T) {
	var buf bytes.Buffer
	h := NewContextHandler(slog.NewTextHandler(&buf, nil), func() []slog.Attr {
		return []slog.Attr{slog.String("component", "verify")}
	})
	logger := slog.New(h)

	ctx := WithAttrs(context.Background(), slog.Int64("messageId", 42))
	ctx = WithAttrs(ctx, slog.String("gesture", "WAVE"))
	logger.InfoContext(ctx, "frame matched")

	out := buf.String()
	assert.Contains(t, out, "messageId=42")
	assert.Contains(t, out, "gesture=WAVE")
	assert.Contains(t, out, "component=verify")
}

type failingHandler struct{ slog.Handler }

func (failingHandler) Handle(context.Context, slog.Record) error { return errors.New("sink down") }

func TestMultiHandler_FailingSinkDoesNotStopOthers(t *testing.T) {
	var buf bytes.Buffer
	good := slog.NewTextHandler(&buf, nil)
	m := NewMultiHandler(failingHandler{good}, nil, good)

	err := m.Handle(context.Background(), slog.NewRecord(time.Now(), slog.LevelInfo, "still here", 0))

	assert.Error(t, err)
	assert.Contains(t, buf.String(), "still here")
}

func TestMultiHandler_Enabled(t *testing.T) {
	var buf bytes.Buffer
	warnOnly := slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelWarn})
	m := NewMultiHandler(warnOnly)

	assert.False(t, m.Enabled(context.Background(), slog.LevelInfo))
	assert.True(t, m.Enabled(context.Background(), slog.LevelError))
	assert.False(t, NewMultiHandler().Enabled(context.Background(), slog.LevelError))
}

func TestMultiHandler_WithAttrsAndGroup(t *testing.T) {
	var a, b bytes.Buffer
	m := NewMultiHandler(slog.NewTextHandler(&a, nil), slog.NewTextHandler(&b, nil))

	logger := slog.New(m.WithAttrs([]slog.Attr{slog.String("hash", "QmX")}).WithGroup("cache"))
	logger.Info("hit", "bytes", 3)

	for _, out := range []string{a.String(), b.String()} {
		assert.Contains(t, out, "hash=QmX")
		assert.Contains(t, out, "cache.bytes=3")
	}
	assert.Same(t, m, m.WithGroup(""))
}

func TestLogFilePath(t *testing.T) {
	start := time.Date(2026, 2, 12, 21, 38, 36, 0, time.UTC)
	assert.Equal(t,
		filepath.Join("arlinklogs", "arlink.20260212_213836.log"),
		LogFilePath("arlinklogs", "arlink", start),
	)
}

func TestDispatcherLogger(t *testing.T) {
	var buf bytes.Buffer
	l := NewDispatcherLogger(zerolog.New(&buf))

	l.Info("runtime event", "command", "ready", "dangling")
	l.Error("runtime event failed", "error", errors.New("boom"))

	out := buf.String()
	assert.Contains(t, out, `"command":"ready"`)
	assert.Contains(t, out, `"error":"boom"`)
	assert.NotContains(t, out, "dangling")
}

func TestNewGELFHandler(t *testing.T) {
	h, closer, err := NewGELFHandler("127.0.0.1:12201", slog.LevelInfo)
	require.NoError(t, err)
	defer closer.Close()

	assert.True(t, h.Enabled(context.Background(), slog.LevelWarn))
	assert.False(t, h.Enabled(context.Background(), slog.LevelDebug))
}
