package telemetry

import (
	"compress/gzip"
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	influxdb2_write "github.com/influxdata/influxdb-client-go/v2/api/write"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eternallink/arlink/internal/config"
)

func TestConnect_Disabled(t *testing.T) {
	m := NewManager(config.InfluxConfig{Enabled: false}, zerolog.Nop(), "")

	assert.ErrorIs(t, m.Connect(context.Background()), ErrDisabled)
	assert.False(t, m.IsValid)
}

func TestPoints(t *testing.T) {
	at := time.Unix(1767323045, 0)

	play := influxdb2_write.PointToLineProtocol(PlaybackPoint(7, "fallback", 1500*time.Millisecond, true, at), time.Second)
	assert.Equal(t, "ar_playback,degraded=true,mode=fallback latency_ms=1500i,message_id=7i 1767323045", strings.TrimSpace(play))

	ver := influxdb2_write.PointToLineProtocol(VerifyPoint(7, "CLAP", "verified", 3*time.Second, at), time.Second)
	assert.Equal(t, "ar_verify,gesture=CLAP,outcome=verified elapsed_ms=3000i,message_id=7i 1767323045", strings.TrimSpace(ver))
}

func TestBackupWriterWhenUnreachable(t *testing.T) {
	path := filepath.Join(t.TempDir(), "telemetry.lp.gz")
	cfg := config.InfluxConfig{Enabled: true, URL: "http://127.0.0.1:1", Org: "eternallink", Bucket: "arlink"}
	m := NewManager(cfg, zerolog.Nop(), path)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, m.Connect(ctx))
	assert.False(t, m.IsValid)

	require.NoError(t, m.WritePlayback(ctx, 7, "runtime", 250*time.Millisecond, false))
	require.NoError(t, m.WriteVerify(ctx, 7, "WAVE", "verified", time.Second))
	require.NoError(t, m.Close())

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	zr, err := gzip.NewReader(f)
	require.NoError(t, err)
	data, err := io.ReadAll(zr)
	require.NoError(t, err)

	assert.Contains(t, string(data), "ar_playback,degraded=false,mode=runtime latency_ms=250i,message_id=7i")
	assert.Contains(t, string(data), "ar_verify,gesture=WAVE,outcome=verified elapsed_ms=1000i,message_id=7i")
}

func TestWritePoint_NoSink(t *testing.T) {
	m := NewManager(config.InfluxConfig{Enabled: true}, zerolog.Nop(), "")

	err := m.WritePlayback(context.Background(), 1, "runtime", 0, false)

	assert.ErrorContains(t, err, "backup writer not available")
}
