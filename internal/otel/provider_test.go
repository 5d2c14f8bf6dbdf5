package otel

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_Disabled(t *testing.T) {
	p, err := New(context.Background(), Config{Enabled: false})
	require.NoError(t, err)

	assert.False(t, p.Enabled())
	assert.Nil(t, p.LoggerProvider())
	assert.NotNil(t, p.Meter("test"))
	assert.NoError(t, p.Flush(context.Background()))
	assert.NoError(t, p.Shutdown(context.Background()))
}

func TestNew_EnabledWithoutSinks(t *testing.T) {
	_, err := New(context.Background(), Config{Enabled: true, ServiceName: "arlink"})
	assert.ErrorIs(t, err, ErrNoSink)
}

func TestNew_Defaults(t *testing.T) {
	p, err := New(context.Background(), Config{})
	require.NoError(t, err)

	assert.Equal(t, DefaultServiceName, p.ServiceName())
	assert.Equal(t, DefaultBatchTimeout, p.config.BatchTimeout)
}

func TestNew_EnabledWithWriter(t *testing.T) {
	var buf bytes.Buffer
	p, err := New(context.Background(), Config{
		Enabled:      true,
		ServiceName:    "arlink",
		ServiceVersion: "0.1.0",
		BatchTimeout:   time.Second,
		LogWriter:      &buf,
	})
	require.NoError(t, err)

	assert.True(t, p.Enabled())
	require.NotNil(t, p.LoggerProvider())
	assert.NoError(t, p.Flush(context.Background()))
	assert.NoError(t, p.Shutdown(context.Background()))
	assert.Nil(t, p.LoggerProvider())
	assert.NoError(t, p.Shutdown(context.Background()), "second shutdown")
}
