package cache

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eternallink/arlink/internal/config"
	"github.com/eternallink/arlink/internal/database"
	"github.com/eternallink/arlink/internal/model"
)

type countingFetcher struct {
	calls atomic.Int32
	blob  model.Blob
	err   error
	gate  chan struct{}
}

func (f *countingFetcher) Download(ctx context.Context, _ string) (model.Blob, error) {
	f.calls.Add(1)
	if f.gate != nil {
		select {
		case <-f.gate:
		case <-ctx.Done():
			return model.Blob{}, ctx.Err()
		}
	}
	return f.blob, f.err
}

func newDBStore(t *testing.T) *DBStore {
	t.Helper()
	m := database.NewManager(config.CacheConfig{
		Type:       "sqlite",
		SQLitePath: filepath.Join(t.TempDir(), "cache.db"),
	}, zerolog.Nop())
	require.NoError(t, m.Connect())
	t.Cleanup(func() { _ = m.Close() })

	s, err := NewDBStore(m.DB, zerolog.Nop())
	require.NoError(t, err)
	return s
}

func TestKey(t *testing.T) {
	assert.Equal(t, "ar-video-QmA", Key("QmA"))
}

func TestStores(t *testing.T) {
	stores := map[string]func(t *testing.T) Store{
		"memory": func(*testing.T) Store { return NewMemoryStore() },
		"sqlite": func(t *testing.T) Store { return newDBStore(t) },
	}
	for name, mk := range stores {
		t.Run(name, func(t *testing.T) {
			s := mk(t)
			ctx := context.Background()

			_, ok, err := s.Get(ctx, "missing")
			require.NoError(t, err)
			assert.False(t, ok)

			blob := model.Blob{Data: []byte("clip"), ContentType: "video/webm"}
			require.NoError(t, s.Set(ctx, Key("QmA"), blob))

			got, ok, err := s.Get(ctx, Key("QmA"))
			require.NoError(t, err)
			require.True(t, ok)
			assert.Equal(t, blob, got)

			// Overwrite is a whole-entry replace.
			require.NoError(t, s.Set(ctx, Key("QmA"), model.Blob{Data: []byte("v2"), ContentType: "video/mp4"}))
			got, _, _ = s.Get(ctx, Key("QmA"))
			assert.Equal(t, "v2", string(got.Data))
			assert.Equal(t, "video/mp4", got.ContentType)
		})
	}
}

func TestMemoryStore_ReturnsCopies(t *testing.T) {
	s := NewMemoryStore()
	data := []byte("abc")
	require.NoError(t, s.Set(context.Background(), "k", model.Blob{Data: data}))
	data[0] = 'x'

	got, _, _ := s.Get(context.Background(), "k")
	assert.Equal(t, "abc", string(got.Data))
	assert.Equal(t, 1, s.Len())
}

func TestDBStore_Stats(t *testing.T) {
	s := newDBStore(t)
	ctx := context.Background()
	require.NoError(t, s.Set(ctx, "a", model.Blob{Data: []byte("123")}))
	require.NoError(t, s.Set(ctx, "b", model.Blob{Data: []byte("45")}))

	count, bytes, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)
	assert.Equal(t, int64(5), bytes)
}

func TestVideoCache_SecondLoadHitsCache(t *testing.T) {
	f := &countingFetcher{blob: model.Blob{Data: []byte("clip"), ContentType: "video/webm"}}
	c, err := NewVideoCache(newDBStore(t), f, nil)
	require.NoError(t, err)

	first, err := c.Load(context.Background(), "QmA")
	require.NoError(t, err)
	second, err := c.Load(context.Background(), "QmA")
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, int32(1), f.calls.Load())
}

func TestVideoCache_FetchErrorIsNotCached(t *testing.T) {
	store := NewMemoryStore()
	f := &countingFetcher{err: errors.New("gateway timeout")}
	c, err := NewVideoCache(store, f, nil)
	require.NoError(t, err)

	_, err = c.Load(context.Background(), "QmA")
	assert.ErrorContains(t, err, "gateway timeout")
	assert.Equal(t, 0, store.Len())

	f.err = nil
	f.blob = model.Blob{Data: []byte("clip")}
	_, err = c.Load(context.Background(), "QmA")
	require.NoError(t, err)
	assert.Equal(t, int32(2), f.calls.Load())
}

func TestVideoCache_EmptyPayload(t *testing.T) {
	store := NewMemoryStore()
	c, err := NewVideoCache(store, &countingFetcher{}, nil)
	require.NoError(t, err)

	_, err = c.Load(context.Background(), "QmA")
	assert.Error(t, err)
	assert.Equal(t, 0, store.Len())
}

func TestVideoCache_EmptyHash(t *testing.T) {
	c, err := NewVideoCache(NewMemoryStore(), &countingFetcher{}, nil)
	require.NoError(t, err)

	_, err = c.Load(context.Background(), "")
	assert.ErrorIs(t, err, ErrEmptyHash)
}

func TestVideoCache_ConcurrentMissesShareFetch(t *testing.T) {
	f := &countingFetcher{blob: model.Blob{Data: []byte("clip")}, gate: make(chan struct{})}
	c, err := NewVideoCache(NewMemoryStore(), f, nil)
	require.NoError(t, err)

	const n = 8
	var wg sync.WaitGroup
	results := make([]model.Blob, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], _ = c.Load(context.Background(), "QmA")
		}(i)
	}
	// Let the first fetch start, then release it.
	require.Eventually(t, func() bool { return f.calls.Load() == 1 }, time.Second, time.Millisecond)
	close(f.gate)
	wg.Wait()

	assert.Equal(t, int32(1), f.calls.Load())
	for _, r := range results {
		assert.Equal(t, "clip", string(r.Data))
	}
}

func TestVideoCache_CanceledCallerDoesNotFailOthers(t *testing.T) {
	f := &countingFetcher{blob: model.Blob{Data: []byte("clip")}, gate: make(chan struct{})}
	store := NewMemoryStore()
	c, err := NewVideoCache(store, f, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	first := make(chan error, 1)
	go func() {
		_, err := c.Load(ctx, "QmA")
		first <- err
	}()
	require.Eventually(t, func() bool { return f.calls.Load() == 1 }, time.Second, time.Millisecond)

	second := make(chan model.Blob, 1)
	go func() {
		b, err := c.Load(context.Background(), "QmA")
		assert.NoError(t, err)
		second <- b
	}()
	time.Sleep(20 * time.Millisecond)

	cancel()
	assert.ErrorIs(t, <-first, context.Canceled)

	close(f.gate)
	assert.Equal(t, "clip", string((<-second).Data))
	assert.Equal(t, int32(1), f.calls.Load())

	_, ok, err := store.Get(context.Background(), Key("QmA"))
	require.NoError(t, err)
	assert.True(t, ok, "fetch finished and was stored after the first caller left")
}
