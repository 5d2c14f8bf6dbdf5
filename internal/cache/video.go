package cache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/sync/singleflight"

	"github.com/eternallink/arlink/internal/model"
)

const instrumentationName = "github.com/eternallink/arlink/internal/cache"

// ErrEmptyHash is returned when loading without a content hash.
var ErrEmptyHash = errors.New("empty content hash")

// Fetcher downloads a blob from the content store.
type Fetcher interface {
	Download(ctx context.Context, hash string) (model.Blob, error)
}

// VideoCache serves videos from the store, fetching and storing on a miss.
// Entries are never invalidated.
type VideoCache struct {
	store   Store
	fetcher Fetcher
	logger  *slog.Logger
	group   singleflight.Group

	hits   metric.Int64Counter
	misses metric.Int64Counter
}

// NewVideoCache creates a cache over store and fetcher.
// Uses the global OTel meter for metrics (no-op if not configured).
func NewVideoCache(store Store, fetcher Fetcher, logger *slog.Logger) (*VideoCache, error) {
	if logger == nil {
		logger = slog.Default()
	}
	m := otel.Meter(instrumentationName)

	hits, err := m.Int64Counter("cache.video.hits", metric.WithDescription("Video loads served from the local cache"))
	if err != nil {
		return nil, fmt.Errorf("creating hits counter: %w", err)
	}
	misses, err := m.Int64Counter("cache.video.misses", metric.WithDescription("Video loads fetched from the content store"))
	if err != nil {
		return nil, fmt.Errorf("creating misses counter: %w", err)
	}
	return &VideoCache{store: store, fetcher: fetcher, logger: logger, hits: hits, misses: misses}, nil
}

// Load returns the video for hash. A hit never touches the network. On a
// miss the blob is fetched and written to the store before it is returned;
// concurrent misses for one hash share a single fetch, which keeps going
// when the caller that started it gives up.
func (c *VideoCache) Load(ctx context.Context, hash string) (model.Blob, error) {
	if hash == "" {
		return model.Blob{}, ErrEmptyHash
	}
	key := Key(hash)

	if b, ok, err := c.store.Get(ctx, key); err != nil {
		c.logger.WarnContext(ctx, "Cache read failed, fetching", "key", key, "error", err)
	} else if ok {
		c.hits.Add(ctx, 1)
		c.logger.DebugContext(ctx, "Loaded video from cache", "key", key)
		return b, nil
	}

	// The shared fetch outlives any single caller; each caller stops
	// waiting on its own ctx.
	fetchCtx := context.WithoutCancel(ctx)
	ch := c.group.DoChan(key, func() (any, error) {
		// Another caller may have filled the entry while we waited.
		if b, ok, err := c.store.Get(fetchCtx, key); err == nil && ok {
			return b, nil
		}
		c.misses.Add(fetchCtx, 1)
		b, err := c.fetcher.Download(fetchCtx, hash)
		if err != nil {
			return model.Blob{}, fmt.Errorf("fetch video %s: %w", hash, err)
		}
		if b.Empty() {
			return model.Blob{}, fmt.Errorf("fetch video %s: empty payload", hash)
		}
		if err := c.store.Set(fetchCtx, key, b); err != nil {
			return model.Blob{}, err
		}
		c.logger.InfoContext(fetchCtx, "Cached video", "key", key, "bytes", b.Size())
		return b, nil
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return model.Blob{}, res.Err
		}
		return res.Val.(model.Blob), nil
	case <-ctx.Done():
		return model.Blob{}, ctx.Err()
	}
}
