package cache

import (
	"context"
	"sync"

	"github.com/eternallink/arlink/internal/model"
)

// KeyPrefix namespaces video entries in a shared store.
const KeyPrefix = "ar-video-"

// Key returns the store key for a content hash.
func Key(hash string) string {
	return KeyPrefix + hash
}

// Store is a persistent key/blob store. Entries are written whole: a reader
// sees either nothing or the complete blob.
type Store interface {
	Get(ctx context.Context, key string) (model.Blob, bool, error)
	Set(ctx context.Context, key string, b model.Blob) error
}

// MemoryStore keeps blobs in a process-wide map.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]model.Blob
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string]model.Blob)}
}

// Get returns a copy of the blob stored under key.
func (s *MemoryStore) Get(_ context.Context, key string) (model.Blob, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.entries[key]
	if !ok {
		return model.Blob{}, false, nil
	}
	return clone(b), true, nil
}

// Set stores a copy of b under key.
func (s *MemoryStore) Set(_ context.Context, key string, b model.Blob) error {
	s.mu.Lock()
	s.entries[key] = clone(b)
	s.mu.Unlock()
	return nil
}

// Len returns the number of entries.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

func clone(b model.Blob) model.Blob {
	data := make([]byte, len(b.Data))
	copy(data, b.Data)
	return model.Blob{Data: data, ContentType: b.ContentType}
}
