package checkpoint

import (
	"context"
	"sync"

	"github.com/windrose/conductor/core"
)

// MemoryStore is an in-process Store for tests and single-shot runs,
// following the sync.RWMutex-guarded map idiom of gomind/core/memory_store.go.
type MemoryStore struct {
	mu   sync.RWMutex
	data map[string]map[string][]byte
}

// NewMemoryStore builds an empty in-memory Store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: make(map[string]map[string][]byte)}
}

func (s *MemoryStore) Put(_ context.Context, ns Namespace, key string, blob []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	nsKey := ns.flatten()
	bucket, ok := s.data[nsKey]
	if !ok {
		bucket = make(map[string][]byte)
		s.data[nsKey] = bucket
	}
	cp := make([]byte, len(blob))
	copy(cp, blob)
	bucket[key] = cp
	return nil
}

func (s *MemoryStore) Get(_ context.Context, ns Namespace, key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	bucket, ok := s.data[ns.flatten()]
	if !ok {
		return nil, core.NewError("checkpoint.get", core.KindInvalidRequest, ErrMiss)
	}
	blob, ok := bucket[key]
	if !ok {
		return nil, core.NewError("checkpoint.get", core.KindInvalidRequest, ErrMiss)
	}
	cp := make([]byte, len(blob))
	copy(cp, blob)
	return cp, nil
}

func (s *MemoryStore) Delete(_ context.Context, ns Namespace, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if bucket, ok := s.data[ns.flatten()]; ok {
		delete(bucket, key)
	}
	return nil
}

func (s *MemoryStore) ListKeys(_ context.Context, ns Namespace) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	bucket, ok := s.data[ns.flatten()]
	if !ok {
		return nil, nil
	}
	keys := make([]string, 0, len(bucket))
	for k := range bucket {
		keys = append(keys, k)
	}
	return keys, nil
}
