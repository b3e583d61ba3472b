package storage

import (
	"context"
	"sync"
)

// memStore keeps documents in process memory. Used when storage is disabled
// and by tests; its semantics match the durable drivers minus the surviving.
type memStore struct {
	mu   sync.Mutex
	docs map[string][]byte
}

// NewMem returns a volatile in-memory document store.
func NewMem() DocStore {
	return &memStore{docs: map[string][]byte{}}
}

func (s *memStore) Load(ctx context.Context, name string) ([]byte, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.docs[name]
	if !ok {
		return nil, ErrNotFound
	}
	return append([]byte(nil), b...), nil
}

func (s *memStore) Save(ctx context.Context, name string, data []byte) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	s.docs[name] = append([]byte(nil), data...)
	return nil
}

func (s *memStore) Close() error { return nil }
