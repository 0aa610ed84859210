package persistence

import (
	"context"
	"sync"

	"unibox_server/core/port/out"
)

// =============================================================================
// In-Memory Token Store
// =============================================================================

// MemoryStore keeps the session in process memory. Used by tests and by
// deployments that explicitly opt out of persistence.
type MemoryStore struct {
	mu    sync.RWMutex
	state *out.SessionState
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Load(ctx context.Context) (*out.SessionState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.state == nil {
		return nil, nil
	}
	state := *s.state
	return &state, nil
}

func (s *MemoryStore) Save(ctx context.Context, state *out.SessionState) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	copied := *state
	s.state = &copied
	return nil
}

func (s *MemoryStore) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.state = nil
	return nil
}

func (s *MemoryStore) Ping(ctx context.Context) error {
	return nil
}

func (s *MemoryStore) Close() error {
	return nil
}

var _ out.TokenStorePort = (*MemoryStore)(nil)
