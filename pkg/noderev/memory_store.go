package noderev

import (
	"sync"

	"github.com/arborvc/arbor/pkg/fserrors"
)

// MemoryStore is a thread-safe, process-local Store implementation backed
// by a map. Useful for tests that don't need BadgerDB's durability.
type MemoryStore struct {
	mu   sync.RWMutex
	data map[string]*NodeRevision
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: make(map[string]*NodeRevision)}
}

func (s *MemoryStore) Get(id ID) (*NodeRevision, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rev, ok := s.data[id.String()]
	if !ok {
		return nil, fserrors.ErrPathNotFound
	}
	return rev, nil
}

func (s *MemoryStore) Put(rev *NodeRevision) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := rev.ID.String()
	if !rev.ID.Transactional() {
		if _, exists := s.data[key]; exists {
			return fserrors.ErrAlreadyExists
		}
	}
	s.data[key] = rev
	return nil
}

func (s *MemoryStore) Close() error { return nil }
