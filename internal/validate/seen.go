package validate

import (
	"context"
	"sync"
)

// MemorySet is an in-process SeenSet.
type MemorySet struct {
	mu     sync.Mutex
	hashes map[string]struct{}
}

// NewMemorySet returns a set preloaded with hashes from earlier runs.
func NewMemorySet(preload ...string) *MemorySet {
	s := &MemorySet{hashes: make(map[string]struct{}, len(preload))}
	for _, h := range preload {
		s.hashes[h] = struct{}{}
	}
	return s
}

func (s *MemorySet) CheckAndInsert(_ context.Context, hash string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.hashes[hash]; ok {
		return false, nil
	}
	s.hashes[hash] = struct{}{}
	return true, nil
}

// Len reports how many hashes the set holds.
func (s *MemorySet) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.hashes)
}
