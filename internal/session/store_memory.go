package session

import (
	"context"
	"sync"
)

// MemoryStore keeps sessions in process memory. It is volatile: sessions are lost on
// restart and dropped once evicted for idleness.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{sessions: make(map[string]*Session)}
}

func (s *MemoryStore) Load(_ context.Context, id string) (*Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	return sess.Clone(), nil
}

func (s *MemoryStore) Save(_ context.Context, sess *Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var current int64
	if existing, ok := s.sessions[sess.ID]; ok {
		current = existing.Version
	}
	if current != sess.Version {
		return ErrVersionConflict
	}
	sess.Version++
	s.sessions[sess.ID] = sess.Clone()
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, id)
	return nil
}

func (s *MemoryStore) Evict(ctx context.Context, id string) error {
	return s.Delete(ctx, id)
}

func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

func (s *MemoryStore) Close() error { return nil }
