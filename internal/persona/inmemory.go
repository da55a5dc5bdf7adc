package persona

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// InMemoryStore is an in-process persona store for local/dev use.
type InMemoryStore struct {
	mu       sync.RWMutex
	personas map[string]Persona
	now      func() time.Time
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		personas: make(map[string]Persona),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func (s *InMemoryStore) Save(_ context.Context, p Persona, overwrite bool) (Persona, error) {
	name, err := NormalizeName(p.Name)
	if err != nil {
		return Persona{}, err
	}
	p.Name = name
	key := nameKey(name)

	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.personas[key]
	if ok && !overwrite {
		return Persona{}, ErrAlreadyExists
	}
	if ok {
		p.ID = existing.ID
		p.CreatedAt = existing.CreatedAt
	} else {
		p.CreatedAt = s.now()
	}
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	s.personas[key] = p
	return p, nil
}

func (s *InMemoryStore) Load(_ context.Context, name string) (Persona, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.personas[nameKey(name)]
	if !ok {
		return Persona{}, ErrNotFound
	}
	return p, nil
}

func (s *InMemoryStore) List(_ context.Context) ([]Persona, error) {
	s.mu.RLock()
	out := make([]Persona, 0, len(s.personas))
	for _, p := range s.personas {
		out = append(out, p)
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].Name < out[j].Name
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

func (s *InMemoryStore) Delete(_ context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := nameKey(name)
	if _, ok := s.personas[key]; !ok {
		return ErrNotFound
	}
	delete(s.personas, key)
	return nil
}

func (s *InMemoryStore) Close() error { return nil }
