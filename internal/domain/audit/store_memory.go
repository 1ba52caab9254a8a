package audit

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

type MemoryStore struct {
	mu     sync.RWMutex
	events []Event
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Insert(_ context.Context, evt Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	evt.ID = uuid.NewString()
	evt.CreatedAt = time.Now().UTC()
	s.events = append(s.events, evt)
	return nil
}

func (s *MemoryStore) Count(_ context.Context, filter Filter) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.matching(filter)), nil
}

// List returns newest first.
func (s *MemoryStore) List(_ context.Context, filter Filter, includeDetails bool, limit, offset int) ([]Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	matched := s.matching(filter)
	out := []Event{}
	for i := len(matched) - 1 - offset; i >= 0 && (limit <= 0 || len(out) < limit); i-- {
		evt := matched[i]
		if !includeDetails {
			evt.Before, evt.After = nil, nil
		}
		out = append(out, evt)
	}
	return out, nil
}

func (s *MemoryStore) matching(filter Filter) []Event {
	var out []Event
	for _, evt := range s.events {
		if filter.Action != "" && evt.Action != filter.Action {
			continue
		}
		if filter.EntityType != "" && evt.EntityType != filter.EntityType {
			continue
		}
		if filter.EntityID != "" && evt.EntityID != filter.EntityID {
			continue
		}
		if filter.ActorUser != "" && evt.ActorID != filter.ActorUser {
			continue
		}
		out = append(out, evt)
	}
	return out
}
