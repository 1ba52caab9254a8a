package notifications

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

type MemoryStore struct {
	mu    sync.RWMutex
	rows  []Notification
	seen  map[string]bool
	clock func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{seen: map[string]bool{}, clock: time.Now}
}

func (s *MemoryStore) CreateNotification(_ context.Context, n Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if n.EventID != "" {
		if s.seen[n.EventID] {
			return nil
		}
		s.seen[n.EventID] = true
	}
	n.ID = uuid.NewString()
	n.CreatedAt = s.clock().UTC()
	s.rows = append(s.rows, n)
	return nil
}

func (s *MemoryStore) ListNotifications(_ context.Context, userID string, limit, offset int) ([]Notification, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	matched := []Notification{}
	for _, n := range s.rows {
		if n.UserID == userID {
			matched = append(matched, n)
		}
	}
	sort.SliceStable(matched, func(i, j int) bool { return matched[i].CreatedAt.After(matched[j].CreatedAt) })
	if offset >= len(matched) {
		return []Notification{}, nil
	}
	matched = matched[offset:]
	if limit > 0 && limit < len(matched) {
		matched = matched[:limit]
	}
	return matched, nil
}

func (s *MemoryStore) CountNotifications(_ context.Context, userID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	total := 0
	for _, n := range s.rows {
		if n.UserID == userID {
			total++
		}
	}
	return total, nil
}

func (s *MemoryStore) MarkRead(_ context.Context, userID, notificationID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.rows {
		if s.rows[i].ID == notificationID && s.rows[i].UserID == userID {
			if s.rows[i].ReadAt == nil {
				now := s.clock().UTC()
				s.rows[i].ReadAt = &now
			}
			return nil
		}
	}
	return ErrNotFound
}
