package repository

import (
	"context"
	"sync"
	"time"

	"retention-notifier/internal/session/domain"
)

// MemoryRepository keeps snapshots in process. Used when no database is configured and in tests.
type MemoryRepository struct {
	mu       sync.Mutex
	sessions map[string]*domain.Session
}

// NewMemoryRepository returns an empty in-memory session store.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{sessions: make(map[string]*domain.Session)}
}

// Upsert implements Repository.
func (r *MemoryRepository) Upsert(ctx context.Context, s *domain.Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c := s.Clone()
	if prev, ok := r.sessions[s.ID]; ok {
		c.FirstEvent = prev.FirstEvent
		c.Source = prev.Source
		c.StartedAt = prev.StartedAt
		if c.DeviceInfo == "" {
			c.DeviceInfo = prev.DeviceInfo
		}
	}
	r.sessions[s.ID] = c
	return nil
}

// CountByUser implements Repository.
func (r *MemoryRepository) CountByUser(ctx context.Context, userID int64) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, s := range r.sessions {
		if s.UserID == userID {
			n++
		}
	}
	return n, nil
}

// FirstStartedAt implements Repository.
func (r *MemoryRepository) FirstStartedAt(ctx context.Context, userID int64) (*time.Time, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var first *time.Time
	for _, s := range r.sessions {
		if s.UserID != userID {
			continue
		}
		if first == nil || s.StartedAt.Before(*first) {
			t := s.StartedAt
			first = &t
		}
	}
	return first, nil
}

// Get returns a copy of the stored snapshot, or nil.
func (r *MemoryRepository) Get(id string) *domain.Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.sessions[id]; ok {
		return s.Clone()
	}
	return nil
}
