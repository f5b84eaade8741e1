// Package session tracks live user sessions in memory and syncs them to storage.
package session

import (
	"sort"
	"sync"

	"retention-notifier/internal/session/domain"
)

// entry is the per-user slot. mu serializes touch and close for the user.
type entry struct {
	mu          sync.Mutex
	session     *domain.Session
	blockReason string
	// closing is set while the sync loop persists a close outside the lock.
	closing bool
	// evicted entries are detached from the map; holders must look the user up again.
	evicted bool
}

// Store is the in-memory session map keyed by user.
type Store struct {
	mu      sync.RWMutex
	entries map[int64]*entry

	retiredMu sync.Mutex
	// retired holds sessions replaced by a new one before the sync loop closed them.
	retired []*domain.Session
}

// NewStore returns an empty Store.
func NewStore() *Store {
	return &Store{entries: make(map[int64]*entry)}
}

// Get returns a copy of the user's current session, or nil.
func (s *Store) Get(userID int64) *domain.Session {
	s.mu.RLock()
	e, ok := s.entries[userID]
	s.mu.RUnlock()
	if !ok {
		return nil
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.session == nil {
		return nil
	}
	return e.session.Clone()
}

// Users returns the users with an entry, in ascending order.
func (s *Store) Users() []int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]int64, 0, len(s.entries))
	for id := range s.entries {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Len returns the number of tracked users.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// withEntry runs fn with the user's entry locked, creating the entry when create is set.
// Returns false when the user has no entry and create is false.
func (s *Store) withEntry(userID int64, create bool, fn func(e *entry)) bool {
	for {
		s.mu.RLock()
		e, ok := s.entries[userID]
		s.mu.RUnlock()
		if !ok {
			if !create {
				return false
			}
			s.mu.Lock()
			if e, ok = s.entries[userID]; !ok {
				e = &entry{}
				s.entries[userID] = e
			}
			s.mu.Unlock()
		}
		e.mu.Lock()
		if e.evicted {
			e.mu.Unlock()
			continue
		}
		fn(e)
		e.mu.Unlock()
		return true
	}
}

// evict drops the user's entry when it still holds the closed session sessionID.
func (s *Store) evict(userID int64, sessionID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[userID]
	if !ok {
		return false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.session == nil || e.session.ID != sessionID || !e.session.MarkedEnded {
		return false
	}
	e.evicted = true
	delete(s.entries, userID)
	return true
}

func (s *Store) retire(sess *domain.Session) {
	s.retiredMu.Lock()
	s.retired = append(s.retired, sess)
	s.retiredMu.Unlock()
}

func (s *Store) drainRetired() []*domain.Session {
	s.retiredMu.Lock()
	defer s.retiredMu.Unlock()
	out := s.retired
	s.retired = nil
	return out
}
