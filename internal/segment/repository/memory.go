package repository

import (
	"context"
	"sort"
	"sync"
	"time"
)

type subscription struct {
	expiresAt *time.Time
}

type viewKey struct {
	activityID string
	level      string
}

// MemoryStore is an in-process Store used when no database is configured and in tests.
type MemoryStore struct {
	mu        sync.Mutex
	nowF      func() time.Time
	overrides map[int64]bool
	subs      map[int64]subscription
	views     map[int64]map[viewKey]struct{}
	favorites map[int64]map[string]struct{}
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		nowF:      time.Now,
		overrides: make(map[int64]bool),
		subs:      make(map[int64]subscription),
		views:     make(map[int64]map[viewKey]struct{}),
		favorites: make(map[int64]map[string]struct{}),
	}
}

// IsPremium implements Store.
func (s *MemoryStore) IsPremium(ctx context.Context, userID int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.overrides[userID] || s.activeLocked(userID), nil
}

// HasActiveSubscription implements Store.
func (s *MemoryStore) HasActiveSubscription(ctx context.Context, userID int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.activeLocked(userID), nil
}

// ActiveSubscribers implements Store.
func (s *MemoryStore) ActiveSubscribers(ctx context.Context) ([]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []int64
	for id := range s.subs {
		if s.activeLocked(id) {
			out = append(out, id)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

// ActivateSubscription implements Store.
func (s *MemoryStore) ActivateSubscription(ctx context.Context, userID int64, expiresAt *time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var exp *time.Time
	if expiresAt != nil {
		t := *expiresAt
		exp = &t
	}
	s.subs[userID] = subscription{expiresAt: exp}
	return nil
}

// SetPremiumOverride implements Store.
func (s *MemoryStore) SetPremiumOverride(ctx context.Context, userID int64, premium bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.overrides[userID] = premium
	return nil
}

// DeepViewCount implements Store.
func (s *MemoryStore) DeepViewCount(ctx context.Context, userID int64, level string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for k := range s.views[userID] {
		if k.level == level {
			n++
		}
	}
	return n, nil
}

// RecordView implements Store.
func (s *MemoryStore) RecordView(ctx context.Context, userID int64, activityID, level string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.views[userID] == nil {
		s.views[userID] = make(map[viewKey]struct{})
	}
	s.views[userID][viewKey{activityID: activityID, level: level}] = struct{}{}
	return nil
}

// FavoritesCount implements Store.
func (s *MemoryStore) FavoritesCount(ctx context.Context, userID int64) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.favorites[userID]), nil
}

// AddFavorite implements Store.
func (s *MemoryStore) AddFavorite(ctx context.Context, userID int64, activityID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.favorites[userID] == nil {
		s.favorites[userID] = make(map[string]struct{})
	}
	s.favorites[userID][activityID] = struct{}{}
	return nil
}

func (s *MemoryStore) activeLocked(userID int64) bool {
	sub, ok := s.subs[userID]
	if !ok {
		return false
	}
	return sub.expiresAt == nil || sub.expiresAt.After(s.nowF())
}
