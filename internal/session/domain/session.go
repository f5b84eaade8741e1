// Package domain defines user activity sessions.
package domain

import "time"

// DefaultFirstEvent labels a session opened without a named event.
const DefaultFirstEvent = "start_bot"

// DefaultBlockReason is used for paywall follow-ups when no block was recorded during the session.
const DefaultBlockReason = "session_end"

// Filters is the user's last-known product preferences (age range, time, energy, location, ...).
type Filters map[string]any

// Session is one continuous burst of user activity, closed after an idle timeout.
type Session struct {
	ID             string
	UserID         int64
	StartedAt      time.Time
	LastSeenAt     time.Time
	EndedAt        *time.Time // set iff MarkedEnded
	IdleTimeout    time.Duration
	ActionsCount   int
	FavoritesCount int
	Filters        Filters
	Source         string
	DeviceInfo     string
	FirstEvent     string
	LastEvent      string
	MarkedEnded    bool
}

// Duration is the active span of the session, never negative.
func (s *Session) Duration() time.Duration {
	d := s.LastSeenAt.Sub(s.StartedAt)
	if d < 0 {
		return 0
	}
	return d
}

// Idle reports whether the session has been inactive for longer than timeout at now.
func (s *Session) Idle(now time.Time, timeout time.Duration) bool {
	return now.Sub(s.LastSeenAt) > timeout
}

// Clone returns a deep copy safe to hand out of the store.
func (s *Session) Clone() *Session {
	c := *s
	if s.EndedAt != nil {
		t := *s.EndedAt
		c.EndedAt = &t
	}
	if s.Filters != nil {
		c.Filters = make(Filters, len(s.Filters))
		for k, v := range s.Filters {
			c.Filters[k] = v
		}
	}
	return &c
}

// Closed is emitted once when the sync loop closes an idle session.
type Closed struct {
	UserID      int64
	SessionID   string
	EndedAt     time.Time
	BlockReason string
}
