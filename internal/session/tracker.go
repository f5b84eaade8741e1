package session

import (
	"context"
	"log"
	"time"

	"github.com/oklog/ulid/v2"

	policydomain "retention-notifier/internal/policy/domain"
	pushdomain "retention-notifier/internal/push/domain"
	"retention-notifier/internal/session/domain"
	"retention-notifier/internal/telemetry"
	telemetrydomain "retention-notifier/internal/telemetry/domain"
)

// purgeExempt are the job types a new session leaves pending. The ritual is self-perpetuating and
// the one-shot types could never be re-created once deleted.
var purgeExempt = []pushdomain.Type{
	pushdomain.TypePremiumRitual,
	pushdomain.TypePremiumWelcome,
	pushdomain.TypeInterviewInvite,
}

// PolicySource supplies the session policy.
type PolicySource interface {
	Session(ctx context.Context) policydomain.SessionPolicy
}

// JobPurger removes stale pending jobs when a user comes back.
type JobPurger interface {
	DeletePendingExcept(ctx context.Context, userID int64, keep ...pushdomain.Type) (int64, error)
}

// Activity describes one inbound user event.
type Activity struct {
	Source     string
	DeviceInfo string
	// Event names the interaction; empty means generic activity.
	Event   string
	Filters domain.Filters
}

// Tracker maintains one session per user, extending it on activity within the idle timeout.
type Tracker struct {
	store   *Store
	jobs    JobPurger
	policy  PolicySource
	emitter telemetry.EventEmitter
	nowF    func() time.Time
	newID   func() string
}

// NewTracker returns a Tracker over store. emitter may be nil.
func NewTracker(store *Store, jobs JobPurger, policy PolicySource, emitter telemetry.EventEmitter) *Tracker {
	return &Tracker{
		store:   store,
		jobs:    jobs,
		policy:  policy,
		emitter: emitter,
		nowF:    func() time.Time { return time.Now().UTC() },
		newID:   func() string { return ulid.Make().String() },
	}
}

// IdleTimeout returns the user's idle timeout from the cached session policy.
func (t *Tracker) IdleTimeout(ctx context.Context, userID int64) time.Duration {
	return t.policy.Session(ctx).IdleTimeout(userID)
}

// Touch records activity. Within the idle timeout of an open session it only extends it.
// Otherwise it opens a new session and purges the user's stale pending jobs.
// Returns a copy of the current session.
func (t *Tracker) Touch(ctx context.Context, userID int64, a Activity) *domain.Session {
	timeout := t.IdleTimeout(ctx, userID)
	now := t.nowF()

	var (
		current *domain.Session
		retired *domain.Session
		opened  bool
	)
	t.store.withEntry(userID, true, func(e *entry) {
		if s := e.session; s != nil && !s.MarkedEnded && !e.closing && !s.Idle(now, timeout) {
			s.LastSeenAt = now
			s.ActionsCount++
			s.LastEvent = eventName(a.Event)
			applyActivity(s, a)
			current = s.Clone()
			return
		}

		firstEvent := domain.DefaultFirstEvent
		var prevFilters domain.Filters
		if old := e.session; old != nil {
			if !old.MarkedEnded && !e.closing {
				retired = old.Clone()
			}
			firstEvent = old.FirstEvent
			prevFilters = old.Filters
		}
		if a.Event != "" && e.session == nil {
			firstEvent = a.Event
		}
		s := &domain.Session{
			ID:          t.newID(),
			UserID:      userID,
			StartedAt:   now,
			LastSeenAt:  now,
			IdleTimeout: timeout,
			Filters:     prevFilters,
			FirstEvent:  firstEvent,
			LastEvent:   eventName(a.Event),
		}
		applyActivity(s, a)
		e.session = s
		e.blockReason = ""
		e.closing = false
		current = s.Clone()
		opened = true
	})

	if !opened {
		return current
	}
	if retired != nil {
		t.store.retire(retired)
	}
	purgeStale(ctx, t.jobs, userID)
	ev := telemetrydomain.New(userID, telemetrydomain.EventSessionStart, map[string]any{
		"source":      current.Source,
		"first_event": current.FirstEvent,
	})
	ev.SessionID = current.ID
	telemetry.EmitAsync(t.emitter, ctx, ev)
	return current
}

// RecordBlock stores the paywall block reason on the user's open session; the sync loop passes it
// to the paywall follow-up when the session closes. Returns false when no session is open.
func (t *Tracker) RecordBlock(userID int64, reason string) bool {
	recorded := false
	t.store.withEntry(userID, false, func(e *entry) {
		if e.session == nil || e.session.MarkedEnded || e.closing {
			return
		}
		e.blockReason = reason
		recorded = true
	})
	return recorded
}

// purgeStale drops the user's pending jobs except the exempt types.
func purgeStale(ctx context.Context, jobs JobPurger, userID int64) {
	if jobs == nil {
		return
	}
	if n, err := jobs.DeletePendingExcept(ctx, userID, purgeExempt...); err != nil {
		log.Printf("session: purge pending jobs user=%d: %v", userID, err)
	} else if n > 0 {
		log.Printf("session: user=%d new session cleared %d pending jobs", userID, n)
	}
}

// Current returns a copy of the user's session, or nil.
func (t *Tracker) Current(userID int64) *domain.Session {
	return t.store.Get(userID)
}

func applyActivity(s *domain.Session, a Activity) {
	if a.Source != "" {
		s.Source = a.Source
	}
	if a.DeviceInfo != "" {
		s.DeviceInfo = a.DeviceInfo
	}
	if len(a.Filters) > 0 {
		if s.Filters == nil {
			s.Filters = make(domain.Filters, len(a.Filters))
		}
		for k, v := range a.Filters {
			s.Filters[k] = v
		}
	}
}

func eventName(ev string) string {
	if ev == "" {
		return "activity"
	}
	return ev
}
