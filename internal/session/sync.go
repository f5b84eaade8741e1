package session

import (
	"context"
	"log"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"retention-notifier/internal/session/domain"
	"retention-notifier/internal/session/repository"
	"retention-notifier/internal/telemetry"
	telemetrydomain "retention-notifier/internal/telemetry/domain"
)

// Closer is notified once per closed session.
type Closer interface {
	OnSessionClosed(ctx context.Context, closed domain.Closed) error
}

// FavoritesCounter reports the user's distinct favorites for the session snapshot.
type FavoritesCounter interface {
	FavoritesCount(ctx context.Context, userID int64) (int, error)
}

// TickResult summarizes one sync pass.
type TickResult struct {
	Active  int
	Closed  int
	Evicted int
	Failed  int
}

// SyncLoop periodically persists every in-memory session and closes idle ones.
type SyncLoop struct {
	store     *Store
	repo      repository.Repository
	jobs      JobPurger
	favorites FavoritesCounter
	closer    Closer
	policy    PolicySource
	emitter   telemetry.EventEmitter
	metrics   *telemetry.Metrics
	tracer    trace.Tracer
	nowF      func() time.Time
}

// NewSyncLoop returns a SyncLoop. favorites may be nil.
func NewSyncLoop(store *Store, repo repository.Repository, jobs JobPurger, favorites FavoritesCounter, closer Closer, policy PolicySource) *SyncLoop {
	return &SyncLoop{
		store:     store,
		repo:      repo,
		jobs:      jobs,
		favorites: favorites,
		closer:    closer,
		policy:    policy,
		tracer:    otel.Tracer("retention-notifier/session"),
		nowF:      func() time.Time { return time.Now().UTC() },
	}
}

// WithTelemetry attaches the event emitter, counters and tracer. Any of them may be nil.
func (l *SyncLoop) WithTelemetry(emitter telemetry.EventEmitter, metrics *telemetry.Metrics, tracer trace.Tracer) *SyncLoop {
	l.emitter = emitter
	l.metrics = metrics
	if tracer != nil {
		l.tracer = tracer
	}
	return l
}

// Run ticks every SyncInterval of the session policy until ctx is done. The interval is re-read
// after every tick.
func (l *SyncLoop) Run(ctx context.Context) {
	timer := time.NewTimer(l.policy.Session(ctx).SyncInterval())
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
			l.Tick(ctx)
			timer.Reset(l.policy.Session(ctx).SyncInterval())
		}
	}
}

// Flush upserts every session without closing any. Used on shutdown.
func (l *SyncLoop) Flush(ctx context.Context) TickResult {
	return l.sync(ctx, false)
}

// Tick runs one sync pass: upsert all sessions, close idle ones exactly once, evict stale ones.
func (l *SyncLoop) Tick(ctx context.Context) TickResult {
	return l.sync(ctx, true)
}

func (l *SyncLoop) sync(ctx context.Context, closeIdle bool) TickResult {
	ctx, span := l.tracer.Start(ctx, "session.sync")
	defer span.End()

	var res TickResult
	pol := l.policy.Session(ctx)
	now := l.nowF()

	for _, s := range l.store.drainRetired() {
		ended := s.LastSeenAt
		s.EndedAt = &ended
		s.MarkedEnded = true
		if err := l.repo.Upsert(ctx, s); err != nil {
			log.Printf("session: upsert retired session=%s user=%d: %v", s.ID, s.UserID, err)
			l.store.retire(s)
		}
	}

	for _, uid := range l.store.Users() {
		if ctx.Err() != nil {
			break
		}
		switch l.syncUser(ctx, uid, now, pol.IdleTimeout(uid), pol.EvictAfter(), closeIdle) {
		case outcomeActive:
			res.Active++
		case outcomeClosed:
			res.Closed++
		case outcomeEvicted:
			res.Closed++
			res.Evicted++
		case outcomeFailed:
			res.Failed++
		}
	}

	span.SetAttributes(
		attribute.Int("sessions.active", res.Active),
		attribute.Int("sessions.closed", res.Closed),
		attribute.Int("sessions.failed", res.Failed),
	)
	log.Printf("session: synced active=%d closed=%d failed=%d", res.Active, res.Closed, res.Failed)
	return res
}

type outcome int

const (
	outcomeSkipped outcome = iota
	outcomeActive
	outcomeClosed
	outcomeEvicted
	outcomeFailed
)

func (l *SyncLoop) syncUser(ctx context.Context, uid int64, now time.Time, timeout, evictAfter time.Duration, closeIdle bool) outcome {
	var (
		snap    *domain.Session
		reason  string
		closing bool
	)
	l.store.withEntry(uid, false, func(e *entry) {
		if e.session == nil || e.closing {
			return
		}
		snap = e.session.Clone()
		if closeIdle && !snap.MarkedEnded && snap.Idle(now, timeout) {
			e.closing = true
			closing = true
			reason = e.blockReason
			ended := snap.LastSeenAt
			snap.EndedAt = &ended
			snap.MarkedEnded = true
		}
	})
	if snap == nil {
		return outcomeSkipped
	}

	if l.favorites != nil {
		n, err := l.favorites.FavoritesCount(ctx, uid)
		if err != nil {
			log.Printf("session: favorites count user=%d: %v", uid, err)
		} else {
			snap.FavoritesCount = n
		}
	}

	if err := l.repo.Upsert(ctx, snap); err != nil {
		log.Printf("session: upsert session=%s user=%d: %v", snap.ID, uid, err)
		if closing {
			l.abortClose(uid, snap.ID)
		}
		return outcomeFailed
	}

	if !closing {
		l.commit(uid, snap, false)
		if snap.MarkedEnded {
			if snap.EndedAt != nil && now.Sub(*snap.EndedAt) > evictAfter && l.store.evict(uid, snap.ID) {
				return outcomeEvicted
			}
			return outcomeClosed
		}
		if snap.Idle(now, timeout) {
			return outcomeClosed
		}
		return outcomeActive
	}

	closed := domain.Closed{UserID: uid, SessionID: snap.ID, EndedAt: *snap.EndedAt, BlockReason: reason}
	if err := l.closer.OnSessionClosed(ctx, closed); err != nil {
		log.Printf("session: close session=%s user=%d: %v (retrying next tick)", snap.ID, uid, err)
		l.abortClose(uid, snap.ID)
		return outcomeFailed
	}
	if !l.commit(uid, snap, true) {
		// The user came back while the close was scheduling; the new session's purge ran too early.
		purgeStale(ctx, l.jobs, uid)
	}
	l.metrics.SessionClosed(ctx)

	ev := telemetrydomain.New(uid, telemetrydomain.EventSessionEnd, map[string]any{
		"duration_seconds": int64(snap.Duration().Seconds()),
		"actions_count":    snap.ActionsCount,
		"favorites_count":  snap.FavoritesCount,
	})
	ev.SessionID = snap.ID
	telemetry.EmitAsync(l.emitter, ctx, ev)
	return outcomeClosed
}

// commit copies persisted fields back when the user still holds the same session.
// Returns false when the user has since moved on to another session.
func (l *SyncLoop) commit(uid int64, snap *domain.Session, closed bool) bool {
	same := true
	l.store.withEntry(uid, false, func(e *entry) {
		if e.session == nil || e.session.ID != snap.ID {
			same = e.session == nil
			return
		}
		e.session.FavoritesCount = snap.FavoritesCount
		if closed {
			e.session.MarkedEnded = true
			ended := *snap.EndedAt
			e.session.EndedAt = &ended
			e.closing = false
		}
	})
	return same
}

func (l *SyncLoop) abortClose(uid int64, sessionID string) {
	l.store.withEntry(uid, false, func(e *entry) {
		if e.session != nil && e.session.ID == sessionID {
			e.closing = false
		}
	})
}
