package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	policydomain "retention-notifier/internal/policy/domain"
	pushdomain "retention-notifier/internal/push/domain"
	pushrepo "retention-notifier/internal/push/repository"
	"retention-notifier/internal/session/domain"
	"retention-notifier/internal/session/repository"
)

type memPolicy struct {
	mu  sync.Mutex
	pol policydomain.SessionPolicy
}

func (p *memPolicy) Session(context.Context) policydomain.SessionPolicy {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.pol
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type memCloser struct {
	mu     sync.Mutex
	closed []domain.Closed
	err    error
}

func (c *memCloser) OnSessionClosed(_ context.Context, closed domain.Closed) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return c.err
	}
	c.closed = append(c.closed, closed)
	return nil
}

func (c *memCloser) calls() []domain.Closed {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]domain.Closed(nil), c.closed...)
}

type fixedFavorites int

func (f fixedFavorites) FavoritesCount(context.Context, int64) (int, error) { return int(f), nil }

// failingRepo fails every Upsert while fail is set.
type failingRepo struct {
	*repository.MemoryRepository
	mu   sync.Mutex
	fail bool
}

func (r *failingRepo) Upsert(ctx context.Context, s *domain.Session) error {
	r.mu.Lock()
	fail := r.fail
	r.mu.Unlock()
	if fail {
		return errors.New("db down")
	}
	return r.MemoryRepository.Upsert(ctx, s)
}

type fixture struct {
	clock   *fakeClock
	policy  *memPolicy
	store   *Store
	jobs    *pushrepo.MemoryRepository
	repo    *failingRepo
	closer  *memCloser
	tracker *Tracker
	loop    *SyncLoop
}

func newFixture() *fixture {
	f := &fixture{
		clock:  &fakeClock{now: time.Date(2026, 5, 10, 12, 0, 0, 0, time.UTC)},
		policy: &memPolicy{pol: policydomain.DefaultSession()},
		store:  NewStore(),
		jobs:   pushrepo.NewMemoryRepository(),
		repo:   &failingRepo{MemoryRepository: repository.NewMemoryRepository()},
		closer: &memCloser{},
	}
	f.tracker = NewTracker(f.store, f.jobs, f.policy, nil)
	f.tracker.nowF = f.clock.Now
	ids := 0
	f.tracker.newID = func() string {
		ids++
		return "s" + string(rune('0'+ids))
	}
	f.loop = NewSyncLoop(f.store, f.repo, f.jobs, fixedFavorites(2), f.closer, f.policy)
	f.loop.nowF = f.clock.Now
	return f
}

func TestTouch_ExtendsWithinTimeout(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	first := f.tracker.Touch(ctx, 1, Activity{Source: "bot"})
	f.clock.Advance(10 * time.Minute)
	second := f.tracker.Touch(ctx, 1, Activity{DeviceInfo: "ios", Event: "open_card"})

	if second.ID != first.ID {
		t.Errorf("session id changed within timeout: %q -> %q", first.ID, second.ID)
	}
	if second.ActionsCount != 1 {
		t.Errorf("ActionsCount = %d, want 1", second.ActionsCount)
	}
	if !second.LastSeenAt.Equal(f.clock.Now()) {
		t.Errorf("LastSeenAt = %v, want %v", second.LastSeenAt, f.clock.Now())
	}
	if second.Source != "bot" || second.DeviceInfo != "ios" || second.LastEvent != "open_card" {
		t.Errorf("session = %+v", second)
	}
	if first.FirstEvent != domain.DefaultFirstEvent {
		t.Errorf("FirstEvent = %q, want %q", first.FirstEvent, domain.DefaultFirstEvent)
	}
}

func TestTouch_ExactlyAtTimeoutExtends(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	first := f.tracker.Touch(ctx, 1, Activity{})
	f.clock.Advance(30 * time.Minute)
	if got := f.tracker.Touch(ctx, 1, Activity{}); got.ID != first.ID {
		t.Error("touch exactly at the timeout should extend the session")
	}
}

func TestTouch_NewSessionAfterTimeoutPurgesJobs(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	now := f.clock.Now()
	for _, typ := range []pushdomain.Type{pushdomain.TypeRetentionNudge, pushdomain.TypePremiumRitual, pushdomain.TypePremiumWelcome} {
		_, _ = f.jobs.InsertChain(ctx, pushrepo.ChainInsert{UserID: 1, Type: typ,
			Jobs: []*pushdomain.Job{{UserID: 1, Type: typ, ScheduledAt: now.Add(time.Hour)}}})
	}

	first := f.tracker.Touch(ctx, 1, Activity{Filters: domain.Filters{"energy": "low"}})
	f.clock.Advance(31 * time.Minute)
	second := f.tracker.Touch(ctx, 1, Activity{})

	if second.ID == first.ID {
		t.Fatal("touch after the timeout should open a new session")
	}
	if second.ActionsCount != 0 {
		t.Errorf("ActionsCount = %d, want 0", second.ActionsCount)
	}
	if second.Filters["energy"] != "low" {
		t.Errorf("filters should carry over, got %v", second.Filters)
	}
	all, _ := f.jobs.ListByUser(ctx, 1)
	got := map[pushdomain.Type]bool{}
	for _, j := range all {
		got[j.Type] = true
	}
	if got[pushdomain.TypeRetentionNudge] {
		t.Error("pending nudge should be purged by a new session")
	}
	if !got[pushdomain.TypePremiumRitual] || !got[pushdomain.TypePremiumWelcome] {
		t.Errorf("exempt jobs were purged: %v", got)
	}
}

func TestTouch_PerUserTimeoutOverride(t *testing.T) {
	f := newFixture()
	f.policy.pol.UserTimeoutMinutes = map[string]int{"1": 1}
	ctx := context.Background()
	first := f.tracker.Touch(ctx, 1, Activity{})
	f.clock.Advance(2 * time.Minute)
	if got := f.tracker.Touch(ctx, 1, Activity{}); got.ID == first.ID {
		t.Error("per-user override of 1 minute should have expired the session")
	}
	if got := f.tracker.IdleTimeout(ctx, 2); got != 30*time.Minute {
		t.Errorf("IdleTimeout(2) = %v, want 30m", got)
	}
}

func TestTouch_ConcurrentSameUserOpensOneSession(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	var wg sync.WaitGroup
	ids := make(chan string, 50)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ids <- f.tracker.Touch(ctx, 7, Activity{}).ID
		}()
	}
	wg.Wait()
	close(ids)
	seen := map[string]bool{}
	for id := range ids {
		seen[id] = true
	}
	if len(seen) != 1 {
		t.Errorf("concurrent touches produced %d sessions, want 1", len(seen))
	}
	if got := f.store.Get(7).ActionsCount; got != 49 {
		t.Errorf("ActionsCount = %d, want 49", got)
	}
}

func TestRecordBlock(t *testing.T) {
	f := newFixture()
	if f.tracker.RecordBlock(1, "l1_limit") {
		t.Error("RecordBlock without a session should return false")
	}
	f.tracker.Touch(context.Background(), 1, Activity{})
	if !f.tracker.RecordBlock(1, "l1_limit") {
		t.Error("RecordBlock with an open session should return true")
	}
}

func TestTick_ClosesIdleSessionOnce(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	s := f.tracker.Touch(ctx, 1, Activity{})
	f.tracker.RecordBlock(1, "l1_limit")

	res := f.loop.Tick(ctx)
	if res.Active != 1 || res.Closed != 0 {
		t.Errorf("first tick = %+v, want 1 active", res)
	}
	if got := f.repo.Get(s.ID); got == nil || got.EndedAt != nil || got.FavoritesCount != 2 {
		t.Errorf("active snapshot = %+v", got)
	}

	f.clock.Advance(31 * time.Minute)
	res = f.loop.Tick(ctx)
	if res.Closed != 1 {
		t.Errorf("second tick = %+v, want 1 closed", res)
	}
	res = f.loop.Tick(ctx)
	if res.Closed != 1 {
		t.Errorf("third tick = %+v, want 1 closed", res)
	}

	calls := f.closer.calls()
	if len(calls) != 1 {
		t.Fatalf("OnSessionClosed calls = %d, want 1", len(calls))
	}
	if calls[0].BlockReason != "l1_limit" || calls[0].SessionID != s.ID {
		t.Errorf("closed = %+v", calls[0])
	}
	if !calls[0].EndedAt.Equal(s.LastSeenAt) {
		t.Errorf("EndedAt = %v, want last_seen %v", calls[0].EndedAt, s.LastSeenAt)
	}
	snap := f.repo.Get(s.ID)
	if snap == nil || snap.EndedAt == nil || !snap.EndedAt.Equal(s.LastSeenAt) {
		t.Errorf("closed snapshot = %+v", snap)
	}
	if cur := f.store.Get(1); !cur.MarkedEnded {
		t.Error("in-memory session should be marked ended")
	}
}

func TestTick_CloseFailureRetries(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	f.tracker.Touch(ctx, 1, Activity{})
	f.clock.Advance(31 * time.Minute)

	f.closer.err = errors.New("scheduler down")
	if res := f.loop.Tick(ctx); res.Failed != 1 {
		t.Errorf("tick with failing closer = %+v, want 1 failed", res)
	}
	if f.store.Get(1).MarkedEnded {
		t.Error("session must stay open when the close failed")
	}

	f.closer.err = nil
	f.loop.Tick(ctx)
	if n := len(f.closer.calls()); n != 1 {
		t.Errorf("OnSessionClosed calls after retry = %d, want 1", n)
	}
}

func TestTick_UpsertFailureSkipsUser(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	f.tracker.Touch(ctx, 1, Activity{})
	f.tracker.Touch(ctx, 2, Activity{})
	f.clock.Advance(31 * time.Minute)

	f.repo.fail = true
	if res := f.loop.Tick(ctx); res.Failed != 2 {
		t.Errorf("tick = %+v, want 2 failed", res)
	}
	if n := len(f.closer.calls()); n != 0 {
		t.Errorf("closer called %d times during store outage, want 0", n)
	}
	f.repo.fail = false
	f.loop.Tick(ctx)
	if n := len(f.closer.calls()); n != 2 {
		t.Errorf("closer calls after recovery = %d, want 2", n)
	}
}

func TestTick_RetiredSessionPersistedWithoutCampaign(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	first := f.tracker.Touch(ctx, 1, Activity{})
	f.clock.Advance(31 * time.Minute)
	f.tracker.Touch(ctx, 1, Activity{})

	f.loop.Tick(ctx)
	snap := f.repo.Get(first.ID)
	if snap == nil || snap.EndedAt == nil {
		t.Fatalf("retired snapshot = %+v, want ended", snap)
	}
	if n := len(f.closer.calls()); n != 0 {
		t.Errorf("closer calls = %d, want 0 for a replaced session", n)
	}
}

func TestTick_EvictsAfterRetention(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	f.tracker.Touch(ctx, 1, Activity{})
	f.clock.Advance(31 * time.Minute)
	f.loop.Tick(ctx)

	f.clock.Advance(25 * time.Hour)
	res := f.loop.Tick(ctx)
	if res.Evicted != 1 {
		t.Errorf("tick = %+v, want 1 evicted", res)
	}
	if f.store.Len() != 0 {
		t.Errorf("store has %d entries, want 0", f.store.Len())
	}
	// A returning user gets a fresh session.
	if s := f.tracker.Touch(ctx, 1, Activity{}); s.MarkedEnded {
		t.Error("session after eviction should be open")
	}
}

func TestFlush_DoesNotClose(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	s := f.tracker.Touch(ctx, 1, Activity{})
	f.clock.Advance(31 * time.Minute)
	f.loop.Flush(ctx)
	if n := len(f.closer.calls()); n != 0 {
		t.Errorf("Flush closed %d sessions, want 0", n)
	}
	if f.repo.Get(s.ID) == nil {
		t.Error("Flush should persist the snapshot")
	}
}

func TestRun_StopsOnCancel(t *testing.T) {
	f := newFixture()
	f.policy.pol.SyncIntervalSeconds = 1
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		f.loop.Run(ctx)
		close(done)
	}()
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

// nudgingCloser schedules a retention nudge on close. When gate is set it blocks until gate closes.
type nudgingCloser struct {
	jobs    *pushrepo.MemoryRepository
	now     func() time.Time
	started chan struct{}
	gate    chan struct{}
}

func (c *nudgingCloser) OnSessionClosed(ctx context.Context, closed domain.Closed) error {
	if c.gate != nil {
		close(c.started)
		<-c.gate
	}
	_, err := c.jobs.InsertChain(ctx, pushrepo.ChainInsert{
		UserID: closed.UserID,
		Type:   pushdomain.TypeRetentionNudge,
		Jobs: []*pushdomain.Job{{
			UserID:      closed.UserID,
			Type:        pushdomain.TypeRetentionNudge,
			ScheduledAt: c.now().Add(24 * time.Hour),
		}},
	})
	return err
}

func pendingOfType(t *testing.T, jobs *pushrepo.MemoryRepository, userID int64, typ pushdomain.Type) int {
	t.Helper()
	all, err := jobs.ListByUser(context.Background(), userID)
	if err != nil {
		t.Fatalf("ListByUser: %v", err)
	}
	n := 0
	for _, j := range all {
		if j.Type == typ && j.Status == pushdomain.StatusPending {
			n++
		}
	}
	return n
}

func TestTick_CloseKeepsChainWhenUserStaysAway(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	f.loop.closer = &nudgingCloser{jobs: f.jobs, now: f.clock.Now}

	f.tracker.Touch(ctx, 7, Activity{})
	f.clock.Advance(31 * time.Minute)
	f.loop.Tick(ctx)

	if n := pendingOfType(t, f.jobs, 7, pushdomain.TypeRetentionNudge); n != 1 {
		t.Errorf("pending nudges = %d, want 1", n)
	}
}

func TestTick_UserReturningDuringCloseClearsNewChain(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	closer := &nudgingCloser{
		jobs:    f.jobs,
		now:     f.clock.Now,
		started: make(chan struct{}),
		gate:    make(chan struct{}),
	}
	f.loop.closer = closer

	first := f.tracker.Touch(ctx, 7, Activity{})
	f.clock.Advance(31 * time.Minute)

	done := make(chan TickResult)
	go func() { done <- f.loop.Tick(ctx) }()

	select {
	case <-closer.started:
	case <-time.After(2 * time.Second):
		t.Fatal("close never reached the closer")
	}
	second := f.tracker.Touch(ctx, 7, Activity{})
	close(closer.gate)

	var res TickResult
	select {
	case res = <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("tick did not finish")
	}

	if res.Closed != 1 {
		t.Errorf("tick = %+v, want 1 closed", res)
	}
	if second.ID == first.ID {
		t.Fatal("touch during the close should open a new session")
	}
	cur := f.store.Get(7)
	if cur == nil || cur.ID != second.ID || cur.MarkedEnded {
		t.Errorf("current session = %+v, want open %s", cur, second.ID)
	}
	if n := pendingOfType(t, f.jobs, 7, pushdomain.TypeRetentionNudge); n != 0 {
		t.Errorf("pending nudges for an active user = %d, want 0", n)
	}
}
