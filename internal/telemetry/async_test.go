package telemetry

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"go.opentelemetry.io/otel/trace"

	"retention-notifier/internal/telemetry/domain"
)

// mockEventEmitter implements EventEmitter for tests.
type mockEventEmitter struct {
	mu      sync.Mutex
	events  []*domain.Event
	emitErr error
	delay   time.Duration
}

func (m *mockEventEmitter) Emit(ctx context.Context, event *domain.Event) error {
	if m.delay > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(m.delay):
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, event)
	return m.emitErr
}

func (m *mockEventEmitter) getEvents() []*domain.Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*domain.Event(nil), m.events...)
}

// waitForEvents polls until the emitter has n events or the deadline passes.
func waitForEvents(m *mockEventEmitter, n int) []*domain.Event {
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if ev := m.getEvents(); len(ev) >= n {
			return ev
		}
		time.Sleep(5 * time.Millisecond)
	}
	return m.getEvents()
}

func TestEmitAsync_NilEmitter(t *testing.T) {
	// Should not panic
	EmitAsync(nil, context.Background(), domain.New(1, "test", nil))
}

func TestEmitAsync_NilEvent(t *testing.T) {
	emitter := &mockEventEmitter{}
	EmitAsync(emitter, context.Background(), nil)
	time.Sleep(10 * time.Millisecond)
	if events := emitter.getEvents(); len(events) != 0 {
		t.Errorf("expected 0 events, got %d", len(events))
	}
}

func TestEmitAsync_SuccessfulEmit(t *testing.T) {
	emitter := &mockEventEmitter{}
	EmitAsync(emitter, context.Background(), domain.New(42, domain.EventPushSent, map[string]any{"type": "retention_nudge"}))

	events := waitForEvents(emitter, 1)
	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(events))
	}
	if events[0].UserID != 42 {
		t.Errorf("event user_id = %d, want 42", events[0].UserID)
	}
	if events[0].Name != domain.EventPushSent {
		t.Errorf("event name = %q, want %q", events[0].Name, domain.EventPushSent)
	}
}

type spanRecorder struct {
	mu   sync.Mutex
	seen []trace.SpanContext
}

func (r *spanRecorder) Emit(ctx context.Context, _ *domain.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seen = append(r.seen, trace.SpanContextFromContext(ctx))
	return nil
}

func TestEmitAsync_KeepsSpanContext(t *testing.T) {
	sc := trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    trace.TraceID{1, 2, 3},
		SpanID:     trace.SpanID{4, 5, 6},
		TraceFlags: trace.FlagsSampled,
	})
	ctx, cancel := context.WithCancel(trace.ContextWithSpanContext(context.Background(), sc))
	cancel()

	rec := &spanRecorder{}
	EmitAsync(rec, ctx, domain.New(1, domain.EventPushSent, nil))

	deadline := time.Now().Add(time.Second)
	for {
		rec.mu.Lock()
		n := len(rec.seen)
		rec.mu.Unlock()
		if n == 1 || time.Now().After(deadline) {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	if len(rec.seen) != 1 {
		t.Fatalf("emits = %d, want 1", len(rec.seen))
	}
	if rec.seen[0].TraceID() != sc.TraceID() || rec.seen[0].SpanID() != sc.SpanID() {
		t.Errorf("span context = %v, want %v", rec.seen[0], sc)
	}
}

func TestEmitAsync_IgnoresCallerCancellation(t *testing.T) {
	emitter := &mockEventEmitter{}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	EmitAsync(emitter, ctx, domain.New(1, "test", nil))

	if events := waitForEvents(emitter, 1); len(events) != 1 {
		t.Errorf("expected 1 event (context.Background used), got %d", len(events))
	}
}

func TestEmitAsync_ErrorIsNotPropagated(t *testing.T) {
	emitter := &mockEventEmitter{emitErr: context.DeadlineExceeded}
	EmitAsync(emitter, context.Background(), domain.New(1, "test", nil))
	if events := waitForEvents(emitter, 1); len(events) != 1 {
		t.Errorf("expected 1 event, got %d", len(events))
	}
}

func TestEmitAsync_ConcurrentAccess(t *testing.T) {
	emitter := &mockEventEmitter{}
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(id int64) {
			defer wg.Done()
			EmitAsync(emitter, context.Background(), domain.New(id, "test", nil))
		}(int64(i))
	}
	wg.Wait()
	if events := waitForEvents(emitter, 10); len(events) != 10 {
		t.Errorf("expected 10 events, got %d", len(events))
	}
}

func TestFanout_EmitsToEverySink(t *testing.T) {
	a := &mockEventEmitter{}
	b := &mockEventEmitter{emitErr: errors.New("kafka down")}
	c := &mockEventEmitter{}
	f := Fanout{a, nil, b, c}

	err := f.Emit(context.Background(), domain.New(7, domain.EventSessionStart, nil))
	if err == nil {
		t.Error("Fanout should return the failing sink's error")
	}
	for i, m := range []*mockEventEmitter{a, b, c} {
		if n := len(m.getEvents()); n != 1 {
			t.Errorf("sink %d got %d events, want 1", i, n)
		}
	}
	if err := f.Emit(context.Background(), nil); err != nil {
		t.Errorf("Emit(nil) = %v, want nil", err)
	}
}
