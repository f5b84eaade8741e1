// Package dispatch runs the poll loop that delivers due push jobs.
package dispatch

import (
	"context"
	"errors"
	"log"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"retention-notifier/internal/channel"
	policydomain "retention-notifier/internal/policy/domain"
	"retention-notifier/internal/push/domain"
	"retention-notifier/internal/push/repository"
	"retention-notifier/internal/push/scheduler"
	"retention-notifier/internal/push/throttle"
	"retention-notifier/internal/telemetry"
	telemetrydomain "retention-notifier/internal/telemetry/domain"
)

const (
	defaultBatchSize   = 10
	defaultInterval    = 5 * time.Second
	defaultSendTimeout = 10 * time.Second
)

// PolicySource supplies the retention policy.
type PolicySource interface {
	Retention(ctx context.Context) policydomain.RetentionPolicy
}

// Gate decides whether a job may be sent now.
type Gate interface {
	Evaluate(ctx context.Context, in throttle.Input) (throttle.Decision, error)
}

// Renderer builds the outbound message for a job.
type Renderer interface {
	Render(job *domain.Job) channel.Message
}

// Recurrer schedules the next occurrence of a recurring type.
type Recurrer interface {
	ScheduleRecurring(ctx context.Context, userID int64, typ domain.Type) (*domain.Job, error)
}

// Options tunes the worker. Zero values use the defaults.
type Options struct {
	BatchSize   int
	Interval    time.Duration
	SendTimeout time.Duration
	Retry       RetryPolicy
}

// TickResult summarizes one poll.
type TickResult struct {
	Due       int
	Sent      int
	Failed    int
	Retried   int
	Throttled int
}

// transition runs after a job reaches a terminal state.
type transition func(ctx context.Context, w *Worker, job *domain.Job)

// Worker polls the queue for due jobs and sends them through the channel.
type Worker struct {
	jobs     repository.Repository
	gate     Gate
	renderer Renderer
	ch       channel.Channel
	policy   PolicySource
	recur    Recurrer
	opts     Options

	onSent   map[domain.Type]transition
	onFailed map[domain.Type]transition

	emitter telemetry.EventEmitter
	metrics *telemetry.Metrics
	tracer  trace.Tracer
	nowF    func() time.Time
}

// NewWorker returns a Worker.
func NewWorker(jobs repository.Repository, gate Gate, renderer Renderer, ch channel.Channel, policy PolicySource, recur Recurrer, opts Options) *Worker {
	if opts.BatchSize <= 0 {
		opts.BatchSize = defaultBatchSize
	}
	if opts.Interval <= 0 {
		opts.Interval = defaultInterval
	}
	if opts.SendTimeout <= 0 {
		opts.SendTimeout = defaultSendTimeout
	}
	if opts.Retry.MaxAttempts <= 0 {
		opts.Retry = NoRetry
	}
	return &Worker{
		jobs:     jobs,
		gate:     gate,
		renderer: renderer,
		ch:       ch,
		policy:   policy,
		recur:    recur,
		opts:     opts,
		// premium_ritual keeps exactly one pending row per subscriber, so a failed send reschedules too.
		onSent:   map[domain.Type]transition{domain.TypePremiumRitual: scheduleNextRitual},
		onFailed: map[domain.Type]transition{domain.TypePremiumRitual: scheduleNextRitual},
		tracer:   otel.Tracer("retention-notifier/dispatch"),
		nowF:     func() time.Time { return time.Now().UTC() },
	}
}

// WithTelemetry attaches the event emitter, counters and tracer. Any of them may be nil.
func (w *Worker) WithTelemetry(emitter telemetry.EventEmitter, metrics *telemetry.Metrics, tracer trace.Tracer) *Worker {
	w.emitter = emitter
	w.metrics = metrics
	if tracer != nil {
		w.tracer = tracer
	}
	return w
}

// Run polls every Interval until ctx is done. A failed poll is logged and retried on the next tick.
func (w *Worker) Run(ctx context.Context) {
	ticker := time.NewTicker(w.opts.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := w.Tick(ctx); err != nil {
				log.Printf("dispatch: tick failed: %v", err)
			}
		}
	}
}

// Tick fetches one batch of due jobs, oldest first, and processes them in order. Jobs held back by
// quiet hours or the daily cap stay pending.
func (w *Worker) Tick(ctx context.Context) (TickResult, error) {
	ctx, span := w.tracer.Start(ctx, "push.dispatch")
	defer span.End()

	var res TickResult
	now := w.nowF()
	due, err := w.jobs.ListDue(ctx, now, w.opts.BatchSize)
	if err != nil {
		return res, err
	}
	res.Due = len(due)
	if len(due) == 0 {
		return res, nil
	}
	log.Printf("dispatch: found %d due jobs", len(due))

	pol := w.policy.Retention(ctx)
	dayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	sentToday, err := w.jobs.CountSentBetween(ctx, dayStart, dayStart.Add(24*time.Hour))
	if err != nil {
		return res, err
	}

	for _, job := range due {
		if ctx.Err() != nil {
			break
		}
		d, err := w.gate.Evaluate(ctx, throttle.InputFor(pol, job.Type, w.nowF(), sentToday))
		if err != nil {
			log.Printf("dispatch: throttle job=%d: %v", job.ID, err)
			res.Throttled++
			continue
		}
		if !d.Allow {
			w.metrics.PushSkipped(ctx, string(job.Type), d.Reason)
			res.Throttled++
			continue
		}
		switch w.deliver(ctx, job) {
		case outcomeSent:
			res.Sent++
			sentToday++
		case outcomeRetried:
			res.Retried++
		case outcomeFailed:
			res.Failed++
		}
	}

	span.SetAttributes(
		attribute.Int("jobs.due", res.Due),
		attribute.Int("jobs.sent", res.Sent),
		attribute.Int("jobs.failed", res.Failed),
		attribute.Int("jobs.throttled", res.Throttled),
	)
	if res.Throttled > 0 {
		log.Printf("dispatch: throttled %d jobs", res.Throttled)
	}
	return res, nil
}

type outcome int

const (
	outcomeSent outcome = iota
	outcomeRetried
	outcomeFailed
	outcomeUnchanged
)

func (w *Worker) deliver(ctx context.Context, job *domain.Job) outcome {
	msg := w.renderer.Render(job)
	sendCtx, cancel := context.WithTimeout(ctx, w.opts.SendTimeout)
	sendErr := w.ch.Send(sendCtx, msg)
	cancel()
	at := w.nowF()

	if sendErr == nil {
		if err := w.jobs.MarkSent(ctx, job.ID, at); err != nil {
			log.Printf("dispatch: mark sent job=%d: %v", job.ID, err)
			return outcomeUnchanged
		}
		log.Printf("dispatch: sent job=%d user=%d type=%s", job.ID, job.UserID, job.Type)
		w.metrics.PushSent(ctx, string(job.Type))
		w.emit(ctx, job, telemetrydomain.EventPushSent, nil)
		w.run(ctx, w.onSent, job)
		return outcomeSent
	}

	if errors.Is(sendErr, context.DeadlineExceeded) {
		log.Printf("dispatch: send job=%d timed out after %v", job.ID, w.opts.SendTimeout)
	}
	attempts := job.Attempts + 1
	if retryAt, ok := w.opts.Retry.next(at, attempts, sendErr); ok {
		if err := w.jobs.Reschedule(ctx, job.ID, retryAt, attempts, sendErr.Error()); err != nil {
			log.Printf("dispatch: reschedule job=%d: %v", job.ID, err)
			return outcomeUnchanged
		}
		log.Printf("dispatch: send job=%d attempt=%d failed, retry at %s: %v", job.ID, attempts, retryAt.Format(time.RFC3339), sendErr)
		return outcomeRetried
	}

	if err := w.jobs.MarkFailed(ctx, job.ID, at, sendErr.Error()); err != nil {
		log.Printf("dispatch: mark failed job=%d: %v", job.ID, err)
		return outcomeUnchanged
	}
	log.Printf("dispatch: failed job=%d user=%d type=%s: %v", job.ID, job.UserID, job.Type, sendErr)
	w.metrics.PushFailed(ctx, string(job.Type))
	w.emit(ctx, job, telemetrydomain.EventPushFailed, map[string]any{
		"error":     sendErr.Error(),
		"permanent": channel.IsPermanent(sendErr),
	})
	w.run(ctx, w.onFailed, job)
	return outcomeFailed
}

func (w *Worker) run(ctx context.Context, transitions map[domain.Type]transition, job *domain.Job) {
	if t, ok := transitions[job.Type]; ok {
		t(ctx, w, job)
	}
}

func (w *Worker) emit(ctx context.Context, job *domain.Job, name string, extra map[string]any) {
	props := map[string]any{
		"push_id": job.ID,
		"type":    string(job.Type),
	}
	if job.Payload.Step > 0 {
		props["step"] = job.Payload.Step
	}
	for k, v := range extra {
		props[k] = v
	}
	telemetry.EmitAsync(w.emitter, ctx, telemetrydomain.New(job.UserID, name, props))
}

func scheduleNextRitual(ctx context.Context, w *Worker, job *domain.Job) {
	if w.recur == nil {
		return
	}
	next, err := w.recur.ScheduleRecurring(ctx, job.UserID, job.Type)
	switch {
	case errors.Is(err, scheduler.ErrNoSubscription):
		log.Printf("dispatch: user=%d no longer subscribed, %s not rescheduled", job.UserID, job.Type)
	case err != nil:
		log.Printf("dispatch: reschedule %s user=%d: %v", job.Type, job.UserID, err)
	default:
		log.Printf("dispatch: next %s user=%d at %s", job.Type, job.UserID, next.ScheduledAt.Format(time.RFC3339))
	}
}
