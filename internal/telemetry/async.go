package telemetry

import (
	"context"
	"log"
	"time"

	"go.opentelemetry.io/otel/trace"

	"retention-notifier/internal/telemetry/domain"
)

const emitTimeout = 5 * time.Second

// ShutdownDrainDuration is how long cmd/server waits before closing sinks so detached emits finish.
const ShutdownDrainDuration = emitTimeout

// EmitAsync hands the event to emitter on its own goroutine and returns at once. Failures are logged.
//
// The emit is detached from ctx cancellation (a finished request or tick must not drop its event)
// but keeps ctx's span context, so log records stay correlated with the dispatch or sync span.
// A nil emitter or event is a no-op.
func EmitAsync(emitter EventEmitter, ctx context.Context, event *domain.Event) {
	if emitter == nil || event == nil {
		return
	}
	detached := trace.ContextWithSpanContext(context.Background(), trace.SpanContextFromContext(ctx))
	go func() {
		emitCtx, cancel := context.WithTimeout(detached, emitTimeout)
		defer cancel()
		if err := emitter.Emit(emitCtx, event); err != nil {
			log.Printf("telemetry: emit %s user=%d: %v", event.Name, event.UserID, err)
		}
	}()
}
