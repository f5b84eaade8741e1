package telemetry

import (
	"context"
	"errors"

	"retention-notifier/internal/telemetry/domain"
)

// EventEmitter emits analytics events (OTel logs, Kafka, Amplitude). Best-effort; callers log and ignore errors.
type EventEmitter interface {
	Emit(ctx context.Context, event *domain.Event) error
}

// Fanout emits every event to each sink in order and joins their errors.
type Fanout []EventEmitter

// Emit implements EventEmitter. A failing sink does not stop the others.
func (f Fanout) Emit(ctx context.Context, event *domain.Event) error {
	if event == nil {
		return nil
	}
	var errs []error
	for _, e := range f {
		if e == nil {
			continue
		}
		if err := e.Emit(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
