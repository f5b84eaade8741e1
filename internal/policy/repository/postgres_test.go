package repository

import (
	"context"
	"testing"

	"retention-notifier/internal/db/dbtest"
	"retention-notifier/internal/policy/domain"
)

func TestPostgresSource_GetAndPutIfAbsent(t *testing.T) {
	src := NewPostgresSource(dbtest.Postgres(t))
	ctx := context.Background()

	raw, err := src.Get(ctx, domain.KeySession)
	if err != nil {
		t.Fatalf("Get missing: %v", err)
	}
	if raw != nil {
		t.Errorf("Get missing = %s, want nil", raw)
	}

	ok, err := src.PutIfAbsent(ctx, domain.KeySession, []byte(`{"timeout_minutes": 12}`))
	if err != nil || !ok {
		t.Fatalf("PutIfAbsent = %v, %v; want true, nil", ok, err)
	}
	ok, err = src.PutIfAbsent(ctx, domain.KeySession, []byte(`{"timeout_minutes": 99}`))
	if err != nil || ok {
		t.Fatalf("second PutIfAbsent = %v, %v; want false, nil", ok, err)
	}

	raw, err = src.Get(ctx, domain.KeySession)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	p, _ := domain.ParseSession(raw)
	if p.TimeoutMinutes != 12 {
		t.Errorf("TimeoutMinutes = %d, want 12", p.TimeoutMinutes)
	}
}
