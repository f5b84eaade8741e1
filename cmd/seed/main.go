// seed writes the default policy documents to the configured backend and, with -user, a premium
// development user whose welcome push is due immediately. Idempotent: existing documents and
// jobs are left untouched.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"log"

	"retention-notifier/internal/config"
	"retention-notifier/internal/db"
	"retention-notifier/internal/policy"
	policydomain "retention-notifier/internal/policy/domain"
	policyrepo "retention-notifier/internal/policy/repository"
	pushdomain "retention-notifier/internal/push/domain"
	pushrepo "retention-notifier/internal/push/repository"
	"retention-notifier/internal/push/scheduler"
	segmentrepo "retention-notifier/internal/segment/repository"
)

func main() {
	userID := flag.Int64("user", 0, "Development user to mark premium and queue a welcome push for")
	testMode := flag.Bool("test-mode", false, "Seed the retention policy in test mode (delays in seconds)")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if cfg.InMemory() {
		log.Fatal("DATABASE_URL is not set; create a .env or set DATABASE_URL")
	}

	ctx := context.Background()
	conn, err := db.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("db: %v", err)
	}
	defer conn.Close()

	var writer policyrepo.Writer
	switch cfg.PolicyBackend {
	case config.PolicyBackendRedis:
		src, err := policyrepo.NewRedisSource(cfg.RedisURL)
		if err != nil {
			log.Fatalf("redis: %v", err)
		}
		defer src.Close()
		writer = src
	case config.PolicyBackendFile:
		log.Printf("POLICY_BACKEND=file; edit %s instead of seeding policies", cfg.PolicyFile)
	default:
		writer = policyrepo.NewPostgresSource(conn)
	}

	if writer != nil {
		retention := policydomain.DefaultRetention()
		if *testMode {
			retention.Mode = policydomain.ModeTest
			retention.PremiumRitual.TestMode = true
		}
		docs := map[string]any{
			policydomain.KeyRetention:       retention,
			policydomain.KeySession:         policydomain.DefaultSession(),
			policydomain.KeyInterviewInvite: policydomain.DefaultInterviewInvite(),
			policydomain.KeyPaywall:         policydomain.DefaultPaywall(),
		}
		for _, key := range policydomain.Keys {
			raw, err := json.Marshal(docs[key])
			if err != nil {
				log.Fatalf("encode %s: %v", key, err)
			}
			created, err := writer.PutIfAbsent(ctx, key, raw)
			if err != nil {
				log.Fatalf("seed %s: %v", key, err)
			}
			if created {
				log.Printf("seeded policy %s", key)
			} else {
				log.Printf("policy %s already present, skipped", key)
			}
		}
	}

	if *userID <= 0 {
		return
	}
	segments := segmentrepo.NewPostgresStore(conn)
	if err := segments.SetPremiumOverride(ctx, *userID, true); err != nil {
		log.Fatalf("premium override: %v", err)
	}
	sched := scheduler.New(pushrepo.NewPostgresRepository(conn), segments, policy.NewProvider(nil, 0))
	job, err := sched.ScheduleOnce(ctx, *userID, pushdomain.TypePremiumWelcome, pushdomain.Payload{})
	if err != nil {
		log.Fatalf("welcome push: %v", err)
	}
	if job == nil {
		log.Printf("user %d already had a welcome push, skipped", *userID)
		return
	}
	log.Printf("queued welcome push for user %d", *userID)
}
