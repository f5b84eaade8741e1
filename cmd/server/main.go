// Server runs the retention notifier: HTTP ingress, session sync loop, push dispatch worker and the
// gRPC health endpoint. Without DATABASE_URL every store is in memory.
package main

import (
	"context"
	"database/sql"
	"errors"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"retention-notifier/internal/channel"
	"retention-notifier/internal/channel/telegram"
	"retention-notifier/internal/config"
	"retention-notifier/internal/db"
	healthhandler "retention-notifier/internal/health/handler"
	"retention-notifier/internal/policy"
	policyrepo "retention-notifier/internal/policy/repository"
	"retention-notifier/internal/push/dispatch"
	"retention-notifier/internal/push/render"
	pushrepo "retention-notifier/internal/push/repository"
	"retention-notifier/internal/push/scheduler"
	"retention-notifier/internal/push/throttle"
	segmentrepo "retention-notifier/internal/segment/repository"
	segmentservice "retention-notifier/internal/segment/service"
	"retention-notifier/internal/server"
	"retention-notifier/internal/session"
	sessionrepo "retention-notifier/internal/session/repository"
	"retention-notifier/internal/telemetry"
	"retention-notifier/internal/telemetry/amplitude"
	otelemitter "retention-notifier/internal/telemetry/otel"
	"retention-notifier/internal/telemetry/producer"
)

const shutdownTimeout = 15 * time.Second

type stores struct {
	conn     *sql.DB
	jobs     pushrepo.Repository
	sessions sessionrepo.Repository
	segments segmentrepo.Store
}

func openStores(ctx context.Context, cfg *config.Config) (*stores, error) {
	if cfg.InMemory() {
		log.Println("DATABASE_URL not set; using in-memory stores")
		return &stores{
			jobs:     pushrepo.NewMemoryRepository(),
			sessions: sessionrepo.NewMemoryRepository(),
			segments: segmentrepo.NewMemoryStore(),
		}, nil
	}
	conn, err := db.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}
	return &stores{
		conn:     conn,
		jobs:     pushrepo.NewPostgresRepository(conn),
		sessions: sessionrepo.NewPostgresRepository(conn),
		segments: segmentrepo.NewPostgresStore(conn),
	}, nil
}

// policySource returns the configured policy backend. In memory mode without a file it returns nil
// and the provider serves defaults.
func policySource(cfg *config.Config, conn *sql.DB) (policyrepo.Source, func(), error) {
	switch cfg.PolicyBackend {
	case config.PolicyBackendFile:
		return policyrepo.NewFileSource(cfg.PolicyFile), func() {}, nil
	case config.PolicyBackendRedis:
		src, err := policyrepo.NewRedisSource(cfg.RedisURL)
		if err != nil {
			return nil, nil, err
		}
		return src, func() { _ = src.Close() }, nil
	default:
		if conn == nil {
			return nil, func() {}, nil
		}
		return policyrepo.NewPostgresSource(conn), func() {}, nil
	}
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	otelProviders, err := otelemitter.NewProviders(ctx, otelemitter.Options{
		Endpoint:    cfg.OTLPEndpoint,
		ServiceName: cfg.ServiceName,
		Insecure:    cfg.OTLPInsecure,
	})
	if err != nil {
		log.Fatalf("otel: %v", err)
	}
	otelProviders.SetGlobal()

	st, err := openStores(ctx, cfg)
	if err != nil {
		log.Fatalf("db: %v", err)
	}
	if st.conn != nil {
		defer st.conn.Close()
	}

	src, closeSrc, err := policySource(cfg, st.conn)
	if err != nil {
		log.Fatalf("policy: %v", err)
	}
	defer closeSrc()
	policies := policy.NewProvider(src, cfg.PolicyCacheTTLDuration())

	sinks := telemetry.Fanout{otelemitter.NewEventEmitter(otelProviders.LoggerProvider)}
	var kafkaProducer *producer.KafkaProducer
	if brokers := cfg.KafkaBrokersList(); len(brokers) > 0 {
		kafkaProducer = producer.NewKafkaProducer(brokers, cfg.TelemetryKafkaTopic)
		sinks = append(sinks, kafkaProducer)
		log.Printf("telemetry: kafka topic %s", cfg.TelemetryKafkaTopic)
	} else if amp := amplitude.NewClient(cfg.AmplitudeAPIKey, cfg.AmplitudeURL); amp != nil {
		sinks = append(sinks, amp)
		log.Println("telemetry: amplitude sink enabled")
	}
	var emitter telemetry.EventEmitter = sinks
	metrics, err := telemetry.NewMetrics(otelProviders.Meter())
	if err != nil {
		log.Fatalf("metrics: %v", err)
	}
	tracer := otelProviders.Tracer()

	resolver := segmentservice.NewResolver(st.segments, st.sessions, policies)
	sched := scheduler.New(st.jobs, st.segments, policies)
	planner := scheduler.NewPlanner(sched, resolver, st.segments, policies, emitter)

	sessions := session.NewStore()
	tracker := session.NewTracker(sessions, st.jobs, policies, emitter)
	syncLoop := session.NewSyncLoop(sessions, st.sessions, st.jobs, st.segments, planner, policies).
		WithTelemetry(emitter, metrics, tracer)

	gate, err := throttle.NewGate(ctx)
	if err != nil {
		log.Fatalf("throttle: %v", err)
	}
	renderer, err := render.New(cfg.PushLocale)
	if err != nil {
		log.Fatalf("render: %v", err)
	}
	var ch channel.Channel = channel.LogChannel{}
	if cfg.TelegramBotToken != "" {
		ch = telegram.NewClient(cfg.TelegramBotToken, cfg.TelegramAPIURL, cfg.SendRatePerSecond, cfg.SendTimeoutDuration())
	} else {
		log.Println("TELEGRAM_BOT_TOKEN not set; pushes are logged, not sent")
	}
	worker := dispatch.NewWorker(st.jobs, gate, renderer, ch, policies, sched, dispatch.Options{
		BatchSize:   cfg.DispatchBatchSize,
		Interval:    cfg.DispatchIntervalDuration(),
		SendTimeout: cfg.SendTimeoutDuration(),
		Retry: dispatch.RetryPolicy{
			MaxAttempts: cfg.SendMaxAttempts,
			Backoff:     cfg.SendRetryBackoffDuration(),
		},
	}).WithTelemetry(emitter, metrics, tracer)

	if n, err := planner.RestoreRituals(ctx); err != nil {
		log.Printf("restore rituals: %v", err)
	} else if n > 0 {
		log.Printf("restored %d premium rituals", n)
	}

	var pinger healthhandler.Pinger
	if st.conn != nil {
		pinger = st.conn
	}
	health := healthhandler.NewServer(pinger, gate)

	lis, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		log.Fatalf("listen: %v", err)
	}
	grpcServer := server.NewGRPCServer(server.Deps{Health: health})
	go func() {
		log.Printf("gRPC server listening on %s", cfg.GRPCAddr)
		if err := grpcServer.Serve(lis); err != nil {
			log.Fatalf("serve grpc: %v", err)
		}
	}()

	httpServer := &http.Server{
		Addr: cfg.HTTPAddr,
		Handler: server.NewHTTPHandler(server.HTTPDeps{
			Tracker:       tracker,
			Subscriptions: planner,
			Jobs:          st.jobs,
			Usage:         st.segments,
			Health:        health,
			Emitter:       emitter,
		}),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		log.Printf("HTTP server listening on %s", cfg.HTTPAddr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("serve http: %v", err)
		}
	}()

	var loops sync.WaitGroup
	loops.Add(2)
	go func() { defer loops.Done(); syncLoop.Run(ctx) }()
	go func() { defer loops.Done(); worker.Run(ctx) }()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	log.Println("shutting down...")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("http shutdown: %v", err)
	}
	grpcServer.GracefulStop()

	cancel()
	loops.Wait()
	res := syncLoop.Flush(shutdownCtx)
	log.Printf("flushed %d sessions (%d failed)", res.Active, res.Failed)

	time.Sleep(telemetry.ShutdownDrainDuration)
	if kafkaProducer != nil {
		if err := kafkaProducer.Close(); err != nil {
			log.Printf("kafka producer close: %v", err)
		}
	}
	if err := otelProviders.Shutdown(shutdownCtx); err != nil {
		log.Printf("otel shutdown: %v", err)
	}
	log.Println("stopped")
}
