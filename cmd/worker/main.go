// Worker relays telemetry events from Kafka to Amplitude.
// Set KAFKA_BROKERS, TELEMETRY_KAFKA_TOPIC, KAFKA_GROUP_ID and AMPLITUDE_API_KEY.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"retention-notifier/internal/config"
	"retention-notifier/internal/telemetry/amplitude"
	"retention-notifier/internal/telemetry/relay"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	brokers := cfg.KafkaBrokersList()
	if len(brokers) == 0 {
		log.Fatal("worker: KAFKA_BROKERS is required")
	}
	sink := amplitude.NewClient(cfg.AmplitudeAPIKey, cfg.AmplitudeURL)
	if sink == nil {
		log.Fatal("worker: AMPLITUDE_API_KEY is required")
	}

	r := relay.NewKafkaRelay(brokers, cfg.TelemetryKafkaTopic, cfg.KafkaGroupID, sink)
	defer r.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
		<-quit
		log.Println("worker: shutting down...")
		cancel()
	}()

	log.Printf("worker: relaying %s (group %s) to amplitude", cfg.TelemetryKafkaTopic, cfg.KafkaGroupID)
	r.Run(ctx)
}
