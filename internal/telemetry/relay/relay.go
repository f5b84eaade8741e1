// Package relay forwards telemetry events from the Kafka topic to a downstream sink.
package relay

import (
	"context"
	"log"
	"time"

	"github.com/segmentio/kafka-go"

	"retention-notifier/internal/telemetry"
	"retention-notifier/internal/telemetry/producer"
)

const pushTimeout = 10 * time.Second

// messageReader is the subset of *kafka.Reader used by Relay.
type messageReader interface {
	ReadMessage(ctx context.Context) (kafka.Message, error)
	Close() error
}

// Relay consumes the telemetry topic and emits every event to sink.
type Relay struct {
	reader messageReader
	sink   telemetry.EventEmitter
}

// NewKafkaRelay returns a Relay reading topic as consumer group groupID.
func NewKafkaRelay(brokers []string, topic, groupID string, sink telemetry.EventEmitter) *Relay {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        brokers,
		Topic:          topic,
		GroupID:        groupID,
		MinBytes:       1,
		MaxBytes:       10e6, // 10MB
		MaxWait:        1 * time.Second,
		CommitInterval: time.Second,
	})
	return &Relay{reader: reader, sink: sink}
}

// Run forwards messages until ctx is done. Undecodable messages and sink failures are logged and
// skipped; the offset still advances.
func (r *Relay) Run(ctx context.Context) {
	for {
		msg, err := r.reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				log.Println("relay: stopped")
				return
			}
			log.Printf("relay: kafka read error: %v", err)
			continue
		}
		event, err := producer.Decode(msg.Value)
		if err != nil {
			log.Printf("relay: skip undecodable message offset=%d: %v", msg.Offset, err)
			continue
		}
		pushCtx, cancel := context.WithTimeout(ctx, pushTimeout)
		if err := r.sink.Emit(pushCtx, event); err != nil {
			log.Printf("relay: forward %s user=%d failed: %v", event.Name, event.UserID, err)
		}
		cancel()
	}
}

// Close closes the Kafka reader.
func (r *Relay) Close() error {
	return r.reader.Close()
}
