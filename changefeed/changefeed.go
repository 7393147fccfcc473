/*
Package changefeed publishes record change events.

PURPOSE:
  Other devices learn about changes by polling. A change feed lets them
  subscribe instead: every write or delete the remote store has confirmed
  is announced as an Event. Publishing is best effort; a failed publish is
  logged by the caller and never undoes the write.

SEE ALSO:
  - engine/engine.go: emits events after confirmed remote writes
*/
package changefeed

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	skafka "github.com/segmentio/kafka-go"

	"github.com/warp/delivery-tracker/tracker"
)

// Event types.
const (
	DeliverySaved   = "delivery.saved"
	DeliveryDeleted = "delivery.deleted"
	StoreSaved      = "store.saved"
	StoreDeleted    = "store.deleted"
)

// Event describes one confirmed change.
type Event struct {
	Type string      `json:"type"`
	ID   string      `json:"id"`
	Day  tracker.Day `json:"day,omitempty"`
	At   time.Time   `json:"at"`
}

// Publisher announces events.
type Publisher interface {
	Publish(ctx context.Context, e Event) error
	Close() error
}

// Nop discards every event.
type Nop struct{}

func (Nop) Publish(context.Context, Event) error { return nil }
func (Nop) Close() error                         { return nil }

// =============================================================================
// KAFKA
// =============================================================================

// Writer is the subset of kafka.Writer the publisher needs.
type Writer interface {
	WriteMessages(ctx context.Context, msgs ...skafka.Message) error
	Close() error
}

// Kafka publishes events as JSON messages keyed by record id, so that all
// events of one record land on the same partition in order.
type Kafka struct {
	writer Writer
}

// Publish is called on the write path with one message at a time, so the
// writer must not wait to fill a batch.
const (
	publishBatchTimeout = 5 * time.Millisecond
	publishWriteTimeout = 5 * time.Second
)

// NewKafka creates a publisher writing to topic on the given brokers.
func NewKafka(brokers []string, topic string) *Kafka {
	w := &skafka.Writer{
		Addr:         skafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &skafka.Hash{},
		BatchTimeout: publishBatchTimeout,
		WriteTimeout: publishWriteTimeout,
		RequiredAcks: skafka.RequireOne,
	}
	return &Kafka{writer: w}
}

// NewKafkaWithWriter allows injecting a test writer.
func NewKafkaWithWriter(w Writer) *Kafka {
	return &Kafka{writer: w}
}

func (k *Kafka) Publish(ctx context.Context, e Event) error {
	b, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("failed to encode %s event: %w", e.Type, err)
	}
	msg := skafka.Message{
		Key:     []byte(e.ID),
		Value:   b,
		Headers: []skafka.Header{{Key: "type", Value: []byte(e.Type)}},
	}
	if err := k.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("failed to publish %s event: %w", e.Type, err)
	}
	return nil
}

// Close flushes and closes the underlying writer.
func (k *Kafka) Close() error {
	return k.writer.Close()
}
