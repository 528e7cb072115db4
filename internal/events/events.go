// Package events publishes opened and closed positions to Kafka.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/amirphl/portfolio-sync/internal/position"
	"github.com/amirphl/portfolio-sync/internal/reconcile"
	"github.com/segmentio/kafka-go"
)

const (
	ChangeOpened = "opened"
	ChangeClosed = "closed"
)

// Change is the message value written for each position in a delta.
type Change struct {
	RunID     string            `json:"run_id"`
	Portfolio string            `json:"portfolio"`
	Change    string            `json:"change"`
	At        time.Time         `json:"at"`
	Position  position.Position `json:"position"`
}

// Publisher emits the changes of one sync run.
type Publisher interface {
	Publish(ctx context.Context, runID, portfolio string, d reconcile.Delta) error
	Close() error
}

// Nop discards everything.
type Nop struct{}

func (Nop) Publish(context.Context, string, string, reconcile.Delta) error { return nil }
func (Nop) Close() error { return nil }

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type KafkaPublisher struct {
	w   messageWriter
	now func() time.Time
}

// NewKafkaPublisher constructs a publisher writing to topic on brokers.
func NewKafkaPublisher(brokers []string, topic string) *KafkaPublisher {
	dialer := &kafka.Dialer{
		Timeout:   10 * time.Second,
		DualStack: true,
	}

	w := kafka.NewWriter(kafka.WriterConfig{
		Brokers:      brokers,
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		Dialer:       dialer,
		BatchTimeout: 200 * time.Millisecond,
		RequiredAcks: int(kafka.RequireOne),
	})
	return &KafkaPublisher{w: w, now: time.Now}
}

// Messages builds one keyed message per inserted and deleted position.
// Keys are fingerprints so changes to the same position share a partition.
func Messages(runID, portfolio string, d reconcile.Delta, at time.Time) ([]kafka.Message, error) {
	msgs := make([]kafka.Message, 0, len(d.Inserted)+len(d.Deleted))
	add := func(kind string, ps []position.Position) error {
		for _, p := range ps {
			value, err := json.Marshal(Change{RunID: runID, Portfolio: portfolio, Change: kind, At: at.UTC(), Position: p})
			if err != nil {
				return fmt.Errorf("failed to marshal %s change for %s: %w", kind, p, err)
			}
			msgs = append(msgs, kafka.Message{
				Key:   []byte(p.Fingerprint),
				Value: value,
				Headers: []kafka.Header{
					{Key: "change", Value: []byte(kind)},
					{Key: "portfolio", Value: []byte(portfolio)},
				},
			})
		}
		return nil
	}
	if err := add(ChangeOpened, d.Inserted); err != nil {
		return nil, err
	}
	if err := add(ChangeClosed, d.Deleted); err != nil {
		return nil, err
	}
	return msgs, nil
}

func (k *KafkaPublisher) Publish(ctx context.Context, runID, portfolio string, d reconcile.Delta) error {
	if d.Empty() {
		return nil
	}
	msgs, err := Messages(runID, portfolio, d, k.now())
	if err != nil {
		return err
	}
	if err := k.w.WriteMessages(ctx, msgs...); err != nil {
		return fmt.Errorf("failed to publish %d changes: %w", len(msgs), err)
	}
	return nil
}

func (k *KafkaPublisher) Close() error {
	return k.w.Close()
}
