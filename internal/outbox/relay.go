// Package outbox relays committed domain events from the store's outbox
// table to Kafka. Messages are marked processed only after the broker
// acknowledged them, so delivery is at-least-once; consumers dedupe on the
// message-id header.
package outbox

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/Shivanand-hulikatti/event-registration/internal/metrics"
	"github.com/Shivanand-hulikatti/event-registration/internal/model"
	"github.com/Shivanand-hulikatti/event-registration/internal/repository"
)

// Writer is the part of *kafka.Writer the relay uses.
type Writer interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

// NewKafkaWriter returns a writer publishing to topic. Messages with the
// same key land on the same partition, which keeps one entity's events in
// order.
func NewKafkaWriter(brokers []string, topic string) *kafka.Writer {
	return &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireAll,
		AllowAutoTopicCreation: true,
	}
}

// Options configures a Relay.
type Options struct {
	BatchSize    int
	PollInterval time.Duration
	Metrics      *metrics.Metrics
	Logger       *slog.Logger
}

// Relay polls the outbox and publishes what it finds.
type Relay struct {
	store    repository.OutboxStore
	writer   Writer
	batch    int
	interval time.Duration
	metrics  *metrics.Metrics
	log      *slog.Logger
}

// NewRelay constructs a Relay.
func NewRelay(store repository.OutboxStore, writer Writer, opts Options) *Relay {
	if opts.BatchSize <= 0 {
		opts.BatchSize = 100
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = time.Second
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.NewNop()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Relay{
		store:    store,
		writer:   writer,
		batch:    opts.BatchSize,
		interval: opts.PollInterval,
		metrics:  opts.Metrics,
		log:      opts.Logger,
	}
}

// Run flushes the outbox every poll interval until ctx is cancelled.
func (r *Relay) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		if _, err := r.Flush(ctx); err != nil && ctx.Err() == nil {
			r.log.ErrorContext(ctx, "outbox relay", "error", err)
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// Flush publishes batches until the outbox is drained or an error occurs.
// It returns the number of messages published.
func (r *Relay) Flush(ctx context.Context) (int, error) {
	total := 0
	for {
		n, err := r.store.ProcessOutbox(ctx, r.batch, r.publish)
		total += n
		if err != nil {
			return total, fmt.Errorf("process outbox: %w", err)
		}
		if n > 0 {
			r.metrics.Published(n)
			r.log.DebugContext(ctx, "outbox batch published", "count", n)
		}
		if n < r.batch {
			return total, nil
		}
	}
}

func (r *Relay) publish(ctx context.Context, msgs []model.OutboxMessage) error {
	out := make([]kafka.Message, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, Message(m))
	}
	if err := r.writer.WriteMessages(ctx, out...); err != nil {
		return fmt.Errorf("write to kafka: %w", err)
	}
	return nil
}

// Message converts an outbox row into a Kafka message. The domain topic
// travels in the event-type header.
func Message(m model.OutboxMessage) kafka.Message {
	return kafka.Message{
		Key:   []byte(m.Key),
		Value: m.Payload,
		Time:  m.CreatedAt,
		Headers: []kafka.Header{
			{Key: "event-type", Value: []byte(m.Topic)},
			{Key: "message-id", Value: []byte(m.ID.String())},
		},
	}
}
