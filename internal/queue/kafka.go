package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/twmb/franz-go/pkg/kadm"
	"github.com/twmb/franz-go/pkg/kerr"
	"github.com/twmb/franz-go/pkg/kgo"

	"sunatflow/internal/platform/config"
)

// Kafka is the production broker. Each channel is a topic keyed by document
// id, so work on one document stays on one partition and is processed in
// order.
type Kafka struct {
	producer *kgo.Client
	seeds    []string
	group    string
	logger   *slog.Logger
}

// KafkaOption configures the broker.
type KafkaOption func(*Kafka)

func WithKafkaLogger(logger *slog.Logger) KafkaOption {
	return func(k *Kafka) { k.logger = logger }
}

func NewKafka(cfg config.Broker, opts ...KafkaOption) (*Kafka, error) {
	producer, err := kgo.NewClient(kgo.SeedBrokers(cfg.Seeds...))
	if err != nil {
		return nil, fmt.Errorf("queue: connect kafka: %w", err)
	}
	k := &Kafka{
		producer: producer,
		seeds:    cfg.Seeds,
		group:    cfg.GroupID,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(k)
	}
	return k, nil
}

func (k *Kafka) Close() {
	k.producer.Close()
}

// EnsureTopics creates every channel topic, tolerating ones that exist.
func (k *Kafka) EnsureTopics(ctx context.Context) error {
	adm := kadm.NewClient(k.producer)
	responses, err := adm.CreateTopics(ctx, 1, 1, nil, Channels...)
	if err != nil {
		return fmt.Errorf("queue: create topics: %w", err)
	}
	for _, response := range responses.Sorted() {
		if response.Err != nil && !errors.Is(response.Err, kerr.TopicAlreadyExists) {
			return fmt.Errorf("queue: create topic %s: %w", response.Topic, response.Err)
		}
	}
	return nil
}

func (k *Kafka) Publish(ctx context.Context, channel string, msg Message) error {
	value, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("queue: marshal message: %w", err)
	}
	record := &kgo.Record{
		Topic: channel,
		Key:   []byte(msg.DocumentID.String()),
		Value: value,
	}
	if err := k.producer.ProduceSync(ctx, record).FirstErr(); err != nil {
		return fmt.Errorf("queue: produce to %s: %w", channel, err)
	}
	return nil
}

// PublishRaw emits an arbitrary payload, used by the outbox relay whose
// events are not pipeline messages.
func (k *Kafka) PublishRaw(ctx context.Context, channel string, key string, payload []byte) error {
	record := &kgo.Record{Topic: channel, Key: []byte(key), Value: payload}
	if err := k.producer.ProduceSync(ctx, record).FirstErr(); err != nil {
		return fmt.Errorf("queue: produce to %s: %w", channel, err)
	}
	return nil
}

// Consume runs the handler with manual commits: a record is committed only
// after the handler acks it, so a crash mid-processing redelivers. A nacked
// record is re-enqueued onto the same topic before committing, which keeps
// the partition moving while preserving at-least-once delivery.
func (k *Kafka) Consume(ctx context.Context, channel string, handler Handler) error {
	client, err := kgo.NewClient(
		kgo.SeedBrokers(k.seeds...),
		kgo.ConsumerGroup(k.group+"-"+channel),
		kgo.ConsumeTopics(channel),
		kgo.DisableAutoCommit(),
	)
	if err != nil {
		return fmt.Errorf("queue: consumer for %s: %w", channel, err)
	}
	defer client.Close()

	for {
		fetches := client.PollFetches(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if fetches.IsClientClosed() {
			return fmt.Errorf("queue: consumer for %s closed", channel)
		}
		for _, fetchErr := range fetches.Errors() {
			k.logger.ErrorContext(ctx, "kafka fetch failed",
				"channel", channel, "partition", fetchErr.Partition, "error", fetchErr.Err)
		}

		var iterErr error
		fetches.EachRecord(func(record *kgo.Record) {
			if iterErr != nil {
				return
			}
			iterErr = k.handleRecord(ctx, client, channel, record, handler)
		})
		if iterErr != nil {
			k.logger.ErrorContext(ctx, "kafka commit failed", "channel", channel, "error", iterErr)
			// Back off; the uncommitted records come back on rebalance.
			select {
			case <-time.After(time.Second):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
}

func (k *Kafka) handleRecord(ctx context.Context, client *kgo.Client, channel string, record *kgo.Record, handler Handler) error {
	var msg Message
	if err := json.Unmarshal(record.Value, &msg); err != nil {
		// Poison payloads are dropped, not retried forever.
		k.logger.ErrorContext(ctx, "dropping unreadable message",
			"channel", channel, "offset", record.Offset, "error", err)
		return client.CommitRecords(ctx, record)
	}

	if handler(ctx, msg) == Nack {
		if err := k.Publish(ctx, channel, msg); err != nil {
			return fmt.Errorf("requeue nacked message: %w", err)
		}
	}
	return client.CommitRecords(ctx, record)
}
