package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"

	platformredis "sunatflow/internal/platform/redis"
)

const (
	scheduledSetKey     = "queue:scheduled"
	defaultPollInterval = time.Second
	moveBatchSize       = 100
)

// scheduledEntry is one delayed message in the ZSET, scored by delivery time.
// The nonce keeps two identical retries distinct as set members.
type scheduledEntry struct {
	Nonce   string  `json:"nonce"`
	Channel string  `json:"channel"`
	Message Message `json:"message"`
}

// Scheduler implements delayed redelivery on a redis sorted set. Schedule
// suspends the message, not a worker; Run moves due entries onto their
// channel.
type Scheduler struct {
	redis     *platformredis.Client
	publisher Publisher
	interval  time.Duration
	logger    *slog.Logger
}

// SchedulerOption configures a Scheduler.
type SchedulerOption func(*Scheduler)

func WithPollInterval(interval time.Duration) SchedulerOption {
	return func(s *Scheduler) { s.interval = interval }
}

func WithSchedulerLogger(logger *slog.Logger) SchedulerOption {
	return func(s *Scheduler) { s.logger = logger }
}

func NewScheduler(redis *platformredis.Client, publisher Publisher, opts ...SchedulerOption) *Scheduler {
	s := &Scheduler{
		redis:     redis,
		publisher: publisher,
		interval:  defaultPollInterval,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Scheduler) Schedule(ctx context.Context, channel string, msg Message, at time.Time) error {
	entry := scheduledEntry{
		Nonce:   uuid.NewString(),
		Channel: channel,
		Message: msg,
	}
	payload, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("queue: marshal scheduled entry: %w", err)
	}
	err = s.redis.ZAdd(ctx, scheduledSetKey, goredis.Z{
		Score:  float64(at.UnixMilli()),
		Member: payload,
	}).Err()
	if err != nil {
		return fmt.Errorf("queue: schedule message: %w", err)
	}
	return nil
}

// Run polls for due entries until the context ends. An entry is removed only
// after it was published; a crash in between redelivers it, matching the
// at-least-once contract of the channels themselves.
func (s *Scheduler) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := s.moveDue(ctx); err != nil {
				s.logger.ErrorContext(ctx, "scheduled message move failed", "error", err)
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (s *Scheduler) moveDue(ctx context.Context) error {
	now := time.Now().UnixMilli()
	members, err := s.redis.ZRangeByScore(ctx, scheduledSetKey, &goredis.ZRangeBy{
		Min:   "-inf",
		Max:   fmt.Sprintf("%d", now),
		Count: moveBatchSize,
	}).Result()
	if err != nil {
		return fmt.Errorf("queue: read due entries: %w", err)
	}

	for _, member := range members {
		var entry scheduledEntry
		if err := json.Unmarshal([]byte(member), &entry); err != nil {
			s.logger.Error("dropping unreadable scheduled entry", "error", err)
			s.redis.ZRem(ctx, scheduledSetKey, member)
			continue
		}
		if err := s.publisher.Publish(ctx, entry.Channel, entry.Message); err != nil {
			return fmt.Errorf("queue: publish due entry: %w", err)
		}
		if err := s.redis.ZRem(ctx, scheduledSetKey, member).Err(); err != nil {
			return fmt.Errorf("queue: remove due entry: %w", err)
		}
	}
	return nil
}
