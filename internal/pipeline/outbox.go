package pipeline

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"sunatflow/internal/queue"
)

// EventSink records completion events for later publication.
type EventSink interface {
	Record(ctx context.Context, event Event) error
}

// Outbox implements EventSink with the transactional outbox pattern: events
// land in the outbox table first and a relay moves them to the broker, so a
// crash between commit and publish loses nothing.
type Outbox struct {
	db *sql.DB
}

func NewOutbox(db *sql.DB) *Outbox {
	return &Outbox{db: db}
}

func (o *Outbox) Record(ctx context.Context, event Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event payload: %w", err)
	}
	query := `
		INSERT INTO outbox (id, aggregate_type, aggregate_id, event_type, payload, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	_, err = o.db.ExecContext(ctx, query,
		uuid.New(),
		"document",
		uuid.UUID(event.DocumentID),
		event.Type,
		payload,
		time.Now(),
	)
	if err != nil {
		return fmt.Errorf("insert outbox entry: %w", err)
	}
	return nil
}

// Relay drains the outbox onto the events channel.
type Relay struct {
	db        *sql.DB
	publisher eventPublisher
	interval  time.Duration
	logger    *slog.Logger
}

// eventPublisher is the raw-payload side of the broker the relay needs.
type eventPublisher interface {
	PublishRaw(ctx context.Context, channel string, key string, payload []byte) error
}

// RelayOption configures a Relay.
type RelayOption func(*Relay)

func WithRelayInterval(interval time.Duration) RelayOption {
	return func(r *Relay) { r.interval = interval }
}

func WithRelayLogger(logger *slog.Logger) RelayOption {
	return func(r *Relay) { r.logger = logger }
}

func NewRelay(db *sql.DB, publisher eventPublisher, opts ...RelayOption) *Relay {
	r := &Relay{
		db:        db,
		publisher: publisher,
		interval:  time.Second,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run publishes pending entries until the context ends. Entries are marked
// published only after the broker accepted them; duplicates on crash are
// possible and consumers must tolerate them.
func (r *Relay) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := r.publishPending(ctx); err != nil {
				r.logger.ErrorContext(ctx, "outbox relay pass failed", "error", err)
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (r *Relay) publishPending(ctx context.Context) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin outbox pass: %w", err)
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx, `
		SELECT id, aggregate_id, payload FROM outbox
		WHERE published_at IS NULL
		ORDER BY created_at
		LIMIT 100
		FOR UPDATE SKIP LOCKED`)
	if err != nil {
		return fmt.Errorf("query outbox: %w", err)
	}

	type entry struct {
		id          uuid.UUID
		aggregateID string
		payload     []byte
	}
	var entries []entry
	for rows.Next() {
		var e entry
		if err := rows.Scan(&e.id, &e.aggregateID, &e.payload); err != nil {
			rows.Close()
			return fmt.Errorf("scan outbox entry: %w", err)
		}
		entries = append(entries, e)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate outbox: %w", err)
	}

	for _, e := range entries {
		if err := r.publisher.PublishRaw(ctx, queue.ChannelEvents, e.aggregateID, e.payload); err != nil {
			return fmt.Errorf("publish outbox entry %s: %w", e.id, err)
		}
		if _, err := tx.ExecContext(ctx, `UPDATE outbox SET published_at = $2 WHERE id = $1`, e.id, time.Now()); err != nil {
			return fmt.Errorf("mark outbox entry %s: %w", e.id, err)
		}
	}
	return tx.Commit()
}
