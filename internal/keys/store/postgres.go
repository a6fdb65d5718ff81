package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"sunatflow/internal/keys"
	id "sunatflow/pkg/domain"
	"sunatflow/pkg/platform/sentinel"
)

// Postgres implements ComponentStore over two tables: components and
// component_config (one row per key/value pair, ordered by position to keep
// the multimap stable).
type Postgres struct {
	pool *pgxpool.Pool
}

func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

func (s *Postgres) Components(ctx context.Context, parentID id.ProjectID, providerType string) ([]keys.Component, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, parent_id, name, provider_id, provider_type, sub_type, created_at, updated_at
		FROM components
		WHERE parent_id = $1 AND provider_type = $2`,
		uuid.UUID(parentID), providerType)
	if err != nil {
		return nil, fmt.Errorf("query components: %w", err)
	}
	defer rows.Close()

	var out []keys.Component
	for rows.Next() {
		c, err := scanComponent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate components: %w", err)
	}
	for i := range out {
		cfg, err := s.loadConfig(ctx, out[i].ID)
		if err != nil {
			return nil, err
		}
		out[i].Config = cfg
	}
	return out, nil
}

func (s *Postgres) FindByID(ctx context.Context, componentID id.ComponentID) (*keys.Component, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, parent_id, name, provider_id, provider_type, sub_type, created_at, updated_at
		FROM components WHERE id = $1`, uuid.UUID(componentID))
	c, err := scanComponent(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, err
	}
	cfg, err := s.loadConfig(ctx, c.ID)
	if err != nil {
		return nil, err
	}
	c.Config = cfg
	return c, nil
}

func (s *Postgres) Add(ctx context.Context, component *keys.Component) error {
	now := time.Now()
	component.CreatedAt = now
	component.UpdatedAt = now

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin add component: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
		INSERT INTO components (id, parent_id, name, provider_id, provider_type, sub_type, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		uuid.UUID(component.ID), uuid.UUID(component.ParentID), component.Name,
		component.ProviderID, component.ProviderType, component.SubType,
		component.CreatedAt, component.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert component: %w", err)
	}
	if err := writeConfig(ctx, tx, component); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (s *Postgres) Update(ctx context.Context, component *keys.Component) error {
	component.UpdatedAt = time.Now()

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin update component: %w", err)
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `
		UPDATE components SET name = $2, provider_id = $3, provider_type = $4, sub_type = $5, updated_at = $6
		WHERE id = $1`,
		uuid.UUID(component.ID), component.Name, component.ProviderID,
		component.ProviderType, component.SubType, component.UpdatedAt)
	if err != nil {
		return fmt.Errorf("update component: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return sentinel.ErrNotFound
	}
	if _, err := tx.Exec(ctx, `DELETE FROM component_config WHERE component_id = $1`, uuid.UUID(component.ID)); err != nil {
		return fmt.Errorf("clear component config: %w", err)
	}
	if err := writeConfig(ctx, tx, component); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (s *Postgres) loadConfig(ctx context.Context, componentID id.ComponentID) (keys.ComponentConfig, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT name, value FROM component_config
		WHERE component_id = $1 ORDER BY position`, uuid.UUID(componentID))
	if err != nil {
		return nil, fmt.Errorf("query component config: %w", err)
	}
	defer rows.Close()

	cfg := make(keys.ComponentConfig)
	for rows.Next() {
		var name, value string
		if err := rows.Scan(&name, &value); err != nil {
			return nil, fmt.Errorf("scan component config: %w", err)
		}
		cfg[name] = append(cfg[name], value)
	}
	return cfg, rows.Err()
}

func writeConfig(ctx context.Context, tx pgx.Tx, component *keys.Component) error {
	position := 0
	for name, values := range component.Config {
		for _, value := range values {
			_, err := tx.Exec(ctx, `
				INSERT INTO component_config (component_id, name, value, position)
				VALUES ($1, $2, $3, $4)`,
				uuid.UUID(component.ID), name, value, position)
			if err != nil {
				return fmt.Errorf("insert component config: %w", err)
			}
			position++
		}
	}
	return nil
}

func scanComponent(row pgx.Row) (*keys.Component, error) {
	var (
		c                    keys.Component
		compUUID, parentUUID uuid.UUID
	)
	err := row.Scan(&compUUID, &parentUUID, &c.Name, &c.ProviderID, &c.ProviderType, &c.SubType, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, err
	}
	c.ID = id.ComponentID(compUUID)
	c.ParentID = id.ProjectID(parentUUID)
	return &c, nil
}
