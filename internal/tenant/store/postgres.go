package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"sunatflow/internal/tenant"
	id "sunatflow/pkg/domain"
	"sunatflow/pkg/platform/sentinel"
)

// PostgresProjects implements ProjectStore over pgx.
type PostgresProjects struct {
	pool *pgxpool.Pool
}

func NewPostgresProjects(pool *pgxpool.Pool) *PostgresProjects {
	return &PostgresProjects{pool: pool}
}

func (s *PostgresProjects) Create(ctx context.Context, project *tenant.Project) error {
	now := time.Now()
	project.CreatedAt = now
	project.UpdatedAt = now

	cfg := flattenSunat(project.Sunat)
	_, err := s.pool.Exec(ctx, `
		INSERT INTO projects (id, name, description, sunat_invoice_url, sunat_despatch_url,
			sunat_perception_retention_url, sunat_username, sunat_password, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		uuid.UUID(project.ID), project.Name, project.Description,
		cfg[0], cfg[1], cfg[2], cfg[3], cfg[4],
		project.CreatedAt, project.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert project: %w", err)
	}
	return nil
}

func (s *PostgresProjects) FindByID(ctx context.Context, projectID id.ProjectID) (*tenant.Project, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, name, description, sunat_invoice_url, sunat_despatch_url,
			sunat_perception_retention_url, sunat_username, sunat_password, created_at, updated_at
		FROM projects WHERE id = $1`, uuid.UUID(projectID))

	var (
		p                     tenant.Project
		projUUID              uuid.UUID
		inv, desp, pr, us, pw *string
	)
	err := row.Scan(&projUUID, &p.Name, &p.Description, &inv, &desp, &pr, &us, &pw, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("find project: %w", err)
	}
	p.ID = id.ProjectID(projUUID)
	p.Sunat = unflattenSunat(inv, desp, pr, us, pw)
	return &p, nil
}

// PostgresCompanies implements CompanyStore over pgx.
type PostgresCompanies struct {
	pool *pgxpool.Pool
}

func NewPostgresCompanies(pool *pgxpool.Pool) *PostgresCompanies {
	return &PostgresCompanies{pool: pool}
}

const companyColumns = `id, project_id, ruc, name, sunat_invoice_url, sunat_despatch_url,
	sunat_perception_retention_url, sunat_username, sunat_password, created_at, updated_at`

func (s *PostgresCompanies) Create(ctx context.Context, company *tenant.Company) error {
	now := time.Now()
	company.CreatedAt = now
	company.UpdatedAt = now

	cfg := flattenSunat(company.Sunat)
	_, err := s.pool.Exec(ctx, `
		INSERT INTO companies (`+companyColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		uuid.UUID(company.ID), uuid.UUID(company.ProjectID), company.RUC, company.Name,
		cfg[0], cfg[1], cfg[2], cfg[3], cfg[4],
		company.CreatedAt, company.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert company: %w", err)
	}
	return nil
}

func (s *PostgresCompanies) FindByID(ctx context.Context, companyID id.CompanyID) (*tenant.Company, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+companyColumns+` FROM companies WHERE id = $1`, uuid.UUID(companyID))
	return scanCompany(row)
}

func (s *PostgresCompanies) FindByRUC(ctx context.Context, projectID id.ProjectID, ruc string) (*tenant.Company, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+companyColumns+` FROM companies WHERE project_id = $1 AND ruc = $2`,
		uuid.UUID(projectID), ruc)
	return scanCompany(row)
}

func scanCompany(row pgx.Row) (*tenant.Company, error) {
	var (
		c                     tenant.Company
		compUUID, projUUID    uuid.UUID
		inv, desp, pr, us, pw *string
	)
	err := row.Scan(&compUUID, &projUUID, &c.RUC, &c.Name, &inv, &desp, &pr, &us, &pw, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("find company: %w", err)
	}
	c.ID = id.CompanyID(compUUID)
	c.ProjectID = id.ProjectID(projUUID)
	c.Sunat = unflattenSunat(inv, desp, pr, us, pw)
	return &c, nil
}

// flattenSunat maps the optional config onto nullable columns.
func flattenSunat(cfg *tenant.SunatConfig) [5]*string {
	if cfg == nil {
		return [5]*string{}
	}
	return [5]*string{
		nullable(cfg.InvoiceURL),
		nullable(cfg.DespatchURL),
		nullable(cfg.PerceptionRetentionURL),
		nullable(cfg.Username),
		nullable(cfg.Password),
	}
}

func unflattenSunat(inv, desp, pr, us, pw *string) *tenant.SunatConfig {
	if inv == nil && desp == nil && pr == nil && us == nil && pw == nil {
		return nil
	}
	return &tenant.SunatConfig{
		InvoiceURL:             deref(inv),
		DespatchURL:            deref(desp),
		PerceptionRetentionURL: deref(pr),
		Username:               deref(us),
		Password:               deref(pw),
	}
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
