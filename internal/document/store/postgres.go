package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"sunatflow/internal/document"
	id "sunatflow/pkg/domain"
	"sunatflow/pkg/platform/sentinel"
)

// Postgres implements DocumentStore on pgx. The version column carries the
// optimistic lock: UpdateVersioned matches-and-increments it in one statement.
type Postgres struct {
	pool *pgxpool.Pool
}

func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

const documentColumns = `
	id, project_id, ruc, document_type, document_id, voided_line_doc_type,
	status, error_kind, error_message, retries, scheduled_delivery,
	sunat_ticket, sunat_status, sunat_code, sunat_description, sunat_notes,
	storage_file_ref, storage_cdr_ref, version, created_at, updated_at`

func (s *Postgres) Create(ctx context.Context, doc *document.Document) error {
	now := time.Now()
	doc.CreatedAt = now
	doc.UpdatedAt = now
	doc.Version = 1

	_, err := s.pool.Exec(ctx, `
		INSERT INTO documents (`+documentColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21)`,
		uuid.UUID(doc.ID), uuid.UUID(doc.ProjectID), doc.RUC, doc.DocumentType,
		doc.DocumentID, doc.VoidedLineDocType,
		string(doc.Status), nullString(string(doc.Error)), nullString(doc.ErrorMessage),
		doc.Retries, doc.ScheduledDelivery,
		nullString(doc.Sunat.Ticket), nullString(doc.Sunat.Status), doc.Sunat.Code,
		nullString(doc.Sunat.Description), doc.Sunat.Notes,
		nullString(doc.StorageFileRef), nullString(doc.StorageCdrRef),
		doc.Version, doc.CreatedAt, doc.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert document: %w", err)
	}
	return nil
}

func (s *Postgres) FindByID(ctx context.Context, docID id.DocumentID) (*document.Document, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+documentColumns+`
		FROM documents WHERE id = $1`, uuid.UUID(docID))
	return scanDocument(row)
}

func (s *Postgres) UpdateVersioned(ctx context.Context, doc *document.Document) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE documents SET
			ruc = $2, document_type = $3, document_id = $4, voided_line_doc_type = $5,
			status = $6, error_kind = $7, error_message = $8, retries = $9,
			scheduled_delivery = $10, sunat_ticket = $11, sunat_status = $12,
			sunat_code = $13, sunat_description = $14, sunat_notes = $15,
			storage_file_ref = $16, storage_cdr_ref = $17,
			version = version + 1, updated_at = now()
		WHERE id = $1 AND version = $18`,
		uuid.UUID(doc.ID), doc.RUC, doc.DocumentType, doc.DocumentID, doc.VoidedLineDocType,
		string(doc.Status), nullString(string(doc.Error)), nullString(doc.ErrorMessage), doc.Retries,
		doc.ScheduledDelivery, nullString(doc.Sunat.Ticket), nullString(doc.Sunat.Status),
		doc.Sunat.Code, nullString(doc.Sunat.Description), doc.Sunat.Notes,
		nullString(doc.StorageFileRef), nullString(doc.StorageCdrRef),
		doc.Version,
	)
	if err != nil {
		return fmt.Errorf("update document: %w", err)
	}
	if tag.RowsAffected() == 0 {
		// Distinguish a missing row from a version mismatch.
		var exists bool
		if err := s.pool.QueryRow(ctx,
			`SELECT EXISTS (SELECT 1 FROM documents WHERE id = $1)`, uuid.UUID(doc.ID),
		).Scan(&exists); err != nil {
			return fmt.Errorf("check document existence: %w", err)
		}
		if !exists {
			return sentinel.ErrNotFound
		}
		return sentinel.ErrConflict
	}
	doc.Version++
	return nil
}

func scanDocument(row pgx.Row) (*document.Document, error) {
	var (
		doc                         document.Document
		docUUID, projectUUID        uuid.UUID
		errorKind, errorMessage     *string
		ticket, status, description *string
		fileRef, cdrRef             *string
	)
	err := row.Scan(
		&docUUID, &projectUUID, &doc.RUC, &doc.DocumentType, &doc.DocumentID,
		&doc.VoidedLineDocType, (*string)(&doc.Status), &errorKind, &errorMessage,
		&doc.Retries, &doc.ScheduledDelivery,
		&ticket, &status, &doc.Sunat.Code, &description, &doc.Sunat.Notes,
		&fileRef, &cdrRef, &doc.Version, &doc.CreatedAt, &doc.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("scan document: %w", err)
	}
	doc.ID = id.DocumentID(docUUID)
	doc.ProjectID = id.ProjectID(projectUUID)
	if errorKind != nil {
		doc.Error = document.ErrorKind(*errorKind)
	}
	doc.ErrorMessage = deref(errorMessage)
	doc.Sunat.Ticket = deref(ticket)
	doc.Sunat.Status = deref(status)
	doc.Sunat.Description = deref(description)
	doc.StorageFileRef = deref(fileRef)
	doc.StorageCdrRef = deref(cdrRef)
	return &doc, nil
}

func nullString(s string) *string {
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
