// Package store persists tenant records.
package store

import (
	"context"

	"sunatflow/internal/tenant"
	id "sunatflow/pkg/domain"
)

// ProjectStore persists projects. FindByID returns sentinel.ErrNotFound when
// the project does not exist.
type ProjectStore interface {
	Create(ctx context.Context, project *tenant.Project) error
	FindByID(ctx context.Context, projectID id.ProjectID) (*tenant.Project, error)
}

// CompanyStore persists companies. FindByRUC scopes the lookup to one project;
// both finders return sentinel.ErrNotFound when absent.
type CompanyStore interface {
	Create(ctx context.Context, company *tenant.Company) error
	FindByID(ctx context.Context, companyID id.CompanyID) (*tenant.Company, error)
	FindByRUC(ctx context.Context, projectID id.ProjectID, ruc string) (*tenant.Company, error)
}
