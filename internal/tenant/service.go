package tenant

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	id "sunatflow/pkg/domain"
	"sunatflow/pkg/platform/sentinel"
)

// ErrNoSunatConfig is returned when neither the company nor its project holds
// a usable SUNAT configuration.
var ErrNoSunatConfig = errors.New("tenant: no sunat configuration")

// projectFinder and companyFinder are the read slices of the tenant stores the
// service needs.
type projectFinder interface {
	FindByID(ctx context.Context, projectID id.ProjectID) (*Project, error)
}

type companyFinder interface {
	FindByRUC(ctx context.Context, projectID id.ProjectID, ruc string) (*Company, error)
}

// Service resolves the SUNAT configuration a document dispatch should use.
type Service struct {
	projects  projectFinder
	companies companyFinder
	logger    *slog.Logger
}

// Option configures a Service.
type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

func NewService(projects projectFinder, companies companyFinder, opts ...Option) *Service {
	s := &Service{projects: projects, companies: companies, logger: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SunatConfig resolves the connection bundle for the given issuer. A company
// matching the RUC takes precedence over the project default; an absent
// company is not an error as long as the project carries config. Returns
// ErrNoSunatConfig when nothing usable exists at either level.
func (s *Service) SunatConfig(ctx context.Context, projectID id.ProjectID, ruc string) (*SunatConfig, error) {
	company, err := s.companies.FindByRUC(ctx, projectID, ruc)
	if err != nil && !errors.Is(err, sentinel.ErrNotFound) {
		return nil, fmt.Errorf("tenant: find company %s: %w", ruc, err)
	}
	if company != nil && company.Sunat.Complete() {
		return company.Sunat, nil
	}

	project, err := s.projects.FindByID(ctx, projectID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, fmt.Errorf("%w: project %s", ErrNoSunatConfig, projectID)
		}
		return nil, fmt.Errorf("tenant: find project %s: %w", projectID, err)
	}
	if project.Sunat.Complete() {
		return project.Sunat, nil
	}
	return nil, fmt.Errorf("%w: project %s ruc %s", ErrNoSunatConfig, projectID, ruc)
}
