package store

import (
	"context"
	"sync"
	"time"

	"sunatflow/internal/tenant"
	id "sunatflow/pkg/domain"
	"sunatflow/pkg/platform/sentinel"
)

// InMemory holds projects in a map for tests and development.
type InMemory struct {
	mu       sync.RWMutex
	projects map[id.ProjectID]tenant.Project
}

func NewInMemory() *InMemory {
	return &InMemory{projects: make(map[id.ProjectID]tenant.Project)}
}

func (s *InMemory) Create(ctx context.Context, project *tenant.Project) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.projects[project.ID]; ok {
		return sentinel.ErrConflict
	}
	now := time.Now()
	project.CreatedAt = now
	project.UpdatedAt = now
	s.projects[project.ID] = cloneProject(*project)
	return nil
}

func (s *InMemory) FindByID(ctx context.Context, projectID id.ProjectID) (*tenant.Project, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.projects[projectID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	out := cloneProject(p)
	return &out, nil
}

// InMemoryCompanies is the company half of the in-memory tenant store.
type InMemoryCompanies struct {
	mu        sync.RWMutex
	companies map[id.CompanyID]tenant.Company
}

func NewInMemoryCompanies() *InMemoryCompanies {
	return &InMemoryCompanies{companies: make(map[id.CompanyID]tenant.Company)}
}

func (s *InMemoryCompanies) Create(ctx context.Context, company *tenant.Company) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.companies[company.ID]; ok {
		return sentinel.ErrConflict
	}
	for _, c := range s.companies {
		if c.ProjectID == company.ProjectID && c.RUC == company.RUC {
			return sentinel.ErrConflict
		}
	}
	now := time.Now()
	company.CreatedAt = now
	company.UpdatedAt = now
	s.companies[company.ID] = cloneCompany(*company)
	return nil
}

func (s *InMemoryCompanies) FindByID(ctx context.Context, companyID id.CompanyID) (*tenant.Company, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.companies[companyID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	out := cloneCompany(c)
	return &out, nil
}

func (s *InMemoryCompanies) FindByRUC(ctx context.Context, projectID id.ProjectID, ruc string) (*tenant.Company, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, c := range s.companies {
		if c.ProjectID == projectID && c.RUC == ruc {
			out := cloneCompany(c)
			return &out, nil
		}
	}
	return nil, sentinel.ErrNotFound
}

func cloneProject(p tenant.Project) tenant.Project {
	out := p
	if p.Sunat != nil {
		cfg := *p.Sunat
		out.Sunat = &cfg
	}
	return out
}

func cloneCompany(c tenant.Company) tenant.Company {
	out := c
	if c.Sunat != nil {
		cfg := *c.Sunat
		out.Sunat = &cfg
	}
	return out
}
