// Package tenant holds the project and company records that scope documents
// and carry SUNAT connection settings.
package tenant

import (
	"time"

	id "sunatflow/pkg/domain"
)

// SunatConfig is the read-only connection bundle handed to the dispatcher:
// the three service endpoints plus the SOL credentials.
type SunatConfig struct {
	InvoiceURL             string
	DespatchURL            string
	PerceptionRetentionURL string
	Username               string
	Password               string
}

// Complete reports whether the config can actually reach SUNAT. Endpoints
// without credentials (or the reverse) are treated as absent.
func (c *SunatConfig) Complete() bool {
	return c != nil && c.InvoiceURL != "" && c.Username != "" && c.Password != ""
}

// Project is the top-level tenant. Its SunatConfig is the default for every
// company underneath it.
type Project struct {
	ID          id.ProjectID
	Name        string
	Description string
	Sunat       *SunatConfig
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Company is a RUC-scoped issuer inside a project. A company-level SunatConfig
// overrides the project's.
type Company struct {
	ID        id.CompanyID
	ProjectID id.ProjectID
	RUC       string
	Name      string
	Sunat     *SunatConfig
	CreatedAt time.Time
	UpdatedAt time.Time
}
