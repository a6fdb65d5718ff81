// Package domain holds the typed identifiers shared across features.
package domain

import "github.com/google/uuid"

// ProjectID identifies a tenant project (the outer tenancy unit).
type ProjectID uuid.UUID

// CompanyID identifies a company registered under a project.
type CompanyID uuid.UUID

// DocumentID identifies an electronic tax document.
type DocumentID uuid.UUID

// ComponentID identifies a key-provider component record.
type ComponentID uuid.UUID

func (id ProjectID) String() string   { return uuid.UUID(id).String() }
func (id CompanyID) String() string   { return uuid.UUID(id).String() }
func (id DocumentID) String() string  { return uuid.UUID(id).String() }
func (id ComponentID) String() string { return uuid.UUID(id).String() }

func (id ProjectID) IsNil() bool   { return uuid.UUID(id) == uuid.Nil }
func (id CompanyID) IsNil() bool   { return uuid.UUID(id) == uuid.Nil }
func (id DocumentID) IsNil() bool  { return uuid.UUID(id) == uuid.Nil }
func (id ComponentID) IsNil() bool { return uuid.UUID(id) == uuid.Nil }

// The ids marshal as canonical UUID strings so they are readable on the wire
// and in JSON payloads.

func (id ProjectID) MarshalText() ([]byte, error)   { return []byte(id.String()), nil }
func (id CompanyID) MarshalText() ([]byte, error)   { return []byte(id.String()), nil }
func (id DocumentID) MarshalText() ([]byte, error)  { return []byte(id.String()), nil }
func (id ComponentID) MarshalText() ([]byte, error) { return []byte(id.String()), nil }

func (id *ProjectID) UnmarshalText(text []byte) error {
	u, err := uuid.ParseBytes(text)
	*id = ProjectID(u)
	return err
}

func (id *CompanyID) UnmarshalText(text []byte) error {
	u, err := uuid.ParseBytes(text)
	*id = CompanyID(u)
	return err
}

func (id *DocumentID) UnmarshalText(text []byte) error {
	u, err := uuid.ParseBytes(text)
	*id = DocumentID(u)
	return err
}

func (id *ComponentID) UnmarshalText(text []byte) error {
	u, err := uuid.ParseBytes(text)
	*id = ComponentID(u)
	return err
}

// NewProjectID returns a random project id.
func NewProjectID() ProjectID { return ProjectID(uuid.New()) }

// NewCompanyID returns a random company id.
func NewCompanyID() CompanyID { return CompanyID(uuid.New()) }

// NewDocumentID returns a random document id.
func NewDocumentID() DocumentID { return DocumentID(uuid.New()) }

// NewComponentID returns a random component id.
func NewComponentID() ComponentID { return ComponentID(uuid.New()) }

// ParseProjectID parses the canonical string form of a project id.
func ParseProjectID(s string) (ProjectID, error) {
	u, err := uuid.Parse(s)
	return ProjectID(u), err
}

// ParseDocumentID parses the canonical string form of a document id.
func ParseDocumentID(s string) (DocumentID, error) {
	u, err := uuid.Parse(s)
	return DocumentID(u), err
}
