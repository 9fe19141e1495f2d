package models

import "time"

// EntityKind distinguishes people from companies.
type EntityKind string

const (
	EntityKindPerson  EntityKind = "person"
	EntityKindCompany EntityKind = "company"
)

// Entity is a legal person or company tracked by its kennitala.
type Entity struct {
	ID        int64      `json:"id"`
	Kennitala string     `json:"kennitala"`
	Name      string     `json:"name"`
	Slug      string     `json:"slug"`
	Kind      EntityKind `json:"kind"`
	BirthDate *time.Time `json:"birth_date,omitempty"`
}

// CaseEntity associates an entity with a case. Rows are only ever added.
type CaseEntity struct {
	CaseID    int64 `json:"case_id"`
	EntityID  int64 `json:"entity_id"`
	Applicant bool  `json:"applicant"`
}
