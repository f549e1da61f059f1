package models

import "time"

// Precedence marks a contact's role inside its cluster.
type Precedence string

const (
	PrecedencePrimary   Precedence = "primary"
	PrecedenceSecondary Precedence = "secondary"
)

// Contact is a single observed (email, phone) pair. A cluster is one primary
// plus every secondary whose LinkedID points at it; links are always one hop.
type Contact struct {
	ID         int64
	Email      *string
	Phone      *string
	LinkedID   *int64
	Precedence Precedence
	CreatedAt  time.Time
	UpdatedAt  time.Time
	DeletedAt  *time.Time
}

// NewContact carries the insertable fields; the store assigns ID and timestamps.
type NewContact struct {
	Email      *string
	Phone      *string
	LinkedID   *int64
	Precedence Precedence
}

// IsActive reports whether the contact is not soft-deleted.
func (c Contact) IsActive() bool {
	return c.DeletedAt == nil
}

// CanonicalID returns the id of the primary governing this contact's cluster:
// the contact's own id for a primary, its LinkedID for a secondary. The bool
// is false for a secondary with no link, which indicates corrupt data.
func (c Contact) CanonicalID() (int64, bool) {
	if c.Precedence == PrecedencePrimary {
		return c.ID, true
	}
	if c.LinkedID != nil {
		return *c.LinkedID, true
	}
	return 0, false
}
