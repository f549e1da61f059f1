package models

import (
	"strings"

	dErrors "idlink/pkg/domain-errors"
)

// Identifiers is the normalized optional (email, phone) pair submitted for
// reconciliation. Construct it through NewIdentifiers so "at least one
// present" is enforced at the boundary rather than deep in the algorithm.
type Identifiers struct {
	Email *string
	Phone *string
}

// NewIdentifiers normalizes raw input into an Identifiers value. Whitespace is
// trimmed, emails are lowercased, and empty strings count as absent.
func NewIdentifiers(email, phone string) (Identifiers, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	phone = strings.TrimSpace(phone)
	if email == "" && phone == "" {
		return Identifiers{}, dErrors.New(dErrors.CodeValidation, "at least one of email or phoneNumber is required")
	}
	var ids Identifiers
	if email != "" {
		ids.Email = &email
	}
	if phone != "" {
		ids.Phone = &phone
	}
	return ids, nil
}

// HasEmail reports whether an email was submitted.
func (i Identifiers) HasEmail() bool { return i.Email != nil }

// HasPhone reports whether a phone number was submitted.
func (i Identifiers) HasPhone() bool { return i.Phone != nil }
