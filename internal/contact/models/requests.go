package models

import (
	"strings"

	dErrors "idlink/pkg/domain-errors"
)

// IdentifyRequest is the inbound payload for POST /identify.
type IdentifyRequest struct {
	Email       string `json:"email,omitempty"`
	PhoneNumber string `json:"phoneNumber,omitempty"`
}

// Normalize trims whitespace and lowercases the email before validation.
func (r *IdentifyRequest) Normalize() {
	if r == nil {
		return
	}
	r.Email = strings.ToLower(strings.TrimSpace(r.Email))
	r.PhoneNumber = strings.TrimSpace(r.PhoneNumber)
}

// Follows validation order: Size -> Required -> Syntax -> Semantic.
func (r *IdentifyRequest) Validate() error {
	if r == nil {
		return dErrors.New(dErrors.CodeBadRequest, "request is required")
	}

	if len(r.Email) > 254 {
		return dErrors.New(dErrors.CodeValidation, "email must be 254 characters or less")
	}
	if len(r.PhoneNumber) > 32 {
		return dErrors.New(dErrors.CodeValidation, "phoneNumber must be 32 characters or less")
	}

	if r.Email == "" && r.PhoneNumber == "" {
		return dErrors.New(dErrors.CodeValidation, "at least one of email or phoneNumber is required")
	}

	if r.Email != "" && !looksLikeEmail(r.Email) {
		return dErrors.New(dErrors.CodeValidation, "email is not a valid address")
	}

	return nil
}

// Identifiers converts the validated request into the normalized pair.
func (r *IdentifyRequest) Identifiers() (Identifiers, error) {
	return NewIdentifiers(r.Email, r.PhoneNumber)
}

// looksLikeEmail is a cheap shape check, not RFC 5322 validation. Matching is
// exact-string equality, so over-rejecting here would be worse than letting an
// odd address through.
func looksLikeEmail(s string) bool {
	at := strings.IndexByte(s, '@')
	return at > 0 && at < len(s)-1 && !strings.ContainsAny(s, " \t")
}
