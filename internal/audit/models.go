package audit

import "time"

// Event is emitted after a committed reconciliation so downstream consumers
// (analytics, compliance) can follow cluster evolution. Keep it
// transport-agnostic so sinks can fan out.
type Event struct {
	Timestamp          time.Time `json:"timestamp"`
	RequestID          string    `json:"request_id,omitempty"`
	Outcome            string    `json:"outcome"`
	PrimaryContactID   int64     `json:"primary_contact_id"`
	CreatedContactID   *int64    `json:"created_contact_id,omitempty"`
	AbsorbedPrimaryIDs []int64   `json:"absorbed_primary_ids,omitempty"`
}
