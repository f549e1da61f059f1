package models

// ConsolidatedContact is the merged view of one cluster after reconciliation.
// Emails and PhoneNumbers are deduplicated with the primary's own values
// first, then cluster creation order.
type ConsolidatedContact struct {
	PrimaryContactID    int64    `json:"primaryContactId"`
	Emails              []string `json:"emails"`
	PhoneNumbers        []string `json:"phoneNumbers"`
	SecondaryContactIDs []int64  `json:"secondaryContactIds"`
}

// IdentifyResponse is the outbound envelope for POST /identify.
type IdentifyResponse struct {
	Contact ConsolidatedContact `json:"contact"`
}
