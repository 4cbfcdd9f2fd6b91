package entity

import "time"

// Payment is one gateway transaction for an application. A transaction id
// maps to at most one row; repeated callbacks update it in place.
type Payment struct {
	ID            string     `json:"id"`
	ApplicationID string     `json:"application_id"`
	TransactionID string     `json:"transaction_id"`
	ValidationID  string     `json:"validation_id,omitempty"`
	Amount        float64    `json:"amount"`
	Currency      string     `json:"currency"`
	Method        string     `json:"method,omitempty"`
	Status        string     `json:"status"`
	InitiatedAt   time.Time  `json:"initiated_at"`
	CompletedAt   *time.Time `json:"completed_at,omitempty"`
}
