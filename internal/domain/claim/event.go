package claim

import "time"

// Event is emitted after a claim pays out.
type Event struct {
	EventID       string    `json:"event_id"`
	TokenHash     string    `json:"token_hash"`
	PurchaseID    string    `json:"purchase_id"`
	Email         string    `json:"email"`
	Recipient     string    `json:"recipient"`
	Amount        string    `json:"amount"`
	Asset         string    `json:"asset"`
	Network       string    `json:"network"`
	TransactionID string    `json:"tx_hash"`
	Timestamp     time.Time `json:"ts"`
}
