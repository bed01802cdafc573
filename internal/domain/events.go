package domain

import (
	"time"

	"cloud.google.com/go/civil"
	"github.com/shopspring/decimal"
)

// ConfirmedEventType names StatementImportConfirmedEvent on the wire.
const ConfirmedEventType = "statement_import.confirmed"

// StatementImportConfirmedEvent describes the finalized transactions of one
// confirmed upload. StatementUploadID is the idempotency key for consumers.
type StatementImportConfirmedEvent struct {
	StatementUploadID string                 `json:"statement_upload_id"`
	UserID            string                 `json:"user_id"`
	ConfirmedAt       time.Time              `json:"confirmed_at"`
	Transactions      []ConfirmedTransaction `json:"transactions"`
}

// ConfirmedTransaction carries the effective category only.
type ConfirmedTransaction struct {
	TransactionID string          `json:"transaction_id"`
	Date          civil.Date      `json:"date"`
	Description   string          `json:"description"`
	Amount        decimal.Decimal `json:"amount"`
	Currency      string          `json:"currency"`
	CategoryID    CategoryID      `json:"category_id"`
}

// IdempotencyKey returns the key consumers deduplicate on.
func (e StatementImportConfirmedEvent) IdempotencyKey() string {
	return e.StatementUploadID
}

// Total is the exact sum of all transaction amounts.
func (e StatementImportConfirmedEvent) Total() decimal.Decimal {
	total := decimal.Zero
	for _, t := range e.Transactions {
		total = total.Add(t.Amount)
	}
	return total
}
