package bigquery

import (
	"math/big"
	"time"

	"cloud.google.com/go/civil"
)

// ConfirmationEventRow is one delivered StatementImportConfirmedEvent.
type ConfirmationEventRow struct {
	StatementUploadID string    `bigquery:"statement_upload_id"` // REQUIRED
	UserID            string    `bigquery:"user_id"`             // REQUIRED
	ConfirmedTS       time.Time `bigquery:"confirmed_ts"`        // REQUIRED
	PublishedTS       time.Time `bigquery:"published_ts"`        // REQUIRED

	TransactionCount int64    `bigquery:"transaction_count"` // REQUIRED
	TotalAmount      *big.Rat `bigquery:"total_amount"`      // REQUIRED NUMERIC

	Transactions []ConfirmedTransactionRecord `bigquery:"transactions"` // REPEATED RECORD
}

// ConfirmedTransactionRecord carries the effective category of one line.
type ConfirmedTransactionRecord struct {
	TransactionID   string     `bigquery:"transaction_id"`
	TransactionDate civil.Date `bigquery:"transaction_date"`
	Description     string     `bigquery:"description"`
	Amount          *big.Rat   `bigquery:"amount"`
	Currency        string     `bigquery:"currency"`
	CategoryID      string     `bigquery:"category_id"`
}
