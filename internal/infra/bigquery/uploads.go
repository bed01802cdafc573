package bigquery

import (
	"math/big"
	"time"

	"cloud.google.com/go/bigquery"
	"cloud.google.com/go/civil"
)

// UploadRow is one statement upload. Its parsed transactions live in the
// same row as a REPEATED RECORD so that a save is a single DML statement.
type UploadRow struct {
	UploadID         string              `bigquery:"upload_id"`          // REQUIRED
	UserID           string              `bigquery:"user_id"`            // REQUIRED
	OriginalFileName string              `bigquery:"original_file_name"` // REQUIRED
	DocumentURI      bigquery.NullString `bigquery:"document_uri"`       // NULLABLE

	UploadedTS time.Time `bigquery:"uploaded_ts"` // REQUIRED

	Status       string              `bigquery:"status"`        // REQUIRED
	ErrorMessage bigquery.NullString `bigquery:"error_message"` // NULLABLE

	ParsedTS    bigquery.NullTimestamp `bigquery:"parsed_ts"`    // NULLABLE
	ConfirmedTS bigquery.NullTimestamp `bigquery:"confirmed_ts"` // NULLABLE
	UpdatedTS   time.Time              `bigquery:"updated_ts"`   // REQUIRED

	Version int64 `bigquery:"version"` // REQUIRED

	Transactions []TransactionRecord `bigquery:"transactions"` // REPEATED RECORD
}

// TransactionRecord is one element of UploadRow.Transactions.
type TransactionRecord struct {
	TransactionID   string     `bigquery:"transaction_id"`   // REQUIRED
	TransactionDate civil.Date `bigquery:"transaction_date"` // REQUIRED

	Description string   `bigquery:"description"` // REQUIRED
	Amount      *big.Rat `bigquery:"amount"`      // REQUIRED NUMERIC
	Currency    string   `bigquery:"currency"`    // REQUIRED

	SuggestedCategoryID string              `bigquery:"suggested_category_id"` // REQUIRED
	ConfirmedCategoryID bigquery.NullString `bigquery:"confirmed_category_id"` // NULLABLE

	OriginalText bigquery.NullString `bigquery:"original_text"` // NULLABLE
}

// UploadSummaryRow is the projection used for listing.
type UploadSummaryRow struct {
	UploadID         string    `bigquery:"upload_id"`
	OriginalFileName string    `bigquery:"original_file_name"`
	UploadedTS       time.Time `bigquery:"uploaded_ts"`
	Status           string    `bigquery:"status"`
	TransactionCount int64     `bigquery:"transaction_count"`
}
