package bigquery

import (
	"fmt"
	"math/big"
	"time"

	"cloud.google.com/go/bigquery"
	"github.com/shopspring/decimal"

	"github.com/dvloznov/statement-import/internal/domain"
)

// numericScale is the fractional precision of a BigQuery NUMERIC.
const numericScale = 9

func toRat(d decimal.Decimal) *big.Rat {
	return d.Rat()
}

func fromRat(r *big.Rat) (decimal.Decimal, error) {
	if r == nil {
		return decimal.Zero, fmt.Errorf("nil NUMERIC value")
	}
	return decimal.NewFromString(r.FloatString(numericScale))
}

func nullString(s string) bigquery.NullString {
	return bigquery.NullString{StringVal: s, Valid: s != ""}
}

func nullTimestamp(t *time.Time) bigquery.NullTimestamp {
	if t == nil {
		return bigquery.NullTimestamp{}
	}
	return bigquery.NullTimestamp{Timestamp: *t, Valid: true}
}

func timePtr(t bigquery.NullTimestamp) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Timestamp.UTC()
	return &v
}

// UploadRowFromDomain maps an aggregate to its row. Version is left to the caller.
func UploadRowFromDomain(u *domain.StatementUpload) *UploadRow {
	row := &UploadRow{
		UploadID:         u.ID,
		UserID:           u.UserID,
		OriginalFileName: u.OriginalFileName,
		DocumentURI:      nullString(u.DocumentURI),
		UploadedTS:       u.UploadedAt,
		Status:           string(u.Status),
		ErrorMessage:     nullString(u.ErrorMessage),
		ParsedTS:         nullTimestamp(u.ParsedAt),
		ConfirmedTS:      nullTimestamp(u.ConfirmedAt),
		UpdatedTS:        u.UpdatedAt,
		Version:          u.Version,
		Transactions:     make([]TransactionRecord, 0, len(u.Transactions)),
	}
	for _, t := range u.Transactions {
		rec := TransactionRecord{
			TransactionID:       t.ID,
			TransactionDate:     t.Date,
			Description:         t.Description,
			Amount:              toRat(t.Amount),
			Currency:            t.Currency,
			SuggestedCategoryID: string(t.SuggestedCategoryID),
			OriginalText:        nullString(t.OriginalText),
		}
		if t.ConfirmedCategoryID.Valid {
			rec.ConfirmedCategoryID = nullString(string(t.ConfirmedCategoryID.CategoryID))
		}
		row.Transactions = append(row.Transactions, rec)
	}
	return row
}

// ToDomain rebuilds the aggregate from a stored row.
func (r *UploadRow) ToDomain() (*domain.StatementUpload, error) {
	u := &domain.StatementUpload{
		ID:               r.UploadID,
		UserID:           r.UserID,
		OriginalFileName: r.OriginalFileName,
		DocumentURI:      r.DocumentURI.StringVal,
		UploadedAt:       r.UploadedTS.UTC(),
		Status:           domain.Status(r.Status),
		ErrorMessage:     r.ErrorMessage.StringVal,
		ParsedAt:         timePtr(r.ParsedTS),
		ConfirmedAt:      timePtr(r.ConfirmedTS),
		UpdatedAt:        r.UpdatedTS.UTC(),
		Version:          r.Version,
	}
	if !u.Status.Valid() {
		return nil, fmt.Errorf("upload %s has unknown status %q", r.UploadID, r.Status)
	}

	for _, rec := range r.Transactions {
		amount, err := fromRat(rec.Amount)
		if err != nil {
			return nil, fmt.Errorf("upload %s transaction %s amount: %w", r.UploadID, rec.TransactionID, err)
		}
		t := domain.ParsedTransaction{
			ID:                  rec.TransactionID,
			Date:                rec.TransactionDate,
			Description:         rec.Description,
			Amount:              amount,
			Currency:            rec.Currency,
			SuggestedCategoryID: domain.CategoryID(rec.SuggestedCategoryID),
			OriginalText:        rec.OriginalText.StringVal,
		}
		if rec.ConfirmedCategoryID.Valid {
			t.ConfirmedCategoryID = domain.SomeCategory(domain.CategoryID(rec.ConfirmedCategoryID.StringVal))
		}
		u.Transactions = append(u.Transactions, t)
	}
	return u, nil
}

// ToSummary maps a listing row.
func (r *UploadSummaryRow) ToSummary() domain.UploadSummary {
	return domain.UploadSummary{
		ID:               r.UploadID,
		FileName:         r.OriginalFileName,
		UploadedAt:       r.UploadedTS.UTC(),
		Status:           domain.Status(r.Status),
		TransactionCount: int(r.TransactionCount),
	}
}

// EventRowFromDomain maps a confirmation event to its log row.
func EventRowFromDomain(ev domain.StatementImportConfirmedEvent, publishedAt time.Time) *ConfirmationEventRow {
	row := &ConfirmationEventRow{
		StatementUploadID: ev.StatementUploadID,
		UserID:            ev.UserID,
		ConfirmedTS:       ev.ConfirmedAt,
		PublishedTS:       publishedAt,
		TransactionCount:  int64(len(ev.Transactions)),
		TotalAmount:       toRat(ev.Total()),
		Transactions:      make([]ConfirmedTransactionRecord, 0, len(ev.Transactions)),
	}
	for _, t := range ev.Transactions {
		row.Transactions = append(row.Transactions, ConfirmedTransactionRecord{
			TransactionID:   t.TransactionID,
			TransactionDate: t.Date,
			Description:     t.Description,
			Amount:          toRat(t.Amount),
			Currency:        t.Currency,
			CategoryID:      string(t.CategoryID),
		})
	}
	return row
}
