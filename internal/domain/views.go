package domain

import (
	"time"

	"cloud.google.com/go/civil"
	"github.com/shopspring/decimal"
)

// UploadSummary is the list view of an upload.
type UploadSummary struct {
	ID               string    `json:"id"`
	FileName         string    `json:"file_name"`
	UploadedAt       time.Time `json:"uploaded_at"`
	Status           Status    `json:"status"`
	TransactionCount int       `json:"transaction_count"`
}

// UploadDetail is the review view of an upload.
type UploadDetail struct {
	UploadSummary
	ErrorMessage string            `json:"error_message,omitempty"`
	Total        decimal.Decimal   `json:"total"`
	Transactions []TransactionView `json:"transactions"`
}

// TransactionView shows all three category values side by side.
type TransactionView struct {
	ID                  string          `json:"id"`
	Date                civil.Date      `json:"date"`
	Description         string          `json:"description"`
	Amount              decimal.Decimal `json:"amount"`
	Currency            string          `json:"currency"`
	SuggestedCategoryID CategoryID      `json:"suggested_category_id"`
	ConfirmedCategoryID NullCategoryID  `json:"confirmed_category_id"`
	EffectiveCategoryID CategoryID      `json:"effective_category_id"`
	OriginalText        string          `json:"original_text,omitempty"`
}

// Summary builds the list view.
func (u *StatementUpload) Summary() UploadSummary {
	return UploadSummary{
		ID:               u.ID,
		FileName:         u.OriginalFileName,
		UploadedAt:       u.UploadedAt,
		Status:           u.Status,
		TransactionCount: len(u.Transactions),
	}
}

// Detail builds the review view.
func (u *StatementUpload) Detail() UploadDetail {
	views := make([]TransactionView, 0, len(u.Transactions))
	for _, t := range u.Transactions {
		views = append(views, TransactionView{
			ID:                  t.ID,
			Date:                t.Date,
			Description:         t.Description,
			Amount:              t.Amount,
			Currency:            t.Currency,
			SuggestedCategoryID: t.SuggestedCategoryID,
			ConfirmedCategoryID: t.ConfirmedCategoryID,
			EffectiveCategoryID: t.EffectiveCategoryID(),
			OriginalText:        t.OriginalText,
		})
	}
	return UploadDetail{
		UploadSummary: u.Summary(),
		ErrorMessage:  u.ErrorMessage,
		Total:         u.TotalAmount(),
		Transactions:  views,
	}
}
