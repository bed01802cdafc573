package notionsync

import (
	"time"

	"github.com/jomei/notionapi"

	"github.com/dvloznov/statement-import/internal/domain"
)

// Property names of the ledger database.
const (
	propDescription   = "Description"
	propTransactionID = "Transaction ID"
	propUploadID      = "Upload ID"
	propDate          = "Date"
	propAmount        = "Amount"
	propCurrency      = "Currency"
	propCategory      = "Category"
	propUserID        = "User ID"
)

// ConfirmedTransactionToNotionProperties maps one confirmed line to a ledger page.
func ConfirmedTransactionToNotionProperties(ev domain.StatementImportConfirmedEvent, tx domain.ConfirmedTransaction) notionapi.Properties {
	amount, _ := tx.Amount.Float64()
	date := notionapi.Date(time.Date(tx.Date.Year, tx.Date.Month, tx.Date.Day, 0, 0, 0, 0, time.UTC))

	return notionapi.Properties{
		propDescription: notionapi.TitleProperty{
			Title: []notionapi.RichText{richText(tx.Description)},
		},
		propTransactionID: notionapi.RichTextProperty{
			RichText: []notionapi.RichText{richText(tx.TransactionID)},
		},
		propUploadID: notionapi.RichTextProperty{
			RichText: []notionapi.RichText{richText(ev.StatementUploadID)},
		},
		propUserID: notionapi.RichTextProperty{
			RichText: []notionapi.RichText{richText(ev.UserID)},
		},
		propDate: notionapi.DateProperty{
			Date: &notionapi.DateObject{Start: &date},
		},
		propAmount: notionapi.NumberProperty{
			Number: amount,
		},
		propCurrency: notionapi.SelectProperty{
			Select: notionapi.Option{Name: tx.Currency},
		},
		propCategory: notionapi.SelectProperty{
			Select: notionapi.Option{Name: string(tx.CategoryID)},
		},
	}
}

func richText(content string) notionapi.RichText {
	return notionapi.RichText{
		Type: notionapi.ObjectTypeText,
		Text: &notionapi.Text{Content: content},
	}
}

// extractTransactionID extracts the transaction ID from a Notion page's properties.
// Returns empty string if not found.
func extractTransactionID(page notionapi.Page) string {
	if prop, ok := page.Properties[propTransactionID]; ok {
		if rt, ok := prop.(*notionapi.RichTextProperty); ok {
			if len(rt.RichText) > 0 {
				return rt.RichText[0].PlainText
			}
		}
	}
	return ""
}
