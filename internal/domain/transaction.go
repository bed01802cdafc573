package domain

import (
	"encoding/json"

	"cloud.google.com/go/civil"
	"github.com/shopspring/decimal"
)

// CategoryID identifies a category in the user's taxonomy.
type CategoryID string

// NullCategoryID is an optional CategoryID. The zero value is absent.
type NullCategoryID struct {
	CategoryID CategoryID
	Valid      bool
}

// SomeCategory wraps id as a present NullCategoryID.
func SomeCategory(id CategoryID) NullCategoryID {
	return NullCategoryID{CategoryID: id, Valid: true}
}

// MarshalJSON encodes an absent category as null.
func (n NullCategoryID) MarshalJSON() ([]byte, error) {
	if !n.Valid {
		return []byte("null"), nil
	}
	return json.Marshal(string(n.CategoryID))
}

func (n *NullCategoryID) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*n = NullCategoryID{}
		return nil
	}
	var id string
	if err := json.Unmarshal(data, &id); err != nil {
		return err
	}
	*n = SomeCategory(CategoryID(id))
	return nil
}

// ParsedTransaction is one candidate transaction extracted from a statement.
// Date, Description, Amount, Currency and OriginalText are facts from the parser
// and never change after attachment.
type ParsedTransaction struct {
	ID          string          `json:"id"`
	Date        civil.Date      `json:"date"`
	Description string          `json:"description"`
	Amount      decimal.Decimal `json:"amount"` // IN = positive, OUT = negative
	Currency    string          `json:"currency"`

	SuggestedCategoryID CategoryID     `json:"suggested_category_id"`
	ConfirmedCategoryID NullCategoryID `json:"confirmed_category_id"`

	OriginalText string `json:"original_text,omitempty"`
}

// EffectiveCategoryID returns the category used for posting.
func (t ParsedTransaction) EffectiveCategoryID() CategoryID {
	return ResolveCategory(t.SuggestedCategoryID, t.ConfirmedCategoryID)
}
