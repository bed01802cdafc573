package domain

import (
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"cloud.google.com/go/civil"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const (
	// NoTransactionsFound is recorded when a parse yields nothing.
	NoTransactionsFound = "no transactions found"

	unknownFailure  = "unknown failure"
	maxErrorMessage = 2000
)

// ParsedLine is one line item as reported by a parser, before it is attached
// to an upload and given an id.
type ParsedLine struct {
	Date                civil.Date
	Description         string
	Amount              decimal.Decimal
	Currency            string
	SuggestedCategoryID CategoryID
	OriginalText        string
}

// Validate checks the fields every attached transaction must carry.
func (l ParsedLine) Validate() error {
	switch {
	case !l.Date.IsValid():
		return fmt.Errorf("invalid date %q", l.Date.String())
	case strings.TrimSpace(l.Description) == "":
		return fmt.Errorf("empty description")
	case strings.TrimSpace(l.Currency) == "":
		return fmt.Errorf("empty currency")
	case l.SuggestedCategoryID == "":
		return fmt.Errorf("missing suggested category")
	}
	return nil
}

// StatementUpload is the aggregate root for one imported statement.
// It is changed only through its methods, which reject illegal moves before
// touching any field.
type StatementUpload struct {
	ID               string    `json:"id"`
	UserID           string    `json:"user_id"`
	OriginalFileName string    `json:"original_file_name"`
	DocumentURI      string    `json:"document_uri,omitempty"`
	UploadedAt       time.Time `json:"uploaded_at"`

	Status       Status              `json:"status"`
	ErrorMessage string              `json:"error_message,omitempty"`
	Transactions []ParsedTransaction `json:"transactions"`

	ParsedAt    *time.Time `json:"parsed_at,omitempty"`
	ConfirmedAt *time.Time `json:"confirmed_at,omitempty"`
	UpdatedAt   time.Time  `json:"updated_at"`

	// Version is the optimistic concurrency stamp. Zero means never saved.
	Version int64 `json:"version"`
}

// NewStatementUpload creates an upload in StatusUploading.
func NewStatementUpload(userID, fileName, documentURI string, now time.Time) *StatementUpload {
	now = now.UTC()
	return &StatementUpload{
		ID:               uuid.NewString(),
		UserID:           userID,
		OriginalFileName: fileName,
		DocumentURI:      documentURI,
		UploadedAt:       now,
		Status:           StatusUploading,
		UpdatedAt:        now,
	}
}

func (u *StatementUpload) fire(trigger Trigger, now time.Time) error {
	next, err := NextStatus(u.Status, trigger)
	if err != nil {
		return err
	}
	u.Status = next
	u.UpdatedAt = now.UTC()
	return nil
}

// BeginParsing moves Uploading to Parsing.
func (u *StatementUpload) BeginParsing(now time.Time) error {
	return u.fire(TriggerBeginParsing, now)
}

// CompleteParsing applies a successful parser result. An empty result, or
// any line that fails validation, fails the upload instead of attaching a
// partial set.
func (u *StatementUpload) CompleteParsing(lines []ParsedLine, now time.Time) error {
	if u.Status != StatusParsing {
		return &TransitionError{From: u.Status, Trigger: TriggerParseSucceed}
	}

	if len(lines) == 0 {
		if err := u.fire(TriggerParseEmpty, now); err != nil {
			return err
		}
		u.ErrorMessage = NoTransactionsFound
		return nil
	}

	for i, l := range lines {
		if err := l.Validate(); err != nil {
			return u.FailParsing(fmt.Sprintf("line %d: %v", i+1, err), now)
		}
	}

	txs := make([]ParsedTransaction, 0, len(lines))
	for _, l := range lines {
		txs = append(txs, ParsedTransaction{
			ID:                  uuid.NewString(),
			Date:                l.Date,
			Description:         strings.TrimSpace(l.Description),
			Amount:              l.Amount,
			Currency:            strings.ToUpper(strings.TrimSpace(l.Currency)),
			SuggestedCategoryID: l.SuggestedCategoryID,
			OriginalText:        l.OriginalText,
		})
	}

	if err := u.fire(TriggerParseSucceed, now); err != nil {
		return err
	}
	u.Transactions = txs
	parsed := u.UpdatedAt
	u.ParsedAt = &parsed
	return nil
}

// FailParsing records a parser failure.
func (u *StatementUpload) FailParsing(reason string, now time.Time) error {
	return u.failWith(TriggerParseFail, reason, now)
}

// Fail records an operational failure while parsing.
func (u *StatementUpload) Fail(reason string, now time.Time) error {
	return u.failWith(TriggerFail, reason, now)
}

func (u *StatementUpload) failWith(trigger Trigger, reason string, now time.Time) error {
	if err := u.fire(trigger, now); err != nil {
		return err
	}
	u.ErrorMessage = truncateMessage(reason)
	u.Transactions = nil
	return nil
}

// Cancel abandons the import from any non-terminal status.
// A cancelled upload keeps no transactions.
func (u *StatementUpload) Cancel(now time.Time) error {
	if err := u.fire(TriggerCancel, now); err != nil {
		return err
	}
	u.Transactions = nil
	return nil
}

// SetConfirmedCategory records the user's category for one transaction.
func (u *StatementUpload) SetConfirmedCategory(txID string, category CategoryID, now time.Time) error {
	if u.Status != StatusPendingReview {
		return &TransactionStateError{UploadID: u.ID, Status: u.Status}
	}
	if category == "" {
		return fmt.Errorf("%w: empty category id", ErrUnknownCategory)
	}
	for i := range u.Transactions {
		if u.Transactions[i].ID == txID {
			u.Transactions[i].ConfirmedCategoryID = SomeCategory(category)
			u.UpdatedAt = now.UTC()
			return nil
		}
	}
	return &NotFoundError{Kind: "transaction", ID: txID}
}

// Confirm finalizes the batch and returns the event describing it. The
// caller publishes the event only after the upload has been saved.
func (u *StatementUpload) Confirm(now time.Time) (*StatementImportConfirmedEvent, error) {
	if !CanFire(u.Status, TriggerConfirm) {
		return nil, &TransitionError{From: u.Status, Trigger: TriggerConfirm}
	}
	if len(u.Transactions) == 0 {
		// Only reachable from a corrupt stored row.
		return nil, &TransitionError{From: u.Status, Trigger: TriggerConfirm}
	}

	confirmed := make([]ConfirmedTransaction, 0, len(u.Transactions))
	for _, t := range u.Transactions {
		confirmed = append(confirmed, ConfirmedTransaction{
			TransactionID: t.ID,
			Date:          t.Date,
			Description:   t.Description,
			Amount:        t.Amount,
			Currency:      t.Currency,
			CategoryID:    t.EffectiveCategoryID(),
		})
	}

	if err := u.fire(TriggerConfirm, now); err != nil {
		return nil, err
	}
	at := u.UpdatedAt
	u.ConfirmedAt = &at

	return &StatementImportConfirmedEvent{
		StatementUploadID: u.ID,
		UserID:            u.UserID,
		ConfirmedAt:       at,
		Transactions:      confirmed,
	}, nil
}

// FindTransaction returns the transaction with id.
func (u *StatementUpload) FindTransaction(id string) (ParsedTransaction, bool) {
	for _, t := range u.Transactions {
		if t.ID == id {
			return t, true
		}
	}
	return ParsedTransaction{}, false
}

// TotalAmount sums the amounts of all transactions.
func (u *StatementUpload) TotalAmount() decimal.Decimal {
	total := decimal.Zero
	for _, t := range u.Transactions {
		total = total.Add(t.Amount)
	}
	return total
}

// Clone returns a deep copy. Stores hand out clones so callers never share
// slices with stored state.
func (u *StatementUpload) Clone() *StatementUpload {
	if u == nil {
		return nil
	}
	c := *u
	if u.Transactions != nil {
		c.Transactions = make([]ParsedTransaction, len(u.Transactions))
		copy(c.Transactions, u.Transactions)
	}
	if u.ParsedAt != nil {
		t := *u.ParsedAt
		c.ParsedAt = &t
	}
	if u.ConfirmedAt != nil {
		t := *u.ConfirmedAt
		c.ConfirmedAt = &t
	}
	return &c
}

func truncateMessage(reason string) string {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return unknownFailure
	}
	if len(reason) > maxErrorMessage {
		n := maxErrorMessage
		for n > 0 && !utf8.RuneStart(reason[n]) {
			n--
		}
		return reason[:n]
	}
	return reason
}
