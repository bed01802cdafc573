package domain

// Status represents the lifecycle status of a statement upload.
type Status string

const (
	// StatusUploading indicates the raw file is being received.
	StatusUploading Status = "UPLOADING"
	// StatusParsing indicates the parser is working on the file.
	StatusParsing Status = "PARSING"
	// StatusPendingReview indicates parsed transactions await user review.
	StatusPendingReview Status = "PENDING_REVIEW"
	// StatusConfirmed indicates the user approved the batch.
	StatusConfirmed Status = "CONFIRMED"
	// StatusFailed indicates the import could not complete.
	StatusFailed Status = "FAILED"
	// StatusCancelled indicates the user abandoned the import.
	StatusCancelled Status = "CANCELLED"
)

// AllStatuses lists every status in lifecycle order.
var AllStatuses = []Status{
	StatusUploading,
	StatusParsing,
	StatusPendingReview,
	StatusConfirmed,
	StatusFailed,
	StatusCancelled,
}

// IsTerminal reports whether no further transitions are accepted from s.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusConfirmed, StatusFailed, StatusCancelled:
		return true
	default:
		return false
	}
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	for _, known := range AllStatuses {
		if s == known {
			return true
		}
	}
	return false
}

// Trigger is an event that moves an upload between statuses.
type Trigger string

const (
	// TriggerBeginParsing hands the stored document to a parser.
	TriggerBeginParsing Trigger = "begin_parsing"
	// TriggerParseSucceed attaches at least one parsed transaction.
	TriggerParseSucceed Trigger = "parse_succeeded"
	// TriggerParseEmpty reports a parse that found no transactions.
	TriggerParseEmpty Trigger = "parse_empty"
	// TriggerParseFail reports a parser failure.
	TriggerParseFail Trigger = "parse_failed"
	// TriggerFail fails an upload that is being parsed.
	TriggerFail Trigger = "fail"
	// TriggerCancel abandons a non-terminal upload.
	TriggerCancel Trigger = "cancel"
	// TriggerConfirm finalizes a reviewed upload.
	TriggerConfirm Trigger = "confirm"
)

type transitionKey struct {
	from    Status
	trigger Trigger
}

// transitions is the complete table of legal moves. Anything absent is rejected.
var transitions = map[transitionKey]Status{
	{StatusUploading, TriggerBeginParsing}: StatusParsing,
	{StatusParsing, TriggerParseSucceed}:   StatusPendingReview,
	{StatusParsing, TriggerParseEmpty}:     StatusFailed,
	{StatusParsing, TriggerParseFail}:      StatusFailed,
	{StatusParsing, TriggerFail}:           StatusFailed,
	{StatusUploading, TriggerCancel}:       StatusCancelled,
	{StatusParsing, TriggerCancel}:         StatusCancelled,
	{StatusPendingReview, TriggerCancel}:   StatusCancelled,
	{StatusPendingReview, TriggerConfirm}:  StatusConfirmed,
}

// NextStatus returns the destination for trigger fired in from, or a
// *TransitionError when the move is illegal.
func NextStatus(from Status, trigger Trigger) (Status, error) {
	to, ok := transitions[transitionKey{from: from, trigger: trigger}]
	if !ok {
		return from, &TransitionError{From: from, Trigger: trigger}
	}
	return to, nil
}

// CanFire reports whether trigger is legal in from.
func CanFire(from Status, trigger Trigger) bool {
	_, ok := transitions[transitionKey{from: from, trigger: trigger}]
	return ok
}
