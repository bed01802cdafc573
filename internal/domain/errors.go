package domain

import (
	"errors"
	"fmt"
)

// Import errors. Callers match them with errors.Is.
var (
	// ErrNotFound means the upload or transaction does not exist or belongs to another user.
	ErrNotFound = errors.New("not found")

	// ErrInvalidTransition means the trigger is illegal for the current status.
	ErrInvalidTransition = errors.New("invalid status transition")

	// ErrInvalidTransactionState means a transaction edit was attempted outside review.
	ErrInvalidTransactionState = errors.New("transactions can only be edited while pending review")

	// ErrConcurrentModification means the stored version advanced since the upload was loaded.
	ErrConcurrentModification = errors.New("upload was modified concurrently")

	// ErrEventDeliveryFailed means the confirmation was committed but its event was not delivered.
	ErrEventDeliveryFailed = errors.New("confirmation event delivery failed")

	// ErrUnknownCategory means a category override does not exist in the catalog.
	ErrUnknownCategory = errors.New("unknown category")
)

// TransitionError describes a rejected trigger.
type TransitionError struct {
	From    Status
	Trigger Trigger
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("%s: cannot %s from %s", ErrInvalidTransition, e.Trigger, e.From)
}

// Is makes errors.Is(err, ErrInvalidTransition) succeed.
func (e *TransitionError) Is(target error) bool {
	return target == ErrInvalidTransition
}

// TransactionStateError describes a rejected transaction edit.
type TransactionStateError struct {
	UploadID string
	Status   Status
}

func (e *TransactionStateError) Error() string {
	return fmt.Sprintf("%s: upload %s is %s", ErrInvalidTransactionState, e.UploadID, e.Status)
}

func (e *TransactionStateError) Is(target error) bool {
	return target == ErrInvalidTransactionState
}

// EventDeliveryError reports that publishing failed after the upload was
// durably confirmed. The upload stays confirmed.
type EventDeliveryError struct {
	UploadID string
	Err      error
}

func (e *EventDeliveryError) Error() string {
	return fmt.Sprintf("%s for upload %s: %v", ErrEventDeliveryFailed, e.UploadID, e.Err)
}

func (e *EventDeliveryError) Is(target error) bool {
	return target == ErrEventDeliveryFailed
}

func (e *EventDeliveryError) Unwrap() error {
	return e.Err
}

// NotFoundError names the missing entity.
type NotFoundError struct {
	Kind string // "upload" or "transaction"
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s %s", e.Kind, e.ID, ErrNotFound)
}

func (e *NotFoundError) Is(target error) bool {
	return target == ErrNotFound
}
