package importer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/dvloznov/statement-import/internal/domain"
)

// Coordinator orchestrates statement imports: it loads an upload, applies
// one state-machine operation, saves it with a version check and, for
// Confirm, publishes the confirmation event after the save.
//
// It is safe for concurrent use; all state lives in the UploadStore.
type Coordinator struct {
	store     UploadStore
	publisher EventPublisher
	catalog   CategoryCatalog
	log       zerolog.Logger
	now       func() time.Time
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithCategoryCatalog validates category overrides against catalog.
func WithCategoryCatalog(catalog CategoryCatalog) Option {
	return func(c *Coordinator) { c.catalog = catalog }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) { c.now = now }
}

// NewCoordinator creates a Coordinator.
func NewCoordinator(store UploadStore, publisher EventPublisher, log zerolog.Logger, opts ...Option) *Coordinator {
	c := &Coordinator{
		store:     store,
		publisher: publisher,
		log:       log,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// StartUpload creates a new upload in Uploading.
func (c *Coordinator) StartUpload(ctx context.Context, userID, fileName, documentURI string) (*domain.StatementUpload, error) {
	if userID == "" {
		return nil, fmt.Errorf("StartUpload: user id is required")
	}
	upload := domain.NewStatementUpload(userID, fileName, documentURI, c.now())
	if err := c.store.Save(ctx, upload); err != nil {
		return nil, fmt.Errorf("StartUpload: save: %w", err)
	}

	c.log.Info().
		Str("upload_id", upload.ID).
		Str("user_id", userID).
		Str("file_name", fileName).
		Msg("Upload started")
	return upload, nil
}

// BeginParsing moves an upload from Uploading to Parsing.
func (c *Coordinator) BeginParsing(ctx context.Context, userID, uploadID string) error {
	_, err := c.update(ctx, "BeginParsing", c.ownedBy(userID, uploadID), func(u *domain.StatementUpload) error {
		return u.BeginParsing(c.now())
	})
	return err
}

// AttachParsedTransactions applies a parser's result. Zero lines, or any
// invalid line, fail the upload. A result arriving after the upload left
// Parsing (for example after a cancel) is rejected with
// domain.ErrInvalidTransition and discarded.
func (c *Coordinator) AttachParsedTransactions(ctx context.Context, uploadID string, result ParserResult) error {
	_, err := c.update(ctx, "AttachParsedTransactions", c.anyOwner(uploadID), func(u *domain.StatementUpload) error {
		return u.CompleteParsing(result.Transactions, c.now())
	})
	return err
}

// ReportParseFailure records a parser failure on the upload.
func (c *Coordinator) ReportParseFailure(ctx context.Context, uploadID, reason string) error {
	_, err := c.update(ctx, "ReportParseFailure", c.anyOwner(uploadID), func(u *domain.StatementUpload) error {
		return u.FailParsing(reason, c.now())
	})
	return err
}

// SetConfirmedCategory overrides the category of one transaction.
func (c *Coordinator) SetConfirmedCategory(ctx context.Context, userID, uploadID, transactionID string, categoryID domain.CategoryID) error {
	_, err := c.update(ctx, "SetConfirmedCategory", c.ownedBy(userID, uploadID), func(u *domain.StatementUpload) error {
		if u.Status == domain.StatusPendingReview {
			if err := c.checkCategory(ctx, categoryID); err != nil {
				return err
			}
		}
		return u.SetConfirmedCategory(transactionID, categoryID, c.now())
	})
	return err
}

// Confirm finalizes the upload and publishes its confirmation event.
//
// The event is published only after the Confirmed state is saved. If
// publishing fails the upload stays Confirmed and the returned error is a
// *domain.EventDeliveryError; the event is still returned so the caller can
// redeliver it.
func (c *Coordinator) Confirm(ctx context.Context, userID, uploadID string) (*domain.StatementImportConfirmedEvent, error) {
	var event *domain.StatementImportConfirmedEvent
	_, err := c.update(ctx, "Confirm", c.ownedBy(userID, uploadID), func(u *domain.StatementUpload) error {
		ev, err := u.Confirm(c.now())
		if err != nil {
			return err
		}
		event = ev
		return nil
	})
	if err != nil {
		return nil, err
	}

	if err := c.publisher.Publish(ctx, *event); err != nil {
		c.log.Warn().
			Err(err).
			Str("upload_id", uploadID).
			Int("transactions", len(event.Transactions)).
			Msg("Confirmation event delivery failed")
		return event, &domain.EventDeliveryError{UploadID: uploadID, Err: err}
	}

	c.log.Info().
		Str("upload_id", uploadID).
		Int("transactions", len(event.Transactions)).
		Str("total", event.Total().String()).
		Msg("Confirmation event published")
	return event, nil
}

// Cancel abandons the upload.
func (c *Coordinator) Cancel(ctx context.Context, userID, uploadID string) error {
	_, err := c.update(ctx, "Cancel", c.ownedBy(userID, uploadID), func(u *domain.StatementUpload) error {
		return u.Cancel(c.now())
	})
	return err
}

// Fail marks a parsing upload as failed with reason.
func (c *Coordinator) Fail(ctx context.Context, userID, uploadID, reason string) error {
	_, err := c.update(ctx, "Fail", c.ownedBy(userID, uploadID), func(u *domain.StatementUpload) error {
		return u.Fail(reason, c.now())
	})
	return err
}

// GetUpload returns the review view of an upload.
func (c *Coordinator) GetUpload(ctx context.Context, userID, uploadID string) (domain.UploadDetail, error) {
	u, err := c.store.GetByID(ctx, uploadID, userID)
	if err != nil {
		return domain.UploadDetail{}, fmt.Errorf("GetUpload: %w", err)
	}
	return u.Detail(), nil
}

// ListUploads returns the user's uploads.
func (c *Coordinator) ListUploads(ctx context.Context, userID string) ([]domain.UploadSummary, error) {
	summaries, err := c.store.GetByUserID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("ListUploads: %w", err)
	}
	return summaries, nil
}

type loader func(ctx context.Context) (*domain.StatementUpload, error)

func (c *Coordinator) ownedBy(userID, uploadID string) loader {
	return func(ctx context.Context) (*domain.StatementUpload, error) {
		return c.store.GetByID(ctx, uploadID, userID)
	}
}

func (c *Coordinator) anyOwner(uploadID string) loader {
	return func(ctx context.Context) (*domain.StatementUpload, error) {
		return c.store.GetByIDWithTransactions(ctx, uploadID)
	}
}

// update runs one load-apply-save cycle. Rule violations from apply are
// returned before anything is saved.
func (c *Coordinator) update(ctx context.Context, op string, load loader, apply func(*domain.StatementUpload) error) (*domain.StatementUpload, error) {
	upload, err := load(ctx)
	if err != nil {
		return nil, fmt.Errorf("%s: load: %w", op, err)
	}

	from := upload.Status
	if err := apply(upload); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	if err := c.store.Save(ctx, upload); err != nil {
		if errors.Is(err, domain.ErrConcurrentModification) {
			c.log.Debug().Str("upload_id", upload.ID).Str("op", op).Msg("Version conflict on save")
		}
		return nil, fmt.Errorf("%s: save: %w", op, err)
	}

	evt := c.log.Info().
		Str("upload_id", upload.ID).
		Str("op", op).
		Int64("version", upload.Version)
	if from != upload.Status {
		evt = evt.Str("from", string(from)).Str("to", string(upload.Status))
	}
	if upload.ErrorMessage != "" {
		evt = evt.Str("error_message", upload.ErrorMessage)
	}
	evt.Msg("Upload updated")

	return upload, nil
}

func (c *Coordinator) checkCategory(ctx context.Context, id domain.CategoryID) error {
	if c.catalog == nil || id == "" {
		return nil
	}
	ok, err := c.catalog.HasCategory(ctx, id)
	if err != nil {
		return fmt.Errorf("category lookup: %w", err)
	}
	if !ok {
		return fmt.Errorf("%w: %s", domain.ErrUnknownCategory, id)
	}
	return nil
}
