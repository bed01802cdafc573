package importer

import (
	"context"

	"github.com/dvloznov/statement-import/internal/domain"
)

// UploadStore persists StatementUpload aggregates.
// Implementations must reject a Save whose Version does not match the stored
// version with domain.ErrConcurrentModification, and bump Version on success.
type UploadStore interface {
	// GetByID loads an upload owned by userID. Uploads of other users are
	// reported as domain.ErrNotFound.
	GetByID(ctx context.Context, uploadID, userID string) (*domain.StatementUpload, error)

	// GetByIDWithTransactions loads an upload regardless of owner. It is
	// used by parser callbacks, which act on behalf of the system.
	GetByIDWithTransactions(ctx context.Context, uploadID string) (*domain.StatementUpload, error)

	// GetByUserID lists a user's uploads, newest first.
	GetByUserID(ctx context.Context, userID string) ([]domain.UploadSummary, error)

	// Save inserts (Version 0) or updates the upload.
	Save(ctx context.Context, upload *domain.StatementUpload) error
}

// EventPublisher delivers confirmation events to other contexts.
type EventPublisher interface {
	Publish(ctx context.Context, event domain.StatementImportConfirmedEvent) error
}

// CategoryCatalog answers whether a category id exists.
type CategoryCatalog interface {
	HasCategory(ctx context.Context, id domain.CategoryID) (bool, error)
}
