package bigquery

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"cloud.google.com/go/bigquery"
	"github.com/rs/zerolog"

	"github.com/dvloznov/statement-import/internal/domain"
	"github.com/dvloznov/statement-import/internal/importer"
)

// UploadRepository is the BigQuery implementation of importer.UploadStore.
// It holds a shared BigQuery client to avoid creating a new connection for
// each operation.
type UploadRepository struct {
	client *bigquery.Client
	ds     Dataset
}

var _ importer.UploadStore = (*UploadRepository)(nil)

// NewUploadRepository creates a repository with its own client.
func NewUploadRepository(ctx context.Context, ds Dataset) (*UploadRepository, error) {
	client, err := bigquery.NewClient(ctx, ds.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("NewUploadRepository: creating client: %w", err)
	}
	return NewUploadRepositoryWithClient(client, ds), nil
}

// NewUploadRepositoryWithClient shares an existing client.
func NewUploadRepositoryWithClient(client *bigquery.Client, ds Dataset) *UploadRepository {
	return &UploadRepository{client: client, ds: ds}
}

// Client exposes the shared client for the other repositories.
func (r *UploadRepository) Client() *bigquery.Client {
	return r.client
}

// Close closes the BigQuery client connection.
func (r *UploadRepository) Close() error {
	if r.client != nil {
		return r.client.Close()
	}
	return nil
}

// EnsureTables creates missing tables.
func (r *UploadRepository) EnsureTables(ctx context.Context, log zerolog.Logger) error {
	return EnsureTablesWithClient(ctx, r.client, r.ds, log)
}

// GetByID delegates to GetUploadWithClient scoped to userID.
func (r *UploadRepository) GetByID(ctx context.Context, uploadID, userID string) (*domain.StatementUpload, error) {
	if userID == "" {
		return nil, &domain.NotFoundError{Kind: "upload", ID: uploadID}
	}
	return GetUploadWithClient(ctx, r.client, r.ds, uploadID, userID)
}

// GetByIDWithTransactions delegates to GetUploadWithClient for any owner.
func (r *UploadRepository) GetByIDWithTransactions(ctx context.Context, uploadID string) (*domain.StatementUpload, error) {
	return GetUploadWithClient(ctx, r.client, r.ds, uploadID, "")
}

// GetByUserID delegates to ListUploadsWithClient.
func (r *UploadRepository) GetByUserID(ctx context.Context, userID string) ([]domain.UploadSummary, error) {
	return ListUploadsWithClient(ctx, r.client, r.ds, userID)
}

// Save inserts new uploads and version-checks updates.
func (r *UploadRepository) Save(ctx context.Context, u *domain.StatementUpload) error {
	if u.Version == 0 {
		return InsertUploadWithClient(ctx, r.client, r.ds, u)
	}
	return UpdateUploadWithClient(ctx, r.client, r.ds, u)
}

// EventLog appends confirmation events to BigQuery. It implements
// importer.EventPublisher.
type EventLog struct {
	client *bigquery.Client
	ds     Dataset
}

var _ importer.EventPublisher = (*EventLog)(nil)

// NewEventLog creates an event log on a shared client.
func NewEventLog(client *bigquery.Client, ds Dataset) *EventLog {
	return &EventLog{client: client, ds: ds}
}

// Publish delegates to InsertConfirmationEventWithClient.
func (l *EventLog) Publish(ctx context.Context, ev domain.StatementImportConfirmedEvent) error {
	return InsertConfirmationEventWithClient(ctx, l.client, l.ds, ev)
}

// CategoryCatalog answers category lookups from finance categories. The
// active set is cached for ttl.
type CategoryCatalog struct {
	client *bigquery.Client
	ds     Dataset
	ttl    time.Duration

	mu       sync.Mutex
	loadedAt time.Time
	ids      map[domain.CategoryID]CategoryRow
}

var _ importer.CategoryCatalog = (*CategoryCatalog)(nil)

// NewCategoryCatalog creates a catalog on a shared client.
func NewCategoryCatalog(client *bigquery.Client, ds Dataset, ttl time.Duration) *CategoryCatalog {
	return &CategoryCatalog{client: client, ds: ds, ttl: ttl}
}

// HasCategory implements importer.CategoryCatalog. Both ids and slugs match.
func (c *CategoryCatalog) HasCategory(ctx context.Context, id domain.CategoryID) (bool, error) {
	cats, err := c.categories(ctx)
	if err != nil {
		return false, err
	}
	_, ok := cats[domain.CategoryID(strings.ToLower(string(id)))]
	return ok, nil
}

// ListActiveCategories returns the cached active categories.
func (c *CategoryCatalog) ListActiveCategories(ctx context.Context) ([]CategoryRow, error) {
	cats, err := c.categories(ctx)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]bool, len(cats))
	rows := make([]CategoryRow, 0, len(cats))
	for _, row := range cats {
		if seen[row.CategoryID] {
			continue
		}
		seen[row.CategoryID] = true
		rows = append(rows, row)
	}
	return rows, nil
}

func (c *CategoryCatalog) categories(ctx context.Context) (map[domain.CategoryID]CategoryRow, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.ids != nil && time.Since(c.loadedAt) < c.ttl {
		return c.ids, nil
	}

	rows, err := ListActiveCategoriesWithClient(ctx, c.client, c.ds)
	if err != nil {
		return nil, err
	}
	ids := make(map[domain.CategoryID]CategoryRow, len(rows)*2)
	for _, r := range rows {
		ids[domain.CategoryID(strings.ToLower(r.CategoryID))] = r
		if r.Slug != "" {
			ids[domain.CategoryID(strings.ToLower(r.Slug))] = r
		}
	}
	c.ids = ids
	c.loadedAt = time.Now()
	return ids, nil
}
