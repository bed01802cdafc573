package bigquery

import (
	"context"
	"fmt"

	"cloud.google.com/go/bigquery"
	"google.golang.org/api/iterator"

	"github.com/dvloznov/statement-import/internal/domain"
)

const (
	uploadsTable = "statement_uploads"
	eventsTable  = "confirmation_events"
)

// Dataset names the BigQuery dataset holding the import tables.
type Dataset struct {
	ProjectID string
	DatasetID string
}

func (d Dataset) table(name string) string {
	return "`" + d.ProjectID + "." + d.DatasetID + "." + name + "`"
}

const uploadColumns = `
	upload_id,
	user_id,
	original_file_name,
	document_uri,
	uploaded_ts,
	status,
	error_message,
	parsed_ts,
	confirmed_ts,
	updated_ts,
	version,
	transactions`

// GetUploadWithClient loads one upload. An empty userID matches any owner.
func GetUploadWithClient(ctx context.Context, client *bigquery.Client, ds Dataset, uploadID, userID string) (*domain.StatementUpload, error) {
	q := client.Query(fmt.Sprintf(`
		SELECT %s
		FROM %s
		WHERE upload_id = @upload_id
		  AND (@user_id = '' OR user_id = @user_id)
		LIMIT 1
	`, uploadColumns, ds.table(uploadsTable)))
	q.Parameters = []bigquery.QueryParameter{
		{Name: "upload_id", Value: uploadID},
		{Name: "user_id", Value: userID},
	}

	it, err := q.Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("GetUpload: query read: %w", err)
	}

	var row UploadRow
	err = it.Next(&row)
	if err == iterator.Done {
		return nil, &domain.NotFoundError{Kind: "upload", ID: uploadID}
	}
	if err != nil {
		return nil, fmt.Errorf("GetUpload: iter next: %w", err)
	}

	u, err := row.ToDomain()
	if err != nil {
		return nil, fmt.Errorf("GetUpload: %w", err)
	}
	return u, nil
}

// ListUploadsWithClient returns the user's uploads, newest first.
func ListUploadsWithClient(ctx context.Context, client *bigquery.Client, ds Dataset, userID string) ([]domain.UploadSummary, error) {
	q := client.Query(fmt.Sprintf(`
		SELECT
		  upload_id,
		  original_file_name,
		  uploaded_ts,
		  status,
		  ARRAY_LENGTH(transactions) AS transaction_count
		FROM %s
		WHERE user_id = @user_id
		ORDER BY uploaded_ts DESC, upload_id
	`, ds.table(uploadsTable)))
	q.Parameters = []bigquery.QueryParameter{
		{Name: "user_id", Value: userID},
	}

	it, err := q.Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("ListUploads: query read: %w", err)
	}

	var result []domain.UploadSummary
	for {
		var r UploadSummaryRow
		err := it.Next(&r)
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("ListUploads: iter next: %w", err)
		}
		result = append(result, r.ToSummary())
	}
	return result, nil
}

// InsertUploadWithClient inserts a never-saved upload at version 1. It
// affects no row when the id already exists, which is reported as a
// concurrent modification.
func InsertUploadWithClient(ctx context.Context, client *bigquery.Client, ds Dataset, u *domain.StatementUpload) error {
	row := UploadRowFromDomain(u)
	row.Version = 1

	q := client.Query(fmt.Sprintf(`
		INSERT %[1]s (%[2]s)
		SELECT
		  @upload_id,
		  @user_id,
		  @original_file_name,
		  @document_uri,
		  @uploaded_ts,
		  @status,
		  @error_message,
		  @parsed_ts,
		  @confirmed_ts,
		  @updated_ts,
		  @version,
		  @transactions
		FROM UNNEST([1])
		WHERE NOT EXISTS (SELECT 1 FROM %[1]s WHERE upload_id = @upload_id)
	`, ds.table(uploadsTable), uploadColumns))
	q.Parameters = uploadParameters(row)

	n, err := runDML(ctx, q)
	if err != nil {
		return fmt.Errorf("InsertUpload: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("InsertUpload: upload %s already exists: %w", u.ID, domain.ErrConcurrentModification)
	}
	u.Version = row.Version
	return nil
}

// UpdateUploadWithClient writes the upload if the stored version still
// equals u.Version, then bumps it.
func UpdateUploadWithClient(ctx context.Context, client *bigquery.Client, ds Dataset, u *domain.StatementUpload) error {
	row := UploadRowFromDomain(u)
	expected := row.Version
	row.Version = expected + 1

	q := client.Query(fmt.Sprintf(`
		UPDATE %s
		SET
		  status = @status,
		  error_message = @error_message,
		  parsed_ts = @parsed_ts,
		  confirmed_ts = @confirmed_ts,
		  updated_ts = @updated_ts,
		  version = @version,
		  transactions = @transactions
		WHERE upload_id = @upload_id
		  AND version = @expected_version
	`, ds.table(uploadsTable)))
	q.Parameters = append(uploadParameters(row),
		bigquery.QueryParameter{Name: "expected_version", Value: expected})

	n, err := runDML(ctx, q)
	if err != nil {
		return fmt.Errorf("UpdateUpload: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("UpdateUpload: upload %s version %d: %w", u.ID, expected, domain.ErrConcurrentModification)
	}
	u.Version = row.Version
	return nil
}

func uploadParameters(row *UploadRow) []bigquery.QueryParameter {
	return []bigquery.QueryParameter{
		{Name: "upload_id", Value: row.UploadID},
		{Name: "user_id", Value: row.UserID},
		{Name: "original_file_name", Value: row.OriginalFileName},
		{Name: "document_uri", Value: row.DocumentURI},
		{Name: "uploaded_ts", Value: row.UploadedTS},
		{Name: "status", Value: row.Status},
		{Name: "error_message", Value: row.ErrorMessage},
		{Name: "parsed_ts", Value: row.ParsedTS},
		{Name: "confirmed_ts", Value: row.ConfirmedTS},
		{Name: "updated_ts", Value: row.UpdatedTS},
		{Name: "version", Value: row.Version},
		{Name: "transactions", Value: row.Transactions},
	}
}

// runDML runs a DML statement and returns the number of affected rows.
func runDML(ctx context.Context, q *bigquery.Query) (int64, error) {
	job, err := q.Run(ctx)
	if err != nil {
		return 0, fmt.Errorf("running query: %w", err)
	}

	status, err := job.Wait(ctx)
	if err != nil {
		return 0, fmt.Errorf("waiting for job: %w", err)
	}
	if err := status.Err(); err != nil {
		return 0, fmt.Errorf("job error: %w", err)
	}

	if status.Statistics == nil {
		return 0, fmt.Errorf("job %s returned no statistics", job.ID())
	}
	stats, ok := status.Statistics.Details.(*bigquery.QueryStatistics)
	if !ok {
		return 0, fmt.Errorf("job %s returned no query statistics", job.ID())
	}
	return stats.NumDMLAffectedRows, nil
}
