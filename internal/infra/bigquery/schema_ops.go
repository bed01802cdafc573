package bigquery

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"cloud.google.com/go/bigquery"
	"github.com/rs/zerolog"
	"google.golang.org/api/googleapi"
)

// EnsureTablesWithClient creates the dataset and the upload, event and
// category tables when they do not exist yet. Existing tables are left as is.
func EnsureTablesWithClient(ctx context.Context, client *bigquery.Client, ds Dataset, log zerolog.Logger) error {
	dataset := client.DatasetInProject(ds.ProjectID, ds.DatasetID)
	if err := dataset.Create(ctx, &bigquery.DatasetMetadata{}); err != nil && !isAlreadyExists(err) {
		return fmt.Errorf("EnsureTables: create dataset: %w", err)
	}

	tables := []struct {
		name   string
		schema interface{}
		part   string
	}{
		{uploadsTable, UploadRow{}, "uploaded_ts"},
		{eventsTable, ConfirmationEventRow{}, "confirmed_ts"},
		{categoriesTable, CategoryRow{}, ""},
	}

	for _, t := range tables {
		schema, err := bigquery.InferSchema(t.schema)
		if err != nil {
			return fmt.Errorf("EnsureTables: infer schema for %s: %w", t.name, err)
		}
		md := &bigquery.TableMetadata{Schema: schema}
		if t.part != "" {
			md.TimePartitioning = &bigquery.TimePartitioning{Type: bigquery.MonthPartitioningType, Field: t.part}
		}

		err = dataset.Table(t.name).Create(ctx, md)
		switch {
		case err == nil:
			log.Info().Str("table", t.name).Msg("Created BigQuery table")
		case isAlreadyExists(err):
			log.Debug().Str("table", t.name).Msg("BigQuery table exists")
		default:
			return fmt.Errorf("EnsureTables: create table %s: %w", t.name, err)
		}
	}
	return nil
}

func isAlreadyExists(err error) bool {
	var apiErr *googleapi.Error
	return errors.As(err, &apiErr) && apiErr.Code == http.StatusConflict
}
