package bigquery

import (
	"context"
	"fmt"
	"time"

	"cloud.google.com/go/bigquery"

	"github.com/dvloznov/statement-import/internal/domain"
)

// InsertConfirmationEventWithClient streams the event into the event log.
// The insert ID is the statement upload id, so BigQuery drops redelivered
// copies within its deduplication window.
func InsertConfirmationEventWithClient(ctx context.Context, client *bigquery.Client, ds Dataset, ev domain.StatementImportConfirmedEvent) error {
	row := EventRowFromDomain(ev, time.Now().UTC())

	inserter := client.DatasetInProject(ds.ProjectID, ds.DatasetID).Table(eventsTable).Inserter()
	saver := &bigquery.StructSaver{
		Struct:   row,
		InsertID: ev.IdempotencyKey(),
	}
	if err := inserter.Put(ctx, saver); err != nil {
		return fmt.Errorf("InsertConfirmationEvent: inserting row: %w", err)
	}
	return nil
}
