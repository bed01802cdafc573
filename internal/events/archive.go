package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"path"

	"cloud.google.com/go/storage"
	"google.golang.org/api/googleapi"

	"github.com/dvloznov/statement-import/internal/domain"
	"github.com/dvloznov/statement-import/internal/importer"
)

// GCSArchive writes each event as a JSON object named after its upload id.
// The object is only created if it does not exist, so redeliveries are
// no-ops.
type GCSArchive struct {
	client *storage.Client
	bucket string
	prefix string
}

var _ importer.EventPublisher = (*GCSArchive)(nil)

// NewGCSArchive creates an archive in bucket under prefix.
func NewGCSArchive(client *storage.Client, bucket, prefix string) *GCSArchive {
	return &GCSArchive{client: client, bucket: bucket, prefix: prefix}
}

// ObjectName returns the object an event is archived under.
func (a *GCSArchive) ObjectName(ev domain.StatementImportConfirmedEvent) string {
	return path.Join(a.prefix, ev.UserID, ev.IdempotencyKey()+".json")
}

// Publish implements importer.EventPublisher.
func (a *GCSArchive) Publish(ctx context.Context, ev domain.StatementImportConfirmedEvent) error {
	payload, err := json.Marshal(envelope{Type: domain.ConfirmedEventType, Event: ev})
	if err != nil {
		return fmt.Errorf("GCSArchive: marshal event: %w", err)
	}

	obj := a.client.Bucket(a.bucket).Object(a.ObjectName(ev)).If(storage.Conditions{DoesNotExist: true})
	w := obj.NewWriter(ctx)
	w.ContentType = "application/json"
	w.Metadata = map[string]string{
		"statement_upload_id": ev.StatementUploadID,
		"user_id":             ev.UserID,
	}

	if _, err := w.Write(payload); err != nil {
		_ = w.Close()
		return fmt.Errorf("GCSArchive: write object: %w", err)
	}
	if err := w.Close(); err != nil {
		if isPreconditionFailed(err) {
			return nil
		}
		return fmt.Errorf("GCSArchive: finalize object: %w", err)
	}
	return nil
}

type envelope struct {
	Type  string                               `json:"type"`
	Event domain.StatementImportConfirmedEvent `json:"event"`
}

func isPreconditionFailed(err error) bool {
	var apiErr *googleapi.Error
	return errors.As(err, &apiErr) && apiErr.Code == http.StatusPreconditionFailed
}
