package gcsuploader

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"cloud.google.com/go/storage"
	"github.com/google/uuid"
)

// GCSStore is a DocumentStore backed by a GCS bucket. Objects are written
// under <prefix>/<userID>/<random id>/<file name>.
type GCSStore struct {
	client *storage.Client
	bucket string
	prefix string
}

var _ DocumentStore = (*GCSStore)(nil)

// NewGCSStore creates a store. The caller owns client.
func NewGCSStore(client *storage.Client, bucket, prefix string) *GCSStore {
	return &GCSStore{client: client, bucket: bucket, prefix: strings.Trim(prefix, "/")}
}

// ObjectName returns the object path a new document is written to.
func (s *GCSStore) ObjectName(userID, fileName string) string {
	return path.Join(s.prefix, userID, uuid.NewString(), SafeFileName(fileName))
}

// Put implements DocumentStore.
func (s *GCSStore) Put(ctx context.Context, userID, fileName string, data []byte) (string, error) {
	objectName := s.ObjectName(userID, fileName)

	ctx, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()

	w := s.client.Bucket(s.bucket).Object(objectName).NewWriter(ctx)
	w.ContentType = contentType(fileName)
	w.Metadata = map[string]string{"user_id": userID, "original_file_name": fileName}

	if _, err := io.Copy(w, bytes.NewReader(data)); err != nil {
		_ = w.Close()
		return "", fmt.Errorf("Put: copy to GCS writer: %w", err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("Put: finalize upload: %w", err)
	}
	return "gs://" + s.bucket + "/" + objectName, nil
}

// Fetch implements DocumentStore.
func (s *GCSStore) Fetch(ctx context.Context, uri string) ([]byte, error) {
	bucketName, objectPath, err := ParseGCSURI(uri)
	if err != nil {
		return nil, err
	}

	rc, err := s.client.Bucket(bucketName).Object(objectPath).NewReader(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetchFromGCS: reading object %s/%s: %w", bucketName, objectPath, err)
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("fetchFromGCS: reading bytes: %w", err)
	}
	return data, nil
}

// ParseGCSURI splits gs://bucket/path/to/file into bucket and object path.
func ParseGCSURI(uri string) (bucket, object string, err error) {
	if !strings.HasPrefix(uri, "gs://") {
		return "", "", fmt.Errorf("invalid GCS URI: %s", uri)
	}
	parts := strings.SplitN(strings.TrimPrefix(uri, "gs://"), "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("invalid GCS URI (no object path): %s", uri)
	}
	return parts[0], parts[1], nil
}

// ExtractFilenameFromGCSURI extracts the filename from a GCS URI.
// e.g., "gs://bucket/folder/file.pdf" → "file.pdf"
func ExtractFilenameFromGCSURI(uri string) string {
	trimmed := strings.TrimPrefix(uri, "gs://")
	parts := strings.SplitN(trimmed, "/", 2)
	if len(parts) < 2 {
		return trimmed
	}
	return path.Base(parts[1])
}

// SafeFileName keeps the base name and replaces characters that are awkward
// in object names.
func SafeFileName(name string) string {
	name = path.Base(strings.ReplaceAll(name, "\\", "/"))
	if name == "." || name == "/" || name == "" {
		return "statement"
	}
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '-', r == '_':
			return r
		}
		return '_'
	}, name)
}

func contentType(fileName string) string {
	switch strings.ToLower(path.Ext(fileName)) {
	case ".pdf":
		return "application/pdf"
	case ".csv":
		return "text/csv"
	case ".ofx", ".qfx":
		return "application/x-ofx"
	}
	return "application/octet-stream"
}
