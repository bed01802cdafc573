package gcsuploader

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// LocalStore keeps documents in a directory and hands out file:// URIs.
type LocalStore struct {
	dir string
}

var _ DocumentStore = (*LocalStore)(nil)

// NewLocalStore creates the directory if needed.
func NewLocalStore(dir string) (*LocalStore, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("NewLocalStore: %w", err)
	}
	if err := os.MkdirAll(abs, 0o750); err != nil {
		return nil, fmt.Errorf("NewLocalStore: create %s: %w", abs, err)
	}
	return &LocalStore{dir: abs}, nil
}

// Put implements DocumentStore.
func (s *LocalStore) Put(ctx context.Context, userID, fileName string, data []byte) (string, error) {
	dir := filepath.Join(s.dir, SafeFileName(userID), uuid.NewString())
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return "", fmt.Errorf("Put: %w", err)
	}
	p := filepath.Join(dir, SafeFileName(fileName))
	if err := os.WriteFile(p, data, 0o640); err != nil {
		return "", fmt.Errorf("Put: write %s: %w", p, err)
	}
	return (&url.URL{Scheme: "file", Path: filepath.ToSlash(p)}).String(), nil
}

// Fetch implements DocumentStore. Only files below the store directory are
// served.
func (s *LocalStore) Fetch(ctx context.Context, uri string) ([]byte, error) {
	u, err := url.Parse(uri)
	if err != nil || u.Scheme != "file" {
		return nil, fmt.Errorf("invalid file URI: %s", uri)
	}
	p := filepath.Clean(filepath.FromSlash(u.Path))
	if !strings.HasPrefix(p, s.dir+string(filepath.Separator)) {
		return nil, fmt.Errorf("Fetch: %s is outside %s", p, s.dir)
	}
	data, err := os.ReadFile(p)
	if err != nil {
		return nil, fmt.Errorf("Fetch: %w", err)
	}
	return data, nil
}
