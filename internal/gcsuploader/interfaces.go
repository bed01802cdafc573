// Package gcsuploader stores raw statement documents in Google Cloud Storage,
// with a local-directory fallback for development.
package gcsuploader

import (
	"context"
	"fmt"
	"strings"
)

// DocumentStore keeps the raw file behind an upload.
type DocumentStore interface {
	// Put stores data and returns the URI it can be fetched from.
	Put(ctx context.Context, userID, fileName string, data []byte) (string, error)

	// Fetch returns the bytes behind uri.
	Fetch(ctx context.Context, uri string) ([]byte, error)
}

// Fetcher reads a document by URI.
type Fetcher interface {
	Fetch(ctx context.Context, uri string) ([]byte, error)
}

// Router dispatches Fetch on the URI scheme ("gs", "file"), so documents
// written by an earlier configuration stay readable.
type Router map[string]Fetcher

// Fetch implements Fetcher.
func (r Router) Fetch(ctx context.Context, uri string) ([]byte, error) {
	scheme, _, ok := strings.Cut(uri, "://")
	if !ok {
		return nil, fmt.Errorf("Fetch: URI %q has no scheme", uri)
	}
	f, ok := r[scheme]
	if !ok {
		return nil, fmt.Errorf("Fetch: no store for scheme %q", scheme)
	}
	return f.Fetch(ctx, uri)
}
