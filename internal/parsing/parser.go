// Package parsing turns raw statement documents into parsed lines with
// suggested categories.
package parsing

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/dvloznov/statement-import/internal/importer"
)

// Document is a raw statement file.
type Document struct {
	FileName string
	Data     []byte
}

// Parser extracts transactions from a document.
//
// Parsers return *importer.ParseFailure when the document itself cannot be
// read; that outcome is final. Any other error is treated as transient and
// the job is retried.
type Parser interface {
	Parse(ctx context.Context, doc Document) (importer.ParserResult, error)
}

// Registry picks a parser by file extension.
type Registry struct {
	parsers map[string]Parser
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{parsers: make(map[string]Parser)}
}

// Register binds p to each extension (with or without the dot).
func (r *Registry) Register(p Parser, extensions ...string) {
	for _, ext := range extensions {
		r.parsers[normalizeExt(ext)] = p
	}
}

// Supports reports whether a parser is registered for fileName.
func (r *Registry) Supports(fileName string) bool {
	_, ok := r.parsers[normalizeExt(filepath.Ext(fileName))]
	return ok
}

// Parse implements Parser by dispatching on the document's extension.
func (r *Registry) Parse(ctx context.Context, doc Document) (importer.ParserResult, error) {
	ext := normalizeExt(filepath.Ext(doc.FileName))
	p, ok := r.parsers[ext]
	if !ok {
		return importer.ParserResult{}, &importer.ParseFailure{
			Reason: fmt.Sprintf("unsupported file type %q", ext),
		}
	}
	return p.Parse(ctx, doc)
}

func normalizeExt(ext string) string {
	return strings.ToLower(strings.TrimPrefix(ext, "."))
}

func failf(format string, args ...interface{}) *importer.ParseFailure {
	return &importer.ParseFailure{Reason: fmt.Sprintf(format, args...)}
}
