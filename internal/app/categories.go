package app

import (
	"context"
	"fmt"
	"strings"

	"github.com/dvloznov/statement-import/internal/domain"
	infraBQ "github.com/dvloznov/statement-import/internal/infra/bigquery"
	"github.com/dvloznov/statement-import/internal/parsing"
)

// catalogLister is the part of the BigQuery catalog the parsers need.
type catalogLister interface {
	ListActiveCategories(ctx context.Context) ([]infraBQ.CategoryRow, error)
}

// catalogCategories exposes the BigQuery category table as a
// parsing.CategorySource. Keywords come from the built-in taxonomy when a
// slug matches one of its ids.
type catalogCategories struct {
	catalog catalogLister
}

func (c catalogCategories) ListCategories(ctx context.Context) ([]parsing.Category, error) {
	rows, err := c.catalog.ListActiveCategories(ctx)
	if err != nil {
		return nil, fmt.Errorf("ListCategories: %w", err)
	}

	keywords := make(map[string][]string, len(parsing.DefaultCategories))
	for _, d := range parsing.DefaultCategories {
		keywords[string(d.ID)] = d.Keywords
	}

	cats := make([]parsing.Category, 0, len(rows)+1)
	hasFallback := false
	for _, r := range rows {
		id := r.Slug
		if id == "" {
			id = r.CategoryID
		}
		id = strings.ToLower(id)
		name := r.CategoryName
		if r.SubcategoryName.Valid && r.SubcategoryName.StringVal != "" {
			name += " / " + r.SubcategoryName.StringVal
		}
		if id == string(parsing.UncategorizedID) {
			hasFallback = true
		}
		cats = append(cats, parsing.Category{ID: domain.CategoryID(id), Name: name, Keywords: keywords[id]})
	}
	if !hasFallback {
		cats = append(cats, parsing.Category{ID: parsing.UncategorizedID, Name: "Uncategorized"})
	}
	return cats, nil
}
