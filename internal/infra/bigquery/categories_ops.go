package bigquery

import (
	"context"
	"fmt"

	"cloud.google.com/go/bigquery"
	"google.golang.org/api/iterator"
)

const categoriesTable = "categories"

// ListActiveCategoriesWithClient returns all active categories ordered by
// category and subcategory name.
func ListActiveCategoriesWithClient(ctx context.Context, client *bigquery.Client, ds Dataset) ([]CategoryRow, error) {
	q := client.Query(fmt.Sprintf(`
		SELECT
		  category_id,
		  category_name,
		  subcategory_name,
		  slug,
		  is_active
		FROM %s
		WHERE is_active = TRUE
		ORDER BY category_name, subcategory_name
	`, ds.table(categoriesTable)))

	it, err := q.Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("ListActiveCategories: query read: %w", err)
	}

	var rows []CategoryRow
	for {
		var r CategoryRow
		err := it.Next(&r)
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("ListActiveCategories: iter next: %w", err)
		}
		rows = append(rows, r)
	}

	return rows, nil
}
