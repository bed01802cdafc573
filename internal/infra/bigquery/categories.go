package bigquery

import "cloud.google.com/go/bigquery"

type CategoryRow struct {
	CategoryID      string              `bigquery:"category_id"`      // REQUIRED
	CategoryName    string              `bigquery:"category_name"`    // REQUIRED
	SubcategoryName bigquery.NullString `bigquery:"subcategory_name"` // NULLABLE
	Slug            string              `bigquery:"slug"`             // REQUIRED
	IsActive        bigquery.NullBool   `bigquery:"is_active"`        // NULLABLE
}
