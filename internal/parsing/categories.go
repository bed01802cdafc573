package parsing

import (
	"context"
	"strings"

	"github.com/dvloznov/statement-import/internal/domain"
	"github.com/dvloznov/statement-import/internal/importer"
)

// UncategorizedID is suggested when nothing else matches.
const UncategorizedID domain.CategoryID = "uncategorized"

// Category is one entry of the category taxonomy.
type Category struct {
	ID       domain.CategoryID
	Name     string
	Keywords []string
}

// CategorySource lists the categories a parser may suggest.
type CategorySource interface {
	ListCategories(ctx context.Context) ([]Category, error)
}

// StaticCategories is a fixed taxonomy. It also serves as an
// importer.CategoryCatalog.
type StaticCategories []Category

var _ importer.CategoryCatalog = StaticCategories(nil)

// ListCategories implements CategorySource.
func (s StaticCategories) ListCategories(ctx context.Context) ([]Category, error) {
	return s, nil
}

// HasCategory implements importer.CategoryCatalog.
func (s StaticCategories) HasCategory(ctx context.Context, id domain.CategoryID) (bool, error) {
	for _, c := range s {
		if strings.EqualFold(string(c.ID), string(id)) {
			return true, nil
		}
	}
	return false, nil
}

// DefaultCategories is used when no catalog is configured.
var DefaultCategories = StaticCategories{
	{ID: "housing", Name: "Housing", Keywords: []string{"rent", "mortgage", "council tax", "letting"}},
	{ID: "utilities", Name: "Utilities", Keywords: []string{"electric", "energy", "water", "gas", "broadband", "mobile", "vodafone", "octopus"}},
	{ID: "groceries", Name: "Groceries", Keywords: []string{"tesco", "sainsbury", "lidl", "aldi", "waitrose", "asda", "grocer", "supermarket", "migros", "coop"}},
	{ID: "dining", Name: "Dining", Keywords: []string{"restaurant", "cafe", "coffee", "pret", "starbucks", "deliveroo", "uber eats", "pizza"}},
	{ID: "transport", Name: "Transport", Keywords: []string{"uber", "tfl", "trainline", "rail", "bahn", "sbb", "taxi", "fuel", "shell", "parking"}},
	{ID: "shopping", Name: "Shopping", Keywords: []string{"amazon", "ebay", "ikea", "zara", "apple.com"}},
	{ID: "entertainment", Name: "Entertainment", Keywords: []string{"netflix", "spotify", "cinema", "steam", "disney"}},
	{ID: "health", Name: "Health", Keywords: []string{"pharmacy", "boots", "dental", "gym", "doctor"}},
	{ID: "income", Name: "Income", Keywords: []string{"salary", "payroll", "wages", "interest", "dividend", "refund"}},
	{ID: "transfers", Name: "Transfers", Keywords: []string{"transfer", "standing order", "savings"}},
	{ID: "fees", Name: "Bank Fees", Keywords: []string{"fee", "charge", "overdraft"}},
	{ID: UncategorizedID, Name: "Uncategorized"},
}

// Categorizer suggests a category from a transaction description by
// keyword match. The first category with a matching keyword wins.
type Categorizer struct {
	categories []Category
	known      map[string]domain.CategoryID
	fallback   domain.CategoryID
}

// NewCategorizer builds a categorizer over categories.
func NewCategorizer(categories []Category) *Categorizer {
	c := &Categorizer{
		categories: categories,
		known:      make(map[string]domain.CategoryID, len(categories)*2),
		fallback:   UncategorizedID,
	}
	for _, cat := range categories {
		c.known[normalize(string(cat.ID))] = cat.ID
		if cat.Name != "" {
			c.known[normalize(cat.Name)] = cat.ID
		}
	}
	return c
}

// Suggest returns the category for description.
func (c *Categorizer) Suggest(description string) domain.CategoryID {
	desc := normalize(description)
	for _, cat := range c.categories {
		for _, kw := range cat.Keywords {
			if kw != "" && strings.Contains(desc, normalize(kw)) {
				return cat.ID
			}
		}
	}
	return c.fallback
}

// Resolve maps a category name or id proposed by a parser onto a known id.
// Unknown proposals fall back to keyword matching on description.
func (c *Categorizer) Resolve(proposed, description string) domain.CategoryID {
	if id, ok := c.known[normalize(proposed)]; ok {
		return id
	}
	return c.Suggest(description)
}

func normalize(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}
