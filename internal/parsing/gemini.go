package parsing

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"google.golang.org/genai"

	"github.com/dvloznov/statement-import/internal/domain"
	"github.com/dvloznov/statement-import/internal/importer"
)

// DefaultModelName is the Gemini model used for PDF statements.
const DefaultModelName = "gemini-2.5-flash"

// ContentGenerator is the subset of *genai.Models the parser uses.
type ContentGenerator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

// NewGenAIClient creates a Gemini client from the environment
// (GOOGLE_API_KEY or Vertex AI application default credentials).
func NewGenAIClient(ctx context.Context) (*genai.Client, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		HTTPOptions: genai.HTTPOptions{APIVersion: "v1"},
	})
	if err != nil {
		return nil, fmt.Errorf("NewGenAIClient: %w", err)
	}
	return client, nil
}

// GeminiParser sends PDF statements to Gemini and reads back a JSON array
// of transactions with a category chosen from the taxonomy.
type GeminiParser struct {
	models     ContentGenerator
	model      string
	categories CategorySource
	log        zerolog.Logger
}

var _ Parser = (*GeminiParser)(nil)

// NewGeminiParser creates a parser. Pass client.Models as models.
func NewGeminiParser(models ContentGenerator, model string, categories CategorySource, log zerolog.Logger) *GeminiParser {
	if model == "" {
		model = DefaultModelName
	}
	return &GeminiParser{models: models, model: model, categories: categories, log: log}
}

type modelTransaction struct {
	Date         string      `json:"date"`
	Description  string      `json:"description"`
	Amount       json.Number `json:"amount"`
	Currency     string      `json:"currency"`
	Category     string      `json:"category"`
	OriginalText string      `json:"original_text"`
}

// Parse implements Parser.
func (p *GeminiParser) Parse(ctx context.Context, doc Document) (importer.ParserResult, error) {
	cats, err := p.categories.ListCategories(ctx)
	if err != nil {
		return importer.ParserResult{}, fmt.Errorf("GeminiParser: loading categories: %w", err)
	}
	categorizer := NewCategorizer(cats)

	contents := []*genai.Content{
		{
			Role: "user",
			Parts: []*genai.Part{
				{Text: buildPrompt(cats)},
				{InlineData: &genai.Blob{MIMEType: "application/pdf", Data: doc.Data}},
			},
		},
	}

	resp, err := p.models.GenerateContent(ctx, p.model, contents, nil)
	if err != nil {
		return importer.ParserResult{}, fmt.Errorf("GeminiParser: generate content: %w", err)
	}

	raw := resp.Text()
	if strings.TrimSpace(raw) == "" {
		return importer.ParserResult{}, failf("empty response from model")
	}

	var parsed []modelTransaction
	dec := json.NewDecoder(strings.NewReader(cleanModelJSON(raw)))
	dec.UseNumber()
	if err := dec.Decode(&parsed); err != nil {
		p.log.Debug().Str("raw_response", raw).Msg("Unparseable model output")
		return importer.ParserResult{}, failf("model output is not a JSON array: %v", err)
	}

	lines := make([]domain.ParsedLine, 0, len(parsed))
	for i, mt := range parsed {
		date, err := parseDate(mt.Date)
		if err != nil {
			return importer.ParserResult{}, failf("transaction %d: %v", i+1, err)
		}
		amount, err := decimal.NewFromString(mt.Amount.String())
		if err != nil {
			return importer.ParserResult{}, failf("transaction %d: amount %q: %v", i+1, mt.Amount, err)
		}
		lines = append(lines, domain.ParsedLine{
			Date:                date,
			Description:         strings.TrimSpace(mt.Description),
			Amount:              amount,
			Currency:            mt.Currency,
			SuggestedCategoryID: categorizer.Resolve(mt.Category, mt.Description),
			OriginalText:        mt.OriginalText,
		})
	}

	p.log.Info().
		Str("file_name", doc.FileName).
		Int("transactions", len(lines)).
		Msg("Gemini parsed statement")
	return importer.ParserResult{Transactions: lines}, nil
}

func buildPrompt(cats []Category) string {
	var b strings.Builder
	b.WriteString("You are a financial statement parser for bank and credit card PDF statements.\n\n")
	b.WriteString("Task:\n")
	b.WriteString("- Parse ALL transactions in the attached statement.\n")
	b.WriteString("- Output STRICT JSON only: a JSON array of objects, no comments and no extra text.\n\n")
	b.WriteString("Each object must have these fields:\n")
	b.WriteString("- \"date\": string, ISO format \"YYYY-MM-DD\"\n")
	b.WriteString("- \"description\": string\n")
	b.WriteString("- \"amount\": number (positive for money IN, negative for money OUT)\n")
	b.WriteString("- \"currency\": string (ISO code, e.g. \"GBP\")\n")
	b.WriteString("- \"category\": string, one of the category ids below\n")
	b.WriteString("- \"original_text\": string, the statement line as printed\n\n")

	b.WriteString("Use ONLY the following category ids:\n")
	for _, c := range cats {
		fmt.Fprintf(&b, "  - %s (%s)\n", c.ID, c.Name)
	}
	fmt.Fprintf(&b, "If you are unsure, use %q.\n\n", UncategorizedID)

	b.WriteString("Rules:\n")
	b.WriteString("- If the statement has separate \"paid out\" / \"paid in\" columns, convert to a single signed \"amount\".\n")
	b.WriteString("- Do NOT wrap the response in code fences.\n")
	b.WriteString("- Output must begin with \"[\" and end with \"]\".\n")
	return b.String()
}

func cleanModelJSON(raw string) string {
	s := strings.TrimSpace(raw)

	// Handle ```json ... ``` or ``` ... ``` wrappers.
	if strings.HasPrefix(s, "```") {
		if idx := strings.Index(s, "\n"); idx != -1 {
			s = s[idx+1:]
		} else {
			return s
		}
		s = strings.TrimSpace(s)
	}
	if idx := strings.LastIndex(s, "```"); idx != -1 {
		s = s[:idx]
	}
	s = strings.TrimSpace(s)

	// Keep only the outermost array if the model added prose around it.
	if start := strings.Index(s, "["); start != -1 {
		if end := strings.LastIndex(s, "]"); end != -1 && end > start {
			s = strings.TrimSpace(s[start : end+1])
		}
	}
	return s
}
