package parsing

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/civil"
	"github.com/gocarina/gocsv"
	"github.com/shopspring/decimal"

	"github.com/dvloznov/statement-import/internal/domain"
	"github.com/dvloznov/statement-import/internal/importer"
)

// CSVRow is the accepted CSV statement layout. Headers are matched by name;
// category is optional.
type CSVRow struct {
	Date        string `csv:"date"`
	Description string `csv:"description"`
	Amount      string `csv:"amount"`
	Currency    string `csv:"currency"`
	Category    string `csv:"category"`
}

// CSVParser reads comma or semicolon separated statements.
type CSVParser struct {
	categorizer     *Categorizer
	defaultCurrency string
}

var _ Parser = (*CSVParser)(nil)

// NewCSVParser creates a CSV parser. defaultCurrency fills rows without one.
func NewCSVParser(categorizer *Categorizer, defaultCurrency string) *CSVParser {
	return &CSVParser{categorizer: categorizer, defaultCurrency: defaultCurrency}
}

// Parse implements Parser.
func (p *CSVParser) Parse(ctx context.Context, doc Document) (importer.ParserResult, error) {
	data := bytes.TrimPrefix(doc.Data, []byte("\xef\xbb\xbf"))

	r := csv.NewReader(bytes.NewReader(data))
	r.Comma = detectDelimiter(data)
	r.TrimLeadingSpace = true

	var rows []*CSVRow
	if err := gocsv.UnmarshalCSV(r, &rows); err != nil {
		return importer.ParserResult{}, failf("read CSV: %v", err)
	}

	var lines []domain.ParsedLine
	for i, row := range rows {
		if strings.TrimSpace(row.Date) == "" && strings.TrimSpace(row.Amount) == "" {
			continue
		}
		line, err := p.toLine(row)
		if err != nil {
			return importer.ParserResult{}, failf("row %d: %v", i+2, err)
		}
		lines = append(lines, line)
	}
	return importer.ParserResult{Transactions: lines}, nil
}

func (p *CSVParser) toLine(row *CSVRow) (domain.ParsedLine, error) {
	date, err := parseDate(row.Date)
	if err != nil {
		return domain.ParsedLine{}, err
	}
	amount, err := parseAmount(row.Amount)
	if err != nil {
		return domain.ParsedLine{}, err
	}
	currency := strings.TrimSpace(row.Currency)
	if currency == "" {
		currency = p.defaultCurrency
	}

	return domain.ParsedLine{
		Date:                date,
		Description:         strings.TrimSpace(row.Description),
		Amount:              amount,
		Currency:            currency,
		SuggestedCategoryID: p.categorizer.Resolve(row.Category, row.Description),
		OriginalText:        strings.Join([]string{row.Date, row.Description, row.Amount, row.Currency}, " | "),
	}, nil
}

func detectDelimiter(data []byte) rune {
	header := data
	if i := bytes.IndexByte(data, '\n'); i >= 0 {
		header = data[:i]
	}
	if bytes.Count(header, []byte(";")) > bytes.Count(header, []byte(",")) {
		return ';'
	}
	return ','
}

var dateLayouts = []string{"2006-01-02", "02/01/2006", "02.01.2006", "2 Jan 2006", "02 Jan 2006"}

func parseDate(s string) (civil.Date, error) {
	s = strings.TrimSpace(s)
	if d, err := civil.ParseDate(s); err == nil {
		return d, nil
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return civil.DateOf(t), nil
		}
	}
	return civil.Date{}, fmt.Errorf("unrecognised date %q", s)
}

// parseAmount accepts "1234.56", "-1,234.56" and the continental "1.234,56".
func parseAmount(s string) (decimal.Decimal, error) {
	s = strings.TrimSpace(s)
	s = strings.NewReplacer(" ", "", "'", "", "£", "", "$", "", "€", "").Replace(s)
	if strings.Contains(s, ",") {
		if strings.LastIndex(s, ",") > strings.LastIndex(s, ".") {
			s = strings.ReplaceAll(s, ".", "")
			s = strings.Replace(s, ",", ".", 1)
		} else {
			s = strings.ReplaceAll(s, ",", "")
		}
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("unrecognised amount %q", s)
	}
	return d, nil
}
