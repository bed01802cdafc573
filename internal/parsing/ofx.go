package parsing

import (
	"bytes"
	"context"
	"strings"

	"cloud.google.com/go/civil"
	"github.com/aclindsa/ofxgo"
	"github.com/shopspring/decimal"

	"github.com/dvloznov/statement-import/internal/domain"
	"github.com/dvloznov/statement-import/internal/importer"
)

// OFXParser reads OFX and QFX bank and credit card statements.
type OFXParser struct {
	categorizer *Categorizer
}

var _ Parser = (*OFXParser)(nil)

// NewOFXParser creates an OFX parser.
func NewOFXParser(categorizer *Categorizer) *OFXParser {
	return &OFXParser{categorizer: categorizer}
}

// Parse implements Parser.
func (p *OFXParser) Parse(ctx context.Context, doc Document) (importer.ParserResult, error) {
	resp, err := ofxgo.ParseResponse(bytes.NewReader(doc.Data))
	if err != nil {
		return importer.ParserResult{}, failf("read OFX: %v", err)
	}

	var lines []domain.ParsedLine
	for _, msg := range resp.Bank {
		stmt, ok := msg.(*ofxgo.StatementResponse)
		if !ok || stmt.BankTranList == nil {
			continue
		}
		for _, tx := range stmt.BankTranList.Transactions {
			lines = append(lines, p.toLine(tx, stmt.CurDef.String()))
		}
	}
	for _, msg := range resp.CreditCard {
		stmt, ok := msg.(*ofxgo.CCStatementResponse)
		if !ok || stmt.BankTranList == nil {
			continue
		}
		for _, tx := range stmt.BankTranList.Transactions {
			lines = append(lines, p.toLine(tx, stmt.CurDef.String()))
		}
	}
	return importer.ParserResult{Transactions: lines}, nil
}

func (p *OFXParser) toLine(tx ofxgo.Transaction, currency string) domain.ParsedLine {
	if tx.Currency != nil {
		currency = tx.Currency.CurSym.String()
	}
	desc := description(tx)
	amount, _ := decimal.NewFromString(tx.TrnAmt.FloatString(4))

	return domain.ParsedLine{
		Date:                civil.DateOf(tx.DtPosted.Time),
		Description:         desc,
		Amount:              amount,
		Currency:            currency,
		SuggestedCategoryID: p.suggest(tx, desc),
		OriginalText:        strings.TrimSpace(string(tx.FiTID) + " " + tx.TrnType.String() + " " + string(tx.Name) + " " + string(tx.Memo)),
	}
}

// suggest uses the OFX transaction type where it is unambiguous.
func (p *OFXParser) suggest(tx ofxgo.Transaction, desc string) domain.CategoryID {
	switch tx.TrnType {
	case ofxgo.TrnTypeInt, ofxgo.TrnTypeDiv:
		return p.categorizer.Resolve("income", desc)
	case ofxgo.TrnTypeFee, ofxgo.TrnTypeSrvChg:
		return p.categorizer.Resolve("fees", desc)
	case ofxgo.TrnTypeXfer:
		return p.categorizer.Resolve("transfers", desc)
	}
	return p.categorizer.Suggest(desc)
}

func description(tx ofxgo.Transaction) string {
	if tx.Payee != nil && tx.Payee.Name != "" {
		return strings.TrimSpace(string(tx.Payee.Name))
	}
	name := strings.TrimSpace(string(tx.Name))
	if name == "" {
		return strings.TrimSpace(string(tx.Memo))
	}
	return name
}
