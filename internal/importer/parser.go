package importer

import "github.com/dvloznov/statement-import/internal/domain"

// ParserResult is the successful output of a parser.
type ParserResult struct {
	Transactions []domain.ParsedLine
}

// ParseFailure is returned by parsers that could not read a statement.
// It is a business outcome and is recorded on the upload, not retried.
type ParseFailure struct {
	Reason string
}

func (f *ParseFailure) Error() string {
	return "parse failure: " + f.Reason
}
