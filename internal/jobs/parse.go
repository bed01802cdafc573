package jobs

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/dvloznov/statement-import/internal/domain"
	"github.com/dvloznov/statement-import/internal/importer"
	"github.com/dvloznov/statement-import/internal/parsing"
)

// DocumentFetcher reads a raw statement by URI.
type DocumentFetcher interface {
	Fetch(ctx context.Context, uri string) ([]byte, error)
}

// ParseReporter receives parse outcomes. *importer.Coordinator satisfies it.
type ParseReporter interface {
	AttachParsedTransactions(ctx context.Context, uploadID string, result importer.ParserResult) error
	ReportParseFailure(ctx context.Context, uploadID, reason string) error
	Fail(ctx context.Context, userID, uploadID, reason string) error
}

// ParseHandler runs parse-statement jobs.
type ParseHandler struct {
	documents DocumentFetcher
	parser    parsing.Parser
	reporter  ParseReporter
	retry     importer.RetryOptions
	log       zerolog.Logger
}

// NewParseHandler creates a handler.
func NewParseHandler(documents DocumentFetcher, parser parsing.Parser, reporter ParseReporter, log zerolog.Logger) *ParseHandler {
	return &ParseHandler{
		documents: documents,
		parser:    parser,
		reporter:  reporter,
		retry:     importer.DefaultRetryOptions,
		log:       log,
	}
}

// Handle implements JobHandler.
//
// A *importer.ParseFailure is recorded on the upload and the job completes.
// Any other error is returned so the queue retries; on the last attempt the
// upload is failed instead. A result for an upload that already left
// Parsing (cancelled meanwhile) is dropped.
func (h *ParseHandler) Handle(ctx context.Context, job Job) error {
	j, ok := job.(*ParseStatementJob)
	if !ok {
		return fmt.Errorf("ParseHandler: unexpected job type %s", job.GetType())
	}
	log := h.log.With().Str("job_id", j.JobID).Str("upload_id", j.UploadID).Logger()

	result, err := h.parse(ctx, j)

	var failure *importer.ParseFailure
	switch {
	case errors.As(err, &failure):
		log.Info().Str("reason", failure.Reason).Msg("Statement could not be parsed")
		err = importer.RetryOnConflict(ctx, log, h.retry, func() error {
			return h.reporter.ReportParseFailure(ctx, j.UploadID, failure.Reason)
		})
	case err != nil:
		if j.RetryCount < j.MaxRetries {
			return err
		}
		log.Error().Err(err).Int("retry_count", j.RetryCount).Msg("Giving up on statement")
		reason := fmt.Sprintf("parsing gave up after %d attempts: %v", j.RetryCount+1, err)
		failErr := importer.RetryOnConflict(ctx, log, h.retry, func() error {
			return h.reporter.Fail(ctx, j.UserID, j.UploadID, reason)
		})
		if failErr != nil && !errors.Is(failErr, domain.ErrInvalidTransition) {
			return fmt.Errorf("%w (failing upload: %v)", err, failErr)
		}
		// The job itself still ends as failed.
		return err
	default:
		err = importer.RetryOnConflict(ctx, log, h.retry, func() error {
			return h.reporter.AttachParsedTransactions(ctx, j.UploadID, result)
		})
		if err == nil {
			log.Info().Int("transactions", len(result.Transactions)).Msg("Parse result attached")
		}
	}

	if errors.Is(err, domain.ErrInvalidTransition) {
		log.Info().Msg("Upload no longer parsing, result discarded")
		return nil
	}
	return err
}

func (h *ParseHandler) parse(ctx context.Context, j *ParseStatementJob) (importer.ParserResult, error) {
	data, err := h.documents.Fetch(ctx, j.DocumentURI)
	if err != nil {
		return importer.ParserResult{}, fmt.Errorf("fetch document: %w", err)
	}
	return h.parser.Parse(ctx, parsing.Document{FileName: j.FileName, Data: data})
}
