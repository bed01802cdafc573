package jobs_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"cloud.google.com/go/civil"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dvloznov/statement-import/internal/domain"
	"github.com/dvloznov/statement-import/internal/importer"
	"github.com/dvloznov/statement-import/internal/importer/inmemory"
	"github.com/dvloznov/statement-import/internal/jobs"
	"github.com/dvloznov/statement-import/internal/parsing"
)

const user = "user-1"

type mockFetcher struct {
	FetchFn func(ctx context.Context, uri string) ([]byte, error)
}

func (m *mockFetcher) Fetch(ctx context.Context, uri string) ([]byte, error) {
	return m.FetchFn(ctx, uri)
}

type mockParser struct {
	ParseFn func(ctx context.Context, doc parsing.Document) (importer.ParserResult, error)
}

func (m *mockParser) Parse(ctx context.Context, doc parsing.Document) (importer.ParserResult, error) {
	return m.ParseFn(ctx, doc)
}

type nopPublisher struct{}

func (nopPublisher) Publish(ctx context.Context, ev domain.StatementImportConfirmedEvent) error {
	return nil
}

type harness struct {
	coord   *importer.Coordinator
	store   *inmemory.Store
	fetcher *mockFetcher
	parser  *mockParser
	handler *jobs.ParseHandler
}

func newHarness() *harness {
	h := &harness{
		store: inmemory.NewStore(),
		fetcher: &mockFetcher{FetchFn: func(ctx context.Context, uri string) ([]byte, error) {
			return []byte("raw"), nil
		}},
		parser: &mockParser{},
	}
	h.coord = importer.NewCoordinator(h.store, nopPublisher{}, zerolog.Nop())
	h.handler = jobs.NewParseHandler(h.fetcher, h.parser, h.coord, zerolog.Nop())
	return h
}

func (h *harness) parsingJob(t *testing.T) *jobs.ParseStatementJob {
	t.Helper()
	ctx := context.Background()
	u, err := h.coord.StartUpload(ctx, user, "march.csv", "file:///tmp/march.csv")
	require.NoError(t, err)
	require.NoError(t, h.coord.BeginParsing(ctx, user, u.ID))
	return &jobs.ParseStatementJob{
		JobID:       "job-1",
		UploadID:    u.ID,
		UserID:      user,
		DocumentURI: u.DocumentURI,
		FileName:    u.OriginalFileName,
		MaxRetries:  2,
	}
}

func (h *harness) status(t *testing.T, uploadID string) domain.UploadDetail {
	t.Helper()
	d, err := h.coord.GetUpload(context.Background(), user, uploadID)
	require.NoError(t, err)
	return d
}

func line(desc string) domain.ParsedLine {
	return domain.ParsedLine{
		Date:                civil.Date{Year: 2024, Month: time.March, Day: 4},
		Description:         desc,
		Amount:              decimal.RequireFromString("-9.99"),
		Currency:            "GBP",
		SuggestedCategoryID: "dining",
	}
}

func TestParseHandler_AttachesResult(t *testing.T) {
	h := newHarness()
	job := h.parsingJob(t)

	h.parser.ParseFn = func(ctx context.Context, doc parsing.Document) (importer.ParserResult, error) {
		assert.Equal(t, "march.csv", doc.FileName)
		assert.Equal(t, []byte("raw"), doc.Data)
		return importer.ParserResult{Transactions: []domain.ParsedLine{line("Pret"), line("Costa")}}, nil
	}

	require.NoError(t, h.handler.Handle(context.Background(), job))

	d := h.status(t, job.UploadID)
	assert.Equal(t, domain.StatusPendingReview, d.Status)
	assert.Len(t, d.Transactions, 2)
}

func TestParseHandler_ParseFailureIsRecorded(t *testing.T) {
	h := newHarness()
	job := h.parsingJob(t)

	h.parser.ParseFn = func(ctx context.Context, doc parsing.Document) (importer.ParserResult, error) {
		return importer.ParserResult{}, &importer.ParseFailure{Reason: "password protected"}
	}

	require.NoError(t, h.handler.Handle(context.Background(), job))

	d := h.status(t, job.UploadID)
	assert.Equal(t, domain.StatusFailed, d.Status)
	assert.Equal(t, "password protected", d.ErrorMessage)
}

func TestParseHandler_TransientErrorIsRetried(t *testing.T) {
	h := newHarness()
	job := h.parsingJob(t)

	h.fetcher.FetchFn = func(ctx context.Context, uri string) ([]byte, error) {
		return nil, errors.New("connection reset")
	}

	err := h.handler.Handle(context.Background(), job)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection reset")
	assert.Equal(t, domain.StatusParsing, h.status(t, job.UploadID).Status)
}

func TestParseHandler_LastAttemptFailsUpload(t *testing.T) {
	h := newHarness()
	job := h.parsingJob(t)
	job.RetryCount = job.MaxRetries

	h.parser.ParseFn = func(ctx context.Context, doc parsing.Document) (importer.ParserResult, error) {
		return importer.ParserResult{}, errors.New("model unavailable")
	}

	err := h.handler.Handle(context.Background(), job)
	require.Error(t, err)

	d := h.status(t, job.UploadID)
	assert.Equal(t, domain.StatusFailed, d.Status)
	assert.Contains(t, d.ErrorMessage, "model unavailable")
	assert.Contains(t, d.ErrorMessage, "3 attempts")
}

func TestParseHandler_LateResultAfterCancelIsDiscarded(t *testing.T) {
	h := newHarness()
	job := h.parsingJob(t)

	h.parser.ParseFn = func(ctx context.Context, doc parsing.Document) (importer.ParserResult, error) {
		require.NoError(t, h.coord.Cancel(ctx, user, job.UploadID))
		return importer.ParserResult{Transactions: []domain.ParsedLine{line("Pret")}}, nil
	}

	require.NoError(t, h.handler.Handle(context.Background(), job))

	d := h.status(t, job.UploadID)
	assert.Equal(t, domain.StatusCancelled, d.Status)
	assert.Empty(t, d.Transactions)
}

func TestParseHandler_EmptyResultFailsUpload(t *testing.T) {
	h := newHarness()
	job := h.parsingJob(t)

	h.parser.ParseFn = func(ctx context.Context, doc parsing.Document) (importer.ParserResult, error) {
		return importer.ParserResult{}, nil
	}

	require.NoError(t, h.handler.Handle(context.Background(), job))

	d := h.status(t, job.UploadID)
	assert.Equal(t, domain.StatusFailed, d.Status)
	assert.Equal(t, domain.NoTransactionsFound, d.ErrorMessage)
}
