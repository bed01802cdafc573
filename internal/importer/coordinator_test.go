package importer_test

import (
	"bytes"
	"context"
	"errors"
	"sync"
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
)

const user = "user-1"

type mockPublisher struct {
	mu        sync.Mutex
	events    []domain.StatementImportConfirmedEvent
	PublishFn func(ctx context.Context, ev domain.StatementImportConfirmedEvent) error
}

func (m *mockPublisher) Publish(ctx context.Context, ev domain.StatementImportConfirmedEvent) error {
	if m.PublishFn != nil {
		if err := m.PublishFn(ctx, ev); err != nil {
			return err
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, ev)
	return nil
}

func (m *mockPublisher) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.events)
}

type mockCatalog struct {
	HasCategoryFn func(ctx context.Context, id domain.CategoryID) (bool, error)
}

func (m *mockCatalog) HasCategory(ctx context.Context, id domain.CategoryID) (bool, error) {
	return m.HasCategoryFn(ctx, id)
}

type fixture struct {
	coord *importer.Coordinator
	store *inmemory.Store
	pub   *mockPublisher
	logs  *bytes.Buffer
}

func newFixture(opts ...importer.Option) *fixture {
	f := &fixture{
		store: inmemory.NewStore(),
		pub:   &mockPublisher{},
		logs:  &bytes.Buffer{},
	}
	log := zerolog.New(f.logs)
	f.coord = importer.NewCoordinator(f.store, f.pub, log, opts...)
	return f
}

func parsedLine(desc, amount, category string) domain.ParsedLine {
	return domain.ParsedLine{
		Date:                civil.Date{Year: 2024, Month: time.May, Day: 3},
		Description:         desc,
		Amount:              decimal.RequireFromString(amount),
		Currency:            "EUR",
		SuggestedCategoryID: domain.CategoryID(category),
	}
}

// pending drives a new upload to PendingReview with the given lines.
func (f *fixture) pending(t *testing.T, lines ...domain.ParsedLine) *domain.StatementUpload {
	t.Helper()
	ctx := context.Background()
	u, err := f.coord.StartUpload(ctx, user, "may.csv", "")
	require.NoError(t, err)
	require.NoError(t, f.coord.BeginParsing(ctx, user, u.ID))
	require.NoError(t, f.coord.AttachParsedTransactions(ctx, u.ID, importer.ParserResult{Transactions: lines}))

	stored, err := f.store.GetByID(ctx, u.ID, user)
	require.NoError(t, err)
	require.Equal(t, domain.StatusPendingReview, stored.Status)
	return stored
}

// uploadIn drives a new upload to status s.
func (f *fixture) uploadIn(t *testing.T, s domain.Status) string {
	t.Helper()
	ctx := context.Background()
	switch s {
	case domain.StatusPendingReview:
		return f.pending(t, parsedLine("Lidl", "-9.99", "groceries")).ID
	case domain.StatusConfirmed:
		id := f.pending(t, parsedLine("Lidl", "-9.99", "groceries")).ID
		_, err := f.coord.Confirm(ctx, user, id)
		require.NoError(t, err)
		return id
	}

	u, err := f.coord.StartUpload(ctx, user, "may.csv", "")
	require.NoError(t, err)
	switch s {
	case domain.StatusParsing:
		require.NoError(t, f.coord.BeginParsing(ctx, user, u.ID))
	case domain.StatusFailed:
		require.NoError(t, f.coord.BeginParsing(ctx, user, u.ID))
		require.NoError(t, f.coord.ReportParseFailure(ctx, u.ID, "unreadable"))
	case domain.StatusCancelled:
		require.NoError(t, f.coord.Cancel(ctx, user, u.ID))
	}
	return u.ID
}

func TestCoordinator_StartUpload(t *testing.T) {
	f := newFixture()
	u, err := f.coord.StartUpload(context.Background(), user, "may.csv", "gs://b/o")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusUploading, u.Status)
	assert.Equal(t, int64(1), u.Version)
	assert.Contains(t, f.logs.String(), "Upload started")

	_, err = f.coord.StartUpload(context.Background(), "", "may.csv", "")
	assert.Error(t, err)
}

func TestCoordinator_BeginParsing_NotFoundForOtherUser(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	u, err := f.coord.StartUpload(ctx, user, "may.csv", "")
	require.NoError(t, err)

	err = f.coord.BeginParsing(ctx, "intruder", u.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	require.NoError(t, f.coord.BeginParsing(ctx, user, u.ID))
	err = f.coord.BeginParsing(ctx, user, u.ID)
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)
}

func TestCoordinator_ConfirmWithOverrides(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	u := f.pending(t,
		parsedLine("Lidl", "-9.99", "groceries"),
		parsedLine("Cafe Central", "-14.50", "groceries"),
		parsedLine("Deutsche Bahn", "-79.90", "misc"),
	)

	require.NoError(t, f.coord.SetConfirmedCategory(ctx, user, u.ID, u.Transactions[1].ID, "dining"))
	require.NoError(t, f.coord.SetConfirmedCategory(ctx, user, u.ID, u.Transactions[2].ID, "travel"))

	ev, err := f.coord.Confirm(ctx, user, u.ID)
	require.NoError(t, err)
	require.Equal(t, 1, f.pub.count())

	published := f.pub.events[0]
	assert.Equal(t, u.ID, published.StatementUploadID)
	assert.Equal(t, user, published.UserID)
	require.Len(t, published.Transactions, 3)
	assert.Equal(t, domain.CategoryID("groceries"), published.Transactions[0].CategoryID)
	assert.Equal(t, domain.CategoryID("dining"), published.Transactions[1].CategoryID)
	assert.Equal(t, domain.CategoryID("travel"), published.Transactions[2].CategoryID)
	assert.True(t, decimal.RequireFromString("-104.39").Equal(published.Total()))
	assert.Equal(t, ev.StatementUploadID, published.StatementUploadID)

	stored, err := f.store.GetByID(ctx, u.ID, user)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusConfirmed, stored.Status)
	assert.True(t, stored.TotalAmount().Equal(published.Total()))
}

func TestCoordinator_ConfirmTwice(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	u := f.pending(t, parsedLine("Lidl", "-9.99", "groceries"))

	_, err := f.coord.Confirm(ctx, user, u.ID)
	require.NoError(t, err)

	ev, err := f.coord.Confirm(ctx, user, u.ID)
	assert.Nil(t, ev)
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)
	assert.Equal(t, 1, f.pub.count())
}

func TestCoordinator_ConfirmOnlyFromPendingReview(t *testing.T) {
	for _, s := range domain.AllStatuses {
		if s == domain.StatusPendingReview {
			continue
		}
		t.Run(string(s), func(t *testing.T) {
			f := newFixture()
			ctx := context.Background()
			id := f.uploadIn(t, s)
			published := f.pub.count()
			before, err := f.store.GetByID(ctx, id, user)
			require.NoError(t, err)

			_, err = f.coord.Confirm(ctx, user, id)
			assert.ErrorIs(t, err, domain.ErrInvalidTransition)
			assert.Equal(t, published, f.pub.count())

			after, err := f.store.GetByID(ctx, id, user)
			require.NoError(t, err)
			assert.Equal(t, before, after)
		})
	}
}

func TestCoordinator_SetConfirmedCategoryOutsideReview(t *testing.T) {
	for _, s := range domain.AllStatuses {
		if s == domain.StatusPendingReview {
			continue
		}
		t.Run(string(s), func(t *testing.T) {
			f := newFixture()
			ctx := context.Background()
			id := f.uploadIn(t, s)
			before, err := f.store.GetByID(ctx, id, user)
			require.NoError(t, err)

			txID := "none"
			if len(before.Transactions) > 0 {
				txID = before.Transactions[0].ID
			}
			err = f.coord.SetConfirmedCategory(ctx, user, id, txID, "dining")
			assert.ErrorIs(t, err, domain.ErrInvalidTransactionState)

			after, err := f.store.GetByID(ctx, id, user)
			require.NoError(t, err)
			assert.Equal(t, before, after)
		})
	}
}

func TestCoordinator_SetConfirmedCategoryUnknownTransaction(t *testing.T) {
	f := newFixture()
	u := f.pending(t, parsedLine("Lidl", "-9.99", "groceries"))

	err := f.coord.SetConfirmedCategory(context.Background(), user, u.ID, "missing", "dining")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestCoordinator_CategoryCatalog(t *testing.T) {
	catalog := &mockCatalog{HasCategoryFn: func(ctx context.Context, id domain.CategoryID) (bool, error) {
		return id == "dining", nil
	}}
	f := newFixture(importer.WithCategoryCatalog(catalog))
	ctx := context.Background()
	u := f.pending(t, parsedLine("Lidl", "-9.99", "groceries"))
	txID := u.Transactions[0].ID

	err := f.coord.SetConfirmedCategory(ctx, user, u.ID, txID, "bogus")
	assert.ErrorIs(t, err, domain.ErrUnknownCategory)

	require.NoError(t, f.coord.SetConfirmedCategory(ctx, user, u.ID, txID, "dining"))

	catalog.HasCategoryFn = func(ctx context.Context, id domain.CategoryID) (bool, error) {
		return false, errors.New("catalog down")
	}
	err = f.coord.SetConfirmedCategory(ctx, user, u.ID, txID, "dining")
	require.Error(t, err)
	assert.NotErrorIs(t, err, domain.ErrUnknownCategory)
}

func TestCoordinator_EmptyParseFails(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	id := f.uploadIn(t, domain.StatusParsing)

	require.NoError(t, f.coord.AttachParsedTransactions(ctx, id, importer.ParserResult{}))

	detail, err := f.coord.GetUpload(ctx, user, id)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusFailed, detail.Status)
	assert.Equal(t, "no transactions found", detail.ErrorMessage)
	assert.Zero(t, f.pub.count())
}

func TestCoordinator_LateParserResultAfterCancel(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	id := f.uploadIn(t, domain.StatusParsing)
	require.NoError(t, f.coord.Cancel(ctx, user, id))

	err := f.coord.AttachParsedTransactions(ctx, id, importer.ParserResult{
		Transactions: []domain.ParsedLine{parsedLine("Lidl", "-9.99", "groceries")},
	})
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)

	detail, err := f.coord.GetUpload(ctx, user, id)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCancelled, detail.Status)
	assert.Empty(t, detail.Transactions)
}

func TestCoordinator_CancelDuringReview(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	id := f.pending(t, parsedLine("Lidl", "-9.99", "groceries"), parsedLine("Pret", "-4.10", "dining")).ID

	require.NoError(t, f.coord.Cancel(ctx, user, id))

	detail, err := f.coord.GetUpload(ctx, user, id)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCancelled, detail.Status)
	assert.Empty(t, detail.Transactions)
	assert.Zero(t, detail.TransactionCount)
	assert.Zero(t, f.pub.count())
}

func TestCoordinator_TerminalStatesRejectCancelAndFail(t *testing.T) {
	for _, s := range []domain.Status{domain.StatusConfirmed, domain.StatusFailed, domain.StatusCancelled} {
		t.Run(string(s), func(t *testing.T) {
			f := newFixture()
			ctx := context.Background()
			id := f.uploadIn(t, s)

			assert.ErrorIs(t, f.coord.Cancel(ctx, user, id), domain.ErrInvalidTransition)
			assert.ErrorIs(t, f.coord.Fail(ctx, user, id, "x"), domain.ErrInvalidTransition)
			assert.ErrorIs(t, f.coord.BeginParsing(ctx, user, id), domain.ErrInvalidTransition)
			assert.ErrorIs(t, f.coord.ReportParseFailure(ctx, id, "x"), domain.ErrInvalidTransition)
		})
	}
}

func TestCoordinator_Fail(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	id := f.uploadIn(t, domain.StatusParsing)

	require.NoError(t, f.coord.Fail(ctx, user, id, "document storage unavailable"))
	detail, err := f.coord.GetUpload(ctx, user, id)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusFailed, detail.Status)
	assert.Equal(t, "document storage unavailable", detail.ErrorMessage)
}

func TestCoordinator_EventDeliveryFailureKeepsConfirmed(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	u := f.pending(t, parsedLine("Lidl", "-9.99", "groceries"))
	f.pub.PublishFn = func(ctx context.Context, ev domain.StatementImportConfirmedEvent) error {
		return errors.New("broker unavailable")
	}

	ev, err := f.coord.Confirm(ctx, user, u.ID)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrEventDeliveryFailed)
	var de *domain.EventDeliveryError
	require.ErrorAs(t, err, &de)
	assert.Equal(t, u.ID, de.UploadID)
	require.NotNil(t, ev)

	stored, err := f.store.GetByID(ctx, u.ID, user)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusConfirmed, stored.Status)
	assert.Contains(t, f.logs.String(), "delivery failed")
}

func TestCoordinator_ConcurrentSetConfirmedCategory(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	u := f.pending(t, parsedLine("Lidl", "-9.99", "groceries"))
	txID := u.Transactions[0].ID

	// Both callers load the same version before either saves.
	gate := &gatedStore{Store: f.store, loaded: make(chan struct{}, 2), release: make(chan struct{})}
	coord := importer.NewCoordinator(gate, f.pub, zerolog.Nop())

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i, cat := range []domain.CategoryID{"dining", "travel"} {
		wg.Add(1)
		go func(i int, cat domain.CategoryID) {
			defer wg.Done()
			errs[i] = coord.SetConfirmedCategory(ctx, user, u.ID, txID, cat)
		}(i, cat)
	}
	<-gate.loaded
	<-gate.loaded
	close(gate.release)
	wg.Wait()

	var ok, conflicts int
	for _, err := range errs {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, domain.ErrConcurrentModification):
			conflicts++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, 1, conflicts)
}

func TestCoordinator_ListUploads(t *testing.T) {
	f := newFixture()
	f.uploadIn(t, domain.StatusParsing)
	f.uploadIn(t, domain.StatusPendingReview)
	_, err := f.coord.StartUpload(context.Background(), "someone-else", "x.csv", "")
	require.NoError(t, err)

	list, err := f.coord.ListUploads(context.Background(), user)
	require.NoError(t, err)
	assert.Len(t, list, 2)
}

// gatedStore holds every GetByID until release is closed.
type gatedStore struct {
	*inmemory.Store
	loaded  chan struct{}
	release chan struct{}
}

func (g *gatedStore) GetByID(ctx context.Context, uploadID, userID string) (*domain.StatementUpload, error) {
	u, err := g.Store.GetByID(ctx, uploadID, userID)
	g.loaded <- struct{}{}
	<-g.release
	return u, err
}
