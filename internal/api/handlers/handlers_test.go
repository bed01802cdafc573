package handlers_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"cloud.google.com/go/civil"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dvloznov/statement-import/internal/api/handlers"
	"github.com/dvloznov/statement-import/internal/api/middleware"
	"github.com/dvloznov/statement-import/internal/domain"
	"github.com/dvloznov/statement-import/internal/gcsuploader"
	"github.com/dvloznov/statement-import/internal/importer"
	"github.com/dvloznov/statement-import/internal/importer/inmemory"
	jobsmem "github.com/dvloznov/statement-import/internal/jobs/inmemory"
	"github.com/dvloznov/statement-import/internal/parsing"
)

const alice = "alice"

type mockPublisher struct {
	PublishFn func(ctx context.Context, ev domain.StatementImportConfirmedEvent) error
}

func (m *mockPublisher) Publish(ctx context.Context, ev domain.StatementImportConfirmedEvent) error {
	if m.PublishFn == nil {
		return nil
	}
	return m.PublishFn(ctx, ev)
}

type server struct {
	coord    *importer.Coordinator
	events   *mockPublisher
	jobStore *jobsmem.Store
	queue    *jobsmem.Queue
	docs     *gcsuploader.LocalStore
	handler  http.Handler
}

func newServer(t *testing.T) *server {
	t.Helper()
	docs, err := gcsuploader.NewLocalStore(t.TempDir())
	require.NoError(t, err)

	s := &server{
		events:   &mockPublisher{},
		jobStore: jobsmem.NewStore(),
		docs:     docs,
	}
	s.coord = importer.NewCoordinator(inmemory.NewStore(), s.events, zerolog.Nop(),
		importer.WithCategoryCatalog(parsing.DefaultCategories))
	s.queue = jobsmem.NewQueue(jobsmem.QueueConfig{BufferSize: 10}, s.jobStore, zerolog.Nop())
	t.Cleanup(func() { _ = s.queue.Close() })

	registry := parsing.NewRegistry()
	registry.Register(parsing.NewCSVParser(parsing.NewCategorizer(parsing.DefaultCategories), "GBP"), "csv")

	mux := http.NewServeMux()
	handlers.NewUploadsHandler(s.coord, docs, s.queue, registry, zerolog.Nop()).Register(mux)
	handlers.NewJobsHandler(s.jobStore, zerolog.Nop()).Register(mux)
	handlers.NewCategoriesHandler(parsing.DefaultCategories, zerolog.Nop()).Register(mux)
	s.handler = middleware.Identity(mux)
	return s
}

func (s *server) do(t *testing.T, method, path, user string, body []byte, contentType string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	if user != "" {
		req.Header.Set(middleware.UserIDHeader, user)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	return rec
}

func (s *server) upload(t *testing.T, user, fileName, content string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", fileName)
	require.NoError(t, err)
	_, err = fw.Write([]byte(content))
	require.NoError(t, err)
	require.NoError(t, mw.Close())
	return s.do(t, http.MethodPost, "/api/uploads", user, buf.Bytes(), mw.FormDataContentType())
}

// pendingReview creates an upload owned by alice with two parsed lines.
func (s *server) pendingReview(t *testing.T) domain.UploadDetail {
	t.Helper()
	ctx := context.Background()
	u, err := s.coord.StartUpload(ctx, alice, "jan.csv", "file:///x")
	require.NoError(t, err)
	require.NoError(t, s.coord.BeginParsing(ctx, alice, u.ID))
	date := civil.Date{Year: 2024, Month: time.January, Day: 9}
	require.NoError(t, s.coord.AttachParsedTransactions(ctx, u.ID, importer.ParserResult{Transactions: []domain.ParsedLine{
		{Date: date, Description: "Tesco", Amount: decimal.RequireFromString("-20.00"), Currency: "GBP", SuggestedCategoryID: "groceries"},
		{Date: date, Description: "Salary", Amount: decimal.RequireFromString("1500.00"), Currency: "GBP", SuggestedCategoryID: "income"},
	}}))
	d, err := s.coord.GetUpload(ctx, alice, u.ID)
	require.NoError(t, err)
	return d
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func TestMissingUserIsUnauthorized(t *testing.T) {
	s := newServer(t)
	for _, path := range []string{"/api/uploads", "/api/uploads/x", "/api/jobs"} {
		rec := s.do(t, http.MethodGet, path, "", nil, "")
		assert.Equal(t, http.StatusUnauthorized, rec.Code, path)
	}
}

func TestCreateUpload(t *testing.T) {
	s := newServer(t)
	rec := s.upload(t, alice, "feb.csv", "date,description,amount\n2024-02-01,Rent,-900\n")
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())

	body := decode(t, rec)
	uploadID := body["upload_id"].(string)
	jobID := body["job_id"].(string)
	assert.Equal(t, "PARSING", body["status"])

	d, err := s.coord.GetUpload(context.Background(), alice, uploadID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusParsing, d.Status)
	assert.Equal(t, "feb.csv", d.FileName)

	job, err := s.jobStore.GetJob(context.Background(), jobID)
	require.NoError(t, err)
	assert.Equal(t, uploadID, job.UploadID)
	assert.Equal(t, alice, job.UserID)

	data, err := s.docs.Fetch(context.Background(), job.DocumentURI)
	require.NoError(t, err)
	assert.Contains(t, string(data), "Rent")

	rec = s.do(t, http.MethodGet, "/api/jobs/"+jobID, alice, nil, "")
	assert.Equal(t, http.StatusOK, rec.Code)
	rec = s.do(t, http.MethodGet, "/api/jobs/"+jobID, "bob", nil, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	rec = s.do(t, http.MethodGet, "/api/jobs?upload_id="+uploadID, alice, nil, "")
	assert.Equal(t, float64(1), decode(t, rec)["count"])
}

func TestCreateUpload_BadRequests(t *testing.T) {
	s := newServer(t)

	rec := s.upload(t, alice, "statement.xlsx", "x")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.upload(t, alice, "empty.csv", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(t, http.MethodPost, "/api/uploads", alice, []byte("not multipart"), "text/plain")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	list, err := s.coord.ListUploads(context.Background(), alice)
	require.NoError(t, err)
	assert.Empty(t, list, "rejected files must not create uploads")
}

func TestCreateUpload_QueueFailureFailsUpload(t *testing.T) {
	s := newServer(t)
	require.NoError(t, s.queue.Close())

	rec := s.upload(t, alice, "feb.csv", "date,description,amount\n2024-02-01,Rent,-900\n")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)

	list, err := s.coord.ListUploads(context.Background(), alice)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, domain.StatusFailed, list[0].Status)
}

func TestGetUpload_OtherUserIsNotFound(t *testing.T) {
	s := newServer(t)
	d := s.pendingReview(t)

	rec := s.do(t, http.MethodGet, "/api/uploads/"+d.ID, alice, nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "1480", decode(t, rec)["total"])

	rec = s.do(t, http.MethodGet, "/api/uploads/"+d.ID, "bob", nil, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = s.do(t, http.MethodGet, "/api/uploads", "bob", nil, "")
	assert.Equal(t, float64(0), decode(t, rec)["count"])
}

func TestReviewAndConfirm(t *testing.T) {
	s := newServer(t)
	d := s.pendingReview(t)
	tx := d.Transactions[0]
	categoryPath := "/api/uploads/" + d.ID + "/transactions/" + tx.ID + "/category"

	rec := s.do(t, http.MethodPut, categoryPath, alice, []byte(`{"category_id":"dining"}`), "application/json")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = s.do(t, http.MethodPut, categoryPath, alice, []byte(`{"category_id":"yachts"}`), "application/json")
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	rec = s.do(t, http.MethodPut, "/api/uploads/"+d.ID+"/transactions/nope/category", alice, []byte(`{"category_id":"dining"}`), "application/json")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = s.do(t, http.MethodPut, categoryPath, alice, []byte(`{`), "application/json")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	var published []domain.StatementImportConfirmedEvent
	s.events.PublishFn = func(ctx context.Context, ev domain.StatementImportConfirmedEvent) error {
		published = append(published, ev)
		return nil
	}

	rec = s.do(t, http.MethodPost, "/api/uploads/"+d.ID+"/confirm", alice, nil, "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.Len(t, published, 1)
	assert.Equal(t, domain.CategoryID("dining"), published[0].Transactions[0].CategoryID)

	rec = s.do(t, http.MethodPost, "/api/uploads/"+d.ID+"/confirm", alice, nil, "")
	assert.Equal(t, http.StatusConflict, rec.Code)
	rec = s.do(t, http.MethodPost, "/api/uploads/"+d.ID+"/cancel", alice, nil, "")
	assert.Equal(t, http.StatusConflict, rec.Code)
	rec = s.do(t, http.MethodPut, categoryPath, alice, []byte(`{"category_id":"dining"}`), "application/json")
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Len(t, published, 1)
}

func TestConfirm_DeliveryFailureIsAccepted(t *testing.T) {
	s := newServer(t)
	d := s.pendingReview(t)
	s.events.PublishFn = func(ctx context.Context, ev domain.StatementImportConfirmedEvent) error {
		return errors.New("broker down")
	}

	rec := s.do(t, http.MethodPost, "/api/uploads/"+d.ID+"/confirm", alice, nil, "")
	require.Equal(t, http.StatusAccepted, rec.Code)
	body := decode(t, rec)
	assert.Contains(t, body["warning"], "broker down")
	assert.NotNil(t, body["event"])

	after, err := s.coord.GetUpload(context.Background(), alice, d.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusConfirmed, after.Status)
}

func TestCancel(t *testing.T) {
	s := newServer(t)
	d := s.pendingReview(t)

	rec := s.do(t, http.MethodPost, "/api/uploads/"+d.ID+"/cancel", alice, nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "CANCELLED", decode(t, rec)["status"])

	rec = s.do(t, http.MethodPost, "/api/uploads/"+d.ID+"/confirm", alice, nil, "")
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestListCategories(t *testing.T) {
	s := newServer(t)
	rec := s.do(t, http.MethodGet, "/api/categories", "", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(len(parsing.DefaultCategories)), decode(t, rec)["count"])
}
