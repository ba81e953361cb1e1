package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/fulmenhq/gofulmen/telemetry"
	telemetrytesting "github.com/fulmenhq/gofulmen/telemetry/testing"
	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ingestkit/ingestkit/internal/config"
	"github.com/ingestkit/ingestkit/internal/core"
	apperrors "github.com/ingestkit/ingestkit/internal/errors"
	"github.com/ingestkit/ingestkit/internal/metrics"
	"github.com/ingestkit/ingestkit/internal/observability"
	"github.com/ingestkit/ingestkit/internal/scrape"
	"github.com/ingestkit/ingestkit/internal/session"
)

type memoryStore struct {
	mu      sync.Mutex
	records map[string]core.FetchRecord
	seq     int
	err     error
}

func newMemoryStore() *memoryStore {
	return &memoryStore{records: make(map[string]core.FetchRecord)}
}

func (m *memoryStore) RecordFetch(ctx context.Context, rec *core.FetchRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.seq++
	if rec.ID == "" {
		rec.ID = "fetch-" + string(rune('a'+m.seq-1))
	}
	if rec.FetchedAt.IsZero() {
		rec.FetchedAt = time.Now().UTC()
	}
	m.records[rec.ID] = *rec
	return nil
}

func (m *memoryStore) GetFetch(ctx context.Context, id string) (*core.FetchRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	rec, ok := m.records[id]
	if !ok {
		return nil, nil
	}
	return &rec, nil
}

func (m *memoryStore) ListFetches(ctx context.Context, offset, limit int) ([]core.FetchRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	all := make([]core.FetchRecord, 0, len(m.records))
	for _, rec := range m.records {
		all = append(all, rec)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].ID < all[j].ID })
	if offset >= len(all) {
		return nil, nil
	}
	end := min(offset+limit, len(all))
	return all[offset:end], nil
}

func (m *memoryStore) CountFetches(ctx context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return 0, m.err
	}
	return len(m.records), nil
}

func (m *memoryStore) DeleteFetch(ctx context.Context, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return false, m.err
	}
	_, ok := m.records[id]
	delete(m.records, id)
	return ok, nil
}

func testPagination() config.PaginationConfig {
	return config.PaginationConfig{
		MinPage:        1,
		MaxPage:        1000,
		DefaultPage:    1,
		MinPerPage:     1,
		MaxPerPage:     30,
		DefaultPerPage: 10,
	}
}

func newTestSession(t *testing.T) *session.Session {
	t.Helper()

	s, err := session.New(session.Config{
		RateLimit: 100,
		Period:    time.Second,
		Timeout:   5 * time.Second,
		Retry:     session.RetryPolicy{Times: 2, BackoffSleep: time.Millisecond},
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func fetchRouter(api *FetchAPI) http.Handler {
	r := chi.NewRouter()
	r.Get("/frontend-api/fetches", api.ListFetches)
	r.Post("/frontend-api/fetches", api.CreateFetch)
	r.Get("/frontend-api/fetches/{id}", api.GetFetch)
	r.Delete("/frontend-api/fetches/{id}", api.DeleteFetch)
	return r
}

func serve(t *testing.T, handler http.Handler, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()

	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()

	var body apperrors.HTTPErrorResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	return body.Error.Code
}

func TestCreateFetchRecordsSuccess(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "7", r.URL.Query().Get("page"))
		assert.Equal(t, "yes", r.Header.Get("X-Trace"))
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte(`<html><head><title>Listing</title></head><body><article><p>` +
			strings.Repeat("Plenty of readable listing text for extraction. ", 20) +
			`</p></article></body></html>`))
	}))
	defer upstream.Close()

	store := newMemoryStore()
	router := fetchRouter(NewFetchAPI(store, newTestSession(t), nil, testPagination()))

	rec := serve(t, router, http.MethodPost, "/frontend-api/fetches",
		`{"url":"`+upstream.URL+`/list","params":{"page":"7"},"headers":{"X-Trace":"yes"},"extract":true}`)
	require.Equal(t, http.StatusCreated, rec.Code)

	var resp FetchResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.NotEmpty(t, resp.Record.ID)
	assert.Equal(t, http.StatusOK, resp.Record.Status)
	assert.Equal(t, "Listing", resp.Record.Title)
	require.NotNil(t, resp.Article)

	stored, err := store.GetFetch(context.Background(), resp.Record.ID)
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, upstream.URL+"/list", stored.URL)
}

func TestCreateFetchRecordsUpstreamFailure(t *testing.T) {
	store := newMemoryStore()
	s := newTestSession(t)
	require.NoError(t, s.Close())

	router := fetchRouter(NewFetchAPI(store, s, nil, testPagination()))

	rec := serve(t, router, http.MethodPost, "/frontend-api/fetches", `{"url":"http://127.0.0.1:1/"}`)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "SERVICE_UNAVAILABLE", errorCode(t, rec))

	count, err := store.CountFetches(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, count, "failed fetches are still logged")
}

func TestCreateFetchRejectsRobotsDisallowedTarget(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("User-agent: *\nDisallow: /\n"))
	}))
	defer upstream.Close()

	s := newTestSession(t)
	router := fetchRouter(NewFetchAPI(newMemoryStore(), s, scrape.NewRobotsCache(s, "bot"), testPagination()))

	rec := serve(t, router, http.MethodPost, "/frontend-api/fetches", `{"url":"`+upstream.URL+`/page","robots":true}`)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "FORBIDDEN", errorCode(t, rec))
}

func installCollector(t *testing.T) *telemetrytesting.FakeCollector {
	t.Helper()

	collector := telemetrytesting.NewFakeCollector()
	sys, err := telemetry.NewSystem(&telemetry.Config{Enabled: true, Emitter: collector})
	require.NoError(t, err)
	original := observability.TelemetrySystem
	observability.TelemetrySystem = sys
	t.Cleanup(func() { observability.TelemetrySystem = original })
	return collector
}

func TestCreateFetchCountsFailuresByErrorCode(t *testing.T) {
	collector := installCollector(t)

	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("User-agent: *\nDisallow: /\n"))
	}))
	defer upstream.Close()

	s := newTestSession(t)
	router := fetchRouter(NewFetchAPI(newMemoryStore(), s, scrape.NewRobotsCache(s, "bot"), testPagination()))

	rec := serve(t, router, http.MethodPost, "/frontend-api/fetches", `{"url":"`+upstream.URL+`/page","robots":true}`)
	require.Equal(t, http.StatusForbidden, rec.Code)

	recorded := collector.GetMetricsByName(metrics.OperationsErrorsTotal)
	require.Len(t, recorded, 1)
	assert.Equal(t, "fetch", recorded[0].Tags["operation"])
	assert.Equal(t, "forbidden", recorded[0].Tags["error_type"])

	ops := collector.GetMetricsByName(metrics.OperationsTotal)
	require.Len(t, ops, 1)
	assert.Equal(t, "failure", ops[0].Tags["status"])
}

func TestCreateFetchRejectsEmptyBody(t *testing.T) {
	router := fetchRouter(NewFetchAPI(newMemoryStore(), newTestSession(t), nil, testPagination()))

	req := httptest.NewRequest(http.MethodPost, "/frontend-api/fetches", http.NoBody)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	var body apperrors.HTTPErrorResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Equal(t, "INVALID_INPUT", body.Error.Code)
	assert.Equal(t, "request body is required", body.Error.Message)
}

func TestCreateFetchValidatesBody(t *testing.T) {
	router := fetchRouter(NewFetchAPI(newMemoryStore(), newTestSession(t), nil, testPagination()))

	for _, tc := range []struct {
		name string
		body string
		code string
	}{
		{name: "NotJSON", body: `url=x`, code: "INVALID_INPUT"},
		{name: "UnknownField", body: `{"url":"http://a.example","bogus":1}`, code: "INVALID_INPUT"},
		{name: "MissingURL", body: `{"method":"GET"}`, code: "VALIDATION_FAILED"},
		{name: "RelativeURL", body: `{"url":"/relative"}`, code: "VALIDATION_FAILED"},
		{name: "UnsupportedMethod", body: `{"url":"http://a.example","method":"DELETE"}`, code: "VALIDATION_FAILED"},
		{name: "RobotsUnavailable", body: `{"url":"http://a.example","robots":true}`, code: "VALIDATION_FAILED"},
	} {
		t.Run(tc.name, func(t *testing.T) {
			rec := serve(t, router, http.MethodPost, "/frontend-api/fetches", tc.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Equal(t, tc.code, errorCode(t, rec))
		})
	}
}

func TestListFetchesPaginates(t *testing.T) {
	store := newMemoryStore()
	for i := 0; i < 3; i++ {
		require.NoError(t, store.RecordFetch(context.Background(), &core.FetchRecord{URL: "http://a.example", Status: 200}))
	}
	router := fetchRouter(NewFetchAPI(store, newTestSession(t), nil, testPagination()))

	rec := serve(t, router, http.MethodGet, "/frontend-api/fetches?page=2&per_page=2", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var page core.FetchPage
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&page))
	assert.Equal(t, 3, page.Total)
	assert.Equal(t, 2, page.Page)
	assert.Equal(t, 2, page.PerPage)
	require.Len(t, page.Items, 1)
	assert.Equal(t, "fetch-c", page.Items[0].ID)

	rec = serve(t, router, http.MethodGet, "/frontend-api/fetches?page=9", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&page))
	assert.NotNil(t, page.Items)
	assert.Empty(t, page.Items)
}

func TestListFetchesRejectsBadPagination(t *testing.T) {
	router := fetchRouter(NewFetchAPI(newMemoryStore(), newTestSession(t), nil, testPagination()))

	rec := serve(t, router, http.MethodGet, "/frontend-api/fetches?per_page=31", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "VALIDATION_FAILED", errorCode(t, rec))
}

func TestListFetchesReportsStoreFailure(t *testing.T) {
	store := newMemoryStore()
	store.err = errors.New("disk full")
	router := fetchRouter(NewFetchAPI(store, newTestSession(t), nil, testPagination()))

	rec := serve(t, router, http.MethodGet, "/frontend-api/fetches", "")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "DATABASE_ERROR", errorCode(t, rec))
}

func TestGetAndDeleteFetch(t *testing.T) {
	store := newMemoryStore()
	rec := &core.FetchRecord{URL: "http://a.example", Status: 404}
	require.NoError(t, store.RecordFetch(context.Background(), rec))
	router := fetchRouter(NewFetchAPI(store, newTestSession(t), nil, testPagination()))

	resp := serve(t, router, http.MethodGet, "/frontend-api/fetches/"+rec.ID, "")
	require.Equal(t, http.StatusOK, resp.Code)
	var got core.FetchRecord
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&got))
	assert.Equal(t, 404, got.Status)

	resp = serve(t, router, http.MethodDelete, "/frontend-api/fetches/"+rec.ID, "")
	assert.Equal(t, http.StatusNoContent, resp.Code)

	resp = serve(t, router, http.MethodGet, "/frontend-api/fetches/"+rec.ID, "")
	assert.Equal(t, http.StatusNotFound, resp.Code)

	resp = serve(t, router, http.MethodDelete, "/frontend-api/fetches/"+rec.ID, "")
	assert.Equal(t, http.StatusNotFound, resp.Code)
}

func TestParsePage(t *testing.T) {
	cfg := testPagination()

	page, err := ParsePage(httptest.NewRequest(http.MethodGet, "/x", nil), cfg)
	require.NoError(t, err)
	assert.Equal(t, core.Page{Page: 1, PerPage: 10}, page)
	assert.Equal(t, 0, page.Offset())

	page, err = ParsePage(httptest.NewRequest(http.MethodGet, "/x?page=3&per_page=30", nil), cfg)
	require.NoError(t, err)
	assert.Equal(t, 60, page.Offset())

	for _, query := range []string{"page=0", "page=1001", "page=abc", "per_page=0", "per_page=31"} {
		_, err := ParsePage(httptest.NewRequest(http.MethodGet, "/x?"+query, nil), cfg)
		assert.Error(t, err, query)
	}
}

func TestCheckers(t *testing.T) {
	s := newTestSession(t)
	require.NoError(t, SessionChecker{Session: s}.CheckHealth(context.Background()))
	require.NoError(t, s.Close())
	require.Error(t, SessionChecker{Session: s}.CheckHealth(context.Background()))
	require.Error(t, SessionChecker{}.CheckHealth(context.Background()))

	require.Error(t, StoreChecker{}.CheckHealth(context.Background()))
	require.NoError(t, StoreChecker{DB: pingFunc(func(context.Context) error { return nil })}.CheckHealth(context.Background()))
}

type pingFunc func(context.Context) error

func (f pingFunc) PingContext(ctx context.Context) error { return f(ctx) }

func TestCheckHandlerReturnsEmptyObject(t *testing.T) {
	rec := httptest.NewRecorder()
	CheckHandler(rec, httptest.NewRequest(http.MethodGet, "/check/health", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{}`, rec.Body.String())
}
