package handlers

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"io"
	"net/http"
	"net/url"
	"strings"

	gferrors "github.com/fulmenhq/gofulmen/errors"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/ingestkit/ingestkit/internal/config"
	"github.com/ingestkit/ingestkit/internal/core"
	apperrors "github.com/ingestkit/ingestkit/internal/errors"
	"github.com/ingestkit/ingestkit/internal/metrics"
	"github.com/ingestkit/ingestkit/internal/observability"
	"github.com/ingestkit/ingestkit/internal/scrape"
	"github.com/ingestkit/ingestkit/internal/session"
)

// maxFetchRequestBytes bounds the POST body accepted by CreateFetch.
const maxFetchRequestBytes = 1 << 20

// FetchStore is the persistence used by the fetch API.
type FetchStore interface {
	RecordFetch(ctx context.Context, rec *core.FetchRecord) error
	GetFetch(ctx context.Context, id string) (*core.FetchRecord, error)
	ListFetches(ctx context.Context, offset, limit int) ([]core.FetchRecord, error)
	CountFetches(ctx context.Context) (int, error)
	DeleteFetch(ctx context.Context, id string) (bool, error)
}

// FetchRequest is the body of POST /frontend-api/fetches.
type FetchRequest struct {
	URL               string            `json:"url"`
	Method            string            `json:"method,omitempty"`
	Params            map[string]string `json:"params,omitempty"`
	Headers           map[string]string `json:"headers,omitempty"`
	Data              map[string]string `json:"data,omitempty"`
	JSON              json.RawMessage   `json:"json,omitempty"`
	Extract           bool              `json:"extract,omitempty"`
	Robots            bool              `json:"robots,omitempty"`
	SkipTLSVerify     bool              `json:"skip_tls_verify,omitempty"`
	ExpectContentType string            `json:"expect_content_type,omitempty"`
}

// FetchResponse is returned by CreateFetch.
type FetchResponse struct {
	Record  core.FetchRecord `json:"record"`
	Article *scrape.Article  `json:"article,omitempty"`
}

// FetchAPI serves the fetch log and performs new fetches through the shared
// outbound session.
type FetchAPI struct {
	store      FetchStore
	client     scrape.Client
	robots     *scrape.RobotsCache
	pagination config.PaginationConfig
}

// NewFetchAPI wires the fetch endpoints. robots may be nil, in which case
// requests asking for robots.txt checks are rejected.
func NewFetchAPI(store FetchStore, client scrape.Client, robots *scrape.RobotsCache, pagination config.PaginationConfig) *FetchAPI {
	return &FetchAPI{
		store:      store,
		client:     client,
		robots:     robots,
		pagination: pagination,
	}
}

// ListFetches handles GET /frontend-api/fetches.
func (api *FetchAPI) ListFetches(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	page, err := ParsePage(r, api.pagination)
	if err != nil {
		respondWithError(w, r, apperrors.WrapValidationError(ctx, err, err.Error()))
		return
	}

	total, err := api.store.CountFetches(ctx)
	if err != nil {
		respondWithError(w, r, apperrors.WrapDatabaseError(ctx, err, "failed to count fetches"))
		return
	}

	items, err := api.store.ListFetches(ctx, page.Offset(), page.PerPage)
	if err != nil {
		respondWithError(w, r, apperrors.WrapDatabaseError(ctx, err, "failed to list fetches"))
		return
	}
	if items == nil {
		items = []core.FetchRecord{}
	}

	writeJSON(w, http.StatusOK, core.FetchPage{
		Items:   items,
		Total:   total,
		Page:    page.Page,
		PerPage: page.PerPage,
	})
}

// GetFetch handles GET /frontend-api/fetches/{id}.
func (api *FetchAPI) GetFetch(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := chi.URLParam(r, "id")

	rec, err := api.store.GetFetch(ctx, id)
	if err != nil {
		respondWithError(w, r, apperrors.WrapDatabaseError(ctx, err, "failed to load fetch"))
		return
	}
	if rec == nil {
		respondWithError(w, r, apperrors.NewNotFoundError("fetch "+id+" not found"))
		return
	}

	writeJSON(w, http.StatusOK, rec)
}

// DeleteFetch handles DELETE /frontend-api/fetches/{id}.
func (api *FetchAPI) DeleteFetch(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := chi.URLParam(r, "id")

	deleted, err := api.store.DeleteFetch(ctx, id)
	if err != nil {
		respondWithError(w, r, apperrors.WrapDatabaseError(ctx, err, "failed to delete fetch"))
		return
	}
	if !deleted {
		respondWithError(w, r, apperrors.NewNotFoundError("fetch "+id+" not found"))
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// CreateFetch handles POST /frontend-api/fetches: the target is fetched
// through the outbound session and the attempt is recorded whether or not
// it succeeded.
func (api *FetchAPI) CreateFetch(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var body FetchRequest
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxFetchRequestBytes))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&body); err != nil {
		if stderrors.Is(err, io.EOF) {
			respondWithError(w, r, apperrors.NewInvalidInputError("request body is required"))
			return
		}
		respondWithError(w, r, apperrors.WrapInvalidInput(ctx, err, "request body must be a JSON fetch request"))
		return
	}

	req, err := body.toScrapeRequest()
	if err != nil {
		respondWithError(w, r, apperrors.WrapValidationError(ctx, err, err.Error()))
		return
	}

	var robots *scrape.RobotsCache
	if body.Robots {
		if api.robots == nil {
			respondWithError(w, r, apperrors.NewValidationError("robots.txt checks are not available on this server"))
			return
		}
		robots = api.robots
	}

	result, fetchErr := scrape.NewFetcher(api.client, robots).Fetch(ctx, req)
	metrics.RecordOperation("fetch", fetchErr == nil)

	if err := api.store.RecordFetch(ctx, &result.Record); err != nil {
		respondWithError(w, r, apperrors.WrapDatabaseError(ctx, err, "failed to record fetch"))
		return
	}

	if fetchErr != nil {
		if logger := observability.ServerLogger; logger != nil {
			fields := append([]zap.Field{
				zap.String("fetch_id", result.Record.ID),
				zap.String("url", result.Record.URL),
				zap.Error(fetchErr),
			}, observability.ZapFields(ctx)...)
			logger.Warn("Fetch failed", fields...)
		}
		envelope := fetchEnvelope(ctx, fetchErr, result.Record.ID)
		metrics.RecordOperationError("fetch", strings.ToLower(envelope.Code))
		respondWithError(w, r, envelope)
		return
	}

	writeJSON(w, http.StatusCreated, FetchResponse{Record: result.Record, Article: result.Article})
}

func fetchEnvelope(ctx context.Context, err error, id string) *gferrors.ErrorEnvelope {
	if stderrors.Is(err, scrape.ErrDisallowed) {
		return apperrors.Wrap(ctx, "FORBIDDEN", err, err.Error())
	}
	envelope := apperrors.FromSessionError(ctx, err)
	if updated, updateErr := envelope.WithContext(map[string]interface{}{"fetch_id": id}); updateErr == nil {
		envelope = updated
	}
	return envelope
}

func (b FetchRequest) toScrapeRequest() (scrape.Request, error) {
	target := strings.TrimSpace(b.URL)
	if target == "" {
		return scrape.Request{}, stderrors.New("url is required")
	}
	parsed, err := url.Parse(target)
	if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") || parsed.Host == "" {
		return scrape.Request{}, stderrors.New("url must be an absolute http(s) URL")
	}

	method := strings.ToUpper(strings.TrimSpace(b.Method))
	if method == "" {
		method = http.MethodGet
	}
	if method != http.MethodGet && method != http.MethodPost {
		return scrape.Request{}, stderrors.New("method must be GET or POST")
	}

	req := scrape.Request{
		Method:            method,
		URL:               target,
		Extract:           b.Extract,
		SkipTLSVerify:     b.SkipTLSVerify,
		ExpectContentType: strings.TrimSpace(b.ExpectContentType),
	}

	if len(b.Params) > 0 {
		req.Params = url.Values{}
		for key, value := range b.Params {
			req.Params.Set(key, value)
		}
	}
	if len(b.Headers) > 0 {
		req.Headers = http.Header{}
		for key, value := range b.Headers {
			req.Headers.Set(key, value)
		}
	}

	if method == http.MethodPost {
		switch {
		case len(b.JSON) > 0:
			req.Body = session.PostBody{JSON: b.JSON}
		case len(b.Data) > 0:
			form := url.Values{}
			for key, value := range b.Data {
				form.Set(key, value)
			}
			req.Body = session.PostBody{Data: form}
		}
	}

	return req, nil
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
