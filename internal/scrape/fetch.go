// Package scrape builds fetch log entries on top of the outbound session:
// single fetches, robots.txt policies and readable article extraction.
package scrape

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ingestkit/ingestkit/internal/core"
	"github.com/ingestkit/ingestkit/internal/session"
)

// Client is the subset of *session.Session used for fetching.
type Client interface {
	Get(ctx context.Context, rawURL string, params url.Values, headers http.Header, opts ...session.RequestOption) (*session.Response, error)
	Post(ctx context.Context, rawURL string, body session.PostBody, headers http.Header, opts ...session.RequestOption) (*session.Response, error)
}

// ErrDisallowed is returned when robots.txt forbids the target.
var ErrDisallowed = errors.New("disallowed by robots.txt")

// excerptLimit caps the stored excerpt when readability provides none.
const excerptLimit = 280

// Request describes one fetch.
type Request struct {
	Method  string
	URL     string
	Params  url.Values
	Headers http.Header
	Body    session.PostBody

	// Extract runs readability over HTML responses and stores title and excerpt.
	Extract bool
	// SkipTLSVerify disables certificate verification for this fetch.
	SkipTLSVerify bool
	// ExpectContentType retries until the response carries this media type.
	ExpectContentType string
}

// Result is the outcome of a fetch. Record is always populated, Response and
// Article only on success.
type Result struct {
	Record   core.FetchRecord
	Response *session.Response
	Article  *Article
}

// Fetcher performs fetches through a Client, optionally consulting robots.txt.
type Fetcher struct {
	client Client
	robots *RobotsCache
}

// NewFetcher returns a Fetcher. robots may be nil to skip robots.txt checks.
func NewFetcher(client Client, robots *RobotsCache) *Fetcher {
	return &Fetcher{client: client, robots: robots}
}

// Fetch performs req. Failures are reported both as the returned error and in
// Result.Record.Error so callers can log the attempt either way.
func (f *Fetcher) Fetch(ctx context.Context, req Request) (*Result, error) {
	method := strings.ToUpper(strings.TrimSpace(req.Method))
	if method == "" {
		method = http.MethodGet
	}

	result := &Result{Record: core.FetchRecord{
		Method:    method,
		URL:       strings.TrimSpace(req.URL),
		FetchedAt: time.Now().UTC(),
	}}

	if result.Record.URL == "" {
		return result, fail(result, errors.New("url is required"))
	}

	if f.robots != nil {
		allowed, err := f.robots.Allowed(ctx, result.Record.URL)
		if err != nil {
			return result, fail(result, err)
		}
		if !allowed {
			return result, fail(result, fmt.Errorf("%s: %w", result.Record.URL, ErrDisallowed))
		}
		if err := f.robots.AwaitCrawlDelay(ctx, result.Record.URL); err != nil {
			return result, fail(result, err)
		}
	}

	var opts []session.RequestOption
	if req.SkipTLSVerify {
		opts = append(opts, session.WithSkipTLSVerify())
	}
	if req.ExpectContentType != "" {
		opts = append(opts, session.ExpectContentType(req.ExpectContentType))
	}

	started := time.Now()
	var (
		resp *session.Response
		err  error
	)
	switch method {
	case http.MethodGet:
		resp, err = f.client.Get(ctx, result.Record.URL, req.Params, req.Headers, opts...)
	case http.MethodPost:
		resp, err = f.client.Post(ctx, result.Record.URL, req.Body, req.Headers, opts...)
	default:
		err = fmt.Errorf("unsupported method %q", method)
	}
	result.Record.DurationMS = time.Since(started).Milliseconds()
	if err != nil {
		return result, fail(result, err)
	}

	result.Response = resp
	result.Record.Status = resp.Status
	result.Record.BodyBytes = len(resp.Body)
	result.Record.ContentType = resp.Header.Get("Content-Type")
	if resp.URL != nil {
		result.Record.FinalURL = resp.URL.String()
	}

	if req.Extract && IsHTML(resp) {
		article, err := ExtractArticle(resp)
		if err != nil {
			return result, fail(result, err)
		}
		result.Article = article
		result.Record.Title = article.Title
		result.Record.Excerpt = article.Excerpt
		if result.Record.Excerpt == "" {
			result.Record.Excerpt = truncate(article.Text, excerptLimit)
		}
	}

	return result, nil
}

func fail(result *Result, err error) error {
	result.Record.Error = err.Error()
	return err
}

func truncate(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return strings.TrimSpace(string(runes[:limit])) + "…"
}
