// Package session implements the outbound HTTP session used for scraping and
// ingestion: a single connection pool shared by concurrent callers, gated by
// a sliding-window throttler and wrapped in a bounded linear-backoff retry.
package session

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"sync/atomic"
	"time"

	"github.com/fulmenhq/gofulmen/logging"
	"go.uber.org/zap"
	"golang.org/x/net/publicsuffix"

	"github.com/ingestkit/ingestkit/internal/metrics"
)

const (
	// DefaultRateLimit is the number of request starts admitted per period.
	DefaultRateLimit = 3
	// DefaultPeriod is the throttle window.
	DefaultPeriod = time.Second
	// DefaultTimeout bounds a single attempt.
	DefaultTimeout = 30 * time.Second
	// DefaultUserAgent mimics a desktop browser.
	DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) " +
		"AppleWebKit/537.36 (KHTML, like Gecko) " +
		"Chrome/96.0.4664.45 Safari/537.36"
)

// Config holds the construction parameters of a Session.
type Config struct {
	// Proxy is an optional forward proxy URL. When empty the proxy is taken
	// from the environment (HTTP_PROXY, HTTPS_PROXY, NO_PROXY).
	Proxy     string
	UserAgent string
	RateLimit int
	Period    time.Duration
	Timeout   time.Duration
	Retry     RetryPolicy
}

// Session issues throttled, retried HTTP requests over one connection pool.
type Session struct {
	proxy     *url.URL
	headers   http.Header
	throttler *Throttler
	retry     RetryPolicy
	client    *http.Client
	insecure  *http.Client
	transport *http.Transport
	logger    *logging.Logger
	closed    atomic.Bool
}

// Option customizes a Session.
type Option func(*Session)

// WithLogger attaches a logger for retry and throttle diagnostics.
func WithLogger(logger *logging.Logger) Option {
	return func(s *Session) {
		s.logger = logger
	}
}

// WithThrottler replaces the throttler built from Config.
func WithThrottler(t *Throttler) Option {
	return func(s *Session) {
		if t != nil {
			s.throttler = t
		}
	}
}

// WithTransport replaces the underlying round tripper's base transport. The
// session works on a clone, so the caller's transport is left as it was.
func WithTransport(transport *http.Transport) Option {
	return func(s *Session) {
		if transport != nil {
			s.transport = transport.Clone()
		}
	}
}

// New builds a Session. A non-positive rate limit or period fails with
// ErrInvalidConfiguration before any request is attempted.
func New(cfg Config, opts ...Option) (*Session, error) {
	throttler, err := NewThrottler(cfg.RateLimit, cfg.Period)
	if err != nil {
		return nil, err
	}

	var proxy *url.URL
	if strings.TrimSpace(cfg.Proxy) != "" {
		proxy, err = url.Parse(strings.TrimSpace(cfg.Proxy))
		if err != nil {
			return nil, fmt.Errorf("%w: proxy: %v", ErrInvalidConfiguration, err)
		}
	}

	userAgent := strings.TrimSpace(cfg.UserAgent)
	if userAgent == "" {
		userAgent = DefaultUserAgent
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	retry := cfg.Retry
	if retry.Times == 0 && retry.BackoffSleep == 0 {
		defaults := DefaultRetryPolicy()
		retry.Times = defaults.Times
		retry.BackoffSleep = defaults.BackoffSleep
	}

	s := &Session{
		proxy:     proxy,
		headers:   DefaultHeaders(userAgent),
		throttler: throttler,
		retry:     retry,
	}
	for _, opt := range opts {
		opt(s)
	}

	if s.transport == nil {
		s.transport = newTransport()
	}
	if s.proxy != nil {
		s.transport.Proxy = http.ProxyURL(s.proxy)
	} else if s.transport.Proxy == nil {
		s.transport.Proxy = http.ProxyFromEnvironment
	}
	// Response bodies are decoded by hand so Accept-Encoding can advertise br.
	s.transport.DisableCompression = true

	jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	if err != nil {
		return nil, fmt.Errorf("create cookie jar: %w", err)
	}

	s.client = &http.Client{Transport: s.transport, Jar: jar, Timeout: timeout}

	insecureTransport := s.transport.Clone()
	if insecureTransport.TLSClientConfig == nil {
		insecureTransport.TLSClientConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	insecureTransport.TLSClientConfig.InsecureSkipVerify = true // #nosec G402 -- used only with WithSkipTLSVerify
	s.insecure = &http.Client{Transport: insecureTransport, Jar: jar, Timeout: timeout}

	if s.retry.OnRetry == nil {
		s.retry.OnRetry = s.logRetry
	}

	return s, nil
}

// With opens a session, passes it to fn and closes it on every exit path,
// including panics.
func With(cfg Config, fn func(*Session) error, opts ...Option) (err error) {
	s, err := New(cfg, opts...)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := s.Close(); closeErr != nil && err == nil {
			err = closeErr
		}
	}()
	return fn(s)
}

// DefaultHeaders returns the headers sent with every request.
func DefaultHeaders(userAgent string) http.Header {
	h := make(http.Header)
	h.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	h.Set("Accept-Encoding", "gzip, deflate, br")
	h.Set("Accept-Language", "ru-RU,ru;q=0.9,en-US;q=0.8,en;q=0.7")
	h.Set("Cache-Control", "no-cache")
	h.Set("User-Agent", userAgent)
	return h
}

// Closed reports whether Close has been called.
func (s *Session) Closed() bool {
	return s.closed.Load()
}

// Close releases pooled connections. Calling it more than once is safe.
func (s *Session) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	s.transport.CloseIdleConnections()
	if t, ok := s.insecure.Transport.(*http.Transport); ok {
		t.CloseIdleConnections()
	}
	return nil
}

// Throttler exposes the session throttler.
func (s *Session) Throttler() *Throttler {
	return s.throttler
}

// Headers returns a copy of the default headers.
func (s *Session) Headers() http.Header {
	return s.headers.Clone()
}

// RequestOption customizes a single request.
type RequestOption func(*requestOptions)

type requestOptions struct {
	skipTLSVerify     bool
	expectContentType string
}

// WithSkipTLSVerify disables certificate verification for this request.
func WithSkipTLSVerify() RequestOption {
	return func(o *requestOptions) {
		o.skipTLSVerify = true
	}
}

// ExpectContentType makes a response with a different media type fail with
// *ContentTypeError, which is retried.
func ExpectContentType(mediaType string) RequestOption {
	return func(o *requestOptions) {
		o.expectContentType = strings.ToLower(strings.TrimSpace(mediaType))
	}
}

// Get issues a GET request. Caller headers override the session defaults.
func (s *Session) Get(ctx context.Context, rawURL string, params url.Values, headers http.Header, opts ...RequestOption) (*Response, error) {
	target, err := withParams(rawURL, params)
	if err != nil {
		return nil, err
	}

	build := func(ctx context.Context) (*http.Request, error) {
		return http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	}
	return s.do(ctx, http.MethodGet, target, build, headers, opts)
}

// PostBody is the payload of a POST request. JSON takes precedence over Data.
// Data may be url.Values (form encoded), []byte, string or io.Reader.
type PostBody struct {
	Data any
	JSON any
}

// Post issues a POST request. Caller headers override the session defaults.
func (s *Session) Post(ctx context.Context, rawURL string, body PostBody, headers http.Header, opts ...RequestOption) (*Response, error) {
	payload, contentType, err := encodeBody(body)
	if err != nil {
		return nil, err
	}

	build := func(ctx context.Context) (*http.Request, error) {
		var reader io.Reader
		if payload != nil {
			reader = bytes.NewReader(payload)
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, rawURL, reader)
		if err != nil {
			return nil, err
		}
		if contentType != "" {
			req.Header.Set("Content-Type", contentType)
		}
		return req, nil
	}
	return s.do(ctx, http.MethodPost, rawURL, build, headers, opts)
}

func (s *Session) do(ctx context.Context, method, target string, build func(context.Context) (*http.Request, error), headers http.Header, opts []RequestOption) (*Response, error) {
	if s.Closed() {
		return nil, ErrSessionClosed
	}
	if ctx == nil {
		ctx = context.Background()
	}

	var options requestOptions
	for _, opt := range opts {
		opt(&options)
	}

	client := s.client
	if options.skipTLSVerify {
		client = s.insecure
	}

	host := hostOf(target)

	resp, err := Retry(ctx, s.retry, func(ctx context.Context, attempt int) (*Response, error) {
		if s.Closed() {
			return nil, ErrSessionClosed
		}

		started := time.Now()
		if err := s.throttler.Acquire(ctx); err != nil {
			return nil, err
		}
		if waited := time.Since(started); waited > time.Millisecond {
			metrics.RecordThrottleWait(waited)
			if s.logger != nil {
				s.logger.Debug("Throttled outbound request",
					zap.String("host", host),
					zap.Duration("waited", waited))
			}
		}

		req, err := build(ctx)
		if err != nil {
			return nil, err
		}
		req.Header = mergeHeaders(s.headers, req.Header, headers)

		requestStart := time.Now()
		response, err := s.roundTrip(client, req, options)
		status := 0
		if response != nil {
			status = response.Status
		}
		metrics.RecordSessionRequest(method, status, time.Since(requestStart), err == nil)
		return response, err
	})
	if err != nil {
		var exhausted *ClientSessionError
		if errors.As(err, &exhausted) {
			metrics.RecordRetryExhausted(method)
			if s.logger != nil {
				s.logger.Error("Outbound request failed after retries",
					zap.String("method", method),
					zap.String("host", host),
					zap.Int("attempts", exhausted.Attempts),
					zap.Error(exhausted.Last))
			}
		}
		return nil, err
	}
	return resp, nil
}

func (s *Session) roundTrip(client *http.Client, req *http.Request, options requestOptions) (*Response, error) {
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close() // nolint:errcheck // best-effort cleanup on HTTP response body

	if options.expectContentType != "" {
		actual, _, _ := mime.ParseMediaType(resp.Header.Get("Content-Type"))
		if !strings.EqualFold(actual, options.expectContentType) {
			_, _ = io.Copy(io.Discard, resp.Body)
			return nil, &ContentTypeError{URL: req.URL.String(), Expected: options.expectContentType, Actual: actual}
		}
	}

	body, err := readBody(resp)
	if err != nil {
		if errors.Is(err, ErrBodyTooLarge) {
			// A bigger body will not shrink on the next attempt.
			return nil, fmt.Errorf("%s: %w", req.URL.String(), err)
		}
		return nil, &PayloadError{URL: req.URL.String(), Err: err}
	}

	finalURL := req.URL
	if resp.Request != nil && resp.Request.URL != nil {
		finalURL = resp.Request.URL
	}

	return newResponse(resp.StatusCode, finalURL, resp.Header, string(body)), nil
}

func (s *Session) logRetry(attempt int, wait time.Duration, err error) {
	metrics.RecordRetry(retryReason(err))
	if s.logger == nil {
		return
	}
	s.logger.Warn("Retrying outbound request",
		zap.Int("attempt", attempt+1),
		zap.Int("max_attempts", s.retry.withDefaults().Times),
		zap.Duration("backoff", wait),
		zap.Error(err))
}

func retryReason(err error) string {
	var payloadErr *PayloadError
	var contentTypeErr *ContentTypeError
	var netErr net.Error
	switch {
	case errors.As(err, &payloadErr):
		return "payload"
	case errors.As(err, &contentTypeErr):
		return "content_type"
	case errors.Is(err, context.DeadlineExceeded), errors.As(err, &netErr) && netErr.Timeout():
		return "timeout"
	default:
		return "connection"
	}
}

func mergeHeaders(layers ...http.Header) http.Header {
	merged := make(http.Header)
	for _, layer := range layers {
		for key, values := range layer {
			merged[http.CanonicalHeaderKey(key)] = append([]string(nil), values...)
		}
	}
	return merged
}

func withParams(rawURL string, params url.Values) (string, error) {
	if len(params) == 0 {
		return rawURL, nil
	}
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("parse url: %w", err)
	}
	query := parsed.Query()
	for key, values := range params {
		for _, value := range values {
			query.Add(key, value)
		}
	}
	parsed.RawQuery = query.Encode()
	return parsed.String(), nil
}

func encodeBody(body PostBody) ([]byte, string, error) {
	if body.JSON != nil {
		data, err := json.Marshal(body.JSON)
		if err != nil {
			return nil, "", fmt.Errorf("encode json body: %w", err)
		}
		return data, "application/json", nil
	}

	switch data := body.Data.(type) {
	case nil:
		return nil, "", nil
	case url.Values:
		return []byte(data.Encode()), "application/x-www-form-urlencoded", nil
	case map[string]string:
		form := make(url.Values, len(data))
		for key, value := range data {
			form.Set(key, value)
		}
		return []byte(form.Encode()), "application/x-www-form-urlencoded", nil
	case []byte:
		return data, "application/octet-stream", nil
	case string:
		return []byte(data), "text/plain; charset=utf-8", nil
	case io.Reader:
		// Buffered so every retry attempt can replay the payload.
		raw, err := io.ReadAll(data)
		if err != nil {
			return nil, "", fmt.Errorf("read request body: %w", err)
		}
		return raw, "application/octet-stream", nil
	default:
		return nil, "", fmt.Errorf("unsupported post data type %T", body.Data)
	}
}

func hostOf(rawURL string) string {
	parsed, err := url.Parse(rawURL)
	if err != nil || parsed.Host == "" {
		return "unknown"
	}
	return parsed.Hostname()
}

func newTransport() *http.Transport {
	transport, ok := http.DefaultTransport.(*http.Transport)
	if !ok {
		return &http.Transport{}
	}
	return transport.Clone()
}
