package scrape

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ingestkit/ingestkit/internal/session"
)

const articleHTML = `<!DOCTYPE html>
<html>
<head><title>Field Notes</title></head>
<body>
<nav><a href="/">Home</a> <a href="/about#team">About</a></nav>
<article>
<h1>Field Notes</h1>
<p>The river gauge at the northern station recorded its highest level in a decade,
and the survey team spent most of the week documenting how the banks had shifted
after the spring floods moved several tonnes of sediment downstream.</p>
<p>Measurements were taken every morning at first light, when the water was calmest,
and compared against the readings archived by the previous expedition so that the
rate of erosion could be estimated with reasonable confidence for the report.</p>
<p>Further reading is available in the <a href="https://example.org/archive">archive</a>
and in the <a href="mailto:team@example.org">team mailbox</a>.</p>
</article>
</body>
</html>`

func newSession(t *testing.T, userAgent string) *session.Session {
	t.Helper()

	s, err := session.New(session.Config{
		UserAgent: userAgent,
		RateLimit: 100,
		Period:    time.Second,
		Timeout:   5 * time.Second,
		Retry:     session.RetryPolicy{Times: 2, BackoffSleep: time.Millisecond},
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestFetchRobotsPolicy(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/robots.txt", r.URL.Path)
		_, _ = w.Write([]byte("User-agent: *\nDisallow: /private\nCrawl-delay: 2\n\nUser-agent: ingestbot\nDisallow: /\n"))
	}))
	defer server.Close()

	s := newSession(t, "Mozilla/5.0")

	policy, err := FetchRobots(context.Background(), s, server.URL+"/some/page?x=1", "Mozilla/5.0")
	require.NoError(t, err)
	assert.True(t, policy.Allowed("/public"))
	assert.False(t, policy.Allowed("/private/data"))
	assert.Equal(t, 2*time.Second, policy.CrawlDelay())

	strict, err := FetchRobots(context.Background(), s, server.URL, "IngestBot/1.0")
	require.NoError(t, err)
	assert.False(t, strict.Allowed("/public"))
}

func TestFetchRobotsStatusHandling(t *testing.T) {
	for _, tc := range []struct {
		name    string
		status  int
		allowed bool
	}{
		{name: "MissingAllowsAll", status: http.StatusNotFound, allowed: true},
		{name: "ServerErrorDisallowsAll", status: http.StatusServiceUnavailable, allowed: false},
	} {
		t.Run(tc.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
			}))
			defer server.Close()

			policy, err := FetchRobots(context.Background(), newSession(t, "bot"), server.URL, "bot")
			require.NoError(t, err)
			assert.Equal(t, tc.allowed, policy.Allowed("/anything"))
		})
	}
}

func TestFetchRobotsRejectsRelativeURL(t *testing.T) {
	_, err := FetchRobots(context.Background(), newSession(t, "bot"), "/just/a/path", "bot")
	require.Error(t, err)
}

func TestRobotsCacheFetchesOncePerHost(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		_, _ = w.Write([]byte("User-agent: *\nDisallow: /admin\n"))
	}))
	defer server.Close()

	cache := NewRobotsCache(newSession(t, "bot"), "bot")

	allowed, err := cache.Allowed(context.Background(), server.URL+"/docs")
	require.NoError(t, err)
	assert.True(t, allowed)

	allowed, err = cache.Allowed(context.Background(), server.URL+"/admin/users")
	require.NoError(t, err)
	assert.False(t, allowed)

	assert.Equal(t, int32(1), hits.Load())
}

func TestRobotsCacheSlowHostDoesNotBlockOthers(t *testing.T) {
	var slowHits atomic.Int32
	entered := make(chan struct{}, 1)
	release := make(chan struct{})
	slow := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		slowHits.Add(1)
		select {
		case entered <- struct{}{}:
		default:
		}
		<-release
		_, _ = w.Write([]byte("User-agent: *\nDisallow: /slow\n"))
	}))
	defer slow.Close()
	fast := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("User-agent: *\nDisallow: /admin\n"))
	}))
	defer fast.Close()

	var released atomic.Bool
	releaseOnce := func() {
		if released.CompareAndSwap(false, true) {
			close(release)
		}
	}
	defer releaseOnce()

	cache := NewRobotsCache(newSession(t, "bot"), "bot")

	results := make(chan bool, 2)
	for i := 0; i < 2; i++ {
		go func() {
			allowed, err := cache.Allowed(context.Background(), slow.URL+"/slow/page")
			assert.NoError(t, err)
			results <- allowed
		}()
	}
	<-entered

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	allowed, err := cache.Allowed(ctx, fast.URL+"/docs")
	require.NoError(t, err)
	assert.True(t, allowed)

	waiterCtx, cancelWaiter := context.WithCancel(context.Background())
	cancelWaiter()
	_, err = cache.Allowed(waiterCtx, slow.URL+"/other")
	require.ErrorIs(t, err, context.Canceled)

	time.Sleep(50 * time.Millisecond)
	releaseOnce()
	for i := 0; i < 2; i++ {
		assert.False(t, <-results)
	}
	assert.Equal(t, int32(1), slowHits.Load())
}

func TestFetcherSpacesFetchesByCrawlDelay(t *testing.T) {
	var pageHits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/robots.txt" {
			_, _ = w.Write([]byte("User-agent: *\nCrawl-delay: 0.2\n"))
			return
		}
		pageHits.Add(1)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	s := newSession(t, "bot")
	fetcher := NewFetcher(s, NewRobotsCache(s, "bot"))

	started := time.Now()
	for i := 0; i < 2; i++ {
		_, err := fetcher.Fetch(context.Background(), Request{URL: server.URL + "/page"})
		require.NoError(t, err)
	}
	assert.GreaterOrEqual(t, time.Since(started), 200*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := fetcher.Fetch(ctx, Request{URL: server.URL + "/page"})
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, int32(2), pageHits.Load())
}

func TestRobotsCacheFailsClosedSession(t *testing.T) {
	s := newSession(t, "bot")
	require.NoError(t, s.Close())

	_, err := NewRobotsCache(s, "bot").Allowed(context.Background(), "http://127.0.0.1/x")
	require.ErrorIs(t, err, session.ErrSessionClosed)
}

func TestExtractArticle(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write([]byte(articleHTML))
	}))
	defer server.Close()

	resp, err := newSession(t, "bot").Get(context.Background(), server.URL+"/notes", nil, nil)
	require.NoError(t, err)
	require.True(t, IsHTML(resp))

	article, err := ExtractArticle(resp)
	require.NoError(t, err)
	assert.Equal(t, "Field Notes", article.Title)
	assert.Contains(t, article.Text, "river gauge")
	assert.NotContains(t, article.Text, "\n")
	assert.Contains(t, article.Links, "https://example.org/archive")
	assert.Contains(t, article.Links, server.URL+"/about")
}

func TestExtractArticleRejectsNonHTML(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer server.Close()

	resp, err := newSession(t, "bot").Get(context.Background(), server.URL, nil, nil)
	require.NoError(t, err)

	_, err = ExtractArticle(resp)
	require.ErrorIs(t, err, ErrNotHTML)
}

func TestLinksResolvesAndDeduplicates(t *testing.T) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(`
		<a href="/a">a</a>
		<a href="/a#frag">a again</a>
		<a href="b?x=1">b</a>
		<a href="#top">top</a>
		<a href="javascript:void(0)">js</a>
		<a href="https://other.example/c">c</a>`))
	require.NoError(t, err)

	base, err := url.Parse("https://site.example/dir/page")
	require.NoError(t, err)

	assert.Equal(t, []string{
		"https://site.example/a",
		"https://site.example/dir/b?x=1",
		"https://other.example/c",
	}, Links(doc, base))
}

func TestFetcherRecordsSuccessfulFetch(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/robots.txt" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte(articleHTML))
	}))
	defer server.Close()

	s := newSession(t, "bot")
	fetcher := NewFetcher(s, NewRobotsCache(s, "bot"))

	result, err := fetcher.Fetch(context.Background(), Request{URL: server.URL + "/notes", Extract: true})
	require.NoError(t, err)

	rec := result.Record
	assert.Equal(t, http.MethodGet, rec.Method)
	assert.Equal(t, http.StatusOK, rec.Status)
	assert.Equal(t, server.URL+"/notes", rec.FinalURL)
	assert.Equal(t, "text/html", rec.ContentType)
	assert.Equal(t, len(articleHTML), rec.BodyBytes)
	assert.Equal(t, "Field Notes", rec.Title)
	assert.NotEmpty(t, rec.Excerpt)
	assert.Empty(t, rec.Error)
	assert.True(t, rec.Succeeded())
	assert.NotNil(t, result.Article)
}

func TestFetcherHonoursRobots(t *testing.T) {
	var pageHits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/robots.txt" {
			_, _ = w.Write([]byte("User-agent: *\nDisallow: /private\n"))
			return
		}
		pageHits.Add(1)
	}))
	defer server.Close()

	s := newSession(t, "bot")
	fetcher := NewFetcher(s, NewRobotsCache(s, "bot"))

	result, err := fetcher.Fetch(context.Background(), Request{URL: server.URL + "/private/report"})
	require.ErrorIs(t, err, ErrDisallowed)
	assert.Contains(t, result.Record.Error, "robots.txt")
	assert.False(t, result.Record.Succeeded())
	assert.Equal(t, int32(0), pageHits.Load())
}

func TestFetcherPostsJSON(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"id":7}`))
	}))
	defer server.Close()

	result, err := NewFetcher(newSession(t, "bot"), nil).Fetch(context.Background(), Request{
		Method: "post",
		URL:    server.URL,
		Body:   session.PostBody{JSON: map[string]string{"name": "x"}},
	})
	require.NoError(t, err)
	assert.Equal(t, http.MethodPost, result.Record.Method)
	assert.Equal(t, http.StatusCreated, result.Record.Status)
	assert.Nil(t, result.Article)
}

func TestFetcherRecordsFailures(t *testing.T) {
	fetcher := NewFetcher(newSession(t, "bot"), nil)

	result, err := fetcher.Fetch(context.Background(), Request{URL: "   "})
	require.Error(t, err)
	assert.Equal(t, "url is required", result.Record.Error)

	result, err = fetcher.Fetch(context.Background(), Request{Method: "PATCH", URL: "http://127.0.0.1"})
	require.Error(t, err)
	assert.Contains(t, result.Record.Error, "unsupported method")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	result, err = fetcher.Fetch(ctx, Request{URL: "http://127.0.0.1:1/"})
	require.True(t, errors.Is(err, context.Canceled))
	assert.NotEmpty(t, result.Record.Error)
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", truncate("short", 10))
	assert.Equal(t, "abc…", truncate("abcdef", 3))
}
