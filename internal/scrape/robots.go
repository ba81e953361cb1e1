package scrape

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/temoto/robotstxt"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/ingestkit/ingestkit/internal/observability"
	"github.com/ingestkit/ingestkit/internal/session"
)

// RobotsPolicy is the robots.txt group that applies to one user agent on one host.
type RobotsPolicy struct {
	Host      string
	UserAgent string
	data      *robotstxt.RobotsData
	group     *robotstxt.Group
}

// Allowed reports whether path may be fetched. A policy without rules
// allows everything.
func (p *RobotsPolicy) Allowed(path string) bool {
	if p == nil || p.data == nil {
		return true
	}
	if path == "" {
		path = "/"
	}
	return p.data.TestAgent(path, p.UserAgent)
}

// CrawlDelay returns the Crawl-delay directive for the agent, or zero.
func (p *RobotsPolicy) CrawlDelay() time.Duration {
	if p == nil || p.group == nil {
		return 0
	}
	return p.group.CrawlDelay
}

// FetchRobots downloads robots.txt for the host of target through client and
// resolves the group for userAgent. Status handling follows robotstxt:
// 4xx allows everything, 5xx disallows everything.
func FetchRobots(ctx context.Context, client Client, target, userAgent string) (*RobotsPolicy, error) {
	robotsURL, host, err := robotsLocation(target)
	if err != nil {
		return nil, err
	}

	resp, err := client.Get(ctx, robotsURL, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", robotsURL, err)
	}

	data, err := robotstxt.FromStatusAndString(resp.Status, resp.Body)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", robotsURL, err)
	}

	return &RobotsPolicy{
		Host:      host,
		UserAgent: userAgent,
		data:      data,
		group:     data.FindGroup(userAgent),
	}, nil
}

func robotsLocation(target string) (string, string, error) {
	u, err := url.Parse(strings.TrimSpace(target))
	if err != nil {
		return "", "", fmt.Errorf("invalid url %q: %w", target, err)
	}
	if u.Scheme == "" || u.Host == "" {
		return "", "", fmt.Errorf("invalid url %q: scheme and host are required", target)
	}
	robots := url.URL{Scheme: u.Scheme, Host: u.Host, Path: "/robots.txt"}
	return robots.String(), u.Host, nil
}

// maxCrawlDelay bounds how long a single Crawl-delay directive can hold a fetch.
const maxCrawlDelay = time.Minute

// RobotsCache fetches each host's robots.txt once and answers Allowed
// queries from memory. It also spaces fetches to a host by that host's
// Crawl-delay.
type RobotsCache struct {
	client    Client
	userAgent string
	fetches   singleflight.Group

	mu       sync.Mutex
	policies map[string]*RobotsPolicy
	nextSlot map[string]time.Time
}

// NewRobotsCache returns a cache that fetches through client.
func NewRobotsCache(client Client, userAgent string) *RobotsCache {
	return &RobotsCache{
		client:    client,
		userAgent: userAgent,
		policies:  make(map[string]*RobotsPolicy),
		nextSlot:  make(map[string]time.Time),
	}
}

// Allowed reports whether target may be fetched. A robots.txt that cannot be
// downloaded or parsed is treated as allow-all and cached as such.
func (c *RobotsCache) Allowed(ctx context.Context, target string) (bool, error) {
	u, err := url.Parse(strings.TrimSpace(target))
	if err != nil {
		return false, fmt.Errorf("invalid url %q: %w", target, err)
	}

	policy, err := c.policy(ctx, target, u.Host)
	if err != nil {
		return false, err
	}

	path := u.EscapedPath()
	if u.RawQuery != "" {
		path += "?" + u.RawQuery
	}
	return policy.Allowed(path), nil
}

// AwaitCrawlDelay blocks until the host of target may be fetched again under
// its Crawl-delay, then reserves that slot. Hosts without a delay return
// immediately.
func (c *RobotsCache) AwaitCrawlDelay(ctx context.Context, target string) error {
	u, err := url.Parse(strings.TrimSpace(target))
	if err != nil {
		return fmt.Errorf("invalid url %q: %w", target, err)
	}

	policy, err := c.policy(ctx, target, u.Host)
	if err != nil {
		return err
	}
	delay := min(policy.CrawlDelay(), maxCrawlDelay)
	if delay <= 0 {
		return nil
	}

	now := time.Now()
	c.mu.Lock()
	slot := c.nextSlot[u.Host]
	if slot.Before(now) {
		slot = now
	}
	c.nextSlot[u.Host] = slot.Add(delay)
	c.mu.Unlock()

	wait := slot.Sub(now)
	if wait <= 0 {
		return nil
	}
	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// policy returns the cached policy for host. Concurrent misses for one host
// share a single download; other hosts are never blocked by it.
func (c *RobotsCache) policy(ctx context.Context, target, host string) (*RobotsPolicy, error) {
	c.mu.Lock()
	policy, ok := c.policies[host]
	c.mu.Unlock()
	if ok {
		return policy, nil
	}

	ch := c.fetches.DoChan(host, func() (interface{}, error) {
		// Shared by every waiter, so one caller's cancellation must not
		// fail the others. The session timeout still bounds it.
		return c.load(context.WithoutCancel(ctx), target, host)
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*RobotsPolicy), nil
	}
}

func (c *RobotsCache) load(ctx context.Context, target, host string) (*RobotsPolicy, error) {
	policy, err := FetchRobots(ctx, c.client, target, c.userAgent)
	if err != nil {
		if errors.Is(err, session.ErrSessionClosed) {
			return nil, err
		}
		if logger := observability.Logger(); logger != nil {
			logger.Warn("robots.txt unavailable, allowing all paths",
				zap.String("host", host),
				zap.Error(err))
		}
		policy = &RobotsPolicy{Host: host, UserAgent: c.userAgent}
	}

	c.mu.Lock()
	c.policies[host] = policy
	c.mu.Unlock()
	return policy, nil
}
