package scraper

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"github.com/temoto/robotstxt"
)

// RobotsTimeout bounds a single robots.txt download.
const RobotsTimeout = 5 * time.Second

// RobotsTxtAuditor answers robots.txt questions for page fetches. It caches
// per host for its own lifetime; create one per enrichment batch.
type RobotsTxtAuditor struct {
	base    context.Context
	fetcher *Fetcher
	logger  *slog.Logger

	mu    sync.Mutex
	cache map[string]*robotsEntry
}

type robotsEntry struct {
	once sync.Once
	done chan struct{}
	data *robotstxt.RobotsData
	err  error
}

// NewRobotsTxtAuditor creates an auditor that downloads robots.txt with
// fetcher. Downloads run on ctx, not on the context of whichever caller asked
// first, so one caller giving up does not decide the answer for the rest.
func NewRobotsTxtAuditor(ctx context.Context, fetcher *Fetcher, logger *slog.Logger) *RobotsTxtAuditor {
	if logger == nil {
		logger = slog.Default()
	}
	return &RobotsTxtAuditor{
		base:    ctx,
		fetcher: fetcher,
		logger:  logger,
		cache:   make(map[string]*robotsEntry),
	}
}

// IsAllowed reports whether userAgent may fetch targetURL. A missing or
// unreachable robots.txt allows everything. If ctx ends before the answer is
// known, IsAllowed returns ctx's error.
func (r *RobotsTxtAuditor) IsAllowed(ctx context.Context, targetURL, userAgent string) (bool, error) {
	u, err := url.Parse(targetURL)
	if err != nil {
		return false, fmt.Errorf("invalid url: %w", err)
	}

	host := u.Scheme + "://" + u.Host
	data, err := r.lookup(ctx, host)
	if ctxErr := ctx.Err(); ctxErr != nil {
		return false, fmt.Errorf("robots.txt for %s: %w", host, ctxErr)
	}
	if err != nil {
		r.logger.Debug("robots.txt unavailable, allowing", "host", host, "err", err)
		return true, nil
	}
	if data == nil {
		return true, nil
	}

	path := u.EscapedPath()
	if path == "" {
		path = "/"
	}
	return data.FindGroup(userAgent).Test(path), nil
}

// lookup fetches robots.txt for host at most once, even with concurrent
// callers. Each caller waits only as long as its own ctx allows.
func (r *RobotsTxtAuditor) lookup(ctx context.Context, host string) (*robotstxt.RobotsData, error) {
	r.mu.Lock()
	entry, ok := r.cache[host]
	if !ok {
		entry = &robotsEntry{done: make(chan struct{})}
		r.cache[host] = entry
	}
	r.mu.Unlock()

	entry.once.Do(func() {
		go func() {
			defer close(entry.done)
			fetchCtx, cancel := context.WithTimeout(r.base, RobotsTimeout)
			defer cancel()
			entry.data, entry.err = r.fetch(fetchCtx, host)
		}()
	})

	select {
	case <-entry.done:
		return entry.data, entry.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (r *RobotsTxtAuditor) fetch(ctx context.Context, host string) (*robotstxt.RobotsData, error) {
	result, err := r.fetcher.Fetch(ctx, host+"/robots.txt")
	if err != nil {
		return nil, fmt.Errorf("fetch robots.txt: %w", err)
	}
	if result.Error != "" {
		return nil, fmt.Errorf("fetch robots.txt: %s", result.Error)
	}
	// 4xx means no rules; 5xx is treated the same since enrichment is best effort.
	if result.StatusCode >= 400 {
		return nil, nil
	}

	data, err := robotstxt.FromBytes(result.Body)
	if err != nil {
		return nil, fmt.Errorf("parse robots.txt: %w", err)
	}
	return data, nil
}
