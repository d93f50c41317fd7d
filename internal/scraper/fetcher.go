package scraper

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/FranksOps/shopsage/internal/bypass"
	"github.com/FranksOps/shopsage/internal/fingerprint"
	"github.com/FranksOps/shopsage/internal/metrics"
	"github.com/FranksOps/shopsage/internal/storage"
	"github.com/FranksOps/shopsage/pkg/httpclient"
	"github.com/FranksOps/shopsage/pkg/proxy"
	"github.com/FranksOps/shopsage/pkg/ratelimit"
	"github.com/FranksOps/shopsage/pkg/useragent"
	"github.com/google/uuid"
)

type contextKey string

const proxyKey contextKey = "proxy_url"

// DefaultMaxBodyBytes caps how much of a product page is read.
const DefaultMaxBodyBytes = 2 << 20

// FetchConfig configures the page fetcher.
type FetchConfig struct {
	Timeout      time.Duration
	MaxRedirects int
	MaxBodyBytes int64
	ProxyPool    *proxy.Pool
	UAPool       *useragent.Pool
	Fingerprint  fingerprint.Profile
	Limiter      *ratelimit.Limiter
}

// Fetcher downloads product pages with browser-like TLS and headers. It holds
// only read-only configuration plus concurrency-safe pools, so one Fetcher is
// shared by every request.
type Fetcher struct {
	config FetchConfig
	client *httpclient.Client
}

// NewFetcher initializes a Fetcher. The transport is built once so connections
// are pooled across fetches.
func NewFetcher(cfg FetchConfig) (*Fetcher, error) {
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.MaxRedirects == 0 {
		cfg.MaxRedirects = 5
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = DefaultMaxBodyBytes
	}
	if cfg.UAPool == nil {
		cfg.UAPool = useragent.NewPool(nil)
	}
	if cfg.Fingerprint == "" {
		cfg.Fingerprint = fingerprint.ProfileChrome
	}

	// The proxy is chosen per request and carried in the request context, since
	// mutating Transport.Proxy concurrently is not safe.
	proxyFunc := func(req *http.Request) (*url.URL, error) {
		if u, ok := req.Context().Value(proxyKey).(*url.URL); ok && u != nil {
			return u, nil
		}
		if ip := net.ParseIP(req.URL.Hostname()); ip != nil && ip.IsLoopback() {
			return nil, nil
		}
		return http.ProxyFromEnvironment(req)
	}

	transport, err := fingerprint.Transport(cfg.Fingerprint, proxyFunc)
	if err != nil {
		return nil, fmt.Errorf("setup transport: %w", err)
	}

	client, err := httpclient.New(httpclient.Config{
		Timeout:      cfg.Timeout,
		MaxRedirects: cfg.MaxRedirects,
		Transport:    transport,
	})
	if err != nil {
		return nil, fmt.Errorf("create client: %w", err)
	}

	return &Fetcher{config: cfg, client: client}, nil
}

// UserAgent returns a User-Agent from the fetcher's pool.
func (f *Fetcher) UserAgent() string {
	return f.config.UAPool.Next()
}

// Fetch GETs targetURL. Transport-level failures are reported in the result's
// Error field rather than as an error so callers can still audit the attempt.
// The returned error is non-nil only when ctx is done before the request starts.
func (f *Fetcher) Fetch(ctx context.Context, targetURL string) (*storage.FetchResult, error) {
	start := time.Now()
	result := &storage.FetchResult{
		ID:        uuid.NewString(),
		URL:       targetURL,
		CreatedAt: start.UTC(),
	}
	if u, err := url.Parse(targetURL); err == nil {
		result.Domain = u.Hostname()
	}
	defer func() {
		result.Duration = time.Since(start)
		metrics.RecordFetch(result)
	}()

	if err := f.config.Limiter.Wait(ctx); err != nil {
		result.Error = fmt.Sprintf("rate limiter: %v", err)
		return result, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, targetURL, nil)
	if err != nil {
		result.Error = fmt.Sprintf("create request: %v", err)
		return result, nil
	}

	var activeProxy *url.URL
	if f.config.ProxyPool != nil {
		activeProxy = f.config.ProxyPool.Next()
	}
	if activeProxy != nil {
		req = req.WithContext(context.WithValue(req.Context(), proxyKey, activeProxy))
	}

	req.Header.Set("User-Agent", f.config.UAPool.Next())
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	req.Header.Set("Accept-Language", "en-US,en;q=0.7")

	resp, err := f.client.Do(req.Context(), req)
	if err != nil {
		if activeProxy != nil {
			_ = f.config.ProxyPool.MarkFailure(activeProxy)
			metrics.ProxyFailures.WithLabelValues(activeProxy.Redacted()).Inc()
		}
		result.Error = err.Error()
		return result, nil
	}
	defer resp.Body.Close()

	if activeProxy != nil {
		_ = f.config.ProxyPool.MarkSuccess(activeProxy)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, f.config.MaxBodyBytes))
	if err != nil {
		result.Error = fmt.Sprintf("read body: %v", err)
	}

	result.StatusCode = resp.StatusCode
	result.ContentType = resp.Header.Get("Content-Type")
	result.Headers = resp.Header
	result.Body = body
	result.Bytes = int64(len(body))

	bypass.Analyze(result, bypass.DefaultDetectors())
	return result, nil
}
