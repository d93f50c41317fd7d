package proxy

import (
	"bufio"
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"
)

// Proxy is one outbound proxy endpoint with health tracking.
type Proxy struct {
	URL           *url.URL
	Failures      int
	Successes     int
	LastUsed      time.Time
	DisabledUntil time.Time
}

func (p *Proxy) disabled(now time.Time) bool {
	return now.Before(p.DisabledUntil)
}

// Config defines settings for the Proxy Pool.
type Config struct {
	// MaxFailures before a proxy is benched.
	MaxFailures int
	// Cooldown is how long a benched proxy sits out.
	Cooldown time.Duration
}

// Pool rotates page fetches across proxies, benching ones that keep failing.
// It is safe for concurrent use.
type Pool struct {
	mu      sync.Mutex
	proxies []*Proxy
	byURL   map[string]*Proxy
	cursor  int
	cfg     Config
}

// NewPool creates an empty pool. Zero config values get defaults.
func NewPool(cfg Config) *Pool {
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = 3
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = 5 * time.Minute
	}
	return &Pool{cfg: cfg, byURL: make(map[string]*Proxy)}
}

// LoadFile adds proxies from a file with one URL per line; blank lines and
// '#' comments are skipped.
func (p *Pool) LoadFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open proxy file: %w", err)
	}
	defer f.Close()

	var raw []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		raw = append(raw, line)
	}
	if err := sc.Err(); err != nil {
		return fmt.Errorf("read proxy file: %w", err)
	}
	return p.Add(raw...)
}

// Add parses and appends proxy URLs. Entries without a scheme default to http.
// Duplicates are ignored.
func (p *Pool) Add(rawURLs ...string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, raw := range rawURLs {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		if !strings.Contains(raw, "://") {
			raw = "http://" + raw
		}
		u, err := url.Parse(raw)
		if err != nil {
			return fmt.Errorf("parse proxy %q: %w", raw, err)
		}
		key := u.String()
		if _, ok := p.byURL[key]; ok {
			continue
		}
		prx := &Proxy{URL: u}
		p.proxies = append(p.proxies, prx)
		p.byURL[key] = prx
	}
	return nil
}

// Len reports how many proxies are configured.
func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.proxies)
}

// Next returns the next healthy proxy, or nil when none are configured or all
// are cooling down.
func (p *Pool) Next() *url.URL {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := time.Now()
	for i := 0; i < len(p.proxies); i++ {
		prx := p.proxies[p.cursor]
		p.cursor = (p.cursor + 1) % len(p.proxies)

		if prx.disabled(now) {
			continue
		}
		if !prx.DisabledUntil.IsZero() {
			// back from the bench with a clean slate
			prx.DisabledUntil = time.Time{}
			prx.Failures = 0
		}
		prx.LastUsed = now
		return prx.URL
	}
	return nil
}

// MarkSuccess records a successful fetch through proxyURL.
func (p *Pool) MarkSuccess(proxyURL *url.URL) error {
	return p.update(proxyURL, func(prx *Proxy) {
		prx.Successes++
		if prx.Failures > 0 {
			prx.Failures--
		}
	})
}

// MarkFailure records a failed fetch and benches the proxy once it reaches
// MaxFailures.
func (p *Pool) MarkFailure(proxyURL *url.URL) error {
	return p.update(proxyURL, func(prx *Proxy) {
		prx.Failures++
		if prx.Failures >= p.cfg.MaxFailures {
			prx.DisabledUntil = time.Now().Add(p.cfg.Cooldown)
		}
	})
}

func (p *Pool) update(proxyURL *url.URL, fn func(*Proxy)) error {
	if proxyURL == nil {
		return errors.New("proxy url cannot be nil")
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	prx, ok := p.byURL[proxyURL.String()]
	if !ok {
		return errors.New("proxy not found in pool")
	}
	fn(prx)
	return nil
}
