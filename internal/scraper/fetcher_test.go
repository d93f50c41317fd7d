package scraper

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/FranksOps/shopsage/internal/fingerprint"
	"github.com/FranksOps/shopsage/pkg/proxy"
	"github.com/FranksOps/shopsage/pkg/useragent"
)

func TestFetcher_Success(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("User-Agent") != "TestBrowser/1.0" {
			t.Errorf("expected pooled User-Agent, got %q", r.Header.Get("User-Agent"))
		}
		w.Header().Set("X-Test", "true")
		w.Header().Set("Content-Type", "text/html")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	}))
	defer ts.Close()

	fetcher, err := NewFetcher(FetchConfig{
		Timeout:     5 * time.Second,
		Fingerprint: fingerprint.ProfileGo,
		UAPool:      useragent.NewPool([]string{"TestBrowser/1.0"}),
	})
	if err != nil {
		t.Fatalf("NewFetcher: %v", err)
	}

	res, err := fetcher.Fetch(context.Background(), ts.URL)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Error != "" {
		t.Fatalf("expected no fetch error, got %s", res.Error)
	}
	if !res.OK() {
		t.Errorf("expected OK result, got %+v", res)
	}
	if string(res.Body) != "ok" || res.Bytes != 2 {
		t.Errorf("expected body 'ok' (2 bytes), got %q (%d)", res.Body, res.Bytes)
	}
	if len(res.Headers["X-Test"]) == 0 || res.Headers["X-Test"][0] != "true" {
		t.Errorf("expected X-Test header 'true', got %v", res.Headers["X-Test"])
	}
	if res.ContentType != "text/html" {
		t.Errorf("expected content type text/html, got %q", res.ContentType)
	}
	if res.Domain != "127.0.0.1" {
		t.Errorf("expected domain 127.0.0.1, got %q", res.Domain)
	}
	if res.Duration == 0 {
		t.Errorf("expected non-zero duration")
	}
	if res.ID == "" {
		t.Errorf("expected non-empty UUID")
	}
}

func TestFetcher_BodyLimit(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(strings.Repeat("x", 100)))
	}))
	defer ts.Close()

	fetcher, _ := NewFetcher(FetchConfig{
		Fingerprint:  fingerprint.ProfileGo,
		MaxBodyBytes: 10,
	})

	res, _ := fetcher.Fetch(context.Background(), ts.URL)
	if len(res.Body) != 10 {
		t.Errorf("expected body capped at 10 bytes, got %d", len(res.Body))
	}
}

func TestFetcher_Timeout(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(50 * time.Millisecond)
		w.WriteHeader(http.StatusOK)
	}))
	defer ts.Close()

	fetcher, _ := NewFetcher(FetchConfig{
		Timeout:     10 * time.Millisecond,
		Fingerprint: fingerprint.ProfileGo,
	})

	res, _ := fetcher.Fetch(context.Background(), ts.URL)
	if res.Error == "" || !strings.Contains(res.Error, "request failed") {
		t.Errorf("expected timeout error, got %v", res.Error)
	}
	if res.OK() {
		t.Errorf("timed out fetch must not be OK")
	}
}

func TestFetcher_DetectsChallenge(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Server", "cloudflare")
		w.Header().Set("Cf-Ray", "abc123")
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte("<title>Just a moment...</title>"))
	}))
	defer ts.Close()

	fetcher, _ := NewFetcher(FetchConfig{Fingerprint: fingerprint.ProfileGo})

	res, _ := fetcher.Fetch(context.Background(), ts.URL)
	if !res.DetectedBot || res.DetectionSrc != "Cloudflare" {
		t.Errorf("expected Cloudflare detection, got detected=%v src=%q", res.DetectedBot, res.DetectionSrc)
	}
}

func TestFetcher_Proxy(t *testing.T) {
	// The "proxy" answers every request itself, so a 418 proves routing.
	proxyServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))
	defer proxyServer.Close()

	pPool := proxy.NewPool(proxy.Config{MaxFailures: 1, Cooldown: time.Second})
	if err := pPool.Add(proxyServer.URL); err != nil {
		t.Fatalf("failed to add proxy: %v", err)
	}

	fetcher, _ := NewFetcher(FetchConfig{
		Timeout:     5 * time.Second,
		Fingerprint: fingerprint.ProfileGo,
		ProxyPool:   pPool,
	})

	targetServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer targetServer.Close()

	res, _ := fetcher.Fetch(context.Background(), targetServer.URL)
	if res.StatusCode != http.StatusTeapot {
		t.Errorf("expected 418 Teapot from proxy, got %d, err: %v", res.StatusCode, res.Error)
	}
}
