//go:build integration

package test

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/FranksOps/shopsage/internal/enricher"
	"github.com/FranksOps/shopsage/internal/fingerprint"
	"github.com/FranksOps/shopsage/internal/judge"
	"github.com/FranksOps/shopsage/internal/llm"
	"github.com/FranksOps/shopsage/internal/pipeline"
	"github.com/FranksOps/shopsage/internal/product"
	"github.com/FranksOps/shopsage/internal/scout"
	"github.com/FranksOps/shopsage/internal/scraper"
	"github.com/FranksOps/shopsage/internal/serp"
	"github.com/FranksOps/shopsage/internal/server"
	"github.com/FranksOps/shopsage/internal/storage"
	"github.com/FranksOps/shopsage/internal/storage/jsonbackend"
	"github.com/FranksOps/shopsage/pkg/ratelimit"
	"github.com/FranksOps/shopsage/pkg/useragent"
)

var products = []struct {
	slug, title, snippet, body string
}{
	{"alpha", "Alpha Buds", "Budget earbuds with long battery life.", "Alpha Buds deliver thirty hours of battery life for earbuds under fifty dollars."},
	{"beta", "Beta Pods", "Noise cancelling earbuds for commuters.", "Beta Pods earbuds offer strong noise cancelling and a comfortable fit for commuters."},
	{"gamma", "Gamma Ears", "Sport earbuds with ear hooks.", "Gamma Ears are sweat resistant earbuds with secure ear hooks for running."},
}

// shopSite serves a DuckDuckGo-style results page, product pages and a robots.txt.
func shopSite(t *testing.T, pageHits *atomic.Int32) *httptest.Server {
	t.Helper()
	var srv *httptest.Server
	mux := http.NewServeMux()
	mux.HandleFunc("/robots.txt", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "User-agent: *\nDisallow: /private/\n")
	})
	mux.HandleFunc("/html/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("q") == "" {
			http.Error(w, "missing q", http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprint(w, `<html><body>`)
		fmt.Fprint(w, `<div class="result result--ad"><a class="result__a" href="https://ads.example/x">Sponsored</a><a class="result__snippet">ad</a></div>`)
		for _, p := range products {
			fmt.Fprintf(w, `<div class="result"><h2><a class="result__a" href="%s/p/%s">%s</a></h2><a class="result__snippet">%s</a></div>`,
				srv.URL, p.slug, p.title, p.snippet)
		}
		fmt.Fprint(w, `</body></html>`)
	})
	mux.HandleFunc("/p/", func(w http.ResponseWriter, r *http.Request) {
		pageHits.Add(1)
		slug := strings.TrimPrefix(r.URL.Path, "/p/")
		for _, p := range products {
			if p.slug == slug {
				w.Header().Set("Content-Type", "text/html; charset=utf-8")
				fmt.Fprintf(w, `<html><head><title>%s</title><meta name="description" content="%s"></head><body><nav>Home Shop Cart</nav><p>%s</p></body></html>`,
					p.title, p.snippet, p.body)
				return
			}
		}
		http.NotFound(w, r)
	})
	srv = httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

// chatAPI answers ranking prompts with a fixed order and anything else with
// a plain sentence.
func chatAPI(t *testing.T, rankCalls *atomic.Int32) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		content := "A short product summary."
		if strings.Contains(string(raw), "Rank all") {
			rankCalls.Add(1)
			content = "```json\n" + `{"ranking":[` +
				`{"id":"P2","score":9,"reason":"Noise cancelling suits a commute."},` +
				`{"id":"P1","score":7.5,"reason":"Best battery for the money."},` +
				`{"id":"P3","score":6,"reason":"Built for sport rather than travel."}]}` + "\n```"
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id":      "chatcmpl-it",
			"object":  "chat.completion",
			"created": 0,
			"model":   "test-model",
			"choices": []any{map[string]any{
				"index":         0,
				"finish_reason": "stop",
				"message":       map[string]any{"role": "assistant", "content": content},
			}},
		})
	}))
	t.Cleanup(srv.Close)
	return srv
}

type stack struct {
	handler http.Handler
	audit   storage.Backend
}

func buildStack(t *testing.T, site, chat *httptest.Server) stack {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	limiter := ratelimit.NewLimiter(0, 0)
	t.Cleanup(limiter.Stop)

	fetcher, err := scraper.NewFetcher(scraper.FetchConfig{
		Timeout:     5 * time.Second,
		UAPool:      useragent.NewPool([]string{"ShopSageIT/1.0"}),
		Fingerprint: fingerprint.ProfileChrome,
		Limiter:     limiter,
	})
	if err != nil {
		t.Fatalf("NewFetcher: %v", err)
	}

	audit, err := jsonbackend.New(filepath.Join(t.TempDir(), "audit.jsonl"))
	if err != nil {
		t.Fatalf("jsonbackend.New: %v", err)
	}
	t.Cleanup(func() { _ = audit.Close() })

	reasoner, err := llm.NewOpenAI(llm.OpenAIConfig{
		APIKey:  "it-key",
		BaseURL: chat.URL,
		Model:   "test-model",
		Timeout: 5 * time.Second,
	}, logger)
	if err != nil {
		t.Fatalf("NewOpenAI: %v", err)
	}

	sc := scout.New(serp.NewChain(logger, serp.NewDuckDuckGo(fetcher, site.URL+"/html/")), logger)
	en := enricher.New(enricher.Config{
		Mode:          enricher.ModePage,
		Concurrency:   3,
		ItemTimeout:   5 * time.Second,
		RespectRobots: true,
	}, fetcher, reasoner, audit, logger)
	jd := judge.New(reasoner, 1, logger)
	pl := pipeline.New(sc, en, jd, pipeline.Config{}, logger)

	return stack{handler: server.New(pl, sc, jd, logger).Handler(), audit: audit}
}

func post(t *testing.T, url, body string) (*http.Response, []byte) {
	t.Helper()
	resp, err := http.Post(url, "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("POST %s: %v", url, err)
	}
	defer resp.Body.Close()
	raw, _ := io.ReadAll(resp.Body)
	return resp, raw
}

func TestRecommendEndToEnd(t *testing.T) {
	var pageHits, rankCalls atomic.Int32
	site := shopSite(t, &pageHits)
	chat := chatAPI(t, &rankCalls)
	st := buildStack(t, site, chat)

	api := httptest.NewServer(st.handler)
	defer api.Close()

	resp, raw := post(t, api.URL+"/recommend", `{"question":"best earbuds for a commute"}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, body = %s", resp.StatusCode, raw)
	}

	var rec product.Recommendation
	if err := json.Unmarshal(raw, &rec); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if rec.Winner != "Beta Pods" {
		t.Errorf("winner = %q, want Beta Pods", rec.Winner)
	}
	want := []string{"Beta Pods", "Alpha Buds", "Gamma Ears"}
	if strings.Join(rec.Ranking, "|") != strings.Join(want, "|") {
		t.Errorf("ranking = %v, want %v", rec.Ranking, want)
	}
	if len(rec.Reasons) != len(rec.Ranking) {
		t.Errorf("got %d reasons for %d entries", len(rec.Reasons), len(rec.Ranking))
	}
	if len(rec.Sources) != len(products) {
		t.Fatalf("got %d sources, want %d", len(rec.Sources), len(products))
	}
	for i, src := range rec.Sources {
		if src.Title != products[i].title {
			t.Errorf("source %d = %q, want %q", i, src.Title, products[i].title)
		}
		if src.Summary == nil || !strings.Contains(*src.Summary, "earbuds") {
			t.Errorf("source %d summary = %v, want page text", i, src.Summary)
		}
	}

	if got := pageHits.Load(); got != int32(len(products)) {
		t.Errorf("product pages fetched %d times, want %d", got, len(products))
	}
	if got := rankCalls.Load(); got != 1 {
		t.Errorf("ranking calls = %d, want 1", got)
	}

	// Audit writes happen after each fetch returns; give them a moment.
	var audited []*storage.FetchResult
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		var err error
		audited, err = st.audit.Query(context.Background(), storage.Filter{})
		if err != nil {
			t.Fatalf("audit query: %v", err)
		}
		if len(audited) >= len(products) {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}
	if len(audited) != len(products) {
		t.Errorf("audit rows = %d, want %d", len(audited), len(products))
	}
}

func TestSearchAndAnalyzeEndToEnd(t *testing.T) {
	var pageHits, rankCalls atomic.Int32
	site := shopSite(t, &pageHits)
	chat := chatAPI(t, &rankCalls)
	st := buildStack(t, site, chat)

	api := httptest.NewServer(st.handler)
	defer api.Close()

	resp, raw := post(t, api.URL+"/search?query=earbuds&max_results=2", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("search status = %d, body = %s", resp.StatusCode, raw)
	}
	var found struct {
		Query   string                 `json:"query"`
		Results []product.RawCandidate `json:"results"`
	}
	if err := json.Unmarshal(raw, &found); err != nil {
		t.Fatalf("decode search: %v", err)
	}
	if len(found.Results) != 2 {
		t.Fatalf("got %d results, want 2", len(found.Results))
	}
	if strings.Contains(string(raw), "Sponsored") {
		t.Error("ad result leaked into search results")
	}

	// Feed all three products back through /analyze.
	var items []map[string]string
	for _, p := range products {
		items = append(items, map[string]string{"title": p.title, "url": site.URL + "/p/" + p.slug, "snippet": p.snippet})
	}
	body, _ := json.Marshal(items)
	resp, raw = post(t, api.URL+"/analyze?question=commute+earbuds", string(body))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("analyze status = %d, body = %s", resp.StatusCode, raw)
	}
	if !strings.Contains(string(raw), `"winner":"Beta Pods"`) {
		t.Errorf("analyze body = %s, want Beta Pods as winner", raw)
	}
	if pageHits.Load() != 0 {
		t.Errorf("search/analyze fetched %d product pages, want 0", pageHits.Load())
	}
}
