package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/FranksOps/shopsage/internal/product"
)

type fakePipeline struct {
	err      error
	question string
}

func (f *fakePipeline) Run(ctx context.Context, question string) (product.Recommendation, error) {
	f.question = question
	if f.err != nil {
		return product.Recommendation{}, f.err
	}
	if strings.TrimSpace(question) == "" {
		return product.Recommendation{}, fmt.Errorf("%w: question is empty", product.ErrInvalidQuery)
	}
	src := []product.Candidate{
		product.WithSummary(product.RawCandidate{Title: "Acme Buds", URL: "https://shop.example/a", Snippet: "s"}, "ANC"),
		{RawCandidate: product.RawCandidate{Title: "Lite Buds", URL: "https://shop.example/l", Snippet: "s"}},
	}
	return product.Recommendation{
		Query:   strings.TrimSpace(question),
		Winner:  "Acme Buds",
		Ranking: []string{"Acme Buds", "Lite Buds"},
		Reasons: []string{"best", "cheap"},
		Sources: src,
	}, nil
}

type fakeScout struct {
	err        error
	query      string
	maxResults int
}

func (f *fakeScout) Search(ctx context.Context, query string, maxResults int) ([]product.RawCandidate, error) {
	f.query, f.maxResults = query, maxResults
	if strings.TrimSpace(query) == "" {
		return nil, fmt.Errorf("%w: query is empty", product.ErrInvalidQuery)
	}
	if f.err != nil {
		return nil, f.err
	}
	return []product.RawCandidate{{Title: "Acme Buds", URL: "https://shop.example/a", Snippet: "s"}}, nil
}

type fakeJudge struct {
	err      error
	question string
	cands    []product.Candidate
}

func (f *fakeJudge) Judge(ctx context.Context, question string, cands []product.Candidate) (product.Verdict, error) {
	f.question, f.cands = question, cands
	if f.err != nil {
		return product.Verdict{}, f.err
	}
	if len(cands) == 0 || strings.TrimSpace(question) == "" {
		return product.Verdict{}, fmt.Errorf("%w: nothing to judge", product.ErrInvalidInput)
	}
	labels := product.Labels(cands)
	reasons := make([]string, len(labels))
	for i := range reasons {
		reasons[i] = "ok"
	}
	return product.Verdict{Winner: labels[0], Ranking: labels, Reasons: reasons, Sources: cands}, nil
}

type harness struct {
	pipeline *fakePipeline
	scout    *fakeScout
	judge    *fakeJudge
	handler  http.Handler
}

func newHarness() *harness {
	h := &harness{pipeline: &fakePipeline{}, scout: &fakeScout{}, judge: &fakeJudge{}}
	h.handler = New(h.pipeline, h.scout, h.judge, nil).Handler()
	return h
}

func (h *harness) do(method, target, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	h.handler.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("invalid JSON response %q: %v", rec.Body.String(), err)
	}
	return out
}

func TestRootAndHealth(t *testing.T) {
	h := newHarness()

	rec := h.do(http.MethodGet, "/", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("GET / = %d", rec.Code)
	}
	root := decode(t, rec)
	if root["name"] != "ShopSage API" || root["version"] != "1.0.0" {
		t.Errorf("unexpected metadata %v", root)
	}
	if _, ok := root["endpoints"].(map[string]any)["POST /recommend"]; !ok {
		t.Errorf("endpoint map missing /recommend: %v", root["endpoints"])
	}

	rec = h.do(http.MethodGet, "/health", "")
	health := decode(t, rec)
	if rec.Code != http.StatusOK || health["status"] != "healthy" || health["service"] != "ShopSage API" {
		t.Errorf("GET /health = %d %v", rec.Code, health)
	}
}

func TestRecommend(t *testing.T) {
	h := newHarness()

	rec := h.do(http.MethodPost, "/recommend", `{"question":"best earbuds"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d body=%s", rec.Code, rec.Body.String())
	}
	body := decode(t, rec)
	if body["query"] != "best earbuds" || body["winner"] != "Acme Buds" {
		t.Errorf("unexpected recommendation %v", body)
	}
	sources := body["sources"].([]any)
	if len(sources) != 2 {
		t.Fatalf("expected 2 sources, got %d", len(sources))
	}
	if v, ok := sources[1].(map[string]any)["summary"]; !ok || v != nil {
		t.Errorf("absent summary must be null, got %v", v)
	}
}

func TestRecommend_Errors(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		runErr     error
		wantStatus int
		wantDetail string
	}{
		{"empty question", `{"question":"   "}`, nil, http.StatusBadRequest, "question is empty"},
		{"missing question", `{}`, nil, http.StatusBadRequest, "question is required"},
		{"malformed", `{"question":`, nil, http.StatusBadRequest, "invalid request body"},
		{"wrong type", `{"question":42}`, nil, http.StatusBadRequest, "invalid request body"},
		{"no body", ``, nil, http.StatusBadRequest, "request body is required"},
		{"null question", `{"question":null}`, nil, http.StatusBadRequest, "question is required"},
		{"oversized", `{"question":"` + strings.Repeat("a", maxBodyBytes) + `"}`, nil, http.StatusRequestEntityTooLarge, "request body exceeds"},
		{"search down", `{"question":"earbuds"}`, fmt.Errorf("search: %w: timeout", product.ErrSearchUnavailable), http.StatusInternalServerError, "Internal server error: search:"},
		{"judge format", `{"question":"earbuds"}`, fmt.Errorf("%w: 3 attempts", product.ErrJudgeFormat), http.StatusInternalServerError, "Internal server error:"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness()
			h.pipeline.err = tt.runErr
			rec := h.do(http.MethodPost, "/recommend", tt.body)
			if rec.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d (%s)", rec.Code, tt.wantStatus, rec.Body.String())
			}
			detail, _ := decode(t, rec)["detail"].(string)
			if !strings.Contains(detail, tt.wantDetail) {
				t.Errorf("detail = %q, want it to contain %q", detail, tt.wantDetail)
			}
		})
	}
}

func TestSearch(t *testing.T) {
	h := newHarness()

	rec := h.do(http.MethodPost, "/search?query=earbuds", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d body=%s", rec.Code, rec.Body.String())
	}
	if h.scout.maxResults != 8 {
		t.Errorf("default max_results = %d, want 8", h.scout.maxResults)
	}
	body := decode(t, rec)
	if body["query"] != "earbuds" || len(body["results"].([]any)) != 1 {
		t.Errorf("unexpected body %v", body)
	}

	rec = h.do(http.MethodPost, "/search?query=earbuds&max_results=3", "")
	if rec.Code != http.StatusOK || h.scout.maxResults != 3 {
		t.Errorf("query string max_results not honored: %d, %d", rec.Code, h.scout.maxResults)
	}

	rec = h.do(http.MethodPost, "/search", `{"query":"headphones","max_results":0}`)
	if rec.Code != http.StatusOK || h.scout.query != "headphones" || h.scout.maxResults != 0 {
		t.Errorf("JSON body not honored: %d %q %d", rec.Code, h.scout.query, h.scout.maxResults)
	}

	rec = h.do(http.MethodPost, "/search?query=speakers", `{"query":"headphones","max_results":4}`)
	if rec.Code != http.StatusOK || h.scout.query != "speakers" || h.scout.maxResults != 4 {
		t.Errorf("query string should override body query only: %d %q %d", rec.Code, h.scout.query, h.scout.maxResults)
	}
}

func TestSearch_Errors(t *testing.T) {
	h := newHarness()
	if rec := h.do(http.MethodPost, "/search", ""); rec.Code != http.StatusBadRequest {
		t.Errorf("missing query: status %d, want 400", rec.Code)
	}
	if rec := h.do(http.MethodPost, "/search?query=x&max_results=lots", ""); rec.Code != http.StatusBadRequest {
		t.Errorf("bad max_results: status %d, want 400", rec.Code)
	}
	if rec := h.do(http.MethodPost, "/search", `{"query":`); rec.Code != http.StatusBadRequest {
		t.Errorf("malformed body: status %d, want 400", rec.Code)
	}

	h.scout.err = fmt.Errorf("%w: tavily: status 503", product.ErrSearchUnavailable)
	rec := h.do(http.MethodPost, "/search?query=earbuds", "")
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rec.Code)
	}
	if detail, _ := decode(t, rec)["detail"].(string); !strings.Contains(detail, "search unavailable") {
		t.Errorf("detail = %q", detail)
	}
}

func TestAnalyze(t *testing.T) {
	h := newHarness()

	body := `{"question":"which buds?","products":[
		{"title":"Acme Buds","url":"https://shop.example/a","snippet":"ANC","summary":null},
		{"title":"Lite Buds","url":"https://shop.example/l","summary":"Cheap and light","price":"$20"}
	]}`
	rec := h.do(http.MethodPost, "/analyze", body)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d body=%s", rec.Code, rec.Body.String())
	}
	if h.judge.question != "which buds?" || len(h.judge.cands) != 2 {
		t.Fatalf("judge got %q with %d candidates", h.judge.question, len(h.judge.cands))
	}
	if h.judge.cands[0].HasSummary() || h.judge.cands[1].SummaryText() != "Cheap and light" {
		t.Errorf("summaries not decoded: %+v", h.judge.cands)
	}
	verdict := decode(t, rec)
	if verdict["winner"] != "Acme Buds" {
		t.Errorf("unexpected verdict %v", verdict)
	}
}

func TestAnalyze_BareArrayWithQueryQuestion(t *testing.T) {
	h := newHarness()
	rec := h.do(http.MethodPost, "/analyze?question=cheapest",
		`[{"title":"Acme Buds","url":"https://shop.example/a","snippet":"ANC"}]`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d body=%s", rec.Code, rec.Body.String())
	}
	if h.judge.question != "cheapest" {
		t.Errorf("question = %q", h.judge.question)
	}
}

func TestAnalyze_Errors(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		judgeErr   error
		wantStatus int
	}{
		{"malformed", `{"products":[`, nil, http.StatusBadRequest},
		{"empty body", ``, nil, http.StatusBadRequest},
		{"products not a list", `{"question":"q","products":5}`, nil, http.StatusBadRequest},
		{"missing title", `{"question":"q","products":[{"url":"https://a.example"}]}`, nil, http.StatusInternalServerError},
		{"relative url", `{"question":"q","products":[{"title":"A","url":"/a"}]}`, nil, http.StatusInternalServerError},
		{"non-string snippet", `{"question":"q","products":[{"title":"A","url":"https://a.example","snippet":5}]}`, nil, http.StatusInternalServerError},
		{"no products", `{"question":"q","products":[]}`, nil, http.StatusInternalServerError},
		{"judge format", `{"question":"q","products":[{"title":"A","url":"https://a.example"}]}`, fmt.Errorf("%w: exhausted", product.ErrJudgeFormat), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness()
			h.judge.err = tt.judgeErr
			rec := h.do(http.MethodPost, "/analyze", tt.body)
			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d (%s)", rec.Code, tt.wantStatus, rec.Body.String())
			}
			if _, ok := decode(t, rec)["detail"]; !ok {
				t.Errorf("error response must carry detail: %s", rec.Body.String())
			}
		})
	}
}

func TestDecodeProducts(t *testing.T) {
	cands, err := decodeProducts([]map[string]any{
		{"title": "  Acme  ", "url": " https://shop.example/a ", "snippet": "s", "summary": "  "},
	})
	if err != nil {
		t.Fatalf("decodeProducts: %v", err)
	}
	if cands[0].Title != "Acme" || cands[0].URL != "https://shop.example/a" || cands[0].HasSummary() {
		t.Errorf("unexpected candidate %+v", cands[0])
	}

	_, err = decodeProducts([]map[string]any{{"title": 3, "url": "https://shop.example/a"}})
	if !errors.Is(err, product.ErrInvalidInput) {
		t.Errorf("expected ErrInvalidInput, got %v", err)
	}
}

func TestCORSPreflight(t *testing.T) {
	h := newHarness()
	req := httptest.NewRequest(http.MethodOptions, "/recommend", nil)
	req.Header.Set("Origin", "https://app.example")
	req.Header.Set("Access-Control-Request-Method", "POST")
	req.Header.Set("Access-Control-Request-Headers", "content-type")
	rec := httptest.NewRecorder()
	h.handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusNoContent {
		t.Errorf("preflight status = %d, want 204", rec.Code)
	}
	if rec.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Errorf("missing allow-origin header")
	}
	if rec.Header().Get("Access-Control-Allow-Headers") != "content-type" {
		t.Errorf("allow-headers = %q", rec.Header().Get("Access-Control-Allow-Headers"))
	}
}

func TestDocs(t *testing.T) {
	h := newHarness()

	rec := h.do(http.MethodGet, "/openapi.json", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("GET /openapi.json = %d", rec.Code)
	}
	doc := decode(t, rec)
	paths, _ := doc["paths"].(map[string]any)
	for _, p := range []string{"/recommend", "/search", "/analyze", "/health"} {
		if _, ok := paths[p]; !ok {
			t.Errorf("openapi document missing %s", p)
		}
	}

	rec = h.do(http.MethodGet, "/docs", "")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "/openapi.json") {
		t.Errorf("GET /docs = %d %q", rec.Code, rec.Body.String())
	}

	root := decode(t, h.do(http.MethodGet, "/", ""))
	if _, ok := root["endpoints"].(map[string]any)["GET /docs"]; !ok {
		t.Errorf("endpoint map missing /docs: %v", root["endpoints"])
	}
}

func TestMetricsEndpoint(t *testing.T) {
	h := newHarness()
	rec := h.do(http.MethodGet, "/metrics", "")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "go_goroutines") {
		t.Errorf("GET /metrics = %d", rec.Code)
	}
}

func TestListenAndServe_Shutdown(t *testing.T) {
	h := newHarness()
	srv := New(h.pipeline, h.scout, h.judge, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.ListenAndServe(ctx, "127.0.0.1:0") }()
	cancel()

	if err := <-done; err != nil {
		t.Errorf("ListenAndServe returned %v after cancel", err)
	}
}
