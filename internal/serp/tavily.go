package serp

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/FranksOps/shopsage/pkg/httpclient"
	"github.com/FranksOps/shopsage/pkg/ratelimit"
)

// DefaultTavilyBaseURL is the public Tavily API root.
const DefaultTavilyBaseURL = "https://api.tavily.com"

// TavilyConfig configures the Tavily provider.
type TavilyConfig struct {
	APIKey  string
	BaseURL string
	Timeout time.Duration
	Limiter *ratelimit.Limiter
	// SearchDepth is "basic" or "advanced".
	SearchDepth string
}

// Tavily queries the Tavily search API.
type Tavily struct {
	cfg    TavilyConfig
	client *httpclient.Client
}

type tavilyRequest struct {
	Query         string `json:"query"`
	MaxResults    int    `json:"max_results"`
	SearchDepth   string `json:"search_depth"`
	IncludeAnswer bool   `json:"include_answer"`
}

type tavilyResponse struct {
	Results []struct {
		Title   string  `json:"title"`
		URL     string  `json:"url"`
		Content string  `json:"content"`
		Score   float64 `json:"score"`
	} `json:"results"`
}

// NewTavily creates a Tavily provider. An API key is required.
func NewTavily(cfg TavilyConfig) (*Tavily, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, errors.New("tavily: api key is required")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultTavilyBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.Timeout == 0 {
		cfg.Timeout = 15 * time.Second
	}
	if cfg.SearchDepth == "" {
		cfg.SearchDepth = "basic"
	}

	client, err := httpclient.New(httpclient.Config{Timeout: cfg.Timeout})
	if err != nil {
		return nil, fmt.Errorf("tavily: %w", err)
	}
	return &Tavily{cfg: cfg, client: client}, nil
}

func (t *Tavily) Name() string { return "tavily" }

func (t *Tavily) Search(ctx context.Context, query string, limit int) ([]Result, error) {
	if err := t.cfg.Limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter: %w", err)
	}

	var resp tavilyResponse
	err := t.client.PostJSON(ctx, t.cfg.BaseURL+"/search",
		map[string]string{"Authorization": "Bearer " + t.cfg.APIKey},
		tavilyRequest{
			Query:       query,
			MaxResults:  limit,
			SearchDepth: t.cfg.SearchDepth,
		}, &resp)
	if err != nil {
		return nil, fmt.Errorf("tavily search: %w", err)
	}

	results := make([]Result, 0, len(resp.Results))
	for _, r := range resp.Results {
		results = append(results, Result{
			Title:   r.Title,
			URL:     r.URL,
			Snippet: r.Content,
			Score:   r.Score,
		})
	}
	return results, nil
}
