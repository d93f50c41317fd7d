package serp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/FranksOps/shopsage/internal/metrics"
)

// Result is one organic hit as a provider reports it, before Scout normalizes it.
type Result struct {
	Title   string  `json:"title"`
	URL     string  `json:"url"`
	Snippet string  `json:"snippet"`
	Score   float64 `json:"score,omitempty"`
}

// Provider abstracts a web search backend. Implementations may use an API or
// scrape a results page. The limit parameter caps the number of results returned.
type Provider interface {
	Name() string
	Search(ctx context.Context, query string, limit int) ([]Result, error)
}

// Chain tries providers in order and returns the first successful answer.
type Chain struct {
	providers []Provider
	logger    *slog.Logger
}

// NewChain builds a Chain. Nil providers are skipped.
func NewChain(logger *slog.Logger, providers ...Provider) *Chain {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Chain{logger: logger}
	for _, p := range providers {
		if p != nil {
			c.providers = append(c.providers, p)
		}
	}
	return c
}

func (c *Chain) Name() string { return "chain" }

// Search returns the first provider success, or the last error when all fail.
func (c *Chain) Search(ctx context.Context, query string, limit int) ([]Result, error) {
	var lastErr error
	for _, p := range c.providers {
		results, err := p.Search(ctx, query, limit)
		if err != nil {
			metrics.SearchRequests.WithLabelValues(p.Name(), "error").Inc()
			c.logger.Warn("search provider failed", "provider", p.Name(), "err", err)
			lastErr = fmt.Errorf("%s: %w", p.Name(), err)
			if ctx.Err() != nil {
				return nil, lastErr
			}
			continue
		}
		metrics.SearchRequests.WithLabelValues(p.Name(), "ok").Inc()
		return results, nil
	}
	if lastErr != nil {
		return nil, lastErr
	}
	return nil, errors.New("no search providers configured")
}
