package scout

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/FranksOps/shopsage/internal/product"
	"github.com/FranksOps/shopsage/internal/serp"
)

const (
	DefaultMaxResults = 8
	MinResults        = 1
	MaxResults        = 20
)

// Scout turns a shopping question into a deduplicated list of raw candidates.
// It keeps no state between calls.
type Scout struct {
	provider serp.Provider
	logger   *slog.Logger
}

// New creates a Scout backed by provider.
func New(provider serp.Provider, logger *slog.Logger) *Scout {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scout{provider: provider, logger: logger}
}

// ClampResults bounds n to [MinResults, MaxResults].
func ClampResults(n int) int {
	switch {
	case n < MinResults:
		return MinResults
	case n > MaxResults:
		return MaxResults
	default:
		return n
	}
}

// Search queries the provider and returns at most maxResults well-formed,
// URL-unique candidates in provider order.
func (s *Scout) Search(ctx context.Context, query string, maxResults int) ([]product.RawCandidate, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, fmt.Errorf("%w: query is empty", product.ErrInvalidQuery)
	}
	limit := ClampResults(maxResults)

	results, err := s.provider.Search(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", product.ErrSearchUnavailable, err)
	}

	out := make([]product.RawCandidate, 0, limit)
	seen := make(map[string]struct{}, len(results))
	dropped := 0
	for _, r := range results {
		if len(out) == limit {
			break
		}
		c, key, ok := normalize(r)
		if !ok {
			dropped++
			continue
		}
		if _, dup := seen[key]; dup {
			dropped++
			continue
		}
		seen[key] = struct{}{}
		out = append(out, c)
	}

	s.logger.Debug("scout search complete",
		"provider", s.provider.Name(),
		"received", len(results),
		"kept", len(out),
		"dropped", dropped,
	)
	return out, nil
}

func normalize(r serp.Result) (product.RawCandidate, string, bool) {
	c := product.RawCandidate{
		Title:   collapse(r.Title),
		URL:     strings.TrimSpace(r.URL),
		Snippet: collapse(r.Snippet),
	}
	if c.Title == "" || c.Snippet == "" {
		return c, "", false
	}
	key, err := product.NormalizeURL(c.URL)
	if err != nil {
		return c, "", false
	}
	return c, key, true
}

func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
