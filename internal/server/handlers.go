package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"

	"github.com/FranksOps/shopsage/internal/product"
	"github.com/FranksOps/shopsage/internal/scout"
)

type errorResponse struct {
	Detail string `json:"detail"`
}

func abort(c *gin.Context, status int, detail string) {
	c.AbortWithStatusJSON(status, errorResponse{Detail: detail})
}

func (s *Server) handleRoot(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"name":        serviceName,
		"version":     serviceVersion,
		"description": "AI-powered shopping recommendations",
		"endpoints": gin.H{
			"GET /health":     "Health check endpoint",
			"POST /recommend": "Get shopping recommendations",
			"POST /search":    "Search for products without analysis",
			"POST /analyze":   "Analyze and rank already retrieved products",
			"GET /metrics":    "Prometheus metrics",
			"GET /docs":       "Interactive API documentation",
		},
	})
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "healthy", "service": serviceName})
}

type recommendRequest struct {
	Question *string `json:"question" binding:"required"`
}

func (s *Server) handleRecommend(c *gin.Context) {
	var req recommendRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortBind(c, err)
		return
	}

	rec, err := s.pipeline.Run(c.Request.Context(), *req.Question)
	if err != nil {
		if product.IsClientError(err) {
			abort(c, http.StatusBadRequest, err.Error())
			return
		}
		s.logger.Error("recommendation failed", "err", err)
		abort(c, http.StatusInternalServerError, "Internal server error: "+err.Error())
		return
	}
	c.JSON(http.StatusOK, rec)
}

// searchRequest may arrive as a JSON body, query parameters, or both; query
// parameters win.
type searchRequest struct {
	Query      string `json:"query" form:"query"`
	MaxResults *int   `json:"max_results" form:"max_results"`
}

func (s *Server) handleSearch(c *gin.Context) {
	var req searchRequest
	if err := c.ShouldBindBodyWith(&req, binding.JSON); err != nil && !errors.Is(err, io.EOF) {
		abortBind(c, err)
		return
	}
	if err := c.ShouldBindQuery(&req); err != nil {
		abort(c, http.StatusBadRequest, "invalid query parameters: "+err.Error())
		return
	}

	maxResults := scout.DefaultMaxResults
	if req.MaxResults != nil {
		maxResults = *req.MaxResults
	}

	results, err := s.scout.Search(c.Request.Context(), req.Query, maxResults)
	if err != nil {
		if product.IsClientError(err) {
			abort(c, http.StatusBadRequest, err.Error())
			return
		}
		s.logger.Error("search failed", "err", err)
		abort(c, http.StatusInternalServerError, err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{"query": strings.TrimSpace(req.Query), "results": results})
}

type analyzeRequest struct {
	Products []map[string]any `json:"products"`
	Question string           `json:"question"`
}

type analyzeQuery struct {
	Question string `form:"question"`
}

// handleAnalyze accepts either {"products": [...], "question": "..."} or a bare
// product array with the question in the query string.
func (s *Server) handleAnalyze(c *gin.Context) {
	var req analyzeRequest
	if err := c.ShouldBindBodyWith(&req, binding.JSON); err != nil {
		var typeErr *json.UnmarshalTypeError
		if !errors.As(err, &typeErr) || c.ShouldBindBodyWith(&req.Products, binding.JSON) != nil {
			abortBind(c, err)
			return
		}
	}
	if strings.TrimSpace(req.Question) == "" {
		var q analyzeQuery
		if err := c.ShouldBindQuery(&q); err == nil {
			req.Question = q.Question
		}
	}

	cands, err := decodeProducts(req.Products)
	if err == nil {
		var verdict product.Verdict
		verdict, err = s.judge.Judge(c.Request.Context(), req.Question, cands)
		if err == nil {
			c.JSON(http.StatusOK, verdict)
			return
		}
	}

	s.logger.Error("analysis failed", "err", err)
	abort(c, http.StatusInternalServerError, err.Error())
}

// decodeProducts converts free-form product mappings into candidates. title and
// url are required strings and url must be absolute; snippet and summary are
// optional strings.
func decodeProducts(items []map[string]any) ([]product.Candidate, error) {
	out := make([]product.Candidate, 0, len(items))
	for i, item := range items {
		title, err := stringField(item, "title", true)
		if err != nil {
			return nil, fmt.Errorf("%w: product %d: %w", product.ErrInvalidInput, i, err)
		}
		rawURL, err := stringField(item, "url", true)
		if err != nil {
			return nil, fmt.Errorf("%w: product %d: %w", product.ErrInvalidInput, i, err)
		}
		if _, err := product.ValidateURL(rawURL); err != nil {
			return nil, fmt.Errorf("%w: product %d: %w", product.ErrInvalidInput, i, err)
		}
		snippet, err := stringField(item, "snippet", false)
		if err != nil {
			return nil, fmt.Errorf("%w: product %d: %w", product.ErrInvalidInput, i, err)
		}
		summary, err := stringField(item, "summary", false)
		if err != nil {
			return nil, fmt.Errorf("%w: product %d: %w", product.ErrInvalidInput, i, err)
		}

		out = append(out, product.WithSummary(product.RawCandidate{
			Title:   strings.TrimSpace(title),
			URL:     strings.TrimSpace(rawURL),
			Snippet: strings.TrimSpace(snippet),
		}, summary))
	}
	return out, nil
}

func stringField(item map[string]any, key string, required bool) (string, error) {
	v, ok := item[key]
	if !ok || v == nil {
		if required {
			return "", fmt.Errorf("%s is required", key)
		}
		return "", nil
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("%s must be a string, got %T", key, v)
	}
	if required && strings.TrimSpace(s) == "" {
		return "", fmt.Errorf("%s is required", key)
	}
	return s, nil
}

// abortBind maps a request binding failure onto a 4xx response.
func abortBind(c *gin.Context, err error) {
	var (
		tooLarge *http.MaxBytesError
		invalid  validator.ValidationErrors
	)
	switch {
	case errors.As(err, &tooLarge):
		abort(c, http.StatusRequestEntityTooLarge, fmt.Sprintf("request body exceeds %d bytes", tooLarge.Limit))
	case errors.Is(err, io.EOF):
		abort(c, http.StatusBadRequest, "request body is required")
	case errors.As(err, &invalid):
		msgs := make([]string, 0, len(invalid))
		for _, fe := range invalid {
			field := strings.ToLower(fe.Field())
			if fe.Tag() == "required" {
				msgs = append(msgs, field+" is required")
			} else {
				msgs = append(msgs, fmt.Sprintf("%s failed %s validation", field, fe.Tag()))
			}
		}
		abort(c, http.StatusBadRequest, strings.Join(msgs, "; "))
	default:
		abort(c, http.StatusBadRequest, "invalid request body: "+err.Error())
	}
}
