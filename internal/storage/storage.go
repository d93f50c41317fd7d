package storage

import (
	"context"
	"time"
)

// FetchResult is the outcome of one product page fetch made during enrichment.
// Body and Headers are kept in memory for extraction and bot detection only;
// backends persist the metadata.
type FetchResult struct {
	ID           string              `json:"id"`
	URL          string              `json:"url"`
	Domain       string              `json:"domain"`
	StatusCode   int                 `json:"status_code"`
	ContentType  string              `json:"content_type,omitempty"`
	Bytes        int64               `json:"bytes"`
	Duration     time.Duration       `json:"duration"`
	DetectedBot  bool                `json:"detected_bot"`
	DetectionSrc string              `json:"detection_src,omitempty"` // e.g. "Cloudflare", "Akamai"
	CreatedAt    time.Time           `json:"created_at"`
	Error        string              `json:"error,omitempty"` // set when no usable response was received
	Headers      map[string][]string `json:"-"`
	Body         []byte              `json:"-"`
}

// OK reports whether the fetch returned a usable, unchallenged 2xx response.
func (r *FetchResult) OK() bool {
	return r != nil && r.Error == "" && !r.DetectedBot && r.StatusCode >= 200 && r.StatusCode < 300
}

// Filter narrows an audit query.
type Filter struct {
	Domain      string
	DetectedBot *bool
	Since       *time.Time
	Limit       int
	Offset      int
}

// Backend stores and queries the fetch audit log.
type Backend interface {
	Save(ctx context.Context, result *FetchResult) error
	Query(ctx context.Context, filter Filter) ([]*FetchResult, error)
	Close() error
}
