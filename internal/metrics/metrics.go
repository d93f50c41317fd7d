package metrics

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/FranksOps/shopsage/internal/storage"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	PipelineRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "shopsage_pipeline_runs_total",
			Help: "Recommendation pipeline runs by outcome",
		},
		[]string{"outcome"},
	)

	StageDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "shopsage_stage_duration_seconds",
			Help:    "Duration of each pipeline stage in seconds",
			Buckets: []float64{0.05, 0.1, 0.5, 1, 2, 5, 10, 30, 60},
		},
		[]string{"stage"},
	)

	SearchRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "shopsage_search_requests_total",
			Help: "Search collaborator calls by provider and outcome",
		},
		[]string{"provider", "outcome"},
	)

	EnrichItems = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "shopsage_enrich_items_total",
			Help: "Enriched candidates by summary source (page, snippet, absent, skipped)",
		},
		[]string{"source"},
	)

	JudgeAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "shopsage_judge_attempts_total",
			Help: "Reasoning collaborator ranking attempts by result",
		},
		[]string{"result"},
	)

	FetchRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "shopsage_fetch_requests_total",
			Help: "Product page fetches executed during enrichment",
		},
		[]string{"domain", "status", "detected", "detection_src"},
	)

	FetchDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "shopsage_fetch_duration_seconds",
			Help:    "Duration of product page fetches in seconds",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"domain"},
	)

	FetchBytes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "shopsage_fetch_bytes_total",
			Help: "Bytes downloaded across product page fetches",
		},
		[]string{"domain"},
	)

	ProxyFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "shopsage_proxy_failures_total",
			Help: "Proxy failures during product page fetches",
		},
		[]string{"proxy_url"},
	)
)

// ObserveStage records how long a pipeline stage took.
func ObserveStage(stage string, started time.Time) {
	StageDuration.WithLabelValues(stage).Observe(time.Since(started).Seconds())
}

// RecordFetch updates fetch metrics from a page fetch result.
func RecordFetch(res *storage.FetchResult) {
	if res == nil {
		return
	}

	status := strconv.Itoa(res.StatusCode)
	if res.Error != "" {
		status = "error"
	}

	FetchRequests.WithLabelValues(res.Domain, status, strconv.FormatBool(res.DetectedBot), res.DetectionSrc).Inc()
	FetchDuration.WithLabelValues(res.Domain).Observe(res.Duration.Seconds())
	FetchBytes.WithLabelValues(res.Domain).Add(float64(res.Bytes))
}

// Handler serves the default registry in the Prometheus exposition format.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Server is a standalone metrics listener for deployments that scrape on a
// separate port.
type Server struct {
	srv *http.Server
}

// Start begins serving /metrics on addr in the background.
func Start(addr string, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler())

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server failed", "addr", addr, "err", err)
		}
	}()
	return &Server{srv: srv}
}

// Addr formats a listen address for port on all interfaces.
func Addr(port int) string {
	return fmt.Sprintf(":%d", port)
}

// Stop gracefully shuts down the metrics server.
func (s *Server) Stop(ctx context.Context) error {
	if s == nil || s.srv == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return s.srv.Shutdown(ctx)
}
