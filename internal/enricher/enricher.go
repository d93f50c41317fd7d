package enricher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/FranksOps/shopsage/internal/analyzer"
	"github.com/FranksOps/shopsage/internal/llm"
	"github.com/FranksOps/shopsage/internal/metrics"
	"github.com/FranksOps/shopsage/internal/product"
	"github.com/FranksOps/shopsage/internal/scraper"
	"github.com/FranksOps/shopsage/internal/storage"
)

// Mode selects how summaries are produced.
type Mode string

const (
	ModePage    Mode = "page"    // fetch the product page, fall back to the snippet
	ModeSnippet Mode = "snippet" // rephrase the search snippet only
	ModeOff     Mode = "off"     // no summaries, no network
)

const (
	DefaultConcurrency = 6
	MaxConcurrency     = 16
	DefaultItemTimeout = 8 * time.Second

	keySentences = 3
)

// ParseMode maps a config value onto a Mode. Empty means ModePage.
func ParseMode(s string) (Mode, error) {
	switch m := Mode(strings.ToLower(strings.TrimSpace(s))); m {
	case "":
		return ModePage, nil
	case ModePage, ModeSnippet, ModeOff:
		return m, nil
	default:
		return "", fmt.Errorf("unknown enrich mode %q", s)
	}
}

// Config controls the enrichment worker pool.
type Config struct {
	Mode          Mode
	Concurrency   int
	ItemTimeout   time.Duration
	RespectRobots bool
}

// Enricher attaches a short summary to each candidate. Failures are per item
// and never abort a batch.
type Enricher struct {
	cfg      Config
	fetcher  *scraper.Fetcher
	reasoner llm.Reasoner
	audit    storage.Backend
	logger   *slog.Logger
}

// New creates an Enricher. fetcher, reasoner and audit may each be nil: without
// a fetcher the page path is skipped, without a reasoner the snippet is used as
// written, and without an audit backend fetches are only counted in metrics.
func New(cfg Config, fetcher *scraper.Fetcher, reasoner llm.Reasoner, audit storage.Backend, logger *slog.Logger) *Enricher {
	if cfg.Mode == "" {
		cfg.Mode = ModePage
	}
	switch {
	case cfg.Concurrency <= 0:
		cfg.Concurrency = DefaultConcurrency
	case cfg.Concurrency > MaxConcurrency:
		cfg.Concurrency = MaxConcurrency
	}
	if cfg.ItemTimeout <= 0 {
		cfg.ItemTimeout = DefaultItemTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Enricher{
		cfg:      cfg,
		fetcher:  fetcher,
		reasoner: reasoner,
		audit:    audit,
		logger:   logger,
	}
}

// Enrich returns one Candidate per input, in input order. A candidate whose
// summary could not be produced has a nil Summary.
func (e *Enricher) Enrich(ctx context.Context, raws []product.RawCandidate) []product.Candidate {
	out := product.Bare(raws)
	if len(raws) == 0 {
		return out
	}
	if e.cfg.Mode == ModeOff {
		metrics.EnrichItems.WithLabelValues("skipped").Add(float64(len(raws)))
		return out
	}

	var robots *scraper.RobotsTxtAuditor
	if e.cfg.RespectRobots && e.fetcher != nil && e.cfg.Mode == ModePage {
		robots = scraper.NewRobotsTxtAuditor(ctx, e.fetcher, e.logger)
	}

	g := new(errgroup.Group)
	g.SetLimit(e.cfg.Concurrency)
	for i, raw := range raws {
		g.Go(func() error {
			itemCtx, cancel := context.WithTimeout(ctx, e.cfg.ItemTimeout)
			defer cancel()

			summary, source, err := e.summarize(itemCtx, raw, robots)
			if err != nil {
				metrics.EnrichItems.WithLabelValues("absent").Inc()
				e.logger.Warn("enrichment failed", "url", raw.URL, "err", err)
				return nil
			}
			metrics.EnrichItems.WithLabelValues(source).Inc()
			out[i] = product.WithSummary(raw, summary)
			return nil
		})
	}
	_ = g.Wait()

	return out
}

func (e *Enricher) summarize(ctx context.Context, raw product.RawCandidate, robots *scraper.RobotsTxtAuditor) (string, string, error) {
	if e.cfg.Mode == ModePage && e.fetcher != nil {
		summary, err := e.fromPage(ctx, raw, robots)
		if err == nil {
			return summary, "page", nil
		}
		if ctx.Err() != nil {
			return "", "", err
		}
		e.logger.Debug("page summary unavailable, using snippet", "url", raw.URL, "err", err)
	}

	summary, err := e.fromSnippet(ctx, raw)
	if err != nil {
		return "", "", err
	}
	return summary, "snippet", nil
}

func (e *Enricher) fromPage(ctx context.Context, raw product.RawCandidate, robots *scraper.RobotsTxtAuditor) (string, error) {
	if robots != nil {
		allowed, err := robots.IsAllowed(ctx, raw.URL, e.fetcher.UserAgent())
		if err != nil {
			return "", err
		}
		if !allowed {
			return "", errors.New("disallowed by robots.txt")
		}
	}

	res, err := e.fetcher.Fetch(ctx, raw.URL)
	if res != nil {
		e.record(res)
	}
	if err != nil {
		return "", err
	}
	switch {
	case res.Error != "":
		return "", errors.New(res.Error)
	case res.DetectedBot:
		return "", fmt.Errorf("bot challenge from %s", res.DetectionSrc)
	case !res.OK():
		return "", fmt.Errorf("unexpected status %d", res.StatusCode)
	case !isHTML(res.ContentType):
		return "", fmt.Errorf("unsupported content type %q", res.ContentType)
	}

	page, err := scraper.ExtractText(res.Body)
	if err != nil {
		return "", err
	}

	terms := analyzer.Terms(raw.Title)
	if len(terms) == 0 {
		terms = analyzer.Terms(page.Title)
	}
	summary := strings.Join(analyzer.KeySentences(page.Body, terms, keySentences), " ")
	if summary == "" {
		summary = strings.Join(analyzer.KeySentences(page.Text(), terms, keySentences), " ")
	}
	if summary == "" {
		summary = page.Description
	}
	if summary == "" {
		return "", errors.New("page has no readable text")
	}
	return product.TruncateSummary(summary), nil
}

const rephrasePrompt = "You write one-sentence product summaries for a shopping assistant. " +
	"Rephrase the search snippet you are given as a single factual sentence about the product. " +
	"Do not invent specifications. Reply with the sentence only."

func (e *Enricher) fromSnippet(ctx context.Context, raw product.RawCandidate) (string, error) {
	if e.reasoner == nil {
		return product.TruncateSummary(raw.Snippet), nil
	}

	answer, err := e.reasoner.Complete(ctx, []llm.Message{
		llm.System(rephrasePrompt),
		llm.User(fmt.Sprintf("Product: %s\nSnippet: %s", raw.Title, raw.Snippet)),
	})
	if err != nil {
		return "", fmt.Errorf("rephrase snippet: %w", err)
	}
	answer = strings.Trim(strings.TrimSpace(answer), `"`)
	if answer == "" {
		return "", errors.New("rephrase snippet: empty answer")
	}
	return product.TruncateSummary(answer), nil
}

// record reports a page fetch to the audit log. Audit failures are logged only.
func (e *Enricher) record(res *storage.FetchResult) {
	if e.audit == nil {
		return
	}
	// The item context may already be expired; the audit write gets its own.
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := e.audit.Save(ctx, res); err != nil {
		e.logger.Warn("failed to save fetch audit", "url", res.URL, "err", err)
	}
}

func isHTML(contentType string) bool {
	ct := strings.ToLower(contentType)
	return ct == "" || strings.Contains(ct, "text/html") || strings.Contains(ct, "application/xhtml")
}
