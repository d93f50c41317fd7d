package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/FranksOps/shopsage/internal/metrics"
	"github.com/FranksOps/shopsage/internal/product"
	"github.com/FranksOps/shopsage/internal/scout"
)

// State is a pipeline run's position in its lifecycle.
type State int

const (
	Validating State = iota
	Searching
	Enriching
	Judging
	Done
	Errored
)

func (s State) String() string {
	switch s {
	case Validating:
		return "validating"
	case Searching:
		return "searching"
	case Enriching:
		return "enriching"
	case Judging:
		return "judging"
	case Done:
		return "done"
	case Errored:
		return "errored"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Searcher retrieves raw candidates for a query.
type Searcher interface {
	Search(ctx context.Context, query string, maxResults int) ([]product.RawCandidate, error)
}

// Enricher attaches summaries to raw candidates. It never fails.
type Enricher interface {
	Enrich(ctx context.Context, raws []product.RawCandidate) []product.Candidate
}

// Ranker produces a validated verdict for a candidate set.
type Ranker interface {
	Judge(ctx context.Context, question string, cands []product.Candidate) (product.Verdict, error)
}

// Config holds pipeline tuning.
type Config struct {
	// MaxResults is passed to the searcher. Zero means scout.DefaultMaxResults.
	MaxResults int
}

// Pipeline sequences search, enrichment and judging for one question. It holds
// only its collaborators, so one Pipeline serves concurrent runs.
type Pipeline struct {
	searcher Searcher
	enricher Enricher
	ranker   Ranker
	cfg      Config
	logger   *slog.Logger
}

// New creates a Pipeline.
func New(searcher Searcher, enricher Enricher, ranker Ranker, cfg Config, logger *slog.Logger) *Pipeline {
	if cfg.MaxResults == 0 {
		cfg.MaxResults = scout.DefaultMaxResults
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		searcher: searcher,
		enricher: enricher,
		ranker:   ranker,
		cfg:      cfg,
		logger:   logger,
	}
}

// run is the per-request state of one execution.
type run struct {
	id      string
	state   State
	started time.Time
	logger  *slog.Logger
}

func (r *run) enter(s State) {
	r.logger.Debug("pipeline transition", "from", r.state.String(), "to", s.String())
	r.state = s
	r.started = time.Now()
}

// leave records the duration of the current stage.
func (r *run) leave() {
	metrics.ObserveStage(r.state.String(), r.started)
}

func (r *run) fail(err error) error {
	r.leave()
	r.logger.Debug("pipeline failed", "state", r.state.String(), "err", err)
	r.state = Errored
	metrics.PipelineRuns.WithLabelValues(outcome(err)).Inc()
	return err
}

// Run answers question with a Recommendation. Search failures stop the run
// before enrichment; enrichment never fails; judge failures are returned as is.
func (p *Pipeline) Run(ctx context.Context, question string) (product.Recommendation, error) {
	id := uuid.NewString()
	r := &run{id: id, state: Validating, started: time.Now(), logger: p.logger.With("run_id", id)}

	query := strings.TrimSpace(question)
	if query == "" {
		return product.Recommendation{}, r.fail(fmt.Errorf("%w: question is empty", product.ErrInvalidQuery))
	}
	r.leave()

	r.enter(Searching)
	raws, err := p.searcher.Search(ctx, query, p.cfg.MaxResults)
	if err != nil {
		return product.Recommendation{}, r.fail(fmt.Errorf("search: %w", err))
	}
	r.logger.Debug("search complete", "candidates", len(raws))
	r.leave()

	r.enter(Enriching)
	cands := p.enricher.Enrich(ctx, raws)
	r.leave()

	r.enter(Judging)
	verdict, err := p.ranker.Judge(ctx, query, cands)
	if err != nil {
		return product.Recommendation{}, r.fail(err)
	}
	if err := product.CheckRanking(product.Labels(verdict.Sources), verdict.Winner, verdict.Ranking, verdict.Reasons); err != nil {
		return product.Recommendation{}, r.fail(fmt.Errorf("%w: %w", product.ErrJudgeFormat, err))
	}
	r.leave()

	r.enter(Done)
	metrics.PipelineRuns.WithLabelValues("ok").Inc()
	r.logger.Debug("pipeline complete", "winner", verdict.Winner, "candidates", len(verdict.Sources))

	return product.Recommendation{
		Query:   query,
		Winner:  verdict.Winner,
		Ranking: verdict.Ranking,
		Reasons: verdict.Reasons,
		Sources: verdict.Sources,
	}, nil
}

func outcome(err error) string {
	switch {
	case errors.Is(err, product.ErrInvalidQuery):
		return "invalid_query"
	case errors.Is(err, product.ErrSearchUnavailable):
		return "search_unavailable"
	case errors.Is(err, product.ErrInvalidInput):
		return "invalid_input"
	case errors.Is(err, product.ErrJudgeFormat):
		return "judge_format"
	case errors.Is(err, product.ErrReasonerUnavailable):
		return "reasoner_unavailable"
	default:
		return "error"
	}
}
