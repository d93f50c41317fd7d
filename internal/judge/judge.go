package judge

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"

	"github.com/FranksOps/shopsage/internal/llm"
	"github.com/FranksOps/shopsage/internal/metrics"
	"github.com/FranksOps/shopsage/internal/product"
)

// DefaultRetries is the number of corrective re-asks after the first attempt.
const DefaultRetries = 2

// Judge ranks enriched candidates for a question using a reasoning collaborator
// and validates the answer before returning it.
type Judge struct {
	reasoner llm.Reasoner
	retries  int
	logger   *slog.Logger
}

// New creates a Judge. A negative retries value means DefaultRetries.
func New(reasoner llm.Reasoner, retries int, logger *slog.Logger) *Judge {
	if retries < 0 {
		retries = DefaultRetries
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Judge{reasoner: reasoner, retries: retries, logger: logger}
}

type answer struct {
	Ranking []entry `json:"ranking"`
}

type entry struct {
	ID     string   `json:"id"`
	Title  string   `json:"title"`
	Score  *float64 `json:"score"`
	Reason string   `json:"reason"`
}

type ranked struct {
	index  int
	score  *float64
	reason string
}

// Judge returns a validated Verdict whose ranking is a permutation of the
// candidate labels. Unusable answers are re-asked; a collaborator transport
// failure is returned immediately.
func (j *Judge) Judge(ctx context.Context, question string, cands []product.Candidate) (product.Verdict, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return product.Verdict{}, fmt.Errorf("%w: question is empty", product.ErrInvalidInput)
	}
	if len(cands) == 0 {
		return product.Verdict{}, fmt.Errorf("%w: no candidates to judge", product.ErrInvalidInput)
	}

	if j.reasoner == nil {
		return product.Verdict{}, fmt.Errorf("judge: %w: not configured", product.ErrReasonerUnavailable)
	}

	labels := product.Labels(cands)
	messages := []llm.Message{
		llm.System(systemPrompt),
		llm.User(buildPrompt(question, cands, labels)),
	}

	var problems []string
	for attempt := 0; attempt <= j.retries; attempt++ {
		text, err := j.reasoner.Complete(ctx, messages)
		if err != nil {
			metrics.JudgeAttempts.WithLabelValues("error").Inc()
			return product.Verdict{}, fmt.Errorf("judge: %w", err)
		}

		order, probs := parse(text, labels)
		if len(probs) == 0 {
			metrics.JudgeAttempts.WithLabelValues("ok").Inc()
			return verdict(cands, labels, order), nil
		}

		metrics.JudgeAttempts.WithLabelValues("invalid").Inc()
		problems = probs
		j.logger.Warn("judge answer rejected",
			"attempt", attempt+1,
			"problems", strings.Join(probs, "; "),
		)
		messages = append(messages, llm.Assistant(text), llm.User(correction(probs, len(labels))))
	}

	return product.Verdict{}, fmt.Errorf("%w: %d attempts rejected, last: %s",
		product.ErrJudgeFormat, j.retries+1, strings.Join(problems, "; "))
}

// parse decodes and validates an answer, returning the ranked entries or the
// list of problems found.
func parse(text string, labels []string) ([]ranked, []string) {
	var ans answer
	if err := llm.DecodeJSON(text, &ans); err != nil {
		return nil, []string{"answer is not valid JSON: " + err.Error()}
	}
	if len(ans.Ranking) == 0 {
		return nil, []string{`answer has no "ranking" entries`}
	}

	byLabel := indexLabels(labels)

	var problems []string
	used := make(map[int]bool, len(labels))
	order := make([]ranked, 0, len(ans.Ranking))
	for _, e := range ans.Ranking {
		idx, ok := resolve(e, len(labels), byLabel)
		if !ok {
			problems = append(problems, fmt.Sprintf("unknown product %q", firstNonEmpty(e.ID, e.Title)))
			continue
		}
		if used[idx] {
			problems = append(problems, fmt.Sprintf("product %s ranked more than once", id(idx)))
			continue
		}
		used[idx] = true
		reason := strings.TrimSpace(e.Reason)
		if reason == "" {
			problems = append(problems, fmt.Sprintf("product %s has an empty reason", id(idx)))
		}
		order = append(order, ranked{index: idx, score: e.Score, reason: reason})
	}

	for i := range labels {
		if !used[i] {
			problems = append(problems, fmt.Sprintf("product %s is missing from the ranking", id(i)))
		}
	}
	if len(problems) > 0 {
		return nil, problems
	}
	return order, nil
}

// labelIndex looks labels up exactly, then case-insensitively when the
// folded form belongs to a single label.
type labelIndex struct {
	exact  map[string]int
	folded map[string]int
}

func indexLabels(labels []string) labelIndex {
	li := labelIndex{
		exact:  make(map[string]int, len(labels)),
		folded: make(map[string]int, len(labels)),
	}
	ambiguous := make(map[string]bool)
	for i, l := range labels {
		li.exact[l] = i
		key := strings.ToLower(l)
		if _, dup := li.folded[key]; dup {
			ambiguous[key] = true
			continue
		}
		li.folded[key] = i
	}
	for key := range ambiguous {
		delete(li.folded, key)
	}
	return li
}

func (li labelIndex) lookup(s string) (int, bool) {
	if idx, ok := li.exact[s]; ok {
		return idx, true
	}
	idx, ok := li.folded[strings.ToLower(s)]
	return idx, ok
}

// resolve maps an entry to a candidate index by id, falling back to a label match.
func resolve(e entry, n int, byLabel labelIndex) (int, bool) {
	if v := strings.TrimSpace(e.ID); v != "" {
		if idx, ok := parseID(v, n); ok {
			return idx, true
		}
		if idx, ok := byLabel.lookup(v); ok {
			return idx, true
		}
	}
	if v := strings.TrimSpace(e.Title); v != "" {
		if idx, ok := byLabel.lookup(v); ok {
			return idx, true
		}
	}
	return 0, false
}

func parseID(s string, n int) (int, bool) {
	if len(s) < 2 || (s[0] != 'P' && s[0] != 'p') {
		return 0, false
	}
	k, err := strconv.Atoi(s[1:])
	if err != nil || k < 1 || k > n {
		return 0, false
	}
	return k - 1, true
}

func id(idx int) string { return "P" + strconv.Itoa(idx+1) }

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

// verdict orders the entries and builds the Verdict. When every entry has a
// score, order is score descending with input position breaking ties;
// otherwise the collaborator's order stands.
func verdict(cands []product.Candidate, labels []string, order []ranked) product.Verdict {
	allScored := true
	for _, r := range order {
		if r.score == nil {
			allScored = false
			break
		}
	}
	if allScored {
		sort.SliceStable(order, func(a, b int) bool {
			if *order[a].score != *order[b].score {
				return *order[a].score > *order[b].score
			}
			return order[a].index < order[b].index
		})
	}

	v := product.Verdict{
		Ranking: make([]string, len(order)),
		Reasons: make([]string, len(order)),
		Sources: cands,
	}
	for i, r := range order {
		v.Ranking[i] = labels[r.index]
		v.Reasons[i] = r.reason
	}
	v.Winner = v.Ranking[0]
	return v
}
