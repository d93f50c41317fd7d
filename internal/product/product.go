package product

import (
	"fmt"
	"strings"
)

// MaxSummaryRunes bounds the length of an enrichment summary.
const MaxSummaryRunes = 280

// RawCandidate is a single normalized search hit. Scout is the only producer.
type RawCandidate struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Snippet string `json:"snippet"`
}

// Candidate is a RawCandidate plus an optional summary. A nil Summary means
// enrichment failed or was skipped for that item.
type Candidate struct {
	RawCandidate
	Summary *string `json:"summary"`
}

// Verdict is the Judge's validated ranking of a candidate set.
type Verdict struct {
	Winner  string      `json:"winner"`
	Ranking []string    `json:"ranking"`
	Reasons []string    `json:"reasons"`
	Sources []Candidate `json:"sources"`
}

// Recommendation is the pipeline's externally returned result.
type Recommendation struct {
	Query   string      `json:"query"`
	Winner  string      `json:"winner"`
	Ranking []string    `json:"ranking"`
	Reasons []string    `json:"reasons"`
	Sources []Candidate `json:"sources"`
}

// HasSummary reports whether enrichment produced a summary.
func (c Candidate) HasSummary() bool {
	return c.Summary != nil
}

// SummaryText returns the summary or an empty string when absent.
func (c Candidate) SummaryText() string {
	if c.Summary == nil {
		return ""
	}
	return *c.Summary
}

// WithSummary returns a Candidate wrapping raw. Blank summaries are treated as absent.
func WithSummary(raw RawCandidate, summary string) Candidate {
	c := Candidate{RawCandidate: raw}
	if s := strings.TrimSpace(summary); s != "" {
		c.Summary = &s
	}
	return c
}

// Bare wraps raw candidates without summaries.
func Bare(raw []RawCandidate) []Candidate {
	out := make([]Candidate, len(raw))
	for i, r := range raw {
		out[i] = Candidate{RawCandidate: r}
	}
	return out
}

// Labels returns the stable identifier for every candidate in order: the trimmed
// title, with " (n)" appended to repeated titles so every label is unique.
func Labels(cands []Candidate) []string {
	labels := make([]string, len(cands))
	seen := make(map[string]int, len(cands))
	taken := make(map[string]struct{}, len(cands))
	for i, c := range cands {
		base := strings.TrimSpace(c.Title)
		label := base
		for {
			if _, dup := taken[label]; !dup {
				break
			}
			seen[base]++
			label = fmt.Sprintf("%s (%d)", base, seen[base]+1)
		}
		taken[label] = struct{}{}
		labels[i] = label
	}
	return labels
}

// CheckRanking verifies that ranking is an exact permutation of labels, that
// winner heads it, and that there is one reason per ranked entry.
func CheckRanking(labels []string, winner string, ranking, reasons []string) error {
	if len(ranking) != len(labels) {
		return fmt.Errorf("ranking has %d entries, want %d", len(ranking), len(labels))
	}
	want := make(map[string]int, len(labels))
	for _, l := range labels {
		want[l]++
	}
	for _, r := range ranking {
		if want[r] == 0 {
			return fmt.Errorf("ranking entry %q is unknown or repeated", r)
		}
		want[r]--
	}
	if len(ranking) > 0 && winner != ranking[0] {
		return fmt.Errorf("winner %q is not the first ranked entry %q", winner, ranking[0])
	}
	if len(reasons) != len(ranking) {
		return fmt.Errorf("got %d reasons for %d ranked entries", len(reasons), len(ranking))
	}
	return nil
}

// TruncateSummary collapses whitespace and bounds s to MaxSummaryRunes, cutting on a
// word boundary and appending an ellipsis when shortened.
func TruncateSummary(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	runes := []rune(s)
	if len(runes) <= MaxSummaryRunes {
		return s
	}
	cut := runes[:MaxSummaryRunes-1]
	if i := lastSpace(cut); i > MaxSummaryRunes/2 {
		cut = cut[:i]
	}
	return strings.TrimRight(string(cut), " ,;:.-") + "…"
}

func lastSpace(rs []rune) int {
	for i := len(rs) - 1; i >= 0; i-- {
		if rs[i] == ' ' {
			return i
		}
	}
	return -1
}
