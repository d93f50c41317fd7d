package report

import (
	"fmt"
	"io"
	"text/template"

	"github.com/FranksOps/shopsage/internal/product"
)

// rankedView pairs each ranked label with its reason and source for templates.
type rankedView struct {
	Rank    int
	Label   string
	Reason  string
	URL     string
	Summary string
}

func rankedRows(rec product.Recommendation) []rankedView {
	labels := product.Labels(rec.Sources)
	byLabel := make(map[string]product.Candidate, len(labels))
	for i, l := range labels {
		byLabel[l] = rec.Sources[i]
	}

	rows := make([]rankedView, len(rec.Ranking))
	for i, label := range rec.Ranking {
		c := byLabel[label]
		rows[i] = rankedView{
			Rank:    i + 1,
			Label:   label,
			URL:     c.URL,
			Summary: c.SummaryText(),
		}
		if i < len(rec.Reasons) {
			rows[i].Reason = rec.Reasons[i]
		}
	}
	return rows
}

var recommendationTmpl = template.Must(template.New("recommendation").Parse(`Question: {{.Query}}
Winner:   {{.Winner}}
{{range .Rows}}
{{.Rank}}. {{.Label}}
   {{.URL}}
   Why: {{.Reason}}
{{- if .Summary}}
   Summary: {{.Summary}}
{{- end}}
{{end}}`))

// WriteRecommendationText renders a recommendation for a terminal.
func WriteRecommendationText(w io.Writer, rec product.Recommendation) error {
	data := struct {
		product.Recommendation
		Rows []rankedView
	}{rec, rankedRows(rec)}
	if err := recommendationTmpl.Execute(w, data); err != nil {
		return fmt.Errorf("render recommendation: %w", err)
	}
	return nil
}

// WriteRecommendationJSON writes the recommendation exactly as the HTTP API returns it.
func WriteRecommendationJSON(w io.Writer, rec product.Recommendation) error {
	return writeJSON(w, rec)
}

var candidatesTmpl = template.Must(template.New("candidates").Parse(`{{range $i, $c := .}}{{$i}}. {{$c.Title}}
   {{$c.URL}}
   {{$c.Snippet}}
{{end}}`))

// WriteCandidatesText lists search results one block per candidate, numbered from 1.
func WriteCandidatesText(w io.Writer, cands []product.RawCandidate) error {
	numbered := make(map[int]product.RawCandidate, len(cands))
	for i, c := range cands {
		numbered[i+1] = c
	}
	if err := candidatesTmpl.Execute(w, numbered); err != nil {
		return fmt.Errorf("render candidates: %w", err)
	}
	return nil
}

// WriteCandidatesJSON writes search results as JSON.
func WriteCandidatesJSON(w io.Writer, query string, cands []product.RawCandidate) error {
	return writeJSON(w, struct {
		Query   string                 `json:"query"`
		Results []product.RawCandidate `json:"results"`
	}{query, cands})
}
