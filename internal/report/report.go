package report

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"text/template"
	"time"

	"github.com/FranksOps/shopsage/internal/storage"
)

// DomainStat aggregates audited fetches for one retailer domain.
type DomainStat struct {
	Domain     string        `json:"domain"`
	Requests   int           `json:"requests"`
	Usable     int           `json:"usable"`
	Blocked    int           `json:"blocked"`
	Errors     int           `json:"errors"`
	AvgLatency time.Duration `json:"avg_latency"`
}

// Summary contains aggregated figures over the enrichment fetch audit log.
type Summary struct {
	TotalRequests   int            `json:"total_requests"`
	TotalUsable     int            `json:"total_usable"`
	TotalErrors     int            `json:"total_errors"`
	TotalDetections int            `json:"total_detections"`
	StatusCodes     map[int]int    `json:"status_codes"`
	DetectionsBySrc map[string]int `json:"detections_by_src"`
	TotalBytes      int64          `json:"total_bytes"`
	Domains         []DomainStat   `json:"domains"`
	StartTime       time.Time      `json:"start_time"`
	EndTime         time.Time      `json:"end_time"`
	Duration        time.Duration  `json:"duration"`
}

// GenerateSummary aggregates fetch results. Domains are ordered by request
// count, busiest first, then by name.
func GenerateSummary(results []*storage.FetchResult) Summary {
	s := Summary{
		StatusCodes:     make(map[int]int),
		DetectionsBySrc: make(map[string]int),
	}

	if len(results) == 0 {
		return s
	}

	s.StartTime = results[0].CreatedAt
	s.EndTime = results[0].CreatedAt

	byDomain := make(map[string]*DomainStat)
	latency := make(map[string]time.Duration)
	for _, r := range results {
		d, ok := byDomain[r.Domain]
		if !ok {
			d = &DomainStat{Domain: r.Domain}
			byDomain[r.Domain] = d
		}
		d.Requests++
		latency[r.Domain] += r.Duration

		s.TotalRequests++
		if r.OK() {
			s.TotalUsable++
			d.Usable++
		}
		if r.Error != "" {
			s.TotalErrors++
			d.Errors++
		}
		if r.DetectedBot {
			s.TotalDetections++
			s.DetectionsBySrc[r.DetectionSrc]++
			d.Blocked++
		}
		if r.StatusCode > 0 {
			s.StatusCodes[r.StatusCode]++
		}
		s.TotalBytes += r.Bytes

		if r.CreatedAt.Before(s.StartTime) {
			s.StartTime = r.CreatedAt
		}
		if r.CreatedAt.After(s.EndTime) {
			s.EndTime = r.CreatedAt
		}
	}

	for name, d := range byDomain {
		d.AvgLatency = latency[name] / time.Duration(d.Requests)
		s.Domains = append(s.Domains, *d)
	}
	sort.Slice(s.Domains, func(i, j int) bool {
		if s.Domains[i].Requests != s.Domains[j].Requests {
			return s.Domains[i].Requests > s.Domains[j].Requests
		}
		return s.Domains[i].Domain < s.Domains[j].Domain
	})

	s.Duration = s.EndTime.Sub(s.StartTime)
	return s
}

// WriteJSON writes the summary to the provided writer in JSON format.
func WriteJSON(w io.Writer, summary Summary) error {
	return writeJSON(w, summary)
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("encode json: %w", err)
	}
	return nil
}

var summaryTmpl = template.Must(template.New("summary").Parse(`ShopSage Fetch Audit
--------------------
Time:          {{.StartTime.Format "2006-01-02 15:04:05"}} - {{.EndTime.Format "2006-01-02 15:04:05"}}
Fetches:       {{.TotalRequests}} ({{.TotalUsable}} usable)
Total Bytes:   {{.TotalBytes}} bytes
Total Errors:  {{.TotalErrors}}

Status Codes:
{{- range $code, $count := .StatusCodes}}
  {{$code}}: {{$count}}
{{- else}}
  None
{{- end}}

Detections: {{.TotalDetections}}
{{- range $src, $count := .DetectionsBySrc}}
  {{$src}}: {{$count}}
{{- else}}
  None
{{- end}}

Domains:
{{- range .Domains}}
  {{.Domain}}: {{.Requests}} fetches, {{.Usable}} usable, {{.Blocked}} blocked, {{.Errors}} errors, avg {{.AvgLatency}}
{{- else}}
  None
{{- end}}
`))

// WriteText writes a human-readable text summary to the provided writer.
func WriteText(w io.Writer, summary Summary) error {
	if err := summaryTmpl.Execute(w, summary); err != nil {
		return fmt.Errorf("render summary: %w", err)
	}
	return nil
}
