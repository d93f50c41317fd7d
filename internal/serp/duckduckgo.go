package serp

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/FranksOps/shopsage/internal/storage"
	"github.com/PuerkitoBio/goquery"
)

// DefaultDuckDuckGoURL is the JavaScript-free results page.
const DefaultDuckDuckGoURL = "https://html.duckduckgo.com/html/"

// PageFetcher downloads a page. *scraper.Fetcher satisfies it.
type PageFetcher interface {
	Fetch(ctx context.Context, targetURL string) (*storage.FetchResult, error)
}

// DuckDuckGo scrapes the DuckDuckGo HTML results page. It needs no API key and
// serves as the fallback provider.
type DuckDuckGo struct {
	fetcher PageFetcher
	baseURL string
}

// NewDuckDuckGo creates the provider. An empty baseURL means DefaultDuckDuckGoURL.
func NewDuckDuckGo(fetcher PageFetcher, baseURL string) *DuckDuckGo {
	if baseURL == "" {
		baseURL = DefaultDuckDuckGoURL
	}
	return &DuckDuckGo{fetcher: fetcher, baseURL: baseURL}
}

func (d *DuckDuckGo) Name() string { return "ddg" }

func (d *DuckDuckGo) Search(ctx context.Context, query string, limit int) ([]Result, error) {
	if limit < 0 {
		return nil, fmt.Errorf("limit cannot be negative: %d", limit)
	}

	res, err := d.fetcher.Fetch(ctx, d.baseURL+"?"+url.Values{"q": {query}}.Encode())
	if err != nil {
		return nil, err
	}
	if res.Error != "" {
		return nil, errors.New(res.Error)
	}
	if res.DetectedBot {
		return nil, fmt.Errorf("blocked by %s", res.DetectionSrc)
	}
	if res.StatusCode != 200 {
		return nil, fmt.Errorf("unexpected status %d", res.StatusCode)
	}

	return parseDuckDuckGo(res.Body, limit)
}

func parseDuckDuckGo(body []byte, limit int) ([]Result, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parse results page: %w", err)
	}

	var results []Result
	doc.Find(".result").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		if s.HasClass("result--ad") {
			return true
		}
		link := s.Find("a.result__a").First()
		href, ok := link.Attr("href")
		if !ok {
			return true
		}
		results = append(results, Result{
			Title:   strings.TrimSpace(link.Text()),
			URL:     resolveRedirect(href),
			Snippet: strings.TrimSpace(s.Find(".result__snippet").First().Text()),
		})
		return limit == 0 || len(results) < limit
	})
	return results, nil
}

// resolveRedirect unwraps DuckDuckGo's /l/?uddg= click-tracking links.
func resolveRedirect(href string) string {
	if strings.HasPrefix(href, "//") {
		href = "https:" + href
	}
	u, err := url.Parse(href)
	if err != nil {
		return href
	}
	if target := u.Query().Get("uddg"); target != "" {
		return target
	}
	return href
}
