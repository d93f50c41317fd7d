package scraper

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// PageText is the readable content pulled from a product page.
type PageText struct {
	Title       string
	Description string
	Body        string
}

// Text joins the description and body into one block, description first.
func (p PageText) Text() string {
	switch {
	case p.Description == "":
		return p.Body
	case p.Body == "":
		return p.Description
	default:
		return p.Description + " " + p.Body
	}
}

// ExtractText parses an HTML document and returns its meta description and
// visible paragraph text. Chrome such as scripts and navigation is dropped.
func ExtractText(body []byte) (PageText, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return PageText{}, fmt.Errorf("parse html: %w", err)
	}

	doc.Find("script, style, noscript, nav, footer, header, form, iframe, svg").Remove()

	var out PageText
	out.Title = collapse(doc.Find("title").First().Text())

	for _, sel := range []string{
		`meta[name="description"]`,
		`meta[property="og:description"]`,
		`meta[name="twitter:description"]`,
	} {
		if v, ok := doc.Find(sel).First().Attr("content"); ok && strings.TrimSpace(v) != "" {
			out.Description = collapse(v)
			break
		}
	}

	var parts []string
	doc.Find("p, li").Each(func(_ int, s *goquery.Selection) {
		// nested list items would otherwise repeat their children's text
		if s.Find("p, li").Length() > 0 {
			return
		}
		if t := collapse(s.Text()); len(t) >= 20 {
			parts = append(parts, t)
		}
	})
	out.Body = strings.Join(parts, " ")

	return out, nil
}

func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
