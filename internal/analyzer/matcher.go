package analyzer

import (
	"sort"
	"strings"
	"unicode"
)

var stopwords = map[string]struct{}{
	"a": {}, "an": {}, "and": {}, "are": {}, "best": {}, "buy": {}, "for": {},
	"from": {}, "good": {}, "i": {}, "in": {}, "is": {}, "me": {}, "my": {},
	"need": {}, "of": {}, "on": {}, "or": {}, "that": {}, "the": {}, "to": {},
	"under": {}, "what": {}, "which": {}, "with": {}, "want": {}, "top": {},
}

// Terms splits a shopping query into lowercase keywords, dropping stopwords,
// prices and single characters. Order follows first appearance.
func Terms(query string) []string {
	fields := strings.FieldsFunc(strings.ToLower(query), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '-'
	})

	seen := make(map[string]struct{}, len(fields))
	terms := make([]string, 0, len(fields))
	for _, f := range fields {
		f = strings.Trim(f, "-")
		if len([]rune(f)) < 2 || isNumber(f) {
			continue
		}
		if _, stop := stopwords[f]; stop {
			continue
		}
		if _, dup := seen[f]; dup {
			continue
		}
		seen[f] = struct{}{}
		terms = append(terms, f)
	}
	return terms
}

func isNumber(s string) bool {
	for _, r := range s {
		if !unicode.IsDigit(r) {
			return false
		}
	}
	return true
}

// KeySentences returns up to limit sentences from content that mention the
// most distinct terms. Ties keep document order, and the result is in
// document order. Sentences mentioning no term are never returned.
func KeySentences(content string, terms []string, limit int) []string {
	if content == "" || len(terms) == 0 || limit <= 0 {
		return nil
	}

	lowerTerms := make([]string, len(terms))
	for i, term := range terms {
		lowerTerms[i] = strings.ToLower(term)
	}

	type scored struct {
		idx   int
		score int
		text  string
	}
	var hits []scored
	for i, sd := range splitIntoSentences(content) {
		score := 0
		for _, lt := range lowerTerms {
			if strings.Contains(sd.lower, lt) {
				score++
			}
		}
		if score > 0 {
			hits = append(hits, scored{idx: i, score: score, text: sd.original})
		}
	}

	sort.SliceStable(hits, func(i, j int) bool { return hits[i].score > hits[j].score })
	if len(hits) > limit {
		hits = hits[:limit]
	}
	sort.Slice(hits, func(i, j int) bool { return hits[i].idx < hits[j].idx })

	out := make([]string, len(hits))
	for i, h := range hits {
		out[i] = h.text
	}
	return out
}

// sentenceData holds original and lowercase versions together
type sentenceData struct {
	original string
	lower    string
}

// splitIntoSentences splits on '.', '!' or '?' followed by whitespace, keeping
// the delimiter. Decimal points such as "5.3" do not end a sentence.
func splitIntoSentences(text string) []sentenceData {
	if len(text) == 0 {
		return nil
	}

	// Estimate sentence count: roughly 1 sentence per 50 chars average
	estimated := len(text) / 50
	if estimated < 1 {
		estimated = 1
	}

	sentences := make([]sentenceData, 0, estimated)
	add := func(s string) {
		s = strings.TrimSpace(s)
		if s == "" {
			return
		}
		sentences = append(sentences, sentenceData{original: s, lower: strings.ToLower(s)})
	}

	start := 0
	for i, r := range text {
		if r != '.' && r != '!' && r != '?' {
			continue
		}
		end := i + 1
		if end < len(text) && !unicode.IsSpace(rune(text[end])) {
			continue
		}
		for end < len(text) && unicode.IsSpace(rune(text[end])) {
			end++
		}
		add(text[start:end])
		start = end
	}

	// Capture any trailing text
	if start < len(text) {
		add(text[start:])
	}

	return sentences
}
