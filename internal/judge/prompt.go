package judge

import (
	"fmt"
	"strings"

	"github.com/FranksOps/shopsage/internal/product"
)

const systemPrompt = `You are a meticulous shopping analyst. Compare the products you are given against the shopper's question and rank every one of them from best to worst fit.

Respond with JSON only, no prose, in exactly this shape:
{"ranking":[{"id":"P1","score":8.5,"reason":"one or two sentences grounded in the product details"}]}

Rules:
- Include every product id exactly once.
- score is a number from 0 to 10, higher is better.
- reason must be non-empty and must only use facts from the product details.`

func buildPrompt(question string, cands []product.Candidate, labels []string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Question: %s\n\nProducts:\n", question)
	for i, c := range cands {
		summary := c.SummaryText()
		if summary == "" {
			summary = "n/a"
		}
		fmt.Fprintf(&b, "\n[%s] %s\nURL: %s\nSnippet: %s\nSummary: %s\n",
			id(i), labels[i], c.URL, c.Snippet, summary)
	}
	fmt.Fprintf(&b, "\nRank all %d products (%s).", len(cands), idList(len(cands)))
	return b.String()
}

func correction(problems []string, n int) string {
	var b strings.Builder
	b.WriteString("Your answer could not be used:\n")
	for _, p := range problems {
		fmt.Fprintf(&b, "- %s\n", p)
	}
	fmt.Fprintf(&b, "Reply again with JSON only. The ranking must contain each of %s exactly once, each with a non-empty reason.", idList(n))
	return b.String()
}

func idList(n int) string {
	ids := make([]string, n)
	for i := range ids {
		ids[i] = id(i)
	}
	return strings.Join(ids, ", ")
}
