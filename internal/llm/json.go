package llm

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/kaptinlin/jsonrepair"
)

// ExtractJSON returns the first JSON object embedded in text, stripping
// markdown code fences. When no closing brace is found the remainder is
// returned so a repair pass can still close it.
func ExtractJSON(text string) (string, error) {
	text = strings.TrimSpace(text)
	if i := strings.Index(text, "```"); i >= 0 {
		rest := text[i+3:]
		if nl := strings.IndexByte(rest, '\n'); nl >= 0 {
			rest = rest[nl+1:]
		}
		if end := strings.Index(rest, "```"); end >= 0 {
			rest = rest[:end]
		}
		text = strings.TrimSpace(rest)
	}

	start := strings.IndexByte(text, '{')
	if start < 0 {
		return "", errors.New("no json object in response")
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(text); i++ {
		c := text[i]
		switch {
		case escaped:
			escaped = false
		case c == '\\' && inString:
			escaped = true
		case c == '"':
			inString = !inString
		case inString:
		case c == '{':
			depth++
		case c == '}':
			depth--
			if depth == 0 {
				return text[start : i+1], nil
			}
		}
	}
	return text[start:], nil
}

// DecodeJSON decodes the JSON object in a model answer into v. Malformed JSON
// (trailing commas, single quotes, truncation) is repaired once before giving up.
func DecodeJSON(text string, v any) error {
	raw, err := ExtractJSON(text)
	if err != nil {
		return err
	}

	originalErr := json.Unmarshal([]byte(raw), v)
	if originalErr == nil {
		return nil
	}

	repaired, err := jsonrepair.JSONRepair(raw)
	if err != nil {
		return fmt.Errorf("decode json: %w", originalErr)
	}
	if err := json.Unmarshal([]byte(repaired), v); err != nil {
		return fmt.Errorf("decode repaired json: %w", err)
	}
	return nil
}
