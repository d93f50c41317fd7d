package product

import (
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strings"
)

var trackingParams = map[string]struct{}{
	"gclid":   {},
	"fbclid":  {},
	"msclkid": {},
	"mc_cid":  {},
	"mc_eid":  {},
	"ref":     {},
	"ref_src": {},
	"_ga":     {},
	"yclid":   {},
	"srsltid": {},
}

// ValidateURL parses raw and requires an absolute http(s) URL with a host.
func ValidateURL(raw string) (*url.URL, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return nil, fmt.Errorf("parse url: %w", err)
	}
	if !u.IsAbs() || u.Host == "" {
		return nil, errors.New("url is not absolute")
	}
	switch strings.ToLower(u.Scheme) {
	case "http", "https":
	default:
		return nil, fmt.Errorf("unsupported url scheme %q", u.Scheme)
	}
	return u, nil
}

// NormalizeURL returns the dedupe key for raw: lowercase scheme, host and path,
// no fragment, no trailing slash, no tracking parameters, remaining query sorted.
func NormalizeURL(raw string) (string, error) {
	u, err := ValidateURL(raw)
	if err != nil {
		return "", err
	}

	path := strings.ToLower(strings.TrimRight(u.EscapedPath(), "/"))

	q := u.Query()
	keys := make([]string, 0, len(q))
	for k := range q {
		lk := strings.ToLower(k)
		if _, tracked := trackingParams[lk]; tracked || strings.HasPrefix(lk, "utm_") {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString(strings.ToLower(u.Scheme))
	b.WriteString("://")
	b.WriteString(strings.ToLower(u.Host))
	b.WriteString(path)
	for i, k := range keys {
		if i == 0 {
			b.WriteByte('?')
		} else {
			b.WriteByte('&')
		}
		vals := q[k]
		sort.Strings(vals)
		for j, v := range vals {
			if j > 0 {
				b.WriteByte('&')
			}
			b.WriteString(url.QueryEscape(k))
			b.WriteByte('=')
			b.WriteString(url.QueryEscape(v))
		}
	}
	return b.String(), nil
}
