package cache

import (
	"net/http"
	"net/url"
	"sort"
	"strings"
)

// RequestKey returns the identity under which a response to req is stored.
// Only GET requests are cacheable, any other method yields an empty key.
func RequestKey(req *http.Request) string {
	if req.Method != "" && req.Method != http.MethodGet {
		return ""
	}
	return PathKey(req.URL)
}

// PathKey returns the cache key of a URL: its path followed by the sorted query
func PathKey(u *url.URL) string {
	p := u.EscapedPath()
	if p == "" {
		p = "/"
	}
	if u.RawQuery == "" {
		return p
	}
	q := normalizeQuery(u.Query())
	if q == "" {
		return p
	}

	return p + "?" + q
}

// normalizeQuery sorts query parameters and their values for consistent keys
func normalizeQuery(query url.Values) string {
	keys := make([]string, 0, len(query))
	for k := range query {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var parts []string
	for _, k := range keys {
		values := append([]string(nil), query[k]...)
		sort.Strings(values)
		for _, v := range values {
			parts = append(parts, url.QueryEscape(k)+"="+url.QueryEscape(v))
		}
	}

	return strings.Join(parts, "&")
}
