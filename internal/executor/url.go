package executor

import (
	"fmt"
	"net/url"
	"sort"
	"strings"
)

// BuildURL appends percent-encoded params to base. Keys are sorted, spaces
// become %20, a trailing "?" is reused and "?&" is collapsed.
func BuildURL(base string, params map[string]string) (string, error) {
	full := base
	if query := BuildQueryString(params); query != "" {
		switch {
		case strings.HasSuffix(base, "?"), strings.HasSuffix(base, "&"):
			full = base + query
		case strings.Contains(base, "?"):
			full = base + "&" + query
		default:
			full = base + "?" + query
		}
	}
	full = strings.Replace(full, "?&", "?", 1)

	u, err := url.Parse(full)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrMalformedURL, err)
	}
	if u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("%w: %q needs a scheme and a host", ErrMalformedURL, base)
	}
	return full, nil
}

// BuildQueryString encodes params as k=v pairs joined by &, sorted by key
func BuildQueryString(params map[string]string) string {
	if len(params) == 0 {
		return ""
	}
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	pairs := make([]string, 0, len(keys))
	for _, k := range keys {
		pairs = append(pairs, Encode(k)+"="+Encode(params[k]))
	}
	return strings.Join(pairs, "&")
}

// Encode percent-encodes s for a query component, with spaces as %20
func Encode(s string) string {
	return strings.ReplaceAll(url.QueryEscape(s), "+", "%20")
}

// Decode reverses Encode. A literal "+" decodes to a space.
func Decode(s string) (string, error) {
	return url.QueryUnescape(s)
}
