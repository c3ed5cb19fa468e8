package research

import (
	"fmt"
	"net/url"
	"strings"
)

// trackingParams are query parameters stripped during normalization so
// the same document reached through different campaign links collapses
// to one source identity.
var trackingParams = map[string]bool{
	"utm_source":   true,
	"utm_medium":   true,
	"utm_campaign": true,
	"utm_term":     true,
	"utm_content":  true,
	"gclid":        true,
	"fbclid":       true,
	"igshid":       true,
	"mc_cid":       true,
	"mc_eid":       true,
	"ref":          true,
	"ref_src":      true,
}

// NormalizeURL produces the session-wide identity key for a URL:
// lowercased scheme and host, default ports and fragments stripped,
// tracking parameters dropped, trailing slash trimmed.
func NormalizeURL(raw string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return "", fmt.Errorf("unparseable URL %q: %w", raw, err)
	}

	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return "", fmt.Errorf("unsupported scheme %q in %q", u.Scheme, raw)
	}
	u.Scheme = scheme

	host := strings.ToLower(u.Host)
	if host == "" {
		return "", fmt.Errorf("missing host in %q", raw)
	}
	switch {
	case scheme == "http" && strings.HasSuffix(host, ":80"):
		host = strings.TrimSuffix(host, ":80")
	case scheme == "https" && strings.HasSuffix(host, ":443"):
		host = strings.TrimSuffix(host, ":443")
	}
	u.Host = host

	u.Fragment = ""
	u.Path = strings.TrimSuffix(u.Path, "/")

	if u.RawQuery != "" {
		kept := make(url.Values)
		for key, vals := range u.Query() {
			if trackingParams[strings.ToLower(key)] {
				continue
			}
			kept[key] = vals
		}
		u.RawQuery = kept.Encode()
	}

	return u.String(), nil
}

// domainOf returns the registrable-ish domain of a normalized URL:
// the host without port or leading www.
func domainOf(normalized string) string {
	u, err := url.Parse(normalized)
	if err != nil || u.Host == "" {
		return ""
	}
	host := u.Host
	if i := strings.LastIndex(host, ":"); i > 0 && !strings.Contains(host, "]") {
		host = host[:i]
	}
	return strings.TrimPrefix(host, "www.")
}
