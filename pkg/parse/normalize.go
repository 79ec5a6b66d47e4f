package parse

import (
	"net"
	"net/url"
	"strings"
)

var defaultPorts = map[string]string{"http": "80", "https": "443"}

// NormalizeURL renders u in the canonical form used as the visited-set key.
// Scheme and host are lowercased, the scheme's default port and any userinfo or fragment are dropped,
// and an empty path becomes "/". Query and trailing slash are kept as they are. u is not modified.
func NormalizeURL(u *url.URL) string {
	if u == nil {
		return ""
	}
	scheme := strings.ToLower(u.Scheme)
	host := strings.TrimPrefix(Origin(u), scheme+"://")

	canonical := url.URL{
		Scheme:     scheme,
		Opaque:     u.Opaque,
		Host:       host,
		Path:       u.Path,
		RawPath:    u.RawPath,
		ForceQuery: u.ForceQuery,
		RawQuery:   u.RawQuery,
	}
	if canonical.Path == "" {
		canonical.Path, canonical.RawPath = "/", ""
	}
	return canonical.String()
}

// Normalize resolves raw against base (nil base = raw must be absolute) and canonicalizes the result
// ok is false for malformed input, non-http(s) schemes, or a missing host; callers drop such URLs silently
func Normalize(raw string, base *url.URL) (string, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", false
	}

	ref, err := url.Parse(raw)
	if err != nil {
		return "", false
	}

	target := ref
	if base != nil {
		target = base.ResolveReference(ref)
	}

	scheme := strings.ToLower(target.Scheme)
	if scheme != "http" && scheme != "https" {
		return "", false
	}
	if target.Hostname() == "" {
		return "", false
	}
	return NormalizeURL(target), true
}

// Origin returns scheme://host[:port] of u in canonical form, with the scheme's default port dropped
func Origin(u *url.URL) string {
	scheme := strings.ToLower(u.Scheme)
	host := strings.ToLower(u.Host)
	if h, port, err := net.SplitHostPort(host); err == nil && defaultPorts[scheme] == port {
		host = h
	}
	return scheme + "://" + host
}
