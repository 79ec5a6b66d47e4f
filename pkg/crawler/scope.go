package crawler

import (
	"net/url"
	"regexp"
	"strings"

	"webspider/pkg/config"
	"webspider/pkg/parse"
)

// Scope decides which URLs a run may fetch.
// With allowed domains configured, a URL on any scheme or port of those domains or their subdomains is in scope.
// Without them, only the exact seed origins (scheme, host and port) are.
type Scope struct {
	domains    []string
	origins    map[string]bool
	disallowed []*regexp.Regexp
	describe   []string
}

// NewScope builds the scope of a validated crawl config
func NewScope(cfg config.CrawlConfig) (*Scope, error) {
	patterns, err := cfg.PathFilters()
	if err != nil {
		return nil, err
	}
	s := &Scope{disallowed: patterns}
	if len(cfg.AllowedDomains) > 0 {
		s.domains = append([]string(nil), cfg.AllowedDomains...)
		s.describe = s.domains
		return s, nil
	}
	s.origins = make(map[string]bool)
	for _, origin := range cfg.SeedOrigins() {
		s.origins[origin] = true
		s.describe = append(s.describe, origin)
	}
	return s, nil
}

// Allows reports whether u is inside the scope
func (s *Scope) Allows(u *url.URL) bool {
	if s.domains == nil {
		if !s.origins[parse.Origin(u)] {
			return false
		}
	} else if !s.allowsDomain(u.Hostname()) {
		return false
	}
	return s.allowsPath(u.Path)
}

func (s *Scope) allowsDomain(host string) bool {
	host = strings.ToLower(host)
	for _, allowed := range s.domains {
		if host == allowed || strings.HasSuffix(host, "."+allowed) {
			return true
		}
	}
	return false
}

func (s *Scope) allowsPath(path string) bool {
	if path == "" {
		path = "/"
	}
	for _, pattern := range s.disallowed {
		if pattern.MatchString(path) {
			return false
		}
	}
	return true
}

// Bounds lists the configured domains, or the seed origins when none are configured
func (s *Scope) Bounds() []string {
	return append([]string(nil), s.describe...)
}
