package config

import (
	"fmt"
	"math"
	"net"
	"net/url"
	"strconv"
	"strings"
	"time"

	"webspider/pkg/parse"
	"webspider/pkg/utils"
)

// Validate checks CrawlConfig fields and applies defaults.
// Returns collected warnings and a fatal error wrapping utils.ErrInvalidConfig.
// Modifies receiver in place to apply defaults.
func (c *CrawlConfig) Validate() (warnings []string, err error) {
	// Required: SeedURLs
	if len(c.SeedURLs) == 0 {
		return nil, fmt.Errorf("%w: at least one seed URL is required", utils.ErrInvalidConfig)
	}
	for i, seed := range c.SeedURLs {
		if _, ok := parse.Normalize(seed, nil); !ok {
			return nil, fmt.Errorf("%w: seed URL #%d (%q) is not a valid http(s) URL", utils.ErrInvalidConfig, i+1, seed)
		}
	}

	if c.Concurrency < 1 {
		return nil, fmt.Errorf("%w: concurrency must be >= 1, got %d", utils.ErrInvalidConfig, c.Concurrency)
	}
	if c.MaxPages < 0 {
		return nil, fmt.Errorf("%w: max_pages cannot be negative (0 = unbounded)", utils.ErrInvalidConfig)
	}
	if c.MaxDepth < 0 {
		return nil, fmt.Errorf("%w: max_depth cannot be negative", utils.ErrInvalidConfig)
	}
	if c.PolitenessDelay < 0 {
		return nil, fmt.Errorf("%w: politeness_delay cannot be negative", utils.ErrInvalidConfig)
	}
	if c.MaxRequestsPerHost < 0 {
		return nil, fmt.Errorf("%w: max_requests_per_host cannot be negative", utils.ErrInvalidConfig)
	}

	// RequestTimeout
	switch {
	case c.RequestTimeout < 0:
		return nil, fmt.Errorf("%w: request_timeout cannot be negative", utils.ErrInvalidConfig)
	case c.RequestTimeout == 0:
		warnings = append(warnings, fmt.Sprintf("request_timeout not set, defaulting to %v", DefaultRequestTimeout))
		c.RequestTimeout = DefaultRequestTimeout
	}

	if strings.TrimSpace(c.UserAgent) == "" {
		c.UserAgent = DefaultUserAgent
	}

	// Retries
	if c.MaxRetries == nil {
		retries := DefaultMaxRetries
		c.MaxRetries = &retries
	} else if *c.MaxRetries < 0 {
		return nil, fmt.Errorf("%w: max_retries cannot be negative", utils.ErrInvalidConfig)
	}
	if c.RetryBaseDelay <= 0 {
		c.RetryBaseDelay = DefaultRetryBaseDelay
	}
	if c.MaxRetryDelay <= 0 {
		c.MaxRetryDelay = DefaultMaxRetryDelay
	}
	if c.RetryBaseDelay > c.MaxRetryDelay {
		warnings = append(warnings, fmt.Sprintf(
			"retry_base_delay (%v) > max_retry_delay (%v), using max_retry_delay for both",
			c.RetryBaseDelay, c.MaxRetryDelay))
		c.RetryBaseDelay = c.MaxRetryDelay
	}

	if c.MaxBodyBytes <= 0 {
		c.MaxBodyBytes = DefaultMaxBodyBytes
	}

	// AllowedDomains normalization
	domains := make([]string, 0, len(c.AllowedDomains))
	for _, d := range c.AllowedDomains {
		host := normalizeHost(d)
		if host == "" {
			warnings = append(warnings, fmt.Sprintf("ignoring empty allowed domain entry %q", d))
			continue
		}
		domains = append(domains, host)
	}
	c.AllowedDomains = domains

	if _, err := c.PathFilters(); err != nil {
		return nil, err
	}

	return warnings, nil
}

// SeedOrigins returns the distinct scheme://host[:port] origins of the seed URLs, in seed order.
// A crawl with no AllowedDomains stays on exactly these origins.
func (c *CrawlConfig) SeedOrigins() []string {
	seen := make(map[string]bool)
	var origins []string
	for _, seed := range c.SeedURLs {
		normalized, ok := parse.Normalize(seed, nil)
		if !ok {
			continue
		}
		u, err := url.Parse(normalized)
		if err != nil {
			continue
		}
		origin := parse.Origin(u)
		if !seen[origin] {
			seen[origin] = true
			origins = append(origins, origin)
		}
	}
	return origins
}

// normalizeHost accepts "example.com", "Example.COM:8080" or "https://example.com/x" and returns the lowercase hostname
func normalizeHost(entry string) string {
	entry = strings.TrimSpace(strings.ToLower(entry))
	if entry == "" {
		return ""
	}
	if strings.Contains(entry, "://") {
		if u, err := url.Parse(entry); err == nil {
			return u.Hostname()
		}
		return ""
	}
	if host, _, err := net.SplitHostPort(entry); err == nil {
		return host
	}
	return strings.TrimSuffix(entry, "/")
}

// Validate checks AppConfig fields and applies sensible defaults.
// Returns collected warnings and any fatal error; the embedded crawl defaults are validated at crawl start, not here
// Modifies receiver in place to apply defaults.
func (c *AppConfig) Validate() (warnings []string, err error) {
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.ListenAddr == "" {
		c.ListenAddr = ":8080"
	}

	switch c.MCPTransport {
	case "":
		c.MCPTransport = "stdio"
	case "stdio", "sse":
	default:
		return warnings, fmt.Errorf("%w: mcp_transport must be 'stdio' or 'sse', got %q", utils.ErrInvalidConfig, c.MCPTransport)
	}
	if c.MCPAddr == "" {
		c.MCPAddr = ":8081"
	}

	if c.GCInterval < 0 {
		warnings = append(warnings, "gc_interval cannot be negative, using default")
		c.GCInterval = 0
	}
	if c.GCInterval == 0 {
		c.GCInterval = 10 * time.Minute
	}

	// Crawl defaults: only the fields a start request may leave empty
	if c.Crawl.Concurrency <= 0 {
		c.Crawl.Concurrency = DefaultConcurrency
	}

	// HTTPClientSettings defaults
	c.HTTPClientSettings.ApplyDefaults()

	return warnings, nil
}

// ApplyDefaults fills zero-valued transport settings
func (h *HTTPClientConfig) ApplyDefaults() {
	if h.MaxIdleConns <= 0 {
		h.MaxIdleConns = 100
	}
	if h.MaxIdleConnsPerHost <= 0 {
		h.MaxIdleConnsPerHost = 4
	}
	if h.IdleConnTimeout <= 0 {
		h.IdleConnTimeout = 90 * time.Second
	}
	if h.TLSHandshakeTimeout <= 0 {
		h.TLSHandshakeTimeout = 10 * time.Second
	}
	if h.ExpectContinueTimeout <= 0 {
		h.ExpectContinueTimeout = 1 * time.Second
	}
	if h.DialerTimeout <= 0 {
		h.DialerTimeout = 15 * time.Second
	}
	if h.DialerKeepAlive <= 0 {
		h.DialerKeepAlive = 30 * time.Second
	}
}

// ParseDuration accepts a Go duration ("1.5s", "250ms") or a bare number of seconds ("2", "0.5")
func ParseDuration(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}
	if secs, err := strconv.ParseFloat(s, 64); err == nil {
		if secs < 0 || math.IsNaN(secs) || math.IsInf(secs, 0) {
			return 0, fmt.Errorf("%w: negative duration %q", utils.ErrInvalidConfig, s)
		}
		return time.Duration(secs * float64(time.Second)), nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("%w: invalid duration %q: %w", utils.ErrInvalidConfig, s, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("%w: negative duration %q", utils.ErrInvalidConfig, s)
	}
	return d, nil
}
