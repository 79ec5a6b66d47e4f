package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Build metadata, overridden via -ldflags "-X webspider/pkg/config.Version=..."
var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

// CrawlConfig holds the settings of one crawl run
// The controller keeps a private copy once the run starts, so callers may reuse or mutate theirs
type CrawlConfig struct {
	SeedURLs               []string      `yaml:"seed_urls"`
	MaxPages               int           `yaml:"max_pages"` // 0 = unbounded
	MaxDepth               int           `yaml:"max_depth"` // Seeds are depth 0
	Concurrency            int           `yaml:"concurrency"`
	AllowedDomains         []string      `yaml:"allowed_domains,omitempty"` // Empty = hosts of the seeds
	RequestTimeout         time.Duration `yaml:"request_timeout,omitempty"`
	PolitenessDelay        time.Duration `yaml:"politeness_delay,omitempty"` // Minimum spacing between requests to one host
	UserAgent              string        `yaml:"user_agent,omitempty"`
	MaxRetries             *int          `yaml:"max_retries,omitempty"` // nil = default, 0 = no retries
	RetryBaseDelay         time.Duration `yaml:"retry_base_delay,omitempty"`
	MaxRetryDelay          time.Duration `yaml:"max_retry_delay,omitempty"`
	MaxRequestsPerHost     int           `yaml:"max_requests_per_host,omitempty"` // 0 = concurrency
	RespectRobots          bool          `yaml:"respect_robots,omitempty"`
	RespectNofollow        bool          `yaml:"respect_nofollow,omitempty"`
	UseSitemaps            bool          `yaml:"use_sitemaps,omitempty"`             // Also seed from /sitemap.xml and robots.txt Sitemap directives
	DisallowedPathPatterns []string      `yaml:"disallowed_path_patterns,omitempty"` // Regex patterns for paths to exclude
	MaxBodyBytes           int64         `yaml:"max_body_bytes,omitempty"`
	StateDir               string        `yaml:"state_dir,omitempty"` // Empty = in-memory visited set
}

// Defaults applied by Validate
const (
	DefaultConcurrency    = 8
	DefaultRequestTimeout = 30 * time.Second
	DefaultUserAgent      = "webspider/1.0"
	DefaultMaxRetries     = 2
	DefaultRetryBaseDelay = 500 * time.Millisecond
	DefaultMaxRetryDelay  = 10 * time.Second
	DefaultMaxBodyBytes   = 10 << 20
)

// NewCrawlConfig returns a config for the given seeds with every other field at its default
func NewCrawlConfig(seeds ...string) CrawlConfig {
	retries := DefaultMaxRetries
	return CrawlConfig{
		SeedURLs:       seeds,
		Concurrency:    DefaultConcurrency,
		RequestTimeout: DefaultRequestTimeout,
		UserAgent:      DefaultUserAgent,
		MaxRetries:     &retries,
		RetryBaseDelay: DefaultRetryBaseDelay,
		MaxRetryDelay:  DefaultMaxRetryDelay,
		MaxBodyBytes:   DefaultMaxBodyBytes,
	}
}

// Clone returns a deep copy
func (c CrawlConfig) Clone() CrawlConfig {
	out := c
	out.SeedURLs = append([]string(nil), c.SeedURLs...)
	out.AllowedDomains = append([]string(nil), c.AllowedDomains...)
	out.DisallowedPathPatterns = append([]string(nil), c.DisallowedPathPatterns...)
	if c.MaxRetries != nil {
		retries := *c.MaxRetries
		out.MaxRetries = &retries
	}
	return out
}

// EffectiveMaxRetries returns the retry budget, falling back to the default when unset
func (c CrawlConfig) EffectiveMaxRetries() int {
	if c.MaxRetries != nil {
		return *c.MaxRetries
	}
	return DefaultMaxRetries
}

// AppConfig holds the process-level configuration loaded from YAML
type AppConfig struct {
	LogLevel           string           `yaml:"log_level,omitempty"`
	ListenAddr         string           `yaml:"listen_addr,omitempty"`      // HTTP API address for "serve"
	MCPTransport       string           `yaml:"mcp_transport,omitempty"`    // "stdio" or "sse"
	MCPAddr            string           `yaml:"mcp_addr,omitempty"`         // SSE listen address
	GCInterval         time.Duration    `yaml:"gc_interval,omitempty"`      // BadgerDB value log GC period
	VisitedLogPath     string           `yaml:"visited_log_path,omitempty"` // Written after a CLI crawl when set
	HTTPClientSettings HTTPClientConfig `yaml:"http_client_settings,omitempty"`
	Crawl              CrawlConfig      `yaml:"crawl"` // Defaults for CLI crawls and for API start requests
}

// HTTPClientConfig holds settings for the shared HTTP transport
// Per-request timeouts come from CrawlConfig.RequestTimeout
type HTTPClientConfig struct {
	MaxIdleConns          int           `yaml:"max_idle_conns,omitempty"`          // Max total idle connections
	MaxIdleConnsPerHost   int           `yaml:"max_idle_conns_per_host,omitempty"` // Max idle connections per host
	IdleConnTimeout       time.Duration `yaml:"idle_conn_timeout,omitempty"`       // Timeout for idle connections
	TLSHandshakeTimeout   time.Duration `yaml:"tls_handshake_timeout,omitempty"`   // Timeout for TLS handshake
	ExpectContinueTimeout time.Duration `yaml:"expect_continue_timeout,omitempty"` // Timeout for 100-continue
	ForceAttemptHTTP2     *bool         `yaml:"force_attempt_http2,omitempty"`     // nil=default, true=force, false=disable
	DialerTimeout         time.Duration `yaml:"dialer_timeout,omitempty"`          // Connection dial timeout
	DialerKeepAlive       time.Duration `yaml:"dialer_keep_alive,omitempty"`       // TCP keep-alive interval
}

// LoadAppConfig reads a YAML file into an AppConfig; unknown keys are rejected
// Defaults are not applied here, call Validate
func LoadAppConfig(path string) (*AppConfig, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	defer file.Close()

	var cfg AppConfig
	decoder := yaml.NewDecoder(file)
	decoder.KnownFields(true)
	if err := decoder.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) { // Empty file = all defaults
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	return &cfg, nil
}
