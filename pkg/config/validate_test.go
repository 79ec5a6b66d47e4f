package config

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"webspider/pkg/utils"
)

func intPtr(i int) *int {
	return &i
}

func TestCrawlConfig_Validate_Defaults(t *testing.T) {
	cfg := CrawlConfig{SeedURLs: []string{"http://example.com/"}, Concurrency: 1}
	warnings, err := cfg.Validate()
	require.NoError(t, err)

	assert.Equal(t, DefaultRequestTimeout, cfg.RequestTimeout)
	assert.Equal(t, DefaultUserAgent, cfg.UserAgent)
	require.NotNil(t, cfg.MaxRetries)
	assert.Equal(t, DefaultMaxRetries, *cfg.MaxRetries)
	assert.Equal(t, DefaultRetryBaseDelay, cfg.RetryBaseDelay)
	assert.Equal(t, DefaultMaxRetryDelay, cfg.MaxRetryDelay)
	assert.Equal(t, int64(DefaultMaxBodyBytes), cfg.MaxBodyBytes)
	assert.True(t, containsWarning(warnings, "request_timeout not set"))
}

func TestCrawlConfig_Validate_Rejections(t *testing.T) {
	valid := func() CrawlConfig {
		return CrawlConfig{SeedURLs: []string{"http://example.com/"}, Concurrency: 2, RequestTimeout: time.Second}
	}

	tests := []struct {
		name    string
		mutate  func(c *CrawlConfig)
		wantMsg string
	}{
		{"NoSeeds", func(c *CrawlConfig) { c.SeedURLs = nil }, "seed URL is required"},
		{"EmptySeedList", func(c *CrawlConfig) { c.SeedURLs = []string{} }, "seed URL is required"},
		{"RelativeSeed", func(c *CrawlConfig) { c.SeedURLs = []string{"/docs"} }, "not a valid http(s) URL"},
		{"FTPSeed", func(c *CrawlConfig) { c.SeedURLs = []string{"ftp://example.com/"} }, "not a valid http(s) URL"},
		{"ZeroConcurrency", func(c *CrawlConfig) { c.Concurrency = 0 }, "concurrency must be >= 1"},
		{"NegativeConcurrency", func(c *CrawlConfig) { c.Concurrency = -3 }, "concurrency must be >= 1"},
		{"NegativeMaxPages", func(c *CrawlConfig) { c.MaxPages = -1 }, "max_pages"},
		{"NegativeMaxDepth", func(c *CrawlConfig) { c.MaxDepth = -1 }, "max_depth"},
		{"NegativeTimeout", func(c *CrawlConfig) { c.RequestTimeout = -time.Second }, "request_timeout"},
		{"NegativeDelay", func(c *CrawlConfig) { c.PolitenessDelay = -time.Second }, "politeness_delay"},
		{"NegativeRetries", func(c *CrawlConfig) { c.MaxRetries = intPtr(-1) }, "max_retries"},
		{"NegativePerHost", func(c *CrawlConfig) { c.MaxRequestsPerHost = -1 }, "max_requests_per_host"},
		{"BadPattern", func(c *CrawlConfig) { c.DisallowedPathPatterns = []string{"[unclosed"} }, "disallowed_path_patterns[0]"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(&cfg)
			_, err := cfg.Validate()
			require.Error(t, err)
			assert.True(t, errors.Is(err, utils.ErrInvalidConfig), "error should wrap ErrInvalidConfig: %v", err)
			assert.Contains(t, err.Error(), tt.wantMsg)
		})
	}
}

func TestCrawlConfig_Validate_ZeroRetriesKept(t *testing.T) {
	cfg := CrawlConfig{SeedURLs: []string{"http://example.com/"}, Concurrency: 1, MaxRetries: intPtr(0)}
	_, err := cfg.Validate()
	require.NoError(t, err)
	assert.Equal(t, 0, cfg.EffectiveMaxRetries())
}

func TestCrawlConfig_Validate_RetryDelayInversion(t *testing.T) {
	cfg := CrawlConfig{
		SeedURLs:       []string{"http://example.com/"},
		Concurrency:    1,
		RetryBaseDelay: 20 * time.Second,
		MaxRetryDelay:  5 * time.Second,
	}
	warnings, err := cfg.Validate()
	require.NoError(t, err)
	assert.Equal(t, 5*time.Second, cfg.RetryBaseDelay)
	assert.True(t, containsWarning(warnings, "retry_base_delay"))
}

func TestCrawlConfig_Validate_AllowedDomainsNormalized(t *testing.T) {
	cfg := CrawlConfig{
		SeedURLs:       []string{"http://example.com/"},
		Concurrency:    1,
		AllowedDomains: []string{" Example.COM ", "https://docs.example.com/path", "api.example.com:8443", ""},
	}
	warnings, err := cfg.Validate()
	require.NoError(t, err)
	assert.Equal(t, []string{"example.com", "docs.example.com", "api.example.com"}, cfg.AllowedDomains)
	assert.True(t, containsWarning(warnings, "ignoring empty allowed domain"))
}

func TestCrawlConfig_SeedOrigins(t *testing.T) {
	cfg := CrawlConfig{
		SeedURLs:    []string{"http://A.test/", "http://a.test:80/other", "https://b.test:8443/", "http://a.test:8080/", "https://b.test:8443/x"},
		Concurrency: 1,
	}
	_, err := cfg.Validate()
	require.NoError(t, err)
	assert.Equal(t, []string{"http://a.test", "https://b.test:8443", "http://a.test:8080"}, cfg.SeedOrigins())
}

func TestCrawlConfig_Clone(t *testing.T) {
	orig := NewCrawlConfig("http://example.com/")
	orig.AllowedDomains = []string{"example.com"}

	clone := orig.Clone()
	clone.SeedURLs[0] = "http://changed.test/"
	clone.AllowedDomains[0] = "changed.test"
	*clone.MaxRetries = 9

	assert.Equal(t, "http://example.com/", orig.SeedURLs[0])
	assert.Equal(t, "example.com", orig.AllowedDomains[0])
	assert.Equal(t, DefaultMaxRetries, *orig.MaxRetries)
}

func TestNewCrawlConfig_IsValid(t *testing.T) {
	cfg := NewCrawlConfig("http://example.com/")
	warnings, err := cfg.Validate()
	require.NoError(t, err)
	assert.Empty(t, warnings)
	assert.Equal(t, DefaultConcurrency, cfg.Concurrency)
}

func TestAppConfig_Validate_Defaults(t *testing.T) {
	cfg := AppConfig{} // Zero value
	_, err := cfg.Validate()
	require.NoError(t, err)

	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, ":8080", cfg.ListenAddr)
	assert.Equal(t, "stdio", cfg.MCPTransport)
	assert.Equal(t, 10*time.Minute, cfg.GCInterval)
	assert.Equal(t, DefaultConcurrency, cfg.Crawl.Concurrency)

	// Check HTTP client defaults
	assert.Equal(t, 100, cfg.HTTPClientSettings.MaxIdleConns)
	assert.Equal(t, 4, cfg.HTTPClientSettings.MaxIdleConnsPerHost)
	assert.Equal(t, 90*time.Second, cfg.HTTPClientSettings.IdleConnTimeout)
	assert.Equal(t, 10*time.Second, cfg.HTTPClientSettings.TLSHandshakeTimeout)
	assert.Equal(t, 1*time.Second, cfg.HTTPClientSettings.ExpectContinueTimeout)
	assert.Equal(t, 15*time.Second, cfg.HTTPClientSettings.DialerTimeout)
	assert.Equal(t, 30*time.Second, cfg.HTTPClientSettings.DialerKeepAlive)
}

func TestAppConfig_Validate_BadTransport(t *testing.T) {
	cfg := AppConfig{MCPTransport: "carrier-pigeon"}
	_, err := cfg.Validate()
	require.Error(t, err)
	assert.ErrorIs(t, err, utils.ErrInvalidConfig)
}

func TestAppConfig_Validate_NegativeGCInterval(t *testing.T) {
	cfg := AppConfig{GCInterval: -time.Second}
	warnings, err := cfg.Validate()
	require.NoError(t, err)
	assert.Equal(t, 10*time.Minute, cfg.GCInterval)
	assert.True(t, containsWarning(warnings, "gc_interval"))
}

func TestParseDuration(t *testing.T) {
	tests := []struct {
		input   string
		want    time.Duration
		wantErr bool
	}{
		{"", 0, false},
		{"2", 2 * time.Second, false},
		{"0.5", 500 * time.Millisecond, false},
		{"250ms", 250 * time.Millisecond, false},
		{"1m30s", 90 * time.Second, false},
		{" 3s ", 3 * time.Second, false},
		{"-1", 0, true},
		{"-2s", 0, true},
		{"soon", 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseDuration(tt.input)
			if tt.wantErr {
				require.Error(t, err)
				assert.ErrorIs(t, err, utils.ErrInvalidConfig)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func containsWarning(warnings []string, substr string) bool {
	for _, w := range warnings {
		if strings.Contains(w, substr) {
			return true
		}
	}
	return false
}

func TestPathFilters(t *testing.T) {
	cfg := NewCrawlConfig()
	cfg.DisallowedPathPatterns = []string{`^/admin`, "  ", `\.pdf$`}
	filters, err := cfg.PathFilters()
	require.NoError(t, err)
	require.Len(t, filters, 2)
	assert.True(t, filters[0].MatchString("/admin/users"))
	assert.True(t, filters[1].MatchString("/files/report.pdf"))

	cfg.DisallowedPathPatterns = []string{`ok`, `(`}
	_, err = cfg.PathFilters()
	require.Error(t, err)
	assert.ErrorIs(t, err, utils.ErrInvalidConfig)
	assert.Contains(t, err.Error(), "disallowed_path_patterns[1]")
}
