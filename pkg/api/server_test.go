package api

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"webspider/pkg/config"
	"webspider/pkg/crawler"
	"webspider/pkg/metrics"
	"webspider/pkg/models"
	"webspider/pkg/utils"
)

func testLogger() *logrus.Entry {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return logrus.NewEntry(log)
}

// fakeEngine records the last config it was started with
type fakeEngine struct {
	mu       sync.Mutex
	started  *config.CrawlConfig
	startErr error
	stops    int
	stats    models.CrawlStats
	state    models.CrawlState
	failures []models.PageRecord
	limit    int
	pages    map[string]models.PageRecord
}

func (f *fakeEngine) Start(cfg config.CrawlConfig) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.startErr != nil {
		return f.startErr
	}
	f.started = &cfg
	f.state = models.StateRunning
	return nil
}

func (f *fakeEngine) Stop() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stops++
	f.state = models.StateStopped
	return nil
}

func (f *fakeEngine) Status() (models.CrawlStats, models.CrawlState) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stats, f.state
}

func (f *fakeEngine) Failures(limit int) ([]models.PageRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.limit = limit
	return f.failures, nil
}

func (f *fakeEngine) Page(rawURL string) (*models.PageRecord, error) {
	if !strings.HasPrefix(rawURL, "http") {
		return nil, fmt.Errorf("%w: %q", utils.ErrInvalidURL, rawURL)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	rec, ok := f.pages[rawURL]
	if !ok {
		return nil, nil
	}
	return &rec, nil
}

func (f *fakeEngine) snapshot() (started *config.CrawlConfig, stops, limit int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.started, f.stops, f.limit
}

func newTestServer(t *testing.T, engine Engine) *httptest.Server {
	t.Helper()
	defaults := config.NewCrawlConfig()
	defaults.MaxDepth = 3
	defaults.PolitenessDelay = time.Second
	srv := httptest.NewServer(NewServer(engine, defaults, metrics.NewRecorder(), testLogger()).Handler())
	t.Cleanup(srv.Close)
	return srv
}

func doJSON(t *testing.T, method, target, body string) (*http.Response, []byte) {
	t.Helper()
	req, err := http.NewRequest(method, target, strings.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, data
}

func TestStart_AppliesPayloadOverDefaults(t *testing.T) {
	engine := &fakeEngine{}
	srv := newTestServer(t, engine)

	resp, body := doJSON(t, http.MethodPost, srv.URL+"/api/crawl/start", `{
		"seedUrls": ["https://example.com/"],
		"maxPages": 50,
		"concurrency": 2,
		"allowedDomains": ["example.com"],
		"requestTimeoutMs": 1500,
		"politenessDelayMs": 0,
		"respectRobots": true,
		"maxRetries": 0
	}`)

	require.Equal(t, http.StatusAccepted, resp.StatusCode, string(body))
	cfg, _, _ := engine.snapshot()
	require.NotNil(t, cfg)
	assert.Equal(t, []string{"https://example.com/"}, cfg.SeedURLs)
	assert.Equal(t, 50, cfg.MaxPages)
	assert.Equal(t, 3, cfg.MaxDepth, "omitted field keeps the default")
	assert.Equal(t, 2, cfg.Concurrency)
	assert.Equal(t, 1500*time.Millisecond, cfg.RequestTimeout)
	assert.Zero(t, cfg.PolitenessDelay, "explicit zero overrides the default")
	assert.True(t, cfg.RespectRobots)
	require.NotNil(t, cfg.MaxRetries)
	assert.Zero(t, *cfg.MaxRetries)

	var status StatusResponse
	require.NoError(t, json.Unmarshal(body, &status))
	assert.Equal(t, models.StateRunning, status.State)
}

func TestStart_ErrorMapping(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		body     string
		wantCode int
	}{
		{"invalid config", fmt.Errorf("%w: at least one seed URL is required", utils.ErrInvalidConfig), `{"seedUrls": []}`, http.StatusBadRequest},
		{"already running", utils.ErrAlreadyRunning, `{"seedUrls": ["https://example.com/"]}`, http.StatusConflict},
		{"store failure", fmt.Errorf("%w: disk full", utils.ErrDatabase), `{"seedUrls": ["https://example.com/"]}`, http.StatusInternalServerError},
		{"malformed json", nil, `{"seedUrls": `, http.StatusBadRequest},
		{"unknown field", nil, `{"seeds": ["https://example.com/"]}`, http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := newTestServer(t, &fakeEngine{startErr: tt.err})
			resp, body := doJSON(t, http.MethodPost, srv.URL+"/api/crawl/start", tt.body)

			assert.Equal(t, tt.wantCode, resp.StatusCode)
			var errResp ErrorResponse
			require.NoError(t, json.Unmarshal(body, &errResp))
			assert.NotEmpty(t, errResp.Error)
		})
	}
}

func TestStatus_WireFormat(t *testing.T) {
	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	engine := &fakeEngine{
		state: models.StateRunning,
		stats: models.CrawlStats{
			RunID:           "run-1",
			TotalDiscovered: 10,
			CrawledPages:    4,
			Errors:          1,
			Skipped:         2,
			Pending:         3,
			InFlight:        1,
			ErrorsByKind:    map[models.ErrorKind]int64{models.ErrorKindTimeout: 1},
			StartTime:       start,
			Elapsed:         2500 * time.Millisecond,
			IsRunning:       true,
		},
	}
	srv := newTestServer(t, engine)

	resp, body := doJSON(t, http.MethodGet, srv.URL+"/api/crawl/status", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var raw map[string]any
	require.NoError(t, json.Unmarshal(body, &raw))
	assert.Equal(t, float64(10), raw["totalPages"])
	assert.Equal(t, float64(4), raw["crawledPages"])
	assert.Equal(t, float64(1), raw["errors"])
	assert.Equal(t, float64(2), raw["skipped"])
	assert.Equal(t, "2026-03-01T12:00:00Z", raw["startTime"])
	assert.Equal(t, true, raw["isRunning"])
	assert.Equal(t, "running", raw["state"])
	assert.Equal(t, float64(2500), raw["elapsedMs"])
	assert.Equal(t, map[string]any{"timeout": float64(1)}, raw["errorsByKind"])
}

func TestStop(t *testing.T) {
	engine := &fakeEngine{state: models.StateRunning}
	srv := newTestServer(t, engine)

	resp, _ := doJSON(t, http.MethodPost, srv.URL+"/api/crawl/stop", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	_, stops, _ := engine.snapshot()
	assert.Equal(t, 1, stops)
}

func TestFailures(t *testing.T) {
	engine := &fakeEngine{failures: []models.PageRecord{
		{URL: "https://example.com/missing", Status: models.PageStatusFailure, ErrorKind: models.ErrorKindHTTPStatus, StatusCode: 404},
	}}
	srv := newTestServer(t, engine)

	resp, body := doJSON(t, http.MethodGet, srv.URL+"/api/crawl/failures?limit=5", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	_, _, limit := engine.snapshot()
	assert.Equal(t, 5, limit)

	var out FailuresResponse
	require.NoError(t, json.Unmarshal(body, &out))
	assert.Equal(t, 1, out.Count)
	assert.Equal(t, 404, out.Failures[0].StatusCode)

	resp, _ = doJSON(t, http.MethodGet, srv.URL+"/api/crawl/failures", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	_, _, limit = engine.snapshot()
	assert.Equal(t, defaultFailuresLimit, limit)

	resp, _ = doJSON(t, http.MethodGet, srv.URL+"/api/crawl/failures?limit=-1", "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestPage(t *testing.T) {
	engine := &fakeEngine{pages: map[string]models.PageRecord{
		"https://example.com/a": {URL: "https://example.com/a", Status: models.PageStatusSuccess, StatusCode: 200, Depth: 1},
	}}
	srv := newTestServer(t, engine)

	resp, body := doJSON(t, http.MethodGet, srv.URL+"/api/crawl/page?url="+url.QueryEscape("https://example.com/a"), "")
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	var rec models.PageRecord
	require.NoError(t, json.Unmarshal(body, &rec))
	assert.Equal(t, models.PageStatusSuccess, rec.Status)
	assert.Equal(t, 1, rec.Depth)

	resp, _ = doJSON(t, http.MethodGet, srv.URL+"/api/crawl/page?url="+url.QueryEscape("https://example.com/b"), "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, _ = doJSON(t, http.MethodGet, srv.URL+"/api/crawl/page?url=mailto:x", "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = doJSON(t, http.MethodGet, srv.URL+"/api/crawl/page", "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestRouting(t *testing.T) {
	srv := newTestServer(t, &fakeEngine{})

	resp, _ := doJSON(t, http.MethodGet, srv.URL+"/api/crawl/start", "")
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)

	resp, body := doJSON(t, http.MethodGet, srv.URL+"/api/health", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), `"status":"ok"`)

	resp, body = doJSON(t, http.MethodGet, srv.URL+"/metrics", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "webspider_api_requests_total")
}

func TestAPI_EndToEndWithController(t *testing.T) {
	site := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = io.WriteString(w, `<html><body><a href="/next">next</a></body></html>`)
	}))
	t.Cleanup(site.Close)

	controller := crawler.NewController(testLogger(), nil)
	t.Cleanup(func() { _ = controller.Close() })
	srv := newTestServer(t, controller)

	resp, body := doJSON(t, http.MethodPost, srv.URL+"/api/crawl/start",
		fmt.Sprintf(`{"seedUrls": [%q], "maxPages": 2, "maxDepth": 2, "politenessDelayMs": 0}`, site.URL+"/"))
	require.Equal(t, http.StatusAccepted, resp.StatusCode, string(body))

	require.Eventually(t, func() bool {
		_, state := controller.Status()
		return state == models.StateStopped
	}, 10*time.Second, 20*time.Millisecond)

	_, body = doJSON(t, http.MethodGet, srv.URL+"/api/crawl/status", "")
	var status StatusResponse
	require.NoError(t, json.Unmarshal(body, &status))
	assert.Equal(t, int64(2), status.CrawledPages)
	assert.Equal(t, int64(2), status.TotalPages)
	assert.False(t, status.IsRunning)
	assert.NotEmpty(t, status.StartTime)

	resp, body = doJSON(t, http.MethodGet, srv.URL+"/api/crawl/page?url="+url.QueryEscape(site.URL+"/next"), "")
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	var rec models.PageRecord
	require.NoError(t, json.Unmarshal(body, &rec))
	assert.Equal(t, models.PageStatusSuccess, rec.Status)
	assert.Equal(t, 1, rec.Depth)
}
