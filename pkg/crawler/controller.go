// Package crawler runs crawls: the controller state machine, the worker pool and per-run scope
package crawler

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"webspider/pkg/config"
	"webspider/pkg/fetch"
	"webspider/pkg/frontier"
	"webspider/pkg/metrics"
	"webspider/pkg/models"
	"webspider/pkg/parse"
	"webspider/pkg/sitemap"
	"webspider/pkg/stats"
	"webspider/pkg/storage"
	"webspider/pkg/utils"
)

// ProgressInterval is how often a running crawl logs its progress
const ProgressInterval = 30 * time.Second

// Options contains optional dependencies for NewController
type Options struct {
	// Transport is shared by every run; nil builds one from default HTTP client settings
	Transport http.RoundTripper
	// Metrics receives fetch and run observations; nil disables metrics
	Metrics *metrics.Recorder
	// GCInterval is the BadgerDB value log GC period for persistent runs
	GCInterval time.Duration
}

// Controller owns the lifecycle of crawl runs. One run is active at a time.
type Controller struct {
	mu    sync.Mutex // Serializes Start, Stop transitions and Close
	state atomic.Int32

	transport  http.RoundTripper
	metrics    *metrics.Recorder
	gcInterval time.Duration
	stats      *stats.Aggregator
	log        *logrus.Entry

	run *run // Current or last run, nil before the first Start
}

// run holds everything that belongs to a single crawl
type run struct {
	id  string
	cfg config.CrawlConfig
	log *logrus.Entry

	ctx    context.Context // Cancelled by Stop: aborts politeness and retry waits, never in-flight requests
	cancel context.CancelFunc

	frontier *frontier.Frontier
	store    storage.Store
	stopGC   context.CancelFunc
	scope    *Scope
	fetcher  *fetch.Fetcher
	limiter  *fetch.RateLimiter
	hostPool *fetch.HostSemaphorePool
	robots   *fetch.RobotsHandler
	links    *LinkProcessor

	stopped atomic.Bool // Ended by Stop rather than by exhausting the frontier
	done    chan struct{}
}

// NewController creates an idle controller
func NewController(log *logrus.Entry, opts *Options) *Controller {
	if opts == nil {
		opts = &Options{}
	}
	transport := opts.Transport
	if transport == nil {
		var httpCfg config.HTTPClientConfig
		httpCfg.ApplyDefaults()
		transport = fetch.NewTransport(httpCfg)
	}
	gcInterval := opts.GCInterval
	if gcInterval <= 0 {
		gcInterval = 10 * time.Minute
	}
	return &Controller{
		transport:  transport,
		metrics:    opts.Metrics,
		gcInterval: gcInterval,
		stats:      stats.NewAggregator(),
		log:        log.WithField("component", "crawler"),
	}
}

// State returns the current lifecycle state
func (c *Controller) State() models.CrawlState {
	return models.CrawlState(c.state.Load())
}

func (c *Controller) setState(s models.CrawlState) {
	c.state.Store(int32(s))
}

// Start validates cfg and launches a new run in the background.
// Returns utils.ErrAlreadyRunning while a run is active and a utils.ErrInvalidConfig wrap for a bad config;
// in both cases nothing changes.
func (c *Controller) Start(cfg config.CrawlConfig) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.State().CanStart() {
		return fmt.Errorf("%w (state: %s)", utils.ErrAlreadyRunning, c.State())
	}

	cfg = cfg.Clone()
	warnings, err := cfg.Validate()
	if err != nil {
		return err
	}
	for _, w := range warnings {
		c.log.Warn(w)
	}
	scope, err := NewScope(cfg)
	if err != nil {
		return err
	}

	// The previous run's store is kept for Failures until now
	c.releaseRun()

	runID := uuid.NewString()
	runLog := c.log.WithField("run_id", runID)

	gcCtx, stopGC := context.WithCancel(context.Background())
	store, err := storage.Open(cfg.StateDir, runLog)
	if err != nil {
		stopGC()
		return fmt.Errorf("%w: opening state store: %w", utils.ErrDatabase, err)
	}
	go store.RunGC(gcCtx, c.gcInterval)

	ctx, cancel := context.WithCancel(context.Background())
	r := &run{
		id:      runID,
		cfg:     cfg,
		log:     runLog,
		ctx:     ctx,
		cancel:  cancel,
		store:   store,
		stopGC:  stopGC,
		scope:   scope,
		limiter: fetch.NewRateLimiter(runLog),
		done:    make(chan struct{}),
	}

	client := fetch.NewClient(c.transport, scope.Allows, runLog)
	r.fetcher = fetch.NewFetcher(client, fetch.OptionsFromConfig(cfg), runLog)

	perHost := cfg.MaxRequestsPerHost
	if perHost == 0 {
		perHost = cfg.Concurrency
	}
	r.hostPool = fetch.NewHostSemaphorePool(perHost, runLog)
	if cfg.RespectRobots {
		r.robots = fetch.NewRobotsHandler(r.fetcher, r.limiter, cfg.PolitenessDelay, cfg.UserAgent, runLog)
	}

	var recorder frontier.DiscoveryRecorder = c.stats
	if c.metrics != nil {
		recorder = discoveryFanout{c.stats, c.metrics}
	}
	r.frontier = frontier.New(cfg.MaxDepth, cfg.MaxPages, frontier.NewVisitedSet(store, runLog), recorder, runLog)
	r.links = NewLinkProcessor(scope, r.robots, r.frontier, cfg.MaxDepth, parse.LinkOptions{RespectNofollow: cfg.RespectNofollow})

	c.stats.Reset(runID, time.Now(), r.frontier)
	c.run = r
	c.setState(models.StateRunning)
	if c.metrics != nil {
		c.metrics.RunStarted()
	}

	seeded := c.seed(r)
	runLog.WithFields(logrus.Fields{
		"seeds":       seeded,
		"concurrency": cfg.Concurrency,
		"max_depth":   cfg.MaxDepth,
		"max_pages":   cfg.MaxPages,
		"scope":       scope.Bounds(),
	}).Info("Crawl starting")

	go c.reportProgress(r)
	go r.hostPool.RunEviction(ctx, fetch.DefaultEvictionInterval)
	go func() {
		if cfg.UseSitemaps {
			c.seedSitemaps(r)
		}
		c.runWorkers(r)
		c.finish(r)
	}()
	return nil
}

// seed pushes the normalized, in-scope seed URLs at depth 0
func (c *Controller) seed(r *run) int {
	seeded := 0
	for _, raw := range r.cfg.SeedURLs {
		if c.admitRoot(r, raw) {
			seeded++
		}
	}
	return seeded
}

// admitRoot pushes raw at depth 0 if it normalizes and is in scope
func (c *Controller) admitRoot(r *run, raw string) bool {
	normalized, ok := parse.Normalize(raw, nil)
	if !ok {
		return false
	}
	u, err := url.Parse(normalized)
	if err != nil || !r.scope.Allows(u) {
		r.log.WithField("url", raw).Debug("Root URL outside allowed domains or patterns, skipping")
		return false
	}
	return r.frontier.Push(models.FrontierEntry{URL: normalized, Depth: 0})
}

// seedSitemaps admits the pages listed in the seed hosts' sitemaps before workers start
// Locations are /sitemap.xml per seed origin plus robots.txt Sitemap directives when robots are honoured
func (c *Controller) seedSitemaps(r *run) {
	locations := sitemap.DefaultLocations(r.cfg.SeedURLs)
	if r.robots != nil {
		for _, raw := range r.cfg.SeedURLs {
			if u, err := url.Parse(raw); err == nil {
				locations = append(locations, r.robots.Sitemaps(r.ctx, u)...)
			}
		}
	}

	proc := sitemap.NewProcessor(r.fetcher, r.limiter, r.cfg.PolitenessDelay,
		func(raw string) bool { return c.admitRoot(r, raw) }, r.log)
	added := proc.Run(r.ctx, locations)
	r.log.WithField("sitemaps", len(locations)).Infof("Sitemaps added %d URLs", added)
}

// Stop halts dispatch and blocks until in-flight fetches have finished.
// A no-op when idle or stopped; concurrent callers all wait for the same drain.
func (c *Controller) Stop() error {
	c.mu.Lock()
	r := c.run
	switch c.State() {
	case models.StateIdle, models.StateStopped:
		c.mu.Unlock()
		return nil
	case models.StateRunning:
		c.setState(models.StateStopping)
		r.stopped.Store(true)
		r.log.Info("Stop requested, draining in-flight fetches")
		r.frontier.Stop()
		r.cancel()
	}
	c.mu.Unlock()

	<-r.done
	return nil
}

// finish runs once the workers have exited, whether by Stop or by exhausting the frontier
func (c *Controller) finish(r *run) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.State() == models.StateRunning {
		c.setState(models.StateStopping) // Natural completion
	}
	r.frontier.Stop()
	r.cancel()

	c.stats.MarkFinished(time.Now())
	if c.metrics != nil {
		c.metrics.RunFinished(r.stopped.Load())
	}

	s := c.stats.Snapshot()
	reason := "completed"
	if r.stopped.Load() {
		reason = "stopped"
	}
	summaryLog := r.log.WithFields(logrus.Fields{"reason": reason})
	summaryLog.Info("========================================================================")
	summaryLog.Info("CRAWL FINISHED")
	summaryLog.Infof("Duration:         %v", s.Elapsed)
	summaryLog.Infof("Final Stats: Discovered: %d, Crawled: %d, Errors: %d, Pending: %d, Bytes: %d",
		s.TotalDiscovered, s.CrawledPages, s.Errors, s.Pending, s.BytesFetched)
	summaryLog.Info("========================================================================")

	c.setState(models.StateStopped)
	close(r.done)
}

// reportProgress logs progress and refreshes frontier gauges until the run ends
func (c *Controller) reportProgress(r *run) {
	ticker := time.NewTicker(ProgressInterval)
	defer ticker.Stop()
	for {
		select {
		case <-r.done:
			return
		case <-r.ctx.Done():
			return
		case <-ticker.C:
			s := c.stats.Snapshot()
			if c.metrics != nil {
				c.metrics.SetFrontier(s.Pending, s.InFlight)
			}
			r.log.WithFields(logrus.Fields{
				"discovered": s.TotalDiscovered,
				"crawled":    s.CrawledPages,
				"errors":     s.Errors,
				"pending":    s.Pending,
				"in_flight":  s.InFlight,
			}).Info("Crawl Progress")
		}
	}
}

// Status returns a snapshot of the current or last run and the lifecycle state; it never waits on the run
func (c *Controller) Status() (models.CrawlStats, models.CrawlState) {
	return c.stats.Snapshot(), c.State()
}

// Done returns a channel closed when the current run has finished; closed already when nothing was started
func (c *Controller) Done() <-chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.run == nil {
		closed := make(chan struct{})
		close(closed)
		return closed
	}
	return c.run.done
}

// Wait blocks until the current run finishes or ctx is done
func (c *Controller) Wait(ctx context.Context) error {
	select {
	case <-c.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Failures returns failed page records of the current or last run, ordered by URL; limit <= 0 returns all
func (c *Controller) Failures(limit int) ([]models.PageRecord, error) {
	store := c.lastStore()
	if store == nil {
		return nil, nil
	}
	return store.Failures(limit)
}

// Page returns the ledger record of rawURL in the current or last run, or nil if the run never admitted it
func (c *Controller) Page(rawURL string) (*models.PageRecord, error) {
	normalized, ok := parse.Normalize(rawURL, nil)
	if !ok {
		return nil, fmt.Errorf("%w: %q", utils.ErrInvalidURL, rawURL)
	}
	store := c.lastStore()
	if store == nil {
		return nil, nil
	}
	return store.Lookup(normalized)
}

// WriteVisitedLog writes every URL of the current or last run to path
func (c *Controller) WriteVisitedLog(path string) error {
	store := c.lastStore()
	if store == nil {
		return errors.New("no crawl has been started")
	}
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create visited log: %w", err)
	}
	defer file.Close()

	n, err := store.ExportURLs(context.Background(), file)
	if err != nil {
		return fmt.Errorf("write visited log %s: %w", path, err)
	}
	if err := file.Sync(); err != nil {
		return fmt.Errorf("sync visited log %s: %w", path, err)
	}
	c.log.Infof("Wrote %d URLs to visited log %s", n, path)
	return nil
}

func (c *Controller) lastStore() storage.Store {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.run == nil {
		return nil
	}
	return c.run.store
}

// Close stops any active run and releases its store
func (c *Controller) Close() error {
	if err := c.Stop(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.releaseRun()
}

// releaseRun closes the last run's store; caller holds c.mu and the run has finished
func (c *Controller) releaseRun() error {
	r := c.run
	if r == nil || r.store == nil {
		return nil
	}
	r.stopGC()
	err := r.store.Close()
	r.store = nil
	if err != nil {
		return fmt.Errorf("%w: closing store of run %s: %w", utils.ErrDatabase, r.id, err)
	}
	return nil
}

// discoveryFanout forwards admissions to both the stats aggregator and the metrics recorder
type discoveryFanout struct {
	stats   *stats.Aggregator
	metrics *metrics.Recorder
}

func (d discoveryFanout) RecordDiscovered(n int) {
	d.stats.RecordDiscovered(n)
	d.metrics.RecordDiscovered(n)
}
