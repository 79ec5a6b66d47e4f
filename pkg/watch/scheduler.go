// Package watch re-runs a crawl on a fixed interval, remembering the last run across restarts
package watch

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"webspider/pkg/config"
	"webspider/pkg/models"
)

// Engine is the crawl controller surface the scheduler drives
type Engine interface {
	Start(cfg config.CrawlConfig) error
	Stop() error
	Status() (models.CrawlStats, models.CrawlState)
	Done() <-chan struct{}
}

// Scheduler runs one crawl configuration periodically
type Scheduler struct {
	engine   Engine
	cfg      config.CrawlConfig
	key      string
	interval time.Duration
	state    *StateFile
	log      *logrus.Entry

	now func() time.Time
}

// NewScheduler creates a scheduler; state is persisted at statePath
func NewScheduler(engine Engine, cfg config.CrawlConfig, interval time.Duration, statePath string, log *logrus.Entry) *Scheduler {
	return &Scheduler{
		engine:   engine,
		cfg:      cfg.Clone(),
		key:      CrawlKey(cfg),
		interval: interval,
		state:    NewStateFile(statePath),
		log:      log.WithField("component", "watch"),
		now:      time.Now,
	}
}

// CrawlKey identifies a crawl configuration in the state file by its seeds
func CrawlKey(cfg config.CrawlConfig) string {
	return strings.Join(cfg.SeedURLs, ",")
}

// Run blocks, starting a crawl whenever one is due, until ctx is done.
// A crawl in progress when ctx ends is stopped and its outcome recorded.
func (s *Scheduler) Run(ctx context.Context) error {
	if s.interval <= 0 {
		return fmt.Errorf("watch interval must be positive, got %v", s.interval)
	}
	if err := s.state.Load(); err != nil {
		s.log.Warnf("Failed to load watch state: %v (starting fresh)", err)
	}

	s.log.Infof("Starting watch mode with interval %s", FormatInterval(s.interval))
	s.logSchedule()

	ticker := time.NewTicker(s.tickInterval())
	defer ticker.Stop()

	for {
		if s.state.Due(s.key, s.interval, s.now()) {
			s.runOnce(ctx)
			s.logNextRun()
		}
		select {
		case <-ctx.Done():
			s.log.Info("Watch scheduler shutting down...")
			return nil
		case <-ticker.C:
		}
	}
}

// runOnce starts a crawl, waits for it, and persists the outcome
func (s *Scheduler) runOnce(ctx context.Context) {
	started := s.now()
	if err := s.engine.Start(s.cfg); err != nil {
		s.log.Errorf("Scheduled crawl failed to start: %v", err)
		s.record(Outcome{StartedAt: started, StartError: err.Error()})
		return
	}

	stopped := false
	select {
	case <-s.engine.Done():
	case <-ctx.Done():
		stopped = true
		if err := s.engine.Stop(); err != nil {
			s.log.Errorf("Failed to stop crawl: %v", err)
		}
	}

	stats, _ := s.engine.Status()
	s.log.WithFields(logrus.Fields{
		"run_id":  stats.RunID,
		"crawled": stats.CrawledPages,
		"errors":  stats.Errors,
	}).Info("Scheduled crawl finished")

	s.record(Outcome{
		RunID:        stats.RunID,
		StartedAt:    started,
		Completed:    !stopped,
		CrawledPages: stats.CrawledPages,
		Errors:       stats.Errors,
	})
}

func (s *Scheduler) record(state Outcome) {
	s.state.Put(s.key, state)
	if err := s.state.Save(); err != nil {
		s.log.Errorf("Failed to save watch state: %v", err)
	}
}

// LastRun returns the persisted state of the last run, if any
func (s *Scheduler) LastRun() (Outcome, bool) {
	return s.state.Get(s.key)
}

// NextRun returns when the next crawl is due
func (s *Scheduler) NextRun() time.Time {
	return s.state.NextDue(s.key, s.interval, s.now())
}

// tickInterval returns how often to check whether a crawl is due
func (s *Scheduler) tickInterval() time.Duration {
	// Every 1/10th of the interval, clamped to [1s, 10m]
	check := s.interval / 10
	if check < time.Second {
		check = time.Second
	}
	if check > 10*time.Minute {
		check = 10 * time.Minute
	}
	return check
}

func (s *Scheduler) logSchedule() {
	state, ok := s.state.Get(s.key)
	if !ok {
		s.log.Infof("Crawl %q never run, will run immediately", s.key)
		return
	}
	status := "completed"
	switch {
	case state.StartError != "":
		status = "failed to start"
	case !state.Completed:
		status = "stopped"
	}
	s.log.Infof("Crawl %q: last run %s (%s, %d pages), next run %s",
		s.key, state.StartedAt.Format(time.RFC3339), status, state.CrawledPages,
		s.NextRun().Format(time.RFC3339))
}

func (s *Scheduler) logNextRun() {
	next := s.NextRun()
	until := next.Sub(s.now())
	if until < 0 {
		until = 0
	}
	s.log.Infof("Next crawl in %v (at %s)", until.Round(time.Second), next.Format("15:04:05"))
}

// FormatInterval formats a duration for display
func FormatInterval(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	if d < time.Hour {
		return fmt.Sprintf("%dm", int(d.Minutes()))
	}
	if d < 24*time.Hour {
		hours := int(d.Hours())
		mins := int(d.Minutes()) % 60
		if mins > 0 {
			return fmt.Sprintf("%dh%dm", hours, mins)
		}
		return fmt.Sprintf("%dh", hours)
	}
	days := int(d.Hours()) / 24
	hours := int(d.Hours()) % 24
	if hours > 0 {
		return fmt.Sprintf("%dd%dh", days, hours)
	}
	return fmt.Sprintf("%dd", days)
}

// ParseInterval parses a duration string with support for a leading day count ("7d", "1d12h")
func ParseInterval(s string) (time.Duration, error) {
	if d, err := time.ParseDuration(s); err == nil {
		return d, nil
	}

	var days int
	var remaining string
	n, _ := fmt.Sscanf(s, "%dd%s", &days, &remaining)
	if n >= 1 {
		d := time.Duration(days) * 24 * time.Hour
		if remaining != "" {
			extra, err := time.ParseDuration(remaining)
			if err != nil {
				return 0, fmt.Errorf("invalid interval format: %s", s)
			}
			d += extra
		}
		return d, nil
	}

	return 0, fmt.Errorf("invalid interval format: %s (examples: 30m, 1h, 24h, 7d)", s)
}
