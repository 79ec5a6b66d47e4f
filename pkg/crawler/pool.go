package crawler

import (
	"fmt"
	"net/url"
	"runtime/debug"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"webspider/pkg/models"
	"webspider/pkg/parse"
	"webspider/pkg/utils"
)

// runWorkers drains the frontier with cfg.Concurrency workers and returns once all of them have exited
func (c *Controller) runWorkers(r *run) {
	var g errgroup.Group
	for i := 1; i <= r.cfg.Concurrency; i++ {
		workerLog := r.log.WithField("worker_id", i)
		g.Go(func() error {
			c.worker(r, workerLog)
			return nil
		})
	}
	_ = g.Wait()
}

// worker pops entries until the frontier is exhausted or stopped
func (c *Controller) worker(r *run, workerLog *logrus.Entry) {
	workerLog.Debug("Worker starting")
	defer workerLog.Debug("Worker finished")

	for {
		entry, ok := r.frontier.Pop()
		if !ok {
			return
		}
		if requeued := c.processEntry(r, entry, workerLog); requeued {
			return // Stop interrupted the entry before dispatch
		}
	}
}

// processEntry runs the fetch pipeline for one entry.
// Returns true if the entry was handed back to the frontier without being fetched.
func (c *Controller) processEntry(r *run, entry models.FrontierEntry, workerLog *logrus.Entry) (requeued bool) {
	taskLog := workerLog.WithFields(logrus.Fields{"url": entry.URL, "depth": entry.Depth})
	start := time.Now()
	result := models.FetchResult{URL: entry.URL, Depth: entry.Depth}
	var release func()
	skipped := false

	defer func() {
		if release != nil {
			release()
		}
		if p := recover(); p != nil {
			taskLog.WithFields(logrus.Fields{
				"panic_info":  p,
				"stack_trace": string(debug.Stack()),
			}).Error("PANIC recovered in worker")
			result = models.FetchResult{
				URL:       entry.URL,
				Depth:     entry.Depth,
				ErrorKind: models.ErrorKindPanic,
				Error:     fmt.Sprintf("panic: %v", p),
				Duration:  time.Since(start),
			}
			requeued, skipped = false, false
		}
		switch {
		case requeued:
		case skipped:
			c.skip(r, entry, result, taskLog)
		default:
			c.complete(r, entry, result, taskLog)
		}
	}()

	u, err := url.Parse(entry.URL)
	if err != nil {
		result = failed(result, fmt.Errorf("%w: %w", utils.ErrRequestCreation, err), start)
		return false
	}
	if !r.scope.Allows(u) {
		result = failed(result, fmt.Errorf("%w: %s", utils.ErrScopeViolation, u.Host), start)
		return false
	}

	// Politeness gates; Stop cancels r.ctx and the entry goes back untouched
	host := u.Hostname()
	release, err = r.hostPool.Acquire(r.ctx, host)
	if err != nil {
		r.frontier.Requeue(entry)
		return true
	}
	if r.robots != nil && entry.Depth == 0 && !r.robots.Allowed(r.ctx, u) {
		// Links are filtered before admission; only seeds reach this check
		result = failed(result, fmt.Errorf("%w: %s", utils.ErrRobotsDisallowed, entry.URL), start)
		skipped = true
		return false
	}
	if err := r.limiter.ApplyDelay(r.ctx, host, r.cfg.PolitenessDelay); err != nil {
		r.frontier.Requeue(entry)
		return true
	}
	if c.State() != models.StateRunning {
		r.frontier.Requeue(entry)
		return true
	}

	result = r.fetcher.Fetch(r.ctx, entry.URL)
	result.Depth = entry.Depth
	release()
	release = nil

	if result.Success && parse.IsHTML(result.ContentType, result.Body) {
		r.links.ExtractAndQueue(r.ctx, &result, taskLog)
	}
	return false
}

// complete records a finished entry everywhere and releases it from the frontier
func (c *Controller) complete(r *run, entry models.FrontierEntry, result models.FetchResult, taskLog *logrus.Entry) {
	result.Body = nil
	defer r.frontier.Done(entry, func() { c.stats.RecordCompletion(result) })

	fields := logrus.Fields{"duration": result.Duration.String(), "attempts": result.Attempts}
	if result.Success {
		fields["status_code"] = result.StatusCode
		fields["bytes"] = result.Bytes
		taskLog.WithFields(fields).Info("Page crawled")
	} else {
		fields["category"] = result.ErrorKind.String()
		taskLog.WithFields(fields).Warnf("Page failed: %s", result.Error)
	}

	if c.metrics != nil {
		c.metrics.ObserveFetch(result)
	}
	if err := r.store.Settle(models.NewPageRecord(result, entry.EnqueuedAt)); err != nil {
		taskLog.Errorf("Recording page outcome: %v", err)
	}
}

// skip releases an entry that was admitted but never fetched, such as a seed disallowed by robots.txt.
// It counts as skipped, not crawled, and its record is kept with the reason.
func (c *Controller) skip(r *run, entry models.FrontierEntry, result models.FetchResult, taskLog *logrus.Entry) {
	defer r.frontier.Done(entry, func() { c.stats.RecordSkip() })

	taskLog.WithField("category", result.ErrorKind.String()).Infof("Page skipped: %s", result.Error)
	rec := models.NewPageRecord(result, entry.EnqueuedAt)
	rec.Status = models.PageStatusSkipped
	if err := r.store.Settle(rec); err != nil {
		taskLog.Errorf("Recording skipped page: %v", err)
	}
}

func failed(result models.FetchResult, err error, start time.Time) models.FetchResult {
	result.Success = false
	result.Error = err.Error()
	result.ErrorKind = utils.CategorizeError(err)
	result.Duration = time.Since(start)
	return result
}
