package crawler

import (
	"context"
	"errors"
	"net/url"

	"github.com/sirupsen/logrus"

	"webspider/pkg/fetch"
	"webspider/pkg/frontier"
	"webspider/pkg/models"
	"webspider/pkg/parse"
	"webspider/pkg/utils"
)

// LinkProcessor turns a fetched page into frontier admissions
type LinkProcessor struct {
	scope    *Scope
	robots   *fetch.RobotsHandler // nil when robots.txt is not respected
	frontier *frontier.Frontier
	maxDepth int
	opts     parse.LinkOptions
}

// NewLinkProcessor creates a LinkProcessor for one run
func NewLinkProcessor(scope *Scope, robots *fetch.RobotsHandler, f *frontier.Frontier, maxDepth int, opts parse.LinkOptions) *LinkProcessor {
	return &LinkProcessor{scope: scope, robots: robots, frontier: f, maxDepth: maxDepth, opts: opts}
}

// ExtractAndQueue records the page's outbound links on result and pushes the admissible ones at depth+1.
// Returns the number of links newly admitted to the frontier.
func (lp *LinkProcessor) ExtractAndQueue(ctx context.Context, result *models.FetchResult, taskLog *logrus.Entry) int {
	pageURL, err := url.Parse(result.FinalURL)
	if result.FinalURL == "" || err != nil {
		pageURL, err = url.Parse(result.URL)
		if err != nil {
			return 0
		}
	}

	hrefs, base, err := parse.ExtractLinks(result.Body, result.ContentType, pageURL, lp.opts)
	if err != nil {
		// Non-fatal: keep whatever was recovered
		if errors.Is(err, utils.ErrParseMalformed) {
			taskLog.Debugf("Partial link extraction: %v", err)
		} else {
			taskLog.Warnf("Link extraction: %v", err)
		}
	}

	// Unique normalized links, in document order
	seen := make(map[string]bool, len(hrefs))
	links := make([]string, 0, len(hrefs))
	for _, href := range hrefs {
		normalized, ok := parse.Normalize(href, base)
		if !ok || seen[normalized] {
			continue
		}
		seen[normalized] = true
		links = append(links, normalized)
	}
	result.Links = links

	nextDepth := result.Depth + 1
	if nextDepth > lp.maxDepth {
		return 0
	}
	queued := 0
	for _, link := range links {
		linkURL, err := url.Parse(link)
		if err != nil {
			continue
		}
		if !lp.scope.Allows(linkURL) {
			taskLog.Tracef("Out of scope, skipping: %s", link)
			continue
		}
		if lp.robots != nil && !lp.robots.Allowed(ctx, linkURL) {
			taskLog.Debugf("Disallowed by robots.txt, skipping: %s", link)
			continue
		}
		if lp.frontier.Push(models.FrontierEntry{URL: link, Depth: nextDepth}) {
			queued++
		}
	}

	taskLog.WithFields(logrus.Fields{"links": len(links), "queued": queued}).Debug("Finished link extraction")
	return queued
}
