// Package sitemap expands crawl seeds with the page URLs listed in XML sitemaps
package sitemap

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"net/url"
	"time"

	"github.com/sirupsen/logrus"

	"webspider/pkg/fetch"
)

const (
	// DefaultMaxSitemaps bounds how many sitemap documents one run fetches, nested indexes included
	DefaultMaxSitemaps   = 50
	maxUncompressedBytes = 50 << 20 // Sitemap protocol limit
)

// urlSet is a <urlset> document
type urlSet struct {
	XMLName xml.Name   `xml:"urlset"`
	URLs    []urlEntry `xml:"url"`
}

type urlEntry struct {
	Loc     string `xml:"loc"`
	LastMod string `xml:"lastmod,omitempty"`
}

// sitemapIndex is a <sitemapindex> document
type sitemapIndex struct {
	XMLName  xml.Name       `xml:"sitemapindex"`
	Sitemaps []sitemapEntry `xml:"sitemap"`
}

type sitemapEntry struct {
	Loc string `xml:"loc"`
}

// AdmitFunc offers a page URL to the crawl and reports whether it was newly queued
type AdmitFunc func(rawURL string) bool

// Processor fetches sitemaps breadth-first, following indexes, and admits every listed page
type Processor struct {
	fetcher     *fetch.Fetcher
	limiter     *fetch.RateLimiter
	delay       time.Duration
	admit       AdmitFunc
	maxSitemaps int

	processed map[string]bool // Sitemaps fetched or queued in this Processor
	log       *logrus.Entry
}

// NewProcessor creates a Processor. limiter may be nil.
func NewProcessor(fetcher *fetch.Fetcher, limiter *fetch.RateLimiter, delay time.Duration, admit AdmitFunc, log *logrus.Entry) *Processor {
	return &Processor{
		fetcher:     fetcher,
		limiter:     limiter,
		delay:       delay,
		admit:       admit,
		maxSitemaps: DefaultMaxSitemaps,
		processed:   make(map[string]bool),
		log:         log.WithField("component", "sitemap_processor"),
	}
}

// markProcessed returns true if sitemapURL was not seen before
func (sp *Processor) markProcessed(sitemapURL string) bool {
	if sp.processed[sitemapURL] {
		return false
	}
	sp.processed[sitemapURL] = true
	return true
}

// Run processes the given sitemap URLs and any sitemaps they reference.
// Returns the number of page URLs newly admitted; stops early when ctx is done.
func (sp *Processor) Run(ctx context.Context, sitemapURLs []string) int {
	var queue []string
	for _, u := range sitemapURLs {
		if sp.markProcessed(u) {
			queue = append(queue, u)
		}
	}

	admitted := 0
	fetched := 0
	for len(queue) > 0 {
		if ctx.Err() != nil {
			sp.log.Warnf("Context cancelled, stopping sitemap processing: %v", ctx.Err())
			break
		}
		if fetched >= sp.maxSitemaps {
			sp.log.Warnf("Sitemap limit of %d reached, %d sitemaps left unprocessed", sp.maxSitemaps, len(queue))
			break
		}

		smURL := queue[0]
		queue = queue[1:]
		fetched++

		nested, pages := sp.process(ctx, smURL)
		for _, n := range nested {
			if sp.markProcessed(n) {
				queue = append(queue, n)
			}
		}
		admitted += pages
	}
	return admitted
}

// process fetches one sitemap and returns nested sitemap URLs and the count of admitted pages
func (sp *Processor) process(ctx context.Context, smURL string) (nested []string, admitted int) {
	sitemapLog := sp.log.WithField("sitemap_url", smURL)

	parsed, err := url.Parse(smURL)
	if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") {
		sitemapLog.Warn("Invalid sitemap URL, skipping")
		return nil, 0
	}

	if sp.limiter != nil {
		if err := sp.limiter.ApplyDelay(ctx, parsed.Hostname(), sp.delay); err != nil {
			return nil, 0
		}
	}

	result := sp.fetcher.Fetch(ctx, smURL)
	if !result.Success {
		sitemapLog.WithField("error_kind", result.ErrorKind).Debugf("Sitemap unavailable: %s", result.Error)
		return nil, 0
	}

	body, err := decompress(result.Body)
	if err != nil {
		sitemapLog.Warnf("Failed to decompress sitemap: %v", err)
		return nil, 0
	}

	index, set, err := parseSitemap(body)
	if err != nil {
		sitemapLog.Warnf("Content was not a valid sitemap index or URL set: %v", err)
		return nil, 0
	}

	if index != nil {
		for _, entry := range index.Sitemaps {
			if _, err := url.ParseRequestURI(entry.Loc); err != nil {
				sitemapLog.WithField("nested_sitemap", entry.Loc).Warnf("Invalid nested sitemap URL: %v", err)
				continue
			}
			nested = append(nested, entry.Loc)
		}
		sitemapLog.Infof("Parsed as sitemap index, found %d references", len(nested))
		return nested, 0
	}

	for _, entry := range set.URLs {
		if entry.Loc == "" {
			continue
		}
		if sp.admit(entry.Loc) {
			admitted++
		}
	}
	sitemapLog.Infof("Parsed as URL set, found %d URLs, queued %d new", len(set.URLs), admitted)
	return nil, admitted
}

// parseSitemap decodes body as either a sitemap index or a URL set
func parseSitemap(body []byte) (*sitemapIndex, *urlSet, error) {
	var index sitemapIndex
	errIndex := xml.Unmarshal(body, &index)
	if errIndex == nil {
		return &index, nil, nil
	}

	var set urlSet
	errSet := xml.Unmarshal(body, &set)
	if errSet == nil {
		return nil, &set, nil
	}
	return nil, nil, fmt.Errorf("index: %v; urlset: %w", errIndex, errSet)
}

// decompress gunzips body when it carries the gzip magic bytes (sitemap.xml.gz)
func decompress(body []byte) ([]byte, error) {
	if len(body) < 2 || body[0] != 0x1f || body[1] != 0x8b {
		return body, nil
	}
	zr, err := gzip.NewReader(bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	defer zr.Close()
	return io.ReadAll(io.LimitReader(zr, maxUncompressedBytes))
}

// DefaultLocations returns the conventional /sitemap.xml for each distinct origin of seeds
func DefaultLocations(seeds []string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, raw := range seeds {
		u, err := url.Parse(raw)
		if err != nil || u.Host == "" {
			continue
		}
		loc := (&url.URL{Scheme: u.Scheme, Host: u.Host, Path: "/sitemap.xml"}).String()
		if !seen[loc] {
			seen[loc] = true
			out = append(out, loc)
		}
	}
	return out
}
