package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"

	"webspider/pkg/api"
	"webspider/pkg/models"
	"webspider/pkg/utils"
)

const (
	defaultFailuresLimit = 50
	maxFailuresLimit     = 500
)

// handleStartCrawl handles the start_crawl tool
func (s *Server) handleStartCrawl(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	seeds := request.GetStringSlice("seed_urls", nil)
	if len(seeds) == 0 {
		return mcp.NewToolResultError("seed_urls parameter is required"), nil
	}

	req := api.StartRequest{
		SeedURLs:          seeds,
		MaxPages:          optionalInt(request, "max_pages"),
		MaxDepth:          optionalInt(request, "max_depth"),
		Concurrency:       optionalInt(request, "concurrency"),
		AllowedDomains:    request.GetStringSlice("allowed_domains", nil),
		RequestTimeoutMs:  optionalInt64(request, "request_timeout_ms"),
		PolitenessDelayMs: optionalInt64(request, "politeness_delay_ms"),
		RespectRobots:     optionalBool(request, "respect_robots"),
		RespectNofollow:   optionalBool(request, "respect_nofollow"),
		UseSitemaps:       optionalBool(request, "use_sitemaps"),
	}

	if err := s.cfg.Engine.Start(req.Apply(s.cfg.Defaults)); err != nil {
		switch {
		case errors.Is(err, utils.ErrAlreadyRunning):
			return mcp.NewToolResultError("a crawl is already running; call stop_crawl first"), nil
		case errors.Is(err, utils.ErrInvalidConfig):
			return mcp.NewToolResultError(err.Error()), nil
		}
		return mcp.NewToolResultError(fmt.Sprintf("failed to start crawl: %v", err)), nil
	}

	stats, state := s.cfg.Engine.Status()
	s.history.Begin(stats.RunID, seeds, stats.StartTime)
	go s.watchRun(stats.RunID, s.cfg.Engine.Done())

	s.log.WithField("run_id", stats.RunID).Infof("Crawl started via MCP with %d seed(s)", len(seeds))

	return mcp.NewToolResultText(formatJSON(map[string]interface{}{
		"run_id":  stats.RunID,
		"message": "Crawl started. Use get_status to follow progress.",
		"status":  api.NewStatusResponse(stats, state),
	})), nil
}

// watchRun records the final counters once the run's done channel closes
func (s *Server) watchRun(runID string, done <-chan struct{}) {
	<-done
	stats, _ := s.cfg.Engine.Status()
	if stats.RunID != runID {
		// A newer run already replaced the stats; keep what the history has
		stats = models.CrawlStats{}
	}
	s.history.Finish(runID, stats)
	s.log.WithField("run_id", runID).Info("MCP crawl run finished")
}

// handleStopCrawl handles the stop_crawl tool
func (s *Server) handleStopCrawl(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	before, _ := s.cfg.Engine.Status()
	s.history.MarkStopRequested(before.RunID)

	if err := s.cfg.Engine.Stop(); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to stop crawl: %v", err)), nil
	}

	stats, state := s.cfg.Engine.Status()
	return mcp.NewToolResultText(formatJSON(map[string]interface{}{
		"message": "Crawl stopped",
		"status":  api.NewStatusResponse(stats, state),
	})), nil
}

// handleGetStatus handles the get_status tool
func (s *Server) handleGetStatus(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	stats, state := s.cfg.Engine.Status()
	return mcp.NewToolResultText(formatJSON(map[string]interface{}{
		"status": api.NewStatusResponse(stats, state),
	})), nil
}

// handleListFailures handles the list_failures tool
func (s *Server) handleListFailures(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	limit := request.GetInt("limit", defaultFailuresLimit)
	if limit <= 0 {
		limit = defaultFailuresLimit
	}
	if limit > maxFailuresLimit {
		limit = maxFailuresLimit
	}

	records, err := s.cfg.Engine.Failures(limit)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to list failures: %v", err)), nil
	}
	if records == nil {
		records = []models.PageRecord{}
	}

	return mcp.NewToolResultText(formatJSON(map[string]interface{}{
		"count":    len(records),
		"failures": records,
	})), nil
}

// handleListRuns handles the list_runs tool
func (s *Server) handleListRuns(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	runs := s.history.List()
	return mcp.NewToolResultText(formatJSON(map[string]interface{}{
		"count": len(runs),
		"runs":  runs,
	})), nil
}

// optionalInt returns nil when the argument was not supplied, so the configured default stays in effect
func optionalInt(request mcp.CallToolRequest, key string) *int {
	if _, ok := request.GetArguments()[key]; !ok {
		return nil
	}
	v := request.GetInt(key, 0)
	return &v
}

func optionalInt64(request mcp.CallToolRequest, key string) *int64 {
	p := optionalInt(request, key)
	if p == nil {
		return nil
	}
	v := int64(*p)
	return &v
}

func optionalBool(request mcp.CallToolRequest, key string) *bool {
	if _, ok := request.GetArguments()[key]; !ok {
		return nil
	}
	v := request.GetBool(key, false)
	return &v
}

// formatJSON formats data as an indented JSON string
func formatJSON(data map[string]interface{}) string {
	b, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return fmt.Sprintf("{\"error\": %q}", err.Error())
	}
	return string(b)
}
