// Package mcp exposes the crawl controller as Model Context Protocol tools
package mcp

import (
	"context"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/sirupsen/logrus"

	"webspider/pkg/api"
	"webspider/pkg/config"
)

const serverName = "webspider"

// Engine is the crawl controller surface the tools drive
type Engine interface {
	api.Engine
	Done() <-chan struct{}
}

// ServerConfig holds configuration for the MCP server
type ServerConfig struct {
	Engine    Engine
	Defaults  config.CrawlConfig // Fill the fields start_crawl omits
	Transport string             // "stdio" or "sse"
	Addr      string             // SSE listen address
	Logger    *logrus.Logger
}

// Server wraps the MCP server with crawl control tools
type Server struct {
	mcpServer *server.MCPServer
	cfg       *ServerConfig
	history   *RunHistory
	log       *logrus.Entry
}

// NewServer creates a new MCP server instance
func NewServer(cfg *ServerConfig) (*Server, error) {
	if cfg.Engine == nil {
		return nil, fmt.Errorf("engine is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = logrus.New()
	}

	mcpServer := server.NewMCPServer(
		serverName,
		config.Version,
		server.WithToolCapabilities(false),
		server.WithLogging(),
	)

	s := &Server{
		mcpServer: mcpServer,
		cfg:       cfg,
		history:   NewRunHistory(20),
		log:       cfg.Logger.WithField("component", "mcp"),
	}
	s.registerTools()
	return s, nil
}

// registerTools registers all available MCP tools
func (s *Server) registerTools() {
	startTool := mcp.NewTool("start_crawl",
		mcp.WithDescription("Start a background crawl. Returns immediately with the run ID and initial status."),
		mcp.WithArray("seed_urls",
			mcp.Required(),
			mcp.Description("Absolute http(s) URLs to start from"),
			mcp.WithStringItems(),
		),
		mcp.WithNumber("max_pages", mcp.Description("Maximum pages to crawl (0 = unbounded)")),
		mcp.WithNumber("max_depth", mcp.Description("Maximum link depth from the seeds")),
		mcp.WithNumber("concurrency", mcp.Description("Number of concurrent workers")),
		mcp.WithArray("allowed_domains",
			mcp.Description("Hostnames the crawl may visit (defaults to the seed hosts)"),
			mcp.WithStringItems(),
		),
		mcp.WithNumber("request_timeout_ms", mcp.Description("Per-request timeout in milliseconds")),
		mcp.WithNumber("politeness_delay_ms", mcp.Description("Minimum delay between requests to one host, in milliseconds")),
		mcp.WithBoolean("respect_robots", mcp.Description("Honour robots.txt")),
		mcp.WithBoolean("respect_nofollow", mcp.Description("Skip rel=nofollow links")),
		mcp.WithBoolean("use_sitemaps", mcp.Description("Also queue the URLs listed in the seed hosts' sitemaps")),
	)
	s.mcpServer.AddTool(startTool, s.handleStartCrawl)

	stopTool := mcp.NewTool("stop_crawl",
		mcp.WithDescription("Stop the running crawl and wait for in-flight requests to finish"),
	)
	s.mcpServer.AddTool(stopTool, s.handleStopCrawl)

	statusTool := mcp.NewTool("get_status",
		mcp.WithDescription("Get live statistics of the current or last crawl"),
	)
	s.mcpServer.AddTool(statusTool, s.handleGetStatus)

	failuresTool := mcp.NewTool("list_failures",
		mcp.WithDescription("List URLs that failed in the current or last crawl"),
		mcp.WithNumber("limit", mcp.Description("Maximum number of records (default: 50, max: 500)")),
	)
	s.mcpServer.AddTool(failuresTool, s.handleListFailures)

	runsTool := mcp.NewTool("list_runs",
		mcp.WithDescription("List recent crawls started through this server"),
	)
	s.mcpServer.AddTool(runsTool, s.handleListRuns)

	s.log.Infof("Registered %d MCP tools", 5)
}

// Run starts the MCP server with the configured transport
func (s *Server) Run() error {
	switch s.cfg.Transport {
	case "", "stdio":
		s.log.Info("Starting MCP server with stdio transport")
		return server.ServeStdio(s.mcpServer)
	case "sse":
		s.log.Infof("Starting MCP server with SSE transport on %s", s.cfg.Addr)
		return server.NewSSEServer(s.mcpServer).Start(s.cfg.Addr)
	default:
		return fmt.Errorf("unknown transport: %s (supported: stdio, sse)", s.cfg.Transport)
	}
}

// Shutdown stops any running crawl
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info("Shutting down MCP server...")
	done := make(chan error, 1)
	go func() { done <- s.cfg.Engine.Stop() }()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}
