package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/sirupsen/logrus"

	"webspider/pkg/config"
	"webspider/pkg/crawler"
	"webspider/pkg/fetch"
	weblog "webspider/pkg/log"
	"webspider/pkg/mcp"
)

// runMcpServer handles the mcp-server subcommand
func runMcpServer(args []string) {
	fs := flag.NewFlagSet("mcp-server", flag.ExitOnError)
	configFile := fs.String("config", "", "Path to config file (optional)")
	transport := fs.String("transport", "", "Transport type (stdio, sse); default from config, else stdio")
	addr := fs.String("addr", "", "Listen address for sse transport (default from config, else :8081)")
	logLevel := fs.String("loglevel", "info", "Log level (debug, info, warn, error)")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, `Usage: spider mcp-server [options]

Start an MCP (Model Context Protocol) server for AI tool integration.

Options:
`)
		fs.PrintDefaults()
		fmt.Fprintf(os.Stderr, `
Examples:
  # Start with stdio transport
  spider mcp-server

  # Start with SSE transport on port 8081
  spider mcp-server -transport sse -addr :8081

Available MCP Tools:
  start_crawl    Start a background crawl
  stop_crawl     Stop the running crawl
  get_status     Live statistics of the current or last crawl
  list_failures  URLs that failed in the current or last crawl
  list_runs      Recent crawls started through this server
`)
	}

	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}

	exitCode := doMcpServer(*configFile, *transport, *addr, *logLevel, os.Stderr)
	os.Exit(exitCode)
}

// doMcpServer is the testable implementation of the MCP server
func doMcpServer(configPath, transport, addr, logLevel string, stderr io.Writer) int {
	// MCP protocol uses stdout, logs go to stderr
	log, err := weblog.NewLogger(logLevel, stderr)
	if err != nil {
		fmt.Fprintf(stderr, "Invalid log level: %s\n", logLevel)
		return 1
	}

	appCfg, err := loadConfig(configPath)
	if err != nil {
		fmt.Fprintf(stderr, "Error loading config: %v\n", err)
		return 1
	}
	if transport != "" {
		appCfg.MCPTransport = transport
	}
	if addr != "" {
		appCfg.MCPAddr = addr
	}
	if _, err := appCfg.Validate(); err != nil {
		fmt.Fprintf(stderr, "Error in config: %v\n", err)
		return 1
	}

	ctrl := crawler.NewController(logrus.NewEntry(log), &crawler.Options{
		Transport:  fetch.NewTransport(appCfg.HTTPClientSettings),
		GCInterval: appCfg.GCInterval,
	})
	defer ctrl.Close()

	server, err := mcp.NewServer(&mcp.ServerConfig{
		Engine:    ctrl,
		Defaults:  appCfg.Crawl,
		Transport: appCfg.MCPTransport,
		Addr:      appCfg.MCPAddr,
		Logger:    log,
	})
	if err != nil {
		fmt.Fprintf(stderr, "Error creating MCP server: %v\n", err)
		return 1
	}

	log.Infof("Starting MCP server (transport: %s, version: %s)", appCfg.MCPTransport, config.Version)

	runErr := server.Run()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Warnf("MCP shutdown: %v", err)
	}

	if runErr != nil {
		fmt.Fprintf(stderr, "MCP server error: %v\n", runErr)
		return 1
	}
	return 0
}
