package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	_ "net/http/pprof"
	"os"
	"os/signal"
	"runtime"
	"strings"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"webspider/pkg/api"
	"webspider/pkg/config"
	"webspider/pkg/crawler"
	"webspider/pkg/fetch"
	weblog "webspider/pkg/log"
	"webspider/pkg/metrics"
	"webspider/pkg/watch"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "crawl":
		runCrawl(os.Args[2:])
	case "serve":
		runServe(os.Args[2:])
	case "watch":
		runWatch(os.Args[2:])
	case "validate":
		runValidate(os.Args[2:])
	case "mcp-server":
		runMcpServer(os.Args[2:])
	case "version":
		fmt.Printf("spider %s (commit %s, built %s)\n", config.Version, config.GitCommit, config.BuildTime)
	case "-h", "--help", "help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	printUsageTo(os.Stdout)
}

// printUsageTo writes usage information to the provided writer.
func printUsageTo(w io.Writer) {
	fmt.Fprintln(w, `spider - Controllable web crawler

Usage:
  spider <command> [options]

Commands:
  crawl       Run a crawl in the foreground until it finishes or is interrupted
  serve       Start the HTTP control API
  watch       Re-run the configured crawl on a schedule
  mcp-server  Start MCP server for AI tool integration
  validate    Validate configuration file
  version     Show version info

Run 'spider <command> -h' for command-specific help.`)
}

// loadConfig loads the config file, or returns an empty config when path is empty
func loadConfig(path string) (*config.AppConfig, error) {
	if path == "" {
		return &config.AppConfig{Crawl: config.NewCrawlConfig()}, nil
	}
	return config.LoadAppConfig(path)
}

// crawlFlags holds command-line overrides for the crawl defaults
type crawlFlags struct {
	seeds          string
	allowedDomains string
	maxPages       int
	maxDepth       int
	concurrency    int
	delay          string
	timeout        string
	userAgent      string
	stateDir       string
	respectRobots  bool
	nofollow       bool
	sitemaps       bool
}

func (f *crawlFlags) register(fs *flag.FlagSet) {
	fs.StringVar(&f.seeds, "seeds", "", "Comma-separated seed URLs")
	fs.StringVar(&f.allowedDomains, "domains", "", "Comma-separated allowed hostnames (default: seed hosts)")
	fs.IntVar(&f.maxPages, "max-pages", 0, "Maximum pages to crawl (0 = unbounded)")
	fs.IntVar(&f.maxDepth, "max-depth", 0, "Maximum link depth from the seeds")
	fs.IntVar(&f.concurrency, "concurrency", 0, "Number of concurrent workers")
	fs.StringVar(&f.delay, "delay", "", "Politeness delay per host, e.g. 500ms or 1.5")
	fs.StringVar(&f.timeout, "timeout", "", "Per-request timeout, e.g. 10s")
	fs.StringVar(&f.userAgent, "user-agent", "", "User-Agent header")
	fs.StringVar(&f.stateDir, "state-dir", "", "BadgerDB directory for the visited set (default: in-memory)")
	fs.BoolVar(&f.respectRobots, "robots", false, "Honour robots.txt")
	fs.BoolVar(&f.nofollow, "nofollow", false, "Skip rel=nofollow links")
	fs.BoolVar(&f.sitemaps, "sitemaps", false, "Also seed from the seed hosts' sitemaps")
}

// apply overlays only the flags that were set on the command line
func (f *crawlFlags) apply(fs *flag.FlagSet, cfg *config.CrawlConfig) error {
	var applyErr error
	fs.Visit(func(fl *flag.Flag) {
		if applyErr != nil {
			return
		}
		switch fl.Name {
		case "seeds":
			cfg.SeedURLs = splitList(f.seeds)
		case "domains":
			cfg.AllowedDomains = splitList(f.allowedDomains)
		case "max-pages":
			cfg.MaxPages = f.maxPages
		case "max-depth":
			cfg.MaxDepth = f.maxDepth
		case "concurrency":
			cfg.Concurrency = f.concurrency
		case "delay":
			cfg.PolitenessDelay, applyErr = config.ParseDuration(f.delay)
		case "timeout":
			cfg.RequestTimeout, applyErr = config.ParseDuration(f.timeout)
		case "user-agent":
			cfg.UserAgent = f.userAgent
		case "state-dir":
			cfg.StateDir = f.stateDir
		case "robots":
			cfg.RespectRobots = f.respectRobots
		case "nofollow":
			cfg.RespectNofollow = f.nofollow
		case "sitemaps":
			cfg.UseSitemaps = f.sitemaps
		}
	})
	return applyErr
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// runCrawl handles the crawl subcommand
func runCrawl(args []string) {
	fs := flag.NewFlagSet("crawl", flag.ExitOnError)
	configFile := fs.String("config", "", "Path to config file (optional)")
	logLevel := fs.String("loglevel", "", "Log level (debug, info, warn, error, fatal)")
	pprofAddr := fs.String("pprof", "", "pprof address, e.g. localhost:6060 (disabled by default)")
	visitedLog := fs.String("visited-log", "", "Write visited URLs to this file on completion")
	var overrides crawlFlags
	overrides.register(fs)

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: spider crawl [options]\n\nOptions:\n")
		fs.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  spider crawl -seeds https://example.com/ -max-pages 100\n")
		fmt.Fprintf(os.Stderr, "  spider crawl -config config.yaml -delay 1s -robots\n")
	}

	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}

	appCfg, log := loadAndValidateConfig(*configFile, *logLevel)
	if err := overrides.apply(fs, &appCfg.Crawl); err != nil {
		log.Fatalf("Invalid flag: %v", err)
	}
	if *visitedLog != "" {
		appCfg.VisitedLogPath = *visitedLog
	}

	runtime.SetBlockProfileRate(1000)
	runtime.SetMutexProfileFraction(1000)
	startPprof(*pprofAddr, log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				log.Errorf("PANIC in signal handler: %v", r)
			}
		}()
		sig := <-sigChan
		log.Warnf("Received signal: %v. Initiating graceful shutdown...", sig)
		cancel()

		select {
		case sig = <-sigChan:
			log.Warnf("Received second signal: %v. Forcing exit.", sig)
			os.Exit(1)
		case <-time.After(30 * time.Second):
			log.Warn("Graceful shutdown period exceeded after signal. Forcing exit.")
			os.Exit(1)
		}
	}()

	os.Exit(executeCrawl(ctx, appCfg, log, os.Stdout))
}

// executeCrawl runs one crawl to completion, stopping it early when ctx is cancelled.
// Prints the final statistics as JSON to stdout and returns the exit code.
func executeCrawl(ctx context.Context, appCfg *config.AppConfig, log *logrus.Logger, stdout io.Writer) int {
	logEntry := log.WithField("component", "cli")
	ctrl := crawler.NewController(logrus.NewEntry(log), &crawler.Options{
		Transport:  fetch.NewTransport(appCfg.HTTPClientSettings),
		GCInterval: appCfg.GCInterval,
	})
	defer func() {
		if err := ctrl.Close(); err != nil {
			logEntry.Errorf("Failed to close controller: %v", err)
		}
	}()

	if err := ctrl.Start(appCfg.Crawl); err != nil {
		logEntry.Errorf("Failed to start crawl: %v", err)
		return 1
	}

	select {
	case <-ctrl.Done():
	case <-ctx.Done():
		logEntry.Warn("Stopping crawl...")
		if err := ctrl.Stop(); err != nil {
			logEntry.Errorf("Stop failed: %v", err)
		}
	}

	stats, state := ctrl.Status()
	logEntry.WithFields(logrus.Fields{
		"state":   state,
		"crawled": stats.CrawledPages,
		"errors":  stats.Errors,
		"elapsed": stats.Elapsed.Round(time.Millisecond),
	}).Info("Crawl finished")

	if appCfg.VisitedLogPath != "" {
		if err := ctrl.WriteVisitedLog(appCfg.VisitedLogPath); err != nil {
			logEntry.Errorf("Error writing visited log: %v", err)
		} else {
			logEntry.Infof("Visited URLs written to %s", appCfg.VisitedLogPath)
		}
	}

	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(api.NewStatusResponse(stats, state)); err != nil {
		logEntry.Errorf("Failed to write statistics: %v", err)
		return 1
	}
	return 0
}

// runServe handles the serve subcommand
func runServe(args []string) {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	configFile := fs.String("config", "", "Path to config file (optional)")
	logLevel := fs.String("loglevel", "", "Log level (debug, info, warn, error, fatal)")
	addr := fs.String("addr", "", "Listen address (default from config, else :8080)")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: spider serve [options]\n\nOptions:\n")
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}

	appCfg, log := loadAndValidateConfig(*configFile, *logLevel)
	if *addr != "" {
		appCfg.ListenAddr = *addr
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := executeServe(ctx, appCfg, log); err != nil {
		log.Errorf("HTTP API error: %v", err)
		os.Exit(1)
	}
}

// executeServe runs the HTTP API until ctx is done, then stops any active crawl
func executeServe(ctx context.Context, appCfg *config.AppConfig, log *logrus.Logger) error {
	rec := metrics.NewRecorder()
	ctrl := crawler.NewController(logrus.NewEntry(log), &crawler.Options{
		Transport:  fetch.NewTransport(appCfg.HTTPClientSettings),
		Metrics:    rec,
		GCInterval: appCfg.GCInterval,
	})
	defer func() {
		if err := ctrl.Close(); err != nil {
			log.Errorf("Failed to close controller: %v", err)
		}
	}()

	srv := api.NewServer(ctrl, appCfg.Crawl, rec, log.WithField("component", "api"))
	return srv.ListenAndServe(ctx, appCfg.ListenAddr)
}

// runWatch handles the watch subcommand
func runWatch(args []string) {
	fs := flag.NewFlagSet("watch", flag.ExitOnError)
	configFile := fs.String("config", "", "Path to config file (optional)")
	logLevel := fs.String("loglevel", "", "Log level (debug, info, warn, error, fatal)")
	intervalStr := fs.String("interval", "24h", "Re-crawl interval (e.g. 30m, 6h, 7d)")
	stateFile := fs.String("state-file", watch.DefaultStateFile, "Where the last-run state is kept")
	var overrides crawlFlags
	overrides.register(fs)

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: spider watch [options]\n\nOptions:\n")
		fs.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  spider watch -seeds https://example.com/ -interval 12h\n")
		fmt.Fprintf(os.Stderr, "  spider watch -config config.yaml -interval 7d\n")
	}

	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}

	interval, err := watch.ParseInterval(*intervalStr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	appCfg, log := loadAndValidateConfig(*configFile, *logLevel)
	if err := overrides.apply(fs, &appCfg.Crawl); err != nil {
		log.Fatalf("Invalid flag: %v", err)
	}
	crawlCfg := appCfg.Crawl.Clone()
	if _, err := crawlCfg.Validate(); err != nil {
		log.Fatalf("Crawl configuration error: %v", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	ctrl := crawler.NewController(logrus.NewEntry(log), &crawler.Options{
		Transport:  fetch.NewTransport(appCfg.HTTPClientSettings),
		GCInterval: appCfg.GCInterval,
	})
	defer ctrl.Close()

	scheduler := watch.NewScheduler(ctrl, appCfg.Crawl, interval, *stateFile, logrus.NewEntry(log))
	if err := scheduler.Run(ctx); err != nil {
		log.Errorf("Watch error: %v", err)
		os.Exit(1)
	}
}

// runValidate handles the validate subcommand
func runValidate(args []string) {
	fs := flag.NewFlagSet("validate", flag.ExitOnError)
	configFile := fs.String("config", "config.yaml", "Path to config file")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: spider validate [options]\n\nOptions:\n")
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}

	os.Exit(doValidate(*configFile, os.Stdout, os.Stderr))
}

// doValidate performs validation and writes output to provided writers.
// Returns exit code (0 = success, 1 = error).
// Seeds are optional in a config file, since API and MCP requests supply their own.
func doValidate(configPath string, stdout, stderr io.Writer) int {
	appCfg, err := config.LoadAppConfig(configPath)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	warnings, err := appCfg.Validate()
	if err != nil {
		fmt.Fprintf(stderr, "ERROR: %v\n", err)
		return 1
	}
	for _, w := range warnings {
		fmt.Fprintf(stdout, "WARN: %s\n", w)
	}

	if len(appCfg.Crawl.SeedURLs) > 0 {
		crawlCfg := appCfg.Crawl.Clone()
		crawlWarnings, err := crawlCfg.Validate()
		if err != nil {
			fmt.Fprintf(stderr, "ERROR: [crawl] %v\n", err)
			return 1
		}
		for _, w := range crawlWarnings {
			fmt.Fprintf(stdout, "WARN: [crawl] %s\n", w)
		}
		fmt.Fprintf(stdout, "OK: [crawl] %d seed(s)\n", len(crawlCfg.SeedURLs))
	} else {
		fmt.Fprintln(stdout, "OK: [crawl] no seeds, defaults only")
	}

	fmt.Fprintln(stdout, "\nConfiguration valid.")
	return 0
}

// loadAndValidateConfig loads the config file, builds the logger and logs warnings.
// A -loglevel flag takes precedence over the file's log_level.
func loadAndValidateConfig(configFile, logLevelFlag string) (*config.AppConfig, *logrus.Logger) {
	appCfg, err := loadConfig(configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Config error: %v\n", err)
		os.Exit(1)
	}

	warnings, validateErr := appCfg.Validate()
	log := setupLogger(firstNonEmpty(logLevelFlag, appCfg.LogLevel), os.Stderr)
	if validateErr != nil {
		log.Fatalf("Config error: %v", validateErr)
	}
	if configFile != "" {
		log.Infof("Loaded configuration from %s", configFile)
	}
	for _, w := range warnings {
		log.Warn(w)
	}
	return appCfg, log
}

// setupLogger creates a configured logrus.Logger with the given log level.
func setupLogger(logLevelStr string, out io.Writer) *logrus.Logger {
	log, err := weblog.NewLogger(logLevelStr, out)
	if err != nil {
		log.Warnf("Invalid log level '%s', using default 'info'. Error: %v", logLevelStr, err)
	} else {
		log.Debugf("Log level set to: %s", log.GetLevel())
	}
	return log
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// startPprof starts the pprof HTTP server if addr is non-empty.
func startPprof(addr string, log *logrus.Logger) {
	if addr != "" {
		go func() {
			log.Infof("Starting pprof server at http://%s/debug/pprof/", addr)
			if err := http.ListenAndServe(addr, nil); err != nil {
				log.Errorf("pprof server error: %v", err)
			}
		}()
	}
}
