// Package main is the setsumei CLI entry point.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/hyperjump/setsumei/internal/cli"
	"github.com/hyperjump/setsumei/internal/config"
	"github.com/hyperjump/setsumei/internal/keyword"
	"github.com/hyperjump/setsumei/internal/loader"
	"github.com/hyperjump/setsumei/internal/models"
	"github.com/hyperjump/setsumei/internal/server"
	"github.com/hyperjump/setsumei/internal/storage"
	"github.com/hyperjump/setsumei/internal/watcher"
	"github.com/hyperjump/setsumei/pkg/utils"
)

var version = "dev"

const (
	defaultConfigPath = "/usr/local/etc/setsumei/config.yaml"
	defaultServerURL  = "http://localhost:8080"
)

// loadConfig loads config from path. When path is the default, it first looks for
// config.yaml in the current directory (for development); if that exists it is used.
// Returns the config and the path that was actually loaded.
func loadConfig(path string) (*config.Config, string, error) {
	if path == defaultConfigPath {
		if cwd, cwdErr := os.Getwd(); cwdErr == nil {
			fallback := filepath.Join(cwd, "config.yaml")
			if _, statErr := os.Stat(fallback); statErr == nil {
				cfg, loadErr := config.Load(fallback)
				if loadErr != nil {
					return nil, "", loadErr
				}
				return cfg, fallback, nil
			}
		}
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, "", err
	}
	return cfg, path, nil
}

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}
	command := os.Args[1]
	switch command {
	case "server":
		runServer()
	case "explain":
		runExplain()
	case "import":
		runImport()
	case "search":
		runSearch()
	case "status":
		runStatus()
	case "version", "--version", "-v":
		fmt.Printf("setsumei version %s\n", version)
	case "help", "--help", "-h":
		printUsage()
	default:
		fmt.Printf("Unknown command: %s\n", command)
		printUsage()
		os.Exit(1)
	}
}

// mustSetup loads the config and creates the logger, exiting on failure.
func mustSetup(configPath string, debugFlag bool) (*config.Config, string, *zap.Logger, bool) {
	cfg, resolved, err := loadConfig(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	debugMode := cfg.Debug || debugFlag
	logger, err := utils.NewLogger(debugMode)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	return cfg, resolved, logger, debugMode
}

func runServer() {
	fs := flag.NewFlagSet("server", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	debug := fs.Bool("debug", false, "enable debug logging (dataset reloads, explanation stages, etc.)")
	_ = fs.Parse(os.Args[2:])

	cfg, resolvedConfigPath, logger, debugMode := mustSetup(*configPath, *debug)
	defer logger.Sync()
	logger.Info("config loaded",
		zap.String("config_path", resolvedConfigPath),
		zap.Bool("debug", debugMode),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	components, err := initializeComponents(ctx, cfg, logger, debugMode)
	if err != nil {
		logger.Fatal("Failed to initialize components", zap.Error(err))
	}
	defer components.Close()
	if err := components.initializeEngine(ctx, cfg, logger, debugMode); err != nil {
		logger.Fatal("Failed to initialize explainer", zap.Error(err))
	}

	if cfg.Dataset.Watch && len(cfg.Dataset.Paths) > 0 {
		watchOpts := []watcher.WatcherOption{}
		if debugMode {
			watchOpts = append(watchOpts, watcher.WithLogger(logger))
		}
		idx := components.Indexer
		watchSvc := watcher.NewWatcher(cfg.Dataset.Paths, loader.SupportedExtensions, func() {
			n, err := idx.Reload(ctx)
			if err != nil {
				logger.Warn("dataset reload failed; keeping previous snapshot", zap.Error(err))
				return
			}
			logger.Info("dataset reloaded", zap.Int("instances", n))
		}, watchOpts...)
		if err := watchSvc.Start(ctx); err != nil {
			logger.Fatal("Failed to start watcher", zap.Error(err))
		}
		defer watchSvc.Stop()
	}

	srv := server.NewServer(
		components.Engine,
		components.Live,
		cfg,
		logger,
		server.WithKeywordIndex(components.KeywordIndex),
		server.WithReloader(components.Indexer),
		server.WithMetrics(components.Metrics),
	)
	go func() {
		if err := srv.Start(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Server failed", zap.Error(err))
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	logger.Info("Shutting down...")
	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	_ = srv.Stop(shutdownCtx)
}

// argsReorder moves any flags (and their values) that appear after the positional
// arguments to the front so that flag.Parse() sees them. Go's flag package stops at
// the first non-flag argument, so "setsumei explain 3 -seed 1" would otherwise leave
// -seed unparsed.
func argsReorder(args []string) []string {
	for i, a := range args {
		if len(a) > 0 && a[0] == '-' {
			if i == 0 {
				return args
			}
			reordered := make([]string, 0, len(args))
			reordered = append(reordered, args[i:]...)
			reordered = append(reordered, args[:i]...)
			return reordered
		}
	}
	return args
}

// buildSearchQuery joins all positional args with spaces so multi-word queries
// work the same with or without shell quoting.
func buildSearchQuery(args []string) string {
	return strings.TrimSpace(strings.Join(args, " "))
}

func parseFormat(s string) cli.OutputFormat {
	format, err := cli.ParseOutputFormat(s)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	return format
}

// explainFlags are the per-request overrides accepted by the explain command.
type explainFlags struct {
	class    string
	samples  int
	features int
	topK     int
	seed     string
}

// request converts the flags into an explanation request for index.
func (f explainFlags) request(index int) (models.ExplainRequest, error) {
	req := models.ExplainRequest{
		Index:       index,
		Class:       f.class,
		NumSamples:  f.samples,
		NumFeatures: f.features,
		TopK:        f.topK,
	}
	if f.seed != "" {
		seed, err := strconv.ParseInt(f.seed, 10, 64)
		if err != nil {
			return req, fmt.Errorf("invalid seed %q", f.seed)
		}
		req.Seed = &seed
	}
	return req, nil
}

// explainURL builds the HTTP API URL for req.
func explainURL(serverURL string, req models.ExplainRequest) string {
	q := url.Values{}
	if req.Class != "" {
		q.Set("class", req.Class)
	}
	if req.NumSamples > 0 {
		q.Set("samples", strconv.Itoa(req.NumSamples))
	}
	if req.NumFeatures > 0 {
		q.Set("features", strconv.Itoa(req.NumFeatures))
	}
	if req.TopK > 0 {
		q.Set("top_k", strconv.Itoa(req.TopK))
	}
	if req.Seed != nil {
		q.Set("seed", strconv.FormatInt(*req.Seed, 10))
	}
	u := strings.TrimRight(serverURL, "/") + "/api/v1/explain/" + strconv.Itoa(req.Index)
	if len(q) > 0 {
		u += "?" + q.Encode()
	}
	return u
}

func runExplain() {
	fs := flag.NewFlagSet("explain", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path (for direct mode)")
	serverURL := fs.String("server", defaultServerURL, "server URL (empty = explain directly from local storage)")
	outputFormat := fs.String("output", "text", "output format: text or json")
	var f explainFlags
	fs.StringVar(&f.class, "class", "", "class to explain (default: predicted class)")
	fs.IntVar(&f.samples, "samples", 0, "neighborhood size (default from config)")
	fs.IntVar(&f.features, "features", 0, "features kept by the surrogate (default from config)")
	fs.IntVar(&f.topK, "top-k", 0, "feature weights to report (default from config)")
	fs.StringVar(&f.seed, "seed", "", "sampler seed for reproducible explanations")
	_ = fs.Parse(argsReorder(os.Args[2:]))

	if fs.NArg() != 1 {
		fmt.Println("Usage: setsumei explain [flags] <index>")
		os.Exit(1)
	}
	format := parseFormat(*outputFormat)
	index, err := strconv.Atoi(fs.Arg(0))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Index must be an integer: %q\n", fs.Arg(0))
		os.Exit(1)
	}
	req, err := f.request(index)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	var exp *models.Explanation
	if *serverURL != "" {
		// Use HTTP API when server is running (avoids Bleve/SQLite lock conflict).
		exp, err = explainViaHTTP(*serverURL, req)
	} else {
		exp, err = explainDirect(*configPath, req)
	}
	if err != nil {
		out := io.Writer(os.Stderr)
		if format == cli.OutputJSON {
			out = os.Stdout
		}
		_ = cli.WriteError(out, err, format)
		os.Exit(1)
	}
	if err := cli.WriteExplanation(os.Stdout, exp, format); err != nil {
		fmt.Fprintf(os.Stderr, "Output failed: %v\n", err)
		os.Exit(1)
	}
}

func explainDirect(configPath string, req models.ExplainRequest) (*models.Explanation, error) {
	cfg, _, logger, debugMode := mustSetup(configPath, false)
	defer logger.Sync()
	ctx := context.Background()
	components, err := initializeComponents(ctx, cfg, logger, debugMode)
	if err != nil {
		return nil, err
	}
	defer components.Close()
	if err := components.initializeEngine(ctx, cfg, logger, debugMode); err != nil {
		return nil, err
	}
	if cfg.Explain.MaxSamples > 0 && req.NumSamples > cfg.Explain.MaxSamples {
		logger.Warn("num_samples capped", zap.Int("requested", req.NumSamples), zap.Int("max", cfg.Explain.MaxSamples))
	}
	return components.Engine.Explain(ctx, req)
}

// apiError is the error body returned by the HTTP API.
type apiError struct {
	Error string `json:"error"`
}

func explainViaHTTP(serverURL string, req models.ExplainRequest) (*models.Explanation, error) {
	resp, err := http.Get(explainURL(serverURL, req))
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, responseError(resp)
	}
	var exp models.Explanation
	if err := json.NewDecoder(resp.Body).Decode(&exp); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return &exp, nil
}

func responseError(resp *http.Response) error {
	b, _ := io.ReadAll(resp.Body)
	var body apiError
	if json.Unmarshal(b, &body) == nil && body.Error != "" {
		return fmt.Errorf("server returned %d: %s", resp.StatusCode, body.Error)
	}
	return fmt.Errorf("server returned %d: %s", resp.StatusCode, strings.TrimSpace(string(b)))
}

func runImport() {
	fs := flag.NewFlagSet("import", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	_ = fs.Parse(argsReorder(os.Args[2:]))

	cfg, _, logger, debugMode := mustSetup(*configPath, false)
	defer logger.Sync()
	paths := fs.Args()
	if len(paths) == 0 {
		paths = cfg.Dataset.Paths
	}
	if len(paths) == 0 {
		fmt.Println("Usage: setsumei import [flags] <file-or-directory>...")
		fmt.Println("With no arguments, dataset.paths from the config is imported.")
		os.Exit(1)
	}

	ctx := context.Background()
	// Import replaces whatever is in the store, so skip the startup load.
	cfg.Dataset.Paths = nil
	components, err := initializeComponents(ctx, cfg, logger, debugMode)
	if err != nil {
		logger.Fatal("Failed to initialize", zap.Error(err))
	}
	defer components.Close()

	n, err := components.Indexer.Import(ctx, paths)
	if err != nil {
		fmt.Printf("Import failed: %v\n", err)
		os.Exit(1)
	}
	embedded, _ := components.Store.CountEmbedded(ctx)
	fmt.Printf("Imported %d instance(s) (%d with embeddings) from %s\n", n, embedded, strings.Join(paths, ", "))
}

// printSearchUsage prints search subcommand usage.
func printSearchUsage(fs *flag.FlagSet) {
	fmt.Fprintf(fs.Output(), "Usage: setsumei search [flags] <query>\n\n")
	fmt.Fprintf(fs.Output(), "Finds instances by text or identifier; use the printed index with 'setsumei explain'.\n\n")
	fs.PrintDefaults()
	fmt.Fprintf(fs.Output(), `
Examples:
  setsumei search solar panel
  setsumei search --fuzzy turbnie           # typo-tolerant search
  setsumei search --output json battery
`)
}

func runSearch() {
	fs := flag.NewFlagSet("search", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path (for direct mode)")
	serverURL := fs.String("server", defaultServerURL, "server URL (empty = use local storage when server is not running)")
	limit := fs.Int("limit", 10, "number of results")
	fuzzyEnabled := fs.Bool("fuzzy", false, "enable fuzzy matching for typo tolerance")
	outputFormat := fs.String("output", "text", "output format: text or json")
	fs.Usage = func() { printSearchUsage(fs) }
	_ = fs.Parse(argsReorder(os.Args[2:]))

	queryStr := buildSearchQuery(fs.Args())
	if queryStr == "" {
		printSearchUsage(fs)
		os.Exit(1)
	}
	format := parseFormat(*outputFormat)

	var search func(fuzzy bool) ([]models.InstanceSummary, error)
	if *serverURL != "" {
		search = func(fuzzy bool) ([]models.InstanceSummary, error) {
			return searchViaHTTP(*serverURL, queryStr, *limit, fuzzy)
		}
	} else {
		cfg, _, logger, debugMode := mustSetup(*configPath, false)
		defer logger.Sync()
		ctx := context.Background()
		components, err := initializeComponents(ctx, cfg, logger, debugMode)
		if err != nil {
			logger.Fatal("Failed to initialize", zap.Error(err))
		}
		defer components.Close()
		search = func(fuzzy bool) ([]models.InstanceSummary, error) {
			return searchDirect(ctx, components, queryStr, *limit, fuzzy)
		}
	}

	results, err := search(*fuzzyEnabled)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Search failed: %v\n", err)
		os.Exit(1)
	}
	// Auto-retry with fuzzy if no results and fuzzy not already enabled
	if !*fuzzyEnabled && len(results) == 0 {
		if fuzzyResults, fuzzyErr := search(true); fuzzyErr == nil && len(fuzzyResults) > 0 {
			results = fuzzyResults
		}
	}
	if err := cli.WriteInstances(os.Stdout, queryStr, results, format); err != nil {
		fmt.Fprintf(os.Stderr, "Output failed: %v\n", err)
		os.Exit(1)
	}
}

func searchDirect(ctx context.Context, c *Components, query string, limit int, fuzzy bool) ([]models.InstanceSummary, error) {
	hits, err := c.KeywordIndex.Search(ctx, query, limit, &keyword.SearchOptions{FuzzyEnabled: fuzzy})
	if err != nil {
		return nil, err
	}
	snap := c.Live.Snapshot()
	out := make([]models.InstanceSummary, 0, len(hits))
	for _, h := range hits {
		inst, err := snap.Instance(ctx, h.Position)
		if err != nil {
			continue
		}
		out = append(out, models.InstanceSummary{
			Index:      inst.Position,
			Identifier: inst.Identifier,
			Preview:    utils.Truncate(inst.Text(), 120),
			Embedded:   inst.HasEmbedding(),
			Score:      h.Score,
		})
	}
	return out, nil
}

func searchViaHTTP(serverURL, query string, limit int, fuzzy bool) ([]models.InstanceSummary, error) {
	q := url.Values{}
	q.Set("q", query)
	q.Set("limit", strconv.Itoa(limit))
	q.Set("fuzzy", strconv.FormatBool(fuzzy))
	resp, err := http.Get(strings.TrimRight(serverURL, "/") + "/api/v1/instances?" + q.Encode())
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, responseError(resp)
	}
	var body struct {
		Instances []models.InstanceSummary `json:"instances"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return body.Instances, nil
}

func runStatus() {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path (for direct mode)")
	serverURL := fs.String("server", defaultServerURL, "server URL (empty = use local storage)")
	outputFormat := fs.String("output", "text", "output format: text or json")
	_ = fs.Parse(os.Args[2:])
	format := parseFormat(*outputFormat)

	var (
		status map[string]interface{}
		err    error
	)
	if *serverURL != "" {
		status, err = statusViaHTTP(*serverURL)
	} else {
		status, err = statusDirect(*configPath)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Status failed: %v\n", err)
		os.Exit(1)
	}
	if err := cli.WriteStatus(os.Stdout, status, format); err != nil {
		fmt.Fprintf(os.Stderr, "Output failed: %v\n", err)
		os.Exit(1)
	}
}

func statusDirect(configPath string) (map[string]interface{}, error) {
	cfg, _, logger, debugMode := mustSetup(configPath, false)
	defer logger.Sync()
	ctx := context.Background()
	cfg.Dataset.Paths = nil
	components, err := initializeComponents(ctx, cfg, logger, debugMode)
	if err != nil {
		return nil, err
	}
	defer components.Close()

	instances, err := components.Store.CountInstances(ctx)
	if err != nil {
		return nil, fmt.Errorf("count instances: %w", err)
	}
	embedded, err := components.Store.CountEmbedded(ctx)
	if err != nil {
		return nil, fmt.Errorf("count embedded: %w", err)
	}
	status := map[string]interface{}{
		"instances":     instances,
		"embedded":      embedded,
		"database_path": cfg.Storage.DatabasePath,
		"cache_backend": cfg.Cache.Backend,
		"num_samples":   cfg.Explain.NumSamples,
		"top_k":         cfg.Explain.TopK,
	}
	if n, err := components.KeywordIndex.DocCount(); err == nil {
		status["keyword_documents"] = n
	}
	if _, total, err := storage.Footprint(cfg.Storage.DatabasePath, cfg.Storage.BleveIndexPath); err == nil {
		status["disk_usage_bytes"] = total
	}
	return status, nil
}

func statusViaHTTP(serverURL string) (map[string]interface{}, error) {
	resp, err := http.Get(strings.TrimRight(serverURL, "/") + "/api/v1/status")
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, responseError(resp)
	}
	var s map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&s); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return s, nil
}

func printUsage() {
	fmt.Println(`setsumei - Local explanations for embedding classifiers

Usage:
  setsumei server [flags]              Start the HTTP server
  setsumei explain [flags] <index>     Explain the prediction for one instance
  setsumei import [flags] [paths...]   Import dataset files into local storage
  setsumei search [flags] <query>      Find instances by text or identifier
  setsumei status [flags]              Show dataset/storage status
  setsumei version                     Show version
  setsumei help                        Show this help

Server Flags:
  --config string    Config file path (default: /usr/local/etc/setsumei/config.yaml)
  --debug            Enable debug logging

Explain Flags:
  --server string    Server URL (default: http://localhost:8080). Use --server "" to explain from local storage.
  --class string     Class to explain (default: predicted class)
  --samples int      Neighborhood size (default from config)
  --features int     Features kept by the surrogate (default from config)
  --top-k int        Feature weights to report (default from config)
  --seed int         Sampler seed for reproducible output
  --output string    Output format: text or json (default: text)

Search Flags:
  --server string    Server URL (default: http://localhost:8080). Use --server "" for local storage.
  --limit int        Number of results (default: 10)
  --fuzzy            Enable fuzzy matching for typo tolerance
  --output string    Output format: text or json (default: text)

Examples:
  setsumei import data/patents.jsonl
  setsumei server
  setsumei search "solar panel"
  setsumei explain 42
  setsumei explain --seed 7 --top-k 5 --output json 42
  setsumei status`)
}
