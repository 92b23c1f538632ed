// Package main is the chaja CLI entry point.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/bunsilmul/chaja/internal/cli"
	"github.com/bunsilmul/chaja/internal/config"
	"github.com/bunsilmul/chaja/internal/embedding"
	"github.com/bunsilmul/chaja/internal/index"
	"github.com/bunsilmul/chaja/internal/ingest"
	"github.com/bunsilmul/chaja/internal/keyword"
	"github.com/bunsilmul/chaja/internal/models"
	"github.com/bunsilmul/chaja/internal/search"
	"github.com/bunsilmul/chaja/internal/server"
	"github.com/bunsilmul/chaja/internal/storage"
	"github.com/bunsilmul/chaja/pkg/utils"
)

var version = "dev"

const defaultConfigPath = "/usr/local/etc/chaja/config.yaml"

// loadConfig loads config from path. When path is the default, it first looks
// for config.yaml in the current directory (for development); if that exists
// it is used, so that "chaja server" from the project dir uses the project's
// config. Returns the config and the path that was actually loaded.
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
	case "search":
		runSearch()
	case "register":
		runRegister()
	case "delete":
		runDelete()
	case "sync":
		runSync()
	case "status":
		runStatus()
	case "version", "--version", "-v":
		fmt.Printf("chaja version %s\n", version)
	case "help", "--help", "-h":
		printUsage()
	default:
		fmt.Printf("Unknown command: %s\n", command)
		printUsage()
		os.Exit(1)
	}
}

func runServer() {
	fs := flag.NewFlagSet("server", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	debug := fs.Bool("debug", false, "enable debug logging")
	_ = fs.Parse(os.Args[2:])

	cfg, resolvedConfigPath, err := loadConfig(*configPath)
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}
	debugMode := cfg.Debug || *debug
	logger, err := utils.NewLogger(debugMode)
	if err != nil {
		fmt.Printf("Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("config loaded",
		zap.String("config_path", resolvedConfigPath),
		zap.Bool("debug", debugMode),
	)

	components, err := initializeComponents(cfg, logger)
	if err != nil {
		logger.Fatal("Failed to initialize components", zap.Error(err))
	}
	defer components.Close()

	srv := server.NewServer(
		components.Engine,
		components.Pipeline,
		components.Store,
		components.Items,
		components.Gateway,
		cfg,
		logger,
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
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := components.Pipeline.Flush(ctx); err != nil {
		logger.Warn("final flush failed", zap.Error(err))
	}
	_ = srv.Stop(ctx)
}

// buildSearchQuery joins all positional args with spaces so multi-word queries
// work the same with or without shell quoting.
func buildSearchQuery(args []string) string {
	return strings.TrimSpace(strings.Join(args, " "))
}

// searchArgsReorder moves any flags (and their values) that appear after the
// query to the front of the slice so that flag.Parse() sees them. Go's flag
// package stops at the first non-flag argument, so "chaja search 검정 지갑
// -limit 5" would otherwise leave -limit unparsed.
func searchArgsReorder(args []string) []string {
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

func runSearch() {
	searchArgs := searchArgsReorder(os.Args[2:])

	fs := flag.NewFlagSet("search", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	serverURL := fs.String("server", "http://localhost:5001", "server URL (empty = use direct storage when server is not running)")
	limit := fs.Int("limit", 0, "number of results (0 = server default)")
	outputFormat := fs.String("output", "text", "output format: text or json")
	_ = fs.Parse(searchArgs)

	if fs.NArg() < 1 {
		fmt.Println("Usage: chaja search [flags] <query>")
		os.Exit(1)
	}
	queryStr := buildSearchQuery(fs.Args())
	if queryStr == "" {
		fmt.Println("Usage: chaja search [flags] <query>")
		os.Exit(1)
	}

	format := cli.OutputText
	switch *outputFormat {
	case "json":
		format = cli.OutputJSON
	case "text":
		format = cli.OutputText
	default:
		fmt.Printf("Unknown output format %q; use text or json\n", *outputFormat)
		os.Exit(1)
	}

	searchQuery := &models.SearchQuery{Query: queryStr, TopK: *limit}

	if *serverURL != "" {
		// Use HTTP API when server is running (avoids index/SQLite lock churn).
		response, err := searchViaHTTP(*serverURL, searchQuery)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Search failed: %v\n", err)
			os.Exit(1)
		}
		if err := cli.WriteSearchResults(os.Stdout, response, format); err != nil {
			fmt.Fprintf(os.Stderr, "Output failed: %v\n", err)
			os.Exit(1)
		}
		return
	}

	// Direct storage access (when server is not running).
	components, logger, err := initializeFromConfigPath(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()
	defer components.Close()

	response, err := components.Engine.Search(context.Background(), searchQuery)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Search failed: %v\n", err)
		os.Exit(1)
	}
	if err := cli.WriteSearchResults(os.Stdout, response, format); err != nil {
		fmt.Fprintf(os.Stderr, "Output failed: %v\n", err)
		os.Exit(1)
	}
}

func searchViaHTTP(serverURL string, query *models.SearchQuery) (*models.SearchResponse, error) {
	body, err := json.Marshal(query)
	if err != nil {
		return nil, err
	}
	resp, err := http.Post(serverURL+"/api/v1/search", "application/json", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("server returned %d: %s", resp.StatusCode, string(b))
	}
	var response models.SearchResponse
	if err := json.NewDecoder(resp.Body).Decode(&response); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return &response, nil
}

func runRegister() {
	fs := flag.NewFlagSet("register", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	id := fs.Int64("id", 0, "external catalog id (required)")
	name := fs.String("name", "", "item name")
	description := fs.String("description", "", "item description")
	brand := fs.String("brand", "", "item brand")
	imagePath := fs.String("image", "", "path to an item photo; captioned before indexing")
	imageURL := fs.String("image-url", "", "URL of an item photo; fetched and captioned")
	_ = fs.Parse(os.Args[2:])

	if *id == 0 {
		fmt.Println("Usage: chaja register -id <external-id> [flags]")
		os.Exit(1)
	}

	input := &models.RegisterInput{
		ExternalID:  *id,
		Name:        *name,
		Description: *description,
		Brand:       *brand,
		ImageURL:    *imageURL,
	}
	if *imagePath != "" {
		data, err := os.ReadFile(*imagePath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to read image: %v\n", err)
			os.Exit(1)
		}
		input.Image = data
	}

	components, logger, err := initializeFromConfigPath(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()
	defer components.Close()

	ctx := context.Background()
	result, err := components.Pipeline.Register(ctx, input)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Registration failed: %v\n", err)
		os.Exit(1)
	}
	if err := components.Pipeline.Flush(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Flush failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Item registered: %d (ordinal %d)\n", result.ExternalID, result.Ordinal)
	if result.Caption != "" {
		fmt.Printf("Caption: %s\n", result.Caption)
	}
}

func runDelete() {
	fs := flag.NewFlagSet("delete", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	_ = fs.Parse(os.Args[2:])

	if fs.NArg() < 1 {
		fmt.Println("Usage: chaja delete [flags] <external-id>")
		os.Exit(1)
	}
	id, err := strconv.ParseInt(fs.Arg(0), 10, 64)
	if err != nil {
		fmt.Printf("Invalid item id %q\n", fs.Arg(0))
		os.Exit(1)
	}

	components, logger, err := initializeFromConfigPath(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()
	defer components.Close()

	removed, err := components.Pipeline.Delete(context.Background(), id)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Deletion failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Item %d deleted (%d vector(s) removed)\n", id, removed)
}

func runSync() {
	fs := flag.NewFlagSet("sync", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	_ = fs.Parse(os.Args[2:])

	if fs.NArg() < 1 {
		fmt.Println("Usage: chaja sync [flags] <valid-id> [<valid-id> ...]")
		os.Exit(1)
	}
	validIDs := make([]int64, 0, fs.NArg())
	for _, arg := range fs.Args() {
		id, err := strconv.ParseInt(arg, 10, 64)
		if err != nil {
			fmt.Printf("Invalid item id %q\n", arg)
			os.Exit(1)
		}
		validIDs = append(validIDs, id)
	}

	components, logger, err := initializeFromConfigPath(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()
	defer components.Close()

	result, err := components.Pipeline.Sync(context.Background(), validIDs)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Sync failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Synced: %d indexed, %d valid, %d removed\n",
		result.TotalIndexed, result.TotalValid, result.Removed)
	for _, orphan := range result.OrphanIDs {
		fmt.Printf("  removed orphan %d\n", orphan)
	}
}

// statusResponse is the shape of GET /api/v1/status.
type statusResponse struct {
	Items       int64  `json:"items"`
	LiveVectors int    `json:"live_vectors"`
	Vectors     int    `json:"vectors"`
	IndexKind   string `json:"index_kind"`
	Dimension   int    `json:"dimension"`
}

func runStatus() {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	serverURL := fs.String("server", "http://localhost:5001", "server URL (empty = use direct storage)")
	outputFormat := fs.String("output", "text", "output format: text or json")
	_ = fs.Parse(os.Args[2:])

	var status statusResponse
	if *serverURL != "" {
		res, err := statusViaHTTP(*serverURL)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Status failed: %v\n", err)
			os.Exit(1)
		}
		status = *res
	} else {
		components, logger, err := initializeFromConfigPath(*configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to initialize: %v\n", err)
			os.Exit(1)
		}
		defer logger.Sync()
		defer components.Close()
		itemCount, err := components.Items.Count(context.Background())
		if err != nil {
			fmt.Fprintf(os.Stderr, "Count items failed: %v\n", err)
			os.Exit(1)
		}
		status = statusResponse{
			Items:       int64(itemCount),
			LiveVectors: components.Store.Count(),
			Vectors:     components.Store.VectorCount(),
			IndexKind:   string(components.Store.Kind()),
			Dimension:   components.Store.Dim(),
		}
	}

	switch *outputFormat {
	case "json":
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(status); err != nil {
			fmt.Fprintf(os.Stderr, "Output failed: %v\n", err)
			os.Exit(1)
		}
	case "text":
		fmt.Printf("items:         %d   # catalog items with metadata\n", status.Items)
		fmt.Printf("live_vectors:  %d   # vectors mapped to an item\n", status.LiveVectors)
		fmt.Printf("vectors:       %d   # physical vectors (includes soft-deleted)\n", status.Vectors)
		fmt.Printf("index_kind:    %s\n", status.IndexKind)
		fmt.Printf("dimension:     %d\n", status.Dimension)
	default:
		fmt.Fprintf(os.Stderr, "Unknown output format %q; use text or json\n", *outputFormat)
		os.Exit(1)
	}
}

func statusViaHTTP(serverURL string) (*statusResponse, error) {
	resp, err := http.Get(serverURL + "/api/v1/status")
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("server returned %d: %s", resp.StatusCode, string(b))
	}
	var s statusResponse
	if err := json.NewDecoder(resp.Body).Decode(&s); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return &s, nil
}

// Components holds initialized services.
type Components struct {
	Store    *index.Store
	Items    *storage.ItemStore
	Keywords *keyword.Index
	Gateway  embedding.Gateway
	Engine   *search.Engine
	Pipeline *ingest.Pipeline
}

func (c *Components) Close() {
	if c.Store != nil {
		_ = c.Store.Close()
	}
	if c.Items != nil {
		_ = c.Items.Close()
	}
	if c.Keywords != nil {
		_ = c.Keywords.Close()
	}
}

// initializeFromConfigPath loads config, builds a logger and initializes all
// components. Used by the direct-storage subcommands.
func initializeFromConfigPath(configPath string) (*Components, *zap.Logger, error) {
	cfg, _, err := loadConfig(configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}
	logger, err := utils.NewLogger(cfg.Debug)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create logger: %w", err)
	}
	components, err := initializeComponents(cfg, logger)
	if err != nil {
		return nil, nil, err
	}
	return components, logger, nil
}

func initializeComponents(cfg *config.Config, logger *zap.Logger) (*Components, error) {
	if err := os.MkdirAll(cfg.Storage.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create data dir: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Storage.DatabasePath), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create database dir: %w", err)
	}

	store, corruption, err := index.Open(index.Options{
		Dir:              cfg.Storage.DataDir,
		Kind:             index.Kind(cfg.Index.Kind),
		Dim:              cfg.Embedding.Dimension,
		PersistBatchSize: cfg.Index.PersistBatchSize,
		Graph: index.GraphParams{
			Fanout:           cfg.Index.ApproxBuildFanout,
			BuildSearchWidth: cfg.Index.ApproxBuildSearchWidth,
		},
		QuerySearchWidth: cfg.Index.ApproxQuerySearchWidth,
		LockRetries:      cfg.Index.LockRetries,
		LockRetryDelay:   time.Duration(cfg.Index.LockRetryDelayMS) * time.Millisecond,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize vector store: %w", err)
	}
	if corruption != nil {
		logger.Warn("vector snapshot was corrupted; starting from an empty index",
			zap.String("kind", string(corruption.Kind)),
			zap.String("archived", corruption.ArchivedPath),
			zap.String("detail", corruption.Detail))
	}

	items, err := storage.NewItemStore(cfg.Storage.DatabasePath)
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("failed to initialize item storage: %w", err)
	}

	keywords, err := keyword.New(cfg.Storage.KeywordIndexPath)
	if err != nil {
		_ = store.Close()
		_ = items.Close()
		return nil, fmt.Errorf("failed to initialize keyword index: %w", err)
	}

	var gateway embedding.Gateway
	httpGateway, err := embedding.NewHTTPGateway(
		cfg.Embedding.Endpoint,
		cfg.Embedding.CaptionEndpoint,
		cfg.Embedding.Dimension,
		cfg.Embedding.Timeout(),
	)
	if err != nil {
		logger.Warn("embedding gateway unavailable, using deterministic mock",
			zap.Error(err))
		gateway = embedding.NewMockGateway(cfg.Embedding.Dimension)
	} else {
		gateway = httpGateway
	}
	gateway = embedding.WithCache(gateway, cfg.Embedding.CacheSize)

	engine := search.NewEngine(store, items, gateway, keywords, &cfg.Search, logger)
	pipeline := ingest.NewPipeline(store, items, gateway, keywords, logger)

	return &Components{
		Store:    store,
		Items:    items,
		Keywords: keywords,
		Gateway:  gateway,
		Engine:   engine,
		Pipeline: pipeline,
	}, nil
}

func printUsage() {
	fmt.Println(`chaja - semantic lost-and-found search service

Usage:
  chaja server [flags]             Start the HTTP server
  chaja search [flags] <query>     Search indexed items
  chaja register [flags]           Register an item into the index
  chaja delete [flags] <id>        Delete an item
  chaja sync [flags] <id> ...      Reconcile the index against valid catalog ids
  chaja status [flags]             Show index/storage status
  chaja version                    Show version
  chaja help                       Show this help

Server Flags:
  --config string    Config file path (default: /usr/local/etc/chaja/config.yaml)
  --debug            Enable debug logging

Search Flags:
  --config string    Config file path (for direct storage mode)
  --server string    Server URL (default: http://localhost:5001). Use empty (--server "") for direct storage.
  --limit int        Number of results (default: server default)
  --output string    Output format: text or json (default: text)

Register Flags:
  --config string       Config file path
  --id int              External catalog id (required)
  --name string         Item name
  --description string  Item description
  --brand string        Item brand
  --image string        Path to an item photo
  --image-url string    URL of an item photo

Examples:
  chaja server
  chaja search "검정색 가죽 지갑"
  chaja search --output json 에어팟
  chaja register --id 42 --name "검정 지갑" --description "가죽 반지갑"
  chaja delete 42
  chaja sync 1 2 3 7
  chaja status --output json`)
}
