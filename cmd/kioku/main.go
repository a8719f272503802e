// Package main is the Kioku CLI entry point.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/kiokudb/kioku/internal/chunker"
	"github.com/kiokudb/kioku/internal/config"
	"github.com/kiokudb/kioku/internal/embedding"
	"github.com/kiokudb/kioku/internal/index"
	"github.com/kiokudb/kioku/internal/ingest"
	"github.com/kiokudb/kioku/internal/models"
	"github.com/kiokudb/kioku/internal/retrieval"
	"github.com/kiokudb/kioku/internal/server"
	"github.com/kiokudb/kioku/internal/storage"
	"github.com/kiokudb/kioku/internal/watcher"
	"github.com/kiokudb/kioku/pkg/utils"
)

var version = "dev"

const defaultConfigPath = "/usr/local/etc/kioku/config.yaml"

// loadConfig loads config from path. When path is the default, it first
// looks for config.yaml in the current directory so that running from the
// project dir uses the project's config. Falls back to built-in defaults
// when no file exists at the default location.
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
		if _, statErr := os.Stat(path); os.IsNotExist(statErr) {
			return config.Default(), "", nil
		}
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, "", err
	}
	return cfg, path, nil
}

func main() {
	// Credentials may live in a local .env during development.
	_ = godotenv.Load()

	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}
	switch os.Args[1] {
	case "server":
		runServer()
	case "ingest":
		runIngest()
	case "query":
		runQuery()
	case "delete":
		runDelete()
	case "status":
		runStatus()
	case "version", "--version", "-v":
		fmt.Printf("kioku version %s\n", version)
	case "help", "--help", "-h":
		printUsage()
	default:
		fmt.Printf("Unknown command: %s\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func runServer() {
	fs := flag.NewFlagSet("server", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	debug := fs.Bool("debug", false, "enable debug logging")
	_ = fs.Parse(os.Args[2:])

	cfg, resolvedPath, err := loadConfig(*configPath)
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
		zap.String("config_path", resolvedPath),
		zap.Bool("debug", debugMode))

	components, err := initializeComponents(cfg, logger)
	if err != nil {
		logger.Fatal("Failed to initialize components", zap.Error(err))
	}
	defer components.Close()

	watchCtx, watchCancel := context.WithCancel(context.Background())
	defer watchCancel()
	var watchSvc *watcher.Watcher
	if len(cfg.Watch.Directories) > 0 {
		ing := components.Ingestor
		watchSvc = watcher.New(
			cfg.Watch.Directories,
			cfg.Watch.Extensions,
			cfg.Watch.RecursiveOrDefault(),
			func(path string) {
				if _, err := ing.IngestFile(context.Background(), path); err != nil {
					logger.Warn("watch ingest failed", zap.String("path", path), zap.Error(err))
				}
			},
			func(path string) {
				if _, err := ing.DeleteByPath(context.Background(), path); err != nil {
					logger.Warn("watch remove failed", zap.String("path", path), zap.Error(err))
				}
			},
			watcher.WithLogger(logger),
		)
		if err := watchSvc.Start(watchCtx); err != nil {
			logger.Fatal("Failed to start watcher", zap.Error(err))
		}
		defer watchSvc.Stop()
		watchSvc.SyncExisting()
	}

	srv := server.NewServer(
		components.Ingestor,
		components.Assembler,
		components.Docs,
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
	watchCancel()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Stop(ctx)
}

func runIngest() {
	fs := flag.NewFlagSet("ingest", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	_ = fs.Parse(os.Args[2:])

	if fs.NArg() < 1 {
		fmt.Println("Usage: kioku ingest [flags] <file-or-directory>")
		os.Exit(1)
	}
	path := fs.Arg(0)

	cfg, logger, components := mustInitialize(*configPath)
	defer logger.Sync()
	defer components.Close()

	ctx := context.Background()
	info, err := os.Stat(path)
	if err != nil {
		fmt.Printf("Failed to stat path: %v\n", err)
		os.Exit(1)
	}
	if info.IsDir() {
		n := 0
		err := filepath.WalkDir(path, func(p string, d os.DirEntry, err error) error {
			if err != nil || d.IsDir() || !matchesExtension(p, cfg.Watch.Extensions) {
				return err
			}
			res, ingErr := components.Ingestor.IngestFile(ctx, p)
			if ingErr != nil {
				fmt.Printf("Skipped %s: %v\n", p, ingErr)
				return nil
			}
			if res.AlreadyIngested {
				fmt.Printf("Unchanged %s (%s)\n", p, res.Hash)
			} else {
				fmt.Printf("Ingested %s: %d chunk(s), hash %s\n", p, res.ChunkCount, res.Hash)
				n++
			}
			return nil
		})
		if err != nil {
			fmt.Printf("Walking directory failed: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Ingested %d file(s) from %s\n", n, path)
		return
	}

	res, err := components.Ingestor.IngestFile(ctx, path)
	if err != nil {
		fmt.Printf("Ingestion failed: %v\n", err)
		os.Exit(1)
	}
	if res.AlreadyIngested {
		fmt.Printf("Already ingested: %s\n", res.Hash)
		return
	}
	fmt.Printf("Ingested %s: %d chunk(s), dimension %d, hash %s\n",
		res.OriginalName, res.ChunkCount, res.EmbeddingDimension, res.Hash)
}

func runQuery() {
	fs := flag.NewFlagSet("query", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	serverURL := fs.String("server", "", "server URL (empty = use local storage directly)")
	topK := fs.Int("top-k", 0, "number of chunks to retrieve (default from config)")
	outputFormat := fs.String("output", "text", "output format: text or json")
	_ = fs.Parse(os.Args[2:])

	if fs.NArg() < 1 {
		fmt.Println("Usage: kioku query [flags] <query text>")
		os.Exit(1)
	}
	queryStr := strings.TrimSpace(strings.Join(fs.Args(), " "))
	if queryStr == "" {
		fmt.Println("Usage: kioku query [flags] <query text>")
		os.Exit(1)
	}

	var result *models.RetrievalResult
	if *serverURL != "" {
		res, err := queryViaHTTP(*serverURL, queryStr, *topK)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Query failed: %v\n", err)
			os.Exit(1)
		}
		result = res
	} else {
		cfg, logger, components := mustInitialize(*configPath)
		defer logger.Sync()
		defer components.Close()
		k := *topK
		if k <= 0 {
			k = cfg.Retrieval.TopK
		}
		result = components.Assembler.Query(context.Background(), queryStr, k)
	}

	switch *outputFormat {
	case "json":
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(result); err != nil {
			fmt.Fprintf(os.Stderr, "Output failed: %v\n", err)
			os.Exit(1)
		}
	case "text":
		fmt.Println(result.Context)
		if len(result.Hits) > 0 {
			fmt.Printf("\n# %d chunk(s) in %d ms\n", len(result.Hits), result.QueryTime)
		}
	default:
		fmt.Fprintf(os.Stderr, "Unknown output format %q; use text or json\n", *outputFormat)
		os.Exit(1)
	}
}

func queryViaHTTP(serverURL, query string, topK int) (*models.RetrievalResult, error) {
	body, err := json.Marshal(models.QueryRequest{Query: query, TopK: topK})
	if err != nil {
		return nil, err
	}
	resp, err := http.Post(serverURL+"/api/v1/query", "application/json", strings.NewReader(string(body)))
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("server returned %d: %s", resp.StatusCode, string(b))
	}
	var result models.RetrievalResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return &result, nil
}

func runDelete() {
	fs := flag.NewFlagSet("delete", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	byPath := fs.Bool("path", false, "treat the argument as a file path instead of a content hash")
	_ = fs.Parse(os.Args[2:])

	if fs.NArg() < 1 {
		fmt.Println("Usage: kioku delete [flags] <content-hash>")
		fmt.Println("       kioku delete --path <file-path>")
		os.Exit(1)
	}
	target := fs.Arg(0)

	_, logger, components := mustInitialize(*configPath)
	defer logger.Sync()
	defer components.Close()

	ctx := context.Background()
	var removed bool
	var err error
	if *byPath {
		removed, err = components.Ingestor.DeleteByPath(ctx, target)
	} else {
		removed, err = components.Ingestor.Delete(ctx, target)
	}
	if err != nil {
		fmt.Printf("Deletion failed: %v\n", err)
		os.Exit(1)
	}
	if !removed {
		fmt.Printf("Document not found: %s\n", target)
		os.Exit(1)
	}
	fmt.Printf("Document deleted: %s\n", target)
}

func runStatus() {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	serverURL := fs.String("server", "", "server URL (empty = use local storage directly)")
	outputFormat := fs.String("output", "text", "output format: text or json")
	_ = fs.Parse(os.Args[2:])

	var info models.IndexInfo
	var diskBytes *int64
	if *serverURL != "" {
		resp, err := http.Get(*serverURL + "/api/v1/index/info")
		if err != nil {
			fmt.Fprintf(os.Stderr, "Status failed: %v\n", err)
			os.Exit(1)
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			b, _ := io.ReadAll(resp.Body)
			fmt.Fprintf(os.Stderr, "Server returned %d: %s\n", resp.StatusCode, string(b))
			os.Exit(1)
		}
		var out struct {
			Index          models.IndexInfo `json:"index"`
			DiskUsageBytes *int64           `json:"disk_usage_bytes"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
			fmt.Fprintf(os.Stderr, "Parse failed: %v\n", err)
			os.Exit(1)
		}
		info = out.Index
		diskBytes = out.DiskUsageBytes
	} else {
		cfg, logger, components := mustInitialize(*configPath)
		defer logger.Sync()
		defer components.Close()
		res, err := components.Ingestor.Info(context.Background())
		if err != nil {
			fmt.Fprintf(os.Stderr, "Status failed: %v\n", err)
			os.Exit(1)
		}
		info = *res
		if n, err := storage.DiskUsageBytes(
			cfg.Storage.IndexPath,
			cfg.Storage.LedgerPath,
			cfg.Storage.DatabasePath,
			cfg.Storage.UploadDir,
		); err == nil {
			diskBytes = &n
		}
	}

	switch *outputFormat {
	case "json":
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		out := map[string]interface{}{"index": info}
		if diskBytes != nil {
			out["disk_usage_bytes"] = *diskBytes
		}
		if err := enc.Encode(out); err != nil {
			fmt.Fprintf(os.Stderr, "Output failed: %v\n", err)
			os.Exit(1)
		}
	case "text":
		fmt.Printf("exists:           %t\n", info.Exists)
		fmt.Printf("documents:        %d\n", info.TotalDocuments)
		fmt.Printf("chunks:           %d\n", info.TotalChunks)
		fmt.Printf("vectors:          %d\n", info.TotalVectors)
		if info.Dimension > 0 {
			fmt.Printf("dimension:        %d\n", info.Dimension)
		}
		if info.EmbeddingModel != "" {
			fmt.Printf("embedding_model:  %s\n", info.EmbeddingModel)
		}
		if diskBytes != nil {
			fmt.Printf("disk_usage_bytes: %d\n", *diskBytes)
		}
	default:
		fmt.Fprintf(os.Stderr, "Unknown output format %q; use text or json\n", *outputFormat)
		os.Exit(1)
	}
}

func matchesExtension(path string, extensions []string) bool {
	if len(extensions) == 0 {
		return true
	}
	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(path), "."))
	for _, e := range extensions {
		if ext == strings.ToLower(strings.TrimPrefix(e, ".")) {
			return true
		}
	}
	return false
}

// Components holds initialized services.
type Components struct {
	Docs      storage.DocumentStore
	Embedder  embedding.Embedder
	Manager   *index.Manager
	Ingestor  *ingest.Ingestor
	Assembler *retrieval.Assembler
}

func (c *Components) Close() {
	if c.Docs != nil {
		_ = c.Docs.Close()
	}
	if c.Embedder != nil {
		_ = c.Embedder.Close()
	}
}

// mustInitialize loads config, builds a logger, and wires the components,
// exiting on any failure. Shared by the single-shot subcommands.
func mustInitialize(configPath string) (*config.Config, *zap.Logger, *Components) {
	cfg, _, err := loadConfig(configPath)
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}
	logger, err := utils.NewLogger(cfg.Debug)
	if err != nil {
		fmt.Printf("Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	components, err := initializeComponents(cfg, logger)
	if err != nil {
		logger.Fatal("Failed to initialize", zap.Error(err))
	}
	return cfg, logger, components
}

func initializeComponents(cfg *config.Config, logger *zap.Logger) (*Components, error) {
	docs, err := storage.NewSQLiteStore(cfg.Storage.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize document store: %w", err)
	}

	var embedder embedding.Embedder
	apiKey := os.Getenv(cfg.Embedding.APIKeyEnv)
	if apiKey != "" {
		client, err := embedding.NewClient(embedding.ClientConfig{
			BaseURL:    cfg.Embedding.BaseURL,
			APIKey:     apiKey,
			Model:      cfg.Embedding.Model,
			Dimensions: cfg.Embedding.Dimensions,
			BatchSize:  cfg.Embedding.BatchSize,
			MaxRetries: cfg.Embedding.MaxRetries,
			Timeout:    time.Duration(cfg.Embedding.TimeoutSeconds) * time.Second,
		})
		if err != nil {
			_ = docs.Close()
			return nil, fmt.Errorf("failed to initialize embedder: %w", err)
		}
		embedder = client
	} else {
		logger.Warn("no embedding API key set, using deterministic mock embedder",
			zap.String("api_key_env", cfg.Embedding.APIKeyEnv))
		embedder = embedding.NewMockEmbedder(cfg.Embedding.Dimensions)
	}
	if cfg.Embedding.CacheSize > 0 {
		embedder = embedding.NewCachedEmbedder(embedder, cfg.Embedding.CacheSize)
	}

	manager, err := index.NewManager(
		cfg.Storage.IndexPath,
		cfg.Storage.LedgerPath,
		cfg.Embedding.Model,
		index.WithLogger(logger),
	)
	if err != nil {
		_ = docs.Close()
		return nil, fmt.Errorf("failed to initialize index: %w", err)
	}

	ch, err := chunker.New(cfg.Chunking.MaxTokens, cfg.Chunking.Overlap)
	if err != nil {
		_ = docs.Close()
		return nil, fmt.Errorf("failed to initialize chunker: %w", err)
	}

	ingestor := ingest.NewIngestor(ch, embedder, manager, docs, ingest.WithLogger(logger))
	assembler := retrieval.NewAssembler(embedder, manager,
		retrieval.WithDocumentStore(docs),
		retrieval.WithLogger(logger))

	return &Components{
		Docs:      docs,
		Embedder:  embedder,
		Manager:   manager,
		Ingestor:  ingestor,
		Assembler: assembler,
	}, nil
}

func printUsage() {
	fmt.Println(`kioku - Embedding-indexed document retrieval

Usage:
  kioku server [flags]            Start the HTTP server
  kioku ingest [flags] <file>     Ingest a document or directory
  kioku query [flags] <text>      Retrieve context for a query
  kioku delete [flags] <hash>     Delete a document by content hash
  kioku status [flags]            Show index status
  kioku version                   Show version
  kioku help                      Show this help

Server Flags:
  --config string    Config file path (default: /usr/local/etc/kioku/config.yaml)
  --debug            Enable debug logging

Ingest Flags:
  --config string    Config file path

Query Flags:
  --config string    Config file path (for direct storage mode)
  --server string    Server URL; empty uses local storage directly
  --top-k int        Number of chunks to retrieve (default from config)
  --output string    Output format: text or json (default: text)

Delete Flags:
  --config string    Config file path
  --path             Treat the argument as a file path instead of a hash

Status Flags:
  --config string    Config file path (for direct storage mode)
  --server string    Server URL; empty uses local storage directly
  --output string    Output format: text or json (default: text)

Examples:
  kioku server
  kioku ingest manual.pdf
  kioku ingest ./docs
  kioku query "how do I reset the device"
  kioku query --server http://localhost:8080 --output json "reset procedure"
  kioku delete 5d41402abc4b2a76b9719d911017c592
  kioku delete --path ./docs/manual.pdf
  kioku status`)
}
