package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/aluiziolira/go-scrape-products/api"
	"github.com/aluiziolira/go-scrape-products/cache"
	"github.com/aluiziolira/go-scrape-products/config"
	"github.com/aluiziolira/go-scrape-products/pipeline"
	"github.com/aluiziolira/go-scrape-products/scraper"
	"github.com/aluiziolira/go-scrape-products/storage"
)

func main() {
	configPath := flag.String("config", "", "YAML config file (also SCRAPER_CONFIG)")
	urlFile := flag.String("urls", "", "File with one URL per line")
	workers := flag.Int("workers", 0, "URLs processed concurrently (default from config)")
	rps := flag.Float64("rps", -1, "Shared request rate limit per second, 0 disables (default from config)")
	cacheBackend := flag.String("cache", "", "Cache backend: file or redis")
	storeBackend := flag.String("store", "", "Store backend: sqlite or postgres")
	outputDir := flag.String("output-dir", "", "Directory for export files")
	logFile := flag.String("log-file", "", "Append-only diagnostic log file")
	metricsAddr := flag.String("metrics-addr", "", "Prometheus metrics listen address (e.g. :9090)")
	serveAddr := flag.String("serve", "", "Run the HTTP control API on this address instead of a one-shot run")
	verbose := flag.Bool("v", false, "Enable verbose logging")
	flag.Parse()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration: %v\n", err)
		os.Exit(1)
	}
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "workers":
			cfg.Workers = *workers
		case "rps":
			cfg.RequestsPerSecond = *rps
		case "cache":
			cfg.CacheBackend = strings.ToLower(*cacheBackend)
		case "store":
			cfg.StoreBackend = strings.ToLower(*storeBackend)
		case "output-dir":
			cfg.OutputDir = *outputDir
		case "log-file":
			cfg.LogFile = *logFile
		case "metrics-addr":
			cfg.MetricsAddr = *metricsAddr
		case "serve":
			cfg.ListenAddr = *serveAddr
		case "v":
			cfg.Verbose = *verbose
		}
	})

	logger, closeLog, err := newLogger(cfg.Verbose, cfg.LogFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logging: %v\n", err)
		os.Exit(1)
	}
	defer closeLog()
	slog.SetDefault(logger)

	if err := cfg.Validate(); err != nil {
		slog.Error("invalid configuration", slog.Any("error", err))
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, *urlFile, flag.Args()); err != nil {
		slog.Error("scraper failed", slog.Any("error", err))
		closeLog()
		os.Exit(1)
	}
}

// loadConfig layers defaults, the optional YAML file and SCRAPER_* variables.
func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		if v, ok := config.EnvString("SCRAPER_CONFIG"); ok {
			path = v
		}
	}

	cfg := config.DefaultConfig()
	if path != "" {
		loaded, err := config.LoadFile(path)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}
	if err := cfg.ApplyEnv(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func run(ctx context.Context, cfg *config.Config, urlFile string, args []string) error {
	metrics := scraper.NewMetrics()

	pageCache, closeCache, err := openCache(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeCache()

	store, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := store.Close(); err != nil {
			slog.Error("close store", slog.Any("error", err))
		}
	}()

	fetcher, err := scraper.NewFetcher(cfg, pageCache, scraper.WithMetrics(metrics))
	if err != nil {
		return fmt.Errorf("initialising fetcher: %w", err)
	}
	exporter := pipeline.NewExporter(cfg.OutputDir, cfg.OutputPrefix)

	newRun := func(observer pipeline.Observer) *pipeline.Pipeline {
		return pipeline.NewPipeline(fetcher, store, exporter,
			pipeline.WithObserver(observer),
			pipeline.WithMetrics(metrics),
			pipeline.WithWorkers(cfg.Workers),
		)
	}

	if cfg.MetricsAddr != "" {
		stopMetrics := serveMetrics(cfg.MetricsAddr, metrics)
		defer stopMetrics()
	}

	if cfg.ListenAddr != "" {
		return serveAPI(ctx, cfg.ListenAddr, newRun, metrics)
	}

	targets := args
	if urlFile != "" {
		fromFile, err := readURLFile(urlFile)
		if err != nil {
			return err
		}
		targets = append(targets, fromFile...)
	}
	urls := collectURLs(targets)
	if len(urls) == 0 {
		return errors.New("no urls to scrape: pass them as arguments or with -urls")
	}

	slog.Info("starting scrape",
		slog.Int("urls", len(urls)),
		slog.Int("workers", cfg.Workers),
		slog.String("cache", cfg.CacheBackend),
		slog.String("store", cfg.StoreBackend),
	)

	observer := newConsoleObserver(isTerminal(os.Stderr))
	result, err := newRun(observer).Run(ctx, urls)
	if err != nil {
		return err
	}
	<-observer.finished

	printSummary(os.Stdout, result, metrics)
	if result.ExportErr != nil {
		return fmt.Errorf("export failed: %w", result.ExportErr)
	}
	return nil
}

func openCache(ctx context.Context, cfg *config.Config) (cache.Store, func(), error) {
	switch cfg.CacheBackend {
	case "redis":
		client, err := cache.DialRedis(ctx, cfg.RedisAddr)
		if err != nil {
			return nil, nil, err
		}
		return cache.NewRedisStore(client, cfg.CacheFreshness), func() { client.Close() }, nil
	default:
		fs, err := cache.NewFileStore(cfg.CacheDir, cfg.CacheFreshness, cfg.CacheMemoryEntries)
		if err != nil {
			return nil, nil, err
		}
		return fs, func() {}, nil
	}
}

func openStore(ctx context.Context, cfg *config.Config) (storage.Store, error) {
	switch cfg.StoreBackend {
	case "postgres":
		return storage.NewPostgresStore(ctx, cfg.PostgresDSN)
	default:
		return storage.NewSQLiteStore(ctx, cfg.DBPath)
	}
}

func serveMetrics(addr string, metrics *scraper.Metrics) func() {
	server := &http.Server{
		Addr:              addr,
		Handler:           promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{}),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("metrics server failed", slog.Any("error", err))
		}
	}()
	slog.Info("metrics server enabled", slog.String("addr", addr))

	return func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("metrics server shutdown failed", slog.Any("error", err))
		}
	}
}

func serveAPI(ctx context.Context, addr string, newRun api.RunFactory, metrics *scraper.Metrics) error {
	handlers := api.NewHandlers(ctx, newRun, slog.Default())
	server := &http.Server{
		Addr:              addr,
		Handler:           api.NewRouter(handlers, metrics.Registry),
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("api listening", slog.String("addr", addr))
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("api server: %w", err)
	case <-ctx.Done():
		slog.Info("shutting down api server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	}
}
