package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/akazanov/go-scrape-wb/catalog"
	"github.com/akazanov/go-scrape-wb/config"
	"github.com/akazanov/go-scrape-wb/models"
	"github.com/akazanov/go-scrape-wb/pipeline"
	"github.com/akazanov/go-scrape-wb/report"
	"github.com/akazanov/go-scrape-wb/scraper"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	godotenv.Load()

	defaultCfg := config.DefaultConfig()
	pagesDefault := defaultCfg.MaxPages
	if value, ok, err := config.EnvInt("SCRAPER_PAGES"); err != nil {
		fmt.Fprintf(os.Stderr, "invalid SCRAPER_PAGES: %v\n", err)
		os.Exit(1)
	} else if ok {
		pagesDefault = value
	}
	outputDefault := defaultCfg.OutputFile
	if value, ok := config.EnvString("SCRAPER_OUTPUT"); ok {
		outputDefault = value
	}
	metricsDefault := defaultCfg.MetricsAddr
	if value, ok := config.EnvString("SCRAPER_METRICS_ADDR"); ok {
		metricsDefault = value
	}
	cacheDefault := defaultCfg.CacheDir
	if value, ok := config.EnvString("SCRAPER_CACHE_DIR"); ok {
		cacheDefault = value
	}
	skipSalesDefault := defaultCfg.SkipSales
	if value, ok, err := config.EnvBool("SCRAPER_SKIP_SALES"); err != nil {
		fmt.Fprintf(os.Stderr, "invalid SCRAPER_SKIP_SALES: %v\n", err)
		os.Exit(1)
	} else if ok {
		skipSalesDefault = value
	}

	mode := flag.String("mode", "", "Scrape mode: category or keyword (prompted when omitted)")
	queryValue := flag.String("query", "", "Category name/URL or search keyword (prompted when omitted)")
	maxPages := flag.Int("pages", pagesDefault, "Maximum listing pages to fetch")
	delayMs := flag.Int("delay", 100, "Delay between page requests (milliseconds)")
	randomDelayMs := flag.Int("random-delay", 0, "Random jitter added to delay (milliseconds)")
	maxRetries := flag.Int("max-retries", 2, "Maximum retry attempts per page")
	timeoutSec := flag.Int("timeout", 10, "HTTP request timeout (seconds)")
	retryBackoffMs := flag.Int("retry-backoff", 500, "Initial retry backoff (milliseconds)")
	retryBackoffMaxMs := flag.Int("retry-backoff-max", 5000, "Maximum retry backoff (milliseconds)")
	outputFile := flag.String("output", outputDefault, "Output file path (run date is appended)")
	outputFormat := flag.String("format", "csv", "Output format: csv, xlsx, or dual")
	reportFile := flag.String("report", "", "Write an HTML chart report to this path")
	skipSales := flag.Bool("skip-sales", skipSalesDefault, "Skip the per-product sold-quantity lookups")
	cacheDir := flag.String("cache-dir", cacheDefault, "Directory for the catalogue cache")
	metricsAddr := flag.String("metrics-addr", metricsDefault, "Prometheus metrics listen address (e.g. :9090)")
	verbose := flag.Bool("v", false, "Enable verbose logging")

	flag.Parse()

	logger, level := newLogger(*verbose)
	slog.SetDefault(logger)
	slog.SetLogLoggerLevel(level.Level())

	cfg := config.DefaultConfig()
	cfg.MaxPages = *maxPages
	cfg.Delay = time.Duration(*delayMs) * time.Millisecond
	cfg.RandomDelay = time.Duration(*randomDelayMs) * time.Millisecond
	cfg.MaxRetries = *maxRetries
	cfg.Timeout = time.Duration(*timeoutSec) * time.Second
	cfg.RetryBackoff = time.Duration(*retryBackoffMs) * time.Millisecond
	cfg.RetryBackoffMax = time.Duration(*retryBackoffMaxMs) * time.Millisecond
	cfg.OutputFile = *outputFile
	cfg.OutputFormat = strings.ToLower(*outputFormat)
	cfg.ReportFile = *reportFile
	cfg.SkipSales = *skipSales
	cfg.CacheDir = *cacheDir
	cfg.MetricsAddr = *metricsAddr
	cfg.Verbose = *verbose
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid configuration", slog.Any("error", err))
		os.Exit(1)
	}

	query, err := resolveQuery(*mode, *queryValue)
	if err != nil {
		slog.Error("invalid query", slog.Any("error", err))
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go func() {
		<-ctx.Done()
		slog.Info("shutdown signal received, flushing what was collected")
	}()

	target := scraper.Target{Query: query}
	if query.Mode == models.ModeCategory {
		category, err := catalog.New(cfg).Resolve(ctx, query.Value)
		if err != nil {
			slog.Error("resolving category", slog.Any("error", err))
			os.Exit(1)
		}
		slog.Info("category resolved",
			slog.String("name", category.Name),
			slog.String("shard", category.Shard),
		)
		target.Category = category
	}

	s, err := scraper.New(cfg)
	if err != nil {
		slog.Error("initialising scraper", slog.Any("error", err))
		os.Exit(1)
	}

	var metricsServer *http.Server
	if cfg.MetricsAddr != "" && s.Metrics != nil {
		metricsServer = &http.Server{
			Addr:    cfg.MetricsAddr,
			Handler: promhttp.HandlerFor(s.Metrics.Registry, promhttp.HandlerOpts{}),
		}
		go func() {
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				slog.Error("metrics server failed", slog.Any("error", err))
			}
		}()
		slog.Info("metrics server enabled", slog.String("addr", cfg.MetricsAddr))
	}

	slog.Info("starting scrape",
		slog.String("mode", string(query.Mode)),
		slog.String("query", query.Value),
		slog.Int("pages", cfg.MaxPages),
	)

	startTime := time.Now()
	records, result, err := s.Extract(ctx, target)
	partial := false
	if err != nil {
		if !errors.Is(err, scraper.ErrPartialResult) {
			slog.Error("scraping failed", slog.Any("error", err))
			os.Exit(1)
		}
		partial = true
		slog.Warn("scrape finished with a partial result", slog.Any("error", err))
	}

	if len(records) > 0 && !cfg.SkipSales {
		sales, err := scraper.NewSalesClient(cfg, s.Metrics)
		if err != nil {
			slog.Error("initialising sales client", slog.Any("error", err))
			os.Exit(1)
		}
		// Enrichment stops on interrupt; records stay writable either way.
		if err := sales.Enrich(ctx, records); err != nil {
			partial = true
			slog.Warn("sales enrichment interrupted", slog.Any("error", err))
		}
	}

	outputPath := pipeline.DatedFilename(cfg.OutputFile, startTime)
	if len(records) == 0 {
		slog.Warn("no records collected, skipping output", slog.String("output", outputPath))
	} else {
		writer, err := createWriter(cfg.OutputFormat, outputPath)
		if err != nil {
			slog.Error("creating writer", slog.Any("error", err))
			os.Exit(1)
		}
		if err := writer.Write(records); err != nil {
			slog.Error("writing output", slog.Any("error", err))
			os.Exit(1)
		}
		if err := writer.Close(); err != nil {
			slog.Error("closing writer", slog.Any("error", err))
			os.Exit(1)
		}
		if err := writer.Validate(); err != nil {
			slog.Error("output validation failed", slog.Any("error", err))
			os.Exit(1)
		}

		if cfg.ReportFile != "" {
			if err := report.Write(cfg.ReportFile, records); err != nil {
				slog.Error("writing report", slog.Any("error", err))
			} else {
				slog.Info("report written", slog.String("path", cfg.ReportFile))
			}
		}
	}

	if metricsServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			slog.Error("metrics server shutdown failed", slog.Any("error", err))
		}
		cancel()
	}

	printSummary(result, partial, time.Since(startTime), outputPath)
}

// resolveQuery turns flags into a Query, prompting interactively for
// whatever was not supplied.
func resolveQuery(modeFlag, valueFlag string) (models.Query, error) {
	reader := bufio.NewReader(os.Stdin)

	modeInput := modeFlag
	if modeInput == "" {
		fmt.Print("Scrape mode, 1 for a whole category, 2 for keyword search: ")
		line, err := reader.ReadString('\n')
		if err != nil {
			return models.Query{}, fmt.Errorf("read mode: %w", err)
		}
		modeInput = strings.TrimSpace(line)
	}
	mode, err := models.ParseMode(modeInput)
	if err != nil {
		return models.Query{}, err
	}

	value := valueFlag
	if value == "" {
		if mode == models.ModeCategory {
			fmt.Print("Category name or URL: ")
		} else {
			fmt.Print("Search keywords: ")
		}
		line, err := reader.ReadString('\n')
		if err != nil {
			return models.Query{}, fmt.Errorf("read query: %w", err)
		}
		value = strings.TrimSpace(line)
	}

	return models.NewQuery(mode, value)
}

func createWriter(format, filename string) (pipeline.OutputWriter, error) {
	switch format {
	case "csv":
		return pipeline.NewCSVWriter(filename)
	case "xlsx":
		return pipeline.NewXLSXWriter(filename)
	case "dual":
		base := strings.TrimSuffix(filename, filepath.Ext(filename))
		return pipeline.NewDualWriter(base+".csv", base+".xlsx")
	default:
		return nil, fmt.Errorf("unsupported format: %s", format)
	}
}

func printSummary(result *models.ScrapeResult, partial bool, duration time.Duration, outputPath string) {
	separator := "--------------------------------------------------"
	fmt.Println("\n" + separator)
	if partial {
		fmt.Println("Scrape complete (PARTIAL RESULT)")
	} else {
		fmt.Println("Scrape complete")
	}
	fmt.Printf("  Records:       %d\n", result.RecordCount)
	fmt.Printf("  Pages:         %d\n", result.PageCount)
	fmt.Printf("  Requests:      %d\n", result.RequestCount)
	fmt.Printf("  Retries:       %d\n", result.RetryCount)
	fmt.Printf("  Duplicates:    %d\n", result.DuplicateCount)
	fmt.Printf("  Malformed:     %d\n", result.MalformedCount)
	if len(result.ErrorsByType) > 0 {
		fmt.Printf("  Error types:   %v\n", result.ErrorsByType)
	}
	fmt.Printf("  Duration:      %v\n", duration)
	fmt.Printf("  Output file:   %s\n", outputPath)
	fmt.Println(separator)
}

func newLogger(verbose bool) (*slog.Logger, *slog.LevelVar) {
	level := &slog.LevelVar{}
	if verbose {
		level.Set(slog.LevelDebug)
	} else {
		level.Set(slog.LevelInfo)
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if isTerminal(os.Stdout) {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}

	return slog.New(handler), level
}

func isTerminal(f *os.File) bool {
	info, err := f.Stat()
	if err != nil {
		return false
	}
	return (info.Mode() & os.ModeCharDevice) != 0
}
