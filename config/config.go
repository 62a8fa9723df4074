package config

import (
	"fmt"
	"net/url"
	"time"
)

// Config holds scraper configuration.
type Config struct {
	CatalogBaseURL string
	SearchBaseURL  string
	CatalogueURL   string
	SalesBaseURL   string

	// Fixed listing parameters the marketplace expects on every page request.
	AppType  int
	Currency string
	Dest     string
	Sort     string
	Spp      int
	Locale   string

	MaxPages        int
	Timeout         time.Duration
	MaxRetries      int
	RetryBackoff    time.Duration
	RetryBackoffMax time.Duration
	Delay           time.Duration
	RandomDelay     time.Duration

	CacheDir       string
	OutputFile     string
	OutputFormat   string // csv, xlsx, or dual
	ReportFile     string
	SkipSales      bool
	SalesInterval  time.Duration
	SalesCacheSize int

	UserAgent   string
	Verbose     bool
	MetricsAddr string
}

// DefaultConfig returns the defaults for wildberries.ru.
func DefaultConfig() *Config {
	return &Config{
		CatalogBaseURL: "https://catalog.wb.ru",
		SearchBaseURL:  "https://search.wb.ru",
		CatalogueURL:   "https://static-basket-01.wb.ru/vol0/data/main-menu-ru-ru-v2.json",
		SalesBaseURL:   "https://product-order-qnt.wildberries.ru",

		AppType:  1,
		Currency: "rub",
		Dest:     "-1257786",
		Sort:     "popular",
		Spp:      24,
		Locale:   "ru",

		// The marketplace caps listings at 100 pages; this also bounds the
		// loop against a malformed upstream that never returns an empty page.
		MaxPages:        100,
		Timeout:         10 * time.Second,
		MaxRetries:      2,
		RetryBackoff:    500 * time.Millisecond,
		RetryBackoffMax: 5 * time.Second,
		Delay:           100 * time.Millisecond,
		RandomDelay:     0,

		CacheDir:       ".",
		OutputFile:     "output/products.csv",
		OutputFormat:   "csv",
		ReportFile:     "",
		SkipSales:      false,
		SalesInterval:  500 * time.Millisecond,
		SalesCacheSize: 4096,

		UserAgent:   "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/117.0.0.0 Safari/537.36",
		Verbose:     false,
		MetricsAddr: "",
	}
}

// Validate ensures all configuration values are coherent.
func (c *Config) Validate() error {
	for name, value := range map[string]string{
		"catalog base URL": c.CatalogBaseURL,
		"search base URL":  c.SearchBaseURL,
		"catalogue URL":    c.CatalogueURL,
		"sales base URL":   c.SalesBaseURL,
	} {
		if value == "" {
			return fmt.Errorf("%s cannot be empty", name)
		}
		parsed, err := url.Parse(value)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", name, err)
		}
		if parsed.Host == "" {
			return fmt.Errorf("%s must include a host", name)
		}
	}

	if c.MaxPages <= 0 {
		return fmt.Errorf("max pages must be positive")
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive")
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("max retries cannot be negative")
	}
	if c.RetryBackoff < 0 {
		return fmt.Errorf("retry backoff cannot be negative")
	}
	if c.RetryBackoffMax < 0 {
		return fmt.Errorf("retry backoff max cannot be negative")
	}
	if c.RetryBackoffMax > 0 && c.RetryBackoff > c.RetryBackoffMax {
		return fmt.Errorf("retry backoff (%s) cannot exceed retry backoff max (%s)", c.RetryBackoff, c.RetryBackoffMax)
	}
	if c.Delay < 0 {
		return fmt.Errorf("delay cannot be negative")
	}
	if c.RandomDelay < 0 {
		return fmt.Errorf("random delay cannot be negative")
	}
	if c.OutputFile == "" {
		return fmt.Errorf("output file cannot be empty")
	}
	if c.OutputFormat != "csv" && c.OutputFormat != "xlsx" && c.OutputFormat != "dual" {
		return fmt.Errorf("output format must be csv, xlsx, or dual")
	}
	if c.SalesInterval < 0 {
		return fmt.Errorf("sales interval cannot be negative")
	}
	if c.SalesCacheSize <= 0 {
		return fmt.Errorf("sales cache size must be positive")
	}
	if c.UserAgent == "" {
		return fmt.Errorf("user agent cannot be empty")
	}

	return nil
}
