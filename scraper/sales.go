package scraper

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/akazanov/go-scrape-wb/config"
	"github.com/akazanov/go-scrape-wb/models"
	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/time/rate"
)

// SalesClient fetches sold-quantity figures for product records from the
// order-quantity endpoint. The upstream figure is an estimate; it is
// recorded as-is or left absent, never defaulted to zero.
type SalesClient struct {
	baseURL    string
	userAgent  string
	httpClient *http.Client
	limiter    *rate.Limiter
	cache      *lru.Cache[string, int64]
	metrics    *Metrics
}

// NewSalesClient builds a sales client from cfg. Lookups go through a
// token-bucket limiter; quantities are cached per id for the life of the
// process so repeated queries don't re-hit the endpoint.
func NewSalesClient(cfg *config.Config, metrics *Metrics) (*SalesClient, error) {
	cache, err := lru.New[string, int64](cfg.SalesCacheSize)
	if err != nil {
		return nil, fmt.Errorf("create sales cache: %w", err)
	}

	interval := cfg.SalesInterval
	limiter := rate.NewLimiter(rate.Inf, 1)
	if interval > 0 {
		limiter = rate.NewLimiter(rate.Every(interval), 1)
	}

	return &SalesClient{
		baseURL:    cfg.SalesBaseURL,
		userAgent:  cfg.UserAgent,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		limiter:    limiter,
		cache:      cache,
		metrics:    metrics,
	}, nil
}

// Enrich fills in SalesCount for each record that can be looked up.
// Lookup failures leave the field absent and never fail the run.
func (c *SalesClient) Enrich(ctx context.Context, products []*models.Product) error {
	for i, product := range products {
		if err := ctx.Err(); err != nil {
			return err
		}

		quantity, err := c.Quantity(ctx, product.ID)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			c.metrics.IncSalesLookup("error")
			slog.Warn("sales lookup failed",
				slog.String("id", product.ID),
				slog.Any("error", err),
			)
			continue
		}
		product.SalesCount = quantity

		if (i+1)%100 == 0 {
			slog.Debug("sales enrichment progress",
				slog.Int("done", i+1),
				slog.Int("total", len(products)),
			)
		}
	}
	return nil
}

// Quantity returns the sold quantity for an id, or nil when the upstream
// has no data for it.
func (c *SalesClient) Quantity(ctx context.Context, id string) (*int64, error) {
	if cached, ok := c.cache.Get(id); ok {
		c.metrics.IncSalesLookup("cached")
		return &cached, nil
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	url := fmt.Sprintf("%s/by-nm/?nm=%s", c.baseURL, id)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "*/*")
	req.Header.Set("User-Agent", c.userAgent)

	c.metrics.IncRequest("sales")
	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	c.metrics.ObserveDuration(time.Since(start))

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("sales endpoint status %d for id %s", resp.StatusCode, id)
	}

	var entries []struct {
		Qnt int64 `json:"qnt"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&entries); err != nil {
		return nil, fmt.Errorf("decode sales response: %w", err)
	}
	if len(entries) == 0 {
		// The upstream returns an empty array for unknown ids.
		c.metrics.IncSalesLookup("absent")
		return nil, nil
	}

	quantity := entries[0].Qnt
	c.cache.Add(id, quantity)
	c.metrics.IncSalesLookup("fetched")
	return &quantity, nil
}
