// Package catalog resolves user-supplied category names or URLs against
// the marketplace's main-menu catalogue.
package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/akazanov/go-scrape-wb/config"
	"github.com/akazanov/go-scrape-wb/models"
)

// cacheFile is the on-disk name of the downloaded catalogue.
const cacheFile = "wb_catalogue.json"

// siteURL prefix stripped from user input when matching by URL.
const siteURL = "https://www.wildberries.ru"

// ErrCategoryNotFound is returned when no catalogue entry matches the input.
var ErrCategoryNotFound = errors.New("category not found")

// node is one raw catalogue entry; categories nest via childs.
type node struct {
	Name   string `json:"name"`
	URL    string `json:"url"`
	Shard  string `json:"shard"`
	Query  string `json:"query"`
	Childs []node `json:"childs"`
}

// Catalogue downloads, caches and flattens the category tree.
type Catalogue struct {
	url        string
	cachePath  string
	userAgent  string
	httpClient *http.Client
	now        func() time.Time
}

// New builds a catalogue client from cfg.
func New(cfg *config.Config) *Catalogue {
	return &Catalogue{
		url:        cfg.CatalogueURL,
		cachePath:  filepath.Join(cfg.CacheDir, cacheFile),
		userAgent:  cfg.UserAgent,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		now:        time.Now,
	}
}

// Resolve matches value (a category name or a full marketplace URL)
// against the flattened catalogue.
func (c *Catalogue) Resolve(ctx context.Context, value string) (models.Category, error) {
	categories, err := c.Load(ctx)
	if err != nil {
		return models.Category{}, err
	}

	wantPath := value
	if strings.HasPrefix(value, siteURL) {
		wantPath = strings.TrimPrefix(value, siteURL)
	}

	for _, category := range categories {
		if value == category.Name || wantPath == category.URL {
			return category, nil
		}
	}
	return models.Category{}, fmt.Errorf("%w: %q", ErrCategoryNotFound, value)
}

// Load returns the flattened catalogue, downloading it unless a copy
// written today already exists on disk.
func (c *Catalogue) Load(ctx context.Context) ([]models.Category, error) {
	body, err := c.readCache()
	if err != nil {
		body, err = c.download(ctx)
		if err != nil {
			return nil, err
		}
	}

	var roots []node
	if err := json.Unmarshal(body, &roots); err != nil {
		return nil, fmt.Errorf("decode catalogue: %w", err)
	}

	var categories []models.Category
	flatten(roots, &categories)
	if len(categories) == 0 {
		return nil, fmt.Errorf("catalogue contains no usable categories")
	}
	return categories, nil
}

// readCache returns the cached catalogue body when the cache file was
// written on the current day.
func (c *Catalogue) readCache() ([]byte, error) {
	info, err := os.Stat(c.cachePath)
	if err != nil {
		return nil, err
	}
	cachedY, cachedM, cachedD := info.ModTime().Date()
	nowY, nowM, nowD := c.now().Date()
	if cachedY != nowY || cachedM != nowM || cachedD != nowD {
		return nil, fmt.Errorf("catalogue cache from %s is stale", info.ModTime().Format("2006-01-02"))
	}
	return os.ReadFile(c.cachePath)
}

func (c *Catalogue) download(ctx context.Context) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "*/*")
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("download catalogue: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("catalogue endpoint status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read catalogue body: %w", err)
	}

	if err := os.WriteFile(c.cachePath, body, 0o644); err != nil {
		// The cache is an optimization; a failed write should not stop
		// the run.
		slog.Warn("cannot cache catalogue", slog.String("path", c.cachePath), slog.Any("error", err))
	} else {
		slog.Info("catalogue cached", slog.String("path", c.cachePath))
	}
	return body, nil
}

// flatten walks the category tree depth-first, keeping entries that carry
// everything a listing request needs.
func flatten(nodes []node, out *[]models.Category) {
	for _, n := range nodes {
		if n.Name != "" && n.URL != "" && n.Shard != "" && n.Query != "" {
			*out = append(*out, models.Category{
				Name:   n.Name,
				URL:    n.URL,
				Shard:  n.Shard,
				Filter: n.Query,
			})
		}
		if len(n.Childs) > 0 {
			flatten(n.Childs, out)
		}
	}
}
