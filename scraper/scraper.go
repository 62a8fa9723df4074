// Package scraper drives the page-by-page extraction of marketplace
// listings into product records.
package scraper

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/akazanov/go-scrape-wb/config"
	"github.com/akazanov/go-scrape-wb/models"
	"github.com/gocolly/colly/v2"
)

// productPageURL is where a record's id points shoppers; the listing API
// itself never returns a browsable link.
const productPageURL = "https://www.wildberries.ru/catalog/%s/detail.aspx"

// Target is a resolved query the extractor can fetch pages for. Category
// is only consulted in category mode.
type Target struct {
	Query    models.Query
	Category models.Category
}

// Scraper wraps the colly collector and the pagination loop. One Extract
// call owns the dedup set and result slice for its whole lifetime;
// extraction is sequential, one page fetch at a time.
type Scraper struct {
	cfg       *config.Config
	collector *colly.Collector
	Metrics   *Metrics

	// Response slot for the fetch in flight. Pages are fetched one at a
	// time, so a single slot is enough.
	mu         sync.Mutex
	lastBody   []byte
	lastErr    error
	lastStatus int
}

// New builds a scraper instance configured from cfg.
func New(cfg *config.Config) (*Scraper, error) {
	hosts := make([]string, 0, 2)
	for _, base := range []string{cfg.CatalogBaseURL, cfg.SearchBaseURL} {
		parsed, err := url.Parse(base)
		if err != nil {
			return nil, fmt.Errorf("parse base url %q: %w", base, err)
		}
		if parsed.Host == "" {
			return nil, fmt.Errorf("base url %q must include a host", base)
		}
		hosts = append(hosts, parsed.Hostname())
	}

	collector := colly.NewCollector(
		colly.AllowedDomains(hosts...),
		colly.UserAgent(cfg.UserAgent),
		colly.AllowURLRevisit(),
	)

	collector.SetRequestTimeout(cfg.Timeout)
	collector.IgnoreRobotsTxt = true
	collector.WithTransport(&http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   cfg.Timeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:        100,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
	})

	if err := collector.Limit(&colly.LimitRule{
		DomainGlob:  "*",
		Parallelism: 1,
		Delay:       cfg.Delay,
		RandomDelay: cfg.RandomDelay,
	}); err != nil {
		return nil, fmt.Errorf("configure rate limits: %w", err)
	}

	s := &Scraper{
		cfg:       cfg,
		collector: collector,
		Metrics:   NewMetrics(),
	}
	s.configureHandlers()
	return s, nil
}

func (s *Scraper) configureHandlers() {
	s.collector.OnRequest(func(r *colly.Request) {
		r.Ctx.Put("start", time.Now())
		s.Metrics.IncRequest("listing")
		slog.Debug("fetching page", slog.String("url", r.URL.String()))
	})

	s.collector.OnResponse(func(r *colly.Response) {
		s.mu.Lock()
		s.lastBody = r.Body
		s.lastStatus = r.StatusCode
		s.mu.Unlock()
		if start, ok := r.Request.Ctx.GetAny("start").(time.Time); ok {
			s.Metrics.ObserveDuration(time.Since(start))
		}
	})

	s.collector.OnError(func(r *colly.Response, err error) {
		statusCode := 0
		if r != nil {
			statusCode = r.StatusCode
		}
		s.mu.Lock()
		s.lastErr = classifyError(err, statusCode)
		s.lastStatus = statusCode
		s.mu.Unlock()
	})
}

// Extract walks the listing pages for target until the upstream is
// exhausted, returning the deduplicated records in first-seen order.
// When fetching breaks down mid-run the accumulated records are returned
// together with an error wrapping ErrPartialResult.
func (s *Scraper) Extract(ctx context.Context, target Target) ([]*models.Product, *models.ScrapeResult, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if target.Query.Mode == models.ModeCategory && target.Category.Shard == "" {
		return nil, nil, fmt.Errorf("category target %q has no shard", target.Query.Value)
	}

	result := &models.ScrapeResult{
		StartTime:    time.Now(),
		ErrorsByType: make(map[string]int),
	}
	seen := make(map[string]struct{})
	var records []*models.Product
	scrapedAt := result.StartTime

	var abort error
	for page := 1; page <= s.cfg.MaxPages; page++ {
		if err := ctx.Err(); err != nil {
			abort = err
			break
		}

		items, err := s.fetchListing(ctx, s.pageURL(target, page), result)
		if err != nil {
			abort = fmt.Errorf("page %d: %w", page, err)
			break
		}
		result.PageCount++
		s.Metrics.IncPages()

		if len(items) == 0 {
			slog.Info("listing exhausted", slog.Int("pages", result.PageCount))
			break
		}

		added := 0
		for _, raw := range items {
			record, err := mapItem(raw, s.productURL, scrapedAt)
			if err != nil {
				result.MalformedCount++
				s.Metrics.IncMalformed()
				slog.Warn("skipping malformed item",
					slog.Int("page", page),
					slog.Any("error", err),
				)
				continue
			}
			if _, dup := seen[record.ID]; dup {
				result.DuplicateCount++
				s.Metrics.IncDuplicates()
				continue
			}
			seen[record.ID] = struct{}{}
			records = append(records, record)
			s.Metrics.IncItems()
			added++
		}

		slog.Debug("page processed",
			slog.Int("page", page),
			slog.Int("items", len(items)),
			slog.Int("added", added),
		)

		// A page of nothing but known ids means the upstream ranking is
		// drifting and replaying a tail page; treat it as exhaustion.
		if added == 0 {
			slog.Info("page yielded no new items, stopping", slog.Int("page", page))
			break
		}
	}

	result.EndTime = time.Now()
	result.RecordCount = len(records)

	if abort != nil {
		result.Partial = true
		slog.Warn("returning partial result",
			slog.Int("records", len(records)),
			slog.Any("cause", abort),
		)
		return records, result, fmt.Errorf("%w: %w", ErrPartialResult, abort)
	}
	return records, result, nil
}

// fetchListing fetches and decodes one page, retrying transient failures
// with capped exponential backoff.
func (s *Scraper) fetchListing(ctx context.Context, pageURL string, result *models.ScrapeResult) ([]RawItem, error) {
	var lastErr error
	for attempt := 0; attempt <= s.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			result.RetryCount++
			s.Metrics.IncRetries()
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(s.backoff(attempt)):
			}
		}

		result.RequestCount++
		body, err := s.fetch(pageURL)
		if err == nil {
			items, decodeErr := decodePage(body)
			if decodeErr == nil {
				return items, nil
			}
			err = decodeErr
		}

		lastErr = err
		label := errorTypeLabel(err)
		result.ErrorsByType[label]++
		s.Metrics.IncError(label)
		slog.Warn("page fetch failed",
			slog.String("url", pageURL),
			slog.Int("attempt", attempt+1),
			slog.String("category", label),
			slog.Any("error", err),
		)
	}
	return nil, lastErr
}

// fetch issues one synchronous request through the collector and returns
// the captured body.
func (s *Scraper) fetch(pageURL string) ([]byte, error) {
	s.mu.Lock()
	s.lastBody, s.lastErr, s.lastStatus = nil, nil, 0
	s.mu.Unlock()

	visitErr := s.collector.Visit(pageURL)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lastErr != nil {
		return nil, s.lastErr
	}
	if visitErr != nil {
		return nil, classifyError(visitErr, s.lastStatus)
	}
	if s.lastBody == nil {
		return nil, fmt.Errorf("no response body for %s", pageURL)
	}
	return s.lastBody, nil
}

func (s *Scraper) backoff(attempt int) time.Duration {
	if attempt <= 0 {
		attempt = 1
	}

	base := s.cfg.RetryBackoff
	if base <= 0 {
		base = 100 * time.Millisecond
	}

	delay := base * time.Duration(1<<(attempt-1))
	if max := s.cfg.RetryBackoffMax; max > 0 && delay > max {
		delay = max
	}
	return delay
}

// pageURL builds the listing URL for one page of the target.
func (s *Scraper) pageURL(target Target, page int) string {
	switch target.Query.Mode {
	case models.ModeCategory:
		// The category filter arrives pre-encoded from the catalogue
		// (e.g. "cat=8619"), so it is spliced in as-is.
		return fmt.Sprintf("%s/catalog/%s/catalog?appType=%d&%s&curr=%s&dest=%s&page=%d&sort=%s&spp=%d",
			s.cfg.CatalogBaseURL, target.Category.Shard, s.cfg.AppType, target.Category.Filter,
			s.cfg.Currency, s.cfg.Dest, page, s.cfg.Sort, s.cfg.Spp)
	default:
		params := url.Values{}
		params.Set("appType", strconv.Itoa(s.cfg.AppType))
		params.Set("curr", s.cfg.Currency)
		params.Set("dest", s.cfg.Dest)
		params.Set("page", strconv.Itoa(page))
		params.Set("query", target.Query.Value)
		params.Set("resultset", "catalog")
		params.Set("sort", s.cfg.Sort)
		params.Set("spp", strconv.Itoa(s.cfg.Spp))
		params.Set("suppressSpellcheck", "false")
		return fmt.Sprintf("%s/exactmatch/%s/common/v4/search?%s",
			s.cfg.SearchBaseURL, s.cfg.Locale, params.Encode())
	}
}

func (s *Scraper) productURL(id string) string {
	return fmt.Sprintf(productPageURL, id)
}

func classifyError(err error, statusCode int) error {
	if err == nil && statusCode == 0 {
		return nil
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return ErrTimeout{Err: err}
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return ErrTimeout{Err: err}
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return ErrConnection{Err: err}
	}

	if statusCode != 0 {
		wrapped := err
		if wrapped == nil {
			wrapped = fmt.Errorf("http status %d", statusCode)
		}
		switch statusCode {
		case http.StatusForbidden:
			return ErrForbidden{Err: wrapped}
		case http.StatusNotFound:
			return ErrNotFound{Err: wrapped}
		case http.StatusTooManyRequests:
			return ErrRateLimited{Err: wrapped}
		}
	}

	return err
}
