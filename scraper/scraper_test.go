package scraper

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/akazanov/go-scrape-wb/config"
	"github.com/akazanov/go-scrape-wb/models"
	"github.com/jarcoal/httpmock"
)

func testConfig() *config.Config {
	cfg := config.DefaultConfig()
	cfg.CatalogBaseURL = "http://catalog.test"
	cfg.SearchBaseURL = "http://search.test"
	cfg.Delay = 0
	cfg.RandomDelay = 0
	cfg.MaxRetries = 2
	cfg.RetryBackoff = time.Millisecond
	cfg.RetryBackoffMax = 2 * time.Millisecond
	return cfg
}

func newTestScraper(t *testing.T, cfg *config.Config) (*Scraper, *httpmock.MockTransport) {
	t.Helper()
	s, err := New(cfg)
	if err != nil {
		t.Fatalf("new scraper: %v", err)
	}
	transport := httpmock.NewMockTransport()
	s.collector.WithTransport(transport)
	return s, transport
}

func keywordTarget(value string) Target {
	return Target{Query: models.Query{Mode: models.ModeKeyword, Value: value}}
}

func listingBody(ids ...string) string {
	items := make([]string, len(ids))
	for i, id := range ids {
		items[i] = fmt.Sprintf(`{"id": %s, "name": "Item %s", "brand": "Brand", "brandId": 1, "priceU": 10000, "salePriceU": 9000, "rating": 4, "feedbacks": 3}`, id, id)
	}
	return `{"data":{"products":[` + strings.Join(items, ",") + `]}}`
}

func jsonResponder(body string) httpmock.Responder {
	resp := httpmock.NewStringResponse(200, body)
	resp.Header.Set("Content-Type", "application/json")
	return httpmock.ResponderFromResponse(resp)
}

func recordIDs(records []*models.Product) []string {
	ids := make([]string, len(records))
	for i, record := range records {
		ids[i] = record.ID
	}
	return ids
}

// Scenario: two items on page one, an empty page two.
func TestExtractStopsOnEmptyPage(t *testing.T) {
	cfg := testConfig()
	s, transport := newTestScraper(t, cfg)
	target := keywordTarget("books")

	transport.RegisterResponder("GET", s.pageURL(target, 1), jsonResponder(listingBody("1", "2")))
	transport.RegisterResponder("GET", s.pageURL(target, 2), jsonResponder(listingBody()))

	records, result, err := s.Extract(context.Background(), target)
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if got := recordIDs(records); len(got) != 2 || got[0] != "1" || got[1] != "2" {
		t.Fatalf("records = %v, want [1 2]", got)
	}
	if result.PageCount != 2 || result.RequestCount != 2 {
		t.Fatalf("pages=%d requests=%d, want 2/2", result.PageCount, result.RequestCount)
	}
	if result.Partial {
		t.Fatalf("result should not be partial")
	}
}

// Scenario: overlapping pages share an id; it must appear exactly once,
// in first-seen order.
func TestExtractDeduplicatesAcrossPages(t *testing.T) {
	cfg := testConfig()
	s, transport := newTestScraper(t, cfg)
	target := keywordTarget("books")

	transport.RegisterResponder("GET", s.pageURL(target, 1), jsonResponder(listingBody("10", "11")))
	transport.RegisterResponder("GET", s.pageURL(target, 2), jsonResponder(listingBody("11", "12")))
	transport.RegisterResponder("GET", s.pageURL(target, 3), jsonResponder(listingBody()))

	records, result, err := s.Extract(context.Background(), target)
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if got := recordIDs(records); len(got) != 3 || got[0] != "10" || got[1] != "11" || got[2] != "12" {
		t.Fatalf("records = %v, want [10 11 12]", got)
	}
	if result.DuplicateCount != 1 {
		t.Fatalf("duplicates = %d, want 1", result.DuplicateCount)
	}
}

// Scenario: a malformed item is skipped and counted; the rest of the page
// survives.
func TestExtractSkipsMalformedItems(t *testing.T) {
	cfg := testConfig()
	s, transport := newTestScraper(t, cfg)
	target := keywordTarget("books")

	page1 := `{"data":{"products":[
		{"id": 21, "priceU": 100, "salePriceU": 100},
		{"id": 22, "name": "valid", "priceU": 100, "salePriceU": 100}
	]}}`
	transport.RegisterResponder("GET", s.pageURL(target, 1), jsonResponder(page1))
	transport.RegisterResponder("GET", s.pageURL(target, 2), jsonResponder(listingBody()))

	records, result, err := s.Extract(context.Background(), target)
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if len(records) != 1 || records[0].ID != "22" {
		t.Fatalf("records = %v, want only item 22", recordIDs(records))
	}
	if result.MalformedCount != 1 {
		t.Fatalf("malformed = %d, want 1", result.MalformedCount)
	}
}

// Scenario: page two keeps failing; the run degrades to the records from
// page one with a partial-result error.
func TestExtractPartialResultOnFetchFailure(t *testing.T) {
	cfg := testConfig()
	s, transport := newTestScraper(t, cfg)
	target := keywordTarget("books")

	transport.RegisterResponder("GET", s.pageURL(target, 1), jsonResponder(listingBody("1", "2")))
	transport.RegisterResponder("GET", s.pageURL(target, 2), httpmock.NewErrorResponder(errors.New("connection reset")))

	records, result, err := s.Extract(context.Background(), target)
	if !errors.Is(err, ErrPartialResult) {
		t.Fatalf("expected ErrPartialResult, got %v", err)
	}
	if got := recordIDs(records); len(got) != 2 || got[0] != "1" || got[1] != "2" {
		t.Fatalf("records = %v, want page one's [1 2]", got)
	}
	if !result.Partial {
		t.Fatalf("result should be marked partial")
	}
	// One request for page one, then the initial attempt plus MaxRetries
	// for page two.
	wantRequests := 1 + 1 + cfg.MaxRetries
	if result.RequestCount != wantRequests {
		t.Fatalf("requests = %d, want %d", result.RequestCount, wantRequests)
	}
	if result.RetryCount != cfg.MaxRetries {
		t.Fatalf("retries = %d, want %d", result.RetryCount, cfg.MaxRetries)
	}
}

// A page of nothing but already-seen ids means the upstream ranking is
// replaying a tail page; the loop must stop instead of paging forever.
func TestExtractStopsWhenPageAllDuplicates(t *testing.T) {
	cfg := testConfig()
	s, transport := newTestScraper(t, cfg)
	target := keywordTarget("books")

	transport.RegisterResponder("GET", s.pageURL(target, 1), jsonResponder(listingBody("1", "2")))
	transport.RegisterResponder("GET", s.pageURL(target, 2), jsonResponder(listingBody("2", "1")))

	records, result, err := s.Extract(context.Background(), target)
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("records = %v, want 2", recordIDs(records))
	}
	if result.PageCount != 2 {
		t.Fatalf("pages = %d, want 2", result.PageCount)
	}
	if result.DuplicateCount != 2 {
		t.Fatalf("duplicates = %d, want 2", result.DuplicateCount)
	}
}

func TestExtractHonorsPageCeiling(t *testing.T) {
	cfg := testConfig()
	cfg.MaxPages = 2
	s, transport := newTestScraper(t, cfg)
	target := keywordTarget("books")

	// Pages never go empty; only the ceiling can stop the loop.
	transport.RegisterResponder("GET", s.pageURL(target, 1), jsonResponder(listingBody("1", "2")))
	transport.RegisterResponder("GET", s.pageURL(target, 2), jsonResponder(listingBody("3", "4")))

	records, result, err := s.Extract(context.Background(), target)
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if len(records) != 4 {
		t.Fatalf("records = %v, want 4", recordIDs(records))
	}
	if result.PageCount != 2 {
		t.Fatalf("pages = %d, want 2", result.PageCount)
	}
}

func TestExtractIdempotentIDSet(t *testing.T) {
	cfg := testConfig()
	s, transport := newTestScraper(t, cfg)
	target := keywordTarget("books")

	transport.RegisterResponder("GET", s.pageURL(target, 1), jsonResponder(listingBody("5", "6")))
	transport.RegisterResponder("GET", s.pageURL(target, 2), jsonResponder(listingBody("6", "7")))
	transport.RegisterResponder("GET", s.pageURL(target, 3), jsonResponder(listingBody()))

	first, _, err := s.Extract(context.Background(), target)
	if err != nil {
		t.Fatalf("first extract: %v", err)
	}
	second, _, err := s.Extract(context.Background(), target)
	if err != nil {
		t.Fatalf("second extract: %v", err)
	}

	firstSet := make(map[string]struct{})
	for _, record := range first {
		firstSet[record.ID] = struct{}{}
	}
	if len(first) != len(second) {
		t.Fatalf("run sizes differ: %d vs %d", len(first), len(second))
	}
	for _, record := range second {
		if _, ok := firstSet[record.ID]; !ok {
			t.Fatalf("id %s missing from first run", record.ID)
		}
	}
}

func TestExtractCancelledContext(t *testing.T) {
	cfg := testConfig()
	s, transport := newTestScraper(t, cfg)
	target := keywordTarget("books")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	records, result, err := s.Extract(ctx, target)
	if !errors.Is(err, ErrPartialResult) {
		t.Fatalf("expected ErrPartialResult, got %v", err)
	}
	if len(records) != 0 {
		t.Fatalf("records = %v, want none", recordIDs(records))
	}
	if !result.Partial {
		t.Fatalf("result should be marked partial")
	}
	if transport.GetTotalCallCount() != 0 {
		t.Fatalf("no fetch should happen after cancellation")
	}
}

func TestExtractCategoryMode(t *testing.T) {
	cfg := testConfig()
	s, transport := newTestScraper(t, cfg)
	target := Target{
		Query:    models.Query{Mode: models.ModeCategory, Value: "Книги"},
		Category: models.Category{Name: "Книги", Shard: "books", Filter: "cat=8619"},
	}

	pageOne := s.pageURL(target, 1)
	if !strings.Contains(pageOne, "catalog.test/catalog/books/catalog") || !strings.Contains(pageOne, "cat=8619") {
		t.Fatalf("unexpected category page url: %s", pageOne)
	}

	transport.RegisterResponder("GET", pageOne, jsonResponder(listingBody("1")))
	transport.RegisterResponder("GET", s.pageURL(target, 2), jsonResponder(listingBody()))

	records, _, err := s.Extract(context.Background(), target)
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if len(records) != 1 || records[0].ID != "1" {
		t.Fatalf("records = %v", recordIDs(records))
	}
}

func TestExtractCategoryWithoutShard(t *testing.T) {
	cfg := testConfig()
	s, _ := newTestScraper(t, cfg)
	target := Target{Query: models.Query{Mode: models.ModeCategory, Value: "Книги"}}

	if _, _, err := s.Extract(context.Background(), target); err == nil {
		t.Fatalf("category target without shard should fail")
	}
}

func TestBackoffCapped(t *testing.T) {
	cfg := testConfig()
	cfg.RetryBackoff = 200 * time.Millisecond
	cfg.RetryBackoffMax = 500 * time.Millisecond
	s, _ := newTestScraper(t, cfg)

	if delay := s.backoff(1); delay != 200*time.Millisecond {
		t.Fatalf("first backoff = %v, want 200ms", delay)
	}
	if delay := s.backoff(4); delay > cfg.RetryBackoffMax {
		t.Fatalf("delay %v exceeds max %v", delay, cfg.RetryBackoffMax)
	}
}
