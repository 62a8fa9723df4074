// Package models defines data structures for the scraper.
package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Product is one flattened marketplace listing. Prices are fixed-point
// rubles (the upstream reports integer kopecks). Rating and SalesCount are
// absent when the upstream has no data for them; absent is never zero.
type Product struct {
	ID              string              `csv:"id" json:"id"`
	Name            string              `csv:"name" json:"name"`
	Brand           string              `csv:"brand" json:"brand"`
	BrandID         int64               `csv:"brand_id" json:"brand_id"`
	URL             string              `csv:"url" json:"url"`
	RegularPrice    decimal.Decimal     `csv:"regular_price" json:"regular_price"`
	DiscountedPrice decimal.Decimal     `csv:"discounted_price" json:"discounted_price"`
	Rating          decimal.NullDecimal `csv:"rating" json:"rating"`
	ReviewCount     int64               `csv:"review_count" json:"review_count"`
	SalesCount      *int64              `csv:"sales_count" json:"sales_count"`
	ScrapedAt       time.Time           `csv:"scraped_at" json:"scraped_at"`
}

// ScrapeResult holds the counters of one extraction run.
type ScrapeResult struct {
	StartTime      time.Time
	EndTime        time.Time
	PageCount      int
	RequestCount   int
	RetryCount     int
	RecordCount    int
	DuplicateCount int
	MalformedCount int
	ErrorsByType   map[string]int
	Partial        bool
}
