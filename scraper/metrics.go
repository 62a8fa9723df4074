package scraper

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics bundles Prometheus collectors for the scraper.
type Metrics struct {
	Registry        *prometheus.Registry
	RequestsTotal   *prometheus.CounterVec
	RequestDuration prometheus.Histogram
	PagesTotal      prometheus.Counter
	ItemsTotal      prometheus.Counter
	DuplicatesTotal prometheus.Counter
	MalformedTotal  prometheus.Counter
	RetriesTotal    prometheus.Counter
	ErrorsTotal     *prometheus.CounterVec
	SalesLookups    *prometheus.CounterVec
}

// NewMetrics constructs and registers all metrics on a dedicated registry.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	requests := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scraper_requests_total",
			Help: "Total HTTP requests issued by the scraper.",
		},
		[]string{"phase"},
	)
	requestDuration := prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "scraper_request_duration_seconds",
			Help:    "HTTP request latency for scraper requests.",
			Buckets: prometheus.DefBuckets,
		},
	)
	pages := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "scraper_pages_total",
			Help: "Total listing pages fetched and decoded.",
		},
	)
	items := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "scraper_items_total",
			Help: "Total product records accepted into the result set.",
		},
	)
	duplicates := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "scraper_duplicates_total",
			Help: "Total items skipped because their id was already seen.",
		},
	)
	malformed := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "scraper_malformed_items_total",
			Help: "Total raw items that failed to map to a record.",
		},
	)
	retries := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "scraper_retries_total",
			Help: "Total number of retry attempts.",
		},
	)
	errorsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scraper_errors_total",
			Help: "Total number of scraper errors by type.",
		},
		[]string{"error_type"},
	)
	salesLookups := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scraper_sales_lookups_total",
			Help: "Total sold-quantity lookups by outcome.",
		},
		[]string{"outcome"},
	)

	registry.MustRegister(requests, requestDuration, pages, items, duplicates, malformed, retries, errorsTotal, salesLookups)

	return &Metrics{
		Registry:        registry,
		RequestsTotal:   requests,
		RequestDuration: requestDuration,
		PagesTotal:      pages,
		ItemsTotal:      items,
		DuplicatesTotal: duplicates,
		MalformedTotal:  malformed,
		RetriesTotal:    retries,
		ErrorsTotal:     errorsTotal,
		SalesLookups:    salesLookups,
	}
}

// IncRequest increments the requests total counter.
func (m *Metrics) IncRequest(phase string) {
	if m == nil {
		return
	}
	m.RequestsTotal.WithLabelValues(phase).Inc()
}

// ObserveDuration records an HTTP request duration.
func (m *Metrics) ObserveDuration(d time.Duration) {
	if m == nil {
		return
	}
	m.RequestDuration.Observe(d.Seconds())
}

// IncPages increments the pages counter.
func (m *Metrics) IncPages() {
	if m == nil {
		return
	}
	m.PagesTotal.Inc()
}

// IncItems increments the accepted records counter.
func (m *Metrics) IncItems() {
	if m == nil {
		return
	}
	m.ItemsTotal.Inc()
}

// IncDuplicates increments the skipped duplicates counter.
func (m *Metrics) IncDuplicates() {
	if m == nil {
		return
	}
	m.DuplicatesTotal.Inc()
}

// IncMalformed increments the malformed items counter.
func (m *Metrics) IncMalformed() {
	if m == nil {
		return
	}
	m.MalformedTotal.Inc()
}

// IncRetries increments the retries counter.
func (m *Metrics) IncRetries() {
	if m == nil {
		return
	}
	m.RetriesTotal.Inc()
}

// IncError increments the errors counter for a type label.
func (m *Metrics) IncError(errorType string) {
	if m == nil {
		return
	}
	m.ErrorsTotal.WithLabelValues(errorType).Inc()
}

// IncSalesLookup increments the sales lookup counter for an outcome label.
func (m *Metrics) IncSalesLookup(outcome string) {
	if m == nil {
		return
	}
	m.SalesLookups.WithLabelValues(outcome).Inc()
}
