package scraper

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

// Metrics bundles Prometheus collectors for fetching, extraction and persistence.
type Metrics struct {
	Registry           *prometheus.Registry
	RequestsTotal      *prometheus.CounterVec
	RequestDuration    prometheus.Histogram
	CacheLookupsTotal  *prometheus.CounterVec
	RetriesTotal       prometheus.Counter
	ErrorsTotal        *prometheus.CounterVec
	ItemsScrapedTotal  prometheus.Counter
	ItemsSkippedTotal  *prometheus.CounterVec
	PersistErrorsTotal prometheus.Counter
}

// NewMetrics constructs and registers all metrics on a dedicated registry.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	requests := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scraper_requests_total",
			Help: "Total HTTP attempts issued by the fetcher, by outcome.",
		},
		[]string{"outcome"},
	)
	requestDuration := prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "scraper_request_duration_seconds",
			Help:    "HTTP request latency for fetch attempts.",
			Buckets: prometheus.DefBuckets,
		},
	)
	cacheLookups := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scraper_cache_lookups_total",
			Help: "Page cache lookups by result.",
		},
		[]string{"result"},
	)
	retries := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "scraper_retries_total",
			Help: "Total number of retry attempts after a non-200 response.",
		},
	)
	errorsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scraper_errors_total",
			Help: "Total number of fetch errors by type.",
		},
		[]string{"error_type"},
	)
	itemsScraped := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "scraper_items_scraped_total",
			Help: "Total number of products extracted.",
		},
	)
	itemsSkipped := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scraper_items_skipped_total",
			Help: "Product blocks skipped during extraction, by reason.",
		},
		[]string{"reason"},
	)
	persistErrors := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "scraper_persist_errors_total",
			Help: "Products that could not be written to the store.",
		},
	)

	registry.MustRegister(requests, requestDuration, cacheLookups, retries, errorsTotal, itemsScraped, itemsSkipped, persistErrors)

	return &Metrics{
		Registry:           registry,
		RequestsTotal:      requests,
		RequestDuration:    requestDuration,
		CacheLookupsTotal:  cacheLookups,
		RetriesTotal:       retries,
		ErrorsTotal:        errorsTotal,
		ItemsScrapedTotal:  itemsScraped,
		ItemsSkippedTotal:  itemsSkipped,
		PersistErrorsTotal: persistErrors,
	}
}

// IncRequest increments the requests counter for an outcome label.
func (m *Metrics) IncRequest(outcome string) {
	if m == nil {
		return
	}
	m.RequestsTotal.WithLabelValues(outcome).Inc()
}

// ObserveDuration records an HTTP request duration.
func (m *Metrics) ObserveDuration(d time.Duration) {
	if m == nil {
		return
	}
	m.RequestDuration.Observe(d.Seconds())
}

// IncCacheLookup counts a cache hit or miss.
func (m *Metrics) IncCacheLookup(hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.CacheLookupsTotal.WithLabelValues(result).Inc()
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

// IncItems increments the items scraped counter.
func (m *Metrics) IncItems() {
	if m == nil {
		return
	}
	m.ItemsScrapedTotal.Inc()
}

// IncSkipped counts a product block dropped during extraction.
func (m *Metrics) IncSkipped(reason string) {
	if m == nil {
		return
	}
	m.ItemsSkippedTotal.WithLabelValues(reason).Inc()
}

// IncPersistError counts a failed store write.
func (m *Metrics) IncPersistError() {
	if m == nil {
		return
	}
	m.PersistErrorsTotal.Inc()
}

// CacheHits returns how many lookups were served from the cache.
func (m *Metrics) CacheHits() int {
	if m == nil {
		return 0
	}
	return counterValue(m.CacheLookupsTotal.WithLabelValues("hit"))
}

// Retries returns how many cooldown retries were issued.
func (m *Metrics) Retries() int {
	if m == nil {
		return 0
	}
	return counterValue(m.RetriesTotal)
}

func counterValue(c prometheus.Counter) int {
	var metric dto.Metric
	if err := c.Write(&metric); err != nil {
		return 0
	}
	return int(metric.GetCounter().GetValue())
}
