// Package metrics exposes checker activity to Prometheus.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/HanTheDev/phone-checker/internal/cache"
	"github.com/HanTheDev/phone-checker/internal/models"
)

var (
	cacheEntriesDesc = prometheus.NewDesc(
		"phonecheck_cache_entries",
		"Number of indexed cache entries",
		nil, nil,
	)
	cacheSizeDesc = prometheus.NewDesc(
		"phonecheck_cache_size_bytes",
		"Approximate size of indexed cache entries",
		nil, nil,
	)
	cacheEvictionsDesc = prometheus.NewDesc(
		"phonecheck_cache_evictions_total",
		"Entries evicted under capacity pressure",
		nil, nil,
	)
	cacheErrorsDesc = prometheus.NewDesc(
		"phonecheck_cache_backend_errors_total",
		"Failed cache backend operations",
		nil, nil,
	)
)

// StatsSource is read on every scrape.
type StatsSource interface {
	Stats() cache.Stats
}

// CacheCollector reports SmartCache state at scrape time instead of
// mirroring it into gauges.
type CacheCollector struct {
	source StatsSource
}

func (c *CacheCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- cacheEntriesDesc
	ch <- cacheSizeDesc
	ch <- cacheEvictionsDesc
	ch <- cacheErrorsDesc
}

func (c *CacheCollector) Collect(ch chan<- prometheus.Metric) {
	s := c.source.Stats()
	ch <- prometheus.MustNewConstMetric(cacheEntriesDesc, prometheus.GaugeValue, float64(s.Entries))
	ch <- prometheus.MustNewConstMetric(cacheSizeDesc, prometheus.GaugeValue, float64(s.SizeBytes))
	ch <- prometheus.MustNewConstMetric(cacheEvictionsDesc, prometheus.CounterValue, float64(s.Evictions))
	ch <- prometheus.MustNewConstMetric(cacheErrorsDesc, prometheus.CounterValue, float64(s.Errors))
}

// Metrics holds the checker's collectors. A nil *Metrics records nothing.
type Metrics struct {
	checks        *prometheus.CounterVec
	results       *prometheus.CounterVec
	cacheLookups  *prometheus.CounterVec
	admissions    *prometheus.CounterVec
	probeDuration *prometheus.HistogramVec
}

// New registers the checker collectors with reg. source may be nil when the
// cache is disabled.
func New(reg prometheus.Registerer, source StatsSource) *Metrics {
	m := &Metrics{
		checks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "phonecheck_checks_total",
			Help: "Completed checks by summary outcome",
		}, []string{"outcome"}),
		results: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "phonecheck_platform_results_total",
			Help: "Per-platform results by source and result",
		}, []string{"platform", "source", "result"}),
		cacheLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "phonecheck_cache_lookups_total",
			Help: "Cache lookups by outcome",
		}, []string{"platform", "outcome"}),
		admissions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "phonecheck_admissions_total",
			Help: "Rate limiter decisions",
		}, []string{"platform", "verdict"}),
		probeDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "phonecheck_probe_duration_seconds",
			Help:    "Live probe latency",
			Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 15},
		}, []string{"platform"}),
	}
	reg.MustRegister(m.checks, m.results, m.cacheLookups, m.admissions, m.probeDuration)
	if source != nil {
		reg.MustRegister(&CacheCollector{source: source})
	}
	return m
}

func (m *Metrics) ObserveCheck(resp *models.CheckResponse) {
	if m == nil {
		return
	}
	m.checks.WithLabelValues(string(resp.Summary.Outcome)).Inc()
	for _, r := range resp.Results {
		source := "live"
		if r.FromCache {
			source = "cache"
		}
		m.results.WithLabelValues(string(r.Platform), source, resultLabel(r)).Inc()
	}
}

// ObserveCacheLookup counts a lookup; outcome is hit, miss or error.
func (m *Metrics) ObserveCacheLookup(platform models.Platform, outcome string) {
	if m == nil {
		return
	}
	m.cacheLookups.WithLabelValues(string(platform), outcome).Inc()
}

func (m *Metrics) ObserveAdmission(platform models.Platform, verdict string) {
	if m == nil {
		return
	}
	m.admissions.WithLabelValues(string(platform), verdict).Inc()
}

func (m *Metrics) ObserveProbe(platform models.Platform, d time.Duration) {
	if m == nil {
		return
	}
	m.probeDuration.WithLabelValues(string(platform)).Observe(d.Seconds())
}

func resultLabel(r models.PlatformResult) string {
	switch {
	case r.Failed():
		return string(r.ErrorKind)
	case r.Exists:
		return "found"
	default:
		return "not_found"
	}
}
