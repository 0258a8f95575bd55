// Package metrics exposes Prometheus instrumentation for the aggregator.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Collector holds the service's Prometheus instruments. The registerer is
// injected so tests can use a private registry.
type Collector struct {
	refreshCycles   *prometheus.CounterVec
	refreshDuration prometheus.Histogram
	sourceFailures  *prometheus.CounterVec
	cacheReads      *prometheus.CounterVec
	alertsCollapsed prometheus.Counter
	alertsPublished prometheus.Counter
	wsClients       prometheus.Gauge
	httpRequests    *prometheus.CounterVec
	httpDuration    *prometheus.HistogramVec
}

// NewCollector registers the aggregator's instruments on reg.
func NewCollector(reg prometheus.Registerer) *Collector {
	factory := promauto.With(reg)

	return &Collector{
		refreshCycles: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "aggregator_refresh_cycles_total",
			Help: "Refresh cycles by outcome (success, partial, failure, skipped).",
		}, []string{"outcome"}),
		refreshDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "aggregator_refresh_duration_seconds",
			Help:    "Wall time of a full refresh cycle.",
			Buckets: prometheus.DefBuckets,
		}),
		sourceFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "aggregator_source_failures_total",
			Help: "Upstream fetch failures by source.",
		}, []string{"source"}),
		cacheReads: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "aggregator_cache_reads_total",
			Help: "Cache reads by key and result (hit, miss, expired, corrupt).",
		}, []string{"key", "result"}),
		alertsCollapsed: factory.NewCounter(prometheus.CounterOpts{
			Name: "aggregator_alerts_collapsed_total",
			Help: "Duplicate alerts removed by fingerprint collapse.",
		}),
		alertsPublished: factory.NewCounter(prometheus.CounterOpts{
			Name: "aggregator_alerts_published_total",
			Help: "Alerts published to the event bus.",
		}),
		wsClients: factory.NewGauge(prometheus.GaugeOpts{
			Name: "aggregator_websocket_clients",
			Help: "Connected websocket clients.",
		}),
		httpRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "aggregator_http_requests_total",
			Help: "HTTP requests by route, method and status code.",
		}, []string{"route", "method", "code"}),
		httpDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "aggregator_http_request_duration_seconds",
			Help:    "HTTP request latency by route.",
			Buckets: prometheus.DefBuckets,
		}, []string{"route"}),
	}
}

// ObserveRefresh records one refresh cycle.
func (c *Collector) ObserveRefresh(outcome string, elapsed time.Duration) {
	c.refreshCycles.WithLabelValues(outcome).Inc()
	c.refreshDuration.Observe(elapsed.Seconds())
}

// RefreshSkipped counts a cycle that was coalesced into an in-flight one.
func (c *Collector) RefreshSkipped() {
	c.refreshCycles.WithLabelValues("skipped").Inc()
}

// SourceFailure counts a failed upstream fetch.
func (c *Collector) SourceFailure(source string) {
	c.sourceFailures.WithLabelValues(source).Inc()
}

// CacheRead counts a cache read outcome.
func (c *Collector) CacheRead(key, result string) {
	c.cacheReads.WithLabelValues(key, result).Inc()
}

// AlertsCollapsed counts duplicates removed in one collapse pass.
func (c *Collector) AlertsCollapsed(n int) {
	if n > 0 {
		c.alertsCollapsed.Add(float64(n))
	}
}

// AlertPublished counts one alert handed to the event bus.
func (c *Collector) AlertPublished() {
	c.alertsPublished.Inc()
}

// ClientConnected tracks a new websocket client.
func (c *Collector) ClientConnected() { c.wsClients.Inc() }

// ClientDisconnected tracks a departed websocket client.
func (c *Collector) ClientDisconnected() { c.wsClients.Dec() }

// ObserveHTTP records one handled HTTP request.
func (c *Collector) ObserveHTTP(route, method, code string, elapsed time.Duration) {
	c.httpRequests.WithLabelValues(route, method, code).Inc()
	c.httpDuration.WithLabelValues(route).Observe(elapsed.Seconds())
}
