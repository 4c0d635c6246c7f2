// Package metrics exposes the broker's running counters as Prometheus
// gauges (SPEC_FULL.md §6 NEW: "/api/status additionally exposes the
// DecisionCache hit-rate and AuditEmitter allow/deny/cached counters as
// Prometheus gauges under a conventional agenshield_* namespace").
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/agen-co/agenshield-sub008/internal/rpc"
)

const namespace = "agenshield"

// Collector mirrors an rpc.Stats snapshot into Prometheus gauges, held in
// a private registry so the broker's own process metrics never leak onto
// the scrape endpoint alongside the default global registry's.
type Collector struct {
	registry *prometheus.Registry

	totalRequests  prometheus.Gauge
	allowCount     prometheus.Gauge
	denyCount      prometheus.Gauge
	errorCount     prometheus.Gauge
	cacheHitRate   prometheus.Gauge
	policiesLoaded prometheus.Gauge
}

// NewCollector registers every gauge on a fresh registry and returns the
// Collector.
func NewCollector() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		totalRequests: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "requests_total", Help: "Total dispatched RPC requests.",
		}),
		allowCount: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "decisions_allowed", Help: "Requests whose final audit result was an allow.",
		}),
		denyCount: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "decisions_denied", Help: "Requests whose final audit result was a deny.",
		}),
		errorCount: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "decisions_errored", Help: "Requests that failed with a handler error.",
		}),
		cacheHitRate: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "decision_cache_hit_rate", Help: "Policy decision cache hit rate in [0,1].",
		}),
		policiesLoaded: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "policies_loaded", Help: "Policies stored at the global scope, enabled or not.",
		}),
	}
	c.registry.MustRegister(
		c.totalRequests,
		c.allowCount,
		c.denyCount,
		c.errorCount,
		c.cacheHitRate,
		c.policiesLoaded,
	)
	return c
}

// Update sets every gauge from one rpc.Stats snapshot (the same struct
// /api/status reports, reused rather than duplicated).
func (c *Collector) Update(s rpc.Stats) {
	c.totalRequests.Set(float64(s.TotalRequests))
	c.allowCount.Set(float64(s.AllowCount))
	c.denyCount.Set(float64(s.DenyCount))
	c.errorCount.Set(float64(s.ErrorCount))
	c.cacheHitRate.Set(s.CacheHitRate)
	c.policiesLoaded.Set(float64(s.PoliciesLoaded))
}

// Handler returns the scrape endpoint for this collector's registry.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}
