// Package metrics exposes prefetcher introspection as Prometheus
// collectors, the way prysm's beacon-chain registers its own counters
// against the default registry and serves them over /metrics.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/supraxlabs/ghbprefetch/ghb"
	"github.com/supraxlabs/ghbprefetch/prefetch"
)

// Collector mirrors prefetch.DispatchStats and ghb.Stats as gauges; both
// are cumulative counters in the dispatcher itself, so gauges (set on
// every Report, not incremented) avoid double-counting across reports.
type Collector struct {
	accesses        prometheus.Gauge
	earlyStrideHits prometheus.Gauge
	patternHits     prometheus.Gauge
	fallbackHits    prometheus.Gauge
	predictionsOut  prometheus.Gauge
	pageRejections  prometheus.Gauge

	patternTableSize prometheus.Gauge
	sequenceCounter  prometheus.Gauge
}

// NewCollector registers a fresh set of gauges under the given namespace.
// Callers that need more than one dispatcher instrumented concurrently
// should use distinct namespaces to avoid a duplicate-registration panic.
func NewCollector(namespace string) *Collector {
	gauge := func(name, help string) prometheus.Gauge {
		return promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "prefetcher",
			Name:      name,
			Help:      help,
		})
	}

	return &Collector{
		accesses:         gauge("accesses_total", "Accesses seen by the dispatcher."),
		earlyStrideHits:  gauge("early_stride_hits_total", "Predictions from the early stride detector."),
		patternHits:      gauge("pattern_hits_total", "Predictions from the Markov pattern table."),
		fallbackHits:     gauge("fallback_hits_total", "Predictions from the frequency/recency fallback."),
		predictionsOut:   gauge("predictions_total", "Total predicted addresses emitted."),
		pageRejections:   gauge("page_rejections_total", "Predictions rejected by the page-boundary admission policy."),
		patternTableSize: gauge("pattern_table_size", "Number of entries currently held in the pattern table."),
		sequenceCounter:  gauge("sequence_counter", "Monotonic insert sequence counter."),
	}
}

// Report pushes a snapshot of the dispatcher's counters into the
// registered gauges. Intended to be called periodically (or once, before
// scraping) rather than on every access.
func (c *Collector) Report(stats prefetch.DispatchStats, helperStats ghb.Stats) {
	c.accesses.Set(float64(stats.Accesses))
	c.earlyStrideHits.Set(float64(stats.EarlyStrideHits))
	c.patternHits.Set(float64(stats.PatternHits))
	c.fallbackHits.Set(float64(stats.FallbackHits))
	c.predictionsOut.Set(float64(stats.PredictionsOut))
	c.pageRejections.Set(float64(stats.PageRejections))
	c.patternTableSize.Set(float64(helperStats.PatternTableSize))
	c.sequenceCounter.Set(float64(helperStats.SequenceCounter))
}

// Handler returns the standard Prometheus scrape handler, for mounting at
// /metrics in the harness' server mode.
func Handler() http.Handler {
	return promhttp.Handler()
}
