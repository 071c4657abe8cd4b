package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// PrometheusCollector exposes lineage metrics on its own registry.
type PrometheusCollector struct {
	lineageBuilds    *prometheus.CounterVec
	lineageNodes     prometheus.Histogram
	truncations      prometheus.Counter
	forkMutations    *prometheus.CounterVec
	recounts         *prometheus.CounterVec
	recountDurations prometheus.Histogram
	registry         *prometheus.Registry
}

func NewPrometheusCollector() *PrometheusCollector {
	registry := prometheus.NewRegistry()

	c := &PrometheusCollector{
		lineageBuilds: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "artive_lineage_builds_total",
				Help: "Lineage trees built, by status",
			},
			[]string{"status"},
		),
		lineageNodes: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "artive_lineage_nodes",
			Help:    "Number of nodes returned per lineage tree",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000},
		}),
		truncations: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "artive_lineage_truncations_total",
			Help: "Lineage trees cut short by the per-parent fan-out limit",
		}),
		forkMutations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "artive_fork_mutations_total",
				Help: "Fork create/delete operations, by operation and status",
			},
			[]string{"operation", "status"},
		),
		recounts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "artive_recounts_total",
				Help: "Root fork-count recomputations, by status",
			},
			[]string{"status"},
		),
		recountDurations: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "artive_recount_duration_seconds",
			Help:    "Duration of root fork-count recomputations",
			Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1.0, 2.5, 5.0},
		}),
		registry: registry,
	}

	registry.MustRegister(c.lineageBuilds)
	registry.MustRegister(c.lineageNodes)
	registry.MustRegister(c.truncations)
	registry.MustRegister(c.forkMutations)
	registry.MustRegister(c.recounts)
	registry.MustRegister(c.recountDurations)
	return c
}

func (c *PrometheusCollector) RecordLineage(status string, nodes int, truncated bool) {
	c.lineageBuilds.WithLabelValues(status).Inc()
	if status != "ok" {
		return
	}
	c.lineageNodes.Observe(float64(nodes))
	if truncated {
		c.truncations.Inc()
	}
}

func (c *PrometheusCollector) RecordForkMutation(operation, status string) {
	c.forkMutations.WithLabelValues(operation, status).Inc()
}

func (c *PrometheusCollector) RecordRecount(status string, duration time.Duration) {
	c.recounts.WithLabelValues(status).Inc()
	c.recountDurations.Observe(duration.Seconds())
}

// Registry returns the underlying registry.
func (c *PrometheusCollector) Registry() *prometheus.Registry {
	return c.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (c *PrometheusCollector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}
