// Package metrics exposes the pipeline's Prometheus counters and histograms.
//
// All Record* methods are safe on a nil *Collector, so components can run
// without metrics in tests.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "mentorlens"

// Inference pass labels.
const (
	PassProfile  = "profile"
	PassCritique = "critique"
)

// Collector holds every metric the service exports.
type Collector struct {
	jobsSubmitted prometheus.Counter
	jobsCompleted prometheus.Counter
	jobsFailed    prometheus.Counter
	jobsRetried   prometheus.Counter
	jobsRecovered prometheus.Counter

	retrievalFallbacks *prometheus.CounterVec
	citationsDropped   *prometheus.CounterVec
	inferenceDuration  *prometheus.HistogramVec
}

// NewCollector creates the metrics and registers them with reg.
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		jobsSubmitted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_submitted_total",
			Help:      "Total number of critique jobs submitted",
		}),
		jobsCompleted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_completed_total",
			Help:      "Total number of critique jobs that reached done",
		}),
		jobsFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_failed_total",
			Help:      "Total number of critique jobs that reached failed",
		}),
		jobsRetried: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_retried_total",
			Help:      "Total number of failed attempts re-queued for another try",
		}),
		jobsRecovered: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_recovered_total",
			Help:      "Total number of stale in-flight jobs re-queued by recovery",
		}),
		retrievalFallbacks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "retrieval_fallbacks_total",
			Help:      "Retrieval jobs that degraded to single-pass analysis, by reason",
		}, []string{"reason"}),
		citationsDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "citations_dropped_total",
			Help:      "Citation tokens removed by the resolver, by kind and reason",
		}, []string{"kind", "reason"}),
		inferenceDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "inference_duration_seconds",
			Help:      "Duration of inference backend calls, by pass",
			Buckets:   []float64{1, 2.5, 5, 10, 20, 30, 60, 120, 300, 600},
		}, []string{"pass"}),
	}

	reg.MustRegister(
		c.jobsSubmitted,
		c.jobsCompleted,
		c.jobsFailed,
		c.jobsRetried,
		c.jobsRecovered,
		c.retrievalFallbacks,
		c.citationsDropped,
		c.inferenceDuration,
	)
	return c
}

func (c *Collector) RecordSubmitted() {
	if c == nil {
		return
	}
	c.jobsSubmitted.Inc()
}

func (c *Collector) RecordCompleted() {
	if c == nil {
		return
	}
	c.jobsCompleted.Inc()
}

func (c *Collector) RecordFailed() {
	if c == nil {
		return
	}
	c.jobsFailed.Inc()
}

func (c *Collector) RecordRetried() {
	if c == nil {
		return
	}
	c.jobsRetried.Inc()
}

func (c *Collector) RecordRecovered(n int) {
	if c == nil || n <= 0 {
		return
	}
	c.jobsRecovered.Add(float64(n))
}

func (c *Collector) RecordFallback(reason string) {
	if c == nil {
		return
	}
	c.retrievalFallbacks.WithLabelValues(reason).Inc()
}

func (c *Collector) RecordCitationDropped(kind, reason string) {
	if c == nil {
		return
	}
	c.citationsDropped.WithLabelValues(kind, reason).Inc()
}

func (c *Collector) ObserveInference(pass string, seconds float64) {
	if c == nil {
		return
	}
	c.inferenceDuration.WithLabelValues(pass).Observe(seconds)
}

// Handler serves the metrics gathered by g in the Prometheus text format.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
