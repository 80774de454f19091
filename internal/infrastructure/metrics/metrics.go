// Package metrics exposes Prometheus instrumentation for channels, postbacks
// and tool invocations.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "ipgeo"

// Recorder collects server metrics into its own registry.
type Recorder struct {
	registry *prometheus.Registry

	sessionsOpen   prometheus.Gauge
	sessionsTotal  prometheus.Counter
	postbacks      *prometheus.CounterVec
	invocations    *prometheus.CounterVec
	invocationTime *prometheus.HistogramVec
	undelivered    prometheus.Counter
}

// NewRecorder creates a Recorder with all collectors registered.
func NewRecorder() *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		sessionsOpen: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sessions_open",
			Help:      "Number of channel sessions currently open",
		}),
		sessionsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_opened_total",
			Help:      "Total channel sessions opened",
		}),
		postbacks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "postbacks_total",
			Help:      "Postback requests by outcome",
		}, []string{"outcome"}),
		invocations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tool_invocations_total",
			Help:      "Tool invocations by tool and result status",
		}, []string{"tool", "status"}),
		invocationTime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "tool_invocation_duration_seconds",
			Help:      "Tool handler latency",
			Buckets:   prometheus.DefBuckets,
		}, []string{"tool"}),
		undelivered: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "results_undelivered_total",
			Help:      "Results dropped because the channel had closed",
		}),
	}

	r.registry.MustRegister(
		r.sessionsOpen,
		r.sessionsTotal,
		r.postbacks,
		r.invocations,
		r.invocationTime,
		r.undelivered,
	)
	return r
}

// SessionOpened records a new channel.
func (r *Recorder) SessionOpened() {
	if r == nil {
		return
	}
	r.sessionsOpen.Inc()
	r.sessionsTotal.Inc()
}

// SessionClosed records a channel teardown.
func (r *Recorder) SessionClosed() {
	if r == nil {
		return
	}
	r.sessionsOpen.Dec()
}

// Postback records the outcome of a postback request ("accepted",
// "unknown_session", "malformed", ...).
func (r *Recorder) Postback(outcome string) {
	if r == nil {
		return
	}
	r.postbacks.WithLabelValues(outcome).Inc()
}

// Invocation records one finished tool invocation.
func (r *Recorder) Invocation(tool, status string, d time.Duration) {
	if r == nil {
		return
	}
	r.invocations.WithLabelValues(tool, status).Inc()
	r.invocationTime.WithLabelValues(tool).Observe(d.Seconds())
}

// Undelivered records a result dropped on a closed channel.
func (r *Recorder) Undelivered() {
	if r == nil {
		return
	}
	r.undelivered.Inc()
}

// Registry returns the underlying registry.
func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}

// Handler serves the registry in the Prometheus text format.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}
