// Package metrics exposes Prometheus collectors for the hub.
package metrics

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var histogramBuckets = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5}

// Recorder owns the hub's collectors. A nil *Recorder records nothing.
type Recorder struct {
	registry *prometheus.Registry

	requestTotal     *prometheus.CounterVec
	requestLatency   *prometheus.HistogramVec
	policyDecisions  *prometheus.CounterVec
	rateLimited      *prometheus.CounterVec
	approvalsTotal   *prometheus.CounterVec
	moderationQueued *prometheus.GaugeVec
}

// New builds a Recorder backed by its own registry, plus Go and process
// collectors.
func New() *Recorder {
	r := &Recorder{registry: prometheus.NewRegistry()}

	r.requestTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "openclaw",
		Subsystem: "api",
		Name:      "http_requests_total",
		Help:      "Count of processed HTTP requests",
	}, []string{"method", "route", "status"})

	r.requestLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "openclaw",
		Subsystem: "api",
		Name:      "http_request_duration_seconds",
		Help:      "Latency distribution of HTTP handlers",
		Buckets:   histogramBuckets,
	}, []string{"method", "route", "status"})

	r.policyDecisions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "openclaw",
		Subsystem: "channels",
		Name:      "policy_decisions_total",
		Help:      "Inbound message decisions by channel, policy and action",
	}, []string{"channel", "policy", "action"})

	r.rateLimited = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "openclaw",
		Subsystem: "channels",
		Name:      "rate_limited_total",
		Help:      "Inbound messages dropped by the per-sender rate limit",
	}, []string{"channel"})

	r.approvalsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "openclaw",
		Subsystem: "approvals",
		Name:      "resolved_total",
		Help:      "Approval requests by final status",
	}, []string{"type", "status"})

	r.moderationQueued = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "openclaw",
		Subsystem: "channels",
		Name:      "moderation_pending",
		Help:      "Messages waiting for a moderator per binding",
	}, []string{"binding"})

	registered := []prometheus.Collector{
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		r.requestTotal,
		r.requestLatency,
		r.policyDecisions,
		r.rateLimited,
		r.approvalsTotal,
		r.moderationQueued,
	}
	for _, collector := range registered {
		if err := r.registry.Register(collector); err != nil {
			var are prometheus.AlreadyRegisteredError
			if !errors.As(err, &are) {
				panic(err)
			}
		}
	}
	return r
}

// Handler serves the registry in the Prometheus text format.
func (r *Recorder) Handler() http.Handler {
	if r == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}

// Gatherer exposes the registry for tests.
func (r *Recorder) Gatherer() prometheus.Gatherer {
	return r.registry
}

func (r *Recorder) ObserveRequest(method, route string, status int, duration time.Duration) {
	if r == nil {
		return
	}
	labels := prometheus.Labels{
		"method": method,
		"route":  route,
		"status": strconv.Itoa(status),
	}
	r.requestTotal.With(labels).Inc()
	r.requestLatency.With(labels).Observe(duration.Seconds())
}

func (r *Recorder) PolicyDecision(channel, policy, action string) {
	if r == nil {
		return
	}
	r.policyDecisions.WithLabelValues(channel, policy, action).Inc()
}

func (r *Recorder) RateLimited(channel string) {
	if r == nil {
		return
	}
	r.rateLimited.WithLabelValues(channel).Inc()
}

func (r *Recorder) ApprovalResolved(kind, status string) {
	if r == nil {
		return
	}
	r.approvalsTotal.WithLabelValues(kind, status).Inc()
}

func (r *Recorder) ModerationPending(bindingID string, pending int) {
	if r == nil {
		return
	}
	r.moderationQueued.WithLabelValues(bindingID).Set(float64(pending))
}
