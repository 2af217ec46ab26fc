// Package metrics holds the Prometheus collectors for the portal. A nil
// *Metrics is valid and records nothing.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "portal"

type Metrics struct {
	gatewayRequests *prometheus.CounterVec
	gatewayDuration *prometheus.HistogramVec
	gateDecisions   *prometheus.CounterVec
	voteSubmissions *prometheus.CounterVec
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		gatewayRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "gateway_requests_total",
			Help:      "Backend gateway calls by logical path and result.",
		}, []string{"path", "result"}),
		gatewayDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "gateway_request_duration_seconds",
			Help:      "Backend gateway call latency.",
			Buckets:   []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		}, []string{"path"}),
		gateDecisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "gate_decisions_total",
			Help:      "Access gate decisions by gate and result.",
		}, []string{"gate", "result"}),
		voteSubmissions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "vote_submissions_total",
			Help:      "Vote submissions by vote page and outcome.",
		}, []string{"page", "outcome"}),
	}
	reg.MustRegister(m.gatewayRequests, m.gatewayDuration, m.gateDecisions, m.voteSubmissions)
	return m
}

// ObserveGateway records one gateway call. result is "ok", "rejected" or
// "error".
func (m *Metrics) ObserveGateway(path, result string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.gatewayRequests.WithLabelValues(path, result).Inc()
	m.gatewayDuration.WithLabelValues(path).Observe(elapsed.Seconds())
}

func (m *Metrics) GateDecision(gate string, granted bool) {
	if m == nil {
		return
	}
	result := "denied"
	if granted {
		result = "granted"
	}
	m.gateDecisions.WithLabelValues(gate, result).Inc()
}

func (m *Metrics) VoteSubmission(page, outcome string) {
	if m == nil {
		return
	}
	m.voteSubmissions.WithLabelValues(page, outcome).Inc()
}
