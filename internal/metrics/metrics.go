package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "nucleotid"

// Gate outcomes
const (
	GateAuthenticated = "authenticated"
	GateAnonymous     = "anonymous"
	GateRejected      = "rejected"
)

// Session counters
// Nil *Metrics is valid and records nothing
type Metrics struct {
	registry *prometheus.Registry

	sessionsCreated  prometheus.Counter
	sessionsExtended prometheus.Counter
	sessionsRevoked  *prometheus.CounterVec
	refreshFailures  *prometheus.CounterVec
	gateRequests     *prometheus.CounterVec
}

// New creates counters registered in their own registry along with process and go collectors
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		sessionsCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_created_total",
			Help:      "Sessions opened by issuing a token pair.",
		}),
		sessionsExtended: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_extended_total",
			Help:      "Access tokens reissued with a refresh token.",
		}),
		sessionsRevoked: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_revoked_total",
			Help:      "Sessions deleted, by the way they were revoked.",
		}, []string{"cause"}),
		refreshFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "refresh_failures_total",
			Help:      "Rejected refresh attempts, by reason.",
		}, []string{"reason"}),
		gateRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "gate_requests_total",
			Help:      "Requests passed through the authentication gate, by outcome.",
		}, []string{"outcome"}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.sessionsCreated,
		m.sessionsExtended,
		m.sessionsRevoked,
		m.refreshFailures,
		m.gateRequests,
	)

	return m
}

// Handler serving the registry in Prometheus exposition format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) SessionCreated() {
	if m == nil {
		return
	}
	m.sessionsCreated.Inc()
}

func (m *Metrics) SessionExtended() {
	if m == nil {
		return
	}
	m.sessionsExtended.Inc()
}

// Cause is one of "logout", "revoke", "revoke_all", "idle"
func (m *Metrics) SessionsRevoked(cause string, n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.sessionsRevoked.WithLabelValues(cause).Add(float64(n))
}

func (m *Metrics) RefreshFailed(reason string) {
	if m == nil {
		return
	}
	m.refreshFailures.WithLabelValues(reason).Inc()
}

func (m *Metrics) GateRequest(outcome string) {
	if m == nil {
		return
	}
	m.gateRequests.WithLabelValues(outcome).Inc()
}
