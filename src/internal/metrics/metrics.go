// FILE: srpauth/src/internal/metrics/metrics.go
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Result labels
const (
	ResultSuccess = "success"
	ResultFailure = "failure"
	ResultRevoked = "revoked"
)

type Metrics struct {
	Handshakes         *prometheus.CounterVec
	Refreshes          *prometheus.CounterVec
	RefreshesCoalesced prometheus.Counter
	Invalidations      *prometheus.CounterVec
	Retries            prometheus.Counter
	HumanVerifications prometheus.Counter
}

// New registers the collectors on reg. A nil reg creates unregistered
// collectors.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Handshakes: f.NewCounterVec(prometheus.CounterOpts{
			Name: "srpauth_handshakes_total",
			Help: "Total number of login handshakes by result",
		}, []string{"result"}),
		Refreshes: f.NewCounterVec(prometheus.CounterOpts{
			Name: "srpauth_refreshes_total",
			Help: "Total number of token refresh requests sent by result",
		}, []string{"result"}),
		RefreshesCoalesced: f.NewCounter(prometheus.CounterOpts{
			Name: "srpauth_refreshes_coalesced_total",
			Help: "Total number of refresh calls served by an in-flight refresh",
		}),
		Invalidations: f.NewCounterVec(prometheus.CounterOpts{
			Name: "srpauth_session_invalidations_total",
			Help: "Total number of sessions invalidated by reason",
		}, []string{"reason"}),
		Retries: f.NewCounter(prometheus.CounterOpts{
			Name: "srpauth_dispatch_retries_total",
			Help: "Total number of requests retried after a token refresh",
		}),
		HumanVerifications: f.NewCounter(prometheus.CounterOpts{
			Name: "srpauth_human_verifications_total",
			Help: "Total number of responses demanding human verification",
		}),
	}
}

func (m *Metrics) ObserveHandshake(result string) {
	if m == nil {
		return
	}
	m.Handshakes.WithLabelValues(result).Inc()
}

func (m *Metrics) ObserveRefresh(result string) {
	if m == nil {
		return
	}
	m.Refreshes.WithLabelValues(result).Inc()
}

func (m *Metrics) IncrementCoalesced() {
	if m == nil {
		return
	}
	m.RefreshesCoalesced.Inc()
}

func (m *Metrics) ObserveInvalidation(reason string) {
	if m == nil {
		return
	}
	m.Invalidations.WithLabelValues(reason).Inc()
}

func (m *Metrics) IncrementRetries() {
	if m == nil {
		return
	}
	m.Retries.Inc()
}

func (m *Metrics) IncrementHumanVerifications() {
	if m == nil {
		return
	}
	m.HumanVerifications.Inc()
}
