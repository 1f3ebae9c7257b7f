package bazaarws

import (
	"github.com/bazaarhq/bazaar-go-utils/bazaar-ws/registry"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics exports registry activity to Prometheus. It is a registry.Observer.
type Metrics struct {
	authFailures    *prometheus.CounterVec
	registrations   prometheus.Counter
	deregistrations *prometheus.CounterVec
	swept           prometheus.Counter

	factory promauto.Factory
}

// NewMetrics registers the counters with reg. A nil reg uses the default registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)
	return &Metrics{
		authFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "bazaar_ws_auth_failures_total",
			Help: "Handshakes rejected, by failure reason",
		}, []string{"reason"}),
		registrations: factory.NewCounter(prometheus.CounterOpts{
			Name: "bazaar_ws_connections_registered_total",
			Help: "Connections authenticated and registered",
		}),
		deregistrations: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "bazaar_ws_connections_deregistered_total",
			Help: "Connections removed from the registry, by reason",
		}, []string{"reason"}),
		swept: factory.NewCounter(prometheus.CounterOpts{
			Name: "bazaar_ws_swept_connections_total",
			Help: "Connections removed by expiry sweeps",
		}),
		factory: factory,
	}
}

// Watch exports gauges read from r on every scrape. Call it once per registry.
func (m *Metrics) Watch(r *registry.Registry) {
	m.factory.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "bazaar_ws_connections",
		Help: "Registered connections",
	}, func() float64 { return float64(r.TotalConnections()) })
	m.factory.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "bazaar_ws_identities",
		Help: "Identities with at least one registered connection",
	}, func() float64 { return float64(r.UniqueIdentityCount()) })
	m.factory.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "bazaar_ws_connections_per_identity",
		Help: "Mean connections per identity",
	}, func() float64 { return r.ConnectionStats().AverageConnectionsPerIdentity })
}

func (m *Metrics) Registered(registry.Connection) {
	m.registrations.Inc()
}

func (m *Metrics) Deregistered(_ registry.Connection, reason registry.Reason) {
	m.deregistrations.WithLabelValues(string(reason)).Inc()
	if reason == registry.ReasonInactive || reason == registry.ReasonLifetime {
		m.swept.Inc()
	}
}

func (m *Metrics) AuthFailed(_ string, err error) {
	m.authFailures.WithLabelValues(registry.FailureReason(err)).Inc()
}
