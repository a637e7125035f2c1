package mesh

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus collectors of a mesh service. A nil *Metrics
// disables collection.
type Metrics struct {
	envelopes  *prometheus.CounterVec // by role and outcome
	broadcasts *prometheus.CounterVec // by role and kind
	peers      *prometheus.GaugeVec   // by role
}

// NewMetrics creates the mesh collectors and registers them with reg. A nil
// reg returns nil metrics.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	if reg == nil {
		return nil, nil
	}

	m := &Metrics{
		envelopes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "miyah",
			Subsystem: "mesh",
			Name:      "envelopes_total",
			Help:      "Inbound envelopes by dedup outcome",
		}, []string{"role", "outcome"}), // outcome: accepted, self, duplicate, stopped

		broadcasts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "miyah",
			Subsystem: "mesh",
			Name:      "broadcasts_total",
			Help:      "Envelopes published by this process",
		}, []string{"role", "kind"}),

		peers: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "miyah",
			Subsystem: "mesh",
			Name:      "peers",
			Help:      "Peers currently in the registry",
		}, []string{"role"}),
	}

	for _, c := range []prometheus.Collector{m.envelopes, m.broadcasts, m.peers} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *Metrics) recordEnvelope(role Role, outcome string) {
	if m == nil {
		return
	}
	m.envelopes.WithLabelValues(string(role), outcome).Inc()
}

func (m *Metrics) recordBroadcast(role Role, kind string) {
	if m == nil {
		return
	}
	m.broadcasts.WithLabelValues(string(role), kind).Inc()
}

func (m *Metrics) setPeers(role Role, n int) {
	if m == nil {
		return
	}
	m.peers.WithLabelValues(string(role)).Set(float64(n))
}
