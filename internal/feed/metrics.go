package feed

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds the Prometheus collectors of a reconciler. A nil *Metrics
// disables collection.
type Metrics struct {
	polls   *prometheus.CounterVec // by result: ok, error, stale
	merged  *prometheus.CounterVec // by source: poll, push, push_duplicate
	deletes *prometheus.CounterVec // by result: ok, not_found, error
}

// NewMetrics creates the feed collectors and registers them with reg. A nil
// reg returns nil metrics.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	if reg == nil {
		return nil, nil
	}
	m := &Metrics{
		polls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "miyah",
			Subsystem: "feed",
			Name:      "polls_total",
			Help:      "Poll cycles by result",
		}, []string{"result"}),
		merged: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "miyah",
			Subsystem: "feed",
			Name:      "items_total",
			Help:      "Reports offered to the feed by source",
		}, []string{"source"}),
		deletes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "miyah",
			Subsystem: "feed",
			Name:      "remote_deletes_total",
			Help:      "Remote delete attempts by result",
		}, []string{"result"}),
	}
	for _, c := range []prometheus.Collector{m.polls, m.merged, m.deletes} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *Metrics) recordPoll(result string) {
	if m == nil {
		return
	}
	m.polls.WithLabelValues(result).Inc()
}

func (m *Metrics) recordMerged(source string, n int) {
	if m == nil || n == 0 {
		return
	}
	m.merged.WithLabelValues(source).Add(float64(n))
}

func (m *Metrics) recordDelete(result string) {
	if m == nil {
		return
	}
	m.deletes.WithLabelValues(result).Inc()
}
