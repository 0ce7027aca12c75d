package notifications

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics records fan-out activity. A nil *Metrics records nothing.
type Metrics struct {
	batches *prometheus.CounterVec
	writes  *prometheus.CounterVec
	pushes  *prometheus.CounterVec
}

// NewMetrics registers notification metrics with registry. Returns nil when registry is nil.
func NewMetrics(registry prometheus.Registerer) *Metrics {
	if registry == nil {
		return nil
	}
	factory := promauto.With(registry)
	return &Metrics{
		batches: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "jobbridge_notification_batches_total",
			Help: "Notification fan-outs, by outcome",
		}, []string{"result"}),
		writes: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "jobbridge_notification_writes_total",
			Help: "Per-recipient notification writes, by outcome",
		}, []string{"result"}),
		pushes: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "jobbridge_notification_pushes_total",
			Help: "Live pushes attempted after persistence, by outcome",
		}, []string{"result"}),
	}
}

func (m *Metrics) batch(result string) {
	if m == nil {
		return
	}
	m.batches.WithLabelValues(result).Inc()
}

func (m *Metrics) write(result string) {
	if m == nil {
		return
	}
	m.writes.WithLabelValues(result).Inc()
}

func (m *Metrics) push(result string) {
	if m == nil {
		return
	}
	m.pushes.WithLabelValues(result).Inc()
}
