package guard

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics records guard activity. A nil *Metrics is valid and records nothing.
type Metrics struct {
	storeCalls    *prometheus.CounterVec
	shortCircuits *prometheus.CounterVec
	collapsedRead *prometheus.CounterVec
	resets        *prometheus.CounterVec
}

// NewMetrics registers guard metrics with registry. Returns nil when registry is nil.
func NewMetrics(registry prometheus.Registerer) *Metrics {
	if registry == nil {
		return nil
	}
	factory := promauto.With(registry)
	return &Metrics{
		storeCalls: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "jobbridge_guard_store_calls_total",
			Help: "Store calls issued through availability guards, by outcome",
		}, []string{"table", "result"}),
		shortCircuits: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "jobbridge_guard_short_circuits_total",
			Help: "Requests answered without a store call because the table is known missing",
		}, []string{"table", "operation"}),
		collapsedRead: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "jobbridge_guard_collapsed_reads_total",
			Help: "Reads that shared an in-flight store call",
		}, []string{"table"}),
		resets: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "jobbridge_guard_resets_total",
			Help: "Explicit guard resets",
		}, []string{"table"}),
	}
}

func (m *Metrics) storeCall(table, result string) {
	if m == nil {
		return
	}
	m.storeCalls.WithLabelValues(table, result).Inc()
}

func (m *Metrics) shortCircuit(table, operation string) {
	if m == nil {
		return
	}
	m.shortCircuits.WithLabelValues(table, operation).Inc()
}

func (m *Metrics) collapsed(table string) {
	if m == nil {
		return
	}
	m.collapsedRead.WithLabelValues(table).Inc()
}

func (m *Metrics) reset(table string) {
	if m == nil {
		return
	}
	m.resets.WithLabelValues(table).Inc()
}
