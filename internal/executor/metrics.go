package executor

import "github.com/prometheus/client_golang/prometheus"

// Metrics counts submission outcomes. A nil *Metrics records nothing.
type Metrics struct {
	submittedTotal  prometheus.Counter
	failedTotal     prometheus.Counter
	duplicatesTotal prometheus.Counter
}

// NewMetrics creates the executor collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		submittedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "nftarb", Subsystem: "executor", Name: "submitted_total",
			Help: "Transactions broadcast to the mempool.",
		}),
		failedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "nftarb", Subsystem: "executor", Name: "failed_total",
			Help: "Submissions that failed before or during broadcast.",
		}),
		duplicatesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "nftarb", Subsystem: "executor", Name: "duplicates_total",
			Help: "Actions skipped because the order was already submitted.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.submittedTotal, m.failedTotal, m.duplicatesTotal)
	}
	return m
}

func (m *Metrics) submitted() {
	if m != nil {
		m.submittedTotal.Inc()
	}
}

func (m *Metrics) failed() {
	if m != nil {
		m.failedTotal.Inc()
	}
}

func (m *Metrics) duplicate() {
	if m != nil {
		m.duplicatesTotal.Inc()
	}
}
