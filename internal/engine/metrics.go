package engine

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics instruments an Engine. A nil *Metrics is valid and records
// nothing.
type Metrics struct {
	eventsPublished  prometheus.Counter
	actionsPublished prometheus.Counter
	laggedItems      *prometheus.CounterVec
	taskErrors       *prometheus.CounterVec
	executorErrors   prometheus.Counter
	tasksRunning     *prometheus.GaugeVec
}

// NewMetrics creates the engine collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		eventsPublished: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "nftarb",
			Subsystem: "engine",
			Name:      "events_published_total",
			Help:      "Events published on the event bus.",
		}),
		actionsPublished: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "nftarb",
			Subsystem: "engine",
			Name:      "actions_published_total",
			Help:      "Actions published on the action bus.",
		}),
		laggedItems: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "nftarb",
			Subsystem: "engine",
			Name:      "lagged_items_total",
			Help:      "Items dropped because a subscriber fell behind.",
		}, []string{"task"}),
		taskErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "nftarb",
			Subsystem: "engine",
			Name:      "task_errors_total",
			Help:      "Tasks that ended with an error.",
		}, []string{"kind"}),
		executorErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "nftarb",
			Subsystem: "engine",
			Name:      "executor_errors_total",
			Help:      "Actions an executor failed to execute.",
		}),
		tasksRunning: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "nftarb",
			Subsystem: "engine",
			Name:      "tasks_running",
			Help:      "Tasks currently running.",
		}, []string{"kind"}),
	}
	if reg != nil {
		reg.MustRegister(m.eventsPublished, m.actionsPublished, m.laggedItems,
			m.taskErrors, m.executorErrors, m.tasksRunning)
	}
	return m
}

func (m *Metrics) eventPublished() {
	if m != nil {
		m.eventsPublished.Inc()
	}
}

func (m *Metrics) actionPublished() {
	if m != nil {
		m.actionsPublished.Inc()
	}
}

func (m *Metrics) lagged(task string, n uint64) {
	if m != nil {
		m.laggedItems.WithLabelValues(task).Add(float64(n))
	}
}

func (m *Metrics) executorFailed() {
	if m != nil {
		m.executorErrors.Inc()
	}
}

// track marks a task of kind as running and returns the func that marks it
// stopped.
func (m *Metrics) track(kind TaskKind) func() {
	if m == nil {
		return func() {}
	}
	g := m.tasksRunning.WithLabelValues(string(kind))
	g.Inc()
	return g.Dec
}

func (m *Metrics) taskExited(res TaskResult) {
	if m == nil {
		return
	}
	if res.Err != nil {
		m.taskErrors.WithLabelValues(string(res.Kind)).Inc()
	}
}
