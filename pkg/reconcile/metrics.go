package reconcile

import "github.com/prometheus/client_golang/prometheus"

// Metrics is the Prometheus instrumentation for reconciliation passes.
// A nil *Metrics records nothing.
type Metrics struct {
	passes      *prometheus.CounterVec
	duration    prometheus.Histogram
	actions     *prometheus.CounterVec
	ledgerSize  prometheus.Gauge
	mirrorSize  prometheus.Gauge
	unresolved  prometheus.Gauge
	lastSuccess prometheus.Gauge
}

// NewMetrics creates the pass metrics and registers them with reg.
// A nil reg leaves them unregistered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		passes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "billsync",
				Subsystem: "reconcile",
				Name:      "passes_total",
				Help:      "Total reconciliation passes by outcome",
			},
			[]string{"outcome"},
		),
		duration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: "billsync",
				Subsystem: "reconcile",
				Name:      "pass_duration_seconds",
				Help:      "Duration of reconciliation passes",
				Buckets:   []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120, 300, 600},
			},
		),
		actions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "billsync",
				Subsystem: "reconcile",
				Name:      "actions_total",
				Help:      "Total repair actions by kind and result",
			},
			[]string{"action", "result"},
		),
		ledgerSize: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "billsync",
				Subsystem: "reconcile",
				Name:      "ledger_subscriptions",
				Help:      "Ledger subscriptions retrieved by the last pass",
			},
		),
		mirrorSize: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "billsync",
				Subsystem: "reconcile",
				Name:      "mirror_subscriptions",
				Help:      "Mirror subscriptions examined by the last pass",
			},
		),
		unresolved: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "billsync",
				Subsystem: "reconcile",
				Name:      "ledger_unresolved",
				Help:      "Ledger subscriptions the last pass could not retrieve",
			},
		),
		lastSuccess: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "billsync",
				Subsystem: "reconcile",
				Name:      "last_success_timestamp_seconds",
				Help:      "Unix time of the last pass that finished without failures",
			},
		),
	}

	if reg != nil {
		reg.MustRegister(m.passes, m.duration, m.actions, m.ledgerSize, m.mirrorSize, m.unresolved, m.lastSuccess)
	}
	return m
}

func (m *Metrics) observe(r *Report) {
	if m == nil {
		return
	}
	m.passes.WithLabelValues(string(r.Outcome)).Inc()
	m.duration.Observe(r.DurationSeconds)
	if r.Outcome == OutcomeFailed {
		return
	}

	m.ledgerSize.Set(float64(r.Plan.Ledger))
	m.mirrorSize.Set(float64(r.Plan.Mirror))
	m.unresolved.Set(float64(r.Plan.Unresolved))
	for _, a := range r.Actions {
		m.actions.WithLabelValues(string(a.Action), string(a.Result)).Inc()
	}
	if r.Outcome == OutcomeSuccess {
		m.lastSuccess.Set(float64(r.FinishedAt.Unix()))
	}
}
