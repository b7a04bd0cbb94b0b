package trigger

import "github.com/prometheus/client_golang/prometheus"

// Metrics is the Prometheus instrumentation for triggers.
// A nil *Metrics records nothing.
type Metrics struct {
	triggers *prometheus.CounterVec
	running  prometheus.Gauge
}

// NewMetrics creates the trigger metrics and registers them with reg.
// A nil reg leaves them unregistered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		triggers: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "billsync",
				Subsystem: "trigger",
				Name:      "triggers_total",
				Help:      "Total reconciliation triggers by source and result",
			},
			[]string{"source", "result"},
		),
		running: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "billsync",
				Subsystem: "trigger",
				Name:      "pass_running",
				Help:      "1 while a reconciliation pass is running in this process",
			},
		),
	}
	if reg != nil {
		reg.MustRegister(m.triggers, m.running)
	}
	return m
}

func (m *Metrics) trigger(source Source, result string) {
	if m == nil {
		return
	}
	m.triggers.WithLabelValues(string(source), result).Inc()
}

func (m *Metrics) setRunning(on bool) {
	if m == nil {
		return
	}
	if on {
		m.running.Set(1)
		return
	}
	m.running.Set(0)
}
