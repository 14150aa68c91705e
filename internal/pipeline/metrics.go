package pipeline

import (
	"os"
	"path/filepath"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds per-step instrumentation. A nil *Metrics records nothing.
type Metrics struct {
	reg      *prometheus.Registry
	steps    *prometheus.CounterVec
	duration *prometheus.HistogramVec
	lastRun  prometheus.Gauge
}

// NewMetrics returns metrics registered on a private registry so repeated
// runs in one process never collide.
func NewMetrics() *Metrics {
	m := &Metrics{
		reg: prometheus.NewRegistry(),
		steps: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "persona",
				Subsystem: "install",
				Name:      "steps_total",
				Help:      "Install steps executed, by outcome",
			},
			[]string{"step", "outcome"},
		),
		duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "persona",
				Subsystem: "install",
				Name:      "step_duration_seconds",
				Help:      "Duration of install steps in seconds",
				Buckets:   []float64{0.01, 0.1, 1, 5, 30, 120, 600, 1800},
			},
			[]string{"step"},
		),
		lastRun: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "persona",
			Subsystem: "install",
			Name:      "last_run_timestamp_seconds",
			Help:      "Unix time the last install run finished",
		}),
	}
	m.reg.MustRegister(m.steps, m.duration, m.lastRun)
	return m
}

// Registry exposes the underlying registry for serving or gathering.
func (m *Metrics) Registry() *prometheus.Registry { return m.reg }

// Steps is the step counter, labelled by step and outcome.
func (m *Metrics) Steps() *prometheus.CounterVec { return m.steps }

func (m *Metrics) observe(r Result) {
	if m == nil {
		return
	}
	outcome := "ok"
	if r.Err != nil {
		outcome = "failed"
	}
	m.steps.WithLabelValues(r.Step, outcome).Inc()
	m.duration.WithLabelValues(r.Step).Observe(r.Duration.Seconds())
}

// WriteTextfile stamps the run time and writes the registry in the
// node_exporter textfile format. An empty path is a no-op.
func (m *Metrics) WriteTextfile(path string) error {
	if m == nil || path == "" {
		return nil
	}
	m.lastRun.SetToCurrentTime()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return prometheus.WriteToTextfile(path, m.reg)
}
