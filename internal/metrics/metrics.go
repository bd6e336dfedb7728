package metrics

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"

	"powerlog/internal/models"
)

const namespace = "powerlog"

// Metrics holds the collectors describing conversion runs.
type Metrics struct {
	registry *prometheus.Registry

	RowsTotal    prometheus.Counter
	RunsTotal    *prometheus.CounterVec // labels: result
	RunDuration  prometheus.Gauge
	LogSpan      prometheus.Gauge
	LastSuccess  prometheus.Gauge
	VoltageRange *prometheus.GaugeVec // labels: bound
	CurrentRange *prometheus.GaugeVec // labels: bound
	AnchoredRuns prometheus.Counter
}

// New creates and registers all collectors on a private registry.
func New() *Metrics {
	m := &Metrics{
		RowsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rows_converted_total",
			Help:      "CSV rows written",
		}),
		RunsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Conversion runs by result",
		}, []string{"result"}),
		RunDuration: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "run_duration_seconds",
			Help:      "Wall time of the last conversion",
		}),
		LogSpan: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "log_span_seconds",
			Help:      "Time covered by the samples of the last conversion",
		}),
		LastSuccess: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_success_timestamp_seconds",
			Help:      "Unix time of the last successful conversion",
		}),
		VoltageRange: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "voltage_volts",
			Help:      "Voltage range of the last conversion",
		}, []string{"bound"}),
		CurrentRange: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "current_milliamps",
			Help:      "Current range of the last conversion",
		}, []string{"bound"}),
		AnchoredRuns: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "anchored_runs_total",
			Help:      "Runs whose timestamps were anchored to the file name time",
		}),
	}

	m.registry = prometheus.NewRegistry()
	m.registry.MustRegister(
		m.RowsTotal,
		m.RunsTotal,
		m.RunDuration,
		m.LogSpan,
		m.LastSuccess,
		m.VoltageRange,
		m.CurrentRange,
		m.AnchoredRuns,
	)
	return m
}

// Registry exposes the registry for gathering.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// ObserveRun records the outcome of one conversion.
func (m *Metrics) ObserveRun(summary models.RunSummary, elapsed time.Duration) {
	m.RowsTotal.Add(float64(summary.Rows))
	m.RunDuration.Set(elapsed.Seconds())
	if summary.Anchored {
		m.AnchoredRuns.Inc()
	}

	if summary.Failed {
		m.RunsTotal.WithLabelValues("failed").Inc()
		return
	}
	m.RunsTotal.WithLabelValues("success").Inc()
	m.LastSuccess.Set(float64(summary.ConvertedAt.Unix()))
	m.LogSpan.Set(summary.Duration().Seconds())

	if summary.Rows > 0 {
		m.VoltageRange.WithLabelValues("min").Set(float64(summary.VoltageMin))
		m.VoltageRange.WithLabelValues("max").Set(float64(summary.VoltageMax))
		m.CurrentRange.WithLabelValues("min").Set(float64(summary.CurrentMin))
		m.CurrentRange.WithLabelValues("max").Set(float64(summary.CurrentMax))
	}
}

// Push sends the collected metrics to a Pushgateway under job, grouped by run.
func (m *Metrics) Push(ctx context.Context, url, job, runID string) error {
	pusher := push.New(url, job).Gatherer(m.registry)
	if runID != "" {
		pusher = pusher.Grouping("run", runID)
	}
	if err := pusher.PushContext(ctx); err != nil {
		return fmt.Errorf("metrics: push: %w", err)
	}
	return nil
}

// WriteTextfile writes the metrics in the node_exporter textfile format.
func (m *Metrics) WriteTextfile(path string) error {
	if err := prometheus.WriteToTextfile(path, m.registry); err != nil {
		return fmt.Errorf("metrics: textfile: %w", err)
	}
	return nil
}
