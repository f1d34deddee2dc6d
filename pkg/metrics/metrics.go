// Package metrics exposes runner and poller telemetry as Prometheus metrics
// on a private registry. The CLI writes the registry out in node_exporter
// textfile format; library callers can serve Registry() themselves.
package metrics

import (
	"bytes"
	"fmt"
	"time"

	"opsrun/pkg/system"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/common/expfmt"
)

const namespace = "opsrun"

// Collector implements both process.Recorder and poller.Recorder.
type Collector struct {
	registry *prometheus.Registry

	executions        *prometheus.CounterVec
	executionDuration *prometheus.HistogramVec
	pollSessions      *prometheus.CounterVec
	pollQueries       *prometheus.CounterVec
	pollDuration      *prometheus.HistogramVec
	lastFinish        prometheus.Gauge
}

func New() *Collector {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Collector{
		registry: reg,
		executions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "process",
				Name:      "executions_total",
				Help:      "Finished command executions by program and outcome.",
			},
			[]string{"program", "outcome"},
		),
		executionDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "process",
				Name:      "execution_duration_seconds",
				Help:      "Wall-clock duration of command executions.",
				Buckets:   []float64{0.01, 0.1, 0.5, 1, 5, 30, 60, 300, 1800, 3600},
			},
			[]string{"program"},
		),
		pollSessions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "poll",
				Name:      "sessions_total",
				Help:      "Finished poll sessions by name and final state.",
			},
			[]string{"name", "state"},
		),
		pollQueries: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "poll",
				Name:      "queries_total",
				Help:      "Status queries issued by poll sessions.",
			},
			[]string{"name"},
		),
		pollDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "poll",
				Name:      "session_duration_seconds",
				Help:      "Time from session start to its final state.",
				Buckets:   []float64{1, 10, 60, 300, 900, 1800, 3600, 4 * 3600, 8 * 3600},
			},
			[]string{"name"},
		),
		lastFinish: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "last_finish_timestamp_seconds",
				Help:      "Unix time of the most recent finished execution or poll session.",
			},
		),
	}
}

func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

func (c *Collector) ObserveExecution(program, outcome string, duration time.Duration) {
	program = label(program)
	c.executions.WithLabelValues(program, outcome).Inc()
	c.executionDuration.WithLabelValues(program).Observe(duration.Seconds())
	c.lastFinish.SetToCurrentTime()
}

func (c *Collector) ObservePoll(name, state string, queries int, elapsed time.Duration) {
	name = label(name)
	c.pollSessions.WithLabelValues(name, state).Inc()
	c.pollQueries.WithLabelValues(name).Add(float64(queries))
	c.pollDuration.WithLabelValues(name).Observe(elapsed.Seconds())
	c.lastFinish.SetToCurrentTime()
}

// WriteTextfile renders every metric in the text exposition format and
// writes it atomically to path on system.AppFs, for the node_exporter
// textfile collector.
func (c *Collector) WriteTextfile(path string) error {
	mfs, err := c.registry.Gather()
	if err != nil {
		return fmt.Errorf("write metrics textfile %s: %w", path, err)
	}
	var buf bytes.Buffer
	for _, mf := range mfs {
		if _, err := expfmt.MetricFamilyToText(&buf, mf); err != nil {
			return fmt.Errorf("write metrics textfile %s: %w", path, err)
		}
	}
	if err := system.WriteFileAtomic(path, buf.Bytes(), 0644); err != nil {
		return fmt.Errorf("write metrics textfile %s: %w", path, err)
	}
	return nil
}

func label(v string) string {
	if v == "" {
		return "unnamed"
	}
	return v
}
