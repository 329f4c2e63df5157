// Package metrics exposes archive statistics and the active session's step
// counts as Prometheus gauges, for a node-exporter textfile collector.
package metrics

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/prometheus/client_golang/prometheus"

	schemasession "github.com/davidahmann/harness/core/schema/v1/session"
	"github.com/davidahmann/harness/core/session"
)

const namespace = "harness"

type Collector struct {
	registry *prometheus.Registry

	sessions      *prometheus.GaugeVec
	avgDuration   prometheus.Gauge
	avgSteps      prometheus.Gauge
	avgIterations prometheus.Gauge
	avgRetries    prometheus.Gauge
	regressions   prometheus.Gauge
	tokensSaved   prometheus.Gauge
	costSaved     prometheus.Gauge

	activeSteps     *prometheus.GaugeVec
	activeSuspended prometheus.Gauge
	activeIteration prometheus.Gauge
}

func NewCollector() *Collector {
	gauge := func(name, help string) prometheus.Gauge {
		return prometheus.NewGauge(prometheus.GaugeOpts{Namespace: namespace, Name: name, Help: help})
	}
	c := &Collector{
		registry: prometheus.NewRegistry(),
		sessions: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "archived_sessions",
			Help:      "Archived sessions in history by final status",
		}, []string{"final_status"}),
		avgDuration:   gauge("archived_session_duration_seconds_avg", "Average archived session duration in seconds"),
		avgSteps:      gauge("archived_session_steps_avg", "Average steps per archived session"),
		avgIterations: gauge("archived_session_iterations_avg", "Average iterations per archived session"),
		avgRetries:    gauge("archived_session_retries_avg", "Average retries per archived session"),
		regressions:   gauge("archived_regressions", "Regressions recorded across archived sessions"),
		tokensSaved:   gauge("archived_tokens_saved", "Tokens saved across archived sessions"),
		costSaved:     gauge("archived_cost_saved", "Cost saved across archived sessions"),
		activeSteps: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_steps",
			Help:      "Steps of the active session by status",
		}, []string{"status"}),
		activeSuspended: gauge("active_suspended", "1 while the active session is suspended"),
		activeIteration: gauge("active_iteration", "Iteration counter of the active session"),
	}
	c.registry.MustRegister(
		c.sessions, c.avgDuration, c.avgSteps, c.avgIterations, c.avgRetries,
		c.regressions, c.tokensSaved, c.costSaved,
		c.activeSteps, c.activeSuspended, c.activeIteration,
	)
	return c
}

func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

func (c *Collector) ObserveStats(stats schemasession.Stats) {
	c.sessions.WithLabelValues(schemasession.FinalCompleted).Set(float64(stats.Completed))
	c.sessions.WithLabelValues(schemasession.FinalFailed).Set(float64(stats.Failed))
	c.sessions.WithLabelValues(schemasession.FinalCancelled).Set(float64(stats.Cancelled))
	c.avgDuration.Set(stats.AvgDurationSeconds)
	c.avgSteps.Set(stats.AvgSteps)
	c.avgIterations.Set(stats.AvgIterations)
	c.avgRetries.Set(stats.AvgRetries)
	c.regressions.Set(float64(stats.TotalRegressions))
	c.tokensSaved.Set(float64(stats.TokensSaved))
	c.costSaved.Set(stats.CostSaved)
}

// ObserveActive records the active session. A nil session zeroes the gauges.
func (c *Collector) ObserveActive(current *schemasession.Session) {
	var counts session.StatusCounts
	suspended, iteration := 0.0, 0.0
	if current != nil {
		counts = session.Counts(current)
		if session.IsSuspended(current) {
			suspended = 1
		}
		iteration = float64(current.Execution.Iteration)
	}
	for status, value := range map[schemasession.StepStatus]int{
		schemasession.StatusPending:    counts.Pending,
		schemasession.StatusInProgress: counts.InProgress,
		schemasession.StatusCompleted:  counts.Completed,
		schemasession.StatusFailed:     counts.Failed,
		schemasession.StatusSkipped:    counts.Skipped,
		schemasession.StatusSuspended:  counts.Suspended,
	} {
		c.activeSteps.WithLabelValues(string(status)).Set(float64(value))
	}
	c.activeSuspended.Set(suspended)
	c.activeIteration.Set(iteration)
}

// WriteTextfile writes every gauge to path in the text exposition format.
func (c *Collector) WriteTextfile(path string) error {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return fmt.Errorf("create textfile directory: %w", err)
		}
	}
	if err := prometheus.WriteToTextfile(path, c.registry); err != nil {
		return fmt.Errorf("write textfile: %w", err)
	}
	return nil
}
