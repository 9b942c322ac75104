package metrics

import (
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/storyloom/storyloom/pkg/models"
)

var (
	modelCallDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "storyloom_model_call_duration_seconds",
			Help:    "Model call duration in seconds by model",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 12), // 0.5s to ~2000s
		},
		[]string{"model", "status"},
	)

	retriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "storyloom_retries_total",
			Help: "Total number of model call retries",
		},
		[]string{"model"},
	)

	toolExecutionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "storyloom_tool_executions_total",
			Help: "Total number of tool executions by tool and outcome",
		},
		[]string{"tool", "status"},
	)

	iterationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "storyloom_iterations_total",
			Help: "Total workflow iterations by phase",
		},
		[]string{"phase"},
	)

	compressionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "storyloom_compressions_total",
			Help: "Total context compressions by outcome",
		},
		[]string{"status"},
	)

	currentPhase = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "storyloom_current_phase",
			Help: "Current workflow phase as an ordinal (0=PLANNING .. 4=COMPLETE)",
		},
		[]string{"project"},
	)
)

// Collector provides convenience methods for recording metrics
type Collector struct {
	logger *slog.Logger
}

// NewCollector creates a new metrics collector
func NewCollector(logger *slog.Logger) *Collector {
	return &Collector{logger: logger}
}

// RecordModelCall records a model call duration
func (c *Collector) RecordModelCall(model string, duration time.Duration, success bool) {
	status := "success"
	if !success {
		status = "error"
	}
	modelCallDuration.WithLabelValues(model, status).Observe(duration.Seconds())
}

// RecordRetry increments the retry counter
func (c *Collector) RecordRetry(model string) {
	retriesTotal.WithLabelValues(model).Inc()
}

// RecordToolExecution records one tool execution
func (c *Collector) RecordToolExecution(tool string, success bool) {
	status := "success"
	if !success {
		status = "error"
	}
	toolExecutionsTotal.WithLabelValues(tool, status).Inc()
}

// RecordIteration increments the iteration counter for a phase
func (c *Collector) RecordIteration(phase models.Phase) {
	iterationsTotal.WithLabelValues(string(phase)).Inc()
}

// RecordCompression records a compression attempt
func (c *Collector) RecordCompression(success bool) {
	status := "success"
	if !success {
		status = "error"
	}
	compressionsTotal.WithLabelValues(status).Inc()
}

// SetCurrentPhase updates the phase gauge for a project
func (c *Collector) SetCurrentPhase(project string, phase models.Phase) {
	for i, p := range models.AllPhases {
		if p == phase {
			currentPhase.WithLabelValues(project).Set(float64(i))
			return
		}
	}
}
