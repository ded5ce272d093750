package runner

import (
	"time"

	"github.com/botsurge/botsurge/internal/metrics"
	"github.com/botsurge/botsurge/internal/threshold"
)

// Status is the overall outcome of a run.
type Status string

const (
	StatusCompleted      Status = "completed"
	StatusAbortedBySLA   Status = "aborted_by_sla"
	StatusAbortedByError Status = "aborted_by_error"
)

// Built-in metric names. Check results additionally get one Rate metric
// each, named check_<name>.
const (
	MetricIterations        = "iterations"
	MetricErrors            = "errors"
	MetricErrorRate         = "error_rate"
	MetricIterationDuration = "iteration_duration"
	MetricRequestDuration   = "request_duration"
	MetricChecks            = "checks"
	MetricVUs               = "vus"

	checkMetricPrefix = "check_"
)

// RunResult is the final report of one run: every metric's aggregate, every
// threshold's outcome and the overall status. Threshold outcomes are
// recomputable from the embedded snapshot.
type RunResult struct {
	RunID      string                       `json:"run_id"`
	Status     Status                       `json:"status"`
	StartedAt  time.Time                    `json:"started_at"`
	Elapsed    time.Duration                `json:"elapsed"`
	Metrics    map[string]metrics.Aggregate `json:"metrics"`
	Thresholds []threshold.Outcome          `json:"thresholds"`
	// RawSamples holds the most recent raw samples when retention was
	// configured.
	RawSamples []metrics.Sample `json:"raw_samples,omitempty"`
}

// Passed reports whether the run completed with every threshold passing.
func (r *RunResult) Passed() bool {
	if r.Status != StatusCompleted {
		return false
	}
	for _, o := range r.Thresholds {
		if !o.Pass {
			return false
		}
	}
	return true
}
