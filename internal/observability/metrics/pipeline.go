package metrics

import (
	"strconv"
	"strings"
	"sync"
	"time"
)

type pipelineMetrics struct {
	mu           sync.Mutex
	decisions    *counterVec
	stepFailures *counterVec
	auditCommits *counterVec
	runDuration  *histogramVec
}

var pipelineCollector = &pipelineMetrics{
	decisions: newCounterVec("policygate_decisions_total",
		"Total number of policy decisions by outcome."),
	stepFailures: newCounterVec("policygate_step_failures_total",
		"Total number of failed execution steps."),
	auditCommits: newCounterVec("policygate_audit_commits_total",
		"Final outcomes of audit ledger commits."),
	runDuration: newHistogramVec("policygate_run_duration_seconds",
		"Wall-clock duration of completed runs.",
		[]float64{0.1, 0.5, 1, 5, 15, 60, 300, 900}),
}

// ObserveDecision records a single policy decision.
func ObserveDecision(approved bool, violation string) {
	c := pipelineCollector
	c.mu.Lock()
	defer c.mu.Unlock()
	c.decisions.inc(labels("approved", strconv.FormatBool(approved), "violation", violation))
}

// ObserveStepFailure records a failed execution step.
func ObserveStepFailure(step string) {
	c := pipelineCollector
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stepFailures.inc(labels("step", step))
}

// ObserveAuditCommit records the final outcome of an audit commit.
func ObserveAuditCommit(success bool) {
	c := pipelineCollector
	c.mu.Lock()
	defer c.mu.Unlock()
	result := "success"
	if !success {
		result = "failure"
	}
	c.auditCommits.inc(labels("result", result))
}

// ObserveRun records the wall-clock duration of a completed run.
func ObserveRun(duration time.Duration) {
	c := pipelineCollector
	c.mu.Lock()
	defer c.mu.Unlock()
	c.runDuration.observe("", duration.Seconds())
}

func (c *pipelineMetrics) render() string {
	c.mu.Lock()
	defer c.mu.Unlock()

	var b strings.Builder
	b.Grow(512)
	c.decisions.write(&b)
	c.stepFailures.write(&b)
	c.auditCommits.write(&b)
	c.runDuration.write(&b)
	return b.String()
}
