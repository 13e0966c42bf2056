// Package services – domain metrics
//
// Prometheus collectors for the tool layer and the chat driver. Labels are
// bounded: tool names are a fixed set, outcomes are error kinds, and stages
// come from the conversation package.
package services

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	// toolCalls counts tool invocations by tool and outcome (ok or error kind).
	toolCalls = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tool_calls_total",
			Help: "Total number of tool invocations.",
		},
		[]string{"tool", "outcome"},
	)

	// toolLat records tool latency in seconds, including the audit write.
	toolLat = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "tool_call_duration_seconds",
			Help:    "Duration of tool invocations in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"tool"},
	)

	// toolAuditFailures counts audit rows that could not be written.
	toolAuditFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "tool_audit_failures_total",
			Help: "Tool calls whose audit row could not be persisted.",
		},
	)

	// chatTurns counts processed chat turns by resulting stage.
	chatTurns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_turns_total",
			Help: "Total number of chat turns by resulting stage.",
		},
		[]string{"stage"},
	)

	// guardrailDenials counts turns refused by the guardrail filter.
	guardrailDenials = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "guardrail_denials_total",
			Help: "Turns denied by the guardrail filter by category.",
		},
		[]string{"category"},
	)

	// sessionLockWait records how long turns waited for the session lock.
	sessionLockWait = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "session_lock_wait_seconds",
			Help:    "Time spent acquiring the per-session lock.",
			Buckets: []float64{.001, .005, .01, .05, .1, .25, .5, 1, 2.5, 5},
		},
	)
)

func init() {
	prometheus.MustRegister(toolCalls, toolLat, toolAuditFailures, chatTurns, guardrailDenials, sessionLockWait)
}

// outcomeLabel maps an error to a bounded label value.
func outcomeLabel(err error) string {
	if err == nil {
		return "ok"
	}
	switch Kind(err) {
	case ErrValidation:
		return "validation"
	case ErrNotFound:
		return "not_found"
	case ErrPolicyDenied:
		return "policy_denied"
	case ErrIdempotencyConflict:
		return "conflict"
	case ErrEvidenceRejected:
		return "evidence_rejected"
	case ErrGuardrailTriggered:
		return "guardrail"
	}
	if errors.Is(err, ErrSessionBusy) {
		return "busy"
	}
	return "system"
}

func observeTool(tool string, start time.Time, err error) {
	toolCalls.WithLabelValues(tool, outcomeLabel(err)).Inc()
	toolLat.WithLabelValues(tool).Observe(time.Since(start).Seconds())
}
