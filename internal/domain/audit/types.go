// Package audit contains the admission decision log: one record per
// tool call attempt, whether it was admitted or rejected.
package audit

import "time"

// Decision values for audit records.
const (
	// DecisionAdmitted means the call passed every admission stage.
	DecisionAdmitted = "admitted"
	// DecisionRejected means an admission stage denied the call.
	DecisionRejected = "rejected"
)

// Record captures the outcome of one admission attempt.
type Record struct {
	// Time is when the decision was made.
	Time time.Time `json:"time"`
	// RequestID correlates the record with transport logs.
	RequestID string `json:"request_id"`
	// Tool is the requested tool name.
	Tool string `json:"tool"`
	// Category is the tool's validation category.
	Category string `json:"category"`
	// ClientID identifies the caller.
	ClientID string `json:"client_id"`
	// Decision is DecisionAdmitted or DecisionRejected.
	Decision string `json:"decision"`
	// Stage is the terminal pipeline stage (e.g. "auth", "validation",
	// "rules", "rate_category", "rate_tool", "dispatch").
	Stage string `json:"stage"`
	// Reason explains a rejection; empty for admitted calls.
	Reason string `json:"reason,omitempty"`
	// Warnings counts sanitizer warnings attached to the call.
	Warnings int `json:"warnings"`
	// LatencyMicros is the admission pipeline latency in microseconds.
	LatencyMicros int64 `json:"latency_micros"`
}
