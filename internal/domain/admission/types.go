// Package admission implements the request admission pipeline: every
// tools/call passes through authentication, argument validation,
// admission rules and the two rate-limit tiers before a handler runs.
package admission

import (
	"time"

	"github.com/fullstorydev/fs-lexicon-sub001/internal/domain/auth"
	"github.com/fullstorydev/fs-lexicon-sub001/internal/domain/ratelimit"
	"github.com/fullstorydev/fs-lexicon-sub001/internal/domain/validation"
)

// State is a position in the admission state machine.
//
//	Received → Authenticated → Validated → RateChecked → Dispatched
//	               └───────────────┴────────────┴─────→ Rejected
type State int

const (
	// StateReceived is the initial state.
	StateReceived State = iota
	// StateAuthenticated means the bearer token was accepted (or the
	// auth stage is disabled).
	StateAuthenticated
	// StateValidated means schema and sanitization passed.
	StateValidated
	// StateRateChecked means both rate tiers admitted the call.
	StateRateChecked
	// StateDispatched means the tool handler ran.
	StateDispatched
	// StateRejected is terminal for any denied call.
	StateRejected
)

// String returns the stage name used in logs and audit records.
func (s State) String() string {
	switch s {
	case StateReceived:
		return "received"
	case StateAuthenticated:
		return "authenticated"
	case StateValidated:
		return "validated"
	case StateRateChecked:
		return "rate_checked"
	case StateDispatched:
		return "dispatched"
	case StateRejected:
		return "rejected"
	default:
		return "unknown"
	}
}

// RejectKind classifies a rejection for response mapping.
type RejectKind int

const (
	// RejectAuth maps to HTTP 401 with a WWW-Authenticate challenge.
	RejectAuth RejectKind = iota
	// RejectValidation maps to an in-protocol isError result carrying
	// the aggregated error list.
	RejectValidation
	// RejectPolicy means an admission rule denied the call.
	RejectPolicy
	// RejectRateLimit maps to HTTP 429 (category tier) or an
	// in-protocol retry message (tool tier).
	RejectRateLimit
	// RejectSafeMode means safe mode hides the requested tool.
	RejectSafeMode
)

// String returns the kind name used in logs and metrics labels.
func (k RejectKind) String() string {
	switch k {
	case RejectAuth:
		return "auth"
	case RejectValidation:
		return "validation"
	case RejectPolicy:
		return "policy"
	case RejectRateLimit:
		return "rate_limit"
	case RejectSafeMode:
		return "safe_mode"
	default:
		return "unknown"
	}
}

// Request is one tools/call presented for admission.
type Request struct {
	// ID correlates the request across logs and audit records.
	ID string
	// Tool is the requested tool name.
	Tool string
	// Category overrides the registry's category mapping when set.
	Category string
	// ClientID keys the rate buckets: authenticated subject when
	// available, else transport identity (real IP, or "local" on stdio).
	ClientID string
	// Args is the raw argument bag from the wire.
	Args map[string]any
	// BearerToken is the raw credential; empty when the transport
	// carries none.
	BearerToken string
	// Time is when the request was received.
	Time time.Time
}

// Rejection describes a denied call.
type Rejection struct {
	// Kind selects the response mapping.
	Kind RejectKind
	// Tier distinguishes category-tier from tool-tier rate denials.
	// Only set for RejectRateLimit.
	Tier ratelimit.KeyKind
	// Message is the client-facing summary.
	Message string
	// Errors is the aggregated validation error list.
	Errors []string
	// RetryAfter is how long until the rate window resets.
	RetryAfter time.Duration
	// WWWAuthenticate is the challenge for 401 responses.
	WWWAuthenticate string
}

// Outcome is the result of running a request through the pipeline.
type Outcome struct {
	// State is StateRateChecked for admitted calls and StateRejected
	// otherwise. The dispatcher advances it to StateDispatched after
	// the handler runs.
	State State
	// Stage is the last stage the request reached, for audit records.
	Stage string
	// Category is the resolved tool category; set once validation ran.
	Category string
	// ClientID is the effective rate identity: the authenticated
	// subject when available, else the transport identity.
	ClientID string
	// Claims is the validated token; nil when auth is disabled.
	Claims *auth.Claims
	// Sanitized is the argument bag handlers must receive.
	Sanitized map[string]any
	// Warnings are non-blocking sanitizer findings.
	Warnings []validation.Issue
	// Rejection is set iff State is StateRejected.
	Rejection *Rejection
	// RateInfo is the category-tier decision when the limiter was
	// consulted; transports surface it as X-RateLimit headers.
	RateInfo *ratelimit.Decision
	// RateWindow is the span of the category window behind RateInfo.
	RateWindow time.Duration
}

// Admitted reports whether the call may be dispatched.
func (o *Outcome) Admitted() bool {
	return o.State != StateRejected
}
