// Package policy contains the CEL admission rules evaluated between
// argument validation and the rate checks.
package policy

import "context"

// Action is the result of a matching rule.
type Action string

const (
	// ActionAllow admits the request.
	ActionAllow Action = "allow"
	// ActionDeny rejects the request.
	ActionDeny Action = "deny"
)

// Rule is one admission rule: a tool-name glob plus a CEL condition.
// Rules are evaluated in file order; the first rule whose glob and
// condition both match decides the request.
type Rule struct {
	// Name identifies the rule in logs and denial reasons.
	Name string
	// ToolMatch is a glob pattern over tool names (e.g. "warehouse_*").
	ToolMatch string
	// Condition is a CEL expression over the request; empty means
	// "always true".
	Condition string
	// Action is applied when the rule matches.
	Action Action
}

// Input is the request view exposed to rule conditions.
type Input struct {
	// Tool is the requested tool name.
	Tool string
	// Category is the tool's validation category.
	Category string
	// ClientID identifies the caller for rate-limiting purposes.
	ClientID string
	// Args is the sanitized argument bag.
	Args map[string]any
	// Scopes holds the authenticated token's scopes; empty when
	// authentication is disabled.
	Scopes []string
}

// Decision is the outcome of evaluating the rules for one request.
type Decision struct {
	// Allowed is false only when a deny rule matched or a rule failed
	// closed.
	Allowed bool
	// RuleName names the deciding rule; empty when no rule matched.
	RuleName string
	// Reason explains a denial for logs and the client-facing message.
	Reason string
}

// CompiledCondition is a rule condition ready for evaluation.
type CompiledCondition interface {
	Eval(ctx context.Context, in Input) (bool, error)
}

// ConditionCompiler turns a CEL source expression into an evaluable
// program. Implemented by the cel adapter; the domain stays free of the
// evaluator dependency.
type ConditionCompiler interface {
	Compile(expression string) (CompiledCondition, error)
}
