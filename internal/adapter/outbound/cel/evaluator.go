// Package cel compiles admission rule conditions with cel-go. It is the
// policy.ConditionCompiler implementation used in production.
package cel

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/cel-go/cel"

	"github.com/fullstorydev/fs-lexicon-sub001/internal/domain/policy"
)

// maxExpressionLength caps the source length of a rule condition.
const maxExpressionLength = 1024

// maxCostBudget is the CEL runtime cost limit per evaluation.
const maxCostBudget = 100_000

// maxNestingDepth caps parenthesis/bracket/brace nesting in conditions.
const maxNestingDepth = 50

// evalTimeout bounds a single condition evaluation.
const evalTimeout = 5 * time.Second

// interruptCheckFreq is how often (in comprehension iterations) context
// cancellation is checked during evaluation.
const interruptCheckFreq = 100

// Compiler builds evaluable programs from CEL condition sources.
type Compiler struct {
	env *cel.Env
}

var _ policy.ConditionCompiler = (*Compiler)(nil)

// NewCompiler creates a compiler whose environment exposes the request
// view rule conditions operate on: tool, category, client_id, args and
// scopes.
func NewCompiler() (*Compiler, error) {
	env, err := cel.NewEnv(
		cel.Variable("tool", cel.StringType),
		cel.Variable("category", cel.StringType),
		cel.Variable("client_id", cel.StringType),
		cel.Variable("args", cel.MapType(cel.StringType, cel.DynType)),
		cel.Variable("scopes", cel.ListType(cel.StringType)),
	)
	if err != nil {
		return nil, fmt.Errorf("create condition environment: %w", err)
	}
	return &Compiler{env: env}, nil
}

// Compile parses, type-checks and plans one condition expression. The
// length and nesting limits reject pathological inputs before cel-go
// sees them.
func (c *Compiler) Compile(expression string) (policy.CompiledCondition, error) {
	if expression == "" {
		return nil, errors.New("condition is empty")
	}
	if len(expression) > maxExpressionLength {
		return nil, fmt.Errorf("condition too long: %d characters (max %d)", len(expression), maxExpressionLength)
	}
	if err := validateNesting(expression); err != nil {
		return nil, err
	}

	ast, issues := c.env.Compile(expression)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("compile condition: %w", issues.Err())
	}
	if ast.OutputType() != cel.BoolType {
		return nil, fmt.Errorf("condition must return bool, got %s", ast.OutputType())
	}

	prg, err := c.env.Program(ast,
		cel.EvalOptions(cel.OptOptimize),
		cel.CostLimit(maxCostBudget),
		cel.InterruptCheckFrequency(interruptCheckFreq),
	)
	if err != nil {
		return nil, fmt.Errorf("plan condition: %w", err)
	}
	return &condition{prg: prg}, nil
}

// validateNesting checks that the expression does not exceed the maximum
// allowed nesting depth for parentheses, brackets and braces.
func validateNesting(expr string) error {
	var depth, maxDepth int
	for _, ch := range expr {
		switch ch {
		case '(', '[', '{':
			depth++
			if depth > maxDepth {
				maxDepth = depth
			}
		case ')', ']', '}':
			depth--
		}
	}
	if maxDepth > maxNestingDepth {
		return fmt.Errorf("condition nesting too deep: %d levels (max %d)", maxDepth, maxNestingDepth)
	}
	return nil
}

type condition struct {
	prg cel.Program
}

// Eval runs the program against one request. ContextEval with a timeout
// prevents an adversarial condition from stalling admission.
func (c *condition) Eval(ctx context.Context, in policy.Input) (bool, error) {
	args := in.Args
	if args == nil {
		args = map[string]any{}
	}
	scopes := in.Scopes
	if scopes == nil {
		scopes = []string{}
	}
	activation := map[string]any{
		"tool":      in.Tool,
		"category":  in.Category,
		"client_id": in.ClientID,
		"args":      args,
		"scopes":    scopes,
	}

	evalCtx, cancel := context.WithTimeout(ctx, evalTimeout)
	defer cancel()

	result, _, err := c.prg.ContextEval(evalCtx, activation)
	if err != nil {
		return false, fmt.Errorf("evaluate condition: %w", err)
	}
	verdict, ok := result.Value().(bool)
	if !ok {
		return false, fmt.Errorf("condition returned %T, want bool", result.Value())
	}
	return verdict, nil
}
