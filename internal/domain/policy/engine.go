package policy

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path"

	"gopkg.in/yaml.v3"
)

// Engine evaluates the loaded admission rules. An engine with no rules
// allows everything; the admission pipeline skips the stage entirely in
// that case.
type Engine struct {
	rules  []compiledRule
	logger *slog.Logger
}

type compiledRule struct {
	rule      Rule
	condition CompiledCondition // nil means unconditionally true
}

type ruleDoc struct {
	Rules []struct {
		Name      string `yaml:"name"`
		ToolMatch string `yaml:"tool_match"`
		Condition string `yaml:"condition"`
		Action    string `yaml:"action"`
	} `yaml:"rules"`
}

// NewEngine creates an engine over pre-built rules, compiling each
// condition. Compile failures are configuration errors surfaced at
// startup.
func NewEngine(rules []Rule, compiler ConditionCompiler, logger *slog.Logger) (*Engine, error) {
	e := &Engine{logger: logger}
	for i, r := range rules {
		if r.Name == "" {
			return nil, fmt.Errorf("admission rule %d has no name", i)
		}
		if r.ToolMatch == "" {
			return nil, fmt.Errorf("admission rule %q has no tool_match", r.Name)
		}
		if _, err := path.Match(r.ToolMatch, "probe"); err != nil {
			return nil, fmt.Errorf("admission rule %q: invalid tool_match %q: %w", r.Name, r.ToolMatch, err)
		}
		switch r.Action {
		case ActionAllow, ActionDeny:
		default:
			return nil, fmt.Errorf("admission rule %q: invalid action %q", r.Name, r.Action)
		}
		cr := compiledRule{rule: r}
		if r.Condition != "" {
			cond, err := compiler.Compile(r.Condition)
			if err != nil {
				return nil, fmt.Errorf("admission rule %q: %w", r.Name, err)
			}
			cr.condition = cond
		}
		e.rules = append(e.rules, cr)
	}
	return e, nil
}

// LoadEngineFile reads a YAML rules file and builds an engine from it.
func LoadEngineFile(rulesPath string, compiler ConditionCompiler, logger *slog.Logger) (*Engine, error) {
	data, err := os.ReadFile(rulesPath)
	if err != nil {
		return nil, fmt.Errorf("read admission rules: %w", err)
	}
	var doc ruleDoc
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse admission rules: %w", err)
	}
	rules := make([]Rule, 0, len(doc.Rules))
	for _, r := range doc.Rules {
		rules = append(rules, Rule{
			Name:      r.Name,
			ToolMatch: r.ToolMatch,
			Condition: r.Condition,
			Action:    Action(r.Action),
		})
	}
	return NewEngine(rules, compiler, logger)
}

// Empty reports whether the engine holds no rules.
func (e *Engine) Empty() bool {
	return len(e.rules) == 0
}

// Evaluate applies the rules in order; the first rule whose glob and
// condition both match wins. No match allows the request. A condition
// evaluation error fails CLOSED for that rule: the request is denied with
// a logged warning, because an unevaluable security rule must not be
// silently skipped.
func (e *Engine) Evaluate(ctx context.Context, in Input) Decision {
	for _, cr := range e.rules {
		if ok, _ := path.Match(cr.rule.ToolMatch, in.Tool); !ok {
			continue
		}
		matched := true
		if cr.condition != nil {
			var err error
			matched, err = cr.condition.Eval(ctx, in)
			if err != nil {
				e.logger.Warn("admission rule evaluation failed, denying",
					"rule", cr.rule.Name,
					"tool", in.Tool,
					"error", err,
				)
				return Decision{
					Allowed:  false,
					RuleName: cr.rule.Name,
					Reason:   fmt.Sprintf("admission rule %q could not be evaluated", cr.rule.Name),
				}
			}
		}
		if !matched {
			continue
		}
		if cr.rule.Action == ActionDeny {
			return Decision{
				Allowed:  false,
				RuleName: cr.rule.Name,
				Reason:   fmt.Sprintf("denied by admission rule %q", cr.rule.Name),
			}
		}
		return Decision{Allowed: true, RuleName: cr.rule.Name}
	}
	return Decision{Allowed: true}
}
