package validation

import (
	"encoding/json"
	"fmt"
	"math"
	"regexp"
	"unicode/utf8"
)

// Property declares the constraints for one tool argument. Compile
// validates Pattern once; a Schema with an uncompilable pattern is a
// programming error surfaced at registration time.
type Property struct {
	// Type is one of "string", "number", "integer", "boolean", "array",
	// "object". Arrays are distinct from objects.
	Type string

	Required bool

	// String bounds, measured in runes.
	MinLength *int
	MaxLength *int

	// Numeric bounds, inclusive.
	Minimum *float64
	Maximum *float64

	// Array item-count bounds.
	MinItems *int
	MaxItems *int

	// Pattern is a full-string anchored match for string values.
	Pattern string

	// Enum restricts string values to an exact-member set.
	Enum []string

	// Description is surfaced in the tool catalog listing.
	Description string

	compiled *regexp.Regexp
}

// Schema is an allow-list of declared properties. Properties not declared
// here are ignored by schema validation (forward-compatible clients), but
// still pass through the sanitization engine.
type Schema struct {
	Properties map[string]Property
}

// Compile resolves every property's pattern. It must be called once at
// registration; Validate panics on an uncompiled pattern otherwise.
func (s *Schema) Compile() error {
	for name, prop := range s.Properties {
		if prop.Pattern == "" {
			continue
		}
		re, err := regexp.Compile("^(?:" + prop.Pattern + ")$")
		if err != nil {
			return fmt.Errorf("schema property %q: invalid pattern: %w", name, err)
		}
		prop.compiled = re
		s.Properties[name] = prop
	}
	return nil
}

// Validate checks an argument bag against the schema. Missing required
// keys are errors. A declared key present with an explicit null is
// accepted with a warning and skips all further checks for that property;
// the null is preserved for the handler. This mirrors the legacy
// behavior deliberately rather than tightening it.
func (s Schema) Validate(args map[string]any) (errs, warns []Issue) {
	for name, prop := range s.Properties {
		v, present := args[name]
		if !present {
			if prop.Required {
				errs = append(errs, Issue{Path: name, Code: CodeSchema, Message: "required field is missing"})
			}
			continue
		}
		if v == nil {
			warns = append(warns, Issue{Path: name, Code: CodeNullValue, Message: "null value accepted; constraints not checked"})
			continue
		}
		errs = append(errs, checkProperty(name, prop, v)...)
	}
	return errs, warns
}

func checkProperty(name string, prop Property, v any) []Issue {
	var out []Issue
	fail := func(msg string) {
		out = append(out, Issue{Path: name, Code: CodeSchema, Message: msg})
	}

	switch prop.Type {
	case "string":
		sv, ok := v.(string)
		if !ok {
			fail("must be a string")
			return out
		}
		n := utf8.RuneCountInString(sv)
		if prop.MinLength != nil && n < *prop.MinLength {
			fail(fmt.Sprintf("must be at least %d characters", *prop.MinLength))
		}
		if prop.MaxLength != nil && n > *prop.MaxLength {
			fail(fmt.Sprintf("must be at most %d characters", *prop.MaxLength))
		}
		if prop.compiled != nil && !prop.compiled.MatchString(sv) {
			fail("does not match the required pattern")
		}
		if len(prop.Enum) > 0 && !containsString(prop.Enum, sv) {
			fail("must be one of the allowed values")
		}
	case "number", "integer":
		fv, ok := toFloat(v)
		if !ok {
			fail("must be a number")
			return out
		}
		if prop.Type == "integer" && fv != math.Trunc(fv) {
			fail("must be an integer")
		}
		if prop.Minimum != nil && fv < *prop.Minimum {
			fail(fmt.Sprintf("must be at least %v", *prop.Minimum))
		}
		if prop.Maximum != nil && fv > *prop.Maximum {
			fail(fmt.Sprintf("must be at most %v", *prop.Maximum))
		}
	case "boolean":
		if _, ok := v.(bool); !ok {
			fail("must be a boolean")
		}
	case "array":
		av, ok := v.([]any)
		if !ok {
			fail("must be an array")
			return out
		}
		if prop.MinItems != nil && len(av) < *prop.MinItems {
			fail(fmt.Sprintf("must have at least %d items", *prop.MinItems))
		}
		if prop.MaxItems != nil && len(av) > *prop.MaxItems {
			fail(fmt.Sprintf("must have at most %d items", *prop.MaxItems))
		}
	case "object":
		if _, ok := v.(map[string]any); !ok {
			fail("must be an object")
		}
	}
	return out
}

// toFloat accepts the numeric types a decoded JSON value can carry.
func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}

func containsString(set []string, s string) bool {
	for _, m := range set {
		if m == s {
			return true
		}
	}
	return false
}
