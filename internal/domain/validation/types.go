// Package validation implements the argument admission layer for tool
// dispatch: per-category validation policies, a tiered sanitization engine
// for injection classes (SQL, XSS, path traversal, command injection), and
// a schema validator for declared tool arguments.
package validation

// Issue codes identify the class of a validation finding. They are stable
// strings so log consumers and tests can match on them.
const (
	CodeTooLong          = "too_long"
	CodeTooDeep          = "too_deep"
	CodeSQLInjection     = "sql_injection"
	CodeEncodedBypass    = "encoded_bypass"
	CodeXSS              = "xss"
	CodePathTraversal    = "path_traversal"
	CodeCommandInjection = "command_injection"
	CodeInvalidURL       = "invalid_url"
	CodeInvalidEmail     = "invalid_email"
	CodeInvalidIdent     = "invalid_identifier"
	CodeInvalidID        = "invalid_id"
	CodeSchema           = "schema"
	CodeNullValue        = "null_value"
	CodeQueryTooLong     = "query_too_long"
	CodeInvalidPlatform  = "invalid_platform"
)

// Issue is a single validation finding tied to an argument key path.
// Paths compose through nesting as "parent.child" and "parent[index]".
type Issue struct {
	Path    string
	Code    string
	Message string
}

// String renders the issue the way it appears in client-facing error lists.
func (i Issue) String() string {
	if i.Path == "" {
		return i.Message
	}
	return i.Path + ": " + i.Message
}

// Result is the aggregate outcome of validating and sanitizing one
// argument bag. Errors are collected across all fields before the result
// is reported, so a client can fix every violation in one round trip.
type Result struct {
	// Sanitized is a deep copy of the arguments with sanitization
	// transforms applied. The input bag is never mutated.
	Sanitized map[string]any

	Errors   []Issue
	Warnings []Issue
}

// Valid reports whether the arguments passed with no blocking errors.
func (r *Result) Valid() bool {
	return len(r.Errors) == 0
}

// ErrorStrings returns the rendered error list in collection order.
func (r *Result) ErrorStrings() []string {
	out := make([]string, len(r.Errors))
	for i, e := range r.Errors {
		out[i] = e.String()
	}
	return out
}

func (r *Result) addError(path, code, message string) {
	r.Errors = append(r.Errors, Issue{Path: path, Code: code, Message: message})
}

func (r *Result) addWarning(path, code, message string) {
	r.Warnings = append(r.Warnings, Issue{Path: path, Code: code, Message: message})
}

// hasErrorAt reports whether an error was already recorded for the exact
// key path. Post-checks use it to avoid double-reporting a field.
func (r *Result) hasErrorAt(path string) bool {
	for _, e := range r.Errors {
		if e.Path == path {
			return true
		}
	}
	return false
}
