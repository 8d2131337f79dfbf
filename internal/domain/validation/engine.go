package validation

import (
	"fmt"
	"net/url"
	"sort"
	"strings"
	"unicode/utf8"
)

// Default limits for the sanitization engine.
const (
	// DefaultMaxStringLength is the per-value size ceiling (1 MiB).
	DefaultMaxStringLength = 1 << 20

	// DefaultMaxDepth bounds recursion into nested objects and arrays.
	DefaultMaxDepth = 10

	// MaxQueryLength caps total SQL text for warehouse-category tools,
	// in runes.
	MaxQueryLength = 10000
)

// EnvProduction is the deployment environment in which URL fields must not
// target loopback addresses.
const EnvProduction = "production"

// Engine runs the per-field sanitization pass. It is stateless after
// construction and safe for concurrent use.
type Engine struct {
	maxStringLength int
	maxDepth        int
	environment     string
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithMaxStringLength overrides the per-value size ceiling.
func WithMaxStringLength(n int) EngineOption {
	return func(e *Engine) {
		if n > 0 {
			e.maxStringLength = n
		}
	}
}

// WithMaxDepth overrides the nesting depth bound.
func WithMaxDepth(n int) EngineOption {
	return func(e *Engine) {
		if n > 0 {
			e.maxDepth = n
		}
	}
}

// WithEnvironment sets the deployment environment used by the URL
// validator's loopback check.
func WithEnvironment(env string) EngineOption {
	return func(e *Engine) {
		e.environment = env
	}
}

// NewEngine creates a sanitization engine with default limits.
func NewEngine(opts ...EngineOption) *Engine {
	e := &Engine{
		maxStringLength: DefaultMaxStringLength,
		maxDepth:        DefaultMaxDepth,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// SanitizeArguments validates and sanitizes a tool-call argument bag under
// the given category policy. The input is never mutated; the returned
// Result carries a transformed deep copy plus every error and warning
// found. A failing field does not stop the scan of the remaining fields.
func (e *Engine) SanitizeArguments(args map[string]any, pol Policy) *Result {
	res := &Result{Sanitized: make(map[string]any, len(args))}
	keys := make([]string, 0, len(args))
	for k := range args {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		res.Sanitized[k] = e.walk(k, strings.ToLower(k), args[k], pol, 0, res)
	}
	e.postCheck(res.Sanitized, pol, res)
	return res
}

// walk sanitizes one value. path is the composed key path for reporting;
// key is the lowercased leaf field name the semantic validators key on.
// Array elements inherit their array's field name.
func (e *Engine) walk(path, key string, v any, pol Policy, depth int, res *Result) any {
	if depth > e.maxDepth {
		res.addError(path, CodeTooDeep, fmt.Sprintf("nesting exceeds maximum depth of %d", e.maxDepth))
		return v
	}
	switch val := v.(type) {
	case string:
		return e.scanString(path, key, val, pol, res)
	case map[string]any:
		out := make(map[string]any, len(val))
		childKeys := make([]string, 0, len(val))
		for k := range val {
			childKeys = append(childKeys, k)
		}
		sort.Strings(childKeys)
		for _, k := range childKeys {
			out[k] = e.walk(path+"."+k, strings.ToLower(k), val[k], pol, depth+1, res)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, child := range val {
			out[i] = e.walk(fmt.Sprintf("%s[%d]", path, i), key, child, pol, depth+1, res)
		}
		return out
	default:
		// Numbers, booleans, and nulls pass through. Null handling for
		// declared properties belongs to the schema validator.
		return v
	}
}

// scanString applies the ordered per-string checks: length ceiling, SQL
// tiers, encoded-bypass, XSS, path traversal, command injection, then the
// field-name semantic validators. When any check records an error the
// original value is returned so reporting reflects what the client sent.
func (e *Engine) scanString(path, key, s string, pol Policy, res *Result) string {
	if len(s) > e.maxStringLength {
		res.addError(path, CodeTooLong, fmt.Sprintf("value exceeds maximum length of %d bytes", e.maxStringLength))
		return s
	}

	before := len(res.Errors)

	e.scanSQL(path, key, s, pol, res)
	e.scanEncoded(path, s, pol, res)
	out := e.scanXSS(path, s, pol, res)
	out = e.scanPath(path, key, out, pol, res)
	e.scanCommand(path, key, out, res)
	e.checkSemantic(path, key, out, res)

	if len(res.Errors) > before {
		return s
	}
	return out
}

// scanSQL applies the tiered SQL patterns. The critical tier applies to
// every string in every context; high and moderate follow the category's
// strictness; the basic bare-keyword count applies only to strict
// categories in fields that are not SQL-relevant.
func (e *Engine) scanSQL(path, key, s string, pol Policy, res *Result) {
	for _, p := range sqlCritical {
		if p.re.MatchString(s) {
			res.addError(path, CodeSQLInjection, "SQL injection pattern detected ("+p.name+")")
			return
		}
	}
	if pol.SQLStrictness != SQLPermissive {
		for _, p := range sqlHigh {
			if p.re.MatchString(s) {
				res.addError(path, CodeSQLInjection, "destructive SQL detected ("+p.name+")")
				return
			}
		}
	}
	if pol.SQLStrictness == SQLStrict || pol.SQLStrictness == SQLModerate {
		for _, p := range sqlModerate {
			if p.re.MatchString(s) {
				res.addError(path, CodeSQLInjection, "SQL probe detected ("+p.name+")")
				return
			}
		}
	}
	sqlRelevant := key == "sql" || key == "query" || pol.AllowSQL
	if pol.SQLStrictness == SQLStrict && !sqlRelevant {
		distinct := 0
		for _, p := range sqlBareKeywords {
			if p.re.MatchString(s) {
				distinct++
				if distinct >= 2 {
					res.addError(path, CodeSQLInjection, "multiple SQL keywords in a non-SQL field")
					return
				}
			}
		}
	}
}

// scanEncoded blocks URL-/hex-encoded quote, equals, and semicolon
// sequences outright when the category disallows SQL. SQL-permitting
// categories rely on the critical tier's encoded-sequence pattern instead.
func (e *Engine) scanEncoded(path, s string, pol Policy, res *Result) {
	if pol.AllowSQL {
		return
	}
	if encodedSQLSequence.MatchString(s) {
		res.addError(path, CodeEncodedBypass, "encoded SQL character sequence detected")
	}
}

// scanXSS classifies markup into dangerous and suspicious tiers and
// applies the category's handling. Sanitize escapes the whole string,
// dangerous content included; only the first pass is contractual
// (re-escaping an already-escaped value double-escapes it).
func (e *Engine) scanXSS(path, s string, pol Policy, res *Result) string {
	dangerous := ""
	for _, p := range xssDangerous {
		if p.re.MatchString(s) {
			dangerous = p.name
			break
		}
	}
	if dangerous == "" && !xssSuspicious.MatchString(s) {
		return s
	}

	switch pol.XSSHandling {
	case XSSSanitize:
		res.addWarning(path, CodeXSS, "markup escaped")
		return htmlEscaper.Replace(s)
	case XSSAllow:
		if dangerous != "" {
			res.addWarning(path, CodeXSS, "dangerous content passed through ("+dangerous+")")
		}
		return s
	default: // XSSBlock
		if dangerous != "" {
			res.addError(path, CodeXSS, "dangerous content detected ("+dangerous+")")
		} else {
			res.addError(path, CodeXSS, "HTML markup not permitted in this field")
		}
		return s
	}
}

// scanPath checks path-suggesting fields for traversal sequences,
// including single- and double-URL-encoded forms.
func (e *Engine) scanPath(path, key, s string, pol Policy, res *Result) string {
	if !isPathKey(key) || !pathTraversal.MatchString(s) {
		return s
	}
	switch pol.PathHandling {
	case PathSanitize:
		out := s
		for {
			next := pathTraversal.ReplaceAllString(out, "")
			if next == out {
				break
			}
			out = next
		}
		res.addWarning(path, CodePathTraversal, "traversal sequences removed")
		return out
	case PathAllow:
		res.addWarning(path, CodePathTraversal, "traversal sequence passed through")
		return s
	default: // PathRestricted
		res.addError(path, CodePathTraversal, "path traversal sequence detected")
		return s
	}
}

// scanCommand rejects shell metacharacters and destructive command names
// in command-suggesting fields.
func (e *Engine) scanCommand(path, key, s string, res *Result) {
	if !isCommandKey(key) {
		return
	}
	if shellMetachars.MatchString(s) {
		res.addError(path, CodeCommandInjection, "shell metacharacter in command field")
		return
	}
	if m := destructiveCommand.FindString(s); m != "" {
		res.addError(path, CodeCommandInjection, "destructive command detected ("+strings.ToLower(m)+")")
	}
}

// checkSemantic runs the field-name-driven validators after the generic
// scans.
func (e *Engine) checkSemantic(path, key, s string, res *Result) {
	switch {
	case isURLKey(key):
		u, err := url.Parse(s)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			res.addError(path, CodeInvalidURL, "must be a valid http or https URL")
			return
		}
		if e.environment == EnvProduction && isLoopbackHost(u.Hostname()) {
			res.addError(path, CodeInvalidURL, "URL must not target an internal address")
		}
	case isEmailKey(key):
		if !emailPattern.MatchString(s) {
			res.addError(path, CodeInvalidEmail, "must be a valid email address")
			return
		}
		if matchesAnyXSS(s) {
			res.addError(path, CodeInvalidEmail, "email must not contain markup")
		}
	case isIdentifierKey(key):
		if !identifierPattern.MatchString(s) {
			res.addError(path, CodeInvalidIdent, "must be a bare identifier with at most 3 dotted segments")
			return
		}
		for _, seg := range strings.Split(s, ".") {
			if sqlReservedWords[strings.ToLower(seg)] {
				res.addError(path, CodeInvalidIdent, "identifier segment is a reserved SQL word")
				return
			}
		}
	case isSessionKey(key):
		if !sessionIDPattern.MatchString(s) {
			res.addError(path, CodeInvalidID, "must be a session identifier: letters, digits, underscore, or hyphen, optionally userId:sessionId")
		}
	case isIDKey(key):
		if !opaqueIDPattern.MatchString(s) {
			res.addError(path, CodeInvalidID, "must contain only letters, digits, underscore, or hyphen (1-100 characters)")
		}
	}
}

// postCheck runs the tool-category post-checks on the already-sanitized
// bag. Fields the generic pass flagged are not double-reported.
func (e *Engine) postCheck(args map[string]any, pol Policy, res *Result) {
	switch pol.Category {
	case CategoryWarehouse:
		for _, key := range []string{"sql", "query"} {
			q, ok := args[key].(string)
			if !ok || res.hasErrorAt(key) {
				continue
			}
			if utf8.RuneCountInString(q) > MaxQueryLength {
				res.addError(key, CodeQueryTooLong, fmt.Sprintf("query exceeds maximum length of %d characters", MaxQueryLength))
			}
		}
		if p, ok := args["platform"].(string); ok && !res.hasErrorAt("platform") {
			if !warehousePlatforms[strings.ToLower(p)] {
				res.addError("platform", CodeInvalidPlatform, "platform must be one of: bigquery, snowflake")
			}
		}
	case CategoryFullstory:
		if v, ok := args["user_id"].(string); ok && !res.hasErrorAt("user_id") {
			if !opaqueIDPattern.MatchString(v) {
				res.addError("user_id", CodeInvalidID, "must contain only letters, digits, underscore, or hyphen (1-100 characters)")
			}
		}
		if v, ok := args["session_id"].(string); ok && !res.hasErrorAt("session_id") {
			if !sessionIDPattern.MatchString(v) {
				res.addError("session_id", CodeInvalidID, "must be a session identifier: letters, digits, underscore, or hyphen, optionally userId:sessionId")
			}
		}
	}
}

func isLoopbackHost(host string) bool {
	h := strings.ToLower(host)
	return h == "localhost" || h == "0.0.0.0" || h == "::1" || strings.HasPrefix(h, "127.")
}

func matchesAnyXSS(s string) bool {
	for _, p := range xssDangerous {
		if p.re.MatchString(s) {
			return true
		}
	}
	return xssSuspicious.MatchString(s)
}
