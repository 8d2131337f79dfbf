package validation

import (
	"regexp"
	"strings"
)

// namedPattern pairs a compiled pattern with a short name used in
// client-facing messages. Names describe the attack shape, never the
// matched input, so error strings stay safe to echo.
type namedPattern struct {
	name string
	re   *regexp.Regexp
}

// Critical SQL patterns are blocked in every context, including categories
// that permit SQL. They cover the injection shapes that are never part of
// a legitimate query: quote-terminated boolean logic, UNION extraction,
// stacked statements, and encoded smuggling of quote/equals characters.
var sqlCritical = []namedPattern{
	{"quoted tautology", regexp.MustCompile(`(?i)['"]\s*(or|and)\s*(['"]|\d)`)},
	{"numeric tautology", regexp.MustCompile(`(?i)\b(or|and)\s+['"]?1['"]?\s*=\s*['"]?1\b`)},
	{"union-based injection", regexp.MustCompile(`(?i)\bunion\s+(all\s+)?select\b`)},
	{"stacked statement", regexp.MustCompile(`(?i);\s*(drop|delete|insert|update|exec|execute|alter|create|truncate|grant|revoke)\b`)},
	{"encoded quote sequence", regexp.MustCompile(`(?i)(%27|%22|\\x27|\\x22)\s*(or|and|union|select|drop|insert|;|=|--)`)},
}

// High SQL patterns are destructive DDL/DML statements, blocked unless the
// category's strictness is permissive.
var sqlHigh = []namedPattern{
	{"drop statement", regexp.MustCompile(`(?i)\bdrop\s+(table|database|schema|index|view)\b`)},
	{"truncate statement", regexp.MustCompile(`(?i)\btruncate\s+(table\s+)?\w`)},
	{"alter statement", regexp.MustCompile(`(?i)\balter\s+(table|database|schema)\b`)},
	{"create statement", regexp.MustCompile(`(?i)\bcreate\s+(table|database|schema|index|user)\b`)},
	{"delete statement", regexp.MustCompile(`(?i)\bdelete\s+from\b`)},
	{"insert statement", regexp.MustCompile(`(?i)\binsert\s+into\b`)},
	{"mass update", regexp.MustCompile(`(?i)\bupdate\s+\w+\s+set\b`)},
}

// Moderate SQL patterns cover schema enumeration, time-based blind
// injection, and OR-based bypasses. Blocked when strictness is strict or
// moderate.
var sqlModerate = []namedPattern{
	{"schema enumeration", regexp.MustCompile(`(?i)\b(information_schema|sysobjects|syscolumns|pg_catalog|pg_tables)\b`)},
	{"timing probe", regexp.MustCompile(`(?i)\b(sleep|benchmark|pg_sleep)\s*\(`)},
	{"delay probe", regexp.MustCompile(`(?i)\bwaitfor\s+delay\b`)},
	{"or-based bypass", regexp.MustCompile(`(?i)\b(or|and)\s+\d+\s*=\s*\d+\b`)},
}

// Bare SQL keywords back the basic tier: two or more distinct hits in a
// strict, non-SQL field block the request.
var sqlBareKeywords = []namedPattern{
	{"select", regexp.MustCompile(`(?i)\bselect\b`)},
	{"union", regexp.MustCompile(`(?i)\bunion\b`)},
	{"insert", regexp.MustCompile(`(?i)\binsert\b`)},
	{"update", regexp.MustCompile(`(?i)\bupdate\b`)},
	{"delete", regexp.MustCompile(`(?i)\bdelete\b`)},
	{"drop", regexp.MustCompile(`(?i)\bdrop\b`)},
	{"exec", regexp.MustCompile(`(?i)\bexec\b`)},
}

// encodedSQLSequence matches URL- and hex-encoded quote, equals, and
// semicolon characters. Categories that disallow SQL block on any hit
// (encoded-bypass defense).
var encodedSQLSequence = regexp.MustCompile(`(?i)(%27|%22|%3d|%3b|\\x27|\\x22|\\x3b|\\x3d|\b0x27\b|\b0x22\b)`)

// Dangerous XSS patterns: executable or frame-injecting content.
var xssDangerous = []namedPattern{
	{"script tag", regexp.MustCompile(`(?i)<\s*/?\s*script\b`)},
	{"iframe tag", regexp.MustCompile(`(?i)<\s*iframe\b`)},
	{"javascript uri", regexp.MustCompile(`(?i)javascript\s*:`)},
	{"event handler", regexp.MustCompile(`(?i)\bon[a-z]+\s*=`)},
}

// xssSuspicious matches any other HTML tag opener.
var xssSuspicious = regexp.MustCompile(`(?i)<\s*/?[a-z!]`)

// htmlEscaper escapes exactly the five characters the sanitize policy
// rewrites. Repeated application double-escapes; only the first pass is
// contractual.
var htmlEscaper = strings.NewReplacer(
	"<", "&lt;",
	">", "&gt;",
	`"`, "&quot;",
	"'", "&#x27;",
	"/", "&#x2F;",
)

// pathTraversal matches literal traversal sequences and their single- and
// double-URL-encoded forms for both separators.
var pathTraversal = regexp.MustCompile(`(?i)\.\.[/\\]|%2e%2e(%2f|%5c|/|\\)|\.\.(%2f|%5c)|%252e%252e(%252f|%255c)`)

// shellMetachars matches characters that change shell parsing.
var shellMetachars = regexp.MustCompile("[;&|`$<>()\n]")

// destructiveCommand matches known destructive command names as whole
// words.
var destructiveCommand = regexp.MustCompile(`(?i)\b(rm|rmdir|del|mkfs|dd|format|shutdown|reboot|halt|poweroff|kill|killall|chmod|chown|wget|curl|nc|eval|sudo)\b`)

// Field-type validators.
var (
	emailPattern      = regexp.MustCompile(`^[^\s@]+@[^\s@]+(\.[^\s@]+)*$`)
	identifierPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*(\.[A-Za-z_][A-Za-z0-9_]*){0,2}$`)
	opaqueIDPattern   = regexp.MustCompile(`^[A-Za-z0-9_-]{1,100}$`)
	// Session identifiers are the compound userId:sessionId form; a bare
	// ID without the user prefix is also accepted.
	sessionIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,100}(:[A-Za-z0-9_-]{1,100})?$`)
)

// sqlReservedWords rejects identifier segments that are SQL keywords.
var sqlReservedWords = map[string]bool{
	"select": true, "insert": true, "update": true, "delete": true,
	"drop": true, "union": true, "exec": true, "execute": true,
	"create": true, "alter": true, "truncate": true, "grant": true,
	"revoke": true, "where": true, "from": true, "table": true,
	"database": true,
}

// warehousePlatforms is the closed set of supported warehouse backends.
var warehousePlatforms = map[string]bool{
	"bigquery":  true,
	"snowflake": true,
}

func isURLKey(key string) bool {
	switch key {
	case "url", "uri":
		return true
	}
	return strings.HasSuffix(key, "_url") || strings.HasSuffix(key, "_uri")
}

func isEmailKey(key string) bool {
	return key == "email" || strings.HasSuffix(key, "_email")
}

var identifierKeys = map[string]bool{
	"table": true, "table_name": true,
	"dataset": true, "dataset_name": true,
	"schema": true, "schema_name": true,
	"column": true, "column_name": true,
	"identifier": true,
}

func isIdentifierKey(key string) bool {
	return identifierKeys[key]
}

func isIDKey(key string) bool {
	return key == "id" || strings.HasSuffix(key, "_id")
}

func isSessionKey(key string) bool {
	return key == "session_id" || strings.HasSuffix(key, "_session_id")
}

func isPathKey(key string) bool {
	switch key {
	case "path", "file", "filename", "file_name", "filepath", "dir", "directory", "folder":
		return true
	}
	return strings.HasSuffix(key, "_path") || strings.HasSuffix(key, "_file") || strings.HasSuffix(key, "_dir")
}

func isCommandKey(key string) bool {
	switch key {
	case "command", "cmd", "exec", "shell", "script":
		return true
	}
	return strings.HasSuffix(key, "_command") || strings.HasSuffix(key, "_cmd")
}
