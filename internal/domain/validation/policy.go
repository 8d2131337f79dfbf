package validation

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// SQLStrictness selects which SQL pattern tiers block a request.
type SQLStrictness string

const (
	// SQLStrict blocks critical, high, and moderate tiers, plus bare SQL
	// keywords in fields that are not SQL-relevant.
	SQLStrict SQLStrictness = "strict"
	// SQLModerate blocks critical, high, and moderate tiers.
	SQLModerate SQLStrictness = "moderate"
	// SQLPermissive blocks only the critical tier, so query tools can
	// legitimately carry SELECT/WHERE text.
	SQLPermissive SQLStrictness = "permissive"
)

// XSSHandling selects what happens when markup is found in a string value.
type XSSHandling string

const (
	// XSSBlock rejects the request on any markup hit.
	XSSBlock XSSHandling = "block"
	// XSSSanitize HTML-entity-escapes the characters < > " ' / and lets
	// the request proceed with a warning.
	XSSSanitize XSSHandling = "sanitize"
	// XSSAllow passes values through unchanged, warning only on the
	// dangerous tier.
	XSSAllow XSSHandling = "allow"
)

// PathHandling selects what happens when a path-like field contains
// traversal sequences.
type PathHandling string

const (
	// PathRestricted rejects the request on any traversal hit.
	PathRestricted PathHandling = "restricted"
	// PathSanitize strips traversal substrings repeatedly and proceeds
	// with a warning.
	PathSanitize PathHandling = "sanitize"
	// PathAllow passes values through unchanged with a warning.
	PathAllow PathHandling = "allow"
)

// Built-in tool categories. A tool's category is resolved by the longest
// matching registered name prefix; unmatched tools fall back to the
// strictest (system) policy.
const (
	CategoryWarehouse = "warehouse"
	CategoryFullstory = "fullstory"
	CategorySheets    = "sheets"
	CategoryWebhook   = "webhook"
	CategorySystem    = "system"
)

// Policy is the immutable validation posture for one tool category.
// Instances are constructed at process start and never mutated afterwards.
type Policy struct {
	Category      string
	AllowSQL      bool
	SQLStrictness SQLStrictness
	XSSHandling   XSSHandling
	PathHandling  PathHandling
}

type prefixBinding struct {
	prefix   string
	category string
}

// Registry maps tool categories to validation policies and tool-name
// prefixes to categories. It is an explicit value wired through the
// admission pipeline rather than package-global state, so tests get fresh
// registries and deployments can layer overrides.
type Registry struct {
	policies map[string]Policy
	prefixes []prefixBinding // sorted longest prefix first
	fallback string
}

var builtinPolicies = []Policy{
	{Category: CategoryWarehouse, AllowSQL: true, SQLStrictness: SQLPermissive, XSSHandling: XSSBlock, PathHandling: PathRestricted},
	{Category: CategoryFullstory, AllowSQL: false, SQLStrictness: SQLStrict, XSSHandling: XSSSanitize, PathHandling: PathRestricted},
	{Category: CategorySheets, AllowSQL: false, SQLStrictness: SQLStrict, XSSHandling: XSSSanitize, PathHandling: PathRestricted},
	{Category: CategoryWebhook, AllowSQL: false, SQLStrictness: SQLStrict, XSSHandling: XSSSanitize, PathHandling: PathSanitize},
	{Category: CategorySystem, AllowSQL: false, SQLStrictness: SQLStrict, XSSHandling: XSSBlock, PathHandling: PathRestricted},
}

var builtinPrefixes = []prefixBinding{
	{"warehouse_", CategoryWarehouse},
	{"fullstory_", CategoryFullstory},
	{"sheets_", CategorySheets},
	{"webhook_", CategoryWebhook},
	{"slack_", CategoryWebhook},
}

// NewRegistry returns a registry populated with the built-in category
// policies and tool-name prefixes.
func NewRegistry() *Registry {
	r := &Registry{
		policies: make(map[string]Policy, len(builtinPolicies)),
		fallback: CategorySystem,
	}
	for _, p := range builtinPolicies {
		r.policies[p.Category] = p
	}
	for _, b := range builtinPrefixes {
		r.AddPrefix(b.prefix, b.category)
	}
	return r
}

// SetPolicy registers or replaces the policy for its category.
func (r *Registry) SetPolicy(p Policy) {
	r.policies[p.Category] = p
}

// AddPrefix binds a tool-name prefix to a category. Longer prefixes take
// precedence over shorter ones at lookup time.
func (r *Registry) AddPrefix(prefix, category string) {
	for i, b := range r.prefixes {
		if b.prefix == prefix {
			r.prefixes[i].category = category
			return
		}
	}
	r.prefixes = append(r.prefixes, prefixBinding{prefix: prefix, category: category})
	sort.SliceStable(r.prefixes, func(i, j int) bool {
		return len(r.prefixes[i].prefix) > len(r.prefixes[j].prefix)
	})
}

// CategoryFor resolves a tool name to its category via longest-prefix
// match, falling back to the system category.
func (r *Registry) CategoryFor(toolName string) string {
	for _, b := range r.prefixes {
		if strings.HasPrefix(toolName, b.prefix) {
			return b.category
		}
	}
	return r.fallback
}

// Lookup returns the validation policy governing the named tool.
func (r *Registry) Lookup(toolName string) Policy {
	return r.policies[r.CategoryFor(toolName)]
}

// PolicyFor returns the policy registered for a category, if any.
func (r *Registry) PolicyFor(category string) (Policy, bool) {
	p, ok := r.policies[category]
	return p, ok
}

// Categories returns the registered category names in sorted order.
func (r *Registry) Categories() []string {
	out := make([]string, 0, len(r.policies))
	for c := range r.policies {
		out = append(out, c)
	}
	sort.Strings(out)
	return out
}

type policyOverride struct {
	Category      string   `yaml:"category"`
	AllowSQL      bool     `yaml:"allow_sql"`
	SQLStrictness string   `yaml:"sql_strictness"`
	XSSHandling   string   `yaml:"xss_handling"`
	PathHandling  string   `yaml:"path_handling"`
	Prefixes      []string `yaml:"prefixes"`
}

type overrideDoc struct {
	Categories []policyOverride `yaml:"categories"`
}

// LoadOverridesFile applies category policy overrides from a YAML file.
// Each entry adds or replaces a category policy and may bind additional
// tool-name prefixes. Invalid enum values reject the whole file.
func (r *Registry) LoadOverridesFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read policy overrides: %w", err)
	}
	var doc overrideDoc
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("parse policy overrides: %w", err)
	}
	for i, o := range doc.Categories {
		if o.Category == "" {
			return fmt.Errorf("policy overrides: entry %d has no category", i)
		}
		p := Policy{
			Category:      o.Category,
			AllowSQL:      o.AllowSQL,
			SQLStrictness: SQLStrictness(o.SQLStrictness),
			XSSHandling:   XSSHandling(o.XSSHandling),
			PathHandling:  PathHandling(o.PathHandling),
		}
		if err := validatePolicy(p); err != nil {
			return fmt.Errorf("policy overrides: category %q: %w", o.Category, err)
		}
		r.SetPolicy(p)
		for _, pre := range o.Prefixes {
			if pre == "" {
				return fmt.Errorf("policy overrides: category %q has an empty prefix", o.Category)
			}
			r.AddPrefix(pre, o.Category)
		}
	}
	return nil
}

func validatePolicy(p Policy) error {
	switch p.SQLStrictness {
	case SQLStrict, SQLModerate, SQLPermissive:
	default:
		return fmt.Errorf("invalid sql_strictness %q", p.SQLStrictness)
	}
	switch p.XSSHandling {
	case XSSBlock, XSSSanitize, XSSAllow:
	default:
		return fmt.Errorf("invalid xss_handling %q", p.XSSHandling)
	}
	switch p.PathHandling {
	case PathRestricted, PathSanitize, PathAllow:
	default:
		return fmt.Errorf("invalid path_handling %q", p.PathHandling)
	}
	return nil
}
