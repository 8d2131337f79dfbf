package validation

import (
	"os"
	"path/filepath"
	"testing"
)

func TestRegistryCategoryFor(t *testing.T) {
	tests := []struct {
		tool string
		want string
	}{
		{"warehouse_execute_query", CategoryWarehouse},
		{"fullstory_create_annotation", CategoryFullstory},
		{"fullstory_list_sessions", CategoryFullstory},
		{"sheets_append_row", CategorySheets},
		{"webhook_post_event", CategoryWebhook},
		{"slack_notify", CategoryWebhook},
		{"system_status", CategorySystem},
		{"unknown_tool", CategorySystem},
		{"", CategorySystem},
	}

	reg := NewRegistry()
	for _, tt := range tests {
		t.Run(tt.tool, func(t *testing.T) {
			if got := reg.CategoryFor(tt.tool); got != tt.want {
				t.Errorf("CategoryFor(%q) = %q, want %q", tt.tool, got, tt.want)
			}
		})
	}
}

func TestRegistryLongestPrefixWins(t *testing.T) {
	reg := NewRegistry()
	reg.SetPolicy(Policy{Category: "warehouse_admin", AllowSQL: false, SQLStrictness: SQLStrict, XSSHandling: XSSBlock, PathHandling: PathRestricted})
	reg.AddPrefix("warehouse_admin_", "warehouse_admin")

	if got := reg.CategoryFor("warehouse_admin_grant"); got != "warehouse_admin" {
		t.Errorf("CategoryFor(warehouse_admin_grant) = %q, want warehouse_admin", got)
	}
	if got := reg.CategoryFor("warehouse_execute_query"); got != CategoryWarehouse {
		t.Errorf("CategoryFor(warehouse_execute_query) = %q, want %q", got, CategoryWarehouse)
	}
}

func TestRegistryLookup(t *testing.T) {
	reg := NewRegistry()

	pol := reg.Lookup("warehouse_execute_query")
	if !pol.AllowSQL || pol.SQLStrictness != SQLPermissive {
		t.Errorf("warehouse policy = %+v, want AllowSQL with permissive strictness", pol)
	}

	pol = reg.Lookup("fullstory_get_session")
	if pol.AllowSQL || pol.XSSHandling != XSSSanitize {
		t.Errorf("fullstory policy = %+v, want no SQL and sanitizing XSS handling", pol)
	}

	pol = reg.Lookup("totally_unknown")
	if pol.Category != CategorySystem || pol.XSSHandling != XSSBlock {
		t.Errorf("fallback policy = %+v, want the system default", pol)
	}

	if _, ok := reg.PolicyFor("warehouse"); !ok {
		t.Error("PolicyFor(warehouse) ok = false, want built-in policy present")
	}
	if _, ok := reg.PolicyFor("no_such_category"); ok {
		t.Error("PolicyFor(no_such_category) ok = true, want false")
	}
}

func TestLoadOverridesFile(t *testing.T) {
	dir := t.TempDir()

	t.Run("valid overrides applied", func(t *testing.T) {
		path := filepath.Join(dir, "policies.yaml")
		doc := `
categories:
  - category: webhook
    allow_sql: false
    sql_strictness: moderate
    xss_handling: allow
    path_handling: allow
  - category: billing
    allow_sql: false
    sql_strictness: strict
    xss_handling: block
    path_handling: restricted
    prefixes: ["billing_"]
`
		if err := os.WriteFile(path, []byte(doc), 0o600); err != nil {
			t.Fatal(err)
		}

		reg := NewRegistry()
		if err := reg.LoadOverridesFile(path); err != nil {
			t.Fatalf("LoadOverridesFile() error = %v", err)
		}

		pol := reg.Lookup("webhook_post_event")
		if pol.SQLStrictness != SQLModerate || pol.XSSHandling != XSSAllow {
			t.Errorf("webhook override not applied: %+v", pol)
		}
		if got := reg.CategoryFor("billing_charge"); got != "billing" {
			t.Errorf("CategoryFor(billing_charge) = %q, want billing", got)
		}
	})

	t.Run("unknown enum rejected", func(t *testing.T) {
		path := filepath.Join(dir, "bad.yaml")
		doc := `
categories:
  - category: webhook
    sql_strictness: lenient
`
		if err := os.WriteFile(path, []byte(doc), 0o600); err != nil {
			t.Fatal(err)
		}
		if err := NewRegistry().LoadOverridesFile(path); err == nil {
			t.Error("LoadOverridesFile() error = nil, want enum validation error")
		}
	})

	t.Run("missing file reported", func(t *testing.T) {
		if err := NewRegistry().LoadOverridesFile(filepath.Join(dir, "absent.yaml")); err == nil {
			t.Error("LoadOverridesFile() error = nil, want read error")
		}
	})
}
