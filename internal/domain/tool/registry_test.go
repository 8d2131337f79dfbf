package tool

import (
	"context"
	"errors"
	"reflect"
	"testing"

	"github.com/fullstorydev/fs-lexicon-sub001/internal/domain/validation"
	"github.com/fullstorydev/fs-lexicon-sub001/pkg/mcp"
)

func noopHandler(context.Context, map[string]any) (*mcp.ToolResult, error) {
	return mcp.NewTextResult("ok"), nil
}

func descriptor(name, category string, readOnly bool) Descriptor {
	return Descriptor{
		Name:     name,
		Category: category,
		ReadOnly: readOnly,
		Handler:  noopHandler,
	}
}

func TestRegister_RejectsInvalidDescriptors(t *testing.T) {
	tests := []struct {
		name string
		d    Descriptor
	}{
		{
			name: "missing name",
			d:    Descriptor{Handler: noopHandler},
		},
		{
			name: "missing handler",
			d:    Descriptor{Name: "orphan"},
		},
		{
			name: "bad schema pattern",
			d: Descriptor{
				Name:    "bad_pattern",
				Handler: noopHandler,
				Schema: validation.Schema{
					Properties: map[string]validation.Property{
						"id": {Type: "string", Pattern: "[unclosed"},
					},
				},
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewRegistry(false)
			if err := r.Register(tt.d); err == nil {
				t.Fatal("Register() accepted an invalid descriptor")
			}
		})
	}
}

func TestRegister_RejectsDuplicateNames(t *testing.T) {
	r := NewRegistry(false)
	if err := r.Register(descriptor("echo", validation.CategorySystem, true)); err != nil {
		t.Fatalf("first Register() failed: %v", err)
	}
	if err := r.Register(descriptor("echo", validation.CategorySystem, true)); err == nil {
		t.Fatal("Register() accepted a duplicate name")
	}
}

func TestCallable_UnknownTool(t *testing.T) {
	r := NewRegistry(false)
	_, err := r.Callable("nope")
	if !errors.Is(err, ErrUnknownTool) {
		t.Fatalf("Callable() error = %v, want ErrUnknownTool", err)
	}
}

func TestCallable_SafeModeRestrictsMutatingTools(t *testing.T) {
	r := NewRegistry(true)
	if err := r.Register(descriptor("read_thing", validation.CategorySystem, true)); err != nil {
		t.Fatal(err)
	}
	if err := r.Register(descriptor("write_thing", validation.CategoryWebhook, false)); err != nil {
		t.Fatal(err)
	}

	if _, err := r.Callable("read_thing"); err != nil {
		t.Fatalf("Callable(read_thing) = %v, want nil", err)
	}
	_, err := r.Callable("write_thing")
	if !errors.Is(err, ErrSafeModeRestricted) {
		t.Fatalf("Callable(write_thing) error = %v, want ErrSafeModeRestricted", err)
	}

	// Lookup ignores safe mode; the dispatcher uses it for audit context
	// on calls that will still be rejected.
	if _, ok := r.Lookup("write_thing"); !ok {
		t.Fatal("Lookup(write_thing) = false, want true")
	}
}

func TestVisible_PreservesRegistrationOrderAndFiltersSafeMode(t *testing.T) {
	r := NewRegistry(true)
	for _, d := range []Descriptor{
		descriptor("zeta_read", validation.CategorySystem, true),
		descriptor("alpha_write", validation.CategoryWebhook, false),
		descriptor("mid_read", validation.CategoryFullstory, true),
	} {
		if err := r.Register(d); err != nil {
			t.Fatal(err)
		}
	}

	var names []string
	for _, d := range r.Visible() {
		names = append(names, d.Name)
	}
	want := []string{"zeta_read", "mid_read"}
	if !reflect.DeepEqual(names, want) {
		t.Fatalf("Visible() names = %v, want %v", names, want)
	}
}

func TestNamesAndCategoriesAreSorted(t *testing.T) {
	r := NewRegistry(false)
	for _, d := range []Descriptor{
		descriptor("zz_tool", validation.CategoryWebhook, false),
		descriptor("aa_tool", validation.CategorySystem, true),
		descriptor("mm_tool", validation.CategorySystem, true),
	} {
		if err := r.Register(d); err != nil {
			t.Fatal(err)
		}
	}

	if got, want := r.Names(), []string{"aa_tool", "mm_tool", "zz_tool"}; !reflect.DeepEqual(got, want) {
		t.Fatalf("Names() = %v, want %v", got, want)
	}
	if got, want := r.Categories(), []string{validation.CategorySystem, validation.CategoryWebhook}; !reflect.DeepEqual(got, want) {
		t.Fatalf("Categories() = %v, want %v", got, want)
	}
}
