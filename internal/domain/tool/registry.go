package tool

import (
	"errors"
	"fmt"
	"sort"
)

var (
	// ErrUnknownTool means the requested name is not in the catalog.
	ErrUnknownTool = errors.New("unknown tool")

	// ErrSafeModeRestricted means safe mode hides the requested tool.
	ErrSafeModeRestricted = errors.New("tool not available in safe mode")
)

// Registry is the closed, typed table of dispatchable tools. It is
// populated once during startup wiring and read-only afterwards;
// lookups are exact name matches over the table.
type Registry struct {
	descriptors map[string]Descriptor
	order       []string
	safeMode    bool
}

// NewRegistry creates an empty registry. With safeMode on, only
// read-only descriptors are visible or callable.
func NewRegistry(safeMode bool) *Registry {
	return &Registry{
		descriptors: make(map[string]Descriptor),
		safeMode:    safeMode,
	}
}

// Register adds a descriptor to the table. Duplicate names, missing
// handlers, and uncompilable schemas are configuration errors; they
// abort startup rather than surfacing per request.
func (r *Registry) Register(d Descriptor) error {
	if d.Name == "" {
		return errors.New("tool descriptor needs a name")
	}
	if d.Handler == nil {
		return fmt.Errorf("tool %s: descriptor needs a handler", d.Name)
	}
	if _, exists := r.descriptors[d.Name]; exists {
		return fmt.Errorf("tool %s: already registered", d.Name)
	}
	if err := d.Schema.Compile(); err != nil {
		return fmt.Errorf("tool %s: %w", d.Name, err)
	}
	r.descriptors[d.Name] = d
	r.order = append(r.order, d.Name)
	return nil
}

// Lookup returns the descriptor for name regardless of safe mode.
func (r *Registry) Lookup(name string) (Descriptor, bool) {
	d, ok := r.descriptors[name]
	return d, ok
}

// Callable resolves name for dispatch. Safe mode rejects tools outside
// the read-only set even when they exist, regardless of how far the
// request got through validation and rate checks.
func (r *Registry) Callable(name string) (Descriptor, error) {
	d, ok := r.descriptors[name]
	if !ok {
		return Descriptor{}, fmt.Errorf("%w: %s", ErrUnknownTool, name)
	}
	if r.safeMode && !d.ReadOnly {
		return Descriptor{}, fmt.Errorf("%w: %s", ErrSafeModeRestricted, name)
	}
	return d, nil
}

// Visible returns the externally listable descriptors in registration
// order, filtered by safe mode.
func (r *Registry) Visible() []Descriptor {
	out := make([]Descriptor, 0, len(r.order))
	for _, name := range r.order {
		d := r.descriptors[name]
		if r.safeMode && !d.ReadOnly {
			continue
		}
		out = append(out, d)
	}
	return out
}

// Names returns every registered tool name, sorted. Feeds the rate
// limiter's full-client reset sweep.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.order))
	names = append(names, r.order...)
	sort.Strings(names)
	return names
}

// Categories returns the distinct categories in the table, sorted.
func (r *Registry) Categories() []string {
	seen := make(map[string]struct{})
	for _, d := range r.descriptors {
		seen[d.Category] = struct{}{}
	}
	categories := make([]string, 0, len(seen))
	for c := range seen {
		categories = append(categories, c)
	}
	sort.Strings(categories)
	return categories
}

// SafeMode reports whether the catalog is restricted to read-only tools.
func (r *Registry) SafeMode() bool {
	return r.safeMode
}
