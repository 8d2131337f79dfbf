package admission

import "github.com/fullstorydev/fs-lexicon-sub001/internal/domain/ratelimit"

// Windows holds the resolved rate-limit tiers: a default category
// window, per-category overrides, a default per-tool window and
// per-tool overrides.
type Windows struct {
	Default    ratelimit.Window
	Categories map[string]ratelimit.Window
	Tool       ratelimit.Window
	Tools      map[string]ratelimit.Window
}

// ForCategory returns the window for a category, falling back to the
// default tier.
func (w Windows) ForCategory(category string) ratelimit.Window {
	if win, ok := w.Categories[category]; ok {
		return win
	}
	return w.Default
}

// ForTool returns the window for a tool, falling back to the shared
// per-tool tier.
func (w Windows) ForTool(name string) ratelimit.Window {
	if win, ok := w.Tools[name]; ok {
		return win
	}
	return w.Tool
}
