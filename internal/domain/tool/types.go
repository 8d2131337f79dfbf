// Package tool contains the closed catalog of dispatchable tools.
package tool

import (
	"context"
	"errors"

	"github.com/fullstorydev/fs-lexicon-sub001/internal/domain/validation"
	"github.com/fullstorydev/fs-lexicon-sub001/pkg/mcp"
)

// ErrWorkNotPerformed signals that an admitted call did no billable
// work (e.g. the upstream rejected it before execution). The dispatcher
// refunds the category rate quota when it sees this sentinel.
var ErrWorkNotPerformed = errors.New("work not performed")

// Handler executes one tool call. Arguments arrive already sanitized;
// handlers never see raw client input.
type Handler func(ctx context.Context, args map[string]any) (*mcp.ToolResult, error)

// Descriptor declares one dispatchable tool.
type Descriptor struct {
	// Name is the unique identifier for this tool.
	Name string

	// Category groups the tool for validation policy and rate limiting.
	Category string

	// Description is surfaced in the catalog listing.
	Description string

	// Schema declares the tool's arguments.
	Schema validation.Schema

	// ReadOnly marks tools without side effects. Only read-only tools
	// stay visible and callable in safe mode.
	ReadOnly bool

	// Handler executes the call.
	Handler Handler
}
