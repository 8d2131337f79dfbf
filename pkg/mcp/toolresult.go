package mcp

// Content is one entry in a tool result's content list.
type Content struct {
	// Type is the content kind; the gateway only emits "text".
	Type string `json:"type"`

	// Text is the payload for text content.
	Text string `json:"text,omitempty"`
}

// ToolResult is the payload of a tools/call response. Failures decided
// inside the protocol, like tool-tier rate denials and input validation
// errors, are expressed here with IsError rather than an HTTP status.
type ToolResult struct {
	Content []Content `json:"content"`

	// IsError marks handler and policy failures.
	IsError bool `json:"isError,omitempty"`

	// ValidationErrors carries the machine-readable error list alongside
	// the human-readable text when input validation fails.
	ValidationErrors []string `json:"_validationErrors,omitempty"`
}

// NewTextResult returns a successful single-text result.
func NewTextResult(text string) *ToolResult {
	return &ToolResult{Content: []Content{{Type: "text", Text: text}}}
}

// NewErrorResult returns a failed single-text result.
func NewErrorResult(text string) *ToolResult {
	return &ToolResult{
		Content: []Content{{Type: "text", Text: text}},
		IsError: true,
	}
}
