// Package mcp provides the MCP message types and JSON-RPC codec
// utilities shared by the gateway's transports.
package mcp

import (
	"encoding/json"
	"time"

	"github.com/modelcontextprotocol/go-sdk/jsonrpc"
)

// Protocol method names the gateway serves.
const (
	MethodInitialize = "initialize"
	MethodToolsList  = "tools/list"
	MethodToolsCall  = "tools/call"
	MethodPing       = "ping"
)

// Standard JSON-RPC 2.0 error codes
// (https://www.jsonrpc.org/specification#error_object).
const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternalError  = -32603
)

// Message wraps a decoded JSON-RPC message with dispatch metadata. It
// keeps the raw bytes alongside the decoded form so the original ID
// encoding survives a round trip.
type Message struct {
	// Raw contains the original bytes of the message.
	Raw []byte

	// Decoded is the parsed JSON-RPC message: either a
	// *jsonrpc.Request or a *jsonrpc.Response.
	Decoded jsonrpc.Message

	// Timestamp records when the message was received.
	Timestamp time.Time

	// ParsedParams caches the decoded request params.
	// Set by ParseParams; nil if not a request or parsing failed.
	ParsedParams map[string]any
}

// IsRequest returns true if the message is a JSON-RPC request.
func (m *Message) IsRequest() bool {
	_, ok := m.Decoded.(*jsonrpc.Request)
	return ok
}

// IsResponse returns true if the message is a JSON-RPC response.
func (m *Message) IsResponse() bool {
	_, ok := m.Decoded.(*jsonrpc.Response)
	return ok
}

// IsNotification returns true for a request carrying no ID. Transports
// acknowledge notifications without a response body.
func (m *Message) IsNotification() bool {
	req := m.Request()
	if req == nil {
		return false
	}
	return !req.ID.IsValid()
}

// Method returns the method name if this is a request, empty string
// otherwise.
func (m *Message) Method() string {
	req, ok := m.Decoded.(*jsonrpc.Request)
	if !ok {
		return ""
	}
	return req.Method
}

// IsToolCall returns true if this is a tools/call request.
func (m *Message) IsToolCall() bool {
	return m.Method() == MethodToolsCall
}

// Request returns the underlying request, or nil for responses.
func (m *Message) Request() *jsonrpc.Request {
	req, _ := m.Decoded.(*jsonrpc.Request)
	return req
}

// Response returns the underlying response, or nil for requests.
func (m *Message) Response() *jsonrpc.Response {
	resp, _ := m.Decoded.(*jsonrpc.Response)
	return resp
}

// ParseParams parses the request params and caches the result. Safe to
// call multiple times. Returns nil if this is not a request or the
// params are not a JSON object.
func (m *Message) ParseParams() map[string]any {
	if m.ParsedParams != nil {
		return m.ParsedParams
	}

	req := m.Request()
	if req == nil || req.Params == nil {
		return nil
	}

	var params map[string]any
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return nil
	}

	m.ParsedParams = params
	return params
}

// RawID extracts the request ID from the raw bytes as json.RawMessage.
// The SDK's jsonrpc.ID does not marshal cleanly through any, so the ID
// is lifted straight from the original JSON, preserving its encoding
// (number, string, or null). Returns nil when no ID is present.
func (m *Message) RawID() json.RawMessage {
	if m.Raw == nil {
		return nil
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(m.Raw, &raw); err != nil {
		return nil
	}
	return raw["id"]
}
