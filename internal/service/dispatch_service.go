// Package service contains the dispatch orchestration: decoding
// JSON-RPC traffic, running calls through the admission pipeline and
// invoking tool handlers.
package service

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/fullstorydev/fs-lexicon-sub001/internal/ctxkey"
	"github.com/fullstorydev/fs-lexicon-sub001/internal/domain/admission"
	"github.com/fullstorydev/fs-lexicon-sub001/internal/domain/audit"
	"github.com/fullstorydev/fs-lexicon-sub001/internal/domain/ratelimit"
	"github.com/fullstorydev/fs-lexicon-sub001/internal/domain/tool"
	"github.com/fullstorydev/fs-lexicon-sub001/internal/domain/validation"
	"github.com/fullstorydev/fs-lexicon-sub001/pkg/mcp"
)

// serverName is reported in the initialize handshake.
const serverName = "lexicon-gate"

// protocolVersion is the MCP protocol revision the gateway speaks.
const protocolVersion = "2024-11-05"


// loggerFromContext retrieves the request-enriched logger installed by
// the transport middleware, if any.
func loggerFromContext(ctx context.Context) *slog.Logger {
	if logger, ok := ctx.Value(ctxkey.LoggerKey{}).(*slog.Logger); ok {
		return logger
	}
	return nil
}

// Reply is the dispatcher's answer to one inbound frame. Body is the
// encoded JSON-RPC response; nil for notifications. The rate fields let
// the HTTP transport shape its headers and the category-tier 429.
type Reply struct {
	Body []byte

	// Rate is the category-tier decision when the limiter ran.
	Rate *ratelimit.Decision

	// CategoryDenied marks a category-tier rate rejection. The HTTP
	// transport replaces Body with a 429 payload; stdio writes Body
	// as-is.
	CategoryDenied bool

	// RetryAfter accompanies CategoryDenied.
	RetryAfter time.Duration

	// Window is the span of the category window behind Rate.
	Window time.Duration
}

// DispatchService binds the tool catalog, the admission pipeline and
// the audit log behind a transport-neutral Handle.
type DispatchService struct {
	catalog  *tool.Registry
	pipeline *admission.Pipeline
	limiter  ratelimit.Limiter
	auditor  audit.Store
	logger   *slog.Logger
	version  string
}

// DispatchOption configures optional service collaborators.
type DispatchOption func(*DispatchService)

// WithRefunds lets the dispatcher return unused quota when a handler
// reports that no work happened.
func WithRefunds(l ratelimit.Limiter) DispatchOption {
	return func(s *DispatchService) { s.limiter = l }
}

// WithAuditor records one audit entry per tools/call.
func WithAuditor(a audit.Store) DispatchOption {
	return func(s *DispatchService) { s.auditor = a }
}

// WithVersion sets the version string surfaced in initialize.
func WithVersion(v string) DispatchOption {
	return func(s *DispatchService) { s.version = v }
}

// NewDispatchService creates the dispatcher.
func NewDispatchService(catalog *tool.Registry, pipeline *admission.Pipeline, logger *slog.Logger, opts ...DispatchOption) *DispatchService {
	s := &DispatchService{
		catalog:  catalog,
		pipeline: pipeline,
		auditor:  audit.NopStore{},
		logger:   logger,
		version:  "dev",
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handle processes one raw JSON-RPC frame. It never returns an error;
// protocol failures become JSON-RPC error responses in Reply.Body.
func (s *DispatchService) Handle(ctx context.Context, raw []byte) Reply {
	logger := loggerFromContext(ctx)
	if logger == nil {
		logger = s.logger
	}

	msg, err := mcp.WrapMessage(raw)
	if err != nil {
		logger.Debug("undecodable frame", "error", err)
		return Reply{Body: jsonRPCError(rawID(raw), mcp.CodeParseError, "parse error")}
	}
	if !msg.IsRequest() {
		return Reply{Body: jsonRPCError(msg.RawID(), mcp.CodeInvalidRequest, "expected a request")}
	}
	if msg.IsNotification() {
		logger.Debug("notification acknowledged", "method", msg.Method())
		return Reply{}
	}

	switch msg.Method() {
	case mcp.MethodInitialize:
		return Reply{Body: jsonRPCResult(msg.RawID(), s.initializeResult())}
	case mcp.MethodPing:
		return Reply{Body: jsonRPCResult(msg.RawID(), struct{}{})}
	case mcp.MethodToolsList:
		return Reply{Body: jsonRPCResult(msg.RawID(), s.listResult())}
	case mcp.MethodToolsCall:
		return s.handleToolCall(ctx, msg, logger)
	default:
		return Reply{Body: jsonRPCError(msg.RawID(), mcp.CodeMethodNotFound, "method not found: "+msg.Method())}
	}
}

func (s *DispatchService) initializeResult() map[string]any {
	return map[string]any{
		"protocolVersion": protocolVersion,
		"serverInfo": map[string]any{
			"name":    serverName,
			"version": s.version,
		},
		"capabilities": map[string]any{
			"tools": map[string]any{},
		},
	}
}

func (s *DispatchService) listResult() map[string]any {
	descs := s.catalog.Visible()
	tools := make([]map[string]any, 0, len(descs))
	for _, d := range descs {
		tools = append(tools, map[string]any{
			"name":        d.Name,
			"description": d.Description,
			"inputSchema": schemaJSON(d.Schema),
		})
	}
	return map[string]any{"tools": tools}
}

func (s *DispatchService) handleToolCall(ctx context.Context, msg *mcp.Message, logger *slog.Logger) Reply {
	params := msg.ParseParams()
	name, _ := params["name"].(string)
	if name == "" {
		return Reply{Body: jsonRPCError(msg.RawID(), mcp.CodeInvalidRequest, "tools/call requires params.name")}
	}
	args, _ := params["arguments"].(map[string]any)

	req := admission.Request{
		ID:          requestID(ctx),
		Tool:        name,
		ClientID:    clientIdentity(ctx),
		Args:        args,
		BearerToken: rawToken(ctx),
		Time:        msg.Timestamp,
	}

	start := time.Now()
	out := s.pipeline.Admit(ctx, req)

	reply := Reply{Rate: out.RateInfo, Window: out.RateWindow}
	if !out.Admitted() {
		reply.Body = s.rejectionBody(msg, out)
		if out.Rejection.Kind == admission.RejectRateLimit && out.Rejection.Tier == ratelimit.KeyKindCategory {
			reply.CategoryDenied = true
			reply.RetryAfter = out.Rejection.RetryAfter
		}
		logger.Info("tool call rejected",
			"tool", name,
			"kind", out.Rejection.Kind.String(),
			"stage", out.Stage,
		)
		s.record(ctx, req, out, audit.DecisionRejected, time.Since(start))
		return reply
	}

	result := s.invoke(ctx, name, out, logger)
	out.State = admission.StateDispatched
	reply.Body = jsonRPCResult(msg.RawID(), result)
	s.record(ctx, req, out, audit.DecisionAdmitted, time.Since(start))
	return reply
}

// invoke runs the tool handler with the sanitized arguments. Handler
// failures stay in-protocol; admission is not unwound, though a
// WorkNotPerformed report refunds the category quota.
func (s *DispatchService) invoke(ctx context.Context, name string, out *admission.Outcome, logger *slog.Logger) *mcp.ToolResult {
	desc, err := s.catalog.Callable(name)
	if err != nil {
		// The pipeline already resolved the descriptor; this only
		// triggers if the catalog changed underneath us.
		return mcp.NewErrorResult("tool unavailable: " + name)
	}

	result, err := desc.Handler(ctx, out.Sanitized)
	if err != nil {
		if errors.Is(err, tool.ErrWorkNotPerformed) && s.limiter != nil {
			if derr := s.limiter.Decrement(ctx, out.Category, out.ClientID); derr != nil {
				logger.Warn("rate refund failed", "tool", name, "error", derr)
			}
		}
		logger.Warn("tool handler failed", "tool", name, "error", err)
		return mcp.NewErrorResult("Tool " + name + " failed: " + err.Error())
	}
	if result == nil {
		result = mcp.NewTextResult("")
	}
	return result
}

// rejectionBody renders a pipeline rejection as the in-protocol
// response. Category-tier rate denials also get this body so the stdio
// transport has something to write; the HTTP transport substitutes the
// 429 payload.
func (s *DispatchService) rejectionBody(msg *mcp.Message, out *admission.Outcome) []byte {
	rej := out.Rejection
	switch rej.Kind {
	case admission.RejectAuth:
		return jsonRPCError(msg.RawID(), mcp.CodeInvalidRequest, "unauthorized: "+rej.Message)
	case admission.RejectValidation:
		result := mcp.NewErrorResult(rej.Message)
		result.ValidationErrors = rej.Errors
		return jsonRPCResult(msg.RawID(), result)
	default:
		return jsonRPCResult(msg.RawID(), mcp.NewErrorResult(rej.Message))
	}
}

func (s *DispatchService) record(ctx context.Context, req admission.Request, out *admission.Outcome, decision string, latency time.Duration) {
	rec := audit.Record{
		Time:          req.Time,
		RequestID:     req.ID,
		Tool:          req.Tool,
		Category:      out.Category,
		ClientID:      out.ClientID,
		Decision:      decision,
		Stage:         out.Stage,
		Warnings:      len(out.Warnings),
		LatencyMicros: latency.Microseconds(),
	}
	if out.ClientID == "" {
		rec.ClientID = req.ClientID
	}
	if out.Rejection != nil {
		rec.Reason = out.Rejection.Message
	}
	if err := s.auditor.Append(ctx, rec); err != nil {
		s.logger.Warn("audit append failed", "error", err)
	}
}

func requestID(ctx context.Context) string {
	if id, ok := ctx.Value(ctxkey.RequestIDKey{}).(string); ok {
		return id
	}
	return ""
}

func clientIdentity(ctx context.Context) string {
	if ip, ok := ctx.Value(ctxkey.ClientIPKey{}).(string); ok && ip != "" {
		return ip
	}
	return "local"
}

func rawToken(ctx context.Context) string {
	if tok, ok := ctx.Value(ctxkey.RawTokenKey{}).(string); ok {
		return tok
	}
	return ""
}

// rawID lifts the id field from bytes that failed full decoding, so
// even a parse-error response correlates where possible.
func rawID(raw []byte) json.RawMessage {
	var probe map[string]json.RawMessage
	if err := json.Unmarshal(raw, &probe); err != nil {
		return nil
	}
	return probe["id"]
}

// jsonRPCResult builds a response frame. A nil id encodes as null.
func jsonRPCResult(id json.RawMessage, result any) []byte {
	if id == nil {
		id = json.RawMessage("null")
	}
	frame := map[string]any{
		"jsonrpc": "2.0",
		"id":      id,
		"result":  result,
	}
	b, _ := json.Marshal(frame)
	return b
}

// jsonRPCError builds an error response frame.
func jsonRPCError(id json.RawMessage, code int, message string) []byte {
	if id == nil {
		id = json.RawMessage("null")
	}
	frame := map[string]any{
		"jsonrpc": "2.0",
		"id":      id,
		"error": map[string]any{
			"code":    code,
			"message": message,
		},
	}
	b, _ := json.Marshal(frame)
	return b
}

// schemaJSON renders a schema in the JSON Schema shape tools/list
// clients expect.
func schemaJSON(s validation.Schema) map[string]any {
	props := make(map[string]any, len(s.Properties))
	var required []string
	for name, p := range s.Properties {
		entry := map[string]any{"type": p.Type}
		if p.Description != "" {
			entry["description"] = p.Description
		}
		if p.MinLength != nil {
			entry["minLength"] = *p.MinLength
		}
		if p.MaxLength != nil {
			entry["maxLength"] = *p.MaxLength
		}
		if p.Minimum != nil {
			entry["minimum"] = *p.Minimum
		}
		if p.Maximum != nil {
			entry["maximum"] = *p.Maximum
		}
		if p.MinItems != nil {
			entry["minItems"] = *p.MinItems
		}
		if p.MaxItems != nil {
			entry["maxItems"] = *p.MaxItems
		}
		if p.Pattern != "" {
			entry["pattern"] = p.Pattern
		}
		if len(p.Enum) > 0 {
			entry["enum"] = p.Enum
		}
		props[name] = entry
		if p.Required {
			required = append(required, name)
		}
	}
	out := map[string]any{
		"type":       "object",
		"properties": props,
	}
	if len(required) > 0 {
		out["required"] = required
	}
	return out
}
