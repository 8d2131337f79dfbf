package admission

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/fullstorydev/fs-lexicon-sub001/internal/domain/auth"
	"github.com/fullstorydev/fs-lexicon-sub001/internal/domain/policy"
	"github.com/fullstorydev/fs-lexicon-sub001/internal/domain/ratelimit"
	"github.com/fullstorydev/fs-lexicon-sub001/internal/domain/tool"
	"github.com/fullstorydev/fs-lexicon-sub001/internal/domain/validation"
)

// tracerName identifies admission spans.
const tracerName = "lexicon-gate/admission"

// Stage names used in audit records and metrics labels.
const (
	StageAuth         = "auth"
	StageValidation   = "validation"
	StageRules        = "rules"
	StageRateCategory = "rate_category"
	StageRateTool     = "rate_tool"
	StageDispatch     = "dispatch"
)

// TokenValidator is the auth stage dependency.
type TokenValidator interface {
	Validate(ctx context.Context, rawToken string) (*auth.Claims, error)
}

// Pipeline runs every tools/call through the fixed stage order:
// authentication, schema + sanitization, admission rules, category rate
// tier, tool rate tier. Rules run before the rate checks so a denied
// request never consumes quota.
type Pipeline struct {
	authn     TokenValidator
	policies  *validation.Registry
	sanitizer *validation.Engine
	rules     *policy.Engine
	limiter   ratelimit.Limiter
	windows   Windows
	catalog   *tool.Registry
	challenge func(err error) string

	logger  *slog.Logger
	metrics *Metrics
	tracer  trace.Tracer
}

// PipelineOption configures optional pipeline stages.
type PipelineOption func(*Pipeline)

// WithTokenValidator enables the authentication stage.
func WithTokenValidator(v TokenValidator) PipelineOption {
	return func(p *Pipeline) { p.authn = v }
}

// WithRules enables the admission rule stage. A nil or empty engine
// leaves the stage disabled.
func WithRules(e *policy.Engine) PipelineOption {
	return func(p *Pipeline) {
		if e != nil && !e.Empty() {
			p.rules = e
		}
	}
}

// WithLimiter enables the two rate-limit stages.
func WithLimiter(l ratelimit.Limiter, w Windows) PipelineOption {
	return func(p *Pipeline) {
		p.limiter = l
		p.windows = w
	}
}

// WithChallenge sets the WWW-Authenticate builder used for auth
// rejections. The HTTP adapter supplies one carrying the resource
// metadata URL.
func WithChallenge(fn func(err error) string) PipelineOption {
	return func(p *Pipeline) { p.challenge = fn }
}

// WithMetrics sets the Prometheus metrics sink.
func WithMetrics(m *Metrics) PipelineOption {
	return func(p *Pipeline) { p.metrics = m }
}

// NewPipeline wires the always-on stages (tool resolution, validation)
// with whichever optional stages the options enable.
func NewPipeline(catalog *tool.Registry, policies *validation.Registry, sanitizer *validation.Engine, logger *slog.Logger, opts ...PipelineOption) *Pipeline {
	p := &Pipeline{
		policies:  policies,
		sanitizer: sanitizer,
		catalog:   catalog,
		challenge: defaultChallenge,
		logger:    logger,
		metrics:   NopMetrics(),
		tracer:    otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func defaultChallenge(err error) string {
	return fmt.Sprintf("Bearer error=%q, error_description=%q", "invalid_token", auth.SafeReason(err))
}

// Admit runs req through the pipeline. The returned outcome is either
// StateRateChecked (dispatch may proceed with Outcome.Sanitized) or
// StateRejected with a populated Rejection.
func (p *Pipeline) Admit(ctx context.Context, req Request) *Outcome {
	ctx, span := p.tracer.Start(ctx, "admission.Admit",
		trace.WithAttributes(
			attribute.String("tool", req.Tool),
			attribute.String("request_id", req.ID),
		))
	defer span.End()

	out := &Outcome{State: StateReceived, Stage: StageAuth}

	if rej := p.authenticate(ctx, req, out); rej != nil {
		return p.reject(out, rej)
	}
	out.State = StateAuthenticated

	// Authenticated subject takes over as the rate identity.
	clientID := req.ClientID
	if out.Claims != nil {
		clientID = out.Claims.RateKey()
	}
	out.ClientID = clientID

	out.Stage = StageValidation
	desc, rej := p.validate(ctx, req, out)
	if rej != nil {
		return p.reject(out, rej)
	}
	out.State = StateValidated

	category := req.Category
	if category == "" {
		category = desc.Category
	}
	out.Category = category
	span.SetAttributes(attribute.String("category", category))

	out.Stage = StageRules
	if rej := p.applyRules(ctx, req, out, category, clientID); rej != nil {
		return p.reject(out, rej)
	}

	out.Stage = StageRateCategory
	if rej := p.checkRates(ctx, req, out, category, clientID); rej != nil {
		return p.reject(out, rej)
	}
	out.State = StateRateChecked
	out.Stage = StageDispatch

	p.metrics.AdmittedTotal.Inc()
	return out
}

func (p *Pipeline) reject(out *Outcome, rej *Rejection) *Outcome {
	out.State = StateRejected
	out.Rejection = rej
	p.metrics.RejectedTotal.WithLabelValues(rej.Kind.String()).Inc()
	return out
}

func (p *Pipeline) authenticate(ctx context.Context, req Request, out *Outcome) *Rejection {
	if p.authn == nil {
		return nil
	}
	ctx, span := p.tracer.Start(ctx, "admission.auth")
	defer span.End()
	start := time.Now()
	defer p.observeStage(StageAuth, start)

	claims, err := p.authn.Validate(ctx, req.BearerToken)
	if err != nil {
		p.logger.Info("authentication rejected",
			"request_id", req.ID,
			"tool", req.Tool,
			"error", err,
		)
		return &Rejection{
			Kind:            RejectAuth,
			Message:         auth.SafeReason(err),
			WWWAuthenticate: p.challenge(err),
		}
	}
	out.Claims = claims
	return nil
}

func (p *Pipeline) validate(ctx context.Context, req Request, out *Outcome) (tool.Descriptor, *Rejection) {
	_, span := p.tracer.Start(ctx, "admission.validation")
	defer span.End()
	start := time.Now()
	defer p.observeStage(StageValidation, start)

	desc, err := p.catalog.Callable(req.Tool)
	if err != nil {
		kind := RejectValidation
		if errors.Is(err, tool.ErrSafeModeRestricted) {
			kind = RejectSafeMode
		}
		return tool.Descriptor{}, &Rejection{
			Kind:    kind,
			Message: err.Error(),
			Errors:  []string{err.Error()},
		}
	}

	out.Category = desc.Category

	schemaErrs, schemaWarns := desc.Schema.Validate(req.Args)
	res := p.sanitizer.SanitizeArguments(req.Args, p.policies.Lookup(req.Tool))

	out.Sanitized = res.Sanitized
	out.Warnings = append(schemaWarns, res.Warnings...)

	errs := append(schemaErrs, res.Errors...)
	if len(errs) > 0 {
		rendered := make([]string, len(errs))
		for i, e := range errs {
			rendered[i] = e.String()
		}
		return tool.Descriptor{}, &Rejection{
			Kind:    RejectValidation,
			Message: fmt.Sprintf("Validation failed for tool %s: %s", req.Tool, strings.Join(rendered, "; ")),
			Errors:  rendered,
		}
	}
	return desc, nil
}

func (p *Pipeline) applyRules(ctx context.Context, req Request, out *Outcome, category, clientID string) *Rejection {
	if p.rules == nil {
		return nil
	}
	ctx, span := p.tracer.Start(ctx, "admission.rules")
	defer span.End()
	start := time.Now()
	defer p.observeStage(StageRules, start)

	var scopes []string
	if out.Claims != nil {
		scopes = out.Claims.Scopes()
	}
	dec := p.rules.Evaluate(ctx, policy.Input{
		Tool:     req.Tool,
		Category: category,
		ClientID: clientID,
		Args:     out.Sanitized,
		Scopes:   scopes,
	})
	if !dec.Allowed {
		p.metrics.RuleEvaluations.WithLabelValues("deny").Inc()
		return &Rejection{
			Kind:    RejectPolicy,
			Message: dec.Reason,
		}
	}
	p.metrics.RuleEvaluations.WithLabelValues("allow").Inc()
	return nil
}

func (p *Pipeline) checkRates(ctx context.Context, req Request, out *Outcome, category, clientID string) *Rejection {
	if p.limiter == nil {
		return nil
	}

	ctx, span := p.tracer.Start(ctx, "admission.rate")
	defer span.End()

	window := p.windows.ForCategory(category)
	start := time.Now()
	catDec, err := p.limiter.Admit(ctx, category, clientID, window)
	p.observeStage(StageRateCategory, start)
	if err != nil {
		p.metrics.RateFailOpens.Inc()
	}
	out.RateInfo = &catDec
	out.RateWindow = window.Span
	if !catDec.Allowed {
		return &Rejection{
			Kind:       RejectRateLimit,
			Tier:       ratelimit.KeyKindCategory,
			Message:    fmt.Sprintf("Rate limit exceeded for category %s. Please retry in %d seconds.", category, int(catDec.RetryAfter.Seconds())),
			RetryAfter: catDec.RetryAfter,
		}
	}

	out.Stage = StageRateTool
	start = time.Now()
	toolDec, err := p.limiter.AdmitTool(ctx, req.Tool, clientID, p.windows.ForTool(req.Tool))
	p.observeStage(StageRateTool, start)
	if err != nil {
		p.metrics.RateFailOpens.Inc()
	}
	if !toolDec.Allowed {
		return &Rejection{
			Kind:       RejectRateLimit,
			Tier:       ratelimit.KeyKindTool,
			Message:    fmt.Sprintf("Rate limit exceeded for tool %s. Please retry in %d seconds.", req.Tool, int(toolDec.RetryAfter.Seconds())),
			RetryAfter: toolDec.RetryAfter,
		}
	}
	return nil
}

func (p *Pipeline) observeStage(stage string, start time.Time) {
	p.metrics.StageDuration.WithLabelValues(stage).Observe(time.Since(start).Seconds())
}
