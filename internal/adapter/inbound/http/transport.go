package http

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/fullstorydev/fs-lexicon-sub001/internal/adapter/outbound/oauth"
	"github.com/fullstorydev/fs-lexicon-sub001/internal/domain/auth"
	"github.com/fullstorydev/fs-lexicon-sub001/internal/domain/ratelimit"
	"github.com/fullstorydev/fs-lexicon-sub001/internal/service"
)

// Transport is the inbound HTTP adapter over the dispatch service.
type Transport struct {
	dispatch *service.DispatchService
	server   *http.Server
	addr     string
	logger   *slog.Logger
	metrics  *Metrics

	validator *auth.Validator
	provider  *oauth.Provider
	realm     string

	limiter     ratelimit.Limiter
	adminKeyHsh string
}

// Option configures the Transport.
type Option func(*Transport)

// WithAddr sets the listen address. Default is "127.0.0.1:8080".
func WithAddr(addr string) Option {
	return func(t *Transport) { t.addr = addr }
}

// WithLogger sets the transport logger.
func WithLogger(logger *slog.Logger) Option {
	return func(t *Transport) { t.logger = logger }
}

// WithBearerAuth installs token validation on /mcp. realm is the
// gateway's canonical resource URI, echoed in challenges.
func WithBearerAuth(v *auth.Validator, realm string) Option {
	return func(t *Transport) {
		t.validator = v
		t.realm = realm
	}
}

// WithOAuthProvider serves the discovery documents and advertises the
// resource metadata URL in challenges.
func WithOAuthProvider(p *oauth.Provider) Option {
	return func(t *Transport) { t.provider = p }
}

// WithAdminReset enables POST /admin/ratelimit/reset guarded by the
// given key hash.
func WithAdminReset(l ratelimit.Limiter, apiKeyHash string) Option {
	return func(t *Transport) {
		t.limiter = l
		t.adminKeyHsh = apiKeyHash
	}
}

// NewTransport creates the HTTP transport over the dispatch service.
func NewTransport(dispatch *service.DispatchService, opts ...Option) *Transport {
	t := &Transport{
		dispatch: dispatch,
		addr:     "127.0.0.1:8080",
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Handler builds the routed handler. Split from Start so tests can
// drive it with httptest.
func (t *Transport) Handler(reg *prometheus.Registry) http.Handler {
	if t.metrics == nil {
		t.metrics = NewMetrics(reg)
	}

	// Middleware order, outermost first: metrics capture the full
	// duration, then request identity, then client IP, then the bearer
	// check so rejected tokens never reach frame decoding.
	mcp := mcpHandler(t.dispatch, t.metrics)
	if t.validator != nil {
		challenge := ChallengeConfig{Realm: t.realm}
		if t.provider != nil {
			challenge.MetadataURL = t.provider.ResourceMetadataURL()
		}
		mcp = BearerAuthMiddleware(t.validator, challenge, t.metrics)(mcp)
	}
	mcp = RealIPMiddleware(mcp)
	mcp = RequestIDMiddleware(t.logger)(mcp)
	mcp = MetricsMiddleware(t.metrics)(mcp)

	mux := http.NewServeMux()
	mux.Handle("POST /mcp", mcp)
	mux.Handle("GET /healthz", healthzHandler())
	mux.Handle("GET /metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	mux.Handle("/admin/ratelimit/reset", adminResetHandler(t.limiter, t.adminKeyHsh, t.logger))
	if t.provider != nil {
		mux.Handle("GET "+oauth.WellKnownProtectedResource, protectedResourceHandler(t.provider))
		mux.Handle("GET "+oauth.WellKnownAuthorizationServer, authServerMetadataHandler(t.provider, t.logger))
	}
	return mux
}

// Start serves until the context is cancelled or the listener fails.
func (t *Transport) Start(ctx context.Context) error {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	t.server = &http.Server{
		Addr:              t.addr,
		Handler:           t.Handler(reg),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		t.logger.Info("http transport listening", "addr", t.addr)
		if err := t.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		t.logger.Info("shutting down http transport")
		return t.shutdown()
	case err := <-errCh:
		return err
	}
}

func (t *Transport) shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := t.server.Shutdown(ctx); err != nil {
		t.logger.Error("http shutdown failed", "error", err)
		return err
	}
	return nil
}

// Close gracefully shuts down the transport.
func (t *Transport) Close() error {
	if t.server == nil {
		return nil
	}
	return t.shutdown()
}
