package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	httptransport "github.com/fullstorydev/fs-lexicon-sub001/internal/adapter/inbound/http"
	"github.com/fullstorydev/fs-lexicon-sub001/internal/adapter/inbound/stdio"
	"github.com/fullstorydev/fs-lexicon-sub001/internal/adapter/outbound/cel"
	"github.com/fullstorydev/fs-lexicon-sub001/internal/adapter/outbound/fullstory"
	"github.com/fullstorydev/fs-lexicon-sub001/internal/adapter/outbound/memory"
	"github.com/fullstorydev/fs-lexicon-sub001/internal/adapter/outbound/oauth"
	"github.com/fullstorydev/fs-lexicon-sub001/internal/adapter/outbound/redisstore"
	"github.com/fullstorydev/fs-lexicon-sub001/internal/adapter/outbound/sqlitestore"
	"github.com/fullstorydev/fs-lexicon-sub001/internal/adapter/outbound/warehouse"
	"github.com/fullstorydev/fs-lexicon-sub001/internal/config"
	"github.com/fullstorydev/fs-lexicon-sub001/internal/domain/admission"
	"github.com/fullstorydev/fs-lexicon-sub001/internal/domain/audit"
	"github.com/fullstorydev/fs-lexicon-sub001/internal/domain/auth"
	"github.com/fullstorydev/fs-lexicon-sub001/internal/domain/policy"
	"github.com/fullstorydev/fs-lexicon-sub001/internal/domain/ratelimit"
	"github.com/fullstorydev/fs-lexicon-sub001/internal/domain/validation"
	"github.com/fullstorydev/fs-lexicon-sub001/internal/service"
	"github.com/fullstorydev/fs-lexicon-sub001/internal/telemetry"
)

var useStdio bool

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the gateway",
	Long: `Start the admission gateway.

By default the gateway listens for MCP frames over HTTP on the
configured address. With --stdio it speaks newline-delimited JSON-RPC
on stdin/stdout instead, for use as a local MCP server; logs go to
stderr so the protocol stream stays clean.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return runServe(ctx, cfg, useStdio)
	},
}

func init() {
	serveCmd.Flags().BoolVar(&useStdio, "stdio", false, "serve MCP over stdin/stdout instead of HTTP")
	rootCmd.AddCommand(serveCmd)
}

func runServe(ctx context.Context, cfg *config.Config, stdioMode bool) error {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: parseLogLevel(cfg.Logging.Level),
	}))
	slog.SetDefault(logger)

	if used := config.ConfigFileUsed(); used != "" {
		logger.Info("config loaded", "file", used)
	}

	shutdownTelemetry, err := telemetry.Setup(ctx, telemetry.Config{
		ServiceName: "lexicon-gate",
		Version:     Version,
		Enabled:     cfg.Observability.TracingEnabled,
	})
	if err != nil {
		return fmt.Errorf("telemetry setup: %w", err)
	}
	defer func() {
		if err := shutdownTelemetry(context.Background()); err != nil {
			logger.Warn("telemetry shutdown", "error", err)
		}
	}()

	// Validation policies: builtins plus optional file overrides.
	policies := validation.NewRegistry()
	if cfg.Validation.PolicyFile != "" {
		if err := policies.LoadOverridesFile(cfg.Validation.PolicyFile); err != nil {
			return fmt.Errorf("load validation policies: %w", err)
		}
	}
	sanitizer := validation.NewEngine(validation.WithEnvironment(cfg.Server.Environment))

	// Outbound collaborators for the tool catalog.
	var fsAPI service.FullstoryAPI
	if cfg.Fullstory.APIToken != "" {
		fsAPI = fullstory.NewClient(cfg.Fullstory.APIBaseURL, cfg.Fullstory.APIToken, cfg.Fullstory.RequestsPerSecond)
	}
	wh, err := warehouse.NewExecutor(cfg.Warehouse.Platform, cfg.Warehouse.DSN)
	if err != nil {
		return fmt.Errorf("warehouse executor: %w", err)
	}

	catalog, err := service.BuildCatalog(service.CatalogDeps{
		Fullstory: fsAPI,
		Warehouse: wh,
		SafeMode:  cfg.SafeMode.Enabled,
		Version:   Version,
		Started:   time.Now(),
	})
	if err != nil {
		return fmt.Errorf("build catalog: %w", err)
	}
	logger.Info("catalog built", "tools", len(catalog.Names()), "safe_mode", cfg.SafeMode.Enabled)

	pipelineOpts := []admission.PipelineOption{}
	transportOpts := []httptransport.Option{
		httptransport.WithAddr(cfg.Server.Addr()),
		httptransport.WithLogger(logger),
	}

	// Bearer-token validation, shared by the HTTP challenge middleware
	// and the pipeline auth stage.
	if cfg.Auth.Enabled {
		validatorOpts := []auth.ValidatorOption{
			auth.WithMaxTokenAge(cfg.Auth.MaxTokenAge()),
		}
		if cfg.Auth.RequireAudienceValidation {
			validatorOpts = append(validatorOpts, auth.WithRequiredAudience(cfg.Auth.ServerCanonicalURI))
		}
		tokenCache := auth.NewTokenCache(cfg.Auth.TokenCacheTTL())
		tokenCache.StartCleanup(ctx)
		defer tokenCache.Stop()
		validatorOpts = append(validatorOpts, auth.WithCache(tokenCache))
		if cfg.Auth.VerifySignatures {
			jwksURL := strings.TrimRight(cfg.Auth.AuthServerURL, "/") + "/.well-known/jwks.json"
			validatorOpts = append(validatorOpts, auth.WithSignatureVerifier(auth.NewJWKSVerifier(jwksURL, 10*time.Second)))
		}
		validator := auth.NewValidator(validatorOpts...)

		provider := oauth.NewProvider(oauth.ResourceConfig{
			Resource:             cfg.Auth.ServerCanonicalURI,
			AuthorizationServers: []string{cfg.Auth.AuthServerURL},
			Documentation:        cfg.Server.DocsURL,
			PolicyURI:            cfg.Server.PolicyURI,
			TOSURI:               cfg.Server.TOSURI,
		}, cfg.Auth.AuthServerURL)
		// An authorization server that does not advertise PKCE S256 is a
		// deployment error, not a transient one: refuse to start. A
		// metadata fetch failure may just be the server coming up, so that
		// only warns and the handler retries per request.
		if err := provider.VerifyStartup(ctx); err != nil {
			if errors.Is(err, oauth.ErrAuthConfiguration) {
				return fmt.Errorf("verify authorization server: %w", err)
			}
			logger.Warn("authorization server verification failed", "error", err)
		}

		pipelineOpts = append(pipelineOpts, admission.WithTokenValidator(validator))
		transportOpts = append(transportOpts,
			httptransport.WithBearerAuth(validator, cfg.Auth.ServerCanonicalURI),
			httptransport.WithOAuthProvider(provider),
		)
	}

	// Rate limiting across category and tool tiers.
	var limiter ratelimit.Limiter
	if cfg.RateLimit.Enabled {
		var store ratelimit.BucketStore
		switch cfg.RateLimit.Store {
		case config.StoreRedis:
			redisOpts, err := redis.ParseURL(cfg.RateLimit.RedisURL)
			if err != nil {
				return fmt.Errorf("parse redis url: %w", err)
			}
			store = redisstore.NewBucketStore(redis.NewClient(redisOpts))
		default:
			mem := memory.NewBucketStore()
			defer mem.Stop()
			store = mem
		}
		limiter = ratelimit.NewFixedWindowLimiter(store, logger,
			ratelimit.WithKnownCategories(catalog.Categories()),
			ratelimit.WithKnownTools(catalog.Names()),
		)
		pipelineOpts = append(pipelineOpts, admission.WithLimiter(limiter, buildWindows(cfg.RateLimit)))
	}

	// CEL admission rules.
	if cfg.Policy.RulesFile != "" {
		compiler, err := cel.NewCompiler()
		if err != nil {
			return fmt.Errorf("cel compiler: %w", err)
		}
		rules, err := policy.LoadEngineFile(cfg.Policy.RulesFile, compiler, logger)
		if err != nil {
			return fmt.Errorf("load admission rules: %w", err)
		}
		pipelineOpts = append(pipelineOpts, admission.WithRules(rules))
	}

	pipeline := admission.NewPipeline(catalog, policies, sanitizer, logger, pipelineOpts...)

	var auditor audit.Store
	if cfg.Audit.Enabled {
		sqlStore, err := sqlitestore.NewAuditStore(cfg.Audit.DBPath, logger)
		if err != nil {
			return fmt.Errorf("open audit store: %w", err)
		}
		defer func() {
			if err := sqlStore.Close(); err != nil {
				logger.Warn("close audit store", "error", err)
			}
		}()
		auditor = sqlStore
	} else {
		auditor = memory.NewAuditStore(0)
	}

	dispatchOpts := []service.DispatchOption{
		service.WithAuditor(auditor),
		service.WithVersion(Version),
	}
	if limiter != nil {
		dispatchOpts = append(dispatchOpts, service.WithRefunds(limiter))
	}
	dispatch := service.NewDispatchService(catalog, pipeline, logger, dispatchOpts...)

	if stdioMode {
		logger.Info("serving over stdio")
		return stdio.NewTransport(dispatch, logger).Start(ctx)
	}

	if cfg.Admin.APIKeyHash != "" && limiter != nil {
		transportOpts = append(transportOpts, httptransport.WithAdminReset(limiter, cfg.Admin.APIKeyHash))
	}
	transport := httptransport.NewTransport(dispatch, transportOpts...)
	logger.Info("serving over http", "addr", cfg.Server.Addr(), "environment", cfg.Server.Environment)
	return transport.Start(ctx)
}

// buildWindows maps the rate limit config onto admission tiers.
func buildWindows(rl config.RateLimitConfig) admission.Windows {
	w := admission.Windows{
		Default: toWindow(rl.Default),
		Tool:    toWindow(rl.Tool),
	}
	if len(rl.Categories) > 0 {
		w.Categories = make(map[string]ratelimit.Window, len(rl.Categories))
		for name, wc := range rl.Categories {
			w.Categories[name] = toWindow(wc)
		}
	}
	if len(rl.Tools) > 0 {
		w.Tools = make(map[string]ratelimit.Window, len(rl.Tools))
		for name, wc := range rl.Tools {
			w.Tools[name] = toWindow(wc)
		}
	}
	return w
}

func toWindow(wc config.WindowConfig) ratelimit.Window {
	return ratelimit.Window{Max: wc.MaxRequests, Span: wc.Span()}
}

func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
