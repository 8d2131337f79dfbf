package http

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"

	"github.com/fullstorydev/fs-lexicon-sub001/internal/adapter/outbound/oauth"
	"github.com/fullstorydev/fs-lexicon-sub001/internal/domain/admission"
	"github.com/fullstorydev/fs-lexicon-sub001/internal/domain/auth"
	"github.com/fullstorydev/fs-lexicon-sub001/internal/domain/ratelimit"
	"github.com/fullstorydev/fs-lexicon-sub001/internal/domain/tool"
	"github.com/fullstorydev/fs-lexicon-sub001/internal/domain/validation"
	"github.com/fullstorydev/fs-lexicon-sub001/internal/service"
	"github.com/fullstorydev/fs-lexicon-sub001/pkg/mcp"
)

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

type scriptedLimiter struct {
	category ratelimit.Decision
	tool     ratelimit.Decision
	resets   []string
}

func allowAll() *scriptedLimiter {
	allowed := ratelimit.Decision{Allowed: true, Limit: 60, Remaining: 42, ResetAt: time.Now().Add(time.Minute)}
	return &scriptedLimiter{category: allowed, tool: allowed}
}

func (s *scriptedLimiter) Admit(context.Context, string, string, ratelimit.Window) (ratelimit.Decision, error) {
	return s.category, nil
}

func (s *scriptedLimiter) AdmitTool(context.Context, string, string, ratelimit.Window) (ratelimit.Decision, error) {
	return s.tool, nil
}

func (s *scriptedLimiter) Decrement(context.Context, string, string) error { return nil }

func (s *scriptedLimiter) ResetClient(_ context.Context, clientID, category string) error {
	s.resets = append(s.resets, clientID+"/"+category)
	return nil
}

var _ ratelimit.Limiter = (*scriptedLimiter)(nil)

func testDispatch(t *testing.T, limiter *scriptedLimiter) *service.DispatchService {
	t.Helper()

	reg := tool.NewRegistry(false)
	err := reg.Register(tool.Descriptor{
		Name:     "webhook_echo",
		Category: validation.CategoryWebhook,
		Schema: validation.Schema{Properties: map[string]validation.Property{
			"note": {Type: "string", Required: true},
		}},
		Handler: func(_ context.Context, args map[string]any) (*mcp.ToolResult, error) {
			note, _ := args["note"].(string)
			return mcp.NewTextResult("echo: " + note), nil
		},
	})
	if err != nil {
		t.Fatalf("register: %v", err)
	}

	pipeline := admission.NewPipeline(reg, validation.NewRegistry(), validation.NewEngine(), discard,
		admission.WithLimiter(limiter, admission.Windows{
			Default: ratelimit.Window{Max: 60, Span: time.Minute},
			Tool:    ratelimit.Window{Max: 20, Span: time.Minute},
		}),
	)
	return service.NewDispatchService(reg, pipeline, discard)
}

func testServer(t *testing.T, opts ...Option) (*httptest.Server, *scriptedLimiter) {
	t.Helper()
	limiter := allowAll()
	tr := NewTransport(testDispatch(t, limiter), append([]Option{WithLogger(discard)}, opts...)...)
	srv := httptest.NewServer(tr.Handler(prometheus.NewRegistry()))
	t.Cleanup(srv.Close)
	return srv, limiter
}

func postMCP(t *testing.T, srv *httptest.Server, body string, header map[string]string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, srv.URL+"/mcp", strings.NewReader(body))
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range header {
		req.Header.Set(k, v)
	}
	resp, err := srv.Client().Do(req)
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

const callEcho = `{"jsonrpc":"2.0","id":1,"method":"tools/call","params":{"name":"webhook_echo","arguments":{"note":"hi"}}}`

func TestHealthz(t *testing.T) {
	srv, _ := testServer(t)
	resp, err := srv.Client().Get(srv.URL + "/healthz")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), `"status":"ok"`) {
		t.Errorf("body = %s", body)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	limiter := allowAll()
	tr := NewTransport(testDispatch(t, limiter), WithLogger(discard))
	reg := prometheus.NewRegistry()
	srv := httptest.NewServer(tr.Handler(reg))
	t.Cleanup(srv.Close)

	postMCP(t, srv, callEcho, nil)

	resp, err := srv.Client().Get(srv.URL + "/metrics")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	var requests *dto.MetricFamily
	for _, mf := range families {
		if mf.GetName() == "lexicon_http_requests_total" {
			requests = mf
		}
	}
	if requests == nil {
		t.Fatal("lexicon_http_requests_total not registered")
	}
	var total float64
	for _, m := range requests.GetMetric() {
		total += m.GetCounter().GetValue()
	}
	if total < 1 {
		t.Fatalf("requests total = %v, want >= 1", total)
	}
}

func TestMCP_GETNotAllowed(t *testing.T) {
	srv, _ := testServer(t)
	resp, err := srv.Client().Get(srv.URL + "/mcp")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Fatalf("status = %d", resp.StatusCode)
	}
}

func TestMCP_RejectsNonJSONContentType(t *testing.T) {
	srv, _ := testServer(t)
	resp := postMCP(t, srv, callEcho, map[string]string{"Content-Type": "text/plain"})
	if resp.StatusCode != http.StatusUnsupportedMediaType {
		t.Fatalf("status = %d", resp.StatusCode)
	}
}

func TestMCP_RejectsOversizedBody(t *testing.T) {
	srv, _ := testServer(t)
	resp := postMCP(t, srv, `{"pad":"`+strings.Repeat("x", maxRequestBytes+16)+`"}`, nil)
	if resp.StatusCode != http.StatusRequestEntityTooLarge {
		t.Fatalf("status = %d", resp.StatusCode)
	}
}

func TestMCP_NotificationAccepted(t *testing.T) {
	srv, _ := testServer(t)
	resp := postMCP(t, srv, `{"jsonrpc":"2.0","method":"notifications/initialized"}`, nil)
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	body, _ := io.ReadAll(resp.Body)
	if len(body) != 0 {
		t.Errorf("notification response body = %s", body)
	}
}

func TestMCP_AdmittedCallCarriesRateHeaders(t *testing.T) {
	srv, _ := testServer(t)
	resp := postMCP(t, srv, callEcho, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if got := resp.Header.Get("X-RateLimit-Limit"); got != "60" {
		t.Errorf("X-RateLimit-Limit = %q", got)
	}
	if got := resp.Header.Get("X-RateLimit-Remaining"); got != "42" {
		t.Errorf("X-RateLimit-Remaining = %q", got)
	}
	if resp.Header.Get("X-RateLimit-Reset") == "" {
		t.Error("missing X-RateLimit-Reset")
	}
	if got := resp.Header.Get("X-RateLimit-Window"); got != "60000" {
		t.Errorf("X-RateLimit-Window = %q", got)
	}
	if resp.Header.Get("X-Request-ID") == "" {
		t.Error("missing X-Request-ID")
	}
}

func TestMCP_CategoryDenialIs429(t *testing.T) {
	srv, limiter := testServer(t)
	limiter.category = ratelimit.Decision{
		Allowed:    false,
		Limit:      60,
		Remaining:  0,
		ResetAt:    time.Now().Add(30 * time.Second),
		RetryAfter: 30 * time.Second,
	}

	resp := postMCP(t, srv, callEcho, nil)
	if resp.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if got := resp.Header.Get("Retry-After"); got != "30" {
		t.Errorf("Retry-After = %q", got)
	}

	var body struct {
		Success       bool   `json:"success"`
		Error         string `json:"error"`
		RateLimitInfo struct {
			Limit      int `json:"limit"`
			Remaining  int `json:"remaining"`
			RetryAfter int `json:"retryAfter"`
		} `json:"rateLimitInfo"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode 429 body: %v", err)
	}
	if body.Success || body.Error != "Rate limit exceeded" {
		t.Errorf("body = %+v", body)
	}
	if body.RateLimitInfo.Limit != 60 || body.RateLimitInfo.Remaining != 0 || body.RateLimitInfo.RetryAfter != 30 {
		t.Errorf("rateLimitInfo = %+v", body.RateLimitInfo)
	}
}

func TestMCP_ToolDenialStaysInProtocol(t *testing.T) {
	srv, limiter := testServer(t)
	limiter.tool = ratelimit.Decision{
		Allowed:    false,
		Limit:      20,
		Remaining:  0,
		ResetAt:    time.Now().Add(10 * time.Second),
		RetryAfter: 10 * time.Second,
	}

	resp := postMCP(t, srv, callEcho, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, tool-tier denials stay in-protocol", resp.StatusCode)
	}
	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), "Rate limit exceeded for tool webhook_echo") {
		t.Errorf("body = %s", body)
	}
}

func signToken(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("test-key"))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return signed
}

func TestBearerAuth_MissingToken(t *testing.T) {
	validator := auth.NewValidator()
	srv, _ := testServer(t, WithBearerAuth(validator, "https://gate.example.com/mcp"))

	resp := postMCP(t, srv, callEcho, nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	challenge := resp.Header.Get("WWW-Authenticate")
	if !strings.HasPrefix(challenge, `Bearer realm="https://gate.example.com/mcp"`) {
		t.Errorf("challenge = %q", challenge)
	}
	if strings.Contains(challenge, "invalid_token") {
		t.Errorf("missing-token challenge must not carry an error code: %q", challenge)
	}

	var body map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body["error"] != "unauthorized" || body["error_description"] != "missing bearer token" {
		t.Errorf("body = %v", body)
	}
}

func TestBearerAuth_ExpiredToken(t *testing.T) {
	validator := auth.NewValidator()
	srv, _ := testServer(t, WithBearerAuth(validator, "https://gate.example.com/mcp"))

	token := signToken(t, jwt.MapClaims{
		"sub": "client-1",
		"exp": jwt.NewNumericDate(time.Now().Add(-time.Hour)),
	})
	resp := postMCP(t, srv, callEcho, map[string]string{"Authorization": "Bearer " + token})
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	challenge := resp.Header.Get("WWW-Authenticate")
	if !strings.Contains(challenge, `error="invalid_token"`) || !strings.Contains(challenge, `error_description="token expired"`) {
		t.Errorf("challenge = %q", challenge)
	}
}

func TestBearerAuth_ValidTokenPasses(t *testing.T) {
	validator := auth.NewValidator()
	srv, _ := testServer(t, WithBearerAuth(validator, "https://gate.example.com/mcp"))

	token := signToken(t, jwt.MapClaims{
		"sub": "client-1",
		"exp": jwt.NewNumericDate(time.Now().Add(time.Hour)),
		"iat": jwt.NewNumericDate(time.Now()),
	})
	resp := postMCP(t, srv, callEcho, map[string]string{"Authorization": "Bearer " + token})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
}

func TestWellKnown_ProtectedResource(t *testing.T) {
	provider := oauth.NewProvider(oauth.ResourceConfig{
		Resource:             "https://gate.example.com/mcp",
		AuthorizationServers: []string{"https://issuer.example.com"},
	}, "https://issuer.example.com")
	srv, _ := testServer(t, WithOAuthProvider(provider))

	resp, err := srv.Client().Get(srv.URL + oauth.WellKnownProtectedResource)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var doc oauth.ProtectedResource
	if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if doc.Resource != "https://gate.example.com/mcp" {
		t.Errorf("resource = %q", doc.Resource)
	}
}

func TestWellKnown_AuthServerMetadataUnavailable(t *testing.T) {
	// Nothing listens at the issuer URL, so the proxied fetch fails.
	provider := oauth.NewProvider(oauth.ResourceConfig{
		Resource: "https://gate.example.com/mcp",
	}, "http://127.0.0.1:1")
	srv, _ := testServer(t, WithOAuthProvider(provider))

	resp, err := srv.Client().Get(srv.URL + oauth.WellKnownAuthorizationServer)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusInternalServerError {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var body map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["error"] != "metadata_unavailable" {
		t.Errorf("body = %v", body)
	}
	if body["error_description"] == "" {
		t.Errorf("body = %v, want an error_description", body)
	}
}

func TestAdminReset(t *testing.T) {
	key := "super-secret-admin-key"
	hash := auth.HashKey(key)

	srv, _ := testServer(t)
	resp := postJSON(t, srv, "/admin/ratelimit/reset", `{"client_id":"cli-1"}`, nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("unprovisioned endpoint status = %d, want 404", resp.StatusCode)
	}

	limiter2 := allowAll()
	tr := NewTransport(testDispatch(t, limiter2), WithLogger(discard), WithAdminReset(limiter2, hash))
	srv2 := httptest.NewServer(tr.Handler(prometheus.NewRegistry()))
	t.Cleanup(srv2.Close)

	resp = postJSON(t, srv2, "/admin/ratelimit/reset", `{"client_id":"cli-1"}`, map[string]string{"X-Admin-Key": "wrong"})
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("bad key status = %d", resp.StatusCode)
	}

	resp = postJSON(t, srv2, "/admin/ratelimit/reset", `{"client_id":"cli-1","category":"warehouse"}`, map[string]string{"X-Admin-Key": key})
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("reset status = %d", resp.StatusCode)
	}
	if len(limiter2.resets) != 1 || limiter2.resets[0] != "cli-1/warehouse" {
		t.Errorf("resets = %v", limiter2.resets)
	}
}

func postJSON(t *testing.T, srv *httptest.Server, path, body string, header map[string]string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, srv.URL+path, strings.NewReader(body))
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range header {
		req.Header.Set(k, v)
	}
	resp, err := srv.Client().Do(req)
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}
