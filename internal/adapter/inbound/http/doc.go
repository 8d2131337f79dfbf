// Package http provides the HTTP transport adapter for the gateway.
//
// It exposes the JSON-RPC dispatch endpoint at POST /mcp, the OAuth
// discovery documents under /.well-known/, a liveness probe at
// /healthz, Prometheus metrics at /metrics, and the admin rate-limit
// reset endpoint.
//
// Transport-level responsibilities end at the admission boundary:
// bearer tokens are checked here so unauthenticated traffic is turned
// away with a proper WWW-Authenticate challenge before a frame is
// decoded, and category-tier rate denials surface as HTTP 429. Every
// other outcome is expressed inside the JSON-RPC protocol by the
// dispatch service.
package http
