// Package http provides the HTTP server.
//
// The server exposes:
//   - the single-page UI (GET /, POST /ui/start, POST /ui/check)
//   - health checks and Prometheus metrics
//   - optionally, a simulated orchestration platform under
//     /api/orchestrators and /runtime/webhooks/durabletask
//
// Each page load gets its own controller session, bound by a cookie.
package http
