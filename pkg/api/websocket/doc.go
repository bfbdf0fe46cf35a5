// Package websocket provides real-time instance status via WebSocket.
//
// Clients connect to /runtime/webhooks/durabletask/instances/:id/ws and
// receive the current status document, then every lifecycle event of that
// instance until it reaches a terminal status.
package websocket
