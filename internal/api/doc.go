// Package api implements the HTTP REST API and WebSocket server of the
// DirectOut bridge.
//
// This package provides:
//   - REST endpoints for reading the mirrored state tree and writing values
//   - Action, feedback and variable definitions generated for the device
//   - Recording control and access to stored recorded actions
//   - WebSocket hub pushing variable, recorded-action and feedback events
//   - JWT authentication with ticket-based WebSocket auth
//   - Middleware stack (request ID, logging, recovery, CORS)
//
// # Architecture
//
// The server wraps a single device session. Every handler calls the
// session directly; there is no intermediate bus. The hub receives events
// through session hooks (see Hub.Hooks) and fans them out to WebSocket
// clients subscribed to the matching channel.
//
// # Security
//
// Every route under /api/v1 except /health and /ws requires a bearer token
// minted with the configured secret (see package auth). Each route checks
// one permission of the token's role. WebSocket connections use single-use
// tickets so the token never appears in a URL.
//
// # Graceful Degradation
//
// Reads work while the device is offline and return the last mirrored
// state. Writes fail with 503 until the device is connected and its
// snapshot has been processed.
package api
