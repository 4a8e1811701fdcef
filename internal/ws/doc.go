// Package ws provides the WebSocket transport for relay connections.
//
// The package implements:
//   - Conn: wraps a gorilla/websocket connection with a buffered outbound
//     queue so relay-side sends never block
//   - ReadLoop/WriteLoop: the standard read/write pump split with write
//     deadlines and ping/pong keepalive
//
// Conn satisfies registry.Transport. Keepalive probing runs per
// transport on its own timer and is independent of session or device
// liveness state.
package ws
