// Package ws keeps the agent's WebSocket connection to the coach server
// alive.
//
// The package implements:
//   - Manager: owns the single logical connection, reconnects with capped
//     exponential back-off and dispatches inbound events to callbacks
//   - the liveness prober: one outstanding ping at a time, declaring the
//     link dead when its pong does not arrive in time
//   - Encode and Decode: the JSON frame codec with strict shape checks
//   - WebSocketDialer: the gorilla/websocket transport
//
// All timers go through clock.Clock so the state machines can be driven
// deterministically in tests.
package ws
