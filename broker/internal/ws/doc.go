// Package ws implements the client-facing WebSocket side of consistd.
//
// Hub accepts connections upgraded at /ws/stream, gives each one a session
// with a ULID identity and a bounded outbound queue, and implements the
// dispatcher's delivery interface. Each session runs a read pump handling
// subscribe, unsubscribe and close frames, and a write pump that is the only
// writer on the connection.
//
// Teardown is deliberately one-way: a dying session first stops accepting
// outbound frames, then releases its registry entries, then the socket goes
// away. Dispatch concurrent with teardown sees a refusal, never a panic.
//
// When a session's queue is full the configured OverflowPolicy applies:
// drop_oldest sheds the stalest frame and keeps the client connected,
// disconnect closes the session so the client reconnects with fresh state.
//
// The upgrader accepts all origins. Apply CORS restrictions at the reverse
// proxy level.
package ws
