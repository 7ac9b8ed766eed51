// Package dispatch routes change events from ingest to subscriber sessions.
//
// The dispatcher is stateless: on every event it snapshots the current
// subscribers of the changed uri from the registry and offers one
// invalidation frame to each through the Sinks interface. A refused enqueue
// (session closing, queue policy) is a silent skip — fan-out to one session
// never depends on another session's health.
package dispatch
