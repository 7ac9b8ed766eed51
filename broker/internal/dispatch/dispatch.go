package dispatch

import (
	"log/slog"

	"github.com/consistd/consistd/broker/internal/registry"
	"github.com/consistd/consistd/pkg/wire"
)

// Event is one resource change on its way to subscribers.
type Event struct {
	URI     string
	Payload []byte
}

// Sinks enqueues outbound frames onto live session queues. Enqueue reports
// false when the session is gone or refused the frame; the dispatcher treats
// both as a skip, never as an error.
type Sinks interface {
	Enqueue(session string, f wire.Frame) bool
}

// Dispatcher fans change events out to every subscriber of the changed uri.
type Dispatcher struct {
	reg   *registry.Registry
	sinks Sinks
}

// New creates a dispatcher that resolves subscribers from reg and delivers
// through sinks.
func New(reg *registry.Registry, sinks Sinks) *Dispatcher {
	return &Dispatcher{reg: reg, sinks: sinks}
}

// Dispatch resolves ev's subscribers at call time and enqueues one
// invalidation frame per subscriber, at most once each. Sessions that
// disappeared between the snapshot and the enqueue are skipped. Dispatch
// never blocks on a slow session; it returns how many sessions accepted the
// frame.
func (d *Dispatcher) Dispatch(ev Event) int {
	sessions := d.reg.SubscribersOf(ev.URI)
	if len(sessions) == 0 {
		return 0
	}

	frame := wire.Invalidated(ev.URI, ev.Payload)
	n := 0
	for _, session := range sessions {
		if d.sinks.Enqueue(session, frame) {
			n++
			continue
		}
		slog.Debug("dispatch: session skipped", "session", session, "uri", ev.URI)
	}

	slog.Debug("dispatch: invalidation fanned out",
		"uri", ev.URI, "subscribers", len(sessions), "enqueued", n)
	return n
}
