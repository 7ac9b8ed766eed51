package ws

import (
	"context"
	"log/slog"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/oklog/ulid/v2"

	"github.com/consistd/consistd/broker/internal/metrics"
	"github.com/consistd/consistd/broker/internal/registry"
	"github.com/consistd/consistd/pkg/wire"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	Subprotocols:    []string{wire.Subprotocol},
	// Allow all origins — callers should apply CORS at the reverse-proxy level.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Hub owns every connected session. It upgrades incoming connections, tracks
// sessions by id, and is the Sinks the dispatcher delivers through.
type Hub struct {
	reg       *registry.Registry
	met       *metrics.Metrics
	queueSize int
	policy    OverflowPolicy

	mu       sync.RWMutex
	sessions map[string]*session
}

// New creates a Hub whose sessions queue up to queueSize outbound frames and
// apply policy when that queue is full.
func New(reg *registry.Registry, met *metrics.Metrics, queueSize int, policy OverflowPolicy) *Hub {
	return &Hub{
		reg:       reg,
		met:       met,
		queueSize: queueSize,
		policy:    policy,
		sessions:  make(map[string]*session),
	}
}

// ServeHTTP upgrades the HTTP connection to WebSocket and serves the session.
// Blocks until the connection closes, then releases everything the session
// subscribed to.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// upgrader has already written the error response.
		return
	}

	s := newSession(ulid.Make().String(), conn, h.queueSize, h.policy, h.met)
	h.add(s)
	defer h.remove(s)

	slog.Info("ws: session connected",
		"session", s.id, "remote", conn.RemoteAddr().String())

	go s.writePump()
	s.readPump(h) // blocks until connection closes
}

// Enqueue offers an outbound frame to the named session. It reports false
// when the session is unknown or refused the frame. Never blocks.
func (h *Hub) Enqueue(session string, f wire.Frame) bool {
	h.mu.RLock()
	s, ok := h.sessions[session]
	h.mu.RUnlock()
	if !ok || !s.enqueue(f) {
		return false
	}
	h.met.InvalidationsEnqueued.Add(1)
	return true
}

// Count returns the number of currently connected sessions.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions)
}

// Run blocks until ctx is cancelled, then tears down every live session.
func (h *Hub) Run(ctx context.Context) {
	<-ctx.Done()

	h.mu.RLock()
	targets := make([]*session, 0, len(h.sessions))
	for _, s := range h.sessions {
		targets = append(targets, s)
	}
	h.mu.RUnlock()

	for _, s := range targets {
		h.remove(s)
	}
	slog.Info("ws: hub shut down", "sessions_closed", len(targets))
}

// --- internal ---------------------------------------------------------------

func (h *Hub) add(s *session) {
	h.mu.Lock()
	h.sessions[s.id] = s
	h.mu.Unlock()
	h.met.SessionsOpened.Add(1)
}

// remove tears a session down. Every teardown path converges here and the
// order is fixed: stop accepting enqueues first, then drop the registry
// entries, so dispatch never delivers into a dying session. The registry
// release repeats on every call, not just the first: the session's read loop
// can re-subscribe while a shutdown-driven removal runs, and the deferred
// remove in ServeHTTP is the last caller once reads have stopped.
func (h *Hub) remove(s *session) {
	h.mu.Lock()
	_, live := h.sessions[s.id]
	if live {
		delete(h.sessions, s.id)
	}
	h.mu.Unlock()

	s.close()
	released := h.reg.RemoveSession(s.id)
	if !live {
		return
	}
	h.met.SessionsClosed.Add(1)
	slog.Info("ws: session disconnected",
		"session", s.id, "subscriptions_released", released)
}
