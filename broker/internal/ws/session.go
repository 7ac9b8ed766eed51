package ws

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/consistd/consistd/broker/internal/metrics"
	"github.com/consistd/consistd/pkg/wire"
)

const (
	// writeTimeout is the deadline for a single write to a client.
	writeTimeout = 10 * time.Second

	// pongWait is how long to wait for a pong response before treating the
	// connection as dead.
	pongWait = 60 * time.Second

	// pingPeriod controls how often the server sends WebSocket ping frames.
	// Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// maxFrameBytes bounds an inbound client frame. Client frames carry at
	// most a uri, so anything larger is abuse.
	maxFrameBytes = 4096

	// maxURIBytes bounds the resource uri accepted in subscribe and
	// unsubscribe frames.
	maxURIBytes = 2048
)

// OverflowPolicy says what happens when a session's outbound queue is full at
// enqueue time.
type OverflowPolicy string

const (
	// DropOldest evicts the oldest queued frame to make room. The client
	// stays connected and sees the newest state.
	DropOldest OverflowPolicy = "drop_oldest"

	// Disconnect closes the session. The client is expected to reconnect
	// and re-subscribe.
	Disconnect OverflowPolicy = "disconnect"
)

// session is one connected client. A dedicated writer goroutine is the only
// conn writer; everything outbound goes through queue. done closes exactly
// once and marks the session dead for enqueuers.
type session struct {
	id     string
	conn   *websocket.Conn
	queue  chan wire.Frame
	done   chan struct{}
	policy OverflowPolicy
	met    *metrics.Metrics

	closeOnce sync.Once
}

func newSession(id string, conn *websocket.Conn, queueSize int, policy OverflowPolicy, met *metrics.Metrics) *session {
	return &session{
		id:     id,
		conn:   conn,
		queue:  make(chan wire.Frame, queueSize),
		done:   make(chan struct{}),
		policy: policy,
		met:    met,
	}
}

// close marks the session dead. Safe to call from any goroutine, any number
// of times. The writer notices and shuts the socket down.
func (s *session) close() {
	s.closeOnce.Do(func() { close(s.done) })
}

// enqueue offers f to the writer without ever blocking. It reports false when
// the session is dead or the frame could not be queued. On a full queue the
// overflow policy decides: DropOldest evicts the oldest queued frame,
// Disconnect kills the session. done is checked before every queue send, so a
// teardown that is already visible never gains another frame.
func (s *session) enqueue(f wire.Frame) bool {
	if s.closed() {
		return false
	}

	select {
	case s.queue <- f:
		return true
	default:
	}

	if s.policy == Disconnect {
		s.met.InvalidationsDropped.Add(1)
		slog.Warn("ws: session queue full, disconnecting",
			"session", s.id, "queue_cap", cap(s.queue))
		s.close()
		return false
	}

	// DropOldest: make room, then try once more.
	select {
	case <-s.queue:
		s.met.InvalidationsDropped.Add(1)
	default:
	}
	if s.closed() {
		return false
	}
	select {
	case s.queue <- f:
		return true
	default:
		s.met.InvalidationsDropped.Add(1)
		return false
	}
}

// closed reports whether teardown has started. Enqueues after that point are
// refused even when the queue has room.
func (s *session) closed() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

// writePump drains the session queue and forwards frames to the WebSocket
// connection. It also sends periodic ping frames, and on done it delivers a
// close frame before shutting the socket. Runs in its own goroutine per
// session; the deferred Close unblocks readPump.
func (s *session) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		s.conn.Close()
	}()

	for {
		select {
		case f := <-s.queue:
			data, err := f.Encode()
			if err != nil {
				slog.Error("ws: encode outbound frame", "session", s.id, "err", err)
				continue
			}
			s.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := s.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}

		case <-s.done:
			s.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			s.conn.WriteMessage(websocket.CloseMessage, //nolint:errcheck
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return

		case <-ticker.C:
			s.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump decodes and handles client frames until the connection dies.
// Malformed input and direction violations produce an error frame and keep
// the connection open; a close frame starts the orderly shutdown. Blocks
// until the connection closes.
func (s *session) readPump(h *Hub) {
	defer s.conn.Close()
	s.conn.SetReadLimit(maxFrameBytes)
	s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		s.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			return
		}

		f, err := wire.Decode(data)
		if err != nil {
			h.met.FramesMalformed.Add(1)
			s.enqueue(wire.Error(err.Error()))
			continue
		}

		switch f.Type {
		case wire.TypeSubscribe:
			if len(f.URI) > maxURIBytes {
				h.met.FramesMalformed.Add(1)
				s.enqueue(wire.Error(fmt.Sprintf("uri exceeds %d bytes", maxURIBytes)))
				continue
			}
			h.reg.Subscribe(s.id, f.URI)
			s.enqueue(wire.Ack(f.URI))

		case wire.TypeUnsubscribe:
			if len(f.URI) > maxURIBytes {
				h.met.FramesMalformed.Add(1)
				s.enqueue(wire.Error(fmt.Sprintf("uri exceeds %d bytes", maxURIBytes)))
				continue
			}
			h.reg.Unsubscribe(s.id, f.URI)

		case wire.TypeClose:
			// The writer sends the close frame; reading continues until
			// the peer finishes the handshake or the socket dies.
			s.close()

		default:
			h.met.FramesMalformed.Add(1)
			s.enqueue(wire.Error(fmt.Sprintf("unexpected %s frame", f.Type)))
		}
	}
}
