package ws_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/consistd/consistd/broker/internal/dispatch"
	"github.com/consistd/consistd/broker/internal/ingest"
	"github.com/consistd/consistd/broker/internal/metrics"
	"github.com/consistd/consistd/broker/internal/registry"
	wsHub "github.com/consistd/consistd/broker/internal/ws"
	"github.com/consistd/consistd/pkg/wire"
)

// --- helpers ----------------------------------------------------------------

// broker bundles the delivery path the way cmd/consistd wires it:
// registry → hub ← dispatcher ← ingest worker.
type broker struct {
	reg    *registry.Registry
	met    *metrics.Metrics
	hub    *wsHub.Hub
	disp   *dispatch.Dispatcher
	svc    *ingest.Service
	cancel context.CancelFunc

	wsURL   string
	httpURL string
}

// startBroker starts the full assembly behind a test HTTP server.
func startBroker(t *testing.T, queueSize int, policy wsHub.OverflowPolicy) *broker {
	t.Helper()

	reg := registry.New()
	met := metrics.New()
	hub := wsHub.New(reg, met, queueSize, policy)
	disp := dispatch.New(reg, hub)
	svc := ingest.New(disp, met, 64, true)

	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)
	go svc.Run(ctx)

	srv := httptest.NewServer(hub)
	t.Cleanup(func() {
		cancel()
		srv.Close()
	})

	return &broker{
		reg:     reg,
		met:     met,
		hub:     hub,
		disp:    disp,
		svc:     svc,
		cancel:  cancel,
		wsURL:   "ws" + strings.TrimPrefix(srv.URL, "http"),
		httpURL: srv.URL,
	}
}

// dial connects a WebSocket client offering the protocol subprotocol.
func dial(t *testing.T, wsURL string) *websocket.Conn {
	t.Helper()
	d := websocket.Dialer{Subprotocols: []string{wire.Subprotocol}}
	conn, _, err := d.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial %s: %v", wsURL, err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func send(t *testing.T, conn *websocket.Conn, f wire.Frame) {
	t.Helper()
	data, err := f.Encode()
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		t.Fatalf("write %s frame: %v", f.Type, err)
	}
}

// recv reads one frame from conn with a short deadline.
func recv(t *testing.T, conn *websocket.Conn) wire.Frame {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("ReadMessage: %v", err)
	}
	f, err := wire.Decode(data)
	if err != nil {
		t.Fatalf("decode %s: %v", data, err)
	}
	return f
}

// subscribe sends a subscribe frame and consumes its ack.
func subscribe(t *testing.T, conn *websocket.Conn, uri string) {
	t.Helper()
	send(t, conn, wire.Subscribe(uri))
	if f := recv(t, conn); f.Type != wire.TypeAck || f.URI != uri {
		t.Fatalf("subscribe %s: got %+v, want ack", uri, f)
	}
}

// expectSilence asserts no frame arrives within the grace window. The failed
// read poisons conn for gorilla, so this must be the last read on it.
func expectSilence(t *testing.T, conn *websocket.Conn) {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(250 * time.Millisecond))
	if _, data, err := conn.ReadMessage(); err == nil {
		t.Fatalf("expected no frame, got %s", data)
	}
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal(msg)
}

// --- session protocol -------------------------------------------------------

func TestSession_SubscribeReceivesAck(t *testing.T) {
	b := startBroker(t, 16, wsHub.DropOldest)
	conn := dial(t, b.wsURL)

	if sp := conn.Subprotocol(); sp != wire.Subprotocol {
		t.Errorf("subprotocol: got %q, want %q", sp, wire.Subprotocol)
	}

	subscribe(t, conn, "/orders/42")

	// The ack round trip proves the registry write happened first.
	if n := b.reg.SubscriptionCount(); n != 1 {
		t.Errorf("subscriptions: got %d, want 1", n)
	}
	if n := b.hub.Count(); n != 1 {
		t.Errorf("sessions: got %d, want 1", n)
	}
}

func TestSession_MalformedFrame_ErrorThenUsable(t *testing.T) {
	b := startBroker(t, 16, wsHub.DropOldest)
	conn := dial(t, b.wsURL)

	if err := conn.WriteMessage(websocket.TextMessage, []byte("{nope")); err != nil {
		t.Fatalf("write junk: %v", err)
	}
	f := recv(t, conn)
	if f.Type != wire.TypeError || f.Reason == "" {
		t.Fatalf("got %+v, want error frame with a reason", f)
	}

	// The connection stays open and keeps working.
	subscribe(t, conn, "/a")
	if n := b.met.FramesMalformed.Load(); n != 1 {
		t.Errorf("malformed counter: got %d, want 1", n)
	}
}

func TestSession_ServerOnlyFrame_Error(t *testing.T) {
	b := startBroker(t, 16, wsHub.DropOldest)
	conn := dial(t, b.wsURL)

	send(t, conn, wire.Ack("/x"))
	f := recv(t, conn)
	if f.Type != wire.TypeError {
		t.Fatalf("got %+v, want error frame", f)
	}
	if !strings.Contains(f.Reason, "unexpected") {
		t.Errorf("reason: got %q, want mention of unexpected frame", f.Reason)
	}

	subscribe(t, conn, "/a") // still usable
}

func TestSession_OversizedURI_Error(t *testing.T) {
	b := startBroker(t, 16, wsHub.DropOldest)
	conn := dial(t, b.wsURL)

	send(t, conn, wire.Subscribe("/"+strings.Repeat("x", 2100)))
	f := recv(t, conn)
	if f.Type != wire.TypeError || !strings.Contains(f.Reason, "uri exceeds") {
		t.Fatalf("got %+v, want oversized-uri error", f)
	}
	if n := b.reg.ResourceCount(); n != 0 {
		t.Errorf("resources: got %d, want 0", n)
	}
}

// --- fan-out ----------------------------------------------------------------

func TestHub_InvalidationReachesAllSubscribers(t *testing.T) {
	b := startBroker(t, 16, wsHub.DropOldest)

	first := dial(t, b.wsURL)
	second := dial(t, b.wsURL)
	other := dial(t, b.wsURL)
	subscribe(t, first, "/orders/42")
	subscribe(t, second, "/orders/42")
	subscribe(t, other, "/carts/7")

	if err := b.svc.ReportChange(context.Background(), "/orders/42", []byte("v2")); err != nil {
		t.Fatalf("ReportChange: %v", err)
	}

	for name, conn := range map[string]*websocket.Conn{"first": first, "second": second} {
		f := recv(t, conn)
		if f.Type != wire.TypeInvalidated || f.URI != "/orders/42" {
			t.Errorf("%s: got %+v, want invalidated /orders/42", name, f)
		}
		if string(f.Payload) != "v2" {
			t.Errorf("%s payload: got %q, want v2", name, f.Payload)
		}
	}
	expectSilence(t, other)

	waitFor(t, func() bool { return b.met.InvalidationsEnqueued.Load() == 2 }, "enqueued counter never reached 2")
}

func TestHub_DuplicateSubscribe_SingleDelivery(t *testing.T) {
	b := startBroker(t, 16, wsHub.DropOldest)
	conn := dial(t, b.wsURL)

	subscribe(t, conn, "/orders/42")
	subscribe(t, conn, "/orders/42") // idempotent, acked again
	if n := b.reg.SubscriptionCount(); n != 1 {
		t.Fatalf("subscriptions: got %d, want 1", n)
	}

	if err := b.svc.ReportChange(context.Background(), "/orders/42", nil); err != nil {
		t.Fatalf("ReportChange: %v", err)
	}
	if f := recv(t, conn); f.Type != wire.TypeInvalidated {
		t.Fatalf("got %+v, want invalidated", f)
	}
	expectSilence(t, conn)
}

// TestScenario_OrderLifecycle walks one client through the whole protocol:
// subscribe, get invalidated with the backend payload, unsubscribe, and stay
// quiet for later changes.
func TestScenario_OrderLifecycle(t *testing.T) {
	b := startBroker(t, 16, wsHub.DropOldest)
	conn := dial(t, b.wsURL)
	ctx := context.Background()

	subscribe(t, conn, "/orders/42")

	if err := b.svc.ReportChange(ctx, "/orders/42", []byte(`{"status":"shipped"}`)); err != nil {
		t.Fatalf("ReportChange: %v", err)
	}
	f := recv(t, conn)
	if f.Type != wire.TypeInvalidated || f.URI != "/orders/42" {
		t.Fatalf("got %+v, want invalidated /orders/42", f)
	}
	if string(f.Payload) != `{"status":"shipped"}` {
		t.Errorf("payload: got %q", f.Payload)
	}

	send(t, conn, wire.Unsubscribe("/orders/42"))
	// The read loop is sequential, so this ack proves the unsubscribe landed.
	subscribe(t, conn, "/sentinel")
	if n := b.reg.ResourceCount(); n != 1 {
		t.Errorf("resources after unsubscribe: got %d, want 1", n)
	}

	if err := b.svc.ReportChange(ctx, "/orders/42", []byte("v3")); err != nil {
		t.Fatalf("ReportChange: %v", err)
	}
	expectSilence(t, conn)

	if n := b.met.ChangesIngested.Load(); n != 2 {
		t.Errorf("ingested counter: got %d, want 2", n)
	}
}

func TestHub_SlowConsumerDoesNotStarveOthers(t *testing.T) {
	b := startBroker(t, 4, wsHub.DropOldest)

	slow := dial(t, b.wsURL)
	fast := dial(t, b.wsURL)
	subscribe(t, slow, "/feed")
	subscribe(t, fast, "/feed")
	// slow stops reading here.

	for i := 0; i < 100; i++ {
		if n := b.disp.Dispatch(dispatch.Event{URI: "/feed", Payload: []byte(strconv.Itoa(i))}); n != 2 {
			t.Fatalf("dispatch %d: enqueued to %d sessions, want 2", i, n)
		}
		f := recv(t, fast)
		if f.Type != wire.TypeInvalidated || string(f.Payload) != strconv.Itoa(i) {
			t.Fatalf("fast frame %d: got %+v", i, f)
		}
	}

	if n := b.hub.Count(); n != 2 {
		t.Errorf("sessions: got %d, want 2", n)
	}
}

// --- teardown ---------------------------------------------------------------

func TestHub_DisconnectReleasesSubscriptions(t *testing.T) {
	b := startBroker(t, 16, wsHub.DropOldest)
	conn := dial(t, b.wsURL)

	subscribe(t, conn, "/a")
	subscribe(t, conn, "/b")
	if n := b.reg.SubscriptionCount(); n != 2 {
		t.Fatalf("subscriptions: got %d, want 2", n)
	}

	conn.Close()

	waitFor(t, func() bool { return b.hub.Count() == 0 }, "session not removed")
	waitFor(t, func() bool { return b.reg.SessionCount() == 0 }, "registry still holds the session")
	if n := b.reg.SubscriptionCount(); n != 0 {
		t.Errorf("subscriptions after close: got %d, want 0", n)
	}
	waitFor(t, func() bool { return b.met.SessionsClosed.Load() == 1 }, "closed counter never reached 1")
}

func TestHub_CloseFrameTearsDown(t *testing.T) {
	b := startBroker(t, 16, wsHub.DropOldest)
	conn := dial(t, b.wsURL)
	subscribe(t, conn, "/a")

	send(t, conn, wire.Close())

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := conn.ReadMessage()
	if !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
		t.Errorf("read after close: got %v, want normal closure", err)
	}

	waitFor(t, func() bool { return b.hub.Count() == 0 }, "session not removed")
	waitFor(t, func() bool { return b.reg.SessionCount() == 0 }, "registry still holds the session")
}

func TestHub_RunCancelClosesSessions(t *testing.T) {
	b := startBroker(t, 16, wsHub.DropOldest)

	first := dial(t, b.wsURL)
	second := dial(t, b.wsURL)
	subscribe(t, first, "/a")
	subscribe(t, second, "/b")

	b.cancel()

	first.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, _, err := first.ReadMessage(); !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
		t.Errorf("read after cancel: got %v, want normal closure", err)
	}

	waitFor(t, func() bool { return b.hub.Count() == 0 }, "sessions not removed")
	waitFor(t, func() bool { return b.reg.SessionCount() == 0 }, "registry not released")
	waitFor(t, func() bool { return b.met.SessionsClosed.Load() == 2 }, "closed counter never reached 2")
}

// --- plumbing ---------------------------------------------------------------

func TestHub_NonWebSocketRequest_BadRequest(t *testing.T) {
	b := startBroker(t, 16, wsHub.DropOldest)

	resp, err := http.Get(b.httpURL)
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status: got %d, want 400", resp.StatusCode)
	}
}

func TestHub_EnqueueUnknownSession_False(t *testing.T) {
	b := startBroker(t, 16, wsHub.DropOldest)

	if b.hub.Enqueue("01HXNOPE0000000000000000NO", wire.Ack("/x")) {
		t.Error("enqueue to unknown session: got true, want false")
	}
	if n := b.met.InvalidationsEnqueued.Load(); n != 0 {
		t.Errorf("enqueued counter: got %d, want 0", n)
	}
}
