package ws

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/evergreen-library-system/opensrf-go/addr"
	"github.com/evergreen-library-system/opensrf-go/bus"
	"github.com/evergreen-library-system/opensrf-go/config"
	"github.com/evergreen-library-system/opensrf-go/message"
)

type scriptedBus struct {
	mu     sync.Mutex
	sent   []*message.TransportMessage
	script []*message.TransportMessage
}

func (b *scriptedBus) Connect(ctx context.Context, domain string, port int, creds bus.Credentials, role bus.Role, identity, droneID string) error {
	return nil
}

func (b *scriptedBus) Send(msg *message.TransportMessage) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sent = append(b.sent, msg)
	return nil
}

// Recv follows the bus.Client contract: it waits up to timeout for a
// staged message, returns at once for timeout == 0, and blocks for a
// negative timeout.
func (b *scriptedBus) Recv(timeout time.Duration) (*message.TransportMessage, error) {
	deadline := time.Now().Add(timeout)
	for {
		b.mu.Lock()
		if len(b.script) > 0 {
			next := b.script[0]
			b.script = b.script[1:]
			b.mu.Unlock()
			return next, nil
		}
		b.mu.Unlock()
		if timeout >= 0 && !time.Now().Before(deadline) {
			return nil, nil
		}
		time.Sleep(time.Millisecond)
	}
}

func (b *scriptedBus) Disconnect() error         { return nil }
func (b *scriptedBus) Addresses() []addr.Address { return nil }

func (b *scriptedBus) waitForSend(t *testing.T) *message.TransportMessage {
	t.Helper()
	for i := 0; i < 1000; i++ {
		b.mu.Lock()
		n := len(b.sent)
		b.mu.Unlock()
		if n > 0 {
			b.mu.Lock()
			m := b.sent[len(b.sent)-1]
			b.mu.Unlock()
			return m
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("timed out waiting for a bus Send")
	return nil
}

func (b *scriptedBus) stage(tms ...*message.TransportMessage) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.script = append(b.script, tms...)
}

var upgrader = websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }}

func newTestServer(t *testing.T, tr *Translator) (*httptest.Server, *websocket.Conn) {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade failed: %v", err)
			return
		}
		go tr.Serve(context.Background(), conn)
	}))

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	return srv, conn
}

func TestServeStatelessRequestRoundTrip(t *testing.T) {
	fb := &scriptedBus{}
	tr := New(fb, "example.com", "translator@example.com/ws", config.TranslatorConfig{MaxRequestWaitSeconds: 1, MaxActiveStatefulSessions: 128}, nil)
	srv, conn := newTestServer(t, tr)
	defer srv.Close()
	defer conn.Close()

	req := envelope{Service: "opensrf.math", Thread: "thread-1", OSRFMsg: []message.OSRFMessage{
		message.NewRequest(1, "opensrf.math.add", []any{1, 2}),
	}}
	if err := conn.WriteJSON(req); err != nil {
		t.Fatalf("write request: %v", err)
	}

	sent := fb.waitForSend(t)
	fb.stage(
		mustReply(t, "opensrf.math@example.com/drone-1", sent.Thread, []message.OSRFMessage{message.NewResult(1, 3)}),
		mustReply(t, "opensrf.math@example.com/drone-1", sent.Thread, []message.OSRFMessage{message.NewStatus(1, message.StatusComplete, "Request Complete")}),
	)

	var got envelope
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if err := conn.ReadJSON(&got); err != nil {
		t.Fatalf("read first reply: %v", err)
	}
	if got.Thread != "thread-1" {
		t.Fatalf("reply thread = %q, want thread-1", got.Thread)
	}
	if len(got.OSRFMsg) != 1 || got.OSRFMsg[0].Type != message.TypeResult {
		t.Fatalf("expected RESULT envelope, got %+v", got)
	}

	var final envelope
	if err := conn.ReadJSON(&final); err != nil {
		t.Fatalf("read second reply: %v", err)
	}
	if len(final.OSRFMsg) != 1 || final.OSRFMsg[0].Type != message.TypeStatus {
		t.Fatalf("expected STATUS envelope, got %+v", final)
	}
}

func TestServeUnknownToReturnsError(t *testing.T) {
	fb := &scriptedBus{}
	tr := New(fb, "example.com", "translator@example.com/ws", config.TranslatorConfig{}, nil)
	srv, conn := newTestServer(t, tr)
	defer srv.Close()
	defer conn.Close()

	req := envelope{To: "opensrf.math@example.com/drone-1", Thread: "unknown-thread"}
	if err := conn.WriteJSON(req); err != nil {
		t.Fatalf("write request: %v", err)
	}

	var got envelope
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if err := conn.ReadJSON(&got); err != nil {
		t.Fatalf("read reply: %v", err)
	}
	if got.Error == "" {
		t.Fatalf("expected an error envelope, got %+v", got)
	}
}

func TestReapIdleEvictsAndDisconnects(t *testing.T) {
	fb := &scriptedBus{}
	tr := New(fb, "example.com", "translator@example.com/ws", config.TranslatorConfig{}, nil)
	tr.putSession("thread-1", &sessionEntry{DroneAddr: "opensrf.math@example.com/drone-1", Service: "opensrf.math", LastActivity: time.Now().Add(-time.Hour)})

	tr.reapIdle(time.Second)

	if _, ok := tr.getSession("thread-1"); ok {
		t.Fatal("expected idle session evicted")
	}
	sent := fb.waitForSend(t)
	if sent.Recipient != "opensrf.math@example.com/drone-1" {
		t.Fatalf("expected reap disconnect sent to pinned drone, got %s", sent.Recipient)
	}
}

func TestServeClosesConnectionAfterWholeConnectionIdle(t *testing.T) {
	fb := &scriptedBus{}
	tr := New(fb, "example.com", "translator@example.com/ws", config.TranslatorConfig{
		IdleCheckIntervalSeconds: 0, // falls back to the 5s default; we still only need ~1 tick
	}, nil)
	// Force a short idle timeout directly so the test doesn't wait on the
	// (much larger) production default.
	tr.Config.IdleTimeoutSeconds = 1
	tr.Config.IdleCheckIntervalSeconds = 1

	srv, conn := newTestServer(t, tr)
	defer srv.Close()
	defer conn.Close()

	// No requests are ever sent on this connection, so it has no pinned
	// thread and no in-flight conversation from the first tick onward.
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, _, err := conn.ReadMessage()
	if err == nil {
		t.Fatal("expected the server to close the idle connection, got no error")
	}
	if !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
		t.Fatalf("expected a normal-closure close frame, got: %v", err)
	}
}

func mustReply(t *testing.T, sender, thread string, msgs []message.OSRFMessage) *message.TransportMessage {
	t.Helper()
	tm, err := message.NewTransportMessage("translator@example.com/ws", sender, thread, "", msgs)
	if err != nil {
		t.Fatalf("build reply: %v", err)
	}
	return tm
}
