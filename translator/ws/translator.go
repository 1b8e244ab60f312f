package ws

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	lru "github.com/hashicorp/golang-lru/v2"

	opensrfaddr "github.com/evergreen-library-system/opensrf-go/addr"
	"github.com/evergreen-library-system/opensrf-go/bus"
	"github.com/evergreen-library-system/opensrf-go/config"
	"github.com/evergreen-library-system/opensrf-go/message"
)

// envelope is the JSON frame carried over the websocket in both directions:
// inbound it names the service or pinned drone a batch of OSRF messages is
// addressed to, outbound it carries the reply batch back with the thread it
// belongs to so the browser can demultiplex concurrent conversations on one
// socket (spec.md §4.7).
type envelope struct {
	Service string                `json:"service,omitempty"`
	To      string                `json:"to,omitempty"`
	Thread  string                `json:"thread,omitempty"`
	OSRFXid string                `json:"osrf_xid,omitempty"`
	OSRFMsg []message.OSRFMessage `json:"osrf_msg,omitempty"`
	Error   string                `json:"error,omitempty"`
}

type sessionEntry struct {
	DroneAddr    string
	Service      string
	LastActivity time.Time
}

// connState tracks activity on one whole websocket connection, separately
// from the per-thread sessionEntry cache: a connection can have zero pinned
// threads and still be mid-conversation on a stateless request, and the
// idle watcher must not close the socket out from under it (spec.md §4.7's
// "no active conversation" qualifier).
type connState struct {
	mu                  sync.Mutex
	lastActivity        time.Time
	activeConversations int
}

func (c *connState) touch() {
	c.mu.Lock()
	c.lastActivity = time.Now()
	c.mu.Unlock()
}

func (c *connState) beginConversation() {
	c.mu.Lock()
	c.activeConversations++
	c.lastActivity = time.Now()
	c.mu.Unlock()
}

func (c *connState) endConversation() {
	c.mu.Lock()
	c.activeConversations--
	c.lastActivity = time.Now()
	c.mu.Unlock()
}

// idleFor reports how long the connection has had no active conversation,
// and whether it currently has none at all (a connection mid-conversation
// is never eligible for idle close, however long it's taking).
func (c *connState) idleFor(now time.Time) (time.Duration, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.activeConversations > 0 {
		return 0, false
	}
	return now.Sub(c.lastActivity), true
}

// Translator is the bus-facing half of one WebSocket gateway process
// (spec.md §4.7). A single Translator fans out across many concurrent
// client connections; each connection multiplexes many OSRF conversations.
type Translator struct {
	Client      bus.Client
	Domain      string
	SelfAddress string
	Config      config.TranslatorConfig
	trace       func(string)

	mu    sync.Mutex
	cache *lru.Cache[string, *sessionEntry]
}

// New builds a Translator. trace may be nil.
func New(client bus.Client, domain, selfAddress string, cfg config.TranslatorConfig, trace func(string)) *Translator {
	if trace == nil {
		trace = func(string) {}
	}
	size := cfg.MaxActiveStatefulSessions
	if size <= 0 {
		size = 128
	}
	cache, _ := lru.New[string, *sessionEntry](size)
	return &Translator{
		Client:      client,
		Domain:      domain,
		SelfAddress: selfAddress,
		Config:      cfg,
		trace:       trace,
		cache:       cache,
	}
}

func (t *Translator) getSession(thread string) (*sessionEntry, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.cache.Get(thread)
}

func (t *Translator) putSession(thread string, e *sessionEntry) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.cache.Add(thread, e)
}

func (t *Translator) touchSession(thread string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if e, ok := t.cache.Get(thread); ok {
		e.LastActivity = time.Now()
	}
}

func (t *Translator) evictSession(thread string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.cache.Remove(thread)
}

// connWriter serializes every data-frame write to one websocket
// connection: the reader goroutine and each request's responder goroutine
// all write envelopes to the same *websocket.Conn, and gorilla/websocket
// conns are not safe for concurrent writers. The idle watcher's close
// frame goes through conn.WriteControl directly, which gorilla/websocket
// permits alongside other writers (the same "one mutex around
// the shared pipe" shape the teacher's ws_bridge sidesteps by only ever
// writing from its two stdout/stderr pump goroutines — here replies can
// race across any number of in-flight requests, so the mutex is load
// bearing).
type connWriter struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (w *connWriter) writeEnvelope(e envelope) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.conn.WriteJSON(e)
}

// Serve runs the full duplex translation loop for one already-upgraded
// websocket connection: a reader goroutine (this one) decodes inbound
// envelopes and spawns a responder goroutine per request, while a
// separate idle-watcher goroutine reaps pinned sessions that have gone
// quiet longer than Config.IdleTimeoutSeconds (spec.md §4.7). Serve blocks
// until the connection closes or ctx is cancelled.
func (t *Translator) Serve(ctx context.Context, conn *websocket.Conn) error {
	cw := &connWriter{conn: conn}
	state := &connState{lastActivity: time.Now()}

	watchCtx, cancelWatch := context.WithCancel(ctx)
	defer cancelWatch()
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		t.idleWatch(watchCtx, conn, state)
	}()
	defer wg.Wait()

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		_, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		state.touch()

		var env envelope
		if err := json.Unmarshal(data, &env); err != nil {
			_ = cw.writeEnvelope(envelope{Error: "malformed request envelope"})
			continue
		}

		go t.respond(ctx, cw, env, state)
	}
}

// respond sends one request envelope to the bus and relays each reply
// batch back as a websocket envelope, until a terminal STATUS, a bus
// error, or the wait timeout (spec.md §4.7). Unlike the HTTP translator it
// does not drain stale messages, stamp a locale, or trace REQUESTs.
func (t *Translator) respond(ctx context.Context, cw *connWriter, env envelope, state *connState) {
	state.beginConversation()
	defer state.endConversation()

	thread := env.Thread
	if thread == "" {
		thread = uuid.NewString()
	}

	var recipient, service string
	switch {
	case env.Service != "":
		service = env.Service
		recipient = opensrfaddr.Router(t.Domain).String()
	case env.To != "":
		entry, ok := t.getSession(thread)
		if !ok || entry.DroneAddr != env.To {
			_ = cw.writeEnvelope(envelope{Thread: thread, Error: "unknown or mismatched thread for pinned request"})
			return
		}
		recipient = env.To
		service = entry.Service
	default:
		_ = cw.writeEnvelope(envelope{Thread: thread, Error: "request must set service or to"})
		return
	}

	tm, err := message.NewTransportMessage(recipient, t.SelfAddress, thread, env.OSRFXid, env.OSRFMsg)
	if err != nil {
		_ = cw.writeEnvelope(envelope{Thread: thread, Error: err.Error()})
		return
	}
	if service != "" && recipient != env.To {
		tm.RouterTo = service
	}

	if err := t.Client.Send(tm); err != nil {
		_ = cw.writeEnvelope(envelope{Thread: thread, Error: "failed to send request to bus"})
		return
	}

	// A DISCONNECT gets no reply: forget the pinned drone and stop here.
	if isDisconnectOnly(env.OSRFMsg) {
		t.evictSession(thread)
		return
	}

	timeout := time.Duration(t.Config.MaxRequestWaitSeconds) * time.Second
	if timeout <= 0 {
		timeout = 60 * time.Second
	}

	pinned := false
	if containsConnect(env.OSRFMsg) {
		pinned = true
	}

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		inbound, err := t.Client.Recv(timeout)
		if err != nil {
			t.evictSession(thread)
			_ = cw.writeEnvelope(envelope{Thread: thread, Error: "bus recv failed"})
			return
		}
		if inbound == nil {
			_ = cw.writeEnvelope(envelope{Thread: thread, Error: "timed out waiting for a reply"})
			return
		}
		if inbound.IsError {
			t.evictSession(thread)
			_ = cw.writeEnvelope(envelope{Thread: thread, Error: inbound.ErrorType})
			return
		}

		replyMsgs, err := inbound.Messages()
		if err != nil {
			continue
		}

		if pinned {
			t.putSession(thread, &sessionEntry{DroneAddr: inbound.Sender, Service: service, LastActivity: time.Now()})
			pinned = false
		} else {
			t.touchSession(thread)
		}

		terminal := false
		for _, m := range replyMsgs {
			if m.Type != message.TypeStatus || m.Status == nil {
				continue
			}
			if m.Status.Code == message.StatusTimeout {
				t.evictSession(thread)
			}
			if m.Status.Code.IsTerminal() {
				terminal = true
			}
		}

		_ = cw.writeEnvelope(envelope{Thread: thread, OSRFMsg: replyMsgs})

		if terminal {
			return
		}
	}
}

// idleWatch periodically reaps pinned sessions that have had no activity
// for Config.IdleTimeoutSeconds, politely disconnecting them from their
// drone so the service side's session doesn't outlive the browser tab that
// opened it, and closes this connection outright once the whole connection
// — not just one pinned thread — has gone that long with no conversation in
// flight (spec.md §4.7, §5, §8 scenario 6).
func (t *Translator) idleWatch(ctx context.Context, conn *websocket.Conn, state *connState) {
	interval := time.Duration(t.Config.IdleCheckIntervalSeconds) * time.Second
	if interval <= 0 {
		interval = 5 * time.Second
	}
	idleAfter := time.Duration(t.Config.IdleTimeoutSeconds) * time.Second
	if idleAfter <= 0 {
		idleAfter = 120 * time.Second
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			t.reapIdle(idleAfter)
			if t.closeIfConnIdle(conn, state, idleAfter) {
				return
			}
		}
	}
}

// closeIfConnIdle closes conn and reports true once state has had no active
// conversation for at least idleAfter. The actual websocket.Conn is the only
// thing that can make a client's socket go away; evicting the pinned-session
// cache entry alone (reapIdle) leaves a quiet-but-open connection sitting
// there forever.
func (t *Translator) closeIfConnIdle(conn *websocket.Conn, state *connState, idleAfter time.Duration) bool {
	idle, eligible := state.idleFor(time.Now())
	if !eligible || idle < idleAfter {
		return false
	}
	t.trace(fmt.Sprintf("closing websocket connection idle for %s with no active conversation", idle))
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "idle timeout"),
		time.Now().Add(time.Second))
	_ = conn.Close()
	return true
}

func (t *Translator) reapIdle(idleAfter time.Duration) {
	t.mu.Lock()
	now := time.Now()
	var stale []struct {
		thread string
		entry  *sessionEntry
	}
	for _, thread := range t.cache.Keys() {
		entry, ok := t.cache.Peek(thread)
		if !ok {
			continue
		}
		if now.Sub(entry.LastActivity) >= idleAfter {
			stale = append(stale, struct {
				thread string
				entry  *sessionEntry
			}{thread, entry})
		}
	}
	for _, s := range stale {
		t.cache.Remove(s.thread)
	}
	t.mu.Unlock()

	for _, s := range stale {
		t.trace(fmt.Sprintf("reaping idle thread=%s drone=%s", s.thread, s.entry.DroneAddr))
		disconnect := message.NewDisconnect(0)
		tm, err := message.NewTransportMessage(s.entry.DroneAddr, t.SelfAddress, s.thread, "", []message.OSRFMessage{disconnect})
		if err != nil {
			continue
		}
		_ = t.Client.Send(tm)
	}
}

func containsConnect(msgs []message.OSRFMessage) bool {
	for _, m := range msgs {
		if m.Type == message.TypeConnect {
			return true
		}
	}
	return false
}

func isDisconnectOnly(msgs []message.OSRFMessage) bool {
	if len(msgs) == 0 {
		return false
	}
	for _, m := range msgs {
		if m.Type != message.TypeDisconnect {
			return false
		}
	}
	return true
}
