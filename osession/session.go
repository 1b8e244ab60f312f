package osession

import (
	"sync"

	"github.com/google/uuid"

	"github.com/evergreen-library-system/opensrf-go/errors"
	"github.com/evergreen-library-system/opensrf-go/message"
)

// Kind is which side of a conversation a Session represents (spec.md §3).
type Kind string

const (
	KindClient Kind = "CLIENT"
	KindServer Kind = "SERVER"
)

// State is a Session's position in the CONNECT/DISCONNECT lifecycle
// (spec.md §4.3).
type State string

const (
	StateDisconnected State = "DISCONNECTED"
	StateConnecting   State = "CONNECTING"
	StateConnected    State = "CONNECTED"
)

// Session is the App Session of spec.md §3: one conversation's worth of
// state, identified by its thread. A stateless client session exists only
// long enough to dispatch one request; a stateful one is pinned to a single
// remote drone between CONNECT and DISCONNECT.
type Session struct {
	Thread       string
	Kind         Kind
	Stateless    bool
	OrigRemoteID string // the service-level address a client first talked to
	Locale       string
	TZ           string

	mu          sync.Mutex
	state       State
	remoteID    string // pinned drone address once CONNECTED; == OrigRemoteID until then
	threadTrace int64
	requests    map[int64]*Request
	panicked    bool
}

// NewClientSession creates a client-side Session addressed initially at a
// service (not yet a specific drone). stateless sessions never CONNECT;
// every MakeRequest goes straight to OrigRemoteID and the session is
// discarded after the reply.
func NewClientSession(reg *Registry, remoteServiceAddr string, stateless bool) *Session {
	s := &Session{
		Thread:       uuid.NewString(),
		Kind:         KindClient,
		Stateless:    stateless,
		OrigRemoteID: remoteServiceAddr,
		state:        StateDisconnected,
		remoteID:     remoteServiceAddr,
		requests:     map[int64]*Request{},
	}
	if reg != nil {
		reg.Put(s)
	}
	return s
}

// NewServerSession creates the server-side counterpart the Stack allocates
// the first time it sees an unfamiliar thread (spec.md §4.4). remoteID is
// the caller's bus address, used to address replies.
func NewServerSession(reg *Registry, thread, remoteID string) *Session {
	s := &Session{
		Thread:       thread,
		Kind:         KindServer,
		OrigRemoteID: remoteID,
		state:        StateDisconnected,
		remoteID:     remoteID,
		requests:     map[int64]*Request{},
	}
	if reg != nil {
		reg.Put(s)
	}
	return s
}

// State returns the session's current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// RemoteID returns the address replies/requests on this session go to: the
// original service address before CONNECT, the pinned drone address after.
func (s *Session) RemoteID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.remoteID
}

// SetPanicked records that a >=500 STATUS was seen on this session, per
// spec.md §4.4's note that such a code may force the drone handling it to
// exit after finishing the current call.
func (s *Session) SetPanicked() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.panicked = true
}

// Panicked reports whether SetPanicked has been called.
func (s *Session) Panicked() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.panicked
}

// nextThreadTrace allocates the next per-session sequence number used as
// both an OSRFMessage.ThreadTrace and, for REQUESTs, a Request.ID.
func (s *Session) nextThreadTrace() int64 {
	s.threadTrace++
	return s.threadTrace
}

// Connect builds the CONNECT message a client sends to pin a stateful
// session to one drone, and moves the session into CONNECTING. Calling it
// on a stateless or server session is a programming error.
func (s *Session) Connect() (message.OSRFMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Kind != KindClient {
		return message.OSRFMessage{}, errors.New("Connect is client-only")
	}
	if s.Stateless {
		return message.OSRFMessage{}, errors.New("stateless session %s cannot CONNECT", s.Thread)
	}
	tt := s.nextThreadTrace()
	s.state = StateConnecting
	return message.NewConnect(tt), nil
}

// HandleConnectStatus applies a CONNECT's reply: a 200 OK pins RemoteID to
// the responding address and moves the session to CONNECTED; anything else
// leaves the session CONNECTING so the caller can retry or give up.
func (s *Session) HandleConnectStatus(fromAddr string, status message.StatusPayload) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateConnecting {
		return
	}
	if status.Code == message.StatusOK {
		s.state = StateConnected
		s.remoteID = fromAddr
	}
}

// Disconnect builds the DISCONNECT message a client sends to release a
// pinned session, and returns the session to DISCONNECTED immediately —
// DISCONNECT carries no reply to wait for (spec.md §4.4).
func (s *Session) Disconnect() message.OSRFMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	tt := s.nextThreadTrace()
	s.state = StateDisconnected
	s.remoteID = s.OrigRemoteID
	return message.NewDisconnect(tt)
}

// MakeRequest allocates a Request, builds its REQUEST OSRFMessage, and
// registers the Request under this session so a later RESULT/STATUS for the
// same thread_trace can be routed to it. The caller still owns sending the
// returned message and addressing it at s.RemoteID().
func (s *Session) MakeRequest(method string, params []any) (*Request, message.OSRFMessage) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tt := s.nextThreadTrace()
	msg := message.NewRequest(tt, method, params)
	req := newRequest(tt, s.Thread, msg)
	s.requests[tt] = req
	return req, msg
}

// Request looks up a live Request by id (its thread_trace).
func (s *Session) Request(id int64) (*Request, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.requests[id]
	return r, ok
}

// RequestFinish releases a completed Request's storage from the session's
// arena (spec.md §9).
func (s *Session) RequestFinish(id int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.requests, id)
}

// PendingRequests returns the number of Requests still tracked by this
// session, used by callers deciding whether it's safe to tear a session down.
func (s *Session) PendingRequests() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.requests)
}

// HandleConnect is the server-side reaction to an inbound CONNECT
// (spec.md §4.4): move to CONNECTED and hand back the STATUS 200 reply.
func (s *Session) HandleConnect(threadTrace int64) message.OSRFMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = StateConnected
	return message.NewStatus(threadTrace, message.StatusOK, "Connection Successful")
}

// HandleDisconnect is the server-side reaction to an inbound DISCONNECT: the
// session has no more life left in it. The caller (Stack) still has to
// remove it from the Registry.
func (s *Session) HandleDisconnect() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = StateDisconnected
}
