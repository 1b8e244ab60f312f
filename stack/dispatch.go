package stack

import (
	"context"
	"fmt"
	"sync"

	"github.com/evergreen-library-system/opensrf-go/bus"
	apperrors "github.com/evergreen-library-system/opensrf-go/errors"
	"github.com/evergreen-library-system/opensrf-go/message"
	"github.com/evergreen-library-system/opensrf-go/osession"
)

// Handler implements one application method. It streams zero or more
// results through r.Result and returns nil on success; a non-nil error
// becomes a 500 STATUS and flags the owning session panicked, per spec.md
// §4.4's note that a >=500 code may force the drone to exit after the call.
type Handler func(ctx context.Context, r *Responder, params []any) error

// Methods is a lookup table of application method name -> Handler, built up
// with Register before Stack.Dispatch is used.
type Methods struct {
	mu    sync.RWMutex
	table map[string]Handler
}

// NewMethods returns an empty method table.
func NewMethods() *Methods {
	return &Methods{table: map[string]Handler{}}
}

// Register adds or replaces the Handler for a method name.
func (m *Methods) Register(name string, h Handler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.table[name] = h
}

// Lookup returns the Handler registered for name, if any.
func (m *Methods) Lookup(name string) (Handler, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	h, ok := m.table[name]
	return h, ok
}

// Responder lets a Handler stream RESULT messages back to the caller on the
// same thread/thread_trace as the REQUEST it's answering, and lets it
// override the default terminal STATUS.
type Responder struct {
	stack       *Stack
	session     *osession.Session
	threadTrace int64
	sent        bool // whether a terminal status was already sent explicitly
}

// Result sends one RESULT message carrying content.
func (r *Responder) Result(content any) error {
	return r.stack.sendTo(r.session, message.NewResult(r.threadTrace, content))
}

// Status sends an explicit STATUS, overriding the Dispatch loop's default
// terminal 205 COMPLETE sent after the Handler returns.
func (r *Responder) Status(code message.StatusCode, text string) error {
	r.sent = true
	if code >= 500 {
		r.session.SetPanicked()
	}
	return r.stack.sendTo(r.session, message.NewStatus(r.threadTrace, code, text))
}

// Stack ties a bus.Client, a live osession.Registry, and an application
// Methods table together into the per-message dispatch loop of spec.md
// §4.4.
type Stack struct {
	Client  bus.Client
	Methods *Methods
	// SelfAddress is this service's own bus address, used as the Sender on
	// every reply this Stack emits.
	SelfAddress string
}

// NewStack builds a Stack ready to serve requests delivered to client,
// replying as selfAddress.
func NewStack(client bus.Client, methods *Methods, selfAddress string) *Stack {
	return &Stack{Client: client, Methods: methods, SelfAddress: selfAddress}
}

// Dispatch handles one inbound TransportMessage: identify or create its
// Session, decode its ordered OSRFMessage batch, and route each message by
// type. Per spec.md §4.2 a single transport packet may carry several osrf
// messages on the same thread; they are handled strictly in order.
//
// The returned panicked flag reports whether any message on this batch set
// the session's panic flag (spec.md §4.4), captured before the session is
// possibly deleted from registry below — a caller cannot recover this from
// the registry afterward, since a stateless session (the common case) is
// gone by the time Dispatch returns.
func (st *Stack) Dispatch(ctx context.Context, registry *osession.Registry, tm *message.TransportMessage) (panicked bool, err error) {
	sess, ok := registry.Get(tm.Thread)
	if !ok {
		sess = osession.NewServerSession(registry, tm.Thread, tm.Sender)
	}

	msgs, err := tm.Messages()
	if err != nil {
		return false, err
	}

	for _, m := range msgs {
		if err := st.dispatchOne(ctx, sess, m); err != nil {
			return sess.Panicked(), err
		}
	}

	panicked = sess.Panicked()

	// A session that never reached CONNECTED — either a one-shot stateless
	// exchange, or one an explicit DISCONNECT just closed — has no more
	// messages coming; free its slot in the registry (spec.md §4.3).
	if sess.State() != osession.StateConnected {
		registry.Delete(sess.Thread)
	}
	return panicked, nil
}

func (st *Stack) dispatchOne(ctx context.Context, sess *osession.Session, m message.OSRFMessage) error {
	switch m.Type {
	case message.TypeConnect:
		reply := sess.HandleConnect(m.ThreadTrace)
		return st.sendTo(sess, reply)

	case message.TypeDisconnect:
		sess.HandleDisconnect()
		return nil

	case message.TypeRequest:
		return st.dispatchRequest(ctx, sess, m)

	case message.TypeResult, message.TypeStatus:
		// A server Stack shouldn't normally see these (they're client-bound
		// replies), but a misbehaving peer might loop one back; drop it
		// rather than treat it as a protocol violation worth failing over.
		return nil

	default:
		return apperrors.Mark(apperrors.New("unhandled osrf message type %q", m.Type), apperrors.KindProtocol)
	}
}

func (st *Stack) dispatchRequest(ctx context.Context, sess *osession.Session, m message.OSRFMessage) (err error) {
	if m.Request == nil {
		return st.sendTo(sess, message.NewStatus(m.ThreadTrace, message.StatusBadRequest, "missing request payload"))
	}

	handler, ok := st.Methods.Lookup(m.Request.Method)
	if !ok {
		return st.sendTo(sess, message.NewStatus(m.ThreadTrace, message.StatusNotFound, fmt.Sprintf("method not found: %s", m.Request.Method)))
	}

	r := &Responder{stack: st, session: sess, threadTrace: m.ThreadTrace}

	defer func() {
		if rec := recover(); rec != nil {
			sess.SetPanicked()
			sendErr := st.sendTo(sess, message.NewStatus(m.ThreadTrace, message.StatusInternalServerError, fmt.Sprintf("panic: %v", rec)))
			if sendErr != nil {
				err = sendErr
				return
			}
			err = nil
		}
	}()

	handlerErr := handler(ctx, r, m.Request.Params)
	if r.sent {
		return nil
	}
	if handlerErr != nil {
		sess.SetPanicked()
		return st.sendTo(sess, message.NewStatus(m.ThreadTrace, message.StatusInternalServerError, handlerErr.Error()))
	}
	return st.sendTo(sess, message.NewStatus(m.ThreadTrace, message.StatusComplete, "Request Complete"))
}

// sendTo addresses a single OSRFMessage at the session's current RemoteID
// — the caller we're replying to — and pushes it to the bus on the
// session's thread, identifying ourselves as SelfAddress.
func (st *Stack) sendTo(sess *osession.Session, m message.OSRFMessage) error {
	tm, err := message.NewTransportMessage(sess.RemoteID(), st.SelfAddress, sess.Thread, "", []message.OSRFMessage{m})
	if err != nil {
		return err
	}
	return st.Client.Send(tm)
}
