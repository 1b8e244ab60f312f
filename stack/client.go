package stack

import (
	"github.com/evergreen-library-system/opensrf-go/message"
	"github.com/evergreen-library-system/opensrf-go/osession"
)

// ApplyClientMessage routes one inbound OSRFMessage to the client-side
// osession.Session it belongs to: a STATUS replying to a CONNECT updates
// the session's lifecycle state, while a RESULT/STATUS tied to an
// outstanding Request is queued for whatever goroutine is blocked in
// Request.Recv. It is the client-side mirror of Stack.dispatchOne, kept
// separate since a plain client has no Methods table and no Responder to
// drive — it only ever consumes replies, never serves requests.
func ApplyClientMessage(sess *osession.Session, fromAddr string, m message.OSRFMessage) {
	switch m.Type {
	case message.TypeStatus:
		if m.Status == nil {
			return
		}
		if sess.State() == osession.StateConnecting {
			sess.HandleConnectStatus(fromAddr, *m.Status)
			return
		}
		if req, ok := sess.Request(m.ThreadTrace); ok {
			req.PushStatus(m)
		}

	case message.TypeResult:
		if req, ok := sess.Request(m.ThreadTrace); ok {
			req.PushResult(m)
		}

	default:
		// CONNECT/REQUEST/DISCONNECT are never client-bound; ignore.
	}
}
