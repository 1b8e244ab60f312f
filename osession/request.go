package osession

import (
	"sync"
	"time"

	"github.com/evergreen-library-system/opensrf-go/message"
)

// Request is the client-side App Request named in spec.md §3: the queue of
// RESULT messages a single outstanding call is accumulating, plus the
// terminal STATUS that closes it. Per the arena note in spec.md §9 it holds
// only the thread of its owning Session, not a pointer back to it — the
// Session's requests map is the sole place a Request lives.
type Request struct {
	ID            int64
	SessionThread string
	Payload       message.OSRFMessage
	ResetTimeout  bool

	mu         sync.Mutex
	results    []message.OSRFMessage
	lastStatus *message.OSRFMessage
	complete   bool
	notify     chan struct{}
}

func newRequest(id int64, sessionThread string, payload message.OSRFMessage) *Request {
	return &Request{
		ID:            id,
		SessionThread: sessionThread,
		Payload:       payload,
		notify:        make(chan struct{}),
	}
}

// signal wakes any goroutine blocked in Recv. Must be called with mu held.
func (r *Request) signal() {
	close(r.notify)
	r.notify = make(chan struct{})
}

// PushResult appends an incoming RESULT to this request's FIFO queue.
func (r *Request) PushResult(m message.OSRFMessage) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.results = append(r.results, m)
	r.signal()
}

// PushStatus records a STATUS reply. A non-CONTINUE code closes the request
// (spec.md §4.3 step 3); CONTINUE (100) just keeps the wait open.
func (r *Request) PushStatus(m message.OSRFMessage) {
	r.mu.Lock()
	defer r.mu.Unlock()
	status := m
	r.lastStatus = &status
	if m.Status != nil && m.Status.Code.IsTerminal() {
		r.complete = true
	}
	r.signal()
}

// Complete reports whether a terminal STATUS has closed this request.
func (r *Request) Complete() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.complete
}

// LastStatus returns the most recent STATUS received, if any.
func (r *Request) LastStatus() (message.OSRFMessage, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.lastStatus == nil {
		return message.OSRFMessage{}, false
	}
	return *r.lastStatus, true
}

// Recv drains the next queued RESULT, waiting up to timeout for one to
// arrive. Once the queue is empty and the request is complete it returns the
// terminal STATUS instead. A negative timeout blocks indefinitely; Recv
// returns (nil, false) on timeout with nothing available.
//
// ResetTimeout mirrors the reset_timeout signal a server can send mid-call
// (spec.md §4.3): when set, each loop iteration restarts the deadline rather
// than counting down from the original call.
func (r *Request) Recv(timeout time.Duration) (*message.OSRFMessage, bool) {
	var deadline time.Time
	hasDeadline := timeout >= 0
	if hasDeadline {
		deadline = time.Now().Add(timeout)
	}

	for {
		r.mu.Lock()
		if len(r.results) > 0 {
			m := r.results[0]
			r.results = r.results[1:]
			r.mu.Unlock()
			return &m, true
		}
		if r.complete {
			status := r.lastStatus
			reset := r.ResetTimeout
			r.mu.Unlock()
			if status == nil {
				return nil, false
			}
			_ = reset
			s := *status
			return &s, true
		}
		if hasDeadline && r.ResetTimeout {
			deadline = time.Now().Add(timeout)
		}
		ch := r.notify
		r.mu.Unlock()

		if !hasDeadline {
			<-ch
			continue
		}
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil, false
		}
		select {
		case <-ch:
		case <-time.After(remaining):
			return nil, false
		}
	}
}
