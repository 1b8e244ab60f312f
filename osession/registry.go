package osession

import "sync"

// Registry is the process-wide thread -> Session map, grounded on the
// teacher's acpServer.sessions/sessionsLock pair in acp/acp.go: every
// inbound or outbound message is addressed to a thread, and the Stack looks
// the owning Session up here before it can dispatch anything.
type Registry struct {
	mu       sync.Mutex
	sessions map[string]*Session
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{sessions: map[string]*Session{}}
}

// Get looks up a Session by thread.
func (r *Registry) Get(thread string) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[thread]
	return s, ok
}

// Put registers a Session, replacing any previous one with the same thread.
func (r *Registry) Put(s *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[s.Thread] = s
}

// Delete removes a Session, destroying its AppRequest arena with it.
func (r *Registry) Delete(thread string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, thread)
}

// Len reports how many sessions are currently live.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}
