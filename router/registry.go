package router

import "sync"

// serviceEntry is one service's drone pool and round-robin cursor.
type serviceEntry struct {
	drones []string
	cursor int
}

// Registry maps service_name -> the list of drone addresses currently
// registered for it, per spec.md §4.6.
type Registry struct {
	mu       sync.Mutex
	services map[string]*serviceEntry
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{services: map[string]*serviceEntry{}}
}

// Register adds addr to service's drone list. Idempotent: re-registering an
// address already present is a no-op.
func (r *Registry) Register(service, addr string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.services[service]
	if !ok {
		e = &serviceEntry{}
		r.services[service] = e
	}
	for _, d := range e.drones {
		if d == addr {
			return
		}
	}
	e.drones = append(e.drones, addr)
}

// Unregister removes addr from service's drone list. If the list becomes
// empty the service entry itself is removed (spec.md §4.6).
func (r *Registry) Unregister(service, addr string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.services[service]
	if !ok {
		return
	}
	for i, d := range e.drones {
		if d == addr {
			e.drones = append(e.drones[:i], e.drones[i+1:]...)
			break
		}
	}
	if len(e.drones) == 0 {
		delete(r.services, service)
	} else if e.cursor >= len(e.drones) {
		e.cursor = 0
	}
}

// UnregisterAddress removes addr from every service it was registered
// under — used when a router notices a drone's address is stale across the
// whole registry, not just the one service it was forwarding to.
func (r *Registry) UnregisterAddress(addr string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for service, e := range r.services {
		for i, d := range e.drones {
			if d == addr {
				e.drones = append(e.drones[:i], e.drones[i+1:]...)
				break
			}
		}
		if len(e.drones) == 0 {
			delete(r.services, service)
		} else if e.cursor >= len(e.drones) {
			e.cursor = 0
		}
	}
}

// Next returns the next drone address for service in round-robin order, and
// advances the cursor. Returns ("", false) if the service has no drones.
func (r *Registry) Next(service string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.services[service]
	if !ok || len(e.drones) == 0 {
		return "", false
	}
	addr := e.drones[e.cursor%len(e.drones)]
	e.cursor = (e.cursor + 1) % len(e.drones)
	return addr, true
}

// Drones returns a snapshot of the addresses currently registered for
// service.
func (r *Registry) Drones(service string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.services[service]
	if !ok {
		return nil
	}
	out := make([]string, len(e.drones))
	copy(out, e.drones)
	return out
}

// Services returns the names currently registered.
func (r *Registry) Services() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.services))
	for name := range r.services {
		out = append(out, name)
	}
	return out
}
