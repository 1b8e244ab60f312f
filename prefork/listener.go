package prefork

import (
	"context"
	"sync"
	"time"

	"github.com/evergreen-library-system/opensrf-go/bus"
	"github.com/evergreen-library-system/opensrf-go/errors"
	"github.com/evergreen-library-system/opensrf-go/message"
)

// Config holds the min/max spare-child policy and lifetime limits of
// spec.md §4.5.
type Config struct {
	MinChildren         int
	MaxChildren         int
	MinSpareChildren    int
	MaxSpareChildren    int
	MaxRequestsPerChild int
	MaintenanceInterval time.Duration
}

type pooledDrone struct {
	proc         DroneProcess
	requestCount int
}

// Listener is the prefork server: it owns the service's bus address,
// maintains idle/active drone pools, and multiplexes incoming transport
// messages across them (spec.md §4.5).
type Listener struct {
	cfg    Config
	client bus.Client
	spawn  func() (DroneProcess, error)

	mu            sync.Mutex
	idle          []*pooledDrone
	active        map[int]*pooledDrone
	sighupPending map[int]*pooledDrone
	total         int
	idleSignal    chan struct{}

	graceful bool // SIGTERM requested: maintenance stops growing the spare pool
}

// NewListener builds a Listener that spawns drones with spawn (normally
// SpawnSubprocess bound to a command/args) and reads incoming work from
// client.
func NewListener(cfg Config, client bus.Client, spawn func() (DroneProcess, error)) *Listener {
	return &Listener{
		cfg:           cfg,
		client:        client,
		spawn:         spawn,
		active:        map[int]*pooledDrone{},
		sighupPending: map[int]*pooledDrone{},
		idleSignal:    make(chan struct{}, 1),
	}
}

// ActiveCount reports the number of drones currently serving a request.
func (l *Listener) ActiveCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.active)
}

// TotalCount reports the total number of live drones (idle + active +
// sighup_pending).
func (l *Listener) TotalCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.total
}

func (l *Listener) notifyIdle() {
	select {
	case l.idleSignal <- struct{}{}:
	default:
	}
}

// spawnOne spawns one drone and adds it to the idle list. The spawn itself
// (an exec.Command call, potentially slow) happens outside any lock.
func (l *Listener) spawnOne() (*pooledDrone, error) {
	proc, err := l.spawn()
	if err != nil {
		return nil, errors.Wrapf(err, "spawn drone")
	}
	d := &pooledDrone{proc: proc}
	l.mu.Lock()
	l.idle = append(l.idle, d)
	l.total++
	l.mu.Unlock()
	l.notifyIdle()
	return d, nil
}

// Start spawns the initial min_children pool and runs the listener's
// receive/dispatch loop until ctx is cancelled or Recv fails hard.
func (l *Listener) Start(ctx context.Context) error {
	for i := 0; i < l.cfg.MinChildren; i++ {
		if _, err := l.spawnOne(); err != nil {
			return err
		}
	}

	go l.maintenanceLoop(ctx)

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		tm, err := l.client.Recv(time.Second)
		if err != nil {
			return err
		}
		if tm == nil {
			continue
		}
		if err := l.Dispatch(ctx, tm); err != nil {
			return err
		}
	}
}

// Dispatch hands one inbound TransportMessage to a drone, per spec.md
// §4.5's Dispatch/Saturation rules: pop the most recently idle drone (LIFO —
// keeps a warm drone's pipe and bus connection hot rather than round-
// robining through cold ones), or spawn fresh if under max_children, or
// block until one reports idle.
func (l *Listener) Dispatch(ctx context.Context, tm *message.TransportMessage) error {
	payload, err := tm.Encode()
	if err != nil {
		return err
	}

	d, err := l.acquireDrone(ctx)
	if err != nil {
		return err
	}

	l.mu.Lock()
	l.active[d.proc.PID()] = d
	l.mu.Unlock()

	if err := d.proc.Dispatch(payload); err != nil {
		l.mu.Lock()
		delete(l.active, d.proc.PID())
		l.total--
		l.mu.Unlock()
		_ = d.proc.Kill()
		return err
	}

	go l.waitForIdle(d)
	return nil
}

func (l *Listener) acquireDrone(ctx context.Context) (*pooledDrone, error) {
	for {
		l.mu.Lock()
		if n := len(l.idle); n > 0 {
			d := l.idle[n-1]
			l.idle = l.idle[:n-1]
			l.mu.Unlock()
			return d, nil
		}
		canSpawn := l.total < l.cfg.MaxChildren
		l.mu.Unlock()

		if canSpawn {
			d, err := l.spawnOne()
			if err != nil {
				return nil, err
			}
			// spawnOne parks the new drone on the idle list; take it back
			// off, since it is about to be handed this request.
			l.mu.Lock()
			for i, x := range l.idle {
				if x == d {
					l.idle = append(l.idle[:i], l.idle[i+1:]...)
					break
				}
			}
			l.mu.Unlock()
			return d, nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-l.idleSignal:
		}
	}
}

// waitForIdle blocks on one drone's back-signal, then returns it to the
// idle pool, retires it if it's exhausted max_requests, or finishes
// reaping it if SIGHUP marked it for death the moment it went idle.
func (l *Listener) waitForIdle(d *pooledDrone) {
	pid := d.proc.PID()
	_, err := d.proc.WaitIdle()

	l.mu.Lock()
	delete(l.active, pid)
	if err != nil {
		l.total--
		l.mu.Unlock()
		_ = d.proc.Kill()
		return
	}

	d.requestCount++
	if _, sighup := l.sighupPending[pid]; sighup {
		delete(l.sighupPending, pid)
		l.total--
		l.mu.Unlock()
		_ = d.proc.Kill()
		return
	}
	if l.cfg.MaxRequestsPerChild > 0 && d.requestCount >= l.cfg.MaxRequestsPerChild {
		l.total--
		l.mu.Unlock()
		_ = d.proc.Kill()
		return
	}

	l.idle = append(l.idle, d)
	l.mu.Unlock()
	l.notifyIdle()
}

// maintenanceLoop enforces the min/max spare-children policy, at most one
// spawn or one kill per tick (spec.md §4.5's no-storm rule).
func (l *Listener) maintenanceLoop(ctx context.Context) {
	interval := l.cfg.MaintenanceInterval
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.maintainOnce()
		}
	}
}

func (l *Listener) maintainOnce() {
	l.mu.Lock()
	spare := len(l.idle)
	total := l.total
	graceful := l.graceful
	l.mu.Unlock()

	if graceful {
		return
	}

	if spare < l.cfg.MinSpareChildren && total < l.cfg.MaxChildren {
		_, _ = l.spawnOne()
		return
	}
	if spare > l.cfg.MaxSpareChildren && total > l.cfg.MinChildren {
		l.mu.Lock()
		if len(l.idle) == 0 {
			l.mu.Unlock()
			return
		}
		d := l.idle[0]
		l.idle = l.idle[1:]
		l.total--
		l.mu.Unlock()
		_ = d.proc.Kill()
	}
}

// SIGHUP kills every currently idle drone immediately and marks every
// active drone for death the moment it next reports idle, per spec.md
// §4.5. Callers reload config/logging themselves before the first
// replacement drone is spawned by the normal maintenance/saturation path.
func (l *Listener) SIGHUP() {
	l.mu.Lock()
	toKill := l.idle
	l.idle = nil
	l.total -= len(toKill)
	for pid, d := range l.active {
		l.sighupPending[pid] = d
	}
	l.mu.Unlock()

	for _, d := range toKill {
		_ = d.proc.Kill()
	}
}

// SIGTERMGraceful stops spawning/accepting new spare-pool growth and blocks
// until no drone is active, then kills whatever remains idle. Callers are
// expected to have already deregistered from the router before calling this.
func (l *Listener) SIGTERMGraceful(ctx context.Context) {
	l.mu.Lock()
	l.graceful = true
	l.mu.Unlock()

	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
drain:
	for {
		if l.ActiveCount() == 0 {
			break
		}
		select {
		case <-ctx.Done():
			break drain
		case <-ticker.C:
		}
	}

	l.mu.Lock()
	toKill := l.idle
	l.idle = nil
	l.total -= len(toKill)
	l.mu.Unlock()
	for _, d := range toKill {
		_ = d.proc.Kill()
	}
}

// SIGINTImmediate kills every drone — idle, active, and sighup-pending —
// without waiting for anything to finish.
func (l *Listener) SIGINTImmediate() {
	l.mu.Lock()
	var all []*pooledDrone
	all = append(all, l.idle...)
	for _, d := range l.active {
		all = append(all, d)
	}
	for _, d := range l.sighupPending {
		all = append(all, d)
	}
	l.idle = nil
	l.active = map[int]*pooledDrone{}
	l.sighupPending = map[int]*pooledDrone{}
	l.total = 0
	l.mu.Unlock()

	for _, d := range all {
		_ = d.proc.Kill()
	}
}
