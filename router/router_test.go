package router

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/evergreen-library-system/opensrf-go/addr"
	"github.com/evergreen-library-system/opensrf-go/bus"
	"github.com/evergreen-library-system/opensrf-go/message"
)

type fakeBus struct {
	mu      sync.Mutex
	out     []*message.TransportMessage
	failFor string // Send fails once for this recipient
	didFail map[string]bool
}

func (f *fakeBus) Connect(ctx context.Context, domain string, port int, creds bus.Credentials, role bus.Role, identity, droneID string) error {
	return nil
}

func (f *fakeBus) Send(msg *message.TransportMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.didFail == nil {
		f.didFail = map[string]bool{}
	}
	if f.failFor != "" && msg.Recipient == f.failFor && !f.didFail[msg.Recipient] {
		f.didFail[msg.Recipient] = true
		return errBoom
	}
	f.out = append(f.out, msg)
	return nil
}

func (f *fakeBus) Recv(timeout time.Duration) (*message.TransportMessage, error) { return nil, nil }
func (f *fakeBus) Disconnect() error                                            { return nil }
func (f *fakeBus) Addresses() []addr.Address                                    { return nil }

func (f *fakeBus) last() *message.TransportMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.out) == 0 {
		return nil
	}
	return f.out[len(f.out)-1]
}

type boomErr struct{}

func (boomErr) Error() string { return "boom" }

var errBoom = boomErr{}

func requestTransport(recipient, routerTo string) *message.TransportMessage {
	m := message.NewRequest(1, "opensrf.math.add", []any{1, 2})
	tm, err := message.NewTransportMessage(recipient, "client@example.com/abc", "thread-1", "", []message.OSRFMessage{m})
	if err != nil {
		panic(err)
	}
	tm.RouterTo = routerTo
	return tm
}

func TestRegisterThenForwardRoundRobin(t *testing.T) {
	fb := &fakeBus{}
	rt := NewRouter(fb, "router@example.com/router", ACL{})

	rt.Registry.Register("opensrf.math", "opensrf.math@example.com/drone-1")
	rt.Registry.Register("opensrf.math", "opensrf.math@example.com/drone-2")

	tm := requestTransport("router@example.com/router", "opensrf.math")

	if err := rt.Dispatch(tm); err != nil {
		t.Fatalf("Dispatch failed: %v", err)
	}
	if got := fb.last().Recipient; got != "opensrf.math@example.com/drone-1" {
		t.Fatalf("first forward recipient = %s, want drone-1", got)
	}

	if err := rt.Dispatch(tm); err != nil {
		t.Fatalf("Dispatch failed: %v", err)
	}
	if got := fb.last().Recipient; got != "opensrf.math@example.com/drone-2" {
		t.Fatalf("second forward recipient = %s, want drone-2 (round robin)", got)
	}
}

func TestForwardNoDroneReturns404(t *testing.T) {
	fb := &fakeBus{}
	rt := NewRouter(fb, "router@example.com/router", ACL{})
	tm := requestTransport("router@example.com/router", "opensrf.math")

	if err := rt.Dispatch(tm); err != nil {
		t.Fatalf("Dispatch failed: %v", err)
	}
	last := fb.last()
	msgs, _ := last.Messages()
	if len(msgs) != 1 || msgs[0].Status.Code != message.StatusNotFound {
		t.Fatalf("expected 404 status, got %+v", msgs)
	}
}

func TestForwardRetriesOnceThenSucceeds(t *testing.T) {
	fb := &fakeBus{failFor: "opensrf.math@example.com/drone-1"}
	rt := NewRouter(fb, "router@example.com/router", ACL{})
	rt.Registry.Register("opensrf.math", "opensrf.math@example.com/drone-1")
	rt.Registry.Register("opensrf.math", "opensrf.math@example.com/drone-2")

	tm := requestTransport("router@example.com/router", "opensrf.math")
	if err := rt.Dispatch(tm); err != nil {
		t.Fatalf("Dispatch failed: %v", err)
	}

	if got := fb.last().Recipient; got != "opensrf.math@example.com/drone-2" {
		t.Fatalf("expected retry to land on drone-2, got %s", got)
	}
	if drones := rt.Registry.Drones("opensrf.math"); len(drones) != 1 || drones[0] != "opensrf.math@example.com/drone-2" {
		t.Fatalf("expected failing drone-1 removed from registry, got %v", drones)
	}
}

func TestRegisterDeniedByACL(t *testing.T) {
	fb := &fakeBus{}
	rt := NewRouter(fb, "router@example.com/router", ACL{Deny: []string{"opensrf.secret.*"}})

	reg := &message.TransportMessage{
		Recipient:     "router@example.com/router",
		Sender:        "opensrf.secret@example.com/drone-1",
		Thread:        "t1",
		RouterCommand: "register",
		RouterClass:   "opensrf.secret.admin",
	}
	if err := rt.Dispatch(reg); err != nil {
		t.Fatalf("Dispatch failed: %v", err)
	}
	if drones := rt.Registry.Drones("opensrf.secret.admin"); len(drones) != 0 {
		t.Fatalf("denied service should not have registered, got %v", drones)
	}
}

func TestUnregisterEmptiesService(t *testing.T) {
	rt := NewRouter(&fakeBus{}, "router@example.com/router", ACL{})
	rt.Registry.Register("opensrf.math", "opensrf.math@example.com/drone-1")

	unreg := &message.TransportMessage{
		Recipient:     "router@example.com/router",
		Sender:        "opensrf.math@example.com/drone-1",
		Thread:        "t1",
		RouterCommand: "unregister",
		RouterClass:   "opensrf.math",
	}
	if err := rt.Dispatch(unreg); err != nil {
		t.Fatalf("Dispatch failed: %v", err)
	}
	if services := rt.Registry.Services(); len(services) != 0 {
		t.Fatalf("expected service entry removed once empty, got %v", services)
	}
}
