package prefork

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/evergreen-library-system/opensrf-go/addr"
	"github.com/evergreen-library-system/opensrf-go/bus"
	"github.com/evergreen-library-system/opensrf-go/message"
	"github.com/evergreen-library-system/opensrf-go/osession"
	"github.com/evergreen-library-system/opensrf-go/stack"
)

// discardBus is a bus.Client stub whose Send just counts messages, so
// RunDrone tests can exercise the drone loop without a live bus.
type discardBus struct{ sent int }

func (c *discardBus) Connect(ctx context.Context, domain string, port int, creds bus.Credentials, role bus.Role, identity, droneID string) error {
	return nil
}
func (c *discardBus) Send(msg *message.TransportMessage) error { c.sent++; return nil }
func (c *discardBus) Recv(timeout time.Duration) (*message.TransportMessage, error) {
	return nil, nil
}
func (c *discardBus) Disconnect() error       { return nil }
func (c *discardBus) Addresses() []addr.Address { return nil }

func TestRunDroneStopsAfterMaxRequests(t *testing.T) {
	st := stack.NewStack(&discardBus{}, stack.NewMethods(), "opensrf.math@example.com/drone-1")
	st.Methods.Register("opensrf.math.add", func(ctx context.Context, r *stack.Responder, params []any) error {
		return r.Result(3)
	})
	registry := osession.NewRegistry()

	var in bytes.Buffer
	for i := 0; i < 3; i++ {
		m := message.NewRequest(int64(i+1), "opensrf.math.add", []any{1, 2})
		tm, err := message.NewTransportMessage("opensrf.math@example.com/drone-1", "client@example.com/abc", "thread-1", "", []message.OSRFMessage{m})
		if err != nil {
			t.Fatalf("build transport message: %v", err)
		}
		payload, err := tm.Encode()
		if err != nil {
			t.Fatalf("encode transport message: %v", err)
		}
		if err := writeFrame(&in, payload); err != nil {
			t.Fatalf("writeFrame: %v", err)
		}
	}

	var out bytes.Buffer
	if err := RunDrone(context.Background(), st, registry, 2, &in, &out); err != nil {
		t.Fatalf("RunDrone failed: %v", err)
	}

	// Exactly 2 back-signals should have been written (maxRequests=2), even
	// though 3 requests were queued on the input.
	signalCount := out.Len() / frameHeaderWidth
	if signalCount != 2 {
		t.Fatalf("back-signal count = %d, want 2", signalCount)
	}
}

func TestRunDroneStopsAfterPanicFlagOnStatelessRequest(t *testing.T) {
	st := stack.NewStack(&discardBus{}, stack.NewMethods(), "opensrf.math@example.com/drone-1")
	st.Methods.Register("opensrf.math.boom", func(ctx context.Context, r *stack.Responder, params []any) error {
		return errBoomRuntime
	})
	registry := osession.NewRegistry()

	var in bytes.Buffer
	for i := 0; i < 3; i++ {
		m := message.NewRequest(int64(i+1), "opensrf.math.boom", nil)
		// Each call is a stateless (non-CONNECT) exchange: Dispatch deletes
		// its session from the registry before returning, so the panic flag
		// can only reach RunDrone through Dispatch's return value.
		tm, err := message.NewTransportMessage("opensrf.math@example.com/drone-1", "client@example.com/abc", "thread-stateless", "", []message.OSRFMessage{m})
		if err != nil {
			t.Fatalf("build transport message: %v", err)
		}
		payload, err := tm.Encode()
		if err != nil {
			t.Fatalf("encode transport message: %v", err)
		}
		if err := writeFrame(&in, payload); err != nil {
			t.Fatalf("writeFrame: %v", err)
		}
	}

	var out bytes.Buffer
	if err := RunDrone(context.Background(), st, registry, 0, &in, &out); err != nil {
		t.Fatalf("RunDrone failed: %v", err)
	}

	// The handler error on the very first stateless request should have set
	// the panic flag and ended the drone, despite maxRequests being
	// unlimited and 3 requests queued.
	signalCount := out.Len() / frameHeaderWidth
	if signalCount != 1 {
		t.Fatalf("back-signal count = %d, want 1 (drone should exit after the first panicked stateless request)", signalCount)
	}
}

type boomErrorRuntime struct{}

func (boomErrorRuntime) Error() string { return "boom" }

var errBoomRuntime = boomErrorRuntime{}
