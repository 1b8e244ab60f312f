package osession

import (
	"testing"
	"time"

	"github.com/evergreen-library-system/opensrf-go/message"
)

func TestClientSessionConnectLifecycle(t *testing.T) {
	reg := NewRegistry()
	s := NewClientSession(reg, "router@example.com/opensrf.math", false)

	if s.State() != StateDisconnected {
		t.Fatalf("new session state = %v, want DISCONNECTED", s.State())
	}

	connectMsg, err := s.Connect()
	if err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	if connectMsg.Type != message.TypeConnect {
		t.Fatalf("Connect message type = %v, want CONNECT", connectMsg.Type)
	}
	if s.State() != StateConnecting {
		t.Fatalf("state after Connect = %v, want CONNECTING", s.State())
	}

	s.HandleConnectStatus("drone@example.com/opensrf.math-drone-1", message.StatusPayload{Code: message.StatusOK})
	if s.State() != StateConnected {
		t.Fatalf("state after 200 status = %v, want CONNECTED", s.State())
	}
	if s.RemoteID() != "drone@example.com/opensrf.math-drone-1" {
		t.Fatalf("RemoteID not pinned to responding drone: %s", s.RemoteID())
	}

	disconnectMsg := s.Disconnect()
	if disconnectMsg.Type != message.TypeDisconnect {
		t.Fatalf("Disconnect message type = %v, want DISCONNECT", disconnectMsg.Type)
	}
	if s.State() != StateDisconnected {
		t.Fatalf("state after Disconnect = %v, want DISCONNECTED", s.State())
	}
	if s.RemoteID() != s.OrigRemoteID {
		t.Fatalf("RemoteID not reset to OrigRemoteID after Disconnect: %s", s.RemoteID())
	}
}

func TestStatelessSessionCannotConnect(t *testing.T) {
	s := NewClientSession(NewRegistry(), "router@example.com/opensrf.math", true)
	if _, err := s.Connect(); err == nil {
		t.Fatal("expected error connecting a stateless session")
	}
}

func TestMakeRequestAndRecv(t *testing.T) {
	reg := NewRegistry()
	s := NewClientSession(reg, "router@example.com/opensrf.math", true)

	req, msg := s.MakeRequest("opensrf.math.add", []any{1, 2})
	if msg.Request.Method != "opensrf.math.add" {
		t.Fatalf("request method = %q", msg.Request.Method)
	}
	if got, ok := s.Request(req.ID); !ok || got != req {
		t.Fatal("MakeRequest did not register the request under the session")
	}

	go func() {
		req.PushResult(message.NewResult(req.ID, 3))
		req.PushStatus(message.NewStatus(req.ID, message.StatusComplete, "Request Complete"))
	}()

	result, ok := req.Recv(time.Second)
	if !ok || result == nil || result.Type != message.TypeResult {
		t.Fatalf("expected a RESULT from Recv, got %+v ok=%v", result, ok)
	}

	status, ok := req.Recv(time.Second)
	if !ok || status == nil || status.Type != message.TypeStatus {
		t.Fatalf("expected terminal STATUS from Recv, got %+v ok=%v", status, ok)
	}
	if !req.Complete() {
		t.Fatal("request should be complete after terminal status")
	}

	s.RequestFinish(req.ID)
	if _, ok := s.Request(req.ID); ok {
		t.Fatal("RequestFinish did not remove the request from the session")
	}
}

func TestRecvTimesOutWithNoData(t *testing.T) {
	s := NewClientSession(NewRegistry(), "router@example.com/opensrf.math", true)
	req, _ := s.MakeRequest("opensrf.math.add", nil)

	start := time.Now()
	result, ok := req.Recv(20 * time.Millisecond)
	if ok || result != nil {
		t.Fatalf("expected timeout with no data, got %+v ok=%v", result, ok)
	}
	if time.Since(start) < 20*time.Millisecond {
		t.Fatal("Recv returned before its timeout elapsed")
	}
}

func TestServerSessionConnectDisconnect(t *testing.T) {
	reg := NewRegistry()
	s := NewServerSession(reg, "thread-123", "client@example.com/abc")

	statusMsg := s.HandleConnect(1)
	if statusMsg.Status.Code != message.StatusOK {
		t.Fatalf("HandleConnect status = %v, want 200", statusMsg.Status.Code)
	}
	if s.State() != StateConnected {
		t.Fatalf("state after HandleConnect = %v, want CONNECTED", s.State())
	}

	s.HandleDisconnect()
	if s.State() != StateDisconnected {
		t.Fatalf("state after HandleDisconnect = %v, want DISCONNECTED", s.State())
	}

	reg.Delete(s.Thread)
	if _, ok := reg.Get(s.Thread); ok {
		t.Fatal("session still present in registry after Delete")
	}
}

func TestRegistryPutGetDelete(t *testing.T) {
	reg := NewRegistry()
	s := NewClientSession(reg, "router@example.com/opensrf.math", false)

	got, ok := reg.Get(s.Thread)
	if !ok || got != s {
		t.Fatal("registry did not return the session it was given")
	}
	if reg.Len() != 1 {
		t.Fatalf("registry length = %d, want 1", reg.Len())
	}

	reg.Delete(s.Thread)
	if reg.Len() != 0 {
		t.Fatalf("registry length after delete = %d, want 0", reg.Len())
	}
}
