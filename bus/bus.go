package bus

import (
	"context"
	"time"

	"github.com/evergreen-library-system/opensrf-go/addr"
	"github.com/evergreen-library-system/opensrf-go/message"
)

// Role is the kind of bus participant a Client is opened as (spec.md §4.1).
type Role string

const (
	RoleService    Role = "service"
	RoleRouter     Role = "router"
	RoleStandalone Role = "standalone"
)

// Credentials authenticate a Client to the bus.
type Credentials struct {
	Username string
	Password string
}

// Client owns a connection to one bus domain and one or more named
// addresses on it, per the Bus Client contract table in spec.md §4.1.
type Client interface {
	// Connect opens the connection and claims addresses according to role:
	//   - RoleService claims addr.Service(domain, identity) for new
	//     requests, and addr.Drone(domain, identity, droneID) too if
	//     droneID is non-empty (reserved for one drone's direct traffic).
	//   - RoleRouter claims addr.Router(domain).
	//   - RoleStandalone claims addr.Service(domain, identity) alone (used
	//     by plain clients, which have no drone of their own).
	Connect(ctx context.Context, domain string, port int, creds Credentials, role Role, identity string, droneID string) error

	// Send enqueues msg on its Recipient's queue. The caller is expected to
	// have already populated Recipient/Sender/Thread/Body.
	Send(msg *message.TransportMessage) error

	// Recv waits for the next message addressed to one of this client's
	// claimed addresses. timeout < 0 blocks indefinitely; timeout == 0 is
	// non-blocking (used to drain stale responses after an error);
	// timeout > 0 blocks up to that long. Returns (nil, nil) on a timeout
	// with no message available.
	Recv(timeout time.Duration) (*message.TransportMessage, error)

	// Disconnect releases the connection. Idempotent.
	Disconnect() error

	// Addresses returns the addresses this client currently owns.
	Addresses() []addr.Address
}
