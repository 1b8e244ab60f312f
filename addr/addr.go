package addr

import (
	"strings"

	"github.com/google/uuid"

	"github.com/evergreen-library-system/opensrf-go/errors"
)

// Purpose is the first component of an address, naming what kind of bus
// participant owns it.
type Purpose string

const (
	PurposeService Purpose = "service"
	PurposeRouter  Purpose = "router"
)

// RouterUsername is the fixed username a router address uses, per spec.md
// §3 ("router@domain/router").
const RouterUsername = "router"

// Address is a parsed bus address: purpose@domain/remainder.
type Address struct {
	Purpose   Purpose
	Domain    string
	Username  string // the part before '@' — a service name, or "router"
	Remainder string // the part after '/' — a drone id, or "router"
}

// Parse splits a raw bus address of the form "username@domain/remainder".
func Parse(raw string) (Address, error) {
	at := strings.IndexByte(raw, '@')
	if at < 0 {
		return Address{}, errors.New("invalid bus address %q: missing '@'", raw)
	}
	username := raw[:at]
	rest := raw[at+1:]
	slash := strings.IndexByte(rest, '/')
	if slash < 0 {
		return Address{}, errors.New("invalid bus address %q: missing '/'", raw)
	}
	domain := rest[:slash]
	remainder := rest[slash+1:]
	if username == "" || domain == "" || remainder == "" {
		return Address{}, errors.New("invalid bus address %q: empty component", raw)
	}

	purpose := PurposeService
	if username == RouterUsername {
		purpose = PurposeRouter
	}

	return Address{
		Purpose:   purpose,
		Domain:    domain,
		Username:  username,
		Remainder: remainder,
	}, nil
}

// String renders the address back to wire form.
func (a Address) String() string {
	return a.Username + "@" + a.Domain + "/" + a.Remainder
}

// Service builds the canonical address new requests for a service are sent
// to: "<service>@<domain>/<service>".
func Service(domain, service string) Address {
	return Address{Purpose: PurposeService, Domain: domain, Username: service, Remainder: service}
}

// Drone builds a specific drone's address, reserved for the listener to hand
// to exactly one drone and for stateful clients to pin a conversation to
// once CONNECTed.
func Drone(domain, service, droneID string) Address {
	return Address{Purpose: PurposeService, Domain: domain, Username: service, Remainder: droneID}
}

// Router builds the well-known router address for a domain.
func Router(domain string) Address {
	return Address{Purpose: PurposeRouter, Domain: domain, Username: RouterUsername, Remainder: RouterUsername}
}

// NewDroneID produces a unique suffix for a drone's reserved address. Real
// deployments traditionally suffix with the drone's PID; a UUID avoids PID
// reuse collisions across restarts on the same host.
func NewDroneID() string {
	return uuid.NewString()
}
