package router

import (
	"context"
	"time"

	opensrfaddr "github.com/evergreen-library-system/opensrf-go/addr"
	"github.com/evergreen-library-system/opensrf-go/bus"
	"github.com/evergreen-library-system/opensrf-go/errors"
	"github.com/evergreen-library-system/opensrf-go/message"
)

// Router is the bus client at a well-known router address for one domain
// (spec.md §4.6): it tracks service registrations and round-robins
// forwarded requests across each service's drones.
type Router struct {
	Client      bus.Client
	Registry    *Registry
	ACL         ACL
	SelfAddress string
}

// NewRouter builds a Router replying/forwarding as selfAddress, subject to
// acl for service registration.
func NewRouter(client bus.Client, selfAddress string, acl ACL) *Router {
	return &Router{Client: client, Registry: NewRegistry(), ACL: acl, SelfAddress: selfAddress}
}

// Serve blocks, repeatedly Recv-ing from the bus and dispatching each
// message, until ctx is cancelled or Recv returns a hard error.
func (rt *Router) Serve(ctx context.Context, recvTimeout time.Duration) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		tm, err := rt.Client.Recv(recvTimeout)
		if err != nil {
			return err
		}
		if tm == nil {
			continue
		}
		if err := rt.Dispatch(tm); err != nil {
			return err
		}
	}
}

// Dispatch handles one inbound TransportMessage: a register/unregister
// command updates the Registry, anything else is forwarded to the
// requested service (spec.md §4.6).
func (rt *Router) Dispatch(tm *message.TransportMessage) error {
	if tm.RouterCommand != "" {
		return rt.handleCommand(tm)
	}
	return rt.forward(tm)
}

func (rt *Router) handleCommand(tm *message.TransportMessage) error {
	switch tm.RouterCommand {
	case "register":
		permitted, err := rt.ACL.Permits(tm.RouterClass)
		if err != nil {
			return err
		}
		if !permitted {
			return nil
		}
		rt.Registry.Register(tm.RouterClass, tm.Sender)
		return nil

	case "unregister":
		rt.Registry.Unregister(tm.RouterClass, tm.Sender)
		return nil

	default:
		return errors.Mark(errors.New("unknown router command %q", tm.RouterCommand), errors.KindProtocol)
	}
}

// forward routes a non-command message to the next drone of the service it
// names, retrying once with a different drone on a send failure before
// giving up (spec.md §4.6's router failure policy).
func (rt *Router) forward(tm *message.TransportMessage) error {
	service, err := rt.resolveService(tm)
	if err != nil {
		return rt.sendStatus(tm, message.StatusBadRequest, err.Error())
	}

	addr, ok := rt.Registry.Next(service)
	if !ok {
		return rt.sendStatus(tm, message.StatusNotFound, "no drone registered for "+service)
	}

	if err := rt.sendTo(tm, addr); err == nil {
		return nil
	}

	rt.Registry.UnregisterAddress(addr)
	addr2, ok := rt.Registry.Next(service)
	if !ok {
		return rt.sendStatus(tm, message.StatusInternalServerError, "no drone available after retry")
	}
	if err := rt.sendTo(tm, addr2); err != nil {
		rt.Registry.UnregisterAddress(addr2)
		return rt.sendStatus(tm, message.StatusTimeout, "forward failed after retry")
	}
	return nil
}

func (rt *Router) resolveService(tm *message.TransportMessage) (string, error) {
	if tm.RouterTo != "" {
		return tm.RouterTo, nil
	}
	parsed, err := opensrfaddr.Parse(tm.Recipient)
	if err != nil {
		return "", errors.Mark(err, errors.KindProtocol)
	}
	if parsed.Purpose == opensrfaddr.PurposeRouter {
		return parsed.Remainder, nil
	}
	return parsed.Username, nil
}

func (rt *Router) sendTo(tm *message.TransportMessage, addr string) error {
	fwd := *tm
	fwd.Recipient = addr
	fwd.RouterFrom = tm.Sender
	return rt.Client.Send(&fwd)
}

func (rt *Router) sendStatus(tm *message.TransportMessage, code message.StatusCode, text string) error {
	var threadTrace int64
	if msgs, err := tm.Messages(); err == nil && len(msgs) > 0 {
		threadTrace = msgs[0].ThreadTrace
	}
	reply, err := message.NewTransportMessage(tm.Sender, rt.SelfAddress, tm.Thread, "", []message.OSRFMessage{
		message.NewStatus(threadTrace, code, text),
	})
	if err != nil {
		return err
	}
	return rt.Client.Send(reply)
}
