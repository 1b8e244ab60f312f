package stack

import (
	"context"
	"time"

	"github.com/evergreen-library-system/opensrf-go/osession"
)

// Serve blocks, repeatedly calling bus.Client.Recv and running Dispatch on
// whatever arrives, until ctx is cancelled or Recv returns a hard error. It
// serves straight from the Stack's own bus addresses; prefork drones do not
// use it, they run prefork.RunDrone on requests framed over the listener's
// pipe instead.
func (st *Stack) Serve(ctx context.Context, registry *osession.Registry, recvTimeout time.Duration) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		tm, err := st.Client.Recv(recvTimeout)
		if err != nil {
			return err
		}
		if tm == nil {
			continue
		}
		if _, err := st.Dispatch(ctx, registry, tm); err != nil {
			return err
		}
	}
}
