package prefork

import (
	"context"
	"io"
	"os"

	"github.com/evergreen-library-system/opensrf-go/message"
	"github.com/evergreen-library-system/opensrf-go/osession"
	"github.com/evergreen-library-system/opensrf-go/stack"
)

// RunDrone is the body of a drone subprocess: read one framed
// TransportMessage at a time from in, dispatch it on st, and write this
// process's PID back on out to report idle, until maxRequests calls have
// been served or a handler flagged its session panicked (spec.md §4.5's
// drone lifetime rule). It returns nil on a clean exit (request budget
// exhausted or panic flag) and a non-nil error only on a pipe failure.
func RunDrone(ctx context.Context, st *stack.Stack, registry *osession.Registry, maxRequests int, in io.Reader, out io.Writer) error {
	pid := os.Getpid()
	served := 0

	for maxRequests <= 0 || served < maxRequests {
		payload, err := readFrame(in)
		if err != nil {
			if err == io.EOF {
				return nil
			}
			return err
		}

		var panicked bool
		if tm, decodeErr := message.DecodeTransportMessage(payload); decodeErr == nil {
			panicked, _ = st.Dispatch(ctx, registry, tm)
		}
		served++

		if err := writeBackSignal(out, pid); err != nil {
			return err
		}

		if panicked {
			return nil
		}
	}
	return nil
}
