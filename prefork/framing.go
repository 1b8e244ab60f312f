package prefork

import (
	"io"
	"strconv"
	"strings"

	"github.com/evergreen-library-system/opensrf-go/errors"
)

// frameHeaderWidth is the fixed-width decimal length header preceding every
// payload on the control pipe, and the width of the PID back-signal running
// the other direction. Both widths are part of the IPC contract between
// listener and drone and must match on both sides (spec.md §4.5).
const frameHeaderWidth = 12

// writeFrame writes a length-prefixed payload: a frameHeaderWidth-digit
// decimal length header followed by exactly that many bytes.
func writeFrame(w io.Writer, payload []byte) error {
	header := paddedDecimal(len(payload))
	if _, err := io.WriteString(w, header); err != nil {
		return errors.Wrapf(err, "write frame header")
	}
	if _, err := w.Write(payload); err != nil {
		return errors.Wrapf(err, "write frame payload")
	}
	return nil
}

// readFrame reads one length-prefixed payload, blocking until the header
// and then the full payload have arrived — possibly across several reads.
func readFrame(r io.Reader) ([]byte, error) {
	header := make([]byte, frameHeaderWidth)
	if _, err := io.ReadFull(r, header); err != nil {
		return nil, err
	}
	n, err := strconv.Atoi(strings.TrimSpace(string(header)))
	if err != nil {
		return nil, errors.Mark(errors.Wrapf(err, "invalid frame header %q", header), errors.KindProtocol)
	}
	payload := make([]byte, n)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, err
	}
	return payload, nil
}

// writeBackSignal writes a drone's PID back to the listener in the same
// fixed width as writeFrame's length header, signaling "I'm idle".
func writeBackSignal(w io.Writer, pid int) error {
	_, err := io.WriteString(w, paddedDecimal(pid))
	if err != nil {
		return errors.Wrapf(err, "write back-signal")
	}
	return nil
}

// readBackSignal reads one drone PID written by writeBackSignal.
func readBackSignal(r io.Reader) (int, error) {
	buf := make([]byte, frameHeaderWidth)
	if _, err := io.ReadFull(r, buf); err != nil {
		return 0, err
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(buf)))
	if err != nil {
		return 0, errors.Mark(errors.Wrapf(err, "invalid back-signal %q", buf), errors.KindProtocol)
	}
	return pid, nil
}

func paddedDecimal(n int) string {
	s := strconv.Itoa(n)
	if len(s) >= frameHeaderWidth {
		return s
	}
	return strings.Repeat("0", frameHeaderWidth-len(s)) + s
}
