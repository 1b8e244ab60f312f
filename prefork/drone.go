package prefork

import (
	"io"
	"os"
	"os/exec"

	"github.com/evergreen-library-system/opensrf-go/errors"
)

// DroneProcess is the listener's view of one drone: hand it a framed
// request, then wait for it to signal idle. A real drone is an OS
// subprocess (subprocessDrone); tests substitute an in-memory fake so the
// Listener's pool bookkeeping can run without actually forking anything.
type DroneProcess interface {
	// Dispatch writes one framed request to the drone's control pipe.
	Dispatch(payload []byte) error
	// WaitIdle blocks until the drone reports idle, returning its PID. It
	// returns an error if the drone died or its pipe broke instead.
	WaitIdle() (pid int, err error)
	// Kill terminates the drone immediately.
	Kill() error
	// PID identifies the drone for the active/sighup_pending maps.
	PID() int
}

// subprocessDrone is the real DroneProcess: a child process of the service
// binary, re-invoked in drone mode, piped exactly like the teacher's
// ws_bridge wires an agent subprocess's stdin/stdout (cmd/ws_bridge/main.go)
// — here stdin carries framed requests in and stdout carries back-signals
// out, instead of raw stdout lines over a websocket.
type subprocessDrone struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout io.ReadCloser
}

// SpawnSubprocess starts one drone subprocess running command with args,
// plus any extra environment variables (conventionally including the
// service name and domain so the child knows which application to run).
func SpawnSubprocess(command string, args []string, extraEnv []string) (DroneProcess, error) {
	cmd := exec.Command(command, args...)
	cmd.Env = append(os.Environ(), extraEnv...)
	cmd.Stderr = os.Stderr

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, errors.Wrapf(err, "open drone stdin pipe")
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, errors.Wrapf(err, "open drone stdout pipe")
	}
	if err := cmd.Start(); err != nil {
		return nil, errors.Wrapf(err, "start drone subprocess")
	}
	return &subprocessDrone{cmd: cmd, stdin: stdin, stdout: stdout}, nil
}

func (d *subprocessDrone) Dispatch(payload []byte) error {
	return writeFrame(d.stdin, payload)
}

func (d *subprocessDrone) WaitIdle() (int, error) {
	return readBackSignal(d.stdout)
}

func (d *subprocessDrone) Kill() error {
	if d.cmd.Process == nil {
		return nil
	}
	return d.cmd.Process.Kill()
}

func (d *subprocessDrone) PID() int {
	if d.cmd.Process == nil {
		return 0
	}
	return d.cmd.Process.Pid
}
