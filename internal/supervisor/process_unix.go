//go:build unix

package supervisor

import (
	"errors"
	"os"
	"syscall"

	"golang.org/x/sys/unix"
)

func terminate(p *os.Process) error {
	err := unix.Kill(p.Pid, unix.SIGTERM)
	if errors.Is(err, unix.ESRCH) {
		return nil
	}
	return err
}

func exitFromState(state *os.ProcessState) Exit {
	if state == nil {
		return Exit{}
	}
	if ws, ok := state.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
		return Exit{Signal: unix.SignalName(ws.Signal())}
	}
	code := state.ExitCode()
	return Exit{Code: &code}
}
