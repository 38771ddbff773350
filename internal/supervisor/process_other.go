//go:build !unix

package supervisor

import "os"

func terminate(p *os.Process) error {
	return p.Kill()
}

func exitFromState(state *os.ProcessState) Exit {
	if state == nil {
		return Exit{}
	}
	code := state.ExitCode()
	return Exit{Code: &code}
}
