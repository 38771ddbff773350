package supervisor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
)

// Exit describes how a child ended.
type Exit struct {
	Code   *int
	Signal string
	Err    error
}

func (e Exit) String() string {
	switch {
	case e.Signal != "":
		return "killed by " + e.Signal
	case e.Code != nil:
		return fmt.Sprintf("exit code %d", *e.Code)
	case e.Err != nil:
		return e.Err.Error()
	default:
		return "exited"
	}
}

// Process is a running backend.
type Process interface {
	PID() int
	Stdin() io.WriteCloser
	Stdout() io.Reader
	Stderr() io.Reader
	// Wait blocks until the process exits. It is called once, after stdout
	// and stderr reached EOF.
	Wait() Exit
	// Terminate asks the process to exit.
	Terminate() error
	Kill() error
}

// Launcher starts backend processes.
type Launcher interface {
	Launch(ctx context.Context) (Process, error)
}

// ExecLauncher starts the backend with os/exec.
type ExecLauncher struct {
	Command string
	Args    []string
	// Env is appended to the current environment.
	Env []string
	Dir string
}

// Launch starts the command with piped stdio.
func (l ExecLauncher) Launch(ctx context.Context) (Process, error) {
	if strings.TrimSpace(l.Command) == "" {
		return nil, errors.New("backend command required")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	cmd := exec.Command(l.Command, l.Args...)
	cmd.Dir = l.Dir
	if len(l.Env) > 0 {
		cmd.Env = append(os.Environ(), l.Env...)
	}
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("stderr pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start %s: %w", l.Command, err)
	}
	return &execProcess{cmd: cmd, stdin: stdin, stdout: stdout, stderr: stderr}, nil
}

type execProcess struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout io.Reader
	stderr io.Reader
}

func (p *execProcess) PID() int              { return p.cmd.Process.Pid }
func (p *execProcess) Stdin() io.WriteCloser { return p.stdin }
func (p *execProcess) Stdout() io.Reader     { return p.stdout }
func (p *execProcess) Stderr() io.Reader     { return p.stderr }

func (p *execProcess) Wait() Exit {
	err := p.cmd.Wait()
	exit := exitFromState(p.cmd.ProcessState)
	var exitErr *exec.ExitError
	if err != nil && !errors.As(err, &exitErr) {
		exit.Err = err
	}
	return exit
}

func (p *execProcess) Terminate() error { return terminate(p.cmd.Process) }

func (p *execProcess) Kill() error {
	err := p.cmd.Process.Kill()
	if errors.Is(err, os.ErrProcessDone) {
		return nil
	}
	return err
}
