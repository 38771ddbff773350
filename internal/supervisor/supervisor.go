package supervisor

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"cutline/internal/clock"
	"cutline/internal/cmdqueue"
	"cutline/internal/logging"
	"cutline/internal/mailbox"
	"cutline/internal/protocol"
)

var (
	// ErrDisposed is returned once the supervisor has been disposed.
	ErrDisposed = errors.New("backend supervisor disposed")
	// ErrRestartExhausted is returned after the restart budget is spent.
	ErrRestartExhausted = errors.New("backend restart attempts exhausted")
	// ErrNotRunning is returned by Stream when there is no healthy child.
	ErrNotRunning = errors.New("backend not running")
	// ErrProcessExited fails writes pending when the child exits.
	ErrProcessExited = errors.New("backend process exited")
)

// State is the supervisor lifecycle state.
type State int

const (
	StateStopped State = iota
	StateStarting
	StateRunning
	StateCrashed
	StateRestarting
	StateFailed
	StateDisposed
)

func (s State) String() string {
	switch s {
	case StateStopped:
		return "stopped"
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateCrashed:
		return "crashed"
	case StateRestarting:
		return "restarting"
	case StateFailed:
		return "failed"
	case StateDisposed:
		return "disposed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Config tunes supervision.
type Config struct {
	AutoRestart        bool
	MaxRestartAttempts int
	RestartBaseDelay   time.Duration
	RestartMaxDelay    time.Duration
	// StableAfter is how long a child must stay up before the attempt
	// counter resets. Zero disables the reset.
	StableAfter       time.Duration
	StderrBufferLines int
	StderrTailLines   int
	TerminateGrace    time.Duration
	// HighWaterMark is the stdin buffer size that triggers backpressure.
	HighWaterMark int
}

// DefaultConfig mirrors the configuration file defaults.
func DefaultConfig() Config {
	return Config{
		AutoRestart:        true,
		MaxRestartAttempts: 5,
		RestartBaseDelay:   time.Second,
		RestartMaxDelay:    8 * time.Second,
		StableAfter:        10 * time.Second,
		StderrBufferLines:  200,
		StderrTailLines:    20,
		TerminateGrace:     2 * time.Second,
		HighWaterMark:      cmdqueue.DefaultHighWaterMark,
	}
}

// Backoff returns the delay before restart attempt (1-based):
// min(base*2^(attempt-1), max).
func Backoff(attempt int, base, max time.Duration) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	delay := base
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= max {
			return max
		}
	}
	if delay > max {
		return max
	}
	return delay
}

// Option customizes a Supervisor.
type Option func(*Supervisor)

// WithClock overrides the clock driving restart and stability timers.
func WithClock(c clock.Clock) Option {
	return func(s *Supervisor) {
		if c != nil {
			s.clock = c
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Supervisor) { s.logger = logging.NewComponentLogger(logger, "supervisor") }
}

type child struct {
	proc     Process
	stream   *cmdqueue.PipeStream
	started  time.Time
	exited   chan struct{}
	expected bool
	stable   clock.Timer
}

func (c *child) healthy() bool {
	select {
	case <-c.exited:
		return false
	default:
	}
	return c.stream.Writable()
}

// Supervisor owns the backend child process.
type Supervisor struct {
	launcher Launcher
	cfg      Config
	clock    clock.Clock
	logger   *slog.Logger
	stderr   *RingBuffer
	out      *mailbox.Mailbox[protocol.Event]

	mu       sync.Mutex
	state    State
	child    *child
	attempts int
	restart  clock.Timer
	watchers sync.WaitGroup
}

// New returns a stopped supervisor; call EnsureStarted to spawn.
func New(launcher Launcher, cfg Config, opts ...Option) *Supervisor {
	def := DefaultConfig()
	if cfg.RestartBaseDelay <= 0 {
		cfg.RestartBaseDelay = def.RestartBaseDelay
	}
	if cfg.RestartMaxDelay < cfg.RestartBaseDelay {
		cfg.RestartMaxDelay = cfg.RestartBaseDelay
	}
	if cfg.StderrBufferLines <= 0 {
		cfg.StderrBufferLines = def.StderrBufferLines
	}
	if cfg.StderrTailLines <= 0 {
		cfg.StderrTailLines = def.StderrTailLines
	}
	if cfg.TerminateGrace <= 0 {
		cfg.TerminateGrace = def.TerminateGrace
	}
	s := &Supervisor{
		launcher: launcher,
		cfg:      cfg,
		clock:    clock.Real(),
		logger:   logging.NewNop(),
		stderr:   NewRingBuffer(cfg.StderrBufferLines),
		out:      mailbox.New[protocol.Event](),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Events delivers protocol events and local status events in order. It is
// closed after Dispose once the last child has been reaped.
func (s *Supervisor) Events() <-chan protocol.Event { return s.out.C() }

// State returns the lifecycle state.
func (s *Supervisor) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Attempts returns the restart attempts made since the last stable run.
func (s *Supervisor) Attempts() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.attempts
}

// PID returns the running child's pid, or 0.
func (s *Supervisor) PID() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.child == nil {
		return 0
	}
	return s.child.proc.PID()
}

// StderrTail returns the newest retained stderr lines.
func (s *Supervisor) StderrTail() []string {
	return s.stderr.Tail(s.cfg.StderrTailLines)
}

// EnsureStarted spawns a child unless a healthy one is running. A pending
// restart is pulled forward.
func (s *Supervisor) EnsureStarted(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch s.state {
	case StateDisposed:
		return ErrDisposed
	case StateFailed:
		return ErrRestartExhausted
	}
	if s.child != nil && s.child.healthy() {
		return nil
	}
	s.stopRestartLocked()
	return s.spawnLocked(ctx)
}

// Stream returns the running child's stdin.
func (s *Supervisor) Stream() (cmdqueue.Stream, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.child == nil || !s.child.healthy() {
		return nil, ErrNotRunning
	}
	return s.child.stream, nil
}

// Reset clears the failed state and the attempt counter so EnsureStarted may
// spawn again.
func (s *Supervisor) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateFailed {
		s.state = StateStopped
	}
	s.attempts = 0
}

// Dispose stops supervision and terminates the child: SIGTERM first, then a
// kill after the grace period. No restart happens afterwards.
func (s *Supervisor) Dispose() error {
	s.mu.Lock()
	if s.state == StateDisposed {
		s.mu.Unlock()
		return nil
	}
	s.state = StateDisposed
	s.stopRestartLocked()
	c := s.child
	s.child = nil
	if c != nil {
		c.expected = true
		if c.stable != nil {
			c.stable.Stop()
		}
	}
	s.mu.Unlock()

	var err error
	if c != nil {
		_ = c.stream.Close()
		err = s.terminate(c)
	}
	s.watchers.Wait()
	s.out.Close()
	return err
}

func (s *Supervisor) terminate(c *child) error {
	select {
	case <-c.exited:
		return nil
	default:
	}
	if err := c.proc.Terminate(); err != nil {
		s.logger.Debug("terminate backend", logging.Error(err))
	}
	grace := make(chan struct{})
	t := s.clock.AfterFunc(s.cfg.TerminateGrace, func() { close(grace) })
	defer t.Stop()
	select {
	case <-c.exited:
		return nil
	case <-grace:
	}
	logging.WarnWithContext(s.logger, "backend ignored SIGTERM; killing", "backend_kill",
		logging.Int("pid", c.proc.PID()),
		logging.Duration("grace", s.cfg.TerminateGrace),
		logging.String(logging.FieldImpact, "backend may not have flushed its state"),
	)
	if err := c.proc.Kill(); err != nil {
		return fmt.Errorf("kill backend: %w", err)
	}
	<-c.exited
	return nil
}

func (s *Supervisor) stopRestartLocked() {
	if s.restart != nil {
		s.restart.Stop()
		s.restart = nil
	}
}

func (s *Supervisor) spawnLocked(ctx context.Context) error {
	s.state = StateStarting
	proc, err := s.launcher.Launch(ctx)
	if err != nil {
		s.state = StateStopped
		return fmt.Errorf("start backend: %w", err)
	}
	c := &child{
		proc:    proc,
		stream:  cmdqueue.NewPipeStream(proc.Stdin(), s.cfg.HighWaterMark),
		started: s.clock.Now(),
		exited:  make(chan struct{}),
	}
	s.child = c
	s.state = StateRunning
	if s.cfg.StableAfter > 0 {
		c.stable = s.clock.AfterFunc(s.cfg.StableAfter, func() { s.markStable(c) })
	}
	s.logger.Info("backend started",
		logging.Int("pid", proc.PID()),
		logging.Int("attempt", s.attempts),
	)
	s.out.Push(protocol.Event{
		Type:    protocol.EventBackendStatus,
		Status:  protocol.BackendAlive,
		PID:     proc.PID(),
		Attempt: s.attempts,
	})
	s.watchers.Add(1)
	go s.watch(c)
	return nil
}

func (s *Supervisor) markStable(c *child) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.child == c && c.healthy() && s.attempts > 0 {
		s.logger.Debug("backend stable; restart budget reset", logging.Int("attempts", s.attempts))
		s.attempts = 0
	}
}

// watch pumps the child's output until EOF, then reaps it.
func (s *Supervisor) watch(c *child) {
	defer s.watchers.Done()
	var g errgroup.Group
	g.Go(func() error {
		dec := protocol.NewDecoder(s.out.Push)
		_, err := io.Copy(dec, c.proc.Stdout())
		dec.Flush()
		return err
	})
	g.Go(func() error {
		scanner := bufio.NewScanner(c.proc.Stderr())
		scanner.Buffer(make([]byte, 0, 4096), protocol.MaxLineBytes)
		for scanner.Scan() {
			line := scanner.Text()
			if line == "" {
				continue
			}
			s.stderr.Add(line)
			s.out.Push(protocol.StderrLine(line))
		}
		return scanner.Err()
	})
	if err := g.Wait(); err != nil {
		s.logger.Debug("backend output closed with error", logging.Error(err))
	}
	exit := c.proc.Wait()
	c.stream.Fail(ErrProcessExited)
	close(c.exited)
	s.handleExit(c, exit)
}

func (s *Supervisor) handleExit(c *child, exit Exit) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c.stable != nil {
		c.stable.Stop()
	}
	if s.child == c {
		s.child = nil
	}
	if c.expected || s.state == StateDisposed {
		return
	}
	if s.child != nil {
		// A replacement was already spawned by EnsureStarted.
		return
	}

	s.state = StateCrashed
	dead := protocol.Event{
		Type:       protocol.EventBackendStatus,
		Status:     protocol.BackendDead,
		PID:        c.proc.PID(),
		ExitCode:   exit.Code,
		Signal:     exit.Signal,
		StderrTail: s.stderr.Tail(s.cfg.StderrTailLines),
	}
	if exit.Err != nil {
		dead.Message = exit.Err.Error()
	}
	uptime := s.clock.Now().Sub(c.started)

	if !s.cfg.AutoRestart {
		s.state = StateStopped
		logging.ErrorWithContext(s.logger, "backend exited; auto-restart disabled", "backend_crash",
			logging.Int("pid", dead.PID),
			logging.String("exit", exit.String()),
			logging.Duration("uptime", uptime),
		)
		s.out.Push(dead)
		return
	}
	if s.attempts >= s.cfg.MaxRestartAttempts {
		s.state = StateFailed
		logging.ErrorWithContext(s.logger, "backend restart budget exhausted", "backend_restart_exhausted",
			logging.Int("pid", dead.PID),
			logging.String("exit", exit.String()),
			logging.Int("attempts", s.attempts),
			logging.String(logging.FieldErrorHint, "inspect the backend stderr tail and restart the session"),
		)
		dead.Attempt = s.attempts
		s.out.Push(dead)
		s.out.Push(protocol.Event{
			Type:       protocol.EventBackendStatus,
			Status:     protocol.BackendFailed,
			Attempt:    s.attempts,
			Message:    ErrRestartExhausted.Error(),
			StderrTail: dead.StderrTail,
		})
		return
	}
	s.scheduleRestartLocked(dead, exit, uptime)
}

func (s *Supervisor) scheduleRestartLocked(dead protocol.Event, exit Exit, uptime time.Duration) {
	s.attempts++
	delay := Backoff(s.attempts, s.cfg.RestartBaseDelay, s.cfg.RestartMaxDelay)
	s.state = StateRestarting
	dead.Attempt = s.attempts
	dead.RestartInMs = delay.Milliseconds()
	dead.RestartScheduled = true
	logging.WarnWithContext(s.logger, "backend exited unexpectedly; restart scheduled", "backend_crash",
		logging.Int("pid", dead.PID),
		logging.String("exit", exit.String()),
		logging.Duration("uptime", uptime),
		logging.Int("attempt", s.attempts),
		logging.Duration("delay", delay),
		logging.String(logging.FieldImpact, "playback is unavailable until the backend restarts"),
	)
	s.restart = s.clock.AfterFunc(delay, s.restartNow)
	s.out.Push(dead)
}

func (s *Supervisor) restartNow() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.restart = nil
	if s.state != StateRestarting {
		return
	}
	if s.child != nil && s.child.healthy() {
		return
	}
	err := s.spawnLocked(context.Background())
	if err == nil {
		return
	}
	dead := protocol.Event{
		Type:       protocol.EventBackendStatus,
		Status:     protocol.BackendDead,
		Message:    err.Error(),
		StderrTail: s.stderr.Tail(s.cfg.StderrTailLines),
	}
	if s.attempts >= s.cfg.MaxRestartAttempts {
		s.state = StateFailed
		logging.ErrorWithContext(s.logger, "backend restart failed; budget exhausted", "backend_restart_exhausted",
			logging.Error(err),
			logging.Int("attempts", s.attempts),
		)
		s.out.Push(protocol.Event{
			Type:       protocol.EventBackendStatus,
			Status:     protocol.BackendFailed,
			Attempt:    s.attempts,
			Message:    err.Error(),
			StderrTail: dead.StderrTail,
		})
		return
	}
	s.scheduleRestartLocked(dead, Exit{Err: err}, 0)
}
