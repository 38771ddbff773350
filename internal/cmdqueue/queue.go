// Package cmdqueue delivers protocol commands to the backend one at a time,
// honouring stream backpressure and retrying transient write failures.
package cmdqueue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"cutline/internal/clock"
	"cutline/internal/logging"
	"cutline/internal/protocol"
)

var (
	// ErrUnavailable rejects a command when there is no writable stream.
	ErrUnavailable = errors.New("command channel unavailable")
	// ErrClosed rejects commands after Close.
	ErrClosed = errors.New("command queue closed")
)

const (
	DefaultMaxRetries = 3
	DefaultRetryBase  = 50 * time.Millisecond
)

// Target returns the stream commands are written to. It is consulted at
// enqueue time and again before every write attempt.
type Target func() (Stream, error)

// Sleeper waits between write retries.
type Sleeper func(ctx context.Context, d time.Duration) error

// Option customizes a Queue.
type Option func(*Queue)

// WithRetry sets the retry budget for synchronous write failures and the
// base of the exponential delay between attempts.
func WithRetry(maxRetries int, base time.Duration) Option {
	return func(q *Queue) {
		if maxRetries >= 0 {
			q.maxRetries = maxRetries
		}
		if base > 0 {
			q.retryBase = base
		}
	}
}

// WithSleeper overrides how retry delays are waited out.
func WithSleeper(s Sleeper) Option {
	return func(q *Queue) {
		if s != nil {
			q.sleep = s
		}
	}
}

// WithClock waits out retry delays on c.
func WithClock(c clock.Clock) Option {
	return func(q *Queue) {
		q.sleep = func(ctx context.Context, d time.Duration) error { return clock.Sleep(ctx, c, d) }
	}
}

// WithErrorHandler is called, from the writer goroutine, for every command
// that fails after it was queued.
func WithErrorHandler(fn func(protocol.Command, error)) Option {
	return func(q *Queue) { q.onError = fn }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(q *Queue) { q.logger = logging.NewComponentLogger(logger, "cmdqueue") }
}

type job struct {
	cmd  protocol.Command
	data []byte
	done chan error
}

// Queue is a FIFO of commands with a single writer goroutine.
type Queue struct {
	target     Target
	maxRetries int
	retryBase  time.Duration
	sleep      Sleeper
	onError    func(protocol.Command, error)
	logger     *slog.Logger

	mu     sync.Mutex
	jobs   []*job
	wake   chan struct{}
	closed bool

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// New starts a queue writing to target.
func New(target Target, opts ...Option) *Queue {
	ctx, cancel := context.WithCancel(context.Background())
	q := &Queue{
		target:     target,
		maxRetries: DefaultMaxRetries,
		retryBase:  DefaultRetryBase,
		logger:     logging.NewNop(),
		wake:       make(chan struct{}, 1),
		ctx:        ctx,
		cancel:     cancel,
		done:       make(chan struct{}),
	}
	q.sleep = func(ctx context.Context, d time.Duration) error { return clock.Sleep(ctx, clock.Real(), d) }
	for _, opt := range opts {
		opt(q)
	}
	go q.run()
	return q
}

// Enqueue schedules cmd and returns a channel that yields exactly one value:
// nil once the command was handed to the stream, or the failure. Invalid
// commands and an unavailable channel fail immediately without queueing.
func (q *Queue) Enqueue(cmd protocol.Command) <-chan error {
	done := make(chan error, 1)
	data, err := protocol.EncodeCommand(cmd)
	if err != nil {
		done <- err
		return done
	}
	if _, err := q.stream(); err != nil {
		done <- err
		return done
	}

	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		done <- ErrClosed
		return done
	}
	q.jobs = append(q.jobs, &job{cmd: cmd, data: data, done: done})
	q.mu.Unlock()

	select {
	case q.wake <- struct{}{}:
	default:
	}
	return done
}

// Send enqueues cmd and waits for its completion or ctx.
func (q *Queue) Send(ctx context.Context, cmd protocol.Command) error {
	select {
	case err := <-q.Enqueue(cmd):
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Len returns the number of commands waiting behind the one being written.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.jobs)
}

// Close stops the writer and fails queued commands with ErrClosed.
func (q *Queue) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		<-q.done
		return
	}
	q.closed = true
	pending := q.jobs
	q.jobs = nil
	q.mu.Unlock()

	q.cancel()
	<-q.done
	for _, j := range pending {
		j.done <- ErrClosed
	}
}

func (q *Queue) stream() (Stream, error) {
	if q.target == nil {
		return nil, ErrUnavailable
	}
	s, err := q.target()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if s == nil || !s.Writable() {
		return nil, ErrUnavailable
	}
	return s, nil
}

func (q *Queue) run() {
	defer close(q.done)
	for {
		q.mu.Lock()
		var next *job
		if len(q.jobs) > 0 {
			next = q.jobs[0]
			q.jobs = q.jobs[1:]
		}
		q.mu.Unlock()

		if next == nil {
			select {
			case <-q.wake:
				continue
			case <-q.ctx.Done():
				return
			}
		}

		err := q.deliver(next)
		if err != nil {
			q.logger.Debug("command failed",
				logging.String("type", string(next.cmd.Type)),
				logging.String("id", next.cmd.ID),
				logging.Error(err),
			)
			if q.onError != nil {
				q.onError(next.cmd, err)
			}
		}
		next.done <- err
		if q.ctx.Err() != nil {
			return
		}
	}
}

// deliver writes one command. Synchronous write errors are retried with
// exponential delay; a full buffer suspends until the stream drains.
func (q *Queue) deliver(j *job) error {
	for attempt := 0; ; attempt++ {
		s, err := q.stream()
		if err != nil {
			return err
		}
		full, err := s.Write(j.data)
		if err != nil {
			if errors.Is(err, ErrStreamClosed) || attempt >= q.maxRetries {
				return fmt.Errorf("write %s: %w", j.cmd.Type, err)
			}
			delay := q.retryBase << attempt
			q.logger.Debug("command write failed, retrying",
				logging.String("type", string(j.cmd.Type)),
				logging.Int("attempt", attempt+1),
				logging.Duration("delay", delay),
				logging.Error(err),
			)
			if err := q.sleep(q.ctx, delay); err != nil {
				return ErrClosed
			}
			continue
		}
		if !full {
			return nil
		}
		select {
		case err := <-s.Ready():
			if err != nil {
				return fmt.Errorf("drain after %s: %w", j.cmd.Type, err)
			}
			return nil
		case <-q.ctx.Done():
			return ErrClosed
		}
	}
}
