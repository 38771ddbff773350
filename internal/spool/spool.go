// Package spool writes oversized EDL payloads to files the backend reads
// through updateEdlFromFile, and removes them after a grace period.
package spool

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/gofrs/flock"
	"github.com/google/uuid"

	"cutline/internal/clock"
	"cutline/internal/logging"
)

const (
	filePrefix = "edl-"
	fileSuffix = ".json"
	lockName   = ".sweep.lock"

	// DefaultGrace is how long a file survives after its command completes.
	DefaultGrace = 30 * time.Second
)

// Spool owns the EDL files written by one session.
type Spool struct {
	dir     string
	session string
	grace   time.Duration
	clock   clock.Clock
	logger  *slog.Logger

	mu      sync.Mutex
	pending map[string]clock.Timer
	closed  bool
}

// Option customizes a Spool.
type Option func(*Spool)

// WithClock overrides the clock used for delayed removal.
func WithClock(c clock.Clock) Option {
	return func(s *Spool) {
		if c != nil {
			s.clock = c
		}
	}
}

// WithGrace overrides the removal grace period.
func WithGrace(d time.Duration) Option {
	return func(s *Spool) {
		if d > 0 {
			s.grace = d
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Spool) {
		s.logger = logging.NewComponentLogger(logger, "spool")
	}
}

// New prepares dir for session's EDL files.
func New(dir, session string, opts ...Option) (*Spool, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, errors.New("spool: directory is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("spool: ensure directory: %w", err)
	}
	s := &Spool{
		dir:     dir,
		session: sanitize(session),
		grace:   DefaultGrace,
		clock:   clock.Real(),
		logger:  logging.NewNop(),
		pending: make(map[string]clock.Timer),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Dir returns the spool directory.
func (s *Spool) Dir() string { return s.dir }

// Write stores payload for revision and returns the file path. Names combine
// the session, a timestamp and a random suffix so concurrent writers never
// collide.
func (s *Spool) Write(revision uint64, payload []byte) (string, error) {
	name := fmt.Sprintf("%s%s-%d-r%d-%s%s", filePrefix, s.session, s.clock.Now().UnixMilli(), revision, uuid.NewString()[:8], fileSuffix)
	path := filepath.Join(s.dir, name)
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return "", fmt.Errorf("spool: create %s: %w", name, err)
	}
	if _, err := f.Write(payload); err != nil {
		_ = f.Close()
		_ = os.Remove(path)
		return "", fmt.Errorf("spool: write %s: %w", name, err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(path)
		return "", fmt.Errorf("spool: close %s: %w", name, err)
	}
	return path, nil
}

// Release schedules removal of path after the grace period.
func (s *Spool) Release(path string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		go s.remove(path)
		return
	}
	if t, ok := s.pending[path]; ok {
		t.Stop()
	}
	s.pending[path] = s.clock.AfterFunc(s.grace, func() {
		s.mu.Lock()
		delete(s.pending, path)
		s.mu.Unlock()
		s.remove(path)
	})
}

// Pending returns the number of files awaiting removal.
func (s *Spool) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

// Close cancels the grace timers and removes their files now.
func (s *Spool) Close() error {
	s.mu.Lock()
	paths := make([]string, 0, len(s.pending))
	for path, t := range s.pending {
		t.Stop()
		paths = append(paths, path)
	}
	s.pending = make(map[string]clock.Timer)
	s.closed = true
	s.mu.Unlock()
	for _, path := range paths {
		s.remove(path)
	}
	return nil
}

func (s *Spool) remove(path string) {
	if err := Remove(path); err != nil {
		logging.WarnWithContext(s.logger, "edl spool file removal failed", "spool_remove_failed",
			logging.String("path", path),
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check permissions on the cache directory"),
			logging.String(logging.FieldImpact, "stale EDL files accumulate until the next sweep"),
		)
	}
}

// Remove deletes path; a file that is already gone is not an error.
func Remove(path string) error {
	err := os.Remove(path)
	if err == nil || errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return err
}

// Sweep removes EDL files older than maxAge left behind by sessions that
// exited without cleaning up. Only one process sweeps a directory at a time;
// when the lock is held elsewhere Sweep returns 0 without error.
func Sweep(dir string, maxAge time.Duration, now time.Time) (int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return 0, nil
		}
		return 0, fmt.Errorf("spool: read dir: %w", err)
	}
	lock := flock.New(filepath.Join(dir, lockName))
	locked, err := lock.TryLock()
	if err != nil {
		return 0, fmt.Errorf("spool: acquire sweep lock: %w", err)
	}
	if !locked {
		return 0, nil
	}
	defer func() { _ = lock.Unlock() }()

	removed := 0
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasPrefix(name, filePrefix) || !strings.HasSuffix(name, fileSuffix) {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if now.Sub(info.ModTime()) < maxAge {
			continue
		}
		if err := Remove(filepath.Join(dir, name)); err != nil {
			return removed, fmt.Errorf("spool: remove %s: %w", name, err)
		}
		removed++
	}
	return removed, nil
}

func sanitize(session string) string {
	session = strings.TrimSpace(session)
	if session == "" {
		return "session"
	}
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, session)
}
