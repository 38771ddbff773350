// Package seek reconciles a requested playback position with the position
// events the backend reports afterwards.
package seek

import (
	"fmt"
	"math"
	"time"
)

// Defaults used when Config fields are zero.
const (
	DefaultEpsilon     = 0.08
	DefaultFreshness   = 600 * time.Millisecond
	DefaultMaxReissues = 2
)

// Target is where the user asked to go: an edited time, or a word that is
// re-resolved against the current timeline on every check.
type Target struct {
	EditedTime float64
	ClipID     string
	WordIndex  int
	ByWord     bool
}

// At targets an edited time.
func At(editedTime float64) Target { return Target{EditedTime: editedTime} }

// Word targets the n-th word of a clip.
func Word(clipID string, wordIndex int) Target {
	return Target{ClipID: clipID, WordIndex: wordIndex, ByWord: true}
}

func (t Target) String() string {
	if t.ByWord {
		return fmt.Sprintf("word %s[%d]", t.ClipID, t.WordIndex)
	}
	return fmt.Sprintf("%.3fs", t.EditedTime)
}

// Resolver maps a target to edited time under the current timeline.
type Resolver func(Target) (float64, bool)

// Intent is the active seek.
type Intent struct {
	Target   Target
	Issued   time.Time
	Reissues int
}

// Action is the outcome of observing a position.
type Action int

const (
	None Action = iota
	Satisfied
	Stale
	Wait
	Reissue
	Abandon
)

func (a Action) String() string {
	switch a {
	case None:
		return "none"
	case Satisfied:
		return "satisfied"
	case Stale:
		return "stale"
	case Wait:
		return "wait"
	case Reissue:
		return "reissue"
	case Abandon:
		return "abandon"
	default:
		return fmt.Sprintf("action(%d)", int(a))
	}
}

// Decision tells the caller what to do with a position event.
type Decision struct {
	Action Action
	// Target is the resolved edited time; meaningful for Reissue, Wait and
	// Satisfied.
	Target   float64
	Reissues int
}

// Config tunes the reconciler.
type Config struct {
	Epsilon     float64
	Freshness   time.Duration
	MaxReissues int
}

func (c Config) withDefaults() Config {
	if c.Epsilon <= 0 {
		c.Epsilon = DefaultEpsilon
	}
	if c.Freshness <= 0 {
		c.Freshness = DefaultFreshness
	}
	if c.MaxReissues < 0 {
		c.MaxReissues = 0
	}
	return c
}

// Reconciler tracks at most one seek intent. It is not safe for concurrent
// use.
type Reconciler struct {
	cfg    Config
	intent *Intent
}

// New returns a reconciler. A zero MaxReissues disables reissuing; use
// DefaultMaxReissues for the standard budget.
func New(cfg Config) *Reconciler {
	return &Reconciler{cfg: cfg.withDefaults()}
}

// Begin replaces any active intent.
func (r *Reconciler) Begin(target Target, now time.Time) {
	r.intent = &Intent{Target: target, Issued: now}
}

// Touch restarts the freshness window, used when a held seek is finally
// written to the backend.
func (r *Reconciler) Touch(now time.Time) {
	if r.intent != nil {
		r.intent.Issued = now
	}
}

// Active returns the current intent.
func (r *Reconciler) Active() (Intent, bool) {
	if r.intent == nil {
		return Intent{}, false
	}
	return *r.intent, true
}

// Clear drops the active intent.
func (r *Reconciler) Clear() { r.intent = nil }

// Observe evaluates a reported edited position against the active intent.
// applying reports whether an EDL is still being applied; reissues are
// deferred until it is not.
func (r *Reconciler) Observe(reported float64, now time.Time, applying bool, resolve Resolver) Decision {
	if r.intent == nil {
		return Decision{Action: None}
	}
	intent := r.intent
	if now.Sub(intent.Issued) > r.cfg.Freshness {
		r.intent = nil
		return Decision{Action: Stale, Reissues: intent.Reissues}
	}
	target, ok := r.resolve(intent.Target, resolve)
	if !ok {
		r.intent = nil
		return Decision{Action: Abandon, Reissues: intent.Reissues}
	}
	if math.Abs(reported-target) <= r.cfg.Epsilon {
		r.intent = nil
		return Decision{Action: Satisfied, Target: target, Reissues: intent.Reissues}
	}
	if applying {
		return Decision{Action: Wait, Target: target, Reissues: intent.Reissues}
	}
	if intent.Reissues < r.cfg.MaxReissues {
		intent.Reissues++
		intent.Issued = now
		return Decision{Action: Reissue, Target: target, Reissues: intent.Reissues}
	}
	r.intent = nil
	return Decision{Action: Abandon, Target: target, Reissues: intent.Reissues}
}

func (r *Reconciler) resolve(t Target, resolve Resolver) (float64, bool) {
	if !t.ByWord {
		return t.EditedTime, true
	}
	if resolve == nil {
		return 0, false
	}
	return resolve(t)
}
