package transport

import (
	"time"

	"cutline/internal/timeline"
)

// NotificationKind classifies what the UI is told.
type NotificationKind string

const (
	NotifyLoaded   NotificationKind = "loaded"
	NotifyState    NotificationKind = "state"
	NotifyPosition NotificationKind = "position"
	NotifyEnded    NotificationKind = "ended"
	// NotifyError carries a user-facing reason, such as a failed play or a
	// backend-reported error.
	NotifyError NotificationKind = "error"
	// NotifyBackendRetrying announces a scheduled restart after a crash.
	NotifyBackendRetrying NotificationKind = "backend_retrying"
	// NotifyBackendReady follows a successful restart.
	NotifyBackendReady NotificationKind = "backend_ready"
	// NotifyBackendFailed means playback is unavailable until the backend
	// is reset.
	NotifyBackendFailed NotificationKind = "backend_failed"
)

// Position is a playback position mapped onto the timeline.
type Position struct {
	EditedSec   float64
	OriginalSec float64
	ClipID      string
	// Segment is the word or spacer under the playhead, if any.
	Segment *timeline.Entry
}

// Notification is one UI-facing update. Generation and revision bookkeeping
// never reaches this level.
type Notification struct {
	Kind        NotificationKind
	Message     string
	Playing     bool
	Position    Position
	DurationSec float64
	Attempt     int
	RetryIn     time.Duration
}

func (s *Session) notify(n Notification) {
	s.notes.Push(n)
}
