package transport

import (
	"time"

	"cutline/internal/config"
	"cutline/internal/edlsync"
	"cutline/internal/seek"
)

// DefaultLoadTimeout bounds how long a load waits for loaded or error.
const DefaultLoadTimeout = 10 * time.Second

// Settings tunes a Session. Zero fields take the defaults; a negative
// WriteMaxRetries disables write retries.
type Settings struct {
	// TransportID is echoed in every command id. Empty mints a uuid.
	TransportID     string
	LoadTimeout     time.Duration
	EDLApplyTimeout time.Duration
	EDLInlineLimit  int
	Seek            seek.Config
	WriteMaxRetries int
	WriteRetryBase  time.Duration
}

// DefaultSettings returns the built-in timings.
func DefaultSettings() Settings {
	return Settings{
		LoadTimeout:     DefaultLoadTimeout,
		EDLApplyTimeout: edlsync.DefaultApplyTimeout,
		EDLInlineLimit:  edlsync.DefaultInlineLimit,
		Seek: seek.Config{
			Epsilon:     seek.DefaultEpsilon,
			Freshness:   seek.DefaultFreshness,
			MaxReissues: seek.DefaultMaxReissues,
		},
		WriteMaxRetries: 3,
		WriteRetryBase:  50 * time.Millisecond,
	}
}

// SettingsFromConfig maps the [transport] section.
func SettingsFromConfig(cfg *config.Config) Settings {
	s := DefaultSettings()
	if cfg == nil {
		return s
	}
	t := cfg.Transport
	if d := t.LoadTimeout(); d > 0 {
		s.LoadTimeout = d
	}
	if d := t.EDLApplyTimeout(); d > 0 {
		s.EDLApplyTimeout = d
	}
	if t.EDLInlineLimitBytes > 0 {
		s.EDLInlineLimit = t.EDLInlineLimitBytes
	}
	if t.SeekEpsilonSeconds > 0 {
		s.Seek.Epsilon = t.SeekEpsilonSeconds
	}
	if d := t.SeekFreshness(); d > 0 {
		s.Seek.Freshness = d
	}
	if t.SeekMaxReissues >= 0 {
		s.Seek.MaxReissues = t.SeekMaxReissues
	}
	switch {
	case t.WriteMaxRetries > 0:
		s.WriteMaxRetries = t.WriteMaxRetries
	case t.WriteMaxRetries == 0:
		s.WriteMaxRetries = -1
	}
	if d := t.WriteRetryBase(); d > 0 {
		s.WriteRetryBase = d
	}
	return s
}

func (s Settings) withDefaults() Settings {
	def := DefaultSettings()
	if s.LoadTimeout <= 0 {
		s.LoadTimeout = def.LoadTimeout
	}
	if s.EDLApplyTimeout <= 0 {
		s.EDLApplyTimeout = def.EDLApplyTimeout
	}
	if s.EDLInlineLimit <= 0 {
		s.EDLInlineLimit = def.EDLInlineLimit
	}
	if s.Seek == (seek.Config{}) {
		s.Seek = def.Seek
	}
	switch {
	case s.WriteMaxRetries == 0:
		s.WriteMaxRetries = def.WriteMaxRetries
	case s.WriteMaxRetries < 0:
		s.WriteMaxRetries = 0
	}
	if s.WriteRetryBase <= 0 {
		s.WriteRetryBase = def.WriteRetryBase
	}
	return s
}
