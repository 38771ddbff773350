// Package mockbackend is a headless playback backend that speaks the cutline
// wire protocol without producing audio.
//
// It validates WAV files the way the real engine does, keeps an edited-time
// playhead that advances on a 30 Hz tick while playing, maps edited time to
// original time through the most recent EDL and echoes ids, generations and
// the applied revision so the host's gating can be exercised end to end. The
// `cutline backend` command serves it over stdin/stdout.
package mockbackend
