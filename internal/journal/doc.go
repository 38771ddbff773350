// Package journal persists backend incidents in SQLite.
//
// Crashes, exhausted restart budgets, EDL apply fallbacks and load timeouts
// are recorded with the transport id, process details and the stderr tail at
// the time of the incident, so `cutline incidents` can explain what happened
// after the session is gone. Nothing in the playback path depends on the
// journal; recording failures are logged and otherwise ignored by callers.
package journal
