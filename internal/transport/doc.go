// Package transport owns the playback session: it drives a Backend over the
// command protocol and keeps the editable timeline, the load generation and
// the EDL revision consistent with what the backend reports.
//
// All mutable state lives in one goroutine. API methods post closures to it
// and wait for a reply; backend events and timer callbacks are handled in the
// same loop, so generation and revision gating happens exactly once, in a
// fixed order:
//
//	backend event -> generation gate -> revision gate -> seek reconciler
//	              -> timeline lookup -> Notifications()
//
// Timers (load timeout, EDL apply fallback) run on an injected clock.Clock so
// tests drive them with clock.Fake.
package transport
