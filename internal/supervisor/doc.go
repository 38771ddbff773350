// Package supervisor runs the playback backend as a child process and keeps
// it alive.
//
// A Supervisor owns exactly one child at a time. The child's stdout is
// decoded into protocol events; its stderr is kept in a bounded ring for
// crash reports and forwarded as non-fatal error events. When the child exits
// without being asked to, the supervisor emits a backendStatus{dead} event
// and schedules a restart with capped exponential backoff. Exhausting the
// attempt budget moves it to the failed state, which only Reset clears.
//
// Everything the supervisor reports, including protocol events, flows through
// a single ordered channel returned by Events.
package supervisor
