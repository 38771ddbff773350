// Package protocol defines the newline-delimited JSON wire protocol spoken
// with the playback backend.
//
// Commands flow from the host to the backend on the child's stdin; events
// flow back on stdout. Both sides are modelled as flat tagged unions keyed by
// the "type" field, with optional fields expressed as pointers so a missing
// value can be told apart from a zero value. Validate methods implement the
// per-type schema check used before anything reaches the session.
//
// The Decoder never fails the stream: malformed or structurally invalid lines
// become local error events carrying the raw text and parsing resumes at the
// next newline.
package protocol
