// Package logging assembles the slog loggers used by the CLI, the session and
// the reference backend.
//
// It owns the console and JSON handlers, level parsing, and the shared field
// keys (component, transport id, generation, revision) so every component
// emits records with the same shape. Warnings and errors that reach an
// operator go through WarnWithContext and ErrorWithContext, which enforce an
// event type, a hint and the user-facing impact.
//
// Logs always go to stderr by default: the reference backend speaks its
// protocol on stdout.
package logging
