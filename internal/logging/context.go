package logging

import (
	"context"
	"log/slog"
)

const (
	// FieldComponent is the standardized structured logging key for component names.
	FieldComponent = "component"
	// FieldTransportID identifies the session that issued a command.
	FieldTransportID = "transport_id"
	// FieldGeneration is the load generation a record refers to.
	FieldGeneration = "generation"
	// FieldRevision is the EDL revision a record refers to.
	FieldRevision = "revision"
	// FieldEventType classifies warnings and errors for filtering.
	FieldEventType = "event_type"
	// FieldErrorHint suggests the next step to an operator.
	FieldErrorHint = "error_hint"
	// FieldImpact states the user-facing consequence of a warning.
	FieldImpact = "impact"
	// FieldAlert flags anomalies that should stand out in structured logs.
	FieldAlert = "alert"
)

type contextKey int

const (
	transportIDKey contextKey = iota
	generationKey
)

// WithTransportID stores the session's transport id on ctx.
func WithTransportID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, transportIDKey, id)
}

// WithGenerationID stores a load generation on ctx.
func WithGenerationID(ctx context.Context, gen uint64) context.Context {
	return context.WithValue(ctx, generationKey, gen)
}

// ContextFields extracts standardized slog attributes from the provided context.
func ContextFields(ctx context.Context) []slog.Attr {
	if ctx == nil {
		return nil
	}
	fields := make([]slog.Attr, 0, 2)
	if id, ok := ctx.Value(transportIDKey).(string); ok && id != "" {
		fields = append(fields, slog.String(FieldTransportID, id))
	}
	if gen, ok := ctx.Value(generationKey).(uint64); ok {
		fields = append(fields, slog.Uint64(FieldGeneration, gen))
	}
	return fields
}

// WithContext returns a logger augmented with structured fields derived from the supplied context.
func WithContext(ctx context.Context, logger *slog.Logger) *slog.Logger {
	if logger == nil {
		logger = NewNop()
	}
	fields := ContextFields(ctx)
	if len(fields) == 0 {
		return logger
	}
	args := make([]any, 0, len(fields))
	for _, f := range fields {
		args = append(args, f)
	}
	return logger.With(args...)
}
