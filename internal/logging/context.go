package logging

import (
	"context"
	"log/slog"
)

const (
	// FieldComponent is the standardized structured logging key for component names.
	FieldComponent = "component"
	// FieldCycleID identifies one backup cycle across all of its log lines.
	FieldCycleID = "cycle_id"
	// FieldWorld is the world name the line refers to.
	FieldWorld = "world"
	// FieldBackupID is a backup identity (its timestamp name).
	FieldBackupID  = "backup_id"
	FieldEventType = "event_type"
	FieldErrorHint = "error_hint"
	// FieldErrorKind is the faults taxonomy label of a failure.
	FieldErrorKind = "error_kind"
	// FieldImpact is the user-facing consequence of a warning.
	FieldImpact = "impact"
	// FieldAlert flags warnings or anomalies that should stand out in structured logs.
	FieldAlert = "alert"
)

type contextKey string

const (
	cycleIDKey contextKey = "cycle_id"
	worldKey   contextKey = "world"
)

// WithCycleID annotates ctx with the backup cycle identifier.
func WithCycleID(ctx context.Context, id string) context.Context {
	if id == "" {
		return ctx
	}
	return context.WithValue(ctx, cycleIDKey, id)
}

// CycleIDFromContext returns the cycle identifier if present.
func CycleIDFromContext(ctx context.Context) (string, bool) {
	if ctx == nil {
		return "", false
	}
	id, ok := ctx.Value(cycleIDKey).(string)
	return id, ok && id != ""
}

// WithWorld annotates ctx with the world name.
func WithWorld(ctx context.Context, world string) context.Context {
	if world == "" {
		return ctx
	}
	return context.WithValue(ctx, worldKey, world)
}

// WorldFromContext returns the world name if present.
func WorldFromContext(ctx context.Context) (string, bool) {
	if ctx == nil {
		return "", false
	}
	world, ok := ctx.Value(worldKey).(string)
	return world, ok && world != ""
}

// ContextFields extracts standardized slog attributes from the provided context.
func ContextFields(ctx context.Context) []slog.Attr {
	fields := make([]slog.Attr, 0, 2)
	if world, ok := WorldFromContext(ctx); ok {
		fields = append(fields, slog.String(FieldWorld, world))
	}
	if id, ok := CycleIDFromContext(ctx); ok {
		fields = append(fields, slog.String(FieldCycleID, id))
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
	return logger.With(Args(fields...)...)
}
