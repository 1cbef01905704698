package logger

import (
	"context"

	"go.uber.org/zap"
)

// Standard field names for consistent structured logging across EATS.
const (
	// Identity and context
	FieldImportID = "import_id"
	FieldUser     = "user"

	// Components
	FieldComponent = "component"
	FieldOperation = "operation"

	// EATS objects
	FieldEntityID    = "entity_id"
	FieldAuthorityID = "authority_id"
	FieldAssertionID = "assertion_id"
	FieldKind        = "kind"
	FieldItemID      = "item_id"

	// Counts and timing
	FieldCount      = "count"
	FieldDurationMS = "duration_ms"

	// Errors and files
	FieldError = "error"
	FieldPath  = "path"
)

// Context keys for propagating logging context
type contextKey string

const (
	importIDKey  contextKey = "logger_import_id"
	componentKey contextKey = "logger_component"
)

// WithImportID adds an import run ID to the context for logging
func WithImportID(ctx context.Context, importID string) context.Context {
	return context.WithValue(ctx, importIDKey, importID)
}

// WithComponent adds a component name to the context for logging
func WithComponent(ctx context.Context, component string) context.Context {
	return context.WithValue(ctx, componentKey, component)
}

// FieldsFromContext extracts logging fields from context.
// Returns key-value pairs suitable for use with Infow/Errorw/etc.
func FieldsFromContext(ctx context.Context) []interface{} {
	var fields []interface{}

	if importID, ok := ctx.Value(importIDKey).(string); ok && importID != "" {
		fields = append(fields, FieldImportID, importID)
	}
	if component, ok := ctx.Value(componentKey).(string); ok && component != "" {
		fields = append(fields, FieldComponent, component)
	}

	return fields
}

// LoggerFromContext returns base with the context's fields attached.
func LoggerFromContext(ctx context.Context, base *zap.SugaredLogger) *zap.SugaredLogger {
	base = OrNop(base)
	fields := FieldsFromContext(ctx)
	if len(fields) == 0 {
		return base
	}
	return base.With(fields...)
}

// ComponentLogger returns a named logger for a specific component.
//
// Example:
//
//	store := storage.NewStore(db, baseURL, logger.ComponentLogger("storage"))
func ComponentLogger(name string) *zap.SugaredLogger {
	return Logger.Named(name)
}
