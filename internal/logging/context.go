package logging

import (
	"context"
	"log/slog"

	"lectern/internal/services"
)

const (
	// FieldComponent names the subsystem emitting the record.
	FieldComponent = "component"
	// FieldRunID identifies one pipeline run.
	FieldRunID = "run_id"
	// FieldStage is the pipeline stage name.
	FieldStage = "stage"
	// FieldArchivePath is the archive directory a run writes to.
	FieldArchivePath = "archive_path"
	// FieldEventType classifies a record for filtering (stage_start, cache_hit, ...).
	FieldEventType = "event_type"
	// FieldErrorKind mirrors services.ErrorDetails.Kind.
	FieldErrorKind = "error_kind"
	// FieldErrorHint carries the operator next step for warnings and errors.
	FieldErrorHint = "error_hint"
	// FieldImpact states the user-facing consequence of a warning.
	FieldImpact = "impact"
	// FieldCorrelationID carries HTTP request identifiers.
	FieldCorrelationID = "correlation_id"
	// FieldAlert flags records that should stand out.
	FieldAlert = "alert"
)

// ContextFields extracts standardized attributes from ctx.
func ContextFields(ctx context.Context) []slog.Attr {
	if ctx == nil {
		return nil
	}
	fields := make([]slog.Attr, 0, 4)
	if id, ok := services.RunIDFromContext(ctx); ok {
		fields = append(fields, slog.String(FieldRunID, id))
	}
	if stage, ok := services.StageFromContext(ctx); ok {
		fields = append(fields, slog.String(FieldStage, stage))
	}
	if path, ok := services.ArchivePathFromContext(ctx); ok {
		fields = append(fields, slog.String(FieldArchivePath, path))
	}
	if rid, ok := services.RequestIDFromContext(ctx); ok {
		fields = append(fields, slog.String(FieldCorrelationID, rid))
	}
	return fields
}

// WithContext returns logger augmented with the fields carried by ctx.
func WithContext(ctx context.Context, logger *slog.Logger) *slog.Logger {
	if logger == nil {
		logger = NewNop()
	}
	fields := ContextFields(ctx)
	if len(fields) == 0 {
		return logger
	}
	return logger.With(attrsToArgs(fields)...)
}
