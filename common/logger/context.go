package logger

import "context"

type contextKey string

const logFieldsKey contextKey = "log_fields"

// LogFields contains structured fields automatically added to all logs within a context.
// Fields flow through context enrichment, enabling zero-touch logging where session
// context (adventure_id, chapter_number, etc.) is automatically included in all log statements.
type LogFields struct {
	AdventureID   *string // Stable adventure UUID
	ClientUUID    *string // Opaque client-held reattachment id
	UserID        *string // Authenticated user id, if any
	ChapterNumber *int    // Chapter currently being generated/streamed
	ChapterType   *string // STORY | LESSON | REFLECT | CONCLUSION
	TaskID        *int64  // Scheduler task id (snowflake)
	Component     string  // Component name (OTel semantic convention style, e.g., "adventure.session.engine")
}

// WithLogFields enriches context with structured log fields.
// Multiple calls merge fields, with newer non-nil/non-empty values taking precedence.
// Context timeouts and cancellation are preserved.
func WithLogFields(ctx context.Context, fields LogFields) context.Context {
	existing := GetLogFields(ctx)
	merged := mergeFields(existing, fields)
	return context.WithValue(ctx, logFieldsKey, merged)
}

// GetLogFields retrieves log fields from context.
// Returns empty LogFields if none are set.
func GetLogFields(ctx context.Context) LogFields {
	if fields, ok := ctx.Value(logFieldsKey).(LogFields); ok {
		return fields
	}
	return LogFields{}
}

// mergeFields merges two LogFields, preferring non-nil/non-empty values from 'new'.
func mergeFields(existing, new LogFields) LogFields {
	result := existing

	if new.AdventureID != nil {
		result.AdventureID = new.AdventureID
	}
	if new.ClientUUID != nil {
		result.ClientUUID = new.ClientUUID
	}
	if new.UserID != nil {
		result.UserID = new.UserID
	}
	if new.ChapterNumber != nil {
		result.ChapterNumber = new.ChapterNumber
	}
	if new.ChapterType != nil {
		result.ChapterType = new.ChapterType
	}
	if new.TaskID != nil {
		result.TaskID = new.TaskID
	}
	if new.Component != "" {
		result.Component = new.Component
	}

	return result
}

// Ptr is a helper to create a pointer from a value.
// Useful for setting LogFields inline: logger.WithLogFields(ctx, logger.LogFields{AdventureID: logger.Ptr(id)})
func Ptr[T any](v T) *T {
	return &v
}

// Truncate truncates a string to maxLen characters, appending "..." if truncated.
// Useful for logging potentially long strings like chapter content or prompts.
func Truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
