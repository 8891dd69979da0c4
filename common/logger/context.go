package logger

import "context"

type contextKey string

const logFieldsKey contextKey = "log_fields"

// LogFields contains structured fields automatically added to all logs within a context.
// Fields flow through context enrichment, enabling zero-touch logging where business
// context (task, tick_id, post_id, etc.) is automatically included in all log statements.
type LogFields struct {
	Task         *string // scheduled task name ("post", "mentions", "popular")
	TickID       *int64  // snowflake id of the current tick, for correlating one run
	PostID       *string // platform post id currently being processed
	ThreadRootID *string // root id of the tracked conversation in scope
	MentionID    *string // mention being handled by the mention task
	Component    string  // component name (OTel semantic convention style, e.g., "twittwebot.bot.mentions")
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

	if new.Task != nil {
		result.Task = new.Task
	}
	if new.TickID != nil {
		result.TickID = new.TickID
	}
	if new.PostID != nil {
		result.PostID = new.PostID
	}
	if new.ThreadRootID != nil {
		result.ThreadRootID = new.ThreadRootID
	}
	if new.MentionID != nil {
		result.MentionID = new.MentionID
	}
	if new.Component != "" {
		result.Component = new.Component
	}

	return result
}

// Ptr is a helper to create a pointer from a value.
// Useful for setting LogFields inline: logger.WithLogFields(ctx, logger.LogFields{TickID: logger.Ptr(id)})
func Ptr[T any](v T) *T {
	return &v
}

// Truncate truncates a string to maxLen characters, appending "..." if truncated.
// Useful for logging potentially long strings like generated posts or error messages.
func Truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
