package id

import "context"

type contextKey string

const (
	taskKey contextKey = "coursebot_task_id"
	userKey contextKey = "coursebot_user_id"
	logKey  contextKey = "coursebot_log_id"
)

// IDs captures the identifiers propagated through a task's execution.
type IDs struct {
	TaskID string
	UserID string
	LogID  string
}

// WithLogID stores the provided log identifier on the context.
func WithLogID(ctx context.Context, logID string) context.Context {
	return withValue(ctx, logKey, logID)
}

// WithIDs stores every non-empty identifier on the context.
func WithIDs(ctx context.Context, ids IDs) context.Context {
	ctx = withValue(ctx, taskKey, ids.TaskID)
	ctx = withValue(ctx, userKey, ids.UserID)
	return withValue(ctx, logKey, ids.LogID)
}

func withValue(ctx context.Context, key contextKey, value string) context.Context {
	if value == "" {
		return ctx
	}
	return context.WithValue(ctx, key, value)
}

func stringValue(ctx context.Context, key contextKey) string {
	if ctx == nil {
		return ""
	}
	if value, ok := ctx.Value(key).(string); ok {
		return value
	}
	return ""
}

// LogIDFromContext extracts the log identifier from context.
func LogIDFromContext(ctx context.Context) string {
	return stringValue(ctx, logKey)
}

// IDsFromContext collects all known identifiers from the context.
func IDsFromContext(ctx context.Context) IDs {
	return IDs{
		TaskID: stringValue(ctx, taskKey),
		UserID: stringValue(ctx, userKey),
		LogID:  stringValue(ctx, logKey),
	}
}

// EnsureLogID guarantees a log identifier is present on the context.
// It returns the updated context and the resulting identifier.
func EnsureLogID(ctx context.Context, generator func() string) (context.Context, string) {
	if existing := LogIDFromContext(ctx); existing != "" {
		return ctx, existing
	}
	next := ""
	if generator != nil {
		next = generator()
	}
	if next == "" {
		return ctx, ""
	}
	return WithLogID(ctx, next), next
}
