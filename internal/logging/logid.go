package logging

import (
	"context"

	"coursebot/internal/utils/id"
)

// WithLogID tags every line written through logger with logID. Component
// loggers carry it as a structured attribute; any other logger gets a
// "logid=" prefix on the message.
func WithLogID(logger Logger, logID string) Logger {
	switch {
	case IsNil(logger):
		return Nop()
	case logID == "":
		return logger
	}
	if cl, ok := logger.(*componentLogger); ok {
		return cl.With("logid", logID)
	}
	return prefixed{inner: logger, prefix: "logid=" + logID + " "}
}

// FromContext tags logger with the log id stored in ctx, if any.
func FromContext(ctx context.Context, logger Logger) Logger {
	return WithLogID(logger, id.LogIDFromContext(ctx))
}

type prefixed struct {
	inner  Logger
	prefix string
}

func (p prefixed) Debug(format string, args ...any) { p.inner.Debug(p.prefix+format, args...) }
func (p prefixed) Info(format string, args ...any)  { p.inner.Info(p.prefix+format, args...) }
func (p prefixed) Warn(format string, args ...any)  { p.inner.Warn(p.prefix+format, args...) }
func (p prefixed) Error(format string, args ...any) { p.inner.Error(p.prefix+format, args...) }
