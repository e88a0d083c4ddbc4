// Package observability provides the narrow logging seam every
// subsystem logs through, so no package below it depends on a
// concrete logging library.
package observability

import (
	"context"
	"log"
)

// Logger is the structured logging seam used by every subsystem.
// Fields are logged as key/value pairs; callers pass context for
// future propagation of request-scoped values (trace ids, route) even
// though the standard-library-backed implementation below ignores it.
type Logger interface {
	LogInfo(ctx context.Context, message string, fields map[string]interface{})
	LogWarning(ctx context.Context, message string, fields map[string]interface{})
	LogError(ctx context.Context, message string, fields map[string]interface{})
}

// StdLogger is the default Logger, backed by the standard library's
// log package.
type StdLogger struct{}

// NewStdLogger returns a Logger that writes through log.Printf.
func NewStdLogger() Logger {
	return &StdLogger{}
}

func (l *StdLogger) LogInfo(ctx context.Context, message string, fields map[string]interface{}) {
	log.Printf("info: %s %v", message, fields)
}

func (l *StdLogger) LogWarning(ctx context.Context, message string, fields map[string]interface{}) {
	log.Printf("warning: %s %v", message, fields)
}

func (l *StdLogger) LogError(ctx context.Context, message string, fields map[string]interface{}) {
	log.Printf("error: %s %v", message, fields)
}
