package types

import (
	"time"
)

// Logger defines the structured logging interface used throughout the platform.
type Logger interface {
	Info(msg string, args ...any)
	Error(msg string, args ...any)
	Warn(msg string, args ...any)
	With(args ...any) Logger
}

// NopLogger is a Logger that discards everything, for tests and optional
// collaborators.
type NopLogger struct{}

func (NopLogger) Info(string, ...any)  {}
func (NopLogger) Error(string, ...any) {}
func (NopLogger) Warn(string, ...any)  {}
func (l NopLogger) With(...any) Logger { return l }

// Clock abstracts time for testability.
type Clock interface {
	Now() time.Time
}

// RealClock implements Clock using the real system time (always UTC).
type RealClock struct{}

// Now returns the current time in UTC.
func (RealClock) Now() time.Time { return time.Now().UTC() }

// Renderer is the templating collaborator boundary. It is invoked
// synchronously at enqueue time; a render failure rejects the enqueue call
// rather than admitting a half-formed item.
type Renderer interface {
	Render(kind TemplateKind, data map[string]any) (*RenderedEmail, error)
}
