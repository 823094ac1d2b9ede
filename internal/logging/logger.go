// Package logging is the structured logging contract shared by the HTTP,
// gRPC and service layers, plus its log/slog backed implementation.
package logging

import "context"

// Logger writes leveled records tagged with key-value attributes.
//
// The variadic args are interpreted as key-value pairs, e.g.:
//
//	log.Info(ctx, "login succeeded", "email", email, "jti", jti)
//
// Never pass plaintext passwords or raw tokens as values.
type Logger interface {
	// Debug logs diagnostic detail that is off in production.
	Debug(ctx context.Context, msg string, args ...any)

	Info(ctx context.Context, msg string, args ...any)

	// Warn covers rejected credentials, throttled clients and other
	// expected refusals.
	Warn(ctx context.Context, msg string, args ...any)

	// Error is reserved for storage, mail and signing failures.
	Error(ctx context.Context, msg string, args ...any)

	// With returns a child logger that stamps every record with args.
	With(args ...any) Logger
}
