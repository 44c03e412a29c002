// Package log is the narrow logging interface used across the Person Data
// Store, mirroring common/mlog.Logger in the teacher so every repository,
// the batch engine and the unit-of-work session log through one seam
// instead of reaching for fmt/log directly.
package log

// Logger is the common interface implementations must satisfy.
type Logger interface {
	Info(args ...any)
	Infof(format string, args ...any)

	Warn(args ...any)
	Warnf(format string, args ...any)

	Error(args ...any)
	Errorf(format string, args ...any)

	Debug(args ...any)
	Debugf(format string, args ...any)

	// WithFields returns a derived logger that always includes the given
	// key/value pairs (odd count is invalid and panics, matching zap's
	// SugaredLogger.With contract).
	WithFields(fields ...any) Logger

	Sync() error
}
