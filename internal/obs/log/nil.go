package log

// nopLogger discards everything. Used in tests and anywhere a Logger is
// required but output is not wanted, mirroring common/mlog's nil logger.
type nopLogger struct{}

// NewNop returns a Logger that discards all log calls.
func NewNop() Logger { return nopLogger{} }

func (nopLogger) Info(args ...any)                 {}
func (nopLogger) Infof(format string, args ...any)  {}
func (nopLogger) Warn(args ...any)                  {}
func (nopLogger) Warnf(format string, args ...any)  {}
func (nopLogger) Error(args ...any)                 {}
func (nopLogger) Errorf(format string, args ...any) {}
func (nopLogger) Debug(args ...any)                 {}
func (nopLogger) Debugf(format string, args ...any) {}
func (nopLogger) Sync() error                       { return nil }
func (nopLogger) WithFields(fields ...any) Logger   { return nopLogger{} }
