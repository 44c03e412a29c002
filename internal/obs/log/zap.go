package log

import "go.uber.org/zap"

// zapLogger adapts *zap.SugaredLogger to the Logger interface, the same
// wiring common/mzap performs for the teacher's components.
type zapLogger struct {
	s *zap.SugaredLogger
}

// NewZap builds a production zap logger and wraps it as a Logger.
func NewZap() (Logger, error) {
	z, err := zap.NewProduction()
	if err != nil {
		return nil, err
	}

	return &zapLogger{s: z.Sugar()}, nil
}

func (l *zapLogger) Info(args ...any)                  { l.s.Info(args...) }
func (l *zapLogger) Infof(format string, args ...any)   { l.s.Infof(format, args...) }
func (l *zapLogger) Warn(args ...any)                   { l.s.Warn(args...) }
func (l *zapLogger) Warnf(format string, args ...any)   { l.s.Warnf(format, args...) }
func (l *zapLogger) Error(args ...any)                  { l.s.Error(args...) }
func (l *zapLogger) Errorf(format string, args ...any)  { l.s.Errorf(format, args...) }
func (l *zapLogger) Debug(args ...any)                  { l.s.Debug(args...) }
func (l *zapLogger) Debugf(format string, args ...any)  { l.s.Debugf(format, args...) }
func (l *zapLogger) Sync() error                        { return l.s.Sync() }

func (l *zapLogger) WithFields(fields ...any) Logger {
	return &zapLogger{s: l.s.With(fields...)}
}
