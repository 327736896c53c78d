package peer

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/pion/logging"
)

const levelTrace = slog.LevelDebug - 4

// loggerFactory routes pion's internal loggers into slog, one scope per
// subsystem (ice, dtls, sctp, ...).
type loggerFactory struct {
	log *slog.Logger
}

func newLoggerFactory(logger *slog.Logger) logging.LoggerFactory {
	return loggerFactory{log: logger}
}

func (f loggerFactory) NewLogger(scope string) logging.LeveledLogger {
	return &scopedLogger{log: f.log.With("pion", scope)}
}

type scopedLogger struct {
	log *slog.Logger
}

func (l *scopedLogger) logf(level slog.Level, format string, args ...interface{}) {
	if !l.log.Enabled(context.Background(), level) {
		return
	}
	l.log.Log(context.Background(), level, fmt.Sprintf(format, args...))
}

func (l *scopedLogger) Trace(msg string)                          { l.log.Log(context.Background(), levelTrace, msg) }
func (l *scopedLogger) Tracef(format string, args ...interface{}) { l.logf(levelTrace, format, args...) }
func (l *scopedLogger) Debug(msg string)                          { l.log.Debug(msg) }
func (l *scopedLogger) Debugf(format string, args ...interface{}) { l.logf(slog.LevelDebug, format, args...) }
func (l *scopedLogger) Info(msg string)                           { l.log.Info(msg) }
func (l *scopedLogger) Infof(format string, args ...interface{})  { l.logf(slog.LevelInfo, format, args...) }
func (l *scopedLogger) Warn(msg string)                           { l.log.Warn(msg) }
func (l *scopedLogger) Warnf(format string, args ...interface{})  { l.logf(slog.LevelWarn, format, args...) }
func (l *scopedLogger) Error(msg string)                          { l.log.Error(msg) }
func (l *scopedLogger) Errorf(format string, args ...interface{}) { l.logf(slog.LevelError, format, args...) }
