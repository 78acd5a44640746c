package client

import (
	"fmt"
	"log/slog"

	"github.com/pion/logging"
)

// slogLoggerFactory routes pion's internal logging through the client's
// slog.Logger so the WebRTC stack shares the application's log output.
type slogLoggerFactory struct {
	log *slog.Logger
}

func (f slogLoggerFactory) NewLogger(scope string) logging.LeveledLogger {
	return slogLeveledLogger{log: f.log.With("scope", scope)}
}

type slogLeveledLogger struct {
	log *slog.Logger
}

// Trace maps to slog debug; slog has no finer level.
func (l slogLeveledLogger) Trace(msg string) { l.log.Debug(msg) }
func (l slogLeveledLogger) Tracef(format string, args ...any) {
	l.log.Debug(fmt.Sprintf(format, args...))
}

func (l slogLeveledLogger) Debug(msg string) { l.log.Debug(msg) }
func (l slogLeveledLogger) Debugf(format string, args ...any) {
	l.log.Debug(fmt.Sprintf(format, args...))
}

func (l slogLeveledLogger) Info(msg string) { l.log.Info(msg) }
func (l slogLeveledLogger) Infof(format string, args ...any) {
	l.log.Info(fmt.Sprintf(format, args...))
}

func (l slogLeveledLogger) Warn(msg string) { l.log.Warn(msg) }
func (l slogLeveledLogger) Warnf(format string, args ...any) {
	l.log.Warn(fmt.Sprintf(format, args...))
}

func (l slogLeveledLogger) Error(msg string) { l.log.Error(msg) }
func (l slogLeveledLogger) Errorf(format string, args ...any) {
	l.log.Error(fmt.Sprintf(format, args...))
}
