package pion

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/pion/logging"

	"github.com/qrave1/RoomMesh/internal/application/constant"
)

const levelTrace = slog.LevelDebug - 4

// LoggerFactory - логи pion через slog
type LoggerFactory struct {
	log *slog.Logger
}

func NewLoggerFactory(log *slog.Logger) *LoggerFactory {
	if log == nil {
		log = slog.Default()
	}

	return &LoggerFactory{log: log}
}

func (f *LoggerFactory) NewLogger(scope string) logging.LeveledLogger {
	return &leveledLogger{log: f.log.With(slog.String(constant.Component, "pion/"+scope))}
}

type leveledLogger struct {
	log *slog.Logger
}

func (l *leveledLogger) logf(level slog.Level, format string, args ...any) {
	ctx := context.Background()
	if !l.log.Enabled(ctx, level) {
		return
	}

	l.log.Log(ctx, level, fmt.Sprintf(format, args...))
}

// Info у pion - смена состояний каждого соединения, пишется как Debug
func (l *leveledLogger) Trace(msg string) { l.log.Log(context.Background(), levelTrace, msg) }
func (l *leveledLogger) Debug(msg string) { l.log.Debug(msg) }
func (l *leveledLogger) Info(msg string)  { l.log.Debug(msg) }
func (l *leveledLogger) Warn(msg string)  { l.log.Warn(msg) }
func (l *leveledLogger) Error(msg string) { l.log.Error(msg) }

func (l *leveledLogger) Tracef(format string, args ...any) { l.logf(levelTrace, format, args...) }
func (l *leveledLogger) Debugf(format string, args ...any) { l.logf(slog.LevelDebug, format, args...) }
func (l *leveledLogger) Infof(format string, args ...any)  { l.logf(slog.LevelDebug, format, args...) }
func (l *leveledLogger) Warnf(format string, args ...any)  { l.logf(slog.LevelWarn, format, args...) }
func (l *leveledLogger) Errorf(format string, args ...any) { l.logf(slog.LevelError, format, args...) }
