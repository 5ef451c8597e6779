package logger

import (
	"io"
	"log/slog"
	"strings"
)

// ParseLevel - уровень логирования из LOG_LEVEL, по умолчанию info
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "dev", "development", "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error", "production", "prod":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Init - JSON логгер по умолчанию для всего процесса
func Init(w io.Writer, level string) *slog.Logger {
	log := slog.New(
		slog.NewJSONHandler(
			w,
			&slog.HandlerOptions{Level: ParseLevel(level)},
		),
	)

	slog.SetDefault(log)

	return log
}
