// Package logger configures the process-wide zerolog instance from the
// LOG_LEVEL and LOG_FORMAT environment settings.
package logger

import (
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Logger is the shared root logger; components derive sub-loggers from it.
var Logger zerolog.Logger

// Init sets the global level and output format. "json" writes structured
// lines for production; anything else gets the colored console writer.
func Init(level, format string) {
	zerolog.SetGlobalLevel(levelFromString(level))

	var out zerolog.Logger
	if strings.EqualFold(format, "json") {
		out = zerolog.New(os.Stdout)
	} else {
		out = zerolog.New(zerolog.ConsoleWriter{
			Out:        os.Stdout,
			TimeFormat: time.RFC3339,
		})
	}

	Logger = out.With().Timestamp().Caller().Logger()
	log.Logger = Logger
}

func levelFromString(level string) zerolog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return zerolog.DebugLevel
	case "info":
		return zerolog.InfoLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	case "fatal":
		return zerolog.FatalLevel
	case "panic":
		return zerolog.PanicLevel
	default:
		return zerolog.InfoLevel
	}
}

// GetLogger returns the configured root logger.
func GetLogger() zerolog.Logger {
	return Logger
}
