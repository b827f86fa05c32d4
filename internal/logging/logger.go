package logging

import (
	"io"
	"os"

	"github.com/natefinch/lumberjack"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Init initializes the global logger with configuration from environment variables.
// SAFESITE_LOG_LEVEL controls the log level: debug, info, warn, error (default: info)
// SAFESITE_LOG_FORMAT=console switches from JSON lines to the human-readable writer.
func Init() {
	zerolog.SetGlobalLevel(ParseLevel(os.Getenv("SAFESITE_LOG_LEVEL")))
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnixMs
	log.Logger = zerolog.New(output()).With().Timestamp().Logger()
}

// InitWithFile is Init plus a copy of every line, as JSON, in a rotating
// file at path. The returned closer flushes and closes the file.
func InitWithFile(path string) io.Closer {
	Init()
	file := RotatingFile(path)
	log.Logger = zerolog.New(zerolog.MultiLevelWriter(output(), file)).With().Timestamp().Logger()
	return file
}

// RotatingFile returns a size-rotated log file writer.
func RotatingFile(path string) *lumberjack.Logger {
	return &lumberjack.Logger{
		Filename:   path,
		MaxSize:    10, // MB
		MaxBackups: 5,
		MaxAge:     7, // days
		Compress:   true,
	}
}

func output() io.Writer {
	if os.Getenv("SAFESITE_LOG_FORMAT") == "console" {
		return zerolog.ConsoleWriter{Out: os.Stderr}
	}
	return os.Stdout
}

// ParseLevel maps a level name to a zerolog level, defaulting to info.
func ParseLevel(level string) zerolog.Level {
	switch level {
	case "debug":
		return zerolog.DebugLevel
	case "warn":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}
