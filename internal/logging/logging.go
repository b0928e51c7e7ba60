// Package logging configures the process-wide logrus logger.
package logging

import (
	"os"

	log "github.com/sirupsen/logrus"
)

// New returns a logger writing to stdout at level, using the JSON formatter
// when format is "json". Unknown levels fall back to info.
func New(level, format string) *log.Logger {
	logger := log.New()
	logger.SetOutput(os.Stdout)
	logger.SetLevel(ParseLevel(level))
	if format == "json" {
		logger.SetFormatter(&log.JSONFormatter{})
	} else {
		logger.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	}
	return logger
}

// ParseLevel maps a LOG_LEVEL value to a logrus level.
func ParseLevel(level string) log.Level {
	if level == "silent" {
		return log.PanicLevel
	}
	parsed, err := log.ParseLevel(level)
	if err != nil {
		return log.InfoLevel
	}
	return parsed
}

// Configure applies level and format to the standard logger so that
// package-level logrus calls follow the same settings.
func Configure(level, format string) *log.Logger {
	logger := New(level, format)
	log.SetLevel(logger.Level)
	log.SetFormatter(logger.Formatter)
	log.SetOutput(logger.Out)
	return logger
}
