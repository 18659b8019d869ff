// Package logging holds the process-wide logrus logger.
package logging

import (
	"os"
	"sync"

	"github.com/sirupsen/logrus"
)

var (
	logger *logrus.Logger
	once   sync.Once
)

// Get returns the singleton logger: JSON to stdout, level from LOG_LEVEL
// (default info).
func Get() *logrus.Logger {
	once.Do(func() {
		logger = logrus.New()
		logger.SetLevel(ParseLevel(os.Getenv("LOG_LEVEL")))
		logger.SetFormatter(&logrus.JSONFormatter{
			TimestampFormat: "2006-01-02 15:04:05",
		})
		logger.SetOutput(os.Stdout)
	})
	return logger
}

// ParseLevel falls back to info for empty or unknown levels.
func ParseLevel(level string) logrus.Level {
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		return logrus.InfoLevel
	}
	return lvl
}
