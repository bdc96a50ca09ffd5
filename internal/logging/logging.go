// Package logging configures the process-wide logrus logger: InfoLevel
// with a full-timestamp text formatter, bumped to DebugLevel by the
// `debug` CLI flag.
package logging

import (
	"os"

	"github.com/sirupsen/logrus"
)

// New builds the process logger. debug enables verbose (Debug level)
// logging; otherwise the logger runs at Info level.
func New(debug bool) *logrus.Logger {
	log := logrus.New()
	log.Out = os.Stdout
	log.Formatter = &logrus.TextFormatter{
		FullTimestamp: true,
	}

	if debug {
		log.Level = logrus.DebugLevel
	} else {
		log.Level = logrus.InfoLevel
	}

	return log
}
