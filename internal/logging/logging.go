// Package logging builds the logrus.Logger every mailtrace component
// receives explicitly (never a package-level global), per the ambient
// logging design: the level comes from config and the formatter from the
// caller's json flag, threaded in at construction the way the teacher's
// internal/app wires its logger.
package logging

import (
	"github.com/sirupsen/logrus"
)

// New builds a *logrus.Logger at the given level (any logrus.ParseLevel
// string; invalid or empty falls back to Info) with a text formatter.
// json selects structured JSON output for log shipping, matching the
// teacher's app.LogFormat switch.
func New(level string, json bool) *logrus.Logger {
	logger := logrus.New()

	parsed, err := logrus.ParseLevel(level)
	if err != nil {
		parsed = logrus.InfoLevel
	}
	logger.SetLevel(parsed)

	if json {
		logger.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}

	return logger
}
