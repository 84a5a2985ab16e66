// Package parser turns one raw syslog-style log line into a structured
// model.LogRecord, per the log parser contract in spec §4.1. Three
// concrete parsers are provided: RFC5424, RFC3164 (BSD), and an
// auto-detecting wrapper that picks between them per line.
package parser

import (
	"time"

	apperr "mailtrace/pkg/errors"
)

// Options carries the per-call context a parser needs beyond the raw
// line: the timezone to resolve naive timestamps against, the default
// year for formats that omit one, and the instant used to detect (and
// correct) a year default that would otherwise land in the future.
type Options struct {
	Location    *time.Location
	DefaultYear int       // used by RFC3164; 0 means "use Now's year"
	Now         time.Time // reference instant for future-wrap correction
}

func (o Options) location() *time.Location {
	if o.Location != nil {
		return o.Location
	}
	return time.UTC
}

func (o Options) now() time.Time {
	if !o.Now.IsZero() {
		return o.Now
	}
	return time.Now().In(o.location())
}

// Parser parses one raw log line into a LogRecord. Malformed lines
// return a *apperr.AppError of kind ParseError; callers must discard
// the line rather than propagate the error, per spec §4.1 and §7.
type Parser interface {
	Parse(line string, opts Options) (Record, error)
}

// Record is the parser's output: a LogRecord without its queue ID.
// ParseLine splits the queue ID off the front of Message to produce the
// final model.LogRecord.
type Record struct {
	Timestamp time.Time
	Host      string
	Service   string
	Message   string
}

func parseFail(format, reason string) error {
	return apperr.ParseError(format, reason)
}
