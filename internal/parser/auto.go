package parser

import (
	"strings"

	"mailtrace/internal/model"
)

// AutoParser inspects the leading character of a line to pick between
// RFC 5424 and RFC 3164, after skipping any leading "<PRI>" tag: a digit
// (the version number) selects RFC 5424; anything else (normally a month
// abbreviation) selects RFC 3164.
type AutoParser struct {
	rfc5424 RFC5424Parser
	rfc3164 RFC3164Parser
}

// NewAutoParser returns a ready-to-use auto-detecting parser.
func NewAutoParser() *AutoParser {
	return &AutoParser{}
}

func (p *AutoParser) Parse(line string, opts Options) (Record, error) {
	lead := leadingSignificantByte(line)
	if isDigit(lead) {
		return p.rfc5424.Parse(line, opts)
	}
	return p.rfc3164.Parse(line, opts)
}

// leadingSignificantByte returns the first byte of line after skipping a
// leading "<PRI>" priority tag, if present.
func leadingSignificantByte(line string) byte {
	line = strings.TrimLeft(line, " \t")
	if len(line) == 0 {
		return 0
	}
	if line[0] == '<' {
		if idx := strings.IndexByte(line, '>'); idx >= 0 && idx+1 < len(line) {
			return line[idx+1]
		}
	}
	return line[0]
}

func isDigit(b byte) bool { return b >= '0' && b <= '9' }

// ParseLine runs parser on line and, on success, extracts the queue ID
// from the message payload, returning a fully formed model.LogRecord.
// Parse failures are the caller's responsibility to count and discard
// per spec §4.1 / §7 — ParseLine returns the *apperr.AppError unchanged.
func ParseLine(p Parser, line string, opts Options) (model.LogRecord, error) {
	rec, err := p.Parse(line, opts)
	if err != nil {
		return model.LogRecord{}, err
	}

	queueID, rest := splitQueueID(rec.Message)
	return model.LogRecord{
		Timestamp: rec.Timestamp,
		Host:      rec.Host,
		Service:   rec.Service,
		QueueID:   queueID,
		Message:   rest,
	}, nil
}
