package parser

import (
	"regexp"
	"time"
)

// rfc5424Pattern matches the RFC 5424 structured syslog header:
// [<PRI>]VERSION SP TIMESTAMP SP HOSTNAME SP APP-NAME SP PROCID SP MSGID
// SP STRUCTURED-DATA SP MSG
var rfc5424Pattern = regexp.MustCompile(
	`^(?:<\d+>)?(\d+)\s+(\S+)\s+(\S+)\s+(\S+)\s+(\S+)\s+(\S+)\s+(-|(?:\[[^\]]*\])+)\s*(.*)$`,
)

// RFC5424Parser parses RFC 5424 structured syslog lines. The timestamp
// carries an explicit offset or "Z"; it is parsed as-is and converted
// into Options.Location for downstream comparisons.
type RFC5424Parser struct{}

func (RFC5424Parser) Parse(line string, opts Options) (Record, error) {
	m := rfc5424Pattern.FindStringSubmatch(line)
	if m == nil {
		return Record{}, parseFail("rfc5424", "line does not match RFC 5424 format")
	}

	ts, err := time.Parse(time.RFC3339Nano, m[2])
	if err != nil {
		ts, err = time.Parse(time.RFC3339, m[2])
	}
	if err != nil {
		return Record{}, parseFail("rfc5424", "unparseable timestamp: "+m[2])
	}

	return Record{
		Timestamp: ts.In(opts.location()),
		Host:      m[3],
		Service:   m[4],
		Message:   m[8],
	}, nil
}
