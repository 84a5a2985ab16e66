package parser

import (
	"regexp"
	"strconv"
	"time"
)

// rfc3164Pattern matches the classic BSD syslog line:
// "Mmm DD HH:MM:SS host service[pid]: message"
// pid is optional; the colon-terminated tag is captured as service.
var rfc3164Pattern = regexp.MustCompile(
	`^(\w{3})\s+(\d{1,2})\s+(\d{2}):(\d{2}):(\d{2})\s+(\S+)\s+([^:\[\]]+)(?:\[\d+\])?:\s*(.*)$`,
)

var rfc3164Months = map[string]time.Month{
	"Jan": time.January, "Feb": time.February, "Mar": time.March,
	"Apr": time.April, "May": time.May, "Jun": time.June,
	"Jul": time.July, "Aug": time.August, "Sep": time.September,
	"Oct": time.October, "Nov": time.November, "Dec": time.December,
}

// RFC3164Parser parses BSD-style syslog lines. The year is never present
// on the wire; it is supplied by Options.DefaultYear (falling back to
// Options.Now's year) and wrapped back one year if the resulting
// timestamp would be in the future relative to Options.Now.
type RFC3164Parser struct{}

func (RFC3164Parser) Parse(line string, opts Options) (Record, error) {
	m := rfc3164Pattern.FindStringSubmatch(line)
	if m == nil {
		return Record{}, parseFail("rfc3164", "line does not match BSD syslog format")
	}

	month, ok := rfc3164Months[m[1]]
	if !ok {
		return Record{}, parseFail("rfc3164", "unrecognized month abbreviation: "+m[1])
	}
	day, _ := strconv.Atoi(m[2])
	hour, _ := strconv.Atoi(m[3])
	minute, _ := strconv.Atoi(m[4])
	second, _ := strconv.Atoi(m[5])

	year := opts.DefaultYear
	if year == 0 {
		year = opts.now().Year()
	}

	loc := opts.location()
	ts := time.Date(year, month, day, hour, minute, second, 0, loc)
	if ts.After(opts.now()) {
		ts = time.Date(year-1, month, day, hour, minute, second, 0, loc)
	}

	return Record{
		Timestamp: ts,
		Host:      m[6],
		Service:   m[7],
		Message:   m[8],
	}, nil
}
