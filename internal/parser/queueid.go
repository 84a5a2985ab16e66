package parser

import "regexp"

// queueIDPattern matches a token of one or more uppercase hex characters
// immediately followed by a colon at the start of the message payload,
// e.g. "ABC123DEF: to=<u@v>, relay=...". Per spec §4.1, absence yields a
// LogRecord with no queue ID and the message left untouched.
var queueIDPattern = regexp.MustCompile(`^([0-9A-F]+):\s*(.*)$`)

// SplitQueueID extracts a leading queue-ID token from message, returning
// the ID (or "" if absent) and the remaining message text. Exported for
// aggregator backends (e.g. the index aggregator) that receive
// already-timestamped, already-hostnamed records from their backend and
// only need the queue-ID extraction half of parsing.
func SplitQueueID(message string) (queueID, rest string) {
	m := queueIDPattern.FindStringSubmatch(message)
	if m == nil {
		return "", message
	}
	return m[1], m[2]
}

func splitQueueID(message string) (queueID, rest string) { return SplitQueueID(message) }
