package parser

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRFC5424Parser(t *testing.T) {
	line := `<34>1 2025-06-01T22:14:15.003Z mx.example.com postfix/smtp 1234 - - ABC123DEF: to=<u@v>, relay=mailer.example.com[10.0.0.2]:25, status=sent`

	rec, err := ParseLine(RFC5424Parser{}, line, Options{})
	require.NoError(t, err)

	assert.Equal(t, "mx.example.com", rec.Host)
	assert.Equal(t, "postfix/smtp", rec.Service)
	assert.Equal(t, "ABC123DEF", rec.QueueID)
	assert.Contains(t, rec.Message, "relay=mailer.example.com")
	assert.Equal(t, 2025, rec.Timestamp.Year())
}

func TestRFC3164Parser(t *testing.T) {
	line := `Jun  1 22:14:15 mx.example.com postfix/smtp[1234]: ABC123DEF: message-id=<x@y>`
	now := time.Date(2025, time.June, 2, 0, 0, 0, 0, time.UTC)

	rec, err := ParseLine(RFC3164Parser{}, line, Options{Now: now, DefaultYear: 2025})
	require.NoError(t, err)

	assert.Equal(t, "mx.example.com", rec.Host)
	assert.Equal(t, "postfix/smtp", rec.Service)
	assert.Equal(t, "ABC123DEF", rec.QueueID)
	assert.Equal(t, "message-id=<x@y>", rec.Message)
	assert.Equal(t, 2025, rec.Timestamp.Year())
}

func TestRFC3164ParserYearWrapsBackward(t *testing.T) {
	// A December line observed while "now" is January must resolve to
	// the previous year, not the future.
	line := `Dec  5 08:00:00 mx.example.com postfix/smtp[1]: ABC: message-id=<a@b>`
	now := time.Date(2025, time.January, 1, 0, 0, 0, 0, time.UTC)

	rec, err := ParseLine(RFC3164Parser{}, line, Options{Now: now})
	require.NoError(t, err)
	assert.Equal(t, 2024, rec.Timestamp.Year())
}

func TestRFC3164ParserMalformedLineIsDiscarded(t *testing.T) {
	_, err := ParseLine(RFC3164Parser{}, "not a syslog line at all", Options{})
	assert.Error(t, err)
}

func TestAutoParserDispatchesByLeadingCharacter(t *testing.T) {
	auto := NewAutoParser()

	digitLed := `<34>1 2025-06-01T22:14:15.003Z mx.example.com postfix/smtp 1 - - ABC: message-id=<a@b>`
	rec, err := ParseLine(auto, digitLed, Options{})
	require.NoError(t, err)
	assert.Equal(t, "mx.example.com", rec.Host)

	letterLed := `Jun  1 22:14:15 mx.example.com postfix/smtp[1]: ABC: message-id=<a@b>`
	rec, err = ParseLine(auto, letterLed, Options{Now: time.Date(2025, 6, 2, 0, 0, 0, 0, time.UTC)})
	require.NoError(t, err)
	assert.Equal(t, "mx.example.com", rec.Host)
}

func TestSplitQueueIDAbsent(t *testing.T) {
	id, rest := splitQueueID("no queue id here, just text")
	assert.Empty(t, id)
	assert.Equal(t, "no queue id here, just text", rest)
}

func TestParserRoundTripStable(t *testing.T) {
	line := `Jun  1 22:14:15 mx.example.com postfix/smtp[1234]: ABC123DEF: message-id=<x@y>`
	now := time.Date(2025, time.June, 2, 0, 0, 0, 0, time.UTC)

	a, err := ParseLine(RFC3164Parser{}, line, Options{Now: now})
	require.NoError(t, err)
	b, err := ParseLine(RFC3164Parser{}, line, Options{Now: now})
	require.NoError(t, err)

	assert.Equal(t, a.Timestamp, b.Timestamp)
	assert.Equal(t, a.Host, b.Host)
	assert.Equal(t, a.Service, b.Service)
	assert.Equal(t, a.QueueID, b.QueueID)
	assert.Equal(t, a.Message, b.Message)
}
