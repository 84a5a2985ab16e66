package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestMailGraphDeduplicatesHops(t *testing.T) {
	g := NewMailGraph()
	assert.True(t, g.AddHop(MailHop{FromHost: "A", ToHost: "B", QueueID: "Q1"}))
	assert.False(t, g.AddHop(MailHop{FromHost: "A", ToHost: "B", QueueID: "Q1"}))
	assert.Len(t, g.Edges(), 1)
	assert.Equal(t, []string{"A", "B"}, g.Nodes())
}

func TestMailGraphNodeOrderIsFirstMention(t *testing.T) {
	g := NewMailGraph()
	g.AddHop(MailHop{FromHost: "A", ToHost: "B", QueueID: "Q1"})
	g.AddHop(MailHop{FromHost: "A", ToHost: "C", QueueID: "Q2"})
	assert.Equal(t, []string{"A", "B", "C"}, g.Nodes())
}

func TestMailGraphEmpty(t *testing.T) {
	g := NewMailGraph()
	assert.True(t, g.Empty())
	g.AddNode("A")
	assert.False(t, g.Empty())
}

func TestTraceStateDeduplicatesRecords(t *testing.T) {
	ts := NewTraceState("msg-1")
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	r := LogRecord{Timestamp: base, Host: "mx", Message: "hello"}

	assert.True(t, ts.AddRecord(r))
	assert.False(t, ts.AddRecord(r)) // exact duplicate by (timestamp, host, message)
	assert.Len(t, ts.Records, 1)
}

func TestTraceStateTracksFirstAndLastSeen(t *testing.T) {
	ts := NewTraceState("msg-1")
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	ts.AddRecord(LogRecord{Timestamp: base.Add(time.Minute), Host: "mx", Message: "second"})
	ts.AddRecord(LogRecord{Timestamp: base, Host: "mx", Message: "first"})

	assert.Equal(t, base, ts.FirstSeen)
	assert.Equal(t, base.Add(time.Minute), ts.LastSeen)
	assert.True(t, !ts.LastSeen.Before(ts.FirstSeen))
}

func TestTraceStateReadyToFlush(t *testing.T) {
	ts := NewTraceState("msg-1")
	ts.RoundsSinceNew = 2
	assert.True(t, ts.ReadyToFlush(2))
	assert.False(t, ts.ReadyToFlush(3))
	assert.True(t, ts.ReadyToFlush(0))
}
