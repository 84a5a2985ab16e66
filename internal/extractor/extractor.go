// Package extractor classifies LogRecords sharing one queue ID into
// MailEvents, per the event extractor design in spec §4.3. It is
// pattern-based: each recognized message shape yields a specific event
// kind plus the fields the tracer and continuous pipeline need to find
// the next hop.
package extractor

import (
	"regexp"

	"mailtrace/internal/model"
)

var (
	clientPattern    = regexp.MustCompile(`\bclient=([^\[\s]+)\[`)
	messageIDPattern = regexp.MustCompile(`\bmessage-id=<([^>]+)>`)
	relayPattern     = regexp.MustCompile(`\brelay=([^\[\s,:]+)(?:\[[^\]]*\])?(?::(\d+))?`)
	statusPattern    = regexp.MustCompile(`\bstatus=(\w+)`)
	// embeddedIDPattern catches a daemon-rewritten queue ID referenced
	// inside a RECEIVE line's free text, e.g. "... id ABC123DEF) ...",
	// the "<peer_queue_id>: ... nested on the receiving host" shape from
	// spec §4.3's pattern table.
	embeddedIDPattern = regexp.MustCompile(`\bid\s+([A-F0-9]{4,})\b`)
)

// FinalDeliveryTags names relay values the extractor treats as terminal
// local delivery rather than a FORWARD hop, per spec §4.3.
var FinalDeliveryTags = map[string]bool{
	"local": true,
}

// Classify extracts a MailEvent from one LogRecord. A record matching no
// recognized pattern yields EventOther rather than an error, per spec
// §4.3/§7 (ExtractError is recorded as OTHER, never raised).
func Classify(r model.LogRecord) model.MailEvent {
	ev := model.MailEvent{
		Kind:    model.EventOther,
		Record:  r,
		Host:    r.Host,
		QueueID: r.QueueID,
	}

	if m := relayPattern.FindStringSubmatch(r.Message); m != nil {
		if FinalDeliveryTags[m[1]] {
			ev.NextHost = m[1]
			ev.Kind = model.EventDeliver
			ev.DeliveryState = "sent"
			return ev
		}
		// Only a relay with a port is a FORWARD hop; "relay=none" and the
		// like fall through to the status check below.
		if m[2] != "" {
			ev.NextHost = m[1]
			ev.Kind = model.EventForward
			return ev
		}
	}

	if m := statusPattern.FindStringSubmatch(r.Message); m != nil {
		if m[1] == "bounced" || m[1] == "deferred" {
			ev.Kind = model.EventDeliver
			ev.DeliveryState = m[1]
			return ev
		}
	}

	if m := messageIDPattern.FindStringSubmatch(r.Message); m != nil {
		ev.Kind = model.EventReceive
		ev.MessageID = m[1]
		if m2 := embeddedIDPattern.FindStringSubmatch(r.Message); m2 != nil {
			ev.PeerQueueID = m2[1]
		}
		return ev
	}

	if m := clientPattern.FindStringSubmatch(r.Message); m != nil {
		ev.Kind = model.EventConnect
		ev.PeerHost = m[1]
		return ev
	}

	return ev
}

// ClassifyAll classifies every record in recs, which must share one
// queue ID and host per the extractor's contract.
func ClassifyAll(recs []model.LogRecord) []model.MailEvent {
	events := make([]model.MailEvent, 0, len(recs))
	for _, r := range recs {
		events = append(events, Classify(r))
	}
	return events
}

// GroupByQueueID partitions records by queue ID. Records with no queue
// ID are returned separately as context records (e.g. for message-ID
// lookup), per spec §4.4 step 1.
func GroupByQueueID(recs []model.LogRecord) (groups map[string][]model.LogRecord, contextOnly []model.LogRecord) {
	groups = make(map[string][]model.LogRecord)
	for _, r := range recs {
		if !r.HasQueueID() {
			contextOnly = append(contextOnly, r)
			continue
		}
		groups[r.QueueID] = append(groups[r.QueueID], r)
	}
	return groups, contextOnly
}
