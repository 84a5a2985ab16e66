// Package model holds the data structures shared across mailtrace's
// parser, aggregator, extractor, tracer, and pipeline layers: LogRecord,
// MailEvent, MailHop, MailGraph, and TraceState from the system's data
// model.
package model

import "time"

// LogRecord is one parsed log line. Immutable once produced.
type LogRecord struct {
	Timestamp time.Time
	Host      string
	Service   string
	QueueID   string // empty when absent
	Message   string
}

// HasQueueID reports whether the record carries a queue ID.
func (r LogRecord) HasQueueID() bool { return r.QueueID != "" }

// EventKind classifies a MailEvent.
type EventKind string

const (
	EventReceive EventKind = "RECEIVE"
	EventConnect EventKind = "CONNECT"
	EventForward EventKind = "FORWARD"
	EventDeliver EventKind = "DELIVER"
	EventOther   EventKind = "OTHER"
)

// MailEvent is a LogRecord classified by the event extractor, plus the
// fields pulled out of its message text.
type MailEvent struct {
	Kind    EventKind
	Record  LogRecord
	Host    string
	QueueID string

	PeerHost      string // CONNECT
	MessageID     string // RECEIVE
	NextHost      string // FORWARD / DELIVER: relay=
	PeerQueueID   string // RECEIVE: upstream queue id referenced in the receive line
	DeliveryState string // DELIVER: sent, bounced, deferred
}

// MailHop is a directed edge (from_host, to_host, queue_id). The queue_id
// is the ID used on from_host when handing off to to_host.
type MailHop struct {
	FromHost string
	ToHost   string
	QueueID  string
}

// MailGraph is an insertion-ordered directed multigraph of MailHop edges,
// deduplicated by (from_host, to_host, queue_id) triple-equality. Nodes
// are host names, tracked in order of first mention. Mutated only by the
// tracer; not safe for concurrent use without external locking (callers
// serialize insertion through a single owner, per spec §5).
type MailGraph struct {
	nodes    []string
	nodeSeen map[string]bool
	edges    []MailHop
	edgeSeen map[MailHop]bool
}

// NewMailGraph returns an empty graph.
func NewMailGraph() *MailGraph {
	return &MailGraph{
		nodeSeen: make(map[string]bool),
		edgeSeen: make(map[MailHop]bool),
	}
}

// AddNode registers a host as a graph node if not already present.
func (g *MailGraph) AddNode(host string) {
	if host == "" || g.nodeSeen[host] {
		return
	}
	g.nodeSeen[host] = true
	g.nodes = append(g.nodes, host)
}

// AddHop inserts a MailHop, first registering its endpoints as nodes.
// Duplicate hops (identical triple) are suppressed; it reports whether a
// new edge was actually added.
func (g *MailGraph) AddHop(hop MailHop) bool {
	g.AddNode(hop.FromHost)
	g.AddNode(hop.ToHost)
	if g.edgeSeen[hop] {
		return false
	}
	g.edgeSeen[hop] = true
	g.edges = append(g.edges, hop)
	return true
}

// Nodes returns hosts in order of first mention.
func (g *MailGraph) Nodes() []string {
	out := make([]string, len(g.nodes))
	copy(out, g.nodes)
	return out
}

// Edges returns hops in insertion order, duplicates already suppressed.
func (g *MailGraph) Edges() []MailHop {
	out := make([]MailHop, len(g.edges))
	copy(out, g.edges)
	return out
}

// Empty reports whether the graph has no nodes at all.
func (g *MailGraph) Empty() bool { return len(g.nodes) == 0 }

// TraceState is the continuous pipeline's per-message-ID buffer.
type TraceState struct {
	MessageID      string
	FirstSeen      time.Time
	LastSeen       time.Time
	Hosts          map[string]bool
	Records        []LogRecord
	RoundsSinceNew int

	dedup map[recordKey]bool
}

type recordKey struct {
	ts      time.Time
	host    string
	message string
}

// NewTraceState creates an empty TraceState for messageID.
func NewTraceState(messageID string) *TraceState {
	return &TraceState{
		MessageID: messageID,
		Hosts:     make(map[string]bool),
		dedup:     make(map[recordKey]bool),
	}
}

// AddRecord appends r if not a duplicate of one already buffered
// (deduplication key: timestamp, host, message). Reports whether the
// record was newly added, which drives the rounds_since_new reset in
// spec §4.5.
func (t *TraceState) AddRecord(r LogRecord) bool {
	key := recordKey{ts: r.Timestamp, host: r.Host, message: r.Message}
	if t.dedup[key] {
		return false
	}
	t.dedup[key] = true
	t.Records = append(t.Records, r)
	t.Hosts[r.Host] = true

	if t.FirstSeen.IsZero() || r.Timestamp.Before(t.FirstSeen) {
		t.FirstSeen = r.Timestamp
	}
	if r.Timestamp.After(t.LastSeen) {
		t.LastSeen = r.Timestamp
	}
	return true
}

// ReadyToFlush reports whether holdRounds consecutive quiescent rounds
// have elapsed. holdRounds == 0 means flush immediately.
func (t *TraceState) ReadyToFlush(holdRounds int) bool {
	return t.RoundsSinceNew >= holdRounds
}
