// Package otelspan exports completed traces from the continuous pipeline
// as OTLP spans, generalizing the teacher's single global tracer
// (pkg/tracing.TracingManager) into one TracerProvider per host and an
// OTLP/gRPC exporter instead of OTLP/HTTP. Trace and span IDs are
// derived deterministically from the message ID and queue ID rather
// than randomly generated, so re-exporting the same trace (e.g. after a
// pipeline restart) produces the same IDs.
package otelspan

import (
	"context"
	"crypto/sha256"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	oteltrace "go.opentelemetry.io/otel/trace"

	"mailtrace/internal/model"
)

// traceIDFromSeed derives a 128-bit trace ID from the first 16 bytes of
// sha256(seed), per the tracing pipeline's deterministic-ID design.
func traceIDFromSeed(seed string) oteltrace.TraceID {
	sum := sha256.Sum256([]byte(seed))
	var id oteltrace.TraceID
	copy(id[:], sum[:16])
	return id
}

// spanIDFromSeed derives a 64-bit span ID from the first 8 bytes of
// sha256(seed).
func spanIDFromSeed(seed string) oteltrace.SpanID {
	sum := sha256.Sum256([]byte(seed))
	var id oteltrace.SpanID
	copy(id[:], sum[:8])
	return id
}

type seeds struct {
	traceSeed string
	spanSeed  string
}

type seedKey struct{}

func withSeed(ctx context.Context, traceSeed, spanSeed string) context.Context {
	return context.WithValue(ctx, seedKey{}, seeds{traceSeed: traceSeed, spanSeed: spanSeed})
}

// deterministicIDGenerator implements sdktrace.IDGenerator by reading the
// seed stashed in context via withSeed, instead of drawing random bytes.
type deterministicIDGenerator struct{}

func (deterministicIDGenerator) NewIDs(ctx context.Context) (oteltrace.TraceID, oteltrace.SpanID) {
	s, _ := ctx.Value(seedKey{}).(seeds)
	return traceIDFromSeed(s.traceSeed), spanIDFromSeed(s.spanSeed)
}

func (deterministicIDGenerator) NewSpanID(ctx context.Context, _ oteltrace.TraceID) oteltrace.SpanID {
	s, _ := ctx.Value(seedKey{}).(seeds)
	return spanIDFromSeed(s.spanSeed)
}

// Manager owns one TracerProvider per host, lazily built, each exporting
// via OTLP/gRPC to the same collector endpoint. Per-host providers let
// resource attributes (host) be set once at provider construction rather
// than repeated on every span.
type Manager struct {
	endpoint string
	insecure bool
	logger   *logrus.Logger

	mu        sync.Mutex
	providers map[string]*sdktrace.TracerProvider
}

// NewManager builds a Manager targeting the given OTLP/gRPC collector
// endpoint (host:port, no scheme).
func NewManager(endpoint string, insecure bool, logger *logrus.Logger) *Manager {
	return &Manager{
		endpoint:  endpoint,
		insecure:  insecure,
		logger:    logger,
		providers: make(map[string]*sdktrace.TracerProvider),
	}
}

func (m *Manager) providerFor(ctx context.Context, host string) (*sdktrace.TracerProvider, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if p, ok := m.providers[host]; ok {
		return p, nil
	}

	opts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(m.endpoint)}
	if m.insecure {
		opts = append(opts, otlptracegrpc.WithInsecure())
	}
	exporter, err := otlptrace.New(ctx, otlptracegrpc.NewClient(opts...))
	if err != nil {
		return nil, err
	}

	res, err := resource.Merge(
		resource.Default(),
		resource.NewSchemaless(
			semconv.ServiceName("mailtrace"),
			attribute.String("mailtrace.host", host),
		),
	)
	if err != nil {
		return nil, err
	}

	provider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithIDGenerator(deterministicIDGenerator{}),
	)
	m.providers[host] = provider
	return provider, nil
}

// spanKey identifies one (host, queue_id) pair, the unit spec §4.5's span
// topology is built from. A host visited more than once under the same
// message (distinct queue IDs, e.g. the daemon-rewrite alias case from
// §9) gets one span per queue ID rather than being collapsed into one.
type spanKey struct {
	host    string
	queueID string
}

// spanSummary aggregates one (host, queue_id) pair's share of a
// TraceState into the attributes, timing, and parent link a span needs.
// parent is nil for a span with no identified upstream hop (a root).
type spanSummary struct {
	key        spanKey
	firstSeen  time.Time
	lastSeen   time.Time
	eventCount map[model.EventKind]int
	finalState string
	parent     *spanKey
}

// summarizeSpans builds one spanSummary per (host, queue_id) pair seen in
// ts, and wires parent links from FORWARD events: a FORWARD event at
// (host, queue_id) pointing at NextHost is joined to the span on
// NextHost whose RECEIVE event references queue_id as its PeerQueueID
// (the embedded-ID join spec §4.3/§9 describes). When no RECEIVE event
// on NextHost names queue_id explicitly but exactly one span exists
// there, the hop is joined to it directly; otherwise the downstream span
// is left parentless rather than guessed at.
func summarizeSpans(ts *model.TraceState, events map[string][]model.MailEvent) []*spanSummary {
	bySpan := make(map[spanKey]*spanSummary)
	var order []spanKey

	for _, r := range ts.Records {
		k := spanKey{host: r.Host, queueID: r.QueueID}
		s, ok := bySpan[k]
		if !ok {
			s = &spanSummary{key: k, eventCount: make(map[model.EventKind]int)}
			bySpan[k] = s
			order = append(order, k)
		}
		if s.firstSeen.IsZero() || r.Timestamp.Before(s.firstSeen) {
			s.firstSeen = r.Timestamp
		}
		if r.Timestamp.After(s.lastSeen) {
			s.lastSeen = r.Timestamp
		}
	}

	// receivedBy indexes, for each upstream queue ID a RECEIVE event
	// names as its peer, the (host, queue_id) span that saw it.
	receivedBy := make(map[string][]spanKey)
	for host, evs := range events {
		for _, ev := range evs {
			k := spanKey{host: host, queueID: ev.QueueID}
			if s, ok := bySpan[k]; ok {
				s.eventCount[ev.Kind]++
				if ev.Kind == model.EventDeliver && ev.DeliveryState != "" {
					s.finalState = ev.DeliveryState
				}
			}
			if ev.Kind == model.EventReceive && ev.PeerQueueID != "" {
				receivedBy[ev.PeerQueueID] = append(receivedBy[ev.PeerQueueID], k)
			}
		}
	}

	for host, evs := range events {
		for _, ev := range evs {
			if ev.Kind != model.EventForward || ev.NextHost == "" {
				continue
			}
			parentKey := spanKey{host: host, queueID: ev.QueueID}
			if child := findChildSpan(bySpan, receivedBy, parentKey, ev.NextHost); child != nil {
				pk := parentKey
				child.parent = &pk
			}
		}
	}

	sort.Slice(order, func(i, j int) bool {
		return bySpan[order[i]].firstSeen.Before(bySpan[order[j]].firstSeen)
	})

	out := make([]*spanSummary, 0, len(order))
	for _, k := range order {
		out = append(out, bySpan[k])
	}
	return out
}

// findChildSpan locates the span on nextHost that received parent's
// queue ID, falling back to nextHost's lone span when the join can't be
// made explicit (no matching RECEIVE event was classified).
func findChildSpan(bySpan map[spanKey]*spanSummary, receivedBy map[string][]spanKey, parent spanKey, nextHost string) *spanSummary {
	for _, k := range receivedBy[parent.queueID] {
		if k.host == nextHost {
			return bySpan[k]
		}
	}
	var candidate *spanSummary
	count := 0
	for k, s := range bySpan {
		if k.host == nextHost {
			candidate = s
			count++
		}
	}
	if count == 1 {
		return candidate
	}
	return nil
}

// Export renders a completed TraceState as one root span (seeded by
// message ID) plus one span per (host, queue_id) pair, per spec §4.5's
// span topology: each span's parent is the upstream hop that forwarded
// into it, and a span with no identified parent attaches directly under
// the synthetic root. Spans are created in ascending first-seen order,
// which is also hop order (a FORWARD line is always logged before the
// downstream RECEIVE it produces), so a span's parent context is always
// already built by the time the span itself is started. originHost
// selects which per-host TracerProvider exports the trace; the
// continuous pipeline passes the trace's starting host.
func (m *Manager) Export(ctx context.Context, originHost string, ts *model.TraceState, events map[string][]model.MailEvent) error {
	provider, err := m.providerFor(ctx, originHost)
	if err != nil {
		return err
	}
	tracer := provider.Tracer("mailtrace/tracer")

	rootSeed := "trace:" + ts.MessageID
	rootCtx := withSeed(ctx, rootSeed, rootSeed+":root")
	rootCtx, root := tracer.Start(rootCtx, "mail.trace",
		oteltrace.WithTimestamp(ts.FirstSeen))
	root.SetAttributes(
		attribute.String("mailtrace.message_id", ts.MessageID),
		attribute.Int("mailtrace.record_count", len(ts.Records)),
		attribute.Int("mailtrace.host_count", len(ts.Hosts)),
	)

	spanCtx := make(map[spanKey]context.Context)
	for _, s := range summarizeSpans(ts, events) {
		parentCtx := rootCtx
		if s.parent != nil {
			if pc, ok := spanCtx[*s.parent]; ok {
				parentCtx = pc
			}
		}

		seed := rootSeed + ":" + s.key.host + ":" + s.key.queueID
		hostCtx := withSeed(parentCtx, rootSeed, seed)
		childCtx, span := tracer.Start(hostCtx, "mail.hop", oteltrace.WithTimestamp(s.firstSeen))

		attrs := []attribute.KeyValue{
			attribute.String("mailtrace.host", s.key.host),
			attribute.String("mailtrace.queue_id", s.key.queueID),
		}
		for kind, count := range s.eventCount {
			attrs = append(attrs, attribute.Int("mailtrace.events."+string(kind), count))
		}
		if s.finalState != "" {
			attrs = append(attrs, attribute.String("mailtrace.final_status", s.finalState))
		}
		span.SetAttributes(attrs...)
		span.End(oteltrace.WithTimestamp(s.lastSeen))

		spanCtx[s.key] = childCtx
	}

	root.End(oteltrace.WithTimestamp(ts.LastSeen))
	return nil
}

// Shutdown flushes and closes every per-host TracerProvider. Callers
// should invoke this once, on pipeline shutdown.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var firstErr error
	for _, p := range m.providers {
		if err := p.Shutdown(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
