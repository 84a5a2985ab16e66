package otelspan

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"mailtrace/internal/model"
)

func TestTraceIDFromSeedIsDeterministic(t *testing.T) {
	a := traceIDFromSeed("msg-1")
	b := traceIDFromSeed("msg-1")
	c := traceIDFromSeed("msg-2")

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
}

func TestSpanIDFromSeedIsDeterministic(t *testing.T) {
	a := spanIDFromSeed("mx:Q1")
	b := spanIDFromSeed("mx:Q1")
	c := spanIDFromSeed("mx:Q2")

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
}

func TestSummarizeSpansOrdersByFirstSeen(t *testing.T) {
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	ts := model.NewTraceState("msg-1")
	ts.AddRecord(model.LogRecord{Timestamp: base.Add(time.Minute), Host: "mailer", QueueID: "Q2", Message: "b"})
	ts.AddRecord(model.LogRecord{Timestamp: base, Host: "mx", QueueID: "Q1", Message: "a"})

	summaries := summarizeSpans(ts, nil)
	require.Len(t, summaries, 2)
	assert.Equal(t, spanKey{host: "mx", queueID: "Q1"}, summaries[0].key)
	assert.Equal(t, spanKey{host: "mailer", queueID: "Q2"}, summaries[1].key)
}

func TestSummarizeSpansKeepsDistinctQueueIDsOnSameHostSeparate(t *testing.T) {
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	ts := model.NewTraceState("msg-1")
	ts.AddRecord(model.LogRecord{Timestamp: base, Host: "mx", QueueID: "Q1", Message: "first pass"})
	ts.AddRecord(model.LogRecord{Timestamp: base.Add(time.Minute), Host: "mx", QueueID: "Q1ALIAS", Message: "second pass, same host"})

	summaries := summarizeSpans(ts, nil)
	require.Len(t, summaries, 2)
}

func TestSummarizeSpansWiresParentFromForwardAndReceiveJoin(t *testing.T) {
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	ts := model.NewTraceState("msg-1")
	ts.AddRecord(model.LogRecord{Timestamp: base, Host: "mx", QueueID: "Q1", Message: "forward"})
	ts.AddRecord(model.LogRecord{Timestamp: base.Add(time.Minute), Host: "mailer", QueueID: "Q2", Message: "receive"})

	events := map[string][]model.MailEvent{
		"mx":     {{Kind: model.EventForward, Host: "mx", QueueID: "Q1", NextHost: "mailer"}},
		"mailer": {{Kind: model.EventReceive, Host: "mailer", QueueID: "Q2", PeerQueueID: "Q1"}},
	}

	summaries := summarizeSpans(ts, events)
	require.Len(t, summaries, 2)

	byKey := make(map[spanKey]*spanSummary)
	for _, s := range summaries {
		byKey[s.key] = s
	}

	root := byKey[spanKey{host: "mx", queueID: "Q1"}]
	child := byKey[spanKey{host: "mailer", queueID: "Q2"}]
	require.Nil(t, root.parent)
	require.NotNil(t, child.parent)
	assert.Equal(t, root.key, *child.parent)
}

func TestDeterministicIDGeneratorUsesContextSeed(t *testing.T) {
	exporter := tracetest.NewInMemoryExporter()
	provider := sdktrace.NewTracerProvider(
		sdktrace.WithSyncer(exporter),
		sdktrace.WithIDGenerator(deterministicIDGenerator{}),
	)
	tracer := provider.Tracer("test")

	ctx := withSeed(context.Background(), "trace:msg-1", "trace:msg-1:root")
	_, span := tracer.Start(ctx, "mail.trace")
	span.End()

	require.NoError(t, provider.Shutdown(context.Background()))
	spans := exporter.GetSpans()
	require.Len(t, spans, 1)

	assert.Equal(t, traceIDFromSeed("trace:msg-1"), spans[0].SpanContext.TraceID())
	assert.Equal(t, spanIDFromSeed("trace:msg-1:root"), spans[0].SpanContext.SpanID())
}
