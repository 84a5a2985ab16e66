package tracer

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mailtrace/internal/model"
	"mailtrace/pkg/errors"
	"mailtrace/pkg/workerpool"
)

type fakeAggregator struct {
	mu    sync.Mutex
	byKey map[string][]model.LogRecord // "host\x00keyword"
	calls []string
}

func (f *fakeAggregator) Query(ctx context.Context, host string, keywords []string, windowStart, windowEnd time.Time) ([]model.LogRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := host
	if len(keywords) > 0 {
		key = host + "\x00" + keywords[0]
	}
	f.calls = append(f.calls, key)
	return f.byKey[key], nil
}

func rec(host, queueID, message string) model.LogRecord {
	return model.LogRecord{Timestamp: time.Now(), Host: host, QueueID: queueID, Message: message}
}

func TestTracerFollowsForwardHopAcrossHosts(t *testing.T) {
	agg := &fakeAggregator{byKey: map[string][]model.LogRecord{
		"mx\x00trace-1": {
			rec("mx", "ABC123", "message-id=<x@y>"),
			rec("mx", "ABC123", "to=<u@v>, relay=mailer.example.com[10.0.0.2]:25, status=sent"),
		},
		"mailer.example.com\x00ABC123": {
			rec("mailer.example.com", "DEF456", "to=<u@v>, relay=local, status=sent"),
		},
	}}

	tr := New(agg, nil, workerpool.New(workerpool.DefaultConfig(), nil), nil)
	g, err := tr.Trace(context.Background(), "trace-1", "mx", time.Now().Add(-time.Hour), time.Now())
	require.NoError(t, err)

	assert.Equal(t, []string{"mx", "mailer.example.com"}, g.Nodes())
	require.Len(t, g.Edges(), 1)
	assert.Equal(t, model.MailHop{FromHost: "mx", ToHost: "mailer.example.com", QueueID: "ABC123"}, g.Edges()[0])
}

func TestTracerEmptyFrontierReturnsEmptyGraph(t *testing.T) {
	agg := &fakeAggregator{byKey: map[string][]model.LogRecord{}}
	tr := New(agg, nil, workerpool.New(workerpool.DefaultConfig(), nil), nil)
	g, err := tr.Trace(context.Background(), "trace-1", "mx", time.Now().Add(-time.Hour), time.Now())
	require.NoError(t, err)
	assert.True(t, g.Empty())
}

type clusterMap map[string][]string

func (c clusterMap) ClusterMembers(alias string) ([]string, bool) {
	members, ok := c[alias]
	return members, ok
}

func TestTracerFansOutClusterAliasToMembers(t *testing.T) {
	agg := &fakeAggregator{byKey: map[string][]model.LogRecord{
		"mx1\x00trace-1": {rec("mx1", "Q1", "message-id=<x@y>")},
		"mx2\x00trace-1": {rec("mx2", "Q2", "message-id=<x@y>")},
	}}
	clusters := clusterMap{"mxcluster": {"mx1", "mx2"}}

	tr := New(agg, clusters, workerpool.New(workerpool.DefaultConfig(), nil), nil)
	g, err := tr.Trace(context.Background(), "trace-1", "mxcluster", time.Now().Add(-time.Hour), time.Now())
	require.NoError(t, err)

	assert.ElementsMatch(t, []string{"mx1", "mx2"}, g.Nodes())
}

type cycleAggregator struct{}

func (cycleAggregator) Query(ctx context.Context, host string, keywords []string, windowStart, windowEnd time.Time) ([]model.LogRecord, error) {
	if host == "a" {
		return []model.LogRecord{rec("a", "Q1", "to=<u@v>, relay=b[1.1.1.1]:25, status=sent")}, nil
	}
	return []model.LogRecord{rec("b", "Q1", "to=<u@v>, relay=a[1.1.1.1]:25, status=sent")}, nil
}

func TestTracerCycleGuardTerminates(t *testing.T) {
	tr := New(cycleAggregator{}, nil, workerpool.New(workerpool.DefaultConfig(), nil), nil)

	done := make(chan struct{})
	var g *model.MailGraph
	go func() {
		g, _ = tr.Trace(context.Background(), "trace-1", "a", time.Now().Add(-time.Hour), time.Now())
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("tracer did not terminate on a host/queue-id cycle")
	}

	require.Len(t, g.Edges(), 2)
}

type erroringAggregator struct{}

func (erroringAggregator) Query(ctx context.Context, host string, keywords []string, windowStart, windowEnd time.Time) ([]model.LogRecord, error) {
	if host == "bad" {
		return nil, errors.AggregatorError("query", "connection refused")
	}
	return []model.LogRecord{
		rec("good", "Q1", "to=<u@v>, relay=bad[1.1.1.1]:25, status=sent"),
	}, nil
}

func TestTracerSkipsHostOnAggregatorErrorAndContinues(t *testing.T) {
	tr := New(erroringAggregator{}, nil, workerpool.New(workerpool.DefaultConfig(), nil), nil)
	g, err := tr.Trace(context.Background(), "trace-1", "good", time.Now().Add(-time.Hour), time.Now())
	require.NoError(t, err)

	assert.ElementsMatch(t, []string{"good", "bad"}, g.Nodes())
	require.Len(t, g.Edges(), 1)
}
