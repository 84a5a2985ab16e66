// Package tracer implements the hop-following tracer from spec §4.4: the
// recursive, cross-host walk that follows a mail as it hops between
// relays, joining queue IDs via intermediate log lines into a MailGraph.
package tracer

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"mailtrace/internal/aggregator"
	"mailtrace/internal/extractor"
	"mailtrace/internal/model"
	"mailtrace/pkg/errors"
	"mailtrace/pkg/workerpool"
)

// ClusterResolver reports the physical hosts behind a cluster alias. A
// host not found is a physical host, not an alias.
type ClusterResolver interface {
	ClusterMembers(alias string) ([]string, bool)
}

// Tracer walks the mail flow from a starting host/keyword pair,
// discovering hops by recursively querying each visited host's
// aggregator and classifying the records it returns.
type Tracer struct {
	agg      aggregator.Aggregator
	clusters ClusterResolver
	pool     *workerpool.Pool
	logger   *logrus.Logger
}

// New builds a Tracer. pool bounds concurrent aggregator.Query calls
// across the whole walk, per spec §5's recommended worker-pool model.
func New(agg aggregator.Aggregator, clusters ClusterResolver, pool *workerpool.Pool, logger *logrus.Logger) *Tracer {
	if pool == nil {
		pool = workerpool.New(workerpool.DefaultConfig(), logger)
	}
	return &Tracer{agg: agg, clusters: clusters, pool: pool, logger: logger}
}

// run holds the single-owner shared state for one Trace call: the
// visited-set cycle guard, the graph, and alias bookkeeping for the
// daemon-rewritten-queue-ID open question. All three are guarded by mu,
// per spec §5's shared-resource policy.
type run struct {
	mu      sync.Mutex
	visited map[string]bool
	graph   *model.MailGraph
	aliases map[string]map[string]string // host -> upstream-referenced ID -> canonical ID
}

type visitKey struct {
	host    string
	queueID string
}

func (k visitKey) String() string { return k.host + "\x00" + k.queueID }

// Trace walks the mail flow starting at (startHost, traceID) within
// [windowStart, windowEnd], returning the discovered MailGraph. A walk
// that finds no queue IDs returns an empty (not nil, not errored) graph,
// per spec §4.4.
func (t *Tracer) Trace(ctx context.Context, traceID, startHost string, windowStart, windowEnd time.Time) (*model.MailGraph, error) {
	r := &run{
		visited: make(map[string]bool),
		graph:   model.NewMailGraph(),
		aliases: make(map[string]map[string]string),
	}

	hosts := t.resolveStartHosts(startHost)

	// Cluster-member fan-out (spec §4.4 step 3): the known, fixed set of
	// physical hosts behind a cluster alias is queried concurrently via
	// errgroup. The unbounded recursive walk below uses a plain
	// WaitGroup instead, since its goroutine count grows dynamically as
	// hops are discovered.
	g, gctx := errgroup.WithContext(ctx)
	for _, h := range hosts {
		host := h
		g.Go(func() error {
			t.walk(gctx, r, host, []string{traceID}, windowStart, windowEnd)
			return nil
		})
	}
	_ = g.Wait()

	return r.graph, nil
}

// resolveStartHosts implements spec §4.4 step 3 / §9's cluster-member
// resolution: a start host that is a configured cluster alias fans out
// to its physical members; a physical host name does not.
func (t *Tracer) resolveStartHosts(startHost string) []string {
	if t.clusters == nil {
		return []string{startHost}
	}
	if members, ok := t.clusters.ClusterMembers(startHost); ok {
		out := make([]string, len(members))
		copy(out, members)
		return out
	}
	return []string{startHost}
}

// walk queries host for keywords, classifies the result by queue ID, and
// recurses into each FORWARD hop's next host. Per-host aggregator errors
// are logged and this branch of the walk terminates without aborting
// siblings, per spec §4.4/§7.
func (t *Tracer) walk(ctx context.Context, r *run, host string, keywords []string, windowStart, windowEnd time.Time) {
	var records []model.LogRecord
	err := t.pool.Run(ctx, workerpool.Task{
		ID: "query:" + host,
		Execute: func(ctx context.Context) error {
			recs, err := t.agg.Query(ctx, host, keywords, windowStart, windowEnd)
			records = recs
			return err
		},
	})
	if err != nil {
		t.logSkip(host, err)
		return
	}

	groups, _ := extractor.GroupByQueueID(records)

	var wg sync.WaitGroup
	for queueID, groupRecords := range groups {
		key := visitKey{host: host, queueID: queueID}.String()

		r.mu.Lock()
		if r.visited[key] {
			r.mu.Unlock()
			continue
		}
		r.visited[key] = true
		r.graph.AddNode(host)
		r.mu.Unlock()

		for _, ev := range extractor.ClassifyAll(groupRecords) {
			t.recordAlias(r, host, queueID, ev)

			if ev.Kind != model.EventForward || ev.NextHost == "" {
				continue
			}

			hop := model.MailHop{FromHost: host, ToHost: ev.NextHost, QueueID: queueID}
			r.mu.Lock()
			r.graph.AddHop(hop)
			r.mu.Unlock()

			nextHost := ev.NextHost
			wg.Add(1)
			go func() {
				defer wg.Done()
				t.walk(ctx, r, nextHost, []string{queueID}, windowStart, windowEnd)
			}()
		}
	}
	wg.Wait()
}

// recordAlias resolves the Open Question in spec §9: when a RECEIVE
// event on host references an upstream queue ID distinct from its own
// (a daemon rename between receive and forward on the same host), both
// IDs are recorded as aliases of the same host node. The later ID
// (queueID, the one this host assigned) is the one already used for any
// outbound FORWARD hop by the walk above.
func (t *Tracer) recordAlias(r *run, host, queueID string, ev model.MailEvent) {
	if ev.Kind != model.EventReceive || ev.PeerQueueID == "" || ev.PeerQueueID == queueID {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.aliases[host] == nil {
		r.aliases[host] = make(map[string]string)
	}
	r.aliases[host][ev.PeerQueueID] = queueID
}

func (t *Tracer) logSkip(host string, err error) {
	if t.logger == nil {
		return
	}
	fields := logrus.Fields{"component": "tracer", "host": host}
	if ae, ok := errors.As(err); ok {
		for k, v := range ae.ToFields() {
			fields[k] = v
		}
	}
	t.logger.WithFields(fields).WithError(err).Warn("skipping host after aggregator error")
}
