// Package pipeline implements the continuous tracing pipeline from spec
// §4.5: a round driver that repeatedly sweeps a sliding log window,
// follows hops the same way the one-shot tracer does, buffers records
// per message ID until the trace goes quiet, and exports each completed
// trace as OTLP spans.
package pipeline

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"mailtrace/internal/aggregator"
	"mailtrace/internal/config"
	"mailtrace/internal/extractor"
	"mailtrace/internal/model"
	"mailtrace/internal/otelspan"
	"mailtrace/pkg/errors"
	"mailtrace/pkg/workerpool"
)

// ClusterResolver reports the physical hosts behind a cluster alias. A
// host not found is a physical host, not an alias. Satisfied by
// *config.Config.
type ClusterResolver interface {
	ClusterMembers(alias string) ([]string, bool)
}

// Pipeline runs the continuous sweep-buffer-flush loop against one start
// host (or cluster alias).
type Pipeline struct {
	agg       aggregator.Aggregator
	clusters  ClusterResolver
	exporter  *otelspan.Manager
	pool      *workerpool.Pool
	startHost string
	cfg       config.TracingConfig
	logger    *logrus.Logger
	now       func() time.Time

	mu             sync.Mutex
	states         map[string]*model.TraceState
	events         map[string]map[string][]model.MailEvent // messageID -> host -> events seen
	sawNewRound    map[string]bool
	queueMessageID map[string]string // host+"\x00"+queueID -> message_id, persisted across rounds
}

// New builds a Pipeline whose clock (the now field) is time.Now.
func New(agg aggregator.Aggregator, clusters ClusterResolver, exporter *otelspan.Manager, pool *workerpool.Pool, startHost string, cfg config.TracingConfig, logger *logrus.Logger) *Pipeline {
	if pool == nil {
		pool = workerpool.New(workerpool.DefaultConfig(), logger)
	}
	return &Pipeline{
		agg:            agg,
		clusters:       clusters,
		exporter:       exporter,
		pool:           pool,
		startHost:      startHost,
		cfg:            cfg,
		logger:         logger,
		now:            time.Now,
		states:         make(map[string]*model.TraceState),
		events:         make(map[string]map[string][]model.MailEvent),
		queueMessageID: make(map[string]string),
	}
}

// Run drives rounds until ctx is cancelled. On cancellation the current
// round's buffered traces are flushed (exported, regardless of
// quiescence) before Run returns, per spec §4.5's graceful-shutdown
// requirement.
func (p *Pipeline) Run(ctx context.Context) error {
	// Round 1's window is [now - sleep_seconds - go_back, now], per spec
	// §4.5: seeding windowEnd one sleep interval in the past makes the
	// loop body's windowStart := windowEnd.Add(-goBack) land there.
	windowEnd := p.now().Add(-p.cfg.SleepDuration())

	for {
		if ctx.Err() != nil {
			return p.flushAll(ctx)
		}

		windowStart := windowEnd.Add(-p.cfg.GoBackDuration())
		windowEnd = p.now()

		p.round(ctx, windowStart, windowEnd)

		select {
		case <-ctx.Done():
			return p.flushAll(ctx)
		case <-time.After(p.cfg.SleepDuration()):
		}
	}
}

// round runs one sweep-then-advance cycle: rediscover every active hop
// within [windowStart, windowEnd], buffer newly seen records, then apply
// the rounds_since_new bookkeeping and flush any trace that has gone
// quiet for hold_rounds consecutive rounds.
func (p *Pipeline) round(ctx context.Context, windowStart, windowEnd time.Time) {
	p.mu.Lock()
	p.sawNewRound = make(map[string]bool)
	p.mu.Unlock()

	visited := &visitedSet{seen: make(map[string]bool)}

	hosts := p.resolveStartHosts()
	var wg sync.WaitGroup
	for _, h := range hosts {
		wg.Add(1)
		host := h
		go func() {
			defer wg.Done()
			p.walk(ctx, visited, host, nil, "", windowStart, windowEnd)
		}()
	}
	wg.Wait()

	p.advanceRounds(ctx)
}

const (
	authRetryAttempts  = 3
	authRetryBaseDelay = 250 * time.Millisecond
)

// queryWithAuthRetry runs one bounded aggregator query, retrying with
// exponential backoff when the aggregator reports an AuthError, per spec
// §7: unlike AggregatorError (skip the host and move on), AuthError is
// retried inside the continuous pipeline rather than abandoning the hop
// on the first bad-credentials response. Any other error, or exhausting
// the retry budget, is returned to the caller for the usual skip-and-log
// handling.
func (p *Pipeline) queryWithAuthRetry(ctx context.Context, host string, keywords []string, windowStart, windowEnd time.Time) ([]model.LogRecord, error) {
	delay := authRetryBaseDelay
	var records []model.LogRecord
	var err error

	for attempt := 0; attempt < authRetryAttempts; attempt++ {
		records = nil
		err = p.pool.Run(ctx, workerpool.Task{
			ID: "sweep:" + host,
			Execute: func(ctx context.Context) error {
				recs, qerr := p.agg.Query(ctx, host, keywords, windowStart, windowEnd)
				records = recs
				return qerr
			},
		})

		ae, ok := errors.As(err)
		if !ok || ae.Kind != errors.KindAuth || attempt == authRetryAttempts-1 {
			return records, err
		}

		select {
		case <-ctx.Done():
			return records, err
		case <-time.After(delay):
		}
		delay *= 2
	}
	return records, err
}

type visitedSet struct {
	mu   sync.Mutex
	seen map[string]bool
}

func (v *visitedSet) markIfNew(key string) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.seen[key] {
		return false
	}
	v.seen[key] = true
	return true
}

func (p *Pipeline) resolveStartHosts() []string {
	if p.clusters != nil {
		if members, ok := p.clusters.ClusterMembers(p.startHost); ok {
			out := make([]string, len(members))
			copy(out, members)
			return out
		}
	}
	return []string{p.startHost}
}

// walk mirrors the one-shot tracer's hop-following walk, but buffers
// every record into this round's per-message-ID TraceState instead of
// building a MailGraph. A per-round (not per-pipeline) visited set keeps
// each sweep finite; hosts are revisited on every subsequent round so
// new records on an already-seen hop are still picked up. A group reached
// through a FORWARD hop that carries no message ID of its own is buffered
// under upstreamMessageID, the ID of the group that forwarded to it.
func (p *Pipeline) walk(ctx context.Context, visited *visitedSet, host string, keywords []string, upstreamMessageID string, windowStart, windowEnd time.Time) {
	records, err := p.queryWithAuthRetry(ctx, host, keywords, windowStart, windowEnd)
	if err != nil {
		p.logSkip(host, err)
		return
	}

	groups, _ := extractor.GroupByQueueID(records)

	var wg sync.WaitGroup
	for queueID, groupRecords := range groups {
		if !visited.markIfNew(host + "\x00" + queueID) {
			continue
		}

		events := extractor.ClassifyAll(groupRecords)
		messageID := p.resolveMessageID(host, queueID, events)
		if messageID == queueID && upstreamMessageID != "" {
			messageID = upstreamMessageID
		}
		p.buffer(messageID, host, queueID, groupRecords, events)

		for _, ev := range events {
			if ev.Kind != model.EventForward || ev.NextHost == "" {
				continue
			}
			nextHost := ev.NextHost
			wg.Add(1)
			go func() {
				defer wg.Done()
				p.walk(ctx, visited, nextHost, []string{queueID}, messageID, windowStart, windowEnd)
			}()
		}
	}
	wg.Wait()
}

// resolveMessageID joins a (host, queue_id) group to its message ID using
// RECEIVE events seen in this round or any prior buffered round, per
// spec §4.5. A RECEIVE event in the current round both answers the
// question and updates the persistent join for future rounds; absent
// that, a join recorded by an earlier round is reused; only when neither
// is available does the group fall back to buffering under its bare
// queue ID until a RECEIVE event eventually arrives.
func (p *Pipeline) resolveMessageID(host, queueID string, events []model.MailEvent) string {
	key := host + "\x00" + queueID

	p.mu.Lock()
	defer p.mu.Unlock()

	for _, ev := range events {
		if ev.Kind == model.EventReceive && ev.MessageID != "" {
			p.queueMessageID[key] = ev.MessageID
			return ev.MessageID
		}
	}
	if id, ok := p.queueMessageID[key]; ok {
		return id
	}
	return queueID
}

func (p *Pipeline) buffer(messageID, host, queueID string, records []model.LogRecord, events []model.MailEvent) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.migrateProvisional(messageID, queueID)

	state, ok := p.states[messageID]
	if !ok {
		state = model.NewTraceState(messageID)
		p.states[messageID] = state
	}
	if p.events[messageID] == nil {
		p.events[messageID] = make(map[string][]model.MailEvent)
	}

	newRecord := false
	for _, r := range records {
		if state.AddRecord(r) {
			newRecord = true
		}
	}
	if newRecord {
		p.sawNewRound[messageID] = true
		p.events[messageID][host] = append(p.events[messageID][host], events...)
	}
}

// migrateProvisional folds a trace buffered under its bare queue ID
// (before resolveMessageID could join it to a message ID) into the
// now-resolved message ID's trace, so a FORWARD/DELIVER group seen in an
// earlier round than its RECEIVE line ends up in one TraceState instead
// of being split across two. Caller holds p.mu.
func (p *Pipeline) migrateProvisional(messageID, queueID string) {
	if messageID == queueID {
		return
	}
	provisional, ok := p.states[queueID]
	if !ok {
		return
	}
	delete(p.states, queueID)

	target, ok := p.states[messageID]
	if !ok {
		provisional.MessageID = messageID
		p.states[messageID] = provisional
	} else {
		for _, r := range provisional.Records {
			if target.AddRecord(r) {
				p.sawNewRound[messageID] = true
			}
		}
		if provisional.RoundsSinceNew < target.RoundsSinceNew {
			target.RoundsSinceNew = provisional.RoundsSinceNew
		}
	}

	if evs, ok := p.events[queueID]; ok {
		delete(p.events, queueID)
		if p.events[messageID] == nil {
			p.events[messageID] = make(map[string][]model.MailEvent)
		}
		for h, es := range evs {
			p.events[messageID][h] = append(p.events[messageID][h], es...)
		}
	}
}

// advanceRounds applies the rounds_since_new increment/reset from spec
// §4.5 and flushes every trace that has been quiet for hold_rounds
// consecutive rounds.
func (p *Pipeline) advanceRounds(ctx context.Context) {
	p.mu.Lock()
	ready := make([]string, 0)
	for id, state := range p.states {
		if p.sawNewRound[id] {
			state.RoundsSinceNew = 0
		} else {
			state.RoundsSinceNew++
		}
		if state.ReadyToFlush(p.cfg.HoldRounds) {
			ready = append(ready, id)
		}
	}
	p.mu.Unlock()

	for _, id := range ready {
		p.flushOne(ctx, id)
	}
}

func (p *Pipeline) flushOne(ctx context.Context, messageID string) {
	p.mu.Lock()
	state, ok := p.states[messageID]
	hostEvents := p.events[messageID]
	if ok {
		delete(p.states, messageID)
		delete(p.events, messageID)
	}
	p.mu.Unlock()

	if !ok {
		return
	}
	p.export(ctx, state, hostEvents)
}

// flushAll exports every buffered trace unconditionally, used on
// cancellation so no in-flight trace is silently dropped.
func (p *Pipeline) flushAll(ctx context.Context) error {
	p.mu.Lock()
	ids := make([]string, 0, len(p.states))
	for id := range p.states {
		ids = append(ids, id)
	}
	p.mu.Unlock()

	for _, id := range ids {
		p.flushOne(ctx, id)
	}
	return nil
}

func (p *Pipeline) export(ctx context.Context, state *model.TraceState, hostEvents map[string][]model.MailEvent) {
	if p.exporter == nil {
		return
	}
	if err := p.exporter.Export(ctx, p.startHost, state, hostEvents); err != nil {
		if p.logger != nil {
			p.logger.WithFields(logrus.Fields{
				"component":  "pipeline",
				"message_id": state.MessageID,
			}).WithError(err).Warn("failed to export trace")
		}
	}
}

func (p *Pipeline) logSkip(host string, err error) {
	if p.logger == nil {
		return
	}
	fields := logrus.Fields{"component": "pipeline", "host": host}
	if ae, ok := errors.As(err); ok {
		for k, v := range ae.ToFields() {
			fields[k] = v
		}
	}
	p.logger.WithFields(fields).WithError(err).Warn("skipping host after aggregator error")
}
