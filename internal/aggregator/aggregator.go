// Package aggregator implements the uniform log aggregator contract from
// spec §4.2: given (host, keywords, window), return a finite, fully
// materialized, ascending-timestamp sequence of model.LogRecord. Two
// concrete backends are provided — ShellAggregator (remote-shell log
// tailing) and IndexAggregator (OpenSearch) — chosen at config time by
// the "method" key, per the capability-set design in spec §9 (no
// inheritance chain, just one interface with tagged variants).
package aggregator

import (
	"context"
	"sort"
	"strings"
	"time"

	"mailtrace/internal/model"
)

// Aggregator is the one contract both backends implement.
//
//   - Every returned record satisfies windowStart <= timestamp <= windowEnd.
//   - Every returned record matches at least one keyword as a
//     case-sensitive substring of either its message or its queue ID. An
//     empty keyword slice matches everything (used by the continuous
//     pipeline's full-window sweep).
//   - Records are sorted ascending by timestamp, ties broken by the order
//     the backend returned them in.
//   - The result is fully materialized before return; no partial results
//     survive a mid-query failure.
type Aggregator interface {
	Query(ctx context.Context, host string, keywords []string, windowStart, windowEnd time.Time) ([]model.LogRecord, error)
}

// matchesKeywords reports whether r matches at least one keyword as a
// case-sensitive substring of its message or its queue ID. The queue ID
// is checked separately because parsing splits it out of the message
// text (internal/parser), so a hop query keyed on a queue ID (the
// tracer and pipeline recurse with keywords: []string{queueID}) would
// otherwise never match a line whose queue ID appears only as the
// leading token the host-side grep matched against. No keywords means
// "match everything."
func matchesKeywords(r model.LogRecord, keywords []string) bool {
	if len(keywords) == 0 {
		return true
	}
	for _, k := range keywords {
		if strings.Contains(r.Message, k) {
			return true
		}
		if r.QueueID != "" && strings.Contains(r.QueueID, k) {
			return true
		}
	}
	return false
}

// filterAndSort applies the window, keyword, and ordering guarantees
// common to both backends over a set of already-parsed candidate
// records. Backends call this after host-side filtering and
// client-side parsing to enforce the contract even when the backend's
// own filtering is approximate.
func filterAndSort(candidates []model.LogRecord, keywords []string, windowStart, windowEnd time.Time) []model.LogRecord {
	out := make([]model.LogRecord, 0, len(candidates))
	for _, r := range candidates {
		if r.Timestamp.Before(windowStart) || r.Timestamp.After(windowEnd) {
			continue
		}
		if !matchesKeywords(r, keywords) {
			continue
		}
		out = append(out, r)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Timestamp.Before(out[j].Timestamp)
	})
	return out
}
