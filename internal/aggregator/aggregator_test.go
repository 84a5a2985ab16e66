package aggregator

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"mailtrace/internal/model"
)

func TestFilterAndSortEnforcesWindow(t *testing.T) {
	base := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	recs := []model.LogRecord{
		{Timestamp: base.Add(-time.Hour), Message: "keep me out"},
		{Timestamp: base, Message: "inside window"},
		{Timestamp: base.Add(time.Hour), Message: "too late"},
	}
	out := filterAndSort(recs, nil, base.Add(-time.Minute), base.Add(time.Minute))
	assert.Len(t, out, 1)
	assert.Equal(t, "inside window", out[0].Message)
}

func TestFilterAndSortEnforcesKeywordSubstring(t *testing.T) {
	base := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	recs := []model.LogRecord{
		{Timestamp: base, Message: "mentions ABC123"},
		{Timestamp: base, Message: "unrelated"},
	}
	out := filterAndSort(recs, []string{"ABC123"}, base.Add(-time.Hour), base.Add(time.Hour))
	assert.Len(t, out, 1)
	assert.Contains(t, out[0].Message, "ABC123")
}

func TestFilterAndSortMatchesQueueIDKeyword(t *testing.T) {
	base := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	recs := []model.LogRecord{
		{Timestamp: base, QueueID: "ABC123", Message: "relay=mx2.example.com[10.0.0.2]:25, status=sent"},
		{Timestamp: base, QueueID: "XYZ999", Message: "unrelated"},
	}
	out := filterAndSort(recs, []string{"ABC123"}, base.Add(-time.Hour), base.Add(time.Hour))
	assert.Len(t, out, 1)
	assert.Equal(t, "ABC123", out[0].QueueID)
}

func TestFilterAndSortOrdersAscending(t *testing.T) {
	base := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	recs := []model.LogRecord{
		{Timestamp: base.Add(2 * time.Minute), Message: "second"},
		{Timestamp: base, Message: "first"},
	}
	out := filterAndSort(recs, nil, base.Add(-time.Hour), base.Add(time.Hour))
	assert.Equal(t, "first", out[0].Message)
	assert.Equal(t, "second", out[1].Message)
}

func TestMatchesKeywordsEmptyMatchesAll(t *testing.T) {
	assert.True(t, matchesKeywords(model.LogRecord{Message: "anything at all"}, nil))
}

func TestMatchesKeywordsMatchesQueueIDWhenMessageHasBeenStripped(t *testing.T) {
	r := model.LogRecord{QueueID: "ABC123", Message: "relay=mx2.example.com[10.0.0.2]:25, status=sent"}
	assert.True(t, matchesKeywords(r, []string{"ABC123"}))
	assert.False(t, matchesKeywords(r, []string{"NOMATCH"}))
}
