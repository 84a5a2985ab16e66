package extractor

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"mailtrace/internal/model"
)

func rec(host, queueID, message string) model.LogRecord {
	return model.LogRecord{Host: host, QueueID: queueID, Message: message, Service: "postfix/smtp"}
}

func TestClassifyConnect(t *testing.T) {
	ev := Classify(rec("mailer.example.com", "DEF456", "client=mx.example.com[10.0.0.1]"))
	assert.Equal(t, model.EventConnect, ev.Kind)
	assert.Equal(t, "mx.example.com", ev.PeerHost)
}

func TestClassifyReceiveWithMessageID(t *testing.T) {
	ev := Classify(rec("mx.example.com", "ABC123", "message-id=<x@y>"))
	assert.Equal(t, model.EventReceive, ev.Kind)
	assert.Equal(t, "x@y", ev.MessageID)
}

func TestClassifyReceiveWithEmbeddedPeerQueueID(t *testing.T) {
	ev := Classify(rec("mailer.example.com", "DEF456", "message-id=<x@y> (received by mailer.example.com with id ABC123DEF)"))
	assert.Equal(t, model.EventReceive, ev.Kind)
	assert.Equal(t, "ABC123DEF", ev.PeerQueueID)
}

func TestClassifyForward(t *testing.T) {
	ev := Classify(rec("mx.example.com", "ABC123", "to=<u@v>, relay=mailer.example.com[10.0.0.2]:25, status=sent"))
	assert.Equal(t, model.EventForward, ev.Kind)
	assert.Equal(t, "mailer.example.com", ev.NextHost)
}

func TestClassifyDeliverLocal(t *testing.T) {
	ev := Classify(rec("mailer.example.com", "DEF456", "to=<u@v>, relay=local, status=sent"))
	assert.Equal(t, model.EventDeliver, ev.Kind)
	assert.Equal(t, "sent", ev.DeliveryState)
}

func TestClassifyDeliverBounced(t *testing.T) {
	ev := Classify(rec("mailer.example.com", "DEF456", "to=<u@v>, status=bounced"))
	assert.Equal(t, model.EventDeliver, ev.Kind)
	assert.Equal(t, "bounced", ev.DeliveryState)
}

func TestClassifyOther(t *testing.T) {
	ev := Classify(rec("mx.example.com", "ABC123", "some unrelated text"))
	assert.Equal(t, model.EventOther, ev.Kind)
}

func TestGroupByQueueID(t *testing.T) {
	recs := []model.LogRecord{
		rec("mx.example.com", "ABC123", "message-id=<x@y>"),
		rec("mx.example.com", "", "unrelated noise"),
		rec("mx.example.com", "ABC123", "relay=mailer.example.com[10.0.0.2]:25, status=sent"),
	}
	groups, contextOnly := GroupByQueueID(recs)
	assert.Len(t, groups["ABC123"], 2)
	assert.Len(t, contextOnly, 1)
}
