package ably

import (
	"errors"
	"reflect"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	promtestutil "github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/Thejuampi/ably-client-go/ably/protocol"
)

func queued(name string) *protocol.ProtocolMessage {
	return &protocol.ProtocolMessage{Action: protocol.ActionMessage, Messages: []*protocol.Message{{Name: name}}}
}

func TestMessageQueueFlushSendsOncePerCycle(t *testing.T) {
	queue := newMessageQueue(nil)
	queue.enqueue(queued("a"), newResult())
	queue.enqueue(queued("b"), newResult())

	var sent []string
	var serial int64
	send := func(entry *queuedMessage) error {
		sent = append(sent, entry.message.Messages[0].Name)
		entry.sent = true
		entry.msgSerial = serial
		entry.sentCycle = 1
		serial++
		return nil
	}

	if err := queue.flush(1, send); err != nil {
		t.Fatalf("unexpected flush error: %v", err)
	}
	if err := queue.flush(1, send); err != nil {
		t.Fatalf("unexpected flush error: %v", err)
	}
	if !reflect.DeepEqual(sent, []string{"a", "b"}) {
		t.Fatalf("expected one send per entry, got %v", sent)
	}
	if unsent := queue.unsent(2); unsent != 2 {
		t.Fatalf("expected both entries unsent in a new cycle, got %d", unsent)
	}
}

func TestMessageQueueFlushStopsAtFirstFailure(t *testing.T) {
	queue := newMessageQueue(nil)
	queue.enqueue(queued("a"), newResult())
	queue.enqueue(queued("b"), newResult())

	calls := 0
	failure := errors.New("not connected")
	err := queue.flush(1, func(entry *queuedMessage) error {
		calls++
		return failure
	})
	if !errors.Is(err, failure) || calls != 1 {
		t.Fatalf("expected flush to stop after first failure, calls=%d err=%v", calls, err)
	}
	if queue.len() != 2 {
		t.Fatalf("expected entries retained, got %d", queue.len())
	}
}

func TestMessageQueueAcknowledgeOnlyMatchesSentEntries(t *testing.T) {
	queue := newMessageQueue(nil)
	unsentResult := newResult()
	sentResult := newResult()
	queue.enqueue(queued("unsent"), unsentResult)
	entry := queue.enqueue(queued("sent"), sentResult)
	entry.sent = true
	entry.msgSerial = 0

	if !queue.acknowledge(0, 0, nil) {
		t.Fatalf("expected serial 0 acknowledged")
	}
	if err := waitResult(t, sentResult); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	assertPending(t, unsentResult)
	if queue.acknowledge(0, 0, nil) {
		t.Fatalf("expected second ack ignored")
	}
}

func TestMessageQueueAcknowledgeIgnoresEarlierGeneration(t *testing.T) {
	queue := newMessageQueue(nil)
	result := newResult()
	entry := queue.enqueue(queued("stale"), result)
	entry.sent = true
	entry.generation = 1
	entry.msgSerial = 3

	if queue.acknowledge(2, 3, nil) {
		t.Fatalf("expected ack of a later connection to skip the stale entry")
	}
	assertPending(t, result)
	if !queue.acknowledge(1, 3, nil) {
		t.Fatalf("expected ack on the entry's own connection to match")
	}
}

func TestMessageQueueFailAllResolvesInOrder(t *testing.T) {
	gauge := prometheus.NewGauge(prometheus.GaugeOpts{Name: "test_queued"})
	queue := newMessageQueue(gauge)

	var order []string
	for _, name := range []string{"a", "b", "c"} {
		entry := queue.enqueue(queued(name), newResult())
		entry.onResolve = func(err error) {
			order = append(order, name)
		}
	}
	if value := promtestutil.ToFloat64(gauge); value != 3 {
		t.Fatalf("expected gauge 3, got %v", value)
	}

	failure := NewError(KindState, CodeChannelDetached, "detached")
	if count := queue.failAll(failure); count != 3 {
		t.Fatalf("expected 3 failed, got %d", count)
	}
	if !reflect.DeepEqual(order, []string{"a", "b", "c"}) {
		t.Fatalf("expected enqueue order, got %v", order)
	}
	if value := promtestutil.ToFloat64(gauge); value != 0 {
		t.Fatalf("expected gauge 0, got %v", value)
	}
}
