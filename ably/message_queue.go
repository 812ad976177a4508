package ably

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/Thejuampi/ably-client-go/ably/protocol"
)

// queuedMessage is an outbound message awaiting send or acknowledgment.
type queuedMessage struct {
	message *protocol.ProtocolMessage
	result  *Result
	// onResolve runs under the channel lock when the entry resolves.
	onResolve func(err error)

	sent       bool
	generation uint64
	msgSerial  int64
	sentCycle  uint64
}

func (entry *queuedMessage) resolve(err error) {
	if entry.onResolve != nil {
		entry.onResolve(err)
	}
	entry.result.resolve(err)
}

// messageQueue is the FIFO of a channel's outbound messages. It is guarded
// by the owning channel's lock.
type messageQueue struct {
	entries []*queuedMessage
	gauge   prometheus.Gauge
}

func newMessageQueue(gauge prometheus.Gauge) *messageQueue {
	return &messageQueue{gauge: gauge}
}

func (queue *messageQueue) len() int {
	return len(queue.entries)
}

// enqueue appends message and returns its entry.
func (queue *messageQueue) enqueue(message *protocol.ProtocolMessage, result *Result) *queuedMessage {
	entry := &queuedMessage{message: message, result: result}
	queue.entries = append(queue.entries, entry)
	if queue.gauge != nil {
		queue.gauge.Inc()
	}
	return entry
}

// flush sends, in order, every entry not yet sent in cycle. Entries stay
// queued until acknowledged. It stops at the first send failure.
func (queue *messageQueue) flush(cycle uint64, send func(entry *queuedMessage) error) error {
	for _, entry := range queue.entries {
		if entry.sent && entry.sentCycle == cycle {
			continue
		}
		if err := send(entry); err != nil {
			return err
		}
	}
	return nil
}

// unsent counts the entries not yet sent in cycle.
func (queue *messageQueue) unsent(cycle uint64) int {
	count := 0
	for _, entry := range queue.entries {
		if !entry.sent || entry.sentCycle != cycle {
			count++
		}
	}
	return count
}

// acknowledge resolves the entry sent with msgSerial on generation with
// err. Unknown serials and serials of earlier connections are ignored.
func (queue *messageQueue) acknowledge(generation uint64, msgSerial int64, err error) bool {
	for index, entry := range queue.entries {
		if entry.sent && entry.generation == generation && entry.msgSerial == msgSerial {
			queue.entries = append(queue.entries[:index:index], queue.entries[index+1:]...)
			if queue.gauge != nil {
				queue.gauge.Dec()
			}
			entry.resolve(err)
			return true
		}
	}
	return false
}

// failAll removes every entry and resolves each with err in enqueue order.
func (queue *messageQueue) failAll(err error) int {
	entries := queue.entries
	queue.entries = nil
	if queue.gauge != nil {
		queue.gauge.Sub(float64(len(entries)))
	}
	for _, entry := range entries {
		entry.resolve(err)
	}
	return len(entries)
}
