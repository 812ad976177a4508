package main

import (
	"github.com/Thejuampi/ably-client-go/ably/protocol"
)

// ---------------------------------------------------------------------------
// history: bounded per-channel message journal.
//
// Entries are kept in a ring buffer in publish order; once full, the oldest
// entry is overwritten. Queries filter by timestamp and walk either
// direction.
// ---------------------------------------------------------------------------

type history struct {
	entries []*protocol.Message
	head    int // next write position
	count   int
}

type historyQuery struct {
	start    int64 // inclusive, 0 for unbounded
	end      int64 // inclusive, 0 for unbounded
	limit    int
	forwards bool
}

func newHistory(maxSize int) *history {
	if maxSize <= 0 {
		maxSize = 1000
	}
	return &history{entries: make([]*protocol.Message, maxSize)}
}

func (journal *history) append(message *protocol.Message) {
	journal.entries[journal.head] = message
	journal.head = (journal.head + 1) % len(journal.entries)
	if journal.count < len(journal.entries) {
		journal.count++
	}
}

// at returns the i-th entry in publish order.
func (journal *history) at(index int) *protocol.Message {
	oldest := (journal.head - journal.count + len(journal.entries)) % len(journal.entries)
	return journal.entries[(oldest+index)%len(journal.entries)]
}

func (journal *history) query(query historyQuery) []*protocol.Message {
	limit := query.limit
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	matched := make([]*protocol.Message, 0, min(limit, journal.count))
	for step := 0; step < journal.count && len(matched) < limit; step++ {
		index := journal.count - 1 - step
		if query.forwards {
			index = step
		}
		message := journal.at(index)
		if query.start > 0 && message.Timestamp < query.start {
			continue
		}
		if query.end > 0 && message.Timestamp > query.end {
			continue
		}
		matched = append(matched, message)
	}
	return matched
}
