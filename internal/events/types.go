// Package events persists the decoded message stream and the book's
// execution results as an append-only, checksummed, sequence-numbered log,
// replayable to reconstruct book state after a restart.
//
// Event Sourcing Pattern:
// Instead of storing current book state, every decoded message and its
// resulting execution is stored. State can be reconstructed by replaying
// from the beginning, or from the last durable checkpoint.
//
// Benefits:
// 1. Audit trail: complete history of every message the book ever saw.
// 2. Replay: rebuild book state after a crash by replaying events.
// 3. Debugging: reproduce any sequence by replaying to that point.
package events

import "github.com/kallio-labs/seqbook/internal/wire"

// EventType identifies the type of persisted record.
type EventType uint8

const (
	EventTypeMessage EventType = iota + 1
	EventTypeExecution
)

func (t EventType) String() string {
	switch t {
	case EventTypeMessage:
		return "MESSAGE"
	case EventTypeExecution:
		return "EXECUTION"
	default:
		return "UNKNOWN"
	}
}

// Event is the common envelope every record carries.
type Event struct {
	SequenceNum uint64 // Global sequence number
	Timestamp   int64  // Nanoseconds since epoch
	Type        EventType
}

// MessageEvent records one decoded wire.Message exactly as it was produced
// by the decoder, before being applied to the book.
type MessageEvent struct {
	Event
	Msg wire.Message
}

// ExecutionEvent records one book.ProcessOrder result.
type ExecutionEvent struct {
	Event
	ExecPrice    uint32
	FilledVolume int64
	Revenue      int64
	Flags        uint8
}
