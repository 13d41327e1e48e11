// ABOUTME: IPC message format between the coordinator and worker processes.
// ABOUTME: Newline-delimited JSON over an inherited pipe, appended to a transcript.

package harness

import "time"

// Message is one unit of worker-to-coordinator (or coordinator-to-worker)
// communication. Workers emit a message at each workload step; the
// coordinator records every inbound message in the transcript in arrival
// order and evaluates kill predicates against it.
type Message struct {
	// Type names the workload step, e.g. "seeded", "tx-open", "lock-held".
	Type string `json:"type"`

	// Table is the table the step touched, if any.
	Table string `json:"table,omitempty"`

	// Count is a step-specific row count.
	Count int `json:"count,omitempty"`

	// Tag marks rows written by this step, for post-crash assertions.
	Tag string `json:"tag,omitempty"`

	// HolderPID carries the lock holder's pid in lock-held reports.
	HolderPID int `json:"holder_pid,omitempty"`

	// Error carries a worker-side failure description.
	Error string `json:"error,omitempty"`

	// At is the worker's send time in Unix milliseconds. Informational;
	// transcript order, not At, is authoritative.
	At int64 `json:"at,omitempty"`
}

// NewMessage returns a Message of the given type stamped with the current
// time.
func NewMessage(typ string) Message {
	return Message{Type: typ, At: time.Now().UnixMilli()}
}

// MessagePredicate decides whether an inbound message triggers a kill.
type MessagePredicate func(Message) bool

// TypeIs returns a predicate matching messages of the given type.
func TypeIs(typ string) MessagePredicate {
	return func(m Message) bool {
		return m.Type == typ
	}
}
