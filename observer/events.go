// Package observer implements the typed in-process publish/subscribe bus
// (spec §4.6): per-thread monotonic sequence numbers, a bounded replay
// buffer for late subscribers, and drop-on-overflow/error semantics.
// Grounded on gomind/ui's chat event fan-out (ui/transports/sse,
// ui/transports/websocket both consuming a common event stream),
// generalized into the typed event union spec §4.6/§9 names.
package observer

import "time"

// Type tags an Event's payload shape, per spec §4.6's event kind table.
type Type string

const (
	TypePlanCreated         Type = "PlanCreated"
	TypeTaskStarted         Type = "TaskStarted"
	TypeTaskCompleted       Type = "TaskCompleted"
	TypePlanUpdated         Type = "PlanUpdated"
	TypePlanReplanned       Type = "PlanReplanned"
	TypeMemoryNodeAdded     Type = "MemoryNodeAdded"
	TypeMemoryEdgeAdded     Type = "MemoryEdgeAdded"
	TypeMemoryGraphSnapshot Type = "MemoryGraphSnapshot"
	TypeInterrupt           Type = "Interrupt"
	TypeInterruptResume     Type = "InterruptResume"
)

// Event is an immutable, timestamped, sequenced notification. Payload's
// shape depends on Type; the fields each event kind carries are set by
// the code that publishes it.
type Event struct {
	Type      Type                   `json:"type"`
	ThreadID  string                 `json:"thread_id"`
	TaskID    string                 `json:"task_id,omitempty"`
	Sequence  uint64                 `json:"sequence"`
	Timestamp time.Time              `json:"timestamp"`
	Payload   map[string]interface{} `json:"payload"`
}

// NewEvent builds an Event; ThreadID/Sequence/Timestamp are stamped by
// the Bus on Publish, not by the caller.
func NewEvent(typ Type, taskID string, payload map[string]interface{}) Event {
	return Event{Type: typ, TaskID: taskID, Payload: payload}
}
