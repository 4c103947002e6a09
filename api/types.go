// Package api implements the Transport Surface (spec §4.9): POST /a2a
// JSON-RPC process_task, GET /a2a/stream SSE, WS /ws bidirectional
// interrupt/resume, GET /a2a/agent-card. Grounded on
// gomind/ui/transports/sse/sse.go's flusher-based event fan-out and
// gomind/ui/transports/websocket/websocket.go's gorilla upgrader +
// per-client send channel idiom, generalized from a chat UI transport
// onto this spec's own process_task/Observer contract.
package api

import (
	"github.com/windrose/conductor/engine"
)

// RPCRequest is a JSON-RPC 2.0 request envelope.
type RPCRequest struct {
	JSONRPC string      `json:"jsonrpc"`
	Method  string      `json:"method"`
	Params  TaskParams  `json:"params"`
	ID      string      `json:"id"`
}

// RPCResponse is a JSON-RPC 2.0 response envelope.
type RPCResponse struct {
	JSONRPC string      `json:"jsonrpc"`
	Result  interface{} `json:"result,omitempty"`
	Error   *RPCError   `json:"error,omitempty"`
	ID      string      `json:"id"`
}

// RPCError is a JSON-RPC 2.0 error object.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

const (
	codeParseError     = -32700
	codeInvalidRequest = -32600
	codeMethodNotFound = -32601
	codeInternalError  = -32603
)

// TaskContext is process_task's context sub-object, per spec §6.
type TaskContext struct {
	ThreadID      string                 `json:"threadID"`
	UserID        string                 `json:"userID"`
	Source        string                 `json:"source"`
	SessionID     string                 `json:"sessionID,omitempty"`
	StateSnapshot map[string]interface{} `json:"stateSnapshot,omitempty"`
}

// TaskParams is process_task's params shape, per spec §6.
type TaskParams struct {
	TaskID      string      `json:"taskID"`
	Instruction string      `json:"instruction"`
	Context     TaskContext `json:"context"`
}

// PlanView is the external, read-only plan shape from spec §6.
type PlanView struct {
	Steps     []string `json:"steps"`
	Completed []int    `json:"completed"`
	Failed    []int    `json:"failed"`
	Current   *int     `json:"current"`
}

// InterruptView is the external interrupt descriptor shape from spec §6.
type InterruptView struct {
	Type     string `json:"type"`
	Reason   string `json:"reason,omitempty"`
	Question string `json:"question,omitempty"`
}

// TaskResultView is process_task's successful result shape, per spec §6.
type TaskResultView struct {
	Status    string         `json:"status"`
	Response  *string        `json:"response,omitempty"`
	Interrupt *InterruptView `json:"interrupt,omitempty"`
	Plan      *PlanView      `json:"plan,omitempty"`
}

// AgentCardView advertises this orchestrator's own capabilities to peer
// callers, per spec §4.9's "advertise this orchestrator's own
// capabilities" bullet.
type AgentCardView struct {
	Name         string   `json:"name"`
	Version      string   `json:"version"`
	Endpoint     string   `json:"endpoint"`
	Capabilities []string `json:"capabilities"`
}

// buildTaskResultView projects engine state into the external result
// shape, satisfying testable property #1 (completed/failed partition
// [0, |plan|)).
func buildTaskResultView(eng *engine.Engine, state *engine.WorkflowState) TaskResultView {
	progress := eng.Progress(state)

	steps := make([]string, len(state.Plan.Steps))
	for i, s := range state.Plan.Steps {
		steps[i] = s.Description
	}

	view := TaskResultView{
		Plan: &PlanView{
			Steps:     steps,
			Completed: progress.Completed,
			Failed:    progress.Failed,
			Current:   progress.Current,
		},
	}

	if state.Response != nil {
		view.Status = "completed"
		view.Response = state.Response
		return view
	}

	view.Status = "interrupted"
	if state.Interrupt != nil {
		view.Interrupt = &InterruptView{
			Type:     string(state.Interrupt.Type),
			Reason:   state.Interrupt.Reason,
			Question: state.Interrupt.Reason,
		}
	}
	return view
}
