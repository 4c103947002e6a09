// Package engine implements the Plan-Execute Engine (spec §4.8): a
// four-node state machine (Planner/Executor/Replanner/Terminal) over a
// per-thread WorkflowState, with an interrupt/resume protocol and
// atomic per-step checkpointing. Grounded on
// gomind/orchestration/workflow_engine.go's step-by-step executor loop
// and gomind/orchestration/hitl_interfaces.go's composed interrupt
// interfaces, generalized to this spec's own four-node naming.
package engine

import (
	"context"

	"github.com/windrose/conductor/serialize"
)

// Step is one imperative unit of work in a Plan.
type Step struct {
	Description  string `json:"description"`
	HintedAgent  string `json:"hinted_agent,omitempty"`
	HintedTool   string `json:"hinted_tool,omitempty"`
}

// Plan is an ordered, immutable sequence of Steps. Modification produces
// a new Plan plus a PlanOffset so previously executed steps keep their
// identity, per spec §3.
type Plan struct {
	Steps []Step `json:"steps"`
}

// Outcome is a StepExecution's terminal disposition.
type Outcome string

const (
	OutcomeCompleted Outcome = "completed"
	OutcomeFailed    Outcome = "failed"
	OutcomeSkipped   Outcome = "skipped"
)

// StepExecution is an append-only record of one executed step. StartedAt
// and EndedAt use serialize.Timestamp so a checkpointed step's wire
// format is always UTC ISO-8601 with millisecond precision, per spec
// §4.12.
type StepExecution struct {
	SeqNo             int                 `json:"seq_no"`
	Description       string              `json:"description"`
	StartedAt         serialize.Timestamp `json:"started_at"`
	EndedAt           serialize.Timestamp `json:"ended_at"`
	Outcome           Outcome             `json:"outcome"`
	Summary           string              `json:"summary"`
	ProducedEntityIDs []string            `json:"produced_entity_ids,omitempty"`
	Error             string              `json:"error,omitempty"`

	// CompletedActionNodeID links this execution to the CompletedAction
	// memory node created for it, so the next step's LedTo edge has a
	// stable source without re-deriving it from PastSteps. Persisted so
	// the chain survives a checkpoint reload.
	CompletedActionNodeID string `json:"completed_action_node_id,omitempty"`
}

// Role is a conversation message's speaker.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// Message is one turn in the rolling conversation window. ToolCallID
// pairs a tool-call assistant message with its tool-result message; the
// trimmer (C10) must never split a pair.
type Message struct {
	Role       Role   `json:"role"`
	Content    string `json:"content"`
	ToolCallID string `json:"tool_call_id,omitempty"`
	IsToolCall bool   `json:"is_tool_call,omitempty"`
}

// InterruptType distinguishes the two interrupt kinds spec §4.8 defines.
type InterruptType string

const (
	InterruptUserEscape InterruptType = "user_escape"
	InterruptHumanInput InterruptType = "human_input"
)

// Interrupt is the pending-interrupt descriptor attached to a
// WorkflowState while the engine is suspended.
type Interrupt struct {
	Type   InterruptType `json:"type"`
	Reason string        `json:"reason"`
}

// Command resumes a suspended engine. ForceReplan routes directly to the
// Replanner with Input as the modification request; otherwise Input
// answers the pending question and the Executor continues the step it
// was on.
type Command struct {
	Input       string `json:"input"`
	ForceReplan bool   `json:"force_replan,omitempty"`
}

// WorkflowState is the engine's exclusively-owned mutable state for one
// thread, persisted at every node boundary per spec §3.
type WorkflowState struct {
	ThreadID            string          `json:"thread_id"`
	TaskID              string          `json:"task_id"`
	UserID              string          `json:"user_id"`
	Input               string          `json:"input"`
	Plan                Plan            `json:"plan"`
	PlanOffset          int             `json:"plan_offset"`
	PastSteps           []StepExecution `json:"past_steps"`
	Messages            []Message       `json:"messages"`
	Response            *string         `json:"response,omitempty"`
	Interrupt           *Interrupt      `json:"interrupt,omitempty"`
	ForceReplan         bool            `json:"force_replan"`
	ModificationRequest string          `json:"modification_request,omitempty"`
	// PendingAnswer carries a human_input resume's answer through to the
	// next composeTask call, then is cleared.
	PendingAnswer string `json:"pending_answer,omitempty"`
}

// currentStepIndex returns the index into Plan.Steps of the step to
// execute next. PastSteps is a global, append-only execution log spanning
// every replan generation, so its length alone is the true count of steps
// ever executed; PlanOffset is how many of those belong to prior plan
// generations already folded out of the current Plan.Steps by a replan.
// The difference is therefore the count completed against the *current*
// generation, i.e. the next local index to run, per spec §4.8's "advance
// planOffset so that subsequent step indices remain stable relative to
// pastSteps".
func (s *WorkflowState) currentStepIndex() int {
	return len(s.PastSteps) - s.PlanOffset
}

// PlanOrResponse is the planner's replan decision: a classic tagged
// union modeled as two optional fields rather than an interface with
// type assertions, per spec §9's guidance. Exactly one field is set.
type PlanOrResponse struct {
	Plan     *Plan
	Response *string
}

// MemoryContext is a single retrieved memory handed to the prompt/driver
// layer; FullContent is only populated for the top-N memories per
// spec §4.10.
type MemoryContext struct {
	NodeID      string
	Summary     string
	FullContent map[string]interface{}
	Tags        []string
}

// AgentTask is the composed unit of work handed to an AgentDriver.
type AgentTask struct {
	Input             string
	Step              Step
	Memories          []MemoryContext
	ConversationTail  []Message
	PreviousOutcome   string
	PendingAnswer     string // set when resuming a human_input interrupt
}

// AgentResult is what a successful AgentDriver invocation returns.
type AgentResult struct {
	Summary string
	Output  map[string]interface{}
}

// HumanInputRequired is returned by an AgentDriver when it needs
// clarification mid-step — a cooperative interrupt raised from inside
// the driver, per spec §4.8.
type HumanInputRequired struct {
	Question string
}

func (e *HumanInputRequired) Error() string { return "human input required: " + e.Question }

// Planner is the opaque plan/replan entry point spec §1 treats as an
// external collaborator.
type Planner interface {
	Plan(ctx context.Context, input string, capabilityCatalog []string, memorySummary string) (*Plan, error)
	Replan(ctx context.Context, state *WorkflowState, finalize bool) (*PlanOrResponse, error)
}

// AgentDriver is the bounded interface through which the engine invokes
// an LLM-tool-using executor; its own fan-out to domain agents over RPC
// is transparent to the engine.
type AgentDriver interface {
	Invoke(ctx context.Context, task AgentTask) (*AgentResult, error)
}
