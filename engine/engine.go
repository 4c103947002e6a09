package engine

import (
	"context"
	"errors"

	"github.com/windrose/conductor/checkpoint"
	"github.com/windrose/conductor/core"
	"github.com/windrose/conductor/entity"
	"github.com/windrose/conductor/memory"
	"github.com/windrose/conductor/observer"
	"github.com/windrose/conductor/serialize"
)

// MemorySummarizer builds the compact memory-graph summary (top-N
// important memories + cluster headlines) the Planner prompt needs, per
// spec §4.10. Normally implemented by the prompt package (C10); engine
// only depends on the interface to avoid importing it directly.
type MemorySummarizer interface {
	Summarize(ctx context.Context, userID string) string
}

type noopSummarizer struct{}

func (noopSummarizer) Summarize(context.Context, string) string { return "" }

// Trimmer shapes the rolling conversation window to a token budget
// without splitting a tool-call/result pair, per spec §4.10. Normally
// implemented by the prompt package; engine falls back to passing every
// message through untrimmed when none is wired.
type Trimmer interface {
	Trim(messages []Message) []Message
}

type noopTrimmer struct{}

func (noopTrimmer) Trim(messages []Message) []Message { return messages }

// CapabilitySource supplies the capability catalog (C3) the Planner
// prompt needs. registry.Catalog implements this via Capabilities().
type CapabilitySource interface {
	Capabilities() []string
	// AgentNames lists every currently known agent name, used by the
	// hallucinated-agent guard in planner.go to reject a plan step
	// naming an agent the registry never offered to the planner.
	AgentNames() []string
}

type noopCapabilitySource struct{}

func (noopCapabilitySource) Capabilities() []string { return nil }
func (noopCapabilitySource) AgentNames() []string    { return nil }

// Engine is the Plan-Execute Engine (C8): a four-node state machine
// (Planner/Executor/Replanner/Terminal) driving one WorkflowState at a
// time. It owns WorkflowState exclusively; the Memory Graph, Observer Bus,
// Checkpoint Store and Agent Registry are all injected, per spec §4's
// "avoid global mutable state" instruction. Grounded on
// gomind/orchestration/workflow_engine.go's step-by-step executor loop.
type Engine struct {
	cfg Config

	graph      *memory.Graph
	extractor  *entity.Extractor
	bus        *observer.Bus
	checkpoints checkpoint.Store
	planner    Planner
	driver     AgentDriver
	interrupts *InterruptController
	caps       CapabilitySource
	summarizer MemorySummarizer
	trimmer    Trimmer

	logger core.Logger
	tel    core.Telemetry
}

// New builds an Engine. graph/extractor/bus/store/planner/driver/interrupts
// are required; logger/tel fall back to no-ops.
func New(
	cfg Config,
	graph *memory.Graph,
	extractor *entity.Extractor,
	bus *observer.Bus,
	store checkpoint.Store,
	planner Planner,
	driver AgentDriver,
	interrupts *InterruptController,
	logger core.Logger,
	tel core.Telemetry,
) *Engine {
	if cfg.MaxSteps == 0 {
		cfg = DefaultConfig()
	}
	if logger == nil {
		logger = core.NoOpLogger{}
	}
	if tel == nil {
		tel = core.NoOpTelemetry{}
	}
	return &Engine{
		cfg:         cfg,
		graph:       graph,
		extractor:   extractor,
		bus:         bus,
		checkpoints: store,
		planner:     planner,
		driver:      driver,
		interrupts:  interrupts,
		caps:        noopCapabilitySource{},
		summarizer:  noopSummarizer{},
		trimmer:     noopTrimmer{},
		logger:      logger.WithComponent("engine"),
		tel:         tel,
	}
}

// SetCapabilitySource wires the C3 capability catalog source.
func (e *Engine) SetCapabilitySource(c CapabilitySource) {
	if c != nil {
		e.caps = c
	}
}

// SetSummarizer wires the C10 memory-graph summarizer for plan prompts.
func (e *Engine) SetSummarizer(s MemorySummarizer) {
	if s != nil {
		e.summarizer = s
	}
}

// SetTrimmer wires the C10 conversation-window trimmer.
func (e *Engine) SetTrimmer(t Trimmer) {
	if t != nil {
		e.trimmer = t
	}
}

// checkpointNamespace is the (namespace, key) shape every workflow state
// is persisted under: one hash per thread, one key ("state") per write.
func checkpointNamespace(threadID string) checkpoint.Namespace {
	return checkpoint.Namespace{"workflow-state", threadID}
}

const checkpointKey = "state"

// Checkpoint persists state atomically under its thread's namespace.
// Exported for callers outside the engine; Supervisor.Shutdown does not
// call it.
func (e *Engine) Checkpoint(ctx context.Context, state *WorkflowState) error {
	blob, err := encodeState(state)
	if err != nil {
		return err
	}
	if err := e.checkpoints.Put(ctx, checkpointNamespace(state.ThreadID), checkpointKey, blob); err != nil {
		return core.NewError("engine.checkpoint", core.KindStoreUnavailable, err)
	}
	return nil
}

// LoadCheckpoint recovers the last persisted WorkflowState for a thread.
// Per spec §8 testable property #6, replaying from this state naturally
// re-executes a step that never reached its step-8 checkpoint (its
// StepExecution never made it into PastSteps) and does not re-execute
// one that did.
func (e *Engine) LoadCheckpoint(ctx context.Context, threadID string) (*WorkflowState, error) {
	blob, err := e.checkpoints.Get(ctx, checkpointNamespace(threadID), checkpointKey)
	if err != nil {
		return nil, err
	}
	return decodeState(blob)
}

// Run drives state through the FSM until it reaches Terminal (Response
// set) or suspends on an interrupt, per spec §4.8's transition table:
//
//	Start -> Planner -> Executor -> Replanner -> (Executor | Terminal)
//
// A fresh state (no plan, no past steps, no response) starts at Planner;
// a state loaded from checkpoint or returned from a prior suspended Run
// resumes exactly where currentStepIndex() says to.
func (e *Engine) Run(ctx context.Context, state *WorkflowState) (*WorkflowState, error) {
	ctx, span := e.tel.StartSpan(ctx, "engine.run")
	defer span.End()

	if isFreshState(state) {
		if err := e.plan(ctx, state); err != nil {
			span.RecordError(err)
			return state, err
		}
	}

	for state.Response == nil {
		if state.currentStepIndex() >= len(state.Plan.Steps) {
			if err := e.replan(ctx, state); err != nil {
				span.RecordError(err)
				return state, err
			}
			continue
		}

		suspended, err := e.executeStep(ctx, state)
		if err != nil {
			span.RecordError(err)
			return state, err
		}
		if suspended {
			return state, nil
		}

		if err := e.replan(ctx, state); err != nil {
			span.RecordError(err)
			return state, err
		}
	}

	return state, nil
}

// Resume applies a resume Command to a suspended state and continues the
// FSM. forceReplan routes straight to the Replanner with the command's
// input as the modification request; otherwise the pending answer is
// handed to the step the engine suspended on.
func (e *Engine) Resume(ctx context.Context, state *WorkflowState, cmd Command) (*WorkflowState, error) {
	state.Interrupt = nil
	if cmd.ForceReplan {
		state.ForceReplan = true
		state.ModificationRequest = cmd.Input
		if err := e.replan(ctx, state); err != nil {
			return state, err
		}
	} else {
		state.PendingAnswer = cmd.Input
	}
	return e.Run(ctx, state)
}

func isFreshState(s *WorkflowState) bool {
	return s.Response == nil && s.Interrupt == nil && len(s.PastSteps) == 0 && len(s.Plan.Steps) == 0
}

// plan is the Start -> Planner transition.
func (e *Engine) plan(ctx context.Context, state *WorkflowState) error {
	summary := e.summarizer.Summarize(ctx, state.UserID)
	p, err := e.planner.Plan(ctx, state.Input, e.caps.Capabilities(), summary)
	if err != nil {
		return err
	}
	if len(p.Steps) > e.cfg.MaxSteps {
		return core.NewError("engine.plan", core.KindInvalidRequest, core.ErrPlanTooLarge)
	}
	if bad := e.invalidHintedAgents(p.Steps); len(bad) > 0 {
		e.logger.Warn("plan named unknown agent(s), forcing replan", map[string]interface{}{"agents": bad})
		state.ForceReplan = true
		state.ModificationRequest = unknownAgentConstraint(bad)
		return e.replan(ctx, state)
	}
	state.Plan = *p
	e.emit(state, observer.TypePlanCreated, map[string]interface{}{"steps": len(p.Steps)})
	return e.Checkpoint(ctx, state)
}

// executeStep runs the 8-step per-step executor protocol from spec §4.8.
// Returns suspended=true if the engine halted on an interrupt; the
// caller must not advance to the Replanner in that case.
func (e *Engine) executeStep(ctx context.Context, state *WorkflowState) (bool, error) {
	// Step 1: user_escape takes priority over everything, including a
	// pending human_input answer about to be consumed.
	if e.interrupts.CheckAndClearEscape(state.ThreadID) {
		state.Interrupt = &Interrupt{Type: InterruptUserEscape, Reason: "user requested escape"}
		e.emit(state, observer.TypeInterrupt, map[string]interface{}{"interrupt_type": string(InterruptUserEscape)})
		return true, e.Checkpoint(ctx, state)
	}

	idx := state.currentStepIndex()
	step := state.Plan.Steps[idx]
	startedAt := serialize.Now()

	// Step 2: bounded memory retrieval.
	memories := e.retrieveStepMemories(state, step)

	// Step 3: compose the agent task.
	task := e.composeTask(state, step, memories)

	// Step 4: invoke the driver; a human_input request is a cooperative
	// interrupt the driver raises from inside its own tool use.
	result, err := e.driver.Invoke(ctx, task)
	if err != nil {
		var hireq *HumanInputRequired
		if errors.As(err, &hireq) {
			// A user_escape that arrived while the driver call was in
			// flight must win the race against the driver's own
			// human_input request, per spec §4.8 step 4.
			if e.interrupts.CheckAndClearEscape(state.ThreadID) {
				state.Interrupt = &Interrupt{Type: InterruptUserEscape, Reason: "user requested escape"}
				e.emit(state, observer.TypeInterrupt, map[string]interface{}{"interrupt_type": string(InterruptUserEscape)})
				return true, e.Checkpoint(ctx, state)
			}
			state.Interrupt = &Interrupt{Type: InterruptHumanInput, Reason: hireq.Question}
			e.emit(state, observer.TypeInterrupt, map[string]interface{}{
				"interrupt_type": string(InterruptHumanInput),
				"question":       hireq.Question,
			})
			return true, e.Checkpoint(ctx, state)
		}

		exec := StepExecution{
			SeqNo:       len(state.PastSteps),
			Description: step.Description,
			StartedAt:   startedAt,
			EndedAt:     serialize.Now(),
			Outcome:     OutcomeFailed,
			Error:       err.Error(),
		}
		state.PastSteps = append(state.PastSteps, exec)
		e.emit(state, observer.TypeTaskCompleted, map[string]interface{}{"seq_no": exec.SeqNo, "outcome": string(OutcomeFailed)})
		return false, e.Checkpoint(ctx, state)
	}

	// Step 5: extract entities, ingest into the memory graph, LedTo-chain
	// from the previous step's CompletedAction node (the "previous step's
	// memory node" spec §4.8 step 5 refers to).
	prevCompletedID := previousCompletedActionID(state)
	entityIDs := e.ingestEntities(state, result, prevCompletedID)

	// Step 6: CompletedAction node, chained to the previous one.
	completedID := e.storeCompletedAction(state, step, result, entityIDs)
	if prevCompletedID != "" {
		if err := e.graph.Relate(state.UserID, prevCompletedID, completedID, memory.EdgeLedTo, 1.0); err != nil {
			e.logger.Warn("failed to relate completed actions", map[string]interface{}{"error": err.Error()})
		}
	}

	// Step 7: append StepExecution, emit events.
	exec := StepExecution{
		SeqNo:                 len(state.PastSteps),
		Description:           step.Description,
		StartedAt:             startedAt,
		EndedAt:               serialize.Now(),
		Outcome:               OutcomeCompleted,
		Summary:               result.Summary,
		ProducedEntityIDs:     entityIDs,
		CompletedActionNodeID: completedID,
	}
	state.PastSteps = append(state.PastSteps, exec)
	e.emit(state, observer.TypeTaskCompleted, map[string]interface{}{"seq_no": exec.SeqNo, "outcome": string(OutcomeCompleted), "summary": exec.Summary})
	e.emit(state, observer.TypePlanUpdated, map[string]interface{}{"plan_offset": state.PlanOffset, "completed": len(state.PastSteps)})

	// Step 8: atomic checkpoint. The step's effects are not durable — and
	// per spec §8 property #6 must be re-executed on crash recovery —
	// until this call returns successfully.
	if err := e.Checkpoint(ctx, state); err != nil {
		return false, err
	}
	return false, nil
}

func previousCompletedActionID(state *WorkflowState) string {
	for i := len(state.PastSteps) - 1; i >= 0; i-- {
		if state.PastSteps[i].Outcome == OutcomeCompleted && state.PastSteps[i].CompletedActionNodeID != "" {
			return state.PastSteps[i].CompletedActionNodeID
		}
	}
	return ""
}

func (e *Engine) retrieveStepMemories(state *WorkflowState, step Step) []memory.ScoredNode {
	q := memory.Query{Text: step.Description + " " + state.Input}
	return e.graph.Retrieve(state.UserID, q, memory.Filter{}, e.cfg.StepMemoryMaxAgeHours, e.cfg.StepMemoryMinRelevance, e.cfg.StepMemoryMax, nil)
}

func (e *Engine) composeTask(state *WorkflowState, step Step, memories []memory.ScoredNode) AgentTask {
	mc := make([]MemoryContext, 0, len(memories))
	for i, m := range memories {
		ctxm := MemoryContext{NodeID: m.Node.ID, Summary: m.Node.Summary, Tags: m.Node.Tags}
		if i < e.cfg.FullContentTopN {
			ctxm.FullContent = m.Node.Content
		}
		mc = append(mc, ctxm)
	}

	answer := state.PendingAnswer
	state.PendingAnswer = ""

	return AgentTask{
		Input:            state.Input,
		Step:             step,
		Memories:         mc,
		ConversationTail: e.trimmer.Trim(state.Messages),
		PreviousOutcome:  lastOutcomeSummary(state),
		PendingAnswer:    answer,
	}
}

func lastOutcomeSummary(state *WorkflowState) string {
	if len(state.PastSteps) == 0 {
		return ""
	}
	return state.PastSteps[len(state.PastSteps)-1].Summary
}

func (e *Engine) ingestEntities(state *WorkflowState, result *AgentResult, prevCompletedID string) []string {
	candidates := e.extractor.Extract(result.Output)
	ids := make([]string, 0, len(candidates))
	for _, c := range candidates {
		node := &memory.Node{
			UserID:        state.UserID,
			ThreadID:      state.ThreadID,
			Kind:          memory.KindDomainEntity,
			Content:       map[string]interface{}{"value": c.Value, "path": c.Path},
			Summary:       c.Value,
			Tags:          []string{c.EntityType},
			BaseRelevance: c.Confidence,
			EntityID:      c.EntityID,
			EntitySystem:  c.EntitySystem,
		}
		nodeID, err := e.graph.Store(node)
		if err != nil {
			e.logger.Warn("failed to store extracted entity", map[string]interface{}{"error": err.Error()})
			continue
		}
		ids = append(ids, nodeID)
		if prevCompletedID != "" {
			if err := e.graph.Relate(state.UserID, prevCompletedID, nodeID, memory.EdgeLedTo, 0.8); err != nil {
				e.logger.Warn("failed to relate entity to previous action", map[string]interface{}{"error": err.Error()})
			}
		}
	}
	return ids
}

func (e *Engine) storeCompletedAction(state *WorkflowState, step Step, result *AgentResult, entityIDs []string) string {
	node := &memory.Node{
		UserID:   state.UserID,
		ThreadID: state.ThreadID,
		Kind:     memory.KindCompletedAction,
		Content: map[string]interface{}{
			"step":            step.Description,
			"response":        result.Summary,
			"entity_node_ids": toInterfaceSlice(entityIDs),
		},
		Summary:       result.Summary,
		Tags:          []string{"completed-action"},
		BaseRelevance: 0.6,
	}
	id, err := e.graph.Store(node)
	if err != nil {
		e.logger.Warn("failed to store completed action", map[string]interface{}{"error": err.Error()})
	}
	return id
}

func toInterfaceSlice(ss []string) []interface{} {
	out := make([]interface{}, len(ss))
	for i, s := range ss {
		out[i] = s
	}
	return out
}

// replan runs the Replanner protocol from spec §4.8: finalize-and-summarize
// once pastSteps covers every step of the current plan generation,
// otherwise optionally splice in new steps after the current boundary.
// Completed steps are never edited; planOffset advances to keep
// currentStepIndex stable relative to pastSteps.
func (e *Engine) replan(ctx context.Context, state *WorkflowState) error {
	finalize := state.currentStepIndex() >= len(state.Plan.Steps)

	decision, err := e.planner.Replan(ctx, state, finalize)
	if err != nil {
		return err
	}

	state.ForceReplan = false
	state.ModificationRequest = ""

	switch {
	case decision.Response != nil:
		state.Response = decision.Response
		e.emit(state, observer.TypePlanReplanned, map[string]interface{}{"finalized": true})
		e.interrupts.Forget(state.ThreadID)
	case decision.Plan != nil:
		newOffset := len(state.PastSteps)
		if newOffset+len(decision.Plan.Steps) > e.cfg.MaxSteps {
			return core.NewError("engine.replan", core.KindInvalidRequest, core.ErrPlanTooLarge)
		}
		state.Plan = Plan{Steps: decision.Plan.Steps}
		state.PlanOffset = newOffset
		e.emit(state, observer.TypePlanReplanned, map[string]interface{}{"finalized": false, "plan_offset": newOffset, "steps": len(decision.Plan.Steps)})
	default:
		// Neither set: replanner declined to change anything (continue
		// with the remaining steps of the current generation as-is).
		e.emit(state, observer.TypePlanReplanned, map[string]interface{}{"finalized": false, "unchanged": true})
	}

	e.emit(state, observer.TypePlanUpdated, map[string]interface{}{"plan_offset": state.PlanOffset, "completed": len(state.PastSteps)})
	return e.Checkpoint(ctx, state)
}

func (e *Engine) emit(state *WorkflowState, typ observer.Type, payload map[string]interface{}) {
	if e.bus == nil {
		return
	}
	e.bus.Publish(state.ThreadID, typ, state.TaskID, payload)
}

// PlanProgress summarizes a WorkflowState's step accounting for the
// external result shape (§6's plan.completed/failed/current), satisfying
// testable property #1: completed ∪ failed covers [0, |plan|) and the
// two sets are disjoint.
type PlanProgress struct {
	TotalSteps int
	Completed  []int
	Failed     []int
	Current    *int
}

// Progress computes a PlanProgress snapshot for state.
func (e *Engine) Progress(state *WorkflowState) PlanProgress {
	p := PlanProgress{TotalSteps: state.PlanOffset + len(state.Plan.Steps)}
	for i, exec := range state.PastSteps {
		switch exec.Outcome {
		case OutcomeCompleted:
			p.Completed = append(p.Completed, i)
		case OutcomeFailed:
			p.Failed = append(p.Failed, i)
		}
	}
	if state.Response == nil {
		idx := state.currentStepIndex() + state.PlanOffset
		if idx < p.TotalSteps {
			p.Current = &idx
		}
	}
	return p
}
