package engine

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/windrose/conductor/checkpoint"
	"github.com/windrose/conductor/entity"
	"github.com/windrose/conductor/memory"
	"github.com/windrose/conductor/observer"
)

const sfAccountRules = `
rules:
  - name: salesforce-account-id
    pattern: "^(001[a-zA-Z0-9]{12,15})$"
    entity_type: Account
    entity_system: sf
    confidence: 0.9
`

func newTestExtractor(t *testing.T) *entity.Extractor {
	t.Helper()
	rules, err := entity.LoadRules([]byte(sfAccountRules))
	require.NoError(t, err)
	return entity.New(rules)
}

// scriptedPlanner returns a fixed plan on Plan() and a scripted sequence
// of replan decisions, one per call, on Replan().
type scriptedPlanner struct {
	plan      *Plan
	planErr   error
	decisions []*PlanOrResponse
	replanIdx int
	replanLog []bool // finalize flag observed per call
}

func (p *scriptedPlanner) Plan(ctx context.Context, input string, caps []string, memorySummary string) (*Plan, error) {
	return p.plan, p.planErr
}

func (p *scriptedPlanner) Replan(ctx context.Context, state *WorkflowState, finalize bool) (*PlanOrResponse, error) {
	p.replanLog = append(p.replanLog, finalize)
	if p.replanIdx >= len(p.decisions) {
		return p.decisions[len(p.decisions)-1], nil
	}
	d := p.decisions[p.replanIdx]
	p.replanIdx++
	return d, nil
}

// scriptedDriver returns one AgentResult per invocation, in order.
type scriptedDriver struct {
	results []*AgentResult
	errs    []error
	calls   int
}

func (d *scriptedDriver) Invoke(ctx context.Context, task AgentTask) (*AgentResult, error) {
	i := d.calls
	d.calls++
	var err error
	if i < len(d.errs) {
		err = d.errs[i]
	}
	if err != nil {
		return nil, err
	}
	if i < len(d.results) {
		return d.results[i], nil
	}
	return &AgentResult{Summary: "done"}, nil
}

func respPtr(s string) *string { return &s }

func newTestEngine(t *testing.T, planner Planner, driver AgentDriver) (*Engine, *observer.Bus, *memory.Graph) {
	t.Helper()
	graph := memory.New(memory.DefaultDecayConfig(), nil, nil)
	bus := observer.New(10, nil)
	store := checkpoint.NewMemoryStore()
	interrupts := NewInterruptController()
	eng := New(DefaultConfig(), graph, newTestExtractor(t), bus, store, planner, driver, interrupts, nil, nil)
	return eng, bus, graph
}

func TestEngine_HappyPathOneStep(t *testing.T) {
	planner := &scriptedPlanner{
		plan: &Plan{Steps: []Step{{Description: "Look up the account 'GenePoint' on the CRM"}}},
		decisions: []*PlanOrResponse{
			{Response: respPtr("GenePoint (001bm00000SA8pSAAT) found.")},
		},
	}
	driver := &scriptedDriver{
		results: []*AgentResult{
			{Summary: "Found GenePoint", Output: map[string]interface{}{"id": "001bm00000SA8pSAAT", "Name": "GenePoint"}},
		},
	}
	eng, _, graph := newTestEngine(t, planner, driver)

	state := &WorkflowState{ThreadID: "t1", TaskID: "task1", UserID: "u1", Input: "get the GenePoint account"}
	out, err := eng.Run(context.Background(), state)
	require.NoError(t, err)
	require.NotNil(t, out.Response)
	assert.Contains(t, *out.Response, "GenePoint")

	progress := eng.Progress(out)
	assert.Equal(t, []int{0}, progress.Completed)
	assert.Empty(t, progress.Failed)

	// The entity extractor should have produced exactly one DomainEntity.
	require.Len(t, out.PastSteps, 1)
	require.Len(t, out.PastSteps[0].ProducedEntityIDs, 1)
	node, ok := graph.Node("u1", out.PastSteps[0].ProducedEntityIDs[0])
	require.True(t, ok)
	assert.Equal(t, memory.KindDomainEntity, node.Kind)
	assert.Equal(t, "001bm00000SA8pSAAT", node.EntityID)
}

func TestEngine_TwoStepPlanWithReplanInsertsClarification(t *testing.T) {
	planner := &scriptedPlanner{
		plan: &Plan{Steps: []Step{
			{Description: "Find express logistics accounts"},
			{Description: "Create a Jira bug for its last opportunity"},
		}},
		decisions: []*PlanOrResponse{
			// After step 0: insert a clarification step before the
			// original step 1.
			{Plan: &Plan{Steps: []Step{
				{Description: "Ask which Express Logistics account was meant"},
				{Description: "Create a Jira bug for its last opportunity"},
			}}},
			// After the clarification step: continue unchanged.
			{},
			// After the final step: finalize.
			{Response: respPtr("Created the Jira bug.")},
		},
	}
	driver := &scriptedDriver{
		results: []*AgentResult{
			{Summary: "Found 3 candidate accounts", Output: map[string]interface{}{"candidates": []interface{}{"a", "b", "c"}}},
			{Summary: "Clarified: Express Logistics and Transport"},
			{Summary: "Filed bug JIRA-123"},
		},
	}
	eng, bus, _ := newTestEngine(t, planner, driver)

	sub := bus.Subscribe("t2")
	state := &WorkflowState{ThreadID: "t2", TaskID: "task2", UserID: "u2", Input: "find express logistics and create a jira bug"}
	out, err := eng.Run(context.Background(), state)
	require.NoError(t, err)
	require.NotNil(t, out.Response)

	assert.Equal(t, 1, out.PlanOffset)
	assert.Equal(t, 2, len(out.Plan.Steps))
	assert.Equal(t, 3, out.PlanOffset+len(out.Plan.Steps))

	taskCompletedForStep0 := 0
drain:
	for {
		select {
		case ev, ok := <-sub.Events():
			if !ok {
				// the bus closes a subscriber whose queue overflowed
				break drain
			}
			if ev.Type == observer.TypeTaskCompleted && ev.Payload["seq_no"] == 0 {
				taskCompletedForStep0++
			}
		default:
			break drain
		}
	}
	assert.Equal(t, 1, taskCompletedForStep0)
}

func TestEngine_UserEscapeMidExecution(t *testing.T) {
	planner := &scriptedPlanner{
		plan: &Plan{Steps: []Step{
			{Description: "step one"},
			{Description: "step two"},
		}},
		decisions: []*PlanOrResponse{
			{},                            // after step 0: continue unchanged
			{Response: respPtr("done")}, // after step 1: finalize
		},
	}
	driver := &scriptedDriver{
		results: []*AgentResult{
			{Summary: "step one done"},
			{Summary: "step two done"},
		},
	}
	eng, bus, graph := newTestEngine(t, planner, driver)
	threadID := "t3"

	state := &WorkflowState{ThreadID: threadID, TaskID: "task3", UserID: "u3", Input: "long task"}

	// Run drives straight through absent an escape, so the escape is raised
	// before Run: it is observed at the top of step 0, before any step
	// executes. The test then resumes and lets both steps finish.
	eng.interrupts.RaiseUserEscape(threadID)

	out, err := eng.Run(context.Background(), state)
	require.NoError(t, err)
	require.NotNil(t, out.Interrupt)
	assert.Equal(t, InterruptUserEscape, out.Interrupt.Type)
	assert.Empty(t, out.PastSteps)

	out, err = eng.Resume(context.Background(), out, Command{Input: "continue"})
	require.NoError(t, err)
	require.NotNil(t, out.Response)
	require.Len(t, out.PastSteps, 2)

	// Invariant 4: consecutive completed steps' CompletedAction nodes are
	// LedTo-linked.
	first := out.PastSteps[0].CompletedActionNodeID
	second := out.PastSteps[1].CompletedActionNodeID
	require.NotEmpty(t, first)
	require.NotEmpty(t, second)
	assert.True(t, graph.HasEdge("u3", first, second, memory.EdgeLedTo))

	// Invariant 2: sequence numbers are strictly increasing starting at 1.
	lastSeq := uint64(0)
	sub := bus.Subscribe(threadID)
	for {
		select {
		case ev := <-sub.Events():
			assert.Greater(t, ev.Sequence, lastSeq)
			lastSeq = ev.Sequence
		default:
			return
		}
	}
}

func TestEngine_EntityDedupMergesAcrossSteps(t *testing.T) {
	planner := &scriptedPlanner{
		plan: &Plan{Steps: []Step{
			{Description: "fetch account"},
			{Description: "fetch account again"},
		}},
		decisions: []*PlanOrResponse{
			{},
			{Response: respPtr("done")},
		},
	}
	driver := &scriptedDriver{
		results: []*AgentResult{
			{Summary: "first", Output: map[string]interface{}{"id": "001bm00000SA8pSAAT"}},
			{Summary: "second", Output: map[string]interface{}{"id": "001bm00000SA8pSAAT", "Extra": "field"}},
		},
	}
	eng, _, graph := newTestEngine(t, planner, driver)

	state := &WorkflowState{ThreadID: "t4", TaskID: "task4", UserID: "u4", Input: "dedup check"}
	out, err := eng.Run(context.Background(), state)
	require.NoError(t, err)
	require.NotNil(t, out.Response)

	id1 := out.PastSteps[0].ProducedEntityIDs[0]
	id2 := out.PastSteps[1].ProducedEntityIDs[0]
	assert.Equal(t, id1, id2)

	node, ok := graph.Node("u4", id1)
	require.True(t, ok)
	assert.Equal(t, 2, node.AccessCount)
}

func TestEngine_RejectsOversizedPlan(t *testing.T) {
	steps := make([]Step, 101)
	for i := range steps {
		steps[i] = Step{Description: fmt.Sprintf("step %d", i)}
	}
	planner := &scriptedPlanner{plan: &Plan{Steps: steps}}
	driver := &scriptedDriver{}
	eng, _, _ := newTestEngine(t, planner, driver)

	state := &WorkflowState{ThreadID: "t5", TaskID: "task5", UserID: "u5", Input: "too big"}
	_, err := eng.Run(context.Background(), state)
	require.Error(t, err)
}
