package prompt

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/windrose/conductor/engine"
	"github.com/windrose/conductor/memory"
)

func TestBuilder_Summarize_ListsImportantMemoriesAndClusters(t *testing.T) {
	graph := memory.New(memory.DefaultDecayConfig(), nil, nil)

	id1, err := graph.Store(&memory.Node{UserID: "u1", Kind: memory.KindDomainEntity, Summary: "GenePoint account", Tags: []string{"account"}, BaseRelevance: 0.8})
	require.NoError(t, err)
	id2, err := graph.Store(&memory.Node{UserID: "u1", Kind: memory.KindCompletedAction, Summary: "Looked up GenePoint", Tags: []string{"account"}, BaseRelevance: 0.6})
	require.NoError(t, err)
	require.NoError(t, graph.Relate("u1", id1, id2, memory.EdgeLedTo, 1.0))

	b := NewBuilder(graph)
	summary := b.Summarize(context.Background(), "u1")
	assert.Contains(t, summary, "GenePoint")
}

func TestBuilder_Summarize_EmptyGraphReturnsEmptyString(t *testing.T) {
	graph := memory.New(memory.DefaultDecayConfig(), nil, nil)
	b := NewBuilder(graph)
	assert.Equal(t, "", b.Summarize(context.Background(), "u1"))
}

func TestBuildPlanPrompt_IncludesInputCapabilitiesAndMemory(t *testing.T) {
	out := BuildPlanPrompt("find the account", []string{"salesforce.search", "jira.create_issue"}, "Important memories:\n- GenePoint account\n")
	assert.Contains(t, out, "find the account")
	assert.Contains(t, out, "salesforce.search")
	assert.Contains(t, out, "jira.create_issue")
	assert.Contains(t, out, "GenePoint account")
}

func TestBuildPlanPrompt_NoCapabilitiesIsExplicit(t *testing.T) {
	out := BuildPlanPrompt("do something", nil, "")
	assert.Contains(t, out, "none registered")
}

func TestBuildExecutePrompt_IncludesStepMemoriesAndPreviousOutcome(t *testing.T) {
	task := engine.AgentTask{
		Input: "find the account",
		Step:  engine.Step{Description: "search salesforce for GenePoint", HintedAgent: "salesforce-agent"},
		Memories: []engine.MemoryContext{
			{Summary: "GenePoint account", FullContent: map[string]interface{}{"id": "001xyz"}},
			{Summary: "related opportunity"},
		},
		PreviousOutcome: "found 3 candidates",
		ConversationTail: []engine.Message{
			{Role: engine.RoleUser, Content: "find GenePoint"},
		},
	}
	out := BuildExecutePrompt(task)
	assert.Contains(t, out, "search salesforce for GenePoint")
	assert.Contains(t, out, "salesforce-agent")
	assert.Contains(t, out, "found 3 candidates")
	assert.Contains(t, out, "001xyz")
	assert.Contains(t, out, "related opportunity")
	assert.Contains(t, out, "find GenePoint")
}

func TestBuildReplanPrompt_FinalizeVsMidPlan(t *testing.T) {
	state := &engine.WorkflowState{
		Input: "find and file a bug",
		Plan:  engine.Plan{Steps: []engine.Step{{Description: "step one"}, {Description: "step two"}}},
		PastSteps: []engine.StepExecution{
			{Description: "step one", Outcome: engine.OutcomeCompleted, Summary: "done"},
		},
	}

	mid := BuildReplanPrompt(state, false)
	assert.Contains(t, mid, "Review progress")
	assert.Contains(t, mid, "step one")

	final := BuildReplanPrompt(state, true)
	assert.Contains(t, final, "Summarize the outcome")
}

func TestBuildReplanPrompt_IncludesModificationRequest(t *testing.T) {
	state := &engine.WorkflowState{
		Input:               "do the task",
		Plan:                engine.Plan{Steps: []engine.Step{{Description: "step one"}}},
		ForceReplan:         true,
		ModificationRequest: "use the sandbox org instead",
	}
	out := BuildReplanPrompt(state, false)
	assert.Contains(t, out, "use the sandbox org instead")
}
