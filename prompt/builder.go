package prompt

import (
	"context"
	"fmt"
	"strings"

	"github.com/windrose/conductor/engine"
	"github.com/windrose/conductor/memory"
)

// Builder assembles the plan/execute/replan prompt text from spec §4.10,
// and implements engine.MemorySummarizer for the Planner prompt's memory
// summary. Grounded on gomind/orchestration/default_prompt_builder.go's
// section-by-section strings.Builder composition.
type Builder struct {
	graph *memory.Graph

	// TopNImportant bounds how many memories the plan-prompt summary
	// names, per spec §4.10's "top-N important memories".
	TopNImportant int
	// ClusterHeadlines bounds how many topic clusters get a headline.
	ClusterHeadlines int
}

// NewBuilder constructs a Builder over graph with the spec's literal
// defaults: 8 important memories, 4 cluster headlines.
func NewBuilder(graph *memory.Graph) *Builder {
	return &Builder{graph: graph, TopNImportant: 8, ClusterHeadlines: 4}
}

// Summarize implements engine.MemorySummarizer: a compact summary of the
// top-N important memories plus topic cluster headlines, per spec §4.10.
func (b *Builder) Summarize(ctx context.Context, userID string) string {
	if b.graph == nil {
		return ""
	}

	important := b.graph.Retrieve(userID, memory.Query{}, memory.Filter{}, 0, 0, b.TopNImportant, nil)
	clusters := b.graph.Clusters(userID)

	var sb strings.Builder
	if len(important) > 0 {
		sb.WriteString("Important memories:\n")
		for _, sn := range important {
			fmt.Fprintf(&sb, "- [%s] %s\n", sn.Node.Kind, sn.Node.Summary)
		}
	}

	headlines := b.clusterHeadlines(userID, clusters)
	if len(headlines) > 0 {
		sb.WriteString("Topic clusters:\n")
		for _, h := range headlines {
			fmt.Fprintf(&sb, "- %s\n", h)
		}
	}

	return strings.TrimSpace(sb.String())
}

// clusterHeadlines picks a representative summary per cluster (the
// highest-access-count node) as a one-line headline, capped at
// ClusterHeadlines clusters.
func (b *Builder) clusterHeadlines(userID string, clusters []memory.Cluster) []string {
	n := b.ClusterHeadlines
	if n <= 0 || n > len(clusters) {
		n = len(clusters)
	}
	out := make([]string, 0, n)
	for _, c := range clusters[:n] {
		var best *memory.Node
		for _, id := range c.Nodes {
			node, ok := b.graph.Node(userID, id)
			if !ok {
				continue
			}
			if best == nil || node.AccessCount > best.AccessCount {
				best = node
			}
		}
		if best != nil && best.Summary != "" {
			out = append(out, fmt.Sprintf("%s (+%d related)", best.Summary, len(c.Nodes)-1))
		}
	}
	return out
}

// BuildPlanPrompt composes the Planner's initial plan prompt: the user's
// input, the C3 capability catalog, and the memory summary from
// Summarize.
func BuildPlanPrompt(input string, capabilities []string, memorySummary string) string {
	var sb strings.Builder
	sb.WriteString("You are planning a sequence of steps to satisfy a user request.\n\n")
	fmt.Fprintf(&sb, "Request: %s\n\n", input)

	sb.WriteString("Available capabilities:\n")
	if len(capabilities) == 0 {
		sb.WriteString("(none registered)\n")
	} else {
		for _, c := range capabilities {
			fmt.Fprintf(&sb, "- %s\n", c)
		}
	}

	if memorySummary != "" {
		fmt.Fprintf(&sb, "\nRelevant memory:\n%s\n", memorySummary)
	}

	sb.WriteString("\nRespond with an ordered list of steps needed to satisfy the request.")
	return sb.String()
}

// BuildExecutePrompt composes one step's execute-task prompt: the step
// itself, the top-K relevant memories (full content for the top two per
// spec §4.10), the previous step's outcome, and the trimmed conversation
// tail.
func BuildExecutePrompt(task engine.AgentTask) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Original request: %s\n\n", task.Input)
	fmt.Fprintf(&sb, "Current step: %s\n", task.Step.Description)
	if task.Step.HintedAgent != "" {
		fmt.Fprintf(&sb, "Hinted agent: %s\n", task.Step.HintedAgent)
	}
	if task.Step.HintedTool != "" {
		fmt.Fprintf(&sb, "Hinted tool: %s\n", task.Step.HintedTool)
	}

	if task.PreviousOutcome != "" {
		fmt.Fprintf(&sb, "\nPrevious step outcome: %s\n", task.PreviousOutcome)
	}
	if task.PendingAnswer != "" {
		fmt.Fprintf(&sb, "\nUser answered your question: %s\n", task.PendingAnswer)
	}

	if len(task.Memories) > 0 {
		sb.WriteString("\nRelevant memories:\n")
		for _, m := range task.Memories {
			if m.FullContent != nil {
				fmt.Fprintf(&sb, "- %s (full): %v\n", m.Summary, m.FullContent)
			} else {
				fmt.Fprintf(&sb, "- %s\n", m.Summary)
			}
		}
	}

	if len(task.ConversationTail) > 0 {
		sb.WriteString("\nConversation so far:\n")
		for _, m := range task.ConversationTail {
			fmt.Fprintf(&sb, "%s: %s\n", m.Role, m.Content)
		}
	}

	return sb.String()
}

// BuildReplanPrompt composes the Replanner's prompt: the current plan,
// completed-step summaries, and an optional verbatim user modification
// request. finalize signals a "summarize & finalize" prompt (pastSteps
// already covers every plan step) rather than an ordinary mid-plan
// replan.
func BuildReplanPrompt(state *engine.WorkflowState, finalize bool) string {
	var sb strings.Builder
	if finalize {
		sb.WriteString("All planned steps are complete. Summarize the outcome for the user.\n\n")
	} else {
		sb.WriteString("Review progress and decide whether the plan needs to change.\n\n")
	}

	sb.WriteString("Original request: " + state.Input + "\n\n")

	sb.WriteString("Plan:\n")
	for i, s := range state.Plan.Steps {
		fmt.Fprintf(&sb, "%d. %s\n", i, s.Description)
	}

	if len(state.PastSteps) > 0 {
		sb.WriteString("\nCompleted steps:\n")
		for _, exec := range state.PastSteps {
			fmt.Fprintf(&sb, "- [%s] %s: %s\n", exec.Outcome, exec.Description, exec.Summary)
		}
	}

	if state.ForceReplan && state.ModificationRequest != "" {
		fmt.Fprintf(&sb, "\nUser requested a change: %s\n", state.ModificationRequest)
	}

	return sb.String()
}
