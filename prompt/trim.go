// Package prompt assembles the plan/execute/replan prompt text handed to
// the Planner and AgentDriver collaborators (spec §4.10), and shapes the
// rolling conversation window to a token budget. Grounded on
// gomind/orchestration/default_prompt_builder.go's strings.Builder
// section-composition style and
// gomind/orchestration/template_prompt_builder.go's data-driven approach,
// generalized from JSON-plan-formatting prompts to this spec's own
// plan/execute/replan shapes.
package prompt

import "github.com/windrose/conductor/engine"

// approxTokens is the cheap chars/4 proxy gomind's own token estimators
// use when no tokenizer is wired (core.TokenCounter is int-count based,
// not exposed here since the example pack has no tokenizer library).
func approxTokens(s string) int {
	return (len(s) + 3) / 4
}

// Trimmer shapes a conversation window to a token budget, keeping the
// first SystemKeep system messages and as many of the most recent turns
// as fit, without ever splitting a tool-call message from its matching
// tool-result message (spec §8 testable property #8).
type Trimmer struct {
	TokenBudget int
	SystemKeep  int
}

// NewTrimmer builds a Trimmer with the spec's literal defaults: a 4000
// token budget, keeping the first 2 system messages untouched.
func NewTrimmer(tokenBudget int) *Trimmer {
	if tokenBudget <= 0 {
		tokenBudget = 4000
	}
	return &Trimmer{TokenBudget: tokenBudget, SystemKeep: 2}
}

// Trim implements engine.Trimmer.
func (t *Trimmer) Trim(messages []engine.Message) []engine.Message {
	if len(messages) == 0 {
		return messages
	}

	var kept []engine.Message
	budget := t.TokenBudget

	systemKept := 0
	var rest []engine.Message
	for _, m := range messages {
		if m.Role == engine.RoleSystem && systemKept < t.SystemKeep {
			kept = append(kept, m)
			budget -= approxTokens(m.Content)
			systemKept++
			continue
		}
		rest = append(rest, m)
	}

	// Walk rest from the tail, pulling whole turns in; a turn is either a
	// single message or a tool-call/tool-result pair that must move
	// together.
	groups := groupToolPairs(rest)
	var tail []engine.Message
	for i := len(groups) - 1; i >= 0; i-- {
		cost := 0
		for _, m := range groups[i] {
			cost += approxTokens(m.Content)
		}
		if cost > budget && len(tail) > 0 {
			break
		}
		tail = append(groups[i], tail...)
		budget -= cost
	}

	return append(kept, tail...)
}

// groupToolPairs partitions messages into turns, each turn being either
// one plain message or a [tool-call, tool-result] pair sharing a
// ToolCallID. Assumes a tool-call message is immediately followed by its
// result, which is how AgentDriver implementations append them.
func groupToolPairs(messages []engine.Message) [][]engine.Message {
	var groups [][]engine.Message
	for i := 0; i < len(messages); i++ {
		m := messages[i]
		if m.IsToolCall && i+1 < len(messages) && messages[i+1].ToolCallID == m.ToolCallID && m.ToolCallID != "" {
			groups = append(groups, []engine.Message{m, messages[i+1]})
			i++
			continue
		}
		groups = append(groups, []engine.Message{m})
	}
	return groups
}
