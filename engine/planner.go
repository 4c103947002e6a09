package engine

import "fmt"

// invalidHintedAgents returns every distinct HintedAgent named by steps
// that the capability source does not recognize. Grounded on
// validatePlanAgainstAllowedAgents in the teacher's orchestrator.go: a
// plan step naming an agent that was never offered to the planner is a
// planning defect, not something to discover only once execution tries
// to dispatch to a garbage endpoint.
//
// An empty known-agent set means the capability source isn't wired to an
// agent-name-aware registry (e.g. in unit tests); in that case there is
// nothing to validate against, so every hint passes.
func (e *Engine) invalidHintedAgents(steps []Step) []string {
	known := e.caps.AgentNames()
	if len(known) == 0 {
		return nil
	}
	knownSet := make(map[string]bool, len(known))
	for _, n := range known {
		knownSet[n] = true
	}

	var bad []string
	seen := make(map[string]bool)
	for _, s := range steps {
		if s.HintedAgent == "" || knownSet[s.HintedAgent] || seen[s.HintedAgent] {
			continue
		}
		seen[s.HintedAgent] = true
		bad = append(bad, s.HintedAgent)
	}
	return bad
}

// unknownAgentConstraint renders the modification request handed to the
// Replanner when invalidHintedAgents rejects a plan, so the next attempt
// sees exactly why its previous plan was thrown out.
func unknownAgentConstraint(bad []string) string {
	return fmt.Sprintf("previous plan named unknown agent(s) %v; choose only agents from the offered capability catalog", bad)
}
