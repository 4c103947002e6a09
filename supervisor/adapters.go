// Package supervisor brings up every component in boot order and wires
// them into a running orchestrator (spec §4.11). It also hosts the two
// thin adapters spec §1 asks for behind the components it otherwise
// leaves opaque: a Planner backed by a configured LLM-provider endpoint,
// and an AgentDriver that fans a step out to a domain agent resolved
// through the Agent Registry (C3). Grounded on
// gomind/core/cmd/example/main.go's boot sequence and
// gomind/orchestration/catalog.go's capability-to-endpoint resolution,
// both reusing transport.Client (C1) rather than a bespoke LLM SDK
// client, since spec §1 puts the LLM behind "a thin adapter" and the
// retrieved pack carries no LLM provider library to ground one on.
package supervisor

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/windrose/conductor/core"
	"github.com/windrose/conductor/engine"
	"github.com/windrose/conductor/prompt"
	"github.com/windrose/conductor/registry"
	"github.com/windrose/conductor/serialize"
	"github.com/windrose/conductor/transport"
)

// rpcStep is the wire shape a plan/replan response's steps are decoded
// from; field names mirror engine.Step's json tags.
type rpcStep struct {
	Description string `json:"description"`
	HintedAgent string `json:"hinted_agent,omitempty"`
	HintedTool  string `json:"hinted_tool,omitempty"`
}

func toEngineSteps(steps []rpcStep) []engine.Step {
	out := make([]engine.Step, len(steps))
	for i, s := range steps {
		out[i] = engine.Step{Description: s.Description, HintedAgent: s.HintedAgent, HintedTool: s.HintedTool}
	}
	return out
}

// rpcPlanner implements engine.Planner by calling a single configured
// LLM-provider endpoint over the same JSON-RPC/HTTP contract C1 already
// speaks to domain agents, carrying C10's composed prompt text as the
// call's input.
type rpcPlanner struct {
	client   *transport.Client
	endpoint string
	logger   core.Logger
}

func newRPCPlanner(client *transport.Client, endpoint string, logger core.Logger) *rpcPlanner {
	if logger == nil {
		logger = core.NoOpLogger{}
	}
	return &rpcPlanner{client: client, endpoint: endpoint, logger: logger.WithComponent("supervisor.planner")}
}

type planResponse struct {
	Steps []rpcStep `json:"steps"`
}

func (p *rpcPlanner) Plan(ctx context.Context, input string, capabilities []string, memorySummary string) (*engine.Plan, error) {
	text := prompt.BuildPlanPrompt(input, capabilities, memorySummary)
	result, err := p.client.Call(ctx, p.endpoint, transport.TaskParams{
		TaskID:     uuid.NewString(),
		Capability: "plan",
		Input:      map[string]interface{}{"prompt": text},
	})
	if err != nil {
		return nil, err
	}

	var parsed planResponse
	if err := serialize.Decode(mustEncode(result.Output), &parsed); err != nil {
		return nil, core.NewError("supervisor.plan", core.KindInvalidRequest, err)
	}
	return &engine.Plan{Steps: toEngineSteps(parsed.Steps)}, nil
}

type replanResponse struct {
	Response *string    `json:"response,omitempty"`
	Plan     *planResponse `json:"plan,omitempty"`
}

func (p *rpcPlanner) Replan(ctx context.Context, state *engine.WorkflowState, finalize bool) (*engine.PlanOrResponse, error) {
	text := prompt.BuildReplanPrompt(state, finalize)
	result, err := p.client.Call(ctx, p.endpoint, transport.TaskParams{
		TaskID:     uuid.NewString(),
		Capability: "replan",
		Input:      map[string]interface{}{"prompt": text},
	})
	if err != nil {
		return nil, err
	}

	var parsed replanResponse
	if err := serialize.Decode(mustEncode(result.Output), &parsed); err != nil {
		return nil, core.NewError("supervisor.replan", core.KindInvalidRequest, err)
	}

	decision := &engine.PlanOrResponse{Response: parsed.Response}
	if parsed.Plan != nil {
		decision.Plan = &engine.Plan{Steps: toEngineSteps(parsed.Plan.Steps)}
	}
	return decision, nil
}

func mustEncode(v interface{}) []byte {
	blob, err := serialize.Encode(v)
	if err != nil {
		return []byte("null")
	}
	return blob
}

// registryDriver implements engine.AgentDriver by resolving a step's
// hinted agent or capability through the Agent Registry (C3) and
// invoking it over transport.Client (C1+C2).
type registryDriver struct {
	catalog *registry.Catalog
	client  *transport.Client
	logger  core.Logger
}

func newRegistryDriver(catalog *registry.Catalog, client *transport.Client, logger core.Logger) *registryDriver {
	if logger == nil {
		logger = core.NoOpLogger{}
	}
	return &registryDriver{catalog: catalog, client: client, logger: logger.WithComponent("supervisor.driver")}
}

func (d *registryDriver) resolveEndpoint(step engine.Step) (string, string, error) {
	if step.HintedAgent != "" {
		entry, ok := d.catalog.Get(step.HintedAgent)
		if !ok || entry.Status != registry.StatusOnline {
			return "", "", core.NewError("supervisor.driver", core.KindUnknownCapability, fmt.Errorf("agent %q is not online", step.HintedAgent))
		}
		return entry.Card.Endpoint, step.HintedTool, nil
	}
	if step.HintedTool != "" {
		cards := d.catalog.LookupCapability(step.HintedTool)
		if len(cards) == 0 {
			return "", "", core.NewError("supervisor.driver", core.KindUnknownCapability, fmt.Errorf("no online agent advertises %q", step.HintedTool))
		}
		return cards[0].Endpoint, step.HintedTool, nil
	}
	return "", "", core.NewError("supervisor.driver", core.KindUnknownCapability, fmt.Errorf("step has neither a hinted agent nor a hinted tool"))
}

func (d *registryDriver) Invoke(ctx context.Context, task engine.AgentTask) (*engine.AgentResult, error) {
	endpoint, capability, err := d.resolveEndpoint(task.Step)
	if err != nil {
		return nil, err
	}

	result, err := d.client.Call(ctx, endpoint, transport.TaskParams{
		TaskID:     uuid.NewString(),
		Capability: capability,
		Input:      map[string]interface{}{"prompt": prompt.BuildExecutePrompt(task)},
	})
	if err != nil {
		return nil, err
	}

	if result.Status == "human_input_required" {
		question, _ := result.Output["question"].(string)
		return nil, &engine.HumanInputRequired{Question: question}
	}

	summary, _ := result.Output["summary"].(string)
	return &engine.AgentResult{Summary: summary, Output: result.Output}, nil
}
