package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/windrose/conductor/checkpoint"
	"github.com/windrose/conductor/engine"
	"github.com/windrose/conductor/entity"
	"github.com/windrose/conductor/memory"
	"github.com/windrose/conductor/observer"
)

type stubPlanner struct {
	plan     *engine.Plan
	response string
}

func (p *stubPlanner) Plan(ctx context.Context, input string, caps []string, memorySummary string) (*engine.Plan, error) {
	return p.plan, nil
}

func (p *stubPlanner) Replan(ctx context.Context, state *engine.WorkflowState, finalize bool) (*engine.PlanOrResponse, error) {
	resp := p.response
	return &engine.PlanOrResponse{Response: &resp}, nil
}

type stubDriver struct{}

func (stubDriver) Invoke(ctx context.Context, task engine.AgentTask) (*engine.AgentResult, error) {
	return &engine.AgentResult{Summary: "stub done"}, nil
}

func newTestServer(t *testing.T) *Server {
	t.Helper()
	graph := memory.New(memory.DefaultDecayConfig(), nil, nil)
	bus := observer.New(10, nil)
	store := checkpoint.NewMemoryStore()
	interrupts := engine.NewInterruptController()
	rules, err := entity.LoadRules([]byte("rules: []"))
	require.NoError(t, err)
	extractor := entity.New(rules)

	planner := &stubPlanner{
		plan:     &engine.Plan{Steps: []engine.Step{{Description: "do the thing"}}},
		response: "all done",
	}
	eng := engine.New(engine.DefaultConfig(), graph, extractor, bus, store, planner, stubDriver{}, interrupts, nil, nil)

	card := AgentCardView{Name: "conductor", Version: "0.1.0", Endpoint: "http://localhost:8080/a2a", Capabilities: []string{"orchestrate"}}
	return New(eng, interrupts, bus, card, nil, nil)
}

func TestHandleA2A_HappyPath(t *testing.T) {
	srv := newTestServer(t)

	body, _ := json.Marshal(RPCRequest{
		JSONRPC: "2.0",
		Method:  "process_task",
		ID:      "req-1",
		Params: TaskParams{
			TaskID:      "task-1",
			Instruction: "do the thing",
			Context:     TaskContext{ThreadID: "thread-1", UserID: "user-1", Source: "cli_client"},
		},
	})

	req := httptest.NewRequest(http.MethodPost, "/a2a", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp RPCResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	require.Nil(t, resp.Error)

	resultBytes, _ := json.Marshal(resp.Result)
	var view TaskResultView
	require.NoError(t, json.Unmarshal(resultBytes, &view))
	assert.Equal(t, "completed", view.Status)
	require.NotNil(t, view.Response)
	assert.Equal(t, "all done", *view.Response)
	assert.Equal(t, []int{0}, view.Plan.Completed)
}

func TestHandleA2A_RejectsUnknownMethod(t *testing.T) {
	srv := newTestServer(t)
	body, _ := json.Marshal(RPCRequest{JSONRPC: "2.0", Method: "bogus", ID: "req-2"})
	req := httptest.NewRequest(http.MethodPost, "/a2a", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	var resp RPCResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	require.NotNil(t, resp.Error)
	assert.Equal(t, codeMethodNotFound, resp.Error.Code)
}

func TestHandleA2A_RejectsWhileDraining(t *testing.T) {
	srv := newTestServer(t)
	srv.Drain()

	body, _ := json.Marshal(RPCRequest{
		JSONRPC: "2.0",
		Method:  "process_task",
		ID:      "req-3",
		Params: TaskParams{
			TaskID:      "task-3",
			Instruction: "do the thing",
			Context:     TaskContext{ThreadID: "thread-3", UserID: "user-3", Source: "cli_client"},
		},
	})
	req := httptest.NewRequest(http.MethodPost, "/a2a", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	var resp RPCResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	require.NotNil(t, resp.Error)
}

func TestHandleAgentCard(t *testing.T) {
	srv := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/a2a/agent-card", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var card AgentCardView
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&card))
	assert.Equal(t, "conductor", card.Name)
	assert.Contains(t, card.Capabilities, "orchestrate")
}
