package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"

	"github.com/windrose/conductor/core"
	"github.com/windrose/conductor/engine"
	"github.com/windrose/conductor/observer"
)

// Server is the Transport Surface (C9): one HTTP mux wiring process_task,
// the SSE event stream, the WebSocket interrupt/resume channel, and the
// agent-card endpoint over a single Engine. Grounded on the teacher's
// per-transport http.Handler factories (ui/transports/sse,
// ui/transports/websocket), collapsed into one mux since this spec's
// transports share one engine rather than one per chat agent.
type Server struct {
	engine      *engine.Engine
	interrupts  *engine.InterruptController
	bus         *observer.Bus
	card        AgentCardView
	logger      core.Logger
	tel         core.Telemetry

	// threadLocks serializes process_task/resume calls per thread, per
	// spec §5's "each engine handles a single WorkflowState sequentially
	// and is the sole writer to that state".
	threadLocks sync.Map // threadID -> *sync.Mutex

	// draining is flipped by Shutdown; new process_task calls are
	// refused once set, per spec §4.11.
	mu       sync.RWMutex
	draining bool
}

// New builds a Server. logger/tel fall back to no-ops.
func New(eng *engine.Engine, interrupts *engine.InterruptController, bus *observer.Bus, card AgentCardView, logger core.Logger, tel core.Telemetry) *Server {
	if logger == nil {
		logger = core.NoOpLogger{}
	}
	if tel == nil {
		tel = core.NoOpTelemetry{}
	}
	return &Server{
		engine:     eng,
		interrupts: interrupts,
		bus:        bus,
		card:       card,
		logger:     logger.WithComponent("api"),
		tel:        tel,
	}
}

// Handler builds the full routed http.Handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/a2a", s.handleA2A)
	mux.HandleFunc("/a2a/stream", s.handleStream)
	mux.HandleFunc("/a2a/agent-card", s.handleAgentCard)
	mux.HandleFunc("/ws", s.handleWebSocket)
	return mux
}

// Drain refuses new process_task calls, per spec §4.11's shutdown
// sequence. SSE/WS handlers are expected to close on ctx cancellation by
// their caller (the supervisor), not by this flag.
func (s *Server) Drain() {
	s.mu.Lock()
	s.draining = true
	s.mu.Unlock()
}

func (s *Server) isDraining() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.draining
}

func (s *Server) lockFor(threadID string) *sync.Mutex {
	v, _ := s.threadLocks.LoadOrStore(threadID, &sync.Mutex{})
	return v.(*sync.Mutex)
}

func (s *Server) handleA2A(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeRPCError(w, "", codeMethodNotFound, "only POST is supported")
		return
	}

	var req RPCRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeRPCError(w, "", codeParseError, "invalid JSON-RPC envelope")
		return
	}
	if req.Method != "process_task" {
		writeRPCError(w, req.ID, codeMethodNotFound, "unknown method: "+req.Method)
		return
	}
	if req.Params.TaskID == "" || req.Params.Context.ThreadID == "" {
		writeRPCError(w, req.ID, codeInvalidRequest, "taskID and context.threadID are required")
		return
	}

	if s.isDraining() {
		writeRPCError(w, req.ID, codeInternalError, "orchestrator is shutting down")
		return
	}

	view, err := s.processTask(r.Context(), req.Params)
	if err != nil {
		s.logger.Error("process_task failed", map[string]interface{}{"error": err.Error(), "task_id": req.Params.TaskID})
		writeRPCError(w, req.ID, codeInternalError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, RPCResponse{JSONRPC: "2.0", Result: view, ID: req.ID})
}

// processTask runs a new thread to completion/suspension, or resumes an
// existing suspended one, per spec §4.9's contract: the interrupted
// status never loses state because resume state lives in the checkpoint.
func (s *Server) processTask(ctx context.Context, params TaskParams) (TaskResultView, error) {
	lock := s.lockFor(params.Context.ThreadID)
	lock.Lock()
	defer lock.Unlock()

	existing, err := s.engine.LoadCheckpoint(ctx, params.Context.ThreadID)
	if err != nil && !errors.Is(err, core.ErrCheckpointMiss) {
		return TaskResultView{}, err
	}

	var out *engine.WorkflowState
	if existing != nil && existing.Interrupt != nil {
		out, err = s.engine.Resume(ctx, existing, engine.Command{Input: params.Instruction})
	} else {
		state := &engine.WorkflowState{
			ThreadID: params.Context.ThreadID,
			TaskID:   params.TaskID,
			UserID:   params.Context.UserID,
			Input:    params.Instruction,
		}
		out, err = s.engine.Run(ctx, state)
	}
	if err != nil {
		return TaskResultView{}, err
	}
	return buildTaskResultView(s.engine, out), nil
}

func (s *Server) handleAgentCard(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.card)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeRPCError(w http.ResponseWriter, id string, code int, message string) {
	writeJSON(w, http.StatusOK, RPCResponse{JSONRPC: "2.0", Error: &RPCError{Code: code, Message: message}, ID: id})
}
