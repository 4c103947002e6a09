// Package supervisor implements the Supervisor (spec §4.11): it brings
// up every component in boot order C7->C3->C1->C6->C9, wires the single
// WorkflowState store and single memory store spec §4.11 calls for, and
// drains cleanly on shutdown. Grounded on gomind/core/cmd/example/main.go's
// boot sequence shape and AIOrchestrator.Shutdown's bounded-timeout drain
// of in-flight work.
package supervisor

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/windrose/conductor/api"
	"github.com/windrose/conductor/checkpoint"
	"github.com/windrose/conductor/circuitbreaker"
	"github.com/windrose/conductor/core"
	"github.com/windrose/conductor/engine"
	"github.com/windrose/conductor/entity"
	"github.com/windrose/conductor/internal/config"
	"github.com/windrose/conductor/memory"
	"github.com/windrose/conductor/observer"
	"github.com/windrose/conductor/prompt"
	"github.com/windrose/conductor/registry"
	"github.com/windrose/conductor/transport"
)

// Options collects the wiring decisions spec §6's environment variables
// and CLI flags resolve to. Everything here has a working zero value so
// a supervisor can be built for tests without a Redis instance or
// bootstrap file.
type Options struct {
	Config *config.Config

	// RedisURL, when set, backs the checkpoint store, the registry's
	// persistence and the memory graph's DomainEntity schema with the
	// same Redis instance (spec §4.7's "allowed to wrap any embedded
	// KV"). Empty means in-memory, single-process only — fine for tests
	// and for a single-node deployment that accepts losing state across
	// restarts.
	RedisURL string

	// PlannerEndpoint is the single configured LLM-provider endpoint the
	// opaque Planner adapter calls (spec §1's "opaque Planner").
	PlannerEndpoint string

	// ExtractorRulesPath points at the YAML entity-extraction rule file
	// (spec §4.5's "rules are data, not code").
	ExtractorRulesPath string

	// AgentCard advertises this orchestrator's own capabilities at
	// GET /a2a/agent-card (spec §4.9).
	AgentCard api.AgentCardView

	Logger    core.Logger
	Telemetry core.Telemetry
}

// Supervisor owns the process lifecycle: every long-lived component, the
// HTTP listener, and the graceful shutdown sequence.
type Supervisor struct {
	cfg    *config.Config
	logger core.Logger

	checkpoints checkpoint.Store
	catalog     *registry.Catalog
	poller      *registry.HealthPoller
	pool        *transport.Pool
	client      *transport.Client
	bus         *observer.Bus
	graph       *memory.Graph
	extractor   *entity.Extractor
	interrupts  *engine.InterruptController
	eng         *engine.Engine
	server      *api.Server

	httpServer *http.Server
}

// Boot brings up the components in spec §4.11's literal order:
// C7 (checkpoint store) -> C3 (agent registry) -> C1 (RPC transport) ->
// C6 (observer bus) -> C9 (transport surface), wiring C4/C5/C8 in between
// since the engine depends on all of them.
func Boot(opts Options) (*Supervisor, error) {
	cfg := opts.Config
	if cfg == nil {
		cfg = config.New()
	}
	logger := opts.Logger
	if logger == nil {
		logger = core.NewSimpleLogger()
	}
	tel := opts.Telemetry
	if tel == nil {
		tel = core.NoOpTelemetry{}
	}

	s := &Supervisor{cfg: cfg, logger: logger.WithComponent("supervisor")}

	// C7 — Checkpoint Store.
	var store checkpoint.Store
	if opts.RedisURL != "" {
		redisStore, err := checkpoint.NewRedisStore(opts.RedisURL, "conductor")
		if err != nil {
			return nil, fmt.Errorf("supervisor: checkpoint store: %w", err)
		}
		store = redisStore
	} else {
		store = checkpoint.NewMemoryStore()
	}
	s.checkpoints = store

	// C3 — Agent Registry.
	var regBackend registry.Backend
	if opts.RedisURL != "" {
		backend, err := registry.NewRedisBackend(opts.RedisURL, "conductor", logger)
		if err != nil {
			return nil, fmt.Errorf("supervisor: registry backend: %w", err)
		}
		regBackend = backend
	}
	catalog := registry.New(regBackend, logger, tel)
	if regBackend != nil {
		if err := catalog.LoadFromBackend(context.Background()); err != nil {
			logger.Warn("registry: initial load from backend failed", map[string]interface{}{"error": err.Error()})
		}
	}
	if cfg.AgentsConfig != "" {
		cards, err := registry.LoadBootstrapFile(cfg.AgentsConfig)
		if err != nil {
			return nil, fmt.Errorf("supervisor: agents bootstrap: %w", err)
		}
		for _, card := range cards {
			if err := catalog.Register(context.Background(), card); err != nil {
				logger.Warn("registry: bootstrap register failed", map[string]interface{}{"agent": card.Name, "error": err.Error()})
			}
		}
	}
	s.catalog = catalog
	s.poller = registry.NewHealthPoller(catalog, registry.DefaultHealthInterval, logger)
	s.poller.Start(context.Background())

	// C1 — RPC Transport (pool + client over C2's per-endpoint breakers).
	pool := transport.NewPool(transport.PoolConfig{
		MaxConcurrentRPC: cfg.MaxConcurrentRPC,
		PerEndpointCap:   cfg.PerEndpointCap,
		CircuitBreaker: circuitbreaker.Config{
			FailThreshold: cfg.CircuitFailThreshold,
			ResetTimeout:  cfg.CircuitResetTimeout,
			ProbeCount:    cfg.CircuitProbeCount,
		},
		Logger: logger,
	})
	s.pool = pool
	s.client = transport.NewClient(pool, transport.DefaultRetryConfig(), logger, tel)

	// C6 — Observer Bus.
	s.bus = observer.New(cfg.EventQueueSize, logger)

	// C4 — Memory Graph, wired to the bus via the MemorySink adapter so
	// MemoryNodeAdded/MemoryEdgeAdded events carry full node content per
	// spec §4.6.
	graph := memory.New(memory.DefaultDecayConfig(), observer.MemorySink{Bus: s.bus}, logger)
	if opts.RedisURL != "" {
		persist, err := memory.NewRedisBackend(opts.RedisURL, "conductor", logger)
		if err != nil {
			return nil, fmt.Errorf("supervisor: memory persist backend: %w", err)
		}
		graph.SetPersistBackend(persist)
	}
	s.graph = graph

	// C5 — Entity Extractor, rules loaded from YAML (spec §4.5: "rules
	// are data, not code").
	var rules []entity.Rule
	if opts.ExtractorRulesPath != "" {
		raw, err := loadRulesFile(opts.ExtractorRulesPath)
		if err != nil {
			return nil, fmt.Errorf("supervisor: entity rules: %w", err)
		}
		rules = raw
	}
	s.extractor = entity.New(rules)

	// C8 — Plan-Execute Engine, with the two thin adapters from spec §1
	// (rpcPlanner, registryDriver) and C10's prompt builder/trimmer.
	s.interrupts = engine.NewInterruptController()
	planner := newRPCPlanner(s.client, opts.PlannerEndpoint, logger)
	driver := newRegistryDriver(s.catalog, s.client, logger)

	engCfg := engine.DefaultConfig()
	engCfg.MaxSteps = cfg.MaxSteps
	eng := engine.New(engCfg, graph, s.extractor, s.bus, store, planner, driver, s.interrupts, logger, tel)
	eng.SetCapabilitySource(catalog)
	builder := prompt.NewBuilder(graph)
	eng.SetSummarizer(builder)
	eng.SetTrimmer(prompt.NewTrimmer(cfg.TokenBudget))
	s.eng = eng

	// C9 — Transport Surface.
	s.server = api.New(eng, s.interrupts, s.bus, opts.AgentCard, logger, tel)

	return s, nil
}

// loadRulesFile reads and compiles an entity rule file; separated so
// Boot's error wrapping reads cleanly.
func loadRulesFile(path string) ([]entity.Rule, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read entity rules file: %w", err)
	}
	return entity.LoadRules(raw)
}

// ListenAndServe starts the HTTP listener on cfg.Port and blocks until it
// exits (always with a non-nil error, per net/http.Server convention;
// http.ErrServerClosed on a clean Shutdown).
func (s *Supervisor) ListenAndServe() error {
	s.httpServer = &http.Server{
		Addr:    fmt.Sprintf(":%d", s.cfg.Port),
		Handler: s.server.Handler(),
	}
	s.logger.Info("listening", map[string]interface{}{"port": s.cfg.Port})
	err := s.httpServer.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown drains the server per spec §4.11: refuse new tasks, close the
// HTTP listener, stop the health poller, and return once every step has
// completed or graceTimeout elapses. In-flight checkpoints are already
// durable by the time any request returns (the engine checkpoints at
// every node boundary per spec §4.8), so there is nothing left to flush
// here beyond closing connections cleanly.
func (s *Supervisor) Shutdown(ctx context.Context, graceTimeout time.Duration) error {
	s.server.Drain()
	s.poller.Stop()

	shutdownCtx, cancel := context.WithTimeout(ctx, graceTimeout)
	defer cancel()

	if s.httpServer == nil {
		return nil
	}
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		s.logger.Warn("shutdown timed out", map[string]interface{}{"error": err.Error()})
		return err
	}
	s.logger.Info("shutdown complete", nil)
	return nil
}

// Engine exposes the wired Engine, e.g. for tests that want to drive it
// directly without going through HTTP.
func (s *Supervisor) Engine() *engine.Engine { return s.eng }

// Catalog exposes the wired Agent Registry.
func (s *Supervisor) Catalog() *registry.Catalog { return s.catalog }
