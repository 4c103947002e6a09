// Command conductord runs the orchestrator: it boots every component in
// spec §4.11's order, serves the Transport Surface (spec §4.9) over HTTP,
// and drains on SIGINT/SIGTERM. Grounded on
// gomind/core/cmd/example/main.go's Initialize-then-Start shape.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/windrose/conductor/api"
	"github.com/windrose/conductor/core"
	"github.com/windrose/conductor/internal/config"
	"github.com/windrose/conductor/supervisor"
)

// graceTimeout bounds how long Shutdown waits for in-flight requests to
// drain before forcing the listener closed, per spec §4.11.
const graceTimeout = 30 * time.Second

func main() {
	cfg := config.New()
	logger := core.NewSimpleLogger()

	sup, err := supervisor.Boot(supervisor.Options{
		Config:             cfg,
		RedisURL:           os.Getenv("ORCH_REDIS_URL"),
		PlannerEndpoint:    os.Getenv("ORCH_PLANNER_ENDPOINT"),
		ExtractorRulesPath: os.Getenv("ORCH_ENTITY_RULES"),
		AgentCard: api.AgentCardView{
			Name:         "conductor",
			Version:      "0.1.0",
			Capabilities: []string{"process_task"},
		},
		Logger: logger,
	})
	if err != nil {
		log.Fatalf("conductord: boot failed: %v", err)
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- sup.ListenAndServe()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		if err != nil {
			log.Fatalf("conductord: server exited: %v", err)
		}
	case sig := <-sigCh:
		logger.Info("shutting down", map[string]interface{}{"signal": sig.String()})
		ctx, cancel := context.WithTimeout(context.Background(), graceTimeout+5*time.Second)
		defer cancel()
		if err := sup.Shutdown(ctx, graceTimeout); err != nil {
			log.Fatalf("conductord: shutdown error: %v", err)
		}
	}
}
