package registry

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/windrose/conductor/core"
)

// DefaultHealthInterval is the default poll period, per spec §4.3.
const DefaultHealthInterval = 60 * time.Second

// HealthPoller periodically checks each agent with GET
// {endpoint}/a2a/agent-card: a status below 400 marks it online, a failed
// request or any other status marks it offline. The response body is not
// read, so the stored agent card is kept as registered. Polling never
// blocks engine progress — failures are logged and recorded, never
// returned to a caller mid-execution. Grounded on
// gomind/orchestration/catalog.go's Refresh loop.
type HealthPoller struct {
	catalog  *Catalog
	client   *http.Client
	interval time.Duration
	logger   core.Logger

	mu      sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewHealthPoller builds a poller over catalog with the given interval
// (DefaultHealthInterval if zero).
func NewHealthPoller(catalog *Catalog, interval time.Duration, logger core.Logger) *HealthPoller {
	if interval <= 0 {
		interval = DefaultHealthInterval
	}
	if logger == nil {
		logger = core.NoOpLogger{}
	}
	return &HealthPoller{
		catalog:  catalog,
		client:   &http.Client{Timeout: 10 * time.Second},
		interval: interval,
		logger:   logger,
	}
}

// Start launches the background polling loop. Stop must be called to
// release it.
func (p *HealthPoller) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.wg.Add(1)
	go p.loop(ctx)
}

// Stop halts the polling loop and waits for the in-flight poll to finish.
func (p *HealthPoller) Stop() {
	p.mu.Lock()
	cancel := p.cancel
	p.cancel = nil
	p.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	p.wg.Wait()
}

func (p *HealthPoller) loop(ctx context.Context) {
	defer p.wg.Done()
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.pollOnce(ctx)
		}
	}
}

func (p *HealthPoller) pollOnce(ctx context.Context) {
	for _, entry := range p.catalog.All() {
		card := entry.Card
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, card.Endpoint+"/a2a/agent-card", nil)
		if err != nil {
			p.catalog.MarkStatus(card.Name, StatusOffline)
			continue
		}
		resp, err := p.client.Do(req)
		if err != nil || resp.StatusCode >= 400 {
			p.logger.Warn("agent health check failed", map[string]interface{}{"agent": card.Name})
			p.catalog.MarkStatus(card.Name, StatusOffline)
			if resp != nil {
				resp.Body.Close()
			}
			continue
		}
		resp.Body.Close()
		p.catalog.MarkStatus(card.Name, StatusOnline)
	}
}
