package transport

import (
	"net/http"
	"sync"
	"time"

	"github.com/windrose/conductor/circuitbreaker"
	"github.com/windrose/conductor/core"
)

// Pool manages a per-endpoint http.Client plus circuit breaker, caps
// total and per-endpoint concurrency per spec §5, and is grounded on
// the pooled http.Transport the teacher wires into every agent client
// (MaxIdleConns/MaxIdleConnsPerHost), adapted here for a dynamic set of
// agent endpoints rather than one fixed upstream.
type Pool struct {
	mu             sync.RWMutex
	clients        map[string]*http.Client
	breakers       map[string]*circuitbreaker.Breaker
	sema           chan struct{} // global concurrency cap (MaxConcurrentRPC)
	perEPCaps      map[string]chan struct{}
	perEPCap       int
	cbConfig       circuitbreaker.Config
	logger         core.Logger
	requestTimeout time.Duration
}

// PoolConfig configures a Pool.
type PoolConfig struct {
	MaxConcurrentRPC int
	PerEndpointCap   int
	RequestTimeout   time.Duration
	CircuitBreaker   circuitbreaker.Config
	Logger           core.Logger
}

func DefaultPoolConfig() PoolConfig {
	return PoolConfig{
		MaxConcurrentRPC: 8,
		PerEndpointCap:   20,
		RequestTimeout:   30 * time.Second,
		CircuitBreaker:   circuitbreaker.DefaultConfig(),
	}
}

// NewPool constructs a Pool. Per-endpoint http.Client and breaker are
// created lazily on first use.
func NewPool(cfg PoolConfig) *Pool {
	if cfg.MaxConcurrentRPC <= 0 {
		cfg.MaxConcurrentRPC = 8
	}
	if cfg.PerEndpointCap <= 0 {
		cfg.PerEndpointCap = 20
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 30 * time.Second
	}
	if cfg.CircuitBreaker.FailThreshold <= 0 {
		cfg.CircuitBreaker = circuitbreaker.DefaultConfig()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = core.NoOpLogger{}
	}
	return &Pool{
		clients:        make(map[string]*http.Client),
		breakers:       make(map[string]*circuitbreaker.Breaker),
		sema:           make(chan struct{}, cfg.MaxConcurrentRPC),
		perEPCaps:      make(map[string]chan struct{}),
		perEPCap:       cfg.PerEndpointCap,
		cbConfig:       cfg.CircuitBreaker,
		logger:         logger,
		requestTimeout: cfg.RequestTimeout,
	}
}

func (p *Pool) clientFor(endpoint string) *http.Client {
	p.mu.RLock()
	c, ok := p.clients[endpoint]
	p.mu.RUnlock()
	if ok {
		return c
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if c, ok := p.clients[endpoint]; ok {
		return c
	}
	c = &http.Client{
		Timeout: p.requestTimeout,
		Transport: &http.Transport{
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: 10,
			IdleConnTimeout:     90 * time.Second,
		},
	}
	p.clients[endpoint] = c
	return c
}

func (p *Pool) breakerFor(endpoint string) *circuitbreaker.Breaker {
	p.mu.RLock()
	b, ok := p.breakers[endpoint]
	p.mu.RUnlock()
	if ok {
		return b
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if b, ok := p.breakers[endpoint]; ok {
		return b
	}
	b = circuitbreaker.New(endpoint, p.cbConfig, p.logger)
	p.breakers[endpoint] = b
	return b
}

func (p *Pool) semaphoreFor(endpoint string) chan struct{} {
	p.mu.RLock()
	s, ok := p.perEPCaps[endpoint]
	p.mu.RUnlock()
	if ok {
		return s
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if s, ok := p.perEPCaps[endpoint]; ok {
		return s
	}
	s = make(chan struct{}, p.perEPCap)
	p.perEPCaps[endpoint] = s
	return s
}

// Breaker exposes the endpoint's breaker for status reporting.
func (p *Pool) Breaker(endpoint string) *circuitbreaker.Breaker {
	return p.breakerFor(endpoint)
}
