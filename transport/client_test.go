package transport

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/windrose/conductor/circuitbreaker"
	"github.com/windrose/conductor/core"
)

func newTestClient(maxAttempts int, cb circuitbreaker.Config) *Client {
	pool := NewPool(PoolConfig{
		MaxConcurrentRPC: 4,
		PerEndpointCap:   4,
		RequestTimeout:   2 * time.Second,
		CircuitBreaker:   cb,
	})
	rc := DefaultRetryConfig()
	rc.MaxAttempts = maxAttempts
	rc.InitialDelay = time.Millisecond
	rc.MaxDelay = 5 * time.Millisecond
	return NewClient(pool, rc, nil, nil)
}

func TestClient_SuccessfulCall(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req Request
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		resp := Response{
			JSONRPC: "2.0",
			ID:      req.ID,
			Result: TaskResult{
				Status: "success",
				Output: map[string]interface{}{"echo": "ok"},
			},
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(resp)
	}))
	defer server.Close()

	c := newTestClient(3, circuitbreaker.DefaultConfig())
	result, err := c.Call(context.TODO(), server.URL, TaskParams{TaskID: "t1", Capability: "echo"})
	require.NoError(t, err)
	assert.Equal(t, "success", result.Status)
}

func TestClient_AgentRejectedDoesNotTripBreaker(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req Request
		json.NewDecoder(r.Body).Decode(&req)
		resp := Response{
			JSONRPC: "2.0",
			ID:      req.ID,
			Error:   &RPCError{Code: CodeAgentRejected, Message: "unsupported capability"},
		}
		json.NewEncoder(w).Encode(resp)
	}))
	defer server.Close()

	c := newTestClient(1, circuitbreaker.Config{FailThreshold: 1, ResetTimeout: time.Minute, ProbeCount: 1})
	for i := 0; i < 5; i++ {
		_, err := c.Call(context.TODO(), server.URL, TaskParams{TaskID: "t1", Capability: "x"})
		require.Error(t, err)
		assert.Equal(t, core.KindAgentRejected, core.KindOf(err))
	}
	assert.Equal(t, circuitbreaker.StateClosed, c.pool.breakerFor(server.URL).State(),
		"application-level rejection must never trip the breaker")
}

func TestClient_TransientFailureTripsBreakerAndFailsFast(t *testing.T) {
	var hits int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt64(&hits, 1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	c := newTestClient(1, circuitbreaker.Config{FailThreshold: 2, ResetTimeout: time.Minute, ProbeCount: 1})
	for i := 0; i < 2; i++ {
		_, err := c.Call(context.TODO(), server.URL, TaskParams{TaskID: "t1", Capability: "x"})
		require.Error(t, err)
	}
	assert.Equal(t, circuitbreaker.StateOpen, c.pool.breakerFor(server.URL).State())

	before := atomic.LoadInt64(&hits)
	_, err := c.Call(context.TODO(), server.URL, TaskParams{TaskID: "t1", Capability: "x"})
	require.Error(t, err)
	assert.Equal(t, core.KindCircuitOpen, core.KindOf(err))
	assert.Equal(t, before, atomic.LoadInt64(&hits), "open breaker should fail fast without hitting the endpoint")
}

func TestClient_RetriesTransientThenSucceeds(t *testing.T) {
	var attempt int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt64(&attempt, 1)
		if n < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		var req Request
		json.NewDecoder(r.Body).Decode(&req)
		resp := Response{JSONRPC: "2.0", ID: req.ID, Result: TaskResult{Status: "success"}}
		json.NewEncoder(w).Encode(resp)
	}))
	defer server.Close()

	c := newTestClient(5, circuitbreaker.DefaultConfig())
	result, err := c.Call(context.TODO(), server.URL, TaskParams{TaskID: "t1", Capability: "x"})
	require.NoError(t, err)
	assert.Equal(t, "success", result.Status)
	assert.Equal(t, int64(3), atomic.LoadInt64(&attempt))
}
