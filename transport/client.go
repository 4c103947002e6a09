package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/google/uuid"

	"github.com/windrose/conductor/core"
)

// Client invokes remote agents over JSON-RPC 2.0/HTTP, applying a
// circuit breaker and retry policy per endpoint.
type Client struct {
	pool   *Pool
	retry  RetryConfig
	logger core.Logger
	tel    core.Telemetry
}

// NewClient builds a Client over the given Pool.
func NewClient(pool *Pool, retryCfg RetryConfig, logger core.Logger, tel core.Telemetry) *Client {
	if logger == nil {
		logger = core.NoOpLogger{}
	}
	if tel == nil {
		tel = core.NoOpTelemetry{}
	}
	return &Client{pool: pool, retry: retryCfg, logger: logger, tel: tel}
}

// Call invokes the process_task method at endpoint, honoring the endpoint's
// circuit breaker and the client's retry policy. Returns a *core.FrameworkError
// with an appropriate Kind on failure so callers (the execution engine) can
// branch without parsing strings, per spec §4.1/§7.
func (c *Client) Call(ctx context.Context, endpoint string, params TaskParams) (*TaskResult, error) {
	ctx, span := c.tel.StartSpan(ctx, "transport.call")
	defer span.End()
	span.SetAttribute("endpoint", endpoint)
	span.SetAttribute("capability", params.Capability)

	breaker := c.pool.breakerFor(endpoint)
	sema := c.pool.semaphoreFor(endpoint)

	var result *TaskResult
	err := retry(ctx, c.retry, func() error {
		if !breaker.CanExecute() {
			return core.NewError("transport.call", core.KindCircuitOpen, core.ErrCircuitOpen)
		}

		select {
		case c.pool.sema <- struct{}{}:
		case <-ctx.Done():
			return ctx.Err()
		}
		select {
		case sema <- struct{}{}:
		case <-ctx.Done():
			<-c.pool.sema
			return ctx.Err()
		}
		defer func() { <-sema; <-c.pool.sema }()

		res, callErr := c.doCall(ctx, endpoint, params)
		if callErr != nil {
			if core.CountsTowardBreaker(callErr) {
				breaker.RecordFailure()
			}
			return callErr
		}
		breaker.RecordSuccess()
		result = res
		return nil
	})
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	return result, nil
}

func (c *Client) doCall(ctx context.Context, endpoint string, params TaskParams) (*TaskResult, error) {
	req := Request{
		JSONRPC: "2.0",
		Method:  "process_task",
		Params:  params,
		ID:      uuid.NewString(),
	}
	body, err := json.Marshal(req)
	if err != nil {
		return nil, core.NewError("transport.call", core.KindInvalidRequest, err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, core.NewError("transport.call", core.KindInvalidRequest, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	client := c.pool.clientFor(endpoint)
	httpResp, err := client.Do(httpReq)
	if err != nil {
		// Network-level failure: DNS, connection refused, timeout. Always transient.
		return nil, core.NewError("transport.call", core.KindTransient, err)
	}
	defer httpResp.Body.Close()

	raw, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, core.NewError("transport.call", core.KindTransient, err)
	}

	if httpResp.StatusCode >= 500 {
		return nil, core.NewError("transport.call", core.KindTransient,
			fmt.Errorf("endpoint returned status %d", httpResp.StatusCode))
	}
	if httpResp.StatusCode >= 400 {
		return nil, core.NewError("transport.call", core.KindPermanent,
			fmt.Errorf("endpoint returned status %d", httpResp.StatusCode))
	}

	var rpcResp Response
	if err := json.Unmarshal(raw, &rpcResp); err != nil {
		return nil, core.NewError("transport.call", core.KindTransient, err)
	}

	if rpcResp.Error != nil {
		return nil, c.classifyRPCError(rpcResp.Error)
	}

	resultBytes, err := json.Marshal(rpcResp.Result)
	if err != nil {
		return nil, core.NewError("transport.call", core.KindTransient, err)
	}
	var result TaskResult
	if err := json.Unmarshal(resultBytes, &result); err != nil {
		return nil, core.NewError("transport.call", core.KindTransient, err)
	}
	return &result, nil
}

// classifyRPCError maps a JSON-RPC error object to a Kind. Application-level
// rejections (CodeAgentRejected) never count toward the circuit breaker;
// standard JSON-RPC protocol errors are treated as permanent (the request
// itself was malformed, retrying identically will not help).
func (c *Client) classifyRPCError(rpcErr *RPCError) error {
	kind := core.KindPermanent
	if rpcErr.Code == CodeAgentRejected {
		kind = core.KindAgentRejected
	}
	return core.NewError("transport.call", kind, fmt.Errorf("rpc error %d: %s", rpcErr.Code, rpcErr.Message))
}
