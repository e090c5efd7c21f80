// ABOUTME: Routes tool calls to the backend that owns the tool.
// ABOUTME: Consults the circuit breaker before each call and reports the outcome after.

package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/glinthq/glint-gateway/internal/breaker"
	"github.com/glinthq/glint-gateway/internal/registry"
)

// ErrToolNotFound indicates the requested tool is not registered.
var ErrToolNotFound = errors.New("tool not found")

// ErrBackendUnavailable indicates the owning backend's circuit is open.
// This is a routing decision, not a backend failure: callers should try
// another backend or fail the request, and the breaker is not fed a failure
// for it.
var ErrBackendUnavailable = errors.New("backend unavailable")

// DefaultTimeout is the default per-call timeout for tool execution.
const DefaultTimeout = 30 * time.Second

// Caller executes a tool call against a backend. Implementations own the
// transport (HTTP, local process); the router only decides whether and where
// to send the call.
type Caller interface {
	Call(ctx context.Context, backendID, toolName string, input json.RawMessage) (json.RawMessage, error)
}

// Router routes tool calls to backends through the circuit breaker.
type Router struct {
	registry *registry.Registry
	breaker  *breaker.Breaker
	caller   Caller
	timeout  time.Duration
	logger   *slog.Logger
}

// Config contains configuration options for the Router.
type Config struct {
	Registry *registry.Registry
	Breaker  *breaker.Breaker
	Caller   Caller
	Timeout  time.Duration
	Logger   *slog.Logger
}

// New creates a Router with the given configuration.
func New(cfg Config) *Router {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = DefaultTimeout
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Router{
		registry: cfg.Registry,
		breaker:  cfg.Breaker,
		caller:   cfg.Caller,
		timeout:  timeout,
		logger:   logger.With("component", "dispatch"),
	}
}

// RouteToolCall resolves the tool's backend, checks circuit admission, and
// executes the call with the router's timeout. The call outcome is reported
// back to the breaker: transport errors count as failures, results count as
// successes. A rejected admission returns ErrBackendUnavailable without
// touching the breaker's counters.
func (r *Router) RouteToolCall(ctx context.Context, toolName string, input json.RawMessage, requestID string) (json.RawMessage, error) {
	tool, backend := r.registry.GetToolByName(toolName)
	if tool == nil || backend == nil {
		r.logger.Debug("tool not found in registry",
			"tool_name", toolName,
			"request_id", requestID,
		)
		return nil, ErrToolNotFound
	}

	decision := r.breaker.CanExecute(backend.ID)
	if !decision.Allowed {
		r.logger.Warn("call rejected, circuit open",
			"tool_name", toolName,
			"backend_id", backend.ID,
			"request_id", requestID,
		)
		return nil, ErrBackendUnavailable
	}

	r.logger.Info("→ dispatching to backend",
		"tool_name", toolName,
		"backend_id", backend.ID,
		"request_id", requestID,
		"circuit_state", string(decision.State),
	)

	callCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	output, err := r.caller.Call(callCtx, backend.ID, toolName, input)
	if err != nil {
		r.breaker.RecordFailure(backend.ID)
		r.logger.Warn("backend call failed",
			"tool_name", toolName,
			"backend_id", backend.ID,
			"request_id", requestID,
			"error", err,
		)
		return nil, err
	}

	r.breaker.RecordSuccess(backend.ID)
	r.logger.Info("← backend responded",
		"tool_name", toolName,
		"backend_id", backend.ID,
		"request_id", requestID,
	)
	return output, nil
}
