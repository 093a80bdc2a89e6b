// Package toolexec implements the ToolExecutor: the per-call pipeline of
// rate limiting, registry lookup, security scanning, parameter validation,
// authorization, and local-or-remote dispatch the Driver runs every
// tool_use block through.
package toolexec

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	facterrors "github.com/dgraft/factengine/pkg/shared/errors"
	"github.com/dgraft/factengine/pkg/shared/logging"
	"github.com/dgraft/factengine/pkg/toolregistry"
)

// DispatchPolicy selects which path is tried first when both a local
// callable and a remote gateway are available.
type DispatchPolicy int

const (
	PreferLocal DispatchPolicy = iota
	PreferRemote
)

// Config controls executor-wide policy.
type Config struct {
	MaxCallsPerMinute     int
	DefaultTimeoutSeconds int
	DispatchPolicy        DispatchPolicy
	EnableFallback        bool
}

// Executor runs the full per-call pipeline described in spec.md §4.6.
type Executor struct {
	cfg         Config
	registry    *toolregistry.Registry
	rateLimiter *RateLimiter
	security    *SecurityScanner
	params      *ParamValidator
	auth        *AuthorizationManager
	gateway     *GatewayClient
	logger      *logging.Logger
}

// New constructs an Executor. gateway may be nil to disable remote dispatch
// entirely (every call runs locally).
func New(cfg Config, registry *toolregistry.Registry, auth *AuthorizationManager, gateway *GatewayClient, logger *logging.Logger) *Executor {
	if cfg.MaxCallsPerMinute <= 0 {
		cfg.MaxCallsPerMinute = 60
	}
	if cfg.DefaultTimeoutSeconds <= 0 {
		cfg.DefaultTimeoutSeconds = 30
	}
	return &Executor{
		cfg:         cfg,
		registry:    registry,
		rateLimiter: NewRateLimiter(cfg.MaxCallsPerMinute),
		security:    NewSecurityScanner(),
		params:      NewParamValidator(),
		auth:        auth,
		gateway:     gateway,
		logger:      logger,
	}
}

// Execute runs call through the full pipeline. It never returns a non-nil
// error: every failure mode surfaces as a ToolResult with Success=false and
// a status code derived from the error kind.
func (e *Executor) Execute(ctx context.Context, call toolregistry.ToolCall) toolregistry.ToolResult {
	start := time.Now()
	data, err := e.run(ctx, call)
	elapsed := time.Since(start)

	if err != nil {
		if e.logger != nil {
			e.logger.Error("tool execution failed",
				logging.Fields{}.Component("toolexec").Operation("execute").
					Custom("tool_name", call.Name).Custom("call_id", call.ID).
					Error(err).Duration(elapsed).ToZapFields()...)
		}
		return toolregistry.ToolResult{
			CallID:          call.ID,
			ToolName:        call.Name,
			Success:         false,
			Error:           err.Error(),
			ExecutionTimeMs: elapsed.Milliseconds(),
			StatusCode:      facterrors.StatusCode(err),
			Metadata:        metadataFor(call),
		}
	}

	return toolregistry.ToolResult{
		CallID:          call.ID,
		ToolName:        call.Name,
		Success:         true,
		Data:            normalize(data),
		ExecutionTimeMs: elapsed.Milliseconds(),
		StatusCode:      200,
		Metadata:        metadataFor(call),
	}
}

func metadataFor(call toolregistry.ToolCall) map[string]interface{} {
	return map[string]interface{}{
		"user_id":    call.UserID,
		"session_id": call.SessionID,
		"timestamp":  call.Timestamp,
	}
}

func normalize(data interface{}) interface{} {
	if _, ok := data.(map[string]interface{}); ok {
		return data
	}
	return map[string]interface{}{"result": data}
}

// ExecuteBatch runs calls concurrently via errgroup, preserving input order
// in the output slice regardless of completion order. An individual
// call's failure does not cancel its peers.
func (e *Executor) ExecuteBatch(ctx context.Context, calls []toolregistry.ToolCall) []toolregistry.ToolResult {
	results := make([]toolregistry.ToolResult, len(calls))
	if len(calls) == 0 {
		return results
	}

	g, gctx := errgroup.WithContext(ctx)
	for i, call := range calls {
		i, call := i, call
		g.Go(func() error {
			results[i] = e.Execute(gctx, call)
			return nil
		})
	}
	_ = g.Wait() // Execute never returns an error to propagate; peers always run to completion.
	return results
}

func (e *Executor) run(ctx context.Context, call toolregistry.ToolCall) (interface{}, error) {
	if !e.rateLimiter.Allow(call.UserID) {
		return nil, facterrors.New(facterrors.KindExhaustedRetries, "rate limit exceeded: too many tool calls per minute")
	}

	def, err := e.registry.Get(call.Name)
	if err != nil {
		return nil, err
	}

	if err := e.security.Scan(call.Name, call.Arguments); err != nil {
		return nil, err
	}

	if err := e.params.Validate(call.Arguments, def.Parameters); err != nil {
		return nil, facterrors.WrapKind(facterrors.KindValidation, "parameter validation failed", err)
	}

	if def.RequiresAuth {
		if e.auth == nil {
			return nil, facterrors.New(facterrors.KindAuthorization, "tool requires authorization but no authorization manager is configured")
		}
		if err := e.auth.Check(call.UserID, call.Name); err != nil {
			return nil, err
		}
	}

	timeout := time.Duration(def.TimeoutSeconds) * time.Second
	dispatchCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	return e.dispatch(dispatchCtx, call, def)
}

func (e *Executor) dispatch(ctx context.Context, call toolregistry.ToolCall, def *toolregistry.ToolDefinition) (interface{}, error) {
	preferRemote := e.cfg.DispatchPolicy == PreferRemote && e.gateway != nil

	primary := e.dispatchLocal
	fallback := e.dispatchRemote
	if preferRemote {
		primary = e.dispatchRemote
		fallback = e.dispatchLocal
	}

	result, err := primary(ctx, call, def)
	if err == nil {
		return result, nil
	}
	if !e.cfg.EnableFallback {
		return nil, err
	}

	fallbackResult, fallbackErr := fallback(ctx, call, def)
	if fallbackErr != nil {
		return nil, fallbackErr
	}
	return fallbackResult, nil
}

func (e *Executor) dispatchLocal(ctx context.Context, call toolregistry.ToolCall, def *toolregistry.ToolDefinition) (interface{}, error) {
	type outcome struct {
		data interface{}
		err  error
	}
	done := make(chan outcome, 1)

	go func() {
		data, err := def.Function(ctx, call.Arguments)
		done <- outcome{data: data, err: err}
	}()

	select {
	case o := <-done:
		if o.err != nil {
			return nil, facterrors.WrapKind(facterrors.KindToolExecution, "local execution failed", o.err)
		}
		return o.data, nil
	case <-ctx.Done():
		return nil, facterrors.New(facterrors.KindToolExecution, fmt.Sprintf("tool execution timed out after %d seconds", def.TimeoutSeconds))
	}
}

func (e *Executor) dispatchRemote(ctx context.Context, call toolregistry.ToolCall, def *toolregistry.ToolDefinition) (interface{}, error) {
	if e.gateway == nil {
		return nil, facterrors.New(facterrors.KindToolExecution, "no remote gateway configured")
	}
	result, err := e.gateway.Execute(ctx, call.Name, call.Arguments)
	if err != nil {
		return nil, facterrors.WrapKind(facterrors.KindToolExecution, "remote execution failed", err)
	}
	return result, nil
}
