package toolexec_test

import (
	"context"
	"errors"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	facterrors "github.com/dgraft/factengine/pkg/shared/errors"
	"github.com/dgraft/factengine/pkg/toolexec"
	"github.com/dgraft/factengine/pkg/toolregistry"
)

func echoTool(name, version string, timeoutSeconds int, requiresAuth bool) *toolregistry.ToolDefinition {
	return &toolregistry.ToolDefinition{
		Name:           name,
		Description:    "echoes its input argument back",
		Version:        version,
		TimeoutSeconds: timeoutSeconds,
		RequiresAuth:   requiresAuth,
		Parameters: map[string]toolregistry.ParamSchema{
			"value": {Type: "string"},
		},
		Function: func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
			return map[string]interface{}{"echo": args["value"]}, nil
		},
	}
}

var _ = Describe("Executor", func() {
	var registry *toolregistry.Registry

	BeforeEach(func() {
		registry = toolregistry.New(nil)
	})

	newExecutor := func(cfg toolexec.Config) *toolexec.Executor {
		return toolexec.New(cfg, registry, nil, nil, nil)
	}

	It("runs a registered tool and returns a successful result", func() {
		Expect(registry.Register(echoTool("query_echo", "1.0.0", 5, false))).To(Succeed())
		exec := newExecutor(toolexec.Config{MaxCallsPerMinute: 100})

		result := exec.Execute(context.Background(), toolregistry.ToolCall{
			ID:        "call-1",
			Name:      "query_echo",
			Arguments: map[string]interface{}{"value": "hi"},
			UserID:    "user-1",
		})

		Expect(result.Success).To(BeTrue())
		Expect(result.StatusCode).To(Equal(200))
		Expect(result.Data).To(Equal(map[string]interface{}{"echo": "hi"}))
	})

	It("rejects a call to an unregistered tool with 404", func() {
		exec := newExecutor(toolexec.Config{MaxCallsPerMinute: 100})

		result := exec.Execute(context.Background(), toolregistry.ToolCall{
			ID:     "call-2",
			Name:   "query_missing",
			UserID: "user-1",
		})

		Expect(result.Success).To(BeFalse())
		Expect(result.StatusCode).To(Equal(404))
	})

	It("rejects arguments carrying a dangerous pattern with 403", func() {
		Expect(registry.Register(echoTool("query_echo", "1.0.0", 5, false))).To(Succeed())
		exec := newExecutor(toolexec.Config{MaxCallsPerMinute: 100})

		result := exec.Execute(context.Background(), toolregistry.ToolCall{
			ID:        "call-3",
			Name:      "query_echo",
			Arguments: map[string]interface{}{"value": "'; DROP TABLE users; --"},
			UserID:    "user-1",
		})

		Expect(result.Success).To(BeFalse())
		Expect(result.StatusCode).To(Equal(403))
	})

	It("rejects a missing required parameter with 400", func() {
		Expect(registry.Register(echoTool("query_echo", "1.0.0", 5, false))).To(Succeed())
		exec := newExecutor(toolexec.Config{MaxCallsPerMinute: 100})

		result := exec.Execute(context.Background(), toolregistry.ToolCall{
			ID:     "call-4",
			Name:   "query_echo",
			UserID: "user-1",
		})

		Expect(result.Success).To(BeFalse())
		Expect(result.StatusCode).To(Equal(400))
	})

	It("rejects an unauthorized call to an auth-required tool with 401", func() {
		Expect(registry.Register(echoTool("query_secure", "1.0.0", 5, true))).To(Succeed())
		exec := newExecutor(toolexec.Config{MaxCallsPerMinute: 100})

		result := exec.Execute(context.Background(), toolregistry.ToolCall{
			ID:        "call-5",
			Name:      "query_secure",
			Arguments: map[string]interface{}{"value": "hi"},
			UserID:    "user-1",
		})

		Expect(result.Success).To(BeFalse())
		Expect(result.StatusCode).To(Equal(401))
	})

	It("grants authorization via the AuthorizationManager and then succeeds", func() {
		Expect(registry.Register(echoTool("query_secure", "1.0.0", 5, true))).To(Succeed())
		auth := toolexec.NewAuthorizationManager([]byte("test-signing-key"), time.Minute, nil)
		_, err := auth.Grant("user-1", "query_secure")
		Expect(err).NotTo(HaveOccurred())

		exec := toolexec.New(toolexec.Config{MaxCallsPerMinute: 100}, registry, auth, nil, nil)

		result := exec.Execute(context.Background(), toolregistry.ToolCall{
			ID:        "call-6",
			Name:      "query_secure",
			Arguments: map[string]interface{}{"value": "hi"},
			UserID:    "user-1",
		})

		Expect(result.Success).To(BeTrue())
	})

	It("exhausts the per-user rate limit with 503", func() {
		Expect(registry.Register(echoTool("query_echo", "1.0.0", 5, false))).To(Succeed())
		exec := newExecutor(toolexec.Config{MaxCallsPerMinute: 1})

		call := toolregistry.ToolCall{ID: "call-7", Name: "query_echo", Arguments: map[string]interface{}{"value": "hi"}, UserID: "user-rl"}
		first := exec.Execute(context.Background(), call)
		Expect(first.Success).To(BeTrue())

		second := exec.Execute(context.Background(), call)
		Expect(second.Success).To(BeFalse())
		Expect(second.StatusCode).To(Equal(503))
	})

	It("times out a local tool that outlives its timeout budget with 500", func() {
		slow := &toolregistry.ToolDefinition{
			Name:           "query_slow",
			Description:    "never returns within its own timeout budget",
			Version:        "1.0.0",
			TimeoutSeconds: 1,
			Parameters:     map[string]toolregistry.ParamSchema{},
			Function: func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
				select {
				case <-time.After(3 * time.Second):
					return map[string]interface{}{}, nil
				case <-ctx.Done():
					return nil, ctx.Err()
				}
			},
		}
		Expect(registry.Register(slow)).To(Succeed())
		exec := newExecutor(toolexec.Config{MaxCallsPerMinute: 100})

		result := exec.Execute(context.Background(), toolregistry.ToolCall{ID: "call-8", Name: "query_slow", UserID: "user-1"})
		Expect(result.Success).To(BeFalse())
		Expect(result.StatusCode).To(Equal(500))
	})

	It("preserves input order across a concurrent batch with mixed outcomes", func() {
		Expect(registry.Register(echoTool("query_echo", "1.0.0", 5, false))).To(Succeed())
		exec := newExecutor(toolexec.Config{MaxCallsPerMinute: 1000})

		calls := []toolregistry.ToolCall{
			{ID: "a", Name: "query_echo", Arguments: map[string]interface{}{"value": "1"}, UserID: "batch-user"},
			{ID: "b", Name: "query_missing", UserID: "batch-user"},
			{ID: "c", Name: "query_echo", Arguments: map[string]interface{}{"value": "3"}, UserID: "batch-user"},
		}

		results := exec.ExecuteBatch(context.Background(), calls)

		Expect(results).To(HaveLen(3))
		Expect(results[0].CallID).To(Equal("a"))
		Expect(results[0].Success).To(BeTrue())
		Expect(results[1].CallID).To(Equal("b"))
		Expect(results[1].Success).To(BeFalse())
		Expect(results[2].CallID).To(Equal("c"))
		Expect(results[2].Success).To(BeTrue())
	})

	It("falls back to local dispatch when remote dispatch fails and fallback is enabled", func() {
		local := echoTool("query_echo", "1.0.0", 5, false)
		Expect(registry.Register(local)).To(Succeed())

		gateway := toolexec.NewGatewayClient(toolexec.GatewayConfig{BaseURL: "http://127.0.0.1:1", Timeout: 200 * time.Millisecond})
		exec := toolexec.New(toolexec.Config{
			MaxCallsPerMinute: 100,
			DispatchPolicy:    toolexec.PreferRemote,
			EnableFallback:    true,
		}, registry, nil, gateway, nil)

		result := exec.Execute(context.Background(), toolregistry.ToolCall{
			ID:        "call-9",
			Name:      "query_echo",
			Arguments: map[string]interface{}{"value": "hi"},
			UserID:    "user-1",
		})

		Expect(result.Success).To(BeTrue())
		Expect(result.Data).To(Equal(map[string]interface{}{"echo": "hi"}))
	})

	It("fails with the remote error when remote dispatch fails and fallback is disabled", func() {
		local := echoTool("query_echo", "1.0.0", 5, false)
		Expect(registry.Register(local)).To(Succeed())

		gateway := toolexec.NewGatewayClient(toolexec.GatewayConfig{BaseURL: "http://127.0.0.1:1", Timeout: 200 * time.Millisecond})
		exec := toolexec.New(toolexec.Config{
			MaxCallsPerMinute: 100,
			DispatchPolicy:    toolexec.PreferRemote,
			EnableFallback:    false,
		}, registry, nil, gateway, nil)

		result := exec.Execute(context.Background(), toolregistry.ToolCall{
			ID:        "call-10",
			Name:      "query_echo",
			Arguments: map[string]interface{}{"value": "hi"},
			UserID:    "user-1",
		})

		Expect(result.Success).To(BeFalse())
	})

	It("maps a FactError's Kind through facterrors.StatusCode consistently", func() {
		Expect(facterrors.StatusCode(facterrors.New(facterrors.KindNotFound, "x"))).To(Equal(404))
		Expect(facterrors.StatusCode(errors.New("plain error"))).To(Equal(500))
	})
})
