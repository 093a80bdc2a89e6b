package driver_test

import (
	"context"
	"errors"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/dgraft/factengine/pkg/cache"
	"github.com/dgraft/factengine/pkg/cache/circuitbreaker"
	"github.com/dgraft/factengine/pkg/cache/resilient"
	"github.com/dgraft/factengine/pkg/driver"
	"github.com/dgraft/factengine/pkg/llm"
	facterrors "github.com/dgraft/factengine/pkg/shared/errors"
	"github.com/dgraft/factengine/pkg/shared/logging"
	"github.com/dgraft/factengine/pkg/toolexec"
	"github.com/dgraft/factengine/pkg/toolregistry"
)

// fakeLLM replays a fixed sequence of responses (or errors), one per call,
// so tests can script multi-turn tool_use loops deterministically.
type fakeLLM struct {
	responses []*llm.CompletionResponse
	errs      []error
	calls     int
}

func (f *fakeLLM) CreateMessage(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	i := f.calls
	f.calls++
	if i < len(f.errs) && f.errs[i] != nil {
		return nil, f.errs[i]
	}
	if i >= len(f.responses) {
		return nil, errors.New("fakeLLM: no scripted response for call index")
	}
	return f.responses[i], nil
}

func textResponse(text string) *llm.CompletionResponse {
	return &llm.CompletionResponse{Content: []llm.ContentBlock{{Type: "text", Text: text}}}
}

func toolUseResponse(callID, toolName string, input map[string]interface{}) *llm.CompletionResponse {
	return &llm.CompletionResponse{Content: []llm.ContentBlock{
		{Type: "tool_use", ToolUseID: callID, ToolName: toolName, ToolInput: input},
	}}
}

func newResilientCache() *resilient.Cache {
	mgr, err := cache.New(cache.Config{MinTokens: 0, MaxSizeBytes: 1 << 20, TTLSeconds: 3600}, nil)
	Expect(err).NotTo(HaveOccurred())
	breaker := circuitbreaker.New(circuitbreaker.Config{
		FailureThreshold:     3,
		SuccessThreshold:     1,
		TimeoutSeconds:       60,
		RollingWindowSeconds: 60,
		RecoveryFactor:       1.0,
	}, nil)
	return resilient.New(mgr, breaker, nil, resilient.Config{}, nil)
}

func newExecutorWithFactTool() *toolexec.Executor {
	registry := toolregistry.New(nil)
	_ = registry.Register(&toolregistry.ToolDefinition{
		Name:           "get_fact",
		Description:    "looks up a fact",
		Version:        "1.0.0",
		TimeoutSeconds: 5,
		Parameters: map[string]toolregistry.ParamSchema{
			"value": {Type: "string"},
		},
		Function: func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
			return map[string]interface{}{"fact": args["value"]}, nil
		},
	})
	return toolexec.New(toolexec.Config{MaxCallsPerMinute: 1000}, registry, nil, nil, nil)
}

var _ = Describe("Driver", func() {
	var (
		ctx      context.Context
		rc       *resilient.Cache
		exec     *toolexec.Executor
		registry *toolregistry.Registry
	)

	BeforeEach(func() {
		ctx = context.Background()
		rc = newResilientCache()
		registry = toolregistry.New(nil)
		exec = toolexec.New(toolexec.Config{MaxCallsPerMinute: 1000}, registry, nil, nil, nil)
	})

	It("returns a cached response without calling the LLM", func() {
		hash := rc.GenerateHash("what is 2+2")
		_, err := rc.Store(ctx, hash, "cached answer")
		Expect(err).NotTo(HaveOccurred())

		client := &fakeLLM{}
		drv := driver.New(rc, registry, exec, client, logging.NewNop(), driver.Config{})

		text, err := drv.ProcessQuery(ctx, "what is 2+2")
		Expect(err).NotTo(HaveOccurred())
		Expect(text).To(Equal("cached answer"))
		Expect(client.calls).To(Equal(0))
	})

	It("calls the LLM on a cache miss and stores the response for next time", func() {
		client := &fakeLLM{responses: []*llm.CompletionResponse{textResponse("the answer is 4")}}
		drv := driver.New(rc, registry, exec, client, logging.NewNop(), driver.Config{})

		text, err := drv.ProcessQuery(ctx, "what is 2+2 today")
		Expect(err).NotTo(HaveOccurred())
		Expect(text).To(Equal("the answer is 4"))
		Expect(client.calls).To(Equal(1))

		hash := rc.GenerateHash("what is 2+2 today")
		entry, ok := rc.Get(ctx, hash)
		Expect(ok).To(BeTrue())
		Expect(entry.Content).To(Equal("the answer is 4"))
	})

	It("executes a tool_use loop and returns the final text response", func() {
		exec := newExecutorWithFactTool()
		client := &fakeLLM{responses: []*llm.CompletionResponse{
			toolUseResponse("call-1", "get_fact", map[string]interface{}{"value": "moon distance"}),
			textResponse("the moon is about 384,400 km away"),
		}}
		drv := driver.New(rc, registry, exec, client, logging.NewNop(), driver.Config{})

		text, err := drv.ProcessQuery(ctx, "how far is the moon")
		Expect(err).NotTo(HaveOccurred())
		Expect(text).To(Equal("the moon is about 384,400 km away"))
		Expect(client.calls).To(Equal(2))
	})

	It("falls back to the apology text after exhausting the tool iteration cap", func() {
		exec := newExecutorWithFactTool()
		responses := make([]*llm.CompletionResponse, 0, 6)
		for i := 0; i < 6; i++ {
			responses = append(responses, toolUseResponse("call-loop", "get_fact", map[string]interface{}{"value": "x"}))
		}
		client := &fakeLLM{responses: responses}
		drv := driver.New(rc, registry, exec, client, logging.NewNop(), driver.Config{})

		text, err := drv.ProcessQuery(ctx, "never stop calling tools")
		Expect(err).NotTo(HaveOccurred())
		Expect(text).To(Equal("I wasn't able to fully answer that — please try rephrasing."))
		Expect(client.calls).To(Equal(6))
	})

	It("gracefully degrades on a connectivity failure without returning a Go error", func() {
		client := &fakeLLM{errs: []error{facterrors.WrapKind(facterrors.KindConnectivity, "dial failed", errors.New("connection refused"))}}
		drv := driver.New(rc, registry, exec, client, logging.NewNop(), driver.Config{})

		text, err := drv.ProcessQuery(ctx, "a query that can't reach the model")
		Expect(err).NotTo(HaveOccurred())
		Expect(text).To(ContainSubstring("trouble reaching"))
	})

	Describe("GetMetrics", func() {
		It("reports turn counters and cache state", func() {
			client := &fakeLLM{responses: []*llm.CompletionResponse{textResponse("ok")}}
			drv := driver.New(rc, registry, exec, client, logging.NewNop(), driver.Config{})

			_, err := drv.ProcessQuery(ctx, "a metrics query")
			Expect(err).NotTo(HaveOccurred())

			snap := drv.GetMetrics()
			Expect(snap.TotalQueries).To(Equal(int64(1)))
			Expect(snap.TotalErrors).To(Equal(int64(0)))
		})
	})

	It("shuts down without panicking", func() {
		client := &fakeLLM{}
		drv := driver.New(rc, registry, exec, client, logging.NewNop(), driver.Config{})
		drv.Shutdown()
		drv.Shutdown()
	})
})
