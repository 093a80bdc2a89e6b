// Package driver implements the conversation loop: cache probe, LLM call,
// tool-use iteration, and cache store, tying together every other package
// into the single entry point external callers use.
package driver

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/dgraft/factengine/pkg/cache/resilient"
	"github.com/dgraft/factengine/pkg/llm"
	"github.com/dgraft/factengine/pkg/shared/errors"
	"github.com/dgraft/factengine/pkg/shared/logging"
	"github.com/dgraft/factengine/pkg/toolexec"
	"github.com/dgraft/factengine/pkg/toolregistry"
)

// maxToolIterations bounds the tool-use loop so a model that keeps calling
// tools can't wedge a turn open forever.
const maxToolIterations = 5

// apologyText is returned when the loop exhausts maxToolIterations without
// ever producing assistant text.
const apologyText = "I wasn't able to fully answer that — please try rephrasing."

// Config controls prompt assembly and turn limits the Driver isn't handed
// indirectly through its collaborators.
type Config struct {
	SystemPrompt string
	MaxTokens    int
}

// Driver is the conversation orchestrator: cache probe, LLM call, tool-use
// iteration, cache store. Constructor-injected, no package-level state.
type Driver struct {
	cache    *resilient.Cache
	registry *toolregistry.Registry
	executor *toolexec.Executor
	llm      llm.Client
	logger   *logging.Logger
	cfg      Config

	totalQueries int64
	totalErrors  int64
}

// New constructs a Driver from its collaborators.
func New(cache *resilient.Cache, registry *toolregistry.Registry, executor *toolexec.Executor, llmClient llm.Client, logger *logging.Logger, cfg Config) *Driver {
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 4096
	}
	return &Driver{
		cache:    cache,
		registry: registry,
		executor: executor,
		llm:      llmClient,
		logger:   logger,
		cfg:      cfg,
	}
}

// ProcessQuery runs one conversational turn: cache probe, then on a miss an
// LLM call, iterating over any tool_use blocks up to maxToolIterations,
// finishing with a best-effort cache store. It never returns a raw
// collaborator error — failures are classified once, here, and turned into
// either a graceful-degradation string or a user-friendly message, matching
// the "Raises: never — always returns a string" contract external callers
// rely on.
func (d *Driver) ProcessQuery(ctx context.Context, userInput string) (string, error) {
	queryID := uuid.NewString()
	start := time.Now()
	fields := logging.NewFields().Component("driver").Operation("process_query").Custom("query_id", queryID)

	atomic.AddInt64(&d.totalQueries, 1)

	hash := d.cache.GenerateHash(userInput)
	if entry, ok := d.cache.Get(ctx, hash); ok {
		d.logger.WithFields(fields.Duration(time.Since(start)).Custom("cache_hit", true)).Info("query served from cache")
		return entry.Content, nil
	}

	text, err := d.runConversation(ctx, userInput)
	if err != nil {
		atomic.AddInt64(&d.totalErrors, 1)
		d.logger.WithFields(fields.Error(err).Duration(time.Since(start))).Warn("query processing failed")
		return d.degrade(err), nil
	}

	if text != "" {
		if _, storeErr := d.cache.Store(ctx, hash, text); storeErr != nil {
			d.logger.WithFields(fields.Error(storeErr)).Debug("response not stored in cache")
		}
	}

	d.logger.WithFields(fields.Duration(time.Since(start)).Custom("response_length", len(text))).Info("query processed")
	return text, nil
}

// runConversation drives the LLM/tool-use loop and returns the final
// assistant text, or an error if the LLM itself could not be reached.
func (d *Driver) runConversation(ctx context.Context, userInput string) (string, error) {
	schemas := d.registry.ExportAllSchemas()
	tools := make([]llm.ToolSchema, len(schemas))
	for i, s := range schemas {
		tools[i] = llm.ToolSchema{
			Name:        s.Name,
			Description: s.Description,
			InputSchema: map[string]interface{}{
				"type":       s.Input.Type,
				"properties": s.Input.Properties,
				"required":   s.Input.Required,
			},
		}
	}

	messages := []llm.Message{
		{Role: llm.RoleUser, Content: []llm.ContentBlock{{Type: "text", Text: userInput}}},
	}

	resp, err := d.callLLM(ctx, messages, tools)
	if err != nil {
		return "", err
	}

	lastText := resp.Text()
	iteration := 0
	for resp.HasToolUse() && iteration < maxToolIterations {
		messages = append(messages, llm.Message{Role: llm.RoleAssistant, Content: resp.Content})

		results := d.executeToolUse(ctx, resp.ToolUseBlocks())
		messages = append(messages, llm.Message{Role: llm.RoleUser, Content: results})

		resp, err = d.callLLM(ctx, messages, tools)
		if err != nil {
			return "", err
		}
		if t := resp.Text(); t != "" {
			lastText = t
		}
		iteration++
	}

	if text := resp.Text(); text != "" {
		return text, nil
	}
	if lastText != "" {
		return lastText, nil
	}
	return apologyText, nil
}

func (d *Driver) callLLM(ctx context.Context, messages []llm.Message, tools []llm.ToolSchema) (*llm.CompletionResponse, error) {
	return d.llm.CreateMessage(ctx, llm.CompletionRequest{
		System:    d.cfg.SystemPrompt,
		Messages:  messages,
		Tools:     tools,
		MaxTokens: d.cfg.MaxTokens,
	})
}

// executeToolUse converts tool_use content blocks into ToolCalls, runs them
// through the executor as a batch, and converts the results back into
// tool_result content blocks in the same order.
func (d *Driver) executeToolUse(ctx context.Context, blocks []llm.ContentBlock) []llm.ContentBlock {
	calls := make([]toolregistry.ToolCall, len(blocks))
	for i, b := range blocks {
		calls[i] = toolregistry.ToolCall{
			ID:        b.ToolUseID,
			Name:      b.ToolName,
			Arguments: b.ToolInput,
			Timestamp: time.Now(),
		}
	}

	results := d.executor.ExecuteBatch(ctx, calls)

	blocksOut := make([]llm.ContentBlock, len(results))
	for i, r := range results {
		blocksOut[i] = llm.ContentBlock{
			Type:              "tool_result",
			ToolUseID:         r.CallID,
			ToolResultContent: toolResultText(r),
			IsError:           !r.Success,
		}
	}
	return blocksOut
}

func toolResultText(r toolregistry.ToolResult) string {
	if r.Success {
		return fmt.Sprintf("%v", r.Data)
	}
	return r.Error
}

// Shutdown stops the Driver's collaborators' background work. Safe to call
// more than once.
func (d *Driver) Shutdown() {
	if d.cache != nil {
		d.cache.Shutdown()
	}
}

// degrade turns a classified error into the final response string: a fixed
// degradation message for connectivity/tool-execution failures (conditions
// the user can't do anything about by rephrasing), a user-facing message
// built from the error otherwise.
func (d *Driver) degrade(err error) string {
	switch errors.Classify(err) {
	case errors.KindConnectivity:
		return "I'm having trouble reaching the language model right now. Please try again in a moment."
	case errors.KindToolExecution:
		return "One of the tools I needed failed to run. Please try again or rephrase your question."
	case errors.KindMaxIterationsExceeded:
		return apologyText
	default:
		return fmt.Sprintf("I couldn't process that request: %s", err.Error())
	}
}
