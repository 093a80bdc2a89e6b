package llm

import (
	"context"
	"encoding/json"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	facterrors "github.com/dgraft/factengine/pkg/shared/errors"
)

// AnthropicClient calls the Claude Messages API directly via the Anthropic SDK.
type AnthropicClient struct {
	sdk   anthropic.Client
	model string
}

// NewAnthropicClient constructs an AnthropicClient. requestTimeout bounds
// every individual Messages.New call.
func NewAnthropicClient(apiKey, model string, requestTimeout time.Duration) *AnthropicClient {
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if requestTimeout > 0 {
		opts = append(opts, option.WithRequestTimeout(requestTimeout))
	}
	return &AnthropicClient{
		sdk:   anthropic.NewClient(opts...),
		model: model,
	}
}

// CreateMessage issues one Messages.New call with the given system prompt,
// message history, and tool catalog.
func (c *AnthropicClient) CreateMessage(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(c.model),
		MaxTokens: int64(maxTokensOrDefault(req.MaxTokens)),
		Messages:  toAnthropicMessages(req.Messages),
	}
	if req.System != "" {
		params.System = []anthropic.TextBlockParam{{Text: req.System}}
	}
	if len(req.Tools) > 0 {
		params.Tools = toAnthropicTools(req.Tools)
	}

	message, err := c.sdk.Messages.New(ctx, params)
	if err != nil {
		return nil, facterrors.WrapKind(facterrors.KindConnectivity, "anthropic messages.create failed", err)
	}

	return fromAnthropicMessage(message), nil
}

func maxTokensOrDefault(n int) int {
	if n <= 0 {
		return 4096
	}
	return n
}

func toAnthropicMessages(messages []Message) []anthropic.MessageParam {
	out := make([]anthropic.MessageParam, 0, len(messages))
	for _, m := range messages {
		blocks := make([]anthropic.ContentBlockParamUnion, 0, len(m.Content))
		for _, block := range m.Content {
			switch block.Type {
			case "text":
				blocks = append(blocks, anthropic.NewTextBlock(block.Text))
			case "tool_use":
				inputJSON, _ := json.Marshal(block.ToolInput)
				blocks = append(blocks, anthropic.NewToolUseBlock(block.ToolUseID, json.RawMessage(inputJSON), block.ToolName))
			case "tool_result":
				blocks = append(blocks, anthropic.NewToolResultBlock(block.ToolUseID, block.ToolResultContent, block.IsError))
			}
		}
		if m.Role == RoleAssistant {
			out = append(out, anthropic.NewAssistantMessage(blocks...))
		} else {
			out = append(out, anthropic.NewUserMessage(blocks...))
		}
	}
	return out
}

func toAnthropicTools(tools []ToolSchema) []anthropic.ToolUnionParam {
	out := make([]anthropic.ToolUnionParam, 0, len(tools))
	for _, t := range tools {
		schema := anthropic.ToolInputSchemaParam{}
		if props, ok := t.InputSchema["properties"]; ok {
			schema.Properties = props
		}
		if required, ok := t.InputSchema["required"].([]string); ok {
			schema.Required = required
		}
		out = append(out, anthropic.ToolUnionParam{
			OfTool: &anthropic.ToolParam{
				Name:        t.Name,
				Description: anthropic.String(t.Description),
				InputSchema: schema,
			},
		})
	}
	return out
}

func fromAnthropicMessage(message *anthropic.Message) *CompletionResponse {
	resp := &CompletionResponse{StopReason: string(message.StopReason)}
	for _, block := range message.Content {
		switch b := block.AsAny().(type) {
		case anthropic.TextBlock:
			resp.Content = append(resp.Content, ContentBlock{Type: "text", Text: b.Text})
		case anthropic.ToolUseBlock:
			var input map[string]interface{}
			_ = json.Unmarshal(b.Input, &input)
			resp.Content = append(resp.Content, ContentBlock{
				Type:      "tool_use",
				ToolUseID: b.ID,
				ToolName:  b.Name,
				ToolInput: input,
			})
		}
	}
	return resp
}
