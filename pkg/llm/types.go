// Package llm provides the Driver's LLM abstraction: a provider-neutral
// Client interface plus Anthropic and Amazon Bedrock implementations, so the
// conversation loop in pkg/driver never imports a vendor SDK directly.
package llm

import "context"

// Role is a message's speaker.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// ContentBlock is one unit of a message's content: text, a tool invocation
// request, or a tool's result being fed back to the model.
type ContentBlock struct {
	Type string // "text", "tool_use", or "tool_result"

	Text string

	ToolUseID string
	ToolName  string
	ToolInput map[string]interface{}

	ToolResultContent string
	IsError           bool
}

// Message is one turn of the conversation.
type Message struct {
	Role    Role
	Content []ContentBlock
}

// ToolSchema is the provider-neutral shape of one tool's description,
// built from toolregistry.InputSchema.
type ToolSchema struct {
	Name        string
	Description string
	InputSchema map[string]interface{}
}

// CompletionRequest is one call to the model.
type CompletionRequest struct {
	System    string
	Messages  []Message
	Tools     []ToolSchema
	MaxTokens int
}

// CompletionResponse is the model's reply.
type CompletionResponse struct {
	Content    []ContentBlock
	StopReason string
}

// HasToolUse reports whether the response contains at least one tool_use block.
func (r *CompletionResponse) HasToolUse() bool {
	for _, block := range r.Content {
		if block.Type == "tool_use" {
			return true
		}
	}
	return false
}

// ToolUseBlocks returns every tool_use block in the response.
func (r *CompletionResponse) ToolUseBlocks() []ContentBlock {
	var blocks []ContentBlock
	for _, block := range r.Content {
		if block.Type == "tool_use" {
			blocks = append(blocks, block)
		}
	}
	return blocks
}

// Text concatenates every text block in the response.
func (r *CompletionResponse) Text() string {
	var text string
	for _, block := range r.Content {
		if block.Type == "text" {
			text += block.Text
		}
	}
	return text
}

// Client is the Driver's view of an LLM provider.
type Client interface {
	CreateMessage(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)
}
