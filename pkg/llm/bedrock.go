package llm

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
	"github.com/aws/smithy-go/document"

	facterrors "github.com/dgraft/factengine/pkg/shared/errors"
)

// BedrockClient calls a Claude model hosted on Amazon Bedrock via the
// Converse API, the AWS-native equivalent of Anthropic's Messages API.
type BedrockClient struct {
	runtime *bedrockruntime.Client
	modelID string
}

// NewBedrockClient constructs a BedrockClient from the ambient AWS config
// (environment, shared config file, or instance role) for the given region
// and model ID.
func NewBedrockClient(ctx context.Context, region, modelID string) (*BedrockClient, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, facterrors.WrapKind(facterrors.KindConfiguration, "load AWS config for bedrock client", err)
	}
	return &BedrockClient{
		runtime: bedrockruntime.NewFromConfig(cfg),
		modelID: modelID,
	}, nil
}

// CreateMessage issues one Converse call with the given system prompt,
// message history, and tool catalog.
func (c *BedrockClient) CreateMessage(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	input := &bedrockruntime.ConverseInput{
		ModelId:  aws.String(c.modelID),
		Messages: toBedrockMessages(req.Messages),
		InferenceConfig: &types.InferenceConfiguration{
			MaxTokens: aws.Int32(int32(maxTokensOrDefault(req.MaxTokens))),
		},
	}
	if req.System != "" {
		input.System = []types.SystemContentBlock{
			&types.SystemContentBlockMemberText{Value: req.System},
		}
	}
	if len(req.Tools) > 0 {
		input.ToolConfig = &types.ToolConfiguration{Tools: toBedrockTools(req.Tools)}
	}

	output, err := c.runtime.Converse(ctx, input)
	if err != nil {
		return nil, facterrors.WrapKind(facterrors.KindConnectivity, "bedrock converse failed", err)
	}

	return fromBedrockOutput(output), nil
}

func toBedrockMessages(messages []Message) []types.Message {
	out := make([]types.Message, 0, len(messages))
	for _, m := range messages {
		role := types.ConversationRoleUser
		if m.Role == RoleAssistant {
			role = types.ConversationRoleAssistant
		}
		blocks := make([]types.ContentBlock, 0, len(m.Content))
		for _, block := range m.Content {
			switch block.Type {
			case "text":
				blocks = append(blocks, &types.ContentBlockMemberText{Value: block.Text})
			case "tool_use":
				blocks = append(blocks, &types.ContentBlockMemberToolUse{
					Value: types.ToolUseBlock{
						ToolUseId: aws.String(block.ToolUseID),
						Name:      aws.String(block.ToolName),
						Input:     anyDocument(block.ToolInput),
					},
				})
			case "tool_result":
				status := types.ToolResultStatusSuccess
				if block.IsError {
					status = types.ToolResultStatusError
				}
				blocks = append(blocks, &types.ContentBlockMemberToolResult{
					Value: types.ToolResultBlock{
						ToolUseId: aws.String(block.ToolUseID),
						Status:    status,
						Content: []types.ToolResultContentBlock{
							&types.ToolResultContentBlockMemberText{Value: block.ToolResultContent},
						},
					},
				})
			}
		}
		out = append(out, types.Message{Role: role, Content: blocks})
	}
	return out
}

func toBedrockTools(tools []ToolSchema) []types.Tool {
	out := make([]types.Tool, 0, len(tools))
	for _, t := range tools {
		out = append(out, &types.ToolMemberToolSpec{
			Value: types.ToolSpecification{
				Name:        aws.String(t.Name),
				Description: aws.String(t.Description),
				InputSchema: &types.ToolInputSchemaMemberJson{Value: anyDocument(t.InputSchema)},
			},
		})
	}
	return out
}

func fromBedrockOutput(output *bedrockruntime.ConverseOutput) *CompletionResponse {
	resp := &CompletionResponse{StopReason: string(output.StopReason)}

	msgOutput, ok := output.Output.(*types.ConverseOutputMemberMessage)
	if !ok {
		return resp
	}

	for _, block := range msgOutput.Value.Content {
		switch b := block.(type) {
		case *types.ContentBlockMemberText:
			resp.Content = append(resp.Content, ContentBlock{Type: "text", Text: b.Value})
		case *types.ContentBlockMemberToolUse:
			resp.Content = append(resp.Content, ContentBlock{
				Type:      "tool_use",
				ToolUseID: aws.ToString(b.Value.ToolUseId),
				ToolName:  aws.ToString(b.Value.Name),
				ToolInput: documentToMap(b.Value.Input),
			})
		}
	}
	return resp
}

// anyDocument and documentToMap isolate the one part of the Bedrock SDK
// surface (its document.Interface marshaling for free-form JSON) that
// varies by SDK minor version behind a single conversion point.
func anyDocument(v map[string]interface{}) document.Interface {
	return document.NewLazyDocument(v)
}

func documentToMap(v document.Interface) map[string]interface{} {
	if v == nil {
		return nil
	}
	var m map[string]interface{}
	if err := v.UnmarshalSmithyDocument(&m); err != nil {
		return nil
	}
	return m
}
