// Package openai adapts the OpenAI chat completions API, including the
// tool-calling protocol, to the domain.ChatModel port.
package openai

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"

	"github.com/davidbz/librarian/internal/config"
	"github.com/davidbz/librarian/internal/domain"
	"github.com/davidbz/librarian/internal/observability"
)

// Model implements domain.ChatModel for OpenAI.
type Model struct {
	client openai.Client
	model  string
}

// NewModel creates a new OpenAI chat model adapter.
func NewModel(cfg *config.OpenAIConfig) (*Model, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("OpenAI API key is required")
	}

	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	if cfg.Timeout > 0 {
		opts = append(opts, option.WithRequestTimeout(time.Duration(cfg.Timeout)*time.Second))
	}
	if cfg.MaxRetries > 0 {
		opts = append(opts, option.WithMaxRetries(cfg.MaxRetries))
	}

	return &Model{
		client: openai.NewClient(opts...),
		model:  cfg.ChatModel,
	}, nil
}

// Complete sends one completion call with the declared tool schemas.
func (m *Model) Complete(
	ctx context.Context,
	turns []domain.ConversationTurn,
	tools []domain.ToolDefinition,
) (*domain.ChatReply, error) {
	logger := observability.FromContext(ctx)
	logger.Debug("calling OpenAI chat API",
		observability.Int("turns", len(turns)),
		observability.Int("tools", len(tools)))

	params := openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(m.model),
		Messages: toSDKMessages(turns),
	}
	if len(tools) > 0 {
		params.Tools = toSDKTools(tools)
	}

	resp, err := m.client.Chat.Completions.New(ctx, params)
	if err != nil {
		logger.Error("OpenAI chat API call failed", observability.Error(err))
		return nil, fmt.Errorf("OpenAI chat API call failed: %w", err)
	}

	if len(resp.Choices) == 0 {
		return nil, errors.New("OpenAI chat API returned no choices")
	}

	reply := toDomainReply(resp)
	logger.Debug("OpenAI chat API call succeeded",
		observability.Int("prompt_tokens", reply.Usage.PromptTokens),
		observability.Int("completion_tokens", reply.Usage.CompletionTokens),
		observability.Int("tool_calls", len(reply.ToolCalls)))

	return reply, nil
}

// Name returns the model adapter identifier.
func (m *Model) Name() string {
	return "openai"
}

// toSDKMessages converts conversation turns to SDK message params.
func toSDKMessages(turns []domain.ConversationTurn) []openai.ChatCompletionMessageParamUnion {
	messages := make([]openai.ChatCompletionMessageParamUnion, 0, len(turns))

	for _, turn := range turns {
		switch turn.Role {
		case domain.RoleSystem:
			messages = append(messages, openai.SystemMessage(turn.Content))
		case domain.RoleUser:
			messages = append(messages, openai.UserMessage(turn.Content))
		case domain.RoleAssistant:
			if len(turn.ToolCalls) == 0 {
				messages = append(messages, openai.AssistantMessage(turn.Content))
				continue
			}
			messages = append(messages, toAssistantToolCallMessage(turn))
		case domain.RoleTool:
			messages = append(messages, openai.ToolMessage(turn.Content, turn.ToolCallID))
		default:
			messages = append(messages, openai.UserMessage(turn.Content))
		}
	}

	return messages
}

// toAssistantToolCallMessage rebuilds the assistant turn that requested tool
// calls; the API requires it to precede the matching tool results.
func toAssistantToolCallMessage(turn domain.ConversationTurn) openai.ChatCompletionMessageParamUnion {
	assistant := openai.ChatCompletionAssistantMessageParam{}
	if turn.Content != "" {
		assistant.Content.OfString = openai.String(turn.Content)
	}

	for _, call := range turn.ToolCalls {
		assistant.ToolCalls = append(assistant.ToolCalls, openai.ChatCompletionMessageToolCallUnionParam{
			OfFunction: &openai.ChatCompletionMessageFunctionToolCallParam{
				ID: call.ID,
				Function: openai.ChatCompletionMessageFunctionToolCallFunctionParam{
					Name:      call.Name,
					Arguments: call.Arguments,
				},
			},
		})
	}

	return openai.ChatCompletionMessageParamUnion{OfAssistant: &assistant}
}

// toSDKTools converts tool definitions to SDK function tool params.
func toSDKTools(tools []domain.ToolDefinition) []openai.ChatCompletionToolUnionParam {
	sdkTools := make([]openai.ChatCompletionToolUnionParam, 0, len(tools))

	for _, tool := range tools {
		properties := make(map[string]any, len(tool.Parameters.Properties))
		for name, prop := range tool.Parameters.Properties {
			properties[name] = map[string]any{
				"type":        prop.Type,
				"description": prop.Description,
			}
		}

		sdkTools = append(sdkTools, openai.ChatCompletionFunctionTool(openai.FunctionDefinitionParam{
			Name:        tool.Name,
			Description: openai.String(tool.Description),
			Parameters: openai.FunctionParameters{
				"type":       "object",
				"properties": properties,
				"required":   tool.Parameters.Required,
			},
		}))
	}

	return sdkTools
}

// toDomainReply converts the SDK response to a domain reply.
func toDomainReply(resp *openai.ChatCompletion) *domain.ChatReply {
	choice := resp.Choices[0]

	reply := &domain.ChatReply{
		Content: choice.Message.Content,
		Usage: domain.Usage{
			PromptTokens:     int(resp.Usage.PromptTokens),
			CompletionTokens: int(resp.Usage.CompletionTokens),
			TotalTokens:      int(resp.Usage.TotalTokens),
		},
	}

	for _, call := range choice.Message.ToolCalls {
		reply.ToolCalls = append(reply.ToolCalls, domain.ToolCallRequest{
			ID:        call.ID,
			Name:      call.Function.Name,
			Arguments: call.Function.Arguments,
		})
	}

	return reply
}
