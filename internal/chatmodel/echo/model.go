// Package echo provides a deterministic chat model that exercises the whole
// tool-calling loop without external API calls. It backs local development
// when no API key is configured, and tests.
package echo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/davidbz/librarian/internal/domain"
	"github.com/davidbz/librarian/internal/observability"
)

const modelName = "echo"

// Model implements domain.ChatModel with scripted behavior: the first call
// requests a search_books tool call for the user's message, and once a tool
// result is present it answers by quoting the first grounded title.
type Model struct{}

// NewModel creates the scripted model.
func NewModel() *Model {
	return &Model{}
}

// Complete inspects the conversation and either requests a search or answers
// from the latest tool result.
func (m *Model) Complete(
	ctx context.Context,
	turns []domain.ConversationTurn,
	tools []domain.ToolDefinition,
) (*domain.ChatReply, error) {
	if len(turns) == 0 {
		return nil, errors.New("conversation cannot be empty")
	}

	logger := observability.FromContext(ctx)
	logger.Debug("echo model completing", observability.Int("turns", len(turns)))

	last := turns[len(turns)-1]

	if last.Role == domain.RoleTool {
		return &domain.ChatReply{Content: answerFromToolResult(last.Content)}, nil
	}

	userText := lastUserText(turns)
	if userText == "" {
		return &domain.ChatReply{Content: "What kind of book are you looking for?"}, nil
	}

	if hasTool(tools, "search_books") {
		args, _ := json.Marshal(map[string]any{"query": userText})
		return &domain.ChatReply{
			ToolCalls: []domain.ToolCallRequest{
				{ID: "echo-call-1", Name: "search_books", Arguments: string(args)},
			},
		}, nil
	}

	return &domain.ChatReply{Content: "I recommend browsing the corpus: " + userText}, nil
}

// Name returns the model adapter identifier.
func (m *Model) Name() string {
	return modelName
}

func lastUserText(turns []domain.ConversationTurn) string {
	for i := len(turns) - 1; i >= 0; i-- {
		if turns[i].Role == domain.RoleUser {
			return turns[i].Content
		}
	}
	return ""
}

func hasTool(tools []domain.ToolDefinition, name string) bool {
	for _, tool := range tools {
		if tool.Name == name {
			return true
		}
	}
	return false
}

// answerFromToolResult extracts the first bolded title from a formatted
// search result, falling back to the raw result text.
func answerFromToolResult(result string) string {
	if start := strings.Index(result, "**"); start >= 0 {
		rest := result[start+2:]
		if end := strings.Index(rest, "**"); end > 0 {
			return fmt.Sprintf("Based on the corpus, I recommend %q.", rest[:end])
		}
	}
	return "Here is what I found:\n" + result
}
