package orchestrator_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/davidbz/librarian/internal/chatmodel/echo"
	"github.com/davidbz/librarian/internal/corpus"
	"github.com/davidbz/librarian/internal/domain"
	"github.com/davidbz/librarian/internal/orchestrator"
	"github.com/davidbz/librarian/internal/safety"
	"github.com/davidbz/librarian/internal/tools"
)

// mockChat replays a scripted sequence of replies and records every call.
type mockChat struct {
	replies   []*domain.ChatReply
	err       error
	calls     int
	lastTurns []domain.ConversationTurn
}

func (m *mockChat) Complete(_ context.Context, turns []domain.ConversationTurn, _ []domain.ToolDefinition) (*domain.ChatReply, error) {
	m.calls++
	m.lastTurns = turns
	if m.err != nil {
		return nil, m.err
	}
	idx := m.calls - 1
	if idx >= len(m.replies) {
		idx = len(m.replies) - 1
	}
	return m.replies[idx], nil
}

func (m *mockChat) Name() string { return "mock" }

// mockGrounder is a mock implementation of orchestrator.Grounder.
type mockGrounder struct {
	results []domain.RetrievalResult
	err     error
	calls   int
}

func (m *mockGrounder) Retrieve(_ context.Context, _ string, _ int) ([]domain.RetrievalResult, error) {
	m.calls++
	return m.results, m.err
}

func testRegistry(t *testing.T, searcher tools.BookSearcher) *tools.Registry {
	t.Helper()
	store, err := corpus.New([]domain.BookRecord{
		{Title: "The Hobbit", ShortSummary: "An unexpected journey.", FullSummary: "Bilbo Baggins sets out with thirteen dwarves...", Themes: []string{"adventure", "friendship"}},
	})
	require.NoError(t, err)

	registry := tools.NewRegistry()
	require.NoError(t, tools.RegisterBookTools(registry, store, searcher, 3))
	return registry
}

func toolCallReply(id, name, args string) *domain.ChatReply {
	return &domain.ChatReply{
		ToolCalls: []domain.ToolCallRequest{{ID: id, Name: name, Arguments: args}},
	}
}

func newOrchestrator(chat domain.ChatModel, grounder orchestrator.Grounder, registry *tools.Registry, cfg orchestrator.Config) *orchestrator.Orchestrator {
	return orchestrator.New(chat, registry, grounder, safety.New(safety.Config{}), cfg)
}

func TestRun_BlockedInput(t *testing.T) {
	chat := &mockChat{replies: []*domain.ChatReply{{Content: "never reached"}}}
	grounder := &mockGrounder{}
	orch := newOrchestrator(chat, grounder, testRegistry(t, grounder), orchestrator.Config{})

	exchange, err := orch.Run(context.Background(), "I hate everyone here", nil, 0)
	require.NoError(t, err)
	require.True(t, exchange.Blocked)
	require.NotEmpty(t, exchange.BlockedReason)
	require.Contains(t, exchange.Text, "respectful")

	require.Zero(t, chat.calls, "blocked input must not reach the model")
	require.Zero(t, grounder.calls, "blocked input must not trigger retrieval")
	require.Empty(t, exchange.ToolCallsExecuted)
}

func TestRun_HappyPathWithToolCall(t *testing.T) {
	grounder := &mockGrounder{results: []domain.RetrievalResult{
		{Book: domain.BookRecord{Title: "The Hobbit", ShortSummary: "An unexpected journey.", Themes: []string{"adventure"}}, Score: 0.91, Rank: 1},
	}}
	chat := &mockChat{replies: []*domain.ChatReply{
		toolCallReply("call-1", tools.ToolGetSummaryByTitle, `{"title": "The Hobbit"}`),
		{Content: "You should read The Hobbit: Bilbo's journey is all about friendship."},
	}}
	orch := newOrchestrator(chat, grounder, testRegistry(t, grounder), orchestrator.Config{})

	exchange, err := orch.Run(context.Background(), "something about friendship and adventure", nil, 0)
	require.NoError(t, err)
	require.False(t, exchange.Blocked)
	require.Contains(t, exchange.Text, "The Hobbit")
	require.Equal(t, 1, exchange.RoundTrips)
	require.Equal(t, 2, chat.calls)

	require.Len(t, exchange.ToolCallsExecuted, 1)
	require.Equal(t, tools.ToolGetSummaryByTitle, exchange.ToolCallsExecuted[0].Name)
	require.Empty(t, exchange.ToolCallsExecuted[0].Error)

	// Conversation replay order: the assistant tool-call turn must precede
	// the matching tool turn.
	var sawAssistantCall, sawToolResult bool
	for _, turn := range exchange.Turns {
		if turn.Role == domain.RoleAssistant && len(turn.ToolCalls) > 0 {
			sawAssistantCall = true
		}
		if turn.Role == domain.RoleTool {
			require.True(t, sawAssistantCall)
			require.Equal(t, "call-1", turn.ToolCallID)
			require.Contains(t, turn.Content, "Bilbo Baggins")
			sawToolResult = true
		}
	}
	require.True(t, sawToolResult)
	require.Equal(t, domain.RoleAssistant, exchange.Turns[len(exchange.Turns)-1].Role)
}

func TestRun_GroundingContextTurn(t *testing.T) {
	grounder := &mockGrounder{results: []domain.RetrievalResult{
		{Book: domain.BookRecord{Title: "The Hobbit", ShortSummary: "An unexpected journey.", Themes: []string{"adventure"}}, Score: 0.9, Rank: 1},
	}}
	chat := &mockChat{replies: []*domain.ChatReply{{Content: "Read The Hobbit."}}}
	orch := newOrchestrator(chat, grounder, testRegistry(t, grounder), orchestrator.Config{})

	history := []domain.ConversationTurn{
		{Role: domain.RoleUser, Content: "hello"},
		{Role: domain.RoleAssistant, Content: "hello, what would you like to read?"},
	}

	_, err := orch.Run(context.Background(), "adventure please", history, 0)
	require.NoError(t, err)
	require.Equal(t, 1, grounder.calls)

	// system prompt, two history turns, grounding turn, user turn.
	require.Len(t, chat.lastTurns, 5)
	require.Equal(t, domain.RoleSystem, chat.lastTurns[0].Role)
	require.Equal(t, "hello", chat.lastTurns[1].Content)
	require.Contains(t, chat.lastTurns[3].Content, "The Hobbit")
	require.Equal(t, "adventure please", chat.lastTurns[4].Content)
}

func TestRun_RoundTripCap(t *testing.T) {
	grounder := &mockGrounder{}
	// The model never stops asking for tools.
	chat := &mockChat{replies: []*domain.ChatReply{
		toolCallReply("call-x", tools.ToolListAvailableBooks, `{}`),
	}}
	orch := newOrchestrator(chat, grounder, testRegistry(t, grounder), orchestrator.Config{MaxRoundTrips: 2})

	exchange, err := orch.Run(context.Background(), "recommend anything", nil, 0)
	require.NoError(t, err)
	require.Equal(t, 2, exchange.RoundTrips)
	require.Equal(t, 3, chat.calls, "cap allows MaxRoundTrips tool cycles plus the final call")
	require.Len(t, exchange.ToolCallsExecuted, 2)
	require.Contains(t, exchange.Text, "could not finish")
}

func TestRun_InvalidToolCallSynthesizesErrorTurn(t *testing.T) {
	grounder := &mockGrounder{}
	chat := &mockChat{replies: []*domain.ChatReply{
		toolCallReply("call-1", tools.ToolSearchBooks, `{"top_k": 2}`),
		{Content: "Let me try something else."},
	}}
	orch := newOrchestrator(chat, grounder, testRegistry(t, grounder), orchestrator.Config{})

	exchange, err := orch.Run(context.Background(), "recommend a book", nil, 0)
	require.NoError(t, err, "an invalid tool call must not fail the exchange")
	require.Len(t, exchange.ToolCallsExecuted, 1)
	require.NotEmpty(t, exchange.ToolCallsExecuted[0].Error)

	var errorTurn string
	for _, turn := range exchange.Turns {
		if turn.Role == domain.RoleTool && turn.ToolCallID == "call-1" {
			errorTurn = turn.Content
		}
	}
	require.Contains(t, errorTurn, "Tool call error")
	require.Contains(t, errorTurn, "Correct the arguments")
}

func TestRun_ModelUnavailable(t *testing.T) {
	grounder := &mockGrounder{}
	chat := &mockChat{err: errors.New("connection refused")}
	orch := newOrchestrator(chat, grounder, testRegistry(t, grounder), orchestrator.Config{})

	_, err := orch.Run(context.Background(), "recommend a book", nil, 0)
	require.ErrorIs(t, err, domain.ErrModelUnavailable)
}

func TestRun_GroundingDegraded(t *testing.T) {
	grounder := &mockGrounder{err: domain.ErrGroundingUnavailable}
	chat := &mockChat{replies: []*domain.ChatReply{{Content: "I cannot search right now."}}}
	orch := newOrchestrator(chat, grounder, testRegistry(t, grounder), orchestrator.Config{})

	exchange, err := orch.Run(context.Background(), "recommend a book", nil, 0)
	require.NoError(t, err)
	require.True(t, exchange.GroundingDegraded)

	// The model still gets called, with a degraded-context instruction.
	require.Equal(t, 1, chat.calls)
	var groundingTurn string
	for _, turn := range chat.lastTurns {
		if turn.Role == domain.RoleSystem && turn.Content != "" {
			groundingTurn = turn.Content
		}
	}
	require.Contains(t, groundingTurn, "temporarily unavailable")
}

func TestRun_WithScriptedModel(t *testing.T) {
	grounder := &mockGrounder{results: []domain.RetrievalResult{
		{Book: domain.BookRecord{Title: "The Hobbit", ShortSummary: "An unexpected journey.", Themes: []string{"adventure"}}, Score: 0.9, Rank: 1},
	}}
	orch := newOrchestrator(echo.NewModel(), grounder, testRegistry(t, grounder), orchestrator.Config{})

	exchange, err := orch.Run(context.Background(), "something about friendship and magic", nil, 0)
	require.NoError(t, err)
	require.False(t, exchange.Blocked)
	require.Contains(t, exchange.Text, "The Hobbit")
	require.Equal(t, 1, exchange.RoundTrips)
	require.Len(t, exchange.ToolCallsExecuted, 1)
	require.Equal(t, tools.ToolSearchBooks, exchange.ToolCallsExecuted[0].Name)
}

func TestRun_CanceledContext(t *testing.T) {
	grounder := &mockGrounder{}
	chat := &mockChat{replies: []*domain.ChatReply{{Content: "unused"}}}
	orch := newOrchestrator(chat, grounder, testRegistry(t, grounder), orchestrator.Config{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := orch.Run(ctx, "recommend a book", nil, 0)
	require.ErrorIs(t, err, context.Canceled)
	require.Zero(t, chat.calls)
}
