// Package orchestrator drives one conversational exchange with the chat
// model as a strict state machine: filter, reason, execute requested tools,
// feed results back, finalize. The tool loop is capped so a misbehaving model
// cannot hang a request.
package orchestrator

import (
	"context"
	"errors"
	"fmt"

	"github.com/davidbz/librarian/internal/domain"
	"github.com/davidbz/librarian/internal/observability"
	"github.com/davidbz/librarian/internal/safety"
	"github.com/davidbz/librarian/internal/tools"
)

// State identifies a position in the exchange state machine.
type State int

// Exchange states. Blocked is terminal and reachable only from Filtering.
const (
	StateStart State = iota
	StateFiltering
	StateReasoning
	StateToolExecution
	StateFinalizing
	StateDone
	StateBlocked
)

const defaultSystemPrompt = `You are Smart Librarian, an AI assistant that recommends books from a fixed corpus.

Your role:
1. Analyze the user's reading preferences and recommend exactly one suitable book per answer.
2. Ground every recommendation in the provided context or in search_books results; never invent titles.
3. After naming the recommended title, call get_summary_by_title with the exact title to present its detailed summary.
4. Be conversational and explain why the book fits the request.`

const (
	defaultRefusalMessage  = "I'd prefer to keep our conversation respectful. Could you rephrase that?"
	defaultFallbackMessage = "I could not finish putting a recommendation together. Please try again."
)

// Config contains orchestration tunables.
type Config struct {
	// MaxRoundTrips caps the Reasoning <-> ToolExecution loop.
	MaxRoundTrips int

	// SystemPrompt overrides the built-in librarian prompt when non-empty.
	SystemPrompt string

	// DefaultTopK bounds the grounding context built before the first
	// model call.
	DefaultTopK int
}

// Exchange is the outcome of one orchestrated conversation turn.
type Exchange struct {
	Text              string
	ToolCallsExecuted []domain.ExecutedToolCall
	Blocked           bool
	BlockedReason     string
	GroundingDegraded bool

	// Turns is the final conversation state, for callers that persist
	// history. The orchestrator itself keeps nothing across exchanges.
	Turns []domain.ConversationTurn

	// RoundTrips counts executed tool-execution cycles.
	RoundTrips int
}

// Grounder is the slice of the retriever the orchestrator needs for the
// up-front context turn.
type Grounder interface {
	Retrieve(ctx context.Context, query string, topK int) ([]domain.RetrievalResult, error)
}

// Orchestrator runs exchanges against a chat model and a tool registry.
type Orchestrator struct {
	chat     domain.ChatModel
	registry *tools.Registry
	grounder Grounder
	filter   *safety.Filter
	cfg      Config
}

// New creates an orchestrator.
func New(chat domain.ChatModel, registry *tools.Registry, grounder Grounder, filter *safety.Filter, cfg Config) *Orchestrator {
	if cfg.MaxRoundTrips < 1 {
		cfg.MaxRoundTrips = 4
	}
	if cfg.DefaultTopK < 1 {
		cfg.DefaultTopK = 3
	}
	if cfg.SystemPrompt == "" {
		cfg.SystemPrompt = defaultSystemPrompt
	}

	return &Orchestrator{
		chat:     chat,
		registry: registry,
		grounder: grounder,
		filter:   filter,
		cfg:      cfg,
	}
}

// Run executes one exchange. history is the caller-owned prior conversation;
// topK bounds the grounding context (0 means the configured default). The
// only error conditions are context cancellation and
// domain.ErrModelUnavailable; everything else degrades into the Exchange.
func (o *Orchestrator) Run(
	ctx context.Context,
	userText string,
	history []domain.ConversationTurn,
	topK int,
) (*Exchange, error) {
	if topK < 1 {
		topK = o.cfg.DefaultTopK
	}

	logger := observability.FromContext(ctx)
	exchange := &Exchange{}

	var (
		state     = StateFiltering
		turns     []domain.ConversationTurn
		lastReply *domain.ChatReply
	)

	for {
		switch state {
		case StateFiltering:
			verdict := o.filter.Classify(ctx, userText)
			if !verdict.Allowed {
				exchange.Blocked = true
				exchange.BlockedReason = verdict.Reason
				exchange.Text = defaultRefusalMessage
				state = StateBlocked
				continue
			}
			turns = o.openingTurns(ctx, userText, history, topK, exchange)
			state = StateReasoning

		case StateReasoning:
			// Cancellation checkpoint: the caller may have disconnected
			// between round trips.
			if err := ctx.Err(); err != nil {
				return nil, err
			}

			reply, err := o.chat.Complete(ctx, turns, o.registry.Definitions())
			if err != nil {
				logger.Error("chat completion failed", observability.Error(err))
				return nil, fmt.Errorf("%w: %v", domain.ErrModelUnavailable, err)
			}
			lastReply = reply

			if len(reply.ToolCalls) == 0 {
				state = StateFinalizing
				continue
			}
			state = StateToolExecution

		case StateToolExecution:
			if exchange.RoundTrips >= o.cfg.MaxRoundTrips {
				logger.Warn("tool round-trip cap reached, forcing finalization",
					observability.Int("max_round_trips", o.cfg.MaxRoundTrips))
				state = StateFinalizing
				continue
			}

			turns = append(turns, domain.ConversationTurn{
				Role:      domain.RoleAssistant,
				Content:   lastReply.Content,
				ToolCalls: lastReply.ToolCalls,
			})
			turns = append(turns, o.executeToolCalls(ctx, lastReply.ToolCalls, exchange)...)
			exchange.RoundTrips++
			state = StateReasoning

		case StateFinalizing:
			exchange.Text = lastReply.Content
			if exchange.Text == "" {
				exchange.Text = defaultFallbackMessage
			}
			turns = append(turns, domain.ConversationTurn{
				Role:    domain.RoleAssistant,
				Content: exchange.Text,
			})
			state = StateDone

		case StateBlocked, StateDone:
			exchange.Turns = turns
			logger.Info("exchange completed",
				observability.Bool("blocked", exchange.Blocked),
				observability.Int("round_trips", exchange.RoundTrips),
				observability.Int("tool_calls", len(exchange.ToolCallsExecuted)),
				observability.Bool("grounding_degraded", exchange.GroundingDegraded))
			return exchange, nil

		default:
			return nil, fmt.Errorf("orchestrator entered invalid state %d", state)
		}
	}
}

// openingTurns assembles the conversation sent on the first model call:
// system prompt, caller history, a grounding context turn and the user turn.
func (o *Orchestrator) openingTurns(
	ctx context.Context,
	userText string,
	history []domain.ConversationTurn,
	topK int,
	exchange *Exchange,
) []domain.ConversationTurn {
	turns := make([]domain.ConversationTurn, 0, len(history)+3)
	turns = append(turns, domain.ConversationTurn{Role: domain.RoleSystem, Content: o.cfg.SystemPrompt})
	turns = append(turns, history...)

	grounding := "Context for this request:\n"
	results, err := o.grounder.Retrieve(ctx, userText, topK)
	switch {
	case errors.Is(err, domain.ErrGroundingUnavailable):
		exchange.GroundingDegraded = true
		grounding += "Book search is temporarily unavailable. Tell the user grounded recommendations cannot be made right now; do not invent titles."
	case err != nil:
		exchange.GroundingDegraded = true
		grounding += "Book search failed. Do not invent titles."
	default:
		grounding += tools.FormatResults(results)
	}

	turns = append(turns, domain.ConversationTurn{Role: domain.RoleSystem, Content: grounding})
	turns = append(turns, domain.ConversationTurn{Role: domain.RoleUser, Content: userText})

	return turns
}

// executeToolCalls runs every requested call, synthesizing an error tool turn
// for anything invalid so the model can retry with corrected arguments.
func (o *Orchestrator) executeToolCalls(
	ctx context.Context,
	calls []domain.ToolCallRequest,
	exchange *Exchange,
) []domain.ConversationTurn {
	logger := observability.FromContext(ctx)
	turns := make([]domain.ConversationTurn, 0, len(calls))

	for _, call := range calls {
		executed := domain.ExecutedToolCall{Name: call.Name, Arguments: call.Arguments}

		result, err := o.registry.Execute(ctx, call.Name, call.Arguments)

		var vErr *tools.ValidationError
		switch {
		case errors.As(err, &vErr):
			logger.Warn("tool call failed validation",
				observability.String("tool", call.Name),
				observability.String("reason", vErr.Reason))
			executed.Error = vErr.Error()
			result = "Tool call error: " + vErr.Error() + ". Correct the arguments and try again."
		case err != nil:
			executed.Error = err.Error()
			result = "Tool execution failed: " + err.Error()
		}

		exchange.ToolCallsExecuted = append(exchange.ToolCallsExecuted, executed)
		turns = append(turns, domain.ConversationTurn{
			Role:       domain.RoleTool,
			Content:    result,
			ToolCallID: call.ID,
		})
	}

	return turns
}
