package domain

// BookRecord is a single corpus entry. Records are immutable after load and
// uniquely keyed by title.
type BookRecord struct {
	Title        string   `json:"title"`
	Author       string   `json:"author"`
	ShortSummary string   `json:"short_summary"`
	FullSummary  string   `json:"full_summary"`
	Themes       []string `json:"themes"`
}

// RetrievalResult is one ranked grounding candidate for a query.
// Results are ordered by descending score; rank starts at 1.
type RetrievalResult struct {
	Book  BookRecord `json:"book"`
	Score float64    `json:"score"`
	Rank  int        `json:"rank"`
}

// Turn roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// ConversationTurn is one entry in a conversation state. Assistant turns may
// carry tool-call requests; tool turns carry the result for one request and
// reference it by ToolCallID.
type ConversationTurn struct {
	Role       string            `json:"role"`
	Content    string            `json:"content"`
	ToolCalls  []ToolCallRequest `json:"tool_calls,omitempty"`
	ToolCallID string            `json:"tool_call_id,omitempty"`
}

// ToolCallRequest is a structured request from the model to invoke a tool.
// Arguments is the raw JSON object the model produced.
type ToolCallRequest struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// ExecutedToolCall records one tool invocation for observability surfaces.
type ExecutedToolCall struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
	Error     string `json:"error,omitempty"`
}

// ToolDefinition declares a callable tool with its argument schema.
type ToolDefinition struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  ParameterSchema `json:"parameters"`
}

// ParameterSchema describes a flat object schema for tool arguments.
type ParameterSchema struct {
	Properties map[string]Property `json:"properties"`
	Required   []string            `json:"required"`
}

// Property describes a single tool argument.
type Property struct {
	Type        string `json:"type"` // "string", "integer" or "number"
	Description string `json:"description"`
}

// ChatReply is the chat model's answer to one completion call: either plain
// content, or one or more tool-call requests to execute and feed back.
type ChatReply struct {
	Content   string
	ToolCalls []ToolCallRequest
	Usage     Usage
}

// Usage tracks token consumption for one completion call.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Media artifact kinds.
const (
	MediaKindAudio = "audio"
	MediaKindImage = "image"
)

// ProviderFailure records one failed provider attempt within a fallback chain.
type ProviderFailure struct {
	Provider string `json:"provider"`
	Reason   string `json:"reason"`
}

// MediaArtifact is a generated media result. Exactly one of URI and Bytes is
// set depending on what the winning provider returns. Artifacts live only for
// the request that produced them; persistence belongs to the caller.
type MediaArtifact struct {
	Kind            string            `json:"kind"`
	ProviderUsed    string            `json:"provider_used"`
	URI             string            `json:"uri,omitempty"`
	Bytes           []byte            `json:"bytes,omitempty"`
	FailedProviders []ProviderFailure `json:"failed_providers,omitempty"`
}

// Result is the full outcome of one conversational exchange.
type Result struct {
	Text              string             `json:"text"`
	ToolCallsExecuted []ExecutedToolCall `json:"tool_calls_executed"`
	MediaArtifacts    []MediaArtifact    `json:"media_artifacts,omitempty"`
	FailedMedia       map[string]string  `json:"failed_media,omitempty"` // kind -> reason
	Blocked           bool               `json:"blocked"`
	BlockedReason     string             `json:"blocked_reason,omitempty"`
	GroundingDegraded bool               `json:"grounding_degraded"`
}

// Status reports component health to the caller.
type Status struct {
	RetrieverHealthy   bool            `json:"retriever_healthy"`
	ChatModelReachable bool            `json:"chat_model_reachable"`
	PerProviderHealth  map[string]bool `json:"per_provider_health"`
}
