package domain

import "context"

// ChatModel is the remote chat-completion port. Given the conversation so far
// and the declared tool schemas, it returns either plain content or tool-call
// requests.
type ChatModel interface {
	// Complete sends one completion call.
	Complete(ctx context.Context, turns []ConversationTurn, tools []ToolDefinition) (*ChatReply, error)

	// Name returns the model adapter identifier.
	Name() string
}

// EmbeddingGenerator creates vector embeddings from text.
type EmbeddingGenerator interface {
	// Generate creates a vector embedding from text.
	Generate(ctx context.Context, text string) ([]float64, error)

	// Name returns the generator identifier.
	Name() string

	// Dimension returns the vector dimension.
	Dimension() int
}

// IndexMatch is one nearest-neighbor hit from the vector index.
type IndexMatch struct {
	ID       string
	Distance float64
}

// VectorIndex is the persistent nearest-neighbor index over corpus embeddings.
type VectorIndex interface {
	// Upsert stores or replaces a vector with associated metadata.
	Upsert(ctx context.Context, id string, vector []float64, metadata map[string]string) error

	// Query returns the topK nearest vectors by ascending distance.
	Query(ctx context.Context, vector []float64, topK int) ([]IndexMatch, error)
}
