package domain

import "errors"

// Sentinel errors for the exchange taxonomy. Only ErrModelUnavailable is
// terminal for an exchange; grounding loss degrades the answer instead.
var (
	// ErrGroundingUnavailable indicates the retriever could not reach the
	// embedding service or vector index after bounded retries.
	ErrGroundingUnavailable = errors.New("grounding unavailable")

	// ErrModelUnavailable indicates the chat-completion call failed after
	// bounded retries.
	ErrModelUnavailable = errors.New("chat model unavailable")
)
