package tools

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/davidbz/librarian/internal/corpus"
	"github.com/davidbz/librarian/internal/domain"
)

// Tool names exposed to the chat model.
const (
	ToolSearchBooks        = "search_books"
	ToolGetSummaryByTitle  = "get_summary_by_title"
	ToolListAvailableBooks = "list_available_books"
)

// BookSearcher is the slice of the retriever the search tool needs.
type BookSearcher interface {
	Retrieve(ctx context.Context, query string, topK int) ([]domain.RetrievalResult, error)
}

// RegisterBookTools registers the three built-in tools against the corpus and
// retriever. defaultTopK bounds search results when the model omits top_k.
func RegisterBookTools(registry *Registry, store *corpus.Store, searcher BookSearcher, defaultTopK int) error {
	if defaultTopK < 1 {
		defaultTopK = 3
	}

	searchBooks := Tool{
		Definition: domain.ToolDefinition{
			Name:        ToolSearchBooks,
			Description: "Search the book corpus for titles matching themes, topics or keywords. Returns ranked candidates with short summaries.",
			Parameters: domain.ParameterSchema{
				Properties: map[string]domain.Property{
					"query": {Type: "string", Description: "Themes, topics or keywords to search for."},
					"top_k": {Type: "integer", Description: "Maximum number of candidates to return."},
				},
				Required: []string{"query"},
			},
		},
		Run: func(ctx context.Context, args map[string]any) (string, error) {
			query, _ := args["query"].(string)

			topK := defaultTopK
			if raw, ok := args["top_k"].(float64); ok && int(raw) >= 1 {
				topK = int(raw)
			}

			results, err := searcher.Retrieve(ctx, query, topK)
			if err != nil {
				if errors.Is(err, domain.ErrGroundingUnavailable) {
					return "Book search is temporarily unavailable; do not invent titles. Tell the user grounded recommendations cannot be made right now.", nil
				}
				return "", err
			}

			return FormatResults(results), nil
		},
	}

	getSummary := Tool{
		Definition: domain.ToolDefinition{
			Name:        ToolGetSummaryByTitle,
			Description: "Return the detailed summary of a book given its exact title.",
			Parameters: domain.ParameterSchema{
				Properties: map[string]domain.Property{
					"title": {Type: "string", Description: "The exact book title."},
				},
				Required: []string{"title"},
			},
		},
		Run: func(_ context.Context, args map[string]any) (string, error) {
			title, _ := args["title"].(string)

			if book, ok := store.ByTitle(title); ok {
				return book.FullSummary, nil
			}

			if closest, ok := store.ClosestTitle(title); ok {
				if book, found := store.ByTitle(closest); found {
					return fmt.Sprintf("No exact match for %q; closest known title is %q.\n\n%s",
						title, closest, book.FullSummary), nil
				}
			}

			return fmt.Sprintf("The book %q is not in the corpus. Use list_available_books to see known titles.", title), nil
		},
	}

	listBooks := Tool{
		Definition: domain.ToolDefinition{
			Name:        ToolListAvailableBooks,
			Description: "List every book title available in the corpus.",
			Parameters: domain.ParameterSchema{
				Properties: map[string]domain.Property{},
				Required:   []string{},
			},
		},
		Run: func(_ context.Context, _ map[string]any) (string, error) {
			titles := store.Titles()
			if len(titles) == 0 {
				return "The corpus is empty.", nil
			}
			return "Available books:\n- " + strings.Join(titles, "\n- "), nil
		},
	}

	for _, tool := range []Tool{searchBooks, getSummary, listBooks} {
		if err := registry.Register(tool); err != nil {
			return err
		}
	}

	return nil
}

// FormatResults renders retrieval results as the numbered grounding list the
// model consumes.
func FormatResults(results []domain.RetrievalResult) string {
	if len(results) == 0 {
		return "No relevant books found for this search."
	}

	var sb strings.Builder
	sb.WriteString("Relevant books found:\n")
	for _, result := range results {
		fmt.Fprintf(&sb, "%d. **%s** - %s (Themes: %s)\n",
			result.Rank, result.Book.Title, result.Book.ShortSummary,
			strings.Join(result.Book.Themes, ", "))
	}
	return strings.TrimRight(sb.String(), "\n")
}
