package corpus_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/davidbz/librarian/internal/corpus"
	"github.com/davidbz/librarian/internal/domain"
)

func testBooks() []domain.BookRecord {
	return []domain.BookRecord{
		{
			Title:        "The Hobbit",
			Author:       "J.R.R. Tolkien",
			ShortSummary: "Bilbo's journey with dwarves to reclaim a treasure.",
			FullSummary:  "Bilbo Baggins leaves the Shire on an unexpected journey...",
			Themes:       []string{"adventure", "friendship", "courage"},
		},
		{
			Title:        "1984",
			Author:       "George Orwell",
			ShortSummary: "A dystopia of total surveillance.",
			FullSummary:  "Winston Smith lives under the watch of Big Brother...",
			Themes:       []string{"freedom", "social control", "surveillance"},
		},
	}
}

func TestNew(t *testing.T) {
	t.Run("should index records by title", func(t *testing.T) {
		store, err := corpus.New(testBooks())
		require.NoError(t, err)
		require.Equal(t, 2, store.Len())

		book, ok := store.ByTitle("1984")
		require.True(t, ok)
		require.Equal(t, "George Orwell", book.Author)

		_, ok = store.ByTitle("Dune")
		require.False(t, ok)
	})

	t.Run("should preserve load order", func(t *testing.T) {
		store, err := corpus.New(testBooks())
		require.NoError(t, err)
		require.Equal(t, []string{"The Hobbit", "1984"}, store.Titles())
		require.Equal(t, 0, store.Position("The Hobbit"))
		require.Equal(t, 1, store.Position("1984"))
		require.Equal(t, 2, store.Position("unknown"))
	})

	t.Run("should reject duplicate titles", func(t *testing.T) {
		books := testBooks()
		books = append(books, books[0])

		_, err := corpus.New(books)
		require.Error(t, err)
		require.Contains(t, err.Error(), "duplicate corpus title")
	})

	t.Run("should reject empty titles", func(t *testing.T) {
		_, err := corpus.New([]domain.BookRecord{{Author: "nobody"}})
		require.Error(t, err)
	})
}

func TestClosestTitle(t *testing.T) {
	store, err := corpus.New(testBooks())
	require.NoError(t, err)

	t.Run("exact match", func(t *testing.T) {
		title, ok := store.ClosestTitle("The Hobbit")
		require.True(t, ok)
		require.Equal(t, "The Hobbit", title)
	})

	t.Run("case-insensitive match", func(t *testing.T) {
		title, ok := store.ClosestTitle("the hobbit")
		require.True(t, ok)
		require.Equal(t, "The Hobbit", title)
	})

	t.Run("partial match", func(t *testing.T) {
		title, ok := store.ClosestTitle("Hobbit")
		require.True(t, ok)
		require.Equal(t, "The Hobbit", title)
	})

	t.Run("no match", func(t *testing.T) {
		_, ok := store.ClosestTitle("Moby Dick")
		require.False(t, ok)
	})
}

func TestLoad(t *testing.T) {
	t.Run("should load records from JSON file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "books.json")
		content := `[
			{"title": "Fahrenheit 451", "author": "Ray Bradbury",
			 "short_summary": "Books are burned.", "full_summary": "Guy Montag is a fireman...",
			 "themes": ["censorship", "knowledge"]}
		]`
		require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

		store, err := corpus.Load(path)
		require.NoError(t, err)
		require.Equal(t, 1, store.Len())

		book, ok := store.ByTitle("Fahrenheit 451")
		require.True(t, ok)
		require.Equal(t, []string{"censorship", "knowledge"}, book.Themes)
	})

	t.Run("should fail on missing file", func(t *testing.T) {
		_, err := corpus.Load(filepath.Join(t.TempDir(), "missing.json"))
		require.Error(t, err)
	})
}
