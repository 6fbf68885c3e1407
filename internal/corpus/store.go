// Package corpus holds the immutable book table the whole service recommends
// from. It is loaded once at startup and is safe for unlimited concurrent
// readers afterwards.
package corpus

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/davidbz/librarian/internal/domain"
)

// Store is the read-only corpus of book records, keyed by title.
type Store struct {
	books    []domain.BookRecord
	byTitle  map[string]int
	position map[string]int // stable load order, used for rank tie-breaks
}

// Load reads the corpus source file (a JSON array of book records).
func Load(path string) (*Store, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read corpus file: %w", err)
	}

	var books []domain.BookRecord
	if err := json.Unmarshal(data, &books); err != nil {
		return nil, fmt.Errorf("failed to parse corpus file: %w", err)
	}

	return New(books)
}

// New builds a store from already-loaded records.
func New(books []domain.BookRecord) (*Store, error) {
	s := &Store{
		books:    make([]domain.BookRecord, 0, len(books)),
		byTitle:  make(map[string]int, len(books)),
		position: make(map[string]int, len(books)),
	}

	for _, book := range books {
		if book.Title == "" {
			return nil, fmt.Errorf("corpus record %d has an empty title", len(s.books))
		}
		if _, exists := s.byTitle[book.Title]; exists {
			return nil, fmt.Errorf("duplicate corpus title: %s", book.Title)
		}

		idx := len(s.books)
		s.books = append(s.books, book)
		s.byTitle[book.Title] = idx
		s.position[book.Title] = idx
	}

	return s, nil
}

// ByTitle returns the record with the exact title.
func (s *Store) ByTitle(title string) (domain.BookRecord, bool) {
	idx, ok := s.byTitle[title]
	if !ok {
		return domain.BookRecord{}, false
	}
	return s.books[idx], true
}

// ClosestTitle finds the best known title for a partial or misspelled one:
// exact match first, then case-insensitive match, then substring containment
// either way. Returns false when nothing plausible exists.
func (s *Store) ClosestTitle(partial string) (string, bool) {
	if _, ok := s.byTitle[partial]; ok {
		return partial, true
	}

	needle := strings.ToLower(strings.TrimSpace(partial))
	if needle == "" {
		return "", false
	}

	for _, book := range s.books {
		if strings.ToLower(book.Title) == needle {
			return book.Title, true
		}
	}

	for _, book := range s.books {
		haystack := strings.ToLower(book.Title)
		if strings.Contains(haystack, needle) || strings.Contains(needle, haystack) {
			return book.Title, true
		}
	}

	return "", false
}

// Titles returns all titles in stable corpus order.
func (s *Store) Titles() []string {
	titles := make([]string, len(s.books))
	for i, book := range s.books {
		titles[i] = book.Title
	}
	return titles
}

// Books returns all records in stable corpus order. The returned slice is a
// copy; the records themselves are shared and must not be mutated.
func (s *Store) Books() []domain.BookRecord {
	books := make([]domain.BookRecord, len(s.books))
	copy(books, s.books)
	return books
}

// Position returns the load-order index of a title, for stable tie-breaking.
func (s *Store) Position(title string) int {
	if idx, ok := s.position[title]; ok {
		return idx
	}
	return len(s.books)
}

// Len returns the number of records.
func (s *Store) Len() int {
	return len(s.books)
}
