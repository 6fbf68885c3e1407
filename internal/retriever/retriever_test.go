package retriever_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/davidbz/librarian/internal/corpus"
	"github.com/davidbz/librarian/internal/domain"
	"github.com/davidbz/librarian/internal/retriever"
)

// mockEmbedder is a mock implementation of domain.EmbeddingGenerator.
type mockEmbedder struct {
	calls        atomic.Int64
	generateFunc func(ctx context.Context, text string) ([]float64, error)
}

func (m *mockEmbedder) Generate(ctx context.Context, text string) ([]float64, error) {
	m.calls.Add(1)
	if m.generateFunc != nil {
		return m.generateFunc(ctx, text)
	}
	return []float64{0.1, 0.2, 0.3}, nil
}

func (m *mockEmbedder) Name() string   { return "mock" }
func (m *mockEmbedder) Dimension() int { return 3 }

// mockIndex is a mock implementation of domain.VectorIndex.
type mockIndex struct {
	calls     atomic.Int64
	matches   []domain.IndexMatch
	queryErr  error
	queryFunc func(ctx context.Context, vector []float64, topK int) ([]domain.IndexMatch, error)
}

func (m *mockIndex) Upsert(_ context.Context, _ string, _ []float64, _ map[string]string) error {
	return nil
}

func (m *mockIndex) Query(ctx context.Context, vector []float64, topK int) ([]domain.IndexMatch, error) {
	m.calls.Add(1)
	if m.queryFunc != nil {
		return m.queryFunc(ctx, vector, topK)
	}
	if m.queryErr != nil {
		return nil, m.queryErr
	}
	if len(m.matches) > topK {
		return m.matches[:topK], nil
	}
	return m.matches, nil
}

func testStore(t *testing.T) *corpus.Store {
	t.Helper()
	store, err := corpus.New([]domain.BookRecord{
		{Title: "The Hobbit", ShortSummary: "An unexpected journey.", Themes: []string{"adventure", "friendship"}},
		{Title: "1984", ShortSummary: "Total surveillance.", Themes: []string{"freedom", "control"}},
		{Title: "The Name of the Wind", ShortSummary: "A gifted young magician.", Themes: []string{"magic", "friendship"}},
	})
	require.NoError(t, err)
	return store
}

func defaultConfig() retriever.Config {
	return retriever.Config{
		DefaultTopK:   3,
		MinSimilarity: 0.3,
		CacheSize:     16,
		CacheTTL:      time.Minute,
		RetryAttempts: 2,
		RetryBackoff:  time.Millisecond,
	}
}

func TestRetrieve_Ordering(t *testing.T) {
	store := testStore(t)
	embedder := &mockEmbedder{}
	index := &mockIndex{matches: []domain.IndexMatch{
		{ID: "The Name of the Wind", Distance: 0.1},
		{ID: "The Hobbit", Distance: 0.25},
		{ID: "1984", Distance: 0.6},
	}}

	r := retriever.New(embedder, index, store, defaultConfig())

	results, err := r.Retrieve(context.Background(), "Friendship and Magic", 3)
	require.NoError(t, err)
	require.Len(t, results, 3)

	for i, result := range results {
		require.Equal(t, i+1, result.Rank)
		if i > 0 {
			require.LessOrEqual(t, result.Score, results[i-1].Score)
		}
	}
	require.Equal(t, "The Name of the Wind", results[0].Book.Title)
	require.InEpsilon(t, 0.9, results[0].Score, 0.0001)
}

func TestRetrieve_RespectsTopK(t *testing.T) {
	store := testStore(t)
	index := &mockIndex{matches: []domain.IndexMatch{
		{ID: "The Hobbit", Distance: 0.1},
		{ID: "1984", Distance: 0.2},
		{ID: "The Name of the Wind", Distance: 0.3},
	}}

	r := retriever.New(&mockEmbedder{}, index, store, defaultConfig())

	results, err := r.Retrieve(context.Background(), "anything", 1)
	require.NoError(t, err)
	require.Len(t, results, 1)
}

func TestRetrieve_SimilarityFloor(t *testing.T) {
	store := testStore(t)

	t.Run("should drop results below the floor", func(t *testing.T) {
		index := &mockIndex{matches: []domain.IndexMatch{
			{ID: "The Hobbit", Distance: 0.1},  // score 0.9
			{ID: "1984", Distance: 0.85},       // score 0.15, below floor
		}}
		r := retriever.New(&mockEmbedder{}, index, store, defaultConfig())

		results, err := r.Retrieve(context.Background(), "journeys", 3)
		require.NoError(t, err)
		require.Len(t, results, 1)
		require.Equal(t, "The Hobbit", results[0].Book.Title)
	})

	t.Run("should return empty when everything is below the floor", func(t *testing.T) {
		index := &mockIndex{matches: []domain.IndexMatch{
			{ID: "The Hobbit", Distance: 0.95},
			{ID: "1984", Distance: 0.99},
		}}
		r := retriever.New(&mockEmbedder{}, index, store, defaultConfig())

		results, err := r.Retrieve(context.Background(), "cooking recipes", 3)
		require.NoError(t, err)
		require.Empty(t, results)
	})
}

func TestRetrieve_StableTieBreak(t *testing.T) {
	store := testStore(t)
	// Equal distances: corpus order (Hobbit before 1984) must decide.
	index := &mockIndex{matches: []domain.IndexMatch{
		{ID: "1984", Distance: 0.2},
		{ID: "The Hobbit", Distance: 0.2},
	}}

	r := retriever.New(&mockEmbedder{}, index, store, defaultConfig())

	results, err := r.Retrieve(context.Background(), "tied", 2)
	require.NoError(t, err)
	require.Len(t, results, 2)
	require.Equal(t, "The Hobbit", results[0].Book.Title)
	require.Equal(t, "1984", results[1].Book.Title)
}

func TestRetrieve_CacheSuppressesDuplicateWork(t *testing.T) {
	store := testStore(t)
	embedder := &mockEmbedder{}
	index := &mockIndex{matches: []domain.IndexMatch{{ID: "The Hobbit", Distance: 0.1}}}

	r := retriever.New(embedder, index, store, defaultConfig())
	ctx := context.Background()

	first, err := r.Retrieve(ctx, "friendship and magic", 3)
	require.NoError(t, err)

	// Same query modulo case and whitespace must hit the cache.
	second, err := r.Retrieve(ctx, "  Friendship   AND magic ", 3)
	require.NoError(t, err)

	require.Equal(t, first, second)
	require.Equal(t, int64(1), embedder.calls.Load())
	require.Equal(t, int64(1), index.calls.Load())

	// A different topK is a different cache key.
	_, err = r.Retrieve(ctx, "friendship and magic", 2)
	require.NoError(t, err)
	require.Equal(t, int64(2), embedder.calls.Load())
}

func TestRetrieve_SingleFlight(t *testing.T) {
	store := testStore(t)

	release := make(chan struct{})
	embedder := &mockEmbedder{
		generateFunc: func(_ context.Context, _ string) ([]float64, error) {
			<-release
			return []float64{0.1, 0.2, 0.3}, nil
		},
	}
	index := &mockIndex{matches: []domain.IndexMatch{{ID: "1984", Distance: 0.1}}}

	r := retriever.New(embedder, index, store, defaultConfig())

	const callers = 8
	var wg sync.WaitGroup
	results := make([][]domain.RetrievalResult, callers)
	errs := make([]error, callers)

	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = r.Retrieve(context.Background(), "dystopia", 3)
		}(i)
	}

	// Let the goroutines pile up on the in-flight computation, then release it.
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	for i := 0; i < callers; i++ {
		require.NoError(t, errs[i])
		require.Equal(t, results[0], results[i])
	}
	require.Equal(t, int64(1), embedder.calls.Load(), "concurrent identical queries must coalesce")
}

func TestRetrieve_Degraded(t *testing.T) {
	store := testStore(t)

	t.Run("embedding failure after retries", func(t *testing.T) {
		embedder := &mockEmbedder{
			generateFunc: func(_ context.Context, _ string) ([]float64, error) {
				return nil, errors.New("connection refused")
			},
		}
		r := retriever.New(embedder, &mockIndex{}, store, defaultConfig())

		_, err := r.Retrieve(context.Background(), "anything", 3)
		require.ErrorIs(t, err, domain.ErrGroundingUnavailable)
		require.False(t, r.Healthy())
		require.Equal(t, int64(2), embedder.calls.Load(), "expected bounded retries")
	})

	t.Run("index failure after retries", func(t *testing.T) {
		index := &mockIndex{queryErr: errors.New("index offline")}
		r := retriever.New(&mockEmbedder{}, index, store, defaultConfig())

		_, err := r.Retrieve(context.Background(), "anything", 3)
		require.ErrorIs(t, err, domain.ErrGroundingUnavailable)
		require.False(t, r.Healthy())
	})

	t.Run("unconfigured backend", func(t *testing.T) {
		r := retriever.New(nil, nil, store, defaultConfig())

		_, err := r.Retrieve(context.Background(), "anything", 3)
		require.ErrorIs(t, err, domain.ErrGroundingUnavailable)
		require.False(t, r.Healthy())
	})

	t.Run("recovery flips the health flag back", func(t *testing.T) {
		failing := atomic.Bool{}
		failing.Store(true)
		embedder := &mockEmbedder{
			generateFunc: func(_ context.Context, _ string) ([]float64, error) {
				if failing.Load() {
					return nil, errors.New("down")
				}
				return []float64{0.1, 0.2, 0.3}, nil
			},
		}
		index := &mockIndex{matches: []domain.IndexMatch{{ID: "1984", Distance: 0.1}}}
		r := retriever.New(embedder, index, store, defaultConfig())

		_, err := r.Retrieve(context.Background(), "first", 3)
		require.Error(t, err)
		require.False(t, r.Healthy())

		failing.Store(false)
		_, err = r.Retrieve(context.Background(), "second", 3)
		require.NoError(t, err)
		require.True(t, r.Healthy())
	})
}

func TestSimilarTo(t *testing.T) {
	store := testStore(t)
	index := &mockIndex{matches: []domain.IndexMatch{
		{ID: "The Hobbit", Distance: 0.05}, // the seed itself
		{ID: "The Name of the Wind", Distance: 0.2},
		{ID: "1984", Distance: 0.4},
	}}

	r := retriever.New(&mockEmbedder{}, index, store, defaultConfig())

	t.Run("should exclude the seed title", func(t *testing.T) {
		results, err := r.SimilarTo(context.Background(), "The Hobbit", 2)
		require.NoError(t, err)
		require.Len(t, results, 2)
		require.Equal(t, "The Name of the Wind", results[0].Book.Title)
		require.Equal(t, 1, results[0].Rank)
		require.Equal(t, "1984", results[1].Book.Title)
	})

	t.Run("should fail on unknown titles", func(t *testing.T) {
		_, err := r.SimilarTo(context.Background(), "Moby Dick", 2)
		require.Error(t, err)
	})
}

func TestRetrieve_EmptyQuery(t *testing.T) {
	store := testStore(t)
	embedder := &mockEmbedder{}
	r := retriever.New(embedder, &mockIndex{}, store, defaultConfig())

	results, err := r.Retrieve(context.Background(), "   ", 3)
	require.NoError(t, err)
	require.Empty(t, results)
	require.Zero(t, embedder.calls.Load())
}
