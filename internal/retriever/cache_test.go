package retriever

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/davidbz/librarian/internal/domain"
)

func fixedResults(title string) []domain.RetrievalResult {
	return []domain.RetrievalResult{
		{Book: domain.BookRecord{Title: title}, Score: 0.9, Rank: 1},
	}
}

func TestResultCache_HitAndMiss(t *testing.T) {
	cache := newResultCache(4, time.Minute)
	ctx := context.Background()

	computed := 0
	compute := func() ([]domain.RetrievalResult, error) {
		computed++
		return fixedResults("A"), nil
	}

	results, hit, err := cache.do(ctx, "a|3", compute)
	require.NoError(t, err)
	require.False(t, hit)
	require.Equal(t, 1, computed)
	require.Equal(t, "A", results[0].Book.Title)

	results, hit, err = cache.do(ctx, "a|3", compute)
	require.NoError(t, err)
	require.True(t, hit)
	require.Equal(t, 1, computed)
	require.Equal(t, "A", results[0].Book.Title)
}

func TestResultCache_ErrorsAreNotCached(t *testing.T) {
	cache := newResultCache(4, time.Minute)
	ctx := context.Background()

	calls := 0
	_, _, err := cache.do(ctx, "k", func() ([]domain.RetrievalResult, error) {
		calls++
		return nil, errors.New("boom")
	})
	require.Error(t, err)

	_, hit, err := cache.do(ctx, "k", func() ([]domain.RetrievalResult, error) {
		calls++
		return fixedResults("B"), nil
	})
	require.NoError(t, err)
	require.False(t, hit)
	require.Equal(t, 2, calls)
}

func TestResultCache_LRUEviction(t *testing.T) {
	cache := newResultCache(2, time.Minute)
	ctx := context.Background()

	mustStore := func(key string) {
		_, _, err := cache.do(ctx, key, func() ([]domain.RetrievalResult, error) {
			return fixedResults(key), nil
		})
		require.NoError(t, err)
	}

	mustStore("a")
	mustStore("b")

	// Touch "a" so "b" becomes the eviction candidate.
	_, hit, err := cache.do(ctx, "a", nil)
	require.NoError(t, err)
	require.True(t, hit)

	mustStore("c")
	require.Equal(t, 2, cache.len())

	// "b" was evicted; recomputing it proves the miss.
	computed := false
	_, hit, err = cache.do(ctx, "b", func() ([]domain.RetrievalResult, error) {
		computed = true
		return fixedResults("b"), nil
	})
	require.NoError(t, err)
	require.False(t, hit)
	require.True(t, computed)

	// "a" survived.
	_, hit, err = cache.do(ctx, "a", nil)
	require.NoError(t, err)
	require.True(t, hit)
}

func TestResultCache_TTLExpiry(t *testing.T) {
	cache := newResultCache(4, time.Minute)
	now := time.Now()
	cache.now = func() time.Time { return now }
	ctx := context.Background()

	computed := 0
	compute := func() ([]domain.RetrievalResult, error) {
		computed++
		return fixedResults("A"), nil
	}

	_, _, err := cache.do(ctx, "k", compute)
	require.NoError(t, err)

	// Within the TTL: still a hit.
	now = now.Add(30 * time.Second)
	_, hit, err := cache.do(ctx, "k", compute)
	require.NoError(t, err)
	require.True(t, hit)

	// Past the TTL: recompute.
	now = now.Add(time.Hour)
	_, hit, err = cache.do(ctx, "k", compute)
	require.NoError(t, err)
	require.False(t, hit)
	require.Equal(t, 2, computed)
}

func TestResultCache_WaiterHonorsContext(t *testing.T) {
	cache := newResultCache(4, time.Minute)

	release := make(chan struct{})
	go func() {
		_, _, _ = cache.do(context.Background(), "slow", func() ([]domain.RetrievalResult, error) {
			<-release
			return fixedResults("slow"), nil
		})
	}()

	// Give the winner time to register its flight.
	time.Sleep(20 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, _, err := cache.do(ctx, "slow", nil)
	require.ErrorIs(t, err, context.DeadlineExceeded)

	close(release)
}
