// Package retriever turns free-text queries into ranked, score-floored
// grounding results backed by the embedding service and the vector index.
package retriever

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/davidbz/librarian/internal/corpus"
	"github.com/davidbz/librarian/internal/domain"
	"github.com/davidbz/librarian/internal/observability"
)

// Config contains retrieval tunables, validated by the config layer.
type Config struct {
	DefaultTopK   int
	MinSimilarity float64
	CacheSize     int
	CacheTTL      time.Duration
	RetryAttempts int
	RetryBackoff  time.Duration
	QueryTimeout  time.Duration
}

// Retriever wraps the vector index with query embedding, ranking, a bounded
// result cache and graceful degradation. Embedding and index failures are not
// surfaced as exceptions: after bounded retries the caller gets
// domain.ErrGroundingUnavailable and the health flag drops.
type Retriever struct {
	embedder domain.EmbeddingGenerator
	index    domain.VectorIndex
	corpus   *corpus.Store
	cache    *resultCache
	cfg      Config
	healthy  atomic.Bool
}

// New creates a retriever. The embedder may be nil when the embedding service
// is unconfigured; every retrieval then degrades instead of crashing.
func New(embedder domain.EmbeddingGenerator, index domain.VectorIndex, store *corpus.Store, cfg Config) *Retriever {
	if cfg.DefaultTopK < 1 {
		cfg.DefaultTopK = 3
	}
	if cfg.CacheSize < 1 {
		cfg.CacheSize = 256
	}
	if cfg.RetryAttempts < 1 {
		cfg.RetryAttempts = 2
	}

	r := &Retriever{
		embedder: embedder,
		index:    index,
		corpus:   store,
		cache:    newResultCache(cfg.CacheSize, cfg.CacheTTL),
		cfg:      cfg,
	}
	r.healthy.Store(embedder != nil && index != nil)

	return r
}

// Retrieve returns at most topK results ordered by non-increasing score.
// Results below the similarity floor are dropped; an empty result is not an
// error. The returned slice is cached and read-only.
func (r *Retriever) Retrieve(ctx context.Context, query string, topK int) ([]domain.RetrievalResult, error) {
	if topK < 1 {
		topK = r.cfg.DefaultTopK
	}

	normalized := normalizeQuery(query)
	if normalized == "" {
		return nil, nil
	}

	key := normalized + "|" + strconv.Itoa(topK)
	logger := observability.FromContext(ctx)

	results, hit, err := r.cache.do(ctx, key, func() ([]domain.RetrievalResult, error) {
		return r.query(ctx, normalized, topK)
	})
	if err != nil {
		logger.Warn("retrieval degraded",
			observability.String("query", normalized),
			observability.Error(err))
		return nil, err
	}

	logger.Debug("retrieval completed",
		observability.String("query", normalized),
		observability.Int("top_k", topK),
		observability.Bool("cache_hit", hit),
		observability.Int("results", len(results)))

	return results, nil
}

// SimilarTo recommends books similar to a known title by querying with its
// short summary and themes, excluding the seed title from the results.
func (r *Retriever) SimilarTo(ctx context.Context, title string, topK int) ([]domain.RetrievalResult, error) {
	if topK < 1 {
		topK = r.cfg.DefaultTopK
	}

	seed, ok := r.corpus.ByTitle(title)
	if !ok {
		return nil, fmt.Errorf("unknown title: %s", title)
	}

	query := seed.ShortSummary + " " + strings.Join(seed.Themes, ", ")

	// One extra candidate to absorb the seed book itself.
	candidates, err := r.Retrieve(ctx, query, topK+1)
	if err != nil {
		return nil, err
	}

	results := make([]domain.RetrievalResult, 0, topK)
	for _, candidate := range candidates {
		if candidate.Book.Title == title {
			continue
		}
		candidate.Rank = len(results) + 1
		results = append(results, candidate)
		if len(results) == topK {
			break
		}
	}

	return results, nil
}

// Healthy reports whether the last retrieval reached the embedding service
// and the index.
func (r *Retriever) Healthy() bool {
	return r.healthy.Load()
}

// query performs the full embed + index round trip for a cache miss.
func (r *Retriever) query(ctx context.Context, normalized string, topK int) ([]domain.RetrievalResult, error) {
	if r.embedder == nil || r.index == nil {
		r.healthy.Store(false)
		return nil, fmt.Errorf("%w: retrieval backend not configured", domain.ErrGroundingUnavailable)
	}

	var vector []float64
	err := withRetry(ctx, r.cfg.RetryAttempts, r.cfg.RetryBackoff, func(ctx context.Context) error {
		callCtx, cancel := r.callContext(ctx)
		defer cancel()

		var embedErr error
		vector, embedErr = r.embedder.Generate(callCtx, normalized)
		return embedErr
	})
	if err != nil {
		r.healthy.Store(false)
		return nil, fmt.Errorf("%w: embedding failed: %v", domain.ErrGroundingUnavailable, err)
	}

	var matches []domain.IndexMatch
	err = withRetry(ctx, r.cfg.RetryAttempts, r.cfg.RetryBackoff, func(ctx context.Context) error {
		callCtx, cancel := r.callContext(ctx)
		defer cancel()

		var queryErr error
		matches, queryErr = r.index.Query(callCtx, vector, topK)
		return queryErr
	})
	if err != nil {
		r.healthy.Store(false)
		return nil, fmt.Errorf("%w: index query failed: %v", domain.ErrGroundingUnavailable, err)
	}

	r.healthy.Store(true)

	return r.rank(matches), nil
}

// rank maps index matches back to corpus records, converts distance to a
// bounded similarity score, applies the floor and assigns ranks. Equal scores
// keep stable corpus order.
func (r *Retriever) rank(matches []domain.IndexMatch) []domain.RetrievalResult {
	results := make([]domain.RetrievalResult, 0, len(matches))
	for _, match := range matches {
		book, ok := r.corpus.ByTitle(match.ID)
		if !ok {
			// Index entry with no corpus record; stale index, skip.
			continue
		}

		score := 1 - match.Distance
		if score < 0 {
			score = 0
		}
		if score > 1 {
			score = 1
		}
		if score < r.cfg.MinSimilarity {
			continue
		}

		results = append(results, domain.RetrievalResult{Book: book, Score: score})
	}

	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return r.corpus.Position(results[i].Book.Title) < r.corpus.Position(results[j].Book.Title)
	})

	for i := range results {
		results[i].Rank = i + 1
	}

	return results
}

// callContext bounds a single remote call.
func (r *Retriever) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if r.cfg.QueryTimeout > 0 {
		return context.WithTimeout(ctx, r.cfg.QueryTimeout)
	}
	return context.WithCancel(ctx)
}

// normalizeQuery trims, lowercases and collapses whitespace to form the
// cache key.
func normalizeQuery(query string) string {
	return strings.Join(strings.Fields(strings.ToLower(query)), " ")
}
