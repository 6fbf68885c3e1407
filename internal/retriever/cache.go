package retriever

import (
	"container/list"
	"context"
	"sync"
	"time"

	"github.com/davidbz/librarian/internal/domain"
)

// resultCache is a size-bounded LRU of retrieval results with per-key
// single-flight: at most one computation runs per distinct key, and
// concurrent callers for the same key await that one result instead of
// duplicating the embedding + index round trip.
type resultCache struct {
	mu       sync.Mutex
	capacity int
	ttl      time.Duration
	entries  map[string]*list.Element
	order    *list.List // front = most recently used
	inflight map[string]*flight
	now      func() time.Time
}

type cacheEntry struct {
	key       string
	results   []domain.RetrievalResult
	createdAt time.Time
}

type flight struct {
	done    chan struct{}
	results []domain.RetrievalResult
	err     error
}

func newResultCache(capacity int, ttl time.Duration) *resultCache {
	return &resultCache{
		capacity: capacity,
		ttl:      ttl,
		entries:  make(map[string]*list.Element),
		order:    list.New(),
		inflight: make(map[string]*flight),
		now:      time.Now,
	}
}

// do returns the stored results for key, or runs compute exactly once and
// stores its result. Entries are read-only once stored; callers must not
// mutate the returned slice. The hit flag reports whether the value came from
// the cache without any computation by this caller.
func (c *resultCache) do(
	ctx context.Context,
	key string,
	compute func() ([]domain.RetrievalResult, error),
) ([]domain.RetrievalResult, bool, error) {
	c.mu.Lock()

	if elem, ok := c.entries[key]; ok {
		entry := elem.Value.(*cacheEntry)
		if c.ttl <= 0 || c.now().Sub(entry.createdAt) < c.ttl {
			c.order.MoveToFront(elem)
			c.mu.Unlock()
			return entry.results, true, nil
		}
		// Expired: drop and recompute.
		c.order.Remove(elem)
		delete(c.entries, key)
	}

	if f, ok := c.inflight[key]; ok {
		c.mu.Unlock()
		select {
		case <-f.done:
			return f.results, true, f.err
		case <-ctx.Done():
			return nil, false, ctx.Err()
		}
	}

	f := &flight{done: make(chan struct{})}
	c.inflight[key] = f
	c.mu.Unlock()

	results, err := compute()

	c.mu.Lock()
	delete(c.inflight, key)
	if err == nil {
		c.store(key, results)
	}
	c.mu.Unlock()

	f.results = results
	f.err = err
	close(f.done)

	return results, false, err
}

// store inserts under the lock, evicting the least-recently-used entry when
// the bound is exceeded.
func (c *resultCache) store(key string, results []domain.RetrievalResult) {
	if elem, ok := c.entries[key]; ok {
		c.order.Remove(elem)
		delete(c.entries, key)
	}

	elem := c.order.PushFront(&cacheEntry{
		key:       key,
		results:   results,
		createdAt: c.now(),
	})
	c.entries[key] = elem

	for len(c.entries) > c.capacity {
		oldest := c.order.Back()
		if oldest == nil {
			break
		}
		c.order.Remove(oldest)
		delete(c.entries, oldest.Value.(*cacheEntry).key)
	}
}

// len reports the number of stored entries (not in-flight computations).
func (c *resultCache) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
