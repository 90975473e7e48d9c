package pool

import (
	"sync"
	"time"

	"github.com/ternarybob/arbor"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 30 * time.Second

// entry tracks one cached pool and its usage state.
type entry struct {
	pool       *TranslationPool
	inUse      bool
	createdAt  time.Time
	releasedAt time.Time
}

// CacheStats is a point-in-time view of the cache for observability.
type CacheStats struct {
	Cached int `json:"cached"`
	InUse  int `json:"in_use"`
	Hits   int `json:"hits"`
	Misses int `json:"misses"`
}

// Cache reuses translation pools across jobs with identical worker counts.
// Capacity is fixed; when full, the oldest idle pool is replaced. Idle pools
// past the idle timeout are cleaned up on the next acquire.
type Cache struct {
	mu          sync.Mutex
	entries     []*entry
	maxCached   int
	idleTimeout time.Duration
	queueSize   int
	logger      arbor.ILogger
	hits        int
	misses      int
}

// NewCache creates a pool cache holding at most maxCached pools.
func NewCache(maxCached int, idleTimeout time.Duration, queueSize int, logger arbor.ILogger) *Cache {
	if maxCached < 1 {
		maxCached = 1
	}
	return &Cache{
		maxCached:   maxCached,
		idleTimeout: idleTimeout,
		queueSize:   queueSize,
		logger:      logger,
	}
}

// Acquire returns an idle pool with the requested worker count, creating one
// if none matches. The second return is true when a new pool was built. The
// returned pool is marked in-use until Release.
func (c *Cache) Acquire(workerCount int) (*TranslationPool, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.sweepIdleLocked()

	for _, e := range c.entries {
		if !e.inUse && e.pool.WorkerCount() == workerCount {
			e.inUse = true
			c.hits++
			c.logger.Debug().Int("worker_count", workerCount).Msg("Reusing cached translation pool")
			return e.pool, false
		}
	}

	c.misses++
	p := NewTranslationPool(workerCount, c.queueSize, c.logger)
	e := &entry{pool: p, inUse: true, createdAt: time.Now()}

	if len(c.entries) < c.maxCached {
		c.entries = append(c.entries, e)
		return p, true
	}

	// At capacity: replace the oldest idle pool. With no idle pool to evict
	// the new one stays uncached and is shut down on release.
	if victim := c.oldestIdleLocked(); victim >= 0 {
		old := c.entries[victim]
		c.entries[victim] = e
		c.shutdownAsync(old.pool)
		c.logger.Debug().
			Int("evicted_worker_count", old.pool.WorkerCount()).
			Int("worker_count", workerCount).
			Msg("Evicted oldest idle translation pool")
	} else {
		c.logger.Debug().Int("worker_count", workerCount).Msg("Pool cache full, returning uncached pool")
	}
	return p, true
}

// Release returns a pool to the idle state. Pools the cache does not track
// are shut down immediately.
func (c *Cache) Release(p *TranslationPool) {
	if p == nil {
		return
	}
	c.mu.Lock()
	for _, e := range c.entries {
		if e.pool == p {
			e.inUse = false
			e.releasedAt = time.Now()
			c.mu.Unlock()
			return
		}
	}
	c.mu.Unlock()
	c.shutdownAsync(p)
}

// ShutdownAll forcibly shuts every cached pool, waiting for all of them.
func (c *Cache) ShutdownAll() {
	c.mu.Lock()
	entries := c.entries
	c.entries = nil
	c.mu.Unlock()

	var g errgroup.Group
	for _, e := range entries {
		p := e.pool
		g.Go(func() error {
			if err := p.Shutdown(shutdownTimeout); err != nil {
				c.logger.Warn().Err(err).Int("worker_count", p.WorkerCount()).Msg("Translation pool shutdown failed")
			}
			return nil
		})
	}
	g.Wait()
}

// Stats returns hit/miss counters and current occupancy.
func (c *Cache) Stats() CacheStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	stats := CacheStats{Cached: len(c.entries), Hits: c.hits, Misses: c.misses}
	for _, e := range c.entries {
		if e.inUse {
			stats.InUse++
		}
	}
	return stats
}

// sweepIdleLocked removes pools idle past the timeout. Caller holds c.mu.
func (c *Cache) sweepIdleLocked() {
	if c.idleTimeout <= 0 {
		return
	}
	cutoff := time.Now().Add(-c.idleTimeout)
	kept := c.entries[:0]
	for _, e := range c.entries {
		if !e.inUse && !e.releasedAt.IsZero() && e.releasedAt.Before(cutoff) {
			c.shutdownAsync(e.pool)
			c.logger.Debug().Int("worker_count", e.pool.WorkerCount()).Msg("Expired idle translation pool")
			continue
		}
		kept = append(kept, e)
	}
	c.entries = kept
}

// oldestIdleLocked returns the index of the least recently released idle
// entry, or -1 when every entry is in use. Caller holds c.mu.
func (c *Cache) oldestIdleLocked() int {
	victim := -1
	for i, e := range c.entries {
		if e.inUse {
			continue
		}
		if victim == -1 || e.releasedAt.Before(c.entries[victim].releasedAt) {
			victim = i
		}
	}
	return victim
}

// shutdownAsync stops a pool off the caller's goroutine; failures are logged,
// never propagated.
func (c *Cache) shutdownAsync(p *TranslationPool) {
	go func() {
		if err := p.Shutdown(shutdownTimeout); err != nil {
			c.logger.Warn().Err(err).Int("worker_count", p.WorkerCount()).Msg("Translation pool shutdown failed")
		}
	}()
}
