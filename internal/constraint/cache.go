package constraint

import (
	"fmt"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"remindwell/internal/types"
)

// resultCache is a bounded, TTL-evicted cache of evaluation results keyed by
// (user, instant, priority). It exists to avoid recomputation under batch
// formation; correctness never depends on a hit.
//
// Per-user generation counters make invalidation cheap: deleting a user's
// entries just bumps the generation, orphaning old keys until the LRU or TTL
// evicts them.
type resultCache struct {
	lru *expirable.LRU[string, *types.EvaluationResult]

	mu   sync.Mutex
	gens map[string]uint64
}

// NewResultCache creates a resultCache holding at most size entries, each
// expiring after ttl.
func NewResultCache(size int, ttl time.Duration) *resultCache {
	return &resultCache{
		lru:  expirable.NewLRU[string, *types.EvaluationResult](size, nil, ttl),
		gens: make(map[string]uint64),
	}
}

func (c *resultCache) key(userID string, instant time.Time, priority types.WorkPriority) string {
	c.mu.Lock()
	gen := c.gens[userID]
	c.mu.Unlock()
	return fmt.Sprintf("%s|%d|%d|%s", userID, gen, instant.Unix(), priority)
}

func (c *resultCache) get(userID string, instant time.Time, priority types.WorkPriority) (*types.EvaluationResult, bool) {
	return c.lru.Get(c.key(userID, instant, priority))
}

func (c *resultCache) put(userID string, instant time.Time, priority types.WorkPriority, res *types.EvaluationResult) {
	c.lru.Add(c.key(userID, instant, priority), res)
}

// InvalidateUser discards all cached results for a user. Called on profile
// mutation and deletion so in-flight evaluation results are never served
// after the constraints that produced them changed.
func (c *resultCache) InvalidateUser(userID string) {
	c.mu.Lock()
	c.gens[userID]++
	c.mu.Unlock()
}
