package tron

import (
	"sync"
	"time"
)

// debounceGrace is the fixed debounce window spec.md §4.1/§5 specifies for
// the Tron block-transactions and transaction-info caches: every write
// arms (or re-arms) a timer that, if not reset before firing, clears the
// whole cache. Generalized from the teacher's periodic-recompute tickers
// in internal/repository/trx_flow.go, repointed at eviction.
const debounceGrace = 10 * time.Second

// debounceCache is a map guarded by one mutex plus one timer shared across
// all entries — a single write re-arms the shared timer, trading exact
// per-entry TTL for cheap, allocation-free eviction.
type debounceCache struct {
	mu      sync.Mutex
	entries map[string]interface{}
	timer   *time.Timer
}

func newDebounceCache() *debounceCache {
	return &debounceCache{entries: make(map[string]interface{})}
}

// get returns the cached value for key, if present.
func (c *debounceCache) get(key string) (interface{}, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.entries[key]
	return v, ok
}

// set stores value under key and (re)arms the shared eviction timer.
func (c *debounceCache) set(key string, value interface{}) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = value

	if c.timer == nil {
		c.timer = time.AfterFunc(debounceGrace, c.clear)
		return
	}
	c.timer.Reset(debounceGrace)
}

func (c *debounceCache) clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]interface{})
}
