package clawstore

import "sync"

// negativeCache remembers keys recently confirmed absent from a
// table's current file set (spec §4.5: "optionally populate a
// negative cache ... invalidated on any new file publication"). It is
// wiped wholesale on invalidation rather than tracking per-entry
// generations — simple, and correct since a false negative is
// impossible: invalidate runs after every publish, and every
// Get still checks the index first regardless of cache state.
type negativeCache struct {
	mu     sync.RWMutex
	absent map[string]struct{}
}

func newNegativeCache() *negativeCache {
	return &negativeCache{absent: make(map[string]struct{})}
}

func (c *negativeCache) knownAbsent(key []byte) bool {
	c.mu.RLock()
	_, ok := c.absent[string(key)]
	c.mu.RUnlock()
	return ok
}

func (c *negativeCache) markAbsent(key []byte) {
	c.mu.Lock()
	c.absent[string(key)] = struct{}{}
	c.mu.Unlock()
}

func (c *negativeCache) invalidate() {
	c.mu.Lock()
	c.absent = make(map[string]struct{})
	c.mu.Unlock()
}
