package s3

import "sync"

// listCache memoizes listing results (glob and find) between writes.
// Object-store listings are eventually consistent and slow relative to
// local stats, so repeated discovery over the same prefixes hits the
// cache until a writer invalidates it.
type listCache struct {
	mu      sync.RWMutex
	entries map[string][]string
}

func newListCache() *listCache {
	return &listCache{entries: make(map[string][]string)}
}

func (c *listCache) get(key string) ([]string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	vals, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	return append([]string(nil), vals...), true
}

func (c *listCache) put(key string, vals []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = append([]string(nil), vals...)
}

func (c *listCache) invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string][]string)
}

func (c *listCache) len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
