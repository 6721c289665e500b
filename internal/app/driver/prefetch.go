package driver

import "cloudqueues-driver/internal/pkg/queue"

// prefetchCache holds claimed messages per queue name, drained front-first.
type prefetchCache struct {
	entries map[string][]queue.Claimed
}

func newPrefetchCache() *prefetchCache {
	return &prefetchCache{entries: make(map[string][]queue.Claimed)}
}

func (c *prefetchCache) push(name string, items ...queue.Claimed) {
	c.entries[name] = append(c.entries[name], items...)
}

func (c *prefetchCache) pop(name string) (queue.Claimed, bool) {
	items := c.entries[name]
	if len(items) == 0 {
		return queue.Claimed{}, false
	}
	head := items[0]
	if len(items) == 1 {
		delete(c.entries, name)
	} else {
		c.entries[name] = items[1:]
	}
	return head, true
}

func (c *prefetchCache) len(name string) int {
	return len(c.entries[name])
}

// drop forgets everything cached for name.
func (c *prefetchCache) drop(name string) {
	delete(c.entries, name)
}
