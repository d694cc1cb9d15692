package terms

import "strings"

// Cache remembers resolved terms for the lifetime of one run. It is
// append-only and used from a single flow, so it carries no lock.
type Cache struct {
	ids map[string]int64
}

// NewCache returns an empty per-run cache.
func NewCache() *Cache {
	return &Cache{ids: make(map[string]int64)}
}

func cacheKey(taxonomy, label string) string {
	return taxonomy + "\x00" + strings.ToLower(strings.TrimSpace(label))
}

// Lookup is safe on a nil cache.
func (c *Cache) Lookup(taxonomy, label string) (int64, bool) {
	if c == nil {
		return 0, false
	}
	id, ok := c.ids[cacheKey(taxonomy, label)]
	return id, ok
}

// Store is a no-op on a nil cache.
func (c *Cache) Store(taxonomy, label string, id int64) {
	if c == nil {
		return
	}
	c.ids[cacheKey(taxonomy, label)] = id
}

// Len reports the number of cached terms.
func (c *Cache) Len() int {
	if c == nil {
		return 0
	}
	return len(c.ids)
}
