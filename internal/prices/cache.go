package prices

import "sync"

// Cache holds the last known price per instrument token.
// Latest write wins; a missing token means no tick observed yet,
// which is not the same as price 0.
type Cache struct {
	mu   sync.RWMutex
	last map[uint32]float64
}

func NewCache() *Cache {
	return &Cache{last: make(map[uint32]float64)}
}

func (c *Cache) Update(token uint32, price float64) {
	c.mu.Lock()
	c.last[token] = price
	c.mu.Unlock()
}

func (c *Cache) Get(token uint32) (float64, bool) {
	c.mu.RLock()
	p, ok := c.last[token]
	c.mu.RUnlock()
	return p, ok
}
