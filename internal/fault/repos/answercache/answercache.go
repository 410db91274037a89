// Package answercache provides a TTL-aware LRU cache for resolved addresses.
// It sits behind the upstream gateway, downstream of the denylist decision:
// caching here never makes a deny/allow outcome stale, because the engine
// re-reads the control file on every call before the delegate is consulted.
package answercache

import (
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/failpoint-io/dnsfault/internal/fault/common/clock"
)

type entry struct {
	addrs   []string
	expires time.Time
}

// Cache is an in-memory LRU of host → addresses with per-entry expiry.
type Cache struct {
	lru *lru.Cache[string, entry]
	clk clock.Clock
}

// New returns a Cache of the given size. A nil clk defaults to wall time.
func New(size int, clk clock.Clock) (*Cache, error) {
	if clk == nil {
		clk = clock.RealClock{}
	}
	c, err := lru.New[string, entry](size)
	if err != nil {
		return nil, err
	}
	return &Cache{lru: c, clk: clk}, nil
}

// Set stores addrs for host with the given time to live. A non-positive TTL
// stores nothing; it would be expired on arrival.
func (c *Cache) Set(host string, addrs []string, ttl time.Duration) {
	if len(addrs) == 0 || ttl <= 0 {
		return
	}
	c.lru.Add(host, entry{addrs: addrs, expires: c.clk.Now().Add(ttl)})
}

// Get returns the cached addresses for host if present and not expired.
// Expired entries are evicted on access.
func (c *Cache) Get(host string) ([]string, bool) {
	e, found := c.lru.Get(host)
	if !found {
		return nil, false
	}
	if !c.clk.Now().Before(e.expires) {
		c.lru.Remove(host)
		return nil, false
	}
	return e.addrs, true
}

// Len returns the number of entries currently stored, including any that
// have expired but not yet been evicted.
func (c *Cache) Len() int {
	return c.lru.Len()
}

// Purge removes all entries.
func (c *Cache) Purge() {
	c.lru.Purge()
}
