package cache

import (
	"context"
	"hash/fnv"
	"sync"
	"time"
)

const numShards = 16

// PriceCache is a sharded read-through cache of last prices with a freshness window.
// Entries older than ttl are treated as missing.
type PriceCache struct {
	shards [numShards]*priceShard
	ttl    time.Duration
	now    func() time.Time
}

type priceShard struct {
	mu    sync.RWMutex
	items map[string]priceEntry
}

type priceEntry struct {
	price     float64
	updatedAt time.Time
}

// FetchFunc loads a price from the source of truth.
type FetchFunc func(ctx context.Context, symbol string) (float64, error)

// NewPriceCache creates a cache. A ttl <= 0 disables caching (every read fetches).
func NewPriceCache(ttl time.Duration) *PriceCache {
	c := &PriceCache{ttl: ttl, now: time.Now}
	for i := 0; i < numShards; i++ {
		c.shards[i] = &priceShard{items: make(map[string]priceEntry)}
	}
	return c
}

func (c *PriceCache) getShard(key string) *priceShard {
	h := fnv.New32a()
	h.Write([]byte(key))
	return c.shards[h.Sum32()%numShards]
}

// Set stores a price for a symbol.
func (c *PriceCache) Set(symbol string, price float64) {
	shard := c.getShard(symbol)
	shard.mu.Lock()
	shard.items[symbol] = priceEntry{price: price, updatedAt: c.now()}
	shard.mu.Unlock()
}

// Get returns a fresh price for symbol.
func (c *PriceCache) Get(symbol string) (float64, bool) {
	if c.ttl <= 0 {
		return 0, false
	}
	shard := c.getShard(symbol)
	shard.mu.RLock()
	entry, ok := shard.items[symbol]
	shard.mu.RUnlock()
	if !ok || c.now().Sub(entry.updatedAt) >= c.ttl {
		return 0, false
	}
	return entry.price, true
}

// GetOrFetch returns a fresh cached price or loads and stores one.
// Fetch errors are returned as-is and nothing is cached.
func (c *PriceCache) GetOrFetch(ctx context.Context, symbol string, fetch FetchFunc) (float64, error) {
	if p, ok := c.Get(symbol); ok {
		return p, nil
	}
	p, err := fetch(ctx, symbol)
	if err != nil {
		return 0, err
	}
	c.Set(symbol, p)
	return p, nil
}

// Len returns total items across all shards, stale ones included.
func (c *PriceCache) Len() int {
	total := 0
	for _, shard := range c.shards {
		shard.mu.RLock()
		total += len(shard.items)
		shard.mu.RUnlock()
	}
	return total
}

// Cleanup removes entries older than the ttl and returns how many were dropped.
func (c *PriceCache) Cleanup() int {
	removed := 0
	cutoff := c.now().Add(-c.ttl)

	for _, shard := range c.shards {
		shard.mu.Lock()
		for sym, entry := range shard.items {
			if !entry.updatedAt.After(cutoff) {
				delete(shard.items, sym)
				removed++
			}
		}
		shard.mu.Unlock()
	}
	return removed
}
