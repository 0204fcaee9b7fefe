// Package cache provides the bounded in-memory series cache.
package cache

import (
	"container/list"
	"fmt"
	"strings"
	"sync"

	"github.com/bobmcallan/marketcache/internal/models"
)

// DefaultCapacity is the number of (symbol, days) keys held by default.
const DefaultCapacity = 100

// HitRecorder receives one event per Get.
type HitRecorder interface {
	LogCacheHit(hit bool)
}

// Option configures a SeriesCache.
type Option func(*SeriesCache)

// WithCapacity bounds the number of cached keys.
func WithCapacity(n int) Option {
	return func(c *SeriesCache) {
		if n > 0 {
			c.capacity = n
		}
	}
}

// WithRecorder reports hits and misses to r.
func WithRecorder(r HitRecorder) Option {
	return func(c *SeriesCache) {
		c.recorder = r
	}
}

type entry struct {
	key    string
	series *models.Series
}

// SeriesCache maps (symbol, days) to a series snapshot. Eviction is FIFO by
// first insertion; reads never reorder entries.
type SeriesCache struct {
	mu       sync.Mutex
	capacity int
	order    *list.List // front = oldest insertion
	items    map[string]*list.Element
	recorder HitRecorder
}

// NewSeriesCache creates an empty cache.
func NewSeriesCache(opts ...Option) *SeriesCache {
	c := &SeriesCache{
		capacity: DefaultCapacity,
		order:    list.New(),
		items:    make(map[string]*list.Element),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Key returns the cache key for a request.
func Key(symbol string, days int) string {
	return fmt.Sprintf("%s:%d", strings.ToUpper(strings.TrimSpace(symbol)), days)
}

// Get returns a copy of the cached series, reporting the hit or miss.
func (c *SeriesCache) Get(symbol string, days int) (*models.Series, bool) {
	c.mu.Lock()
	el, ok := c.items[Key(symbol, days)]
	var out *models.Series
	if ok {
		out = el.Value.(*entry).series.Clone()
	}
	c.mu.Unlock()

	if c.recorder != nil {
		c.recorder.LogCacheHit(ok)
	}
	return out, ok
}

// Put stores a copy of series. Re-putting a key replaces its value in place.
func (c *SeriesCache) Put(symbol string, days int, series *models.Series) {
	if series == nil {
		return
	}
	key := Key(symbol, days)
	snapshot := series.Clone()

	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.items[key]; ok {
		el.Value.(*entry).series = snapshot
		return
	}
	c.items[key] = c.order.PushBack(&entry{key: key, series: snapshot})
	for c.order.Len() > c.capacity {
		oldest := c.order.Front()
		c.order.Remove(oldest)
		delete(c.items, oldest.Value.(*entry).key)
	}
}

// Invalidate drops every key cached for symbol.
func (c *SeriesCache) Invalidate(symbol string) int {
	prefix := strings.ToUpper(strings.TrimSpace(symbol)) + ":"
	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for key, el := range c.items {
		if strings.HasPrefix(key, prefix) {
			c.order.Remove(el)
			delete(c.items, key)
			removed++
		}
	}
	return removed
}

// Len returns the number of cached keys.
func (c *SeriesCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

// Keys returns cached keys oldest first.
func (c *SeriesCache) Keys() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	keys := make([]string, 0, c.order.Len())
	for el := c.order.Front(); el != nil; el = el.Next() {
		keys = append(keys, el.Value.(*entry).key)
	}
	return keys
}

// Clear empties the cache.
func (c *SeriesCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.order.Init()
	c.items = make(map[string]*list.Element)
}
