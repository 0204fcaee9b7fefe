package cache

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bobmcallan/marketcache/internal/models"
)

type hitCounter struct {
	mu     sync.Mutex
	hits   int
	misses int
}

func (h *hitCounter) LogCacheHit(hit bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if hit {
		h.hits++
	} else {
		h.misses++
	}
}

func series(symbol string, n int) *models.Series {
	bars := make([]models.EODBar, n)
	for i := range bars {
		bars[i] = models.EODBar{Date: time.Date(2025, 1, 31-i, 0, 0, 0, 0, time.UTC), Close: float64(100 + i)}
	}
	return &models.Series{Symbol: symbol, Bars: bars}
}

func TestSeriesCache_GetPut(t *testing.T) {
	rec := &hitCounter{}
	c := NewSeriesCache(WithRecorder(rec))

	_, ok := c.Get("AAPL", 30)
	assert.False(t, ok)

	c.Put("AAPL", 30, series("AAPL", 30))
	got, ok := c.Get("aapl", 30)
	require.True(t, ok)
	assert.Len(t, got.Bars, 30)

	_, ok = c.Get("AAPL", 60)
	assert.False(t, ok, "days is part of the key")

	assert.Equal(t, 1, rec.hits)
	assert.Equal(t, 2, rec.misses)
}

func TestSeriesCache_FIFOEviction(t *testing.T) {
	c := NewSeriesCache(WithCapacity(3))
	for i := 0; i < 3; i++ {
		c.Put(fmt.Sprintf("S%d", i), 10, series("x", 1))
	}

	// Reading S0 must not protect it: eviction is by insertion order.
	_, ok := c.Get("S0", 10)
	require.True(t, ok)

	c.Put("S3", 10, series("x", 1))
	assert.Equal(t, 3, c.Len())
	_, ok = c.Get("S0", 10)
	assert.False(t, ok, "oldest insertion evicted despite recent access")
	assert.Equal(t, []string{"S1:10", "S2:10", "S3:10"}, c.Keys())
}

func TestSeriesCache_RePutKeepsPosition(t *testing.T) {
	c := NewSeriesCache(WithCapacity(2))
	c.Put("A", 1, series("A", 1))
	c.Put("B", 1, series("B", 1))
	c.Put("A", 1, series("A", 5))

	c.Put("C", 1, series("C", 1))
	_, ok := c.Get("A", 1)
	assert.False(t, ok, "re-put does not refresh insertion order")
	got, ok := c.Get("B", 1)
	require.True(t, ok)
	assert.Len(t, got.Bars, 1)
}

func TestSeriesCache_ValuesAreCopied(t *testing.T) {
	c := NewSeriesCache()
	src := series("AAPL", 2)
	c.Put("AAPL", 2, src)

	src.Bars[0].Close = -1
	got, _ := c.Get("AAPL", 2)
	assert.Equal(t, 100.0, got.Bars[0].Close)

	got.Bars[0].Close = -2
	again, _ := c.Get("AAPL", 2)
	assert.Equal(t, 100.0, again.Bars[0].Close)
}

func TestSeriesCache_InvalidateAndClear(t *testing.T) {
	c := NewSeriesCache()
	c.Put("AAPL", 10, series("AAPL", 1))
	c.Put("AAPL", 20, series("AAPL", 1))
	c.Put("MSFT", 10, series("MSFT", 1))

	assert.Equal(t, 2, c.Invalidate("aapl"))
	assert.Equal(t, 1, c.Len())

	c.Clear()
	assert.Equal(t, 0, c.Len())
	c.Put("X", 1, series("X", 1))
	assert.Equal(t, []string{"X:1"}, c.Keys())
}

func TestSeriesCache_ConcurrentAccess(t *testing.T) {
	c := NewSeriesCache(WithCapacity(10))
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			sym := fmt.Sprintf("S%d", n%20)
			c.Put(sym, 5, series(sym, 5))
			c.Get(sym, 5)
		}(i)
	}
	wg.Wait()
	assert.LessOrEqual(t, c.Len(), 10)
}
