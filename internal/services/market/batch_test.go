package market

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bobmcallan/marketcache/internal/common"
	"github.com/bobmcallan/marketcache/internal/interfaces"
	"github.com/bobmcallan/marketcache/internal/models"
	"github.com/bobmcallan/marketcache/internal/storage/marketfs"
	"github.com/bobmcallan/marketcache/internal/usage"
)

func TestBatch_FailureIsIsolated(t *testing.T) {
	prov := &mockProvider{name: "mock", fetch: func(symbol string, days int) ([]models.EODBar, error) {
		if symbol == "BAD" {
			return nil, errors.New("unknown ticker")
		}
		return servesDays(symbol, days)
	}}
	h := newHarness(t, withData(prov))

	results := h.svc.BatchGetStockData(context.Background(), []string{"AAPL", "BAD", "GOOG"}, 10, true)

	require.Len(t, results, 3)
	for _, sym := range []string{"AAPL", "GOOG"} {
		r, ok := results[sym]
		require.True(t, ok, sym)
		require.NoError(t, r.Err, sym)
		assert.Len(t, r.Data.Bars, 10)
	}
	assert.ErrorIs(t, results["BAD"].Err, common.ErrNotAvailable)
	assert.Nil(t, results["BAD"].Data)
}

func TestBatch_KeysFollowCallerSpelling(t *testing.T) {
	prov := &mockProvider{name: "mock", fetch: servesDays}
	h := newHarness(t, withData(prov))

	inputs := []string{"aapl", "msft", "MSFT", " msft "}
	results := h.svc.BatchGetStockData(context.Background(), inputs, 5, true)

	require.Len(t, results, len(inputs))
	for _, in := range inputs {
		r, ok := results[in]
		require.True(t, ok, "missing result for %q", in)
		require.NoError(t, r.Err, in)
		assert.Len(t, r.Data.Bars, 5)
	}
	assert.Equal(t, "AAPL", results["aapl"].Data.Symbol)
	assert.Equal(t, "MSFT", results[" msft "].Data.Symbol)
	assert.Equal(t, 2, prov.Calls(), "aliases share one fetch")

	// aliases do not share backing arrays
	results["msft"].Data.Bars[0].Close = -1
	assert.NotEqual(t, -1.0, results["MSFT"].Data.Bars[0].Close)
}

func TestBatch_RespectsWorkerLimit(t *testing.T) {
	var inFlight, peak int32
	prov := &mockProvider{name: "mock", fetch: func(symbol string, days int) ([]models.EODBar, error) {
		n := atomic.AddInt32(&inFlight, 1)
		for {
			p := atomic.LoadInt32(&peak)
			if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) {
				break
			}
		}
		time.Sleep(15 * time.Millisecond)
		atomic.AddInt32(&inFlight, -1)
		return servesDays(symbol, days)
	}}
	h := newHarness(t, withData(prov), withServiceOptions(WithWorkers(2)))

	symbols := []string{"A", "B", "C", "D", "E", "F"}
	results := h.svc.BatchGetStockData(context.Background(), symbols, 5, false)

	require.Len(t, results, len(symbols))
	assert.LessOrEqual(t, atomic.LoadInt32(&peak), int32(2))
	assert.Equal(t, len(symbols), prov.Calls())
}

func TestBatch_CancelledContext(t *testing.T) {
	prov := &mockProvider{name: "mock", fetch: servesDays}
	h := newHarness(t, withData(prov))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	results := h.svc.BatchGetStockData(ctx, []string{"AAPL", "MSFT"}, 5, true)

	require.Len(t, results, 2)
	for sym, r := range results {
		assert.ErrorIs(t, r.Err, context.Canceled, sym)
	}
	assert.Equal(t, 0, prov.Calls())
}

// panickingStore blows up when loading one symbol.
type panickingStore struct {
	interfaces.MarketStore
	symbol string
}

func (p *panickingStore) LoadSeries(ctx context.Context, symbol string) (*models.Series, error) {
	if symbol == p.symbol {
		panic("corrupted state")
	}
	return p.MarketStore.LoadSeries(ctx, symbol)
}

func TestBatch_PanicIsRecovered(t *testing.T) {
	prov := &mockProvider{name: "mock", fetch: servesDays}
	h := newHarness(t, withData(prov), withStoreWrapper(func(s *marketfs.Store) interfaces.MarketStore {
		return &panickingStore{MarketStore: s, symbol: "BOOM"}
	}))

	results := h.svc.BatchGetStockData(context.Background(), []string{"BOOM", "AAPL"}, 5, false)

	require.Len(t, results, 2)
	require.Error(t, results["BOOM"].Err)
	assert.Contains(t, results["BOOM"].Err.Error(), "corrupted state")
	require.NoError(t, results["AAPL"].Err)

	errs := h.tracker.Report().RecentErrors
	require.Len(t, errs, 1)
	assert.Equal(t, usage.KindPanic, errs[0].Kind)
	assert.Equal(t, "BOOM", errs[0].Symbol)

	// the symbol lock was released by the deferred unlock
	_, err := h.svc.GetStockData(context.Background(), "AAPL", 5, false)
	assert.NoError(t, err)
}
