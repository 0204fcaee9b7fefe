package usage

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bobmcallan/marketcache/internal/common"
)

func newTestTracker(t *testing.T, path string, opts ...Option) *Tracker {
	t.Helper()
	tr, err := NewTracker(common.NewSilentLogger(), path, opts...)
	require.NoError(t, err)
	return tr
}

func TestTracker_ProviderStats(t *testing.T) {
	tr := newTestTracker(t, "")

	tr.LogAPICall("yahoo", "AAPL", false, 100*time.Millisecond, errors.New("timeout"))
	tr.LogAPICall("yahoo", "AAPL", true, 300*time.Millisecond, nil)
	tr.LogAPICall("eodhd", "AAPL", false, 50*time.Millisecond, nil)

	r := tr.Report()
	yahoo := r.Providers["yahoo"]
	assert.Equal(t, int64(2), yahoo.Calls)
	assert.InDelta(t, 0.5, yahoo.SuccessRate, 1e-9)
	assert.InDelta(t, 200.0, yahoo.AvgLatencyMs, 1e-9)
	assert.Equal(t, "timeout", yahoo.LastError)

	eodhd := r.Providers["eodhd"]
	assert.Equal(t, 0.0, eodhd.SuccessRate)
	assert.Equal(t, "empty result", eodhd.LastError)

	snap := tr.Snapshot()
	assert.Equal(t, int64(1), snap.Symbols["AAPL"].Providers["yahoo"])
	assert.Zero(t, snap.Symbols["AAPL"].Providers["eodhd"])
}

func TestTracker_IncrementalMeanLatency(t *testing.T) {
	tr := newTestTracker(t, "")
	for _, ms := range []int{10, 20, 30, 40} {
		tr.LogDataRequest("aapl", 30, "local", time.Duration(ms)*time.Millisecond)
	}

	snap := tr.Snapshot()
	st := snap.Symbols["AAPL"]
	require.NotNil(t, st)
	assert.Equal(t, int64(4), st.Requests)
	assert.Equal(t, int64(120), st.DaysRequested)
	assert.InDelta(t, 25.0, st.AvgLatencyMs, 1e-9)
	assert.Equal(t, int64(4), st.Sources["local"])
}

func TestTracker_CacheHitRate(t *testing.T) {
	tr := newTestTracker(t, "")
	assert.Equal(t, 0.0, tr.Report().CacheHitRate)

	tr.LogCacheHit(true)
	tr.LogCacheHit(true)
	tr.LogCacheHit(true)
	tr.LogCacheHit(false)

	r := tr.Report()
	assert.Equal(t, int64(3), r.CacheHits)
	assert.Equal(t, int64(1), r.CacheMisses)
	assert.InDelta(t, 0.75, r.CacheHitRate, 1e-9)
}

func TestTracker_TopSymbols(t *testing.T) {
	tr := newTestTracker(t, "")
	for i := 0; i < 12; i++ {
		sym := fmt.Sprintf("S%02d", i)
		for j := 0; j <= i%3; j++ {
			tr.LogDataRequest(sym, 10, "api", time.Millisecond)
		}
	}

	top := tr.Report().TopSymbols
	require.Len(t, top, 10)
	assert.Equal(t, "S02", top[0].Symbol, "ties broken by symbol")
	assert.Equal(t, int64(3), top[0].Requests)
	for i := 1; i < len(top); i++ {
		assert.GreaterOrEqual(t, top[i-1].Requests, top[i].Requests)
	}
}

func TestTracker_ErrorRingCapped(t *testing.T) {
	tr := newTestTracker(t, "")
	for i := 0; i < MaxErrors+25; i++ {
		tr.LogError(KindNotAvailable, fmt.Sprintf("err %d", i), "AAPL")
	}
	assert.Equal(t, MaxErrors, tr.ErrorCount())

	snap := tr.Snapshot()
	assert.Equal(t, "err 25", snap.Errors[0].Message, "oldest entries dropped")
	assert.NotEmpty(t, snap.Errors[0].ID)

	recent := tr.Report().RecentErrors
	require.Len(t, recent, 10)
	assert.Equal(t, fmt.Sprintf("err %d", MaxErrors+24), recent[0].Message, "newest first")
}

func TestTracker_PersistsAndReloads(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "usage.json")
	tr := newTestTracker(t, path)
	tr.LogAPICall("yahoo", "AAPL", true, 10*time.Millisecond, nil)
	tr.LogDataRequest("AAPL", 30, "api", 20*time.Millisecond)
	tr.LogCacheHit(false)
	tr.LogError(KindStoreError, "corrupt", "MSFT")

	_, err := os.Stat(path)
	require.NoError(t, err, "ledger written on update")

	reloaded := newTestTracker(t, path)
	r := reloaded.Report()
	assert.Equal(t, int64(1), r.Providers["yahoo"].Calls)
	assert.Equal(t, int64(1), r.CacheMisses)
	require.Len(t, r.RecentErrors, 1)
	assert.Equal(t, "corrupt", r.RecentErrors[0].Message)
	require.Len(t, r.TopSymbols, 1)
	assert.Equal(t, "AAPL", r.TopSymbols[0].Symbol)

	reloaded.LogDataRequest("AAPL", 30, "cache", 0)
	assert.Equal(t, int64(2), reloaded.Snapshot().Symbols["AAPL"].Requests)
}

func TestTracker_CorruptLedgerStartsFresh(t *testing.T) {
	path := filepath.Join(t.TempDir(), "usage.json")
	require.NoError(t, os.WriteFile(path, []byte("{oops"), 0644))

	tr := newTestTracker(t, path)
	assert.Empty(t, tr.Report().Providers)
}

func TestTracker_Reset(t *testing.T) {
	tr := newTestTracker(t, "")
	tr.LogCacheHit(true)
	tr.LogError(KindPanic, "boom", "")
	tr.Reset()

	r := tr.Report()
	assert.Zero(t, r.CacheHits)
	assert.Empty(t, r.RecentErrors)
}

func TestTracker_PrometheusMirror(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)
	tr := newTestTracker(t, "", WithMetrics(m))

	tr.LogAPICall("yahoo", "AAPL", true, time.Millisecond, nil)
	tr.LogAPICall("yahoo", "AAPL", false, time.Millisecond, nil)
	tr.LogCacheHit(true)
	tr.LogDataRequest("AAPL", 5, "local", time.Millisecond)
	tr.LogError(KindNotAvailable, "none", "AAPL")

	assert.Equal(t, 1.0, testutil.ToFloat64(m.providerCalls.WithLabelValues("yahoo", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.providerCalls.WithLabelValues("yahoo", "failure")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.cacheLookups.WithLabelValues("hit")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.dataRequests.WithLabelValues("local")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.errorsTotal.WithLabelValues(KindNotAvailable)))
}

func TestTracker_SnapshotIsDeepCopy(t *testing.T) {
	tr := newTestTracker(t, "")
	tr.LogAPICall("yahoo", "AAPL", true, 10*time.Millisecond, nil)
	tr.LogDataRequest("AAPL", 30, "api", 10*time.Millisecond)
	tr.LogError("not_available", "no data", "MSFT")

	snap := tr.Snapshot()
	snap.Providers["yahoo"].Calls = 99
	snap.Symbols["AAPL"].Sources["api"] = 99
	snap.Symbols["AAPL"].Providers["yahoo"] = 99
	snap.Errors[0].Message = "changed"

	again := tr.Snapshot()
	assert.Equal(t, int64(1), again.Providers["yahoo"].Calls)
	assert.Equal(t, int64(1), again.Symbols["AAPL"].Sources["api"])
	assert.Equal(t, int64(1), again.Symbols["AAPL"].Providers["yahoo"])
	assert.Equal(t, "no data", again.Errors[0].Message)
}
