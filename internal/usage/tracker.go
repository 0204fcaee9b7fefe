// Package usage tracks provider calls, served requests, cache hits and errors.
//
// The ledger is rewritten in full on every update. That keeps the file
// always consistent but is not meant for high request volume.
package usage

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/bobmcallan/marketcache/internal/common"
	"github.com/bobmcallan/marketcache/internal/models"
)

const (
	// MaxErrors is the capacity of the error ring.
	MaxErrors = 100

	topSymbols   = 10
	recentErrors = 10
)

// Error kinds recorded by the data layer.
const (
	KindNotAvailable  = "not_available"
	KindStoreError    = "store_error"
	KindAugmentFailed = "augment_failed"
	KindPersistFailed = "persist_failed"
	KindPanic         = "panic"
)

// Option configures a Tracker.
type Option func(*Tracker)

// WithMetrics mirrors every event into Prometheus collectors.
func WithMetrics(m *Metrics) Option {
	return func(t *Tracker) {
		t.metrics = m
	}
}

// WithClock overrides the tracker's clock.
func WithClock(now func() time.Time) Option {
	return func(t *Tracker) {
		t.now = now
	}
}

// Tracker records usage events and persists them to a JSON ledger.
type Tracker struct {
	mu      sync.Mutex
	path    string
	stats   *models.UsageStats
	metrics *Metrics
	logger  *common.Logger
	now     func() time.Time
}

// NewTracker creates a tracker backed by the ledger at path, loading any
// existing ledger. An empty path keeps the ledger in memory only.
func NewTracker(logger *common.Logger, path string, opts ...Option) (*Tracker, error) {
	t := &Tracker{
		path:   path,
		logger: logger.WithComponent("usage"),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(t)
	}
	t.stats = newStats(t.now())

	if path == "" {
		return t, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return t, nil
		}
		return nil, fmt.Errorf("failed to read usage ledger %s: %w", path, err)
	}
	if len(data) == 0 {
		return t, nil
	}
	var loaded models.UsageStats
	if err := json.Unmarshal(data, &loaded); err != nil {
		logger.Warn().Err(err).Str("path", path).Msg("Usage ledger corrupt, starting fresh")
		return t, nil
	}
	ensureMaps(&loaded)
	t.stats = &loaded

	logger.Info().
		Str("path", path).
		Int("providers", len(loaded.Providers)).
		Int("symbols", len(loaded.Symbols)).
		Msg("Usage ledger loaded")
	return t, nil
}

func newStats(now time.Time) *models.UsageStats {
	s := &models.UsageStats{StartedAt: now.UTC()}
	ensureMaps(s)
	return s
}

func ensureMaps(s *models.UsageStats) {
	if s.Providers == nil {
		s.Providers = make(map[string]*models.ProviderStats)
	}
	if s.Symbols == nil {
		s.Symbols = make(map[string]*models.SymbolStats)
	}
	for _, sym := range s.Symbols {
		if sym.Sources == nil {
			sym.Sources = make(map[string]int64)
		}
		if sym.Providers == nil {
			sym.Providers = make(map[string]int64)
		}
	}
}

func (t *Tracker) symbol(symbol string) *models.SymbolStats {
	key := strings.ToUpper(strings.TrimSpace(symbol))
	st, ok := t.stats.Symbols[key]
	if !ok {
		st = &models.SymbolStats{
			Sources:   make(map[string]int64),
			Providers: make(map[string]int64),
		}
		t.stats.Symbols[key] = st
	}
	return st
}

func millis(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}

// LogAPICall records one provider attempt.
func (t *Tracker) LogAPICall(provider, symbol string, success bool, duration time.Duration, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	ps, ok := t.stats.Providers[provider]
	if !ok {
		ps = &models.ProviderStats{}
		t.stats.Providers[provider] = ps
	}
	ps.Calls++
	ps.TotalLatencyMs += millis(duration)
	ps.LastCall = t.now().UTC()
	if success {
		ps.Successes++
		if symbol != "" {
			t.symbol(symbol).Providers[provider]++
		}
	} else {
		ps.Failures++
		if err != nil {
			ps.LastError = err.Error()
		} else {
			ps.LastError = "empty result"
		}
	}
	if t.metrics != nil {
		t.metrics.recordAPICall(provider, success, duration)
	}
	t.persistLocked()
}

// LogDataRequest records one served request and updates the symbol's
// running mean latency.
func (t *Tracker) LogDataRequest(symbol string, days int, source string, duration time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()

	st := t.symbol(symbol)
	st.Requests++
	st.DaysRequested += int64(days)
	st.LastDays = days
	st.Sources[source]++
	st.AvgLatencyMs += (millis(duration) - st.AvgLatencyMs) / float64(st.Requests)
	st.LastRequest = t.now().UTC()

	if t.metrics != nil {
		t.metrics.recordDataRequest(source, duration)
	}
	t.persistLocked()
}

// LogCacheHit records one cache lookup.
func (t *Tracker) LogCacheHit(hit bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if hit {
		t.stats.CacheHits++
	} else {
		t.stats.CacheMisses++
	}
	if t.metrics != nil {
		t.metrics.recordCacheLookup(hit)
	}
	t.persistLocked()
}

// LogError appends to the error ring, keeping the last MaxErrors entries.
func (t *Tracker) LogError(kind, message, symbol string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.stats.Errors = append(t.stats.Errors, models.ErrorEntry{
		ID:        uuid.NewString(),
		Timestamp: t.now().UTC(),
		Kind:      kind,
		Message:   message,
		Symbol:    symbol,
	})
	if n := len(t.stats.Errors); n > MaxErrors {
		t.stats.Errors = append([]models.ErrorEntry(nil), t.stats.Errors[n-MaxErrors:]...)
	}
	if t.metrics != nil {
		t.metrics.recordError(kind)
	}
	t.persistLocked()
}

// Report derives the usage report from the current counters.
func (t *Tracker) Report() *models.UsageReport {
	t.mu.Lock()
	defer t.mu.Unlock()

	r := &models.UsageReport{
		GeneratedAt:  t.now().UTC(),
		Providers:    make(map[string]models.ProviderReport, len(t.stats.Providers)),
		CacheHits:    t.stats.CacheHits,
		CacheMisses:  t.stats.CacheMisses,
		TopSymbols:   []models.SymbolUsage{},
		RecentErrors: []models.ErrorEntry{},
	}
	for name, ps := range t.stats.Providers {
		pr := models.ProviderReport{
			Calls:     ps.Calls,
			Successes: ps.Successes,
			Failures:  ps.Failures,
			LastError: ps.LastError,
		}
		if ps.Calls > 0 {
			pr.SuccessRate = float64(ps.Successes) / float64(ps.Calls)
			pr.AvgLatencyMs = ps.TotalLatencyMs / float64(ps.Calls)
		}
		r.Providers[name] = pr
	}
	if lookups := t.stats.CacheHits + t.stats.CacheMisses; lookups > 0 {
		r.CacheHitRate = float64(t.stats.CacheHits) / float64(lookups)
	}

	for sym, st := range t.stats.Symbols {
		if st.Requests == 0 {
			continue
		}
		r.TopSymbols = append(r.TopSymbols, models.SymbolUsage{Symbol: sym, Requests: st.Requests, AvgLatencyMs: st.AvgLatencyMs})
	}
	sort.Slice(r.TopSymbols, func(i, j int) bool {
		if r.TopSymbols[i].Requests != r.TopSymbols[j].Requests {
			return r.TopSymbols[i].Requests > r.TopSymbols[j].Requests
		}
		return r.TopSymbols[i].Symbol < r.TopSymbols[j].Symbol
	})
	if len(r.TopSymbols) > topSymbols {
		r.TopSymbols = r.TopSymbols[:topSymbols]
	}

	for i := len(t.stats.Errors) - 1; i >= 0 && len(r.RecentErrors) < recentErrors; i-- {
		r.RecentErrors = append(r.RecentErrors, t.stats.Errors[i])
	}
	return r
}

// Snapshot returns a deep copy of the raw ledger.
func (t *Tracker) Snapshot() models.UsageStats {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := models.UsageStats{
		Providers:   make(map[string]*models.ProviderStats, len(t.stats.Providers)),
		Symbols:     make(map[string]*models.SymbolStats, len(t.stats.Symbols)),
		CacheHits:   t.stats.CacheHits,
		CacheMisses: t.stats.CacheMisses,
		Errors:      append([]models.ErrorEntry(nil), t.stats.Errors...),
		StartedAt:   t.stats.StartedAt,
		UpdatedAt:   t.stats.UpdatedAt,
	}
	for name, p := range t.stats.Providers {
		cp := *p
		out.Providers[name] = &cp
	}
	for sym, st := range t.stats.Symbols {
		cp := *st
		cp.Sources = copyCounts(st.Sources)
		cp.Providers = copyCounts(st.Providers)
		out.Symbols[sym] = &cp
	}
	return out
}

func copyCounts(m map[string]int64) map[string]int64 {
	out := make(map[string]int64, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// ErrorCount returns the number of entries in the error ring.
func (t *Tracker) ErrorCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.stats.Errors)
}

// Reset clears all counters and rewrites the ledger.
func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stats = newStats(t.now())
	t.persistLocked()
}

// persistLocked rewrites the whole ledger. Failures are logged, never returned.
func (t *Tracker) persistLocked() {
	t.stats.UpdatedAt = t.now().UTC()
	if t.path == "" {
		return
	}
	if err := writeLedger(t.path, t.stats); err != nil {
		t.logger.Warn().Err(err).Str("path", t.path).Msg("Failed to persist usage ledger")
	}
}

func writeLedger(path string, stats *models.UsageStats) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", dir, err)
	}
	data, err := json.MarshalIndent(stats, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal usage ledger: %w", err)
	}

	tmpFile, err := os.CreateTemp(dir, ".tmp-usage-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmpFile.Name()
	if _, err := tmpFile.Write(append(data, '\n')); err != nil {
		tmpFile.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to rename temp file: %w", err)
	}
	return nil
}
