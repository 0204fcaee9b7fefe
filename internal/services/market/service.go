// Package market provides the stock data facade: cache, local store and
// provider fallback behind one call per query type.
package market

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bobmcallan/marketcache/internal/cache"
	"github.com/bobmcallan/marketcache/internal/common"
	"github.com/bobmcallan/marketcache/internal/interfaces"
	"github.com/bobmcallan/marketcache/internal/models"
	"github.com/bobmcallan/marketcache/internal/providers"
	"github.com/bobmcallan/marketcache/internal/usage"
)

// DefaultWorkers is the batch pool size when none is configured.
const DefaultWorkers = 4

// Option configures a Service.
type Option func(*Service)

// WithWorkers sets the batch pool size.
func WithWorkers(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.workers = n
		}
	}
}

// WithClock overrides the clock used for freshness checks.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

// Service implements StockDataService
type Service struct {
	store   interfaces.MarketStore
	chain   *providers.Chain
	cache   *cache.SeriesCache
	usage   interfaces.UsageRecorder
	locks   *common.KeyedMutex
	workers int
	logger  *common.Logger
	now     func() time.Time
}

// NewService creates a new market data service
func NewService(
	store interfaces.MarketStore,
	chain *providers.Chain,
	seriesCache *cache.SeriesCache,
	recorder interfaces.UsageRecorder,
	logger *common.Logger,
	opts ...Option,
) *Service {
	s := &Service{
		store:   store,
		chain:   chain,
		cache:   seriesCache,
		usage:   recorder,
		locks:   common.NewKeyedMutex(),
		workers: DefaultWorkers,
		logger:  logger.WithComponent("market"),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func normalizeSymbol(symbol string) (string, error) {
	sym := strings.ToUpper(strings.TrimSpace(symbol))
	if sym == "" {
		return "", fmt.Errorf("%w: symbol is required", common.ErrInvalidRequest)
	}
	return sym, nil
}

// GetStockData returns the most recent days bars for symbol, newest first.
//
// States, in priority order: cache hit; enough local rows; local rows
// augmented from providers (includeLive); local rows as-is (partial); full
// provider fetch. Only the last can fail with ErrNotAvailable.
func (s *Service) GetStockData(ctx context.Context, symbol string, days int, includeLive bool) (*models.PriceHistory, error) {
	sym, err := normalizeSymbol(symbol)
	if err != nil {
		return nil, err
	}
	if days <= 0 {
		return nil, fmt.Errorf("%w: days must be positive, got %d", common.ErrInvalidRequest, days)
	}
	start := time.Now()

	if cached, ok := s.cache.Get(sym, days); ok {
		return s.served(sym, days, models.SourceCache, len(cached.Bars) < days, cached.Bars, start), nil
	}

	unlock := s.locks.Lock("prices:" + sym)
	defer unlock()

	local, err := s.loadLocal(ctx, sym)
	if err != nil {
		return nil, err
	}
	rows := len(local)

	switch {
	case rows >= days:
		bars := local[:days]
		s.cache.Put(sym, days, &models.Series{Symbol: sym, Bars: bars})
		return s.served(sym, days, models.SourceLocal, false, bars, start), nil

	case rows > 0 && includeLive:
		result, err := s.augment(ctx, sym, days, local, start)
		if err == nil {
			return result, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		s.logger.Warn().Err(err).Str("symbol", sym).Int("local_rows", rows).Int("days", days).
			Msg("Augment failed, serving local rows")
		s.usage.LogError(usage.KindAugmentFailed, err.Error(), sym)
		return s.served(sym, days, models.SourceLocalPartial, true, local, start), nil

	case rows > 0:
		return s.served(sym, days, models.SourceLocalPartial, true, local, start), nil
	}

	return s.fetchFresh(ctx, sym, days, start)
}

// loadLocal reads the symbol's stored bars. A missing or unreadable file is
// treated as no local data; only context errors are returned.
func (s *Service) loadLocal(ctx context.Context, sym string) ([]models.EODBar, error) {
	series, err := s.store.LoadSeries(ctx, sym)
	if err == nil {
		return series.Bars, nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, ctxErr
	}
	if !errors.Is(err, common.ErrNotFound) {
		s.logger.Warn().Err(err).Str("symbol", sym).Msg("Local series unreadable, treating as missing")
		s.usage.LogError(usage.KindStoreError, err.Error(), sym)
	}
	return nil, nil
}

// augment fetches the shortfall, merges it over the local rows and persists
// the merged superset before caching. A short merged series is still cached
// once persisted; it is everything the providers hold for the symbol.
func (s *Service) augment(ctx context.Context, sym string, days int, local []models.EODBar, start time.Time) (*models.PriceHistory, error) {
	shortfall := days - len(local)
	fresh, provider, err := s.chain.FetchDaily(ctx, sym, shortfall)
	if err != nil {
		return nil, err
	}

	merged := Merge(local, fresh)
	s.logger.Debug().
		Str("symbol", sym).
		Str("provider", provider).
		Int("local_rows", len(local)).
		Int("fetched", len(fresh)).
		Int("merged", len(merged)).
		Msg("Augmented local series")

	persisted := s.persist(ctx, sym, merged, provider)

	bars := merged
	if len(bars) > days {
		bars = bars[:days]
	}
	partial := len(bars) < days
	if persisted {
		s.cache.Put(sym, days, &models.Series{Symbol: sym, Bars: bars})
	}
	return s.served(sym, days, models.SourceLocalAPI, partial, bars, start), nil
}

// fetchFresh handles a symbol with no local rows.
func (s *Service) fetchFresh(ctx context.Context, sym string, days int, start time.Time) (*models.PriceHistory, error) {
	fresh, provider, err := s.chain.FetchDaily(ctx, sym, days)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		s.logger.Warn().Err(err).Str("symbol", sym).Int("days", days).Msg("No local data and all providers missed")
		s.usage.LogError(usage.KindNotAvailable, err.Error(), sym)
		return nil, fmt.Errorf("%w: %s: %w", common.ErrNotAvailable, sym, err)
	}

	bars := Merge(nil, fresh)
	persisted := s.persist(ctx, sym, bars, provider)

	if len(bars) > days {
		bars = bars[:days]
	}
	partial := len(bars) < days
	if persisted {
		s.cache.Put(sym, days, &models.Series{Symbol: sym, Bars: bars})
	}
	return s.served(sym, days, models.SourceAPI, partial, bars, start), nil
}

// persist writes bars to the store. A failure is logged and recorded; the
// caller still serves the data but must not cache it.
func (s *Service) persist(ctx context.Context, sym string, bars []models.EODBar, provider string) bool {
	if err := s.store.PersistSeries(ctx, sym, bars, provider); err != nil {
		s.logger.Error().Err(err).Str("symbol", sym).Msg("Failed to persist series")
		s.usage.LogError(usage.KindPersistFailed, err.Error(), sym)
		return false
	}
	return true
}

// served builds the response and records the request.
func (s *Service) served(sym string, days int, source string, partial bool, bars []models.EODBar, start time.Time) *models.PriceHistory {
	elapsed := time.Since(start)
	s.usage.LogDataRequest(sym, days, source, elapsed)

	s.logger.Debug().
		Str("symbol", sym).
		Int("days", days).
		Int("rows", len(bars)).
		Str("source", source).
		Dur("duration", elapsed).
		Msg("Stock data served")

	return &models.PriceHistory{
		Symbol:    sym,
		Requested: days,
		Source:    source,
		Partial:   partial,
		Bars:      models.CloneBars(bars),
	}
}

// InvalidateCache drops every cached window for symbol.
func (s *Service) InvalidateCache(symbol string) int {
	return s.cache.Invalidate(symbol)
}

var _ interfaces.StockDataService = (*Service)(nil)
