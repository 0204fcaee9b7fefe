package market

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/bobmcallan/marketcache/internal/common"
	"github.com/bobmcallan/marketcache/internal/models"
	"github.com/bobmcallan/marketcache/internal/signals"
	"github.com/bobmcallan/marketcache/internal/storage/marketfs"
	"github.com/bobmcallan/marketcache/internal/usage"
)

// Source tags for derived families.
const (
	sourceComputed = "computed"
)

// GetTechnicalIndicators returns the most recent days rows of an indicator
// family. Stored rows are reused while they cover days and are newer than
// the symbol's price file; otherwise they are recomputed from
// days+lookback price rows and persisted.
func (s *Service) GetTechnicalIndicators(ctx context.Context, symbol, family string, days int) (*models.IndicatorSeries, error) {
	sym, err := normalizeSymbol(symbol)
	if err != nil {
		return nil, err
	}
	if days <= 0 {
		return nil, fmt.Errorf("%w: days must be positive, got %d", common.ErrInvalidRequest, days)
	}
	fam, err := signals.Lookup(family)
	if err != nil {
		return nil, err
	}
	start := time.Now()

	unlock := s.locks.Lock(marketfs.IndicatorFamily(fam.Name) + ":" + sym)
	defer unlock()

	local := s.loadIndicators(ctx, fam.Name, sym)
	if local != nil && len(local.Rows) >= days && !s.pricesNewer(ctx, sym, local.UpdatedAt) {
		out := truncateIndicators(local, days)
		out.Source = models.SourceLocal
		s.derivedServed(sym, days, "indicators", models.SourceLocal, start)
		return out, nil
	}

	history, err := s.GetStockData(ctx, sym, days+fam.Lookback, true)
	if err != nil {
		return nil, err
	}
	rows := fam.Compute(history.Bars)
	if len(rows) == 0 {
		return nil, fmt.Errorf("%w: %s has %d price rows, %s needs %d", common.ErrNotAvailable, sym, history.Rows(), fam.Name, fam.Lookback)
	}

	computed := &models.IndicatorSeries{
		Symbol:    sym,
		Family:    fam.Name,
		Columns:   append([]string(nil), fam.Columns...),
		Rows:      rows,
		Source:    sourceComputed,
		UpdatedAt: s.now().UTC(),
	}
	if err := s.store.PersistIndicators(ctx, computed); err != nil {
		s.logger.Error().Err(err).Str("symbol", sym).Str("family", fam.Name).Msg("Failed to persist indicators")
		s.usage.LogError(usage.KindPersistFailed, err.Error(), sym)
	}

	s.derivedServed(sym, days, "indicators", sourceComputed, start)
	return truncateIndicators(computed, days), nil
}

func (s *Service) loadIndicators(ctx context.Context, family, sym string) *models.IndicatorSeries {
	series, err := s.store.LoadIndicators(ctx, family, sym)
	if err != nil {
		s.noteLoadError(ctx, err, sym)
		return nil
	}
	return series
}

// pricesNewer reports whether the price file was written after t.
func (s *Service) pricesNewer(ctx context.Context, sym string, t time.Time) bool {
	meta, ok, err := s.store.Metadata(ctx, marketfs.FamilyPrices, sym)
	if err != nil || !ok {
		return false
	}
	return meta.LastUpdated.After(t)
}

func truncateIndicators(series *models.IndicatorSeries, days int) *models.IndicatorSeries {
	out := *series
	rows := series.Rows
	if len(rows) > days {
		rows = rows[:days]
	}
	out.Rows = make([]models.IndicatorRow, len(rows))
	for i, r := range rows {
		values := make(map[string]float64, len(r.Values))
		for k, v := range r.Values {
			values[k] = v
		}
		out.Rows[i] = models.IndicatorRow{Date: r.Date, Values: values}
	}
	out.Columns = append([]string(nil), series.Columns...)
	return &out
}

// GetNewsSentiment returns articles from the last days days with aggregate
// sentiment. A stored feed younger than common.FreshnessNews is reused; when
// providers miss, a stale stored feed is returned flagged Stale.
func (s *Service) GetNewsSentiment(ctx context.Context, symbol string, days int) (*models.NewsFeed, error) {
	sym, err := normalizeSymbol(symbol)
	if err != nil {
		return nil, err
	}
	if days <= 0 {
		return nil, fmt.Errorf("%w: days must be positive, got %d", common.ErrInvalidRequest, days)
	}
	start := time.Now()

	unlock := s.locks.Lock(marketfs.FamilyNews + ":" + sym)
	defer unlock()

	local, err := s.store.LoadNews(ctx, sym)
	if err != nil {
		s.noteLoadError(ctx, err, sym)
		local = nil
	}
	now := s.now()
	if local != nil && common.IsFreshAt(local.UpdatedAt, common.FreshnessNews, now) {
		s.derivedServed(sym, days, "news", models.SourceLocal, start)
		return newsWindow(local, days, now, models.SourceLocal, false), nil
	}

	items, provider, err := s.chain.FetchNews(ctx, sym, days)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		if local != nil {
			s.logger.Warn().Err(err).Str("symbol", sym).Msg("News providers missed, serving stale feed")
			s.derivedServed(sym, days, "news", models.SourceLocal, start)
			return newsWindow(local, days, now, models.SourceLocal, true), nil
		}
		s.usage.LogError(usage.KindNotAvailable, err.Error(), sym)
		return nil, fmt.Errorf("%w: news for %s: %w", common.ErrNotAvailable, sym, err)
	}

	sort.SliceStable(items, func(i, j int) bool { return items[i].PublishedAt.After(items[j].PublishedAt) })
	feed := &models.NewsFeed{
		Symbol:    sym,
		Articles:  items,
		Sentiment: AggregateSentiment(items),
		Provider:  provider,
		Source:    models.SourceAPI,
		UpdatedAt: now.UTC(),
	}
	if err := s.store.PersistNews(ctx, feed); err != nil {
		s.logger.Error().Err(err).Str("symbol", sym).Msg("Failed to persist news")
		s.usage.LogError(usage.KindPersistFailed, err.Error(), sym)
	}

	s.derivedServed(sym, days, "news", models.SourceAPI, start)
	return newsWindow(feed, days, now, models.SourceAPI, false), nil
}

// newsWindow copies feed keeping articles published within days of now.
// Articles without a timestamp are kept.
func newsWindow(feed *models.NewsFeed, days int, now time.Time, source string, stale bool) *models.NewsFeed {
	cutoff := now.AddDate(0, 0, -days)
	out := *feed
	out.Articles = make([]models.NewsItem, 0, len(feed.Articles))
	for _, a := range feed.Articles {
		if a.PublishedAt.IsZero() || !a.PublishedAt.Before(cutoff) {
			out.Articles = append(out.Articles, a)
		}
	}
	out.Sentiment = AggregateSentiment(out.Articles)
	out.Source = source
	out.Stale = stale
	return &out
}

// AggregateSentiment averages article polarity and counts labels.
func AggregateSentiment(items []models.NewsItem) models.NewsSentiment {
	var agg models.NewsSentiment
	if len(items) == 0 {
		agg.Label = "neutral"
		return agg
	}
	total := 0.0
	for _, item := range items {
		total += item.Polarity
		switch label(item) {
		case "positive":
			agg.Positive++
		case "negative":
			agg.Negative++
		default:
			agg.Neutral++
		}
	}
	agg.Score = total / float64(len(items))
	agg.Label = classify(agg.Score)
	return agg
}

func label(item models.NewsItem) string {
	if item.Sentiment != "" {
		return strings.ToLower(item.Sentiment)
	}
	return classify(item.Polarity)
}

func classify(score float64) string {
	switch {
	case score >= 0.15:
		return "positive"
	case score <= -0.15:
		return "negative"
	}
	return "neutral"
}

// GetFundamentals returns one statement type for symbol. A stored statement
// younger than common.FreshnessFundamentals is reused; when providers miss,
// a stale stored statement is returned flagged Stale.
func (s *Service) GetFundamentals(ctx context.Context, symbol, statement string) (*models.FundamentalsStatement, error) {
	sym, err := normalizeSymbol(symbol)
	if err != nil {
		return nil, err
	}
	stmtType := strings.ToLower(strings.TrimSpace(statement))
	if !validStatement(stmtType) {
		return nil, fmt.Errorf("%w: unknown statement %q (want one of %s)",
			common.ErrInvalidRequest, statement, strings.Join(models.StatementTypes, ", "))
	}
	start := time.Now()

	unlock := s.locks.Lock(marketfs.FundamentalsFamily(stmtType) + ":" + sym)
	defer unlock()

	local, err := s.store.LoadFundamentals(ctx, stmtType, sym)
	if err != nil {
		s.noteLoadError(ctx, err, sym)
		local = nil
	}
	now := s.now()
	if local != nil && common.IsFreshAt(local.UpdatedAt, common.FreshnessFundamentals, now) {
		local.Source = models.SourceLocal
		s.derivedServed(sym, 0, "fundamentals", models.SourceLocal, start)
		return local, nil
	}

	fetched, provider, err := s.chain.FetchFundamentals(ctx, sym, stmtType)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		if local != nil {
			s.logger.Warn().Err(err).Str("symbol", sym).Str("statement", stmtType).
				Msg("Fundamentals providers missed, serving stale statement")
			local.Source = models.SourceLocal
			local.Stale = true
			s.derivedServed(sym, 0, "fundamentals", models.SourceLocal, start)
			return local, nil
		}
		s.usage.LogError(usage.KindNotAvailable, err.Error(), sym)
		return nil, fmt.Errorf("%w: %s fundamentals for %s: %w", common.ErrNotAvailable, stmtType, sym, err)
	}

	fetched.Symbol = sym
	fetched.Statement = stmtType
	fetched.Provider = provider
	fetched.Source = models.SourceAPI
	fetched.Stale = false
	fetched.UpdatedAt = now.UTC()
	if err := s.store.PersistFundamentals(ctx, fetched); err != nil {
		s.logger.Error().Err(err).Str("symbol", sym).Str("statement", stmtType).Msg("Failed to persist fundamentals")
		s.usage.LogError(usage.KindPersistFailed, err.Error(), sym)
	}

	s.derivedServed(sym, 0, "fundamentals", models.SourceAPI, start)
	return fetched, nil
}

func validStatement(statement string) bool {
	for _, t := range models.StatementTypes {
		if t == statement {
			return true
		}
	}
	return false
}

// noteLoadError records unreadable derived files; missing files are silent.
func (s *Service) noteLoadError(ctx context.Context, err error, sym string) {
	if errors.Is(err, common.ErrNotFound) || ctx.Err() != nil {
		return
	}
	s.logger.Warn().Err(err).Str("symbol", sym).Msg("Local document unreadable, treating as missing")
	s.usage.LogError(usage.KindStoreError, err.Error(), sym)
}

// derivedServed records a derived query under a family-prefixed source tag.
func (s *Service) derivedServed(sym string, days int, family, source string, start time.Time) {
	elapsed := time.Since(start)
	s.usage.LogDataRequest(sym, days, family+":"+source, elapsed)
	s.logger.Debug().
		Str("symbol", sym).
		Str("family", family).
		Str("source", source).
		Dur("duration", elapsed).
		Msg("Derived data served")
}
