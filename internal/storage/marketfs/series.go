package marketfs

import (
	"context"
	"errors"
	"strings"

	"github.com/bobmcallan/marketcache/internal/common"
	"github.com/bobmcallan/marketcache/internal/models"
)

// LoadSeries returns the symbol's price bars, newest first.
func (s *Store) LoadSeries(ctx context.Context, symbol string) (*models.Series, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var file tableFile
	if _, err := s.readDocument(FamilyPrices, symbol, &file); err != nil {
		return nil, err
	}
	bars, err := normalizeBars(file.Rows)
	if err != nil {
		return nil, &common.StoreError{Op: "normalize", Family: FamilyPrices, Symbol: symbol, Err: err}
	}
	return &models.Series{Symbol: sanitizeKey(symbol), Bars: bars}, nil
}

// PersistSeries writes the full bar set for a symbol, replacing the file.
func (s *Store) PersistSeries(ctx context.Context, symbol string, bars []models.EODBar, source string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	sorted := models.CloneBars(bars)
	models.SortBarsDesc(sorted)

	file := tableFile{
		Symbol:    sanitizeKey(symbol),
		Family:    FamilyPrices,
		UpdatedAt: s.now().UTC(),
		Rows:      barRows(sorted),
	}
	if err := s.writeDocument(FamilyPrices, symbol, file, len(sorted), source); err != nil {
		return err
	}

	s.logger.Debug().
		Str("symbol", symbol).
		Int("rows", len(sorted)).
		Str("source", source).
		Msg("Price series saved")
	return nil
}

// LoadIndicators returns a stored indicator family for a symbol.
func (s *Store) LoadIndicators(ctx context.Context, family, symbol string) (*models.IndicatorSeries, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	dir := IndicatorFamily(family)
	var file tableFile
	if _, err := s.readDocument(dir, symbol, &file); err != nil {
		return nil, err
	}
	rows, err := normalizeIndicatorRows(file.Rows)
	if err != nil {
		return nil, &common.StoreError{Op: "normalize", Family: dir, Symbol: symbol, Err: err}
	}
	return &models.IndicatorSeries{
		Symbol:    sanitizeKey(symbol),
		Family:    family,
		Columns:   file.Columns,
		Rows:      rows,
		UpdatedAt: file.UpdatedAt,
	}, nil
}

// PersistIndicators writes an indicator family for a symbol.
func (s *Store) PersistIndicators(ctx context.Context, series *models.IndicatorSeries) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if series == nil || series.Family == "" {
		return errors.New("indicator series requires a family")
	}
	file := tableFile{
		Symbol:    sanitizeKey(series.Symbol),
		Family:    IndicatorFamily(series.Family),
		UpdatedAt: s.now().UTC(),
		Columns:   series.Columns,
		Rows:      indicatorRows(series.Rows),
	}
	return s.writeDocument(file.Family, series.Symbol, file, len(series.Rows), sourceOr(series.Source, "computed"))
}

// LoadNews returns the stored news feed for a symbol.
func (s *Store) LoadNews(ctx context.Context, symbol string) (*models.NewsFeed, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var feed models.NewsFeed
	if _, err := s.readDocument(FamilyNews, symbol, &feed); err != nil {
		return nil, err
	}
	return &feed, nil
}

// PersistNews writes a symbol's news feed.
func (s *Store) PersistNews(ctx context.Context, feed *models.NewsFeed) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if feed == nil {
		return errors.New("nil news feed")
	}
	stored := *feed
	stored.Symbol = sanitizeKey(feed.Symbol)
	stored.Stale = false
	return s.writeDocument(FamilyNews, feed.Symbol, stored, len(feed.Articles), sourceOr(feed.Provider, models.ProvenanceAPI))
}

// LoadFundamentals returns a stored statement for a symbol.
func (s *Store) LoadFundamentals(ctx context.Context, statement, symbol string) (*models.FundamentalsStatement, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var stmt models.FundamentalsStatement
	if _, err := s.readDocument(FundamentalsFamily(statement), symbol, &stmt); err != nil {
		return nil, err
	}
	return &stmt, nil
}

// PersistFundamentals writes one statement for a symbol.
func (s *Store) PersistFundamentals(ctx context.Context, stmt *models.FundamentalsStatement) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if stmt == nil || stmt.Statement == "" {
		return errors.New("fundamentals statement requires a type")
	}
	stored := *stmt
	stored.Symbol = sanitizeKey(stmt.Symbol)
	stored.Stale = false
	return s.writeDocument(FundamentalsFamily(stmt.Statement), stmt.Symbol, stored, len(stmt.Periods), sourceOr(stmt.Provider, models.ProvenanceAPI))
}

func sourceOr(source, fallback string) string {
	if strings.TrimSpace(source) == "" {
		return fallback
	}
	return source
}
