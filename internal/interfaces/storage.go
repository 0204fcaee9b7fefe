package interfaces

import (
	"context"

	"github.com/bobmcallan/marketcache/internal/models"
)

// MarketStore persists per-symbol data families on local disk.
type MarketStore interface {
	// LoadSeries returns the symbol's price bars newest first.
	// Missing file yields common.ErrNotFound; unreadable data a *common.StoreError.
	LoadSeries(ctx context.Context, symbol string) (*models.Series, error)

	// PersistSeries replaces the symbol's price file and updates its sidecars.
	PersistSeries(ctx context.Context, symbol string, bars []models.EODBar, source string) error

	LoadIndicators(ctx context.Context, family, symbol string) (*models.IndicatorSeries, error)
	PersistIndicators(ctx context.Context, series *models.IndicatorSeries) error

	LoadNews(ctx context.Context, symbol string) (*models.NewsFeed, error)
	PersistNews(ctx context.Context, feed *models.NewsFeed) error

	LoadFundamentals(ctx context.Context, statement, symbol string) (*models.FundamentalsStatement, error)
	PersistFundamentals(ctx context.Context, stmt *models.FundamentalsStatement) error

	// Metadata returns the symbol's metadata entry in a family, if any.
	Metadata(ctx context.Context, family, symbol string) (models.MetadataEntry, bool, error)

	// Maintenance
	RebuildIndex(ctx context.Context) (int, error)
	RetentionCleanup(ctx context.Context, maxAgeDays int) (*models.MaintenanceResult, error)
	OptimizeStorage(ctx context.Context) (int, error)
	Stats(ctx context.Context) (*models.StorageStats, error)

	// DataPath returns the base data directory.
	DataPath() string
}
