package interfaces

import (
	"context"

	"github.com/bobmcallan/marketcache/internal/models"
)

// BatchResult is one symbol's outcome in a batch request.
type BatchResult struct {
	Data *models.PriceHistory
	Err  error
}

// StockDataService is the facade consumed by analysis agents and the REST server.
type StockDataService interface {
	// GetStockData returns the most recent days bars for symbol.
	GetStockData(ctx context.Context, symbol string, days int, includeLive bool) (*models.PriceHistory, error)

	// BatchGetStockData runs GetStockData for every symbol on a bounded pool.
	// The result holds one entry per distinct input string, keyed as given.
	BatchGetStockData(ctx context.Context, symbols []string, days int, includeLive bool) map[string]BatchResult

	GetTechnicalIndicators(ctx context.Context, symbol, family string, days int) (*models.IndicatorSeries, error)
	GetNewsSentiment(ctx context.Context, symbol string, days int) (*models.NewsFeed, error)
	GetFundamentals(ctx context.Context, symbol, statement string) (*models.FundamentalsStatement, error)
}

// UsageReporter exposes the derived usage report.
type UsageReporter interface {
	Report() *models.UsageReport
}
