// Package interfaces defines service contracts for marketcache
package interfaces

import (
	"context"
	"time"

	"github.com/bobmcallan/marketcache/internal/models"
)

// DataProvider is an external source of daily price bars.
type DataProvider interface {
	// Name identifies the provider in logs and usage stats
	Name() string

	// FetchDaily returns up to days of the most recent daily bars, any order.
	// An empty slice with nil error is a valid "no data" answer.
	FetchDaily(ctx context.Context, symbol string, days int) ([]models.EODBar, error)
}

// NewsProvider is an external source of news articles.
type NewsProvider interface {
	Name() string

	// FetchNews returns articles published within the last days days.
	FetchNews(ctx context.Context, symbol string, days int) ([]models.NewsItem, error)
}

// FundamentalsProvider is an external source of financial statements.
type FundamentalsProvider interface {
	Name() string

	// FetchFundamentals returns one statement type (see models.StatementTypes).
	FetchFundamentals(ctx context.Context, symbol, statement string) (*models.FundamentalsStatement, error)
}

// UsageRecorder receives timing and outcome events from every layer.
type UsageRecorder interface {
	LogAPICall(provider, symbol string, success bool, duration time.Duration, err error)
	LogDataRequest(symbol string, days int, source string, duration time.Duration)
	LogCacheHit(hit bool)
	LogError(kind, message, symbol string)
}
