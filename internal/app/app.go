package app

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/robfig/cron/v3"

	"github.com/bobmcallan/marketcache/internal/cache"
	"github.com/bobmcallan/marketcache/internal/clients/alphavantage"
	"github.com/bobmcallan/marketcache/internal/clients/eodhd"
	"github.com/bobmcallan/marketcache/internal/clients/yahoo"
	"github.com/bobmcallan/marketcache/internal/common"
	"github.com/bobmcallan/marketcache/internal/interfaces"
	"github.com/bobmcallan/marketcache/internal/providers"
	"github.com/bobmcallan/marketcache/internal/services/market"
	"github.com/bobmcallan/marketcache/internal/storage/marketfs"
	"github.com/bobmcallan/marketcache/internal/usage"
)

// App holds the initialized store, providers, services and metrics registry.
// It is the shared core used by cmd/marketcache-server and the tests.
type App struct {
	Config        *common.Config
	Logger        *common.Logger
	Store         *marketfs.Store
	Usage         *usage.Tracker
	Registry      *prometheus.Registry
	Chain         *providers.Chain
	Cache         *cache.SeriesCache
	MarketService interfaces.StockDataService
	StartupTime   time.Time

	scheduler *cron.Cron
}

// getBinaryDir returns the directory containing the executable.
func getBinaryDir() string {
	exe, err := os.Executable()
	if err != nil {
		return "."
	}
	return filepath.Dir(exe)
}

// NewApp loads configuration and initializes every component.
// configPath may be empty, in which case MARKETCACHE_CONFIG, the binary
// directory and config/marketcache.toml are tried in that order.
func NewApp(configPath string) (*App, error) {
	// Load version from .version file (fallback if ldflags not set)
	common.LoadVersionFromFile()

	binDir := getBinaryDir()

	if configPath == "" {
		configPath = os.Getenv("MARKETCACHE_CONFIG")
	}
	if configPath == "" {
		configPath = filepath.Join(binDir, "marketcache.toml")
		if _, err := os.Stat(configPath); os.IsNotExist(err) {
			configPath = "config/marketcache.toml" // fallback for development
		}
	}

	config, err := common.LoadConfig(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	// Resolve relative storage paths to binary directory
	if config.Storage.Path != "" && !filepath.IsAbs(config.Storage.Path) {
		config.Storage.Path = filepath.Join(binDir, config.Storage.Path)
	}
	if config.Usage.Path != "" && !filepath.IsAbs(config.Usage.Path) {
		config.Usage.Path = filepath.Join(binDir, config.Usage.Path)
	}

	return NewAppWithConfig(config)
}

// NewAppWithConfig initializes every component from an already loaded config.
func NewAppWithConfig(config *common.Config) (*App, error) {
	startupStart := time.Now()

	logger := common.NewLoggerFromConfig(config.Logging)

	store, err := marketfs.NewMarketStore(logger, config.Storage.Path, marketfs.Options{
		Compression: config.Storage.Compression,
		Indexing:    config.Storage.Indexing,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	var trackerOpts []usage.Option
	if config.Usage.Metrics {
		trackerOpts = append(trackerOpts, usage.WithMetrics(usage.NewMetrics(registry)))
	}
	tracker, err := usage.NewTracker(logger, config.Usage.Path, trackerOpts...)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("failed to initialize usage tracker: %w", err)
	}

	for _, key := range config.ValidateRequired() {
		logger.Warn().Str("key", key).Msg("Provider API key not configured - provider will miss")
	}

	data, news, fundamentals := buildProviders(config, logger)
	chain := providers.NewChain(logger, tracker,
		providers.WithDataProviders(data...),
		providers.WithNewsProviders(news...),
		providers.WithFundamentalsProviders(fundamentals...),
		providers.WithTimeout(config.Providers.GetTimeout()),
	)

	seriesCache := cache.NewSeriesCache(
		cache.WithCapacity(config.Cache.Capacity),
		cache.WithRecorder(tracker),
	)

	marketService := market.NewService(store, chain, seriesCache, tracker, logger,
		market.WithWorkers(config.Batch.Workers),
	)

	a := &App{
		Config:        config,
		Logger:        logger,
		Store:         store,
		Usage:         tracker,
		Registry:      registry,
		Chain:         chain,
		Cache:         seriesCache,
		MarketService: marketService,
		StartupTime:   startupStart,
	}

	logger.Info().
		Strs("data_providers", chain.DataProviders()).
		Int("cache_capacity", config.Cache.Capacity).
		Int("workers", config.Batch.Workers).
		Dur("startup", time.Since(startupStart)).
		Msg("App initialized")

	return a, nil
}

// buildProviders constructs the adapters named in providers.order. Each
// adapter joins every chain whose capability it implements.
func buildProviders(config *common.Config, logger *common.Logger) ([]interfaces.DataProvider, []interfaces.NewsProvider, []interfaces.FundamentalsProvider) {
	var (
		data         []interfaces.DataProvider
		news         []interfaces.NewsProvider
		fundamentals []interfaces.FundamentalsProvider
	)

	for _, name := range config.Providers.Order {
		var p interfaces.DataProvider
		switch name {
		case yahoo.ProviderName:
			cc := config.Clients.Yahoo
			p = yahoo.NewClient(
				yahoo.WithBaseURL(cc.BaseURL),
				yahoo.WithLogger(logger),
				yahoo.WithRateLimit(cc.RateLimit),
				yahoo.WithTimeout(cc.GetTimeout()),
				yahoo.WithRetries(cc.Retries, time.Second),
			)
		case eodhd.ProviderName:
			cc := config.Clients.EODHD
			p = eodhd.NewClient(cc.APIKey,
				eodhd.WithBaseURL(cc.BaseURL),
				eodhd.WithLogger(logger),
				eodhd.WithRateLimit(cc.RateLimit),
				eodhd.WithTimeout(cc.GetTimeout()),
				eodhd.WithRetries(cc.Retries, time.Second),
			)
		case alphavantage.ProviderName:
			cc := config.Clients.AlphaVantage
			p = alphavantage.NewClient(cc.APIKey,
				alphavantage.WithBaseURL(cc.BaseURL),
				alphavantage.WithLogger(logger),
				alphavantage.WithRateLimit(cc.RateLimit),
				alphavantage.WithTimeout(cc.GetTimeout()),
				alphavantage.WithRetries(cc.Retries, 2*time.Second),
			)
		default:
			logger.Warn().Str("provider", name).Msg("Unknown provider in providers.order - skipped")
			continue
		}

		data = append(data, p)
		if n, ok := p.(interfaces.NewsProvider); ok {
			news = append(news, n)
		}
		if f, ok := p.(interfaces.FundamentalsProvider); ok {
			fundamentals = append(fundamentals, f)
		}
	}
	return data, news, fundamentals
}

// Close releases all resources held by the App.
// Shutdown order: stop scheduler, close storage.
func (a *App) Close() {
	a.StopScheduler()
	if a.Store != nil {
		a.Store.Close()
		a.Store = nil
	}
}
