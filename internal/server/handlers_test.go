package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bobmcallan/marketcache/internal/app"
	"github.com/bobmcallan/marketcache/internal/common"
	"github.com/bobmcallan/marketcache/internal/interfaces"
	"github.com/bobmcallan/marketcache/internal/models"
)

// --- mock stock data service ---

type mockStockService struct {
	getStockData   func(ctx context.Context, symbol string, days int, includeLive bool) (*models.PriceHistory, error)
	batch          func(ctx context.Context, symbols []string, days int, includeLive bool) map[string]interfaces.BatchResult
	getIndicators  func(ctx context.Context, symbol, family string, days int) (*models.IndicatorSeries, error)
	getNews        func(ctx context.Context, symbol string, days int) (*models.NewsFeed, error)
	getFundamental func(ctx context.Context, symbol, statement string) (*models.FundamentalsStatement, error)
}

func (m *mockStockService) GetStockData(ctx context.Context, symbol string, days int, includeLive bool) (*models.PriceHistory, error) {
	if m.getStockData != nil {
		return m.getStockData(ctx, symbol, days, includeLive)
	}
	return &models.PriceHistory{Symbol: symbol, Requested: days}, nil
}

func (m *mockStockService) BatchGetStockData(ctx context.Context, symbols []string, days int, includeLive bool) map[string]interfaces.BatchResult {
	if m.batch != nil {
		return m.batch(ctx, symbols, days, includeLive)
	}
	return map[string]interfaces.BatchResult{}
}

func (m *mockStockService) GetTechnicalIndicators(ctx context.Context, symbol, family string, days int) (*models.IndicatorSeries, error) {
	if m.getIndicators != nil {
		return m.getIndicators(ctx, symbol, family, days)
	}
	return &models.IndicatorSeries{Symbol: symbol, Family: family}, nil
}

func (m *mockStockService) GetNewsSentiment(ctx context.Context, symbol string, days int) (*models.NewsFeed, error) {
	if m.getNews != nil {
		return m.getNews(ctx, symbol, days)
	}
	return &models.NewsFeed{Symbol: symbol}, nil
}

func (m *mockStockService) GetFundamentals(ctx context.Context, symbol, statement string) (*models.FundamentalsStatement, error) {
	if m.getFundamental != nil {
		return m.getFundamental(ctx, symbol, statement)
	}
	return &models.FundamentalsStatement{Symbol: symbol, Statement: statement}, nil
}

// newTestServer builds a real App on a temp store and swaps in svc.
func newTestServer(t *testing.T, svc interfaces.StockDataService) *Server {
	t.Helper()
	cfg := common.NewDefaultConfig()
	cfg.Storage.Path = t.TempDir()
	cfg.Logging.Level = "error"
	cfg.Maintenance.RetentionDays = 0

	a, err := app.NewAppWithConfig(cfg)
	require.NoError(t, err)
	t.Cleanup(a.Close)
	if svc != nil {
		a.MarketService = svc
	}
	return NewServer(a)
}

func serve(s *Server, method, target, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) ErrorResponse {
	t.Helper()
	var resp ErrorResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	return resp
}

// --- system ---

func TestHandleHealth(t *testing.T) {
	s := newTestServer(t, nil)

	rec := serve(s, http.MethodGet, "/api/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
	assert.NotEmpty(t, rec.Header().Get("X-Correlation-ID"))

	rec = serve(s, http.MethodPost, "/api/health", "")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestHandleVersion(t *testing.T) {
	s := newTestServer(t, nil)

	rec := serve(s, http.MethodGet, "/api/version", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]string
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Equal(t, "marketcache", body["service"])
	assert.NotEmpty(t, body["version"])
}

func TestMetricsEndpoint(t *testing.T) {
	s := newTestServer(t, nil)
	s.app.Usage.LogCacheHit(false)

	rec := serve(s, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "marketcache_cache_lookups_total")
}

// --- stock data ---

func TestHandleStock_ParsesQuery(t *testing.T) {
	var gotSymbol string
	var gotDays int
	var gotLive bool
	svc := &mockStockService{getStockData: func(_ context.Context, symbol string, days int, live bool) (*models.PriceHistory, error) {
		gotSymbol, gotDays, gotLive = symbol, days, live
		return &models.PriceHistory{Symbol: "AAPL", Requested: days, Source: models.SourceLocal}, nil
	}}
	s := newTestServer(t, svc)

	rec := serve(s, http.MethodGet, "/api/stocks/aapl?days=90&live=false", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "aapl", gotSymbol)
	assert.Equal(t, 90, gotDays)
	assert.False(t, gotLive)

	var body models.PriceHistory
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Equal(t, models.SourceLocal, body.Source)

	rec = serve(s, http.MethodGet, "/api/stocks/MSFT", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, defaultPriceDays, gotDays)
	assert.True(t, gotLive)
}

func TestHandleStock_ErrorMapping(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
	}{
		{"not available", fmt.Errorf("%w: ZZZZ: %w", common.ErrNotAvailable, common.ErrAllProvidersFailed), http.StatusNotFound, codeNotAvailable},
		{"invalid", fmt.Errorf("%w: days must be positive", common.ErrInvalidRequest), http.StatusBadRequest, codeInvalidRequest},
		{"timeout", context.DeadlineExceeded, http.StatusGatewayTimeout, codeTimeout},
		{"other", errors.New("boom"), http.StatusInternalServerError, codeInternal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &mockStockService{getStockData: func(context.Context, string, int, bool) (*models.PriceHistory, error) {
				return nil, tt.err
			}}
			s := newTestServer(t, svc)

			rec := serve(s, http.MethodGet, "/api/stocks/ZZZZ", "")
			assert.Equal(t, tt.wantStatus, rec.Code)
			resp := decodeError(t, rec)
			assert.Equal(t, tt.wantCode, resp.Code)
			assert.Equal(t, tt.err.Error(), resp.Error)
		})
	}
}

func TestHandleStock_BadQuery(t *testing.T) {
	called := false
	svc := &mockStockService{getStockData: func(context.Context, string, int, bool) (*models.PriceHistory, error) {
		called = true
		return nil, nil
	}}
	s := newTestServer(t, svc)

	for _, target := range []string{"/api/stocks/AAPL?days=abc", "/api/stocks/AAPL?days=-5", "/api/stocks/AAPL?live=maybe"} {
		rec := serve(s, http.MethodGet, target, "")
		assert.Equal(t, http.StatusBadRequest, rec.Code, target)
		assert.Equal(t, codeInvalidRequest, decodeError(t, rec).Code, target)
	}
	assert.False(t, called)
}

func TestRouteStocks_Dispatch(t *testing.T) {
	var calls []string
	svc := &mockStockService{
		getIndicators: func(_ context.Context, symbol, family string, days int) (*models.IndicatorSeries, error) {
			calls = append(calls, fmt.Sprintf("indicators %s %s %d", symbol, family, days))
			return &models.IndicatorSeries{Symbol: symbol, Family: family}, nil
		},
		getNews: func(_ context.Context, symbol string, days int) (*models.NewsFeed, error) {
			calls = append(calls, fmt.Sprintf("news %s %d", symbol, days))
			return &models.NewsFeed{Symbol: symbol}, nil
		},
		getFundamental: func(_ context.Context, symbol, statement string) (*models.FundamentalsStatement, error) {
			calls = append(calls, fmt.Sprintf("fundamentals %s %s", symbol, statement))
			return &models.FundamentalsStatement{Symbol: symbol, Statement: statement}, nil
		},
	}
	s := newTestServer(t, svc)

	for _, target := range []string{
		"/api/stocks/AAPL/indicators/rsi?days=10",
		"/api/stocks/AAPL/indicators/macd",
		"/api/stocks/AAPL/news",
		"/api/stocks/AAPL/news?days=3",
		"/api/stocks/AAPL/fundamentals/income",
	} {
		rec := serve(s, http.MethodGet, target, "")
		assert.Equal(t, http.StatusOK, rec.Code, target)
	}
	assert.Equal(t, []string{
		"indicators AAPL rsi 10",
		"indicators AAPL macd 30",
		"news AAPL 7",
		"news AAPL 3",
		"fundamentals AAPL income",
	}, calls)

	for _, target := range []string{"/api/stocks/", "/api/stocks/AAPL/bogus", "/api/stocks/AAPL/indicators"} {
		rec := serve(s, http.MethodGet, target, "")
		assert.Contains(t, []int{http.StatusBadRequest, http.StatusNotFound}, rec.Code, target)
	}
}

func TestHandleStocksBatch(t *testing.T) {
	var gotSymbols []string
	var gotDays int
	var gotLive bool
	svc := &mockStockService{batch: func(_ context.Context, symbols []string, days int, live bool) map[string]interfaces.BatchResult {
		gotSymbols, gotDays, gotLive = symbols, days, live
		return map[string]interfaces.BatchResult{
			"AAPL": {Data: &models.PriceHistory{Symbol: "AAPL", Source: models.SourceAPI}},
			"BAD":  {Err: fmt.Errorf("%w: BAD", common.ErrNotAvailable)},
		}
	}}
	s := newTestServer(t, svc)

	rec := serve(s, http.MethodPost, "/api/stocks/batch", `{"symbols": ["AAPL", " ", "BAD"], "live": false}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"AAPL", "BAD"}, gotSymbols)
	assert.Equal(t, defaultPriceDays, gotDays)
	assert.False(t, gotLive)

	var body batchResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Equal(t, 1, body.Succeeded)
	assert.Equal(t, 1, body.Failed)
	assert.Equal(t, models.SourceAPI, body.Results["AAPL"].Data.Source)
	assert.Equal(t, codeNotAvailable, body.Results["BAD"].Code)
}

func TestHandleStocksBatch_Validation(t *testing.T) {
	s := newTestServer(t, &mockStockService{})

	tests := []struct {
		name string
		body string
	}{
		{"invalid json", `{"symbols": `},
		{"no symbols", `{"symbols": []}`},
		{"negative days", `{"symbols": ["AAPL"], "days": -1}`},
		{"too many", `{"symbols": [` + strings.TrimSuffix(strings.Repeat(`"X",`, maxBatchSymbols+1), ",") + `]}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := serve(s, http.MethodPost, "/api/stocks/batch", tt.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}

	rec := serve(s, http.MethodGet, "/api/stocks/batch", "")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

// --- usage and admin ---

func TestHandleUsage_IncludesStorageStats(t *testing.T) {
	s := newTestServer(t, nil)
	ctx := context.Background()
	day := time.Date(2025, 6, 2, 0, 0, 0, 0, time.UTC)
	require.NoError(t, s.app.Store.PersistSeries(ctx, "AAPL", []models.EODBar{{Date: day, Close: 1}}, "seed"))
	s.app.Usage.LogCacheHit(true)

	rec := serve(s, http.MethodGet, "/api/usage", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var report models.UsageReport
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&report))
	assert.Equal(t, int64(1), report.CacheHits)
	require.NotNil(t, report.Storage)
	assert.Equal(t, 1, report.Storage.Families["prices"].Files)
}

func TestHandleAdmin_Maintenance(t *testing.T) {
	s := newTestServer(t, nil)
	ctx := context.Background()
	today := time.Now().UTC().Truncate(24 * time.Hour)
	bars := []models.EODBar{
		{Date: today, Close: 2},
		{Date: today.AddDate(0, 0, -400), Close: 1},
	}
	require.NoError(t, s.app.Store.PersistSeries(ctx, "AAPL", bars, "seed"))

	rec := serve(s, http.MethodPost, "/api/admin/reindex", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"entries":1`)

	rec = serve(s, http.MethodPost, "/api/admin/cleanup", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code, "retention disabled and no days given")

	rec = serve(s, http.MethodPost, "/api/admin/cleanup?days=30", "")
	require.Equal(t, http.StatusOK, rec.Code)
	series, err := s.app.Store.LoadSeries(ctx, "AAPL")
	require.NoError(t, err)
	assert.Len(t, series.Bars, 1)

	rec = serve(s, http.MethodPost, "/api/admin/optimize", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"operation":"optimize"`)

	rec = serve(s, http.MethodGet, "/api/admin/optimize", "")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestHandleAdmin_CacheClearAndUsageReset(t *testing.T) {
	s := newTestServer(t, nil)
	s.app.Cache.Put("AAPL", 5, &models.Series{Symbol: "AAPL"})
	s.app.Usage.LogError("store_error", "bad file", "AAPL")

	rec := serve(s, http.MethodPost, "/api/admin/cache/clear", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"cleared":1}`, rec.Body.String())
	assert.Equal(t, 0, s.app.Cache.Len())

	rec = serve(s, http.MethodPost, "/api/admin/usage/reset", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Zero(t, s.app.Usage.ErrorCount())
}

func TestRecoveryMiddleware(t *testing.T) {
	svc := &mockStockService{getStockData: func(context.Context, string, int, bool) (*models.PriceHistory, error) {
		panic("handler bug")
	}}
	s := newTestServer(t, svc)

	rec := serve(s, http.MethodGet, "/api/stocks/AAPL", "")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, codeInternal, decodeError(t, rec).Code)
}
