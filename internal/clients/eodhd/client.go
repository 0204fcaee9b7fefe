// Package eodhd provides a client for the EODHD API
package eodhd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/avast/retry-go"
	"golang.org/x/time/rate"

	"github.com/bobmcallan/marketcache/internal/common"
	"github.com/bobmcallan/marketcache/internal/interfaces"
	"github.com/bobmcallan/marketcache/internal/models"
)

// flexFloat64 handles JSON values that may be either a number or a string.
type flexFloat64 float64

func (f *flexFloat64) UnmarshalJSON(data []byte) error {
	var num float64
	if err := json.Unmarshal(data, &num); err == nil {
		*f = flexFloat64(num)
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		if s == "" || s == "N/A" {
			*f = 0
			return nil
		}
		num, err := strconv.ParseFloat(s, 64)
		if err != nil {
			*f = 0
			return nil
		}
		*f = flexFloat64(num)
		return nil
	}
	return fmt.Errorf("cannot unmarshal %s into float64", string(data))
}

const (
	ProviderName     = "eodhd"
	DefaultBaseURL   = "https://eodhd.com/api"
	DefaultTimeout   = 30 * time.Second
	DefaultRateLimit = 10 // requests per second
	DefaultRetries   = 2
)

// Client implements the daily, news and fundamentals provider contracts
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	logger     *common.Logger
	limiter    *rate.Limiter
	retries    uint
	retryDelay time.Duration
	now        func() time.Time
}

// ClientOption configures the client
type ClientOption func(*Client)

// WithBaseURL sets the base URL
func WithBaseURL(baseURL string) ClientOption {
	return func(c *Client) {
		if baseURL != "" {
			c.baseURL = strings.TrimRight(baseURL, "/")
		}
	}
}

// WithLogger sets the logger
func WithLogger(logger *common.Logger) ClientOption {
	return func(c *Client) {
		c.logger = logger
	}
}

// WithRateLimit sets the rate limit
func WithRateLimit(requestsPerSecond int) ClientOption {
	return func(c *Client) {
		if requestsPerSecond > 0 {
			c.limiter = rate.NewLimiter(rate.Limit(requestsPerSecond), requestsPerSecond)
		}
	}
}

// WithTimeout sets the HTTP timeout
func WithTimeout(timeout time.Duration) ClientOption {
	return func(c *Client) {
		c.httpClient.Timeout = timeout
	}
}

// WithRetries sets how many times a transient failure is retried
func WithRetries(n int, delay time.Duration) ClientOption {
	return func(c *Client) {
		if n >= 0 {
			c.retries = uint(n)
		}
		c.retryDelay = delay
	}
}

// WithClock overrides the clock used to build date ranges
func WithClock(now func() time.Time) ClientOption {
	return func(c *Client) {
		c.now = now
	}
}

// NewClient creates a new EODHD client
func NewClient(apiKey string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL: DefaultBaseURL,
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: DefaultTimeout,
		},
		limiter:    rate.NewLimiter(rate.Limit(DefaultRateLimit), DefaultRateLimit),
		logger:     common.NewSilentLogger(),
		retries:    DefaultRetries,
		retryDelay: 500 * time.Millisecond,
		now:        time.Now,
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// Name identifies the provider
func (c *Client) Name() string {
	return ProviderName
}

// APIError represents an API error
type APIError struct {
	StatusCode int
	Message    string
	Endpoint   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("EODHD API error: %s (status: %d, endpoint: %s)", e.Message, e.StatusCode, e.Endpoint)
}

// Temporary reports whether retrying the request may succeed.
func (e *APIError) Temporary() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

func retryable(err error) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Temporary()
	}
	var decodeErr *json.SyntaxError
	if errors.As(err, &decodeErr) {
		return false
	}
	return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
}

// get performs a rate-limited GET request, retrying transient failures
func (c *Client) get(ctx context.Context, path string, params url.Values, result interface{}) error {
	if c.apiKey == "" {
		return &APIError{StatusCode: http.StatusUnauthorized, Message: "api key not configured", Endpoint: path}
	}

	// Add API key
	if params == nil {
		params = url.Values{}
	}
	params.Set("api_token", c.apiKey)
	params.Set("fmt", "json")

	reqURL := fmt.Sprintf("%s%s?%s", c.baseURL, path, params.Encode())

	var body []byte
	err := retry.Do(
		func() error {
			// Wait for rate limiter
			if err := c.limiter.Wait(ctx); err != nil {
				return fmt.Errorf("rate limit wait: %w", err)
			}
			b, err := c.do(ctx, reqURL, path)
			if err != nil {
				return err
			}
			body = b
			return nil
		},
		retry.Attempts(c.retries+1),
		retry.Delay(c.retryDelay),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
		retry.RetryIf(retryable),
		retry.OnRetry(func(n uint, err error) {
			c.logger.Warn().Err(err).Uint("attempt", n+1).Str("endpoint", path).Msg("EODHD request retry")
		}),
		retry.Context(ctx),
	)
	if err != nil {
		return err
	}

	// Decoded once, from the successful attempt only
	if err := json.Unmarshal(body, result); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// do performs one request and returns the raw body of a 200 response.
// A truncated or malformed body is an error so the attempt is retried.
func (c *Client) do(ctx context.Context, reqURL, path string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	c.logger.Debug().Str("url", c.baseURL+path).Msg("EODHD API request")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, &APIError{
			StatusCode: resp.StatusCode,
			Message:    string(body),
			Endpoint:   path,
		}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if !json.Valid(body) {
		return nil, fmt.Errorf("invalid JSON response from %s", path)
	}
	return body, nil
}

// ticker converts a bare symbol into an EODHD exchange-qualified ticker.
func ticker(symbol string) string {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if strings.Contains(symbol, ".") {
		return symbol
	}
	return symbol + ".US"
}

// eodBarResponse represents the API response for EOD data
type eodBarResponse struct {
	Date          string       `json:"date"`
	Open          flexFloat64  `json:"open"`
	High          flexFloat64  `json:"high"`
	Low           flexFloat64  `json:"low"`
	Close         flexFloat64  `json:"close"`
	AdjustedClose *flexFloat64 `json:"adjusted_close"`
	Volume        flexFloat64  `json:"volume"`
}

// FetchDaily retrieves the most recent days end-of-day bars, newest first.
func (c *Client) FetchDaily(ctx context.Context, symbol string, days int) ([]models.EODBar, error) {
	if days <= 0 {
		return nil, nil
	}
	now := c.now().UTC()
	// Calendar span covering the trading days plus weekends and holidays.
	from := now.AddDate(0, 0, -(days*7/5 + 10))

	params := url.Values{}
	params.Set("period", "d")
	params.Set("order", "d") // descending (most recent first)
	params.Set("from", from.Format("2006-01-02"))
	params.Set("to", now.Format("2006-01-02"))

	path := fmt.Sprintf("/eod/%s", ticker(symbol))

	var bars []eodBarResponse
	if err := c.get(ctx, path, params, &bars); err != nil {
		return nil, err
	}

	result := make([]models.EODBar, 0, len(bars))
	for _, bar := range bars {
		date, err := time.Parse("2006-01-02", bar.Date)
		if err != nil {
			continue
		}
		b := models.EODBar{
			Date:   date,
			Open:   float64(bar.Open),
			High:   float64(bar.High),
			Low:    float64(bar.Low),
			Close:  float64(bar.Close),
			Volume: int64(bar.Volume),
		}
		if bar.AdjustedClose != nil {
			adj := float64(*bar.AdjustedClose)
			b.AdjClose = &adj
		}
		result = append(result, b)
	}
	models.SortBarsDesc(result)
	if len(result) > days {
		result = result[:days]
	}
	return result, nil
}

type newsSentiment struct {
	Polarity float64 `json:"polarity"`
	Neg      float64 `json:"neg"`
	Neu      float64 `json:"neu"`
	Pos      float64 `json:"pos"`
}

func (s newsSentiment) classify() string {
	if s.Polarity > 0.5 {
		return "positive"
	} else if s.Polarity < -0.5 {
		return "negative"
	}
	return "neutral"
}

type newsResponse struct {
	Date      string        `json:"date"`
	Title     string        `json:"title"`
	Content   string        `json:"content"`
	Link      string        `json:"link"`
	Source    string        `json:"source"`
	Sentiment newsSentiment `json:"sentiment"`
}

// FetchNews retrieves news for a symbol published within the last days days
func (c *Client) FetchNews(ctx context.Context, symbol string, days int) ([]models.NewsItem, error) {
	params := url.Values{}
	params.Set("s", ticker(symbol))
	params.Set("limit", "50")
	if days > 0 {
		params.Set("from", c.now().UTC().AddDate(0, 0, -days).Format("2006-01-02"))
	}

	var newsResp []newsResponse
	if err := c.get(ctx, "/news", params, &newsResp); err != nil {
		return nil, err
	}

	news := make([]models.NewsItem, 0, len(newsResp))
	for _, item := range newsResp {
		publishedAt, err := time.Parse(time.RFC3339, item.Date)
		if err != nil {
			publishedAt, _ = time.Parse("2006-01-02T15:04:05+00:00", item.Date)
		}
		news = append(news, models.NewsItem{
			Title:       item.Title,
			URL:         item.Link,
			Source:      item.Source,
			PublishedAt: publishedAt,
			Summary:     summarize(item.Content),
			Sentiment:   item.Sentiment.classify(),
			Polarity:    item.Sentiment.Polarity,
		})
	}

	return news, nil
}

func summarize(content string) string {
	content = strings.TrimSpace(content)
	if len(content) <= 280 {
		return content
	}
	return strings.TrimSpace(content[:280]) + "..."
}

// fundamentalsResponse represents the API response structure
type fundamentalsResponse struct {
	General struct {
		Code           string `json:"Code"`
		Name           string `json:"Name"`
		Type           string `json:"Type"` // "Common Stock", "ETF", etc.
		Exchange       string `json:"Exchange"`
		CurrencyCode   string `json:"CurrencyCode"`
		Sector         string `json:"Sector"`
		Industry       string `json:"Industry"`
		Description    string `json:"Description"`
		WebURL         string `json:"WebURL"`
		ISIN           string `json:"ISIN"`
		CountryISO     string `json:"CountryISO"`
		FiscalYearEnd  string `json:"FiscalYearEnd"`
		FullTimeEmploy int64  `json:"FullTimeEmployees"`
	} `json:"General"`
	Highlights struct {
		MarketCapitalization flexFloat64 `json:"MarketCapitalization"`
		PERatio              flexFloat64 `json:"PERatio"`
		PEGRatio             flexFloat64 `json:"PEGRatio"`
		EarningsShare        flexFloat64 `json:"EarningsShare"`
		DividendYield        flexFloat64 `json:"DividendYield"`
		ProfitMargin         flexFloat64 `json:"ProfitMargin"`
		ReturnOnEquityTTM    flexFloat64 `json:"ReturnOnEquityTTM"`
		RevenueTTM           flexFloat64 `json:"RevenueTTM"`
	} `json:"Highlights"`
	Valuation struct {
		PriceBookMRQ  flexFloat64 `json:"PriceBookMRQ"`
		PriceSalesTTM flexFloat64 `json:"PriceSalesTTM"`
		ForwardPE     flexFloat64 `json:"ForwardPE"`
	} `json:"Valuation"`
	SharesStats struct {
		SharesOutstanding flexFloat64 `json:"SharesOutstanding"`
		SharesFloat       flexFloat64 `json:"SharesFloat"`
	} `json:"SharesStats"`
	Technicals struct {
		Beta flexFloat64 `json:"Beta"`
	} `json:"Technicals"`
	Financials map[string]struct {
		CurrencySymbol string                            `json:"currency_symbol"`
		Yearly         map[string]map[string]interface{} `json:"yearly"`
		Quarterly      map[string]map[string]interface{} `json:"quarterly"`
	} `json:"Financials"`
}

// statementSections maps statement types to EODHD Financials sections.
var statementSections = map[string]string{
	models.StatementIncome:   "Income_Statement",
	models.StatementBalance:  "Balance_Sheet",
	models.StatementCashflow: "Cash_Flow",
}

// FetchFundamentals retrieves one statement type for a symbol
func (c *Client) FetchFundamentals(ctx context.Context, symbol, statement string) (*models.FundamentalsStatement, error) {
	path := fmt.Sprintf("/fundamentals/%s", ticker(symbol))

	var resp fundamentalsResponse
	if err := c.get(ctx, path, nil, &resp); err != nil {
		return nil, err
	}

	stmt := &models.FundamentalsStatement{
		Symbol:    strings.ToUpper(symbol),
		Statement: statement,
		Currency:  resp.General.CurrencyCode,
		Provider:  ProviderName,
		UpdatedAt: c.now().UTC(),
	}

	if statement == models.StatementOverview {
		stmt.Profile = map[string]string{
			"name":        resp.General.Name,
			"type":        resp.General.Type,
			"exchange":    resp.General.Exchange,
			"sector":      resp.General.Sector,
			"industry":    resp.General.Industry,
			"description": resp.General.Description,
			"web_url":     resp.General.WebURL,
			"isin":        resp.General.ISIN,
			"country_iso": resp.General.CountryISO,
		}
		for k, v := range stmt.Profile {
			if v == "" {
				delete(stmt.Profile, k)
			}
		}
		if len(stmt.Profile) == 0 {
			stmt.Profile = nil
		}
		values := map[string]float64{
			"market_cap":         float64(resp.Highlights.MarketCapitalization),
			"pe_ratio":           float64(resp.Highlights.PERatio),
			"peg_ratio":          float64(resp.Highlights.PEGRatio),
			"eps":                float64(resp.Highlights.EarningsShare),
			"dividend_yield":     float64(resp.Highlights.DividendYield),
			"profit_margin":      float64(resp.Highlights.ProfitMargin),
			"return_on_equity":   float64(resp.Highlights.ReturnOnEquityTTM),
			"revenue_ttm":        float64(resp.Highlights.RevenueTTM),
			"pb_ratio":           float64(resp.Valuation.PriceBookMRQ),
			"ps_ratio":           float64(resp.Valuation.PriceSalesTTM),
			"forward_pe":         float64(resp.Valuation.ForwardPE),
			"beta":               float64(resp.Technicals.Beta),
			"shares_outstanding": float64(resp.SharesStats.SharesOutstanding),
			"shares_float":       float64(resp.SharesStats.SharesFloat),
		}
		if stmt.Profile != nil || nonZero(values) {
			stmt.Periods = []models.FundamentalsPeriod{{
				Date:   c.now().UTC().Truncate(24 * time.Hour),
				Period: "current",
				Values: values,
			}}
		}
		return stmt, nil
	}

	section, ok := statementSections[statement]
	if !ok {
		return nil, fmt.Errorf("%w: unknown statement %q", common.ErrInvalidRequest, statement)
	}
	fin, ok := resp.Financials[section]
	if !ok {
		return stmt, nil
	}
	if fin.CurrencySymbol != "" {
		stmt.Currency = fin.CurrencySymbol
	}
	stmt.Periods = append(stmt.Periods, periods(fin.Yearly, "annual")...)
	stmt.Periods = append(stmt.Periods, periods(fin.Quarterly, "quarterly")...)
	sortPeriodsDesc(stmt.Periods)
	return stmt, nil
}

func periods(raw map[string]map[string]interface{}, kind string) []models.FundamentalsPeriod {
	out := make([]models.FundamentalsPeriod, 0, len(raw))
	for key, fields := range raw {
		date, err := time.Parse("2006-01-02", key)
		if err != nil {
			continue
		}
		values := make(map[string]float64, len(fields))
		for name, v := range fields {
			switch n := v.(type) {
			case float64:
				values[name] = n
			case string:
				if f, err := strconv.ParseFloat(n, 64); err == nil {
					values[name] = f
				}
			}
		}
		out = append(out, models.FundamentalsPeriod{Date: date, Period: kind, Values: values})
	}
	return out
}

func sortPeriodsDesc(p []models.FundamentalsPeriod) {
	sort.SliceStable(p, func(i, j int) bool { return p[i].Date.After(p[j].Date) })
}

func nonZero(values map[string]float64) bool {
	for _, v := range values {
		if v != 0 {
			return true
		}
	}
	return false
}

// Ensure Client implements the provider contracts
var (
	_ interfaces.DataProvider         = (*Client)(nil)
	_ interfaces.NewsProvider         = (*Client)(nil)
	_ interfaces.FundamentalsProvider = (*Client)(nil)
)
