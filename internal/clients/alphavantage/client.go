// Package alphavantage provides an adapter for the Alpha Vantage query API
package alphavantage

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

const (
	ProviderName     = "alphavantage"
	DefaultBaseURL   = "https://www.alphavantage.co"
	DefaultTimeout   = 30 * time.Second
	DefaultRateLimit = 1
	DefaultRetries   = 1

	// compactSize is the row count of outputsize=compact.
	compactSize = 100
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

// WithClock overrides the clock used for news windows
func WithClock(now func() time.Time) ClientOption {
	return func(c *Client) {
		c.now = now
	}
}

// NewClient creates a new Alpha Vantage client
func NewClient(apiKey string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL:    DefaultBaseURL,
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: DefaultTimeout},
		logger:     common.NewSilentLogger(),
		limiter:    rate.NewLimiter(rate.Limit(DefaultRateLimit), DefaultRateLimit),
		retries:    DefaultRetries,
		retryDelay: time.Second,
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

// APIError is either a non-200 response or an in-band error message.
// Alpha Vantage reports throttling and bad symbols with HTTP 200.
type APIError struct {
	StatusCode int
	Function   string
	Message    string
	Throttled  bool
}

func (e *APIError) Error() string {
	return fmt.Sprintf("alphavantage %s: %s (status: %d)", e.Function, e.Message, e.StatusCode)
}

func retryable(err error) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode >= 500
	}
	return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
}

// envelope captures the in-band error keys present on every function.
type envelope struct {
	ErrorMessage string `json:"Error Message"`
	Note         string `json:"Note"`
	Information  string `json:"Information"`
}

func (c *Client) query(ctx context.Context, function string, params url.Values, result interface{}) error {
	if c.apiKey == "" {
		return &APIError{StatusCode: http.StatusUnauthorized, Function: function, Message: "api key not configured"}
	}
	if params == nil {
		params = url.Values{}
	}
	params.Set("function", function)
	params.Set("apikey", c.apiKey)
	reqURL := fmt.Sprintf("%s/query?%s", c.baseURL, params.Encode())

	var body []byte
	err := retry.Do(
		func() error {
			if err := c.limiter.Wait(ctx); err != nil {
				return fmt.Errorf("rate limit wait: %w", err)
			}
			b, err := c.do(ctx, function, reqURL)
			if err != nil {
				return err
			}
			body = b
			return nil
		},
		retry.Attempts(c.retries+1),
		retry.Delay(c.retryDelay),
		retry.LastErrorOnly(true),
		retry.RetryIf(retryable),
		retry.OnRetry(func(n uint, err error) {
			c.logger.Warn().Err(err).Uint("attempt", n+1).Str("function", function).Msg("Alpha Vantage request retry")
		}),
		retry.Context(ctx),
	)
	if err != nil {
		return err
	}

	if err := json.Unmarshal(body, result); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// do performs one request and returns the raw body once the in-band error
// envelope has been checked.
func (c *Client) do(ctx context.Context, function, reqURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	c.logger.Debug().Str("function", function).Msg("Alpha Vantage API request")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to execute request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		if len(body) > 512 {
			body = body[:512]
		}
		return nil, &APIError{StatusCode: resp.StatusCode, Function: function, Message: string(body)}
	}

	if !json.Valid(body) {
		return nil, fmt.Errorf("invalid JSON response for %s", function)
	}
	var env envelope
	if json.Unmarshal(body, &env) == nil {
		switch {
		case env.ErrorMessage != "":
			return nil, &APIError{StatusCode: resp.StatusCode, Function: function, Message: env.ErrorMessage}
		case env.Note != "":
			return nil, &APIError{StatusCode: resp.StatusCode, Function: function, Message: env.Note, Throttled: true}
		case env.Information != "":
			return nil, &APIError{StatusCode: resp.StatusCode, Function: function, Message: env.Information, Throttled: true}
		}
	}
	return body, nil
}

// number parses Alpha Vantage's string-encoded numerics ("None" and "-" are missing).
func number(s string) (float64, bool) {
	s = strings.TrimSpace(s)
	if s == "" || s == "None" || s == "-" {
		return 0, false
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	return f, true
}

type dailyResponse struct {
	TimeSeries map[string]map[string]string `json:"Time Series (Daily)"`
}

// FetchDaily retrieves TIME_SERIES_DAILY, newest first, truncated to days.
func (c *Client) FetchDaily(ctx context.Context, symbol string, days int) ([]models.EODBar, error) {
	if days <= 0 {
		return nil, nil
	}
	params := url.Values{}
	params.Set("symbol", strings.ToUpper(strings.TrimSpace(symbol)))
	if days > compactSize {
		params.Set("outputsize", "full")
	} else {
		params.Set("outputsize", "compact")
	}

	var resp dailyResponse
	if err := c.query(ctx, "TIME_SERIES_DAILY", params, &resp); err != nil {
		return nil, err
	}

	bars := make([]models.EODBar, 0, len(resp.TimeSeries))
	for day, fields := range resp.TimeSeries {
		date, err := time.Parse("2006-01-02", day)
		if err != nil {
			continue
		}
		closePx, ok := number(fields["4. close"])
		if !ok {
			continue
		}
		o, _ := number(fields["1. open"])
		h, _ := number(fields["2. high"])
		l, _ := number(fields["3. low"])
		v, _ := number(fields["5. volume"])
		bars = append(bars, models.EODBar{
			Date:   date,
			Open:   o,
			High:   h,
			Low:    l,
			Close:  closePx,
			Volume: int64(v),
		})
	}

	models.SortBarsDesc(bars)
	if len(bars) > days {
		bars = bars[:days]
	}
	return bars, nil
}

type newsResponse struct {
	Feed []struct {
		Title          string  `json:"title"`
		URL            string  `json:"url"`
		TimePublished  string  `json:"time_published"`
		Summary        string  `json:"summary"`
		Source         string  `json:"source"`
		SentimentScore float64 `json:"overall_sentiment_score"`
		SentimentLabel string  `json:"overall_sentiment_label"`
		TickerScores   []struct {
			Ticker string `json:"ticker"`
			Score  string `json:"ticker_sentiment_score"`
		} `json:"ticker_sentiment"`
	} `json:"feed"`
}

// classify maps a score onto positive/negative/neutral using the
// Somewhat-Bullish and Somewhat-Bearish boundaries.
func classify(score float64) string {
	switch {
	case score >= 0.15:
		return "positive"
	case score <= -0.15:
		return "negative"
	}
	return "neutral"
}

// FetchNews retrieves NEWS_SENTIMENT for a symbol. The ticker-specific score
// is preferred over the article's overall score.
func (c *Client) FetchNews(ctx context.Context, symbol string, days int) ([]models.NewsItem, error) {
	sym := strings.ToUpper(strings.TrimSpace(symbol))
	params := url.Values{}
	params.Set("tickers", sym)
	params.Set("limit", "50")
	params.Set("sort", "LATEST")
	if days > 0 {
		params.Set("time_from", c.now().UTC().AddDate(0, 0, -days).Format("20060102T1504"))
	}

	var resp newsResponse
	if err := c.query(ctx, "NEWS_SENTIMENT", params, &resp); err != nil {
		return nil, err
	}

	items := make([]models.NewsItem, 0, len(resp.Feed))
	for _, a := range resp.Feed {
		published, _ := time.Parse("20060102T150405", a.TimePublished)
		score := a.SentimentScore
		for _, ts := range a.TickerScores {
			if strings.EqualFold(ts.Ticker, sym) {
				if f, ok := number(ts.Score); ok {
					score = f
				}
				break
			}
		}
		items = append(items, models.NewsItem{
			Title:       a.Title,
			URL:         a.URL,
			Source:      a.Source,
			PublishedAt: published.UTC(),
			Summary:     a.Summary,
			Sentiment:   classify(score),
			Polarity:    score,
		})
	}
	return items, nil
}

var statementFunctions = map[string]string{
	models.StatementOverview: "OVERVIEW",
	models.StatementIncome:   "INCOME_STATEMENT",
	models.StatementBalance:  "BALANCE_SHEET",
	models.StatementCashflow: "CASH_FLOW",
}

// profileFields are the non-numeric OVERVIEW keys kept as profile text.
var profileFields = map[string]string{
	"Name":         "name",
	"AssetType":    "type",
	"Exchange":     "exchange",
	"Sector":       "sector",
	"Industry":     "industry",
	"Description":  "description",
	"Country":      "country",
	"OfficialSite": "web_url",
}

type reportsResponse struct {
	Symbol    string              `json:"symbol"`
	Annual    []map[string]string `json:"annualReports"`
	Quarterly []map[string]string `json:"quarterlyReports"`
}

// FetchFundamentals retrieves one statement type for a symbol
func (c *Client) FetchFundamentals(ctx context.Context, symbol, statement string) (*models.FundamentalsStatement, error) {
	function, ok := statementFunctions[statement]
	if !ok {
		return nil, fmt.Errorf("%w: unknown statement %q", common.ErrInvalidRequest, statement)
	}
	sym := strings.ToUpper(strings.TrimSpace(symbol))
	params := url.Values{}
	params.Set("symbol", sym)

	stmt := &models.FundamentalsStatement{
		Symbol:    sym,
		Statement: statement,
		Provider:  ProviderName,
		UpdatedAt: c.now().UTC(),
	}

	if statement == models.StatementOverview {
		var raw map[string]string
		if err := c.query(ctx, function, params, &raw); err != nil {
			return nil, err
		}
		if len(raw) == 0 {
			return stmt, nil
		}
		stmt.Currency = raw["Currency"]
		values := make(map[string]float64)
		for k, v := range raw {
			if name, ok := profileFields[k]; ok {
				if v != "" && v != "None" {
					if stmt.Profile == nil {
						stmt.Profile = make(map[string]string)
					}
					stmt.Profile[name] = v
				}
				continue
			}
			if f, ok := number(v); ok {
				values[k] = f
			}
		}
		period := models.FundamentalsPeriod{Period: "current", Values: values}
		if d, err := time.Parse("2006-01-02", raw["LatestQuarter"]); err == nil {
			period.Date = d
		}
		stmt.Periods = []models.FundamentalsPeriod{period}
		return stmt, nil
	}

	var resp reportsResponse
	if err := c.query(ctx, function, params, &resp); err != nil {
		return nil, err
	}
	stmt.Periods = append(stmt.Periods, reports(resp.Annual, "annual", &stmt.Currency)...)
	stmt.Periods = append(stmt.Periods, reports(resp.Quarterly, "quarterly", &stmt.Currency)...)
	sort.SliceStable(stmt.Periods, func(i, j int) bool {
		return stmt.Periods[i].Date.After(stmt.Periods[j].Date)
	})
	return stmt, nil
}

func reports(rows []map[string]string, kind string, currency *string) []models.FundamentalsPeriod {
	out := make([]models.FundamentalsPeriod, 0, len(rows))
	for _, row := range rows {
		date, err := time.Parse("2006-01-02", row["fiscalDateEnding"])
		if err != nil {
			continue
		}
		if *currency == "" {
			*currency = row["reportedCurrency"]
		}
		values := make(map[string]float64, len(row))
		for k, v := range row {
			if f, ok := number(v); ok {
				values[k] = f
			}
		}
		out = append(out, models.FundamentalsPeriod{Date: date, Period: kind, Values: values})
	}
	return out
}

var (
	_ interfaces.DataProvider         = (*Client)(nil)
	_ interfaces.NewsProvider         = (*Client)(nil)
	_ interfaces.FundamentalsProvider = (*Client)(nil)
)
