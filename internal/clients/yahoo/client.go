// Package yahoo provides a daily price adapter over the Yahoo Finance chart API
package yahoo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/avast/retry-go"
	"golang.org/x/time/rate"

	"github.com/bobmcallan/marketcache/internal/common"
	"github.com/bobmcallan/marketcache/internal/interfaces"
	"github.com/bobmcallan/marketcache/internal/models"
)

const (
	ProviderName     = "yahoo"
	DefaultBaseURL   = "https://query1.finance.yahoo.com"
	DefaultTimeout   = 10 * time.Second
	DefaultRateLimit = 2
	DefaultRetries   = 2
)

// Client fetches daily bars from the chart endpoint
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *common.Logger
	limiter    *rate.Limiter
	retries    uint
	retryDelay time.Duration
	symbolMap  map[string]string
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

// NewClient creates a new Yahoo chart client. No credentials are needed.
func NewClient(opts ...ClientOption) *Client {
	c := &Client{
		baseURL:    DefaultBaseURL,
		httpClient: &http.Client{Timeout: DefaultTimeout},
		logger:     common.NewSilentLogger(),
		limiter:    rate.NewLimiter(rate.Limit(DefaultRateLimit), DefaultRateLimit),
		retries:    DefaultRetries,
		retryDelay: 500 * time.Millisecond,
		symbolMap: map[string]string{
			"SPX":    "^GSPC",
			"SP500":  "^GSPC",
			"SPX500": "^GSPC",
			"NDX":    "^NDX",
			"DJI":    "^DJI",
			"VIX":    "^VIX",
		},
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

// StatusError is a non-200 chart response
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("yahoo: status %d, body: %s", e.StatusCode, e.Body)
}

func retryable(err error) bool {
	var se *StatusError
	if errors.As(err, &se) {
		return se.StatusCode == http.StatusTooManyRequests || se.StatusCode >= 500
	}
	return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
}

func (c *Client) yahooSymbol(symbol string) string {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if mapped, ok := c.symbolMap[symbol]; ok {
		return mapped
	}
	// EODHD-style US suffix is not a Yahoo ticker
	return strings.TrimSuffix(symbol, ".US")
}

// chartRange picks the smallest Yahoo range covering days trading days.
func chartRange(days int) string {
	switch {
	case days <= 20:
		return "1mo"
	case days <= 60:
		return "3mo"
	case days <= 125:
		return "6mo"
	case days <= 250:
		return "1y"
	case days <= 500:
		return "2y"
	case days <= 1250:
		return "5y"
	case days <= 2500:
		return "10y"
	}
	return "max"
}

// chartResponse is the response structure from the chart API
type chartResponse struct {
	Chart struct {
		Result []struct {
			Timestamp  []int64 `json:"timestamp"`
			Indicators struct {
				Quote []struct {
					Open   []interface{} `json:"open"`
					High   []interface{} `json:"high"`
					Low    []interface{} `json:"low"`
					Close  []interface{} `json:"close"`
					Volume []interface{} `json:"volume"`
				} `json:"quote"`
				AdjClose []struct {
					AdjClose []interface{} `json:"adjclose"`
				} `json:"adjclose"`
			} `json:"indicators"`
		} `json:"result"`
		Error *struct {
			Code        string `json:"code"`
			Description string `json:"description"`
		} `json:"error"`
	} `json:"chart"`
}

func at(values []interface{}, i int) (float64, bool) {
	if i >= len(values) || values[i] == nil {
		return 0, false
	}
	f, ok := values[i].(float64)
	return f, ok
}

// FetchDaily returns up to days daily bars, newest first. Null bars (holidays,
// halted sessions) are skipped.
func (c *Client) FetchDaily(ctx context.Context, symbol string, days int) ([]models.EODBar, error) {
	if days <= 0 {
		return nil, nil
	}

	path := fmt.Sprintf("/v8/finance/chart/%s", url.PathEscape(c.yahooSymbol(symbol)))
	params := url.Values{}
	params.Set("interval", "1d")
	params.Set("range", chartRange(days))
	reqURL := fmt.Sprintf("%s%s?%s", c.baseURL, path, params.Encode())

	var chart chartResponse
	err := retry.Do(
		func() error {
			if err := c.limiter.Wait(ctx); err != nil {
				return fmt.Errorf("rate limit wait: %w", err)
			}
			// fresh value per attempt; a failed decode may have filled fields
			var attempt chartResponse
			if err := c.get(ctx, reqURL, &attempt); err != nil {
				return err
			}
			chart = attempt
			return nil
		},
		retry.Attempts(c.retries+1),
		retry.Delay(c.retryDelay),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
		retry.RetryIf(retryable),
		retry.OnRetry(func(n uint, err error) {
			c.logger.Warn().Err(err).Uint("attempt", n+1).Str("symbol", symbol).Msg("Yahoo request retry")
		}),
		retry.Context(ctx),
	)
	if err != nil {
		return nil, err
	}

	if chart.Chart.Error != nil {
		return nil, fmt.Errorf("yahoo api error: %s", chart.Chart.Error.Description)
	}
	if len(chart.Chart.Result) == 0 || len(chart.Chart.Result[0].Indicators.Quote) == 0 {
		return nil, nil
	}

	result := chart.Chart.Result[0]
	quote := result.Indicators.Quote[0]
	var adj []interface{}
	if len(result.Indicators.AdjClose) > 0 {
		adj = result.Indicators.AdjClose[0].AdjClose
	}

	bars := make([]models.EODBar, 0, len(result.Timestamp))
	for i, ts := range result.Timestamp {
		closePx, ok := at(quote.Close, i)
		if !ok {
			continue
		}
		o, _ := at(quote.Open, i)
		h, _ := at(quote.High, i)
		l, _ := at(quote.Low, i)
		v, _ := at(quote.Volume, i)

		t := time.Unix(ts, 0).UTC()
		bar := models.EODBar{
			Date:   time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC),
			Open:   o,
			High:   h,
			Low:    l,
			Close:  closePx,
			Volume: int64(v),
		}
		if a, ok := at(adj, i); ok {
			bar.AdjClose = &a
		}
		bars = append(bars, bar)
	}

	models.SortBarsDesc(bars)
	if len(bars) > days {
		bars = bars[:days]
	}
	return bars, nil
}

func (c *Client) get(ctx context.Context, reqURL string, result interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", "Mozilla/5.0")

	c.logger.Debug().Str("url", reqURL).Msg("Yahoo chart request")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("yahoo fetch: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("yahoo read body: %w", err)
	}
	// The chart API reports unknown symbols as 404 with a JSON error body.
	if resp.StatusCode == http.StatusNotFound {
		if json.Unmarshal(body, result) == nil {
			return nil
		}
	}
	if resp.StatusCode != http.StatusOK {
		if len(body) > 512 {
			body = body[:512]
		}
		return &StatusError{StatusCode: resp.StatusCode, Body: string(body)}
	}

	if err := json.Unmarshal(body, result); err != nil {
		return fmt.Errorf("yahoo decode: %w", err)
	}
	return nil
}

var _ interfaces.DataProvider = (*Client)(nil)
