package alphavantage

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/bobmcallan/marketcache/internal/models"
)

func fixedClock() time.Time {
	return time.Date(2025, 3, 31, 12, 0, 0, 0, time.UTC)
}

func newTestServer(t *testing.T, wantFunction, body string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/query" {
			t.Errorf("path = %s, want /query", r.URL.Path)
		}
		if got := r.URL.Query().Get("function"); got != wantFunction {
			t.Errorf("function = %s, want %s", got, wantFunction)
		}
		if r.URL.Query().Get("apikey") != "test-key" {
			t.Errorf("apikey missing")
		}
		w.Write([]byte(body))
	}))
}

func TestFetchDaily(t *testing.T) {
	srv := newTestServer(t, "TIME_SERIES_DAILY", `{
		"Meta Data": {"2. Symbol": "IBM"},
		"Time Series (Daily)": {
			"2025-03-26": {"1. open": "240.1", "2. high": "243.0", "3. low": "239.5", "4. close": "242.0", "5. volume": "3100000"},
			"2025-03-28": {"1. open": "244.0", "2. high": "246.2", "3. low": "243.1", "4. close": "245.9", "5. volume": "2800000"},
			"2025-03-27": {"1. open": "242.0", "2. high": "244.5", "3. low": "241.8", "4. close": "None", "5. volume": "0"}
		}
	}`)
	defer srv.Close()

	client := NewClient("test-key", WithBaseURL(srv.URL))
	bars, err := client.FetchDaily(context.Background(), "ibm", 10)
	if err != nil {
		t.Fatalf("FetchDaily failed: %v", err)
	}
	if len(bars) != 2 {
		t.Fatalf("expected 2 bars (missing close skipped), got %d", len(bars))
	}
	if bars[0].Date.Format("2006-01-02") != "2025-03-28" {
		t.Errorf("bars[0] date = %s, want 2025-03-28", bars[0].Date.Format("2006-01-02"))
	}
	if bars[0].Close != 245.9 || bars[0].Volume != 2800000 {
		t.Errorf("unexpected bar: %+v", bars[0])
	}
}

func TestFetchDaily_OutputSize(t *testing.T) {
	var got string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.URL.Query().Get("outputsize")
		w.Write([]byte(`{"Time Series (Daily)": {}}`))
	}))
	defer srv.Close()

	client := NewClient("test-key", WithBaseURL(srv.URL), WithRateLimit(100))
	if _, err := client.FetchDaily(context.Background(), "IBM", 50); err != nil {
		t.Fatalf("FetchDaily failed: %v", err)
	}
	if got != "compact" {
		t.Errorf("outputsize = %s, want compact", got)
	}
	if _, err := client.FetchDaily(context.Background(), "IBM", 500); err != nil {
		t.Fatalf("FetchDaily failed: %v", err)
	}
	if got != "full" {
		t.Errorf("outputsize = %s, want full", got)
	}
}

func TestFetchDaily_InBandErrors(t *testing.T) {
	tests := []struct {
		name      string
		body      string
		throttled bool
	}{
		{"invalid symbol", `{"Error Message": "Invalid API call."}`, false},
		{"rate limit note", `{"Note": "Thank you for using Alpha Vantage! Our standard API call frequency is 5 calls per minute"}`, true},
		{"daily limit", `{"Information": "You have reached the daily limit"}`, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := newTestServer(t, "TIME_SERIES_DAILY", tt.body)
			defer srv.Close()

			client := NewClient("test-key", WithBaseURL(srv.URL), WithRetries(0, 0))
			_, err := client.FetchDaily(context.Background(), "IBM", 5)

			var apiErr *APIError
			if !errors.As(err, &apiErr) {
				t.Fatalf("expected APIError, got %v", err)
			}
			if apiErr.Throttled != tt.throttled {
				t.Errorf("throttled = %v, want %v", apiErr.Throttled, tt.throttled)
			}
		})
	}
}

func TestFetchNews(t *testing.T) {
	srv := newTestServer(t, "NEWS_SENTIMENT", `{
		"items": "2",
		"feed": [
			{
				"title": "IBM beats", "url": "https://x/1", "time_published": "20250328T143000",
				"summary": "Revenue up", "source": "Reuters",
				"overall_sentiment_score": 0.05,
				"ticker_sentiment": [
					{"ticker": "MSFT", "ticker_sentiment_score": "-0.4"},
					{"ticker": "IBM", "ticker_sentiment_score": "0.42"}
				]
			},
			{
				"title": "Sector slump", "url": "https://x/2", "time_published": "20250327T090000",
				"source": "Bloomberg", "overall_sentiment_score": -0.3, "ticker_sentiment": []
			}
		]
	}`)
	defer srv.Close()

	client := NewClient("test-key", WithBaseURL(srv.URL), WithClock(fixedClock))
	items, err := client.FetchNews(context.Background(), "IBM", 7)
	if err != nil {
		t.Fatalf("FetchNews failed: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("expected 2 items, got %d", len(items))
	}
	if items[0].Polarity != 0.42 || items[0].Sentiment != "positive" {
		t.Errorf("ticker score not preferred: %+v", items[0])
	}
	if items[1].Sentiment != "negative" {
		t.Errorf("items[1] sentiment = %s, want negative", items[1].Sentiment)
	}
	want := time.Date(2025, 3, 28, 14, 30, 0, 0, time.UTC)
	if !items[0].PublishedAt.Equal(want) {
		t.Errorf("published = %s, want %s", items[0].PublishedAt, want)
	}
}

func TestFetchFundamentals_Overview(t *testing.T) {
	srv := newTestServer(t, "OVERVIEW", `{
		"Symbol": "IBM", "Name": "International Business Machines", "AssetType": "Common Stock",
		"Sector": "TECHNOLOGY", "Industry": "None", "Currency": "USD",
		"MarketCapitalization": "227000000000", "PERatio": "36.2", "PEGRatio": "None",
		"LatestQuarter": "2024-12-31"
	}`)
	defer srv.Close()

	client := NewClient("test-key", WithBaseURL(srv.URL), WithClock(fixedClock))
	stmt, err := client.FetchFundamentals(context.Background(), "IBM", models.StatementOverview)
	if err != nil {
		t.Fatalf("FetchFundamentals failed: %v", err)
	}
	if stmt.Currency != "USD" {
		t.Errorf("currency = %s", stmt.Currency)
	}
	if stmt.Profile["name"] != "International Business Machines" {
		t.Errorf("name = %q", stmt.Profile["name"])
	}
	if _, ok := stmt.Profile["industry"]; ok {
		t.Error("None profile values should be dropped")
	}
	if len(stmt.Periods) != 1 {
		t.Fatalf("expected 1 period, got %d", len(stmt.Periods))
	}
	p := stmt.Periods[0]
	if p.Values["PERatio"] != 36.2 {
		t.Errorf("PERatio = %v", p.Values["PERatio"])
	}
	if _, ok := p.Values["PEGRatio"]; ok {
		t.Error("None numeric values should be skipped")
	}
	if p.Date.Format("2006-01-02") != "2024-12-31" {
		t.Errorf("period date = %s", p.Date)
	}
}

func TestFetchFundamentals_Balance(t *testing.T) {
	srv := newTestServer(t, "BALANCE_SHEET", `{
		"symbol": "IBM",
		"annualReports": [
			{"fiscalDateEnding": "2023-12-31", "reportedCurrency": "USD", "totalAssets": "135241000000"},
			{"fiscalDateEnding": "2024-12-31", "reportedCurrency": "USD", "totalAssets": "137175000000"}
		],
		"quarterlyReports": [
			{"fiscalDateEnding": "2025-03-31", "reportedCurrency": "USD", "totalAssets": "145667000000", "goodwill": "None"}
		]
	}`)
	defer srv.Close()

	client := NewClient("test-key", WithBaseURL(srv.URL))
	stmt, err := client.FetchFundamentals(context.Background(), "IBM", models.StatementBalance)
	if err != nil {
		t.Fatalf("FetchFundamentals failed: %v", err)
	}
	if len(stmt.Periods) != 3 {
		t.Fatalf("expected 3 periods, got %d", len(stmt.Periods))
	}
	if stmt.Periods[0].Period != "quarterly" {
		t.Errorf("periods[0] = %s, want quarterly", stmt.Periods[0].Period)
	}
	if stmt.Periods[1].Values["totalAssets"] != 137175000000 {
		t.Errorf("totalAssets = %v", stmt.Periods[1].Values["totalAssets"])
	}
	if stmt.Currency != "USD" {
		t.Errorf("currency = %s", stmt.Currency)
	}
}

func TestFetchFundamentals_UnknownStatement(t *testing.T) {
	client := NewClient("test-key")
	if _, err := client.FetchFundamentals(context.Background(), "IBM", "dividends"); err == nil {
		t.Fatal("expected error for unknown statement")
	}
}

func TestNumber(t *testing.T) {
	tests := []struct {
		in   string
		want float64
		ok   bool
	}{
		{"12.5", 12.5, true},
		{" 3 ", 3, true},
		{"None", 0, false},
		{"-", 0, false},
		{"", 0, false},
		{"abc", 0, false},
	}
	for _, tt := range tests {
		got, ok := number(tt.in)
		if got != tt.want || ok != tt.ok {
			t.Errorf("number(%q) = %v, %v; want %v, %v", tt.in, got, ok, tt.want, tt.ok)
		}
	}
}
