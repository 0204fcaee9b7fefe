package models

import "time"

// IndicatorRow holds one day's values for an indicator family.
type IndicatorRow struct {
	Date   time.Time          `json:"date"`
	Values map[string]float64 `json:"values"`
}

// IndicatorSeries holds computed indicator rows for one symbol, newest first.
type IndicatorSeries struct {
	Symbol    string         `json:"symbol"`
	Family    string         `json:"family"`
	Columns   []string       `json:"columns"`
	Rows      []IndicatorRow `json:"rows"`
	Source    string         `json:"source"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// NewsItem represents a news article
type NewsItem struct {
	Title       string    `json:"title"`
	URL         string    `json:"url"`
	Source      string    `json:"source"`
	PublishedAt time.Time `json:"published_at"`
	Summary     string    `json:"summary,omitempty"`
	Sentiment   string    `json:"sentiment,omitempty"` // positive, negative, neutral
	Polarity    float64   `json:"polarity"`
}

// NewsSentiment aggregates article sentiment over a feed.
type NewsSentiment struct {
	Score    float64 `json:"score"` // mean polarity, -1..1
	Label    string  `json:"label"`
	Positive int     `json:"positive"`
	Negative int     `json:"negative"`
	Neutral  int     `json:"neutral"`
}

// NewsFeed holds recent articles for a symbol with aggregate sentiment.
type NewsFeed struct {
	Symbol    string        `json:"symbol"`
	Articles  []NewsItem    `json:"articles"`
	Sentiment NewsSentiment `json:"sentiment"`
	Provider  string        `json:"provider,omitempty"`
	Source    string        `json:"source"`
	Stale     bool          `json:"stale,omitempty"`
	UpdatedAt time.Time     `json:"updated_at"`
}

// Fundamentals statement types.
const (
	StatementOverview = "overview"
	StatementIncome   = "income"
	StatementBalance  = "balance"
	StatementCashflow = "cashflow"
)

// StatementTypes lists every supported fundamentals statement.
var StatementTypes = []string{StatementOverview, StatementIncome, StatementBalance, StatementCashflow}

// FundamentalsPeriod is one reporting period of a statement.
type FundamentalsPeriod struct {
	Date   time.Time          `json:"date"`
	Period string             `json:"period"` // annual, quarterly, or current for overview
	Values map[string]float64 `json:"values"`
}

// FundamentalsStatement holds one statement type for a symbol, newest period first.
type FundamentalsStatement struct {
	Symbol    string               `json:"symbol"`
	Statement string               `json:"statement"`
	Currency  string               `json:"currency,omitempty"`
	Profile   map[string]string    `json:"profile,omitempty"` // descriptive overview fields
	Periods   []FundamentalsPeriod `json:"periods"`
	Provider  string               `json:"provider,omitempty"`
	Source    string               `json:"source"`
	Stale     bool                 `json:"stale,omitempty"`
	UpdatedAt time.Time            `json:"updated_at"`
}
