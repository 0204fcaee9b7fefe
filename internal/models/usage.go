package models

import "time"

// ProviderStats counts calls made to one external provider.
type ProviderStats struct {
	Calls          int64     `json:"calls"`
	Successes      int64     `json:"successes"`
	Failures       int64     `json:"failures"`
	TotalLatencyMs float64   `json:"total_latency_ms"`
	LastError      string    `json:"last_error,omitempty"`
	LastCall       time.Time `json:"last_call"`
}

// SymbolStats tracks served requests for one symbol.
type SymbolStats struct {
	Requests      int64            `json:"requests"`
	DaysRequested int64            `json:"days_requested"` // cumulative
	LastDays      int              `json:"last_days"`
	Sources       map[string]int64 `json:"sources"`
	Providers     map[string]int64 `json:"providers"`
	AvgLatencyMs  float64          `json:"avg_latency_ms"` // incremental mean
	LastRequest   time.Time        `json:"last_request"`
}

// ErrorEntry is one record in the capped error log.
type ErrorEntry struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Kind      string    `json:"kind"`
	Message   string    `json:"message"`
	Symbol    string    `json:"symbol,omitempty"`
}

// UsageStats is the persisted usage ledger.
type UsageStats struct {
	Providers   map[string]*ProviderStats `json:"providers"`
	Symbols     map[string]*SymbolStats   `json:"symbols"`
	CacheHits   int64                     `json:"cache_hits"`
	CacheMisses int64                     `json:"cache_misses"`
	Errors      []ErrorEntry              `json:"errors"` // oldest first
	StartedAt   time.Time                 `json:"started_at"`
	UpdatedAt   time.Time                 `json:"updated_at"`
}

// ProviderReport is the derived view of one provider's counters.
type ProviderReport struct {
	Calls        int64   `json:"calls"`
	Successes    int64   `json:"successes"`
	Failures     int64   `json:"failures"`
	SuccessRate  float64 `json:"success_rate"`
	AvgLatencyMs float64 `json:"avg_latency_ms"`
	LastError    string  `json:"last_error,omitempty"`
}

// SymbolUsage is one entry of the most-requested ranking.
type SymbolUsage struct {
	Symbol       string  `json:"symbol"`
	Requests     int64   `json:"requests"`
	AvgLatencyMs float64 `json:"avg_latency_ms"`
}

// UsageReport is derived from UsageStats on demand.
type UsageReport struct {
	GeneratedAt  time.Time                 `json:"generated_at"`
	Providers    map[string]ProviderReport `json:"providers"`
	CacheHits    int64                     `json:"cache_hits"`
	CacheMisses  int64                     `json:"cache_misses"`
	CacheHitRate float64                   `json:"cache_hit_rate"`
	TopSymbols   []SymbolUsage             `json:"top_symbols"`
	RecentErrors []ErrorEntry              `json:"recent_errors"` // newest first
	Storage      *StorageStats             `json:"storage,omitempty"`
}
