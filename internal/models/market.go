// Package models defines data structures for marketcache
package models

import (
	"sort"
	"time"
)

// Provenance tags stamped on every bar.
const (
	ProvenanceLocal = "local"
	ProvenanceAPI   = "api"
)

// Source tags reported for every served request.
const (
	SourceCache        = "cache"
	SourceLocal        = "local"
	SourceLocalAPI     = "local+api"
	SourceLocalPartial = "local_partial"
	SourceAPI          = "api"
)

// EODBar represents a single day's price data
type EODBar struct {
	Date       time.Time `json:"date"`
	Open       float64   `json:"open"`
	High       float64   `json:"high"`
	Low        float64   `json:"low"`
	Close      float64   `json:"close"`
	AdjClose   *float64  `json:"adjusted_close,omitempty"`
	Volume     int64     `json:"volume"`
	Provenance string    `json:"provenance,omitempty"` // local or api; observability only
}

// Day returns the bar's calendar date at UTC midnight; bars are keyed by it.
func (b EODBar) Day() time.Time {
	y, m, d := b.Date.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// Series holds the daily bars of one symbol, newest first.
type Series struct {
	Symbol string   `json:"symbol"`
	Bars   []EODBar `json:"bars"`
}

// Len returns the number of bars.
func (s *Series) Len() int {
	if s == nil {
		return 0
	}
	return len(s.Bars)
}

// Clone returns a deep copy; callers never share bar slices.
func (s *Series) Clone() *Series {
	if s == nil {
		return nil
	}
	return &Series{Symbol: s.Symbol, Bars: CloneBars(s.Bars)}
}

// Latest returns a copy holding at most the n most recent bars.
func (s *Series) Latest(n int) *Series {
	if s == nil {
		return nil
	}
	bars := s.Bars
	if n >= 0 && len(bars) > n {
		bars = bars[:n]
	}
	return &Series{Symbol: s.Symbol, Bars: CloneBars(bars)}
}

// CloneBars copies a bar slice including adjusted-close pointers.
func CloneBars(bars []EODBar) []EODBar {
	if bars == nil {
		return nil
	}
	out := make([]EODBar, len(bars))
	copy(out, bars)
	for i := range out {
		if out[i].AdjClose != nil {
			v := *out[i].AdjClose
			out[i].AdjClose = &v
		}
	}
	return out
}

// SortBarsDesc orders bars newest first in place.
func SortBarsDesc(bars []EODBar) {
	sort.SliceStable(bars, func(i, j int) bool {
		return bars[i].Date.After(bars[j].Date)
	})
}

// PriceHistory is the result of a stock data request.
type PriceHistory struct {
	Symbol    string   `json:"symbol"`
	Requested int      `json:"requested_days"`
	Source    string   `json:"source"`
	Partial   bool     `json:"partial"`
	Bars      []EODBar `json:"bars"`
}

// Rows returns the number of bars served.
func (p *PriceHistory) Rows() int {
	if p == nil {
		return 0
	}
	return len(p.Bars)
}
