package signals

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/bobmcallan/marketcache/internal/common"
	"github.com/bobmcallan/marketcache/internal/models"
)

// input is a price series in ascending date order, split into columns.
type input struct {
	highs, lows, closes []float64
}

// Family describes one indicator family: its output columns and how many
// price rows are needed before the first row is fully defined.
type Family struct {
	Name     string
	Columns  []string
	Lookback int
	compute  func(in input) [][]float64
}

var catalogue = map[string]Family{
	"rsi": {
		Name: "rsi", Columns: []string{"rsi_14"}, Lookback: 15,
		compute: func(in input) [][]float64 {
			return [][]float64{RSI(in.closes, 14)}
		},
	},
	"macd": {
		Name: "macd", Columns: []string{"macd", "signal", "histogram"}, Lookback: 34,
		compute: func(in input) [][]float64 {
			line, signal, hist := MACD(in.closes, 12, 26, 9)
			return [][]float64{line, signal, hist}
		},
	},
	"bollinger": {
		Name: "bollinger", Columns: []string{"middle", "upper", "lower", "percent_b"}, Lookback: 20,
		compute: func(in input) [][]float64 {
			m, u, l, b := Bollinger(in.closes, 20, 2)
			return [][]float64{m, u, l, b}
		},
	},
	"sma": {
		Name: "sma", Columns: []string{"sma_5", "sma_10", "sma_20", "sma_50"}, Lookback: 50,
		compute: func(in input) [][]float64 {
			return [][]float64{SMA(in.closes, 5), SMA(in.closes, 10), SMA(in.closes, 20), SMA(in.closes, 50)}
		},
	},
	"ema": {
		Name: "ema", Columns: []string{"ema_12", "ema_26", "ema_50"}, Lookback: 50,
		compute: func(in input) [][]float64 {
			return [][]float64{EMA(in.closes, 12), EMA(in.closes, 26), EMA(in.closes, 50)}
		},
	},
	"stochastic": {
		Name: "stochastic", Columns: []string{"k", "d"}, Lookback: 16,
		compute: func(in input) [][]float64 {
			k, d := Stochastic(in.highs, in.lows, in.closes, 14, 3)
			return [][]float64{k, d}
		},
	},
	"williams_r": {
		Name: "williams_r", Columns: []string{"williams_r_14"}, Lookback: 14,
		compute: func(in input) [][]float64 {
			return [][]float64{WilliamsR(in.highs, in.lows, in.closes, 14)}
		},
	},
	"cci": {
		Name: "cci", Columns: []string{"cci_20"}, Lookback: 20,
		compute: func(in input) [][]float64 {
			return [][]float64{CCI(in.highs, in.lows, in.closes, 20)}
		},
	},
	"atr": {
		Name: "atr", Columns: []string{"atr_14"}, Lookback: 15,
		compute: func(in input) [][]float64 {
			return [][]float64{ATR(in.highs, in.lows, in.closes, 14)}
		},
	},
	"adx": {
		Name: "adx", Columns: []string{"adx", "plus_di", "minus_di"}, Lookback: 28,
		compute: func(in input) [][]float64 {
			adx, plus, minus := ADX(in.highs, in.lows, in.closes, 14)
			return [][]float64{adx, plus, minus}
		},
	},
}

// Lookup returns the family by name (case-insensitive).
func Lookup(name string) (Family, error) {
	f, ok := catalogue[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return Family{}, fmt.Errorf("%w: unknown indicator family %q", common.ErrInvalidRequest, name)
	}
	return f, nil
}

// Families lists the catalogue names in sorted order.
func Families() []string {
	names := make([]string, 0, len(catalogue))
	for name := range catalogue {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Compute derives the family's rows from bars (any order). Rows with any
// undefined column are dropped; the result is newest first.
func (f Family) Compute(bars []models.EODBar) []models.IndicatorRow {
	asc := models.CloneBars(bars)
	sort.SliceStable(asc, func(i, j int) bool { return asc[i].Date.Before(asc[j].Date) })

	in := input{
		highs:  make([]float64, len(asc)),
		lows:   make([]float64, len(asc)),
		closes: make([]float64, len(asc)),
	}
	for i, b := range asc {
		in.highs[i], in.lows[i], in.closes[i] = b.High, b.Low, b.Close
	}

	cols := f.compute(in)
	rows := make([]models.IndicatorRow, 0, len(asc))
	for i := len(asc) - 1; i >= 0; i-- {
		values := make(map[string]float64, len(f.Columns))
		defined := true
		for c, name := range f.Columns {
			v := cols[c][i]
			if math.IsNaN(v) || math.IsInf(v, 0) {
				defined = false
				break
			}
			values[name] = v
		}
		if defined {
			rows = append(rows, models.IndicatorRow{Date: asc[i].Day(), Values: values})
		}
	}
	return rows
}
