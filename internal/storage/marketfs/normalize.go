package marketfs

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/bobmcallan/marketcache/internal/models"
)

// DateColumns lists accepted date column names in priority order.
var DateColumns = []string{"date", "Date", "timestamp", "Timestamp", "datetime", "Datetime"}

var (
	openColumns     = []string{"open", "Open"}
	highColumns     = []string{"high", "High"}
	lowColumns      = []string{"low", "Low"}
	closeColumns    = []string{"close", "Close"}
	volumeColumns   = []string{"volume", "Volume"}
	adjCloseColumns = []string{"adjusted_close", "adj_close", "Adj Close", "adjClose"}
)

// errNoDateColumn is returned for tables without any accepted date column.
var errNoDateColumn = errors.New("no date column")

const dateLayout = "2006-01-02"

// tableFile is the on-disk shape of dated row families.
type tableFile struct {
	Symbol    string                   `json:"symbol"`
	Family    string                   `json:"family"`
	UpdatedAt time.Time                `json:"updated_at"`
	Columns   []string                 `json:"columns,omitempty"`
	Rows      []map[string]interface{} `json:"rows"`
}

// UnmarshalJSON accepts the wrapped object and a bare array of rows.
func (t *tableFile) UnmarshalJSON(data []byte) error {
	trimmed := strings.TrimSpace(string(data))
	if strings.HasPrefix(trimmed, "[") {
		var rows []map[string]interface{}
		if err := json.Unmarshal(data, &rows); err != nil {
			return err
		}
		t.Rows = rows
		return nil
	}
	type plain tableFile
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	*t = tableFile(p)
	return nil
}

// dateColumn picks the highest-priority date column present in the rows.
func dateColumn(rows []map[string]interface{}) (string, error) {
	if len(rows) == 0 {
		return DateColumns[0], nil
	}
	for _, col := range DateColumns {
		if _, ok := rows[0][col]; ok {
			return col, nil
		}
	}
	return "", errNoDateColumn
}

// parseDate accepts YYYY-MM-DD, RFC3339 and unix seconds or milliseconds.
func parseDate(v interface{}) (time.Time, error) {
	switch d := v.(type) {
	case string:
		s := strings.TrimSpace(d)
		if t, err := time.Parse(dateLayout, s); err == nil {
			return t, nil
		}
		if t, err := time.Parse(time.RFC3339, s); err == nil {
			return truncateDay(t), nil
		}
		if t, err := time.Parse("2006-01-02 15:04:05", s); err == nil {
			return truncateDay(t), nil
		}
		if n, err := strconv.ParseFloat(s, 64); err == nil {
			return parseDate(n)
		}
		return time.Time{}, fmt.Errorf("unparseable date %q", s)
	case float64:
		sec := int64(d)
		if math.Abs(d) >= 1e11 {
			sec = int64(d / 1000)
		}
		return truncateDay(time.Unix(sec, 0)), nil
	case json.Number:
		f, err := d.Float64()
		if err != nil {
			return time.Time{}, err
		}
		return parseDate(f)
	default:
		return time.Time{}, fmt.Errorf("unsupported date value %T", v)
	}
}

func truncateDay(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case string:
		if f, err := strconv.ParseFloat(strings.TrimSpace(n), 64); err == nil {
			return f, true
		}
	case json.Number:
		if f, err := n.Float64(); err == nil {
			return f, true
		}
	}
	return 0, false
}

func lookupFloat(row map[string]interface{}, cols []string) (float64, bool) {
	for _, c := range cols {
		if f, ok := toFloat(row[c]); ok {
			return f, true
		}
	}
	return 0, false
}

// normalizeBars converts raw table rows into bars sorted newest first.
// Rows with unparseable dates are an error; dates are never synthesised.
func normalizeBars(rows []map[string]interface{}) ([]models.EODBar, error) {
	col, err := dateColumn(rows)
	if err != nil {
		return nil, err
	}
	bars := make([]models.EODBar, 0, len(rows))
	for i, row := range rows {
		raw, ok := row[col]
		if !ok {
			return nil, fmt.Errorf("row %d: missing %s", i, col)
		}
		date, err := parseDate(raw)
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", i, err)
		}
		bar := models.EODBar{Date: date, Provenance: models.ProvenanceLocal}
		bar.Open, _ = lookupFloat(row, openColumns)
		bar.High, _ = lookupFloat(row, highColumns)
		bar.Low, _ = lookupFloat(row, lowColumns)
		bar.Close, _ = lookupFloat(row, closeColumns)
		if v, ok := lookupFloat(row, volumeColumns); ok {
			bar.Volume = int64(v)
		}
		if v, ok := lookupFloat(row, adjCloseColumns); ok {
			adj := v
			bar.AdjClose = &adj
		}
		if p, ok := row["provenance"].(string); ok && p != "" {
			bar.Provenance = p
		}
		bars = append(bars, bar)
	}
	models.SortBarsDesc(bars)
	return bars, nil
}

// barRows converts bars into the canonical on-disk row shape.
func barRows(bars []models.EODBar) []map[string]interface{} {
	rows := make([]map[string]interface{}, 0, len(bars))
	for _, b := range bars {
		row := map[string]interface{}{
			"date":   b.Day().Format(dateLayout),
			"open":   b.Open,
			"high":   b.High,
			"low":    b.Low,
			"close":  b.Close,
			"volume": b.Volume,
		}
		if b.AdjClose != nil {
			row["adjusted_close"] = *b.AdjClose
		}
		if b.Provenance != "" {
			row["provenance"] = b.Provenance
		}
		rows = append(rows, row)
	}
	return rows
}

// normalizeIndicatorRows converts raw rows into indicator rows; every numeric
// non-date column becomes a value.
func normalizeIndicatorRows(rows []map[string]interface{}) ([]models.IndicatorRow, error) {
	col, err := dateColumn(rows)
	if err != nil {
		return nil, err
	}
	out := make([]models.IndicatorRow, 0, len(rows))
	for i, row := range rows {
		date, err := parseDate(row[col])
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", i, err)
		}
		values := make(map[string]float64, len(row))
		for k, v := range row {
			if k == col {
				continue
			}
			if f, ok := toFloat(v); ok {
				values[k] = f
			}
		}
		out = append(out, models.IndicatorRow{Date: date, Values: values})
	}
	sortIndicatorRowsDesc(out)
	return out, nil
}

func indicatorRows(rows []models.IndicatorRow) []map[string]interface{} {
	out := make([]map[string]interface{}, 0, len(rows))
	for _, r := range rows {
		row := make(map[string]interface{}, len(r.Values)+1)
		for k, v := range r.Values {
			row[k] = v
		}
		row["date"] = truncateDay(r.Date).Format(dateLayout)
		out = append(out, row)
	}
	return out
}

func sortIndicatorRowsDesc(rows []models.IndicatorRow) {
	sort.SliceStable(rows, func(i, j int) bool {
		return rows[i].Date.After(rows[j].Date)
	})
}
