package store

import (
	"encoding/csv"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"replaylab/internal/domain"
)

// csvTimeLayouts are tried in order when parsing the timestamp column.
var csvTimeLayouts = []string{
	time.RFC3339,
	"2006-01-02 15:04:05Z07:00",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// LoadCSVBars reads bars for one symbol from a CSV file. Column names are
// matched case-insensitively; a timestamp (or time/date) column and a close
// column are required, and missing open/high/low fall back to close.
// Timestamps without a zone are taken as UTC. Bars come back sorted by
// timestamp.
func LoadCSVBars(path, symbol string) ([]domain.Bar, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.TrimLeadingSpace = true
	rows, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	if len(rows) < 2 {
		return nil, fmt.Errorf("%s: no data rows", path)
	}

	col := make(map[string]int)
	for i, name := range rows[0] {
		col[strings.ToLower(strings.TrimSpace(name))] = i
	}
	tsIdx, ok := firstOf(col, "timestamp", "time", "date")
	if !ok {
		return nil, fmt.Errorf("%s: no timestamp column", path)
	}
	closeIdx, ok := col["close"]
	if !ok {
		return nil, fmt.Errorf("%s: no close column", path)
	}

	bars := make([]domain.Bar, 0, len(rows)-1)
	for _, row := range rows[1:] {
		ts, err := parseCSVTime(row[tsIdx])
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		closeP, err := strconv.ParseFloat(row[closeIdx], 64)
		if err != nil {
			return nil, fmt.Errorf("%s: bad close %q", path, row[closeIdx])
		}

		b := domain.Bar{
			Symbol:    symbol,
			Timestamp: ts,
			Open:      floatCol(row, col, "open", closeP),
			High:      floatCol(row, col, "high", closeP),
			Low:       floatCol(row, col, "low", closeP),
			Close:     closeP,
			Volume:    floatCol(row, col, "volume", 0),
		}
		bars = append(bars, b)
	}

	sort.Slice(bars, func(i, j int) bool { return bars[i].Timestamp.Before(bars[j].Timestamp) })
	return bars, nil
}

func firstOf(col map[string]int, names ...string) (int, bool) {
	for _, n := range names {
		if i, ok := col[n]; ok {
			return i, true
		}
	}
	return 0, false
}

func floatCol(row []string, col map[string]int, name string, fallback float64) float64 {
	i, ok := col[name]
	if !ok || i >= len(row) || row[i] == "" {
		return fallback
	}
	v, err := strconv.ParseFloat(row[i], 64)
	if err != nil {
		return fallback
	}
	return v
}

func parseCSVTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range csvTimeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unparseable timestamp %q", s)
}
