// Package report writes run artifacts (metrics summaries, trades, equity
// curves) as deterministic JSON and CSV files.
package report

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"replaylab/internal/domain"
)

// EnsureDir creates the directory (and parents) if it does not exist.
func EnsureDir(path string) error {
	return os.MkdirAll(path, 0o755)
}

// WriteJSON writes obj to path as indented JSON with a trailing newline.
func WriteJSON(path string, obj any) error {
	data, err := json.MarshalIndent(obj, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, append(data, '\n'), 0o644)
}

// WriteTradesCSV writes closed round-trip trades to a CSV file.
func WriteTradesCSV(path string, trades []domain.TradeRecord) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	if _, err := fmt.Fprintln(f, "symbol,entry_time,exit_time,qty,entry_price,exit_price,fees,pnl"); err != nil {
		return err
	}
	for _, t := range trades {
		_, err := fmt.Fprintf(f, "%s,%s,%s,%s,%s,%s,%s,%s\n",
			t.Symbol,
			t.EntryTime.UTC().Format(time.RFC3339),
			t.ExitTime.UTC().Format(time.RFC3339),
			formatFloat(t.Qty),
			formatFloat(t.EntryPrice),
			formatFloat(t.ExitPrice),
			formatFloat(t.Fees),
			formatFloat(t.PnL))
		if err != nil {
			return err
		}
	}
	return nil
}

// WriteEquityCSV writes the per-bar equity curve to a CSV file.
func WriteEquityCSV(path string, points []domain.EquityPoint) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	if _, err := fmt.Fprintln(f, "timestamp,equity,cash,in_trade"); err != nil {
		return err
	}
	for _, p := range points {
		_, err := fmt.Fprintf(f, "%s,%s,%s,%t\n",
			p.Timestamp.UTC().Format(time.RFC3339),
			formatFloat(p.Equity),
			formatFloat(p.Cash),
			p.InTrade)
		if err != nil {
			return err
		}
	}
	return nil
}

// WriteRunDir writes the standard artifact set for one replay result under
// dir: summary.json, trades.csv and equity.csv.
func WriteRunDir(dir string, summary any, trades []domain.TradeRecord, equity []domain.EquityPoint) error {
	if err := EnsureDir(dir); err != nil {
		return err
	}
	if err := WriteJSON(filepath.Join(dir, "summary.json"), summary); err != nil {
		return err
	}
	if err := WriteTradesCSV(filepath.Join(dir, "trades.csv"), trades); err != nil {
		return err
	}
	return WriteEquityCSV(filepath.Join(dir, "equity.csv"), equity)
}

// formatFloat renders floats with the shortest exact representation so the
// same result always produces byte-identical files.
func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}
