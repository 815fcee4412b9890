// Package store persists and retrieves bar datasets and walk-forward
// results. Storage only happens before a replay starts and after it ends;
// runs themselves never touch I/O.
package store

import (
	"context"
	"time"

	"replaylab/internal/domain"
)

// BarStore persists and retrieves OHLCV bar data.
type BarStore interface {
	// WriteBars persists a batch of bars.
	WriteBars(ctx context.Context, bars []domain.Bar) error

	// ReadBars returns bars for the given symbol within [start, end].
	ReadBars(ctx context.Context, symbol string, start, end time.Time) ([]domain.Bar, error)

	// ListSymbols returns all distinct symbols available.
	ListSymbols(ctx context.Context) ([]string, error)
}

// RunRecord identifies one walk-forward (or plain replay) invocation.
type RunRecord struct {
	ID        string
	CreatedAt time.Time
	Strategy  string
	Config    string // serialized run configuration, for reproducibility
}

// WindowRecord is the persisted per-window outcome.
type WindowRecord struct {
	RunID          string
	Index          int
	Params         string // serialized winning parameter set, empty if none qualified
	ISExpectancy   float64
	ISNetPnL       float64
	OOSExpectancy  float64
	OOSNetPnL      float64
	OOSMaxDrawdown float64
	OOSTrades      int
}

// ResultStore persists walk-forward outcomes.
type ResultStore interface {
	// SaveRun inserts the run header.
	SaveRun(ctx context.Context, run RunRecord) error

	// SaveWindow inserts one window outcome.
	SaveWindow(ctx context.Context, w WindowRecord) error

	// SaveTrades inserts the out-of-sample trades for one window.
	SaveTrades(ctx context.Context, runID string, windowIdx int, trades []domain.TradeRecord) error

	// ListWindows returns a run's window records ordered by index.
	ListWindows(ctx context.Context, runID string) ([]WindowRecord, error)

	// Close releases the underlying storage.
	Close() error
}
