// Package broker defines the capability interface shared by the live
// brokerage adapter and the replay engine, so strategy code is agnostic to
// which backend it runs against.
package broker

import (
	"context"
	"time"

	"replaylab/internal/domain"
)

// StatusFilter narrows ListOrders results.
type StatusFilter string

const (
	// StatusAll returns every order the broker knows about.
	StatusAll StatusFilter = ""
	// StatusOpen returns orders still working (new, partially_filled).
	StatusOpen StatusFilter = "open"
	// StatusClosed returns orders in a terminal state.
	StatusClosed StatusFilter = "closed"
)

// API abstracts market data, order management, and portfolio access. The
// replay engine and the live adapter both implement it; strategy code must
// not be able to distinguish the two.
type API interface {
	// Name returns the backend identifier (e.g. "alpaca", "replay").
	Name() string

	// GetBars returns OHLCV bars for symbol within [start, end]. A replay
	// backend only ever returns bars at or before its current clock.
	GetBars(ctx context.Context, symbol string, timeframe time.Duration, start, end time.Time) ([]domain.Bar, error)

	// GetLastQuote returns the most recent top-of-book quote for symbol.
	GetLastQuote(ctx context.Context, symbol string) (domain.Quote, error)

	// GetLastTrade returns the most recent trade print for symbol.
	GetLastTrade(ctx context.Context, symbol string) (domain.Trade, error)

	// SubmitOrder submits a new order. Validation failures surface as an
	// order with status rejected, not as an error, mirroring a live API's
	// asynchronous rejection semantics.
	SubmitOrder(ctx context.Context, req domain.OrderRequest) (*domain.Order, error)

	// CancelOrder cancels a working order. Unknown ids return an
	// *domain.OrderNotFoundError.
	CancelOrder(ctx context.Context, orderID string) error

	// GetOrder fetches an order by id.
	GetOrder(ctx context.Context, orderID string) (*domain.Order, error)

	// ListOrders returns orders matching the filter in submission order.
	ListOrders(ctx context.Context, filter StatusFilter) ([]domain.Order, error)

	// GetAccount returns a current account snapshot. Equity is always
	// marked to market at the latest known prices.
	GetAccount(ctx context.Context) (*domain.Account, error)

	// GetPosition returns the position for symbol. A flat symbol yields a
	// zero-quantity position, not an error.
	GetPosition(ctx context.Context, symbol string) (domain.Position, error)

	// ListPositions returns all non-flat positions.
	ListPositions(ctx context.Context) ([]domain.Position, error)
}
