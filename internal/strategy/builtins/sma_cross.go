// Package builtins provides built-in strategy implementations that ship
// with replaylab.
package builtins

import (
	"context"
	"math"

	"replaylab/internal/broker"
	"replaylab/internal/domain"
	"replaylab/internal/strategy"
)

// Compile-time interface check.
var _ strategy.Strategy = (*SMACross)(nil)

// SMACross is a simple moving average crossover strategy: buy when the
// short-period SMA crosses above the long-period SMA, flatten when it
// crosses below. It exists to exercise the engine end to end; the engine
// itself is agnostic to strategy logic.
type SMACross struct {
	shortPeriod int
	longPeriod  int
	closes      map[string][]float64
}

// NewSMACross creates an SMACross with the given short and long periods.
func NewSMACross(short, long int) *SMACross {
	return &SMACross{
		shortPeriod: short,
		longPeriod:  long,
		closes:      make(map[string][]float64),
	}
}

// Factory builds an SMACross from grid parameters "short" and "long",
// defaulting to 10/30.
func Factory(params strategy.Params) strategy.Strategy {
	short, long := 10, 30
	if v, ok := params["short"]; ok && v > 0 {
		short = int(v)
	}
	if v, ok := params["long"]; ok && v > 0 {
		long = int(v)
	}
	if long <= short {
		long = short + 1
	}
	return NewSMACross(short, long)
}

// Name returns "sma-cross".
func (s *SMACross) Name() string { return "sma-cross" }

// Init resets price history so the same instance could be re-run.
func (s *SMACross) Init(_ context.Context, _ broker.API) error {
	s.closes = make(map[string][]float64)
	return nil
}

// OnBar updates price history and trades the crossover.
func (s *SMACross) OnBar(ctx context.Context, api broker.API, bar domain.Bar) error {
	closes := append(s.closes[bar.Symbol], bar.Close)
	s.closes[bar.Symbol] = closes
	if len(closes) <= s.longPeriod {
		return nil
	}

	shortNow := sma(closes, s.shortPeriod, 0)
	longNow := sma(closes, s.longPeriod, 0)
	shortPrev := sma(closes, s.shortPeriod, 1)
	longPrev := sma(closes, s.longPeriod, 1)

	crossUp := shortPrev <= longPrev && shortNow > longNow
	crossDown := shortPrev >= longPrev && shortNow < longNow

	pos, err := api.GetPosition(ctx, bar.Symbol)
	if err != nil {
		return err
	}

	switch {
	case crossUp && pos.Qty == 0:
		acct, err := api.GetAccount(ctx)
		if err != nil {
			return err
		}
		qty := math.Floor(acct.Cash * 0.95 / bar.Close)
		if qty < 1 {
			return nil
		}
		_, err = api.SubmitOrder(ctx, domain.OrderRequest{
			Symbol:      bar.Symbol,
			Side:        domain.OrderSideBuy,
			Type:        domain.OrderTypeMarket,
			Qty:         qty,
			TimeInForce: domain.TimeInForceGTC,
		})
		return err

	case crossDown && pos.Qty > 0:
		_, err = api.SubmitOrder(ctx, domain.OrderRequest{
			Symbol:      bar.Symbol,
			Side:        domain.OrderSideSell,
			Type:        domain.OrderTypeMarket,
			Qty:         pos.Qty,
			TimeInForce: domain.TimeInForceGTC,
		})
		return err
	}
	return nil
}

// OnOrderUpdate is a no-op; the strategy reads positions fresh each bar.
func (s *SMACross) OnOrderUpdate(_ context.Context, _ broker.API, _ domain.OrderUpdate) error {
	return nil
}

// sma averages the last n closes, offset bars back from the end.
func sma(closes []float64, n, offset int) float64 {
	end := len(closes) - offset
	var sum float64
	for _, c := range closes[end-n : end] {
		sum += c
	}
	return sum / float64(n)
}
