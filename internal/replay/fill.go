// Package replay implements the deterministic historical replay engine: a
// bar feed, a pure fill model, a simulated broker implementing the broker
// API, and the single-threaded runner that drives a strategy over bars.
package replay

import (
	"replaylab/internal/domain"
)

// The fill model is a set of pure functions over (order, bar, params) so it
// can be property-tested independently of broker and runner state.

// SyntheticQuote derives a top-of-book quote from a bar when no historical
// quote is available. Mid is the bar close; the spread is
// max(spread_cents_min, spread_bps * mid / 10_000), split evenly around mid.
func SyntheticQuote(bar domain.Bar, p domain.ReplayParams) domain.Quote {
	mid := bar.Close
	spread := p.SpreadBps * mid / 10_000
	if spread < p.SpreadCentsMin {
		spread = p.SpreadCentsMin
	}
	return domain.Quote{
		Symbol:    bar.Symbol,
		Timestamp: bar.Timestamp,
		BidPrice:  mid - spread/2,
		AskPrice:  mid + spread/2,
		BidSize:   bar.Volume,
		AskSize:   bar.Volume,
	}
}

// FeeCost returns the fee for filling qty shares at price:
// commission_per_share * qty + fee_rate_bps * qty * price / 10_000.
func FeeCost(qty, price float64, p domain.ReplayParams) float64 {
	return p.CommissionPerShare*qty + p.FeeRateBps*qty*price/10_000
}

// MaxFillable returns the per-bar fill capacity: bar volume scaled by the
// participation rate.
func MaxFillable(bar domain.Bar, p domain.ReplayParams) float64 {
	return bar.Volume * p.ParticipationRate
}

// Fill is the outcome of evaluating one order against one bar. Clamped is
// set when the model price fell outside the bar's OHLC envelope and was
// pulled to the nearest bound; the envelope is ground truth, the spread
// model only advisory.
type Fill struct {
	Qty     float64
	Price   float64
	Clamped bool
}

// EvaluateFill decides whether an order can fill against a bar and by how
// much. It returns false when the order is not fillable on this bar. The
// caller must evaluate each order at most once per bar.
func EvaluateFill(o *domain.Order, bar domain.Bar, p domain.ReplayParams) (Fill, bool) {
	if o.Symbol != bar.Symbol {
		return Fill{}, false
	}
	remaining := o.Remaining()
	if remaining <= 0 {
		return Fill{}, false
	}
	capacity := MaxFillable(bar, p)
	if capacity <= 0 {
		return Fill{}, false
	}

	quote := SyntheticQuote(bar, p)
	touch := quote.AskPrice
	if o.Side == domain.OrderSideSell {
		touch = quote.BidPrice
	}

	var price float64
	switch o.Type {
	case domain.OrderTypeMarket:
		// Market orders always fill; price depends on policy.
		if p.FillPolicy == domain.FillPolicyMid {
			price = bar.Close
		} else {
			price = touch
		}

	case domain.OrderTypeLimit:
		if o.LimitPrice == nil {
			return Fill{}, false
		}
		limit := *o.LimitPrice
		// The bar's range must actually reach the limit.
		if o.Side == domain.OrderSideBuy && bar.Low > limit {
			return Fill{}, false
		}
		if o.Side == domain.OrderSideSell && bar.High < limit {
			return Fill{}, false
		}
		switch p.FillPolicy {
		case domain.FillPolicyMid:
			price = bar.Close
		case domain.FillPolicyLimit:
			price = limit
		default: // touch
			price = touch
		}
		// A limit order never fills through its limit.
		if o.Side == domain.OrderSideBuy && price > limit {
			price = limit
		}
		if o.Side == domain.OrderSideSell && price < limit {
			price = limit
		}

	default:
		return Fill{}, false
	}

	clamped := false
	if price < bar.Low {
		price = bar.Low
		clamped = true
	}
	if price > bar.High {
		price = bar.High
		clamped = true
	}

	qty := remaining
	if qty > capacity {
		qty = capacity
	}
	return Fill{Qty: qty, Price: price, Clamped: clamped}, true
}
