// Package domain defines the value types shared across the replay engine:
// bars, quotes, trades, orders, positions, accounts, and the replay
// parameter set.
package domain

import "time"

// ---------------------------------------------------------------------------
// Enumerations
// ---------------------------------------------------------------------------

// OrderSide is the direction of an order.
type OrderSide string

const (
	OrderSideBuy  OrderSide = "buy"
	OrderSideSell OrderSide = "sell"
)

// OrderType is the execution type of an order.
type OrderType string

const (
	OrderTypeMarket OrderType = "market"
	OrderTypeLimit  OrderType = "limit"
)

// TimeInForce controls how long an order remains working.
type TimeInForce string

const (
	TimeInForceDay TimeInForce = "day"
	TimeInForceGTC TimeInForce = "gtc"
)

// OrderStatus is the order lifecycle state. Valid transitions:
//
//	new → partially_filled → partially_filled | filled | canceled
//	new → filled | canceled | rejected
//
// filled, canceled, and rejected are terminal; a terminal order is never
// mutated again.
type OrderStatus string

const (
	OrderStatusNew             OrderStatus = "new"
	OrderStatusPartiallyFilled OrderStatus = "partially_filled"
	OrderStatusFilled          OrderStatus = "filled"
	OrderStatusCanceled        OrderStatus = "canceled"
	OrderStatusRejected        OrderStatus = "rejected"
)

// Terminal reports whether the status is a terminal lifecycle state.
func (s OrderStatus) Terminal() bool {
	switch s {
	case OrderStatusFilled, OrderStatusCanceled, OrderStatusRejected:
		return true
	case OrderStatusNew, OrderStatusPartiallyFilled:
		return false
	}
	return false
}

// Open reports whether the order is still working.
func (s OrderStatus) Open() bool { return !s.Terminal() }

// OrderEvent names an order update delivered to a strategy. The values match
// the event strings live broker streams emit, so strategy code cannot tell
// replay from live.
type OrderEvent string

const (
	OrderEventFill        OrderEvent = "fill"
	OrderEventPartialFill OrderEvent = "partial_fill"
	OrderEventCanceled    OrderEvent = "canceled"
	OrderEventRejected    OrderEvent = "rejected"
)

// FillPolicy selects the price applied to simulated fills.
type FillPolicy string

const (
	// FillPolicyTouch fills buys at the synthetic ask and sells at the
	// synthetic bid. This is the default.
	FillPolicyTouch FillPolicy = "touch"
	// FillPolicyMid fills at the bar close (the synthetic mid).
	FillPolicyMid FillPolicy = "mid"
	// FillPolicyLimit fills limit orders at their limit price when
	// marketable; market orders fall back to the touch price.
	FillPolicyLimit FillPolicy = "limit"
)

// ---------------------------------------------------------------------------
// Market data
// ---------------------------------------------------------------------------

// Bar is a time-bucketed OHLCV bar. Timestamp is the bar close time and must
// be timezone-aware. Bars are immutable once produced. TradeCount and VWAP
// are carried through from data sources that supply them; the replay core
// does not depend on either.
type Bar struct {
	Symbol     string
	Timestamp  time.Time
	Open       float64
	High       float64
	Low        float64
	Close      float64
	Volume     float64
	TradeCount int64
	VWAP       float64
}

// Quote is a top-of-book quote, real or synthesized from a bar.
type Quote struct {
	Symbol    string
	Timestamp time.Time
	BidPrice  float64
	AskPrice  float64
	BidSize   float64
	AskSize   float64
}

// Trade is a last-trade print.
type Trade struct {
	Symbol    string
	Timestamp time.Time
	Price     float64
	Size      float64
	Exchange  string
	ID        string
}

// ---------------------------------------------------------------------------
// Orders, positions, account
// ---------------------------------------------------------------------------

// OrderRequest is the caller-supplied portion of an order submission.
type OrderRequest struct {
	Symbol      string
	Side        OrderSide
	Type        OrderType
	Qty         float64
	TimeInForce TimeInForce
	LimitPrice  *float64
}

// Order is a broker order. FilledAvgPrice is the quantity-weighted average
// across all partial fills and is meaningful only when FilledQty > 0.
// ActivationBar is the bar index at which the order first becomes eligible
// to fill; it is only set by the simulated broker.
type Order struct {
	ID             string
	Symbol         string
	Side           OrderSide
	Type           OrderType
	TimeInForce    TimeInForce
	Qty            float64
	LimitPrice     *float64
	Status         OrderStatus
	FilledQty      float64
	FilledAvgPrice float64
	SubmittedAt    time.Time
	ActivationBar  int
}

// Remaining returns the unfilled quantity.
func (o *Order) Remaining() float64 { return o.Qty - o.FilledQty }

// OrderUpdate is delivered to a strategy when an order changes state.
type OrderUpdate struct {
	Event     OrderEvent
	Order     Order
	FillQty   float64
	FillPrice float64
	Timestamp time.Time
}

// Position is a signed holding in one symbol. Qty > 0 is long, Qty < 0 is
// short. A position whose quantity reaches zero is removed rather than kept
// as a zero record.
type Position struct {
	Symbol        string
	Qty           float64
	AvgEntryPrice float64
}

// Account is a point-in-time account snapshot. Equity is always recomputed
// as cash plus mark-to-market of all positions at the current bar close.
type Account struct {
	Cash        float64
	Equity      float64
	BuyingPower float64
}

// ---------------------------------------------------------------------------
// Replay output records
// ---------------------------------------------------------------------------

// TradeRecord is one closed round trip. Qty is signed: positive for long
// round trips, negative for short. PnL is net of fees.
type TradeRecord struct {
	Symbol     string
	EntryTime  time.Time
	ExitTime   time.Time
	Qty        float64
	EntryPrice float64
	ExitPrice  float64
	Fees       float64
	PnL        float64
}

// EquityPoint is one row of the equity curve, recorded after each bar
// boundary. InTrade is true when any position was open at the boundary.
type EquityPoint struct {
	Timestamp time.Time
	Equity    float64
	Cash      float64
	InTrade   bool
}

// ---------------------------------------------------------------------------
// Replay parameters
// ---------------------------------------------------------------------------

// ReplayParams is the complete friction configuration for one replay run.
// Every field must be set explicitly; the only implicit default is
// LatencyBars = 1, applied by config loading when the field is omitted.
type ReplayParams struct {
	SpreadBps          float64
	SpreadCentsMin     float64
	CommissionPerShare float64
	FeeRateBps         float64
	ParticipationRate  float64
	LatencyBars        int
	FillPolicy         FillPolicy
	StartingCash       float64
}

// Validate checks the parameter ranges. It returns a ParameterRangeError
// describing the first violation found.
func (p ReplayParams) Validate() error {
	if p.SpreadBps < 0 {
		return &ParameterRangeError{Param: "spread_bps", Reason: "must be >= 0"}
	}
	if p.SpreadCentsMin < 0 {
		return &ParameterRangeError{Param: "spread_cents_min", Reason: "must be >= 0"}
	}
	if p.CommissionPerShare < 0 {
		return &ParameterRangeError{Param: "commission_per_share", Reason: "must be >= 0"}
	}
	if p.FeeRateBps < 0 {
		return &ParameterRangeError{Param: "fee_rate_bps", Reason: "must be >= 0"}
	}
	if p.ParticipationRate <= 0 || p.ParticipationRate > 1 {
		return &ParameterRangeError{Param: "participation_rate", Reason: "must be in (0, 1]"}
	}
	if p.LatencyBars < 0 {
		return &ParameterRangeError{Param: "latency_bars", Reason: "must be >= 0"}
	}
	switch p.FillPolicy {
	case FillPolicyTouch, FillPolicyMid, FillPolicyLimit:
	default:
		return &ParameterRangeError{Param: "fill_policy", Reason: "must be touch, mid, or limit"}
	}
	if p.StartingCash <= 0 {
		return &ParameterRangeError{Param: "starting_cash", Reason: "must be > 0"}
	}
	return nil
}
