package replay

import (
	"context"
	"fmt"
	"sort"
	"time"

	"replaylab/internal/broker"
	"replaylab/internal/domain"
)

// Compile-time interface check.
var _ broker.API = (*SimBroker)(nil)

const fillEpsilon = 1e-9

// SimBroker is the simulated broker backend. It owns all mutable order,
// position, and cash state for one replay run and is driven bar-by-bar by
// the Runner. It is deliberately lock-free: one run is single-threaded, and
// parallel runs each construct their own SimBroker.
type SimBroker struct {
	params domain.ReplayParams

	cash      float64
	positions map[string]*domain.Position
	orders    map[string]*domain.Order
	orderIDs  []string // submission order, for deterministic iteration
	orderSeq  int

	now      time.Time
	barIndex int

	lastBar map[string]domain.Bar
	history map[string][]domain.Bar

	updates []domain.OrderUpdate
	trades  []domain.TradeRecord
	open    map[string]*roundTrip
}

// roundTrip accumulates the entry and exit legs of one position episode,
// from flat back to flat.
type roundTrip struct {
	entryTime     time.Time
	direction     float64 // +1 long, -1 short
	entryQty      float64
	entryNotional float64
	exitQty       float64
	exitNotional  float64
	fees          float64
}

// NewSimBroker creates a fresh simulated broker with the given friction
// parameters and starting cash.
func NewSimBroker(params domain.ReplayParams) *SimBroker {
	return &SimBroker{
		params:    params,
		cash:      params.StartingCash,
		positions: make(map[string]*domain.Position),
		orders:    make(map[string]*domain.Order),
		lastBar:   make(map[string]domain.Bar),
		history:   make(map[string][]domain.Bar),
		open:      make(map[string]*roundTrip),
	}
}

// Name returns "replay".
func (b *SimBroker) Name() string { return "replay" }

// ---------------------------------------------------------------------------
// Runner-facing surface
// ---------------------------------------------------------------------------

// SetClock advances the broker's notion of now and the current bar index.
func (b *SimBroker) SetClock(now time.Time, barIndex int) {
	b.now = now
	b.barIndex = barIndex
}

// ObserveBar records a bar as the latest market state for its symbol. Quotes
// and last trades are synthesized from it, and it becomes visible to
// GetBars history.
func (b *SimBroker) ObserveBar(bar domain.Bar) {
	b.lastBar[bar.Symbol] = bar
	b.history[bar.Symbol] = append(b.history[bar.Symbol], bar)
}

// EvaluateFills evaluates every working, activated order against the bar,
// exactly once per (order, bar). Fill decisions come from the pure fill
// model; this method applies them to order, position, and cash state and
// queues order updates for the strategy.
func (b *SimBroker) EvaluateFills(bar domain.Bar) {
	for _, id := range b.orderIDs {
		o := b.orders[id]
		if o.Status.Terminal() || o.Symbol != bar.Symbol {
			continue
		}
		if b.barIndex < o.ActivationBar {
			continue
		}
		fill, ok := EvaluateFill(o, bar, b.params)
		if !ok {
			continue
		}
		b.applyFill(o, fill, bar.Timestamp)
	}
}

// ExpireDayOrders cancels the unfilled remainder of every working day order
// at a session boundary, preserving filled quantity and average price.
func (b *SimBroker) ExpireDayOrders() {
	for _, id := range b.orderIDs {
		o := b.orders[id]
		if o.Status.Terminal() || o.TimeInForce != domain.TimeInForceDay {
			continue
		}
		o.Status = domain.OrderStatusCanceled
		b.queueUpdate(domain.OrderEventCanceled, o, 0, 0)
	}
}

// DrainUpdates returns and clears the queued order updates in emission
// order.
func (b *SimBroker) DrainUpdates() []domain.OrderUpdate {
	u := b.updates
	b.updates = nil
	return u
}

// Snapshot records the post-step account state. Equity is recomputed from
// scratch at every call: cash plus mark-to-market of each position at the
// latest bar close for its symbol.
func (b *SimBroker) Snapshot() domain.EquityPoint {
	return domain.EquityPoint{
		Timestamp: b.now,
		Equity:    b.equity(),
		Cash:      b.cash,
		InTrade:   len(b.positions) > 0,
	}
}

// Trades returns the closed round trips accumulated so far, in close order.
func (b *SimBroker) Trades() []domain.TradeRecord { return b.trades }

// TerminalOrders returns all orders that have reached a terminal state, in
// submission order.
func (b *SimBroker) TerminalOrders() []domain.Order {
	var out []domain.Order
	for _, id := range b.orderIDs {
		if o := b.orders[id]; o.Status.Terminal() {
			out = append(out, *o)
		}
	}
	return out
}

func (b *SimBroker) equity() float64 {
	eq := b.cash
	for sym, pos := range b.positions {
		if bar, ok := b.lastBar[sym]; ok {
			eq += pos.Qty * bar.Close
		} else {
			eq += pos.Qty * pos.AvgEntryPrice
		}
	}
	return eq
}

// ---------------------------------------------------------------------------
// Fill application
// ---------------------------------------------------------------------------

func (b *SimBroker) applyFill(o *domain.Order, fill Fill, ts time.Time) {
	fee := FeeCost(fill.Qty, fill.Price, b.params)

	// Order bookkeeping: quantity-weighted average across partial fills.
	newFilled := o.FilledQty + fill.Qty
	o.FilledAvgPrice = (o.FilledAvgPrice*o.FilledQty + fill.Price*fill.Qty) / newFilled
	o.FilledQty = newFilled

	event := domain.OrderEventPartialFill
	if o.FilledQty+fillEpsilon >= o.Qty {
		o.FilledQty = o.Qty
		o.Status = domain.OrderStatusFilled
		event = domain.OrderEventFill
	} else {
		o.Status = domain.OrderStatusPartiallyFilled
	}

	// Cash: debit cost plus fees at the moment of each partial fill.
	notional := fill.Qty * fill.Price
	signedQty := fill.Qty
	if o.Side == domain.OrderSideBuy {
		b.cash -= notional + fee
	} else {
		b.cash += notional - fee
		signedQty = -fill.Qty
	}

	b.applyToPosition(o.Symbol, signedQty, fill.Price)
	b.recordTradeLeg(o.Symbol, signedQty, fill.Price, fee, ts)
	b.queueUpdate(event, o, fill.Qty, fill.Price)
}

// applyToPosition merges a signed fill into the symbol's position:
// weighted-average entry price on same-direction adds, unchanged average on
// reductions, reset to the fill price on a sign flip, removal at zero.
func (b *SimBroker) applyToPosition(symbol string, qty, price float64) {
	pos, ok := b.positions[symbol]
	if !ok {
		b.positions[symbol] = &domain.Position{Symbol: symbol, Qty: qty, AvgEntryPrice: price}
		return
	}

	newQty := pos.Qty + qty
	switch {
	case absf(newQty) < fillEpsilon:
		delete(b.positions, symbol)
	case sign(pos.Qty) == sign(qty):
		pos.AvgEntryPrice = (pos.AvgEntryPrice*absf(pos.Qty) + price*absf(qty)) / absf(newQty)
		pos.Qty = newQty
	case sign(newQty) == sign(pos.Qty):
		// Partial reduction: average entry unchanged.
		pos.Qty = newQty
	default:
		// Sign flip: the remainder opens a new position at the fill price.
		pos.Qty = newQty
		pos.AvgEntryPrice = price
	}
}

// recordTradeLeg feeds the fill into round-trip accounting. A round trip
// opens when a flat symbol gains exposure and closes when it returns to
// flat; a sign flip closes the old trip and opens a new one within the same
// fill, with fees attributed pro rata.
func (b *SimBroker) recordTradeLeg(symbol string, qty, price, fee float64, ts time.Time) {
	rt := b.open[symbol]
	if rt == nil {
		rt = &roundTrip{entryTime: ts, direction: sign(qty)}
		b.open[symbol] = rt
	}

	if sign(qty) == rt.direction {
		rt.entryQty += absf(qty)
		rt.entryNotional += absf(qty) * price
		rt.fees += fee
		return
	}

	closing := absf(qty)
	remainder := 0.0
	openQty := rt.entryQty - rt.exitQty
	if closing > openQty {
		remainder = closing - openQty
		closing = openQty
	}
	closeShare := closing / absf(qty)

	rt.exitQty += closing
	rt.exitNotional += closing * price
	rt.fees += fee * closeShare

	if rt.exitQty+fillEpsilon >= rt.entryQty {
		b.trades = append(b.trades, domain.TradeRecord{
			Symbol:     symbol,
			EntryTime:  rt.entryTime,
			ExitTime:   ts,
			Qty:        rt.direction * rt.entryQty,
			EntryPrice: rt.entryNotional / rt.entryQty,
			ExitPrice:  rt.exitNotional / rt.exitQty,
			Fees:       rt.fees,
			PnL:        rt.direction*(rt.exitNotional-rt.entryNotional) - rt.fees,
		})
		delete(b.open, symbol)
	}

	if remainder > fillEpsilon {
		b.open[symbol] = &roundTrip{
			entryTime:     ts,
			direction:     sign(qty),
			entryQty:      remainder,
			entryNotional: remainder * price,
			fees:          fee * (1 - closeShare),
		}
	}
}

func (b *SimBroker) queueUpdate(event domain.OrderEvent, o *domain.Order, qty, price float64) {
	b.updates = append(b.updates, domain.OrderUpdate{
		Event:     event,
		Order:     *o,
		FillQty:   qty,
		FillPrice: price,
		Timestamp: b.now,
	})
}

// ---------------------------------------------------------------------------
// broker.API implementation
// ---------------------------------------------------------------------------

// GetBars returns bars for symbol within [start, end], restricted to bars
// the run has already observed. A strategy can never see past the clock.
func (b *SimBroker) GetBars(_ context.Context, symbol string, _ time.Duration, start, end time.Time) ([]domain.Bar, error) {
	var out []domain.Bar
	for _, bar := range b.history[symbol] {
		if bar.Timestamp.Before(start) || bar.Timestamp.After(end) {
			continue
		}
		out = append(out, bar)
	}
	return out, nil
}

// GetLastQuote returns a synthetic quote from the latest observed bar.
func (b *SimBroker) GetLastQuote(_ context.Context, symbol string) (domain.Quote, error) {
	bar, ok := b.lastBar[symbol]
	if !ok {
		return domain.Quote{}, fmt.Errorf("no market data observed for %s", symbol)
	}
	return SyntheticQuote(bar, b.params), nil
}

// GetLastTrade returns a last-trade print derived from the latest observed
// bar's close.
func (b *SimBroker) GetLastTrade(_ context.Context, symbol string) (domain.Trade, error) {
	bar, ok := b.lastBar[symbol]
	if !ok {
		return domain.Trade{}, fmt.Errorf("no market data observed for %s", symbol)
	}
	return domain.Trade{
		Symbol:    symbol,
		Timestamp: bar.Timestamp,
		Price:     bar.Close,
		Size:      bar.Volume,
	}, nil
}

// SubmitOrder validates and books a new order. Validation failures yield an
// order with status rejected and a nil error, mirroring a live API's
// asynchronous rejection; the strategy sees the rejection as an order
// update. Accepted orders activate at the current bar index plus the
// configured latency and are never eligible against the submission bar's
// own OHLC when latency >= 1.
func (b *SimBroker) SubmitOrder(_ context.Context, req domain.OrderRequest) (*domain.Order, error) {
	b.orderSeq++
	o := &domain.Order{
		ID:            fmt.Sprintf("SIM-%08d", b.orderSeq),
		Symbol:        req.Symbol,
		Side:          req.Side,
		Type:          req.Type,
		TimeInForce:   req.TimeInForce,
		Qty:           req.Qty,
		LimitPrice:    req.LimitPrice,
		Status:        domain.OrderStatusNew,
		SubmittedAt:   b.now,
		ActivationBar: b.barIndex + b.params.LatencyBars,
	}
	b.orders[o.ID] = o
	b.orderIDs = append(b.orderIDs, o.ID)

	if reason := validateRequest(req); reason != "" {
		o.Status = domain.OrderStatusRejected
		b.queueUpdate(domain.OrderEventRejected, o, 0, 0)
		return o, nil
	}
	return o, nil
}

func validateRequest(req domain.OrderRequest) string {
	if req.Symbol == "" {
		return "missing symbol"
	}
	if req.Qty <= 0 {
		return "qty must be > 0"
	}
	switch req.Side {
	case domain.OrderSideBuy, domain.OrderSideSell:
	default:
		return "unrecognized side"
	}
	switch req.TimeInForce {
	case domain.TimeInForceDay, domain.TimeInForceGTC:
	default:
		return "unrecognized time in force"
	}
	switch req.Type {
	case domain.OrderTypeMarket:
		if req.LimitPrice != nil {
			return "limit price not allowed on market order"
		}
	case domain.OrderTypeLimit:
		if req.LimitPrice == nil {
			return "limit order requires a limit price"
		}
		if *req.LimitPrice <= 0 {
			return "limit price must be > 0"
		}
	default:
		return "unrecognized order type"
	}
	return ""
}

// CancelOrder cancels a working order. Unknown ids return an
// *domain.OrderNotFoundError; terminal orders cannot transition and return
// an *domain.InvalidOrderError. Neither aborts a run.
func (b *SimBroker) CancelOrder(_ context.Context, orderID string) error {
	o, ok := b.orders[orderID]
	if !ok {
		return &domain.OrderNotFoundError{ID: orderID}
	}
	if o.Status.Terminal() {
		return &domain.InvalidOrderError{Reason: fmt.Sprintf("order %s is %s and cannot be canceled", orderID, o.Status)}
	}
	o.Status = domain.OrderStatusCanceled
	b.queueUpdate(domain.OrderEventCanceled, o, 0, 0)
	return nil
}

// GetOrder fetches a copy of an order by id.
func (b *SimBroker) GetOrder(_ context.Context, orderID string) (*domain.Order, error) {
	o, ok := b.orders[orderID]
	if !ok {
		return nil, &domain.OrderNotFoundError{ID: orderID}
	}
	cp := *o
	return &cp, nil
}

// ListOrders returns orders matching the filter in submission order.
func (b *SimBroker) ListOrders(_ context.Context, filter broker.StatusFilter) ([]domain.Order, error) {
	var out []domain.Order
	for _, id := range b.orderIDs {
		o := b.orders[id]
		switch filter {
		case broker.StatusOpen:
			if o.Status.Terminal() {
				continue
			}
		case broker.StatusClosed:
			if !o.Status.Terminal() {
				continue
			}
		}
		out = append(out, *o)
	}
	return out, nil
}

// GetAccount returns the account snapshot at the current clock. Equity is
// cash plus every position marked at its latest bar close; it is never
// carried forward incrementally.
func (b *SimBroker) GetAccount(_ context.Context) (*domain.Account, error) {
	eq := b.equity()
	return &domain.Account{Cash: b.cash, Equity: eq, BuyingPower: eq}, nil
}

// GetPosition returns the position for symbol, or a zero-quantity position
// when the symbol is flat.
func (b *SimBroker) GetPosition(_ context.Context, symbol string) (domain.Position, error) {
	if pos, ok := b.positions[symbol]; ok {
		return *pos, nil
	}
	return domain.Position{Symbol: symbol}, nil
}

// ListPositions returns all non-flat positions sorted by symbol.
func (b *SimBroker) ListPositions(_ context.Context) ([]domain.Position, error) {
	out := make([]domain.Position, 0, len(b.positions))
	for _, pos := range b.positions {
		out = append(out, *pos)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out, nil
}

func absf(x float64) float64 {
	if x < 0 {
		return -x
	}
	return x
}

func sign(x float64) float64 {
	if x < 0 {
		return -1
	}
	return 1
}
