package broker

import (
	"context"
	"strconv"
	"time"

	"github.com/alpacahq/alpaca-trade-api-go/v3/alpaca"
	"github.com/alpacahq/alpaca-trade-api-go/v3/marketdata"
	"github.com/shopspring/decimal"

	"replaylab/internal/domain"
	"replaylab/internal/util"
)

// Compile-time interface check.
var _ API = (*AlpacaBroker)(nil)

// AlpacaBroker implements the API against the Alpaca brokerage. All vendor
// quirks — decimal-string quantities, extra order statuses, unsigned sizes —
// are translated here; none of them leak into the domain model.
type AlpacaBroker struct {
	trading *alpaca.Client
	data    *marketdata.Client
	limiter *util.RateLimiter
}

// NewAlpacaBroker creates an AlpacaBroker from credentials and endpoints.
// Empty URLs fall back to the SDK defaults.
func NewAlpacaBroker(apiKey, apiSecret, baseURL, dataURL string) *AlpacaBroker {
	return &AlpacaBroker{
		trading: alpaca.NewClient(alpaca.ClientOpts{
			APIKey:    apiKey,
			APISecret: apiSecret,
			BaseURL:   baseURL,
		}),
		data: marketdata.NewClient(marketdata.ClientOpts{
			APIKey:    apiKey,
			APISecret: apiSecret,
			BaseURL:   dataURL,
		}),
		limiter: util.NewRateLimiter(200),
	}
}

// Name returns "alpaca".
func (b *AlpacaBroker) Name() string { return "alpaca" }

// ---------------------------------------------------------------------------
// Market data
// ---------------------------------------------------------------------------

// GetBars fetches OHLCV bars from the Alpaca market-data API.
func (b *AlpacaBroker) GetBars(ctx context.Context, symbol string, timeframe time.Duration, start, end time.Time) ([]domain.Bar, error) {
	if err := b.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	var bars []marketdata.Bar
	err := util.Retry(ctx, 3, 500*time.Millisecond, func() error {
		var err error
		bars, err = b.data.GetBars(symbol, marketdata.GetBarsRequest{
			TimeFrame: toTimeFrame(timeframe),
			Start:     start,
			End:       end,
		})
		return err
	})
	if err != nil {
		return nil, err
	}

	out := make([]domain.Bar, 0, len(bars))
	for _, ab := range bars {
		out = append(out, domain.Bar{
			Symbol:     symbol,
			Timestamp:  ab.Timestamp,
			Open:       ab.Open,
			High:       ab.High,
			Low:        ab.Low,
			Close:      ab.Close,
			Volume:     float64(ab.Volume),
			TradeCount: int64(ab.TradeCount),
			VWAP:       ab.VWAP,
		})
	}
	return out, nil
}

// GetLastQuote fetches the latest top-of-book quote.
func (b *AlpacaBroker) GetLastQuote(ctx context.Context, symbol string) (domain.Quote, error) {
	if err := b.limiter.Wait(ctx); err != nil {
		return domain.Quote{}, err
	}
	q, err := b.data.GetLatestQuote(symbol, marketdata.GetLatestQuoteRequest{})
	if err != nil {
		return domain.Quote{}, err
	}
	return domain.Quote{
		Symbol:    symbol,
		Timestamp: q.Timestamp,
		BidPrice:  q.BidPrice,
		AskPrice:  q.AskPrice,
		BidSize:   float64(q.BidSize),
		AskSize:   float64(q.AskSize),
	}, nil
}

// GetLastTrade fetches the latest trade print.
func (b *AlpacaBroker) GetLastTrade(ctx context.Context, symbol string) (domain.Trade, error) {
	if err := b.limiter.Wait(ctx); err != nil {
		return domain.Trade{}, err
	}
	t, err := b.data.GetLatestTrade(symbol, marketdata.GetLatestTradeRequest{})
	if err != nil {
		return domain.Trade{}, err
	}
	return domain.Trade{
		Symbol:    symbol,
		Timestamp: t.Timestamp,
		Price:     t.Price,
		Size:      float64(t.Size),
		Exchange:  t.Exchange,
		ID:        strconv.FormatInt(t.ID, 10),
	}, nil
}

// ---------------------------------------------------------------------------
// Orders
// ---------------------------------------------------------------------------

// SubmitOrder places an order through the Alpaca trading API.
func (b *AlpacaBroker) SubmitOrder(ctx context.Context, req domain.OrderRequest) (*domain.Order, error) {
	qty := decimal.NewFromFloat(req.Qty)
	placeReq := alpaca.PlaceOrderRequest{
		Symbol:      req.Symbol,
		Qty:         &qty,
		Side:        alpaca.Side(req.Side),
		Type:        alpaca.OrderType(req.Type),
		TimeInForce: alpaca.TimeInForce(req.TimeInForce),
	}
	if req.LimitPrice != nil {
		lp := decimal.NewFromFloat(*req.LimitPrice)
		placeReq.LimitPrice = &lp
	}

	o, err := b.trading.PlaceOrder(placeReq)
	if err != nil {
		return nil, err
	}
	return fromAlpacaOrder(o), nil
}

// CancelOrder cancels a working order by id.
func (b *AlpacaBroker) CancelOrder(_ context.Context, orderID string) error {
	return b.trading.CancelOrder(orderID)
}

// GetOrder fetches an order by id.
func (b *AlpacaBroker) GetOrder(_ context.Context, orderID string) (*domain.Order, error) {
	o, err := b.trading.GetOrder(orderID)
	if err != nil {
		return nil, err
	}
	return fromAlpacaOrder(o), nil
}

// ListOrders returns orders matching the filter.
func (b *AlpacaBroker) ListOrders(_ context.Context, filter StatusFilter) ([]domain.Order, error) {
	status := "all"
	switch filter {
	case StatusOpen:
		status = "open"
	case StatusClosed:
		status = "closed"
	}
	orders, err := b.trading.GetOrders(alpaca.GetOrdersRequest{Status: status, Limit: 500})
	if err != nil {
		return nil, err
	}
	out := make([]domain.Order, 0, len(orders))
	for i := range orders {
		out = append(out, *fromAlpacaOrder(&orders[i]))
	}
	return out, nil
}

// ---------------------------------------------------------------------------
// Portfolio
// ---------------------------------------------------------------------------

// GetAccount returns the account snapshot.
func (b *AlpacaBroker) GetAccount(_ context.Context) (*domain.Account, error) {
	acct, err := b.trading.GetAccount()
	if err != nil {
		return nil, err
	}
	return &domain.Account{
		Cash:        acct.Cash.InexactFloat64(),
		Equity:      acct.Equity.InexactFloat64(),
		BuyingPower: acct.BuyingPower.InexactFloat64(),
	}, nil
}

// GetPosition returns the position for symbol; a flat symbol yields a
// zero-quantity position, matching the replay backend.
func (b *AlpacaBroker) GetPosition(_ context.Context, symbol string) (domain.Position, error) {
	p, err := b.trading.GetPosition(symbol)
	if err != nil {
		// Alpaca reports a flat symbol as an API error; the capability
		// contract says flat means zero, not failure.
		if apiErr, ok := err.(*alpaca.APIError); ok && apiErr.StatusCode == 404 {
			return domain.Position{Symbol: symbol}, nil
		}
		return domain.Position{}, err
	}
	return fromAlpacaPosition(p), nil
}

// ListPositions returns all open positions.
func (b *AlpacaBroker) ListPositions(_ context.Context) ([]domain.Position, error) {
	positions, err := b.trading.GetPositions()
	if err != nil {
		return nil, err
	}
	out := make([]domain.Position, 0, len(positions))
	for i := range positions {
		out = append(out, fromAlpacaPosition(&positions[i]))
	}
	return out, nil
}

// ---------------------------------------------------------------------------
// Translation
// ---------------------------------------------------------------------------

func fromAlpacaOrder(o *alpaca.Order) *domain.Order {
	out := &domain.Order{
		ID:          o.ID,
		Symbol:      o.Symbol,
		Side:        domain.OrderSide(o.Side),
		Type:        domain.OrderType(o.Type),
		TimeInForce: domain.TimeInForce(o.TimeInForce),
		Status:      translateStatus(o.Status),
		FilledQty:   o.FilledQty.InexactFloat64(),
		SubmittedAt: o.SubmittedAt,
	}
	if o.Qty != nil {
		out.Qty = o.Qty.InexactFloat64()
	}
	if o.LimitPrice != nil {
		lp := o.LimitPrice.InexactFloat64()
		out.LimitPrice = &lp
	}
	if o.FilledAvgPrice != nil {
		out.FilledAvgPrice = o.FilledAvgPrice.InexactFloat64()
	}
	return out
}

func fromAlpacaPosition(p *alpaca.Position) domain.Position {
	return domain.Position{
		Symbol:        p.Symbol,
		Qty:           p.Qty.InexactFloat64(),
		AvgEntryPrice: p.AvgEntryPrice.InexactFloat64(),
	}
}

// translateStatus folds Alpaca's wider status vocabulary into the domain's
// closed set.
func translateStatus(s string) domain.OrderStatus {
	switch s {
	case "new", "accepted", "pending_new", "accepted_for_bidding", "pending_cancel", "pending_replace":
		return domain.OrderStatusNew
	case "partially_filled":
		return domain.OrderStatusPartiallyFilled
	case "filled":
		return domain.OrderStatusFilled
	case "canceled", "done_for_day", "expired", "replaced", "stopped", "suspended":
		return domain.OrderStatusCanceled
	case "rejected":
		return domain.OrderStatusRejected
	}
	return domain.OrderStatusNew
}

// toTimeFrame maps a duration onto the closest Alpaca timeframe.
func toTimeFrame(d time.Duration) marketdata.TimeFrame {
	switch {
	case d <= 0:
		return marketdata.OneDay
	case d < time.Hour:
		return marketdata.NewTimeFrame(int(d.Minutes()), marketdata.Min)
	case d < 24*time.Hour:
		return marketdata.NewTimeFrame(int(d.Hours()), marketdata.Hour)
	default:
		return marketdata.OneDay
	}
}
