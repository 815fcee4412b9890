package broker

import (
	"testing"
	"time"

	"github.com/alpacahq/alpaca-trade-api-go/v3/alpaca"
	"github.com/alpacahq/alpaca-trade-api-go/v3/marketdata"
	"github.com/shopspring/decimal"

	"replaylab/internal/domain"
)

func TestTranslateStatus(t *testing.T) {
	cases := []struct {
		in   string
		want domain.OrderStatus
	}{
		{"new", domain.OrderStatusNew},
		{"accepted", domain.OrderStatusNew},
		{"pending_new", domain.OrderStatusNew},
		{"partially_filled", domain.OrderStatusPartiallyFilled},
		{"filled", domain.OrderStatusFilled},
		{"canceled", domain.OrderStatusCanceled},
		{"expired", domain.OrderStatusCanceled},
		{"done_for_day", domain.OrderStatusCanceled},
		{"rejected", domain.OrderStatusRejected},
		{"some_future_status", domain.OrderStatusNew},
	}
	for _, tc := range cases {
		if got := translateStatus(tc.in); got != tc.want {
			t.Errorf("translateStatus(%q) = %s, want %s", tc.in, got, tc.want)
		}
	}
}

func TestToTimeFrame(t *testing.T) {
	cases := []struct {
		in   time.Duration
		want marketdata.TimeFrame
	}{
		{time.Minute, marketdata.NewTimeFrame(1, marketdata.Min)},
		{5 * time.Minute, marketdata.NewTimeFrame(5, marketdata.Min)},
		{time.Hour, marketdata.NewTimeFrame(1, marketdata.Hour)},
		{24 * time.Hour, marketdata.OneDay},
		{0, marketdata.OneDay},
	}
	for _, tc := range cases {
		if got := toTimeFrame(tc.in); got != tc.want {
			t.Errorf("toTimeFrame(%v) = %v, want %v", tc.in, got, tc.want)
		}
	}
}

func TestFromAlpacaOrder(t *testing.T) {
	qty := decimal.NewFromInt(10)
	limit := decimal.NewFromFloat(101.5)
	avg := decimal.NewFromFloat(101.25)
	submitted := time.Date(2024, 1, 2, 15, 0, 0, 0, time.UTC)

	o := fromAlpacaOrder(&alpaca.Order{
		ID:             "abc-123",
		Symbol:         "AAPL",
		Side:           "buy",
		Type:           "limit",
		TimeInForce:    "day",
		Status:         "partially_filled",
		Qty:            &qty,
		LimitPrice:     &limit,
		FilledQty:      decimal.NewFromInt(4),
		FilledAvgPrice: &avg,
		SubmittedAt:    submitted,
	})

	if o.ID != "abc-123" || o.Symbol != "AAPL" {
		t.Errorf("order = %+v", o)
	}
	if o.Side != domain.OrderSideBuy || o.Type != domain.OrderTypeLimit || o.TimeInForce != domain.TimeInForceDay {
		t.Errorf("enums = %s/%s/%s", o.Side, o.Type, o.TimeInForce)
	}
	if o.Status != domain.OrderStatusPartiallyFilled {
		t.Errorf("Status = %s", o.Status)
	}
	if o.Qty != 10 || o.FilledQty != 4 {
		t.Errorf("Qty/FilledQty = %v/%v", o.Qty, o.FilledQty)
	}
	if o.LimitPrice == nil || *o.LimitPrice != 101.5 {
		t.Errorf("LimitPrice = %v", o.LimitPrice)
	}
	if o.FilledAvgPrice != 101.25 {
		t.Errorf("FilledAvgPrice = %v", o.FilledAvgPrice)
	}
	if !o.SubmittedAt.Equal(submitted) {
		t.Errorf("SubmittedAt = %v", o.SubmittedAt)
	}
}

func TestFromAlpacaOrderNilFields(t *testing.T) {
	o := fromAlpacaOrder(&alpaca.Order{
		ID:        "abc-123",
		Symbol:    "AAPL",
		Status:    "new",
		FilledQty: decimal.Zero,
	})
	if o.Qty != 0 || o.LimitPrice != nil || o.FilledAvgPrice != 0 {
		t.Errorf("order = %+v, want zero values for absent fields", o)
	}
}

func TestFromAlpacaPosition(t *testing.T) {
	p := fromAlpacaPosition(&alpaca.Position{
		Symbol:        "MSFT",
		Qty:           decimal.NewFromInt(-25),
		AvgEntryPrice: decimal.NewFromFloat(370.5),
	})
	if p.Symbol != "MSFT" || p.Qty != -25 || p.AvgEntryPrice != 370.5 {
		t.Errorf("position = %+v", p)
	}
}
