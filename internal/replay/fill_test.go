package replay

import (
	"math"
	"testing"
	"time"

	"replaylab/internal/domain"
)

func near(a, b float64) bool { return math.Abs(a-b) < 1e-9 }

func testParams() domain.ReplayParams {
	return domain.ReplayParams{
		ParticipationRate: 1,
		LatencyBars:       1,
		FillPolicy:        domain.FillPolicyTouch,
		StartingCash:      100_000,
	}
}

func mkBar(symbol string, ts time.Time, open, high, low, closeP, volume float64) domain.Bar {
	return domain.Bar{
		Symbol:    symbol,
		Timestamp: ts,
		Open:      open,
		High:      high,
		Low:       low,
		Close:     closeP,
		Volume:    volume,
	}
}

func TestSyntheticQuoteSpreadBps(t *testing.T) {
	p := testParams()
	p.SpreadBps = 5
	p.SpreadCentsMin = 0.01

	bar := mkBar("AAPL", time.Now(), 99, 101, 98, 100, 1000)
	q := SyntheticQuote(bar, p)

	// 5 bps on a 100 mid is a 0.05 spread, split evenly.
	if !near(q.BidPrice, 99.975) {
		t.Errorf("BidPrice = %v, want 99.975", q.BidPrice)
	}
	if !near(q.AskPrice, 100.025) {
		t.Errorf("AskPrice = %v, want 100.025", q.AskPrice)
	}
}

func TestSyntheticQuoteCentsFloor(t *testing.T) {
	p := testParams()
	p.SpreadBps = 1
	p.SpreadCentsMin = 0.01

	// 1 bp on a 10 mid is 0.001, below the cents floor.
	bar := mkBar("AAPL", time.Now(), 10, 10, 10, 10, 1000)
	q := SyntheticQuote(bar, p)

	if !near(q.AskPrice-q.BidPrice, 0.01) {
		t.Errorf("spread = %v, want 0.01", q.AskPrice-q.BidPrice)
	}
}

func TestFeeCost(t *testing.T) {
	p := testParams()
	p.CommissionPerShare = 0.01
	p.FeeRateBps = 1

	got := FeeCost(100, 50, p)
	// 0.01*100 + 1bp * 100 * 50 / 10_000 = 1 + 0.5
	if !near(got, 1.5) {
		t.Errorf("FeeCost = %v, want 1.5", got)
	}
}

func TestMaxFillable(t *testing.T) {
	p := testParams()
	p.ParticipationRate = 0.1

	bar := mkBar("AAPL", time.Now(), 100, 100, 100, 100, 500)
	if got := MaxFillable(bar, p); !near(got, 50) {
		t.Errorf("MaxFillable = %v, want 50", got)
	}
}

func TestEvaluateFillMarketBuy(t *testing.T) {
	p := testParams()
	bar := mkBar("AAPL", time.Now(), 99, 101, 98, 100, 1000)
	o := &domain.Order{
		Symbol: "AAPL",
		Side:   domain.OrderSideBuy,
		Type:   domain.OrderTypeMarket,
		Qty:    10,
		Status: domain.OrderStatusNew,
	}

	fill, ok := EvaluateFill(o, bar, p)
	if !ok {
		t.Fatal("expected a fill")
	}
	if !near(fill.Qty, 10) {
		t.Errorf("Qty = %v, want 10", fill.Qty)
	}
	// Zero spread: the touch price is the close.
	if !near(fill.Price, 100) {
		t.Errorf("Price = %v, want 100", fill.Price)
	}
	if fill.Clamped {
		t.Error("fill should not be clamped")
	}
}

func TestEvaluateFillClampedToRange(t *testing.T) {
	p := testParams()
	p.SpreadBps = 50 // ask 100.25 is above the bar high

	bar := mkBar("AAPL", time.Now(), 100, 100.1, 99.9, 100, 1000)
	o := &domain.Order{
		Symbol: "AAPL",
		Side:   domain.OrderSideBuy,
		Type:   domain.OrderTypeMarket,
		Qty:    10,
	}

	fill, ok := EvaluateFill(o, bar, p)
	if !ok {
		t.Fatal("expected a fill")
	}
	if !near(fill.Price, 100.1) {
		t.Errorf("Price = %v, want bar high 100.1", fill.Price)
	}
	if !fill.Clamped {
		t.Error("fill should be marked clamped")
	}
}

func TestEvaluateFillParticipationCap(t *testing.T) {
	p := testParams()
	p.ParticipationRate = 0.1

	bar := mkBar("AAPL", time.Now(), 100, 100, 100, 100, 500)
	o := &domain.Order{
		Symbol: "AAPL",
		Side:   domain.OrderSideBuy,
		Type:   domain.OrderTypeMarket,
		Qty:    200,
	}

	fill, ok := EvaluateFill(o, bar, p)
	if !ok {
		t.Fatal("expected a fill")
	}
	if !near(fill.Qty, 50) {
		t.Errorf("Qty = %v, want 50 (participation-capped)", fill.Qty)
	}
}

func TestEvaluateFillLimitNotReached(t *testing.T) {
	p := testParams()
	limit := 99.0
	bar := mkBar("AAPL", time.Now(), 100, 101, 99.5, 100.5, 1000)
	o := &domain.Order{
		Symbol:     "AAPL",
		Side:       domain.OrderSideBuy,
		Type:       domain.OrderTypeLimit,
		Qty:        10,
		LimitPrice: &limit,
	}

	if _, ok := EvaluateFill(o, bar, p); ok {
		t.Error("buy limit below the bar low must not fill")
	}
}

func TestEvaluateFillLimitNeverThroughLimit(t *testing.T) {
	p := testParams()
	p.SpreadBps = 5 // touch ask 100.025 is worse than the limit

	limit := 99.9
	bar := mkBar("AAPL", time.Now(), 100, 100.5, 99.8, 100, 1000)
	o := &domain.Order{
		Symbol:     "AAPL",
		Side:       domain.OrderSideBuy,
		Type:       domain.OrderTypeLimit,
		Qty:        10,
		LimitPrice: &limit,
	}

	fill, ok := EvaluateFill(o, bar, p)
	if !ok {
		t.Fatal("expected a fill")
	}
	if fill.Price > limit+1e-9 {
		t.Errorf("Price = %v fills through the limit %v", fill.Price, limit)
	}
}

func TestEvaluateFillPolicies(t *testing.T) {
	limit := 100.5
	bar := mkBar("AAPL", time.Now(), 100, 101, 99, 100, 1000)
	o := &domain.Order{
		Symbol:     "AAPL",
		Side:       domain.OrderSideSell,
		Type:       domain.OrderTypeLimit,
		Qty:        10,
		LimitPrice: &limit,
	}

	cases := []struct {
		policy domain.FillPolicy
		want   float64
	}{
		{domain.FillPolicyMid, 100.5},   // close 100, capped up to the limit
		{domain.FillPolicyLimit, 100.5}, // fills at the limit
	}
	for _, tc := range cases {
		p := testParams()
		p.FillPolicy = tc.policy
		fill, ok := EvaluateFill(o, bar, p)
		if !ok {
			t.Fatalf("policy %s: expected a fill", tc.policy)
		}
		if !near(fill.Price, tc.want) {
			t.Errorf("policy %s: Price = %v, want %v", tc.policy, fill.Price, tc.want)
		}
	}
}

func TestEvaluateFillSkips(t *testing.T) {
	p := testParams()
	bar := mkBar("AAPL", time.Now(), 100, 100, 100, 100, 1000)

	// Wrong symbol.
	o := &domain.Order{Symbol: "MSFT", Side: domain.OrderSideBuy, Type: domain.OrderTypeMarket, Qty: 10}
	if _, ok := EvaluateFill(o, bar, p); ok {
		t.Error("order for another symbol must not fill")
	}

	// Nothing remaining.
	o = &domain.Order{Symbol: "AAPL", Side: domain.OrderSideBuy, Type: domain.OrderTypeMarket, Qty: 10, FilledQty: 10}
	if _, ok := EvaluateFill(o, bar, p); ok {
		t.Error("fully filled order must not fill again")
	}

	// Zero-volume bar has no capacity.
	o = &domain.Order{Symbol: "AAPL", Side: domain.OrderSideBuy, Type: domain.OrderTypeMarket, Qty: 10}
	empty := mkBar("AAPL", time.Now(), 100, 100, 100, 100, 0)
	if _, ok := EvaluateFill(o, empty, p); ok {
		t.Error("zero-volume bar must not fill")
	}
}

func TestEvaluateFillWithinBarRange(t *testing.T) {
	// Whatever the policy and spread, the fill price stays inside [low, high].
	policies := []domain.FillPolicy{domain.FillPolicyTouch, domain.FillPolicyMid, domain.FillPolicyLimit}
	spreads := []float64{0, 5, 500}
	bar := mkBar("AAPL", time.Now(), 100, 100.2, 99.8, 100, 1000)
	limit := 100.0

	for _, pol := range policies {
		for _, bps := range spreads {
			p := testParams()
			p.FillPolicy = pol
			p.SpreadBps = bps
			for _, o := range []*domain.Order{
				{Symbol: "AAPL", Side: domain.OrderSideBuy, Type: domain.OrderTypeMarket, Qty: 10},
				{Symbol: "AAPL", Side: domain.OrderSideSell, Type: domain.OrderTypeMarket, Qty: 10},
				{Symbol: "AAPL", Side: domain.OrderSideBuy, Type: domain.OrderTypeLimit, Qty: 10, LimitPrice: &limit},
			} {
				fill, ok := EvaluateFill(o, bar, p)
				if !ok {
					continue
				}
				if fill.Price < bar.Low-1e-9 || fill.Price > bar.High+1e-9 {
					t.Errorf("policy %s bps %v: price %v outside [%v, %v]",
						pol, bps, fill.Price, bar.Low, bar.High)
				}
			}
		}
	}
}
