// Package metrics provides pure, deterministic reductions over a closed
// trade log and an equity-curve series. Nothing here depends on iteration
// order beyond the trade log's own chronological order.
package metrics

import (
	"math"
	"sort"

	"replaylab/internal/domain"
)

// Summary is the full metric set for one completed run.
type Summary struct {
	Trades      int      `json:"trades"`
	NetPnL      float64  `json:"net_pnl"`
	Expectancy  float64  `json:"expectancy"`
	HitRate     float64  `json:"hit_rate"`
	AvgWin      *float64 `json:"avg_win"`  // nil when there are no winners
	AvgLoss     *float64 `json:"avg_loss"` // nil when there are no losers
	WorstTrade  float64  `json:"worst_trade"`
	MaxDrawdown float64  `json:"max_drawdown"`
	TimeInTrade float64  `json:"time_in_trade"`
	Turnover    float64  `json:"turnover"`
}

// Summarize computes the full metric set from closed round trips and the
// equity curve.
func Summarize(trades []domain.TradeRecord, curve []domain.EquityPoint) Summary {
	aw, al := AvgWinLoss(trades)
	return Summary{
		Trades:      len(trades),
		NetPnL:      NetPnL(trades),
		Expectancy:  Expectancy(trades),
		HitRate:     HitRate(trades),
		AvgWin:      aw,
		AvgLoss:     al,
		WorstTrade:  WorstTrade(trades),
		MaxDrawdown: MaxDrawdown(curve),
		TimeInTrade: TimeInTrade(curve),
		Turnover:    Turnover(trades),
	}
}

// NetPnL is the sum of net trade P&L.
func NetPnL(trades []domain.TradeRecord) float64 {
	var sum float64
	for _, t := range trades {
		sum += t.PnL
	}
	return sum
}

// Expectancy is the mean net P&L per trade, 0 for an empty log.
func Expectancy(trades []domain.TradeRecord) float64 {
	if len(trades) == 0 {
		return 0
	}
	return NetPnL(trades) / float64(len(trades))
}

// HitRate is the fraction of trades with positive net P&L.
func HitRate(trades []domain.TradeRecord) float64 {
	if len(trades) == 0 {
		return 0
	}
	wins := 0
	for _, t := range trades {
		if t.PnL > 0 {
			wins++
		}
	}
	return float64(wins) / float64(len(trades))
}

// AvgWinLoss returns the mean winner and mean loser. A side with no trades
// is reported as nil, never zero or NaN.
func AvgWinLoss(trades []domain.TradeRecord) (avgWin, avgLoss *float64) {
	var winSum, lossSum float64
	var wins, losses int
	for _, t := range trades {
		switch {
		case t.PnL > 0:
			winSum += t.PnL
			wins++
		case t.PnL < 0:
			lossSum += t.PnL
			losses++
		}
	}
	if wins > 0 {
		w := winSum / float64(wins)
		avgWin = &w
	}
	if losses > 0 {
		l := lossSum / float64(losses)
		avgLoss = &l
	}
	return avgWin, avgLoss
}

// WorstTrade is the most negative net trade P&L, 0 for an empty log.
func WorstTrade(trades []domain.TradeRecord) float64 {
	worst := 0.0
	for _, t := range trades {
		if t.PnL < worst {
			worst = t.PnL
		}
	}
	return worst
}

// MaxDrawdown is the largest peak-to-trough equity decline, in account
// currency.
func MaxDrawdown(curve []domain.EquityPoint) float64 {
	if len(curve) == 0 {
		return 0
	}
	peak := curve[0].Equity
	maxDD := 0.0
	for _, p := range curve {
		if p.Equity > peak {
			peak = p.Equity
		}
		if dd := peak - p.Equity; dd > maxDD {
			maxDD = dd
		}
	}
	return maxDD
}

// TimeInTrade is the fraction of equity-curve steps with a non-zero
// position.
func TimeInTrade(curve []domain.EquityPoint) float64 {
	if len(curve) == 0 {
		return 0
	}
	in := 0
	for _, p := range curve {
		if p.InTrade {
			in++
		}
	}
	return float64(in) / float64(len(curve))
}

// Turnover is the gross traded notional across closed round trips: entry
// plus exit legs.
func Turnover(trades []domain.TradeRecord) float64 {
	var sum float64
	for _, t := range trades {
		q := math.Abs(t.Qty)
		sum += q*t.EntryPrice + q*t.ExitPrice
	}
	return sum
}

// HoldStats summarizes time-in-trade durations in seconds.
type HoldStats struct {
	Mean   float64 `json:"mean"`
	Median float64 `json:"median"`
	P95    float64 `json:"p95"`
}

// HoldTimes returns mean, median, and p95 of round-trip durations.
func HoldTimes(trades []domain.TradeRecord) HoldStats {
	if len(trades) == 0 {
		return HoldStats{}
	}
	xs := make([]float64, 0, len(trades))
	for _, t := range trades {
		xs = append(xs, t.ExitTime.Sub(t.EntryTime).Seconds())
	}
	sort.Float64s(xs)

	var sum float64
	for _, x := range xs {
		sum += x
	}
	idx := int(math.Ceil(0.95*float64(len(xs)))) - 1
	if idx < 0 {
		idx = 0
	}
	return HoldStats{
		Mean:   sum / float64(len(xs)),
		Median: xs[len(xs)/2],
		P95:    xs[idx],
	}
}
