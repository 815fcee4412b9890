package replay

import (
	"context"
	"log/slog"

	"replaylab/internal/domain"
	"replaylab/internal/strategy"
)

// Result holds the artifacts of one completed replay run.
type Result struct {
	// Trades are the closed round trips in close order.
	Trades []domain.TradeRecord
	// Equity is the per-step equity curve.
	Equity []domain.EquityPoint
	// Orders are all orders that reached a terminal state, in submission
	// order.
	Orders []domain.Order
}

// Runner drives one strategy over one bar feed through a fresh SimBroker.
// The loop is strictly single-threaded and synchronous: fills, order
// updates, the strategy callback, and the equity snapshot execute in
// lockstep per timestamp, which is what makes determinism and
// lookahead-freedom provable.
type Runner struct {
	feed   *Feed
	broker *SimBroker
	strat  strategy.Strategy
	log    *slog.Logger
}

// NewRunner creates a Runner over the feed with its own SimBroker. The
// params must have passed Validate.
func NewRunner(feed *Feed, params domain.ReplayParams, strat strategy.Strategy, log *slog.Logger) *Runner {
	if log == nil {
		log = slog.Default()
	}
	return &Runner{
		feed:   feed,
		broker: NewSimBroker(params),
		strat:  strat,
		log:    log.With("strategy", strat.Name()),
	}
}

// Broker exposes the run's broker facade, mainly for tests.
func (r *Runner) Broker() *SimBroker { return r.broker }

// Run executes the replay loop until the feed is exhausted or ctx is
// canceled. Sequencing per timestamp:
//
//  1. expire day orders if the trading date rolled over
//  2. observe every bar at this timestamp (symbol order)
//  3. evaluate fills for activated working orders
//  4. deliver queued order updates to the strategy
//  5. deliver each bar to the strategy
//  6. record the post-step equity snapshot
//
// The strategy at bar t therefore only ever observes data with
// timestamp <= t.
func (r *Runner) Run(ctx context.Context) (*Result, error) {
	r.feed.Restart()
	if err := r.strat.Init(ctx, r.broker); err != nil {
		return nil, err
	}

	res := &Result{}
	barIndex := -1
	var pending *domain.Bar

	group := make([]domain.Bar, 0, 4)
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		// Gather all bars sharing the next timestamp.
		group = group[:0]
		if pending != nil {
			group = append(group, *pending)
			pending = nil
		} else {
			b, ok := r.feed.Next()
			if !ok {
				break
			}
			group = append(group, b)
		}
		for {
			b, ok := r.feed.Next()
			if !ok {
				break
			}
			if !b.Timestamp.Equal(group[0].Timestamp) {
				pending = &b
				break
			}
			group = append(group, b)
		}

		barIndex++
		ts := group[0].Timestamp

		// Session rollover: expire day-order remainders before the new
		// date's bars are processed.
		if len(res.Equity) > 0 && !sameSession(res.Equity[len(res.Equity)-1].Timestamp, ts) {
			r.broker.ExpireDayOrders()
		}

		r.broker.SetClock(ts, barIndex)
		for _, b := range group {
			r.broker.ObserveBar(b)
		}
		for _, b := range group {
			r.broker.EvaluateFills(b)
		}
		for _, u := range r.broker.DrainUpdates() {
			if err := r.strat.OnOrderUpdate(ctx, r.broker, u); err != nil {
				return nil, err
			}
		}
		for _, b := range group {
			if err := r.strat.OnBar(ctx, r.broker, b); err != nil {
				return nil, err
			}
		}
		res.Equity = append(res.Equity, r.broker.Snapshot())
	}

	// End of data terminates the final session.
	r.broker.ExpireDayOrders()
	for _, u := range r.broker.DrainUpdates() {
		if err := r.strat.OnOrderUpdate(ctx, r.broker, u); err != nil {
			return nil, err
		}
	}

	res.Trades = r.broker.Trades()
	res.Orders = r.broker.TerminalOrders()
	r.log.Debug("replay complete",
		"bars", r.feed.Len(),
		"steps", len(res.Equity),
		"trades", len(res.Trades),
	)
	return res, nil
}
