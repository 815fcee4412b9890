// Package walkforward implements walk-forward evaluation: it partitions the
// bar timeline into in-sample/out-of-sample windows, grid-searches strategy
// parameters in-sample through the replay engine, scores candidates under
// an objective with hard constraints, and validates each window's winner
// out-of-sample.
package walkforward

import (
	"context"
	"log/slog"
	"math"
	"runtime"
	"sort"
	"sync"
	"time"

	"replaylab/internal/domain"
	"replaylab/internal/metrics"
	"replaylab/internal/replay"
	"replaylab/internal/strategy"
)

// ---------------------------------------------------------------------------
// Windowing
// ---------------------------------------------------------------------------

// WindowSpec slices the timeline by trading days.
type WindowSpec struct {
	InSampleDays  int `yaml:"in_sample_days"`
	OutSampleDays int `yaml:"out_sample_days"`
	StepDays      int `yaml:"step_days"`
}

// Validate checks the window spec ranges.
func (s WindowSpec) Validate() error {
	if s.InSampleDays <= 0 {
		return &domain.ParameterRangeError{Param: "in_sample_days", Reason: "must be > 0"}
	}
	if s.OutSampleDays <= 0 {
		return &domain.ParameterRangeError{Param: "out_sample_days", Reason: "must be > 0"}
	}
	if s.StepDays <= 0 {
		return &domain.ParameterRangeError{Param: "step_days", Reason: "must be > 0"}
	}
	return nil
}

// Window is one (in-sample, out-of-sample) pair, expressed as half-open
// index ranges into the sorted list of distinct trading days.
type Window struct {
	Index    int
	ISStart  int
	ISEnd    int
	OOSStart int
	OOSEnd   int
}

// Partition produces the window sequence over numDays trading days.
// Consecutive windows advance by StepDays; a step smaller than the
// in-sample length yields overlapping in-sample ranges, which is supported
// deliberately. A final pair that would run past the data is not emitted.
func (s WindowSpec) Partition(numDays int) ([]Window, error) {
	if err := s.Validate(); err != nil {
		return nil, err
	}
	span := s.InSampleDays + s.OutSampleDays
	if numDays < span {
		return nil, &domain.ParameterRangeError{
			Param:  "window",
			Reason: "timeline shorter than one in-sample + out-of-sample span",
		}
	}
	var windows []Window
	for start := 0; start+span <= numDays; start += s.StepDays {
		windows = append(windows, Window{
			Index:    len(windows),
			ISStart:  start,
			ISEnd:    start + s.InSampleDays,
			OOSStart: start + s.InSampleDays,
			OOSEnd:   start + span,
		})
	}
	return windows, nil
}

// TradingDays returns the sorted distinct trading dates present in bars,
// keyed by calendar date in each bar's own location.
func TradingDays(bars []domain.Bar) []string {
	seen := make(map[string]bool)
	var days []string
	for _, b := range bars {
		d := b.Timestamp.Format("2006-01-02")
		if !seen[d] {
			seen[d] = true
			days = append(days, d)
		}
	}
	sort.Strings(days)
	return days
}

// sliceBars returns the bars whose trading date falls in days[from:to].
func sliceBars(bars []domain.Bar, days []string, from, to int) []domain.Bar {
	want := make(map[string]bool, to-from)
	for _, d := range days[from:to] {
		want[d] = true
	}
	var out []domain.Bar
	for _, b := range bars {
		if want[b.Timestamp.Format("2006-01-02")] {
			out = append(out, b)
		}
	}
	return out
}

// ---------------------------------------------------------------------------
// Grid, objective, constraints
// ---------------------------------------------------------------------------

// Grid maps parameter names to candidate values.
type Grid map[string][]float64

// Expand enumerates the full cross product deterministically: parameter
// names sorted, values in declared order, row-major. An empty grid yields a
// single empty parameter set; a dimension with no values is malformed.
func (g Grid) Expand() ([]strategy.Params, error) {
	names := make([]string, 0, len(g))
	for name := range g {
		if len(g[name]) == 0 {
			return nil, &domain.ParameterRangeError{Param: name, Reason: "grid dimension has no values"}
		}
		names = append(names, name)
	}
	sort.Strings(names)

	out := []strategy.Params{{}}
	for _, name := range names {
		next := make([]strategy.Params, 0, len(out)*len(g[name]))
		for _, base := range out {
			for _, v := range g[name] {
				p := base.Clone()
				p[name] = v
				next = append(next, p)
			}
		}
		out = next
	}
	return out, nil
}

// Objective selects the in-sample score a candidate is ranked by.
type Objective string

const (
	ObjectiveExpectancy Objective = "expectancy"
	ObjectiveNetPnL     Objective = "net_pnl"
)

// Validate checks the objective is a known value.
func (o Objective) Validate() error {
	switch o {
	case ObjectiveExpectancy, ObjectiveNetPnL:
		return nil
	}
	return &domain.ParameterRangeError{Param: "objective", Reason: "must be expectancy or net_pnl"}
}

// Score extracts the objective value from a metric summary.
func (o Objective) Score(s metrics.Summary) float64 {
	if o == ObjectiveNetPnL {
		return s.NetPnL
	}
	return s.Expectancy
}

// Constraints are hard gates on in-sample candidates. A violating candidate
// is disqualified outright, not penalized. A zero value disables the
// corresponding gate.
type Constraints struct {
	MaxDrawdown    float64 `yaml:"max_drawdown"`     // largest tolerated peak-to-trough decline
	MaxTradeLoss   float64 `yaml:"max_trade_loss"`   // largest tolerated single-trade loss
	MaxTurnover    float64 `yaml:"max_turnover"`     // gross traded notional ceiling
	MaxTimeInTrade float64 `yaml:"max_time_in_trade"` // fraction of bars in market
	MinTrades      int     `yaml:"min_trades"`       // minimum closed trades to qualify
}

// Check returns an empty string when the summary qualifies, otherwise a
// human-readable disqualification reason. Disqualification is a normal
// outcome recorded in the report, not an error.
func (c Constraints) Check(s metrics.Summary) string {
	if c.MaxDrawdown > 0 && s.MaxDrawdown > c.MaxDrawdown {
		return "max drawdown exceeded"
	}
	if c.MaxTradeLoss > 0 && -s.WorstTrade > c.MaxTradeLoss {
		return "worst single trade exceeded"
	}
	if c.MaxTurnover > 0 && s.Turnover > c.MaxTurnover {
		return "turnover exceeded"
	}
	if c.MaxTimeInTrade > 0 && s.TimeInTrade > c.MaxTimeInTrade {
		return "time in trade exceeded"
	}
	if c.MinTrades > 0 && s.Trades < c.MinTrades {
		return "too few trades"
	}
	return ""
}

// ---------------------------------------------------------------------------
// Controller
// ---------------------------------------------------------------------------

// Config assembles everything one walk-forward evaluation needs.
type Config struct {
	Window      WindowSpec
	Grid        Grid
	Objective   Objective
	Constraints Constraints
	Workers     int // <= 0 means GOMAXPROCS
	Replay      domain.ReplayParams
	Symbols     []string
	Interval    time.Duration
	AllowGaps   bool
}

// CandidateResult records one in-sample grid evaluation.
type CandidateResult struct {
	Index        int
	Params       strategy.Params
	Summary      metrics.Summary
	Score        float64
	Disqualified string // empty when the candidate qualifies
}

// WindowResult is the per-window structured record: the winning parameters
// and the paired in-sample/out-of-sample metrics.
type WindowResult struct {
	Window     Window
	Params     strategy.Params // nil when no candidate qualified
	InSample   metrics.Summary
	OutSample  metrics.Summary
	Candidates []CandidateResult
	OOSTrades  []domain.TradeRecord
	OOSEquity  []domain.EquityPoint
}

// Report aggregates per-window out-of-sample metrics.
type Report struct {
	Windows           []WindowResult
	EvaluatedWindows  int // windows that produced a qualifying winner
	MeanOOSExpectancy float64
	StdOOSExpectancy  float64
	MeanOOSNetPnL     float64
	StdOOSNetPnL      float64
}

// Controller runs the walk-forward protocol over a pre-loaded dataset.
type Controller struct {
	bars    []domain.Bar
	factory strategy.Factory
	cfg     Config
	log     *slog.Logger
}

// New creates a Controller. The dataset is shared read-only across runs;
// every individual run builds its own feed, broker, and strategy instance.
func New(bars []domain.Bar, factory strategy.Factory, cfg Config, log *slog.Logger) *Controller {
	if log == nil {
		log = slog.Default()
	}
	return &Controller{bars: bars, factory: factory, cfg: cfg, log: log.With("component", "walkforward")}
}

// Run executes the full walk-forward evaluation. Malformed specs fail here,
// before any replay starts.
func (c *Controller) Run(ctx context.Context) (*Report, error) {
	if err := c.cfg.Replay.Validate(); err != nil {
		return nil, err
	}
	if err := c.cfg.Objective.Validate(); err != nil {
		return nil, err
	}
	candidates, err := c.cfg.Grid.Expand()
	if err != nil {
		return nil, err
	}
	days := TradingDays(c.bars)
	windows, err := c.cfg.Window.Partition(len(days))
	if err != nil {
		return nil, err
	}

	report := &Report{}
	for _, w := range windows {
		isBars := sliceBars(c.bars, days, w.ISStart, w.ISEnd)
		results, err := c.searchGrid(ctx, isBars, candidates)
		if err != nil {
			return nil, err
		}

		wr := WindowResult{Window: w, Candidates: results}
		if best := pickWinner(results); best != nil {
			wr.Params = best.Params
			wr.InSample = best.Summary

			oosBars := sliceBars(c.bars, days, w.OOSStart, w.OOSEnd)
			oosSum, oosRes, err := c.runOne(ctx, oosBars, best.Params)
			if err != nil {
				return nil, err
			}
			wr.OutSample = oosSum
			wr.OOSTrades = oosRes.Trades
			wr.OOSEquity = oosRes.Equity
			c.log.Info("window evaluated",
				"window", w.Index,
				"oos_expectancy", oosSum.Expectancy,
				"oos_net_pnl", oosSum.NetPnL,
			)
		} else {
			c.log.Info("window had no qualifying candidate", "window", w.Index)
		}
		report.Windows = append(report.Windows, wr)
	}

	aggregate(report)
	return report, nil
}

// searchGrid evaluates every candidate over the in-sample bars on a worker
// pool. Runs share no mutable state; results are indexed by candidate so
// worker scheduling cannot affect the outcome.
func (c *Controller) searchGrid(ctx context.Context, bars []domain.Bar, candidates []strategy.Params) ([]CandidateResult, error) {
	workers := c.cfg.Workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	if workers > len(candidates) {
		workers = len(candidates)
	}

	results := make([]CandidateResult, len(candidates))
	errs := make([]error, len(candidates))
	jobs := make(chan int)

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for idx := range jobs {
				sum, _, err := c.runOne(ctx, bars, candidates[idx])
				if err != nil {
					errs[idx] = err
					continue
				}
				r := CandidateResult{
					Index:        idx,
					Params:       candidates[idx],
					Summary:      sum,
					Score:        c.cfg.Objective.Score(sum),
					Disqualified: c.cfg.Constraints.Check(sum),
				}
				results[idx] = r
			}
		}()
	}

	for idx := range candidates {
		select {
		case <-ctx.Done():
			close(jobs)
			wg.Wait()
			return nil, ctx.Err()
		case jobs <- idx:
		}
	}
	close(jobs)
	wg.Wait()

	for _, err := range errs {
		if err != nil {
			return nil, err
		}
	}
	return results, nil
}

// runOne executes a single replay over bars with a fresh broker and
// strategy instance.
func (c *Controller) runOne(ctx context.Context, bars []domain.Bar, params strategy.Params) (metrics.Summary, *replay.Result, error) {
	feed, err := replay.NewFeed(bars, c.cfg.Symbols, c.cfg.Interval, c.cfg.AllowGaps)
	if err != nil {
		return metrics.Summary{}, nil, err
	}
	runner := replay.NewRunner(feed, c.cfg.Replay, c.factory(params), c.log)
	res, err := runner.Run(ctx)
	if err != nil {
		return metrics.Summary{}, nil, err
	}
	return metrics.Summarize(res.Trades, res.Equity), res, nil
}

// pickWinner selects the qualifying candidate with the best objective
// value; ties break to the lower turnover, then the lower candidate index
// so the selection is reproducible.
func pickWinner(results []CandidateResult) *CandidateResult {
	var best *CandidateResult
	for i := range results {
		r := &results[i]
		if r.Disqualified != "" {
			continue
		}
		switch {
		case best == nil:
			best = r
		case r.Score > best.Score:
			best = r
		case r.Score == best.Score && r.Summary.Turnover < best.Summary.Turnover:
			best = r
		}
	}
	return best
}

func aggregate(report *Report) {
	var exp, pnl []float64
	for _, w := range report.Windows {
		if w.Params == nil {
			continue
		}
		exp = append(exp, w.OutSample.Expectancy)
		pnl = append(pnl, w.OutSample.NetPnL)
	}
	report.EvaluatedWindows = len(exp)
	report.MeanOOSExpectancy, report.StdOOSExpectancy = meanStd(exp)
	report.MeanOOSNetPnL, report.StdOOSNetPnL = meanStd(pnl)
}

func meanStd(xs []float64) (mean, std float64) {
	if len(xs) == 0 {
		return 0, 0
	}
	for _, x := range xs {
		mean += x
	}
	mean /= float64(len(xs))
	for _, x := range xs {
		std += (x - mean) * (x - mean)
	}
	std = math.Sqrt(std / float64(len(xs)))
	return mean, std
}
