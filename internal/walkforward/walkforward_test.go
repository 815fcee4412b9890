package walkforward

import (
	"context"
	"reflect"
	"testing"
	"time"

	"replaylab/internal/broker"
	"replaylab/internal/domain"
	"replaylab/internal/metrics"
	"replaylab/internal/strategy"
)

func TestPartitionCanonicalExample(t *testing.T) {
	spec := WindowSpec{InSampleDays: 60, OutSampleDays: 20, StepDays: 20}
	windows, err := spec.Partition(200)
	if err != nil {
		t.Fatalf("Partition: %v", err)
	}
	if len(windows) != 7 {
		t.Fatalf("got %d windows, want 7", len(windows))
	}

	first := windows[0]
	if first.ISStart != 0 || first.ISEnd != 60 || first.OOSStart != 60 || first.OOSEnd != 80 {
		t.Errorf("first window = %+v", first)
	}
	last := windows[6]
	if last.ISStart != 120 || last.OOSEnd != 200 {
		t.Errorf("last window = %+v, want IS start 120 and OOS end 200", last)
	}
	for i, w := range windows {
		if w.Index != i {
			t.Errorf("window %d has Index %d", i, w.Index)
		}
	}
}

func TestPartitionOverlappingStep(t *testing.T) {
	spec := WindowSpec{InSampleDays: 10, OutSampleDays: 5, StepDays: 5}
	windows, err := spec.Partition(25)
	if err != nil {
		t.Fatalf("Partition: %v", err)
	}
	// Starts 0, 5, 10; 15 + span 15 = 30 > 25 is not emitted.
	if len(windows) != 3 {
		t.Fatalf("got %d windows, want 3", len(windows))
	}
	if windows[1].ISStart != 5 {
		t.Errorf("second window ISStart = %d, want 5", windows[1].ISStart)
	}
}

func TestPartitionTooShort(t *testing.T) {
	spec := WindowSpec{InSampleDays: 60, OutSampleDays: 20, StepDays: 20}
	if _, err := spec.Partition(79); err == nil {
		t.Fatal("timeline shorter than one span must be rejected")
	}
}

func TestWindowSpecValidate(t *testing.T) {
	bad := []WindowSpec{
		{InSampleDays: 0, OutSampleDays: 1, StepDays: 1},
		{InSampleDays: 1, OutSampleDays: 0, StepDays: 1},
		{InSampleDays: 1, OutSampleDays: 1, StepDays: 0},
	}
	for i, spec := range bad {
		if err := spec.Validate(); err == nil {
			t.Errorf("case %d: expected validation error", i)
		}
	}
}

func TestGridExpandDeterministic(t *testing.T) {
	g := Grid{"long": {30, 40}, "short": {10, 20}}
	got, err := g.Expand()
	if err != nil {
		t.Fatalf("Expand: %v", err)
	}
	want := []strategy.Params{
		{"long": 30, "short": 10},
		{"long": 30, "short": 20},
		{"long": 40, "short": 10},
		{"long": 40, "short": 20},
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Expand = %v, want %v", got, want)
	}
}

func TestGridExpandEdgeCases(t *testing.T) {
	got, err := Grid{}.Expand()
	if err != nil {
		t.Fatalf("empty grid: %v", err)
	}
	if len(got) != 1 || len(got[0]) != 0 {
		t.Errorf("empty grid expands to %v, want one empty set", got)
	}

	if _, err := (Grid{"x": {}}).Expand(); err == nil {
		t.Error("empty grid dimension must be rejected")
	}
}

func TestObjectiveValidateAndScore(t *testing.T) {
	if err := Objective("sharpe").Validate(); err == nil {
		t.Error("unknown objective must be rejected")
	}
	s := metrics.Summary{Expectancy: 2.5, NetPnL: 100}
	if got := ObjectiveExpectancy.Score(s); got != 2.5 {
		t.Errorf("expectancy score = %v", got)
	}
	if got := ObjectiveNetPnL.Score(s); got != 100 {
		t.Errorf("net_pnl score = %v", got)
	}
}

func TestConstraintsCheck(t *testing.T) {
	c := Constraints{MaxDrawdown: 500, MaxTradeLoss: 100, MinTrades: 3}

	ok := metrics.Summary{Trades: 5, MaxDrawdown: 100, WorstTrade: -50}
	if reason := c.Check(ok); reason != "" {
		t.Errorf("qualifying summary disqualified: %s", reason)
	}

	cases := []metrics.Summary{
		{Trades: 5, MaxDrawdown: 600},
		{Trades: 5, WorstTrade: -150},
		{Trades: 2},
	}
	for i, s := range cases {
		if reason := c.Check(s); reason == "" {
			t.Errorf("case %d: expected disqualification", i)
		}
	}

	// Zero values disable gates entirely.
	if reason := (Constraints{}).Check(metrics.Summary{MaxDrawdown: 1e9}); reason != "" {
		t.Errorf("disabled gate fired: %s", reason)
	}
}

func TestPickWinnerTieBreaks(t *testing.T) {
	results := []CandidateResult{
		{Index: 0, Score: 1, Summary: metrics.Summary{Turnover: 100}},
		{Index: 1, Score: 2, Summary: metrics.Summary{Turnover: 100}},
		{Index: 2, Score: 2, Summary: metrics.Summary{Turnover: 50}},
		{Index: 3, Score: 2, Summary: metrics.Summary{Turnover: 50}},
		{Index: 4, Score: 3, Disqualified: "max drawdown exceeded"},
	}
	best := pickWinner(results)
	if best == nil {
		t.Fatal("no winner picked")
	}
	// Best score 2 among qualified; lower turnover wins; equal turnover
	// keeps the earlier index.
	if best.Index != 2 {
		t.Errorf("winner Index = %d, want 2", best.Index)
	}
}

func TestPickWinnerAllDisqualified(t *testing.T) {
	results := []CandidateResult{
		{Index: 0, Score: 5, Disqualified: "too few trades"},
	}
	if best := pickWinner(results); best != nil {
		t.Errorf("winner = %+v, want nil", best)
	}
}

func TestTradingDays(t *testing.T) {
	mk := func(day, hour int) domain.Bar {
		return domain.Bar{Symbol: "AAPL", Timestamp: time.Date(2024, 1, day, hour, 0, 0, 0, time.UTC)}
	}
	bars := []domain.Bar{mk(3, 15), mk(1, 15), mk(1, 16), mk(2, 15)}
	days := TradingDays(bars)
	want := []string{"2024-01-01", "2024-01-02", "2024-01-03"}
	if !reflect.DeepEqual(days, want) {
		t.Errorf("TradingDays = %v, want %v", days, want)
	}
}

// ---------------------------------------------------------------------------
// End-to-end controller run
// ---------------------------------------------------------------------------

type noopStrategy struct{}

func (noopStrategy) Name() string                                        { return "noop" }
func (noopStrategy) Init(context.Context, broker.API) error              { return nil }
func (noopStrategy) OnBar(context.Context, broker.API, domain.Bar) error { return nil }
func (noopStrategy) OnOrderUpdate(context.Context, broker.API, domain.OrderUpdate) error {
	return nil
}

func testControllerConfig() Config {
	return Config{
		Window:    WindowSpec{InSampleDays: 2, OutSampleDays: 1, StepDays: 1},
		Grid:      Grid{"x": {1, 2}},
		Objective: ObjectiveExpectancy,
		Workers:   2,
		Replay: domain.ReplayParams{
			ParticipationRate: 1,
			LatencyBars:       1,
			FillPolicy:        domain.FillPolicyTouch,
			StartingCash:      100_000,
		},
		Symbols:  []string{"AAPL"},
		Interval: 24 * time.Hour,
	}
}

func testDailyBars(days int) []domain.Bar {
	bars := make([]domain.Bar, 0, days)
	for d := 0; d < days; d++ {
		c := 100 + float64(d)
		bars = append(bars, domain.Bar{
			Symbol:    "AAPL",
			Timestamp: time.Date(2024, 1, d+1, 21, 0, 0, 0, time.UTC),
			Open:      c, High: c, Low: c, Close: c,
			Volume: 1000,
		})
	}
	return bars
}

func TestControllerRun(t *testing.T) {
	factory := func(strategy.Params) strategy.Strategy { return noopStrategy{} }
	ctrl := New(testDailyBars(5), factory, testControllerConfig(), nil)

	rep, err := ctrl.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	// 5 days, span 3, step 1: windows start at day 0, 1, 2.
	if len(rep.Windows) != 3 {
		t.Fatalf("got %d windows, want 3", len(rep.Windows))
	}
	if rep.EvaluatedWindows != 3 {
		t.Errorf("EvaluatedWindows = %d, want 3", rep.EvaluatedWindows)
	}
	for _, w := range rep.Windows {
		if w.Params == nil {
			t.Fatalf("window %d has no winner", w.Window.Index)
		}
		// Ties on score and turnover resolve to the first candidate.
		if w.Params["x"] != 1 {
			t.Errorf("window %d winner = %v, want x=1", w.Window.Index, w.Params)
		}
		if len(w.Candidates) != 2 {
			t.Errorf("window %d evaluated %d candidates, want 2", w.Window.Index, len(w.Candidates))
		}
	}
}

func TestControllerRunRejectsBadConfig(t *testing.T) {
	factory := func(strategy.Params) strategy.Strategy { return noopStrategy{} }

	cfg := testControllerConfig()
	cfg.Objective = "sharpe"
	if _, err := New(testDailyBars(5), factory, cfg, nil).Run(context.Background()); err == nil {
		t.Error("bad objective must fail before any replay")
	}

	cfg = testControllerConfig()
	cfg.Replay.ParticipationRate = 2
	if _, err := New(testDailyBars(5), factory, cfg, nil).Run(context.Background()); err == nil {
		t.Error("bad replay params must fail before any replay")
	}
}

func TestControllerDeterminism(t *testing.T) {
	factory := func(strategy.Params) strategy.Strategy { return noopStrategy{} }
	bars := testDailyBars(6)

	run := func(workers int) *Report {
		cfg := testControllerConfig()
		cfg.Workers = workers
		rep, err := New(bars, factory, cfg, nil).Run(context.Background())
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
		return rep
	}

	if !reflect.DeepEqual(run(1), run(4)) {
		t.Error("worker count changed the walk-forward report")
	}
}
