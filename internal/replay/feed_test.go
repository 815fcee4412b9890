package replay

import (
	"errors"
	"testing"
	"time"

	"replaylab/internal/domain"
)

func dailyTS(day int) time.Time {
	return time.Date(2024, 1, day, 21, 0, 0, 0, time.UTC)
}

func dailyBars(symbol string, days []int, closeP float64) []domain.Bar {
	out := make([]domain.Bar, 0, len(days))
	for _, d := range days {
		out = append(out, mkBar(symbol, dailyTS(d), closeP, closeP, closeP, closeP, 1000))
	}
	return out
}

func TestFeedOrdering(t *testing.T) {
	// Same-timestamp bars across symbols come out in symbol order; earlier
	// timestamps first regardless of input order.
	bars := []domain.Bar{
		mkBar("MSFT", dailyTS(2), 1, 1, 1, 1, 10),
		mkBar("AAPL", dailyTS(2), 1, 1, 1, 1, 10),
		mkBar("AAPL", dailyTS(1), 1, 1, 1, 1, 10),
		mkBar("MSFT", dailyTS(1), 1, 1, 1, 1, 10),
	}
	feed, err := NewFeed(bars, nil, 24*time.Hour, false)
	if err != nil {
		t.Fatalf("NewFeed: %v", err)
	}

	var got []string
	for {
		b, ok := feed.Next()
		if !ok {
			break
		}
		got = append(got, b.Symbol+"@"+b.Timestamp.Format("02"))
	}
	want := []string{"AAPL@01", "MSFT@01", "AAPL@02", "MSFT@02"}
	if len(got) != len(want) {
		t.Fatalf("got %d bars, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("bar %d = %s, want %s", i, got[i], want[i])
		}
	}
}

func TestFeedDetectsIntradayGap(t *testing.T) {
	base := time.Date(2024, 1, 2, 14, 31, 0, 0, time.UTC)
	bars := []domain.Bar{
		mkBar("AAPL", base, 1, 1, 1, 1, 10),
		mkBar("AAPL", base.Add(time.Minute), 1, 1, 1, 1, 10),
		mkBar("AAPL", base.Add(3*time.Minute), 1, 1, 1, 1, 10), // minute missing
	}

	_, err := NewFeed(bars, nil, time.Minute, false)
	var gap *domain.DataGapError
	if !errors.As(err, &gap) {
		t.Fatalf("err = %v, want *domain.DataGapError", err)
	}
	if gap.Symbol != "AAPL" {
		t.Errorf("gap.Symbol = %s, want AAPL", gap.Symbol)
	}
	if gap.Expected != time.Minute {
		t.Errorf("gap.Expected = %v, want 1m", gap.Expected)
	}
}

func TestFeedAllowGaps(t *testing.T) {
	base := time.Date(2024, 1, 2, 14, 31, 0, 0, time.UTC)
	bars := []domain.Bar{
		mkBar("AAPL", base, 1, 1, 1, 1, 10),
		mkBar("AAPL", base.Add(3*time.Minute), 1, 1, 1, 1, 10),
	}
	if _, err := NewFeed(bars, nil, time.Minute, true); err != nil {
		t.Fatalf("allowGaps feed: %v", err)
	}
}

func TestFeedSessionBoundaryNotGap(t *testing.T) {
	// Friday close to Monday bar: different trading dates, no gap check.
	bars := []domain.Bar{
		mkBar("AAPL", dailyTS(5), 1, 1, 1, 1, 10), // Fri
		mkBar("AAPL", dailyTS(8), 1, 1, 1, 1, 10), // Mon
	}
	if _, err := NewFeed(bars, nil, 24*time.Hour, false); err != nil {
		t.Fatalf("weekend boundary flagged as gap: %v", err)
	}

	// Overnight for intraday bars likewise.
	intraday := []domain.Bar{
		mkBar("AAPL", time.Date(2024, 1, 2, 20, 59, 0, 0, time.UTC), 1, 1, 1, 1, 10),
		mkBar("AAPL", time.Date(2024, 1, 3, 14, 31, 0, 0, time.UTC), 1, 1, 1, 1, 10),
	}
	if _, err := NewFeed(intraday, nil, time.Minute, false); err != nil {
		t.Fatalf("overnight boundary flagged as gap: %v", err)
	}
}

func TestFeedRejectsDuplicateTimestamp(t *testing.T) {
	bars := []domain.Bar{
		mkBar("AAPL", dailyTS(1), 1, 1, 1, 1, 10),
		mkBar("AAPL", dailyTS(1), 1, 1, 1, 1, 10),
	}
	if _, err := NewFeed(bars, nil, 24*time.Hour, false); err == nil {
		t.Fatal("duplicate per-symbol timestamp must be rejected")
	}
}

func TestFeedSymbolFilter(t *testing.T) {
	bars := append(dailyBars("AAPL", []int{1, 2}, 100), dailyBars("MSFT", []int{1, 2}, 200)...)
	feed, err := NewFeed(bars, []string{"MSFT"}, 24*time.Hour, false)
	if err != nil {
		t.Fatalf("NewFeed: %v", err)
	}
	if feed.Len() != 2 {
		t.Fatalf("Len = %d, want 2", feed.Len())
	}
	b, _ := feed.Next()
	if b.Symbol != "MSFT" {
		t.Errorf("Symbol = %s, want MSFT", b.Symbol)
	}
}

func TestFeedRestart(t *testing.T) {
	feed, err := NewFeed(dailyBars("AAPL", []int{1, 2, 3}, 100), nil, 24*time.Hour, false)
	if err != nil {
		t.Fatalf("NewFeed: %v", err)
	}
	first, _ := feed.Next()
	for {
		if _, ok := feed.Next(); !ok {
			break
		}
	}
	feed.Restart()
	again, ok := feed.Next()
	if !ok {
		t.Fatal("feed empty after Restart")
	}
	if !again.Timestamp.Equal(first.Timestamp) {
		t.Errorf("restarted feed starts at %v, want %v", again.Timestamp, first.Timestamp)
	}
}

func TestFeedBadInterval(t *testing.T) {
	_, err := NewFeed(nil, nil, 0, false)
	var pre *domain.ParameterRangeError
	if !errors.As(err, &pre) {
		t.Fatalf("err = %v, want *domain.ParameterRangeError", err)
	}
}
