package replay

import (
	"fmt"
	"sort"
	"time"

	"replaylab/internal/domain"
)

// Feed is a lazy, finite, restartable sequence of bars drawn from a
// pre-loaded dataset. Bars are ordered strictly by timestamp, then by
// lexicographic symbol for same-timestamp cross-symbol bars. Each replay
// run owns its Feed exclusively; no I/O happens after construction.
type Feed struct {
	bars     []domain.Bar
	interval time.Duration
	pos      int
}

// NewFeed builds a Feed over the bars of the requested symbols (nil or
// empty means all symbols present). It validates the timeline up front:
// per-symbol timestamps must be strictly increasing with no duplicates, and
// unless allowGaps is set, consecutive bars within one trading date must be
// exactly interval apart. The jump across a session boundary (overnight,
// weekend) is not a gap. Violations return a *domain.DataGapError.
func NewFeed(bars []domain.Bar, symbols []string, interval time.Duration, allowGaps bool) (*Feed, error) {
	if interval <= 0 {
		return nil, &domain.ParameterRangeError{Param: "interval", Reason: "must be > 0"}
	}

	var want map[string]bool
	if len(symbols) > 0 {
		want = make(map[string]bool, len(symbols))
		for _, s := range symbols {
			want[s] = true
		}
	}

	selected := make([]domain.Bar, 0, len(bars))
	for _, b := range bars {
		if want == nil || want[b.Symbol] {
			selected = append(selected, b)
		}
	}

	sort.SliceStable(selected, func(i, j int) bool {
		if !selected[i].Timestamp.Equal(selected[j].Timestamp) {
			return selected[i].Timestamp.Before(selected[j].Timestamp)
		}
		return selected[i].Symbol < selected[j].Symbol
	})

	// Timeline integrity check per symbol.
	last := make(map[string]domain.Bar)
	for _, b := range selected {
		prev, seen := last[b.Symbol]
		if seen {
			if !prev.Timestamp.Before(b.Timestamp) {
				return nil, fmt.Errorf("bars for %s not strictly increasing at %s",
					b.Symbol, b.Timestamp.Format(time.RFC3339))
			}
			if !allowGaps && sameSession(prev.Timestamp, b.Timestamp) {
				if b.Timestamp.Sub(prev.Timestamp) != interval {
					return nil, &domain.DataGapError{
						Symbol:   b.Symbol,
						Prev:     prev.Timestamp,
						Next:     b.Timestamp,
						Expected: interval,
					}
				}
			}
		}
		last[b.Symbol] = b
	}

	return &Feed{bars: selected, interval: interval}, nil
}

// sameSession reports whether two timestamps fall on the same trading date,
// evaluated in the first timestamp's location.
func sameSession(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.In(a.Location()).Date()
	return ay == by && am == bm && ad == bd
}

// Next returns the next bar in sequence. The second return value is false
// once the feed is exhausted.
func (f *Feed) Next() (domain.Bar, bool) {
	if f.pos >= len(f.bars) {
		return domain.Bar{}, false
	}
	b := f.bars[f.pos]
	f.pos++
	return b, true
}

// Restart rewinds the feed to the beginning so the same run can be replayed
// from scratch.
func (f *Feed) Restart() { f.pos = 0 }

// Len returns the total number of bars in the feed.
func (f *Feed) Len() int { return len(f.bars) }

// Interval returns the feed's resolution interval.
func (f *Feed) Interval() time.Duration { return f.interval }
