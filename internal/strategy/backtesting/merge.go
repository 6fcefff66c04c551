package backtesting

import (
	"container/heap"
	"time"

	"intradayBot/internal/domain"
)

// cursor points at the next unconsumed bar of one ticker.
type cursor struct {
	ticker string
	idx    int
	ts     time.Time
}

// cursorHeap orders cursors by timestamp, then ticker.
type cursorHeap []*cursor

func (h cursorHeap) Len() int { return len(h) }

func (h cursorHeap) Less(i, j int) bool {
	if h[i].ts.Equal(h[j].ts) {
		return h[i].ticker < h[j].ticker
	}
	return h[i].ts.Before(h[j].ts)
}

func (h cursorHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *cursorHeap) Push(x any) { *h = append(*h, x.(*cursor)) }

func (h *cursorHeap) Pop() any {
	old := *h
	n := len(old)
	c := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return c
}

// event is one ticker's bar within a tick.
type event struct {
	ticker string
	idx    int
}

// tick groups every bar that shares a timestamp, ordered by ticker.
type tick struct {
	ts     time.Time
	events []event
}

// merger performs a k-way merge of per-ticker bar series into ticks.
type merger struct {
	series map[string][]*domain.Bar
	h      cursorHeap
}

func newMerger(series map[string][]*domain.Bar) *merger {
	m := &merger{series: series}
	for ticker, bars := range series {
		if len(bars) > 0 {
			m.h = append(m.h, &cursor{ticker: ticker, idx: 0, ts: bars[0].Timestamp})
		}
	}
	heap.Init(&m.h)
	return m
}

// next returns the next tick, or false when every series is consumed.
func (m *merger) next() (tick, bool) {
	if m.h.Len() == 0 {
		return tick{}, false
	}
	t := tick{ts: m.h[0].ts}
	for m.h.Len() > 0 && m.h[0].ts.Equal(t.ts) {
		c := heap.Pop(&m.h).(*cursor)
		t.events = append(t.events, event{ticker: c.ticker, idx: c.idx})
		if c.idx+1 < len(m.series[c.ticker]) {
			c.idx++
			c.ts = m.series[c.ticker][c.idx].Timestamp
			heap.Push(&m.h, c)
		}
	}
	return t, true
}
