package indicators

import (
	"github.com/shopspring/decimal"
)

// MovingAverage is an incremental simple moving average over a fixed window.
// It keeps a ring buffer and a running sum so each update is O(1).
type MovingAverage struct {
	period int
	window []decimal.Decimal
	next   int
	count  int
	sum    decimal.Decimal
}

// NewMovingAverage creates a simple moving average with the given period.
func NewMovingAverage(period int) *MovingAverage {
	return &MovingAverage{
		period: period,
		window: make([]decimal.Decimal, period),
		sum:    decimal.Zero,
	}
}

// Period returns the lookback window length.
func (m *MovingAverage) Period() int {
	return m.period
}

// Update adds a value and returns the average of the last period values.
func (m *MovingAverage) Update(v decimal.Decimal) Value {
	if m.count == m.period {
		m.sum = m.sum.Sub(m.window[m.next])
	} else {
		m.count++
	}
	m.window[m.next] = v
	m.sum = m.sum.Add(v)
	m.next = (m.next + 1) % m.period

	if m.count < m.period {
		return Value{}
	}
	return Available(m.sum.Div(decimal.NewFromInt(int64(m.period))))
}
