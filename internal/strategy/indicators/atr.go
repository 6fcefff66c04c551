package indicators

import (
	"github.com/shopspring/decimal"
)

// ATR is an incremental Average True Range using Wilder's smoothing.
// True range needs the previous close, so the first bar only seeds it and
// the first ATR (the mean of period true ranges) arrives on bar period+1.
type ATR struct {
	period    int
	prevClose decimal.Decimal
	hasPrev   bool
	ranges    int
	atr       decimal.Decimal
}

// NewATR creates an ATR with the given period.
func NewATR(period int) *ATR {
	return &ATR{period: period}
}

// TrueRange returns the greatest of high-low, |high-prevClose| and |low-prevClose|.
func TrueRange(high, low, prevClose decimal.Decimal) decimal.Decimal {
	tr := high.Sub(low)
	tr = decimal.Max(tr, high.Sub(prevClose).Abs())
	return decimal.Max(tr, low.Sub(prevClose).Abs())
}

// Update adds a bar's high, low and close and returns the current ATR.
func (a *ATR) Update(high, low, closePrice decimal.Decimal) Value {
	if !a.hasPrev {
		a.prevClose = closePrice
		a.hasPrev = true
		return Value{}
	}

	tr := TrueRange(high, low, a.prevClose)
	a.prevClose = closePrice

	n := decimal.NewFromInt(int64(a.period))
	a.ranges++
	switch {
	case a.ranges < a.period:
		a.atr = a.atr.Add(tr)
		return Value{}
	case a.ranges == a.period:
		a.atr = a.atr.Add(tr).Div(n)
	default:
		a.atr = a.atr.Mul(decimal.NewFromInt(int64(a.period - 1))).Add(tr).Div(n)
	}
	return Available(a.atr)
}
