package indicators

import (
	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// RSI is an incremental Relative Strength Index using Wilder's smoothing.
// The first average gain/loss is the simple mean of the first period price
// changes, so the first reading needs period+1 closes.
type RSI struct {
	period    int
	prevClose decimal.Decimal
	hasPrev   bool
	changes   int
	avgGain   decimal.Decimal
	avgLoss   decimal.Decimal
}

// NewRSI creates an RSI with the given period.
func NewRSI(period int) *RSI {
	return &RSI{period: period}
}

// Update adds a close and returns the current RSI.
func (r *RSI) Update(closePrice decimal.Decimal) Value {
	if !r.hasPrev {
		r.prevClose = closePrice
		r.hasPrev = true
		return Value{}
	}

	change := closePrice.Sub(r.prevClose)
	r.prevClose = closePrice
	gain, loss := decimal.Zero, decimal.Zero
	if change.IsPositive() {
		gain = change
	} else {
		loss = change.Neg()
	}

	n := decimal.NewFromInt(int64(r.period))
	r.changes++
	switch {
	case r.changes < r.period:
		r.avgGain = r.avgGain.Add(gain)
		r.avgLoss = r.avgLoss.Add(loss)
		return Value{}
	case r.changes == r.period:
		r.avgGain = r.avgGain.Add(gain).Div(n)
		r.avgLoss = r.avgLoss.Add(loss).Div(n)
	default:
		nMinus := decimal.NewFromInt(int64(r.period - 1))
		r.avgGain = r.avgGain.Mul(nMinus).Add(gain).Div(n)
		r.avgLoss = r.avgLoss.Mul(nMinus).Add(loss).Div(n)
	}

	total := r.avgGain.Add(r.avgLoss)
	if total.IsZero() {
		// Flat window: neither overbought nor oversold.
		return Available(decimal.NewFromInt(50))
	}
	// 100 - 100/(1+RS) rewritten so a zero average loss yields 100.
	return Available(hundred.Mul(r.avgGain).Div(total))
}
