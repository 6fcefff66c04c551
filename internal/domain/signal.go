package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Signal is the evaluator's decision for one ticker on one tick.
type Signal struct {
	Kind      SignalKind
	Ticker    string
	Timestamp time.Time
	Price     decimal.Decimal // Reference price the evaluator used (bar close)
	Reason    ExitReason      // Set for EXIT signals only
}

// IsNone reports whether the signal requires no action.
func (s Signal) IsNone() bool {
	return s.Kind == SignalNone || s.Kind == ""
}

// RejectedSignal records a signal that was vetoed by risk or failed to fill.
type RejectedSignal struct {
	Ticker    string
	Timestamp time.Time
	Kind      SignalKind
	Price     decimal.Decimal
	Reason    RejectReason
}
