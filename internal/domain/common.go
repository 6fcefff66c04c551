package domain

// OrderSide represents the side of a simulated fill (BUY or SELL).
type OrderSide string

const (
	Buy  OrderSide = "BUY"
	Sell OrderSide = "SELL"
)

// SignalKind is the decision produced by the signal evaluator.
type SignalKind string

const (
	SignalNone      SignalKind = "NONE"
	SignalEnterLong SignalKind = "ENTER_LONG"
	SignalExit      SignalKind = "EXIT"
)

// LifecycleState is the per-ticker position state.
type LifecycleState string

const (
	StateFlat         LifecycleState = "FLAT"
	StatePendingEntry LifecycleState = "PENDING_ENTRY"
	StateOpen         LifecycleState = "OPEN"
	StatePendingExit  LifecycleState = "PENDING_EXIT"
	StateClosed       LifecycleState = "CLOSED"
)

// ExitReason indicates why a position was closed.
type ExitReason string

const (
	ExitReasonNone         ExitReason = ""
	ExitReasonStopLoss     ExitReason = "stop-loss"
	ExitReasonTrailingStop ExitReason = "trailing-stop"
	ExitReasonTakeProfit   ExitReason = "take-profit"
	ExitReasonTimeStop     ExitReason = "time-stop"
)

// RejectReason is the code attached to a signal that did not become a position.
type RejectReason string

const (
	RejectHalted              RejectReason = "halted"
	RejectDailyLossLimit      RejectReason = "daily-loss-limit"
	RejectMaxConcurrent       RejectReason = "max-concurrent-positions"
	RejectMaxSector           RejectReason = "max-sector-positions"
	RejectInsufficientSize    RejectReason = "insufficient-size"
	RejectInsufficientCapital RejectReason = "insufficient-capital"
	RejectFillNoLiquidity     RejectReason = "fill-no-liquidity"
	RejectFillCapital         RejectReason = "fill-insufficient-capital"
)
