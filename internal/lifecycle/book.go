// Package lifecycle tracks the position state machine of every ticker:
// FLAT -> PENDING_ENTRY -> OPEN -> PENDING_EXIT -> CLOSED (then FLAT again).
package lifecycle

import (
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"intradayBot/internal/domain"
	"intradayBot/internal/ports"
)

// EntryFill describes a simulated entry fill.
type EntryFill struct {
	Time        time.Time
	Price       decimal.Decimal // Fill price including slippage
	Reference   decimal.Decimal // Bar close the entry was signalled at
	Commission  decimal.Decimal
	StopPrice   decimal.Decimal
	TargetPrice decimal.Decimal
}

// ExitFill describes a simulated exit fill.
type ExitFill struct {
	Time       time.Time
	Price      decimal.Decimal // Fill price including slippage
	Reference  decimal.Decimal // Bar close the exit was signalled at
	Commission decimal.Decimal
}

type slot struct {
	state  domain.LifecycleState
	sector string
	shares int64
	reason domain.ExitReason
	pos    *domain.Position
}

// Book holds one state machine per ticker. It is not safe for concurrent
// use; the simulation engine is its only mutator.
type Book struct {
	slots   map[string]*slot
	tradeID int64
}

// NewBook creates an empty book with every ticker FLAT.
func NewBook() *Book {
	return &Book{slots: make(map[string]*slot)}
}

func invalid(ticker string, from domain.LifecycleState, op string) error {
	return fmt.Errorf("%w: %s on %s in state %s", ports.ErrInvariantViolation, op, ticker, from)
}

// State returns the lifecycle state of ticker.
func (b *Book) State(ticker string) domain.LifecycleState {
	if s, ok := b.slots[ticker]; ok {
		return s.state
	}
	return domain.StateFlat
}

// Position returns the open position of ticker, or nil when none is held.
func (b *Book) Position(ticker string) *domain.Position {
	if s, ok := b.slots[ticker]; ok && s.pos != nil {
		return s.pos
	}
	return nil
}

// Positions returns every held position ordered by ticker.
func (b *Book) Positions() []*domain.Position {
	out := make([]*domain.Position, 0, len(b.slots))
	for _, s := range b.slots {
		if s.pos != nil {
			out = append(out, s.pos)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Ticker < out[j].Ticker })
	return out
}

// OpenCount returns the number of held positions.
func (b *Book) OpenCount() int {
	n := 0
	for _, s := range b.slots {
		if s.pos != nil {
			n++
		}
	}
	return n
}

// BeginEntry moves a FLAT ticker to PENDING_ENTRY for an approved entry.
func (b *Book) BeginEntry(ticker, sector string, shares int64) error {
	if st := b.State(ticker); st != domain.StateFlat {
		return invalid(ticker, st, "begin entry")
	}
	if shares <= 0 {
		return fmt.Errorf("%w: begin entry on %s with %d shares", ports.ErrInvariantViolation, ticker, shares)
	}
	b.slots[ticker] = &slot{state: domain.StatePendingEntry, sector: sector, shares: shares}
	return nil
}

// ConfirmEntry opens the pending position at the given fill.
func (b *Book) ConfirmEntry(ticker string, fill EntryFill) (*domain.Position, error) {
	s, ok := b.slots[ticker]
	if !ok || s.state != domain.StatePendingEntry {
		return nil, invalid(ticker, b.State(ticker), "confirm entry")
	}
	shares := decimal.NewFromInt(s.shares)
	s.pos = &domain.Position{
		Ticker:         ticker,
		Sector:         s.sector,
		EntryTime:      fill.Time,
		EntryPrice:     fill.Price,
		EntryReference: fill.Reference,
		Shares:         s.shares,
		Notional:       fill.Price.Mul(shares),
		EntryCost:      fill.Commission,
		HighWaterMark:  fill.Reference,
		StopPrice:      fill.StopPrice,
		TargetPrice:    fill.TargetPrice,
		LastPrice:      fill.Reference,
		LastTime:       fill.Time,
	}
	s.state = domain.StateOpen
	return s.pos, nil
}

// RejectEntry returns a PENDING_ENTRY ticker to FLAT after a failed fill.
func (b *Book) RejectEntry(ticker string) error {
	if st := b.State(ticker); st != domain.StatePendingEntry {
		return invalid(ticker, st, "reject entry")
	}
	delete(b.slots, ticker)
	return nil
}

// Mark records the latest price of an open position and raises its
// high-water mark when the price makes a new high.
func (b *Book) Mark(ticker string, price decimal.Decimal, at time.Time) error {
	pos := b.Position(ticker)
	if pos == nil {
		return invalid(ticker, b.State(ticker), "mark")
	}
	pos.LastPrice = price
	pos.LastTime = at
	if price.GreaterThan(pos.HighWaterMark) {
		pos.HighWaterMark = price
	}
	return nil
}

// Trail arms the trailing stop and moves it to level if that is higher.
// The trailing stop never moves down.
func (b *Book) Trail(ticker string, level decimal.Decimal) error {
	pos := b.Position(ticker)
	if pos == nil {
		return invalid(ticker, b.State(ticker), "trail")
	}
	pos.TrailingActive = true
	if level.GreaterThan(pos.TrailingStopPrice) {
		pos.TrailingStopPrice = level
	}
	return nil
}

// BeginExit moves an OPEN ticker to PENDING_EXIT.
func (b *Book) BeginExit(ticker string, reason domain.ExitReason) error {
	s, ok := b.slots[ticker]
	if !ok || s.state != domain.StateOpen {
		return invalid(ticker, b.State(ticker), "begin exit")
	}
	s.state = domain.StatePendingExit
	s.reason = reason
	return nil
}

// ConfirmExit closes the pending exit at the given fill and returns the
// trade record. The ticker is FLAT again afterwards.
func (b *Book) ConfirmExit(ticker string, fill ExitFill) (*domain.Trade, error) {
	s, ok := b.slots[ticker]
	if !ok || s.state != domain.StatePendingExit {
		return nil, invalid(ticker, b.State(ticker), "confirm exit")
	}
	pos := s.pos
	shares := decimal.NewFromInt(pos.Shares)

	entrySlip := pos.EntryPrice.Sub(pos.EntryReference).Mul(shares)
	exitSlip := fill.Reference.Sub(fill.Price).Mul(shares)
	commission := pos.EntryCost.Add(fill.Commission)

	b.tradeID++
	trade := &domain.Trade{
		ID:             b.tradeID,
		Ticker:         ticker,
		Sector:         pos.Sector,
		EntryTime:      pos.EntryTime,
		ExitTime:       fill.Time,
		EntryPrice:     pos.EntryPrice,
		ExitPrice:      fill.Price,
		EntryReference: pos.EntryReference,
		ExitReference:  fill.Reference,
		Shares:         pos.Shares,
		GrossPNL:       fill.Reference.Sub(pos.EntryReference).Mul(shares),
		NetPNL:         fill.Price.Sub(pos.EntryPrice).Mul(shares).Sub(commission),
		PNLPercent:     fill.Price.Sub(pos.EntryPrice).Div(pos.EntryPrice),
		Commission:     commission,
		Slippage:       entrySlip.Add(exitSlip),
		ExitReason:     s.reason,
	}

	s.state = domain.StateClosed
	delete(b.slots, ticker)
	return trade, nil
}
