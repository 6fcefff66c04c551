package signals

import (
	"time"

	"intradayBot/internal/domain"
	"intradayBot/internal/strategy/indicators"
)

// Evaluator turns an indicator snapshot into a trading signal.
// It holds only its immutable rule set, so Evaluate is a pure function.
type Evaluator struct {
	params     Params
	entryRules []EntryRule
	exitRules  []ExitRule
}

// NewEvaluator validates p and builds the default rule set.
func NewEvaluator(p Params) (*Evaluator, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return &Evaluator{
		params:     p,
		entryRules: EntryRules(p),
		exitRules:  ExitRules(p),
	}, nil
}

// NewEvaluatorWithRules builds an evaluator from an explicit rule set.
func NewEvaluatorWithRules(p Params, entry []EntryRule, exit []ExitRule) (*Evaluator, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return &Evaluator{params: p, entryRules: entry, exitRules: exit}, nil
}

// Params returns the thresholds the evaluator was built with.
func (e *Evaluator) Params() Params {
	return e.params
}

// Evaluate returns ENTER_LONG, EXIT or NONE for the ticker of snap at clock time now.
// Exit rules apply when pos is non-nil, entry rules otherwise.
func (e *Evaluator) Evaluate(snap indicators.Snapshot, pos *domain.Position, now time.Time) domain.Signal {
	tod := domain.TimeOfDayOf(now, e.params.Location)
	sig := domain.Signal{
		Kind:      domain.SignalNone,
		Ticker:    snap.Ticker,
		Timestamp: snap.Timestamp,
		Price:     snap.Close,
	}

	if pos != nil {
		if reason := e.ExitReason(ExitInput{Price: snap.Close, TimeOfDay: tod, Position: pos}); reason != domain.ExitReasonNone {
			sig.Kind = domain.SignalExit
			sig.Reason = reason
		}
		return sig
	}

	if len(e.FailedEntryRules(snap, now)) == 0 {
		sig.Kind = domain.SignalEnterLong
	}
	return sig
}

// ExitReason returns the highest priority exit that fires, or ExitReasonNone.
func (e *Evaluator) ExitReason(in ExitInput) domain.ExitReason {
	for _, rule := range e.exitRules {
		if rule.Fires(in) {
			return rule.Reason
		}
	}
	return domain.ExitReasonNone
}

// FailedEntryRules lists the entry rules that do not hold for snap at now.
func (e *Evaluator) FailedEntryRules(snap indicators.Snapshot, now time.Time) []string {
	in := EntryInput{Snapshot: snap, TimeOfDay: domain.TimeOfDayOf(now, e.params.Location)}
	var failed []string
	for _, rule := range e.entryRules {
		if !rule.Holds(in) {
			failed = append(failed, rule.Name)
		}
	}
	return failed
}
