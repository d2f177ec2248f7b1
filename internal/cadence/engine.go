package cadence

import (
	"errors"
	"fmt"
)

// Engine is the cadence decision engine: a pure transform from
// (prior record, new outcome) to the next record.
//
// No I/O, no clock. The retry schedule is computed from the outcome's
// EndedAt, so re-applying the same inputs yields a byte-identical
// result; duplicate outcome deliveries are therefore safe to replay
// through Decide.
type Engine struct {
	rules *Rules
}

func NewEngine(rules *Rules) *Engine {
	return &Engine{rules: rules}
}

var ErrInvalidOutcome = errors.New("cadence: invalid outcome")

// Decide computes the contact's next state after an outcome.
//
// A nil prior means the contact has never been tracked; a bootstrap
// record is synthesized from the outcome's identifier.
//
// Precedence:
//  1. terminal-success outcome completes the cadence
//  2. hand-off outcome pauses it
//  3. the resolved policy's segment for the new attempt count schedules
//     a retry; no segment means exhaustion (fail closed, including for
//     policies whose segment list is shorter than their nominal cap)
func (e *Engine) Decide(prior *Record, outcome OutcomeEvent) (Record, error) {
	if e.rules == nil {
		return Record{}, errors.New("cadence: engine has no rules")
	}
	if outcome.Identifier == "" {
		return Record{}, fmt.Errorf("%w: identifier required", ErrInvalidOutcome)
	}
	if outcome.Category == "" {
		return Record{}, fmt.Errorf("%w: category required", ErrInvalidOutcome)
	}
	if outcome.EndedAt.IsZero() {
		return Record{}, fmt.Errorf("%w: ended_at required", ErrInvalidOutcome)
	}

	var cur Record
	if prior != nil {
		if prior.Status.Terminal() {
			// Terminal records never transition; a late or replayed
			// outcome leaves them untouched.
			return prior.Clone(), nil
		}
		cur = prior.Clone()
	} else {
		cur = Record{Identifier: outcome.Identifier, Status: StatusPending}
	}

	next := cur
	next.AttemptCount = cur.AttemptCount + 1

	// Category-keyed short-circuits apply regardless of which policy
	// governs scheduling (the bootstrap policy on a first outcome).
	switch {
	case e.rules.IsTerminalSuccess(outcome.Category):
		next.Status = StatusCompletedSuccess
		next.NextCallAt = nil
		next.Priority = nil

	case e.rules.IsHandoff(outcome.Category):
		next.Status = StatusPaused
		next.NextCallAt = nil

	default:
		pol := e.rules.Resolve(cur.AttemptCount, outcome.Category)
		if seg, ok := pol.SegmentFor(next.AttemptCount); ok {
			next.Status = StatusActive
			at := outcome.EndedAt.Add(seg.Delay)
			next.NextCallAt = &at
			pri := pol.DefaultPriority
			if seg.Priority != nil {
				pri = *seg.Priority
			}
			next.Priority = &pri
		} else {
			next.Status = pol.finalStatus()
			next.NextCallAt = nil
		}
	}

	next.LastOutcome = outcome.Category
	endedAt := outcome.EndedAt
	next.LastAttempt = &endedAt
	next.CallToken = ""
	next.TokenSetAt = nil

	return next, nil
}
