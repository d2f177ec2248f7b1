package cadence

import (
	"errors"
	"fmt"
	"time"
)

// Segment maps an inclusive attempt range to a retry delay.
// Attempt numbers are 1-based: the segment covering attempt N schedules
// the call that follows the N-th recorded outcome.
type Segment struct {
	FromAttempt int
	ToAttempt   int
	Delay       time.Duration

	// Priority overrides the policy default for this range when set.
	Priority *int
}

func (s Segment) covers(attempt int) bool {
	return attempt >= s.FromAttempt && attempt <= s.ToAttempt
}

// Policy is the retry behavior for one outcome category.
// Immutable after load.
type Policy struct {
	Category        Category
	Segments        []Segment
	DefaultPriority int

	// FinalStatus is entered once the attempt count runs past the last
	// segment. Defaults to StatusCompletedExhausted.
	FinalStatus Status

	// TerminalSuccess marks outcomes that end the cadence immediately
	// (e.g. an appointment was booked), regardless of attempt count.
	TerminalSuccess bool

	// Handoff marks outcomes that pause the cadence for out-of-band
	// human action.
	Handoff bool
}

var ErrInvalidPolicy = errors.New("cadence: invalid policy")

// Validate rejects malformed segment lists. Overlapping or unordered
// segments are configuration defects caught at load time.
func (p Policy) Validate() error {
	if p.Category == "" {
		return fmt.Errorf("%w: category required", ErrInvalidPolicy)
	}
	if p.FinalStatus != "" && !p.FinalStatus.Valid() {
		return fmt.Errorf("%w: unknown final status %q", ErrInvalidPolicy, p.FinalStatus)
	}
	prevEnd := 0
	for i, s := range p.Segments {
		if s.FromAttempt < 1 || s.ToAttempt < s.FromAttempt {
			return fmt.Errorf("%w: %s segment %d has bad range [%d,%d]",
				ErrInvalidPolicy, p.Category, i, s.FromAttempt, s.ToAttempt)
		}
		if s.FromAttempt <= prevEnd {
			return fmt.Errorf("%w: %s segment %d overlaps previous", ErrInvalidPolicy, p.Category, i)
		}
		if s.Delay < 0 {
			return fmt.Errorf("%w: %s segment %d has negative delay", ErrInvalidPolicy, p.Category, i)
		}
		prevEnd = s.ToAttempt
	}
	return nil
}

// SegmentFor returns the segment covering the given attempt number.
// A miss means the policy is exhausted at that attempt; gaps in a
// segment list behave identically (fail closed, see Engine).
func (p Policy) SegmentFor(attempt int) (Segment, bool) {
	for _, s := range p.Segments {
		if s.covers(attempt) {
			return s, true
		}
	}
	return Segment{}, false
}

// MaxAttempts is the highest attempt number any segment schedules.
// Zero for policies that never schedule a retry.
func (p Policy) MaxAttempts() int {
	max := 0
	for _, s := range p.Segments {
		if s.ToAttempt > max {
			max = s.ToAttempt
		}
	}
	return max
}

func (p Policy) finalStatus() Status {
	if p.FinalStatus == "" {
		return StatusCompletedExhausted
	}
	return p.FinalStatus
}
