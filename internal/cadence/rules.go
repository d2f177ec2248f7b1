package cadence

import (
	"encoding/json"
	"fmt"
	"os"
	"time"
)

// Rules is the immutable rule table mapping outcome categories to retry
// policies. Loaded once at process start.
type Rules struct {
	policies map[Category]Policy
}

// NewRules builds a table from explicit policies. Policies are validated;
// a DEFAULT policy is required so unknown categories always resolve.
func NewRules(policies ...Policy) (*Rules, error) {
	m := make(map[Category]Policy, len(policies))
	for _, p := range policies {
		if err := p.Validate(); err != nil {
			return nil, err
		}
		if _, dup := m[p.Category]; dup {
			return nil, fmt.Errorf("%w: duplicate policy for %s", ErrInvalidPolicy, p.Category)
		}
		m[p.Category] = p
	}
	if _, ok := m[CategoryDefault]; !ok {
		return nil, fmt.Errorf("%w: DEFAULT policy required", ErrInvalidPolicy)
	}
	return &Rules{policies: m}, nil
}

// Lookup returns the policy keyed directly by category, falling back to
// DEFAULT for unknown or unconfigured categories.
func (r *Rules) Lookup(c Category) Policy {
	if p, ok := r.policies[c]; ok {
		return p
	}
	return r.policies[CategoryDefault]
}

// Resolve picks the policy governing the next scheduling decision for a
// contact with priorAttempts recorded outcomes, the most recent of which
// had the given category. A contact's very first recorded outcome uses
// the NEW_LEAD bootstrap policy when one is configured.
func (r *Rules) Resolve(priorAttempts int, c Category) Policy {
	if priorAttempts == 0 {
		if p, ok := r.policies[CategoryNewLead]; ok {
			return p
		}
	}
	return r.Lookup(c)
}

// IsHandoff reports whether the category belongs to the hand-off set.
func (r *Rules) IsHandoff(c Category) bool {
	p, ok := r.policies[c]
	return ok && p.Handoff
}

// IsTerminalSuccess reports whether the category immediately completes
// the cadence as a success.
func (r *Rules) IsTerminalSuccess(c Category) bool {
	p, ok := r.policies[c]
	return ok && p.TerminalSuccess
}

func intPtr(n int) *int { return &n }

// DefaultRules is the built-in production cadence table.
func DefaultRules() *Rules {
	r, err := NewRules(
		Policy{
			Category: CategoryNewLead,
			Segments: []Segment{
				{FromAttempt: 1, ToAttempt: 1, Delay: 30 * time.Minute},
				{FromAttempt: 2, ToAttempt: 3, Delay: 4 * time.Hour},
			},
			DefaultPriority: 30,
		},
		Policy{
			Category: CategoryNoAnswer,
			Segments: []Segment{
				{FromAttempt: 1, ToAttempt: 1, Delay: 20 * time.Minute},
				{FromAttempt: 2, ToAttempt: 2, Delay: time.Hour},
				{FromAttempt: 3, ToAttempt: 4, Delay: 24 * time.Hour},
			},
			DefaultPriority: 50,
		},
		Policy{
			Category: CategoryVoicemail,
			Segments: []Segment{
				{FromAttempt: 1, ToAttempt: 2, Delay: 4 * time.Hour},
				{FromAttempt: 3, ToAttempt: 3, Delay: 48 * time.Hour},
			},
			DefaultPriority: 60,
		},
		Policy{
			Category: CategoryBusy,
			Segments: []Segment{
				{FromAttempt: 1, ToAttempt: 3, Delay: 15 * time.Minute, Priority: intPtr(20)},
				{FromAttempt: 4, ToAttempt: 5, Delay: 2 * time.Hour},
			},
			DefaultPriority: 40,
		},
		Policy{
			Category: CategoryFailed,
			Segments: []Segment{
				{FromAttempt: 1, ToAttempt: 2, Delay: 6 * time.Hour},
			},
			DefaultPriority: 70,
			FinalStatus:     StatusError,
		},
		Policy{
			Category: CategoryCallbackRequested,
			Segments: []Segment{
				{FromAttempt: 1, ToAttempt: 6, Delay: 24 * time.Hour, Priority: intPtr(10)},
			},
			DefaultPriority: 10,
		},
		Policy{Category: CategoryAppointmentBooked, TerminalSuccess: true},
		Policy{Category: CategoryHandoffRequested, Handoff: true},
		Policy{Category: CategoryNotInterested},
		Policy{
			Category: CategoryDefault,
			Segments: []Segment{
				{FromAttempt: 1, ToAttempt: 2, Delay: 12 * time.Hour},
			},
			DefaultPriority: 80,
		},
	)
	if err != nil {
		// Built-in table is validated by tests; a defect here is a
		// programming error, not a runtime condition.
		panic(err)
	}
	return r
}

type policyFile struct {
	Policies []policyJSON `json:"policies"`
}

type policyJSON struct {
	Category        string        `json:"category"`
	Segments        []segmentJSON `json:"segments"`
	DefaultPriority int           `json:"default_priority"`
	FinalStatus     string        `json:"final_status,omitempty"`
	TerminalSuccess bool          `json:"terminal_success,omitempty"`
	Handoff         bool          `json:"handoff,omitempty"`
}

type segmentJSON struct {
	FromAttempt int    `json:"from_attempt"`
	ToAttempt   int    `json:"to_attempt"`
	Delay       string `json:"delay"`
	Priority    *int   `json:"priority,omitempty"`
}

// LoadRules reads a JSON policy file and overlays it on the built-in
// defaults. Categories present in the file replace the default policy
// for that category wholesale.
func LoadRules(path string) (*Rules, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cadence: read policy file: %w", err)
	}
	var f policyFile
	if err := json.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("cadence: parse policy file: %w", err)
	}

	merged := map[Category]Policy{}
	for c, p := range DefaultRules().policies {
		merged[c] = p
	}
	for _, pj := range f.Policies {
		p := Policy{
			Category:        Category(pj.Category),
			DefaultPriority: pj.DefaultPriority,
			FinalStatus:     Status(pj.FinalStatus),
			TerminalSuccess: pj.TerminalSuccess,
			Handoff:         pj.Handoff,
		}
		for _, sj := range pj.Segments {
			d, err := time.ParseDuration(sj.Delay)
			if err != nil {
				return nil, fmt.Errorf("cadence: policy %s: bad delay %q: %w", pj.Category, sj.Delay, err)
			}
			p.Segments = append(p.Segments, Segment{
				FromAttempt: sj.FromAttempt,
				ToAttempt:   sj.ToAttempt,
				Delay:       d,
				Priority:    sj.Priority,
			})
		}
		merged[p.Category] = p
	}

	all := make([]Policy, 0, len(merged))
	for _, p := range merged {
		all = append(all, p)
	}
	return NewRules(all...)
}
