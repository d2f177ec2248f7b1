package cadence

import (
	"strings"
	"time"
)

// Category classifies how a call ended.
//
// This is a closed set. Free-form provider strings must go through
// ParseCategory, which routes anything unrecognized to CategoryUnknown;
// unknown categories resolve to the DEFAULT policy instead of silently
// matching nothing.
type Category string

const (
	CategoryNoAnswer          Category = "NO_ANSWER"
	CategoryVoicemail         Category = "VOICEMAIL"
	CategoryBusy              Category = "BUSY"
	CategoryFailed            Category = "FAILED"
	CategoryHandoffRequested  Category = "HANDOFF_REQUESTED"
	CategoryAppointmentBooked Category = "APPOINTMENT_BOOKED"
	CategoryNotInterested     Category = "NOT_INTERESTED"
	CategoryCallbackRequested Category = "CALLBACK_REQUESTED"

	// CategoryNewLead keys the bootstrap policy applied to a contact's
	// first recorded outcome. It is never delivered by a provider.
	CategoryNewLead Category = "NEW_LEAD"

	// CategoryDefault keys the fallback policy.
	CategoryDefault Category = "DEFAULT"

	// CategoryUnknown is the explicit variant for unrecognized inputs.
	CategoryUnknown Category = "UNKNOWN"
)

var knownCategories = map[Category]struct{}{
	CategoryNoAnswer:          {},
	CategoryVoicemail:         {},
	CategoryBusy:              {},
	CategoryFailed:            {},
	CategoryHandoffRequested:  {},
	CategoryAppointmentBooked: {},
	CategoryNotInterested:     {},
	CategoryCallbackRequested: {},
}

// ParseCategory maps a raw outcome string to a Category.
// Unrecognized values become CategoryUnknown, never an error.
func ParseCategory(raw string) Category {
	c := Category(strings.ToUpper(strings.TrimSpace(raw)))
	if _, ok := knownCategories[c]; ok {
		return c
	}
	return CategoryUnknown
}

// OutcomeEvent is the engine-facing view of a completed call.
// Identifier is the contact's phone number; EndedAt is the provider's
// call-end time and is the time base for computed retry schedules.
type OutcomeEvent struct {
	Identifier        string
	Category          Category
	EndedAt           time.Time
	TranscriptSummary string
	Metadata          map[string]string
}
