package reporting

import "time"

type TimeRange struct {
	From time.Time `json:"from"`
	To   time.Time `json:"to"`
}

type CampaignSummaryRequest struct {
	Range TimeRange `json:"range"`
}

// CampaignSummary aggregates reconciled outcomes over a time range.
type CampaignSummary struct {
	TotalOutcomes int `json:"total_outcomes"`

	// ByCategory counts outcome events per outcome category.
	ByCategory map[string]int `json:"by_category"`
	// ByStatus counts the cadence status each outcome resolved into.
	ByStatus map[string]int `json:"by_status"`

	Booked         int `json:"booked"`
	Handoffs       int `json:"handoffs"`
	Exhausted      int `json:"exhausted"`
	// ConversionPct is booked / total, in percent.
	ConversionPct float64 `json:"conversion_pct"`
}
