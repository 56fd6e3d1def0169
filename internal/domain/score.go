package domain

import "time"

// Tier is the discrete risk band derived from fixed score ranges.
type Tier string

const (
	TierA          Tier = "A"
	TierB          Tier = "B"
	TierC          Tier = "C"
	TierIneligible Tier = "ineligible"
)

// Eligible reports whether the tier qualifies for any offer at all.
func (t Tier) Eligible() bool {
	return t == TierA || t == TierB || t == TierC
}

// ScoreInputs is the exact attribute snapshot a score was computed from.
// It is stored alongside the result for auditability and is never
// recomputed from a later (possibly mutated) session.
type ScoreInputs struct {
	Crop            string  `json:"crop"`
	AreaHectares    float64 `json:"area_hectares"`
	Irrigation      string  `json:"irrigation"`
	Channel         string  `json:"channel"`
	Location        string  `json:"location"`
	RequestedAmount float64 `json:"requested_amount"`
	ReferenceValue  float64 `json:"reference_value"`
}

// ScoreResult is a computed FinGro Score with its risk tier and the input
// snapshot that produced it.
type ScoreResult struct {
	Score      float64     `json:"score"`
	Tier       Tier        `json:"tier"`
	Inputs     ScoreInputs `json:"inputs"`
	ComputedAt time.Time   `json:"computed_at"`
}
