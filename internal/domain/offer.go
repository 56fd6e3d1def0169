package domain

// DeclineReason explains why no offer could be made. Declines are business
// outcomes, not errors; they terminate the conversation.
type DeclineReason string

const (
	DeclineAmountExceedsEligibility DeclineReason = "amount_exceeds_eligibility"
	DeclineScoreBelowMinimum        DeclineReason = "score_below_minimum"
)

// OfferResult is either a concrete loan offer or a decline with a reason.
type OfferResult struct {
	Amount         float64       `json:"amount"`
	TermMonths     int           `json:"term_months"`
	AnnualRate     float64       `json:"annual_rate"`
	MonthlyPayment float64       `json:"monthly_payment"`
	DeclineReason  DeclineReason `json:"decline_reason,omitempty"`
}

// Declined reports whether the result is a decline rather than an offer.
func (o *OfferResult) Declined() bool {
	return o.DeclineReason != ""
}
