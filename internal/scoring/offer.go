package scoring

import (
	"math"

	"github.com/fingro/fingro-bot/internal/domain"
)

// tierTerms are the fixed per-tier offer parameters: a spread over the
// base annual rate and the eligible share of the expected harvest value.
type tierTerms struct {
	rateSpread  float64
	refMultiple float64
}

var tierTable = map[domain.Tier]tierTerms{
	domain.TierA: {rateSpread: 0.00, refMultiple: 0.8},
	domain.TierB: {rateSpread: 0.03, refMultiple: 0.6},
	domain.TierC: {rateSpread: 0.07, refMultiple: 0.4},
}

// OfferEngine maps (tier, requested amount) to a loan offer or a decline.
// Eligibility ceilings are a hard business boundary: a requested amount
// above them declines, it is never silently clamped down.
type OfferEngine struct {
	minAmount  float64
	maxAmount  float64
	termMonths int
	baseRate   float64
}

// NewOfferEngine creates an offer engine with the configured loan limits,
// default term in months and base annual interest rate.
func NewOfferEngine(minAmount, maxAmount float64, termMonths int, baseRate float64) *OfferEngine {
	return &OfferEngine{
		minAmount:  minAmount,
		maxAmount:  maxAmount,
		termMonths: termMonths,
		baseRate:   baseRate,
	}
}

// Offer computes the offer for a score result and the requested amount.
func (e *OfferEngine) Offer(score domain.ScoreResult, requested float64) domain.OfferResult {
	if !score.Tier.Eligible() {
		return domain.OfferResult{DeclineReason: domain.DeclineScoreBelowMinimum}
	}

	if requested > e.maxAmount {
		return domain.OfferResult{DeclineReason: domain.DeclineAmountExceedsEligibility}
	}
	if requested < e.minAmount {
		requested = e.minAmount
	}

	terms := tierTable[score.Tier]
	ceiling := terms.refMultiple * score.Inputs.ReferenceValue * score.Inputs.AreaHectares
	if requested > ceiling {
		return domain.OfferResult{DeclineReason: domain.DeclineAmountExceedsEligibility}
	}

	rate := e.baseRate + terms.rateSpread
	return domain.OfferResult{
		Amount:         requested,
		TermMonths:     e.termMonths,
		AnnualRate:     rate,
		MonthlyPayment: monthlyPayment(requested, rate, e.termMonths),
	}
}

// monthlyPayment applies the standard amortization formula.
func monthlyPayment(amount, annualRate float64, termMonths int) float64 {
	if termMonths <= 0 {
		return 0
	}
	monthlyRate := annualRate / 12
	if monthlyRate == 0 {
		return amount / float64(termMonths)
	}
	factor := math.Pow(1+monthlyRate, float64(termMonths))
	return amount * (monthlyRate * factor) / (factor - 1)
}
