// Package scoring computes the FinGro Score and the loan offer derived
// from it. Both engines are pure: identical inputs always produce
// identical results.
package scoring

import (
	"strings"
	"time"

	"github.com/fingro/fingro-bot/internal/domain"
)

// Factor weights of the composite score. They sum to 1.
const (
	weightArea       = 0.25
	weightIrrigation = 0.20
	weightChannel    = 0.20
	weightPriceRatio = 0.15
	weightLocation   = 0.20
)

// irrigationScores ranks irrigation systems by climate resilience.
var irrigationScores = map[string]float64{
	"goteo":     1.0,
	"aspersion": 0.8,
	"gravedad":  0.6,
	"temporal":  0.4,
}

// channelScores ranks commercialization channels by price stability.
var channelScores = map[string]float64{
	"exportacion":   1.0,
	"mercado_local": 0.8,
	"directo":       0.7,
	"intermediario": 0.6,
}

// locationScores ranks Guatemalan departments by agricultural productivity.
var locationScores = map[string]float64{
	"escuintla":      1.00,
	"retalhuleu":     0.93,
	"suchitepequez":  0.93,
	"santa_rosa":     0.87,
	"quetzaltenango": 0.90,
	"alta_verapaz":   0.97,
	"huehuetenango":  0.93,
	"san_marcos":     0.87,
	"guatemala":      0.83,
	"sacatepequez":   0.87,
	"chimaltenango":  0.90,
	"el_progreso":    0.60,
	"zacapa":         0.63,
	"chiquimula":     0.67,
	"jalapa":         0.73,
	"jutiapa":        0.77,
	"izabal":         0.80,
	"peten":          0.77,
	"quiche":         0.73,
	"baja_verapaz":   0.70,
	"solola":         0.83,
	"totonicapan":    0.77,
}

const (
	defaultSubScore      = 0.5
	defaultLocationScore = 0.67
)

// Tier bands as fractions of the maximum score.
const (
	tierAFraction = 0.80
	tierBFraction = 0.65
	tierCFraction = 0.50
)

// Engine computes the FinGro Score over a snapshot of collected attributes
// plus a resolved market reference value.
type Engine struct {
	minScore float64
	maxScore float64
}

// NewEngine creates a scoring engine clamped to [minScore, maxScore].
func NewEngine(minScore, maxScore float64) *Engine {
	return &Engine{minScore: minScore, maxScore: maxScore}
}

// Score computes the weighted composite score for the given inputs.
// at is used only for the audit timestamp, never for the computation.
func (e *Engine) Score(in domain.ScoreInputs, at time.Time) domain.ScoreResult {
	composite := weightArea*areaScore(in.AreaHectares) +
		weightIrrigation*lookupScore(irrigationScores, in.Irrigation, defaultSubScore) +
		weightChannel*lookupScore(channelScores, in.Channel, defaultSubScore) +
		weightPriceRatio*priceRatioScore(in.RequestedAmount, in.ReferenceValue, in.AreaHectares) +
		weightLocation*lookupScore(locationScores, in.Location, defaultLocationScore)

	score := e.clamp(composite * e.maxScore)

	return domain.ScoreResult{
		Score:      score,
		Tier:       e.tier(score),
		Inputs:     in,
		ComputedAt: at,
	}
}

func (e *Engine) clamp(score float64) float64 {
	if score < e.minScore {
		return e.minScore
	}
	if score > e.maxScore {
		return e.maxScore
	}
	return score
}

func (e *Engine) tier(score float64) domain.Tier {
	fraction := score / e.maxScore
	switch {
	case fraction >= tierAFraction:
		return domain.TierA
	case fraction >= tierBFraction:
		return domain.TierB
	case fraction >= tierCFraction:
		return domain.TierC
	default:
		return domain.TierIneligible
	}
}

// areaScore bands cultivated area in hectares. Very small plots carry
// household-farming risk; very large ones carry exposure risk.
func areaScore(hectares float64) float64 {
	switch {
	case hectares <= 0:
		return 0
	case hectares <= 1:
		return 0.6
	case hectares <= 3:
		return 0.8
	case hectares <= 10:
		return 1.0
	default:
		return 0.9
	}
}

// priceRatioScore compares the requested amount against the expected
// harvest value (reference value per hectare times area). The lower the
// share of the harvest needed to repay, the better.
func priceRatioScore(requested, referencePerHa, hectares float64) float64 {
	expected := referencePerHa * hectares
	if expected <= 0 || requested <= 0 {
		return 0.2
	}
	ratio := requested / expected
	switch {
	case ratio <= 0.4:
		return 1.0
	case ratio <= 0.6:
		return 0.8
	case ratio <= 0.8:
		return 0.6
	case ratio <= 1.0:
		return 0.4
	default:
		return 0.2
	}
}

func lookupScore(table map[string]float64, key string, fallback float64) float64 {
	if v, ok := table[strings.ToLower(strings.TrimSpace(key))]; ok {
		return v
	}
	return fallback
}
