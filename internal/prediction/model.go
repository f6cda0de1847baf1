// Package prediction implements the forward-looking distress model: from a
// property's longitudinal signal and score history it estimates how many days
// remain until the owner is likely to sell, and how much history backs that
// estimate.
package prediction

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/gowebpki/jcs"
	"github.com/stwalsh4118/parcelheat/internal/models"
)

// ModelName is the family name prefixed to the version hash.
const ModelName = "predict-v1"

// Model holds the versioned constants of the predictive engine.
type Model struct {
	LifeEventWeights       map[models.EventType]float64 `json:"life_event_weights"`
	HorizonDays            float64                      `json:"horizon_days"`
	LifeEventHalfLifeDays  float64                      `json:"life_event_half_life_days"`
	LifeWeight             float64                      `json:"life_weight"`
	TaxWeight              float64                      `json:"tax_weight"`
	TaxTrendSaturation     float64                      `json:"tax_trend_saturation"`
	BurnWeight             float64                      `json:"burn_weight"`
	BurnSaturation         float64                      `json:"burn_saturation"`
	AbsenteeWeight         float64                      `json:"absentee_weight"`
	AbsenteeSaturationDays float64                      `json:"absentee_saturation_days"`
	AgeWeight              float64                      `json:"age_weight"`
	AgeHigh                int                          `json:"age_high"`
	AgeMid                 int                          `json:"age_mid"`
	ElderlyAssumedAge      int                          `json:"elderly_assumed_age"`
	MomentumWeight         float64                      `json:"momentum_weight"`
	MomentumSaturation     float64                      `json:"momentum_saturation"`
	ConfidenceHistoryScale float64                      `json:"confidence_history_scale"`
	ConfidenceSpanDays     float64                      `json:"confidence_span_days"`
	ImminentDays           int                          `json:"imminent_days"`
	ImminentConfidence     float64                      `json:"imminent_confidence"`
	LikelyDays             int                          `json:"likely_days"`
	PossibleDays           int                          `json:"possible_days"`
}

// DefaultModel returns the production constants.
func DefaultModel() Model {
	return Model{
		LifeEventWeights: map[models.EventType]float64{
			models.EventProbate:        0.55,
			models.EventDivorce:        0.45,
			models.EventInherited:      0.40,
			models.EventBankruptcy:     0.35,
			models.EventPreForeclosure: 0.30,
		},
		HorizonDays:            365,
		LifeEventHalfLifeDays:  180,
		LifeWeight:             40,
		TaxWeight:              15,
		TaxTrendSaturation:     2,
		BurnWeight:             15,
		BurnSaturation:         5,
		AbsenteeWeight:         10,
		AbsenteeSaturationDays: 730,
		AgeWeight:              10,
		AgeHigh:                70,
		AgeMid:                 60,
		ElderlyAssumedAge:      72,
		MomentumWeight:         10,
		MomentumSaturation:     10,
		ConfidenceHistoryScale: 3,
		ConfidenceSpanDays:     180,
		ImminentDays:           30,
		ImminentConfidence:     60,
		LikelyDays:             90,
		PossibleDays:           180,
	}
}

// Version returns ModelName plus a short hash of the canonical constants.
func (m Model) Version() string {
	raw, err := json.Marshal(m)
	if err != nil {
		panic(fmt.Sprintf("prediction: marshal model: %v", err))
	}
	canonical, err := jcs.Transform(raw)
	if err != nil {
		panic(fmt.Sprintf("prediction: canonicalize model: %v", err))
	}
	sum := sha256.Sum256(canonical)
	return ModelName + "+" + hex.EncodeToString(sum[:])[:8]
}

// Validate rejects constant sets the engine cannot work with.
func (m Model) Validate() error {
	if m.HorizonDays <= 0 {
		return fmt.Errorf("horizon must be positive, got %v", m.HorizonDays)
	}
	if m.LifeEventHalfLifeDays <= 0 || m.ConfidenceHistoryScale <= 0 || m.ConfidenceSpanDays <= 0 {
		return fmt.Errorf("half-life and confidence scales must be positive")
	}
	if m.TaxTrendSaturation <= 0 || m.BurnSaturation <= 0 || m.AbsenteeSaturationDays <= 0 || m.MomentumSaturation <= 0 {
		return fmt.Errorf("feature saturations must be positive")
	}
	total := m.LifeWeight + m.TaxWeight + m.BurnWeight + m.AbsenteeWeight + m.AgeWeight + m.MomentumWeight
	if total <= 0 || total > 100 {
		return fmt.Errorf("feature weights must sum to (0,100], got %v", total)
	}
	if !(m.ImminentDays < m.LikelyDays && m.LikelyDays < m.PossibleDays) {
		return fmt.Errorf("label day boundaries must be increasing")
	}
	for t, p := range m.LifeEventWeights {
		if p < 0 || p > 1 {
			return fmt.Errorf("life event weight for %s must be in [0,1], got %v", t, p)
		}
	}
	return nil
}

// Label maps an estimate to the four-bucket vocabulary.
func (m Model) Label(daysUntilDistress int, confidence float64) string {
	switch {
	case daysUntilDistress <= m.ImminentDays && confidence >= m.ImminentConfidence:
		return models.LabelImminent
	case daysUntilDistress <= m.LikelyDays:
		return models.LabelLikely
	case daysUntilDistress <= m.PossibleDays:
		return models.LabelPossible
	default:
		return models.LabelUnlikely
	}
}
