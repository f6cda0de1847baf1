package models

import (
	"time"

	"github.com/google/uuid"
)

// Heat score labels.
const (
	LabelFire = "fire"
	LabelHot  = "hot"
	LabelWarm = "warm"
	LabelCold = "cold"
)

// Prediction labels.
const (
	LabelImminent = "imminent"
	LabelLikely   = "likely"
	LabelPossible = "possible"
	LabelUnlikely = "unlikely"
)

// FactorContribution explains one term of a score.
type FactorContribution struct {
	Name   string  `json:"name"`
	Detail string  `json:"detail,omitempty"`
	Points float64 `json:"points"`
}

// ScoringRecord is one deterministic score computation. Append-only.
type ScoringRecord struct {
	AsOf               time.Time  `json:"asOf"`
	ComputedAt         time.Time  `json:"computedAt"`
	Factors            FactorList `json:"factors"`
	ModelVersion       string     `json:"modelVersion"`
	Label              string     `json:"label"`
	Composite          float64    `json:"composite"`
	Motivation         float64    `json:"motivation"`
	Deal               float64    `json:"deal"`
	SeverityMultiplier float64    `json:"severityMultiplier"`
	RecencyDecay       float64    `json:"recencyDecay"`
	StackingBonus      float64    `json:"stackingBonus"`
	OwnerFactor        float64    `json:"ownerFactor"`
	EquityFactor       float64    `json:"equityFactor"`
	AIBoost            float64    `json:"aiBoost"`
	EquityPercent      float64    `json:"equityPercent"`
	ID                 uuid.UUID  `json:"id"`
	PropertyID         uuid.UUID  `json:"propertyId"`
}

// ScoringPrediction is one predictive-model computation. Append-only.
type ScoringPrediction struct {
	AsOf                 time.Time  `json:"asOf"`
	ComputedAt           time.Time  `json:"computedAt"`
	OwnerAge             *int       `json:"ownerAge,omitempty"`
	Features             FeatureMap `json:"features"`
	Factors              FactorList `json:"factors"`
	ModelVersion         string     `json:"modelVersion"`
	Label                string     `json:"label"`
	PredictiveScore      float64    `json:"predictiveScore"`
	Confidence           float64    `json:"confidence"`
	EquityBurnRate       float64    `json:"equityBurnRate"`
	TaxDelinquencyTrend  float64    `json:"taxDelinquencyTrend"`
	LifeEventProbability float64    `json:"lifeEventProbability"`
	AbsenteeDurationDays int        `json:"absenteeDurationDays"`
	DaysUntilDistress    int        `json:"daysUntilDistress"`
	ID                   uuid.UUID  `json:"id"`
	PropertyID           uuid.UUID  `json:"propertyId"`
}
