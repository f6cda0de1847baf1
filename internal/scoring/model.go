// Package scoring implements the deterministic Heat Score engine.
//
// Every computation is a pure function of its Input: there is no clock, no
// randomness and no I/O. The model's tunable constants live in Model and are
// hashed into its version string, so any change to a constant yields a new
// ModelVersion on every persisted record.
package scoring

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/gowebpki/jcs"
	"github.com/stwalsh4118/parcelheat/internal/models"
)

// ModelName is the family name prefixed to the version hash.
const ModelName = "heat-v1"

// Model holds the versioned constants of the deterministic engine.
type Model struct {
	OwnerWeights          map[string]float64 `json:"owner_weights"`
	HalfLifeDays          float64            `json:"half_life_days"`
	MinDecay              float64            `json:"min_decay"`
	SignalScale           float64            `json:"signal_scale"`
	SignalCap             float64            `json:"signal_cap"`
	StackStep             float64            `json:"stack_step"`
	StackCap              float64            `json:"stack_cap"`
	OwnerMin              float64            `json:"owner_min"`
	OwnerMax              float64            `json:"owner_max"`
	EquityMax             float64            `json:"equity_max"`
	EquitySaturation      float64            `json:"equity_saturation"`
	CompNeutral           float64            `json:"comp_neutral"`
	CompSlope             float64            `json:"comp_slope"`
	CompMax               float64            `json:"comp_max"`
	BaselineConversion    float64            `json:"baseline_conversion"`
	ConversionSensitivity float64            `json:"conversion_sensitivity"`
	MaxConversionShift    float64            `json:"max_conversion_shift"`
	MaxAIBoost            float64            `json:"max_ai_boost"`
	FireThreshold         float64            `json:"fire_threshold"`
	HotThreshold          float64            `json:"hot_threshold"`
	WarmThreshold         float64            `json:"warm_threshold"`
}

// DefaultModel returns the production constants.
func DefaultModel() Model {
	return Model{
		OwnerWeights: map[string]float64{
			models.FlagAbsentee:   6,
			models.FlagInherited:  6,
			models.FlagElderly:    5,
			models.FlagOutOfState: 4,
			models.FlagVacant:     3,
			models.FlagCorporate:  -8,
		},
		HalfLifeDays:          120,
		MinDecay:              0.01,
		SignalScale:           3.2,
		SignalCap:             45,
		StackStep:             8,
		StackCap:              15,
		OwnerMin:              -10,
		OwnerMax:              20,
		EquityMax:             20,
		EquitySaturation:      80,
		CompNeutral:           1.1,
		CompSlope:             20,
		CompMax:               10,
		BaselineConversion:    0.05,
		ConversionSensitivity: 1.0,
		MaxConversionShift:    0.15,
		MaxAIBoost:            10,
		FireThreshold:         85,
		HotThreshold:          65,
		WarmThreshold:         40,
	}
}

// Version returns ModelName plus the first 8 hex characters of the SHA-256 of
// the JCS-canonical JSON encoding of the constants.
func (m Model) Version() string {
	raw, err := json.Marshal(m)
	if err != nil {
		// Model only holds floats and a string-keyed map; Marshal cannot fail.
		panic(fmt.Sprintf("scoring: marshal model: %v", err))
	}
	canonical, err := jcs.Transform(raw)
	if err != nil {
		panic(fmt.Sprintf("scoring: canonicalize model: %v", err))
	}
	sum := sha256.Sum256(canonical)
	return ModelName + "+" + hex.EncodeToString(sum[:])[:8]
}

// Validate rejects constant sets that would break the engine's bounds.
func (m Model) Validate() error {
	if m.HalfLifeDays <= 0 {
		return fmt.Errorf("half-life must be positive, got %v", m.HalfLifeDays)
	}
	if m.MinDecay <= 0 || m.MinDecay > 1 {
		return fmt.Errorf("min decay must be in (0,1], got %v", m.MinDecay)
	}
	if m.SignalScale <= 0 || m.SignalCap <= 0 {
		return fmt.Errorf("signal scale and cap must be positive")
	}
	if m.StackStep < 0 || m.StackCap < 0 {
		return fmt.Errorf("stacking step and cap must be non-negative")
	}
	if m.OwnerMin > m.OwnerMax {
		return fmt.Errorf("owner min %v exceeds owner max %v", m.OwnerMin, m.OwnerMax)
	}
	if m.EquitySaturation <= 0 || m.EquitySaturation > 100 {
		return fmt.Errorf("equity saturation must be in (0,100], got %v", m.EquitySaturation)
	}
	if m.MaxConversionShift < 0 || m.MaxConversionShift >= 1 {
		return fmt.Errorf("max conversion shift must be in [0,1), got %v", m.MaxConversionShift)
	}
	if !(m.FireThreshold > m.HotThreshold && m.HotThreshold > m.WarmThreshold && m.WarmThreshold > 0) {
		return fmt.Errorf("label thresholds must be strictly decreasing and positive")
	}
	return nil
}

// Label maps a composite score to its heat label.
func (m Model) Label(composite float64) string {
	switch {
	case composite >= m.FireThreshold:
		return models.LabelFire
	case composite >= m.HotThreshold:
		return models.LabelHot
	case composite >= m.WarmThreshold:
		return models.LabelWarm
	default:
		return models.LabelCold
	}
}
