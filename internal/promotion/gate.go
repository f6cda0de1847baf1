// Package promotion blends deterministic and predictive scores and decides
// whether a property crosses the bar into the lead workflow.
package promotion

import (
	"fmt"
	"math"

	"github.com/stwalsh4118/parcelheat/internal/models"
)

// DefaultDeterministicWeight is the share of the blended score taken from the
// deterministic composite.
const DefaultDeterministicWeight = 0.6

// Decision values recorded in the audit log.
const (
	DecisionPromote = "promote"
	DecisionHold    = "hold"
)

// Thresholds holds the promotion bar per source tier.
type Thresholds struct {
	Narrow  float64
	Broad   float64
	Partner float64
}

// DefaultThresholds returns the production promotion bars.
func DefaultThresholds() Thresholds {
	return Thresholds{Narrow: 75, Broad: 60, Partner: 70}
}

// For returns the threshold for a tier. Unknown tiers get the strictest bar.
func (t Thresholds) For(tier models.Tier) float64 {
	switch tier {
	case models.TierNarrow:
		return t.Narrow
	case models.TierBroad:
		return t.Broad
	case models.TierPartner:
		return t.Partner
	default:
		return math.Max(t.Narrow, math.Max(t.Broad, t.Partner))
	}
}

// Validate checks every threshold lies in the score range.
func (t Thresholds) Validate() error {
	for name, v := range map[string]float64{"narrow": t.Narrow, "broad": t.Broad, "partner": t.Partner} {
		if v < 0 || v > 100 {
			return fmt.Errorf("%s threshold must be in [0,100], got %v", name, v)
		}
	}
	return nil
}

// Blend combines the deterministic composite with the latest predictive score.
// Without a prediction the composite passes through unchanged.
func Blend(composite float64, predictive *float64, deterministicWeight float64) float64 {
	if predictive == nil {
		return round2(composite)
	}
	w := math.Min(1, math.Max(0, deterministicWeight))
	return round2(w*composite + (1-w)*(*predictive))
}

// Decide reports whether a blended score promotes at the given threshold.
func Decide(blended, threshold float64) bool {
	return blended >= threshold
}

func round2(v float64) float64 { return math.Round(v*100) / 100 }
