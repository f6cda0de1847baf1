package scoring

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/stwalsh4118/parcelheat/internal/models"
)

// Signal is one distress signal as seen by the engine.
type Signal struct {
	ObservedAt time.Time
	Type       models.EventType
	Source     string
	Severity   int
	Confidence float64
}

// Input is everything a score depends on. AsOf anchors recency so a score can
// be replayed from a historical snapshot. Callers without a conversion history
// pass Model.BaselineConversion, which leaves the composite unscaled.
type Input struct {
	AsOf                     time.Time
	OwnerFlags               models.OwnerFlags
	Signals                  []Signal
	EquityPercent            float64
	CompRatio                float64
	HistoricalConversionRate float64
	AIBoost                  float64
}

// Result is a computed Heat Score with its explanation.
type Result struct {
	ModelVersion         string
	Label                string
	Factors              models.FactorList
	Composite            float64
	Motivation           float64
	Deal                 float64
	SeverityMultiplier   float64
	RecencyDecay         float64
	StackingBonus        float64
	OwnerFactor          float64
	EquityFactor         float64
	AIBoost              float64
	ConversionMultiplier float64
	EquityPercent        float64
}

// RecencyDecay returns the exponential half-life weight for a signal observed
// daysSince days before the as-of time. It is non-increasing in daysSince,
// bounded to [MinDecay, 1] and never zero.
func (m Model) RecencyDecay(daysSince float64) float64 {
	if math.IsNaN(daysSince) || daysSince < 0 {
		daysSince = 0
	}
	d := math.Pow(0.5, daysSince/m.HalfLifeDays)
	if d < m.MinDecay {
		return m.MinDecay
	}
	return d
}

// SortSignals orders signals by observation time, then type, source and
// severity. Compute evaluates signals in this order.
func SortSignals(signals []Signal) []Signal {
	sorted := make([]Signal, len(signals))
	copy(sorted, signals)
	sort.SliceStable(sorted, func(i, j int) bool {
		a, b := sorted[i], sorted[j]
		if !a.ObservedAt.Equal(b.ObservedAt) {
			return a.ObservedAt.Before(b.ObservedAt)
		}
		if a.Type != b.Type {
			return a.Type < b.Type
		}
		if a.Source != b.Source {
			return a.Source < b.Source
		}
		return a.Severity < b.Severity
	})
	return sorted
}

// Compute scores in. Out-of-range numbers are clamped, never rejected.
func (m Model) Compute(in Input) Result {
	var factors models.FactorList
	signals := SortSignals(in.Signals)

	// (1) per-signal severity x recency
	var termSum, severitySum float64
	maxSeverity := 0
	distinct := make(map[models.EventType]struct{})
	for _, s := range signals {
		sev := clampInt(s.Severity, models.MinSeverity, models.MaxSeverity)
		days := 0.0
		if !s.ObservedAt.IsZero() {
			days = in.AsOf.Sub(s.ObservedAt).Hours() / 24
		}
		decay := m.RecencyDecay(days)
		term := float64(sev) * decay
		termSum += term
		severitySum += float64(sev)
		if sev > maxSeverity {
			maxSeverity = sev
		}
		distinct[s.Type] = struct{}{}
		factors = append(factors, models.FactorContribution{
			Name:   "signal:" + string(s.Type),
			Points: round2(term * m.SignalScale),
			Detail: fmt.Sprintf("severity %d x decay %.3f (%.0f days, %s)", sev, decay, math.Max(days, 0), s.Source),
		})
	}
	signalPoints := termSum * m.SignalScale
	if signalPoints > m.SignalCap {
		factors = append(factors, models.FactorContribution{
			Name:   "signal_cap",
			Points: round2(m.SignalCap - signalPoints),
			Detail: fmt.Sprintf("signal points capped at %.0f", m.SignalCap),
		})
		signalPoints = m.SignalCap
	}

	// (2) stacking
	stacking := m.stackingBonus(len(distinct))
	if stacking > 0 {
		factors = append(factors, models.FactorContribution{
			Name:   "stacking",
			Points: round2(stacking),
			Detail: fmt.Sprintf("%d distinct signal types", len(distinct)),
		})
	}

	// (3) owner flags, in key order
	owner := 0.0
	flagKeys := make([]string, 0, len(m.OwnerWeights))
	for k := range m.OwnerWeights {
		flagKeys = append(flagKeys, k)
	}
	sort.Strings(flagKeys)
	for _, k := range flagKeys {
		if !in.OwnerFlags.Bool(k) {
			continue
		}
		w := m.OwnerWeights[k]
		owner += w
		factors = append(factors, models.FactorContribution{Name: "owner:" + k, Points: w})
	}
	owner = clampFloat(owner, m.OwnerMin, m.OwnerMax)

	// (4) equity and comp spread
	equityPct := clampFloat(in.EquityPercent, 0, 100)
	equityPoints := m.EquityMax * math.Min(equityPct, m.EquitySaturation) / m.EquitySaturation
	factors = append(factors, models.FactorContribution{
		Name:   "equity",
		Points: round2(equityPoints),
		Detail: fmt.Sprintf("%.1f%% equity", equityPct),
	})
	compPoints := 0.0
	if in.CompRatio > 0 && !math.IsInf(in.CompRatio, 0) {
		compPoints = clampFloat((in.CompRatio-m.CompNeutral)*m.CompSlope, -m.CompMax, m.CompMax)
		factors = append(factors, models.FactorContribution{
			Name:   "comp_ratio",
			Points: round2(compPoints),
			Detail: fmt.Sprintf("value/loan %.2f", in.CompRatio),
		})
	}

	aiBoost := clampFloat(in.AIBoost, 0, m.MaxAIBoost)
	if aiBoost > 0 {
		factors = append(factors, models.FactorContribution{Name: "ai_boost", Points: round2(aiBoost)})
	}

	motivation := signalPoints + stacking + owner
	deal := equityPoints + compPoints
	raw := motivation + deal + aiBoost

	// (5) historical conversion
	multiplier := m.conversionMultiplier(in.HistoricalConversionRate)
	if multiplier != 1 {
		factors = append(factors, models.FactorContribution{
			Name:   "historical_conversion",
			Points: round2(raw*multiplier - raw),
			Detail: fmt.Sprintf("x%.3f", multiplier),
		})
	}

	// (6) composite
	composite := round2(clampFloat(raw*multiplier, 0, 100))

	recency := 0.0
	if severitySum > 0 {
		recency = termSum / severitySum
	}

	return Result{
		ModelVersion:         m.Version(),
		Label:                m.Label(composite),
		Factors:              factors,
		Composite:            composite,
		Motivation:           round2(motivation),
		Deal:                 round2(deal),
		SeverityMultiplier:   round4(float64(maxSeverity) / models.MaxSeverity),
		RecencyDecay:         round4(recency),
		StackingBonus:        round2(stacking),
		OwnerFactor:          round2(owner),
		EquityFactor:         round2(equityPoints),
		AIBoost:              round2(aiBoost),
		ConversionMultiplier: round4(multiplier),
		EquityPercent:        equityPct,
	}
}

// stackingBonus rewards distinct types beyond the first with halving steps.
func (m Model) stackingBonus(distinct int) float64 {
	bonus := 0.0
	step := m.StackStep
	for i := 1; i < distinct; i++ {
		bonus += step
		step /= 2
	}
	return math.Min(bonus, m.StackCap)
}

func (m Model) conversionMultiplier(rate float64) float64 {
	rate = clampFloat(rate, 0, 1)
	shift := clampFloat((rate-m.BaselineConversion)*m.ConversionSensitivity, -m.MaxConversionShift, m.MaxConversionShift)
	return 1 + shift
}

func clampFloat(v, lo, hi float64) float64 {
	if math.IsNaN(v) {
		return lo
	}
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func round2(v float64) float64 { return math.Round(v*100) / 100 }

func round4(v float64) float64 { return math.Round(v*10000) / 10000 }
