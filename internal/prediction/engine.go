package prediction

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/stwalsh4118/parcelheat/internal/models"
)

// Event is one recorded distress signal as seen by the predictive engine.
type Event struct {
	ObservedAt time.Time
	OwnerAge   *int
	Type       models.EventType
	Severity   int
}

// HistoryPoint is one prior deterministic score.
type HistoryPoint struct {
	At            time.Time
	Composite     float64
	EquityPercent float64
}

// Input is everything a prediction depends on.
type Input struct {
	AsOf              time.Time
	PropertyCreatedAt time.Time
	OwnerFlags        models.OwnerFlags
	Events            []Event
	History           []HistoryPoint
}

// Features is the derived feature vector.
type Features struct {
	OwnerAge             *int
	EquityBurnRate       float64
	AbsenteeDurationDays int
	TaxDelinquencyTrend  float64
	LifeEventProbability float64
	ScoreMomentum        float64
	HistoryPoints        int
	SpanDays             float64
}

// Snapshot flattens the features for persistence.
func (f Features) Snapshot() models.FeatureMap {
	snap := models.FeatureMap{
		"equity_burn_rate":       f.EquityBurnRate,
		"absentee_duration_days": float64(f.AbsenteeDurationDays),
		"tax_delinquency_trend":  f.TaxDelinquencyTrend,
		"life_event_probability": f.LifeEventProbability,
		"score_momentum":         f.ScoreMomentum,
		"history_points":         float64(f.HistoryPoints),
		"span_days":              f.SpanDays,
	}
	if f.OwnerAge != nil {
		snap["owner_age"] = float64(*f.OwnerAge)
	}
	return snap
}

// Result is a computed prediction.
type Result struct {
	ModelVersion      string
	Label             string
	Factors           models.FactorList
	Features          Features
	PredictiveScore   float64
	Confidence        float64
	DaysUntilDistress int
}

// Compute builds the feature vector and derives score, horizon and confidence.
// It is pure: the same Input always yields the same Result.
func (m Model) Compute(in Input) Result {
	events := sortEvents(in.Events)
	history := sortHistory(in.History)
	f := m.features(in, events, history)

	var factors models.FactorList
	add := func(name string, points float64, detail string) {
		if points == 0 {
			return
		}
		factors = append(factors, models.FactorContribution{Name: name, Points: round2(points), Detail: detail})
	}

	add("life_event", m.LifeWeight*f.LifeEventProbability, fmt.Sprintf("p=%.3f", f.LifeEventProbability))
	add("tax_delinquency_trend", m.TaxWeight*saturate(f.TaxDelinquencyTrend, m.TaxTrendSaturation),
		fmt.Sprintf("%.2f severity/30d", f.TaxDelinquencyTrend))
	add("equity_burn", m.BurnWeight*saturate(f.EquityBurnRate, m.BurnSaturation),
		fmt.Sprintf("%.2f pts/30d", f.EquityBurnRate))
	add("absentee_duration", m.AbsenteeWeight*saturate(float64(f.AbsenteeDurationDays), m.AbsenteeSaturationDays),
		fmt.Sprintf("%d days", f.AbsenteeDurationDays))
	if f.OwnerAge != nil {
		add("owner_age", m.AgeWeight*m.ageFactor(*f.OwnerAge), fmt.Sprintf("age %d", *f.OwnerAge))
	}
	add("score_momentum", m.MomentumWeight*saturate(f.ScoreMomentum, m.MomentumSaturation),
		fmt.Sprintf("%.2f pts/30d", f.ScoreMomentum))

	score := round2(clamp(factors.Total(), 0, 100))
	days := int(math.Round(m.HorizonDays * math.Pow(1-score/100, 1.5)))
	if days < 0 {
		days = 0
	}

	historyFactor := 1 - math.Exp(-float64(f.HistoryPoints)/m.ConfidenceHistoryScale)
	spanFactor := math.Min(1, f.SpanDays/m.ConfidenceSpanDays)
	confidence := round2(100 * (0.7*historyFactor + 0.3*spanFactor))

	return Result{
		ModelVersion:      m.Version(),
		Label:             m.Label(days, confidence),
		Factors:           factors,
		Features:          f,
		PredictiveScore:   score,
		Confidence:        confidence,
		DaysUntilDistress: days,
	}
}

func (m Model) features(in Input, events []Event, history []HistoryPoint) Features {
	f := Features{HistoryPoints: len(history)}

	// Owner age: the most recent explicit observation wins.
	for i := len(events) - 1; i >= 0; i-- {
		if events[i].OwnerAge != nil && *events[i].OwnerAge > 0 {
			age := *events[i].OwnerAge
			f.OwnerAge = &age
			break
		}
	}
	if f.OwnerAge == nil && in.OwnerFlags.Bool(models.FlagElderly) {
		age := m.ElderlyAssumedAge
		f.OwnerAge = &age
	}

	// Equity burn: falling equity is a positive burn rate.
	if len(history) > 1 {
		xs := make([]float64, len(history))
		ys := make([]float64, len(history))
		cs := make([]float64, len(history))
		for i, h := range history {
			xs[i] = months(h.At, history[0].At)
			ys[i] = h.EquityPercent
			cs[i] = h.Composite
		}
		f.EquityBurnRate = round4(-slope(xs, ys))
		f.ScoreMomentum = round4(slope(xs, cs))
	}

	// Absentee duration.
	for _, e := range events {
		if e.Type == models.EventAbsentee {
			f.AbsenteeDurationDays = daysBetween(e.ObservedAt, in.AsOf)
			break
		}
	}
	if f.AbsenteeDurationDays == 0 && in.OwnerFlags.Bool(models.FlagAbsentee) && !in.PropertyCreatedAt.IsZero() {
		f.AbsenteeDurationDays = daysBetween(in.PropertyCreatedAt, in.AsOf)
	}

	// Tax delinquency trend.
	var origin time.Time
	var txs, tys []float64
	for _, e := range events {
		if e.Type != models.EventTaxLien && e.Type != models.EventPreForeclosure {
			continue
		}
		if len(txs) == 0 {
			origin = e.ObservedAt
		}
		txs = append(txs, months(e.ObservedAt, origin))
		tys = append(tys, float64(clampInt(e.Severity, models.MinSeverity, models.MaxSeverity)))
	}
	if len(txs) > 1 {
		f.TaxDelinquencyTrend = round4(slope(txs, tys))
	}

	// Life-event probability.
	survive := 1.0
	for _, e := range events {
		p, ok := m.LifeEventWeights[e.Type]
		if !ok {
			continue
		}
		days := float64(daysBetween(e.ObservedAt, in.AsOf))
		decay := math.Pow(0.5, days/m.LifeEventHalfLifeDays)
		survive *= 1 - clamp(p, 0, 1)*decay
	}
	f.LifeEventProbability = round4(1 - survive)

	// Observation span across events and history.
	var earliest, latest time.Time
	observe := func(t time.Time) {
		if t.IsZero() {
			return
		}
		if earliest.IsZero() || t.Before(earliest) {
			earliest = t
		}
		if latest.IsZero() || t.After(latest) {
			latest = t
		}
	}
	for _, e := range events {
		observe(e.ObservedAt)
	}
	for _, h := range history {
		observe(h.At)
	}
	if !earliest.IsZero() {
		f.SpanDays = round2(latest.Sub(earliest).Hours() / 24)
	}

	return f
}

func (m Model) ageFactor(age int) float64 {
	switch {
	case age >= m.AgeHigh:
		return 1
	case age >= m.AgeMid:
		return 0.5
	default:
		return 0
	}
}

// slope is the ordinary least-squares slope of ys over xs. It returns 0 when
// xs has no spread.
func slope(xs, ys []float64) float64 {
	n := float64(len(xs))
	if n < 2 {
		return 0
	}
	var sx, sy float64
	for i := range xs {
		sx += xs[i]
		sy += ys[i]
	}
	mx, my := sx/n, sy/n
	var num, den float64
	for i := range xs {
		dx := xs[i] - mx
		num += dx * (ys[i] - my)
		den += dx * dx
	}
	if den == 0 {
		return 0
	}
	return num / den
}

// months returns the elapsed time from origin to t in 30-day units.
func months(t, origin time.Time) float64 {
	return t.Sub(origin).Hours() / 24 / 30
}

func daysBetween(from, to time.Time) int {
	if from.IsZero() || to.Before(from) {
		return 0
	}
	return int(to.Sub(from).Hours() / 24)
}

func sortEvents(events []Event) []Event {
	out := make([]Event, len(events))
	copy(out, events)
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].ObservedAt.Equal(out[j].ObservedAt) {
			return out[i].ObservedAt.Before(out[j].ObservedAt)
		}
		if out[i].Type != out[j].Type {
			return out[i].Type < out[j].Type
		}
		return out[i].Severity < out[j].Severity
	})
	return out
}

func sortHistory(history []HistoryPoint) []HistoryPoint {
	out := make([]HistoryPoint, len(history))
	copy(out, history)
	sort.SliceStable(out, func(i, j int) bool { return out[i].At.Before(out[j].At) })
	return out
}

func saturate(v, limit float64) float64 {
	return clamp(v/limit, 0, 1)
}

func clamp(v, lo, hi float64) float64 {
	if math.IsNaN(v) || v < lo {
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
