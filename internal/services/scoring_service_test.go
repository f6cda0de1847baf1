package services

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stwalsh4118/parcelheat/internal/audit"
	"github.com/stwalsh4118/parcelheat/internal/logger"
	"github.com/stwalsh4118/parcelheat/internal/models"
	"github.com/stwalsh4118/parcelheat/internal/scoring"
)

// seedScenario creates the probate + vacant property with 60% equity and a
// 1.4 value-to-loan ratio.
func seedScenario(t *testing.T, env *testEnv, parcel, county string) uuid.UUID {
	t.Helper()
	ctx := context.Background()

	id, err := env.identity.ResolveProperty(ctx, testActor, PropertyInput{
		ParcelID: parcel,
		County:   county,
		Attributes: models.PropertyAttributes{
			EquityPercent:   floatPtr(60),
			EstimatedValue:  floatPtr(280000),
			MortgageBalance: floatPtr(200000),
		},
	})
	require.NoError(t, err)

	for _, s := range []SignalInput{
		{EventType: models.EventProbate, Severity: 9, ObservedAt: testNow.AddDate(0, 0, -10), Source: "clerk"},
		{EventType: models.EventVacant, Severity: 5, ObservedAt: testNow.AddDate(0, 0, -40), Source: "usps"},
	} {
		s.PropertyID = id
		s.ParcelID = parcel
		s.County = county
		s.Confidence = 0.8
		outcome, err := env.signals.RecordSignal(ctx, testActor, s)
		require.NoError(t, err)
		require.Equal(t, models.OutcomeInserted, outcome)
	}
	return id
}

func TestScoreProperty_Scenario(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()
	id := seedScenario(t, env, "P1", "Harris")

	record, err := env.scoring.ScoreProperty(ctx, testActor, id, testNow)
	require.NoError(t, err)

	assert.InDelta(t, 68.88, record.Composite, 0.05)
	assert.Equal(t, models.LabelHot, record.Label)
	assert.Equal(t, scoring.DefaultModel().Version(), record.ModelVersion)
	assert.Equal(t, env.scoring.ModelVersion(), record.ModelVersion)
	assert.Equal(t, testNow, record.AsOf)
	assert.Equal(t, testNow, record.ComputedAt)
	assert.NotEqual(t, uuid.Nil, record.ID)
	assert.Contains(t, env.auditActions(models.EntityScore, record.ID.String()), audit.ActionScoreComputed)
}

func TestScoreProperty_ReplayAppendsIdenticalScores(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()
	id := seedScenario(t, env, "P1", "Harris")

	first, err := env.scoring.ScoreProperty(ctx, testActor, id, testNow)
	require.NoError(t, err)
	env.clock.Advance(72 * time.Hour)
	second, err := env.scoring.ScoreProperty(ctx, testActor, id, testNow)
	require.NoError(t, err)

	assert.Equal(t, first.Composite, second.Composite)
	assert.Equal(t, first.Factors, second.Factors)
	assert.NotEqual(t, first.ID, second.ID)

	history, err := env.scoring.History(ctx, id)
	require.NoError(t, err)
	assert.Len(t, history, 2)
}

func TestScoreProperty_AsOfExcludesLaterSignals(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()
	id := seedScenario(t, env, "P1", "Harris")

	now, err := env.scoring.ScoreProperty(ctx, testActor, id, testNow)
	require.NoError(t, err)
	past, err := env.scoring.ScoreProperty(ctx, testActor, id, testNow.AddDate(0, 0, -20))
	require.NoError(t, err)

	assert.Less(t, past.Composite, now.Composite)
	assert.Equal(t, 0.0, past.StackingBonus, "only the vacant signal existed 20 days ago")
}

func TestScoreProperty_ConversionTable(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()
	id := seedScenario(t, env, "P1", "Harris")

	model := scoring.DefaultModel()
	boosted := NewScoringService(env.store, model,
		NewConversionTable(map[string]float64{"vacant + probate": 0.5}, model.BaselineConversion),
		env.recorder, env.clock, 1, logger.Nop())

	base, err := env.scoring.ScoreProperty(ctx, testActor, id, testNow)
	require.NoError(t, err)
	high, err := boosted.ScoreProperty(ctx, testActor, id, testNow)
	require.NoError(t, err)

	assert.InDelta(t, base.Composite*(1+model.MaxConversionShift), high.Composite, 0.02)
}

func TestScoreProperty_NotFound(t *testing.T) {
	env := newTestEnv()

	_, err := env.scoring.ScoreProperty(context.Background(), testActor, uuid.New(), testNow)
	assert.ErrorIs(t, err, ErrPropertyNotFound)

	_, err = env.scoring.History(context.Background(), uuid.New())
	assert.ErrorIs(t, err, ErrPropertyNotFound)
}

func TestRescoreAll_FiltersCounties(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()
	seedScenario(t, env, "P1", "Harris")
	seedScenario(t, env, "P2", "Harris")
	seedScenario(t, env, "P3", "Travis")

	result, err := env.scoring.RescoreAll(ctx, models.ActorSystem, []string{"Harris"}, testNow)
	require.NoError(t, err)
	assert.Equal(t, BatchResult{Processed: 2, Failed: 0}, result)
	assert.Equal(t, 2, env.mem.Counts()["scoring_records"])

	result, err = env.scoring.RescoreAll(ctx, models.ActorSystem, nil, testNow)
	require.NoError(t, err)
	assert.Equal(t, 3, result.Processed)
	assert.Equal(t, 5, env.mem.Counts()["scoring_records"])
}

func TestRescoreAll_CountsFailures(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()
	seedScenario(t, env, "P1", "Harris")
	env.mem.SetUnavailable(assert.AnError)

	result, err := env.scoring.RescoreAll(ctx, models.ActorSystem, nil, testNow)
	require.NoError(t, err)
	assert.Equal(t, BatchResult{Processed: 0, Failed: 1}, result)
}

func TestCombinationKey(t *testing.T) {
	assert.Equal(t, "probate+tax_lien+vacant", CombinationKey([]models.EventType{
		models.EventVacant, models.EventProbate, models.EventTaxLien, models.EventProbate, "",
	}))
	assert.Equal(t, "", CombinationKey(nil))

	table := NewConversionTable(map[string]float64{"Tax_Lien+probate": 0.2}, 0.05)
	assert.Equal(t, 0.2, table.Rate([]models.EventType{models.EventProbate, models.EventTaxLien}))
	assert.Equal(t, 0.05, table.Rate([]models.EventType{models.EventProbate}))
}
