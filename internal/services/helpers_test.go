package services

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/stwalsh4118/parcelheat/internal/audit"
	"github.com/stwalsh4118/parcelheat/internal/clock"
	"github.com/stwalsh4118/parcelheat/internal/identity"
	"github.com/stwalsh4118/parcelheat/internal/logger"
	"github.com/stwalsh4118/parcelheat/internal/models"
	"github.com/stwalsh4118/parcelheat/internal/prediction"
	"github.com/stwalsh4118/parcelheat/internal/promotion"
	"github.com/stwalsh4118/parcelheat/internal/repository"
	"github.com/stwalsh4118/parcelheat/internal/scoring"
	"github.com/stwalsh4118/parcelheat/internal/sources"
)

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

const testActor = models.Actor("ops@example.com")

// testEnv wires every service over one MemoryStore.
type testEnv struct {
	mem        *repository.MemoryStore
	store      *repository.Store
	clock      *clock.ManualClock
	counties   *identity.CountyNormalizer
	recorder   audit.Recorder
	identity   IdentityService
	signals    SignalService
	scoring    ScoringService
	prediction PredictionService
	promotion  PromotionService
}

func newTestEnv() *testEnv {
	return newTestEnvWithThresholds(promotion.DefaultThresholds())
}

func newTestEnvWithThresholds(thresholds promotion.Thresholds) *testEnv {
	c := clock.NewManual(testNow)
	mem := repository.NewMemoryStore(c)
	store := mem.Store()
	log := logger.Nop()
	rec := audit.NewRecorder(store.Audit, c)
	counties := identity.NewCountyNormalizer([]string{"Montgomery", "Harris", "Fort Bend", "Travis"}, "Montgomery")
	model := scoring.DefaultModel()
	promoter := NewPromotionService(store.Predictions, store.Leads, thresholds, promotion.DefaultDeterministicWeight, rec, log)

	return &testEnv{
		mem:        mem,
		store:      store,
		clock:      c,
		counties:   counties,
		recorder:   rec,
		identity:   NewIdentityService(store.Properties, counties, rec, log),
		signals:    NewSignalService(store.Events, rec, log),
		scoring:    NewScoringService(store, model, NewConversionTable(nil, model.BaselineConversion), rec, c, 4, log),
		prediction: NewPredictionService(store, prediction.DefaultModel(), promoter, rec, c, 4, log),
		promotion:  promoter,
	}
}

func (e *testEnv) pipeline() Pipeline {
	return Pipeline{
		Identity:  e.identity,
		Signals:   e.signals,
		Scoring:   e.scoring,
		Promotion: e.promotion,
	}
}

func (e *testEnv) cycle(cfg CycleConfig, adapters ...sources.Adapter) CycleService {
	return e.cycleWith(e.pipeline(), cfg, adapters...)
}

func (e *testEnv) cycleWith(p Pipeline, cfg CycleConfig, adapters ...sources.Adapter) CycleService {
	return NewCycleService(e.store, p, adapters, e.counties, e.recorder, e.clock, cfg, logger.Nop())
}

// flakyScoring fails Evaluate for its first failures calls.
type flakyScoring struct {
	ScoringService
	failures atomic.Int32
}

func (f *flakyScoring) Evaluate(ctx context.Context, id uuid.UUID, asOf time.Time) (*models.ScoringRecord, error) {
	if f.failures.Add(-1) >= 0 {
		return nil, fmt.Errorf("%w: connection reset", ErrPersistenceFailure)
	}
	return f.ScoringService.Evaluate(ctx, id, asOf)
}

// flakyPromotion fails Promote for its first failures calls.
type flakyPromotion struct {
	PromotionService
	failures atomic.Int32
}

func (f *flakyPromotion) Promote(ctx context.Context, actor models.Actor, c Candidate) (PromotionResult, error) {
	if f.failures.Add(-1) >= 0 {
		return PromotionResult{}, fmt.Errorf("%w: lead write timed out", ErrPersistenceFailure)
	}
	return f.PromotionService.Promote(ctx, actor, c)
}

func (e *testEnv) auditActions(entityType, entityID string) []string {
	entries, _ := e.store.Audit.ListByEntity(context.Background(), entityType, entityID)
	actions := make([]string, 0, len(entries))
	for _, entry := range entries {
		actions = append(actions, entry.Action)
	}
	return actions
}

// stubAdapter returns canned records, optionally after a hook runs.
type stubAdapter struct {
	name    string
	tier    models.Tier
	records []sources.NormalizedSignal
	err     error
	before  func(ctx context.Context)
	calls   atomic.Int32
}

func (a *stubAdapter) Name() string      { return a.name }
func (a *stubAdapter) Tier() models.Tier { return a.tier }

func (a *stubAdapter) ProduceRecords(ctx context.Context, _ []string) ([]sources.NormalizedSignal, error) {
	a.calls.Add(1)
	if a.before != nil {
		a.before(ctx)
	}
	out := append([]sources.NormalizedSignal(nil), a.records...)
	if a.err != nil {
		return out, a.err
	}
	if err := ctx.Err(); err != nil {
		return out, err
	}
	return out, nil
}

func strPtr(s string) *string     { return &s }
func floatPtr(f float64) *float64 { return &f }
