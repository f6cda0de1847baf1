package handlers

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"
	"github.com/stwalsh4118/parcelheat/internal/clock"
	"github.com/stwalsh4118/parcelheat/internal/compliance"
	"github.com/stwalsh4118/parcelheat/internal/logger"
	"github.com/stwalsh4118/parcelheat/internal/middleware"
	"github.com/stwalsh4118/parcelheat/internal/models"
	"github.com/stwalsh4118/parcelheat/internal/services"
	"github.com/stwalsh4118/parcelheat/internal/sources"
)

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type MockCycleService struct {
	mock.Mock
}

func (m *MockCycleService) Run(ctx context.Context, actor models.Actor, req services.CycleRequest) (*services.CycleSummary, error) {
	args := m.Called(ctx, actor, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*services.CycleSummary), args.Error(1)
}

func (m *MockCycleService) RunBatch(ctx context.Context, actor models.Actor, adapter sources.Adapter, counties []string) (*services.CycleSummary, error) {
	args := m.Called(ctx, actor, adapter, counties)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*services.CycleSummary), args.Error(1)
}

type MockScoringService struct {
	mock.Mock
}

func (m *MockScoringService) ScoreProperty(ctx context.Context, actor models.Actor, id uuid.UUID, asOf time.Time) (*models.ScoringRecord, error) {
	args := m.Called(ctx, actor, id, asOf)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.ScoringRecord), args.Error(1)
}

func (m *MockScoringService) Evaluate(ctx context.Context, id uuid.UUID, asOf time.Time) (*models.ScoringRecord, error) {
	args := m.Called(ctx, id, asOf)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.ScoringRecord), args.Error(1)
}

func (m *MockScoringService) Commit(ctx context.Context, actor models.Actor, record *models.ScoringRecord) error {
	return m.Called(ctx, actor, record).Error(0)
}

func (m *MockScoringService) RescoreAll(ctx context.Context, actor models.Actor, counties []string, asOf time.Time) (services.BatchResult, error) {
	args := m.Called(ctx, actor, counties, asOf)
	return args.Get(0).(services.BatchResult), args.Error(1)
}

func (m *MockScoringService) History(ctx context.Context, id uuid.UUID) ([]models.ScoringRecord, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.ScoringRecord), args.Error(1)
}

func (m *MockScoringService) ModelVersion() string {
	return m.Called().String(0)
}

type MockPredictionService struct {
	mock.Mock
}

func (m *MockPredictionService) PredictProperty(ctx context.Context, actor models.Actor, id uuid.UUID, asOf time.Time) (*models.ScoringPrediction, error) {
	args := m.Called(ctx, actor, id, asOf)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.ScoringPrediction), args.Error(1)
}

func (m *MockPredictionService) PredictAll(ctx context.Context, actor models.Actor, counties []string, asOf time.Time) (services.BatchResult, error) {
	args := m.Called(ctx, actor, counties, asOf)
	return args.Get(0).(services.BatchResult), args.Error(1)
}

func (m *MockPredictionService) History(ctx context.Context, id uuid.UUID) ([]models.ScoringPrediction, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.ScoringPrediction), args.Error(1)
}

func (m *MockPredictionService) ModelVersion() string {
	return m.Called().String(0)
}

type MockGate struct {
	mock.Mock
}

func (m *MockGate) IsContactAllowed(ctx context.Context, phone, userID string, override bool) (compliance.Decision, error) {
	args := m.Called(ctx, phone, userID, override)
	return args.Get(0).(compliance.Decision), args.Error(1)
}

type stubPinger struct {
	err error
}

func (p stubPinger) Ping(context.Context) error { return p.err }

// testHandlers wires every handler over mocks.
type testHandlers struct {
	cycles     *MockCycleService
	scoring    *MockScoringService
	prediction *MockPredictionService
	gate       *MockGate
	pinger     *stubPinger
}

func newTestHandlers() *testHandlers {
	return &testHandlers{
		cycles:     new(MockCycleService),
		scoring:    new(MockScoringService),
		prediction: new(MockPredictionService),
		gate:       new(MockGate),
		pinger:     &stubPinger{},
	}
}

func (th *testHandlers) router() *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(middleware.RequestID(), middleware.Actor("api"), middleware.Logger(logger.Nop()))

	RegisterRoutes(router, Handlers{
		Health:    NewHealthHandler(th.pinger, "test", "memory", ModelVersions{Scoring: "heat-v1+abc", Prediction: "predict-v1+def"}),
		Cycles:    NewCycleHandler(th.cycles),
		Scores:    NewScoreHandler(th.scoring, th.prediction, clock.NewManual(testNow)),
		CallQueue: NewCallQueueHandler(th.gate),
	})
	return router
}

func (th *testHandlers) assertExpectations(t mock.TestingT) {
	th.cycles.AssertExpectations(t)
	th.scoring.AssertExpectations(t)
	th.prediction.AssertExpectations(t)
	th.gate.AssertExpectations(t)
}
