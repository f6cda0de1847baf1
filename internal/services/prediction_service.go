package services

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/stwalsh4118/parcelheat/internal/audit"
	"github.com/stwalsh4118/parcelheat/internal/clock"
	"github.com/stwalsh4118/parcelheat/internal/logger"
	"github.com/stwalsh4118/parcelheat/internal/models"
	"github.com/stwalsh4118/parcelheat/internal/prediction"
	"github.com/stwalsh4118/parcelheat/internal/repository"
	"golang.org/x/sync/errgroup"
)

// PredictionService computes and persists forward-looking predictions.
type PredictionService interface {
	// PredictProperty predicts from the history recorded up to asOf and
	// appends the result. When a promotion service is wired, the property's
	// active lead is re-blended with the new score. Returns
	// ErrPropertyNotFound for unknown ids.
	PredictProperty(ctx context.Context, actor models.Actor, propertyID uuid.UUID, asOf time.Time) (*models.ScoringPrediction, error)

	// PredictAll runs PredictProperty for every property in counties.
	PredictAll(ctx context.Context, actor models.Actor, counties []string, asOf time.Time) (BatchResult, error)

	// History returns every prediction for the property, oldest first.
	History(ctx context.Context, propertyID uuid.UUID) ([]models.ScoringPrediction, error)

	ModelVersion() string
}

type predictionService struct {
	store       *repository.Store
	model       prediction.Model
	promotion   PromotionService
	audit       audit.Recorder
	clock       clock.Clock
	log         *logger.Logger
	concurrency int
}

// NewPredictionService creates a new instance of PredictionService.
// promotion may be nil, in which case lead priorities are left alone.
func NewPredictionService(store *repository.Store, model prediction.Model, promotion PromotionService, rec audit.Recorder, c clock.Clock, concurrency int, log *logger.Logger) PredictionService {
	if concurrency <= 0 {
		concurrency = 1
	}
	return &predictionService{
		store:       store,
		model:       model,
		promotion:   promotion,
		audit:       rec,
		clock:       c,
		log:         log.WithComponent("prediction"),
		concurrency: concurrency,
	}
}

func (s *predictionService) ModelVersion() string {
	return s.model.Version()
}

func (s *predictionService) PredictProperty(ctx context.Context, actor models.Actor, propertyID uuid.UUID, asOf time.Time) (*models.ScoringPrediction, error) {
	property, err := s.store.Properties.GetByID(ctx, propertyID)
	if err != nil {
		return nil, fmt.Errorf("%w: load property %s: %v", ErrPersistenceFailure, propertyID, err)
	}
	if property == nil {
		return nil, fmt.Errorf("%w: %s", ErrPropertyNotFound, propertyID)
	}

	events, err := s.store.Events.ListByProperty(ctx, propertyID)
	if err != nil {
		return nil, fmt.Errorf("%w: load events for %s: %v", ErrPersistenceFailure, propertyID, err)
	}
	records, err := s.store.Scores.ListRecords(ctx, propertyID)
	if err != nil {
		return nil, fmt.Errorf("%w: load scores for %s: %v", ErrPersistenceFailure, propertyID, err)
	}

	asOf = asOf.UTC()
	in := prediction.Input{
		AsOf:              asOf,
		PropertyCreatedAt: property.CreatedAt,
		OwnerFlags:        property.OwnerFlags,
	}
	for _, e := range events {
		if e.ObservedAt.After(asOf) {
			continue
		}
		in.Events = append(in.Events, prediction.Event{
			ObservedAt: e.ObservedAt,
			OwnerAge:   ownerAgeFromPayload(e.RawPayload),
			Type:       e.EventType,
			Severity:   e.Severity,
		})
	}
	for _, r := range records {
		if r.AsOf.After(asOf) {
			continue
		}
		in.History = append(in.History, prediction.HistoryPoint{
			At:            r.AsOf,
			Composite:     r.Composite,
			EquityPercent: r.EquityPercent,
		})
	}

	result := s.model.Compute(in)
	p := &models.ScoringPrediction{
		PropertyID:           propertyID,
		ModelVersion:         result.ModelVersion,
		PredictiveScore:      result.PredictiveScore,
		DaysUntilDistress:    result.DaysUntilDistress,
		Confidence:           result.Confidence,
		Label:                result.Label,
		OwnerAge:             result.Features.OwnerAge,
		EquityBurnRate:       result.Features.EquityBurnRate,
		AbsenteeDurationDays: result.Features.AbsenteeDurationDays,
		TaxDelinquencyTrend:  result.Features.TaxDelinquencyTrend,
		LifeEventProbability: result.Features.LifeEventProbability,
		Features:             result.Features.Snapshot(),
		Factors:              result.Factors,
		AsOf:                 asOf,
		ComputedAt:           s.clock.Now(),
	}
	if err := s.store.Predictions.AppendPrediction(ctx, p); err != nil {
		s.log.Error("Failed to append prediction", err, map[string]interface{}{
			"property_id": propertyID,
		})
		return nil, fmt.Errorf("%w: append prediction for %s: %v", ErrPersistenceFailure, propertyID, err)
	}

	recordAudit(ctx, s.audit, s.log, audit.Entry{
		Actor:      actor,
		Action:     audit.ActionPredictionComputed,
		EntityType: models.EntityPrediction,
		EntityID:   p.ID.String(),
		Detail: map[string]interface{}{
			"property_id":         propertyID.String(),
			"predictive_score":    p.PredictiveScore,
			"days_until_distress": p.DaysUntilDistress,
			"confidence":          p.Confidence,
			"label":               p.Label,
			"model_version":       p.ModelVersion,
		},
	})

	if s.promotion != nil && len(records) > 0 {
		latest := records[len(records)-1]
		if _, err := s.promotion.Reprioritize(ctx, actor, propertyID, latest.Composite, p.PredictiveScore); err != nil {
			s.log.Warn("Failed to reprioritize lead", map[string]interface{}{
				"property_id": propertyID,
				"error":       err.Error(),
			})
		}
	}
	return p, nil
}

func (s *predictionService) PredictAll(ctx context.Context, actor models.Actor, counties []string, asOf time.Time) (BatchResult, error) {
	ids, err := s.store.Properties.ListIDs(ctx, counties)
	if err != nil {
		return BatchResult{}, fmt.Errorf("%w: list properties: %v", ErrPersistenceFailure, err)
	}

	var processed, failed atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)
	for _, id := range ids {
		g.Go(func() error {
			if _, err := s.PredictProperty(gctx, actor, id, asOf); err != nil {
				failed.Add(1)
				s.log.Warn("Prediction failed", map[string]interface{}{
					"property_id": id,
					"error":       err.Error(),
				})
				return nil
			}
			processed.Add(1)
			return nil
		})
	}
	_ = g.Wait()

	result := BatchResult{Processed: int(processed.Load()), Failed: int(failed.Load())}
	s.log.Info("Prediction batch completed", map[string]interface{}{
		"counties":  counties,
		"processed": result.Processed,
		"failed":    result.Failed,
	})
	return result, nil
}

func (s *predictionService) History(ctx context.Context, propertyID uuid.UUID) ([]models.ScoringPrediction, error) {
	property, err := s.store.Properties.GetByID(ctx, propertyID)
	if err != nil {
		return nil, fmt.Errorf("%w: load property %s: %v", ErrPersistenceFailure, propertyID, err)
	}
	if property == nil {
		return nil, fmt.Errorf("%w: %s", ErrPropertyNotFound, propertyID)
	}
	predictions, err := s.store.Predictions.ListPredictions(ctx, propertyID)
	if err != nil {
		return nil, fmt.Errorf("%w: list predictions for %s: %v", ErrPersistenceFailure, propertyID, err)
	}
	return predictions, nil
}

// ownerAgeFromPayload reads an "owner_age" key that sources report as either
// a number or a numeric string.
func ownerAgeFromPayload(raw json.RawMessage) *int {
	if len(raw) == 0 {
		return nil
	}
	var payload map[string]interface{}
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil
	}
	var age int
	switch v := payload["owner_age"].(type) {
	case float64:
		age = int(v)
	case string:
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return nil
		}
		age = n
	default:
		return nil
	}
	if age <= 0 || age > 120 {
		return nil
	}
	return &age
}
