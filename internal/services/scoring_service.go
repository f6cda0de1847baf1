package services

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/stwalsh4118/parcelheat/internal/audit"
	"github.com/stwalsh4118/parcelheat/internal/clock"
	"github.com/stwalsh4118/parcelheat/internal/logger"
	"github.com/stwalsh4118/parcelheat/internal/models"
	"github.com/stwalsh4118/parcelheat/internal/repository"
	"github.com/stwalsh4118/parcelheat/internal/scoring"
	"golang.org/x/sync/errgroup"
)

// BatchResult counts the outcome of a batch replay.
type BatchResult struct {
	Processed int `json:"processed"`
	Failed    int `json:"failed"`
}

// ConversionTable holds historical conversion rates per signal combination.
type ConversionTable struct {
	rates    map[string]float64
	baseline float64
}

// NewConversionTable builds a table from rates keyed by event types joined
// with "+" in any order. Unknown combinations fall back to baseline.
func NewConversionTable(rates map[string]float64, baseline float64) ConversionTable {
	normalized := make(map[string]float64, len(rates))
	for key, rate := range rates {
		parts := strings.Split(key, "+")
		types := make([]models.EventType, 0, len(parts))
		for _, p := range parts {
			types = append(types, models.EventType(strings.ToLower(strings.TrimSpace(p))))
		}
		normalized[CombinationKey(types)] = rate
	}
	return ConversionTable{rates: normalized, baseline: baseline}
}

// Rate returns the conversion rate for the combination of types.
func (t ConversionTable) Rate(types []models.EventType) float64 {
	if rate, ok := t.rates[CombinationKey(types)]; ok {
		return rate
	}
	return t.baseline
}

// CombinationKey is the sorted, de-duplicated event types joined with "+".
func CombinationKey(types []models.EventType) string {
	seen := make(map[models.EventType]struct{}, len(types))
	keys := make([]string, 0, len(types))
	for _, t := range types {
		if t == "" {
			continue
		}
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		keys = append(keys, string(t))
	}
	sort.Strings(keys)
	return strings.Join(keys, "+")
}

// ScoringService computes and persists deterministic Heat Scores.
type ScoringService interface {
	// ScoreProperty scores the property from its signals observed up to asOf
	// and appends the result. Returns ErrPropertyNotFound for unknown ids.
	ScoreProperty(ctx context.Context, actor models.Actor, propertyID uuid.UUID, asOf time.Time) (*models.ScoringRecord, error)

	// Evaluate computes the record ScoreProperty would append without
	// storing it. Commit appends a record returned by Evaluate.
	Evaluate(ctx context.Context, propertyID uuid.UUID, asOf time.Time) (*models.ScoringRecord, error)
	Commit(ctx context.Context, actor models.Actor, record *models.ScoringRecord) error

	// RescoreAll replays ScoreProperty for every property in counties.
	// Per-property failures are counted, not returned.
	RescoreAll(ctx context.Context, actor models.Actor, counties []string, asOf time.Time) (BatchResult, error)

	// History returns every score ever computed for the property, oldest first.
	History(ctx context.Context, propertyID uuid.UUID) ([]models.ScoringRecord, error)

	ModelVersion() string
}

type scoringService struct {
	store       *repository.Store
	model       scoring.Model
	conversions ConversionTable
	audit       audit.Recorder
	clock       clock.Clock
	log         *logger.Logger
	concurrency int
}

// NewScoringService creates a new instance of ScoringService.
func NewScoringService(store *repository.Store, model scoring.Model, conversions ConversionTable, rec audit.Recorder, c clock.Clock, concurrency int, log *logger.Logger) ScoringService {
	if concurrency <= 0 {
		concurrency = 1
	}
	return &scoringService{
		store:       store,
		model:       model,
		conversions: conversions,
		audit:       rec,
		clock:       c,
		log:         log.WithComponent("scoring"),
		concurrency: concurrency,
	}
}

func (s *scoringService) ModelVersion() string {
	return s.model.Version()
}

func (s *scoringService) ScoreProperty(ctx context.Context, actor models.Actor, propertyID uuid.UUID, asOf time.Time) (*models.ScoringRecord, error) {
	record, err := s.Evaluate(ctx, propertyID, asOf)
	if err != nil {
		return nil, err
	}
	if err := s.Commit(ctx, actor, record); err != nil {
		return nil, err
	}
	return record, nil
}

func (s *scoringService) Evaluate(ctx context.Context, propertyID uuid.UUID, asOf time.Time) (*models.ScoringRecord, error) {
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

	asOf = asOf.UTC()
	signals := make([]scoring.Signal, 0, len(events))
	types := make([]models.EventType, 0, len(events))
	for _, e := range events {
		if e.ObservedAt.After(asOf) {
			continue
		}
		signals = append(signals, scoring.Signal{
			ObservedAt: e.ObservedAt,
			Type:       e.EventType,
			Source:     e.Source,
			Severity:   e.Severity,
			Confidence: e.Confidence,
		})
		types = append(types, e.EventType)
	}

	var equity float64
	if property.EquityPercent != nil {
		equity = *property.EquityPercent
	}

	result := s.model.Compute(scoring.Input{
		AsOf:                     asOf,
		OwnerFlags:               property.OwnerFlags,
		Signals:                  signals,
		EquityPercent:            equity,
		CompRatio:                property.CompRatio(),
		HistoricalConversionRate: s.conversions.Rate(types),
	})

	record := &models.ScoringRecord{
		PropertyID:         propertyID,
		ModelVersion:       result.ModelVersion,
		Composite:          result.Composite,
		Motivation:         result.Motivation,
		Deal:               result.Deal,
		SeverityMultiplier: result.SeverityMultiplier,
		RecencyDecay:       result.RecencyDecay,
		StackingBonus:      result.StackingBonus,
		OwnerFactor:        result.OwnerFactor,
		EquityFactor:       result.EquityFactor,
		AIBoost:            result.AIBoost,
		EquityPercent:      result.EquityPercent,
		Label:              result.Label,
		Factors:            result.Factors,
		AsOf:               asOf,
		ComputedAt:         s.clock.Now(),
	}
	return record, nil
}

func (s *scoringService) Commit(ctx context.Context, actor models.Actor, record *models.ScoringRecord) error {
	propertyID := record.PropertyID
	if err := s.store.Scores.AppendRecord(ctx, record); err != nil {
		s.log.Error("Failed to append scoring record", err, map[string]interface{}{
			"property_id": propertyID,
			"composite":   record.Composite,
		})
		return fmt.Errorf("%w: append score for %s: %v", ErrPersistenceFailure, propertyID, err)
	}

	recordAudit(ctx, s.audit, s.log, audit.Entry{
		Actor:      actor,
		Action:     audit.ActionScoreComputed,
		EntityType: models.EntityScore,
		EntityID:   record.ID.String(),
		Detail: map[string]interface{}{
			"property_id":   propertyID.String(),
			"composite":     record.Composite,
			"label":         record.Label,
			"model_version": record.ModelVersion,
			"as_of":         record.AsOf.Format(time.RFC3339),
		},
	})

	s.log.Debug("Property scored", map[string]interface{}{
		"property_id": propertyID,
		"composite":   record.Composite,
		"label":       record.Label,
	})
	return nil
}

func (s *scoringService) RescoreAll(ctx context.Context, actor models.Actor, counties []string, asOf time.Time) (BatchResult, error) {
	ids, err := s.store.Properties.ListIDs(ctx, counties)
	if err != nil {
		return BatchResult{}, fmt.Errorf("%w: list properties: %v", ErrPersistenceFailure, err)
	}

	var processed, failed atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)
	for _, id := range ids {
		g.Go(func() error {
			if _, err := s.ScoreProperty(gctx, actor, id, asOf); err != nil {
				failed.Add(1)
				s.log.Warn("Rescore failed", map[string]interface{}{
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
	s.log.Info("Rescore completed", map[string]interface{}{
		"counties":  counties,
		"processed": result.Processed,
		"failed":    result.Failed,
		"as_of":     asOf,
	})
	return result, nil
}

func (s *scoringService) History(ctx context.Context, propertyID uuid.UUID) ([]models.ScoringRecord, error) {
	property, err := s.store.Properties.GetByID(ctx, propertyID)
	if err != nil {
		return nil, fmt.Errorf("%w: load property %s: %v", ErrPersistenceFailure, propertyID, err)
	}
	if property == nil {
		return nil, fmt.Errorf("%w: %s", ErrPropertyNotFound, propertyID)
	}
	records, err := s.store.Scores.ListRecords(ctx, propertyID)
	if err != nil {
		return nil, fmt.Errorf("%w: list scores for %s: %v", ErrPersistenceFailure, propertyID, err)
	}
	return records, nil
}
