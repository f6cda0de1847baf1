package services

import (
	"context"
	"fmt"
	"sort"

	"github.com/google/uuid"
	"github.com/stwalsh4118/parcelheat/internal/audit"
	"github.com/stwalsh4118/parcelheat/internal/logger"
	"github.com/stwalsh4118/parcelheat/internal/models"
	"github.com/stwalsh4118/parcelheat/internal/promotion"
	"github.com/stwalsh4118/parcelheat/internal/repository"
)

// Candidate is a freshly scored property offered to the promotion gate.
// When Predictive is nil the latest stored prediction is used, if any.
type Candidate struct {
	Predictive *float64
	Tier       models.Tier
	Source     string
	Signals    []models.EventType
	Composite  float64
	PropertyID uuid.UUID
}

// PromotionResult reports the gate's decision and, on promotion, the lead.
type PromotionResult struct {
	Lead       *models.Lead `json:"lead,omitempty"`
	Predictive *float64     `json:"predictive,omitempty"`
	Decision   string       `json:"decision"`
	Tier       models.Tier  `json:"tier"`
	Blended    float64      `json:"blended"`
	Threshold  float64      `json:"threshold"`
	Created    bool         `json:"created"`
}

// PromotionService decides whether candidates become leads.
type PromotionService interface {
	// Promote blends the scores, applies the tier threshold and, on promote,
	// creates a prospect lead or refreshes the active one.
	Promote(ctx context.Context, actor models.Actor, c Candidate) (PromotionResult, error)

	// Reprioritize re-blends the priority of the property's active lead from
	// its latest composite and a new predictive score. It never creates or
	// closes a lead and returns nil when no lead is active.
	Reprioritize(ctx context.Context, actor models.Actor, propertyID uuid.UUID, composite, predictive float64) (*models.Lead, error)
}

type promotionService struct {
	predictions repository.PredictionRepository
	leads       repository.LeadRepository
	thresholds  promotion.Thresholds
	audit       audit.Recorder
	log         *logger.Logger
	weight      float64
}

// NewPromotionService creates a new instance of PromotionService.
func NewPromotionService(predictions repository.PredictionRepository, leads repository.LeadRepository, thresholds promotion.Thresholds, deterministicWeight float64, rec audit.Recorder, log *logger.Logger) PromotionService {
	return &promotionService{
		predictions: predictions,
		leads:       leads,
		thresholds:  thresholds,
		weight:      deterministicWeight,
		audit:       rec,
		log:         log.WithComponent("promotion"),
	}
}

func (s *promotionService) Promote(ctx context.Context, actor models.Actor, c Candidate) (PromotionResult, error) {
	predictive := c.Predictive
	if predictive == nil {
		latest, err := s.predictions.LatestPrediction(ctx, c.PropertyID)
		if err != nil {
			return PromotionResult{}, fmt.Errorf("%w: load prediction for %s: %v", ErrPersistenceFailure, c.PropertyID, err)
		}
		if latest != nil {
			score := latest.PredictiveScore
			predictive = &score
		}
	}

	blended := promotion.Blend(c.Composite, predictive, s.weight)
	threshold := s.thresholds.For(c.Tier)
	result := PromotionResult{
		Predictive: predictive,
		Tier:       c.Tier,
		Blended:    blended,
		Threshold:  threshold,
		Decision:   promotion.DecisionHold,
	}

	detail := map[string]interface{}{
		"composite": c.Composite,
		"blended":   blended,
		"threshold": threshold,
		"tier":      string(c.Tier),
		"source":    c.Source,
		"signals":   eventTypeStrings(c.Signals),
	}
	if predictive != nil {
		detail["predictive"] = *predictive
	}

	if !promotion.Decide(blended, threshold) {
		recordAudit(ctx, s.audit, s.log, audit.Entry{
			Actor:      actor,
			Action:     audit.ActionHold,
			EntityType: models.EntityProperty,
			EntityID:   c.PropertyID.String(),
			Detail:     detail,
		})
		return result, nil
	}

	lead, created, err := s.leads.UpsertActive(ctx, models.LeadUpsert{
		PropertyID: c.PropertyID,
		Priority:   blended,
		Tags:       leadTags(c),
	})
	if err != nil {
		s.log.Error("Failed to upsert lead", err, map[string]interface{}{
			"property_id": c.PropertyID,
			"blended":     blended,
		})
		return PromotionResult{}, fmt.Errorf("%w: upsert lead for %s: %v", ErrPersistenceFailure, c.PropertyID, err)
	}

	result.Decision = promotion.DecisionPromote
	result.Lead = lead
	result.Created = created

	detail["lead_id"] = lead.ID.String()
	detail["lead_created"] = created
	recordAudit(ctx, s.audit, s.log, audit.Entry{
		Actor:      actor,
		Action:     audit.ActionPromote,
		EntityType: models.EntityProperty,
		EntityID:   c.PropertyID.String(),
		Detail:     detail,
	})

	s.log.Info("Property promoted", map[string]interface{}{
		"property_id": c.PropertyID,
		"lead_id":     lead.ID,
		"blended":     blended,
		"threshold":   threshold,
		"created":     created,
	})
	return result, nil
}

func (s *promotionService) Reprioritize(ctx context.Context, actor models.Actor, propertyID uuid.UUID, composite, predictive float64) (*models.Lead, error) {
	current, err := s.leads.FindActive(ctx, propertyID)
	if err != nil {
		return nil, fmt.Errorf("%w: load active lead for %s: %v", ErrPersistenceFailure, propertyID, err)
	}
	if current == nil {
		return nil, nil
	}

	blended := promotion.Blend(composite, &predictive, s.weight)
	if blended == current.Priority {
		return current, nil
	}
	lead, err := s.leads.SetActivePriority(ctx, propertyID, blended)
	if err != nil {
		return nil, fmt.Errorf("%w: update lead priority for %s: %v", ErrPersistenceFailure, propertyID, err)
	}
	if lead == nil {
		return nil, nil
	}

	recordAudit(ctx, s.audit, s.log, audit.Entry{
		Actor:      actor,
		Action:     audit.ActionReprioritize,
		EntityType: models.EntityProperty,
		EntityID:   propertyID.String(),
		Detail: map[string]interface{}{
			"lead_id":           lead.ID.String(),
			"composite":         composite,
			"predictive":        predictive,
			"previous_priority": current.Priority,
			"priority":          blended,
		},
	})
	return lead, nil
}

// leadTags are the candidate's distinct signal types plus its source.
func leadTags(c Candidate) []string {
	tags := eventTypeStrings(c.Signals)
	if c.Source != "" {
		tags = append(tags, "source:"+c.Source)
	}
	sort.Strings(tags)
	return tags
}

func eventTypeStrings(types []models.EventType) []string {
	seen := make(map[models.EventType]struct{}, len(types))
	out := make([]string, 0, len(types))
	for _, t := range types {
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, string(t))
	}
	sort.Strings(out)
	return out
}
