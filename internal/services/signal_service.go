package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gowebpki/jcs"
	"github.com/stwalsh4118/parcelheat/internal/audit"
	"github.com/stwalsh4118/parcelheat/internal/identity"
	"github.com/stwalsh4118/parcelheat/internal/logger"
	"github.com/stwalsh4118/parcelheat/internal/models"
	"github.com/stwalsh4118/parcelheat/internal/repository"
)

// SignalInput is one observed signal for an already-resolved property.
// ParcelID and County must be the normalized values the property was
// resolved with.
type SignalInput struct {
	ObservedAt time.Time
	RawPayload map[string]interface{}
	EventType  models.EventType
	ParcelID   string
	County     string
	Source     string
	Confidence float64
	Severity   int
	PropertyID uuid.UUID
}

// SignalService records distress signals exactly once.
type SignalService interface {
	// RecordSignal inserts the signal unless its fingerprint was already
	// recorded, in which case it returns OutcomeDuplicate and no error.
	RecordSignal(ctx context.Context, actor models.Actor, in SignalInput) (models.Outcome, error)
}

type signalService struct {
	events repository.EventRepository
	audit  audit.Recorder
	log    *logger.Logger
}

// NewSignalService creates a new instance of SignalService.
func NewSignalService(events repository.EventRepository, rec audit.Recorder, log *logger.Logger) SignalService {
	return &signalService{
		events: events,
		audit:  rec,
		log:    log.WithComponent("signals"),
	}
}

func (s *signalService) RecordSignal(ctx context.Context, actor models.Actor, in SignalInput) (models.Outcome, error) {
	if !in.EventType.Valid() {
		return "", fmt.Errorf("%w: unknown event type %q", ErrInvalidSignal, in.EventType)
	}
	source := strings.ToLower(strings.TrimSpace(in.Source))
	if source == "" {
		return "", fmt.Errorf("%w: source is required", ErrInvalidSignal)
	}
	if in.PropertyID == uuid.Nil {
		return "", fmt.Errorf("%w: property id is required", ErrInvalidSignal)
	}
	if in.ObservedAt.IsZero() {
		return "", fmt.Errorf("%w: observed time is required", ErrInvalidSignal)
	}

	payload, err := canonicalPayload(in.RawPayload)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidSignal, err)
	}

	event := &models.DistressEvent{
		PropertyID:  in.PropertyID,
		EventType:   in.EventType,
		Severity:    in.Severity,
		Source:      source,
		Fingerprint: identity.Fingerprint(in.ParcelID, in.County, in.EventType, source),
		Confidence:  in.Confidence,
		RawPayload:  payload,
		ObservedAt:  in.ObservedAt.UTC(),
	}

	fields := map[string]interface{}{
		"property_id": in.PropertyID,
		"event_type":  in.EventType,
		"source":      source,
		"fingerprint": event.Fingerprint,
	}

	err = s.events.Append(ctx, event)
	switch {
	case err == nil:
		s.log.Debug("Signal inserted", fields)
		recordAudit(ctx, s.audit, s.log, audit.Entry{
			Actor:      actor,
			Action:     audit.ActionSignalInserted,
			EntityType: models.EntityEvent,
			EntityID:   event.ID.String(),
			Detail: map[string]interface{}{
				"property_id": in.PropertyID.String(),
				"event_type":  string(in.EventType),
				"source":      source,
				"fingerprint": event.Fingerprint,
				"severity":    in.Severity,
			},
		})
		return models.OutcomeInserted, nil

	case errors.Is(err, repository.ErrDuplicate):
		s.log.Debug("Duplicate signal", fields)
		recordAudit(ctx, s.audit, s.log, audit.Entry{
			Actor:      actor,
			Action:     audit.ActionSignalDuplicate,
			EntityType: models.EntityProperty,
			EntityID:   in.PropertyID.String(),
			Detail: map[string]interface{}{
				"event_type":  string(in.EventType),
				"source":      source,
				"fingerprint": event.Fingerprint,
			},
		})
		return models.OutcomeDuplicate, nil

	default:
		s.log.Error("Failed to append signal", err, fields)
		return "", fmt.Errorf("%w: append signal %s: %v", ErrPersistenceFailure, event.Fingerprint, err)
	}
}

// canonicalPayload renders the payload as RFC 8785 canonical JSON so equal
// payloads are stored byte-identically.
func canonicalPayload(payload map[string]interface{}) (json.RawMessage, error) {
	if len(payload) == 0 {
		return nil, nil
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to encode payload: %w", err)
	}
	canonical, err := jcs.Transform(raw)
	if err != nil {
		return nil, fmt.Errorf("failed to canonicalize payload: %w", err)
	}
	return canonical, nil
}
