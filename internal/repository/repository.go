package repository

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/stwalsh4118/parcelheat/internal/models"
)

var (
	// ErrDuplicate is returned when a write collides with a unique key.
	ErrDuplicate = errors.New("duplicate key")

	// ErrConstraint is returned when the store rejects a write for a reason
	// other than a unique-key collision (check, not-null, foreign key, bad data).
	ErrConstraint = errors.New("constraint violation")
)

// PropertyRepository defines data access for canonical properties.
type PropertyRepository interface {
	// Upsert atomically creates or merges the property keyed by
	// (ParcelID, County). Non-nil attributes overwrite stored values, nil
	// attributes keep them, owner flags are merged key-wise.
	Upsert(ctx context.Context, in models.PropertyUpsert) (models.PropertyUpsertResult, error)

	// GetByID returns nil, nil if the property does not exist.
	GetByID(ctx context.Context, id uuid.UUID) (*models.Property, error)

	// ListIDs returns property ids in the given counties ordered by
	// (county, parcel_id). An empty county list means every county.
	ListIDs(ctx context.Context, counties []string) ([]uuid.UUID, error)
}

// EventRepository is append-only: it exposes no update or delete.
type EventRepository interface {
	// Append inserts the event and fills ID and CreatedAt. It returns
	// ErrDuplicate when the fingerprint already exists.
	Append(ctx context.Context, event *models.DistressEvent) error

	// ListByProperty returns events ordered by observed_at.
	ListByProperty(ctx context.Context, propertyID uuid.UUID) ([]models.DistressEvent, error)
}

// ScoreRepository is append-only: replays add rows, never rewrite them.
type ScoreRepository interface {
	AppendRecord(ctx context.Context, record *models.ScoringRecord) error
	// ListRecords returns history ordered oldest first.
	ListRecords(ctx context.Context, propertyID uuid.UUID) ([]models.ScoringRecord, error)
	// LatestRecord returns nil, nil when the property was never scored.
	LatestRecord(ctx context.Context, propertyID uuid.UUID) (*models.ScoringRecord, error)
}

// PredictionRepository is append-only.
type PredictionRepository interface {
	AppendPrediction(ctx context.Context, prediction *models.ScoringPrediction) error
	ListPredictions(ctx context.Context, propertyID uuid.UUID) ([]models.ScoringPrediction, error)
	// LatestPrediction returns nil, nil when no prediction exists.
	LatestPrediction(ctx context.Context, propertyID uuid.UUID) (*models.ScoringPrediction, error)
}

// LeadRepository touches only lead creation, priority and tags.
type LeadRepository interface {
	// FindActive returns nil, nil when the property has no active lead.
	FindActive(ctx context.Context, propertyID uuid.UUID) (*models.Lead, error)

	// UpsertActive creates a prospect lead when the property has no active
	// lead, otherwise updates priority and merges tags on the existing one.
	// The boolean reports whether a lead was created.
	UpsertActive(ctx context.Context, in models.LeadUpsert) (*models.Lead, bool, error)

	// SetActivePriority updates the priority of the property's active lead.
	// It never creates a lead and returns nil, nil when none is active.
	SetActivePriority(ctx context.Context, propertyID uuid.UUID, priority float64) (*models.Lead, error)
}

// AuditRepository is the append-only audit log.
type AuditRepository interface {
	Append(ctx context.Context, entry *models.AuditEntry) error
	ListByEntity(ctx context.Context, entityType, entityID string) ([]models.AuditEntry, error)
}

// Pinger reports whether the backing store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Store bundles every repository over one backing store.
type Store struct {
	Properties  PropertyRepository
	Events      EventRepository
	Scores      ScoreRepository
	Predictions PredictionRepository
	Leads       LeadRepository
	Audit       AuditRepository
	Pinger      Pinger
}

// Ping delegates to the store's Pinger.
func (s *Store) Ping(ctx context.Context) error {
	return s.Pinger.Ping(ctx)
}
