// Package audit records who changed what. Every write in the pipeline carries
// an explicit actor; automated writes use models.ActorSystem.
package audit

import (
	"context"
	"errors"
	"fmt"

	"github.com/stwalsh4118/parcelheat/internal/clock"
	"github.com/stwalsh4118/parcelheat/internal/models"
	"github.com/stwalsh4118/parcelheat/internal/repository"
)

// Audit actions.
const (
	ActionPropertyCreated    = "property.created"
	ActionPropertyMerged     = "property.merged"
	ActionSignalInserted     = "signal.inserted"
	ActionSignalDuplicate    = "signal.duplicate"
	ActionScoreComputed      = "score.computed"
	ActionPredictionComputed = "prediction.computed"
	ActionPromote            = "promotion.promote"
	ActionHold               = "promotion.hold"
	ActionReprioritize       = "promotion.reprioritize"
	ActionCycleCompleted     = "cycle.completed"
)

// ErrMissingActor is returned when an entry has no actor.
var ErrMissingActor = errors.New("audit entry requires an actor")

// Entry is one auditable action.
type Entry struct {
	Detail     map[string]interface{}
	Actor      models.Actor
	Action     string
	EntityType string
	EntityID   string
}

// Recorder writes audit entries.
type Recorder interface {
	Record(ctx context.Context, entry Entry) error
}

// StoreRecorder implements Recorder over an AuditRepository.
type StoreRecorder struct {
	repo  repository.AuditRepository
	clock clock.Clock
}

// NewRecorder creates a StoreRecorder.
func NewRecorder(repo repository.AuditRepository, c clock.Clock) *StoreRecorder {
	return &StoreRecorder{repo: repo, clock: c}
}

// Record stamps the entry with the current time and appends it.
func (r *StoreRecorder) Record(ctx context.Context, entry Entry) error {
	if entry.Actor == "" {
		return fmt.Errorf("%w: action %s", ErrMissingActor, entry.Action)
	}

	row := &models.AuditEntry{
		Actor:      entry.Actor,
		Action:     entry.Action,
		EntityType: entry.EntityType,
		EntityID:   entry.EntityID,
		Detail:     entry.Detail,
		CreatedAt:  r.clock.Now(),
	}
	if err := r.repo.Append(ctx, row); err != nil {
		return fmt.Errorf("failed to record %s for %s %s: %w", entry.Action, entry.EntityType, entry.EntityID, err)
	}
	return nil
}
