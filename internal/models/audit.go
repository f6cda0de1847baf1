package models

import (
	"time"

	"github.com/google/uuid"
)

// Actor identifies who performed a write: a human user id or ActorSystem.
type Actor string

// ActorSystem is the actor recorded for automated pipeline writes.
const ActorSystem Actor = "system"

// Audit entity types.
const (
	EntityProperty   = "property"
	EntityEvent      = "distress_event"
	EntityScore      = "scoring_record"
	EntityPrediction = "scoring_prediction"
	EntityLead       = "lead"
	EntityCycle      = "ingestion_cycle"
)

// AuditEntry is one row of the append-only audit log.
type AuditEntry struct {
	CreatedAt  time.Time              `json:"createdAt"`
	Detail     map[string]interface{} `json:"detail,omitempty"`
	Actor      Actor                  `json:"actor"`
	Action     string                 `json:"action"`
	EntityType string                 `json:"entityType"`
	EntityID   string                 `json:"entityId"`
	ID         uuid.UUID              `json:"id"`
}
