package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// EventType enumerates the distress signal kinds.
type EventType string

const (
	EventProbate        EventType = "probate"
	EventPreForeclosure EventType = "pre_foreclosure"
	EventTaxLien        EventType = "tax_lien"
	EventCodeViolation  EventType = "code_violation"
	EventVacant         EventType = "vacant"
	EventDivorce        EventType = "divorce"
	EventBankruptcy     EventType = "bankruptcy"
	EventFSBO           EventType = "fsbo"
	EventAbsentee       EventType = "absentee"
	EventInherited      EventType = "inherited"
)

// EventTypes lists every valid event type in declaration order.
var EventTypes = []EventType{
	EventProbate,
	EventPreForeclosure,
	EventTaxLien,
	EventCodeViolation,
	EventVacant,
	EventDivorce,
	EventBankruptcy,
	EventFSBO,
	EventAbsentee,
	EventInherited,
}

// Valid reports whether t is a known event type.
func (t EventType) Valid() bool {
	for _, known := range EventTypes {
		if t == known {
			return true
		}
	}
	return false
}

// Severity bounds supplied by detectors.
const (
	MinSeverity = 1
	MaxSeverity = 10
)

// DistressEvent is one observed signal instance. Rows are append-only;
// Fingerprint carries the uniqueness constraint that deduplicates signals.
type DistressEvent struct {
	ObservedAt  time.Time       `json:"observedAt"`
	CreatedAt   time.Time       `json:"createdAt"`
	RawPayload  json.RawMessage `json:"rawPayload,omitempty"`
	EventType   EventType       `json:"eventType"`
	Source      string          `json:"source"`
	Fingerprint string          `json:"fingerprint"`
	Confidence  float64         `json:"confidence"`
	Severity    int             `json:"severity"`
	ID          uuid.UUID       `json:"id"`
	PropertyID  uuid.UUID       `json:"propertyId"`
}

// Outcome is the result of recording a signal.
type Outcome string

const (
	OutcomeInserted  Outcome = "inserted"
	OutcomeDuplicate Outcome = "duplicate"
)
