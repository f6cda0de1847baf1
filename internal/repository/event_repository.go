package repository

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/stwalsh4118/parcelheat/internal/database"
	"github.com/stwalsh4118/parcelheat/internal/models"
)

// eventRepository is the concrete implementation of EventRepository.
type eventRepository struct {
	db *database.Database
}

// NewEventRepository creates a new instance of EventRepository.
func NewEventRepository(db *database.Database) EventRepository {
	return &eventRepository{
		db: db,
	}
}

// Append never checks for an existing fingerprint first; the unique
// constraint decides, which keeps overlapping cycles race-free.
func (r *eventRepository) Append(ctx context.Context, event *models.DistressEvent) error {
	query := `
		INSERT INTO distress_events (
			property_id, event_type, severity, source, fingerprint,
			confidence, raw_payload, observed_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id, created_at
	`

	var payload interface{}
	if len(event.RawPayload) > 0 {
		payload = string(event.RawPayload)
	}

	err := r.db.Pool.QueryRow(ctx, query,
		event.PropertyID,
		string(event.EventType),
		event.Severity,
		event.Source,
		event.Fingerprint,
		event.Confidence,
		payload,
		event.ObservedAt,
	).Scan(&event.ID, &event.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert distress event (fingerprint=%s): %w", event.Fingerprint, mapWriteError(err))
	}

	return nil
}

func (r *eventRepository) ListByProperty(ctx context.Context, propertyID uuid.UUID) ([]models.DistressEvent, error) {
	query := `
		SELECT
			id,
			property_id,
			event_type,
			severity,
			source,
			fingerprint,
			confidence,
			raw_payload,
			observed_at,
			created_at
		FROM distress_events
		WHERE property_id = $1
		ORDER BY observed_at, event_type, source
	`

	rows, err := r.db.Pool.Query(ctx, query, propertyID)
	if err != nil {
		return nil, fmt.Errorf("failed to query events for property %s: %w", propertyID, err)
	}
	defer rows.Close()

	events := []models.DistressEvent{}
	for rows.Next() {
		var e models.DistressEvent
		var eventType string
		var payload []byte
		if err := rows.Scan(
			&e.ID,
			&e.PropertyID,
			&eventType,
			&e.Severity,
			&e.Source,
			&e.Fingerprint,
			&e.Confidence,
			&payload,
			&e.ObservedAt,
			&e.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan distress event row: %w", err)
		}
		e.EventType = models.EventType(eventType)
		e.RawPayload = payload
		events = append(events, e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating distress event rows: %w", err)
	}

	return events, nil
}
