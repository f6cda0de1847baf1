package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/stwalsh4118/parcelheat/internal/database"
	"github.com/stwalsh4118/parcelheat/internal/models"
)

// leadRepository is the concrete implementation of LeadRepository.
type leadRepository struct {
	db *database.Database
}

// NewLeadRepository creates a new instance of LeadRepository.
func NewLeadRepository(db *database.Database) LeadRepository {
	return &leadRepository{db: db}
}

func (r *leadRepository) FindActive(ctx context.Context, propertyID uuid.UUID) (*models.Lead, error) {
	query := `
		SELECT id, property_id, status, priority, tags, created_at, updated_at
		FROM leads
		WHERE property_id = $1 AND status IN ('prospect', 'lead', 'negotiation')
	`

	var lead models.Lead
	var status string
	err := r.db.Pool.QueryRow(ctx, query, propertyID).Scan(
		&lead.ID,
		&lead.PropertyID,
		&status,
		&lead.Priority,
		&lead.Tags,
		&lead.CreatedAt,
		&lead.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to query active lead for property %s: %w", propertyID, err)
	}
	lead.Status = models.LeadStatus(status)
	return &lead, nil
}

// UpsertActive targets the partial unique index on active statuses, so two
// concurrent promotions of one property yield one lead. Closed or dead leads
// are outside the index and never block a new prospect.
func (r *leadRepository) UpsertActive(ctx context.Context, in models.LeadUpsert) (*models.Lead, bool, error) {
	query := `
		INSERT INTO leads (property_id, status, priority, tags)
		VALUES ($1, 'prospect', $2, $3)
		ON CONFLICT (property_id) WHERE status IN ('prospect', 'lead', 'negotiation')
		DO UPDATE SET
			priority   = EXCLUDED.priority,
			tags       = COALESCE(
				(SELECT array_agg(DISTINCT t ORDER BY t) FROM unnest(leads.tags || EXCLUDED.tags) AS t),
				'{}'
			),
			updated_at = now()
		RETURNING id, property_id, status, priority, tags, created_at, updated_at, (xmax = 0) AS created
	`

	tags := in.Tags
	if tags == nil {
		tags = []string{}
	}

	var lead models.Lead
	var status string
	var created bool
	err := r.db.Pool.QueryRow(ctx, query, in.PropertyID, in.Priority, tags).Scan(
		&lead.ID,
		&lead.PropertyID,
		&status,
		&lead.Priority,
		&lead.Tags,
		&lead.CreatedAt,
		&lead.UpdatedAt,
		&created,
	)
	if err != nil {
		return nil, false, fmt.Errorf("failed to upsert lead for property %s: %w", in.PropertyID, mapWriteError(err))
	}
	lead.Status = models.LeadStatus(status)
	return &lead, created, nil
}

func (r *leadRepository) SetActivePriority(ctx context.Context, propertyID uuid.UUID, priority float64) (*models.Lead, error) {
	query := `
		UPDATE leads
		SET priority = $2, updated_at = now()
		WHERE property_id = $1 AND status IN ('prospect', 'lead', 'negotiation')
		RETURNING id, property_id, status, priority, tags, created_at, updated_at
	`

	var lead models.Lead
	var status string
	err := r.db.Pool.QueryRow(ctx, query, propertyID, priority).Scan(
		&lead.ID,
		&lead.PropertyID,
		&status,
		&lead.Priority,
		&lead.Tags,
		&lead.CreatedAt,
		&lead.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to update lead priority for property %s: %w", propertyID, mapWriteError(err))
	}
	lead.Status = models.LeadStatus(status)
	return &lead, nil
}
