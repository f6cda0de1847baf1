package repository

import (
	"context"
	"fmt"

	"github.com/stwalsh4118/parcelheat/internal/database"
	"github.com/stwalsh4118/parcelheat/internal/models"
)

type auditRepository struct {
	db *database.Database
}

// NewAuditRepository creates a new instance of AuditRepository.
func NewAuditRepository(db *database.Database) AuditRepository {
	return &auditRepository{db: db}
}

func (r *auditRepository) Append(ctx context.Context, entry *models.AuditEntry) error {
	query := `
		INSERT INTO audit_log (actor, action, entity_type, entity_id, detail, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id
	`

	detail := entry.Detail
	if detail == nil {
		detail = map[string]interface{}{}
	}

	err := r.db.Pool.QueryRow(ctx, query,
		string(entry.Actor),
		entry.Action,
		entry.EntityType,
		entry.EntityID,
		detail,
		entry.CreatedAt,
	).Scan(&entry.ID)
	if err != nil {
		return fmt.Errorf("failed to append audit entry %s: %w", entry.Action, mapWriteError(err))
	}
	return nil
}

func (r *auditRepository) ListByEntity(ctx context.Context, entityType, entityID string) ([]models.AuditEntry, error) {
	query := `
		SELECT id, actor, action, entity_type, entity_id, detail, created_at
		FROM audit_log
		WHERE entity_type = $1 AND entity_id = $2
		ORDER BY created_at, id
	`

	rows, err := r.db.Pool.Query(ctx, query, entityType, entityID)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit log: %w", err)
	}
	defer rows.Close()

	entries := []models.AuditEntry{}
	for rows.Next() {
		var e models.AuditEntry
		var actor string
		if err := rows.Scan(&e.ID, &actor, &e.Action, &e.EntityType, &e.EntityID, &e.Detail, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan audit row: %w", err)
		}
		e.Actor = models.Actor(actor)
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating audit rows: %w", err)
	}
	return entries, nil
}
