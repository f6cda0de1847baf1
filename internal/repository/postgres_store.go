package repository

import "github.com/stwalsh4118/parcelheat/internal/database"

// NewPostgresStore wires every repository to one connection pool.
func NewPostgresStore(db *database.Database) *Store {
	return &Store{
		Properties:  NewPropertyRepository(db),
		Events:      NewEventRepository(db),
		Scores:      NewScoreRepository(db),
		Predictions: NewPredictionRepository(db),
		Leads:       NewLeadRepository(db),
		Audit:       NewAuditRepository(db),
		Pinger:      db,
	}
}
