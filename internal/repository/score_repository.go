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

// scoreRepository implements ScoreRepository and PredictionRepository.
type scoreRepository struct {
	db *database.Database
}

// NewScoreRepository creates a new instance of ScoreRepository.
func NewScoreRepository(db *database.Database) ScoreRepository {
	return &scoreRepository{db: db}
}

// NewPredictionRepository creates a new instance of PredictionRepository.
func NewPredictionRepository(db *database.Database) PredictionRepository {
	return &scoreRepository{db: db}
}

const recordColumns = `
	id, property_id, model_version, composite, motivation, deal,
	severity_multiplier, recency_decay, stacking_bonus, owner_factor,
	equity_factor, ai_boost, equity_percent, label, factors, as_of, computed_at`

const predictionColumns = `
	id, property_id, model_version, predictive_score, days_until_distress,
	confidence, label, owner_age, equity_burn_rate, absentee_duration_days,
	tax_delinquency_trend, life_event_probability, features, factors, as_of, computed_at`

func (r *scoreRepository) AppendRecord(ctx context.Context, rec *models.ScoringRecord) error {
	query := `
		INSERT INTO scoring_records (
			property_id, model_version, composite, motivation, deal,
			severity_multiplier, recency_decay, stacking_bonus, owner_factor,
			equity_factor, ai_boost, equity_percent, label, factors, as_of, computed_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
		RETURNING id
	`

	err := r.db.Pool.QueryRow(ctx, query,
		rec.PropertyID,
		rec.ModelVersion,
		rec.Composite,
		rec.Motivation,
		rec.Deal,
		rec.SeverityMultiplier,
		rec.RecencyDecay,
		rec.StackingBonus,
		rec.OwnerFactor,
		rec.EquityFactor,
		rec.AIBoost,
		rec.EquityPercent,
		rec.Label,
		rec.Factors,
		rec.AsOf,
		rec.ComputedAt,
	).Scan(&rec.ID)
	if err != nil {
		return fmt.Errorf("failed to insert scoring record for property %s: %w", rec.PropertyID, mapWriteError(err))
	}
	return nil
}

func (r *scoreRepository) ListRecords(ctx context.Context, propertyID uuid.UUID) ([]models.ScoringRecord, error) {
	query := `SELECT ` + recordColumns + ` FROM scoring_records WHERE property_id = $1 ORDER BY computed_at, id`

	rows, err := r.db.Pool.Query(ctx, query, propertyID)
	if err != nil {
		return nil, fmt.Errorf("failed to query scoring records for property %s: %w", propertyID, err)
	}
	defer rows.Close()

	records := []models.ScoringRecord{}
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, *rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating scoring record rows: %w", err)
	}
	return records, nil
}

func (r *scoreRepository) LatestRecord(ctx context.Context, propertyID uuid.UUID) (*models.ScoringRecord, error) {
	query := `SELECT ` + recordColumns + ` FROM scoring_records WHERE property_id = $1 ORDER BY computed_at DESC, id DESC LIMIT 1`

	rec, err := scanRecord(r.db.Pool.QueryRow(ctx, query, propertyID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return rec, nil
}

func (r *scoreRepository) AppendPrediction(ctx context.Context, p *models.ScoringPrediction) error {
	query := `
		INSERT INTO scoring_predictions (
			property_id, model_version, predictive_score, days_until_distress,
			confidence, label, owner_age, equity_burn_rate, absentee_duration_days,
			tax_delinquency_trend, life_event_probability, features, factors, as_of, computed_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		RETURNING id
	`

	err := r.db.Pool.QueryRow(ctx, query,
		p.PropertyID,
		p.ModelVersion,
		p.PredictiveScore,
		p.DaysUntilDistress,
		p.Confidence,
		p.Label,
		p.OwnerAge,
		p.EquityBurnRate,
		p.AbsenteeDurationDays,
		p.TaxDelinquencyTrend,
		p.LifeEventProbability,
		p.Features,
		p.Factors,
		p.AsOf,
		p.ComputedAt,
	).Scan(&p.ID)
	if err != nil {
		return fmt.Errorf("failed to insert prediction for property %s: %w", p.PropertyID, mapWriteError(err))
	}
	return nil
}

func (r *scoreRepository) ListPredictions(ctx context.Context, propertyID uuid.UUID) ([]models.ScoringPrediction, error) {
	query := `SELECT ` + predictionColumns + ` FROM scoring_predictions WHERE property_id = $1 ORDER BY computed_at, id`

	rows, err := r.db.Pool.Query(ctx, query, propertyID)
	if err != nil {
		return nil, fmt.Errorf("failed to query predictions for property %s: %w", propertyID, err)
	}
	defer rows.Close()

	predictions := []models.ScoringPrediction{}
	for rows.Next() {
		p, err := scanPrediction(rows)
		if err != nil {
			return nil, err
		}
		predictions = append(predictions, *p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating prediction rows: %w", err)
	}
	return predictions, nil
}

func (r *scoreRepository) LatestPrediction(ctx context.Context, propertyID uuid.UUID) (*models.ScoringPrediction, error) {
	query := `SELECT ` + predictionColumns + ` FROM scoring_predictions WHERE property_id = $1 ORDER BY computed_at DESC, id DESC LIMIT 1`

	p, err := scanPrediction(r.db.Pool.QueryRow(ctx, query, propertyID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return p, nil
}

func scanRecord(row pgx.Row) (*models.ScoringRecord, error) {
	var rec models.ScoringRecord
	err := row.Scan(
		&rec.ID,
		&rec.PropertyID,
		&rec.ModelVersion,
		&rec.Composite,
		&rec.Motivation,
		&rec.Deal,
		&rec.SeverityMultiplier,
		&rec.RecencyDecay,
		&rec.StackingBonus,
		&rec.OwnerFactor,
		&rec.EquityFactor,
		&rec.AIBoost,
		&rec.EquityPercent,
		&rec.Label,
		&rec.Factors,
		&rec.AsOf,
		&rec.ComputedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan scoring record: %w", err)
	}
	return &rec, nil
}

func scanPrediction(row pgx.Row) (*models.ScoringPrediction, error) {
	var p models.ScoringPrediction
	err := row.Scan(
		&p.ID,
		&p.PropertyID,
		&p.ModelVersion,
		&p.PredictiveScore,
		&p.DaysUntilDistress,
		&p.Confidence,
		&p.Label,
		&p.OwnerAge,
		&p.EquityBurnRate,
		&p.AbsenteeDurationDays,
		&p.TaxDelinquencyTrend,
		&p.LifeEventProbability,
		&p.Features,
		&p.Factors,
		&p.AsOf,
		&p.ComputedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan prediction: %w", err)
	}
	return &p, nil
}
