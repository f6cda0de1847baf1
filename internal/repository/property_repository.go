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

// propertyRepository is the concrete implementation of PropertyRepository.
type propertyRepository struct {
	db *database.Database
}

// NewPropertyRepository creates a new instance of PropertyRepository.
func NewPropertyRepository(db *database.Database) PropertyRepository {
	return &propertyRepository{
		db: db,
	}
}

const propertyColumns = `
	id,
	parcel_id,
	county,
	synthetic_parcel,
	address,
	city,
	state,
	owner_name,
	estimated_value,
	mortgage_balance,
	equity_percent,
	beds,
	baths,
	sqft,
	year_built,
	owner_flags,
	created_at,
	updated_at`

// Upsert relies on the (parcel_id, county) unique constraint so concurrent
// resolvers of the same parcel converge on one row without locking.
// xmax is zero only for a freshly inserted tuple.
func (r *propertyRepository) Upsert(ctx context.Context, in models.PropertyUpsert) (models.PropertyUpsertResult, error) {
	query := `
		INSERT INTO properties (
			parcel_id, county, synthetic_parcel,
			address, city, state, owner_name,
			estimated_value, mortgage_balance, equity_percent,
			beds, baths, sqft, year_built, owner_flags
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		ON CONFLICT (parcel_id, county) DO UPDATE SET
			address          = COALESCE(EXCLUDED.address, properties.address),
			city             = COALESCE(EXCLUDED.city, properties.city),
			state            = COALESCE(EXCLUDED.state, properties.state),
			owner_name       = COALESCE(EXCLUDED.owner_name, properties.owner_name),
			estimated_value  = COALESCE(EXCLUDED.estimated_value, properties.estimated_value),
			mortgage_balance = COALESCE(EXCLUDED.mortgage_balance, properties.mortgage_balance),
			equity_percent   = COALESCE(EXCLUDED.equity_percent, properties.equity_percent),
			beds             = COALESCE(EXCLUDED.beds, properties.beds),
			baths            = COALESCE(EXCLUDED.baths, properties.baths),
			sqft             = COALESCE(EXCLUDED.sqft, properties.sqft),
			year_built       = COALESCE(EXCLUDED.year_built, properties.year_built),
			owner_flags      = properties.owner_flags || EXCLUDED.owner_flags,
			updated_at       = now()
		RETURNING id, (xmax = 0) AS created
	`

	a := in.Attributes
	var result models.PropertyUpsertResult
	err := r.db.Pool.QueryRow(ctx, query,
		in.ParcelID,
		in.County,
		in.SyntheticParcel,
		a.Address,
		a.City,
		a.State,
		a.OwnerName,
		a.EstimatedValue,
		a.MortgageBalance,
		a.EquityPercent,
		a.Beds,
		a.Baths,
		a.Sqft,
		a.YearBuilt,
		a.OwnerFlags,
	).Scan(&result.ID, &result.Created)
	if err != nil {
		return models.PropertyUpsertResult{}, fmt.Errorf("failed to upsert property (parcel=%s, county=%s): %w",
			in.ParcelID, in.County, mapWriteError(err))
	}

	return result, nil
}

func (r *propertyRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Property, error) {
	query := `SELECT ` + propertyColumns + ` FROM properties WHERE id = $1`

	var p models.Property
	err := r.db.Pool.QueryRow(ctx, query, id).Scan(
		&p.ID,
		&p.ParcelID,
		&p.County,
		&p.SyntheticParcel,
		&p.Address,
		&p.City,
		&p.State,
		&p.OwnerName,
		&p.EstimatedValue,
		&p.MortgageBalance,
		&p.EquityPercent,
		&p.Beds,
		&p.Baths,
		&p.Sqft,
		&p.YearBuilt,
		&p.OwnerFlags,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to query property %s: %w", id, err)
	}

	return &p, nil
}

func (r *propertyRepository) ListIDs(ctx context.Context, counties []string) ([]uuid.UUID, error) {
	query := `
		SELECT id
		FROM properties
		WHERE $1::text[] IS NULL OR county = ANY($1)
		ORDER BY county, parcel_id
	`

	var filter []string
	if len(counties) > 0 {
		filter = counties
	}

	rows, err := r.db.Pool.Query(ctx, query, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to list properties: %w", err)
	}

	ids, err := pgx.CollectRows(rows, pgx.RowTo[uuid.UUID])
	if err != nil {
		return nil, fmt.Errorf("failed to scan property ids: %w", err)
	}
	if ids == nil {
		ids = []uuid.UUID{}
	}
	return ids, nil
}
