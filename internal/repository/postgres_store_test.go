package repository

import (
	"context"
	"flag"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stwalsh4118/parcelheat/internal/database"
	"github.com/stwalsh4118/parcelheat/internal/database/dbtest"
	"github.com/stwalsh4118/parcelheat/internal/models"
)

var testDB *database.Database

// TestMain provisions one migrated database for every integration test in
// this package. In -short mode no database is started and the tests skip.
func TestMain(m *testing.M) {
	flag.Parse()
	if testing.Short() {
		os.Exit(m.Run())
	}

	ctx := context.Background()
	instance, err := dbtest.Start(ctx)
	if err != nil {
		fmt.Printf("Failed to start test database: %v\n", err)
		os.Exit(1)
	}

	testDB, err = database.Open(ctx, instance.DSN, 1, 10)
	if err == nil {
		err = testDB.Migrate(ctx)
	}
	if err != nil {
		fmt.Printf("Failed to prepare test database: %v\n", err)
		_ = instance.Stop(ctx)
		os.Exit(1)
	}

	code := m.Run()

	testDB.Close()
	if err := instance.Stop(ctx); err != nil {
		fmt.Printf("Failed to stop test database: %v\n", err)
	}
	os.Exit(code)
}

func setupPostgresStore(t *testing.T) *Store {
	t.Helper()
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}
	return NewPostgresStore(testDB)
}

// uniqueParcel keeps tests independent on the shared database.
func uniqueParcel() string {
	return "T" + uuid.NewString()[:8]
}

func TestPostgres_PropertyUpsertMerge(t *testing.T) {
	store := setupPostgresStore(t)
	ctx := context.Background()
	parcel := uniqueParcel()

	first, err := store.Properties.Upsert(ctx, models.PropertyUpsert{
		ParcelID: parcel,
		County:   "Montgomery",
		Attributes: models.PropertyAttributes{
			Address:    strPtr("12 Oak Ln"),
			OwnerFlags: models.OwnerFlags{models.FlagAbsentee: true},
		},
	})
	require.NoError(t, err)
	assert.True(t, first.Created)

	second, err := store.Properties.Upsert(ctx, models.PropertyUpsert{
		ParcelID: parcel,
		County:   "Montgomery",
		Attributes: models.PropertyAttributes{
			EquityPercent: floatPtr(55),
			OwnerFlags:    models.OwnerFlags{models.FlagElderly: true},
		},
	})
	require.NoError(t, err)
	assert.False(t, second.Created)
	assert.Equal(t, first.ID, second.ID)

	p, err := store.Properties.GetByID(ctx, first.ID)
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.Equal(t, "12 Oak Ln", *p.Address)
	assert.Equal(t, 55.0, *p.EquityPercent)
	assert.True(t, p.OwnerFlags.Bool(models.FlagAbsentee))
	assert.True(t, p.OwnerFlags.Bool(models.FlagElderly))
	assert.False(t, p.UpdatedAt.Before(p.CreatedAt))
}

func TestPostgres_ConcurrentUpsertConverges(t *testing.T) {
	store := setupPostgresStore(t)
	ctx := context.Background()
	parcel := uniqueParcel()

	var wg sync.WaitGroup
	ids := make([]uuid.UUID, 16)
	created := make([]bool, 16)
	for i := range ids {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := store.Properties.Upsert(ctx, models.PropertyUpsert{ParcelID: parcel, County: "Harris"})
			assert.NoError(t, err)
			ids[i], created[i] = res.ID, res.Created
		}(i)
	}
	wg.Wait()

	newRows := 0
	for i := range ids {
		assert.Equal(t, ids[0], ids[i])
		if created[i] {
			newRows++
		}
	}
	assert.Equal(t, 1, newRows)
}

func TestPostgres_GetByIDMissing(t *testing.T) {
	store := setupPostgresStore(t)
	p, err := store.Properties.GetByID(context.Background(), uuid.New())
	assert.NoError(t, err)
	assert.Nil(t, p)
}

func TestPostgres_EventDuplicateFingerprint(t *testing.T) {
	store := setupPostgresStore(t)
	ctx := context.Background()
	prop, err := store.Properties.Upsert(ctx, models.PropertyUpsert{ParcelID: uniqueParcel(), County: "Harris"})
	require.NoError(t, err)

	fingerprint := uuid.NewString()
	newEvent := func() *models.DistressEvent {
		return &models.DistressEvent{
			PropertyID:  prop.ID,
			EventType:   models.EventTaxLien,
			Severity:    6,
			Source:      "county_records",
			Fingerprint: fingerprint,
			Confidence:  0.7,
			RawPayload:  []byte(`{"amount":1200}`),
			ObservedAt:  time.Now().UTC().Add(-24 * time.Hour),
		}
	}

	first := newEvent()
	require.NoError(t, store.Events.Append(ctx, first))
	assert.NotEqual(t, uuid.Nil, first.ID)

	err = store.Events.Append(ctx, newEvent())
	assert.ErrorIs(t, err, ErrDuplicate)

	events, err := store.Events.ListByProperty(ctx, prop.ID)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.JSONEq(t, `{"amount":1200}`, string(events[0].RawPayload))
}

func TestPostgres_EventCheckViolation(t *testing.T) {
	store := setupPostgresStore(t)
	ctx := context.Background()
	prop, err := store.Properties.Upsert(ctx, models.PropertyUpsert{ParcelID: uniqueParcel(), County: "Harris"})
	require.NoError(t, err)

	err = store.Events.Append(ctx, &models.DistressEvent{
		PropertyID: prop.ID, EventType: models.EventVacant, Severity: 42,
		Source: "x", Fingerprint: uuid.NewString(), ObservedAt: time.Now(),
	})
	assert.ErrorIs(t, err, ErrConstraint)
}

func TestPostgres_ScoreHistoryAppendOnly(t *testing.T) {
	store := setupPostgresStore(t)
	ctx := context.Background()
	prop, err := store.Properties.Upsert(ctx, models.PropertyUpsert{ParcelID: uniqueParcel(), County: "Travis"})
	require.NoError(t, err)

	base := time.Now().UTC().Truncate(time.Second)
	for i, composite := range []float64{41.5, 68.88} {
		rec := &models.ScoringRecord{
			PropertyID:   prop.ID,
			ModelVersion: "heat-v1+test",
			Composite:    composite,
			Label:        models.LabelWarm,
			Factors:      models.FactorList{{Name: "signal:probate", Points: composite}},
			AsOf:         base,
			ComputedAt:   base.Add(time.Duration(i) * time.Minute),
		}
		require.NoError(t, store.Scores.AppendRecord(ctx, rec))
	}

	records, err := store.Scores.ListRecords(ctx, prop.ID)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "signal:probate", records[0].Factors[0].Name)

	latest, err := store.Scores.LatestRecord(ctx, prop.ID)
	require.NoError(t, err)
	assert.Equal(t, 68.88, latest.Composite)

	_, err = testDB.Pool.Exec(ctx, `UPDATE scoring_records SET composite = 0 WHERE property_id = $1`, prop.ID)
	assert.Error(t, err, "history rows must reject updates")
}

func TestPostgres_Predictions(t *testing.T) {
	store := setupPostgresStore(t)
	ctx := context.Background()
	prop, err := store.Properties.Upsert(ctx, models.PropertyUpsert{ParcelID: uniqueParcel(), County: "Travis"})
	require.NoError(t, err)

	none, err := store.Predictions.LatestPrediction(ctx, prop.ID)
	require.NoError(t, err)
	assert.Nil(t, none)

	age := 72
	p := &models.ScoringPrediction{
		PropertyID:        prop.ID,
		ModelVersion:      "predict-v1+test",
		PredictiveScore:   55,
		DaysUntilDistress: 120,
		Label:             models.LabelPossible,
		OwnerAge:          &age,
		Features:          models.FeatureMap{"life_event_probability": 0.4},
		AsOf:              time.Now().UTC(),
		ComputedAt:        time.Now().UTC(),
	}
	require.NoError(t, store.Predictions.AppendPrediction(ctx, p))

	latest, err := store.Predictions.LatestPrediction(ctx, prop.ID)
	require.NoError(t, err)
	require.NotNil(t, latest)
	require.NotNil(t, latest.OwnerAge)
	assert.Equal(t, 72, *latest.OwnerAge)
	assert.Equal(t, 0.4, latest.Features["life_event_probability"])
}

func TestPostgres_SingleActiveLead(t *testing.T) {
	store := setupPostgresStore(t)
	ctx := context.Background()
	prop, err := store.Properties.Upsert(ctx, models.PropertyUpsert{ParcelID: uniqueParcel(), County: "Harris"})
	require.NoError(t, err)

	var wg sync.WaitGroup
	results := make([]bool, 8)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, created, err := store.Leads.UpsertActive(ctx, models.LeadUpsert{PropertyID: prop.ID, Priority: 70, Tags: []string{"probate"}})
			assert.NoError(t, err)
			results[i] = created
		}(i)
	}
	wg.Wait()

	created := 0
	for _, c := range results {
		if c {
			created++
		}
	}
	assert.Equal(t, 1, created)

	lead, err := store.Leads.FindActive(ctx, prop.ID)
	require.NoError(t, err)
	require.NotNil(t, lead)
	assert.Equal(t, models.LeadStatusProspect, lead.Status)

	updated, created2, err := store.Leads.UpsertActive(ctx, models.LeadUpsert{PropertyID: prop.ID, Priority: 82, Tags: []string{"vacant"}})
	require.NoError(t, err)
	assert.False(t, created2)
	assert.Equal(t, lead.ID, updated.ID)
	assert.Equal(t, []string{"probate", "vacant"}, updated.Tags)
	assert.Equal(t, 82.0, updated.Priority)

	reprioritized, err := store.Leads.SetActivePriority(ctx, prop.ID, 61.25)
	require.NoError(t, err)
	require.NotNil(t, reprioritized)
	assert.Equal(t, lead.ID, reprioritized.ID)
	assert.Equal(t, 61.25, reprioritized.Priority)
	assert.Equal(t, []string{"probate", "vacant"}, reprioritized.Tags)

	other, err := store.Properties.Upsert(ctx, models.PropertyUpsert{ParcelID: uniqueParcel(), County: "Harris"})
	require.NoError(t, err)
	none, err := store.Leads.SetActivePriority(ctx, other.ID, 50)
	require.NoError(t, err)
	assert.Nil(t, none)
}

func TestPostgres_AuditAppend(t *testing.T) {
	store := setupPostgresStore(t)
	ctx := context.Background()
	entityID := uuid.NewString()

	entry := &models.AuditEntry{
		Actor:      models.ActorSystem,
		Action:     "promotion.hold",
		EntityType: models.EntityProperty,
		EntityID:   entityID,
		Detail:     map[string]interface{}{"score": 58.2},
		CreatedAt:  time.Now().UTC(),
	}
	require.NoError(t, store.Audit.Append(ctx, entry))

	entries, err := store.Audit.ListByEntity(ctx, models.EntityProperty, entityID)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, 58.2, entries[0].Detail["score"])
}

func TestPostgres_Ping(t *testing.T) {
	store := setupPostgresStore(t)
	assert.NoError(t, store.Ping(context.Background()))
}
