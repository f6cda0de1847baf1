package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/stwalsh4118/parcelheat/internal/clock"
	"github.com/stwalsh4118/parcelheat/internal/models"
)

// MemoryStore implements every repository in memory, enforcing the same
// unique keys and checks as the Postgres schema. Used for dry runs and tests.
type MemoryStore struct {
	mu    sync.RWMutex
	clock clock.Clock
	down  error

	properties   map[uuid.UUID]*models.Property
	propertyKeys map[propertyKey]uuid.UUID
	events       []models.DistressEvent
	fingerprints map[string]struct{}
	records      []models.ScoringRecord
	predictions  []models.ScoringPrediction
	leads        []*models.Lead
	audit        []models.AuditEntry
}

type propertyKey struct {
	parcelID string
	county   string
}

// NewMemoryStore creates a new empty MemoryStore.
func NewMemoryStore(c clock.Clock) *MemoryStore {
	if c == nil {
		c = clock.New()
	}
	return &MemoryStore{
		clock:        c,
		properties:   map[uuid.UUID]*models.Property{},
		propertyKeys: map[propertyKey]uuid.UUID{},
		fingerprints: map[string]struct{}{},
	}
}

// Store returns the repositories backed by this MemoryStore.
func (s *MemoryStore) Store() *Store {
	return &Store{
		Properties:  memoryProperties{s},
		Events:      memoryEvents{s},
		Scores:      memoryScores{s},
		Predictions: memoryPredictions{s},
		Leads:       memoryLeads{s},
		Audit:       memoryAudit{s},
		Pinger:      s,
	}
}

// SetUnavailable makes Ping and every write fail with err. Pass nil to recover.
func (s *MemoryStore) SetUnavailable(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.down = err
}

// Ping reports the simulated availability.
func (s *MemoryStore) Ping(_ context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.down
}

// Counts returns row counts per table, for assertions.
func (s *MemoryStore) Counts() map[string]int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return map[string]int{
		"properties":          len(s.properties),
		"distress_events":     len(s.events),
		"scoring_records":     len(s.records),
		"scoring_predictions": len(s.predictions),
		"leads":               len(s.leads),
		"audit_log":           len(s.audit),
	}
}

// Leads returns a copy of every lead, active or not.
func (s *MemoryStore) Leads() []models.Lead {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.Lead, 0, len(s.leads))
	for _, l := range s.leads {
		out = append(out, copyLead(l))
	}
	return out
}

// SetLeadStatus mimics the CRM moving a lead through its workflow.
func (s *MemoryStore) SetLeadStatus(id uuid.UUID, status models.LeadStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, l := range s.leads {
		if l.ID != id {
			continue
		}
		if status.Active() && !l.Status.Active() && s.activeLeadLocked(l.PropertyID) != nil {
			return fmt.Errorf("%w: property %s already has an active lead", ErrDuplicate, l.PropertyID)
		}
		l.Status = status
		l.UpdatedAt = s.clock.Now()
		return nil
	}
	return fmt.Errorf("lead %s not found", id)
}

func (s *MemoryStore) activeLeadLocked(propertyID uuid.UUID) *models.Lead {
	for _, l := range s.leads {
		if l.PropertyID == propertyID && l.Status.Active() {
			return l
		}
	}
	return nil
}

type memoryProperties struct{ s *MemoryStore }

func (r memoryProperties) Upsert(_ context.Context, in models.PropertyUpsert) (models.PropertyUpsertResult, error) {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.down != nil {
		return models.PropertyUpsertResult{}, s.down
	}
	if in.ParcelID == "" || in.County == "" {
		return models.PropertyUpsertResult{}, fmt.Errorf("%w: parcel_id and county are required", ErrConstraint)
	}

	now := s.clock.Now()
	key := propertyKey{parcelID: in.ParcelID, county: in.County}
	a := in.Attributes

	if id, ok := s.propertyKeys[key]; ok {
		p := s.properties[id]
		p.Address = coalesce(a.Address, p.Address)
		p.City = coalesce(a.City, p.City)
		p.State = coalesce(a.State, p.State)
		p.OwnerName = coalesce(a.OwnerName, p.OwnerName)
		p.EstimatedValue = coalesce(a.EstimatedValue, p.EstimatedValue)
		p.MortgageBalance = coalesce(a.MortgageBalance, p.MortgageBalance)
		p.EquityPercent = coalesce(a.EquityPercent, p.EquityPercent)
		p.Beds = coalesce(a.Beds, p.Beds)
		p.Baths = coalesce(a.Baths, p.Baths)
		p.Sqft = coalesce(a.Sqft, p.Sqft)
		p.YearBuilt = coalesce(a.YearBuilt, p.YearBuilt)
		p.OwnerFlags = p.OwnerFlags.Merge(a.OwnerFlags)
		p.UpdatedAt = now
		return models.PropertyUpsertResult{ID: id}, nil
	}

	p := &models.Property{
		ID:              uuid.New(),
		ParcelID:        in.ParcelID,
		County:          in.County,
		SyntheticParcel: in.SyntheticParcel,
		Address:         copyPtr(a.Address),
		City:            copyPtr(a.City),
		State:           copyPtr(a.State),
		OwnerName:       copyPtr(a.OwnerName),
		EstimatedValue:  copyPtr(a.EstimatedValue),
		MortgageBalance: copyPtr(a.MortgageBalance),
		EquityPercent:   copyPtr(a.EquityPercent),
		Beds:            copyPtr(a.Beds),
		Baths:           copyPtr(a.Baths),
		Sqft:            copyPtr(a.Sqft),
		YearBuilt:       copyPtr(a.YearBuilt),
		OwnerFlags:      models.OwnerFlags{}.Merge(a.OwnerFlags),
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	s.properties[p.ID] = p
	s.propertyKeys[key] = p.ID
	return models.PropertyUpsertResult{ID: p.ID, Created: true}, nil
}

func (r memoryProperties) GetByID(_ context.Context, id uuid.UUID) (*models.Property, error) {
	s := r.s
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.properties[id]
	if !ok {
		return nil, nil
	}
	cp := *p
	cp.OwnerFlags = models.OwnerFlags{}.Merge(p.OwnerFlags)
	return &cp, nil
}

func (r memoryProperties) ListIDs(_ context.Context, counties []string) ([]uuid.UUID, error) {
	s := r.s
	s.mu.RLock()
	defer s.mu.RUnlock()

	wanted := map[string]bool{}
	for _, c := range counties {
		wanted[c] = true
	}

	matched := make([]*models.Property, 0, len(s.properties))
	for _, p := range s.properties {
		if len(wanted) == 0 || wanted[p.County] {
			matched = append(matched, p)
		}
	}
	sort.Slice(matched, func(i, j int) bool {
		if matched[i].County != matched[j].County {
			return matched[i].County < matched[j].County
		}
		return matched[i].ParcelID < matched[j].ParcelID
	})

	ids := make([]uuid.UUID, 0, len(matched))
	for _, p := range matched {
		ids = append(ids, p.ID)
	}
	return ids, nil
}

type memoryEvents struct{ s *MemoryStore }

func (r memoryEvents) Append(_ context.Context, event *models.DistressEvent) error {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.down != nil {
		return s.down
	}
	if _, ok := s.properties[event.PropertyID]; !ok {
		return fmt.Errorf("%w: property %s does not exist", ErrConstraint, event.PropertyID)
	}
	if event.Severity < models.MinSeverity || event.Severity > models.MaxSeverity {
		return fmt.Errorf("%w: severity %d out of range", ErrConstraint, event.Severity)
	}
	if event.Confidence < 0 || event.Confidence > 1 {
		return fmt.Errorf("%w: confidence %v out of range", ErrConstraint, event.Confidence)
	}
	if _, ok := s.fingerprints[event.Fingerprint]; ok {
		return fmt.Errorf("%w (distress_events_fingerprint_key): %s", ErrDuplicate, event.Fingerprint)
	}

	event.ID = uuid.New()
	event.CreatedAt = s.clock.Now()
	s.fingerprints[event.Fingerprint] = struct{}{}
	s.events = append(s.events, *event)
	return nil
}

func (r memoryEvents) ListByProperty(_ context.Context, propertyID uuid.UUID) ([]models.DistressEvent, error) {
	s := r.s
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := []models.DistressEvent{}
	for _, e := range s.events {
		if e.PropertyID == propertyID {
			out = append(out, e)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].ObservedAt.Equal(out[j].ObservedAt) {
			return out[i].ObservedAt.Before(out[j].ObservedAt)
		}
		if out[i].EventType != out[j].EventType {
			return out[i].EventType < out[j].EventType
		}
		return out[i].Source < out[j].Source
	})
	return out, nil
}

type memoryScores struct{ s *MemoryStore }

func (r memoryScores) AppendRecord(_ context.Context, rec *models.ScoringRecord) error {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.down != nil {
		return s.down
	}
	if _, ok := s.properties[rec.PropertyID]; !ok {
		return fmt.Errorf("%w: property %s does not exist", ErrConstraint, rec.PropertyID)
	}
	rec.ID = uuid.New()
	s.records = append(s.records, *rec)
	return nil
}

func (r memoryScores) ListRecords(_ context.Context, propertyID uuid.UUID) ([]models.ScoringRecord, error) {
	s := r.s
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := []models.ScoringRecord{}
	for _, rec := range s.records {
		if rec.PropertyID == propertyID {
			out = append(out, rec)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].ComputedAt.Before(out[j].ComputedAt) })
	return out, nil
}

func (r memoryScores) LatestRecord(ctx context.Context, propertyID uuid.UUID) (*models.ScoringRecord, error) {
	records, _ := r.ListRecords(ctx, propertyID)
	if len(records) == 0 {
		return nil, nil
	}
	latest := records[len(records)-1]
	return &latest, nil
}

type memoryPredictions struct{ s *MemoryStore }

func (r memoryPredictions) AppendPrediction(_ context.Context, p *models.ScoringPrediction) error {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.down != nil {
		return s.down
	}
	if _, ok := s.properties[p.PropertyID]; !ok {
		return fmt.Errorf("%w: property %s does not exist", ErrConstraint, p.PropertyID)
	}
	if p.DaysUntilDistress < 0 {
		return fmt.Errorf("%w: days_until_distress must be non-negative", ErrConstraint)
	}
	p.ID = uuid.New()
	s.predictions = append(s.predictions, *p)
	return nil
}

func (r memoryPredictions) ListPredictions(_ context.Context, propertyID uuid.UUID) ([]models.ScoringPrediction, error) {
	s := r.s
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := []models.ScoringPrediction{}
	for _, p := range s.predictions {
		if p.PropertyID == propertyID {
			out = append(out, p)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].ComputedAt.Before(out[j].ComputedAt) })
	return out, nil
}

func (r memoryPredictions) LatestPrediction(ctx context.Context, propertyID uuid.UUID) (*models.ScoringPrediction, error) {
	predictions, _ := r.ListPredictions(ctx, propertyID)
	if len(predictions) == 0 {
		return nil, nil
	}
	latest := predictions[len(predictions)-1]
	return &latest, nil
}

type memoryLeads struct{ s *MemoryStore }

func (r memoryLeads) FindActive(_ context.Context, propertyID uuid.UUID) (*models.Lead, error) {
	s := r.s
	s.mu.RLock()
	defer s.mu.RUnlock()

	if l := s.activeLeadLocked(propertyID); l != nil {
		cp := copyLead(l)
		return &cp, nil
	}
	return nil, nil
}

func (r memoryLeads) UpsertActive(_ context.Context, in models.LeadUpsert) (*models.Lead, bool, error) {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.down != nil {
		return nil, false, s.down
	}
	if _, ok := s.properties[in.PropertyID]; !ok {
		return nil, false, fmt.Errorf("%w: property %s does not exist", ErrConstraint, in.PropertyID)
	}

	now := s.clock.Now()
	if l := s.activeLeadLocked(in.PropertyID); l != nil {
		l.Priority = in.Priority
		l.Tags = mergeTags(l.Tags, in.Tags)
		l.UpdatedAt = now
		cp := copyLead(l)
		return &cp, false, nil
	}

	l := &models.Lead{
		ID:         uuid.New(),
		PropertyID: in.PropertyID,
		Status:     models.LeadStatusProspect,
		Priority:   in.Priority,
		Tags:       mergeTags(nil, in.Tags),
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	s.leads = append(s.leads, l)
	cp := copyLead(l)
	return &cp, true, nil
}

func (r memoryLeads) SetActivePriority(_ context.Context, propertyID uuid.UUID, priority float64) (*models.Lead, error) {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.down != nil {
		return nil, s.down
	}
	l := s.activeLeadLocked(propertyID)
	if l == nil {
		return nil, nil
	}
	l.Priority = priority
	l.UpdatedAt = s.clock.Now()
	cp := copyLead(l)
	return &cp, nil
}

type memoryAudit struct{ s *MemoryStore }

func (r memoryAudit) Append(_ context.Context, entry *models.AuditEntry) error {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.down != nil {
		return s.down
	}
	entry.ID = uuid.New()
	s.audit = append(s.audit, *entry)
	return nil
}

func (r memoryAudit) ListByEntity(_ context.Context, entityType, entityID string) ([]models.AuditEntry, error) {
	s := r.s
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := []models.AuditEntry{}
	for _, e := range s.audit {
		if e.EntityType == entityType && e.EntityID == entityID {
			out = append(out, e)
		}
	}
	return out, nil
}

func coalesce[T any](incoming, stored *T) *T {
	if incoming != nil {
		return copyPtr(incoming)
	}
	return stored
}

func copyPtr[T any](v *T) *T {
	if v == nil {
		return nil
	}
	cp := *v
	return &cp
}

func copyLead(l *models.Lead) models.Lead {
	cp := *l
	cp.Tags = append([]string(nil), l.Tags...)
	return cp
}

// mergeTags returns the sorted union, matching the SQL upsert.
func mergeTags(existing, incoming []string) []string {
	set := map[string]struct{}{}
	for _, t := range existing {
		set[t] = struct{}{}
	}
	for _, t := range incoming {
		set[t] = struct{}{}
	}
	out := make([]string, 0, len(set))
	for t := range set {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}
