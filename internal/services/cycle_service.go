package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/alitto/pond/v2"
	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
	"github.com/stwalsh4118/parcelheat/internal/audit"
	"github.com/stwalsh4118/parcelheat/internal/clock"
	"github.com/stwalsh4118/parcelheat/internal/identity"
	"github.com/stwalsh4118/parcelheat/internal/logger"
	"github.com/stwalsh4118/parcelheat/internal/models"
	"github.com/stwalsh4118/parcelheat/internal/promotion"
	"github.com/stwalsh4118/parcelheat/internal/repository"
	"github.com/stwalsh4118/parcelheat/internal/sources"
)

// CycleMode selects which adapters a cycle runs.
type CycleMode string

const (
	// ModeNarrow runs the pre-filtered, high-confidence pulls.
	ModeNarrow CycleMode = "narrow"
	// ModeBroad runs the low-confidence public-record crawls.
	ModeBroad CycleMode = "broad"
	// ModeAll runs every configured adapter.
	ModeAll CycleMode = "all"
	// ModePartner labels cycles that replay a partner push.
	ModePartner CycleMode = "partner"
)

// ParseCycleMode validates a mode name. The empty string means ModeAll.
func ParseCycleMode(s string) (CycleMode, error) {
	switch CycleMode(strings.ToLower(strings.TrimSpace(s))) {
	case ModeNarrow:
		return ModeNarrow, nil
	case ModeBroad:
		return ModeBroad, nil
	case ModeAll, "":
		return ModeAll, nil
	default:
		return "", fmt.Errorf("%w: unknown mode %q", ErrInvalidSchedule, s)
	}
}

func (m CycleMode) includes(tier models.Tier) bool {
	switch m {
	case ModeNarrow:
		return tier == models.TierNarrow
	case ModeBroad:
		return tier == models.TierBroad
	case ModeAll:
		return tier == models.TierNarrow || tier == models.TierBroad
	default:
		return false
	}
}

// CycleRequest is the batch trigger input.
type CycleRequest struct {
	Mode     CycleMode
	Counties []string
}

// SourceSummary counts what one adapter produced in a cycle.
type SourceSummary struct {
	Source       string      `json:"source"`
	Tier         models.Tier `json:"tier"`
	Error        string      `json:"error,omitempty"`
	Crawled      int         `json:"crawled"`
	Deduplicated int         `json:"deduplicated"`
	Inserted     int         `json:"inserted"`
	Scored       int         `json:"scored"`
	Promoted     int         `json:"promoted"`
	Errored      int         `json:"errored"`
	TimedOut     bool        `json:"timedOut"`
}

// CycleTotals sums the per-source counts.
type CycleTotals struct {
	Crawled      int `json:"crawled"`
	Deduplicated int `json:"deduplicated"`
	Inserted     int `json:"inserted"`
	Scored       int `json:"scored"`
	Promoted     int `json:"promoted"`
	Errored      int `json:"errored"`
}

func (t *CycleTotals) add(s SourceSummary) {
	t.Crawled += s.Crawled
	t.Deduplicated += s.Deduplicated
	t.Inserted += s.Inserted
	t.Scored += s.Scored
	t.Promoted += s.Promoted
	t.Errored += s.Errored
}

// CycleSummary is the only externally observable result of a cycle.
type CycleSummary struct {
	StartedAt time.Time       `json:"startedAt"`
	CycleID   string          `json:"cycleId"`
	Mode      CycleMode       `json:"mode"`
	Counties  []string        `json:"counties"`
	Sources   []SourceSummary `json:"sources"`
	Totals    CycleTotals     `json:"totals"`
	Elapsed   time.Duration   `json:"-"`
	ElapsedMS int64           `json:"elapsedMs"`
}

// CycleService runs ingestion cycles.
type CycleService interface {
	// Run pulls every adapter selected by the mode for the given counties,
	// then resolves, deduplicates, scores and promotes what they produced.
	// Only invalid scheduling parameters (ErrInvalidSchedule) and an
	// unreachable store (ErrStoreUnavailable) return an error; everything
	// else is counted in the summary.
	Run(ctx context.Context, actor models.Actor, req CycleRequest) (*CycleSummary, error)

	// RunBatch runs one ad-hoc adapter, such as a partner push, through the
	// same pipeline.
	RunBatch(ctx context.Context, actor models.Actor, adapter sources.Adapter, counties []string) (*CycleSummary, error)
}

// CycleConfig tunes cycle execution.
type CycleConfig struct {
	AdapterTimeout time.Duration
	Workers        int
}

// Pipeline bundles the services a cycle drives.
type Pipeline struct {
	Identity  IdentityService
	Signals   SignalService
	Scoring   ScoringService
	Promotion PromotionService
}

type cycleService struct {
	store    *repository.Store
	pipeline Pipeline
	adapters []sources.Adapter
	counties *identity.CountyNormalizer
	audit    audit.Recorder
	clock    clock.Clock
	log      *logger.Logger
	cfg      CycleConfig
}

// NewCycleService creates a new instance of CycleService.
func NewCycleService(store *repository.Store, pipeline Pipeline, adapters []sources.Adapter, counties *identity.CountyNormalizer, rec audit.Recorder, c clock.Clock, cfg CycleConfig, log *logger.Logger) CycleService {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.AdapterTimeout <= 0 {
		cfg.AdapterTimeout = 5 * time.Minute
	}
	return &cycleService{
		store:    store,
		pipeline: pipeline,
		adapters: adapters,
		counties: counties,
		audit:    rec,
		clock:    c,
		log:      log.WithComponent("cycle"),
		cfg:      cfg,
	}
}

func (s *cycleService) Run(ctx context.Context, actor models.Actor, req CycleRequest) (*CycleSummary, error) {
	mode := req.Mode
	if mode == "" {
		mode = ModeAll
	}
	if !mode.includes(models.TierNarrow) && !mode.includes(models.TierBroad) {
		return nil, fmt.Errorf("%w: unknown mode %q", ErrInvalidSchedule, req.Mode)
	}
	counties, err := s.targetCounties(req.Counties)
	if err != nil {
		return nil, err
	}
	if err := s.ping(ctx); err != nil {
		return nil, err
	}

	var selected []sources.Adapter
	for _, a := range s.adapters {
		if mode.includes(a.Tier()) {
			selected = append(selected, a)
		}
	}
	if len(selected) == 0 {
		s.log.Warn("No adapters configured for mode", map[string]interface{}{"mode": mode})
	}

	return s.execute(ctx, actor, mode, counties, selected), nil
}

func (s *cycleService) RunBatch(ctx context.Context, actor models.Actor, adapter sources.Adapter, counties []string) (*CycleSummary, error) {
	if adapter == nil {
		return nil, fmt.Errorf("%w: no adapter", ErrInvalidSchedule)
	}
	if err := s.ping(ctx); err != nil {
		return nil, err
	}
	return s.execute(ctx, actor, ModePartner, counties, []sources.Adapter{adapter}), nil
}

// targetCounties rejects an empty target list and counties that are not
// configured, and returns canonical names without duplicates.
func (s *cycleService) targetCounties(requested []string) ([]string, error) {
	var out []string
	seen := map[string]struct{}{}
	for _, c := range requested {
		if strings.TrimSpace(c) == "" {
			continue
		}
		if !s.counties.Known(c) {
			return nil, fmt.Errorf("%w: county %q is not configured", ErrInvalidSchedule, c)
		}
		canonical, err := s.counties.Normalize(c)
		if err != nil {
			return nil, fmt.Errorf("%w: county %q: %v", ErrInvalidSchedule, c, err)
		}
		if _, ok := seen[canonical]; ok {
			continue
		}
		seen[canonical] = struct{}{}
		out = append(out, canonical)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%w: at least one county is required", ErrInvalidSchedule)
	}
	return out, nil
}

func (s *cycleService) ping(ctx context.Context) error {
	if err := s.store.Ping(ctx); err != nil {
		s.log.Error("Store unreachable, refusing to run cycle", err, nil)
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}

func (s *cycleService) execute(ctx context.Context, actor models.Actor, mode CycleMode, counties []string, adapters []sources.Adapter) *CycleSummary {
	startedAt := s.clock.Now()
	summary := &CycleSummary{
		CycleID:   ulid.MustNewDefault(startedAt).String(),
		Mode:      mode,
		Counties:  counties,
		StartedAt: startedAt,
		Sources:   []SourceSummary{},
	}
	if summary.Counties == nil {
		summary.Counties = []string{}
	}
	log := s.log.With(map[string]interface{}{"cycle_id": summary.CycleID, "mode": mode})
	log.Info("Cycle started", map[string]interface{}{
		"counties": counties,
		"adapters": len(adapters),
	})

	if len(adapters) > 0 {
		pool := pond.NewResultPool[SourceSummary](s.cfg.Workers)
		group := pool.NewGroup()
		for _, a := range adapters {
			group.Submit(func() SourceSummary {
				return s.runAdapter(ctx, actor, a, counties, startedAt, log)
			})
		}
		results, err := group.Wait()
		pool.StopAndWait()
		if err != nil {
			log.Error("Adapter task failed", err, nil)
		}
		for _, r := range results {
			summary.Sources = append(summary.Sources, r)
			summary.Totals.add(r)
		}
	}

	summary.Elapsed = s.clock.Since(startedAt)
	summary.ElapsedMS = summary.Elapsed.Milliseconds()

	recordAudit(ctx, s.audit, log, audit.Entry{
		Actor:      actor,
		Action:     audit.ActionCycleCompleted,
		EntityType: models.EntityCycle,
		EntityID:   summary.CycleID,
		Detail: map[string]interface{}{
			"mode":         string(mode),
			"counties":     counties,
			"crawled":      summary.Totals.Crawled,
			"deduplicated": summary.Totals.Deduplicated,
			"inserted":     summary.Totals.Inserted,
			"scored":       summary.Totals.Scored,
			"promoted":     summary.Totals.Promoted,
			"errored":      summary.Totals.Errored,
			"elapsed_ms":   summary.ElapsedMS,
		},
	})

	log.Info("Cycle completed", map[string]interface{}{
		"crawled":      summary.Totals.Crawled,
		"deduplicated": summary.Totals.Deduplicated,
		"inserted":     summary.Totals.Inserted,
		"scored":       summary.Totals.Scored,
		"promoted":     summary.Totals.Promoted,
		"errored":      summary.Totals.Errored,
		"elapsed_ms":   summary.ElapsedMS,
	})
	return summary
}

// touched collects the signal types one adapter reported for a property in
// this cycle.
type touched struct {
	types    []models.EventType
	inserted bool
}

// runAdapter isolates one adapter: it bounds the pull and the record
// processing with separate timeouts, recovers panics and turns every
// record-level failure into a count.
func (s *cycleService) runAdapter(ctx context.Context, actor models.Actor, a sources.Adapter, counties []string, startedAt time.Time, log *logger.Logger) (summary SourceSummary) {
	summary = SourceSummary{Source: a.Name(), Tier: a.Tier()}
	log = log.With(map[string]interface{}{"source": a.Name(), "tier": a.Tier()})

	defer func() {
		if r := recover(); r != nil {
			summary.Errored++
			summary.Error = fmt.Sprintf("adapter panicked: %v", r)
			log.Error("Adapter panicked", fmt.Errorf("%v", r), nil)
		}
	}()

	actx, pullCancel := context.WithTimeout(ctx, s.cfg.AdapterTimeout)
	defer pullCancel()

	records, err := a.ProduceRecords(actx, counties)
	pullErr := actx.Err()
	summary.Crawled = len(records)
	if err != nil {
		if errors.Is(pullErr, context.DeadlineExceeded) {
			summary.TimedOut = true
			log.Warn("Adapter timed out during pull", map[string]interface{}{
				"records": len(records),
				"timeout": s.cfg.AdapterTimeout.String(),
			})
		} else {
			summary.Error = fmt.Errorf("%w: %s: %v", ErrSourceUnavailable, a.Name(), err).Error()
			log.Warn("Adapter failed", map[string]interface{}{
				"records": len(records),
				"error":   err.Error(),
			})
		}
	}

	normalized := make([]sources.NormalizedSignal, 0, len(records))
	for _, r := range records {
		n, err := sources.Normalize(r, s.counties)
		if err != nil {
			summary.Errored++
			log.Debug("Record rejected", map[string]interface{}{
				"source_id": r.SourceID,
				"error":     err.Error(),
			})
			continue
		}
		if n.ObservedDate.IsZero() {
			n.ObservedDate = startedAt
		}
		normalized = append(normalized, n)
	}
	sources.SortRecords(normalized)

	// Whatever the pull returned, even after a timeout, gets its own budget.
	pctx, processCancel := context.WithTimeout(ctx, s.cfg.AdapterTimeout)
	defer processCancel()

	properties := map[uuid.UUID]*touched{}
	var order []uuid.UUID
	for i, rec := range normalized {
		if pctx.Err() != nil {
			summary.TimedOut = true
			log.Warn("Processing deadline passed, truncating records", map[string]interface{}{
				"processed": i,
				"dropped":   len(normalized) - i,
			})
			break
		}

		// The record in flight finishes even if the deadline passes mid-way.
		id, outcome, ok := s.processRecord(context.WithoutCancel(pctx), actor, rec, &summary, log)
		if !ok {
			continue
		}
		t, seen := properties[id]
		if !seen {
			t = &touched{}
			properties[id] = t
			order = append(order, id)
		}
		t.types = append(t.types, rec.DistressType)
		if outcome == models.OutcomeInserted {
			t.inserted = true
		}
	}

	for _, id := range order {
		t := properties[id]
		if !t.inserted {
			pending, err := s.scorePending(ctx, id)
			if err != nil {
				summary.Errored++
				log.Warn("Could not check score freshness", map[string]interface{}{
					"property_id": id,
					"error":       err.Error(),
				})
				continue
			}
			if !pending {
				continue
			}
			log.Info("Scoring property left unscored by an earlier cycle", map[string]interface{}{
				"property_id": id,
			})
		}
		s.scoreAndPromote(ctx, actor, a, id, t.types, startedAt, &summary, log)
	}

	log.Info("Adapter finished", map[string]interface{}{
		"crawled":      summary.Crawled,
		"deduplicated": summary.Deduplicated,
		"inserted":     summary.Inserted,
		"scored":       summary.Scored,
		"promoted":     summary.Promoted,
		"errored":      summary.Errored,
		"timed_out":    summary.TimedOut,
	})
	return summary
}

// scorePending reports whether the property has signals newer than its
// latest score. That happens when scoring or promotion failed, or the
// process stopped, after the signals were inserted.
func (s *cycleService) scorePending(ctx context.Context, id uuid.UUID) (bool, error) {
	latest, err := s.store.Scores.LatestRecord(ctx, id)
	if err != nil {
		return false, fmt.Errorf("%w: latest score for %s: %v", ErrPersistenceFailure, id, err)
	}
	if latest == nil {
		return true, nil
	}
	events, err := s.store.Events.ListByProperty(ctx, id)
	if err != nil {
		return false, fmt.Errorf("%w: events for %s: %v", ErrPersistenceFailure, id, err)
	}
	for _, e := range events {
		if e.CreatedAt.After(latest.ComputedAt) {
			return true, nil
		}
	}
	return false, nil
}

// scoreAndPromote evaluates the property, offers it to the promotion gate and
// only then appends the score, so a failed promotion leaves the property
// pending for the next cycle.
func (s *cycleService) scoreAndPromote(ctx context.Context, actor models.Actor, a sources.Adapter, id uuid.UUID, types []models.EventType, asOf time.Time, summary *SourceSummary, log *logger.Logger) {
	record, err := s.pipeline.Scoring.Evaluate(ctx, id, asOf)
	if err != nil {
		summary.Errored++
		log.Warn("Scoring failed", map[string]interface{}{
			"property_id": id,
			"error":       err.Error(),
		})
		return
	}

	result, err := s.pipeline.Promotion.Promote(ctx, actor, Candidate{
		PropertyID: id,
		Tier:       a.Tier(),
		Source:     a.Name(),
		Composite:  record.Composite,
		Signals:    types,
	})
	if err != nil {
		summary.Errored++
		log.Warn("Promotion failed", map[string]interface{}{
			"property_id": id,
			"error":       err.Error(),
		})
		return
	}
	if result.Decision == promotion.DecisionPromote {
		summary.Promoted++
	}

	if err := s.pipeline.Scoring.Commit(ctx, actor, record); err != nil {
		summary.Errored++
		log.Warn("Score write failed", map[string]interface{}{
			"property_id": id,
			"error":       err.Error(),
		})
		return
	}
	summary.Scored++
}

// processRecord resolves and records one normalized signal. ok is false when
// the record was skipped.
func (s *cycleService) processRecord(ctx context.Context, actor models.Actor, rec sources.NormalizedSignal, summary *SourceSummary, log *logger.Logger) (uuid.UUID, models.Outcome, bool) {
	id, err := s.pipeline.Identity.ResolveProperty(ctx, actor, PropertyInput{
		Attributes: rec.Attributes,
		ParcelID:   rec.ParcelID,
		County:     rec.County,
		Source:     rec.Source,
	})
	if err != nil {
		summary.Errored++
		log.Warn("Identity resolution failed, skipping record", map[string]interface{}{
			"parcel_id": rec.ParcelID,
			"county":    rec.County,
			"source_id": rec.SourceID,
			"error":     err.Error(),
		})
		return uuid.Nil, "", false
	}

	outcome, err := s.pipeline.Signals.RecordSignal(ctx, actor, SignalInput{
		PropertyID: id,
		ParcelID:   rec.ParcelID,
		County:     rec.County,
		EventType:  rec.DistressType,
		Source:     rec.Source,
		Severity:   rec.Severity,
		Confidence: rec.Confidence,
		ObservedAt: rec.ObservedDate,
		RawPayload: payloadWithLink(rec),
	})
	if err != nil {
		summary.Errored++
		log.Warn("Signal write failed, skipping record", map[string]interface{}{
			"property_id": id,
			"event_type":  rec.DistressType,
			"source_id":   rec.SourceID,
			"error":       err.Error(),
		})
		return id, "", false
	}

	if outcome == models.OutcomeDuplicate {
		summary.Deduplicated++
	} else {
		summary.Inserted++
	}
	return id, outcome, true
}

// payloadWithLink stores the record's source id and link alongside the raw
// upstream payload.
func payloadWithLink(rec sources.NormalizedSignal) map[string]interface{} {
	payload := make(map[string]interface{}, len(rec.RawPayload)+2)
	for k, v := range rec.RawPayload {
		payload[k] = v
	}
	if rec.SourceID != "" {
		payload["source_id"] = rec.SourceID
	}
	if rec.SourceLink != "" {
		payload["source_link"] = rec.SourceLink
	}
	return payload
}
