package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/stwalsh4118/parcelheat/internal/audit"
	"github.com/stwalsh4118/parcelheat/internal/identity"
	"github.com/stwalsh4118/parcelheat/internal/logger"
	"github.com/stwalsh4118/parcelheat/internal/models"
	"github.com/stwalsh4118/parcelheat/internal/repository"
)

// PropertyInput identifies a property and carries whatever attributes the
// source knows about it.
type PropertyInput struct {
	Attributes models.PropertyAttributes
	ParcelID   string
	County     string
	Source     string
}

// IdentityService maps (parcel, county) to a canonical property.
type IdentityService interface {
	// ResolveProperty returns the id of the property keyed by the normalized
	// (parcel, county), creating or merging it. Concurrent callers resolving
	// the same key get the same id.
	// Returns ErrIdentityConflict for malformed identity or rejected writes.
	ResolveProperty(ctx context.Context, actor models.Actor, in PropertyInput) (uuid.UUID, error)
}

type identityService struct {
	properties repository.PropertyRepository
	counties   *identity.CountyNormalizer
	audit      audit.Recorder
	log        *logger.Logger
}

// NewIdentityService creates a new instance of IdentityService.
func NewIdentityService(properties repository.PropertyRepository, counties *identity.CountyNormalizer, rec audit.Recorder, log *logger.Logger) IdentityService {
	return &identityService{
		properties: properties,
		counties:   counties,
		audit:      rec,
		log:        log.WithComponent("identity"),
	}
}

func (s *identityService) ResolveProperty(ctx context.Context, actor models.Actor, in PropertyInput) (uuid.UUID, error) {
	county, err := s.counties.Normalize(in.County)
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: county %q: %v", ErrIdentityConflict, in.County, err)
	}
	parcel, err := identity.NormalizeParcelID(in.ParcelID)
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: parcel %q: %v", ErrIdentityConflict, in.ParcelID, err)
	}

	attrs := in.Attributes
	if in.Source != "" {
		attrs.OwnerFlags = attrs.OwnerFlags.Merge(models.OwnerFlags{models.FlagProvenance: in.Source})
	}

	result, err := s.properties.Upsert(ctx, models.PropertyUpsert{
		ParcelID:        parcel,
		County:          county,
		SyntheticParcel: identity.IsSynthetic(parcel),
		Attributes:      attrs,
	})
	if err != nil {
		fields := map[string]interface{}{
			"parcel_id": parcel,
			"county":    county,
			"source":    in.Source,
		}
		if errors.Is(err, repository.ErrConstraint) {
			s.log.Warn("Property write rejected", mergeFields(fields, map[string]interface{}{"error": err.Error()}))
			return uuid.Nil, fmt.Errorf("%w: parcel %s in %s: %v", ErrIdentityConflict, parcel, county, err)
		}
		s.log.Error("Failed to upsert property", err, fields)
		return uuid.Nil, fmt.Errorf("%w: upsert property %s in %s: %v", ErrPersistenceFailure, parcel, county, err)
	}

	action := audit.ActionPropertyMerged
	if result.Created {
		action = audit.ActionPropertyCreated
	}
	s.record(ctx, audit.Entry{
		Actor:      actor,
		Action:     action,
		EntityType: models.EntityProperty,
		EntityID:   result.ID.String(),
		Detail: map[string]interface{}{
			"parcel_id": parcel,
			"county":    county,
			"source":    in.Source,
			"synthetic": identity.IsSynthetic(parcel),
		},
	})

	s.log.Debug("Property resolved", map[string]interface{}{
		"property_id": result.ID,
		"parcel_id":   parcel,
		"county":      county,
		"created":     result.Created,
	})
	return result.ID, nil
}

func (s *identityService) record(ctx context.Context, entry audit.Entry) {
	recordAudit(ctx, s.audit, s.log, entry)
}

// recordAudit appends an audit entry. A failed audit write is logged and does
// not fail the operation that produced it.
func recordAudit(ctx context.Context, rec audit.Recorder, log *logger.Logger, entry audit.Entry) {
	if rec == nil {
		return
	}
	if err := rec.Record(ctx, entry); err != nil {
		log.Warn("Failed to record audit entry", map[string]interface{}{
			"action":      entry.Action,
			"entity_type": entry.EntityType,
			"entity_id":   entry.EntityID,
			"error":       err.Error(),
		})
	}
}

func mergeFields(base, extra map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(base)+len(extra))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range extra {
		out[k] = v
	}
	return out
}
