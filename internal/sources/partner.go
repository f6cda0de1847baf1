package sources

import (
	"context"
	"strings"

	"github.com/stwalsh4118/parcelheat/internal/models"
)

// PartnerBatch adapts records pushed by a partner through the API so they
// flow through the same pipeline as pulled sources.
type PartnerBatch struct {
	partner string
	records []NormalizedSignal
}

// NewPartnerBatch wraps records submitted by partner. Records without a
// source are attributed to the partner.
func NewPartnerBatch(partner string, records []NormalizedSignal) *PartnerBatch {
	partner = strings.ToLower(strings.TrimSpace(partner))
	batch := make([]NormalizedSignal, len(records))
	for i, r := range records {
		r.Origin = models.OriginPartner
		if strings.TrimSpace(r.Source) == "" {
			r.Source = partner
		}
		batch[i] = r
	}
	return &PartnerBatch{partner: partner, records: batch}
}

func (p *PartnerBatch) Name() string      { return p.partner }
func (p *PartnerBatch) Tier() models.Tier { return models.TierPartner }

// ProduceRecords returns the pushed records that belong to counties. An
// empty county list returns every record.
func (p *PartnerBatch) ProduceRecords(ctx context.Context, counties []string) ([]NormalizedSignal, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(counties) == 0 {
		return append([]NormalizedSignal(nil), p.records...), nil
	}

	wanted := make(map[string]struct{}, len(counties))
	for _, c := range counties {
		wanted[strings.ToLower(strings.TrimSpace(c))] = struct{}{}
	}
	var out []NormalizedSignal
	for _, r := range p.records {
		if _, ok := wanted[strings.ToLower(strings.TrimSpace(r.County))]; ok {
			out = append(out, r)
		}
	}
	return out, nil
}
