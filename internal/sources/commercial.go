package sources

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"time"

	"github.com/stwalsh4118/parcelheat/internal/models"
)

// CommercialAdapter pulls pre-filtered distress lists from a paid property
// data API. The vendor filters server-side, so it is a narrow-tier source.
type CommercialAdapter struct {
	client  *Client
	baseURL string
	name    string
}

// NewCommercialAdapter creates an adapter for the JSON API at baseURL.
// apiKey, if set, is sent as X-API-Key.
func NewCommercialAdapter(name, baseURL, apiKey string, timeout time.Duration) *CommercialAdapter {
	client := NewClient(timeout, timeout*3)
	if apiKey != "" {
		client = client.WithHeader("X-API-Key", apiKey)
	}
	return &CommercialAdapter{client: client, baseURL: baseURL, name: name}
}

func (a *CommercialAdapter) Name() string      { return a.name }
func (a *CommercialAdapter) Tier() models.Tier { return models.TierNarrow }

type commercialPage struct {
	NextPage string            `json:"next_page"`
	Records  []json.RawMessage `json:"records"`
}

type commercialRecord struct {
	OwnerFlags      models.OwnerFlags `json:"owner_flags"`
	EstimatedValue  *float64          `json:"estimated_value"`
	MortgageBalance *float64          `json:"mortgage_balance"`
	EquityPercent   *float64          `json:"equity_percent"`
	Baths           *float64          `json:"baths"`
	Beds            *int              `json:"beds"`
	Sqft            *int              `json:"sqft"`
	YearBuilt       *int              `json:"year_built"`
	ParcelID        string            `json:"parcel_id"`
	County          string            `json:"county"`
	OwnerName       string            `json:"owner_name"`
	Address         string            `json:"address"`
	City            string            `json:"city"`
	State           string            `json:"state"`
	DistressType    string            `json:"distress_type"`
	ObservedDate    string            `json:"observed_date"`
	SourceID        string            `json:"id"`
	URL             string            `json:"url"`
	Confidence      float64           `json:"confidence"`
	Severity        int               `json:"severity"`
}

// ProduceRecords walks every page for each county. On failure it returns the
// records collected so far alongside the error.
func (a *CommercialAdapter) ProduceRecords(ctx context.Context, counties []string) ([]NormalizedSignal, error) {
	var out []NormalizedSignal
	for _, county := range counties {
		cursor := ""
		for {
			if err := ctx.Err(); err != nil {
				return out, err
			}

			page, err := a.fetchPage(ctx, county, cursor)
			if err != nil {
				return out, err
			}
			for _, raw := range page.Records {
				// Undecodable records are passed on untyped so Normalize
				// rejects them and the cycle counts them as errored.
				sig, err := decodeCommercial(raw)
				if err != nil {
					sig = NormalizedSignal{Origin: models.OriginCommercial}
				}
				sig.Source = a.name
				if sig.County == "" {
					sig.County = county
				}
				out = append(out, sig)
			}

			if page.NextPage == "" || page.NextPage == cursor {
				break
			}
			cursor = page.NextPage
		}
	}
	return out, nil
}

func (a *CommercialAdapter) fetchPage(ctx context.Context, county, cursor string) (*commercialPage, error) {
	u, err := url.Parse(a.baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid commercial API url: %w", err)
	}
	q := u.Query()
	q.Set("county", county)
	if cursor != "" {
		q.Set("page", cursor)
	}
	u.RawQuery = q.Encode()

	body, err := a.client.Get(ctx, u.String())
	if err != nil {
		return nil, err
	}

	var page commercialPage
	if err := json.Unmarshal(body, &page); err != nil {
		return nil, fmt.Errorf("failed to decode %s page: %w", a.name, err)
	}
	return &page, nil
}

func decodeCommercial(raw json.RawMessage) (NormalizedSignal, error) {
	var rec commercialRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return NormalizedSignal{}, fmt.Errorf("failed to decode record: %w", err)
	}
	var payload map[string]interface{}
	if err := json.Unmarshal(raw, &payload); err != nil {
		return NormalizedSignal{}, fmt.Errorf("failed to decode record payload: %w", err)
	}

	sig := NormalizedSignal{
		Origin:       models.OriginCommercial,
		ParcelID:     rec.ParcelID,
		County:       rec.County,
		OwnerName:    rec.OwnerName,
		Address:      rec.Address,
		City:         rec.City,
		State:        rec.State,
		DistressType: models.EventType(rec.DistressType),
		Severity:     rec.Severity,
		Confidence:   rec.Confidence,
		SourceID:     rec.SourceID,
		SourceLink:   rec.URL,
		RawPayload:   payload,
		Attributes: models.PropertyAttributes{
			OwnerFlags:      rec.OwnerFlags,
			EstimatedValue:  rec.EstimatedValue,
			MortgageBalance: rec.MortgageBalance,
			EquityPercent:   rec.EquityPercent,
			Baths:           rec.Baths,
			Beds:            rec.Beds,
			Sqft:            rec.Sqft,
			YearBuilt:       rec.YearBuilt,
		},
	}
	if observed, err := ParseDate(rec.ObservedDate); err == nil {
		sig.ObservedDate = observed
	}
	return sig, nil
}
