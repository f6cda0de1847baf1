// Package sources turns heterogeneous upstream records into NormalizedSignal
// values the ingestion pipeline can resolve, deduplicate and score.
package sources

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/stwalsh4118/parcelheat/internal/identity"
	"github.com/stwalsh4118/parcelheat/internal/models"
)

// ErrInvalidRecord is returned by Normalize for records that cannot be
// identified or classified.
var ErrInvalidRecord = errors.New("invalid source record")

// NormalizedSignal is the common shape every adapter produces. Origin tags
// which adapter variant produced it.
type NormalizedSignal struct {
	ObservedDate time.Time
	RawPayload   map[string]interface{}
	Attributes   models.PropertyAttributes
	Origin       models.Origin
	DistressType models.EventType
	Source       string
	OwnerName    string
	Address      string
	City         string
	State        string
	County       string
	ParcelID     string
	SourceID     string
	SourceLink   string
	Confidence   float64
	Severity     int
	Synthetic    bool
}

// Adapter is one upstream source. ProduceRecords may return the records it
// managed to collect together with an error.
type Adapter interface {
	Name() string
	Tier() models.Tier
	ProduceRecords(ctx context.Context, counties []string) ([]NormalizedSignal, error)
}

// defaultConfidence applies when an upstream record carries none.
var defaultConfidence = map[models.Origin]float64{
	models.OriginCommercial: 0.9,
	models.OriginCrawler:    0.6,
	models.OriginPartner:    0.75,
}

// Normalize cleans text fields, canonicalizes the county, validates the
// distress type, clamps severity and confidence and synthesizes a parcel id
// when the source has none.
func Normalize(sig NormalizedSignal, counties *identity.CountyNormalizer) (NormalizedSignal, error) {
	out := sig
	out.OwnerName = cleanText(sig.OwnerName)
	out.Address = cleanText(sig.Address)
	out.City = cleanText(sig.City)
	out.State = strings.ToUpper(cleanText(sig.State))
	out.Source = strings.ToLower(strings.TrimSpace(sig.Source))
	out.SourceID = strings.TrimSpace(sig.SourceID)
	out.SourceLink = strings.TrimSpace(sig.SourceLink)

	county, err := counties.Normalize(sig.County)
	if err != nil {
		return NormalizedSignal{}, fmt.Errorf("%w: %v", ErrInvalidRecord, err)
	}
	out.County = county

	out.DistressType = models.EventType(strings.ToLower(strings.TrimSpace(string(sig.DistressType))))
	if !out.DistressType.Valid() {
		return NormalizedSignal{}, fmt.Errorf("%w: unknown distress type %q", ErrInvalidRecord, sig.DistressType)
	}

	out.Severity = clampSeverity(sig.Severity)
	out.Confidence = sig.Confidence
	if out.Confidence <= 0 {
		out.Confidence = defaultConfidence[sig.Origin]
	}
	if out.Confidence > 1 {
		out.Confidence = 1
	}

	if parcel, err := identity.NormalizeParcelID(sig.ParcelID); err == nil {
		out.ParcelID = parcel
		out.Synthetic = identity.IsSynthetic(parcel)
	} else {
		if out.OwnerName == "" && out.Address == "" {
			return NormalizedSignal{}, fmt.Errorf("%w: no parcel id, owner or address", ErrInvalidRecord)
		}
		out.ParcelID = identity.SyntheticParcelID(out.OwnerName, out.County, out.Address)
		out.Synthetic = true
	}

	if !sig.ObservedDate.IsZero() {
		out.ObservedDate = sig.ObservedDate.UTC()
	}

	attrs := sig.Attributes
	if attrs.Address == nil && out.Address != "" {
		attrs.Address = &out.Address
	}
	if attrs.City == nil && out.City != "" {
		attrs.City = &out.City
	}
	if attrs.State == nil && out.State != "" {
		attrs.State = &out.State
	}
	if attrs.OwnerName == nil && out.OwnerName != "" {
		attrs.OwnerName = &out.OwnerName
	}
	out.Attributes = attrs

	return out, nil
}

// SortRecords orders records by county, parcel, observed date, distress type
// and source id so a truncated run always processes the same prefix.
func SortRecords(records []NormalizedSignal) {
	sort.SliceStable(records, func(i, j int) bool {
		a, b := records[i], records[j]
		if a.County != b.County {
			return a.County < b.County
		}
		if a.ParcelID != b.ParcelID {
			return a.ParcelID < b.ParcelID
		}
		if !a.ObservedDate.Equal(b.ObservedDate) {
			return a.ObservedDate.Before(b.ObservedDate)
		}
		if a.DistressType != b.DistressType {
			return a.DistressType < b.DistressType
		}
		return a.SourceID < b.SourceID
	})
}

func clampSeverity(v int) int {
	if v < models.MinSeverity {
		return models.MinSeverity
	}
	if v > models.MaxSeverity {
		return models.MaxSeverity
	}
	return v
}

func cleanText(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// ParseDate accepts the date layouts public records and vendors use.
func ParseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range []string{"2006-01-02", time.RFC3339, "01/02/2006", "1/2/2006", "Jan 2, 2006"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognised date %q", s)
}
