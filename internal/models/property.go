package models

import (
	"time"

	"github.com/google/uuid"
)

// Owner flag keys recognised by the scoring engines. OwnerFlags may carry
// other keys (e.g. provenance) which are stored but not scored.
const (
	FlagAbsentee   = "absentee"
	FlagCorporate  = "corporate"
	FlagInherited  = "inherited"
	FlagElderly    = "elderly"
	FlagOutOfState = "out_of_state"
	FlagVacant     = "vacant"
	FlagHighEquity = "high_equity"
	FlagProvenance = "provenance"
)

// Property is the canonical real-world asset, keyed by (ParcelID, County).
// All nullable fields use pointers to distinguish between zero values and NULL.
type Property struct {
	CreatedAt       time.Time  `json:"createdAt"`
	UpdatedAt       time.Time  `json:"updatedAt"`
	OwnerFlags      OwnerFlags `json:"ownerFlags"`
	Address         *string    `json:"address,omitempty"`
	City            *string    `json:"city,omitempty"`
	State           *string    `json:"state,omitempty"`
	OwnerName       *string    `json:"ownerName,omitempty"`
	EstimatedValue  *float64   `json:"estimatedValue,omitempty"`
	MortgageBalance *float64   `json:"mortgageBalance,omitempty"`
	EquityPercent   *float64   `json:"equityPercent,omitempty"`
	Baths           *float64   `json:"baths,omitempty"`
	Beds            *int       `json:"beds,omitempty"`
	Sqft            *int       `json:"sqft,omitempty"`
	YearBuilt       *int       `json:"yearBuilt,omitempty"`
	ParcelID        string     `json:"parcelId"`
	County          string     `json:"county"`
	ID              uuid.UUID  `json:"id"`
	SyntheticParcel bool       `json:"syntheticParcel"`
}

// CompRatio returns estimated value divided by outstanding mortgage balance.
// It returns 0 when either side is unknown; a free-and-clear property with a
// known value is reported as a large ratio rather than +Inf.
func (p *Property) CompRatio() float64 {
	if p.EstimatedValue == nil || *p.EstimatedValue <= 0 {
		return 0
	}
	if p.MortgageBalance == nil {
		return 0
	}
	if *p.MortgageBalance <= 0 {
		return 10
	}
	return *p.EstimatedValue / *p.MortgageBalance
}

// PropertyAttributes are the mutable attributes a source may report.
// Nil fields mean "unknown to this source" and never overwrite stored values.
type PropertyAttributes struct {
	OwnerFlags      OwnerFlags `json:"ownerFlags,omitempty"`
	Address         *string    `json:"address,omitempty"`
	City            *string    `json:"city,omitempty"`
	State           *string    `json:"state,omitempty"`
	OwnerName       *string    `json:"ownerName,omitempty"`
	EstimatedValue  *float64   `json:"estimatedValue,omitempty"`
	MortgageBalance *float64   `json:"mortgageBalance,omitempty"`
	EquityPercent   *float64   `json:"equityPercent,omitempty"`
	Baths           *float64   `json:"baths,omitempty"`
	Beds            *int       `json:"beds,omitempty"`
	Sqft            *int       `json:"sqft,omitempty"`
	YearBuilt       *int       `json:"yearBuilt,omitempty"`
}

// PropertyUpsert is the normalized write issued by the identity resolver.
type PropertyUpsert struct {
	Attributes      PropertyAttributes
	ParcelID        string
	County          string
	SyntheticParcel bool
}

// PropertyUpsertResult reports the resolved id and whether the row was new.
type PropertyUpsertResult struct {
	ID      uuid.UUID
	Created bool
}
