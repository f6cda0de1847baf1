package models

import (
	"time"

	"github.com/google/uuid"
)

// LeadStatus is owned by the CRM workflow. The pipeline only ever writes
// LeadStatusProspect, and only when creating a row.
type LeadStatus string

const (
	LeadStatusProspect    LeadStatus = "prospect"
	LeadStatusLead        LeadStatus = "lead"
	LeadStatusNegotiation LeadStatus = "negotiation"
	LeadStatusClosed      LeadStatus = "closed"
	LeadStatusDead        LeadStatus = "dead"
)

// ActiveLeadStatuses are the statuses that count toward the one-active-lead rule.
var ActiveLeadStatuses = []LeadStatus{LeadStatusProspect, LeadStatusLead, LeadStatusNegotiation}

// Active reports whether s is one of ActiveLeadStatuses.
func (s LeadStatus) Active() bool {
	for _, a := range ActiveLeadStatuses {
		if s == a {
			return true
		}
	}
	return false
}

// Lead is a property in an active acquisition funnel.
type Lead struct {
	CreatedAt  time.Time  `json:"createdAt"`
	UpdatedAt  time.Time  `json:"updatedAt"`
	Status     LeadStatus `json:"status"`
	Tags       []string   `json:"tags"`
	Priority   float64    `json:"priority"`
	ID         uuid.UUID  `json:"id"`
	PropertyID uuid.UUID  `json:"propertyId"`
}

// LeadUpsert carries the only fields the pipeline may write on a lead.
type LeadUpsert struct {
	Tags       []string
	Priority   float64
	PropertyID uuid.UUID
}
