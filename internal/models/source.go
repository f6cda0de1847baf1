package models

// Origin tags which kind of source produced a normalized record.
type Origin string

const (
	OriginCommercial Origin = "commercial"
	OriginCrawler    Origin = "crawler"
	OriginPartner    Origin = "partner"
)

// Tier classifies a source by how targeted its pull is. Narrow pulls are
// pre-filtered by the vendor and held to a higher promotion bar.
type Tier string

const (
	TierNarrow  Tier = "narrow"
	TierBroad   Tier = "broad"
	TierPartner Tier = "partner"
)
