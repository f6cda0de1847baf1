package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	apierrors "github.com/stwalsh4118/parcelheat/internal/errors"
	"github.com/stwalsh4118/parcelheat/internal/middleware"
	"github.com/stwalsh4118/parcelheat/internal/models"
	"github.com/stwalsh4118/parcelheat/internal/services"
	"github.com/stwalsh4118/parcelheat/internal/sources"
)

// CycleHandler triggers ingestion cycles and accepts partner pushes.
type CycleHandler struct {
	cycles services.CycleService
}

// NewCycleHandler creates a new CycleHandler instance.
func NewCycleHandler(cycles services.CycleService) *CycleHandler {
	return &CycleHandler{cycles: cycles}
}

// RunCycleRequest is the body of POST /api/v1/cycles.
type RunCycleRequest struct {
	Mode     string   `json:"mode"`
	Counties []string `json:"counties" binding:"required,min=1"`
}

// Run handles POST /api/v1/cycles. The cycle runs synchronously and the
// summary is the response body.
func (h *CycleHandler) Run(c *gin.Context) {
	var req RunCycleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		apierrors.Bind(c, err)
		return
	}

	mode, err := services.ParseCycleMode(req.Mode)
	if err != nil {
		apierrors.InvalidSchedule(c, err)
		return
	}

	summary, err := h.cycles.Run(c.Request.Context(), middleware.GetActor(c), services.CycleRequest{
		Mode:     mode,
		Counties: req.Counties,
	})
	if err != nil {
		apierrors.FromService(c, err)
		return
	}

	c.JSON(http.StatusOK, summary)
}

// PartnerRecord is one signal pushed by a partner.
type PartnerRecord struct {
	Payload         map[string]interface{} `json:"payload"`
	EstimatedValue  *float64               `json:"estimated_value"`
	MortgageBalance *float64               `json:"mortgage_balance"`
	EquityPercent   *float64               `json:"equity_percent"`
	Beds            *int                   `json:"beds"`
	Baths           *float64               `json:"baths"`
	Sqft            *int                   `json:"sqft"`
	YearBuilt       *int                   `json:"year_built"`
	ParcelID        string                 `json:"parcel_id"`
	County          string                 `json:"county" binding:"required"`
	OwnerName       string                 `json:"owner_name"`
	Address         string                 `json:"address"`
	City            string                 `json:"city"`
	State           string                 `json:"state"`
	DistressType    string                 `json:"distress_type" binding:"required"`
	Source          string                 `json:"source"`
	SourceID        string                 `json:"source_id"`
	SourceLink      string                 `json:"source_link"`
	ObservedDate    string                 `json:"observed_date"`
	Confidence      float64                `json:"confidence"`
	Severity        int                    `json:"severity"`
}

// PartnerSignalsRequest is the body of POST /api/v1/sources/partner/signals.
// One push carries at most 1000 records.
type PartnerSignalsRequest struct {
	Partner string          `json:"partner" binding:"required"`
	Records []PartnerRecord `json:"records" binding:"required,min=1,max=1000,dive"`
}

// PartnerSignals handles POST /api/v1/sources/partner/signals. Records run
// through the cycle pipeline under the partner tier.
func (h *CycleHandler) PartnerSignals(c *gin.Context) {
	var req PartnerSignalsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		apierrors.Bind(c, err)
		return
	}

	records := make([]sources.NormalizedSignal, 0, len(req.Records))
	for i, r := range req.Records {
		sig, err := r.toSignal()
		if err != nil {
			apierrors.BadRequest(c, "Invalid partner record", map[string]interface{}{
				"index": i,
				"error": err.Error(),
			})
			return
		}
		records = append(records, sig)
	}

	summary, err := h.cycles.RunBatch(c.Request.Context(), middleware.GetActor(c), sources.NewPartnerBatch(req.Partner, records), nil)
	if err != nil {
		apierrors.FromService(c, err)
		return
	}

	c.JSON(http.StatusAccepted, summary)
}

func (r PartnerRecord) toSignal() (sources.NormalizedSignal, error) {
	sig := sources.NormalizedSignal{
		Origin:       models.OriginPartner,
		ParcelID:     r.ParcelID,
		County:       r.County,
		OwnerName:    r.OwnerName,
		Address:      r.Address,
		City:         r.City,
		State:        r.State,
		DistressType: models.EventType(r.DistressType),
		Source:       r.Source,
		SourceID:     r.SourceID,
		SourceLink:   r.SourceLink,
		Severity:     r.Severity,
		Confidence:   r.Confidence,
		RawPayload:   r.Payload,
		Attributes: models.PropertyAttributes{
			EstimatedValue:  r.EstimatedValue,
			MortgageBalance: r.MortgageBalance,
			EquityPercent:   r.EquityPercent,
			Beds:            r.Beds,
			Baths:           r.Baths,
			Sqft:            r.Sqft,
			YearBuilt:       r.YearBuilt,
		},
	}
	if strings.TrimSpace(r.ObservedDate) != "" {
		observed, err := sources.ParseDate(r.ObservedDate)
		if err != nil {
			return sources.NormalizedSignal{}, err
		}
		sig.ObservedDate = observed
	}
	return sig, nil
}
