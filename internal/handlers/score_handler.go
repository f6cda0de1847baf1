package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stwalsh4118/parcelheat/internal/clock"
	apierrors "github.com/stwalsh4118/parcelheat/internal/errors"
	"github.com/stwalsh4118/parcelheat/internal/middleware"
	"github.com/stwalsh4118/parcelheat/internal/models"
	"github.com/stwalsh4118/parcelheat/internal/services"
)

// ScoreHandler exposes scoring and prediction replays and history.
type ScoreHandler struct {
	scoring    services.ScoringService
	prediction services.PredictionService
	clock      clock.Clock
}

// NewScoreHandler creates a new ScoreHandler instance.
func NewScoreHandler(scoring services.ScoringService, prediction services.PredictionService, c clock.Clock) *ScoreHandler {
	return &ScoreHandler{
		scoring:    scoring,
		prediction: prediction,
		clock:      c,
	}
}

// BatchRequest is the body of the replay endpoints. AsOf defaults to now.
type BatchRequest struct {
	AsOf     *time.Time `json:"as_of"`
	Counties []string   `json:"counties"`
}

// BatchResponse reports a replay.
type BatchResponse struct {
	AsOf         time.Time `json:"asOf"`
	ModelVersion string    `json:"modelVersion"`
	services.BatchResult
}

// ScoreHistoryResponse lists a property's score and prediction history.
type ScoreHistoryResponse struct {
	Scores      []models.ScoringRecord     `json:"scores"`
	Predictions []models.ScoringPrediction `json:"predictions"`
	PropertyID  uuid.UUID                  `json:"propertyId"`
}

// ReplayScores handles POST /api/v1/scores/replay.
func (h *ScoreHandler) ReplayScores(c *gin.Context) {
	req, ok := h.bindBatch(c)
	if !ok {
		return
	}

	result, err := h.scoring.RescoreAll(c.Request.Context(), middleware.GetActor(c), req.Counties, *req.AsOf)
	if err != nil {
		apierrors.FromService(c, err)
		return
	}

	c.JSON(http.StatusOK, BatchResponse{AsOf: *req.AsOf, ModelVersion: h.scoring.ModelVersion(), BatchResult: result})
}

// RunPredictions handles POST /api/v1/predictions/run.
func (h *ScoreHandler) RunPredictions(c *gin.Context) {
	req, ok := h.bindBatch(c)
	if !ok {
		return
	}

	result, err := h.prediction.PredictAll(c.Request.Context(), middleware.GetActor(c), req.Counties, *req.AsOf)
	if err != nil {
		apierrors.FromService(c, err)
		return
	}

	c.JSON(http.StatusOK, BatchResponse{AsOf: *req.AsOf, ModelVersion: h.prediction.ModelVersion(), BatchResult: result})
}

// ScoreProperty handles POST /api/v1/properties/:id/score.
func (h *ScoreHandler) ScoreProperty(c *gin.Context) {
	id, asOf, ok := h.bindProperty(c)
	if !ok {
		return
	}

	record, err := h.scoring.ScoreProperty(c.Request.Context(), middleware.GetActor(c), id, asOf)
	if err != nil {
		apierrors.FromService(c, err)
		return
	}

	c.JSON(http.StatusCreated, record)
}

// PredictProperty handles POST /api/v1/properties/:id/predict.
func (h *ScoreHandler) PredictProperty(c *gin.Context) {
	id, asOf, ok := h.bindProperty(c)
	if !ok {
		return
	}

	prediction, err := h.prediction.PredictProperty(c.Request.Context(), middleware.GetActor(c), id, asOf)
	if err != nil {
		apierrors.FromService(c, err)
		return
	}

	c.JSON(http.StatusCreated, prediction)
}

// History handles GET /api/v1/properties/:id/scores.
func (h *ScoreHandler) History(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		apierrors.BadRequest(c, "Invalid property id", map[string]interface{}{"id": c.Param("id")})
		return
	}

	scores, err := h.scoring.History(c.Request.Context(), id)
	if err != nil {
		apierrors.FromService(c, err)
		return
	}
	predictions, err := h.prediction.History(c.Request.Context(), id)
	if err != nil {
		apierrors.FromService(c, err)
		return
	}

	c.JSON(http.StatusOK, ScoreHistoryResponse{
		PropertyID:  id,
		Scores:      scores,
		Predictions: predictions,
	})
}

func (h *ScoreHandler) bindBatch(c *gin.Context) (BatchRequest, bool) {
	var req BatchRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			apierrors.Bind(c, err)
			return BatchRequest{}, false
		}
	}
	if req.AsOf == nil {
		now := h.clock.Now()
		req.AsOf = &now
	} else {
		utc := req.AsOf.UTC()
		req.AsOf = &utc
	}
	return req, true
}

func (h *ScoreHandler) bindProperty(c *gin.Context) (uuid.UUID, time.Time, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		apierrors.BadRequest(c, "Invalid property id", map[string]interface{}{"id": c.Param("id")})
		return uuid.Nil, time.Time{}, false
	}

	raw := c.Query("as_of")
	if raw == "" {
		return id, h.clock.Now(), true
	}
	asOf, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		apierrors.BadRequest(c, "as_of must be an RFC 3339 timestamp", map[string]interface{}{"as_of": raw})
		return uuid.Nil, time.Time{}, false
	}
	return id, asOf.UTC(), true
}
