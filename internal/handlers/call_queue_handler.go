package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/stwalsh4118/parcelheat/internal/compliance"
	apierrors "github.com/stwalsh4118/parcelheat/internal/errors"
	"github.com/stwalsh4118/parcelheat/internal/middleware"
)

// CallQueueHandler screens dialer queues through the compliance gate.
type CallQueueHandler struct {
	gate compliance.Gate
}

// NewCallQueueHandler creates a new CallQueueHandler instance.
func NewCallQueueHandler(gate compliance.Gate) *CallQueueHandler {
	return &CallQueueHandler{gate: gate}
}

// FilterRequest is the body of POST /api/v1/call-queue/filter.
type FilterRequest struct {
	Entries []compliance.QueueEntry `json:"entries" binding:"required,min=1,max=500,dive"`
}

// Filter handles POST /api/v1/call-queue/filter.
func (h *CallQueueHandler) Filter(c *gin.Context) {
	var req FilterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		apierrors.Bind(c, err)
		return
	}

	result := compliance.FilterQueue(c.Request.Context(), h.gate, req.Entries)

	if log := middleware.GetLogger(c); log != nil {
		log.Info("Call queue filtered", map[string]interface{}{
			"entries": len(req.Entries),
			"allowed": len(result.Allowed),
			"blocked": len(result.Blocked),
		})
	}

	c.JSON(http.StatusOK, result)
}
