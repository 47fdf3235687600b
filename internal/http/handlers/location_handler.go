// README: Location handlers: trail append by the bound driver, trail read by the order parties.
package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"ridecore/internal/http/middleware"
	"ridecore/internal/modules/location"
	"ridecore/internal/types"
)

type LocationHandler struct {
	location *location.Service
}

func NewLocationHandler(svc *location.Service) *LocationHandler {
	return &LocationHandler{location: svc}
}

type appendPointReq struct {
	Position   *types.Point `json:"position" binding:"required"`
	RecordedAt *time.Time   `json:"recorded_at"`
}

func (h *LocationHandler) Append(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	var req appendPointReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeMessage(c, http.StatusBadRequest, "invalid json")
		return
	}
	cmd := location.AppendCommand{Actor: middleware.Identity(c), OrderID: id, Position: *req.Position}
	if req.RecordedAt != nil {
		cmd.RecordedAt = *req.RecordedAt
	}
	p, err := h.location.Append(c.Request.Context(), cmd)
	if err != nil {
		writeError(c, err)
		return
	}
	writeJSON(c, http.StatusCreated, p)
}

func (h *LocationHandler) List(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	out, err := h.location.ListFor(c.Request.Context(), middleware.Identity(c), id)
	if err != nil {
		writeError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"points": out})
}
