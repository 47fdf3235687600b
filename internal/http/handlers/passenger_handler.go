// README: Passenger handlers (nearby drivers).
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"ridecore/internal/modules/matching"
)

type PassengerHandler struct {
	matching *matching.Service
}

func NewPassengerHandler(matchingSvc *matching.Service) *PassengerHandler {
	return &PassengerHandler{matching: matchingSvc}
}

func (h *PassengerHandler) NearbyDrivers(c *gin.Context) {
	center, ok := queryPoint(c)
	if !ok {
		return
	}
	out, err := h.matching.NearbyOnlineDrivers(c.Request.Context(), center, queryFloat(c, "radius_km"), queryInt(c, "limit"))
	if err != nil {
		writeError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"drivers": out})
}
