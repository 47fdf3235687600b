// README: Driver handlers: nearby open orders, active orders, history, presence.
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"ridecore/internal/http/middleware"
	"ridecore/internal/modules/matching"
	"ridecore/internal/modules/order"
	"ridecore/internal/modules/presence"
	"ridecore/internal/types"
)

type DriverHandler struct {
	order    *order.Service
	matching *matching.Service
	presence *presence.Service
}

func NewDriverHandler(orderSvc *order.Service, matchingSvc *matching.Service, presenceSvc *presence.Service) *DriverHandler {
	return &DriverHandler{order: orderSvc, matching: matchingSvc, presence: presenceSvc}
}

// NearbyOrders lists requested orders around lat/lng. radius_km and limit
// fall back to the matching defaults.
func (h *DriverHandler) NearbyOrders(c *gin.Context) {
	center, ok := queryPoint(c)
	if !ok {
		return
	}
	out, err := h.matching.NearbyOpenOrders(c.Request.Context(), center, queryFloat(c, "radius_km"), queryInt(c, "limit"))
	if err != nil {
		writeError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"orders": out})
}

func (h *DriverHandler) Active(c *gin.Context) {
	out, err := h.order.ActiveDriverOrders(c.Request.Context(), middleware.Identity(c).UserID)
	if err != nil {
		writeError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"orders": out})
}

func (h *DriverHandler) History(c *gin.Context) {
	out, err := h.order.DriverOrderHistory(c.Request.Context(), middleware.Identity(c).UserID, queryInt(c, "limit"))
	if err != nil {
		writeError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"orders": out})
}

type presenceReq struct {
	IsOnline *bool       `json:"is_online" binding:"required"`
	Location *types.Point `json:"location"`
}

func (h *DriverHandler) UpdatePresence(c *gin.Context) {
	var req presenceReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeMessage(c, http.StatusBadRequest, "invalid json")
		return
	}
	p, err := h.presence.Upsert(c.Request.Context(), presence.UpsertCommand{
		Actor:    middleware.Identity(c),
		IsOnline: *req.IsOnline,
		Location: req.Location,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, p)
}

// Get returns a driver's presence record.
func (h *DriverHandler) Get(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	p, err := h.presence.Get(c.Request.Context(), id)
	if err != nil {
		writeError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, p)
}
