// README: Order handlers: create, list, get, accept, advance, cancel.
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"ridecore/internal/http/middleware"
	"ridecore/internal/modules/order"
	"ridecore/internal/types"
)

type OrderHandler struct {
	order *order.Service
}

func NewOrderHandler(svc *order.Service) *OrderHandler {
	return &OrderHandler{order: svc}
}

type createOrderReq struct {
	Pickup  *types.Point `json:"pickup" binding:"required"`
	Dropoff *types.Point `json:"dropoff"`
}

func (h *OrderHandler) Create(c *gin.Context) {
	var req createOrderReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeMessage(c, http.StatusBadRequest, "invalid json")
		return
	}
	o, err := h.order.Create(c.Request.Context(), order.CreateCommand{
		Actor:   middleware.Identity(c),
		Pickup:  *req.Pickup,
		Dropoff: req.Dropoff,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	writeJSON(c, http.StatusCreated, o)
}

// List returns the caller's own orders, newest first.
func (h *OrderHandler) List(c *gin.Context) {
	id := middleware.Identity(c)
	out, err := h.order.ListPassengerOrders(c.Request.Context(), id.UserID, queryInt(c, "limit"))
	if err != nil {
		writeError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"orders": out})
}

// Get shows an order to its passenger, its bound driver, or any driver while
// it is still requested.
func (h *OrderHandler) Get(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	o, err := h.order.Get(c.Request.Context(), id)
	if err != nil {
		writeError(c, err)
		return
	}
	actor := middleware.Identity(c)
	visible := o.PassengerID == actor.UserID ||
		o.BoundTo(actor.UserID) ||
		(actor.IsDriver() && o.Status == order.StatusRequested)
	if !visible {
		writeError(c, order.ErrNotFound)
		return
	}
	writeJSON(c, http.StatusOK, o)
}

func (h *OrderHandler) Accept(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	o, err := h.order.Accept(c.Request.Context(), order.AcceptCommand{OrderID: id, Actor: middleware.Identity(c)})
	if err != nil {
		writeError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, o)
}

type advanceReq struct {
	To order.Status `json:"to"`
}

// Advance moves the order to "to", or to the next trip status when omitted.
func (h *OrderHandler) Advance(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	var req advanceReq
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			writeMessage(c, http.StatusBadRequest, "invalid json")
			return
		}
	}
	o, err := h.order.Advance(c.Request.Context(), order.AdvanceCommand{
		OrderID: id,
		Actor:   middleware.Identity(c),
		To:      req.To,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, o)
}

type cancelReq struct {
	Reason string `json:"reason"`
}

func (h *OrderHandler) Cancel(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	var req cancelReq
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			writeMessage(c, http.StatusBadRequest, "invalid json")
			return
		}
	}
	if req.Reason == "" {
		req.Reason = "user_cancel"
	}
	o, err := h.order.Cancel(c.Request.Context(), order.CancelCommand{
		OrderID: id,
		Actor:   middleware.Identity(c),
		Reason:  req.Reason,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, o)
}
