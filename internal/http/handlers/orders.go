// README: Order endpoints.
package handlers

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/cheez95/luckygas/internal/modules/order"
	"github.com/cheez95/luckygas/internal/types"
)

type OrderHandler struct {
	orders *order.Service
}

func NewOrderHandler(orders *order.Service) *OrderHandler {
	return &OrderHandler{orders: orders}
}

type createOrderRequest struct {
	CustomerID string         `json:"customer_id" binding:"required"`
	Date       string         `json:"date" binding:"required"`
	Items      map[string]int `json:"items" binding:"required"`
	Priority   string         `json:"priority"`
	Atomic     bool           `json:"atomic"`
	Draft      bool           `json:"draft"`
}

type orderResponse struct {
	ID                string         `json:"id"`
	CustomerID        string         `json:"customer_id"`
	Date              string         `json:"date"`
	Items             map[string]int `json:"items"`
	Priority          string         `json:"priority"`
	Status            string         `json:"status"`
	Version           int            `json:"version"`
	RouteID           *string        `json:"route_id,omitempty"`
	Source            string         `json:"source"`
	PredictionBatchID *string        `json:"prediction_batch_id,omitempty"`
	Atomic            bool           `json:"atomic"`
	CreatedAt         time.Time      `json:"created_at"`
	DeliveredAt       *time.Time     `json:"delivered_at,omitempty"`
	CancelReason      *string        `json:"cancel_reason,omitempty"`
}

func renderOrder(o *order.Order) orderResponse {
	resp := orderResponse{
		ID:                string(o.ID),
		CustomerID:        string(o.CustomerID),
		Date:              o.Date,
		Items:             o.Items.ToMap(),
		Priority:          string(o.Priority),
		Status:            string(o.Status),
		Version:           o.Version,
		Source:            string(o.Source),
		PredictionBatchID: o.PredictionBatchID,
		Atomic:            o.Atomic,
		CreatedAt:         o.CreatedAt,
		DeliveredAt:       o.DeliveredAt,
		CancelReason:      o.CancelReason,
	}
	if o.AssignedRouteID != nil {
		id := string(*o.AssignedRouteID)
		resp.RouteID = &id
	}
	return resp
}

func (h *OrderHandler) Create(c *gin.Context) {
	var req createOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	items, err := types.LoadFromMap(req.Items)
	if err != nil {
		badRequest(c, err.Error())
		return
	}
	id, err := h.orders.Create(c.Request.Context(), order.CreateCommand{
		CustomerID: types.ID(req.CustomerID),
		Date:       req.Date,
		Items:      items,
		Priority:   order.Priority(req.Priority),
		Atomic:     req.Atomic,
		Draft:      req.Draft,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"id": id})
}

func (h *OrderHandler) Get(c *gin.Context) {
	o, err := h.orders.Get(c.Request.Context(), types.ID(c.Param("id")))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, renderOrder(o))
}

func (h *OrderHandler) List(c *gin.Context) {
	date := c.Query("date")
	if date == "" {
		badRequest(c, "date is required")
		return
	}
	statuses := []order.Status{
		order.StatusDraft, order.StatusConfirmed, order.StatusAssigned,
		order.StatusEnRoute, order.StatusDelivered, order.StatusCancelled, order.StatusFailed,
	}
	if raw := c.Query("status"); raw != "" {
		statuses = statuses[:0]
		for _, s := range strings.Split(raw, ",") {
			statuses = append(statuses, order.Status(s))
		}
	}
	list, err := h.orders.ListByDateStatus(c.Request.Context(), date, statuses)
	if err != nil {
		writeError(c, err)
		return
	}
	out := make([]orderResponse, len(list))
	for i, o := range list {
		out[i] = renderOrder(o)
	}
	c.JSON(http.StatusOK, gin.H{"orders": out})
}

func (h *OrderHandler) Confirm(c *gin.Context) {
	if err := h.orders.Confirm(c.Request.Context(), types.ID(c.Param("id"))); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *OrderHandler) Cancel(c *gin.Context) {
	var req struct {
		Reason string `json:"reason"`
	}
	_ = c.ShouldBindJSON(&req)
	if req.Reason == "" {
		req.Reason = "cancelled by staff"
	}
	if err := h.orders.Cancel(c.Request.Context(), types.ID(c.Param("id")), req.Reason); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
