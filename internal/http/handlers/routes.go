// README: Route endpoints, including driver stop-outcome reporting.
package handlers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/cheez95/luckygas/internal/modules/route"
	"github.com/cheez95/luckygas/internal/types"
)

type RouteHandler struct {
	routes *route.Service
}

func NewRouteHandler(routes *route.Service) *RouteHandler {
	return &RouteHandler{routes: routes}
}

type stopResponse struct {
	Position       int        `json:"position"`
	OrderID        string     `json:"order_id"`
	PlannedArrival string     `json:"planned_arrival"`
	ServiceMinutes int        `json:"service_minutes"`
	Outcome        string     `json:"outcome"`
	ActualArrival  *time.Time `json:"actual_arrival,omitempty"`
	ActualDepart   *time.Time `json:"actual_depart,omitempty"`
}

type routeResponse struct {
	ID        string         `json:"id"`
	Date      string         `json:"date"`
	DriverID  string         `json:"driver_id"`
	Status    string         `json:"status"`
	DistanceM int            `json:"distance_m"`
	DurationS int            `json:"duration_s"`
	Method    string         `json:"method"`
	Polyline  string         `json:"polyline,omitempty"`
	JobID     string         `json:"job_id,omitempty"`
	Stops     []stopResponse `json:"stops"`
	CreatedAt time.Time      `json:"created_at"`
}

func renderRoute(r *route.Route) routeResponse {
	resp := routeResponse{
		ID:        string(r.ID),
		Date:      r.Date,
		DriverID:  string(r.DriverID),
		Status:    string(r.Status),
		DistanceM: r.DistanceM,
		DurationS: r.DurationS,
		Method:    r.Method,
		Polyline:  r.Polyline,
		JobID:     r.JobID,
		CreatedAt: r.CreatedAt,
	}
	for _, st := range r.Stops {
		resp.Stops = append(resp.Stops, stopResponse{
			Position:       st.Position,
			OrderID:        string(st.OrderID),
			PlannedArrival: st.PlannedArrival.Clock(),
			ServiceMinutes: st.ServiceMinutes,
			Outcome:        string(st.Outcome),
			ActualArrival:  st.ActualArrival,
			ActualDepart:   st.ActualDepart,
		})
	}
	return resp
}

func (h *RouteHandler) Get(c *gin.Context) {
	r, err := h.routes.Get(c.Request.Context(), types.ID(c.Param("id")))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, renderRoute(r))
}

func (h *RouteHandler) List(c *gin.Context) {
	date := c.Query("date")
	if date == "" {
		badRequest(c, "date is required")
		return
	}
	list, err := h.routes.ListByDate(c.Request.Context(), date)
	if err != nil {
		writeError(c, err)
		return
	}
	out := make([]routeResponse, len(list))
	for i, r := range list {
		out[i] = renderRoute(r)
	}
	c.JSON(http.StatusOK, gin.H{"routes": out})
}

func (h *RouteHandler) Dispatch(c *gin.Context) {
	if err := h.routes.Dispatch(c.Request.Context(), types.ID(c.Param("id"))); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *RouteHandler) Complete(c *gin.Context) {
	if err := h.routes.Complete(c.Request.Context(), types.ID(c.Param("id"))); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *RouteHandler) Cancel(c *gin.Context) {
	if err := h.routes.Cancel(c.Request.Context(), types.ID(c.Param("id"))); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *RouteHandler) RecordStopOutcome(c *gin.Context) {
	position, err := strconv.Atoi(c.Param("pos"))
	if err != nil {
		badRequest(c, "bad stop position")
		return
	}
	var req struct {
		Outcome string `json:"outcome" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	outcome := route.Outcome(req.Outcome)
	switch outcome {
	case route.OutcomeArrived, route.OutcomeDelivered, route.OutcomeFailed, route.OutcomeSkipped:
	default:
		badRequest(c, "unknown outcome")
		return
	}
	if err := h.routes.RecordStopOutcome(c.Request.Context(), types.ID(c.Param("id")), position, outcome); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
