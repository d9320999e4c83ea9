// README: Driver location ingest and trail lookup.
package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/cheez95/luckygas/internal/modules/driver"
	"github.com/cheez95/luckygas/internal/types"
)

type DriverHandler struct {
	drivers  driver.Repository
	presence *driver.Presence
}

func NewDriverHandler(drivers driver.Repository, presence *driver.Presence) *DriverHandler {
	return &DriverHandler{drivers: drivers, presence: presence}
}

func (h *DriverHandler) UpdateLocation(c *gin.Context) {
	var req struct {
		Lat      float64 `json:"lat" binding:"required"`
		Lng      float64 `json:"lng" binding:"required"`
		SpeedKmh float64 `json:"speed_kmh"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	id := types.ID(c.Param("id"))
	if _, err := h.drivers.Get(c.Request.Context(), id); err != nil {
		writeError(c, err)
		return
	}
	err := h.presence.Update(c.Request.Context(), driver.Position{
		DriverID: id,
		Location: types.Point{Lat: req.Lat, Lng: req.Lng},
		SpeedKmh: req.SpeedKmh,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *DriverHandler) Trail(c *gin.Context) {
	n, _ := strconv.Atoi(c.DefaultQuery("n", "20"))
	trail, err := h.presence.Trail(c.Request.Context(), types.ID(c.Param("id")), n)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"positions": trail})
}

func (h *DriverHandler) Nearby(c *gin.Context) {
	lat, errLat := strconv.ParseFloat(c.Query("lat"), 64)
	lng, errLng := strconv.ParseFloat(c.Query("lng"), 64)
	if errLat != nil || errLng != nil {
		badRequest(c, "lat and lng are required")
		return
	}
	radius, err := strconv.ParseFloat(c.DefaultQuery("radius_km", "5"), 64)
	if err != nil || radius <= 0 {
		badRequest(c, "bad radius_km")
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "10"))
	ids, err := h.presence.Nearby(c.Request.Context(), types.Point{Lat: lat, Lng: lng}, radius, limit)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"driver_ids": ids})
}

func (h *DriverHandler) List(c *gin.Context) {
	list, err := h.drivers.ListActive(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	type driverResponse struct {
		ID       string         `json:"id"`
		Name     string         `json:"name"`
		Capacity map[string]int `json:"capacity"`
		Shift    string         `json:"shift"`
		Active   bool           `json:"active"`
	}
	out := make([]driverResponse, len(list))
	for i, d := range list {
		out[i] = driverResponse{
			ID:       string(d.ID),
			Name:     d.Name,
			Capacity: d.Capacity.ToMap(),
			Shift:    d.Shift.Open.Clock() + "-" + d.Shift.Close.Clock(),
			Active:   d.Active,
		}
	}
	c.JSON(http.StatusOK, gin.H{"drivers": out})
}
