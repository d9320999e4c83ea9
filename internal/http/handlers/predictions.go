// README: Prediction batch lookup endpoints.
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/cheez95/luckygas/internal/modules/predict"
)

type PredictionHandler struct {
	batches predict.Repository
}

func NewPredictionHandler(batches predict.Repository) *PredictionHandler {
	return &PredictionHandler{batches: batches}
}

func (h *PredictionHandler) GetBatch(c *gin.Context) {
	b, err := h.batches.GetBatch(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, b)
}

func (h *PredictionHandler) ListBatches(c *gin.Context) {
	date := c.Query("date")
	if date == "" {
		badRequest(c, "date is required")
		return
	}
	list, err := h.batches.ListBatchesByDate(c.Request.Context(), date)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"batches": list})
}
