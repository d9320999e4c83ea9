// README: Shared JSON helpers and error-to-status mapping.
package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/cheez95/luckygas/internal/jobs"
	"github.com/cheez95/luckygas/internal/modules/customer"
	"github.com/cheez95/luckygas/internal/modules/driver"
	"github.com/cheez95/luckygas/internal/modules/order"
	"github.com/cheez95/luckygas/internal/modules/predict"
	"github.com/cheez95/luckygas/internal/modules/route"
)

func writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, order.ErrNotFound),
		errors.Is(err, route.ErrNotFound),
		errors.Is(err, jobs.ErrNotFound),
		errors.Is(err, driver.ErrNotFound),
		errors.Is(err, customer.ErrNotFound),
		errors.Is(err, predict.ErrBatchNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, order.ErrValidation),
		errors.Is(err, jobs.ErrUnknownKind):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, order.ErrInvalidState),
		errors.Is(err, order.ErrVersionConflict),
		errors.Is(err, route.ErrInvalidState),
		errors.Is(err, route.ErrVersionConflict),
		errors.Is(err, route.ErrConflict),
		errors.Is(err, jobs.ErrNotCancel):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}

func badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, gin.H{"error": msg})
}
