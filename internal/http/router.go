// README: HTTP router registration. Delegates to module services.
package http

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/cheez95/luckygas/internal/bus"
	"github.com/cheez95/luckygas/internal/http/handlers"
	"github.com/cheez95/luckygas/internal/http/middleware"
	"github.com/cheez95/luckygas/internal/jobs"
	"github.com/cheez95/luckygas/internal/modules/driver"
	"github.com/cheez95/luckygas/internal/modules/order"
	"github.com/cheez95/luckygas/internal/modules/predict"
	"github.com/cheez95/luckygas/internal/modules/route"
)

type RouterDeps struct {
	Orders   *order.Service
	Routes   *route.Service
	Jobs     *jobs.Orchestrator
	Drivers  driver.Repository
	Presence *driver.Presence
	Batches  predict.Repository
	WS       *bus.WSHandler
	Log      zerolog.Logger
}

func NewRouter(deps RouterDeps) http.Handler {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(middleware.Recovery(deps.Log), middleware.RequestLog(deps.Log))

	r.GET("/health", func(c *gin.Context) { c.String(http.StatusOK, "OK") })
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	r.GET("/ws", deps.WS.Handle)

	api := r.Group("/api/v1")

	orderHandler := handlers.NewOrderHandler(deps.Orders)
	api.POST("/orders", orderHandler.Create)
	api.GET("/orders", orderHandler.List)
	api.GET("/orders/:id", orderHandler.Get)
	api.POST("/orders/:id/confirm", orderHandler.Confirm)
	api.POST("/orders/:id/cancel", orderHandler.Cancel)

	routeHandler := handlers.NewRouteHandler(deps.Routes)
	api.GET("/routes", routeHandler.List)
	api.GET("/routes/:id", routeHandler.Get)
	api.POST("/routes/:id/dispatch", routeHandler.Dispatch)
	api.POST("/routes/:id/complete", routeHandler.Complete)
	api.POST("/routes/:id/cancel", routeHandler.Cancel)
	api.POST("/routes/:id/stops/:pos/outcome", routeHandler.RecordStopOutcome)

	jobHandler := handlers.NewJobHandler(deps.Jobs)
	api.POST("/jobs/optimize", jobHandler.SubmitOptimize)
	api.POST("/jobs/predict", jobHandler.SubmitPredict)
	api.POST("/jobs/import", jobHandler.SubmitImport)
	api.GET("/jobs", jobHandler.List)
	api.GET("/jobs/:id", jobHandler.Get)
	api.POST("/jobs/:id/cancel", jobHandler.Cancel)

	driverHandler := handlers.NewDriverHandler(deps.Drivers, deps.Presence)
	api.GET("/drivers", driverHandler.List)
	api.GET("/drivers/nearby", driverHandler.Nearby)
	api.PUT("/drivers/:id/location", driverHandler.UpdateLocation)
	api.GET("/drivers/:id/trail", driverHandler.Trail)

	predictionHandler := handlers.NewPredictionHandler(deps.Batches)
	api.GET("/predictions/batches", predictionHandler.ListBatches)
	api.GET("/predictions/batches/:id", predictionHandler.GetBatch)

	return r
}
