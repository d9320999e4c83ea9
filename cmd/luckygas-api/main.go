// README: Entry point; loads config, wires services, starts the HTTP
// server and the job orchestrator, and shuts down on signal.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cheez95/luckygas/internal/bus"
	"github.com/cheez95/luckygas/internal/config"
	httptransport "github.com/cheez95/luckygas/internal/http"
	"github.com/cheez95/luckygas/internal/infra"
	"github.com/cheez95/luckygas/internal/jobs"
	"github.com/cheez95/luckygas/internal/maps"
	"github.com/cheez95/luckygas/internal/modules/customer"
	"github.com/cheez95/luckygas/internal/modules/driver"
	"github.com/cheez95/luckygas/internal/modules/order"
	"github.com/cheez95/luckygas/internal/modules/predict"
	"github.com/cheez95/luckygas/internal/modules/route"
	"github.com/cheez95/luckygas/internal/solver"
	"github.com/cheez95/luckygas/internal/types"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}
	log := infra.NewLogger(cfg.LogLevel, cfg.LogPretty)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	dbPool, err := infra.NewDB(ctx, cfg.DB.DSN)
	if err != nil {
		log.Fatal().Err(err).Msg("db init")
	}
	defer dbPool.Close()
	redisClient := infra.NewRedis(cfg.Redis.Addr)

	broker := bus.NewBroker(bus.Options{
		OutboundQueue:     cfg.Bus.OutboundQueue,
		ReplayWindow:      cfg.Bus.ReplayWindow,
		ReplayMaxEvents:   cfg.Bus.ReplayMaxEvents,
		DetachedRetention: cfg.Bus.DetachedRetention,
	}, log)

	router, err := maps.NewGoogleRouter(cfg.Maps.APIKey, cfg.Matrix.CallTimeout, cfg.Matrix.DirectionsWait, log)
	if err != nil {
		log.Fatal().Err(err).Msg("maps init")
	}
	matrixCache := maps.NewMatrixCache(cfg.Matrix.CacheSize, cfg.Matrix.CacheTTL, cfg.Matrix.AvgSpeedKmh)

	orderStore := order.NewStore(dbPool)
	orderSvc := order.NewService(orderStore, broker, log)

	routeStore := route.NewStore(dbPool)
	routeSvc := route.NewService(routeStore, orderSvc, broker, log)
	assembler := route.NewAssembler(routeStore, router, broker, log)

	driverStore := driver.NewStore(dbPool)
	presence := driver.NewPresence(redisClient, broker, log)

	customerStore := customer.NewStore(dbPool)

	sv := solver.New(router, matrixCache, solver.Options{
		AllowApprox:     cfg.Matrix.AllowApprox,
		MaxWaitMinutes:  cfg.Solver.MaxWaitMinutes,
		Seed:            cfg.Solver.Seed,
		DefaultBudgetMs: cfg.Solver.DefaultBudgetMs,
		MaxBudgetMs:     cfg.Solver.MaxBudgetMs,
		NoImproveSec:    cfg.Solver.NoImproveStopSec,
	}, log)

	predictClient := predict.NewHTTPClient(cfg.Predictor.BaseURL, cfg.Predictor.CallTimeout)
	predictStore := predict.NewStore(dbPool)
	generator := predict.NewGenerator(predictClient, customerStore, orderSvc, predictStore, broker, 0.5, log)

	depot := types.Point{Lat: cfg.Depot.Lat, Lng: cfg.Depot.Lng}
	registry, err := jobs.NewRegistry(
		jobs.NewOptimizeHandler(orderSvc, driverStore, customerStore, sv, assembler, depot, log),
		jobs.NewPredictHandler(generator),
		jobs.NewImportHandler(customerStore, orderSvc, log),
	)
	if err != nil {
		log.Fatal().Err(err).Msg("registry init")
	}
	jobStore := jobs.NewStore(dbPool)
	orchestrator := jobs.NewOrchestrator(jobStore, registry, broker, jobs.Options{
		Workers:          cfg.Jobs.Workers,
		CancelDeadline:   cfg.Jobs.CancelDeadline,
		StaleThreshold:   cfg.Jobs.StaleThreshold,
		ProgressInterval: cfg.Jobs.ProgressInterval,
	}, log)

	wsHandler := bus.NewWSHandler(broker, cfg.Bus.HeartbeatInterval, log)
	handler := httptransport.NewRouter(httptransport.RouterDeps{
		Orders:   orderSvc,
		Routes:   routeSvc,
		Jobs:     orchestrator,
		Drivers:  driverStore,
		Presence: presence,
		Batches:  predictStore,
		WS:       wsHandler,
		Log:      log,
	})

	server := &http.Server{Addr: cfg.HTTP.Addr, Handler: handler}

	orchDone := make(chan error, 1)
	go func() { orchDone <- orchestrator.Run(ctx) }()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	log.Info().Str("addr", cfg.HTTP.Addr).Msg("listening")
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatal().Err(err).Msg("http server")
	}
	if err := <-orchDone; err != nil {
		log.Error().Err(err).Msg("orchestrator stopped")
	}
	log.Info().Msg("shutdown complete")
}
