package server

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"BarPulse/internal/handler/api"
	mid "BarPulse/internal/middleware"
	domrepo "BarPulse/internal/domain/repository"
	"BarPulse/internal/usecase"
	pkgch "BarPulse/pkg/clickhouse"
	"BarPulse/pkg/config"
	xhttp "BarPulse/pkg/http"
	pkgkafka "BarPulse/pkg/kafka"
	applogger "BarPulse/pkg/logger"
)

// App encapsulates the application lifecycle: ingest, pipelines, snapshot
// flushing, and the HTTP status surface.
type App struct {
	cfg           *config.Config
	log           *applogger.Logger
	engine        *usecase.Engine
	guard         *mid.IngestGuard
	flusher       *usecase.SnapshotFlusher
	collector     *usecase.BarCollector
	consumer      *pkgkafka.Consumer
	barsHandler   *usecase.BarsHandler
	statusHandler *api.StatusHandler
	publisher     domrepo.PredictionPublisher
	chClient      *pkgch.Client
	httpServer    *xhttp.Server
}

// New creates an App with all dependencies.
func New(
	cfg *config.Config,
	log *applogger.Logger,
	engine *usecase.Engine,
	guard *mid.IngestGuard,
	flusher *usecase.SnapshotFlusher,
	collector *usecase.BarCollector,
	consumer *pkgkafka.Consumer,
	barsHandler *usecase.BarsHandler,
	statusHandler *api.StatusHandler,
	publisher domrepo.PredictionPublisher,
	chClient *pkgch.Client,
) *App {
	return &App{
		cfg:           cfg,
		log:           log,
		engine:        engine,
		guard:         guard,
		flusher:       flusher,
		collector:     collector,
		consumer:      consumer,
		barsHandler:   barsHandler,
		statusHandler: statusHandler,
		publisher:     publisher,
		chClient:      chClient,
	}
}

// Run starts the application and blocks until interrupted.
func (a *App) Run() error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a.engine.Start(ctx)
	a.flusher.Start(ctx)

	switch a.cfg.Ingest.Source {
	case "kafka":
		a.consumer.RegisterHandler(a.barsHandler)
		go func() {
			if err := a.consumer.Start(); err != nil {
				a.log.Error("kafka consumer error", applogger.Error(err))
			}
		}()
		a.log.Info("kafka consumer started", applogger.String("topic", a.barsHandler.Topic()))
	case "websocket":
		a.guard.Start(ctx)
		go func() {
			if err := a.collector.Start(ctx); err != nil && ctx.Err() == nil {
				a.log.Error("collector error", applogger.Error(err))
			}
		}()
		a.log.Info("collector started", applogger.Strings("symbols", a.cfg.Stream.Symbols))
	}

	metricsPath := ""
	if a.cfg.Metrics.Enabled {
		metricsPath = a.cfg.Metrics.Path
	}
	a.httpServer = xhttp.NewServer(a.statusHandler,
		xhttp.WithPort(a.cfg.Server.Port),
		xhttp.WithTimeouts(a.cfg.Server.ReadTimeout, a.cfg.Server.WriteTimeout, a.cfg.Server.ShutdownTimeout),
		xhttp.WithMetricsPath(metricsPath),
		xhttp.WithServerLogger(a.log),
	)
	if err := a.httpServer.Start(); err != nil {
		a.log.Error("http server start error", applogger.Error(err))
		return err
	}
	a.log.Info("http server started", applogger.Int("port", a.cfg.Server.Port))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	a.log.Info("shutdown signal received")
	return a.shutdown(ctx)
}

// shutdown stops ingestion first, then drains pipelines and flushes, then
// closes infrastructure clients.
func (a *App) shutdown(ctx context.Context) error {
	shutdownCtx, cancel := context.WithTimeout(ctx, a.cfg.Server.ShutdownTimeout)
	defer cancel()

	if a.collector != nil {
		if err := a.collector.Shutdown(shutdownCtx); err != nil {
			a.log.Warn("collector stop error", applogger.Error(err))
		}
		a.guard.Stop()
	}
	if a.consumer != nil {
		if err := a.consumer.Stop(shutdownCtx); err != nil {
			a.log.Warn("kafka consumer stop error", applogger.Error(err))
		}
	}

	a.engine.Stop()
	a.flusher.Stop()

	if err := a.httpServer.Stop(shutdownCtx); err != nil {
		a.log.Error("http shutdown error", applogger.Error(err))
	}
	if a.publisher != nil {
		if err := a.publisher.Close(); err != nil {
			a.log.Warn("publisher close error", applogger.Error(err))
		}
	}
	if a.chClient != nil {
		if err := a.chClient.Close(); err != nil {
			a.log.Warn("clickhouse close error", applogger.Error(err))
		}
	}

	a.log.Info("shutdown complete")
	return nil
}
