package server

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"FinSight/internal/domain/repository"
	"FinSight/internal/service/source"
	"FinSight/internal/usecase"
	pkgcache "FinSight/pkg/cache"
	pkgch "FinSight/pkg/clickhouse"
	"FinSight/pkg/config"
	xhttp "FinSight/pkg/http"
	applogger "FinSight/pkg/logger"
)

// App encapsulates the application lifecycle: background health probes,
// the stream warmer, the HTTP server and ordered shutdown.
type App struct {
	cfg *config.Config
	log *applogger.Logger

	monitor   *source.Monitor
	registry  *source.Registry
	warmer    *usecase.PriceWarmer
	handler   xhttp.Handler
	publisher repository.EventPublisher
	audit     repository.AuditStore
	chClient  *pkgch.Client
	cacheTier pkgcache.Tier

	httpServer *xhttp.Server
}

// New creates a new App instance with all dependencies.
func New(
	cfg *config.Config,
	log *applogger.Logger,
	monitor *source.Monitor,
	registry *source.Registry,
	warmer *usecase.PriceWarmer,
	handler xhttp.Handler,
	publisher repository.EventPublisher,
	audit repository.AuditStore,
	chClient *pkgch.Client,
	cacheTier pkgcache.Tier,
) *App {
	return &App{
		cfg:       cfg,
		log:       log,
		monitor:   monitor,
		registry:  registry,
		warmer:    warmer,
		handler:   handler,
		publisher: publisher,
		audit:     audit,
		chClient:  chClient,
		cacheTier: cacheTier,
	}
}

// Run starts the application and blocks until interrupted.
func (a *App) Run() error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	metricsPath := ""
	if a.cfg.Metrics.Enabled {
		metricsPath = a.cfg.Metrics.Path
		if metricsPath == "" {
			metricsPath = "/metrics"
		}
	}

	a.httpServer = xhttp.NewServer(a.handler, a.log,
		xhttp.WithPort(a.cfg.Server.Port),
		xhttp.WithTimeouts(a.cfg.Server.ReadTimeout, a.cfg.Server.WriteTimeout, a.cfg.Server.ShutdownTimeout),
		xhttp.WithMetricsPath(metricsPath),
	)

	a.monitor.Start(ctx, a.registry.Adapters)
	a.log.Info("health monitor started")

	if a.warmer != nil {
		go func() {
			if err := a.warmer.Start(ctx); err != nil {
				a.log.Warn("price warmer error", applogger.Error(err))
			}
		}()
	}

	if err := a.httpServer.Start(); err != nil {
		a.log.Error("http server start error", applogger.Error(err))
		return err
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	a.log.Info("shutdown signal received")
	cancel()
	return a.shutdown()
}

// shutdown gracefully stops all services in dependency order: stop
// taking requests, stop background loops, then close clients.
func (a *App) shutdown() error {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout)
	defer cancel()

	if a.httpServer != nil {
		if err := a.httpServer.Stop(shutdownCtx); err != nil {
			a.log.Error("http shutdown error", applogger.Error(err))
		}
	}

	a.monitor.Stop()

	if a.warmer != nil {
		if err := a.warmer.Shutdown(shutdownCtx); err != nil {
			a.log.Warn("warmer stop error", applogger.Error(err))
		}
	}

	if a.publisher != nil {
		if err := a.publisher.Close(); err != nil {
			a.log.Warn("event publisher close error", applogger.Error(err))
		}
	}

	if a.audit != nil {
		if err := a.audit.Close(); err != nil {
			a.log.Warn("audit store close error", applogger.Error(err))
		}
	}

	if a.chClient != nil {
		if err := a.chClient.Close(); err != nil {
			a.log.Warn("clickhouse close error", applogger.Error(err))
		}
	}

	if a.cacheTier != nil {
		if err := a.cacheTier.Close(); err != nil {
			a.log.Warn("cache close error", applogger.Error(err))
		}
	}

	a.log.Info("shutdown complete")
	return nil
}
