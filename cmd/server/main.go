package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/x007007007/docker-image-trans/cmd/server/api"
	"github.com/x007007007/docker-image-trans/cmd/server/config"
	"github.com/x007007007/docker-image-trans/lib/broadcast"
	"github.com/x007007007/docker-image-trans/lib/engine"
	"github.com/x007007007/docker-image-trans/lib/logger"
	mw "github.com/x007007007/docker-image-trans/lib/middleware"
	libotel "github.com/x007007007/docker-image-trans/lib/otel"
	"github.com/x007007007/docker-image-trans/lib/transfer"
	"go.opentelemetry.io/otel"
	"golang.org/x/sync/errgroup"
)

func main() {
	if err := run(); err != nil {
		slog.Error("application terminated", "error", err)
		os.Exit(1)
	}
}

func run() error {
	// Load configuration
	cfg := config.Load()

	// Setup logger
	log := logger.New(slog.LevelInfo)
	slog.SetDefault(log)

	// Instruments are no-ops unless an OTel SDK is installed in front of
	// the global meter provider.
	meter := otel.Meter("imagetrans")
	transferMetrics, err := libotel.NewTransferMetrics(meter)
	if err != nil {
		return fmt.Errorf("create transfer metrics: %w", err)
	}
	httpMetrics, err := mw.NewHTTPMetrics(meter)
	if err != nil {
		return fmt.Errorf("create http metrics: %w", err)
	}

	// Engine facade and transfer pipeline
	eng := engine.New(cfg.EngineWorkers)
	if cfg.TargetRegistryUsername != "" {
		eng.WithRegistryAuth(cfg.TargetRegistryUsername, cfg.TargetRegistryPassword, cfg.TargetRegistry)
	}
	broadcaster := broadcast.New()
	pipeline := transfer.New(eng, broadcaster, cfg.TargetRegistry, transferMetrics)
	service := api.New(cfg, eng, pipeline, broadcaster, log)

	// Setup context with signal handling
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Create router
	r := chi.NewRouter()

	// Middleware
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(mw.InjectLogger(log))
	r.Use(mw.AccessLogger(log))
	r.Use(httpMetrics.Middleware)

	// The websocket stream stays open indefinitely, so it is mounted
	// outside the timeout group.
	r.Get("/ws", service.WsHandler)

	r.Group(func(r chi.Router) {
		r.Use(chimw.Timeout(60 * time.Second))
		r.Get("/", service.Index)
		r.Get("/health", service.Health)
		r.Get("/docker-status", service.DockerStatus)
		r.Get("/images", service.ListImages)
		r.Delete("/images", service.RemoveImage)
		r.Post("/process-image", service.ProcessImage)
	})

	// Create HTTP server
	srv := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.Port),
		Handler: r,
	}

	// Error group for coordinated shutdown
	grp, gctx := errgroup.WithContext(ctx)

	// Run the server
	grp.Go(func() error {
		log.Info("starting image transfer server", "port", cfg.Port, "target_registry", cfg.TargetRegistry, "engine_workers", cfg.EngineWorkers)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("http server error", "error", err)
			return err
		}
		return nil
	})

	// Shutdown handler
	grp.Go(func() error {
		<-gctx.Done()
		log.Info("shutdown signal received")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error("failed to shutdown http server", "error", err)
			return err
		}

		log.Info("http server shutdown complete")
		return nil
	})

	return grp.Wait()
}
