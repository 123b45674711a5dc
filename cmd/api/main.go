package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/cassiomorais/paygate/internal/bootstrap"
	"github.com/cassiomorais/paygate/internal/controller"
	"github.com/cassiomorais/paygate/internal/infrastructure/gateways"
	infraRedis "github.com/cassiomorais/paygate/internal/infrastructure/redis"
	"github.com/cassiomorais/paygate/internal/repository/postgres"
	"github.com/cassiomorais/paygate/internal/service"
	"golang.org/x/sync/errgroup"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app, err := bootstrap.New(ctx, "paygate-api", "paygate")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to bootstrap: %v\n", err)
		os.Exit(1)
	}
	defer app.Close()

	cfg := app.Config

	// --- Repositories ---
	paymentRepo := postgres.NewPaymentRepository(app.Pool)
	orderRepo := postgres.NewOrderRepository(app.Pool)
	idempotencyRepo := postgres.NewIdempotencyRepository(app.Pool)
	txManager := postgres.NewTxManager(app.Pool)
	locker := infraRedis.NewKeyLocker(app.Redis, cfg.Reconcile.LockTTL, cfg.Reconcile.LockRetries, cfg.Reconcile.LockRetryDelay)

	// --- Gateways ---
	factory, err := gateways.New(cfg.Gateways, cfg.HTTPClient, app.Metrics, app.Logger)
	if err != nil {
		app.Logger.Fatal().Err(err).Msg("Failed to build gateways")
	}

	// --- Services ---
	reconciler := service.NewReconciler(paymentRepo, orderRepo, txManager, locker, factory, app.Metrics, app.Logger)
	paymentService := service.NewPaymentService(paymentRepo, orderRepo, txManager, factory, reconciler, app.Metrics, app.Logger)

	// --- Build router ---
	router := controller.NewRouter(controller.RouterDeps{
		PaymentService:   paymentService,
		Reconciler:       reconciler,
		IdempotencyStore: idempotencyRepo,
		IdempotencyTTL:   cfg.Reconcile.IdempotencyTTL,
		HealthChecks: []controller.HealthCheck{
			{Name: "postgres", Check: app.Pool.Ping},
			{Name: "redis", Check: func(ctx context.Context) error { return app.Redis.Ping(ctx).Err() }},
		},
		Metrics:    app.Metrics,
		Gatherer:   app.Registry,
		CORSConfig: cfg.Server.CORS,
		RateLimit:  cfg.Server.RateLimit,
		JWTSecret:  cfg.Auth.JWTSecret,
		Logger:     app.Logger,
	})

	// --- HTTP server ---
	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		app.Logger.Info().Str("addr", addr).Strs("gateways", factory.Available()).Msg("Starting HTTP server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gCtx.Done()
		app.Logger.Info().Msg("Shutting down server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		app.Logger.Error().Err(err).Msg("Server error")
	}
	app.Logger.Info().Msg("Server exited")
}
