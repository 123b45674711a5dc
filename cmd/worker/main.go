package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/cassiomorais/paygate/internal/bootstrap"
	"github.com/cassiomorais/paygate/internal/infrastructure/gateways"
	infraRedis "github.com/cassiomorais/paygate/internal/infrastructure/redis"
	"github.com/cassiomorais/paygate/internal/repository/postgres"
	"github.com/cassiomorais/paygate/internal/service"
	"golang.org/x/sync/errgroup"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app, err := bootstrap.New(ctx, "paygate-worker", "paygate_worker")
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

	factory, err := gateways.New(cfg.Gateways, cfg.HTTPClient, app.Metrics, app.Logger)
	if err != nil {
		app.Logger.Fatal().Err(err).Msg("Failed to build gateways")
	}

	reconciler := service.NewReconciler(paymentRepo, orderRepo, txManager, locker, factory, app.Metrics, app.Logger)
	paymentService := service.NewPaymentService(paymentRepo, orderRepo, txManager, factory, reconciler, app.Metrics, app.Logger)
	sweeper := service.NewSweeper(paymentRepo, paymentService, service.SweepConfig{
		PendingAge:  cfg.Worker.PendingAge,
		BatchSize:   cfg.Worker.BatchSize,
		Concurrency: cfg.Worker.Concurrency,
	}, app.Logger)

	// One pass per invocation; schedule runs with cron or a CronJob.
	app.Logger.Info().Dur("pending_age", cfg.Worker.PendingAge).Msg("Worker run started")

	g, gCtx := errgroup.WithContext(ctx)

	// 1. Poll providers for payments stuck in pending.
	g.Go(func() error {
		res, err := sweeper.Sweep(gCtx)
		if err != nil {
			return fmt.Errorf("pending sweep: %w", err)
		}
		app.Logger.Info().
			Int("checked", res.Checked).
			Int("resolved", res.Resolved).
			Int("failed", res.Failed).
			Msg("Pending sweep finished")
		return nil
	})

	// 2. Expire stored idempotent responses.
	g.Go(func() error {
		removed, err := idempotencyRepo.Cleanup(gCtx)
		if err != nil {
			return fmt.Errorf("idempotency cleanup: %w", err)
		}
		app.Logger.Info().Int64("removed", removed).Msg("Expired idempotency keys removed")
		return nil
	})

	if err := g.Wait(); err != nil {
		app.Logger.Error().Err(err).Msg("Worker run failed")
		app.Close()
		os.Exit(1)
	}
	app.Logger.Info().Msg("Worker run finished")
}
